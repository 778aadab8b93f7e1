// Package grouping classifies an input tree into catalog groups.
//
// Layout rules, relative to the input root:
//   - <dir>/<series>/<image> plus <dir>/<image>: type A; series images are
//     sample items, direct images are members.
//   - <dir>/<image> with no series folder: type B.
//   - <prefix><delim><n>.<ext> at the root: type C; all files sharing a
//     prefix form one item whose images are ordered by n.
//
// Anything else that looks like an image is reported as unresolved rather
// than assigned to a group. Hidden entries and non-image files are ignored.
package grouping

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"archivist/internal/catalog"
	"archivist/internal/config"
	"archivist/internal/services"
)

// Options configures discovery.
type Options struct {
	SeriesDir       string
	PrefixDelimiter string
	Extensions      []string
}

// OptionsFromConfig converts grouping settings.
func OptionsFromConfig(cfg config.Grouping) Options {
	return Options{
		SeriesDir:       cfg.SeriesDir,
		PrefixDelimiter: cfg.PrefixDelimiter,
		Extensions:      cfg.ImageExtensions,
	}
}

// AmbiguityError reports an entry that matches no grouping rule.
type AmbiguityError struct {
	Path   string
	Reason string
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// Unwrap returns the grouping ambiguity marker.
func (e *AmbiguityError) Unwrap() error { return services.ErrGroupingAmbiguity }

// Result is the outcome of discovery.
type Result struct {
	Groups     []catalog.Group
	Unresolved []*AmbiguityError
}

// Items returns every item across groups in group order.
func (r Result) Items() []catalog.Item {
	var items []catalog.Item
	for _, g := range r.Groups {
		items = append(items, g.Items...)
	}
	return items
}

// Group returns the group with id.
func (r Result) Group(id string) (catalog.Group, bool) {
	for _, g := range r.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return catalog.Group{}, false
}

type discoverer struct {
	root       string
	opts       Options
	extensions map[string]struct{}
	groups     []catalog.Group
	unresolved []*AmbiguityError
	itemIDs    map[string]string
	groupIDs   map[string]string
}

// Discover walks root and returns its groups.
func Discover(root string, opts Options) (Result, error) {
	info, err := os.Stat(root)
	if err != nil {
		return Result{}, services.Wrap(services.ErrValidation, "grouping", "discover", "input root", err)
	}
	if !info.IsDir() {
		return Result{}, services.Wrap(services.ErrValidation, "grouping", "discover", root+" is not a directory", nil)
	}
	if opts.SeriesDir == "" {
		opts.SeriesDir = "series"
	}
	if opts.PrefixDelimiter == "" {
		opts.PrefixDelimiter = "-"
	}
	d := &discoverer{
		root:       root,
		opts:       opts,
		extensions: make(map[string]struct{}, len(opts.Extensions)),
		itemIDs:    map[string]string{},
		groupIDs:   map[string]string{},
	}
	for _, ext := range opts.Extensions {
		d.extensions[strings.ToLower(ext)] = struct{}{}
	}

	entries, err := readDir(root)
	if err != nil {
		return Result{}, services.Wrap(services.ErrValidation, "grouping", "discover", "read input root", err)
	}
	var rootFiles []string
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case entry.IsDir() && name == opts.SeriesDir:
			d.unresolve(name, "series folder at the input root has no parent group")
		case entry.IsDir():
			if err := d.directoryGroup(name); err != nil {
				return Result{}, err
			}
		case d.isImage(name):
			rootFiles = append(rootFiles, name)
		}
	}
	d.prefixGroups(rootFiles)

	sort.Slice(d.groups, func(i, j int) bool { return d.groups[i].ID < d.groups[j].ID })
	sort.Slice(d.unresolved, func(i, j int) bool { return d.unresolved[i].Path < d.unresolved[j].Path })
	return Result{Groups: d.groups, Unresolved: d.unresolved}, nil
}

func (d *discoverer) directoryGroup(dir string) error {
	entries, err := readDir(filepath.Join(d.root, dir))
	if err != nil {
		return services.Wrap(services.ErrValidation, "grouping", "discover", "read "+dir, err)
	}
	var (
		members   []string
		samples   []string
		hasSeries bool
	)
	for _, entry := range entries {
		name := entry.Name()
		rel := path.Join(dir, name)
		switch {
		case entry.IsDir() && name == d.opts.SeriesDir:
			hasSeries = true
			found, err := d.seriesSamples(rel)
			if err != nil {
				return err
			}
			samples = found
		case entry.IsDir():
			d.reportNested(rel)
		case d.isImage(name):
			members = append(members, rel)
		}
	}
	if len(members) == 0 && len(samples) == 0 {
		return nil
	}
	if len(members) == 0 {
		d.unresolve(dir, "series samples without member images")
		return nil
	}

	group := catalog.Group{
		ID:        dir,
		Type:      catalog.GroupTypeB,
		SourceDir: filepath.Join(d.root, dir),
	}
	if hasSeries {
		group.Type = catalog.GroupTypeA
	}
	if !d.claimGroup(group.ID, dir) {
		return nil
	}

	sortNatural(samples)
	for _, rel := range samples {
		id := group.ID + ".series." + stem(rel)
		if !d.claimItem(id, rel) {
			continue
		}
		group.SampleIDs = append(group.SampleIDs, id)
		group.Items = append(group.Items, catalog.Item{
			ID: id, GroupID: group.ID, GroupType: group.Type, Role: catalog.RoleSeriesSample, Images: []string{rel},
		})
	}
	sortNatural(members)
	for _, rel := range members {
		id := stem(rel)
		if !d.claimItem(id, rel) {
			continue
		}
		group.MemberIDs = append(group.MemberIDs, id)
		group.Items = append(group.Items, catalog.Item{
			ID: id, GroupID: group.ID, GroupType: group.Type, Role: catalog.RoleMember, Images: []string{rel},
		})
	}
	if len(group.MemberIDs) == 0 {
		return nil
	}
	d.groups = append(d.groups, group)
	return nil
}

func (d *discoverer) seriesSamples(rel string) ([]string, error) {
	entries, err := readDir(filepath.Join(d.root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "grouping", "discover", "read "+rel, err)
	}
	var samples []string
	for _, entry := range entries {
		child := path.Join(rel, entry.Name())
		switch {
		case entry.IsDir():
			d.reportNested(child)
		case d.isImage(entry.Name()):
			samples = append(samples, child)
		}
	}
	return samples, nil
}

// reportNested flags every image below rel; such files are deeper than any
// supported layout.
func (d *discoverer) reportNested(rel string) {
	base := filepath.Join(d.root, filepath.FromSlash(rel))
	_ = filepath.WalkDir(base, func(p string, entry os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if strings.HasPrefix(entry.Name(), ".") && p != base {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() || !d.isImage(entry.Name()) {
			return nil
		}
		relPath, relErr := filepath.Rel(d.root, p)
		if relErr != nil {
			relPath = p
		}
		d.unresolve(filepath.ToSlash(relPath), "image nested deeper than the supported layout")
		return nil
	})
}

func (d *discoverer) prefixGroups(files []string) {
	type part struct {
		rel string
		n   int
	}
	byPrefix := map[string][]part{}
	for _, name := range files {
		prefix, n, ok := splitPrefix(stem(name), d.opts.PrefixDelimiter)
		if !ok {
			d.unresolve(name, fmt.Sprintf("root file does not match <prefix>%s<n>.<ext>", d.opts.PrefixDelimiter))
			continue
		}
		byPrefix[prefix] = append(byPrefix[prefix], part{rel: name, n: n})
	}
	prefixes := make([]string, 0, len(byPrefix))
	for prefix := range byPrefix {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)

	for _, prefix := range prefixes {
		parts := byPrefix[prefix]
		sort.SliceStable(parts, func(i, j int) bool {
			if parts[i].n != parts[j].n {
				return parts[i].n < parts[j].n
			}
			return parts[i].rel < parts[j].rel
		})
		if !d.claimGroup(prefix, parts[0].rel) || !d.claimItem(prefix, parts[0].rel) {
			for _, p := range parts[1:] {
				d.unresolve(p.rel, "duplicate id "+prefix)
			}
			continue
		}
		images := make([]string, 0, len(parts))
		for _, p := range parts {
			images = append(images, p.rel)
		}
		d.groups = append(d.groups, catalog.Group{
			ID:        prefix,
			Type:      catalog.GroupTypeC,
			SourceDir: d.root,
			MemberIDs: []string{prefix},
			Items: []catalog.Item{{
				ID: prefix, GroupID: prefix, GroupType: catalog.GroupTypeC, Role: catalog.RoleMember, Images: images,
			}},
		})
	}
}

func (d *discoverer) claimGroup(id, rel string) bool {
	if prior, dup := d.groupIDs[id]; dup {
		d.unresolve(rel, fmt.Sprintf("duplicate group id %s (already used by %s)", id, prior))
		return false
	}
	d.groupIDs[id] = rel
	return true
}

func (d *discoverer) claimItem(id, rel string) bool {
	if prior, dup := d.itemIDs[id]; dup {
		d.unresolve(rel, fmt.Sprintf("duplicate item id %s (already used by %s)", id, prior))
		return false
	}
	d.itemIDs[id] = rel
	return true
}

func (d *discoverer) unresolve(rel, reason string) {
	d.unresolved = append(d.unresolved, &AmbiguityError{Path: rel, Reason: reason})
}

func (d *discoverer) isImage(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	_, ok := d.extensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// readDir lists non-hidden entries sorted by name.
func readDir(dir string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func stem(rel string) string {
	base := path.Base(filepath.ToSlash(rel))
	return strings.TrimSuffix(base, path.Ext(base))
}

func splitPrefix(name, delim string) (string, int, bool) {
	idx := strings.LastIndex(name, delim)
	if idx <= 0 {
		return "", 0, false
	}
	digits := name[idx+len(delim):]
	if digits == "" {
		return "", 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 || strings.ContainsAny(digits, "+-") {
		return "", 0, false
	}
	return name[:idx], n, true
}
