package grouping_test

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"archivist/internal/catalog"
	"archivist/internal/config"
	"archivist/internal/grouping"
	"archivist/internal/services"
	"archivist/internal/testsupport"
)

func defaultOptions() grouping.Options {
	return grouping.OptionsFromConfig(config.Default().Grouping)
}

func TestDiscoverDirectoryGroups(t *testing.T) {
	root := t.TempDir()
	testsupport.WriteImages(t, root,
		"A100/A100-1.jpg",
		"A100/A100-2.jpg",
		"A100/series/cover.png",
		"A100/series/back.png",
		"B001/B001-10.jpg",
		"B001/B001-2.jpg",
		"B001/B001-1.jpg",
	)
	testsupport.WriteFile(t, filepath.Join(root, "B001", "notes.txt"), []byte("ignored"))
	testsupport.WriteFile(t, filepath.Join(root, "B001", "_consensus.json"), []byte("{}"))
	testsupport.WriteImages(t, root, "B001/.hidden.jpg", ".trash/X-1.jpg")

	result, err := grouping.Discover(root, defaultOptions())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(result.Unresolved) != 0 {
		t.Fatalf("unexpected unresolved: %v", result.Unresolved)
	}
	if len(result.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(result.Groups))
	}

	a := result.Groups[0]
	if a.ID != "A100" || a.Type != catalog.GroupTypeA {
		t.Fatalf("unexpected first group %s/%s", a.ID, a.Type)
	}
	if want := []string{"A100.series.back", "A100.series.cover"}; !reflect.DeepEqual(a.SampleIDs, want) {
		t.Fatalf("sample ids = %v, want %v", a.SampleIDs, want)
	}
	if want := []string{"A100-1", "A100-2"}; !reflect.DeepEqual(a.MemberIDs, want) {
		t.Fatalf("member ids = %v, want %v", a.MemberIDs, want)
	}
	samples := a.Samples()
	if len(samples) != 2 || samples[0].Role != catalog.RoleSeriesSample || samples[0].Images[0] != "A100/series/back.png" {
		t.Fatalf("unexpected samples %+v", samples)
	}

	b := result.Groups[1]
	if b.Type != catalog.GroupTypeB {
		t.Fatalf("expected type B, got %s", b.Type)
	}
	if want := []string{"B001-1", "B001-2", "B001-10"}; !reflect.DeepEqual(b.MemberIDs, want) {
		t.Fatalf("member ids = %v, want natural order %v", b.MemberIDs, want)
	}
	if b.SourceDir != filepath.Join(root, "B001") {
		t.Fatalf("source dir = %q", b.SourceDir)
	}
}

func TestDiscoverPrefixGroups(t *testing.T) {
	root := t.TempDir()
	testsupport.WriteImages(t, root,
		"postcard-10.jpg",
		"postcard-2.jpg",
		"postcard-1.jpg",
		"flyer-a-1.png",
	)

	result, err := grouping.Discover(root, defaultOptions())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(result.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(result.Groups))
	}
	flyer := result.Groups[0]
	if flyer.ID != "flyer-a" || flyer.Type != catalog.GroupTypeC {
		t.Fatalf("unexpected group %s/%s", flyer.ID, flyer.Type)
	}
	postcard, ok := result.Group("postcard")
	if !ok {
		t.Fatal("postcard group missing")
	}
	items := postcard.Members()
	if len(items) != 1 || items[0].ID != "postcard" {
		t.Fatalf("expected one postcard item, got %+v", items)
	}
	want := []string{"postcard-1.jpg", "postcard-2.jpg", "postcard-10.jpg"}
	if !reflect.DeepEqual(items[0].Images, want) {
		t.Fatalf("images = %v, want %v", items[0].Images, want)
	}
	if got := len(result.Items()); got != 2 {
		t.Fatalf("expected 2 items, got %d", got)
	}
}

func TestDiscoverReportsAmbiguousEntries(t *testing.T) {
	root := t.TempDir()
	testsupport.WriteImages(t, root,
		"loose.jpg",
		"series/orphan.jpg",
		"B002/B002-1.jpg",
		"B002/extra/deep.jpg",
		"C003/series/only-sample.jpg",
		"D004/1.jpg",
		"E005/1.jpg",
	)
	testsupport.WriteFile(t, filepath.Join(root, "readme.md"), []byte("ignored"))

	result, err := grouping.Discover(root, defaultOptions())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	paths := make([]string, 0, len(result.Unresolved))
	for _, entry := range result.Unresolved {
		if !errors.Is(entry, services.ErrGroupingAmbiguity) {
			t.Fatalf("entry %v should unwrap to the grouping marker", entry)
		}
		paths = append(paths, entry.Path)
	}
	want := []string{"B002/extra/deep.jpg", "C003", "E005/1.jpg", "loose.jpg", "series"}
	if !reflect.DeepEqual(paths, want) {
		t.Fatalf("unresolved paths = %v, want %v", paths, want)
	}

	ids := make([]string, 0, len(result.Groups))
	for _, g := range result.Groups {
		ids = append(ids, g.ID)
	}
	if want := []string{"B002", "D004"}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("group ids = %v, want %v", ids, want)
	}
}

func TestDiscoverMissingRoot(t *testing.T) {
	_, err := grouping.Discover(filepath.Join(t.TempDir(), "absent"), defaultOptions())
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
