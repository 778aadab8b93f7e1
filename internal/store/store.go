// Package store persists one JSON record per item under the output tree.
//
// Writes are atomic (temp file plus rename), so an interrupted run never
// leaves a half-written record. The store does not serialize writers; the
// pipeline guarantees one writer per item id.
package store

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"archivist/internal/catalog"
	"archivist/internal/fileutil"
	"archivist/internal/services"
)

const recordExt = ".json"

// Store manages item records in a single directory.
type Store struct {
	dir string
}

// Open returns a store rooted at dir, creating it when missing.
func Open(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "store", "open", "items directory is empty", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrPersistence, "store", "open", "create items directory", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the items directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the record path for id.
func (s *Store) Path(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, id+recordExt), nil
}

// ValidateID rejects ids that cannot name a record file.
func ValidateID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return services.Wrap(services.ErrValidation, "store", "validate id", "item id is empty", nil)
	case strings.ContainsAny(id, `/\`), id == ".", id == "..", strings.ContainsRune(id, 0):
		return services.Wrap(services.ErrValidation, "store", "validate id", "item id "+id+" is not a valid file name", nil)
	}
	return nil
}

// Exists reports whether a record is stored for id.
func (s *Store) Exists(id string) (bool, error) {
	path, err := s.Path(id)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, services.Wrap(services.ErrPersistence, "store", "exists", id, err)
	}
	return true, nil
}

// Read loads the record for id. A missing record yields ErrNotFound; a record
// that cannot be decoded yields ErrPersistence.
func (s *Store) Read(id string) (catalog.Record, error) {
	path, err := s.Path(id)
	if err != nil {
		return catalog.Record{}, err
	}
	var rec catalog.Record
	found, err := fileutil.ReadJSON(path, &rec)
	if err != nil {
		return catalog.Record{}, services.Wrap(services.ErrPersistence, "store", "read", id, err)
	}
	if !found {
		return catalog.Record{}, services.Wrap(services.ErrNotFound, "store", "read", id, nil)
	}
	rec.Normalize()
	return rec, nil
}

// ReadRaw returns the stored JSON document for id unmodified.
func (s *Store) ReadRaw(id string) ([]byte, error) {
	path, err := s.Path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "store", "read raw", id, nil)
		}
		return nil, services.Wrap(services.ErrPersistence, "store", "read raw", id, err)
	}
	if !json.Valid(data) {
		return nil, services.Wrap(services.ErrPersistence, "store", "read raw", id+" is not valid JSON", nil)
	}
	return data, nil
}

// Write atomically replaces the record for id.
func (s *Store) Write(id string, rec catalog.Record) error {
	path, err := s.Path(id)
	if err != nil {
		return err
	}
	if rec.ID != "" && rec.ID != id {
		return services.Wrap(services.ErrValidation, "store", "write", "record id "+rec.ID+" does not match "+id, nil)
	}
	rec.ID = id
	rec.Normalize()
	if err := fileutil.WriteJSONAtomic(path, rec); err != nil {
		return services.Wrap(services.ErrPersistence, "store", "write", id, err)
	}
	return nil
}

// ShouldSkip reports whether a stored record should be reused: it exists and
// overwrite was not requested.
func (s *Store) ShouldSkip(id string, overwrite bool) (bool, error) {
	if overwrite {
		return false, nil
	}
	return s.Exists(id)
}

// List returns every stored id in sorted order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, services.Wrap(services.ErrPersistence, "store", "list", s.dir, err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != recordExt {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, recordExt))
	}
	sort.Strings(ids)
	return ids, nil
}
