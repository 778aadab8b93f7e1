package store_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"archivist/internal/catalog"
	"archivist/internal/services"
	"archivist/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "items"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func sampleRecord(id string) catalog.Record {
	rec := catalog.NewRecord(catalog.Item{
		ID:        id,
		GroupID:   "B001",
		GroupType: catalog.GroupTypeB,
		Role:      catalog.RoleMember,
		Images:    []string{"B001/" + id + ".jpg"},
	})
	rec.Title = catalog.Some("Sunlight Soap")
	rec.Status = catalog.StatusFactDone
	return rec
}

func TestStoreWriteReadRoundTrip(t *testing.T) {
	s := openStore(t)

	if ok, err := s.Exists("B001-1"); err != nil || ok {
		t.Fatalf("Exists before write = %v, %v", ok, err)
	}
	if err := s.Write("B001-1", sampleRecord("B001-1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("B001-1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Title.String() != "Sunlight Soap" || got.Status != catalog.StatusFactDone {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.Manufacturer.Valid() {
		t.Fatalf("manufacturer should stay null, got %q", got.Manufacturer.String())
	}

	raw, err := s.ReadRaw("B001-1")
	if err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	if !strings.Contains(string(raw), `"manufacturer": null`) {
		t.Fatalf("raw record should keep explicit null, got %s", raw)
	}

	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the record file, found %d entries", len(entries))
	}
}

func TestStoreShouldSkip(t *testing.T) {
	s := openStore(t)
	if skip, _ := s.ShouldSkip("B001-1", false); skip {
		t.Fatal("missing record should not be skipped")
	}
	if err := s.Write("B001-1", sampleRecord("B001-1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if skip, _ := s.ShouldSkip("B001-1", false); !skip {
		t.Fatal("existing record should be skipped without overwrite")
	}
	if skip, _ := s.ShouldSkip("B001-1", true); skip {
		t.Fatal("overwrite should never skip")
	}
}

func TestStoreErrors(t *testing.T) {
	s := openStore(t)

	if _, err := s.Read("absent"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.Write("../escape", sampleRecord("../escape")); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := s.Write("B001-2", sampleRecord("B001-1")); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected id mismatch error, got %v", err)
	}

	if err := os.WriteFile(filepath.Join(s.Dir(), "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt record: %v", err)
	}
	if _, err := s.Read("broken"); !errors.Is(err, services.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if _, err := s.ReadRaw("broken"); !errors.Is(err, services.ErrPersistence) {
		t.Fatalf("expected persistence error from ReadRaw, got %v", err)
	}
}

func TestStoreList(t *testing.T) {
	s := openStore(t)
	for _, id := range []string{"c", "a", "b"} {
		if err := s.Write(id, sampleRecord(id)); err != nil {
			t.Fatalf("Write %s: %v", id, err)
		}
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write stray file: %v", err)
	}
	ids, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("List = %v, want %v", ids, want)
	}
}
