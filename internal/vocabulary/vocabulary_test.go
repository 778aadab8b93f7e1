package vocabulary

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"archivist/internal/catalog"
)

func TestDefaultVocabulary(t *testing.T) {
	set, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if got := strings.Join(set.Fields(), ","); got != "art_style,function" {
		t.Fatalf("fields = %s", got)
	}
	style, _ := set.Field(FieldArtStyle)
	if term, ok := style.Canonical("  art   DECO "); !ok || term != "Art Deco" {
		t.Fatalf("Canonical = %q (%v)", term, ok)
	}
	if _, ok := style.Canonical("Cubism-ish"); ok {
		t.Fatal("unexpected match for out-of-vocabulary value")
	}
}

func TestConstrain(t *testing.T) {
	set, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	style, _ := set.Field(FieldArtStyle)

	kept, overflow := style.Constrain([]string{"bauhaus", "Cubist collage", "BAUHAUS", "art deco", "Pop Art"}, catalog.Some("geometric"))
	if strings.Join(kept, "|") != "Bauhaus|Art Deco" {
		t.Fatalf("kept = %v", kept)
	}
	if overflow.String() != "geometric; Cubist collage" {
		t.Fatalf("overflow = %q", overflow.String())
	}

	kept, overflow = style.Constrain(nil, catalog.Null())
	if len(kept) != 0 || overflow.Valid() {
		t.Fatalf("expected empty result, got %v %v", kept, overflow)
	}
}

func TestLoadCustomFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.yaml")
	data := "art_style:\n  - Ukiyo-e\n  - ukiyo-e\nfunction:\n  - Tourism\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	set, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	style, _ := set.Field(FieldArtStyle)
	if got := style.Terms(); len(got) != 1 || got[0] != "Ukiyo-e" {
		t.Fatalf("terms = %v", got)
	}
}

func TestLoadRejectsMissingField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.yaml")
	if err := os.WriteFile(path, []byte("art_style:\n  - Deco\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "function") {
		t.Fatalf("expected missing function error, got %v", err)
	}
}
