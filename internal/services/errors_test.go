package services_test

import (
	"errors"
	"strings"
	"testing"

	"archivist/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrPersistence, "store", "write", "rename failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrPersistence) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"store", "write", "rename failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "provider", "invoke", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
}

func TestDetailsClassifiesMarkers(t *testing.T) {
	cases := []struct {
		err  error
		kind string
	}{
		{services.Wrap(services.ErrMalformedOutput, "fact", "parse", "bad json", nil), "malformed_output"},
		{services.Wrap(services.ErrGroupingAmbiguity, "grouping", "discover", "stray.jpg", nil), "grouping_ambiguity"},
		{services.Wrap(services.ErrConfiguration, "config", "load", "no key", nil), "configuration"},
		{errors.New("plain"), "unknown"},
	}
	for _, tc := range cases {
		details := services.Details(tc.err)
		if details.Kind != tc.kind {
			t.Fatalf("Details(%v).Kind = %q, want %q", tc.err, details.Kind, tc.kind)
		}
		if details.Message == "" {
			t.Fatalf("expected message for %v", tc.err)
		}
	}
	if got := services.Details(nil); got.Kind != "" {
		t.Fatalf("expected empty details for nil, got %+v", got)
	}
	wrapped := services.Wrap(services.ErrMalformedOutput, "fact", "parse", "bad json", nil)
	if msg := services.Details(wrapped).Message; strings.HasPrefix(msg, "malformed model output") {
		t.Fatalf("expected marker prefix stripped, got %q", msg)
	}
}
