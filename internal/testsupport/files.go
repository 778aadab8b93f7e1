package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// pngHeader is enough of a PNG for content sniffing; nothing decodes it.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d}

// WriteFile writes data to path, creating parent directories.
func WriteFile(t testing.TB, path string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteImages creates placeholder image files at each root-relative path.
func WriteImages(t testing.TB, root string, paths ...string) {
	t.Helper()

	for _, rel := range paths {
		WriteFile(t, filepath.Join(root, filepath.FromSlash(rel)), pngHeader)
	}
}
