package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteAssets creates placeholder image files under
// <root>/<session>/<number>/ and returns the directory.
func WriteAssets(t testing.TB, root, session, number string, names ...string) string {
	t.Helper()

	dir := filepath.Join(root, session, number)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", dir, err)
	}
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte{0xFF, 0xD8, 0xFF}, 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	return dir
}
