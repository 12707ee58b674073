package assets_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"intake/internal/assets"
	"intake/internal/testsupport"
)

func TestListSortsByNumericSuffix(t *testing.T) {
	root := t.TempDir()
	dir := testsupport.WriteAssets(t, root, "S1", "1130",
		"1130-10.jpg", "1130-2.PNG", "1130-1.webp", "cover.jpg", "notes.txt")
	if err := os.Mkdir(filepath.Join(dir, "thumbs.jpg"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	catalog := assets.NewCatalog(root)
	listed, err := catalog.List("S1", "1130")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	want := []string{"1130-1.webp", "1130-2.PNG", "1130-10.jpg", "cover.jpg"}
	if len(listed) != len(want) {
		t.Fatalf("listed %d assets, want %d: %#v", len(listed), len(want), listed)
	}
	for i, name := range want {
		if listed[i].Name != name {
			t.Fatalf("asset %d = %q, want %q", i, listed[i].Name, name)
		}
	}
	if listed[0].Ref != "S1/1130/1130-1.webp" {
		t.Fatalf("unexpected ref %q", listed[0].Ref)
	}
	if listed[0].Size != 3 {
		t.Fatalf("unexpected size %d", listed[0].Size)
	}

	refs, err := catalog.Refs("S1", "1130")
	if err != nil {
		t.Fatalf("Refs failed: %v", err)
	}
	if len(refs) != 4 || refs[3] != "S1/1130/cover.jpg" {
		t.Fatalf("unexpected refs %v", refs)
	}
}

func TestListMissingDirectoryIsEmpty(t *testing.T) {
	catalog := assets.NewCatalog(t.TempDir())
	listed, err := catalog.List("S1", "404")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected empty listing, got %#v", listed)
	}

	listed, err = assets.NewCatalog("").List("S1", "1")
	if err != nil || len(listed) != 0 {
		t.Fatalf("expected empty listing without root, got %#v, %v", listed, err)
	}
}

func TestListRejectsTraversal(t *testing.T) {
	catalog := assets.NewCatalog(t.TempDir())
	for _, tc := range []struct{ session, number string }{
		{"..", "1"},
		{"S1", "../etc"},
		{"", "1"},
		{`S1\x`, "1"},
	} {
		if _, err := catalog.List(tc.session, tc.number); !errors.Is(err, assets.ErrInvalidKey) {
			t.Errorf("List(%q, %q) error = %v, want ErrInvalidKey", tc.session, tc.number, err)
		}
	}
}
