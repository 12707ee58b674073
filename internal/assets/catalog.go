// Package assets lists the product images stored for each work item.
//
// Images live on a shared directory tree laid out as
// <image_root>/<session>/<number>/<file>. Uploading, thumbnailing and deletion
// belong to other tools; this package only reads.
package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// ErrInvalidKey reports a session or number that would escape the image root.
var ErrInvalidKey = errors.New("invalid asset key")

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
}

// Asset is one image attached to a work item.
type Asset struct {
	Name string
	// Ref is the slash-separated path relative to the image root.
	Ref  string
	Size int64
}

// Catalog reads image listings from disk.
type Catalog struct {
	root string
}

// NewCatalog returns a catalog rooted at root. An empty root yields empty
// listings.
func NewCatalog(root string) *Catalog {
	return &Catalog{root: root}
}

// Root returns the image root directory.
func (c *Catalog) Root() string { return c.root }

// List returns the images for session/number ordered by their numeric "-N"
// suffix (1130-2 before 1130-10). A missing directory is an empty listing.
func (c *Catalog) List(session, number string) ([]Asset, error) {
	if err := validKey(session); err != nil {
		return nil, err
	}
	if err := validKey(number); err != nil {
		return nil, err
	}
	if c.root == "" {
		return []Asset{}, nil
	}

	dir := filepath.Join(c.root, session, number)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Asset{}, nil
		}
		return nil, fmt.Errorf("read asset dir: %w", err)
	}

	assets := make([]Asset, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if _, ok := imageExtensions[strings.ToLower(filepath.Ext(name))]; !ok {
			continue
		}
		var size int64
		if info, err := entry.Info(); err == nil {
			size = info.Size()
		}
		assets = append(assets, Asset{
			Name: name,
			Ref:  path.Join(session, number, name),
			Size: size,
		})
	}
	slices.SortFunc(assets, func(a, b Asset) int { return compareNames(a.Name, b.Name) })
	return assets, nil
}

// Refs is a convenience returning only the Ref of each listed asset.
func (c *Catalog) Refs(session, number string) ([]string, error) {
	assets, err := c.List(session, number)
	if err != nil {
		return nil, err
	}
	refs := make([]string, len(assets))
	for i, asset := range assets {
		refs[i] = asset.Ref
	}
	return refs, nil
}

func validKey(value string) error {
	if value == "" || value == "." || value == ".." || strings.ContainsAny(value, `/\`) || strings.ContainsRune(value, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, value)
	}
	return nil
}

// compareNames orders by the integer after the last '-' in the base name,
// falling back to plain string order when either name has no such suffix.
func compareNames(a, b string) int {
	na, okA := numericSuffix(a)
	nb, okB := numericSuffix(b)
	switch {
	case okA && okB && na != nb:
		if na < nb {
			return -1
		}
		return 1
	case okA && !okB:
		return -1
	case !okA && okB:
		return 1
	}
	return strings.Compare(a, b)
}

func numericSuffix(name string) (int, bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	idx := strings.LastIndexByte(base, '-')
	if idx < 0 || idx == len(base)-1 {
		return 0, false
	}
	n, err := strconv.Atoi(base[idx+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}
