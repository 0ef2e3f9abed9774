// Package handlers contains the synthetic files served by luxfs and the
// handlers that produce their contents.
package handlers

import (
	"fmt"
	"strings"

	"github.com/brettbedarf/luxfs"
)

// Table is an ordered, static list of leaf files
type Table []luxfs.FileSpec

// Lookup returns the spec with the given name
func (t Table) Lookup(name string) (luxfs.FileSpec, bool) {
	for _, spec := range t {
		if spec.Name == name {
			return spec, true
		}
	}
	return luxfs.FileSpec{}, false
}

// Validate checks that names are unique, well formed and that every entry
// has a handler
func (t Table) Validate() error {
	seen := make(map[string]struct{}, len(t))
	for i, spec := range t {
		switch {
		case spec.Name == "" || spec.Name == "." || spec.Name == ".." || strings.ContainsRune(spec.Name, '/'):
			return fmt.Errorf("file %d: invalid name %q", i, spec.Name)
		case spec.Handler == nil:
			return fmt.Errorf("file %q: no handler", spec.Name)
		}
		if _, dup := seen[spec.Name]; dup {
			return fmt.Errorf("file %q: duplicate name", spec.Name)
		}
		seen[spec.Name] = struct{}{}
	}
	return nil
}
