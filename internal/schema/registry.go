package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Entry is a named schema in a Catalog.
type Entry struct {
	Name   string
	Path   string
	Schema *Schema
}

// Catalog holds named schemas, usually loaded from a directory of
// descriptor files (invoice.yaml, receipt.json, ...).
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]Entry)}
}

// LoadCatalog compiles every schema file in dir.
// A missing directory yields an empty catalog.
func LoadCatalog(dir string) (*Catalog, error) {
	c := NewCatalog()
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("failed to read schema dir: %w", err)
	}

	for _, f := range files {
		if f.IsDir() || !supportedExt(filepath.Ext(f.Name())) {
			continue
		}
		path := filepath.Join(dir, f.Name())
		s, err := Load(path)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", f.Name(), err)
		}
		c.Add(entryName(f.Name()), path, s)
	}
	return c, nil
}

// Add registers or replaces a schema under name.
func (c *Catalog) Add(name, path string, s *Schema) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[lowercase(name)] = Entry{Name: name, Path: path, Schema: s}
}

// All returns the entries sorted by name.
func (c *Catalog) All() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// Get returns a schema by name. Lookup is case-insensitive.
func (c *Catalog) Get(name string) (*Schema, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[lowercase(name)]
	if !ok {
		return nil, fmt.Errorf("schema not found: %s", name)
	}
	return e.Schema, nil
}

func supportedExt(ext string) bool {
	switch lowercase(ext) {
	case ".json", ".yaml", ".yml", ".toml":
		return true
	}
	return false
}

func entryName(file string) string {
	return strings.TrimSuffix(file, filepath.Ext(file))
}

// lowercase converts a name to lowercase for lookup.
func lowercase(s string) string {
	return strings.ToLower(s)
}
