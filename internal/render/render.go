// Package render turns a template context into files under the build
// output directory.
//
// Layouts are templ components built from a Context. Every write goes
// through a temporary file followed by a rename so the dev server never
// serves a half-written page while a rebuild is in flight.
package render

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/a-h/templ"
)

// Context carries the values a layout can use.
type Context map[string]any

// NewContext returns an empty context.
func NewContext() Context {
	return make(Context)
}

// Insert sets key to value, replacing any previous value.
func (c Context) Insert(key string, value any) {
	c[key] = value
}

// Clone returns a shallow copy so callers can add page specific values
// without touching a shared site context.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// String returns the string stored under key, or "".
func (c Context) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Bool returns the bool stored under key, or false.
func (c Context) Bool(key string) bool {
	b, _ := c[key].(bool)
	return b
}

// Layout builds the component for one rendered file.
type Layout func(ctx Context) templ.Component

// Renderer writes the result of a named layout to dest.
type Renderer interface {
	Render(layout string, ctx Context, dest string) error
}

// TemplRenderer renders registered templ layouts to files.
type TemplRenderer struct {
	mu      sync.RWMutex
	layouts map[string]Layout
}

// NewTemplRenderer returns a renderer with the built-in page and index
// layouts registered.
func NewTemplRenderer() *TemplRenderer {
	r := &TemplRenderer{layouts: make(map[string]Layout)}
	r.Register(LayoutPage, PageLayout)
	r.Register(LayoutIndex, IndexLayout)
	return r
}

// Register adds or replaces a layout.
func (r *TemplRenderer) Register(name string, layout Layout) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.layouts[name] = layout
}

// Layouts lists the registered layout names in order.
func (r *TemplRenderer) Layouts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.layouts))
	for name := range r.layouts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render executes the layout and writes the output to dest, creating
// intermediate directories as needed.
func (r *TemplRenderer) Render(layout string, ctx Context, dest string) error {
	r.mu.RLock()
	fn, ok := r.layouts[layout]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown layout %q", layout)
	}

	var buf bytes.Buffer
	if err := fn(ctx).Render(context.Background(), &buf); err != nil {
		return fmt.Errorf("rendering layout %s: %w", layout, err)
	}

	return WriteFile(dest, buf.Bytes())
}

// WriteFile atomically replaces dest with data.
func WriteFile(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".folio-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", dest, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("setting permissions on %s: %w", dest, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", dest, err)
	}

	return nil
}
