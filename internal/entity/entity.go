// Package entity defines the content units of a site and how each one
// renders itself into the build output.
package entity

import (
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/conneroisu/folio/internal/render"
)

// SourceExt is the extension of page source files. It is stripped when
// deriving a slug.
const SourceExt = ".md"

// Entity is a unit of content that renders itself below dest.
type Entity interface {
	Render(ctx render.Context, dest string) error
}

// Page is a markdown page. Content holds the already converted HTML and
// FilePath the source path relative to the site root.
type Page struct {
	Content  string
	FilePath string
	Title    string
	Date     time.Time
	Draft    bool

	renderer render.Renderer
}

// NewPage creates a page rendered by r.
func NewPage(r render.Renderer, filePath, content string) *Page {
	return &Page{
		Content:  content,
		FilePath: filePath,
		renderer: r,
	}
}

// Slug returns the publish path: the slash separated relative path with
// the source extension removed, so "posts/hello.md" becomes "posts/hello".
func (p *Page) Slug() string {
	return Slug(p.FilePath)
}

// Slug derives the publish path of a source file. The extension matches
// SourceExt in any case, as IsSource does.
func Slug(filePath string) string {
	slug := path.Clean(filepath.ToSlash(filePath))
	slug = strings.TrimPrefix(slug, "/")
	if IsSource(slug) {
		slug = slug[:len(slug)-len(SourceExt)]
	}
	return slug
}

// IsSource reports whether filePath names a page source.
func IsSource(filePath string) bool {
	return strings.EqualFold(path.Ext(filepath.ToSlash(filePath)), SourceExt)
}

// OutputPath returns where the page lands under dest.
func (p *Page) OutputPath(dest string) string {
	return filepath.Join(dest, filepath.FromSlash(p.Slug()))
}

// Render inserts the page into ctx and writes the page layout to
// dest/slug.
func (p *Page) Render(ctx render.Context, dest string) error {
	ctx = ctx.Clone()
	ctx.Insert(render.KeyContent, p.Content)
	ctx.Insert(render.KeyTitle, p.Title)
	return p.renderer.Render(render.LayoutPage, ctx, p.OutputPath(dest))
}
