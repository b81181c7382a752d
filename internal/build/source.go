package build

import (
	"bytes"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/folio/internal/entity"
)

const frontMatterDelim = "---"

// FrontMatter is the optional YAML header of a markdown page.
type FrontMatter struct {
	Title string    `yaml:"title"`
	Date  time.Time `yaml:"date"`
	Draft bool      `yaml:"draft"`
}

// splitFrontMatter separates a leading "---" delimited YAML block from the
// markdown body. Files without a header are returned unchanged.
func splitFrontMatter(data []byte) (FrontMatter, []byte, error) {
	var fm FrontMatter

	normalized := bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte(frontMatterDelim+"\n")) {
		return fm, data, nil
	}

	rest := normalized[len(frontMatterDelim)+1:]
	var header, body []byte
	switch {
	case bytes.HasPrefix(rest, []byte(frontMatterDelim+"\n")):
		body = rest[len(frontMatterDelim)+1:]
	default:
		end := bytes.Index(rest, []byte("\n"+frontMatterDelim+"\n"))
		if end < 0 {
			if !bytes.HasSuffix(rest, []byte("\n"+frontMatterDelim)) {
				return fm, nil, fmt.Errorf("unterminated front matter")
			}
			header = rest[:len(rest)-len(frontMatterDelim)-1]
		} else {
			header = rest[:end]
			body = rest[end+len(frontMatterDelim)+2:]
		}
	}

	if err := yaml.Unmarshal(header, &fm); err != nil {
		return fm, nil, fmt.Errorf("parsing front matter: %w", err)
	}
	return fm, body, nil
}

// newMarkdown returns the converter used for page bodies. Raw HTML is kept
// since sources are authored locally.
func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Footnote),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)
}

// titleFromSlug turns "posts/my-first_post" into "My First Post".
func titleFromSlug(slug string) string {
	name := strings.NewReplacer("-", " ", "_", " ").Replace(path.Base(slug))
	return cases.Title(language.English).String(strings.TrimSpace(name))
}

// loadPage converts one markdown source into a page. rel is the path
// relative to the source root.
func (b *Builder) loadPage(rel string, data []byte) (*entity.Page, error) {
	fm, body, err := splitFrontMatter(data)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if err := b.markdown.Convert(body, &out); err != nil {
		return nil, fmt.Errorf("converting markdown: %w", err)
	}

	page := entity.NewPage(b.renderer, rel, out.String())
	page.Title = fm.Title
	if page.Title == "" {
		page.Title = titleFromSlug(page.Slug())
	}
	page.Date = fm.Date
	page.Draft = fm.Draft
	return page, nil
}
