// Package build turns a source tree of markdown pages and static assets
// into a servable output tree, once or continuously.
//
// Markdown files become pages rendered through the page layout at their
// slug, every other file is copied as is, and an index listing all pages is
// generated unless the source provides its own index.html. Builds rewrite
// the output in place with atomic file replacement and prune files whose
// source disappeared, so a server can keep reading the tree during a
// rebuild.
package build

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"

	"github.com/conneroisu/folio/internal/entity"
	"github.com/conneroisu/folio/internal/errors"
	"github.com/conneroisu/folio/internal/logging"
	"github.com/conneroisu/folio/internal/monitoring"
	"github.com/conneroisu/folio/internal/reload"
	"github.com/conneroisu/folio/internal/render"
	"github.com/conneroisu/folio/internal/watcher"
)

// DefaultDebounce is the delay used to batch source changes.
const DefaultDebounce = 100 * time.Millisecond

// Options configures a Builder.
type Options struct {
	SiteTitle  string
	LiveReload bool
	Debounce   time.Duration
	Ignore     []string

	Renderer render.Renderer
	Logger   logging.Logger
	Metrics  *monitoring.Metrics
}

// Builder builds a site and optionally keeps rebuilding it.
type Builder struct {
	opts     Options
	renderer render.Renderer
	logger   logging.Logger
	markdown goldmark.Markdown
	stats    *BuildMetrics

	// serializes builds sharing one output tree
	mu sync.Mutex
}

// New creates a builder. Zero options fall back to the templ renderer, a
// discarding logger and DefaultDebounce.
func New(opts Options) *Builder {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.SiteTitle == "" {
		opts.SiteTitle = "folio"
	}

	renderer := opts.Renderer
	if renderer == nil {
		renderer = render.NewTemplRenderer()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Builder{
		opts:     opts,
		renderer: renderer,
		logger:   logger.WithComponent("build"),
		markdown: newMarkdown(),
		stats:    NewBuildMetrics(),
	}
}

// Stats returns a snapshot of the build counters.
func (b *Builder) Stats() BuildMetrics {
	return b.stats.GetSnapshot()
}

// Watch writes a complete tree into dest and notifies once. With continuous
// set it keeps watching source and notifies after every completed rebuild
// until ctx is done. A failed initial build is returned; failed rebuilds are
// logged and watching goes on. notifier may be nil.
func (b *Builder) Watch(ctx context.Context, source, dest string, continuous bool, notifier reload.Notifier) error {
	if _, err := b.Build(ctx, source, dest); err != nil {
		return err
	}
	b.notify(notifier)

	if !continuous {
		return nil
	}

	fw, err := watcher.NewFileWatcher(b.opts.Debounce, b.logger)
	if err != nil {
		return errors.NewBuildError("WATCH_FAILED", "failed to create file watcher", err)
	}
	defer fw.Stop()

	fw.AddFilter(watcher.NoHiddenFilter)
	fw.AddFilter(watcher.NoEditorTempFilter)
	fw.AddFilter(watcher.IgnoreFilter(b.opts.Ignore))
	if absDest, err := filepath.Abs(dest); err == nil {
		fw.AddFilter(func(path string) bool { return !within(path, absDest) })
	}

	if err := fw.AddRecursive(source); err != nil {
		return errors.NewBuildError("WATCH_FAILED", "failed to watch source", err).WithPath(source)
	}

	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		b.logger.Debug(ctx, "source changed", "events", len(events), "first", events[0].Path)
		if _, err := b.Build(ctx, source, dest); err != nil {
			if ctx.Err() == nil {
				b.logger.Error(ctx, err, "rebuild failed")
			}
			return nil
		}
		b.notify(notifier)
		return nil
	})

	if err := fw.Start(ctx); err != nil {
		return errors.NewBuildError("WATCH_FAILED", "failed to start file watcher", err)
	}
	b.logger.Info(ctx, "watching for changes", "source", source)

	<-ctx.Done()
	return nil
}

func (b *Builder) notify(notifier reload.Notifier) {
	if notifier == nil {
		return
	}
	notifier.Notify()
	b.opts.Metrics.RecordReload()
}

// Build renders source into dest once.
func (b *Builder) Build(ctx context.Context, source, dest string) (BuildResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	perf := logging.StartOperation(b.logger, "build")
	start := time.Now()

	result, err := b.build(ctx, source, dest)
	result.Duration = time.Since(start)
	result.Error = err

	b.stats.RecordBuild(result)
	b.opts.Metrics.RecordBuild(result.Duration, result.Pages, err)

	if err != nil {
		perf.EndWithError(ctx, err)
		return result, err
	}
	perf.End(ctx)
	b.logger.Info(ctx, "site built",
		"pages", result.Pages,
		"files", result.Files,
		"drafts", result.Skipped,
		"duration", result.Duration)
	return result, nil
}

func (b *Builder) build(ctx context.Context, source, dest string) (BuildResult, error) {
	var result BuildResult

	info, err := os.Stat(source)
	if err != nil {
		return result, errors.NewBuildError("SOURCE_MISSING", "source directory is not readable", err).WithPath(source)
	}
	if !info.IsDir() {
		return result, errors.NewBuildError("SOURCE_NOT_DIR", "source is not a directory", nil).WithPath(source)
	}

	absSource, err := filepath.Abs(source)
	if err != nil {
		return result, errors.NewBuildError("SOURCE_MISSING", "cannot resolve source", err).WithPath(source)
	}
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return result, errors.NewBuildError("OUTPUT_INVALID", "cannot resolve output", err).WithPath(dest)
	}
	if absSource == absDest {
		return result, errors.NewBuildError("OUTPUT_INVALID", "output directory must differ from source", nil).WithPath(dest)
	}

	ignore := watcher.IgnoreFilter(b.opts.Ignore)
	var pages []*entity.Page
	var assets []string
	hasIndex := false

	err = filepath.WalkDir(absSource, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == absSource {
			return nil
		}

		rel, err := filepath.Rel(absSource, path)
		if err != nil {
			return err
		}
		if within(path, absDest) || !watcher.NoHiddenFilter(rel) || !watcher.NoEditorTempFilter(rel) || !ignore(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		if !entity.IsSource(rel) {
			if rel == "index.html" {
				hasIndex = true
			}
			assets = append(assets, rel)
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", rel, err)
		}
		page, err := b.loadPage(rel, data)
		if err != nil {
			return fmt.Errorf("loading %s: %w", rel, err)
		}
		if page.Draft {
			result.Skipped++
			return nil
		}
		pages = append(pages, page)
		return nil
	})
	if err != nil {
		return result, errors.NewBuildError("BUILD_FAILED", "failed to build site", err).WithPath(source)
	}

	index := filepath.Join(absDest, "index.html")
	claims := newOutputClaims(absDest)
	for _, rel := range assets {
		if err := claims.claim(filepath.Join(absDest, rel), rel); err != nil {
			return result, err
		}
	}
	for _, page := range pages {
		if err := claims.claim(page.OutputPath(absDest), page.FilePath); err != nil {
			return result, err
		}
	}
	if !hasIndex {
		if err := claims.claim(index, "generated index"); err != nil {
			return result, err
		}
	}
	if err := claims.checkNesting(); err != nil {
		return result, err
	}

	written := make(map[string]bool, len(claims.owners))
	for _, rel := range assets {
		data, err := os.ReadFile(filepath.Join(absSource, rel))
		if err != nil {
			return result, errors.NewBuildError("BUILD_FAILED", "failed to read asset", err).WithPath(rel)
		}
		out := filepath.Join(absDest, rel)
		if err := b.copyFile(out, data); err != nil {
			return result, errors.NewBuildError("BUILD_FAILED", "failed to copy asset", err).WithPath(rel)
		}
		written[out] = true
		result.Files++
	}

	site := render.NewContext()
	site.Insert(render.KeySiteTitle, b.opts.SiteTitle)
	site.Insert(render.KeyLiveReload, b.opts.LiveReload)

	sortPages(pages)
	for _, page := range pages {
		if err := page.Render(site, absDest); err != nil {
			return result, errors.NewBuildError("RENDER_FAILED", "failed to render page", err).WithPath(page.FilePath)
		}
		written[page.OutputPath(absDest)] = true
		result.Pages++
	}

	if !hasIndex {
		if err := b.renderIndex(site, pages, index); err != nil {
			return result, errors.NewBuildError("RENDER_FAILED", "failed to render index", err).WithPath(index)
		}
		written[index] = true
	}

	removed, err := prune(absDest, written)
	if err != nil {
		b.logger.Warn(ctx, err, "failed to prune stale output")
	}
	result.Removed = removed

	return result, nil
}

func (b *Builder) copyFile(out string, data []byte) error {
	if b.opts.LiveReload && strings.EqualFold(filepath.Ext(out), ".html") {
		injected, err := InjectLiveReload(data)
		if err != nil {
			return err
		}
		data = injected
	}
	return render.WriteFile(out, data)
}

func (b *Builder) renderIndex(site render.Context, pages []*entity.Page, dest string) error {
	links := make([]render.PageLink, 0, len(pages))
	for _, p := range pages {
		link := render.PageLink{Title: p.Title, Slug: p.Slug()}
		if !p.Date.IsZero() {
			link.Date = p.Date.Format("2006-01-02")
		}
		links = append(links, link)
	}

	ctx := site.Clone()
	ctx.Insert(render.KeyTitle, b.opts.SiteTitle)
	ctx.Insert(render.KeyPages, links)
	return b.renderer.Render(render.LayoutIndex, ctx, dest)
}

// sortPages orders pages newest first, then by slug.
func sortPages(pages []*entity.Page) {
	sort.SliceStable(pages, func(i, j int) bool {
		if !pages[i].Date.Equal(pages[j].Date) {
			return pages[i].Date.After(pages[j].Date)
		}
		return pages[i].Slug() < pages[j].Slug()
	})
}

// prune removes files under root that the last build did not write, along
// with directories left empty.
func prune(root string, written map[string]bool) (int, error) {
	removed := 0
	var dirs []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root {
				dirs = append(dirs, path)
			}
			return nil
		}
		if written[path] {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		removed++
		return nil
	})

	// deepest first so parents empty out after their children
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		if entries, readErr := os.ReadDir(dir); readErr == nil && len(entries) == 0 {
			os.Remove(dir)
		}
	}

	return removed, err
}

// outputClaims maps every output path of one build to the source that
// produces it.
type outputClaims struct {
	root   string
	owners map[string]string
}

func newOutputClaims(root string) *outputClaims {
	return &outputClaims{root: root, owners: make(map[string]string)}
}

func (c *outputClaims) claim(out, source string) error {
	if prev, ok := c.owners[out]; ok {
		return c.collision(out, prev, source)
	}
	c.owners[out] = source
	return nil
}

// checkNesting rejects an output file that another output needs as a
// directory.
func (c *outputClaims) checkNesting() error {
	outs := make([]string, 0, len(c.owners))
	for out := range c.owners {
		outs = append(outs, out)
	}
	sort.Strings(outs)

	for _, out := range outs {
		for dir := filepath.Dir(out); dir != c.root && within(dir, c.root); dir = filepath.Dir(dir) {
			if owner, ok := c.owners[dir]; ok {
				return c.collision(dir, owner, c.owners[out])
			}
		}
	}
	return nil
}

func (c *outputClaims) collision(out, first, second string) error {
	rel, err := filepath.Rel(c.root, out)
	if err != nil {
		rel = out
	}
	return errors.NewBuildError("SLUG_COLLISION",
		fmt.Sprintf("%s and %s both publish to %s", first, second, filepath.ToSlash(rel)), nil).
		WithContext("first", first).
		WithContext("second", second).
		WithPath(out)
}

func within(path, dir string) bool {
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}
