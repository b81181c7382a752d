package build

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/folio/internal/errors"
	"github.com/conneroisu/folio/internal/monitoring"
	"github.com/conneroisu/folio/internal/reload"
	"github.com/conneroisu/folio/internal/render"
)

type countingNotifier struct {
	n atomic.Int32
}

func (c *countingNotifier) Notify() { c.n.Add(1) }

func writeSource(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

func readOutput(t *testing.T, root, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
	require.NoError(t, err)
	return string(data)
}

func TestBuildWritesPagesAssetsAndIndex(t *testing.T) {
	source := t.TempDir()
	dest := filepath.Join(t.TempDir(), "out")

	writeSource(t, source, map[string]string{
		"posts/hello.md": "---\ntitle: Hello World\ndate: 2024-03-01T00:00:00Z\n---\n# Hi\n\nSome *text*.\n",
		"about-me.md":    "Plain page\n",
		"draft.md":       "---\ndraft: true\n---\nsecret\n",
		"css/site.css":   "body { color: red; }",
		".git/HEAD":      "ref: main",
	})

	b := New(Options{SiteTitle: "Blog"})
	result, err := b.Build(context.Background(), source, dest)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Pages)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, result.Files)

	hello := readOutput(t, dest, "posts/hello")
	assert.Contains(t, hello, "<h1")
	assert.Contains(t, hello, "<em>text</em>")
	assert.Contains(t, hello, "<title>Hello World | Blog</title>")
	assert.NotContains(t, hello, render.LiveReloadPath)

	about := readOutput(t, dest, "about-me")
	assert.Contains(t, about, "<title>About Me | Blog</title>")

	assert.Equal(t, "body { color: red; }", readOutput(t, dest, "css/site.css"))
	assert.NoFileExists(t, filepath.Join(dest, "draft"))
	assert.NoDirExists(t, filepath.Join(dest, ".git"))

	index := readOutput(t, dest, "index.html")
	assert.Contains(t, index, `href="/posts/hello"`)
	assert.Contains(t, index, `href="/about-me"`)
	assert.Contains(t, index, "2024-03-01")
	assert.NotContains(t, index, "draft")
}

func TestBuildKeepsSourceIndex(t *testing.T) {
	source := t.TempDir()
	dest := t.TempDir()

	writeSource(t, source, map[string]string{
		"index.html": "<html><body><p>custom</p></body></html>",
		"page.md":    "hi",
	})

	_, err := New(Options{}).Build(context.Background(), source, dest)
	require.NoError(t, err)

	assert.Equal(t, "<html><body><p>custom</p></body></html>", readOutput(t, dest, "index.html"))
}

func TestBuildInjectsLiveReload(t *testing.T) {
	source := t.TempDir()
	dest := t.TempDir()

	writeSource(t, source, map[string]string{
		"index.html": "<html><body><p>custom</p></body></html>",
		"page.md":    "hi",
	})

	_, err := New(Options{LiveReload: true}).Build(context.Background(), source, dest)
	require.NoError(t, err)

	assert.Contains(t, readOutput(t, dest, "index.html"), render.LiveReloadPath)
	assert.Contains(t, readOutput(t, dest, "page"), render.LiveReloadPath)
}

func TestBuildPrunesRemovedSources(t *testing.T) {
	source := t.TempDir()
	dest := t.TempDir()
	b := New(Options{})

	writeSource(t, source, map[string]string{
		"a.md":        "a",
		"old/b.md":    "b",
		"img/pic.png": "png",
	})
	_, err := b.Build(context.Background(), source, dest)
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dest, "old", "b"))

	require.NoError(t, os.RemoveAll(filepath.Join(source, "old")))
	require.NoError(t, os.Remove(filepath.Join(source, "img", "pic.png")))

	result, err := b.Build(context.Background(), source, dest)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Removed)
	assert.NoDirExists(t, filepath.Join(dest, "old"))
	assert.NoDirExists(t, filepath.Join(dest, "img"))
	assert.FileExists(t, filepath.Join(dest, "a"))
	assert.FileExists(t, filepath.Join(dest, "index.html"))
}

func TestBuildErrors(t *testing.T) {
	t.Run("missing source", func(t *testing.T) {
		_, err := New(Options{}).Build(context.Background(), "/does/not/exist", t.TempDir())
		require.Error(t, err)
		assert.True(t, errors.IsBuildError(err))
	})

	t.Run("source is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "x.md")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
		_, err := New(Options{}).Build(context.Background(), file, t.TempDir())
		assert.True(t, errors.IsBuildError(err))
	})

	t.Run("bad front matter", func(t *testing.T) {
		source := t.TempDir()
		writeSource(t, source, map[string]string{"bad.md": "---\ntitle: [unclosed\n---\nbody"})
		_, err := New(Options{}).Build(context.Background(), source, t.TempDir())
		assert.True(t, errors.IsBuildError(err))
	})

	t.Run("output equals source", func(t *testing.T) {
		source := t.TempDir()
		_, err := New(Options{}).Build(context.Background(), source, source)
		assert.True(t, errors.IsBuildError(err))
	})
}

func TestBuildRejectsSlugCollisions(t *testing.T) {
	collision := &errors.FolioError{Type: errors.ErrorTypeBuild, Code: "SLUG_COLLISION"}

	tests := []struct {
		name    string
		files   map[string]string
		sources []string
	}{
		{
			name:    "asset and page share an output",
			files:   map[string]string{"hello": "raw asset", "hello.md": "# Hello"},
			sources: []string{"hello", "hello.md"},
		},
		{
			name:    "page shadows a directory",
			files:   map[string]string{"blog.md": "# Blog", "blog/first.md": "# First"},
			sources: []string{"blog.md", "blog/first.md"},
		},
		{
			name:    "page shadows an asset directory",
			files:   map[string]string{"img.md": "# Images", "img/logo.svg": "<svg/>"},
			sources: []string{"img.md", "img/logo.svg"},
		},
		{
			name:    "page claims the generated index",
			files:   map[string]string{"index.html.md": "# Index"},
			sources: []string{"index.html.md", "generated index"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := t.TempDir()
			dest := filepath.Join(t.TempDir(), "out")
			writeSource(t, source, tt.files)

			_, err := New(Options{}).Build(context.Background(), source, dest)
			require.Error(t, err)
			assert.True(t, errors.Is(err, collision), "got %v", err)
			for _, src := range tt.sources {
				assert.Contains(t, filepath.ToSlash(err.Error()), src)
			}
			assert.NoDirExists(t, dest)
		})
	}
}

func TestBuildUppercaseExtensionIsPage(t *testing.T) {
	source := t.TempDir()
	dest := filepath.Join(t.TempDir(), "out")
	writeSource(t, source, map[string]string{"Post.MD": "# Upper"})

	result, err := New(Options{}).Build(context.Background(), source, dest)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Pages)
	assert.Contains(t, readOutput(t, dest, "Post"), "Upper")
	assert.NoFileExists(t, filepath.Join(dest, "Post.MD"))
}

func TestBuildSkipsOutputInsideSource(t *testing.T) {
	source := t.TempDir()
	dest := filepath.Join(source, "public")
	writeSource(t, source, map[string]string{"a.md": "a"})

	b := New(Options{})
	_, err := b.Build(context.Background(), source, dest)
	require.NoError(t, err)
	result, err := b.Build(context.Background(), source, dest)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Files)
	assert.NoDirExists(t, filepath.Join(dest, "public"))
}

func TestBuildRecordsMetrics(t *testing.T) {
	source := t.TempDir()
	writeSource(t, source, map[string]string{"a.md": "a"})

	b := New(Options{Metrics: monitoring.NewMetrics()})
	_, err := b.Build(context.Background(), source, t.TempDir())
	require.NoError(t, err)
	_, err = b.Build(context.Background(), "/does/not/exist", t.TempDir())
	require.Error(t, err)

	stats := b.Stats()
	assert.Equal(t, int64(2), stats.TotalBuilds)
	assert.Equal(t, int64(1), stats.SuccessfulBuilds)
	assert.Equal(t, int64(1), stats.FailedBuilds)
	assert.Equal(t, int64(1), stats.PagesRendered)
	assert.InDelta(t, 50.0, stats.GetSuccessRate(), 0.001)
}

func TestWatchOneShot(t *testing.T) {
	source := t.TempDir()
	dest := t.TempDir()
	writeSource(t, source, map[string]string{"a.md": "a"})

	notifier := &countingNotifier{}
	require.NoError(t, New(Options{}).Watch(context.Background(), source, dest, false, notifier))

	assert.Equal(t, int32(1), notifier.n.Load())
	assert.FileExists(t, filepath.Join(dest, "a"))
}

func TestWatchNilNotifier(t *testing.T) {
	source := t.TempDir()
	writeSource(t, source, map[string]string{"a.md": "a"})

	assert.NoError(t, New(Options{}).Watch(context.Background(), source, t.TempDir(), false, nil))
}

func TestWatchFailedFirstBuild(t *testing.T) {
	notifier := &countingNotifier{}
	err := New(Options{}).Watch(context.Background(), "/does/not/exist", t.TempDir(), true, notifier)

	require.Error(t, err)
	assert.True(t, errors.IsBuildError(err))
	assert.Zero(t, notifier.n.Load())
}

// A subscriber created before the first build sees exactly one event; one
// created after it sees nothing until the next rebuild.
func TestWatchFirstBuildPublishesOnce(t *testing.T) {
	source := t.TempDir()
	dest := t.TempDir()
	writeSource(t, source, map[string]string{"a.md": "a"})

	broadcaster := reload.NewBroadcaster(reload.DefaultCapacity)
	defer broadcaster.Close()
	early := broadcaster.Subscribe()
	defer early.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- New(Options{Debounce: 20 * time.Millisecond}).Watch(ctx, source, dest, true, broadcaster.Publisher())
	}()

	recvCtx, recvCancel := context.WithTimeout(ctx, 2*time.Second)
	defer recvCancel()
	require.NoError(t, early.Recv(recvCtx))
	assert.FileExists(t, filepath.Join(dest, "a"))

	late := broadcaster.Subscribe()
	defer late.Close()

	quiet, quietCancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer quietCancel()
	assert.ErrorIs(t, late.Recv(quiet), context.DeadlineExceeded)
	assert.ErrorIs(t, early.Recv(quiet), context.DeadlineExceeded)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestWatchRebuildsOnChange(t *testing.T) {
	source := t.TempDir()
	dest := t.TempDir()
	writeSource(t, source, map[string]string{"a.md": "first"})

	notifier := &countingNotifier{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go New(Options{Debounce: 20 * time.Millisecond}).Watch(ctx, source, dest, true, notifier)

	require.Eventually(t, func() bool { return notifier.n.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	writeSource(t, source, map[string]string{"posts/b.md": "second"})

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dest, "posts", "b"))
		return err == nil && notifier.n.Load() >= 2
	}, 3*time.Second, 20*time.Millisecond)
}
