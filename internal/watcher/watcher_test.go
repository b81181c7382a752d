package watcher

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/folio/internal/logging"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(99), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestNewFileWatcher(t *testing.T) {
	watcher, err := NewFileWatcher(100 * time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.NotNil(t, watcher.watcher)
	assert.NotNil(t, watcher.debouncer)
	assert.Empty(t, watcher.filters)
	assert.Empty(t, watcher.handlers)
}

func TestFileWatcherAddPath(t *testing.T) {
	watcher, err := NewFileWatcher(100 * time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.NoError(t, watcher.AddPath(t.TempDir()))
	assert.Error(t, watcher.AddPath("/non/existent/path"))
	assert.Error(t, watcher.AddPath("  "))
}

func TestFileWatcherAddRecursiveSkipsFiltered(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "posts", "2024"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git", "objects"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "pkg"), 0755))

	watcher, err := NewFileWatcher(50 * time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	watcher.AddFilter(NoHiddenFilter)
	watcher.AddFilter(IgnoreFilter([]string{"node_modules"}))
	require.NoError(t, watcher.AddRecursive(root))

	watched := watcher.WatchList()
	assert.Contains(t, watched, root)
	assert.Contains(t, watched, filepath.Join(root, "posts"))
	assert.Contains(t, watched, filepath.Join(root, "posts", "2024"))
	assert.NotContains(t, watched, filepath.Join(root, ".git"))
	assert.NotContains(t, watched, filepath.Join(root, "node_modules"))
}

func TestFileWatcherStartStop(t *testing.T) {
	watcher, err := NewFileWatcher(50 * time.Millisecond, nil)
	require.NoError(t, err)

	tempDir := t.TempDir()
	require.NoError(t, watcher.AddPath(tempDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan []ChangeEvent, 1)
	watcher.AddHandler(func(events []ChangeEvent) error {
		select {
		case received <- events:
		default:
		}
		return nil
	})

	require.NoError(t, watcher.Start(ctx))
	time.Sleep(50 * time.Millisecond)

	testFile := filepath.Join(tempDir, "test.md")
	require.NoError(t, os.WriteFile(testFile, []byte("test"), 0644))

	select {
	case events := <-received:
		require.NotEmpty(t, events)
		assert.Equal(t, testFile, events[0].Path)
	case <-time.After(2 * time.Second):
		t.Fatal("no change event received")
	}

	cancel()
	assert.NoError(t, watcher.Stop())
	assert.NoError(t, watcher.Stop())
}

func TestFileWatcherFollowsNewDirectories(t *testing.T) {
	watcher, err := NewFileWatcher(30 * time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	root := t.TempDir()
	require.NoError(t, watcher.AddRecursive(root))

	var mu sync.Mutex
	seen := map[string]bool{}
	watcher.AddHandler(func(events []ChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			seen[e.Path] = true
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))
	time.Sleep(50 * time.Millisecond)

	sub := filepath.Join(root, "posts")
	require.NoError(t, os.Mkdir(sub, 0755))

	assert.Eventually(t, func() bool {
		for _, w := range watcher.WatchList() {
			if w == sub {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	file := filepath.Join(sub, "new.md")
	require.NoError(t, os.WriteFile(file, []byte("# new"), 0644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[file]
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNoHiddenFilter(t *testing.T) {
	testCases := []struct {
		path     string
		expected bool
	}{
		{"posts/hello.md", true},
		{".git", false},
		{"posts/.draft.md", false},
		{"/abs/site/index.html", true},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.expected, NoHiddenFilter(tc.path))
		})
	}
}

func TestNoEditorTempFilter(t *testing.T) {
	testCases := []struct {
		path     string
		expected bool
	}{
		{"hello.md", true},
		{"hello.md~", false},
		{".hello.md.swp", false},
		{"#hello.md#", false},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.expected, NoEditorTempFilter(tc.path))
		})
	}
}

func TestIgnoreFilter(t *testing.T) {
	filter := IgnoreFilter([]string{"node_modules", "*.bak", ""})

	testCases := []struct {
		path     string
		expected bool
	}{
		{"src/page.md", true},
		{"node_modules/pkg/index.js", false},
		{"src/node_modules/x", false},
		{"page.md.bak", false},
		{"node_modules_extra/file", true},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.expected, filter(tc.path))
		})
	}
}

func TestDebouncer(t *testing.T) {
	debouncer := &Debouncer{
		delay:   50 * time.Millisecond,
		events:  make(chan ChangeEvent, 100),
		output:  make(chan []ChangeEvent, 10),
		pending: make([]ChangeEvent, 0),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go debouncer.start(ctx)

	debouncer.events <- ChangeEvent{Path: "b.md", Type: EventTypeCreated}
	debouncer.events <- ChangeEvent{Path: "b.md", Type: EventTypeModified}
	debouncer.events <- ChangeEvent{Path: "a.md", Type: EventTypeModified}

	select {
	case events := <-debouncer.output:
		require.Len(t, events, 2)
		assert.Equal(t, "a.md", events[0].Path)
		assert.Equal(t, "b.md", events[1].Path)
		assert.Equal(t, EventTypeModified, events[1].Type)
	case <-time.After(time.Second):
		t.Fatal("debouncer did not flush")
	}
}

func TestFileWatcherConcurrency(t *testing.T) {
	watcher, err := NewFileWatcher(50 * time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	tempDir := t.TempDir()
	require.NoError(t, watcher.AddPath(tempDir))

	var wg sync.WaitGroup
	var eventCount int
	var eventMutex sync.Mutex

	watcher.AddHandler(func(events []ChangeEvent) error {
		eventMutex.Lock()
		eventCount += len(events)
		eventMutex.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, watcher.Start(ctx))
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			testFile := filepath.Join(tempDir, fmt.Sprintf("test%d.md", i))
			assert.NoError(t, os.WriteFile(testFile, []byte("test"), 0644))
		}(i)
	}
	wg.Wait()

	assert.Eventually(t, func() bool {
		eventMutex.Lock()
		defer eventMutex.Unlock()
		return eventCount > 0
	}, 2*time.Second, 10*time.Millisecond)

	eventMutex.Lock()
	defer eventMutex.Unlock()
	assert.LessOrEqual(t, eventCount, 10)
}

func TestHandlerErrorDoesNotStopProcessing(t *testing.T) {
	watcher, err := NewFileWatcher(20 * time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	tempDir := t.TempDir()
	require.NoError(t, watcher.AddPath(tempDir))

	var mu sync.Mutex
	calls := 0
	watcher.AddHandler(func(events []ChangeEvent) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return fmt.Errorf("handler failed")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < 2; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(tempDir, fmt.Sprintf("f%d.md", i)), []byte("x"), 0644))
		time.Sleep(150 * time.Millisecond)
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFileWatcherLogsHandlerErrors(t *testing.T) {
	var out lockedBuffer
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.LevelDebug,
		Format: "json",
		Output: &out,
	})

	watcher, err := NewFileWatcher(20*time.Millisecond, logger)
	require.NoError(t, err)
	defer watcher.Stop()

	tempDir := t.TempDir()
	require.NoError(t, watcher.AddPath(tempDir))
	watcher.AddHandler(func(events []ChangeEvent) error {
		return fmt.Errorf("rebuild exploded")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "page.md"), []byte("x"), 0644))

	assert.Eventually(t, func() bool {
		logged := out.String()
		return strings.Contains(logged, "change handler failed") &&
			strings.Contains(logged, "rebuild exploded") &&
			strings.Contains(logged, `"component":"watcher"`)
	}, 2*time.Second, 10*time.Millisecond)
}
