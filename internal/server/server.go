// Package server runs the development server: it binds the listener,
// recovering from port conflicts through a PortPolicy, owns the temporary
// build output directory, keeps the build watcher running and serves the
// output with a live reload websocket fallback.
package server

import (
	"context"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/folio/internal/errors"
	"github.com/conneroisu/folio/internal/logging"
	"github.com/conneroisu/folio/internal/monitoring"
	"github.com/conneroisu/folio/internal/reload"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// BuildWatcher populates the output directory and signals every completed
// build through notifier.
type BuildWatcher interface {
	Watch(ctx context.Context, sourceRoot, outputRoot string, continuous bool, notifier reload.Notifier) error
}

// Option customizes a Server.
type Option func(*Server)

// WithPortPolicy sets how port conflicts are resolved. The default is FailFast.
func WithPortPolicy(p PortPolicy) Option {
	return func(s *Server) { s.policy = p }
}

// WithBrowserOpener replaces OpenBrowser.
func WithBrowserOpener(o BrowserOpener) Option {
	return func(s *Server) { s.opener = o }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics enables metric collection.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithOnListen registers a callback invoked with the serving URL after every
// successful bind.
func WithOnListen(fn func(url string)) Option {
	return func(s *Server) { s.onListen = fn }
}

// Server is the development server.
type Server struct {
	opts     Options
	watcher  BuildWatcher
	policy   PortPolicy
	opener   BrowserOpener
	onListen func(url string)
	logger   logging.Logger
	metrics  *monitoring.Metrics

	mu       sync.RWMutex
	url      string
	fallback *FallbackService
}

// New creates a server that rebuilds with watcher.
func New(opts Options, watcher BuildWatcher, options ...Option) *Server {
	s := &Server{
		opts:    opts.withDefaults(),
		watcher: watcher,
		policy:  FailFast,
		opener:  OpenBrowser,
	}
	for _, o := range options {
		o(s)
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	s.logger = s.logger.WithComponent("server")
	return s
}

// URL returns the serving URL once the listener is bound.
func (s *Server) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.url
}

// ActiveSessions returns the number of connected live reload sessions.
func (s *Server) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fallback == nil {
		return 0
	}
	return s.fallback.ActiveSessions()
}

// Run binds the listener and serves until ctx is done or the listener
// fails. Address conflicts are resolved through the port policy; any other
// bind failure is returned. Cancelling ctx is a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	port := s.opts.Port
	outputDir := s.opts.OutputDir()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := os.RemoveAll(outputDir); err != nil {
			return errors.NewIOError("OUTPUT_REMOVE_FAILED", "failed to remove stale build output", err).WithPath(outputDir)
		}

		addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(port))
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			bindErr := errors.NewBindError(addr, err)
			if !errors.IsAddrInUse(err) {
				s.logger.Error(ctx, err, "failed to bind", "addr", addr)
				return bindErr
			}

			s.logger.Warn(ctx, err, "address already in use", "addr", addr)
			next, err := s.policy.NextPort(ctx, port, bindErr)
			if err != nil {
				return err
			}
			port = next
			continue
		}

		if err := os.MkdirAll(outputDir, 0755); err != nil {
			ln.Close()
			return errors.NewIOError("OUTPUT_CREATE_FAILED", "failed to create build output", err).WithPath(outputDir)
		}

		return s.serve(ctx, ln, outputDir)
	}
}

func (s *Server) serve(ctx context.Context, ln net.Listener, outputDir string) error {
	url := "http://" + ln.Addr().String()

	broadcaster := reload.NewBroadcaster(s.opts.ReloadCapacity)
	defer broadcaster.Close()
	publisher := broadcaster.Publisher()

	g, gctx := errgroup.WithContext(ctx)

	fallback := NewFallbackService(gctx, broadcaster.Subscribe, s.logger, s.metrics)
	httpServer := &http.Server{
		Handler:           NewStaticService(outputDir, fallback),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}

	s.mu.Lock()
	s.url = url
	s.fallback = fallback
	s.mu.Unlock()

	s.logger.Info(ctx, "listening", "url", url, "output", outputDir)
	if s.onListen != nil {
		s.onListen(url)
	}

	if s.opts.OpenBrowser {
		// Subscribed before the watcher starts so the first build is seen.
		sub := broadcaster.Subscribe()
		g.Go(func() error {
			defer sub.Close()
			s.openWhenReady(gctx, sub, url)
			return nil
		})
	}

	g.Go(func() error {
		if err := s.watcher.Watch(gctx, s.opts.SourceRoot, outputDir, true, publisher); err != nil {
			s.logger.Error(gctx, err, "build watcher stopped", "source", s.opts.SourceRoot)
		}
		return nil
	})

	if s.opts.MetricsAddr != "" && s.metrics != nil {
		g.Go(func() error {
			s.serveMetrics(gctx)
			return nil
		})
	}

	g.Go(func() error {
		errCh := make(chan error, 1)
		go func() { errCh <- httpServer.Serve(ln) }()

		select {
		case err := <-errCh:
			return errors.NewInternalError("SERVE_FAILED", "http server stopped", err)
		case <-gctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(shutdownCtx, err, "graceful shutdown incomplete")
		}
		return nil
	})

	err := g.Wait()
	s.logger.Info(context.Background(), "server stopped", "url", url)
	return err
}

// openWhenReady waits for the first build, then opens the browser once.
func (s *Server) openWhenReady(ctx context.Context, sub *reload.Subscriber, url string) {
	if err := sub.Recv(ctx); err != nil && !errors.Is(err, reload.ErrLagged) {
		return
	}
	if err := s.opener(url); err != nil {
		s.logger.Warn(ctx, err, "failed to open browser", "url", url)
	}
}

func (s *Server) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())

	srv := &http.Server{
		Addr:              s.opts.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info(ctx, "serving metrics", "addr", s.opts.MetricsAddr)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			s.logger.Warn(ctx, err, "metrics listener stopped", "addr", s.opts.MetricsAddr)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}
}
