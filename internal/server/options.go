package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/conneroisu/folio/internal/config"
	"github.com/conneroisu/folio/internal/reload"
)

// Options configures a dev server.
type Options struct {
	SourceRoot  string
	Host        string
	Port        int
	OpenBrowser bool

	// TempRoot and TempDirName locate the build output directory. It is
	// removed before every start attempt and recreated after a bind.
	TempRoot    string
	TempDirName string

	ReloadCapacity int

	// MetricsAddr enables a separate prometheus listener when set.
	MetricsAddr string
}

// OptionsFromConfig maps the loaded configuration onto server options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SourceRoot:     cfg.Build.Source,
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		OpenBrowser:    cfg.Server.Open,
		TempRoot:       cfg.Build.TempRoot,
		TempDirName:    cfg.Build.TempDirName,
		ReloadCapacity: cfg.Reload.Capacity,
		MetricsAddr:    cfg.Server.MetricsAddr,
	}
}

func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = config.DefaultHost
	}
	if o.TempRoot == "" {
		o.TempRoot = os.TempDir()
	}
	if o.TempDirName == "" {
		o.TempDirName = config.DefaultTempDirName
	}
	if o.ReloadCapacity <= 0 {
		o.ReloadCapacity = reload.DefaultCapacity
	}
	if o.SourceRoot == "" {
		o.SourceRoot = "."
	}
	return o
}

// OutputDir is the directory the server serves and the build watcher fills.
func (o Options) OutputDir() string {
	o = o.withDefaults()
	return filepath.Join(o.TempRoot, o.TempDirName)
}

// PortPolicy picks a replacement port after the current one turned out to
// be taken. It is consulted once per conflict; an error ends the server.
type PortPolicy interface {
	NextPort(ctx context.Context, port int, cause error) (int, error)
}

// PortPolicyFunc adapts a function to PortPolicy.
type PortPolicyFunc func(ctx context.Context, port int, cause error) (int, error)

// NextPort calls f.
func (f PortPolicyFunc) NextPort(ctx context.Context, port int, cause error) (int, error) {
	return f(ctx, port, cause)
}

// IncrementPort retries on the next port number.
var IncrementPort PortPolicy = PortPolicyFunc(func(_ context.Context, port int, cause error) (int, error) {
	if port <= 0 || port >= 65535 {
		return 0, fmt.Errorf("no port left after %d: %w", port, cause)
	}
	return port + 1, nil
})

// FailFast gives up on the first conflict and returns the bind error.
var FailFast PortPolicy = PortPolicyFunc(func(_ context.Context, port int, cause error) (int, error) {
	if cause == nil {
		cause = fmt.Errorf("port %d is unavailable", port)
	}
	return 0, cause
})
