// Package internal contains the core implementation packages for folio.
//
// # Package Organization
//
//   - build: turns a source tree into a site and rebuilds it on change
//   - config: configuration loading and validation
//   - entity: pages and their publish paths
//   - errors: typed errors and bind failure suggestions
//   - logging: structured logging on log/slog
//   - monitoring: prometheus metrics for builds and live reload sessions
//   - reload: the reload broadcaster shared by the build watcher and sessions
//   - render: templ layouts and atomic output writes
//   - server: the dev server, static file service and live reload endpoint
//   - version: build information
//   - watcher: file system monitoring with debouncing
//
// # Flow
//
// The server binds a port, recreates the temporary output directory and
// starts the build watcher. Every completed build publishes on the reload
// broadcaster, and each browser connected to /live_reload receives
// "reload" over its websocket.
package internal
