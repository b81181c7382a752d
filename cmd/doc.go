// # Available Commands
//
//   - serve: build into a temporary directory, serve it and live reload
//     browsers on every rebuild
//   - build: build the site once into a destination directory
//   - version: print build information
//
// # Command Examples
//
//	// Serve the current directory on the default port
//	folio serve
//
//	// Serve ./site, pick the next free port on conflicts, open the browser
//	folio serve ./site --port-strategy increment --open
//
//	// Build for deployment
//	folio build ./site --dest dist
package cmd
