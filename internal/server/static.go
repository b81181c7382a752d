package server

import (
	"net/http"
	"path"
	"strings"
)

// StaticService serves files from a directory and hands every request it
// cannot answer to a fallback handler.
type StaticService struct {
	root     http.FileSystem
	fallback http.Handler
}

// NewStaticService serves dir, delegating misses to fallback.
func NewStaticService(dir string, fallback http.Handler) *StaticService {
	return &StaticService{
		root:     http.Dir(dir),
		fallback: fallback,
	}
}

// ServeHTTP serves GET and HEAD requests for regular files and directory
// index.html files. Content types come from the extension or, for files
// without one, from sniffing the content.
func (s *StaticService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.fallback.ServeHTTP(w, r)
		return
	}

	name := r.URL.Path
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	name = path.Clean(name)

	f, err := s.root.Open(name)
	if err != nil {
		s.fallback.ServeHTTP(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.fallback.ServeHTTP(w, r)
		return
	}

	if info.IsDir() {
		index, err := s.root.Open(path.Join(name, "index.html"))
		if err != nil {
			s.fallback.ServeHTTP(w, r)
			return
		}
		defer index.Close()

		info, err = index.Stat()
		if err != nil {
			s.fallback.ServeHTTP(w, r)
			return
		}
		f = index
	}

	if !info.Mode().IsRegular() {
		s.fallback.ServeHTTP(w, r)
		return
	}

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
