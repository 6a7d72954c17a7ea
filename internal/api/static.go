package api

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
)

// staticHandler serves a built frontend. Unknown paths fall back to
// index.html so the client-side router can handle them.
type staticHandler struct {
	dir   string
	files http.Handler
}

func newStaticHandler(dir string) *staticHandler {
	return &staticHandler{dir: dir, files: http.FileServer(http.Dir(dir))}
}

func (h *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + r.URL.Path)
	info, err := os.Stat(filepath.Join(h.dir, filepath.FromSlash(name)))
	if err != nil || info.IsDir() {
		http.ServeFile(w, r, filepath.Join(h.dir, "index.html"))
		return
	}
	h.files.ServeHTTP(w, r)
}
