package bridge

import (
	"net/http"
	"os"
	"path/filepath"
)

// spaHandler serves static files if they exist, otherwise falls back to index.html
type spaHandler struct {
	root string
	fs   http.Handler
}

func (h spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	index := filepath.Join(h.root, "index.html")

	path := r.URL.Path
	if path == "" || path == "/" {
		http.ServeFile(w, r, index)
		return
	}

	fullPath := filepath.Join(h.root, filepath.FromSlash(filepath.Clean("/"+path)))
	if info, err := os.Stat(fullPath); err == nil && !info.IsDir() {
		h.fs.ServeHTTP(w, r)
		return
	}

	// client side routes
	http.ServeFile(w, r, index)
}
