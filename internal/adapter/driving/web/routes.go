package web

import (
	"io/fs"
	"net/http"
)

// Handler returns the GUI handler: the single-page app at / and its assets
// under /static/. API routes are registered separately and take precedence.
func Handler() http.Handler {
	staticFS, _ := fs.Sub(StaticFS, "static")

	mux := http.NewServeMux()
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticFS)))
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, staticFS, "index.html")
	})

	return mux
}
