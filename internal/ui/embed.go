// Package ui serves the bundled status page.
package ui

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed dist/*
var distFS embed.FS

// Handler serves the embedded status page. Unknown paths get index.html so
// deep links still load the page.
func Handler() http.Handler {
	sub, _ := fs.Sub(distFS, "dist")
	fileServer := http.FileServer(http.FS(sub))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path
		if len(name) > 0 && name[0] == '/' {
			name = name[1:]
		}
		if name == "" {
			name = "index.html"
		}
		f, err := sub.Open(name)
		if err != nil {
			http.ServeFileFS(w, r, sub, "index.html")
			return
		}
		_ = f.Close()
		fileServer.ServeHTTP(w, r)
	})
}
