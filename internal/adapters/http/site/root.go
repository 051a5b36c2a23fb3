// Package site serves the embedded marketing pages.
package site

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Register attaches the landing page, the unsubscribe page and their assets.
func Register(_ context.Context, r chi.Router) {
	if r == nil {
		panic("router is nil")
	}
	files := http.FileServer(FS())

	r.Get("/", page("index.html"))
	r.Get("/unsubscribe", page("unsubscribe.html"))
	r.Handle("/assets/*", files)
}

// page serves one embedded HTML file regardless of the request path.
func page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := FS().Open(name)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer func() { _ = f.Close() }()
		st, err := f.Stat()
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		http.ServeContent(w, r, name, st.ModTime(), f)
	}
}
