package web

import (
	_ "embed"
	"net/http"
	"os"
)

//go:embed dashboard.html
var embeddedDashboard []byte

// Dashboard serves the dashboard page. A file at path overrides the built-in page.
func Dashboard(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		if path != "" {
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				http.ServeFile(w, r, path)
				return
			}
		}
		_, _ = w.Write(embeddedDashboard)
	}
}
