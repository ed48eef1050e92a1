package web

import (
	"embed"
	"html/template"
	"net/http"
)

//go:embed robots.txt
var robotsTxt []byte

//go:embed pages/*.html
var pages embed.FS

// Pages parses the embedded HTML pages.
func Pages() (*template.Template, error) {
	return template.ParseFS(pages, "pages/*.html")
}

// RobotsTxtHandler serves a robots.txt that keeps crawlers off the API.
func RobotsTxtHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(robotsTxt)
	})
}
