package server

import (
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFiles embed.FS

// pages are the only HTML documents the gateway renders itself. Everything
// else a browser sees comes from the SPA host.
type pages struct {
	errorPage    *template.Template
	redirectPage *template.Template
}

func loadPages() (pages, error) {
	set, err := template.ParseFS(templateFiles, "templates/*.html")
	if err != nil {
		return pages{}, fmt.Errorf("[server loadPages] %w", err)
	}
	p := pages{
		errorPage:    set.Lookup("error.html"),
		redirectPage: set.Lookup("redirect.html"),
	}
	if p.errorPage == nil || p.redirectPage == nil {
		return pages{}, fmt.Errorf("[server loadPages] missing page template")
	}
	return p, nil
}
