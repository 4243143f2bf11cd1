package api

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"time"
)

//go:embed templates/*.html static/*
var assets embed.FS

var templateFuncs = template.FuncMap{
	"clock": func(t time.Time) string {
		return t.Local().Format("15:04")
	},
	"seconds": func(d time.Duration) string {
		return fmt.Sprintf("%.1fs", d.Seconds())
	},
}

// loadTemplates parses the embedded page templates
func loadTemplates() (*template.Template, error) {
	dir, err := fs.Sub(assets, "templates")
	if err != nil {
		return nil, fmt.Errorf("failed to get templates subdirectory: %w", err)
	}
	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(dir, "*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return tmpl, nil
}
