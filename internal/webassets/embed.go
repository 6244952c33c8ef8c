package webassets

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed style templates
var embedded embed.FS

const (
	defaultStylePath = "style/default.css"
	pageTemplatePath = "templates/page.html.tmpl"
)

// DefaultStyle returns the style sheet applied when no override is configured.
func DefaultStyle() string {
	b, err := fs.ReadFile(embedded, defaultStylePath)
	if err != nil {
		panic(fmt.Errorf("webassets: %s: %w", defaultStylePath, err))
	}
	return string(b)
}

// PageTemplate returns the page layout source.
func PageTemplate() string {
	b, err := fs.ReadFile(embedded, pageTemplatePath)
	if err != nil {
		panic(fmt.Errorf("webassets: %s: %w", pageTemplatePath, err))
	}
	return string(b)
}
