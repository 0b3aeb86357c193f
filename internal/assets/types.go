// Package assets bundles the ui pages with esbuild and renders the
// shared page template with the script tags each page needs.
package assets

import (
	"html/template"
	"sync"
)

// metafile is the subset of esbuild's metafile we need: which output
// chunk each page entrypoint produced, and which shared chunks that
// output imports.
type metafile struct {
	Outputs map[string]chunk `json:"outputs"`
}

type chunk struct {
	EntryPoint string        `json:"entryPoint"`
	Imports    []chunkImport `json:"imports"`
}

type chunkImport struct {
	Path string `json:"path"`
}

// Pipeline owns the esbuild output and the page template. Build runs
// once at startup; Handler reads the cached metafile per request.
type Pipeline struct {
	config Config
	tmpl   *template.Template

	mu   sync.RWMutex
	meta *metafile
}

// NewWithTemplate creates a pipeline that renders pages through the
// template at templatePath.
func NewWithTemplate(config Config, templatePath string) (*Pipeline, error) {
	tmpl, err := template.ParseFiles(templatePath)
	if err != nil {
		return nil, err
	}

	return &Pipeline{config: config, tmpl: tmpl}, nil
}
