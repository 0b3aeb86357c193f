package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
)

// Build bundles every page entrypoint. Shared code (the api client, the
// idle watcher) is split into chunks the page outputs import.
func (p *Pipeline) Build() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entryPoints, err := filepath.Glob(p.config.EntryPointGlob)
	if err != nil {
		return err
	}
	if len(entryPoints) == 0 {
		return fmt.Errorf("no page entrypoints match %s", p.config.EntryPointGlob)
	}

	log.Info().Int("pages", len(entryPoints)).Msg("Building ui assets")

	result := api.Build(api.BuildOptions{
		EntryPoints:       entryPoints,
		Bundle:            true,
		Splitting:         true,
		Write:             true,
		Outdir:            p.config.OutputDir,
		Format:            api.FormatESModule,
		MinifyWhitespace:  p.config.Minify,
		MinifyIdentifiers: p.config.Minify,
		MinifySyntax:      p.config.Minify,
		TreeShaking:       api.TreeShakingTrue,
		Sourcemap:         sourcemap(p.config.SourceMap),
		Metafile:          true,
	})
	if len(result.Errors) > 0 {
		for _, msg := range result.Errors {
			log.Error().Str("error", msg.Text).Msg("esbuild error")
		}
		return errors.New("esbuild failed")
	}

	if err := os.WriteFile(p.config.MetafilePath, []byte(result.Metafile), 0600); err != nil {
		return err
	}

	var meta metafile
	if err := json.Unmarshal([]byte(result.Metafile), &meta); err != nil {
		return err
	}
	p.meta = &meta

	return nil
}

// scripts resolves the ordered script list for a page entrypoint: the
// entry chunk first, then its transitive imports.
func (p *Pipeline) scripts(entry string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.meta == nil {
		return nil, errors.New("assets not built yet")
	}

	for outputPath, out := range p.meta.Outputs {
		if out.EntryPoint != entry {
			continue
		}

		paths := []string{"/" + outputPath}
		seen := map[string]bool{outputPath: true}
		queue := out.Imports
		for len(queue) > 0 {
			imp := queue[0].Path
			queue = queue[1:]
			if seen[imp] {
				continue
			}
			seen[imp] = true
			paths = append(paths, "/"+imp)
			if c, ok := p.meta.Outputs[imp]; ok {
				queue = append(queue, c.Imports...)
			}
		}

		return paths, nil
	}

	return nil, fmt.Errorf("no built output for entrypoint %s", entry)
}

// Handler renders the page template for one entrypoint. contextFn
// supplies per-request template context and may be nil.
func (p *Pipeline) Handler(templateName, title, entry string, contextFn func(ctx context.Context) any) (http.HandlerFunc, error) {
	if p.tmpl == nil {
		return nil, errors.New("no page template loaded")
	}

	return func(w http.ResponseWriter, r *http.Request) {
		scripts, err := p.scripts(entry)
		if err != nil {
			log.Error().Err(err).Str("entry", entry).Msg("Failed to resolve page scripts")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		data := map[string]any{
			"Title":   title,
			"Scripts": scripts,
		}
		if contextFn != nil {
			data["Context"] = contextFn(r.Context())
		}

		if err := p.tmpl.ExecuteTemplate(w, templateName, data); err != nil {
			log.Error().Err(err).Msg("Failed to render page template")
		}
	}, nil
}

func sourcemap(enabled bool) api.SourceMap {
	if enabled {
		return api.SourceMapLinked
	}
	return api.SourceMapNone
}
