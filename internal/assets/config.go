package assets

// Config controls the esbuild bundling of the ui pages.
type Config struct {
	EntryPointGlob string // page entrypoints, e.g. "ui/pages/*.tsx"
	OutputDir      string // where built chunks land, served under /public
	MetafilePath   string // esbuild metafile, read back to resolve script tags
	Minify         bool
	SourceMap      bool
}

// DefaultConfig returns the configuration for the app's pages. Each page
// under ui/pages is its own entrypoint with shared chunks split out.
func DefaultConfig() Config {
	return Config{
		EntryPointGlob: "ui/pages/*.tsx",
		OutputDir:      "public",
		MetafilePath:   "public/meta.json",
		Minify:         true,
		SourceMap:      true,
	}
}
