// Package website serves the HTML pages. Each page is an esbuild
// entrypoint rendered into a shared template; access control is handled
// by the route guard in front of this mux, not here.
package website

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fableden/fableden/internal/assets"
)

// Page maps a URL path to its esbuild entrypoint.
type Page struct {
	Path  string
	Title string
	Entry string
}

// Pages returns the app's page table. Paths here must line up with the
// route guard policy: public pages, parent pages, and kid pages.
func Pages() []Page {
	return []Page{
		{Path: "/", Title: "Fableden", Entry: "ui/pages/index.tsx"},
		{Path: "/login", Title: "Sign in", Entry: "ui/pages/login.tsx"},
		{Path: "/register", Title: "Create account", Entry: "ui/pages/register.tsx"},
		{Path: "/forgot-password", Title: "Forgot password", Entry: "ui/pages/forgot-password.tsx"},
		{Path: "/reset-password", Title: "Reset password", Entry: "ui/pages/reset-password.tsx"},
		{Path: "/about", Title: "About", Entry: "ui/pages/about.tsx"},
		{Path: "/contact", Title: "Contact", Entry: "ui/pages/contact.tsx"},
		{Path: "/shared/{code}", Title: "Shared story", Entry: "ui/pages/shared.tsx"},

		{Path: "/dashboard", Title: "Dashboard", Entry: "ui/pages/dashboard.tsx"},
		{Path: "/create-story", Title: "New story", Entry: "ui/pages/story-editor.tsx"},
		{Path: "/edit-story/{id}", Title: "Edit story", Entry: "ui/pages/story-editor.tsx"},
		{Path: "/my-stories", Title: "My stories", Entry: "ui/pages/my-stories.tsx"},
		{Path: "/profile", Title: "Profile", Entry: "ui/pages/profile.tsx"},
		{Path: "/settings", Title: "Settings", Entry: "ui/pages/settings.tsx"},

		{Path: "/kid-dashboard", Title: "Story time", Entry: "ui/pages/kid-dashboard.tsx"},
		{Path: "/stories/{id}/play", Title: "Story player", Entry: "ui/pages/player.tsx"},
	}
}

// NewMux builds the page mux: static assets under /public plus a handler
// per page. contextFn supplies per-request template context, typically
// the signed-in visitor.
func NewMux(pipeline *assets.Pipeline, contextFn func(ctx context.Context) any) (*http.ServeMux, error) {
	mux := http.NewServeMux()

	mux.Handle("/public/", http.StripPrefix("/public/", http.FileServer(http.Dir("public"))))

	for _, page := range Pages() {
		handler, err := pipeline.Handler("index.html", page.Title, page.Entry, contextFn)
		if err != nil {
			return nil, fmt.Errorf("failed to build page handler for %s: %w", page.Path, err)
		}

		// "/" would otherwise match every unregistered path
		pattern := page.Path
		if pattern == "/" {
			pattern = "/{$}"
		}
		mux.Handle("GET "+pattern, handler)
	}

	return mux, nil
}
