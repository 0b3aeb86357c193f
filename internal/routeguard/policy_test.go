package routeguard

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fableden/fableden/internal/models"
)

func parent() *Visitor {
	return &Visitor{Role: models.RoleParent, Email: "parent@example.com"}
}

func child() *Visitor {
	return &Visitor{Role: models.RoleChild}
}

func TestPolicy_PublicRoutes(t *testing.T) {
	p := DefaultPolicy()

	t.Run("public routes allowed without a session", func(t *testing.T) {
		for _, path := range []string{"/", "/login", "/register", "/forgot-password", "/reset-password", "/about", "/contact", "/shared/3QXSSbceTf"} {
			d := p.Evaluate(path, nil)
			require.True(t, d.Allow, "expected %s to be public", path)
		}
	})

	t.Run("root matches exactly, not as a prefix", func(t *testing.T) {
		d := p.Evaluate("/dashboard", nil)
		require.False(t, d.Allow)
	})

	t.Run("public prefixes match whole segments", func(t *testing.T) {
		require.True(t, p.Evaluate("/login/help", nil).Allow)
		require.False(t, p.Evaluate("/loginx", nil).Allow)
	})
}

func TestPolicy_BypassRoutes(t *testing.T) {
	p := DefaultPolicy()

	// API and asset requests skip the guard for every visitor
	for _, path := range []string{"/api/stories", "/public/app.js", "/healthz", "/favicon.ico"} {
		require.True(t, p.Evaluate(path, nil).Allow, "expected %s to bypass", path)
		require.True(t, p.Evaluate(path, child()).Allow, "expected %s to bypass", path)
	}
}

func TestPolicy_UnauthenticatedRedirect(t *testing.T) {
	p := DefaultPolicy()

	for _, path := range []string{"/dashboard", "/kid-dashboard", "/profile", "/settings", "/create-story"} {
		d := p.Evaluate(path, nil)
		require.False(t, d.Allow)
		require.Equal(t, "/login", d.Target, "path %s", path)
	}
}

func TestPolicy_AuthEntryRedirect(t *testing.T) {
	p := DefaultPolicy()

	t.Run("signed-in parent leaves login pages for the dashboard", func(t *testing.T) {
		for _, path := range []string{"/login", "/register", "/forgot-password", "/reset-password"} {
			d := p.Evaluate(path, parent())
			require.False(t, d.Allow)
			require.Equal(t, "/dashboard", d.Target, "path %s", path)
		}
	})

	t.Run("signed-in child leaves login pages for the root", func(t *testing.T) {
		d := p.Evaluate("/login", child())
		require.False(t, d.Allow)
		require.Equal(t, "/", d.Target)
	})

	t.Run("non-entry public pages stay reachable when signed in", func(t *testing.T) {
		require.True(t, p.Evaluate("/about", parent()).Allow)
		require.True(t, p.Evaluate("/", child()).Allow)
	})
}

func TestPolicy_RoleRestrictions(t *testing.T) {
	p := DefaultPolicy()

	t.Run("child on parent-only routes lands on root", func(t *testing.T) {
		for _, path := range []string{"/dashboard", "/create-story", "/edit-story/42", "/my-stories", "/profile", "/settings"} {
			d := p.Evaluate(path, child())
			require.False(t, d.Allow, "path %s", path)
			require.Equal(t, "/", d.Target, "child redirect for %s must be the root", path)
		}
	})

	t.Run("parent on the kid dashboard lands on the parent dashboard", func(t *testing.T) {
		d := p.Evaluate("/kid-dashboard", parent())
		require.False(t, d.Allow)
		require.Equal(t, "/dashboard", d.Target)
	})

	t.Run("roles reach their own areas", func(t *testing.T) {
		require.True(t, p.Evaluate("/dashboard", parent()).Allow)
		require.True(t, p.Evaluate("/settings", parent()).Allow)
		require.True(t, p.Evaluate("/kid-dashboard", child()).Allow)
	})

	t.Run("unlisted authenticated routes are allowed for both roles", func(t *testing.T) {
		require.True(t, p.Evaluate("/stories/abc/play", parent()).Allow)
		require.True(t, p.Evaluate("/stories/abc/play", child()).Allow)
	})
}

func TestPolicy_Deterministic(t *testing.T) {
	p := DefaultPolicy()

	// Same inputs, same decision: Evaluate holds no state
	for range 3 {
		d := p.Evaluate("/dashboard", child())
		require.Equal(t, Decision{Target: "/"}, d)
	}
}

func TestLoadPolicy(t *testing.T) {
	t.Run("overrides merge with defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.yaml")
		require.NoError(t, os.WriteFile(path, []byte("login_path: /signin\nchild_only:\n  - /kids\n"), 0600))

		p, err := LoadPolicy(path)
		require.NoError(t, err)
		require.Equal(t, "/signin", p.LoginPath)
		require.Equal(t, []string{"/kids"}, p.ChildOnly)

		// Lists absent from the file keep their defaults
		require.Equal(t, DefaultPolicy().ParentOnly, p.ParentOnly)

		d := p.Evaluate("/dashboard", nil)
		require.Equal(t, "/signin", d.Target)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("login_path: [\n"), 0600))

		_, err := LoadPolicy(path)
		require.Error(t, err)
	})
}

func TestMatchPrefix(t *testing.T) {
	require.True(t, matchPrefix("/profile", "/profile"))
	require.True(t, matchPrefix("/profile", "/profile/avatar"))
	require.False(t, matchPrefix("/profile", "/profiles"))
	require.False(t, matchPrefix("/profile", "/prof"))
}
