package website

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fableden/fableden/internal/models"
	"github.com/fableden/fableden/internal/routeguard"
)

// Every path in the page table must be covered by the default route
// policy: kid pages stay reachable for child sessions, everything else
// bounces them to the root, and only public pages render without a
// session.
func TestPagesCoveredByRoutePolicy(t *testing.T) {
	policy := routeguard.DefaultPolicy()
	child := &routeguard.Visitor{Role: models.RoleChild}
	parent := &routeguard.Visitor{Role: models.RoleParent}

	// Pages a signed-in kid may load. Auth entry pages also redirect a
	// child, to its home rather than as a role restriction.
	kidPages := map[string]bool{
		"/":                  true,
		"/about":             true,
		"/contact":           true,
		"/shared/{code}":     true,
		"/kid-dashboard":     true,
		"/stories/{id}/play": true,
	}
	authEntry := map[string]bool{
		"/login":           true,
		"/register":        true,
		"/forgot-password": true,
		"/reset-password":  true,
	}
	// Pages that render without a session.
	public := map[string]bool{
		"/":                true,
		"/login":           true,
		"/register":        true,
		"/forgot-password": true,
		"/reset-password":  true,
		"/about":           true,
		"/contact":         true,
		"/shared/{code}":   true,
	}

	for _, page := range Pages() {
		t.Run("child visiting "+page.Path, func(t *testing.T) {
			decision := policy.Evaluate(page.Path, child)
			if kidPages[page.Path] {
				require.True(t, decision.Allow)
				return
			}
			require.False(t, decision.Allow, "child may load parent page %s", page.Path)
			require.Equal(t, "/", decision.Target)
		})
	}

	for _, page := range Pages() {
		t.Run("parent visiting "+page.Path, func(t *testing.T) {
			decision := policy.Evaluate(page.Path, parent)
			if page.Path == "/kid-dashboard" || authEntry[page.Path] {
				require.False(t, decision.Allow)
				require.Equal(t, "/dashboard", decision.Target)
				return
			}
			require.True(t, decision.Allow)
		})
	}

	for _, page := range Pages() {
		t.Run("anonymous visiting "+page.Path, func(t *testing.T) {
			decision := policy.Evaluate(page.Path, nil)
			if public[page.Path] {
				require.True(t, decision.Allow)
				return
			}
			require.False(t, decision.Allow)
			require.Equal(t, "/login", decision.Target)
		})
	}
}
