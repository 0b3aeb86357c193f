// Package routeguard decides, for every page navigation, whether to allow
// the request or redirect it, based on the requested path and the
// visitor's session role.
package routeguard

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fableden/fableden/internal/models"
)

// Visitor is the session view the guard needs: just role and identity
// presence. A nil *Visitor means unauthenticated.
type Visitor struct {
	Role  models.Role
	Email string
}

// Decision is the outcome of evaluating a navigation.
type Decision struct {
	Allow  bool
	Target string // redirect target when Allow is false
}

var allow = Decision{Allow: true}

func redirect(target string) Decision {
	return Decision{Target: target}
}

// Policy holds the route lists the guard evaluates against. Prefix lists
// match whole path segments: "/dashboard" matches "/dashboard" and
// "/dashboard/kids" but not "/dashboards".
type Policy struct {
	// Bypass prefixes skip the guard entirely: assets, API, internals.
	Bypass []string `yaml:"bypass"`

	// Public routes are reachable without a session. "/" matches exactly;
	// everything else matches by segment prefix.
	Public []string `yaml:"public"`

	// AuthEntry routes are the login/registration subset of Public: an
	// authenticated visitor landing here is sent to their role's home.
	AuthEntry []string `yaml:"auth_entry"`

	// ParentOnly prefixes redirect child sessions to "/".
	ParentOnly []string `yaml:"parent_only"`

	// ChildOnly prefixes redirect parent sessions to the parent dashboard.
	ChildOnly []string `yaml:"child_only"`

	// LoginPath is where unauthenticated navigations are sent.
	LoginPath string `yaml:"login_path"`
}

// DefaultPolicy returns the route lists shipped with the application.
func DefaultPolicy() *Policy {
	return &Policy{
		Bypass: []string{"/api", "/public", "/assets", "/healthz", "/favicon.ico"},
		Public: []string{
			"/", "/login", "/register", "/forgot-password",
			"/reset-password", "/about", "/contact", "/shared",
		},
		AuthEntry: []string{"/login", "/register", "/forgot-password", "/reset-password"},
		ParentOnly: []string{
			"/dashboard", "/create-story", "/edit-story",
			"/my-stories", "/profile", "/settings",
		},
		ChildOnly: []string{"/kid-dashboard"},
		LoginPath: "/login",
	}
}

// LoadPolicy reads a policy from a YAML file. Lists absent from the file
// keep their defaults.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route policy: %w", err)
	}

	policy := DefaultPolicy()
	if err := yaml.Unmarshal(data, policy); err != nil {
		return nil, fmt.Errorf("failed to parse route policy: %w", err)
	}
	if policy.LoginPath == "" {
		policy.LoginPath = "/login"
	}

	return policy, nil
}

// Evaluate maps (requested path, visitor) to a decision. It is a pure
// function of its inputs.
//
// Order: bypass prefixes, then the public set (redirecting signed-in
// visitors off auth-entry pages), then the unauthenticated redirect, then
// role restriction lists. Explicit list membership wins over generic
// matching; there is no wildcard routing.
func (p *Policy) Evaluate(path string, v *Visitor) Decision {
	if matchAny(p.Bypass, path) {
		return allow
	}

	if p.isPublic(path) {
		if v != nil && matchAny(p.AuthEntry, path) {
			return redirect(v.Role.HomePath())
		}
		return allow
	}

	if v == nil {
		return redirect(p.LoginPath)
	}

	switch v.Role {
	case models.RoleChild:
		// Children always land on the root path, never a child-specific
		// dashboard, when they hit a parent-only prefix.
		if matchAny(p.ParentOnly, path) {
			return redirect("/")
		}
	case models.RoleParent:
		if matchAny(p.ChildOnly, path) {
			return redirect(models.RoleParent.HomePath())
		}
	}

	return allow
}

// isPublic reports whether the path is in the public set. "/" is an exact
// match only; other entries match by segment prefix.
func (p *Policy) isPublic(path string) bool {
	for _, route := range p.Public {
		if route == "/" {
			if path == "/" {
				return true
			}
			continue
		}
		if matchPrefix(route, path) {
			return true
		}
	}
	return false
}

func matchAny(prefixes []string, path string) bool {
	for _, prefix := range prefixes {
		if matchPrefix(prefix, path) {
			return true
		}
	}
	return false
}

// matchPrefix matches whole path segments, so "/profile" does not match
// "/profiles".
func matchPrefix(prefix, path string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
