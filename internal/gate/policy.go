// ABOUTME: Path policy deciding which requests the gate protects and how
// ABOUTME: Prefix matching is segment-aware so /administrator is not under /admin

package gate

import (
	"path"
	"strings"

	"github.com/2389/folio-gateway/internal/auth"
)

// PathKind classifies a request path for the gate.
type PathKind int

const (
	// PathUnprotected is outside every protected prefix.
	PathUnprotected PathKind = iota
	// PathPublic is inside a protected prefix but handles its own auth.
	PathPublic
	// PathLogin is the login page.
	PathLogin
	// PathPage is a protected HTML page; anonymous visitors are redirected.
	PathPage
	// PathAPI is a protected API route; anonymous callers get 401.
	PathAPI
)

func (k PathKind) String() string {
	switch k {
	case PathPublic:
		return "public"
	case PathLogin:
		return "login"
	case PathPage:
		return "page"
	case PathAPI:
		return "api"
	default:
		return "unprotected"
	}
}

// Policy lists the protected prefixes and the pages the gate redirects to.
type Policy struct {
	LoginPath    string
	LandingPath  string
	PagePrefixes []string
	APIPrefixes  []string
	// PublicPaths match exactly; they bypass the gate, including its CSRF
	// check, so their handlers enforce CSRF on any mutation of a live
	// session themselves.
	PublicPaths  []string
	RequiredRole auth.Role
}

// Default paths.
const (
	DefaultLoginPath   = "/admin/login"
	DefaultLandingPath = "/admin/dashboard"
	AuthAPIPath        = "/api/admin/auth"
)

// DefaultPolicy protects /admin pages and /api/admin routes for admins.
func DefaultPolicy() Policy {
	return Policy{
		LoginPath:    DefaultLoginPath,
		LandingPath:  DefaultLandingPath,
		PagePrefixes: []string{"/admin"},
		APIPrefixes:  []string{"/api/admin"},
		PublicPaths:  []string{AuthAPIPath},
		RequiredRole: auth.RoleAdmin,
	}
}

// Classify returns the kind of urlPath. The path is cleaned first so dot
// segments and doubled slashes cannot step around a prefix. Public paths
// must match the request path as sent; a variant that only cleans to a
// public path stays protected.
func (p Policy) Classify(urlPath string) PathKind {
	clean := cleanPath(urlPath)

	for _, pub := range p.PublicPaths {
		if urlPath == pub {
			return PathPublic
		}
	}
	if clean == p.LoginPath {
		return PathLogin
	}
	for _, prefix := range p.APIPrefixes {
		if hasPathPrefix(clean, prefix) {
			return PathAPI
		}
	}
	for _, prefix := range p.PagePrefixes {
		if hasPathPrefix(clean, prefix) {
			return PathPage
		}
	}
	return PathUnprotected
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}

func hasPathPrefix(p, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}
