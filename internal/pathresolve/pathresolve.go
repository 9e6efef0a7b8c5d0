// Package pathresolve derives the deployment base path of a site from the
// location of the current page and joins resource paths onto it.
package pathresolve

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// ErrPathAmbiguous is reported when a location cannot be mapped to a base
// path. Callers receive the root base path ("") alongside it.
var ErrPathAmbiguous = errors.New("ambiguous deployment path")

// DefaultRoutes are the application route names that may appear as the last
// path segment of a page URL.
var DefaultRoutes = []string{"fullstack", "frontend", "backend", "mobile", "devops", "data", "ai"}

// Resolver computes deployment base paths for a fixed set of route names.
type Resolver struct {
	routes map[string]bool
}

// NewResolver creates a Resolver. A nil routes slice selects DefaultRoutes.
func NewResolver(routes []string) *Resolver {
	if routes == nil {
		routes = DefaultRoutes
	}
	r := &Resolver{routes: make(map[string]bool, len(routes))}
	for _, name := range routes {
		name = strings.Trim(strings.TrimSpace(name), "/")
		if name != "" {
			r.routes[name] = true
		}
	}
	return r
}

// IsRoute reports whether segment is a known application route.
func (r *Resolver) IsRoute(segment string) bool {
	return r.routes[segment]
}

// BasePath returns the deployment base path for location, without a
// trailing slash and "" for root deployments. It never fails.
func (r *Resolver) BasePath(location string) string {
	base, _ := r.ResolveBasePath(location)
	return base
}

// ResolveBasePath is BasePath with the reason for degrading to root exposed.
// location may be a bare path or an absolute URL; query and fragment are
// ignored.
//
// When the last segment is a known route or an .html page it names the
// current page and is dropped; otherwise the whole path is the base.
func (r *Resolver) ResolveBasePath(location string) (string, error) {
	p, err := locationPath(location)
	if err != nil {
		return "", err
	}

	var segments []string
	for _, s := range strings.Split(p, "/") {
		switch s {
		case "":
			continue
		case ".", "..":
			return "", fmt.Errorf("%w: dot segment in %q", ErrPathAmbiguous, location)
		}
		segments = append(segments, s)
	}
	if len(segments) == 0 {
		return "", nil
	}

	last := segments[len(segments)-1]
	if r.IsRoute(last) || strings.HasSuffix(strings.ToLower(last), ".html") {
		segments = segments[:len(segments)-1]
	}
	if len(segments) == 0 {
		return "", nil
	}
	return "/" + strings.Join(segments, "/"), nil
}

func locationPath(location string) (string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPathAmbiguous, err)
	}
	if u.Opaque != "" {
		return "", fmt.Errorf("%w: opaque location %q", ErrPathAmbiguous, location)
	}
	// segments are re-emitted in URLs, so keep them escaped
	return u.EscapedPath(), nil
}

// Origin returns scheme://host[:port] of an absolute URL, or "" if location
// has no host.
func Origin(location string) string {
	u, err := url.Parse(strings.TrimSpace(location))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Join appends a resource path to a base, which may be a path ("" for root)
// or an absolute URL. Exactly one slash separates the two.
func Join(base, p string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(p, "/")
}

// NormalizeBase turns a configured base into a form Join can use against an
// origin: absolute URLs lose trailing slashes, anything else becomes a rooted
// clean path ("assets" and "./assets/" both give "/assets", "./" gives "/").
// An empty base stays empty.
func NormalizeBase(base string) string {
	base = strings.TrimSpace(base)
	switch {
	case base == "":
		return ""
	case IsAbsolute(base):
		if t := strings.TrimRight(base, "/"); t != "" && !strings.HasSuffix(t, ":") {
			return t
		}
		return base
	default:
		return path.Clean("/" + base)
	}
}

// IsAbsolute reports whether p already addresses a resource on its own and
// must not be rebased.
func IsAbsolute(p string) bool {
	lower := strings.ToLower(strings.TrimSpace(p))
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "//") ||
		strings.HasPrefix(lower, "data:") ||
		strings.HasPrefix(lower, "blob:")
}
