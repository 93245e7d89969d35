package concept

import "strings"

// Passthrough decides which request paths bypass the rules and call the
// concept operation directly.
//
// Include maps a path to the reason it is safe to expose (typically a
// public query). Exclude lists paths that must always go through
// Requesting.request even if a prefix would include them. A path in
// neither set goes through the rules.
type Passthrough struct {
	Include map[string]string
	Exclude []string
	// Base is stripped from paths before lookup, e.g. "/api".
	Base string
}

// Direct reports whether path is served by a direct concept call.
func (p Passthrough) Direct(path string) bool {
	path = p.normalize(path)
	for _, ex := range p.Exclude {
		if p.normalize(ex) == path {
			return false
		}
	}
	for inc := range p.Include {
		if p.normalize(inc) == path {
			return true
		}
	}
	return false
}

func (p Passthrough) normalize(path string) string {
	if p.Base != "" {
		path = strings.TrimPrefix(path, p.Base)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimSuffix(path, "/")
}
