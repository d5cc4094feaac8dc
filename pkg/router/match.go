// Package router implements bind -> listener -> route -> backend
// resolution and the phased policy chain that runs against a matched
// route, per the gateway's request-handling model.
package router

import (
	"regexp"
	"sort"

	"github.com/agentgateway/agentgateway/pkg/config"
)

// Request is the subset of an inbound request the matcher and policy
// chain need, independent of protocol adapter (HTTP, MCP, A2A).
type Request struct {
	Host    string
	Path    string
	Method  string
	Headers map[string]string
}

// candidateKind disambiguates path-match specificity per the match
// precedence: exact > prefix-longer > prefix-shorter > regex.
type candidateKind int

const (
	kindExact candidateKind = iota
	kindPrefix
	kindRegex
)

// MatchRoute returns the first route in routes whose constraints are
// all satisfied by req. It is a plain linear walk: specificity-based
// disambiguation (exact > prefix-longer > prefix-shorter > regex) is
// applied once by BuildIndex via SortBySpecificity before routes ever
// reach here, so "first match" at this layer already reflects match
// priority, not raw declaration order.
func MatchRoute(routes []config.Route, req Request) (*config.Route, bool) {
	for i := range routes {
		if routeMatches(&routes[i], req) {
			return &routes[i], true
		}
	}
	return nil, false
}

func routeMatches(r *config.Route, req Request) bool {
	m := r.Match
	if m.Host != "" && m.Host != req.Host {
		return false
	}
	if m.Path != nil && !pathMatches(*m.Path, req.Path) {
		return false
	}
	if len(m.Methods) > 0 && !methodAllowed(m.Methods, req.Method) {
		return false
	}
	for _, h := range m.Headers {
		if !headerMatches(h, req.Headers) {
			return false
		}
	}
	return true
}

func pathMatches(p config.PathMatch, path string) bool {
	switch {
	case p.Exact != "":
		return p.Exact == path
	case p.Prefix != "":
		return len(path) >= len(p.Prefix) && path[:len(p.Prefix)] == p.Prefix
	case p.Regex != "":
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return false
		}
		return re.MatchString(path)
	default:
		return true
	}
}

func methodAllowed(methods []string, method string) bool {
	for _, m := range methods {
		if m == method {
			return true
		}
	}
	return false
}

func headerMatches(h config.HeaderMatch, headers map[string]string) bool {
	v, ok := headers[h.Name]
	if !ok {
		return false
	}
	if h.Exact != "" {
		return v == h.Exact
	}
	if h.Regex != "" {
		re, err := regexp.Compile(h.Regex)
		if err != nil {
			return false
		}
		return re.MatchString(v)
	}
	return true
}

// pathSpecificity ranks a PathMatch for disambiguation when more than one
// route could otherwise claim equal priority outside declared order, per
// exact > prefix-longer > prefix-shorter > regex.
func pathSpecificity(p *config.PathMatch) (candidateKind, int) {
	if p == nil {
		return kindRegex, 0
	}
	switch {
	case p.Exact != "":
		return kindExact, len(p.Exact)
	case p.Prefix != "":
		return kindPrefix, len(p.Prefix)
	default:
		return kindRegex, 0
	}
}

// SortBySpecificity orders routes by path-match specificity
// (exact > prefix-longer > prefix-shorter > regex), stable on ties so
// declaration order still breaks them. Callers that want strict
// specificity-based resolution instead of first-match-in-declared-order
// semantics can pre-sort with this before calling MatchRoute.
func SortBySpecificity(routes []config.Route) []config.Route {
	sorted := make([]config.Route, len(routes))
	copy(sorted, routes)
	sort.SliceStable(sorted, func(i, j int) bool {
		ki, li := pathSpecificity(sorted[i].Match.Path)
		kj, lj := pathSpecificity(sorted[j].Match.Path)
		if ki != kj {
			return ki < kj
		}
		return li > lj
	})
	return sorted
}
