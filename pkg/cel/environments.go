package cel

import "github.com/google/cel-go/cel"

// requestVars describes the request-scoped variables exposed to route
// match, authz, header-transform, and rate-limit-key expressions.
var requestVars = []cel.EnvOption{
	cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
	cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
	cel.Variable("claims", cel.MapType(cel.StringType, cel.DynType)),
}

// NewRouteEngine builds the Engine used to compile route match
// expressions, authz predicates, header-transform values, and
// rate-limit-key expressions. All four share the same request/headers/
// claims variable set described in the router's policy design.
func NewRouteEngine() (*Engine, error) {
	return NewEngine(requestVars...)
}

// NewVisibilityEngine builds the Engine used to compile tool-visibility
// predicates evaluated by the session manager's tools/list and tools/call
// handlers. Visibility expressions see the caller's identity claims and
// the tool's own metadata.
func NewVisibilityEngine() (*Engine, error) {
	return NewEngine(
		cel.Variable("claims", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("tool", cel.MapType(cel.StringType, cel.DynType)),
	)
}
