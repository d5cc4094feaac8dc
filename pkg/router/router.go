package router

import (
	"context"
	"fmt"

	"github.com/agentgateway/agentgateway/pkg/cel"
	"github.com/agentgateway/agentgateway/pkg/config"
	"github.com/agentgateway/agentgateway/pkg/gwerrors"
	"github.com/agentgateway/agentgateway/pkg/router/policy"
)

// Selection is the outcome of resolving a request against a Snapshot:
// the matched listener, route, and backend, plus the built policy
// chain ready to run.
type Selection struct {
	Listener *config.Listener
	Route    *config.Route
	Backend  *config.Backend
	Chain    *policy.Chain
}

// Index is a pre-built, read-only view over one config.Document's
// binds/listeners/routes/backends, indexed for the request hot path.
// It is rebuilt whenever a new Snapshot is published; in-flight
// requests keep using the Index captured at their start.
type Index struct {
	bindsByAddress    map[string][]*config.Listener
	listenersByID     map[string]*config.Listener
	routesByID        map[string]*config.Route
	backendsByID      map[string]*config.Backend
	routesByListener  map[string][]*config.Route
	chains            map[string]*policy.Chain // keyed by route ID
}

// BuildIndex indexes doc's resources and compiles every route's policy
// chain. routeEngine compiles authz/header-transform/rate-limit
// expressions; ctx is used only to start JWKS caches for authn
// policies encountered during indexing.
func BuildIndex(ctx context.Context, doc *config.Document, routeEngine *cel.Engine) (*Index, error) {
	idx := &Index{
		bindsByAddress:   make(map[string][]*config.Listener),
		listenersByID:    make(map[string]*config.Listener),
		routesByID:       make(map[string]*config.Route),
		backendsByID:     make(map[string]*config.Backend),
		routesByListener: make(map[string][]*config.Route),
		chains:           make(map[string]*policy.Chain),
	}

	for i := range doc.Listeners {
		l := &doc.Listeners[i]
		idx.listenersByID[l.ID] = l
	}
	for i := range doc.Routes {
		r := &doc.Routes[i]
		idx.routesByID[r.ID] = r
	}
	for i := range doc.Backends {
		b := &doc.Backends[i]
		idx.backendsByID[b.ID] = b
	}
	for _, b := range doc.Binds {
		for _, lid := range b.ListenerIDs {
			l, ok := idx.listenersByID[lid]
			if !ok {
				return nil, gwerrors.NewInvalidRequestError(fmt.Sprintf("bind %q references unknown listener %q", b.Address, lid), nil)
			}
			idx.bindsByAddress[b.Address] = append(idx.bindsByAddress[b.Address], l)
		}
	}
	for _, l := range doc.Listeners {
		for _, rid := range l.RouteIDs {
			r, ok := idx.routesByID[rid]
			if !ok {
				return nil, gwerrors.NewInvalidRequestError(fmt.Sprintf("listener %q references unknown route %q", l.ID, rid), nil)
			}
			idx.routesByListener[l.ID] = append(idx.routesByListener[l.ID], r)
		}
	}
	// §4.2 orders path matches exact > prefix-longer > prefix-shorter >
	// regex; SortBySpecificity applies that ordering once per listener
	// here, stably, so declaration order still breaks ties between routes
	// of equal specificity and MatchRoute's "first match wins" walk sees
	// routes in final match-priority order rather than raw config order.
	for lid, routes := range idx.routesByListener {
		deref := make([]config.Route, len(routes))
		for i, r := range routes {
			deref[i] = *r
		}
		sorted := SortBySpecificity(deref)
		ptrs := make([]*config.Route, len(sorted))
		for i := range sorted {
			ptrs[i] = idx.routesByID[sorted[i].ID]
		}
		idx.routesByListener[lid] = ptrs
	}

	for i := range doc.Routes {
		r := &doc.Routes[i]
		if _, ok := idx.backendsByID[r.BackendRef]; !ok {
			return nil, gwerrors.NewInvalidRequestError(fmt.Sprintf("route %q references unknown backend %q", r.ID, r.BackendRef), nil)
		}
		policies, err := buildPolicies(ctx, routeEngine, r.Policies)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", r.ID, err)
		}
		idx.chains[r.ID] = policy.NewChain(policies)
	}

	return idx, nil
}

func buildPolicies(ctx context.Context, engine *cel.Engine, policies []config.Policy) ([]policy.Policy, error) {
	out := make([]policy.Policy, 0, len(policies))
	for _, p := range policies {
		switch p.Kind {
		case config.PolicyAuthn:
			a, err := policy.NewAuthn(ctx, p)
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		case config.PolicyAuthz:
			a, err := policy.NewAuthz(engine, p)
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		case config.PolicyHeaderTransform:
			h, err := policy.NewHeaderTransform(engine, p)
			if err != nil {
				return nil, err
			}
			out = append(out, h)
		case config.PolicyRateLimit:
			rl, err := policy.NewRateLimit(engine, p)
			if err != nil {
				return nil, err
			}
			out = append(out, rl)
		case config.PolicyRetry:
			out = append(out, policy.NewRetry(p))
		default:
			return nil, gwerrors.NewInvalidRequestError(fmt.Sprintf("unknown policy kind %q", p.Kind), nil)
		}
	}
	return out, nil
}

// Resolve selects (listener, route, backend) for a request arriving on
// bindAddress, per §4.2: listeners indexed by bind address, then the
// first matching route within that listener's route set wins.
func (idx *Index) Resolve(bindAddress string, req Request) (*Selection, error) {
	listeners, ok := idx.bindsByAddress[bindAddress]
	if !ok || len(listeners) == 0 {
		return nil, gwerrors.NewNotFoundError(fmt.Sprintf("no listener bound to %q", bindAddress), nil)
	}

	for _, l := range listeners {
		routes := idx.routesByListener[l.ID]
		route, matched := MatchRoute(routes, req)
		if !matched {
			continue
		}
		backend := idx.backendsByID[route.BackendRef]
		return &Selection{
			Listener: l,
			Route:    route,
			Backend:  backend,
			Chain:    idx.chains[route.ID],
		}, nil
	}

	return nil, gwerrors.NewNotFoundError(fmt.Sprintf("no route matched %s %s", req.Method, req.Path), nil)
}

// RunRequestPhases executes the request-headers and request-body phases
// in order, short-circuiting on the first failing policy per phase but
// still returning so the caller can run response phases regardless.
func RunRequestPhases(ctx context.Context, chain *policy.Chain, mctx *policy.MatchContext) error {
	if err := chain.RunPhase(ctx, config.PhaseRequestHeaders, mctx); err != nil {
		return err
	}
	return chain.RunPhase(ctx, config.PhaseRequestBody, mctx)
}

// RunResponsePhases executes the response-headers and response-body
// phases. It always runs both, per §4.2's "later phases still run for
// the failure response" rule, and returns the first error encountered
// (if any) without skipping the second phase.
func RunResponsePhases(ctx context.Context, chain *policy.Chain, mctx *policy.MatchContext) error {
	errHeaders := chain.RunPhase(ctx, config.PhaseResponseHeaders, mctx)
	errBody := chain.RunPhase(ctx, config.PhaseResponseBody, mctx)
	if errHeaders != nil {
		return errHeaders
	}
	return errBody
}
