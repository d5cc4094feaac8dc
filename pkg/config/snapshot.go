package config

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/agentgateway/agentgateway/pkg/gwerrors"
	"github.com/agentgateway/agentgateway/pkg/logger"
	"github.com/agentgateway/agentgateway/pkg/registry"
)

// Snapshot is one immutable, fully-merged, fully-validated view of the
// gateway's configuration: the whole-resource merge of the static,
// local, and xDS Documents currently in effect, plus a monotonically
// increasing Generation assigned at publication.
//
// refs starts at 1, representing the Store's own hold on the snapshot
// while it is current. When a newer generation is published, the Store
// drops its hold with Release; the snapshot is then retired (onDrain
// runs) once every in-flight request that called Retain has matched it
// with a Release, so a request holding a now-superseded Snapshot always
// finishes against a consistent view.
type Snapshot struct {
	Generation uint64
	Merged     *Document
	Registry   *registry.Resolved

	refs    int64
	onDrain func()
}

// Retain increments the snapshot's reference count; callers on the
// request hot path must Retain before using a Snapshot and Release when
// done.
func (s *Snapshot) Retain() { atomic.AddInt64(&s.refs, 1) }

// Release decrements the reference count, running the retirement
// callback once it reaches zero.
func (s *Snapshot) Release() {
	if atomic.AddInt64(&s.refs, -1) == 0 && s.onDrain != nil {
		s.onDrain()
	}
}

// merge combines static, local, and xDS Documents into one, with xDS
// overriding local overriding static, whole-resource (not field-level)
// per resource ID/name.
func merge(static, local, xds *Document) *Document {
	out := &Document{}

	out.Admin = firstNonNil(xds.adminOf(), local.adminOf(), static.adminOf())

	binds := map[string]Bind{}
	listeners := map[string]Listener{}
	routes := map[string]Route{}
	backends := map[string]Backend{}

	for _, doc := range []*Document{static, local, xds} {
		if doc == nil {
			continue
		}
		for _, b := range doc.Binds {
			binds[b.Address] = b
		}
		for _, l := range doc.Listeners {
			listeners[l.ID] = l
		}
		for _, r := range doc.Routes {
			routes[r.ID] = r
		}
		for _, b := range doc.Backends {
			backends[b.ID] = b
		}
	}

	out.Binds = mapValues(binds)
	out.Listeners = mapValues(listeners)
	out.Routes = mapValues(routes)
	out.Backends = mapValues(backends)
	out.Registry = mergeRegistry(static, local, xds)

	return out
}

func (d *Document) adminOf() *Admin {
	if d == nil {
		return nil
	}
	return d.Admin
}

func firstNonNil(candidates ...*Admin) *Admin {
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}

func mapValues[T any](m map[string]T) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func mergeRegistry(docs ...*Document) *registry.Document {
	schemas := map[string]registry.Schema{}
	servers := map[string]registry.Server{}
	tools := map[string]registry.Tool{}
	agents := map[string]registry.Agent{}
	rest := map[string]json.RawMessage{}
	var version registry.SchemaVersion

	for _, d := range docs {
		if d == nil || d.Registry == nil {
			continue
		}
		if d.Registry.SchemaVersion != "" {
			version = d.Registry.SchemaVersion
		}
		for _, s := range d.Registry.Schemas {
			schemas[s.Ref()] = s
		}
		for _, s := range d.Registry.Servers {
			servers[s.Name] = s
		}
		for _, t := range d.Registry.Tools {
			tools[t.Name] = t
		}
		for _, a := range d.Registry.Agents {
			agents[a.Name] = a
		}
		for k, v := range d.Registry.Rest {
			rest[k] = v
		}
	}

	return &registry.Document{
		SchemaVersion: version,
		Schemas:       mapValues(schemas),
		Servers:       mapValues(servers),
		Tools:         mapValues(tools),
		Agents:        mapValues(agents),
		Rest:          rest,
	}
}

// Validate checks structural and semantic correctness of doc: every
// referenced listener/route/backend ID resolves, and the registry
// resolves cleanly (no duplicate tool names, no unresolved $refs, no
// composition cycles).
func Validate(doc *Document) (*registry.Resolved, error) {
	listenerIDs := map[string]bool{}
	for _, l := range doc.Listeners {
		if l.ID == "" {
			return nil, gwerrors.NewValidationError("listener missing id", nil)
		}
		listenerIDs[l.ID] = true
	}
	for _, b := range doc.Binds {
		for _, lid := range b.ListenerIDs {
			if !listenerIDs[lid] {
				return nil, gwerrors.NewValidationError(fmt.Sprintf("bind %q references unknown listener %q", b.Address, lid), nil)
			}
		}
	}

	backendIDs := map[string]bool{}
	for _, b := range doc.Backends {
		if b.ID == "" {
			return nil, gwerrors.NewValidationError("backend missing id", nil)
		}
		backendIDs[b.ID] = true
	}

	routeIDs := map[string]bool{}
	for _, r := range doc.Routes {
		if r.ID == "" {
			return nil, gwerrors.NewValidationError("route missing id", nil)
		}
		routeIDs[r.ID] = true
		if !backendIDs[r.BackendRef] {
			return nil, gwerrors.NewValidationError(fmt.Sprintf("route %q references unknown backend %q", r.ID, r.BackendRef), nil)
		}
	}
	for _, l := range doc.Listeners {
		for _, rid := range l.RouteIDs {
			if !routeIDs[rid] {
				return nil, gwerrors.NewValidationError(fmt.Sprintf("listener %q references unknown route %q", l.ID, rid), nil)
			}
		}
	}

	var resolved *registry.Resolved
	if doc.Registry != nil {
		r, err := registry.Resolve(doc.Registry)
		if err != nil {
			return nil, err
		}
		resolved = r
	} else {
		resolved = &registry.Resolved{}
	}

	return resolved, nil
}

// Store holds the current Snapshot and publishes new generations via
// broadcast: a closed channel signals every waiter that a new Snapshot
// is available: swap-and-signal over a mutex-guarded pointer rather than
// a fan-out channel per subscriber.
type Store struct {
	mu      sync.Mutex
	current *Snapshot
	notify  chan struct{}

	static, local, xds *Document
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{notify: make(chan struct{})}
}

// Current returns the active Snapshot, retained for the caller; the
// caller must call Release when done with it.
func (s *Store) Current() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.Retain()
	}
	return s.current
}

// Wait returns a channel that closes the next time a new Snapshot is
// published.
func (s *Store) Wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notify
}

// SetSource replaces the Document for the given Source and republishes
// a merged, validated Snapshot. The previous Snapshot is released once
// every in-flight request holding it has called Release (refcounted
// graceful drain).
func (s *Store) SetSource(source Source, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch source {
	case SourceStatic:
		s.static = doc
	case SourceLocal:
		s.local = doc
	case SourceXDS:
		s.xds = doc
	default:
		return gwerrors.NewInvalidRequestError(fmt.Sprintf("unknown config source %d", source), nil)
	}

	merged := merge(s.static, s.local, s.xds)
	resolved, err := Validate(merged)
	if err != nil {
		logger.Warnw("config snapshot rejected", "source", source.String(), "accepted", false, "reason", err.Error())
		return err
	}

	prev := s.current
	gen := uint64(1)
	if prev != nil {
		gen = prev.Generation + 1
	}

	next := &Snapshot{
		Generation: gen,
		Merged:     merged,
		Registry:   resolved,
		refs:       1,
		onDrain:    func() { logger.Debugw("config snapshot retired", "generation", gen) },
	}

	s.current = next
	logger.Infow("config snapshot published", "generation", gen, "source", source.String(), "accepted", true)
	if prev != nil {
		// Drop the Store's own hold; prev is fully retired once every
		// in-flight request still holding it (via Retain) has released.
		prev.Release()
	}
	close(s.notify)
	s.notify = make(chan struct{})

	return nil
}
