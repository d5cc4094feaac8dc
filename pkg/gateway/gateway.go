// Package gateway wires the Config Store, Router, Composition Engine,
// MCP Session Manager, and protocol adapters into one running data
// plane: it owns one net/http.Server per configured bind address and
// keeps their routing live across config reloads without restarting
// the underlying listeners.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentgateway/agentgateway/pkg/backend"
	"github.com/agentgateway/agentgateway/pkg/cel"
	"github.com/agentgateway/agentgateway/pkg/composer"
	"github.com/agentgateway/agentgateway/pkg/config"
	"github.com/agentgateway/agentgateway/pkg/logger"
	mcpadapter "github.com/agentgateway/agentgateway/pkg/protocol/mcp"
	"github.com/agentgateway/agentgateway/pkg/router"
	"github.com/agentgateway/agentgateway/pkg/session"
)

// runtime is the set of request-serving objects derived from one
// config.Snapshot. A new runtime is built whenever the Store publishes
// a new generation; in-flight requests keep using the runtime captured
// at their start via Gateway.rt.
type runtime struct {
	generation         uint64
	idx                *router.Index
	sessMgr            *session.Manager
	mcpAdapters        map[string]*mcpadapter.Adapter // listener ID -> adapter, for protocol "mcp" listeners
	listenersByAddress map[string][]*config.Listener
}

// Gateway is the top-level server: it owns the bind listeners and
// rebuilds its routing runtime every time the Store publishes a new
// Snapshot.
type Gateway struct {
	store           *config.Store
	routeEngine     *cel.Engine
	visEngine       *cel.Engine
	pool            *router.Pool
	externalBaseURL string
	name, version   string

	rt atomic.Pointer[runtime]

	mu      sync.Mutex
	servers map[string]*http.Server // bind address -> server
}

// New builds a Gateway bound to store. externalBaseURL is the gateway's
// own externally visible base URL, used by the A2A adapter to rewrite
// backend-rooted URLs in agent cards and task payloads.
func New(store *config.Store, externalBaseURL, name, version string) (*Gateway, error) {
	routeEngine, err := cel.NewRouteEngine()
	if err != nil {
		return nil, fmt.Errorf("building route cel engine: %w", err)
	}
	visEngine, err := cel.NewVisibilityEngine()
	if err != nil {
		return nil, fmt.Errorf("building visibility cel engine: %w", err)
	}

	return &Gateway{
		store:           store,
		routeEngine:     routeEngine,
		visEngine:       visEngine,
		pool:            router.NewPool(32, 90*time.Second, func() *http.Client { return &http.Client{} }),
		externalBaseURL: externalBaseURL,
		name:            name,
		version:         version,
		servers:         make(map[string]*http.Server),
	}, nil
}

// Run builds the initial runtime and bind listeners, then blocks until
// ctx is cancelled, rebuilding the runtime and reconciling listeners on
// every subsequent config change.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.reconcile(ctx); err != nil {
		return fmt.Errorf("initial reconcile: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			g.shutdown()
			return ctx.Err()
		case <-g.store.Wait():
			if err := g.reconcile(ctx); err != nil {
				logger.Errorw("config reconcile failed, keeping previous runtime", "error", err)
			}
		}
	}
}

// reconcile rebuilds the runtime from the current Snapshot and starts
// or stops bind listeners to match its bind address set. Listeners for
// addresses that persist across the change are left running: their
// handlers read g.rt.Load() per-request, so routing updates apply
// without a rebind.
func (g *Gateway) reconcile(ctx context.Context) error {
	snap := g.store.Current()
	defer snap.Release()

	rt, err := g.buildRuntime(ctx, snap)
	if err != nil {
		return err
	}
	g.rt.Store(rt)

	g.mu.Lock()
	defer g.mu.Unlock()

	wanted := make(map[string]bool, len(snap.Merged.Binds))
	for _, b := range snap.Merged.Binds {
		wanted[b.Address] = true
		if _, ok := g.servers[b.Address]; ok {
			continue
		}
		g.startListener(b.Address)
	}
	for addr, srv := range g.servers {
		if wanted[addr] {
			continue
		}
		go func(addr string, srv *http.Server) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warnw("error shutting down retired bind listener", "address", addr, "error", err)
			}
		}(addr, srv)
		delete(g.servers, addr)
	}

	return nil
}

// startListener must be called with g.mu held.
func (g *Gateway) startListener(address string) {
	srv := &http.Server{
		Addr:              address,
		Handler:           http.HandlerFunc(g.handlerFor(address)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.servers[address] = srv

	go func() {
		logger.Infow("bind listener starting", "address", address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorw("bind listener exited", "address", address, "error", err)
		}
	}()
}

func (g *Gateway) shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for addr, srv := range g.servers {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("error shutting down bind listener", "address", addr, "error", err)
		}
		cancel()
	}
	g.servers = make(map[string]*http.Server)
}

// buildRuntime indexes snap's merged routing table and constructs a fresh
// Session Manager and, for every "mcp"-protocol listener, a bound MCP
// protocol adapter.
func (g *Gateway) buildRuntime(ctx context.Context, snap *config.Snapshot) (*runtime, error) {
	idx, err := router.BuildIndex(ctx, snap.Merged, g.routeEngine)
	if err != nil {
		return nil, fmt.Errorf("building route index: %w", err)
	}

	targets := map[string]string{}
	for _, b := range snap.Merged.Backends {
		if b.Kind != config.BackendMCP || b.MCP == nil {
			continue
		}
		for k, v := range backend.TargetsFromServers(b.MCP.Servers) {
			targets[k] = v
		}
	}
	invoker := backend.NewMCPInvoker(targets)
	engine := composer.NewEngine(snap.Registry, invoker)
	sessMgr := session.NewManager(snap.Registry, engine, g.visEngine)

	mcpAdapters := make(map[string]*mcpadapter.Adapter)
	for _, l := range snap.Merged.Listeners {
		if l.Protocol != config.ProtocolMCP {
			continue
		}
		mcpAdapters[l.ID] = mcpadapter.NewAdapter(sessMgr, g.name, g.version)
	}

	listenersByID := make(map[string]config.Listener, len(snap.Merged.Listeners))
	for _, l := range snap.Merged.Listeners {
		listenersByID[l.ID] = l
	}
	listenersByAddress := make(map[string][]*config.Listener)
	for _, b := range snap.Merged.Binds {
		for _, lid := range b.ListenerIDs {
			l, ok := listenersByID[lid]
			if !ok {
				continue
			}
			lCopy := l
			listenersByAddress[b.Address] = append(listenersByAddress[b.Address], &lCopy)
		}
	}

	return &runtime{
		generation:         snap.Generation,
		idx:                idx,
		sessMgr:            sessMgr,
		mcpAdapters:        mcpAdapters,
		listenersByAddress: listenersByAddress,
	}, nil
}
