// Package xds implements an Aggregated Discovery Service (ADS) client:
// a single bidirectional gRPC stream over which the gateway discovers
// Bind/Listener/Route/Backend/Registry resources, with resource-version
// nonce ACK/NACK and exponential-backoff reconnect.
package xds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/agentgateway/agentgateway/pkg/config"
	"github.com/agentgateway/agentgateway/pkg/logger"
)

// adsMethod is the streaming RPC method name, shaped after Envoy's ADS
// but scoped to this gateway's own resource types rather than
// envoyproxy/go-control-plane's xDS resource set.
const adsMethod = "/agentgateway.config.v1.AggregatedDiscoveryService/StreamResources"

// TypeURL identifies which resource collection a discovery
// request/response carries.
type TypeURL string

const (
	TypeBinds     TypeURL = "type.googleapis.com/agentgateway.config.v1.Bind"
	TypeListeners TypeURL = "type.googleapis.com/agentgateway.config.v1.Listener"
	TypeRoutes    TypeURL = "type.googleapis.com/agentgateway.config.v1.Route"
	TypeBackends  TypeURL = "type.googleapis.com/agentgateway.config.v1.Backend"
	TypeRegistry  TypeURL = "type.googleapis.com/agentgateway.config.v1.Registry"
)

var allTypes = []TypeURL{TypeBinds, TypeListeners, TypeRoutes, TypeBackends, TypeRegistry}

// Client maintains one ADS stream against a control plane, applying
// accepted resources into a config.Store's SourceXDS slot and NACKing
// updates that fail validation.
type Client struct {
	target   string
	nodeID   string
	store    *config.Store
	dialOpts []grpc.DialOption

	nonces   map[TypeURL]string
	versions map[TypeURL]string

	// latest holds the most recently accepted partial Document for each
	// type_url. Every ADS response carries only one collection, but the
	// Store's SourceXDS slot is a full replace rather than a per-type
	// merge (SetSource swaps the whole xDS Document), so accepting a new
	// type_url must not discard the others already received in this
	// session.
	latest map[TypeURL]*config.Document
}

// NewClient builds an ADS Client dialing target (a grpc dial target,
// e.g. "dns:///control-plane:18000") and identifying itself as nodeID.
func NewClient(target, nodeID string, store *config.Store) *Client {
	return &Client{
		target: target,
		nodeID: nodeID,
		store:  store,
		dialOpts: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		},
		nonces:   make(map[TypeURL]string),
		versions: make(map[TypeURL]string),
		latest:   make(map[TypeURL]*config.Document),
	}
}

// Run connects and streams until ctx is cancelled, reconnecting with
// exponential backoff (base 1s, cap 30s, the backoff library's default
// randomized jitter) on every disconnect.
func (c *Client) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(time.Second),
		backoff.WithMaxInterval(30*time.Second),
	)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			logger.Warnw("xds stream disconnected, reconnecting", "error", err)
		} else {
			// A clean stream close still warrants a backoff pause before
			// resubscribing, so the gateway doesn't hot-loop against a
			// control plane that is rejecting every session.
			bo.Reset()
		}

		wait := bo.NextBackOff()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	conn, err := grpc.NewClient(c.target, c.dialOpts...)
	if err != nil {
		return fmt.Errorf("dialing control plane: %w", err)
	}
	defer conn.Close()

	stream, err := conn.NewStream(ctx, &grpc.StreamDesc{StreamName: "StreamResources", ClientStreams: true, ServerStreams: true}, adsMethod)
	if err != nil {
		return fmt.Errorf("opening ads stream: %w", err)
	}

	for _, t := range allTypes {
		if err := c.sendRequest(stream, t, "", ""); err != nil {
			return err
		}
	}

	for {
		resp, err := recvResponse(stream)
		if err != nil {
			if errors.Is(err, io.EOF) {
				// The control plane closed the stream cleanly.
				return nil
			}
			return fmt.Errorf("receiving discovery response: %w", err)
		}

		if err := c.apply(resp); err != nil {
			logger.Errorw("rejecting xds update", "type_url", resp.TypeURL, "error", err)
			if sendErr := c.sendRequest(stream, TypeURL(resp.TypeURL), c.versions[TypeURL(resp.TypeURL)], err.Error()); sendErr != nil {
				return sendErr
			}
			continue
		}

		c.nonces[TypeURL(resp.TypeURL)] = resp.Nonce
		c.versions[TypeURL(resp.TypeURL)] = resp.VersionInfo
		if err := c.sendRequest(stream, TypeURL(resp.TypeURL), resp.VersionInfo, ""); err != nil {
			return err
		}
	}
}

// discoveryResponse is the decoded shape of one ADS response, carried
// over the wire as a structpb.Struct rather than a generated protobuf
// message (see DESIGN.md for why).
type discoveryResponse struct {
	VersionInfo string
	TypeURL     string
	Nonce       string
	Resources   []*structpb.Struct
}

func (c *Client) sendRequest(stream grpc.ClientStream, typeURL TypeURL, versionInfo, errorDetail string) error {
	req, err := structpb.NewStruct(map[string]any{
		"version_info":   versionInfo,
		"node":            map[string]any{"id": c.nodeID},
		"type_url":        string(typeURL),
		"response_nonce":  c.nonces[typeURL],
		"error_detail":    errorDetail,
	})
	if err != nil {
		return fmt.Errorf("building discovery request: %w", err)
	}
	return stream.SendMsg(req)
}

func recvResponse(stream grpc.ClientStream) (*discoveryResponse, error) {
	msg := &structpb.Struct{}
	if err := stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	fields := msg.GetFields()
	resp := &discoveryResponse{
		VersionInfo: fields["version_info"].GetStringValue(),
		TypeURL:     fields["type_url"].GetStringValue(),
		Nonce:       fields["nonce"].GetStringValue(),
	}
	for _, v := range fields["resources"].GetListValue().GetValues() {
		if s := v.GetStructValue(); s != nil {
			resp.Resources = append(resp.Resources, s)
		}
	}
	return resp, nil
}

// apply decodes resp's resources into their config type, records it as
// the latest known state for resp's type_url, and publishes the union
// of every type_url's latest state into the Store's xDS slot.
func (c *Client) apply(resp *discoveryResponse) error {
	doc, err := decodeResources(TypeURL(resp.TypeURL), resp.Resources)
	if err != nil {
		return err
	}
	c.latest[TypeURL(resp.TypeURL)] = doc
	return c.store.SetSource(config.SourceXDS, c.mergedDocument())
}

// mergedDocument combines the most recently accepted Document for every
// type_url seen so far into one Document, so publishing a Route update
// doesn't erase previously learned Binds/Listeners/Backends/Registry.
func (c *Client) mergedDocument() *config.Document {
	merged := &config.Document{}
	for _, t := range allTypes {
		d, ok := c.latest[t]
		if !ok {
			continue
		}
		merged.Binds = append(merged.Binds, d.Binds...)
		merged.Listeners = append(merged.Listeners, d.Listeners...)
		merged.Routes = append(merged.Routes, d.Routes...)
		merged.Backends = append(merged.Backends, d.Backends...)
		if d.Registry != nil {
			merged.Registry = d.Registry
		}
	}
	return merged
}
