package xds

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/agentgateway/agentgateway/pkg/config"
	"github.com/agentgateway/agentgateway/pkg/registry"
)

// decodeResources converts the structpb-encoded resources of one
// discovery response into a partial config.Document holding only the
// collection named by typeURL. Each resource travels the wire as a
// google.protobuf.Struct (a real, already-generated proto.Message) and
// is re-decoded here through protojson + encoding/json rather than a
// hand-written generated message type.
func decodeResources(typeURL TypeURL, resources []*structpb.Struct) (*config.Document, error) {
	doc := &config.Document{}

	for _, res := range resources {
		raw, err := protojson.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s resource: %w", typeURL, err)
		}

		switch typeURL {
		case TypeBinds:
			var b config.Bind
			if err := json.Unmarshal(raw, &b); err != nil {
				return nil, fmt.Errorf("decoding bind: %w", err)
			}
			doc.Binds = append(doc.Binds, b)
		case TypeListeners:
			var l config.Listener
			if err := json.Unmarshal(raw, &l); err != nil {
				return nil, fmt.Errorf("decoding listener: %w", err)
			}
			doc.Listeners = append(doc.Listeners, l)
		case TypeRoutes:
			var r config.Route
			if err := json.Unmarshal(raw, &r); err != nil {
				return nil, fmt.Errorf("decoding route: %w", err)
			}
			doc.Routes = append(doc.Routes, r)
		case TypeBackends:
			var b config.Backend
			if err := json.Unmarshal(raw, &b); err != nil {
				return nil, fmt.Errorf("decoding backend: %w", err)
			}
			doc.Backends = append(doc.Backends, b)
		case TypeRegistry:
			if doc.Registry == nil {
				doc.Registry = &registry.Document{}
			}
			if err := json.Unmarshal(raw, doc.Registry); err != nil {
				return nil, fmt.Errorf("decoding registry resource: %w", err)
			}
		default:
			return nil, fmt.Errorf("unknown resource type_url %q", typeURL)
		}
	}

	return doc, nil
}
