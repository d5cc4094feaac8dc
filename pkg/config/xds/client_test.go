package xds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/agentgateway/agentgateway/pkg/config"
)

func structOf(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	return s
}

// TestApply_AccumulatesAcrossTypeURLs guards against a response for one
// type_url wiping out resources already accepted for another: each ADS
// response carries only one collection, so apply must merge across
// calls rather than replacing the Store's xDS slot wholesale.
func TestApply_AccumulatesAcrossTypeURLs(t *testing.T) {
	store := config.NewStore()
	c := NewClient("dns:///unused", "test-node", store)

	// Listeners arrive first so the intermediate merge after each apply()
	// stays referentially valid: a Bind can't reference a listener that
	// hasn't been accepted yet.
	require.NoError(t, c.apply(&discoveryResponse{
		TypeURL:     string(TypeListeners),
		VersionInfo: "1",
		Resources: []*structpb.Struct{
			structOf(t, map[string]any{"id": "l1", "protocol": "http"}),
		},
	}))

	require.NoError(t, c.apply(&discoveryResponse{
		TypeURL:     string(TypeBinds),
		VersionInfo: "1",
		Resources: []*structpb.Struct{
			structOf(t, map[string]any{"address": "127.0.0.1:8080", "listener_ids": []any{"l1"}}),
		},
	}))

	snap := store.Current()
	defer snap.Release()

	// If the second apply() had replaced rather than merged, the
	// Listener accepted by the first apply() would be gone here.
	assert.Len(t, snap.Merged.Binds, 1)
	assert.Equal(t, "127.0.0.1:8080", snap.Merged.Binds[0].Address)
	assert.Len(t, snap.Merged.Listeners, 1)
	assert.Equal(t, "l1", snap.Merged.Listeners[0].ID)
}

func TestApply_LatestReplacesSameTypeURL(t *testing.T) {
	store := config.NewStore()
	c := NewClient("dns:///unused", "test-node", store)

	require.NoError(t, c.apply(&discoveryResponse{
		TypeURL: string(TypeBinds),
		Resources: []*structpb.Struct{
			structOf(t, map[string]any{"address": "127.0.0.1:8080"}),
		},
	}))
	require.NoError(t, c.apply(&discoveryResponse{
		TypeURL: string(TypeBinds),
		Resources: []*structpb.Struct{
			structOf(t, map[string]any{"address": "127.0.0.1:9090"}),
		},
	}))

	snap := store.Current()
	defer snap.Release()

	require.Len(t, snap.Merged.Binds, 1)
	assert.Equal(t, "127.0.0.1:9090", snap.Merged.Binds[0].Address)
}
