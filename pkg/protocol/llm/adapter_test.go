package llm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgateway/agentgateway/pkg/router"
)

func TestParseRequest_SplitsKnownFieldsFromRest(t *testing.T) {
	t.Parallel()

	body := []byte(`{"model":"gpt-5","stream":true,"messages":[{"role":"user","content":"hi"}],"temperature":0.2,"provider_extension":{"foo":"bar"}}`)

	req, err := ParseRequest(body)
	require.NoError(t, err)

	assert.Equal(t, "gpt-5", req.Model)
	assert.True(t, req.Stream)
	assert.Contains(t, string(req.Messages), "hi")
	assert.Contains(t, req.Rest, "temperature")
	assert.Contains(t, req.Rest, "provider_extension")
	assert.NotContains(t, req.Rest, "model")
	assert.NotContains(t, req.Rest, "stream")
	assert.NotContains(t, req.Rest, "messages")
}

func TestRequest_MarshalJSON_RoundTripsAllFields(t *testing.T) {
	t.Parallel()

	body := []byte(`{"model":"gpt-5","stream":false,"messages":[{"role":"user","content":"hi"}],"temperature":0.2}`)
	req, err := ParseRequest(body)
	require.NoError(t, err)

	out, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "gpt-5", decoded["model"])
	assert.Equal(t, 0.2, decoded["temperature"])
	assert.Contains(t, decoded, "messages")
}

func TestAdapter_Forward_ProxiesAndInvokesCallback(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var decoded map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&decoded))
		assert.Equal(t, "gpt-5", decoded["model"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"resp-1"}`))
	}))
	defer backend.Close()

	pool := router.NewPool(2, time.Minute, func() *http.Client { return &http.Client{} })
	a := NewAdapter(backend.URL, pool)

	var seenModel string
	w := httptest.NewRecorder()
	reqBody := `{"model":"gpt-5","messages":[{"role":"user","content":"hi"}]}`
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(reqBody))

	a.Forward(w, r, func(parsed *Request) { seenModel = parsed.Model })

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gpt-5", seenModel)
	assert.Contains(t, w.Body.String(), "resp-1")
}
