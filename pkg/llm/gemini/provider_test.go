package gemini_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sage/pkg/llm"
	"github.com/kart-io/sage/pkg/llm/gemini"
	"github.com/kart-io/sage/pkg/utils/json"
)

func TestNewProviderRequiresKey(t *testing.T) {
	_, err := gemini.NewProvider(map[string]any{})
	assert.Error(t, err)
}

func TestEmbedAndChat(t *testing.T) {
	var chatBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		body, _ := io.ReadAll(r.Body)

		switch r.URL.Path {
		case "/models/embedding-001:batchEmbedContents":
			var req struct {
				Requests []struct {
					Model string `json:"model"`
				} `json:"requests"`
			}
			assert.NoError(t, json.Unmarshal(body, &req))
			resp := map[string]any{"embeddings": []any{}}
			list := make([]any, len(req.Requests))
			for i, rq := range req.Requests {
				assert.Equal(t, "models/embedding-001", rq.Model)
				list[i] = map[string]any{"values": []float32{float32(i + 1)}}
			}
			resp["embeddings"] = list
			data, _ := json.Marshal(resp)
			_, _ = w.Write(data)
		case "/models/gemini-2.0-flash:generateContent":
			assert.NoError(t, json.Unmarshal(body, &chatBody))
			_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Hello "},{"text":"there"}]}}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p, err := llm.NewProvider(gemini.ProviderName, map[string]any{
		"base_url":    srv.URL,
		"api_key":     "test-key",
		"embed_model": "models/embedding-001",
	})
	require.NoError(t, err)

	vecs, err := p.Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}, {3}}, vecs)

	out, err := p.Chat(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "sys"},
		{Role: llm.RoleUser, Content: "q1"},
		{Role: llm.RoleAssistant, Content: "a1"},
		{Role: llm.RoleUser, Content: "q2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", out)

	contents := chatBody["contents"].([]any)
	require.Len(t, contents, 3)
	assert.Equal(t, "model", contents[1].(map[string]any)["role"])
	assert.NotNil(t, chatBody["systemInstruction"])
}
