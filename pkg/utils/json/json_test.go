package json_test

import (
	"runtime"
	"testing"

	"github.com/kart-io/sage/pkg/utils/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	UserID  string   `json:"user_id"`
	Sources []string `json:"sources"`
	Latency int64    `json:"latency_ms"`
}

func TestMarshalUnmarshal(t *testing.T) {
	in := record{UserID: "u1", Sources: []string{"01_intro"}, Latency: 42}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
	assert.Contains(t, string(data), `"latency_ms":42`)

	var out record
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestMarshalIndent(t *testing.T) {
	data, err := json.MarshalIndent(map[string]int{"a": 1}, "", "  ")
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1\n}", string(data))
}

func TestUsingSonic(t *testing.T) {
	want := runtime.GOARCH == "amd64" || runtime.GOARCH == "arm64"
	assert.Equal(t, want, json.UsingSonic())
}
