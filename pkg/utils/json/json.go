// Package json wraps sonic for amd64/arm64 and falls back to encoding/json elsewhere.
package json

import (
	stdjson "encoding/json"
	"runtime"

	"github.com/bytedance/sonic"
)

var (
	// Marshal encodes v into JSON bytes.
	Marshal func(v any) ([]byte, error)

	// Unmarshal decodes JSON bytes into v.
	Unmarshal func(data []byte, v any) error

	// MarshalIndent is used for human-edited files such as the profile store.
	MarshalIndent func(v any, prefix, indent string) ([]byte, error)

	usingSonic bool
)

func init() {
	if runtime.GOARCH == "amd64" || runtime.GOARCH == "arm64" {
		Marshal = sonic.Marshal
		Unmarshal = sonic.Unmarshal
		MarshalIndent = sonic.ConfigStd.MarshalIndent
		usingSonic = true
		return
	}
	Marshal = stdjson.Marshal
	Unmarshal = stdjson.Unmarshal
	MarshalIndent = stdjson.MarshalIndent
}

// UsingSonic reports whether sonic is the active implementation.
func UsingSonic() bool {
	return usingSonic
}

// Valid reports whether data is well-formed JSON.
func Valid(data []byte) bool {
	if usingSonic {
		return sonic.Valid(data)
	}
	return stdjson.Valid(data)
}
