package decode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type samplePayload struct {
	CallID  string `json:"call_id"`
	Seq     int64  `json:"seq"`
	Content string `json:"content"`
	Nested  struct {
		Kind string `json:"kind"`
		ID   string `json:"id"`
	} `json:"nested"`
}

func TestDecodeMapJSONTags(t *testing.T) {
	r := require.New(t)

	out, err := DecodeMap[samplePayload](map[string]any{
		"call_id": "c1",
		"seq":     float64(7), // what encoding/json produces for numbers
		"content": "hi",
		"nested":  map[string]any{"kind": "client", "id": "42"},
	})
	r.NoError(err)
	r.Equal("c1", out.CallID)
	r.Equal(int64(7), out.Seq)
	r.Equal("client", out.Nested.Kind)
}

func TestDecodeMapWeakTyping(t *testing.T) {
	r := require.New(t)

	out, err := DecodeMap[samplePayload](map[string]any{
		"seq": "12", // weakly typed input: string to int
	})
	r.NoError(err)
	r.Equal(int64(12), out.Seq)
}

func TestDecodeMapMissingFieldsZero(t *testing.T) {
	r := require.New(t)

	out, err := DecodeMap[samplePayload](map[string]any{})
	r.NoError(err)
	r.Empty(out.CallID)
	r.Zero(out.Seq)
}
