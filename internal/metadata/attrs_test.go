package metadata_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/metadata"
)

// TestAttrsRoundTrip validates every member of the value union survives a
// JSON round trip
func TestAttrsRoundTrip(t *testing.T) {
	t.Parallel()

	in := metadata.Attrs{
		"attemptId": metadata.String("8d2f"),
		"count":     metadata.Int(42),
		"ratio":     metadata.Float(0.8),
		"forced":    metadata.Bool(true),
		"variables": metadata.List("DB_URL", "API_TOKEN"),
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out metadata.Attrs
	require.NoError(t, json.Unmarshal(data, &out))

	assert.Equal(t, "8d2f", out["attemptId"].Value())
	assert.Equal(t, int64(42), out["count"].Value())
	assert.Equal(t, 0.8, out["ratio"].Value())
	assert.Equal(t, true, out["forced"].Value())
	assert.Equal(t, []string{"DB_URL", "API_TOKEN"}, out["variables"].Value())
}

// TestAttrsRejectsOutOfUnion validates decoding fails on values outside the
// closed union
func TestAttrsRejectsOutOfUnion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{"nested_object", `{"bad": {"nested": true}}`},
		{"mixed_list", `{"bad": ["ok", 7]}`},
		{"null_value", `{"bad": null}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var out metadata.Attrs
			assert.Error(t, json.Unmarshal([]byte(tt.doc), &out))
		})
	}
}

// TestAttrsKeys validates key listing is sorted
func TestAttrsKeys(t *testing.T) {
	t.Parallel()

	attrs := metadata.Attrs{
		"zeta":  metadata.String("z"),
		"alpha": metadata.String("a"),
		"mid":   metadata.String("m"),
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, attrs.Keys())
}
