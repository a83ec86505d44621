package rotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestKeySwapped validates which states mean the old key material is gone
func TestKeySwapped(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  bool
	}{
		{StateIdle, false},
		{StateValidating, false},
		{StateDecrypting, false},
		{StateKeyUpdated, true},
		{StateReEncrypting, true},
		{StateMetadataUpdated, true},
		{StateAuditRecorded, true},
		{StateFailed, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.keySwapped(), "state %s", tt.state)
	}
}
