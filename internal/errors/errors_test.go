package errors_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	kwerrors "github.com/keyward/keyward/internal/errors"
)

// TestErrorMessages validates the rendered messages carry the context a
// user needs
func TestErrorMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want []string
	}{
		{
			"not_found_with_file",
			kwerrors.NotFoundError{Kind: "key", Name: "APP_KEY", File: "keys.env"},
			[]string{"key 'APP_KEY' not found", "keys.env"},
		},
		{
			"validation_with_suggestion",
			kwerrors.ValidationError{Field: "maxAgeInDays", Value: -5, Message: "must be a positive number of days", Suggestion: "Use a value like 90"},
			[]string{"maxAgeInDays", "-5", "💡 Use a value like 90"},
		},
		{
			"crypto_with_variable",
			kwerrors.CryptoError{Op: "decrypt", Variable: "DB_URL", KeyName: "APP_KEY", Err: fmt.Errorf("authentication failed")},
			[]string{"decrypt failed", "DB_URL", "APP_KEY", "authentication failed"},
		},
		{
			"consistency_names_step",
			kwerrors.ConsistencyError{KeyName: "APP_KEY", Step: "re_encrypting", Err: fmt.Errorf("disk full")},
			[]string{"APP_KEY", "re_encrypting", "after key material was replaced", "full system audit"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			for _, fragment := range tt.want {
				assert.Contains(t, tt.err.Error(), fragment)
			}
		})
	}
}

// TestPredicatesSeeThroughWrapping validates errors.As matching through
// fmt.Errorf chains
func TestPredicatesSeeThroughWrapping(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("loading metadata: %w", kwerrors.NotFoundError{Kind: "metadata", Name: "APP_KEY"})
	assert.True(t, kwerrors.IsNotFound(wrapped))
	assert.False(t, kwerrors.IsValidation(wrapped))

	consistency := kwerrors.ConsistencyError{
		KeyName: "APP_KEY",
		Step:    "re_encrypting",
		Err:     kwerrors.CryptoError{Op: "encrypt", Err: fmt.Errorf("boom")},
	}
	assert.True(t, kwerrors.IsConsistency(consistency))
	// The cause stays reachable through the chain.
	assert.True(t, kwerrors.IsCrypto(consistency))
}
