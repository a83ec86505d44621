// Package errors defines the error taxonomy for key lifecycle operations.
//
// Errors fall into five families: not-found (key or metadata absent),
// validation (malformed rotation config or persisted metadata), I/O
// (file read/write failures), crypto (encrypt/decrypt failures), and
// consistency (a rotation that failed after the key material was already
// swapped). Read paths repair and log validation problems; write paths
// surface them as errors.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError indicates a key or its metadata record is absent.
type NotFoundError struct {
	Kind string // "key", "metadata", "variable"
	Name string
	File string
}

func (e NotFoundError) Error() string {
	msg := fmt.Sprintf("%s '%s' not found", e.Kind, e.Name)
	if e.File != "" {
		msg += fmt.Sprintf(" in %s", e.File)
	}
	return msg
}

// ValidationError indicates a malformed rotation config or metadata record.
type ValidationError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ValidationError) Error() string {
	msg := "validation error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// CryptoError wraps an encrypt or decrypt failure for a single variable.
type CryptoError struct {
	Op       string // "encrypt" or "decrypt"
	Variable string
	KeyName  string
	Err      error
}

func (e CryptoError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("%s failed", e.Op))
	if e.Variable != "" {
		parts = append(parts, fmt.Sprintf("for variable '%s'", e.Variable))
	}
	if e.KeyName != "" {
		parts = append(parts, fmt.Sprintf("under key '%s'", e.KeyName))
	}
	msg := strings.Join(parts, " ")
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e CryptoError) Unwrap() error {
	return e.Err
}

// ConsistencyError indicates a rotation failed after the key material was
// already overwritten. The key file and the dependent variables may be
// encrypted under different keys; there is no automatic rollback.
type ConsistencyError struct {
	KeyName string
	Step    string
	Err     error
}

func (e ConsistencyError) Error() string {
	msg := fmt.Sprintf("rotation of '%s' failed at step %s after key material was replaced", e.KeyName, e.Step)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	msg += "\n  💡 Run a full system audit and verify which variables decrypt under the new key before retrying"
	return msg
}

func (e ConsistencyError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a NotFoundError anywhere in its chain.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is a ValidationError anywhere in its chain.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// IsCrypto reports whether err is a CryptoError anywhere in its chain.
func IsCrypto(err error) bool {
	var ce CryptoError
	return errors.As(err, &ce)
}

// IsConsistency reports whether err is a ConsistencyError anywhere in its chain.
func IsConsistency(err error) bool {
	var ce ConsistencyError
	return errors.As(err, &ce)
}
