// Package keysource abstracts where named key material lives. The default
// backend is a line-oriented secret env file; an OS-keyring backend is
// available where a desktop keychain is preferred over a file on disk.
package keysource

import (
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/keyward/keyward/internal/envfile"
)

// Source stores and retrieves named key material.
type Source interface {
	// Get returns the key material for name. ok is false when the key is
	// not stored.
	Get(name string) (value string, ok bool, err error)

	// Set stores (or replaces) the key material for name.
	Set(name, value string) error

	// Describe identifies the backend for logs and audit events.
	Describe() string
}

// FileSource keeps key material as KEY=value lines in a secret env file.
type FileSource struct {
	path   string
	editor *envfile.Editor
}

// NewFileSource creates a file-backed key source.
func NewFileSource(path string, editor *envfile.Editor) *FileSource {
	return &FileSource{path: path, editor: editor}
}

func (s *FileSource) Get(name string) (string, bool, error) {
	return s.editor.GetKeyValue(s.path, name)
}

func (s *FileSource) Set(name, value string) error {
	return s.editor.UpdateKeyValue(s.path, name, value)
}

func (s *FileSource) Describe() string {
	return fmt.Sprintf("file:%s", s.path)
}

// Path returns the backing file path.
func (s *FileSource) Path() string {
	return s.path
}

// KeyringSource keeps key material in the OS keyring (Keychain, Secret
// Service, Credential Manager) under a fixed service name.
type KeyringSource struct {
	service string
}

// NewKeyringSource creates a keyring-backed key source.
func NewKeyringSource(service string) *KeyringSource {
	return &KeyringSource{service: service}
}

func (s *KeyringSource) Get(name string) (string, bool, error) {
	value, err := keyring.Get(s.service, name)
	if err != nil {
		if err == keyring.ErrNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("keyring get failed for '%s': %w", name, err)
	}
	return value, true, nil
}

func (s *KeyringSource) Set(name, value string) error {
	if err := keyring.Set(s.service, name, value); err != nil {
		return fmt.Errorf("keyring set failed for '%s': %w", name, err)
	}
	return nil
}

func (s *KeyringSource) Describe() string {
	return fmt.Sprintf("keyring:%s", s.service)
}
