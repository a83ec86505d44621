// Package crypto provides the symmetric encrypt/decrypt capability used to
// protect values in environment files. Values are sealed with
// ChaCha20-Poly1305 under a key derived from the named key's material, and
// wrapped in a fixed ENC[v1:...] marker so encrypted values can be
// recognized without parsing the payload.
package crypto

import (
	stdcipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	kwerrors "github.com/keyward/keyward/internal/errors"
)

const (
	markerPrefix = "ENC[v1:"
	markerSuffix = "]"
)

// KeyProvider resolves named key material. Implemented by the keysource
// backends.
type KeyProvider interface {
	Get(name string) (value string, ok bool, err error)
}

// Cipher seals and opens values under named keys.
type Cipher struct {
	keys KeyProvider
}

// NewCipher creates a cipher backed by the given key provider.
func NewCipher(keys KeyProvider) *Cipher {
	return &Cipher{keys: keys}
}

// IsEncrypted reports whether a value carries the encrypted-value marker.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, markerPrefix) && strings.HasSuffix(value, markerSuffix)
}

// Encrypt seals plaintext under the named key and wraps it in the marker.
func (c *Cipher) Encrypt(plaintext, keyName string) (string, error) {
	material, err := c.material(keyName)
	if err != nil {
		return "", kwerrors.CryptoError{Op: "encrypt", KeyName: keyName, Err: err}
	}
	out, err := sealWithMaterial(plaintext, material)
	if err != nil {
		return "", kwerrors.CryptoError{Op: "encrypt", KeyName: keyName, Err: err}
	}
	return out, nil
}

// Decrypt opens a marked ciphertext under the named key. Tampered payloads
// and wrong keys fail with a CryptoError.
func (c *Cipher) Decrypt(ciphertext, keyName string) (string, error) {
	material, err := c.material(keyName)
	if err != nil {
		return "", kwerrors.CryptoError{Op: "decrypt", KeyName: keyName, Err: err}
	}
	out, err := openWithMaterial(ciphertext, material)
	if err != nil {
		return "", kwerrors.CryptoError{Op: "decrypt", KeyName: keyName, Err: err}
	}
	return out, nil
}

// EncryptWithMaterial seals plaintext directly under the given key material,
// bypassing the provider. Used during rotation, where old and new material
// for the same key name are in play at once.
func (c *Cipher) EncryptWithMaterial(plaintext, material string) (string, error) {
	out, err := sealWithMaterial(plaintext, material)
	if err != nil {
		return "", kwerrors.CryptoError{Op: "encrypt", Err: err}
	}
	return out, nil
}

// DecryptWithMaterial opens ciphertext directly under the given key material.
func (c *Cipher) DecryptWithMaterial(ciphertext, material string) (string, error) {
	out, err := openWithMaterial(ciphertext, material)
	if err != nil {
		return "", kwerrors.CryptoError{Op: "decrypt", Err: err}
	}
	return out, nil
}

func (c *Cipher) material(keyName string) (string, error) {
	material, ok, err := c.keys.Get(keyName)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("key material for '%s' not available", keyName)
	}
	return material, nil
}

// newAEAD derives the fixed-size cipher key from operator-provided key
// material of arbitrary length.
func newAEAD(material string) (stdcipher.AEAD, error) {
	derived := sha256.Sum256([]byte(material))
	return chacha20poly1305.New(derived[:])
}

func sealWithMaterial(plaintext, material string) (string, error) {
	aead, err := newAEAD(material)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return markerPrefix + base64.StdEncoding.EncodeToString(sealed) + markerSuffix, nil
}

func openWithMaterial(ciphertext, material string) (string, error) {
	if !IsEncrypted(ciphertext) {
		return "", fmt.Errorf("value does not carry the %s marker", markerPrefix)
	}
	payload := strings.TrimSuffix(strings.TrimPrefix(ciphertext, markerPrefix), markerSuffix)
	sealed, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", err
	}
	if len(sealed) < chacha20poly1305.NonceSize {
		return "", fmt.Errorf("payload too short")
	}
	aead, err := newAEAD(material)
	if err != nil {
		return "", err
	}
	nonce, body := sealed[:chacha20poly1305.NonceSize], sealed[chacha20poly1305.NonceSize:]
	plaintext, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("authentication failed")
	}
	return string(plaintext), nil
}
