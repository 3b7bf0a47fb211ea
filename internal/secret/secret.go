// Package secret seals configuration secrets with AES-256-GCM so they can
// live in YAML files as "enc:" values. The cipher key is derived from a
// master passphrase with Argon2id and a per-value salt.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Prefix marks a sealed value.
const Prefix = "enc:"

const (
	saltSize     = 16
	minKeyLength = 16

	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// ErrNoKey is returned when a sealed value is found but no key was given.
var ErrNoKey = errors.New("secret: sealed value but no master key")

// GenerateKey returns a random 256-bit master key, base64 encoded.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("secret: generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// IsSealed reports whether v carries the sealed prefix.
func IsSealed(v string) bool {
	return strings.HasPrefix(v, Prefix)
}

// Seal encrypts plaintext under key. The result is Prefix followed by
// base64(salt | nonce | ciphertext). Empty input stays empty.
func Seal(plaintext, key string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("secret: salt: %w", err)
	}
	gcm, err := newGCM(key, salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secret: nonce: %w", err)
	}
	out := append(salt, nonce...)
	out = gcm.Seal(out, nonce, []byte(plaintext), nil)
	return Prefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open returns the plaintext of a sealed value. Values without the prefix
// are returned unchanged.
func Open(v, key string) (string, error) {
	if !IsSealed(v) {
		return v, nil
	}
	if key == "" {
		return "", ErrNoKey
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(v, Prefix))
	if err != nil {
		return "", fmt.Errorf("secret: decode value: %w", err)
	}
	if len(data) < saltSize {
		return "", errors.New("secret: value too short")
	}
	gcm, err := newGCM(key, data[:saltSize])
	if err != nil {
		return "", err
	}
	data = data[saltSize:]
	n := gcm.NonceSize()
	if len(data) < n {
		return "", errors.New("secret: value too short")
	}
	plaintext, err := gcm.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("secret: decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(key string, salt []byte) (cipher.AEAD, error) {
	if len(key) < minKeyLength {
		return nil, fmt.Errorf("secret: master key must be at least %d characters, got %d", minKeyLength, len(key))
	}
	derived := argon2.IDKey([]byte(key), salt, argonTime, argonMemory, argonThreads, 32)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("secret: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
