// Package auth issues and verifies API keys of the form
// firmcheck_<prefix>_<secret>. The prefix identifies the stored key; only a
// SHA-256 hash of the secret is persisted.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	keyScheme   = "firmcheck"
	prefixBytes = 6 // 12 hex characters
	secretBytes = 32
)

var ErrInvalidKeyFormat = errors.New("invalid API key format")

// Key is a freshly issued API key. Display is shown to the user once.
type Key struct {
	Display string
	Prefix  string
	Hash    []byte
}

// NewKey issues a random API key.
func NewKey() (Key, error) {
	prefix, err := randomHex(prefixBytes)
	if err != nil {
		return Key{}, err
	}
	secret, err := randomHex(secretBytes)
	if err != nil {
		return Key{}, err
	}
	return Key{
		Display: keyScheme + "_" + prefix + "_" + secret,
		Prefix:  prefix,
		Hash:    HashSecret(secret),
	}, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func HashSecret(secret string) []byte {
	h := sha256.Sum256([]byte(secret))
	return h[:]
}

// Parse splits a display key into its prefix and secret.
func Parse(display string) (prefix, secret string, err error) {
	rest, ok := strings.CutPrefix(display, keyScheme+"_")
	if !ok {
		return "", "", ErrInvalidKeyFormat
	}
	prefix, secret, ok = strings.Cut(rest, "_")
	if !ok || secret == "" || len(prefix) != 2*prefixBytes || !isHex(prefix) {
		return "", "", ErrInvalidKeyFormat
	}
	return prefix, secret, nil
}

// Verify reports whether display hashes to storedHash, in constant time.
func Verify(display string, storedHash []byte) bool {
	_, secret, err := Parse(display)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(HashSecret(secret), storedHash) == 1
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
