package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	KeySize   = 32
	NonceSize = 24
)

// ErrOpen is returned when a sealed payload cannot be authenticated.
var ErrOpen = errors.New("crypto: cannot open sealed payload")

// GroupKey is a symmetric key shared by every client of one session. The
// relay never holds it, so sealed configs pass through it unread.
type GroupKey [KeySize]byte

// GenerateGroupKey creates a random group key
func GenerateGroupKey() (*GroupKey, error) {
	var k GroupKey
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return nil, err
	}
	return &k, nil
}

// ParseGroupKey decodes a hex-encoded key
func ParseGroupKey(s string) (*GroupKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("crypto: group key: %w", err)
	}
	if len(b) != KeySize {
		return nil, fmt.Errorf("crypto: group key must be %d bytes, got %d", KeySize, len(b))
	}
	var k GroupKey
	copy(k[:], b)
	return &k, nil
}

// String returns the key in hex.
func (k *GroupKey) String() string {
	return hex.EncodeToString(k[:])
}

// KeyID returns a short fingerprint of the key, safe to log.
func (k *GroupKey) KeyID() string {
	sum := sha256.Sum256(k[:])
	return hex.EncodeToString(sum[:8])
}

// Seal encrypts plaintext and returns it as base64 text with the nonce prepended.
func Seal(plaintext string, key *GroupKey) (string, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}
	k := [KeySize]byte(*key)
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &k)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func Open(sealed string, key *GroupKey) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < NonceSize+secretbox.Overhead {
		return "", ErrOpen
	}
	var nonce [NonceSize]byte
	copy(nonce[:], raw[:NonceSize])
	k := [KeySize]byte(*key)
	plain, ok := secretbox.Open(nil, raw[NonceSize:], &nonce, &k)
	if !ok {
		return "", ErrOpen
	}
	return string(plain), nil
}
