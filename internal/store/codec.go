package store

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const codecInfo = "demo-sessiond store v1"

var errShortPayload = errors.New("payload shorter than nonce")

// Codec reversibly encodes store bundles. Encoded values are
// base64url(nonce || XChaCha20-Poly1305 ciphertext).
type Codec struct {
	aead cipher.AEAD
}

// NewCodec derives the sealing key from secret with HKDF-SHA256. An empty
// secret selects a random key, so values written before a restart can no
// longer be read after it.
func NewCodec(secret string) (*Codec, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if secret == "" {
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate store key: %w", err)
		}
	} else {
		kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(codecInfo))
		if _, err := io.ReadFull(kdf, key); err != nil {
			return nil, fmt.Errorf("failed to derive store key: %w", err)
		}
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create store cipher: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encode seals plain and returns its text form.
func (c *Codec) Encode(plain []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plain)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plain, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decode reverses Encode. Any tampering or foreign input is an error.
func (c *Codec) Decode(text string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	if len(raw) < c.aead.NonceSize() {
		return nil, errShortPayload
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open payload: %w", err)
	}
	return plain, nil
}
