package sessions

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const sealerInfo = "go-bff-server session v1"

// ErrUnsealFailed is returned when a sealed session cannot be authenticated
var ErrUnsealFailed = errors.New("failed to unseal session")

// Sealer encrypts serialized sessions at rest with XChaCha20-Poly1305. The
// key is derived from the configured master secret with HKDF-SHA256.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the sealing key from secret
func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) == 0 {
		return nil, errors.New("sealer secret cannot be empty")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(sealerInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive sealing key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// NewRandomSealer creates a sealer with an ephemeral key. Sessions sealed
// with it do not survive a restart.
func NewRandomSealer() (*Sealer, error) {
	secret := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate sealing secret: %w", err)
	}
	return NewSealer(secret)
}

// Seal encrypts plaintext bound to sessionID, which is authenticated but not
// encrypted. The nonce is prepended to the ciphertext.
func (s *Sealer) Seal(sessionID string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, []byte(sessionID)), nil
}

// Open reverses Seal. A session sealed for another id fails to open.
func (s *Sealer) Open(sessionID string, sealed []byte) ([]byte, error) {
	if len(sealed) < s.aead.NonceSize()+s.aead.Overhead() {
		return nil, ErrUnsealFailed
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte(sessionID))
	if err != nil {
		return nil, ErrUnsealFailed
	}
	return plaintext, nil
}
