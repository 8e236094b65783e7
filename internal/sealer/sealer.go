// Package sealer encrypts small payloads with XChaCha20-Poly1305.
package sealer

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var ErrOpen = errors.New("sealed payload could not be opened")

// Sealed is a ciphertext and the nonce it was produced with.
type Sealed struct {
	Ciphertext []byte
	Nonce      []byte
}

type Sealer struct {
	aead cipher.AEAD
}

// New builds a sealer from a 32 byte key.
func New(key []byte) (*Sealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// NewRandom builds a sealer with a key that lives only as long as the process.
func NewRandom() (*Sealer, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return New(key)
}

// Seal encrypts plaintext under a fresh random nonce.
func (s *Sealer) Seal(plaintext []byte) (Sealed, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Sealed{}, fmt.Errorf("generate nonce: %w", err)
	}
	return Sealed{
		Ciphertext: s.aead.Seal(nil, nonce, plaintext, nil),
		Nonce:      nonce,
	}, nil
}

// Open decrypts a sealed payload. Any tampering yields ErrOpen and no plaintext.
func (s *Sealer) Open(in Sealed) ([]byte, error) {
	if len(in.Nonce) != s.aead.NonceSize() {
		return nil, ErrOpen
	}
	out, err := s.aead.Open(nil, in.Nonce, in.Ciphertext, nil)
	if err != nil {
		return nil, ErrOpen
	}
	return out, nil
}
