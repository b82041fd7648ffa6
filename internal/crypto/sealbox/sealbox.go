// Package sealbox seals small secrets (external session keys) at rest with a server key.
package sealbox

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const keyLen = 32

// ErrCiphertext is returned when a sealed value is truncated or was not produced by this key.
var ErrCiphertext = errors.New("sealbox: bad ciphertext")

// Box encrypts values with XChaCha20-Poly1305 under a key derived from a master secret.
type Box struct {
	key []byte
}

// New derives the sealing key from master via HKDF-SHA256.
// An empty master yields a Box that stores values as-is.
func New(master []byte) (*Box, error) {
	if len(master) == 0 {
		return &Box{}, nil
	}
	r := hkdf.New(sha256.New, master, nil, []byte("sonickeeper external credential"))
	key := make([]byte, keyLen)
	if _, err := r.Read(key); err != nil {
		return nil, err
	}
	return &Box{key: key}, nil
}

// Enabled reports whether values are encrypted.
func (b *Box) Enabled() bool { return len(b.key) > 0 }

// Seal encrypts plaintext bound to aad (the owning user id). Output is nonce||ciphertext.
func (b *Box) Seal(plaintext, aad []byte) ([]byte, error) {
	if !b.Enabled() {
		return append([]byte(nil), plaintext...), nil
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plaintext, aad)...)
	return out, nil
}

// Open reverses Seal.
func (b *Box) Open(sealed, aad []byte) ([]byte, error) {
	if !b.Enabled() {
		return append([]byte(nil), sealed...), nil
	}
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, ErrCiphertext
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, err
	}
	nonce := sealed[:chacha20poly1305.NonceSizeX]
	pt, err := aead.Open(nil, nonce, sealed[chacha20poly1305.NonceSizeX:], aad)
	if err != nil {
		return nil, ErrCiphertext
	}
	return pt, nil
}
