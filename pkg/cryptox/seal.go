package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// sealInfo scopes derived keys to the session store.
const sealInfo = "studyhall/session-store/v1"

// ErrCiphertextTooShort is returned when sealed data cannot even hold a nonce.
var ErrCiphertextTooShort = errors.New("cryptox: ciphertext too short")

// Sealer encrypts values at rest using AES-256-GCM.
// The sealed format is: [12-byte nonce][encrypted data][16-byte auth tag]
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a 32-byte AES-256 key from keyMaterial with HKDF-SHA256
// and returns a Sealer using it. keyMaterial may be any length but must not be
// empty.
func NewSealer(keyMaterial []byte) (*Sealer, error) {
	if len(keyMaterial) == 0 {
		return nil, fmt.Errorf("cryptox: empty key material")
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, keyMaterial, nil, []byte(sealInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive seal key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Sealer{aead: gcm}, nil
}

// Seal encrypts and authenticates plaintext with a random nonce.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal appends the ciphertext and auth tag to nonce
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal. Tampered or foreign data fails
// authentication and returns an error.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, ErrCiphertextTooShort
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	return plaintext, nil
}
