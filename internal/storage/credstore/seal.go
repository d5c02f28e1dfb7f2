package credstore

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Sealing errors.
var (
	ErrPassphraseTooShort = errors.New("credstore: backup passphrase too short (minimum 12 characters)")
	ErrUnsealFailed       = errors.New("credstore: unseal failed - wrong passphrase or corrupted backup")
)

const (
	// MinPassphraseLength is the minimum backup passphrase length.
	MinPassphraseLength = 12

	saltLength = 16

	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = chacha20poly1305.KeySize
)

var sealMagic = []byte("WAB1")

// Sealer encrypts credential bundles with XChaCha20-Poly1305 under a key
// derived from a passphrase with Argon2id. Every sealed blob carries its
// own random salt and nonce: magic | salt | nonce | ciphertext.
type Sealer struct {
	passphrase []byte
}

// NewSealer returns a Sealer for passphrase.
func NewSealer(passphrase string) (*Sealer, error) {
	if len(passphrase) < MinPassphraseLength {
		return nil, ErrPassphraseTooShort
	}
	return &Sealer{passphrase: []byte(passphrase)}, nil
}

// Seal encrypts plaintext. sessionID is bound as additional data so a blob
// cannot be replayed under another session.
func (s *Sealer) Seal(sessionID string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	aead, err := chacha20poly1305.NewX(s.key(salt))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, len(sealMagic)+len(salt)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, sealMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, []byte(sessionID)), nil
}

// Open decrypts a blob produced by Seal for the same sessionID.
func (s *Sealer) Open(sessionID string, blob []byte) ([]byte, error) {
	headerLen := len(sealMagic) + saltLength + chacha20poly1305.NonceSizeX
	if len(blob) < headerLen+chacha20poly1305.Overhead || !bytes.HasPrefix(blob, sealMagic) {
		return nil, ErrUnsealFailed
	}
	salt := blob[len(sealMagic) : len(sealMagic)+saltLength]
	nonce := blob[len(sealMagic)+saltLength : headerLen]

	aead, err := chacha20poly1305.NewX(s.key(salt))
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, nonce, blob[headerLen:], []byte(sessionID))
	if err != nil {
		return nil, ErrUnsealFailed
	}
	return plain, nil
}

func (s *Sealer) key(salt []byte) []byte {
	return argon2.IDKey(s.passphrase, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
}
