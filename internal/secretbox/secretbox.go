// Package secretbox implements contracts.SecretBox with a password-derived
// key: PBKDF2-SHA256 to stretch a passphrase into a 32-byte key, then
// NaCl secretbox (XSalsa20-Poly1305) for authenticated encryption.
package secretbox

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/pbkdf2"
)

// MinIterations is the floor enforced by New; callers may pass more but
// never fewer.
const MinIterations = 100_000

const keySize = 32
const nonceSize = 24

// ErrDecryptFailed is returned when a ciphertext fails authentication,
// either because the key is wrong or the data was tampered with.
var ErrDecryptFailed = errors.New("secretbox: decryption failed authentication")

// Box is a contracts.SecretBox backed by a single derived key. A Box is
// safe for concurrent use; it holds no mutable state.
type Box struct {
	key [keySize]byte
}

// New derives an encryption key from secret and salt using PBKDF2 with
// the given iteration count, raised to MinIterations if lower.
func New(secret, salt []byte, iterations int) *Box {
	if iterations < MinIterations {
		iterations = MinIterations
	}
	derived := pbkdf2.Key(secret, salt, iterations, keySize, sha256.New)
	b := &Box{}
	copy(b.key[:], derived)
	return b
}

// Encrypt seals plaintext under a freshly generated random nonce,
// prepended to the returned ciphertext.
func (b *Box) Encrypt(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("secretbox: generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &b.key)
	return sealed, nil
}

// Decrypt opens a ciphertext produced by Encrypt. It returns
// ErrDecryptFailed if authentication fails or the input is too short to
// contain a nonce.
func (b *Box) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize {
		return nil, ErrDecryptFailed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, &b.key)
	if !ok {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
