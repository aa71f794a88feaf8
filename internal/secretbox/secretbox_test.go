package secretbox_test

import (
	"bytes"
	"testing"

	"github.com/agentcore/dispatchcore/internal/secretbox"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	box := secretbox.New([]byte("correct horse battery staple"), []byte("static-salt"), 0)

	plaintext := []byte(`{"prompt":"tell me a joke","user":"alice"}`)
	ciphertext, err := box.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Fatal("ciphertext must not equal plaintext")
	}

	got, err := box.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	a := secretbox.New([]byte("secret-a"), []byte("salt"), 0)
	b := secretbox.New([]byte("secret-b"), []byte("salt"), 0)

	ciphertext, err := a.Encrypt([]byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := b.Decrypt(ciphertext); err != secretbox.ErrDecryptFailed {
		t.Fatalf("Decrypt() error = %v, want ErrDecryptFailed", err)
	}
}

func TestDecryptTruncatedInputFails(t *testing.T) {
	box := secretbox.New([]byte("secret"), []byte("salt"), 0)
	if _, err := box.Decrypt([]byte("short")); err != secretbox.ErrDecryptFailed {
		t.Fatalf("Decrypt() error = %v, want ErrDecryptFailed", err)
	}
}

func TestEncryptNoncesDiffer(t *testing.T) {
	box := secretbox.New([]byte("secret"), []byte("salt"), 0)
	c1, _ := box.Encrypt([]byte("same plaintext"))
	c2, _ := box.Encrypt([]byte("same plaintext"))
	if bytes.Equal(c1, c2) {
		t.Fatal("two encryptions of the same plaintext must not produce identical ciphertext")
	}
}
