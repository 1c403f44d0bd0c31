package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/nacl/secretbox"
)

// Nonce is a 24-byte value used for authenticated encryption.
type Nonce [24]byte

const (
	// KeySize is the length in bytes of all symmetric keys.
	KeySize = 32
	// NonceSize is the length in bytes of a secretbox nonce.
	NonceSize = 24
	// Overhead is the length of the Poly1305 tag appended to every ciphertext.
	Overhead = secretbox.Overhead

	// MaxPlaintextSize bounds a single encryption call (1MB) to prevent
	// excessive memory usage.
	MaxPlaintextSize = 1024 * 1024
)

// ErrAuthenticationFailed is returned whenever ciphertext verification fails.
// Wrong key and tampered data are deliberately indistinguishable to the caller.
var ErrAuthenticationFailed = errors.New("authentication failed")

// GenerateNonce creates a cryptographically secure random nonce.
func GenerateNonce() (Nonce, error) {
	var nonce Nonce
	_, err := rand.Read(nonce[:])
	if err != nil {
		return Nonce{}, err
	}
	return nonce, nil
}

// GenerateKey creates a new random 32-byte symmetric key.
func GenerateKey() ([KeySize]byte, error) {
	var key [KeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return [KeySize]byte{}, err
	}
	return key, nil
}

// Encrypt encrypts a message using authenticated symmetric encryption.
// A fresh random nonce is generated for every call, so encrypting the same
// plaintext twice yields different ciphertexts.
func Encrypt(plaintext []byte, key [KeySize]byte) ([]byte, Nonce, error) {
	if len(plaintext) == 0 {
		return nil, Nonce{}, errors.New("empty plaintext")
	}

	if len(plaintext) > MaxPlaintextSize {
		return nil, Nonce{}, errors.New("plaintext too large")
	}

	nonce, err := GenerateNonce()
	if err != nil {
		return nil, Nonce{}, err
	}

	// NaCl's secretbox provides both confidentiality and integrity protection
	out := secretbox.Seal(nil, plaintext, (*[24]byte)(&nonce), (*[32]byte)(&key))

	return out, nonce, nil
}

// Decrypt decrypts and authenticates a message produced by Encrypt.
// Any verification failure returns ErrAuthenticationFailed without revealing
// whether the key was wrong or the data was tampered with.
func Decrypt(ciphertext []byte, nonce Nonce, key [KeySize]byte) ([]byte, error) {
	if len(ciphertext) < Overhead {
		return nil, ErrAuthenticationFailed
	}

	out, ok := secretbox.Open(nil, ciphertext, (*[24]byte)(&nonce), (*[32]byte)(&key))
	if !ok {
		return nil, ErrAuthenticationFailed
	}

	return out, nil
}
