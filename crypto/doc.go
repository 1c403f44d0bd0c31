// Package crypto implements the cryptographic primitives for the keyvault
// key-management core.
//
// This package handles authenticated symmetric encryption (XSalsa20-Poly1305
// secretbox), password-based key derivation (Argon2id), BIP39-compatible
// mnemonic seed derivation (PBKDF2-HMAC-SHA512), HKDF-SHA256 expansion, and
// identity key generation using the NaCl cryptography library through Go's
// x/crypto packages.
//
// Example:
//
//	key, err := crypto.GenerateKey()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ciphertext, nonce, err := crypto.Encrypt([]byte("secret note"), key)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	plaintext, err := crypto.Decrypt(ciphertext, nonce, key)
package crypto
