// Package storage defines the secure scoped storage contract the
// key-management core relies on, plus reference implementations.
//
// The core never assumes a specific platform keystore. Mobile targets back
// SecureStore with Keychain or Keystore entries gated behind biometric
// authentication; tests use the in-memory store; desktop targets can use
// the encrypted file store.
package storage
