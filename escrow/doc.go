// Package escrow bridges the master-key lifecycle to remote storage.
//
// The master key never leaves the device in plaintext. It is split with
// Shamir secret sharing, each share encrypted under a method-specific KEK,
// and only those ciphertexts are escrowed. The server owns the records for
// durability but cannot read them: every KEK derives from something the
// server never sees (a password, a passkey PRF output, a recovery
// mnemonic, or a device-local key).
//
// The escrowed-share store is the single source of truth for which unlock
// methods exist. Local caches are advisory and must be reconciled against
// server state before being trusted for security decisions.
package escrow
