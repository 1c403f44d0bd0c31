// Package resource implements per-resource encryption on top of the
// unlocked session's master key.
//
// Notes, prompts and credentials are direct-encryption resources: every
// confidential field is encrypted independently under the master key with
// its own nonce, so editing one field never forces re-encryption of
// another. Chats use an intermediate key: a fresh random per-chat key
// encrypts the chat body, and that key is wrapped under the master key and
// stored alongside the ciphertext. A compromised chat key exposes one chat
// only.
//
// Every operation checks the session up front and fails with
// session.ErrSessionLocked when no master key is held. Batch decryption
// runs concurrent workers over a single captured key snapshot; individual
// failures are logged and skipped, never fatal to the batch.
package resource
