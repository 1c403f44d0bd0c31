package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/opd-ai/keyvault/crypto"
)

// MethodKind identifies how an escrowed share's KEK is derived.
type MethodKind string

const (
	// MethodAuth is the share available immediately after authentication;
	// its KEK derives from the server-issued key-share access token. It is
	// not a user unlock method on its own (one share is below threshold).
	MethodAuth MethodKind = "auth"
	// MethodRecovery is the share protected by the recovery mnemonic.
	MethodRecovery MethodKind = "recovery"
	// MethodDevice is the share cached in local secure storage, encrypted
	// under the biometric-gated device KEK.
	MethodDevice MethodKind = "device"
	// MethodPassword holds a master-key copy under an Argon2id-derived KEK.
	MethodPassword MethodKind = "password"
	// MethodPasskey holds a master-key copy under a WebAuthn-derived KEK.
	MethodPasskey MethodKind = "passkey"
)

// UserUnlockMethod reports whether the kind counts toward the "last
// remaining unlock method" guard. The auth share alone cannot unlock, so
// it never counts.
func (k MethodKind) UserUnlockMethod() bool {
	return k == MethodRecovery || k == MethodDevice || k == MethodPassword || k == MethodPasskey
}

// EscrowedShare is a KEK-encrypted key share (or master-key copy) together
// with the metadata needed to re-derive its KEK on any device.
type EscrowedShare struct {
	ID   uuid.UUID  `json:"id"`
	Kind MethodKind `json:"kind"`

	// Params records the Argon2id inputs for password shares. The
	// parameter set actually used is always stored, never assumed.
	Params *crypto.PasswordParams `json:"params,omitempty"`

	// CredentialID and UsesPRF describe passkey shares. UsesPRF tracks
	// which sub-path is active so the UI can describe portability.
	CredentialID string `json:"credential_id,omitempty"`
	UsesPRF      bool   `json:"uses_prf,omitempty"`

	Ciphertext []byte       `json:"ciphertext"`
	Nonce      crypto.Nonce `json:"nonce"`
	CreatedAt  time.Time    `json:"created_at"`
}

// AccountKeys carries the master-key-wrapped account material escrowed at
// setup: the identity key pair (private half encrypted under the master
// key) and the verification canary used to confirm a reconstructed master
// key before unlocking.
type AccountKeys struct {
	IdentityPublic           [32]byte     `json:"identity_public"`
	EncryptedIdentityPrivate []byte       `json:"encrypted_identity_private"`
	IdentityNonce            crypto.Nonce `json:"identity_nonce"`

	VerifierCiphertext []byte       `json:"verifier_ciphertext"`
	VerifierNonce      crypto.Nonce `json:"verifier_nonce"`
}

// SetupBundle is the atomic initial escrow upload.
type SetupBundle struct {
	Shares []EscrowedShare `json:"shares"`
	Keys   AccountKeys     `json:"keys"`
}

// MethodInfo summarizes one registered unlock method.
type MethodInfo struct {
	Kind         MethodKind `json:"kind"`
	CredentialID string     `json:"credential_id,omitempty"`
	UsesPRF      bool       `json:"uses_prf,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ErrShareNotFound is returned when no escrowed share exists for the
// requested method.
var ErrShareNotFound = errors.New("escrowed share not found")

// Service is the transport-agnostic key-share escrow API. Implementations
// scope every call to the authenticated account.
type Service interface {
	// Check reports whether escrowed shares already exist for the account.
	Check(ctx context.Context) (bool, error)

	// Create performs the initial escrow upload. It must be atomic: either
	// the whole bundle is stored or nothing is.
	Create(ctx context.Context, bundle SetupBundle) error

	// Share fetches the escrowed share for a method. credentialID selects
	// among passkey shares and is empty for other kinds.
	Share(ctx context.Context, kind MethodKind, credentialID string) (*EscrowedShare, error)

	// PutShare stores or replaces the share for its method.
	PutShare(ctx context.Context, share EscrowedShare) error

	// RemoveShare deletes the share for a method.
	RemoveShare(ctx context.Context, kind MethodKind, credentialID string) error

	// AccountKeys fetches the wrapped identity keys and verifier canary.
	AccountKeys(ctx context.Context) (*AccountKeys, error)

	// Methods lists the registered methods, server state being the single
	// source of truth.
	Methods(ctx context.Context) ([]MethodInfo, error)

	// Delete removes all escrowed shares and account keys. Irreversible.
	Delete(ctx context.Context) error
}

// TokenSource supplies the stable key-share access token issued by the
// server after authentication. The auth-share KEK derives from it, so the
// token must be a per-account secret, not a rotating session credential.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenSourceFunc is a function type that implements TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

// Token implements TokenSource for TokenSourceFunc.
func (f TokenSourceFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}
