package keyvault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/keyvault/crypto"
	"github.com/opd-ai/keyvault/escrow"
	"github.com/opd-ai/keyvault/resource"
	"github.com/opd-ai/keyvault/session"
	"github.com/opd-ai/keyvault/shamir"
	"github.com/opd-ai/keyvault/storage"
	"github.com/opd-ai/keyvault/unlock"
)

// ErrIncorrectPassword is returned when a password-derived KEK fails to
// decrypt the escrowed master key copy. It is distinguishable from
// transport errors by kind, never by timing.
var ErrIncorrectPassword = errors.New("incorrect password")

// DefaultResetConfirmation is the literal phrase the user must type before
// the irreversible encryption reset proceeds.
const DefaultResetConfirmation = "permanently delete all encrypted data"

// Options contains configuration options for creating a Vault.
type Options struct {
	// ShamirThreshold and ShamirShares fix the (k, n) split policy for the
	// master key.
	ShamirThreshold int
	ShamirShares    int

	// IdleTimeout is the inactivity interval after which an unlocked
	// session re-locks itself.
	IdleTimeout time.Duration

	// ResetConfirmation is the exact text required by ResetEncryption.
	ResetConfirmation string
}

// NewOptions creates a new default Options: a 2-of-3 split and a five
// minute idle timeout.
func NewOptions() *Options {
	policy := escrow.DefaultPolicy()
	return &Options{
		ShamirThreshold:   policy.Threshold,
		ShamirShares:      policy.Shares,
		IdleTimeout:       session.DefaultIdleTimeout,
		ResetConfirmation: DefaultResetConfirmation,
	}
}

// Vault wires the escrow manager, session and resource cipher into the
// end-to-end operations.
type Vault struct {
	options *Options
	svc     escrow.Service
	sess    *session.Session
	manager *escrow.Manager
	cipher  *resource.Cipher
	store   storage.SecureStore
	auth    unlock.Authenticator
}

// New creates a Vault. store may be nil on platforms without secure local
// storage (the device-share restore path and local passkey fallback are
// then unavailable). auth may be nil when the platform has no WebAuthn
// support.
func New(options *Options, svc escrow.Service, tokens escrow.TokenSource, store storage.SecureStore, auth unlock.Authenticator) (*Vault, error) {
	if options == nil {
		options = NewOptions()
	}

	sess := session.New(store, options.IdleTimeout)

	policy := escrow.Policy{
		Threshold: options.ShamirThreshold,
		Shares:    options.ShamirShares,
	}
	manager, err := escrow.NewManager(svc, sess, store, tokens, policy, options.ResetConfirmation)
	if err != nil {
		return nil, err
	}

	v := &Vault{
		options: options,
		svc:     svc,
		sess:    sess,
		manager: manager,
		cipher:  resource.NewCipher(sess),
		store:   store,
		auth:    auth,
	}
	sess.SetRestorer(session.RestorerFunc(v.restore))

	return v, nil
}

// IsSetUp reports whether escrowed shares already exist for the account.
func (v *Vault) IsSetUp(ctx context.Context) (bool, error) {
	return v.manager.CheckSetupStatus(ctx)
}

// Setup creates the account's master key, escrows its shares and unlocks
// the session. The returned recovery mnemonic must be shown to the user
// exactly once; it is never stored.
func (v *Vault) Setup(ctx context.Context) (string, error) {
	return v.manager.SetupNewUser(ctx)
}

// unlockWithMasterKey verifies a candidate master key against the escrowed
// canary, recovers the identity key pair and unlocks the session.
func (v *Vault) unlockWithMasterKey(ctx context.Context, masterKey [32]byte) error {
	defer crypto.WipeKey(&masterKey)

	if err := v.manager.VerifyMasterKey(ctx, masterKey); err != nil {
		return err
	}

	keyPair, err := v.manager.IdentityKeys(ctx, masterKey)
	if err != nil {
		return err
	}
	defer crypto.WipeKeyPair(keyPair)

	return v.sess.Unlock(masterKey, keyPair.Private, keyPair.Public)
}

// masterKeyFromCopy decrypts a full escrowed master-key copy under kek.
func masterKeyFromCopy(share *escrow.EscrowedShare, kek [32]byte) ([32]byte, error) {
	plaintext, err := crypto.Decrypt(share.Ciphertext, share.Nonce, kek)
	if err != nil {
		return [32]byte{}, err
	}
	if len(plaintext) != crypto.KeySize {
		crypto.ZeroBytes(plaintext)
		return [32]byte{}, crypto.ErrAuthenticationFailed
	}

	var masterKey [32]byte
	copy(masterKey[:], plaintext)
	crypto.ZeroBytes(plaintext)
	return masterKey, nil
}

// UnlockWithPassword recovers the master key from the password-escrowed
// copy. A failed decrypt returns ErrIncorrectPassword and leaves the
// session locked.
func (v *Vault) UnlockWithPassword(ctx context.Context, password string) error {
	share, err := v.svc.Share(ctx, escrow.MethodPassword, "")
	if err != nil {
		return err
	}
	if share.Params == nil {
		return errors.New("password share is missing derivation parameters")
	}

	kek, err := unlock.DerivePasswordKEK(password, *share.Params)
	if err != nil {
		return err
	}
	masterKey, err := masterKeyFromCopy(share, kek)
	crypto.WipeKey(&kek)
	if err != nil {
		if errors.Is(err, crypto.ErrAuthenticationFailed) {
			return ErrIncorrectPassword
		}
		return err
	}

	return v.unlockWithMasterKey(ctx, masterKey)
}

// UnlockWithRecoveryPhrase reconstructs the master key from the
// recovery-encrypted share and the auth share. Any failure attributable to
// the phrase itself returns ErrInvalidRecoveryPhrase; the session stays
// locked.
func (v *Vault) UnlockWithRecoveryPhrase(ctx context.Context, phrase string) error {
	kek, err := unlock.DeriveRecoveryKEK(phrase)
	if err != nil {
		return err
	}
	defer crypto.WipeKey(&kek)

	share, err := v.svc.Share(ctx, escrow.MethodRecovery, "")
	if err != nil {
		return err
	}

	recoveryBytes, err := crypto.Decrypt(share.Ciphertext, share.Nonce, kek)
	if err != nil {
		// A well-formed but wrong phrase derives a KEK that fails here.
		return unlock.ErrInvalidRecoveryPhrase
	}
	defer crypto.ZeroBytes(recoveryBytes)

	masterKey, err := v.combineWithAuthShare(ctx, recoveryBytes)
	if err != nil {
		if errors.Is(err, escrow.ErrInvalidKeyShares) {
			return fmt.Errorf("%w: share verification failed", unlock.ErrInvalidRecoveryPhrase)
		}
		return err
	}

	return v.unlockWithMasterKey(ctx, masterKey)
}

// UnlockWithPasskey recovers the master key from the passkey-escrowed copy,
// using the PRF sub-path or the local-KEK fallback as recorded at
// registration. User cancellation propagates as ErrPasskeyCancelled.
func (v *Vault) UnlockWithPasskey(ctx context.Context, credentialID string) error {
	share, err := v.svc.Share(ctx, escrow.MethodPasskey, credentialID)
	if err != nil {
		return err
	}

	var kek [32]byte
	if share.UsesPRF {
		kek, err = unlock.DerivePasskeyKEK(ctx, v.auth, credentialID)
	} else {
		kek, err = unlock.LoadLocalPasskeyKEK(v.store, credentialID)
	}
	if err != nil {
		return err
	}

	masterKey, err := masterKeyFromCopy(share, kek)
	crypto.WipeKey(&kek)
	if err != nil {
		if errors.Is(err, crypto.ErrAuthenticationFailed) {
			return unlock.ErrPasskeyAuthenticationFailed
		}
		return err
	}

	return v.unlockWithMasterKey(ctx, masterKey)
}

// combineWithAuthShare joins one raw share with the fetched auth share,
// reconstructs a candidate master key and verifies it against the canary.
func (v *Vault) combineWithAuthShare(ctx context.Context, shareBytes []byte) ([32]byte, error) {
	otherShare, err := shamir.ParseShare(shareBytes)
	if err != nil {
		return [32]byte{}, err
	}

	authBytes, err := v.manager.AuthShareBytes(ctx)
	if err != nil {
		return [32]byte{}, err
	}
	defer crypto.ZeroBytes(authBytes)

	authShare, err := shamir.ParseShare(authBytes)
	if err != nil {
		return [32]byte{}, err
	}

	combined, err := shamir.Combine([]shamir.Share{otherShare, authShare})
	if err != nil {
		return [32]byte{}, err
	}
	defer crypto.ZeroBytes(combined)

	if len(combined) != crypto.KeySize {
		return [32]byte{}, escrow.ErrInvalidKeyShares
	}

	var masterKey [32]byte
	copy(masterKey[:], combined)

	// Reconstruction cannot detect a wrong share set by itself; the canary
	// check is the only correctness signal.
	if err := v.manager.VerifyMasterKey(ctx, masterKey); err != nil {
		crypto.WipeKey(&masterKey)
		return [32]byte{}, err
	}

	return masterKey, nil
}

// restore is the silent device-share restore path installed on the session.
// The biometric gate fires when the device KEK is read.
func (v *Vault) restore(ctx context.Context) ([32]byte, [32]byte, [32]byte, error) {
	deviceBytes, err := v.manager.DeviceShareBytes()
	if err != nil {
		return [32]byte{}, [32]byte{}, [32]byte{}, err
	}
	defer crypto.ZeroBytes(deviceBytes)

	masterKey, err := v.combineWithAuthShare(ctx, deviceBytes)
	if err != nil {
		return [32]byte{}, [32]byte{}, [32]byte{}, err
	}
	defer crypto.WipeKey(&masterKey)

	keyPair, err := v.manager.IdentityKeys(ctx, masterKey)
	if err != nil {
		return [32]byte{}, [32]byte{}, [32]byte{}, err
	}
	defer crypto.WipeKeyPair(keyPair)

	return masterKey, keyPair.Private, keyPair.Public, nil
}

// TryRestore attempts silent session restoration via the cached device
// share. It returns false and leaves the session locked on any failure.
func (v *Vault) TryRestore(ctx context.Context) bool {
	return v.sess.TryRestore(ctx)
}

// Lock zeroes and clears the session's key material.
func (v *Vault) Lock() {
	v.sess.Lock()
}

// IsUnlocked reports whether the session currently holds key material.
func (v *Vault) IsUnlocked() bool {
	return v.sess.IsUnlocked()
}

// RecordActivity resets the session idle timer. Called on user-initiated
// actions.
func (v *Vault) RecordActivity() {
	v.sess.RecordActivity()
}

// RegisterPasswordUnlock escrows a master-key copy under an
// Argon2id-derived KEK. Moderate cost parameters are always used for the
// server-escrowed copy; the parameters used are stored with the share.
func (v *Vault) RegisterPasswordUnlock(ctx context.Context, password string) error {
	if err := unlock.ValidatePassword(password); err != nil {
		return err
	}

	params, err := crypto.NewModerateParams()
	if err != nil {
		return err
	}

	kek, err := unlock.DerivePasswordKEK(password, params)
	if err != nil {
		return err
	}

	return v.manager.RegisterUnlockMethod(ctx, escrow.MethodInfo{Kind: escrow.MethodPassword}, kek, &params)
}

// RegisterPasskeyUnlock escrows a master-key copy under a passkey-derived
// KEK. PRF-capable authenticators use the portable PRF sub-path; otherwise
// a random KEK is generated and kept in biometric-gated local storage.
func (v *Vault) RegisterPasskeyUnlock(ctx context.Context, credentialID string, subPath unlock.PasskeySubPath) error {
	var kek [32]byte
	var err error

	switch subPath {
	case unlock.PasskeyPRF:
		kek, err = unlock.DerivePasskeyKEK(ctx, v.auth, credentialID)
	case unlock.PasskeyLocal:
		kek, err = unlock.GenerateLocalPasskeyKEK(v.store, credentialID)
	default:
		return fmt.Errorf("unknown passkey sub-path %d", subPath)
	}
	if err != nil {
		return err
	}

	info := escrow.MethodInfo{
		Kind:         escrow.MethodPasskey,
		CredentialID: credentialID,
		UsesPRF:      subPath == unlock.PasskeyPRF,
	}
	if err := v.manager.RegisterUnlockMethod(ctx, info, kek, nil); err != nil {
		if subPath == unlock.PasskeyLocal {
			_ = unlock.RemoveLocalPasskeyKEK(v.store, credentialID)
		}
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "RegisterPasskeyUnlock",
		"credential": credentialID,
		"sub_path":   subPath.String(),
		"portable":   subPath.Portable(),
	}).Info("Passkey unlock method registered")

	return nil
}

// RemoveUnlockMethod unregisters a method. The server is the source of
// truth for which methods exist; the local passkey KEK is a cache purged
// after the server-side removal succeeds.
func (v *Vault) RemoveUnlockMethod(ctx context.Context, kind escrow.MethodKind, credentialID string) error {
	if err := v.manager.RemoveUnlockMethod(ctx, kind, credentialID); err != nil {
		return err
	}

	if kind == escrow.MethodPasskey {
		if err := unlock.RemoveLocalPasskeyKEK(v.store, credentialID); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "RemoveUnlockMethod",
				"credential": credentialID,
				"error":      err.Error(),
			}).Warn("Failed to remove local passkey KEK")
		}
	}

	return nil
}

// UnlockMethods lists the registered unlock methods from server state.
func (v *Vault) UnlockMethods(ctx context.Context) ([]escrow.MethodInfo, error) {
	return v.svc.Methods(ctx)
}

// RotateRecoveryPhrase re-splits the master key under a fresh mnemonic.
// The old phrase stops working immediately.
func (v *Vault) RotateRecoveryPhrase(ctx context.Context) (string, error) {
	return v.manager.RotateRecoveryPhrase(ctx)
}

// ResetEncryption irreversibly destroys all escrowed shares after an
// exact-match confirmation. Every previously encrypted resource becomes
// permanently unrecoverable.
func (v *Vault) ResetEncryption(ctx context.Context, confirmation string) error {
	return v.manager.ResetEscrow(ctx, confirmation)
}

// SignOut locks the session and purges the persisted device-restore
// entries, leaving server-side escrow intact.
func (v *Vault) SignOut() {
	v.sess.ClearPersisted()
	v.sess.Lock()
}

// Resources returns the per-resource encryption API bound to this vault's
// session.
func (v *Vault) Resources() *resource.Cipher {
	return v.cipher
}

// Session exposes the underlying session for platform integrations that
// need direct control (custom clocks, foreground hooks).
func (v *Vault) Session() *session.Session {
	return v.sess
}

// Escrow exposes the underlying escrow manager for flows beyond the facade
// surface, such as auth-share rotation on token refresh.
func (v *Vault) Escrow() *escrow.Manager {
	return v.manager
}
