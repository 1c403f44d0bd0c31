package escrow

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/keyvault/crypto"
	"github.com/opd-ai/keyvault/session"
	"github.com/opd-ai/keyvault/shamir"
	"github.com/opd-ai/keyvault/storage"
	"github.com/opd-ai/keyvault/unlock"
)

// authShareInfo versions the token-to-KEK derivation for the auth share.
const authShareInfo = "keyvault/auth-share/v1"

// canaryPlaintext is the known-format verification payload encrypted under
// the master key at setup. Decrypting it successfully proves a
// reconstructed master key is the real one before the session unlocks.
var canaryPlaintext = []byte("keyvault-canary-v1")

var (
	// ErrSetupFailed is returned when the initial escrow upload could not
	// be completed. The rollback leaves no half-registered state behind.
	ErrSetupFailed = errors.New("escrow setup failed")

	// ErrAlreadySetUp is returned when SetupNewUser finds existing shares.
	ErrAlreadySetUp = errors.New("escrow already set up")

	// ErrInvalidKeyShares is returned when combined shares fail the
	// downstream canary verification. Shamir reconstruction itself cannot
	// detect a wrong share set, so this check is mandatory.
	ErrInvalidKeyShares = errors.New("combined key shares failed verification")

	// ErrCannotRemoveLastMethod guards against a user locking themselves
	// out entirely.
	ErrCannotRemoveLastMethod = errors.New("cannot remove the last unlock method")

	// ErrConfirmationMismatch is returned when the reset confirmation
	// phrase does not match exactly.
	ErrConfirmationMismatch = errors.New("confirmation phrase does not match")
)

// Policy fixes the Shamir threshold scheme and share-to-method mapping for
// a deployment. The defaults are 2-of-3: share 1 is the auth share, share 2
// the recovery share, share 3 the device share.
type Policy struct {
	Threshold int // k
	Shares    int // n
}

// DefaultPolicy returns the 2-of-3 policy.
func DefaultPolicy() Policy {
	return Policy{Threshold: 2, Shares: 3}
}

// Share index assignment under DefaultPolicy.
const (
	authShareIndex     = 0
	recoveryShareIndex = 1
	deviceShareIndex   = 2
)

// Manager orchestrates master-key creation, splitting, escrow and
// retrieval. It never transmits the master key or an unencrypted share
// off-device.
type Manager struct {
	svc         Service
	sess        *session.Session
	store       storage.SecureStore
	tokens      TokenSource
	policy      Policy
	resetPhrase string
}

// NewManager creates an escrow manager. store may be nil on platforms
// without secure local storage; the device share is then skipped.
func NewManager(svc Service, sess *session.Session, store storage.SecureStore, tokens TokenSource, policy Policy, resetPhrase string) (*Manager, error) {
	if svc == nil {
		return nil, errors.New("escrow service is required")
	}
	if sess == nil {
		return nil, errors.New("session is required")
	}
	if tokens == nil {
		return nil, errors.New("token source is required")
	}
	if policy.Threshold < 2 || policy.Shares < policy.Threshold || policy.Shares > 255 {
		return nil, fmt.Errorf("invalid share policy k=%d n=%d", policy.Threshold, policy.Shares)
	}
	if resetPhrase == "" {
		return nil, errors.New("reset confirmation phrase is required")
	}

	return &Manager{
		svc:         svc,
		sess:        sess,
		store:       store,
		tokens:      tokens,
		policy:      policy,
		resetPhrase: resetPhrase,
	}, nil
}

// authKEK derives the auth-share KEK from the current key-share access
// token. Callers wipe the returned KEK.
func (m *Manager) authKEK(ctx context.Context) ([32]byte, error) {
	token, err := m.tokens.Token(ctx)
	if err != nil {
		return [32]byte{}, fmt.Errorf("fetch access token: %w", err)
	}
	if token == "" {
		return [32]byte{}, errors.New("empty access token")
	}

	tokenBytes := []byte(token)
	kek, err := crypto.HKDFExpandKey(tokenBytes, nil, authShareInfo)
	crypto.ZeroBytes(tokenBytes)
	if err != nil {
		return [32]byte{}, err
	}
	return kek, nil
}

// CheckSetupStatus reports whether escrowed shares already exist for the
// authenticated identity, branching new-user setup vs. returning-user
// unlock.
func (m *Manager) CheckSetupStatus(ctx context.Context) (bool, error) {
	return m.svc.Check(ctx)
}

// SetupNewUser generates the master key and identity key pair, splits the
// master key per policy, escrows the auth and recovery shares, caches the
// device share locally, and unlocks the session. The returned recovery
// mnemonic is displayed to the user exactly once and never stored.
func (m *Manager) SetupNewUser(ctx context.Context) (string, error) {
	exists, err := m.svc.Check(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSetupFailed, err)
	}
	if exists {
		return "", ErrAlreadySetUp
	}

	masterKey, err := crypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSetupFailed, err)
	}
	defer crypto.WipeKey(&masterKey)

	keyPair, err := crypto.GenerateKeyPair()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSetupFailed, err)
	}
	defer crypto.WipeKeyPair(keyPair)

	mnemonic, err := unlock.NewRecoveryPhrase()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSetupFailed, err)
	}

	bundle, deviceShare, err := m.buildBundle(ctx, masterKey, keyPair, mnemonic)
	if err != nil {
		return "", err
	}
	defer deviceShare.Wipe()

	if err := m.svc.Create(ctx, *bundle); err != nil {
		// Best-effort rollback so no half-registered state can leave the
		// account unrecoverable.
		if delErr := m.svc.Delete(ctx); delErr != nil {
			logrus.WithFields(logrus.Fields{
				"function": "SetupNewUser",
				"error":    delErr.Error(),
			}).Warn("Rollback of partial escrow upload failed")
		}
		return "", fmt.Errorf("%w: %v", ErrSetupFailed, err)
	}

	if err := m.cacheDeviceShare(deviceShare); err != nil {
		// The device share is a convenience path; setup still succeeds.
		logrus.WithFields(logrus.Fields{
			"function": "SetupNewUser",
			"error":    err.Error(),
		}).Warn("Failed to cache device share locally")
	}

	if err := m.sess.Unlock(masterKey, keyPair.Private, keyPair.Public); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSetupFailed, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "SetupNewUser",
		"threshold": m.policy.Threshold,
		"shares":    m.policy.Shares,
	}).Info("Escrow setup complete")

	return mnemonic, nil
}

// buildBundle splits the master key and encrypts each share under its
// method KEK. It returns the upload bundle and the device share for local
// caching.
func (m *Manager) buildBundle(ctx context.Context, masterKey [32]byte, keyPair *crypto.KeyPair, mnemonic string) (*SetupBundle, shamir.Share, error) {
	shares, err := shamir.Split(masterKey[:], m.policy.Shares, m.policy.Threshold)
	if err != nil {
		return nil, shamir.Share{}, fmt.Errorf("%w: %v", ErrSetupFailed, err)
	}
	defer func() {
		for i := range shares {
			if i != deviceShareIndex {
				shares[i].Wipe()
			}
		}
	}()

	authKEK, err := m.authKEK(ctx)
	if err != nil {
		return nil, shamir.Share{}, fmt.Errorf("%w: %v", ErrSetupFailed, err)
	}
	authShare, err := encryptShare(MethodAuth, shares[authShareIndex], authKEK)
	crypto.WipeKey(&authKEK)
	if err != nil {
		return nil, shamir.Share{}, fmt.Errorf("%w: %v", ErrSetupFailed, err)
	}

	recoveryKEK, err := unlock.DeriveRecoveryKEK(mnemonic)
	if err != nil {
		return nil, shamir.Share{}, fmt.Errorf("%w: %v", ErrSetupFailed, err)
	}
	recoveryShare, err := encryptShare(MethodRecovery, shares[recoveryShareIndex], recoveryKEK)
	crypto.WipeKey(&recoveryKEK)
	if err != nil {
		return nil, shamir.Share{}, fmt.Errorf("%w: %v", ErrSetupFailed, err)
	}

	verifierCiphertext, verifierNonce, err := crypto.Encrypt(canaryPlaintext, masterKey)
	if err != nil {
		return nil, shamir.Share{}, fmt.Errorf("%w: %v", ErrSetupFailed, err)
	}

	encIdentity, identityNonce, err := crypto.Encrypt(keyPair.Private[:], masterKey)
	if err != nil {
		return nil, shamir.Share{}, fmt.Errorf("%w: %v", ErrSetupFailed, err)
	}

	bundle := &SetupBundle{
		Shares: []EscrowedShare{*authShare, *recoveryShare},
		Keys: AccountKeys{
			IdentityPublic:           keyPair.Public,
			EncryptedIdentityPrivate: encIdentity,
			IdentityNonce:            identityNonce,
			VerifierCiphertext:       verifierCiphertext,
			VerifierNonce:            verifierNonce,
		},
	}

	// Policies without a third share skip the local device cache.
	var deviceShare shamir.Share
	if m.policy.Shares > deviceShareIndex {
		deviceShare = shares[deviceShareIndex]
	}

	return bundle, deviceShare, nil
}

// encryptShare wraps a raw share under a method KEK.
func encryptShare(kind MethodKind, share shamir.Share, kek [32]byte) (*EscrowedShare, error) {
	wire := share.Bytes()
	ciphertext, nonce, err := crypto.Encrypt(wire, kek)
	crypto.ZeroBytes(wire)
	if err != nil {
		return nil, err
	}

	return &EscrowedShare{
		ID:         uuid.New(),
		Kind:       kind,
		Ciphertext: ciphertext,
		Nonce:      nonce,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// cacheDeviceShare stores the device share locally: the ciphertext in plain
// storage, its KEK behind the biometric gate.
func (m *Manager) cacheDeviceShare(share shamir.Share) error {
	if m.store == nil || share.X == 0 {
		return nil
	}

	deviceKEK, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	defer crypto.WipeKey(&deviceKEK)

	wire := share.Bytes()
	ciphertext, nonce, err := crypto.Encrypt(wire, deviceKEK)
	crypto.ZeroBytes(wire)
	if err != nil {
		return err
	}

	if err := m.store.Put(storage.KeyDeviceKEK, deviceKEK[:], storage.GateBiometric); err != nil {
		return err
	}

	blob := make([]byte, len(nonce)+len(ciphertext))
	copy(blob, nonce[:])
	copy(blob[len(nonce):], ciphertext)

	if err := m.store.Put(storage.KeyDeviceShare, blob, storage.GateNone); err != nil {
		_ = m.store.Delete(storage.KeyDeviceKEK)
		return err
	}

	return nil
}

// AuthShareBytes fetches and decrypts the auth share, returning the raw
// share wire bytes. Callers wipe the result.
func (m *Manager) AuthShareBytes(ctx context.Context) ([]byte, error) {
	escrowed, err := m.svc.Share(ctx, MethodAuth, "")
	if err != nil {
		return nil, err
	}

	kek, err := m.authKEK(ctx)
	if err != nil {
		return nil, err
	}
	plaintext, err := crypto.Decrypt(escrowed.Ciphertext, escrowed.Nonce, kek)
	crypto.WipeKey(&kek)
	if err != nil {
		return nil, err
	}

	return plaintext, nil
}

// DeviceShareBytes decrypts the locally cached device share. The biometric
// gate fires when the device KEK is read.
func (m *Manager) DeviceShareBytes() ([]byte, error) {
	if m.store == nil {
		return nil, storage.ErrNotFound
	}

	rawKEK, err := m.store.Get(storage.KeyDeviceKEK)
	if err != nil {
		return nil, err
	}
	if len(rawKEK) != crypto.KeySize {
		crypto.ZeroBytes(rawKEK)
		return nil, errors.New("corrupt device KEK entry")
	}
	var kek [32]byte
	copy(kek[:], rawKEK)
	crypto.ZeroBytes(rawKEK)
	defer crypto.WipeKey(&kek)

	blob, err := m.store.Get(storage.KeyDeviceShare)
	if err != nil {
		return nil, err
	}
	if len(blob) < crypto.NonceSize+crypto.Overhead {
		return nil, errors.New("corrupt device share entry")
	}

	var nonce crypto.Nonce
	copy(nonce[:], blob[:crypto.NonceSize])

	return crypto.Decrypt(blob[crypto.NonceSize:], nonce, kek)
}

// VerifyMasterKey confirms a reconstructed master key by decrypting the
// escrowed canary. Returns ErrInvalidKeyShares on mismatch.
func (m *Manager) VerifyMasterKey(ctx context.Context, masterKey [32]byte) error {
	keys, err := m.svc.AccountKeys(ctx)
	if err != nil {
		return err
	}

	plaintext, err := crypto.Decrypt(keys.VerifierCiphertext, keys.VerifierNonce, masterKey)
	if err != nil {
		return ErrInvalidKeyShares
	}

	match := subtle.ConstantTimeCompare(plaintext, canaryPlaintext) == 1
	crypto.ZeroBytes(plaintext)
	if !match {
		return ErrInvalidKeyShares
	}
	return nil
}

// IdentityKeys recovers the identity key pair wrapped under the master key.
func (m *Manager) IdentityKeys(ctx context.Context, masterKey [32]byte) (*crypto.KeyPair, error) {
	keys, err := m.svc.AccountKeys(ctx)
	if err != nil {
		return nil, err
	}

	plaintext, err := crypto.Decrypt(keys.EncryptedIdentityPrivate, keys.IdentityNonce, masterKey)
	if err != nil {
		return nil, err
	}
	if len(plaintext) != crypto.KeySize {
		crypto.ZeroBytes(plaintext)
		return nil, errors.New("corrupt identity key record")
	}

	kp := &crypto.KeyPair{Public: keys.IdentityPublic}
	copy(kp.Private[:], plaintext)
	crypto.ZeroBytes(plaintext)

	return kp, nil
}

// RegisterUnlockMethod escrows a fresh master-key copy under the supplied
// KEK, tagged with the method's metadata. The session must already be
// unlocked: a new unlock method can only be registered with the master key
// in hand. The KEK is wiped before returning.
func (m *Manager) RegisterUnlockMethod(ctx context.Context, info MethodInfo, kek [32]byte, params *crypto.PasswordParams) error {
	defer crypto.WipeKey(&kek)

	masterKey, ok := m.sess.MasterKey()
	if !ok {
		return session.ErrSessionLocked
	}
	defer crypto.WipeKey(&masterKey)

	ciphertext, nonce, err := crypto.Encrypt(masterKey[:], kek)
	if err != nil {
		return err
	}

	share := EscrowedShare{
		ID:           uuid.New(),
		Kind:         info.Kind,
		CredentialID: info.CredentialID,
		UsesPRF:      info.UsesPRF,
		Params:       params,
		Ciphertext:   ciphertext,
		Nonce:        nonce,
		CreatedAt:    time.Now().UTC(),
	}

	if err := m.svc.PutShare(ctx, share); err != nil {
		return fmt.Errorf("failed to escrow %s method: %w", info.Kind, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "RegisterUnlockMethod",
		"method":   string(info.Kind),
	}).Info("Unlock method registered")

	return nil
}

// RemoveUnlockMethod deletes the server-side share for a method. It refuses
// to remove the last remaining user unlock method.
func (m *Manager) RemoveUnlockMethod(ctx context.Context, kind MethodKind, credentialID string) error {
	if !kind.UserUnlockMethod() {
		return fmt.Errorf("%s is not a removable unlock method", kind)
	}

	methods, err := m.svc.Methods(ctx)
	if err != nil {
		return err
	}

	remaining := 0
	for _, info := range methods {
		if info.Kind.UserUnlockMethod() {
			remaining++
		}
	}
	if remaining <= 1 {
		return ErrCannotRemoveLastMethod
	}

	if err := m.svc.RemoveShare(ctx, kind, credentialID); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "RemoveUnlockMethod",
		"method":   string(kind),
	}).Info("Unlock method removed")

	return nil
}

// ResetEscrow destroys all escrowed shares and unlock methods after an
// exact-match confirmation. Every previously encrypted resource becomes
// permanently undecryptable; this is intentional and irreversible.
func (m *Manager) ResetEscrow(ctx context.Context, confirmation string) error {
	if subtle.ConstantTimeCompare([]byte(confirmation), []byte(m.resetPhrase)) != 1 {
		return ErrConfirmationMismatch
	}

	if err := m.svc.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete escrow: %w", err)
	}

	m.sess.ClearPersisted()
	m.sess.Lock()

	logrus.WithFields(logrus.Fields{
		"function": "ResetEscrow",
	}).Warn("Escrow reset: all encrypted resources are now unrecoverable")

	return nil
}

// RotateAuthShare re-encrypts the auth share under the KEK derived from
// the current access token, with a fresh nonce. Requires an unlocked
// session as a policy gate even though only the share bytes are touched.
func (m *Manager) RotateAuthShare(ctx context.Context) error {
	if !m.sess.IsUnlocked() {
		return session.ErrSessionLocked
	}

	shareBytes, err := m.AuthShareBytes(ctx)
	if err != nil {
		return err
	}
	defer crypto.ZeroBytes(shareBytes)

	kek, err := m.authKEK(ctx)
	if err != nil {
		return err
	}
	ciphertext, nonce, err := crypto.Encrypt(shareBytes, kek)
	crypto.WipeKey(&kek)
	if err != nil {
		return err
	}

	return m.svc.PutShare(ctx, EscrowedShare{
		ID:         uuid.New(),
		Kind:       MethodAuth,
		Ciphertext: ciphertext,
		Nonce:      nonce,
		CreatedAt:  time.Now().UTC(),
	})
}

// RotateRecoveryPhrase re-splits the master key and escrows the new shares
// under a freshly generated mnemonic. The old phrase stops working, as do
// device shares cached on other devices (their next combine fails canary
// verification and falls back to another unlock method).
func (m *Manager) RotateRecoveryPhrase(ctx context.Context) (string, error) {
	masterKey, ok := m.sess.MasterKey()
	if !ok {
		return "", session.ErrSessionLocked
	}
	defer crypto.WipeKey(&masterKey)

	priv, _ := m.sess.PrivateKey()
	pub, _ := m.sess.PublicKey()
	keyPair := &crypto.KeyPair{Public: pub, Private: priv}
	defer crypto.WipeKeyPair(keyPair)

	mnemonic, err := unlock.NewRecoveryPhrase()
	if err != nil {
		return "", err
	}

	bundle, deviceShare, err := m.buildBundle(ctx, masterKey, keyPair, mnemonic)
	if err != nil {
		return "", err
	}
	defer deviceShare.Wipe()

	for _, share := range bundle.Shares {
		if err := m.svc.PutShare(ctx, share); err != nil {
			return "", fmt.Errorf("failed to rotate %s share: %w", share.Kind, err)
		}
	}

	if err := m.cacheDeviceShare(deviceShare); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "RotateRecoveryPhrase",
			"error":    err.Error(),
		}).Warn("Failed to refresh local device share")
	}

	logrus.WithFields(logrus.Fields{
		"function": "RotateRecoveryPhrase",
	}).Info("Recovery phrase rotated")

	return mnemonic, nil
}

// Service exposes the underlying escrow service for callers implementing
// additional flows on top of the manager.
func (m *Manager) Service() Service { return m.svc }

// Policy returns the configured share policy.
func (m *Manager) Policy() Policy { return m.policy }
