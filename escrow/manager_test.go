package escrow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/keyvault/crypto"
	"github.com/opd-ai/keyvault/session"
	"github.com/opd-ai/keyvault/shamir"
	"github.com/opd-ai/keyvault/storage"
	"github.com/opd-ai/keyvault/unlock"
)

const testResetPhrase = "delete my encrypted data"

type fixture struct {
	svc   *MemoryService
	sess  *session.Session
	store *storage.MemoryStore
	mgr   *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	svc := NewMemoryService()
	store := storage.NewMemoryStore()
	sess := session.New(store, time.Minute)

	tokens := TokenSourceFunc(func(ctx context.Context) (string, error) {
		return "stable-key-share-access-token", nil
	})

	mgr, err := NewManager(svc, sess, store, tokens, DefaultPolicy(), testResetPhrase)
	require.NoError(t, err)

	return &fixture{svc: svc, sess: sess, store: store, mgr: mgr}
}

func TestNewManagerValidation(t *testing.T) {
	svc := NewMemoryService()
	sess := session.New(nil, time.Minute)
	tokens := TokenSourceFunc(func(ctx context.Context) (string, error) { return "t", nil })

	cases := []struct {
		name string
		run  func() error
	}{
		{"Nil service", func() error {
			_, err := NewManager(nil, sess, nil, tokens, DefaultPolicy(), testResetPhrase)
			return err
		}},
		{"Nil session", func() error {
			_, err := NewManager(svc, nil, nil, tokens, DefaultPolicy(), testResetPhrase)
			return err
		}},
		{"Nil token source", func() error {
			_, err := NewManager(svc, sess, nil, nil, DefaultPolicy(), testResetPhrase)
			return err
		}},
		{"Bad policy", func() error {
			_, err := NewManager(svc, sess, nil, tokens, Policy{Threshold: 1, Shares: 3}, testResetPhrase)
			return err
		}},
		{"Empty reset phrase", func() error {
			_, err := NewManager(svc, sess, nil, tokens, DefaultPolicy(), "")
			return err
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.run())
		})
	}
}

func TestSetupNewUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exists, err := f.mgr.CheckSetupStatus(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	mnemonic, err := f.mgr.SetupNewUser(ctx)
	require.NoError(t, err)
	assert.Len(t, strings.Fields(mnemonic), unlock.RecoveryPhraseWords)

	assert.True(t, f.sess.IsUnlocked(), "setup must leave the session unlocked")

	exists, err = f.mgr.CheckSetupStatus(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	// Auth and recovery shares escrowed; device share cached locally.
	_, err = f.svc.Share(ctx, MethodAuth, "")
	assert.NoError(t, err)
	_, err = f.svc.Share(ctx, MethodRecovery, "")
	assert.NoError(t, err)
	_, err = f.store.Get(storage.KeyDeviceShare)
	assert.NoError(t, err)
	_, err = f.store.Get(storage.KeyDeviceKEK)
	assert.NoError(t, err)
}

func TestSetupNewUserAlreadySetUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.SetupNewUser(ctx)
	require.NoError(t, err)

	_, err = f.mgr.SetupNewUser(ctx)
	assert.ErrorIs(t, err, ErrAlreadySetUp)
}

func TestSetupNewUserUploadFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.svc.CreateHook = func(bundle SetupBundle) error {
		return errors.New("upload interrupted")
	}

	_, err := f.mgr.SetupNewUser(ctx)
	assert.ErrorIs(t, err, ErrSetupFailed)
	assert.False(t, f.sess.IsUnlocked())

	// No half-registered state survives a failed upload.
	exists, err := f.mgr.CheckSetupStatus(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSharesReconstructMasterKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mnemonic, err := f.mgr.SetupNewUser(ctx)
	require.NoError(t, err)

	master, ok := f.sess.MasterKey()
	require.True(t, ok)

	authBytes, err := f.mgr.AuthShareBytes(ctx)
	require.NoError(t, err)
	authShare, err := shamir.ParseShare(authBytes)
	require.NoError(t, err)

	recovered, err := f.svc.Share(ctx, MethodRecovery, "")
	require.NoError(t, err)
	kek, err := unlock.DeriveRecoveryKEK(mnemonic)
	require.NoError(t, err)
	recoveryBytes, err := crypto.Decrypt(recovered.Ciphertext, recovered.Nonce, kek)
	require.NoError(t, err)
	recoveryShare, err := shamir.ParseShare(recoveryBytes)
	require.NoError(t, err)

	combined, err := shamir.Combine([]shamir.Share{authShare, recoveryShare})
	require.NoError(t, err)
	assert.Equal(t, master[:], combined)
}

func TestDeviceShareReconstructsMasterKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.SetupNewUser(ctx)
	require.NoError(t, err)

	master, ok := f.sess.MasterKey()
	require.True(t, ok)

	deviceBytes, err := f.mgr.DeviceShareBytes()
	require.NoError(t, err)
	deviceShare, err := shamir.ParseShare(deviceBytes)
	require.NoError(t, err)

	authBytes, err := f.mgr.AuthShareBytes(ctx)
	require.NoError(t, err)
	authShare, err := shamir.ParseShare(authBytes)
	require.NoError(t, err)

	combined, err := shamir.Combine([]shamir.Share{deviceShare, authShare})
	require.NoError(t, err)
	assert.Equal(t, master[:], combined)
}

func TestVerifyMasterKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.SetupNewUser(ctx)
	require.NoError(t, err)

	master, ok := f.sess.MasterKey()
	require.True(t, ok)

	assert.NoError(t, f.mgr.VerifyMasterKey(ctx, master))

	wrong, err := crypto.GenerateKey()
	require.NoError(t, err)
	assert.ErrorIs(t, f.mgr.VerifyMasterKey(ctx, wrong), ErrInvalidKeyShares)
}

func TestIdentityKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.SetupNewUser(ctx)
	require.NoError(t, err)

	master, ok := f.sess.MasterKey()
	require.True(t, ok)
	wantPriv, ok := f.sess.PrivateKey()
	require.True(t, ok)
	wantPub, ok := f.sess.PublicKey()
	require.True(t, ok)

	kp, err := f.mgr.IdentityKeys(ctx, master)
	require.NoError(t, err)
	assert.Equal(t, wantPriv, kp.Private)
	assert.Equal(t, wantPub, kp.Public)
}

func TestRegisterUnlockMethodRequiresUnlockedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.SetupNewUser(ctx)
	require.NoError(t, err)
	f.sess.Lock()

	kek, err := crypto.GenerateKey()
	require.NoError(t, err)

	err = f.mgr.RegisterUnlockMethod(ctx, MethodInfo{Kind: MethodPassword}, kek, nil)
	assert.ErrorIs(t, err, session.ErrSessionLocked)
}

func TestRegisterAndRemoveUnlockMethod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.SetupNewUser(ctx)
	require.NoError(t, err)

	// Only the recovery method is registered server-side after setup;
	// removing it would lock the user out.
	err = f.mgr.RemoveUnlockMethod(ctx, MethodRecovery, "")
	assert.ErrorIs(t, err, ErrCannotRemoveLastMethod)

	params, err := crypto.NewModerateParams()
	require.NoError(t, err)
	kek, err := unlock.DerivePasswordKEK("correct-horse-battery", params)
	require.NoError(t, err)

	err = f.mgr.RegisterUnlockMethod(ctx, MethodInfo{Kind: MethodPassword}, kek, &params)
	require.NoError(t, err)

	// The escrowed copy decrypts back to the master key with the same KEK.
	master, ok := f.sess.MasterKey()
	require.True(t, ok)
	share, err := f.svc.Share(ctx, MethodPassword, "")
	require.NoError(t, err)
	require.NotNil(t, share.Params)

	kek2, err := unlock.DerivePasswordKEK("correct-horse-battery", *share.Params)
	require.NoError(t, err)
	plaintext, err := crypto.Decrypt(share.Ciphertext, share.Nonce, kek2)
	require.NoError(t, err)
	assert.Equal(t, master[:], plaintext)

	// With two methods registered, removal is allowed again.
	require.NoError(t, f.mgr.RemoveUnlockMethod(ctx, MethodPassword, ""))
	_, err = f.svc.Share(ctx, MethodPassword, "")
	assert.ErrorIs(t, err, ErrShareNotFound)
}

func TestRemoveUnlockMethodRejectsAuthShare(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.SetupNewUser(ctx)
	require.NoError(t, err)

	assert.Error(t, f.mgr.RemoveUnlockMethod(ctx, MethodAuth, ""))
}

func TestResetEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.SetupNewUser(ctx)
	require.NoError(t, err)

	err = f.mgr.ResetEscrow(ctx, "delete my data")
	assert.ErrorIs(t, err, ErrConfirmationMismatch)

	require.NoError(t, f.mgr.ResetEscrow(ctx, testResetPhrase))

	exists, err := f.mgr.CheckSetupStatus(ctx)
	require.NoError(t, err)
	assert.False(t, exists, "reset must delete all escrowed shares")
	assert.False(t, f.sess.IsUnlocked(), "reset must lock the session")

	_, err = f.store.Get(storage.KeyDeviceShare)
	assert.ErrorIs(t, err, storage.ErrNotFound, "reset must clear the persisted device share")
}

func TestRotateAuthShare(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.SetupNewUser(ctx)
	require.NoError(t, err)

	before, err := f.svc.Share(ctx, MethodAuth, "")
	require.NoError(t, err)

	require.NoError(t, f.mgr.RotateAuthShare(ctx))

	after, err := f.svc.Share(ctx, MethodAuth, "")
	require.NoError(t, err)
	assert.NotEqual(t, before.Nonce, after.Nonce, "rotation must use a fresh nonce")

	// The rotated share still yields the same share bytes.
	shareBytes, err := f.mgr.AuthShareBytes(ctx)
	require.NoError(t, err)
	_, err = shamir.ParseShare(shareBytes)
	assert.NoError(t, err)
}

func TestRotateRecoveryPhrase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	oldMnemonic, err := f.mgr.SetupNewUser(ctx)
	require.NoError(t, err)

	master, ok := f.sess.MasterKey()
	require.True(t, ok)

	newMnemonic, err := f.mgr.RotateRecoveryPhrase(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, oldMnemonic, newMnemonic)

	// The old phrase no longer decrypts the recovery share.
	share, err := f.svc.Share(ctx, MethodRecovery, "")
	require.NoError(t, err)
	oldKEK, err := unlock.DeriveRecoveryKEK(oldMnemonic)
	require.NoError(t, err)
	_, err = crypto.Decrypt(share.Ciphertext, share.Nonce, oldKEK)
	assert.ErrorIs(t, err, crypto.ErrAuthenticationFailed)

	// The new phrase reconstructs the same master key.
	newKEK, err := unlock.DeriveRecoveryKEK(newMnemonic)
	require.NoError(t, err)
	recoveryBytes, err := crypto.Decrypt(share.Ciphertext, share.Nonce, newKEK)
	require.NoError(t, err)
	recoveryShare, err := shamir.ParseShare(recoveryBytes)
	require.NoError(t, err)

	authBytes, err := f.mgr.AuthShareBytes(ctx)
	require.NoError(t, err)
	authShare, err := shamir.ParseShare(authBytes)
	require.NoError(t, err)

	combined, err := shamir.Combine([]shamir.Share{authShare, recoveryShare})
	require.NoError(t, err)
	assert.Equal(t, master[:], combined)
}

func TestRotateRecoveryPhraseRequiresUnlockedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.SetupNewUser(ctx)
	require.NoError(t, err)
	f.sess.Lock()

	_, err = f.mgr.RotateRecoveryPhrase(ctx)
	assert.ErrorIs(t, err, session.ErrSessionLocked)
}
