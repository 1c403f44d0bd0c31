package unlock

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/keyvault/crypto"
	"github.com/opd-ai/keyvault/storage"
)

// passkeyPRFInfo versions the PRF-to-KEK derivation. Changing it
// invalidates every passkey-escrowed share, which is the deliberate
// mechanism for retiring the derivation scheme.
const passkeyPRFInfo = "keyvault/passkey-prf/v1"

// localPasskeyKEKPrefix namespaces locally stored fallback KEKs per
// credential in secure storage.
const localPasskeyKEKPrefix = "keyvault/passkey-kek/"

// ErrPasskeyAuthenticationFailed is returned when the WebAuthn ceremony
// fails for any reason other than user cancellation.
var ErrPasskeyAuthenticationFailed = errors.New("passkey authentication failed")

// ErrPasskeyCancelled is returned when the user backs out of the platform
// prompt. Cancellation is not an error state and must not surface as one.
var ErrPasskeyCancelled = errors.New("passkey authentication cancelled")

// Authenticator abstracts the platform WebAuthn ceremony. The platform
// performs registration and assertion; the core only consumes credential
// IDs and PRF outputs. Implementations return ErrPasskeyCancelled when the
// user dismisses the prompt.
type Authenticator interface {
	// PRF runs an assertion for the credential and returns the PRF
	// extension output for the given salt, or an error if the
	// authenticator lacks PRF support.
	PRF(ctx context.Context, credentialID string, salt []byte) ([]byte, error)
}

// AuthenticatorFunc is a function type that implements Authenticator.
type AuthenticatorFunc func(ctx context.Context, credentialID string, salt []byte) ([]byte, error)

// PRF implements Authenticator for AuthenticatorFunc.
func (f AuthenticatorFunc) PRF(ctx context.Context, credentialID string, salt []byte) ([]byte, error) {
	return f(ctx, credentialID, salt)
}

// PasskeySubPath identifies which passkey key path a credential uses.
// The distinction matters to users: PRF-derived KEKs travel with a synced
// passkey, locally stored fallback KEKs do not.
type PasskeySubPath uint8

const (
	// PasskeyPRF derives the KEK from the authenticator's PRF output.
	PasskeyPRF PasskeySubPath = iota
	// PasskeyLocal stores a randomly generated KEK in biometric-gated
	// platform storage. Registering on a second device requires a
	// separate registration.
	PasskeyLocal
)

// Portable reports whether the sub-path's KEK follows a synced passkey to
// other devices.
func (p PasskeySubPath) Portable() bool { return p == PasskeyPRF }

// String returns a user-presentable name for the sub-path.
func (p PasskeySubPath) String() string {
	switch p {
	case PasskeyPRF:
		return "prf"
	case PasskeyLocal:
		return "local"
	default:
		return "unknown"
	}
}

// prfSalt is the fixed PRF evaluation input; the KEK domain separation
// happens in the HKDF info string, not here.
var prfSalt = []byte("keyvault-kek")

// DerivePasskeyKEK runs the PRF ceremony for the credential and expands the
// output into a KEK. The same synced passkey yields the same KEK on any of
// the user's devices.
func DerivePasskeyKEK(ctx context.Context, auth Authenticator, credentialID string) ([32]byte, error) {
	if auth == nil {
		return [32]byte{}, ErrPasskeyAuthenticationFailed
	}

	prf, err := auth.PRF(ctx, credentialID, prfSalt)
	if err != nil {
		if errors.Is(err, ErrPasskeyCancelled) {
			return [32]byte{}, err
		}
		logrus.WithFields(logrus.Fields{
			"function":   "DerivePasskeyKEK",
			"credential": credentialID,
			"error":      err.Error(),
		}).Warn("PRF assertion failed")
		return [32]byte{}, fmt.Errorf("%w: %v", ErrPasskeyAuthenticationFailed, err)
	}

	kek, err := crypto.HKDFExpandKey(prf, nil, passkeyPRFInfo)
	crypto.ZeroBytes(prf)
	if err != nil {
		return [32]byte{}, fmt.Errorf("%w: %v", ErrPasskeyAuthenticationFailed, err)
	}

	return kek, nil
}

// GenerateLocalPasskeyKEK creates and stores a random KEK for a non-PRF
// credential, gated behind biometric authentication. The KEK never leaves
// this device.
func GenerateLocalPasskeyKEK(store storage.SecureStore, credentialID string) ([32]byte, error) {
	if store == nil {
		return [32]byte{}, errors.New("no secure storage available")
	}

	kek, err := crypto.GenerateKey()
	if err != nil {
		return [32]byte{}, err
	}

	if err := store.Put(localPasskeyKEKPrefix+credentialID, kek[:], storage.GateBiometric); err != nil {
		crypto.WipeKey(&kek)
		return [32]byte{}, fmt.Errorf("failed to store local passkey KEK: %w", err)
	}

	return kek, nil
}

// LoadLocalPasskeyKEK retrieves a previously generated local-fallback KEK.
// A denied biometric gate maps to ErrPasskeyCancelled.
func LoadLocalPasskeyKEK(store storage.SecureStore, credentialID string) ([32]byte, error) {
	if store == nil {
		return [32]byte{}, ErrPasskeyAuthenticationFailed
	}

	raw, err := store.Get(localPasskeyKEKPrefix + credentialID)
	if err != nil {
		if errors.Is(err, storage.ErrGateDenied) {
			return [32]byte{}, ErrPasskeyCancelled
		}
		return [32]byte{}, fmt.Errorf("%w: %v", ErrPasskeyAuthenticationFailed, err)
	}
	if len(raw) != crypto.KeySize {
		crypto.ZeroBytes(raw)
		return [32]byte{}, ErrPasskeyAuthenticationFailed
	}

	var kek [32]byte
	copy(kek[:], raw)
	crypto.ZeroBytes(raw)

	return kek, nil
}

// RemoveLocalPasskeyKEK deletes the locally stored fallback KEK for a
// credential.
func RemoveLocalPasskeyKEK(store storage.SecureStore, credentialID string) error {
	if store == nil {
		return nil
	}
	return store.Delete(localPasskeyKEKPrefix + credentialID)
}
