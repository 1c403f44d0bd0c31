package unlock

import (
	"errors"

	"github.com/opd-ai/keyvault/crypto"
)

// MinPasswordLength is enforced by policy at registration time, not by the
// derivation primitive: an already-registered shorter password must still
// derive during unlock.
const MinPasswordLength = 8

// ErrPasswordTooShort is returned when registering a password below the
// policy minimum.
var ErrPasswordTooShort = errors.New("password must be at least 8 characters")

// ValidatePassword applies the registration-time password policy.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}

// DerivePasswordKEK derives the password unlock method's KEK via Argon2id
// using the parameters stored with the escrowed share. The caller must wipe
// the returned KEK immediately after use.
func DerivePasswordKEK(password string, params crypto.PasswordParams) ([32]byte, error) {
	if password == "" {
		return [32]byte{}, errors.New("empty password")
	}

	pw := []byte(password)
	kek, err := crypto.DeriveKeyFromPassword(pw, params)
	crypto.ZeroBytes(pw)
	if err != nil {
		return [32]byte{}, err
	}

	return kek, nil
}
