package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// Argon2id parameter presets. Interactive parameters are acceptable for
// local re-authentication; the canonical server-escrowed copy always uses
// moderate parameters. The preset used for a given share is recorded with
// that share, never assumed.
const (
	// SaltSize is the length of Argon2id salts.
	SaltSize = 16

	// Argon2InteractiveOps and Argon2InteractiveMemory are tuned for quick
	// local unlock prompts (64 MiB).
	Argon2InteractiveOps    = 2
	Argon2InteractiveMemory = 64 * 1024

	// Argon2ModerateOps and Argon2ModerateMemory are tuned for the
	// server-escrowed share (256 MiB).
	Argon2ModerateOps    = 3
	Argon2ModerateMemory = 256 * 1024

	argon2Threads = 4

	// mnemonicSalt and mnemonicIterations match the BIP39 standard so
	// recovery phrases remain portable across independently written clients.
	mnemonicSalt       = "mnemonic"
	mnemonicIterations = 2048
	// MnemonicSeedSize is the full PBKDF2 output length; callers use only
	// the first KeySize bytes as a KEK.
	MnemonicSeedSize = 64
)

// PasswordParams carries the Argon2id inputs stored alongside each
// password-protected share so derivation is reproducible on any device.
type PasswordParams struct {
	Salt     []byte `json:"salt"`
	OpsLimit uint32 `json:"ops_limit"`
	MemLimit uint32 `json:"mem_limit"` // KiB
}

// NewInteractiveParams generates a fresh salt with interactive cost limits.
func NewInteractiveParams() (PasswordParams, error) {
	return newParams(Argon2InteractiveOps, Argon2InteractiveMemory)
}

// NewModerateParams generates a fresh salt with moderate cost limits.
func NewModerateParams() (PasswordParams, error) {
	return newParams(Argon2ModerateOps, Argon2ModerateMemory)
}

func newParams(ops, mem uint32) (PasswordParams, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return PasswordParams{}, fmt.Errorf("failed to generate salt: %w", err)
	}
	return PasswordParams{Salt: salt, OpsLimit: ops, MemLimit: mem}, nil
}

// DeriveKeyFromPassword derives a 32-byte key from a password using Argon2id
// with the supplied parameters. The same password and parameters always
// yield the same key.
func DeriveKeyFromPassword(password []byte, params PasswordParams) ([KeySize]byte, error) {
	if len(params.Salt) == 0 {
		return [KeySize]byte{}, errors.New("missing salt")
	}
	if params.OpsLimit == 0 || params.MemLimit == 0 {
		return [KeySize]byte{}, errors.New("missing cost parameters")
	}

	derived := argon2.IDKey(password, params.Salt, params.OpsLimit, params.MemLimit, argon2Threads, KeySize)

	var key [KeySize]byte
	copy(key[:], derived)
	ZeroBytes(derived)

	return key, nil
}

// DeriveSeedFromMnemonic derives the 64-byte BIP39 seed from a mnemonic
// phrase using PBKDF2-HMAC-SHA512 with 2048 iterations and the standard
// fixed salt. No validity checking is performed here: a wrong phrase still
// derives a seed, and correctness is only knowable by the downstream
// decrypt-and-verify step.
func DeriveSeedFromMnemonic(phrase string) [MnemonicSeedSize]byte {
	derived := pbkdf2.Key([]byte(phrase), []byte(mnemonicSalt), mnemonicIterations, MnemonicSeedSize, sha512.New)

	var seed [MnemonicSeedSize]byte
	copy(seed[:], derived)
	ZeroBytes(derived)

	return seed
}

// HKDFExpand performs the standard two-step HKDF-SHA256 extract-then-expand
// over the input key material. The info string is a fixed, versioned label:
// changing it invalidates all previously derived keys, which is the
// deliberate versioning mechanism for derived-key domains.
func HKDFExpand(ikm, salt []byte, info string, outLen int) ([]byte, error) {
	if len(ikm) == 0 {
		return nil, errors.New("empty input key material")
	}
	if outLen <= 0 || outLen > 255*sha256.Size {
		return nil, fmt.Errorf("invalid output length %d", outLen)
	}

	out := make([]byte, outLen)
	r := hkdf.New(sha256.New, ikm, salt, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}

	return out, nil
}

// HKDFExpandKey is HKDFExpand specialized to a 32-byte key output.
func HKDFExpandKey(ikm, salt []byte, info string) ([KeySize]byte, error) {
	out, err := HKDFExpand(ikm, salt, info, KeySize)
	if err != nil {
		return [KeySize]byte{}, err
	}

	var key [KeySize]byte
	copy(key[:], out)
	ZeroBytes(out)

	return key, nil
}
