package unlock

import (
	"errors"
	"fmt"
	"strings"

	bip39 "github.com/tyler-smith/go-bip39"

	"github.com/opd-ai/keyvault/crypto"
)

// RecoveryPhraseWords is the required word count for recovery phrases
// (256 bits of entropy).
const RecoveryPhraseWords = 24

// ErrInvalidRecoveryPhrase is returned when a phrase fails the word-count
// check or, downstream, when the derived KEK fails to decrypt the escrowed
// recovery share.
var ErrInvalidRecoveryPhrase = errors.New("invalid recovery phrase")

// NewRecoveryPhrase generates a fresh 24-word BIP39 mnemonic. It is
// displayed to the user exactly once and never stored.
func NewRecoveryPhrase() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}

	phrase, err := bip39.NewMnemonic(entropy)
	crypto.ZeroBytes(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate mnemonic: %w", err)
	}

	return phrase, nil
}

// ValidateRecoveryPhrase checks the word count only. The checksum is
// deliberately not verified: a wrong-but-well-formed phrase must still
// reach derivation, since correctness is only knowable by the downstream
// decrypt-and-verify step.
func ValidateRecoveryPhrase(phrase string) error {
	if len(strings.Fields(phrase)) != RecoveryPhraseWords {
		return ErrInvalidRecoveryPhrase
	}
	return nil
}

// DeriveRecoveryKEK derives the recovery unlock method's KEK from a
// mnemonic phrase. The first 32 bytes of the BIP39 seed are the KEK; the
// rest of the seed is wiped before returning.
func DeriveRecoveryKEK(phrase string) ([32]byte, error) {
	if err := ValidateRecoveryPhrase(phrase); err != nil {
		return [32]byte{}, err
	}

	normalized := strings.Join(strings.Fields(phrase), " ")
	seed := crypto.DeriveSeedFromMnemonic(normalized)

	var kek [32]byte
	copy(kek[:], seed[:32])
	crypto.WipeSeed(&seed)

	return kek, nil
}
