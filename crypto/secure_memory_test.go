package crypto

import (
	"bytes"
	"testing"
)

func TestSecureWipe(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5}

	if err := SecureWipe(data); err != nil {
		t.Fatalf("SecureWipe() error: %v", err)
	}

	if !bytes.Equal(data, make([]byte, 5)) {
		t.Error("SecureWipe() left non-zero bytes")
	}
}

func TestSecureWipeNil(t *testing.T) {
	if err := SecureWipe(nil); err == nil {
		t.Error("SecureWipe(nil) expected error but got nil")
	}
}

func TestWipeKey(t *testing.T) {
	key := [KeySize]byte{1, 2, 3}

	WipeKey(&key)

	if !isZeroKey(key) {
		t.Error("WipeKey() left non-zero bytes")
	}

	// Must not panic on nil.
	WipeKey(nil)
}

func TestWipeSeed(t *testing.T) {
	var seed [MnemonicSeedSize]byte
	seed[0] = 0xFF
	seed[63] = 0xFF

	WipeSeed(&seed)

	if !bytes.Equal(seed[:], make([]byte, MnemonicSeedSize)) {
		t.Error("WipeSeed() left non-zero bytes")
	}

	WipeSeed(nil)
}

func TestWipeKeyPair(t *testing.T) {
	keyPair, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error: %v", err)
	}

	if err := WipeKeyPair(keyPair); err != nil {
		t.Fatalf("WipeKeyPair() error: %v", err)
	}

	if !isZeroKey(keyPair.Private) {
		t.Error("WipeKeyPair() left non-zero private key")
	}
}

func TestWipeKeyPairNil(t *testing.T) {
	if err := WipeKeyPair(nil); err == nil {
		t.Error("WipeKeyPair(nil) expected error but got nil")
	}
}
