package crypto

import (
	"bytes"
	"testing"
)

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}

	if isZeroKey(key) {
		t.Error("GenerateKey() returned zero key")
	}

	key2, _ := GenerateKey()
	if bytes.Equal(key[:], key2[:]) {
		t.Error("Multiple GenerateKey() calls produced identical keys")
	}
}

func TestGenerateNonce(t *testing.T) {
	nonce, err := GenerateNonce()
	if err != nil {
		t.Fatalf("GenerateNonce() error: %v", err)
	}

	zeroNonce := Nonce{}
	if bytes.Equal(nonce[:], zeroNonce[:]) {
		t.Error("GenerateNonce() returned zero nonce")
	}

	nonce2, _ := GenerateNonce()
	if bytes.Equal(nonce[:], nonce2[:]) {
		t.Error("Multiple GenerateNonce() calls produced identical nonces")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}

	cases := []struct {
		name      string
		plaintext []byte
	}{
		{"Single byte", []byte{0x42}},
		{"Short message", []byte("hello")},
		{"Key-sized secret", bytes.Repeat([]byte{0xAB}, 32)},
		{"Larger payload", bytes.Repeat([]byte("keyvault"), 512)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ciphertext, nonce, err := Encrypt(tc.plaintext, key)
			if err != nil {
				t.Fatalf("Encrypt() error: %v", err)
			}

			if len(ciphertext) != len(tc.plaintext)+Overhead {
				t.Errorf("ciphertext length = %d, want %d", len(ciphertext), len(tc.plaintext)+Overhead)
			}

			decrypted, err := Decrypt(ciphertext, nonce, key)
			if err != nil {
				t.Fatalf("Decrypt() error: %v", err)
			}

			if !bytes.Equal(decrypted, tc.plaintext) {
				t.Error("Decrypt() did not return original plaintext")
			}
		})
	}
}

func TestEncryptSemanticSecurity(t *testing.T) {
	key, _ := GenerateKey()
	plaintext := []byte("the same plaintext twice")

	ct1, n1, err := Encrypt(plaintext, key)
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	ct2, n2, err := Encrypt(plaintext, key)
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}

	if bytes.Equal(n1[:], n2[:]) {
		t.Error("Encrypt() reused a nonce")
	}
	if bytes.Equal(ct1, ct2) {
		t.Error("Encrypt() produced identical ciphertexts for the same plaintext")
	}
}

func TestEncryptRejectsEmptyPlaintext(t *testing.T) {
	key, _ := GenerateKey()
	if _, _, err := Encrypt(nil, key); err == nil {
		t.Error("Encrypt() accepted empty plaintext")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	key, _ := GenerateKey()
	plaintext := []byte("integrity protected")

	ciphertext, nonce, err := Encrypt(plaintext, key)
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}

	// Flipping any single bit of the ciphertext must fail authentication.
	for i := range ciphertext {
		tampered := make([]byte, len(ciphertext))
		copy(tampered, ciphertext)
		tampered[i] ^= 0x01

		if _, err := Decrypt(tampered, nonce, key); err != ErrAuthenticationFailed {
			t.Fatalf("Decrypt() of ciphertext tampered at byte %d: got %v, want ErrAuthenticationFailed", i, err)
		}
	}

	// Tampering the nonce must fail as well.
	for i := range nonce {
		badNonce := nonce
		badNonce[i] ^= 0x01

		if _, err := Decrypt(ciphertext, badNonce, key); err != ErrAuthenticationFailed {
			t.Fatalf("Decrypt() with nonce tampered at byte %d: got %v, want ErrAuthenticationFailed", i, err)
		}
	}
}

func TestDecryptWrongKey(t *testing.T) {
	key, _ := GenerateKey()
	wrongKey, _ := GenerateKey()

	ciphertext, nonce, err := Encrypt([]byte("secret"), key)
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}

	if _, err := Decrypt(ciphertext, nonce, wrongKey); err != ErrAuthenticationFailed {
		t.Errorf("Decrypt() with wrong key: got %v, want ErrAuthenticationFailed", err)
	}
}

func TestDecryptTruncatedCiphertext(t *testing.T) {
	key, _ := GenerateKey()

	if _, err := Decrypt([]byte{0x01, 0x02}, Nonce{}, key); err != ErrAuthenticationFailed {
		t.Errorf("Decrypt() of truncated ciphertext: got %v, want ErrAuthenticationFailed", err)
	}
}

func BenchmarkEncrypt(b *testing.B) {
	key, _ := GenerateKey()
	plaintext := bytes.Repeat([]byte{0x5A}, 4096)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := Encrypt(plaintext, key); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecrypt(b *testing.B) {
	key, _ := GenerateKey()
	plaintext := bytes.Repeat([]byte{0x5A}, 4096)
	ciphertext, nonce, _ := Encrypt(plaintext, key)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Decrypt(ciphertext, nonce, key); err != nil {
			b.Fatal(err)
		}
	}
}
