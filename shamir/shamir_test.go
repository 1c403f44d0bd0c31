package shamir

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func randomSecret(t *testing.T, n int) []byte {
	t.Helper()
	secret := make([]byte, n)
	if _, err := rand.Read(secret); err != nil {
		t.Fatalf("rand.Read() error: %v", err)
	}
	return secret
}

func TestSplitCombineRoundTrip(t *testing.T) {
	lengths := []int{1, 2, 16, 32, 64, 128}

	for _, length := range lengths {
		secret := randomSecret(t, length)

		for n := 2; n <= 20; n++ {
			for k := 2; k <= n; k++ {
				shares, err := Split(secret, n, k)
				if err != nil {
					t.Fatalf("Split(len=%d, n=%d, k=%d) error: %v", length, n, k, err)
				}

				if len(shares) != n {
					t.Fatalf("Split() returned %d shares, want %d", len(shares), n)
				}

				// Any k-subset must reconstruct. Use a rotating window so
				// different subsets are exercised without combinatorial blowup.
				for start := 0; start < n; start++ {
					subset := make([]Share, 0, k)
					for i := 0; i < k; i++ {
						subset = append(subset, shares[(start+i)%n])
					}

					combined, err := Combine(subset)
					if err != nil {
						t.Fatalf("Combine(len=%d, n=%d, k=%d, start=%d) error: %v", length, n, k, start, err)
					}
					if !bytes.Equal(combined, secret) {
						t.Fatalf("Combine(len=%d, n=%d, k=%d, start=%d) did not reconstruct the secret", length, n, k, start)
					}
				}
			}
		}
	}
}

func TestSplitShareShape(t *testing.T) {
	secret := randomSecret(t, 32)

	shares, err := Split(secret, 3, 2)
	if err != nil {
		t.Fatalf("Split() error: %v", err)
	}

	for i, s := range shares {
		if s.X != byte(i+1) {
			t.Errorf("share %d has x-coordinate %d, want %d", i, s.X, i+1)
		}
		if len(s.Y) != len(secret) {
			t.Errorf("share %d has %d evaluated bytes, want %d", i, len(s.Y), len(secret))
		}
		if got := s.Bytes(); len(got) != len(secret)+1 || got[0] != s.X {
			t.Errorf("share %d wire shape wrong: len=%d first=%d", i, len(got), got[0])
		}
	}
}

func TestSplitValidation(t *testing.T) {
	secret := []byte{0x42}

	cases := []struct {
		name string
		n, k int
	}{
		{"n too small", 1, 1},
		{"k below 2", 3, 1},
		{"k above n", 3, 4},
		{"n above 255", 256, 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Split(secret, tc.n, tc.k); err == nil {
				t.Errorf("Split(n=%d, k=%d) accepted invalid policy", tc.n, tc.k)
			}
		})
	}

	if _, err := Split(nil, 3, 2); err == nil {
		t.Error("Split() accepted empty secret")
	}
}

func TestSplitNoRedundancy(t *testing.T) {
	// n == k is a valid policy with no redundancy.
	secret := randomSecret(t, 32)

	shares, err := Split(secret, 5, 5)
	if err != nil {
		t.Fatalf("Split(n=5, k=5) error: %v", err)
	}

	combined, err := Combine(shares)
	if err != nil {
		t.Fatalf("Combine() error: %v", err)
	}
	if !bytes.Equal(combined, secret) {
		t.Error("Combine() did not reconstruct with n == k")
	}
}

func TestSingleByteSecret(t *testing.T) {
	secret := []byte{0xA7}

	shares, err := Split(secret, 3, 2)
	if err != nil {
		t.Fatalf("Split() error: %v", err)
	}

	combined, err := Combine(shares[:2])
	if err != nil {
		t.Fatalf("Combine() error: %v", err)
	}
	if !bytes.Equal(combined, secret) {
		t.Errorf("Combine() = %v, want %v", combined, secret)
	}
}

// TestThresholdSecrecy is a statistical regression guard, not a proof:
// combining fewer than k shares must never yield the original secret.
func TestThresholdSecrecy(t *testing.T) {
	secret := randomSecret(t, 32)

	for trial := 0; trial < 50; trial++ {
		shares, err := Split(secret, 5, 3)
		if err != nil {
			t.Fatalf("Split() error: %v", err)
		}

		combined, err := Combine(shares[:2])
		if err != nil {
			t.Fatalf("Combine() error: %v", err)
		}

		if bytes.Equal(combined, secret) {
			t.Fatal("combining k-1 shares reconstructed the original secret")
		}
	}
}

func TestCombineValidation(t *testing.T) {
	secret := randomSecret(t, 16)
	shares, err := Split(secret, 3, 2)
	if err != nil {
		t.Fatalf("Split() error: %v", err)
	}

	t.Run("Too few shares", func(t *testing.T) {
		if _, err := Combine(shares[:1]); err == nil {
			t.Error("Combine() accepted a single share")
		}
	})

	t.Run("Duplicate x-coordinates", func(t *testing.T) {
		if _, err := Combine([]Share{shares[0], shares[0]}); err == nil {
			t.Error("Combine() accepted duplicate x-coordinates")
		}
	})

	t.Run("Length mismatch", func(t *testing.T) {
		bad := Share{X: shares[1].X, Y: shares[1].Y[:8]}
		if _, err := Combine([]Share{shares[0], bad}); err == nil {
			t.Error("Combine() accepted mismatched share lengths")
		}
	})

	t.Run("Zero x-coordinate", func(t *testing.T) {
		bad := Share{X: 0, Y: make([]byte, 16)}
		if _, err := Combine([]Share{shares[0], bad}); err == nil {
			t.Error("Combine() accepted a zero x-coordinate")
		}
	})
}

func TestParseShareRoundTrip(t *testing.T) {
	secret := randomSecret(t, 32)
	shares, err := Split(secret, 3, 2)
	if err != nil {
		t.Fatalf("Split() error: %v", err)
	}

	parsed := make([]Share, 0, 2)
	for _, s := range shares[:2] {
		p, err := ParseShare(s.Bytes())
		if err != nil {
			t.Fatalf("ParseShare() error: %v", err)
		}
		parsed = append(parsed, p)
	}

	combined, err := Combine(parsed)
	if err != nil {
		t.Fatalf("Combine() error: %v", err)
	}
	if !bytes.Equal(combined, secret) {
		t.Error("Combine() over parsed shares did not reconstruct the secret")
	}
}

func TestParseShareValidation(t *testing.T) {
	if _, err := ParseShare([]byte{0x01}); err == nil {
		t.Error("ParseShare() accepted a share with no data bytes")
	}
	if _, err := ParseShare([]byte{0x00, 0x42}); err == nil {
		t.Error("ParseShare() accepted a zero x-coordinate")
	}
}

func TestShareWipe(t *testing.T) {
	shares, err := Split([]byte{1, 2, 3, 4}, 3, 2)
	if err != nil {
		t.Fatalf("Split() error: %v", err)
	}

	shares[0].Wipe()
	if !bytes.Equal(shares[0].Y, make([]byte, 4)) {
		t.Error("Wipe() left non-zero bytes")
	}
}

func BenchmarkSplit32(b *testing.B) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Split(secret, 3, 2); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCombine32(b *testing.B) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		b.Fatal(err)
	}
	shares, err := Split(secret, 3, 2)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Combine(shares[:2]); err != nil {
			b.Fatal(err)
		}
	}
}
