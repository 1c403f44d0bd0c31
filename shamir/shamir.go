package shamir

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/opd-ai/keyvault/crypto"
)

// Share is one fragment of a split secret: the GF(256) x-coordinate and one
// evaluated polynomial byte per secret byte.
type Share struct {
	X byte
	Y []byte
}

// Bytes serializes the share as [x-coordinate byte] ++ [evaluated bytes],
// the wire shape carried by escrow records (secret length + 1 bytes).
func (s Share) Bytes() []byte {
	out := make([]byte, 1+len(s.Y))
	out[0] = s.X
	copy(out[1:], s.Y)
	return out
}

// Wipe zeroes the share's evaluated bytes.
func (s *Share) Wipe() {
	crypto.ZeroBytes(s.Y)
}

// ParseShare deserializes the wire shape produced by Bytes.
func ParseShare(data []byte) (Share, error) {
	if len(data) < 2 {
		return Share{}, errors.New("share too short")
	}
	if data[0] == 0 {
		return Share{}, errors.New("share x-coordinate must be 1..255")
	}

	y := make([]byte, len(data)-1)
	copy(y, data[1:])

	return Share{X: data[0], Y: y}, nil
}

// Split splits a secret into n shares with threshold k. Any k shares
// reconstruct the secret; fewer than k reveal nothing about it.
// Requires 2 <= k <= n <= 255 and a non-empty secret.
func Split(secret []byte, n, k int) ([]Share, error) {
	if len(secret) == 0 {
		return nil, errors.New("secret must not be empty")
	}
	if n < 2 || n > 255 {
		return nil, fmt.Errorf("n must be in [2..255], got %d", n)
	}
	if k < 2 || k > n {
		return nil, fmt.Errorf("k must be in [2..n], got k=%d n=%d", k, n)
	}

	shares := make([]Share, n)
	for i := range shares {
		shares[i] = Share{
			X: byte(i + 1),
			Y: make([]byte, len(secret)),
		}
	}

	// One polynomial per secret byte: the secret byte is the constant term,
	// the remaining k-1 coefficients are fresh randomness.
	coeffs := make([]byte, k)
	defer crypto.ZeroBytes(coeffs)

	for byteIdx := range secret {
		coeffs[0] = secret[byteIdx]
		if _, err := rand.Read(coeffs[1:]); err != nil {
			return nil, fmt.Errorf("random coefficients: %w", err)
		}

		for i := range shares {
			shares[i].Y[byteIdx] = gfEval(coeffs, shares[i].X)
		}
	}

	return shares, nil
}

// Combine reconstructs the secret from the supplied shares via Lagrange
// interpolation at x=0. All shares must have equal length and distinct
// x-coordinates.
//
// Combine cannot detect an insufficient share set: fewer than threshold
// shares yield a wrong secret, never an error. Callers must verify the
// result against a known ciphertext before trusting it.
func Combine(shares []Share) ([]byte, error) {
	if len(shares) < 2 {
		return nil, fmt.Errorf("need at least 2 shares, got %d", len(shares))
	}

	length := len(shares[0].Y)
	if length == 0 {
		return nil, errors.New("empty share")
	}

	seen := make(map[byte]bool, len(shares))
	for _, s := range shares {
		if s.X == 0 {
			return nil, errors.New("share x-coordinate must be 1..255")
		}
		if len(s.Y) != length {
			return nil, fmt.Errorf("share length mismatch: share %d has %d bytes, expected %d", s.X, len(s.Y), length)
		}
		if seen[s.X] {
			return nil, fmt.Errorf("duplicate share x-coordinate %d", s.X)
		}
		seen[s.X] = true
	}

	secret := make([]byte, length)
	for byteIdx := 0; byteIdx < length; byteIdx++ {
		secret[byteIdx] = interpolate(shares, byteIdx)
	}

	return secret, nil
}

// interpolate evaluates the Lagrange interpolation at x=0 for one byte
// position across all shares.
func interpolate(shares []Share, byteIdx int) byte {
	var result byte

	for i := range shares {
		xi := shares[i].X
		yi := shares[i].Y[byteIdx]

		// Basis l_i(0) = product_{j!=i} xj / (xi ^ xj).
		// In GF(2^8) the additive inverse of xj is xj itself, and
		// subtraction is XOR.
		basis := byte(1)
		for j := range shares {
			if i == j {
				continue
			}
			xj := shares[j].X
			basis = gfMul(basis, gfMul(xj, gfInv(xi^xj)))
		}

		result ^= gfMul(yi, basis)
	}

	return result
}
