package shamir

// GF(256) arithmetic over the AES field polynomial x^8 + x^4 + x^3 + x + 1
// (0x11B). The multiply loop runs a fixed eight iterations with mask-based
// selection instead of data-dependent branches, which keeps the instruction
// stream constant per call. Full side-channel hardening (cache, µarch) is
// out of scope for a mobile-client threat model; the constant structure is
// the accepted trade-off, not an oversight.

// gfMul multiplies two field elements.
func gfMul(a, b byte) byte {
	var p byte
	for i := 0; i < 8; i++ {
		// Select a into the product only when the low bit of b is set.
		p ^= a & (0 - (b & 1))

		// Carry-aware doubling: reduce by 0x1B when the high bit shifts out.
		carry := 0 - (a >> 7)
		a = (a << 1) ^ (0x1B & carry)
		b >>= 1
	}
	return p
}

// gfInv computes the multiplicative inverse via a^254 (Fermat's little
// theorem in GF(2^8)), using repeated squaring. gfInv(0) returns 0; callers
// never invert zero because duplicate x-coordinates are rejected up front.
func gfInv(a byte) byte {
	// a^254 via the chain x -> x^2 * a applied six times, then one square:
	// exponents 1, 3, 7, 15, 31, 63, 127, 254.
	r := a
	for i := 0; i < 6; i++ {
		r = gfMul(r, r)
		r = gfMul(r, a)
	}
	return gfMul(r, r)
}

// gfEval evaluates the polynomial coeffs[0] + coeffs[1]*x + ... using
// Horner's method. coeffs[0] is the secret byte.
func gfEval(coeffs []byte, x byte) byte {
	var r byte
	for i := len(coeffs) - 1; i >= 0; i-- {
		r = gfMul(r, x) ^ coeffs[i]
	}
	return r
}
