// Package shamir implements Shamir's Secret Sharing over GF(256).
//
// Each byte of the secret is split independently using a random polynomial
// of degree (threshold-1) over the Galois field GF(2^8). The field uses the
// irreducible polynomial x^8 + x^4 + x^3 + x + 1 (0x11B, same as AES).
// Reconstruction uses Lagrange interpolation at x=0.
//
// Combine deliberately cannot detect an insufficient or wrong share set:
// with fewer than threshold shares it reconstructs a uniformly wrong secret
// rather than failing. This is required by the information-theoretic
// threshold property. Callers must independently verify the reconstructed
// secret, for example by decrypting a known-format ciphertext with it.
package shamir
