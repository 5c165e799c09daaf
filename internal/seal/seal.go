// Package seal implements the amount-commitment scheme used across the
// integrity layer: a canonical decimal encoding of a monetary amount and a
// SHA-256 seal over it.
//
// The commitment covers the amount ONLY. Sender, receiver and timestamp are
// deliberately excluded, so the scheme protects amount integrity and nothing
// else; two transactions of equal amount produce identical commitments. This
// is a documented scope limitation of the integrity layer, not an oversight.
package seal

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"
)

// Commitment returns the canonical string form of an amount, used as the
// sole hash preimage for both integrity seals and Merkle leaves.
//
// The encoding is fixed-point decimal text with trailing fractional zeros
// stripped and at least one fractional digit kept:
//
//	100    -> "100.0"
//	90.50  -> "90.5"
//	0.125  -> "0.125"
//
// The result is stable across platforms and locales, which is what makes the
// seal-then-reverify protocol bit-exact across two independent computations.
func Commitment(amount decimal.Decimal) string {
	s := amount.String()
	if strings.ContainsRune(s, '.') {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}

// Seal computes the integrity hash for an amount: the hex-encoded SHA-256 of
// its commitment. Called once at submission time for Standard-mode
// transactions; the result is stored on the pending transaction and never
// recomputed from mutable state.
func Seal(amount decimal.Decimal) string {
	return Hash(Commitment(amount))
}

// Verify recomputes the seal for amount and compares it byte-for-byte with
// the stored hash. A false return means the amount was altered after the
// seal was recorded.
func Verify(stored string, amount decimal.Decimal) bool {
	return stored == Seal(amount)
}

// Hash returns the lowercase hex-encoded SHA-256 digest of s. All hashing in
// the integrity layer (seals, Merkle nodes, chain links) goes through this
// one primitive.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
