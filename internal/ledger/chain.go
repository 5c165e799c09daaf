// Package ledger implements the hash-chained, append-only settlement ledger
// and its whole-chain integrity checks.
//
// Each record's hash covers the commitment of its final amount concatenated
// with its predecessor's hash, so the chain detects any retroactive edit.
// The functions here are pure over record slices; persistence and the
// serialisation of concurrent appends belong to the store that owns the
// records (see internal/vault).
package ledger

import (
	"fmt"

	"github.com/vaultline/vaultline/internal/merkle"
	"github.com/vaultline/vaultline/internal/seal"
)

// NextRecord materialises a candidate into the record that follows prev in
// the chain. A nil prev means the chain is empty and the record links to
// SentinelHash. The caller must hold the store's exclusive critical section:
// two concurrent appends must never observe the same predecessor.
func NextRecord(prev *Record, c Candidate) Record {
	prevHash := SentinelHash
	if prev != nil {
		prevHash = prev.Hash
	}
	r := Record{
		ID:             c.ID,
		Sender:         c.Sender,
		Receiver:       c.Receiver,
		OriginalAmount: c.OriginalAmount,
		FinalAmount:    c.FinalAmount,
		Adjustment:     c.OriginalAmount.Sub(c.FinalAmount),
		Mode:           c.Mode,
		SubmittedAt:    c.SubmittedAt,
		Status:         c.Status,
		ApproverID:     c.ApproverID,
		PrevHash:       prevHash,
		IntegrityHash:  c.IntegrityHash,
	}
	r.Hash = recordHash(&r)
	return r
}

// recordHash computes a record's chain hash: the SHA-256 of the final-amount
// commitment concatenated with the stored previous hash.
func recordHash(r *Record) string {
	return seal.Hash(seal.Commitment(r.FinalAmount) + r.PrevHash)
}

// VerifyError reports the first record at which a chain scan failed.
type VerifyError struct {
	Index  int
	Reason string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("ledger chain broken at record %d: %s", e.Index, e.Reason)
}

// Verify walks the full chain and recomputes every link. It confirms the
// first record anchors on SentinelHash, each later record stores its
// predecessor's hash, and every record's hash matches its own contents.
// Returns a *VerifyError identifying the first offending record, or nil for
// an intact (possibly empty) chain. Breaks are reported, never repaired.
func Verify(records []Record) error {
	for i := range records {
		r := &records[i]
		if i == 0 {
			if r.PrevHash != SentinelHash {
				return &VerifyError{Index: 0, Reason: fmt.Sprintf("previous hash %q, want sentinel %q", r.PrevHash, SentinelHash)}
			}
		} else if r.PrevHash != records[i-1].Hash {
			return &VerifyError{Index: i, Reason: "previous hash does not match predecessor"}
		}
		if r.Hash != recordHash(r) {
			return &VerifyError{Index: i, Reason: "stored hash does not match record contents"}
		}
	}
	return nil
}

// Leaves returns the Merkle leaf sequence for a ledger: the final-amount
// commitment of every record, in ledger order.
func Leaves(records []Record) []string {
	leaves := make([]string, len(records))
	for i := range records {
		leaves[i] = seal.Commitment(records[i].FinalAmount)
	}
	return leaves
}

// MerkleRoot rebuilds the Merkle tree over the ledger's commitments and
// returns its root, or merkle.EmptyRoot when no transactions have settled.
// Always a full rebuild; the ledger has no incremental tree state to go stale.
func MerkleRoot(records []Record) string {
	return merkle.Root(Leaves(records))
}
