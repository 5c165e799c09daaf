package ledger

import (
	"github.com/shopspring/decimal"
)

// SentinelHash is the previous-hash value of the first ledger record.
// The chain anchors on this literal rather than a computed genesis entry.
const SentinelHash = "0"

// TimeLayout is the canonical textual timestamp format carried on pending
// transactions and ledger records. Timestamps are kept as text end to end so
// a malformed value is representable (and deferrable) rather than impossible.
const TimeLayout = "2006-01-02 15:04:05"

// Mode is the commitment mode a transaction was submitted under.
type Mode string

const (
	// ModeFast settles automatically after an elapsed-time threshold and
	// carries no integrity seal. A deliberate lower-assurance path.
	ModeFast Mode = "fast"

	// ModeStandard is sealed at submission and re-verified at settlement.
	ModeStandard Mode = "standard"
)

// Status records how a settlement was authorised.
type Status string

const (
	// StatusApprovedManual marks a settlement confirmed by a human authority.
	StatusApprovedManual Status = "APPROVED"

	// StatusApprovedAuto marks a Fast-mode settlement promoted by the
	// background sweep under a system identity.
	StatusApprovedAuto Status = "APPROVED (AUTO)"
)

// Record is an immutable, hash-linked settlement entry. Records are created
// exactly once, at settlement time, and never edited or removed; every
// record stores the hash of its predecessor, so any retroactive edit breaks
// the chain.
type Record struct {
	ID             string          `json:"id"`
	Sender         string          `json:"sender"`
	Receiver       string          `json:"receiver"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`

	// Adjustment is OriginalAmount − FinalAmount. Positive means the
	// settling authority retained a surplus; negative means it paid a
	// subsidy out of its own account.
	Adjustment decimal.Decimal `json:"adjustment"`

	Mode        Mode   `json:"mode"`
	SubmittedAt string `json:"submitted_at"`
	Status      Status `json:"status"`
	ApproverID  string `json:"approver_id"`

	PrevHash string `json:"previous_hash"`
	Hash     string `json:"hash"`

	// IntegrityHash is copied from the source pending transaction.
	// Empty for Fast-mode transactions, which were never sealed.
	IntegrityHash string `json:"integrity_hash,omitempty"`
}

// Candidate carries the fields of a settlement record minus the chain
// linkage, which is computed at append time from the current chain tail.
type Candidate struct {
	ID             string
	Sender         string
	Receiver       string
	OriginalAmount decimal.Decimal
	FinalAmount    decimal.Decimal
	Mode           Mode
	SubmittedAt    string
	Status         Status
	ApproverID     string
	IntegrityHash  string
}
