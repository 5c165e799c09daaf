package vault

import (
	"github.com/shopspring/decimal"

	"github.com/vaultline/vaultline/internal/ledger"
)

// Account is a balance-bearing account resolvable by its identifier.
type Account struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
}

// PendingTransaction is a queued transfer awaiting settlement. It is created
// at submission and mutated only by removal; settlement and rejection both
// retire it from the queue, never edit it in place.
type PendingTransaction struct {
	ID          string          `json:"id"`
	Sender      string          `json:"sender"`
	Receiver    string          `json:"receiver"`
	Amount      decimal.Decimal `json:"amount"`
	Mode        ledger.Mode     `json:"mode"`
	SubmittedAt string          `json:"submitted_at"`

	// IntegrityHash is the amount seal recorded at submission.
	// Present only for Standard-mode transactions.
	IntegrityHash string `json:"integrity_hash,omitempty"`
}

// State holds the accounts, pending queue and settlement ledger that form a
// single consistency domain. Queue and Ledger preserve insertion order;
// Ledger is append-only.
type State struct {
	Accounts map[string]*Account
	Queue    []PendingTransaction
	Ledger   []ledger.Record
}

// NewState returns an empty state with initialised collections.
func NewState() *State {
	return &State{Accounts: make(map[string]*Account)}
}

// Account resolves an account by identifier. The second return is false when
// the identifier is unknown.
func (s *State) Account(id string) (*Account, bool) {
	a, ok := s.Accounts[id]
	return a, ok
}

// Pending returns the index of the queued transaction with the given id,
// or -1 when it is no longer queued.
func (s *State) Pending(id string) int {
	for i := range s.Queue {
		if s.Queue[i].ID == id {
			return i
		}
	}
	return -1
}

// RemovePending drops the queue entry at index i, preserving order.
func (s *State) RemovePending(i int) {
	s.Queue = append(s.Queue[:i], s.Queue[i+1:]...)
}

// ChainTail returns the last ledger record, or nil for an empty ledger.
func (s *State) ChainTail() *ledger.Record {
	if len(s.Ledger) == 0 {
		return nil
	}
	return &s.Ledger[len(s.Ledger)-1]
}

// clone deep-copies the state so an in-flight update can be discarded
// without touching the committed view.
func (s *State) clone() *State {
	c := &State{
		Accounts: make(map[string]*Account, len(s.Accounts)),
		Queue:    append([]PendingTransaction(nil), s.Queue...),
		Ledger:   append([]ledger.Record(nil), s.Ledger...),
	}
	for id, a := range s.Accounts {
		copied := *a
		c.Accounts[id] = &copied
	}
	return c
}
