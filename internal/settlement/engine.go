// Package settlement implements the scheduler that retires pending
// transactions: explicit approval or rejection by an authority, and
// autonomous promotion of Fast-mode items once their elapsed-time threshold
// is reached.
//
// Every settlement attempt runs inside the vault store's exclusive Update,
// which spans all three collections (accounts, queue, ledger). Presence in
// the queue is re-checked inside that critical section, so a manual approval
// and an automatic sweep racing on the same transaction produce exactly one
// ledger record; the loser sees ErrNotQueued.
package settlement

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vaultline/vaultline/internal/alert"
	"github.com/vaultline/vaultline/internal/ledger"
	"github.com/vaultline/vaultline/internal/seal"
	"github.com/vaultline/vaultline/internal/vault"
)

// Config holds settlement scheduler configuration.
type Config struct {
	// FastSettleDelay is how long a Fast-mode transaction must have been
	// queued before the sweep promotes it.
	FastSettleDelay time.Duration

	// SweepInterval is the period of the background sweep loop.
	SweepInterval time.Duration

	// SystemApprover is the identity recorded on automatic settlements.
	SystemApprover string
}

// SweepReport summarises one pass of the automatic sweep.
type SweepReport struct {
	Settled  int // Fast items promoted into the ledger
	Dropped  int // eligible items auto-rejected (unresolvable account or insufficient funds)
	Deferred int // items left queued because their timestamp would not parse
}

// SweepRecordFunc is an optional callback for recording sweep results.
type SweepRecordFunc func(SweepReport)

// Engine is the settlement scheduler. It owns no state of its own; all
// reads and writes go through the vault store's transaction boundary.
type Engine struct {
	store   vault.Store
	alerts  alert.Notifier
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
	onSweep SweepRecordFunc
}

// New creates a settlement engine.
func New(store vault.Store, alerts alert.Notifier, cfg Config, logger *zap.Logger) *Engine {
	if cfg.FastSettleDelay == 0 {
		cfg.FastSettleDelay = 30 * time.Second
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 5 * time.Second
	}
	if cfg.SystemApprover == "" {
		cfg.SystemApprover = "SYSTEM"
	}
	return &Engine{
		store:  store,
		alerts: alerts,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the engine's time source. Intended for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// SetSweepRecord configures the sweep metrics callback.
func (e *Engine) SetSweepRecord(fn SweepRecordFunc) {
	e.onSweep = fn
}

// SubmitRequest describes a transaction entering the queue.
type SubmitRequest struct {
	Sender   string
	Receiver string
	Amount   decimal.Decimal
	Mode     ledger.Mode
}

// Submit validates the request and enqueues a pending transaction. Under
// Standard mode the amount is sealed here, once; the seal is stored on the
// pending transaction and never recomputed from mutable state.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (vault.PendingTransaction, error) {
	var tx vault.PendingTransaction

	if req.Mode == "" {
		req.Mode = ledger.ModeFast
	}
	if req.Mode != ledger.ModeFast && req.Mode != ledger.ModeStandard {
		return tx, fmt.Errorf("%w %q", ErrInvalidMode, req.Mode)
	}
	if !req.Amount.IsPositive() {
		return tx, ErrInvalidAmount
	}
	if req.Sender == req.Receiver {
		return tx, ErrSelfTransfer
	}

	err := e.store.Update(ctx, func(s *vault.State) error {
		sender, ok := s.Account(req.Sender)
		if !ok {
			return &AccountError{AccountID: req.Sender}
		}
		if _, ok := s.Account(req.Receiver); !ok {
			return &AccountError{AccountID: req.Receiver}
		}
		if sender.Balance.LessThan(req.Amount) {
			return &InsufficientFundsError{AccountID: req.Sender, Need: req.Amount, Have: sender.Balance}
		}

		tx = vault.PendingTransaction{
			ID:          uuid.NewString(),
			Sender:      req.Sender,
			Receiver:    req.Receiver,
			Amount:      req.Amount,
			Mode:        req.Mode,
			SubmittedAt: e.now().UTC().Format(ledger.TimeLayout),
		}
		if req.Mode == ledger.ModeStandard {
			tx.IntegrityHash = seal.Seal(req.Amount)
		}
		s.Queue = append(s.Queue, tx)
		return nil
	})
	if err != nil {
		return vault.PendingTransaction{}, err
	}

	e.logger.Info("transaction queued",
		zap.String("id", tx.ID),
		zap.String("mode", string(tx.Mode)),
		zap.String("amount", seal.Commitment(tx.Amount)),
	)
	return tx, nil
}

// ApproveRequest describes a manual settlement decision.
type ApproveRequest struct {
	ID         string
	ApproverID string

	// FinalAmount is the authority-adjusted settlement amount.
	// nil settles at the original amount.
	FinalAmount *decimal.Decimal
}

// Approve settles a queued transaction under explicit authority approval.
//
// For Standard mode the stored seal is verified first, against the original
// submitted amount before any adjustment, since the seal commits to what the
// sender submitted. A mismatch discards the transaction from the queue,
// raises a security alert, and returns *IntegrityError; nothing reaches the
// ledger or any balance.
//
// The adjustment (original minus final) is settled against the approver's own
// account: a positive adjustment is retained by the approver, a negative one
// is paid by the approver, whose balance must cover it or the whole
// settlement aborts with the transaction still queued.
func (e *Engine) Approve(ctx context.Context, req ApproveRequest) (*ledger.Record, error) {
	var (
		rec          *ledger.Record
		integrityErr *IntegrityError
	)

	err := e.store.Update(ctx, func(s *vault.State) error {
		i := s.Pending(req.ID)
		if i < 0 {
			return ErrNotQueued
		}
		tx := s.Queue[i]

		final := tx.Amount
		if req.FinalAmount != nil {
			final = *req.FinalAmount
		}
		if !final.IsPositive() {
			return ErrInvalidAmount
		}

		if tx.Mode == ledger.ModeStandard && !seal.Verify(tx.IntegrityHash, tx.Amount) {
			// Tampered after sealing. Commit the removal, nothing else.
			s.RemovePending(i)
			integrityErr = &IntegrityError{
				ID:         tx.ID,
				Stored:     tx.IntegrityHash,
				Recomputed: seal.Seal(tx.Amount),
			}
			return nil
		}

		sender, ok := s.Account(tx.Sender)
		if !ok {
			return &AccountError{AccountID: tx.Sender}
		}
		receiver, ok := s.Account(tx.Receiver)
		if !ok {
			return &AccountError{AccountID: tx.Receiver}
		}
		if sender.Balance.LessThan(tx.Amount) {
			return &InsufficientFundsError{AccountID: tx.Sender, Need: tx.Amount, Have: sender.Balance}
		}

		adjustment := tx.Amount.Sub(final)
		var approver *vault.Account
		if !adjustment.IsZero() {
			if approver, ok = s.Account(req.ApproverID); !ok {
				return &AccountError{AccountID: req.ApproverID}
			}
			if adjustment.IsNegative() {
				subsidy := adjustment.Neg()
				if approver.Balance.LessThan(subsidy) {
					return &InsufficientFundsError{AccountID: req.ApproverID, Need: subsidy, Have: approver.Balance}
				}
			}
		}

		sender.Balance = sender.Balance.Sub(tx.Amount)
		receiver.Balance = receiver.Balance.Add(final)
		if approver != nil {
			approver.Balance = approver.Balance.Add(adjustment)
		}

		r := ledger.NextRecord(s.ChainTail(), ledger.Candidate{
			ID:             tx.ID,
			Sender:         tx.Sender,
			Receiver:       tx.Receiver,
			OriginalAmount: tx.Amount,
			FinalAmount:    final,
			Mode:           tx.Mode,
			SubmittedAt:    tx.SubmittedAt,
			Status:         ledger.StatusApprovedManual,
			ApproverID:     req.ApproverID,
			IntegrityHash:  tx.IntegrityHash,
		})
		s.Ledger = append(s.Ledger, r)
		s.RemovePending(i)
		rec = &r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if integrityErr != nil {
		e.logger.Warn("integrity hash mismatch, transaction discarded",
			zap.String("id", integrityErr.ID),
			zap.String("stored", integrityErr.Stored),
			zap.String("recomputed", integrityErr.Recomputed),
		)
		if alertErr := e.alerts.Send(ctx, "SECURITY ALERT: integrity hash mismatch",
			fmt.Sprintf("Transaction %s failed seal verification and was discarded from the queue.", integrityErr.ID),
		); alertErr != nil {
			e.logger.Error("security alert delivery failed", zap.Error(alertErr))
		}
		return nil, integrityErr
	}

	e.logger.Info("transaction settled",
		zap.String("id", rec.ID),
		zap.String("approver", rec.ApproverID),
		zap.String("adjustment", rec.Adjustment.String()),
	)
	return rec, nil
}

// Reject retires a queued transaction without settling it. Terminal: the
// transaction leaves the queue and never reaches the ledger.
func (e *Engine) Reject(ctx context.Context, id string) error {
	err := e.store.Update(ctx, func(s *vault.State) error {
		i := s.Pending(id)
		if i < 0 {
			return ErrNotQueued
		}
		s.RemovePending(i)
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Info("transaction rejected", zap.String("id", id))
	return nil
}

// Sweep promotes every eligible Fast-mode transaction in a single pass
// inside one critical section. Eligible means queued at least
// FastSettleDelay ago. Items whose accounts cannot be resolved or whose
// sender cannot cover the amount are dropped from the queue without retry;
// items with an unparseable timestamp are left queued for external
// correction. Standard-mode items are never touched.
//
// Callers must invoke Sweep (directly or via the Start loop) before any
// balance-sensitive read so observers never see stale pending state.
func (e *Engine) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	err := e.store.Update(ctx, func(s *vault.State) error {
		report = SweepReport{}
		now := e.now().UTC()
		kept := make([]vault.PendingTransaction, 0, len(s.Queue))

		for _, tx := range s.Queue {
			if tx.Mode != ledger.ModeFast {
				kept = append(kept, tx)
				continue
			}

			submitted, err := time.Parse(ledger.TimeLayout, tx.SubmittedAt)
			if err != nil {
				report.Deferred++
				kept = append(kept, tx)
				e.logger.Warn("pending transaction has malformed timestamp, deferring",
					zap.String("id", tx.ID),
					zap.String("submitted_at", tx.SubmittedAt),
				)
				continue
			}
			if now.Sub(submitted) < e.cfg.FastSettleDelay {
				kept = append(kept, tx)
				continue
			}

			sender, senderOK := s.Account(tx.Sender)
			receiver, receiverOK := s.Account(tx.Receiver)
			if !senderOK || !receiverOK {
				report.Dropped++
				e.logger.Info("auto-rejecting fast transaction: account not resolvable",
					zap.String("id", tx.ID))
				continue
			}
			if sender.Balance.LessThan(tx.Amount) {
				report.Dropped++
				e.logger.Info("auto-rejecting fast transaction: insufficient sender funds",
					zap.String("id", tx.ID))
				continue
			}

			sender.Balance = sender.Balance.Sub(tx.Amount)
			receiver.Balance = receiver.Balance.Add(tx.Amount)

			r := ledger.NextRecord(s.ChainTail(), ledger.Candidate{
				ID:             tx.ID,
				Sender:         tx.Sender,
				Receiver:       tx.Receiver,
				OriginalAmount: tx.Amount,
				FinalAmount:    tx.Amount,
				Mode:           tx.Mode,
				SubmittedAt:    tx.SubmittedAt,
				Status:         ledger.StatusApprovedAuto,
				ApproverID:     e.cfg.SystemApprover,
			})
			s.Ledger = append(s.Ledger, r)
			report.Settled++
		}

		s.Queue = kept
		return nil
	})
	if err != nil {
		return SweepReport{}, err
	}

	if report.Settled > 0 || report.Dropped > 0 {
		e.logger.Info("sweep complete",
			zap.Int("settled", report.Settled),
			zap.Int("dropped", report.Dropped),
			zap.Int("deferred", report.Deferred),
		)
	}
	if e.onSweep != nil {
		e.onSweep(report)
	}
	return report, nil
}

// Start runs the background sweep loop until quit is signalled.
func (e *Engine) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), e.cfg.SweepInterval)
			if _, err := e.Sweep(ctx); err != nil {
				e.logger.Error("background sweep failed", zap.Error(err))
			}
			cancel()
		case <-quit:
			return
		}
	}
}
