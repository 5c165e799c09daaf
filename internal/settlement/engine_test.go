package settlement_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vaultline/vaultline/internal/ledger"
	"github.com/vaultline/vaultline/internal/seal"
	"github.com/vaultline/vaultline/internal/settlement"
	"github.com/vaultline/vaultline/internal/vault"
)

var baseTime = time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

type capturedAlert struct {
	Subject string
	Body    string
}

// captureNotifier records alerts instead of delivering them.
type captureNotifier struct {
	mu    sync.Mutex
	sends []capturedAlert
}

func (n *captureNotifier) Send(_ context.Context, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends = append(n.sends, capturedAlert{Subject: subject, Body: body})
	return nil
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sends)
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

func newTestEngine(t *testing.T) (*settlement.Engine, *vault.MemoryStore, *captureNotifier) {
	t.Helper()
	store := vault.NewMemoryStore()
	store.Seed(
		vault.Account{ID: "1001", Name: "Alice", Balance: dec(t, "500.00")},
		vault.Account{ID: "1002", Name: "Bassam", Balance: dec(t, "200.00")},
		vault.Account{ID: "9000", Name: "Authority", Balance: dec(t, "1000.00")},
	)
	alerts := &captureNotifier{}
	e := settlement.New(store, alerts, settlement.Config{}, zap.NewNop())
	e.SetClock(func() time.Time { return baseTime })
	return e, store, alerts
}

func submit(t *testing.T, e *settlement.Engine, amount string, mode ledger.Mode) vault.PendingTransaction {
	t.Helper()
	tx, err := e.Submit(context.Background(), settlement.SubmitRequest{
		Sender:   "1001",
		Receiver: "1002",
		Amount:   dec(t, amount),
		Mode:     mode,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return tx
}

func balance(t *testing.T, store vault.Store, id string) decimal.Decimal {
	t.Helper()
	var b decimal.Decimal
	store.View(context.Background(), func(s *vault.State) error {
		a, ok := s.Account(id)
		if !ok {
			t.Fatalf("account %s missing", id)
		}
		b = a.Balance
		return nil
	})
	return b
}

func queueLen(t *testing.T, store vault.Store) int {
	t.Helper()
	var n int
	store.View(context.Background(), func(s *vault.State) error {
		n = len(s.Queue)
		return nil
	})
	return n
}

func ledgerRecords(t *testing.T, store vault.Store) []ledger.Record {
	t.Helper()
	var records []ledger.Record
	store.View(context.Background(), func(s *vault.State) error {
		records = append([]ledger.Record(nil), s.Ledger...)
		return nil
	})
	return records
}

func TestSubmit_fastMode(t *testing.T) {
	e, store, _ := newTestEngine(t)

	tx := submit(t, e, "100.00", ledger.ModeFast)

	if tx.ID == "" {
		t.Error("submitted transaction has no id")
	}
	if tx.IntegrityHash != "" {
		t.Errorf("fast-mode transaction carries a seal %q", tx.IntegrityHash)
	}
	if want := baseTime.Format(ledger.TimeLayout); tx.SubmittedAt != want {
		t.Errorf("SubmittedAt = %q, want %q", tx.SubmittedAt, want)
	}
	if queueLen(t, store) != 1 {
		t.Error("transaction not queued")
	}
	// Submission only queues; no balance moves until settlement.
	if got := balance(t, store, "1001"); !got.Equal(dec(t, "500.00")) {
		t.Errorf("sender balance = %s after submission, want 500.00", got)
	}
}

func TestSubmit_standardModeSealsAmount(t *testing.T) {
	e, _, _ := newTestEngine(t)

	tx := submit(t, e, "100.00", ledger.ModeStandard)

	if want := seal.Seal(dec(t, "100.00")); tx.IntegrityHash != want {
		t.Errorf("IntegrityHash = %q, want %q", tx.IntegrityHash, want)
	}
}

func TestSubmit_defaultsToFast(t *testing.T) {
	e, _, _ := newTestEngine(t)

	tx := submit(t, e, "10.00", "")
	if tx.Mode != ledger.ModeFast {
		t.Errorf("Mode = %q, want %q", tx.Mode, ledger.ModeFast)
	}
}

func TestSubmit_validation(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  settlement.SubmitRequest
		want error
	}{
		{"unknown mode", settlement.SubmitRequest{Sender: "1001", Receiver: "1002", Amount: dec(t, "10"), Mode: "hyper"}, settlement.ErrInvalidMode},
		{"zero amount", settlement.SubmitRequest{Sender: "1001", Receiver: "1002", Amount: decimal.Zero}, settlement.ErrInvalidAmount},
		{"negative amount", settlement.SubmitRequest{Sender: "1001", Receiver: "1002", Amount: dec(t, "-5")}, settlement.ErrInvalidAmount},
		{"self transfer", settlement.SubmitRequest{Sender: "1001", Receiver: "1001", Amount: dec(t, "10")}, settlement.ErrSelfTransfer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.Submit(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Errorf("Submit = %v, want %v", err, tc.want)
			}
		})
	}

	t.Run("unknown sender", func(t *testing.T) {
		_, err := e.Submit(ctx, settlement.SubmitRequest{Sender: "9999", Receiver: "1002", Amount: dec(t, "10")})
		var accErr *settlement.AccountError
		if !errors.As(err, &accErr) || accErr.AccountID != "9999" {
			t.Errorf("Submit = %v, want *AccountError for 9999", err)
		}
	})

	t.Run("insufficient funds", func(t *testing.T) {
		_, err := e.Submit(ctx, settlement.SubmitRequest{Sender: "1002", Receiver: "1001", Amount: dec(t, "10000")})
		var fundsErr *settlement.InsufficientFundsError
		if !errors.As(err, &fundsErr) || fundsErr.AccountID != "1002" {
			t.Errorf("Submit = %v, want *InsufficientFundsError for 1002", err)
		}
	})

	if queueLen(t, store) != 0 {
		t.Error("rejected submissions left entries in the queue")
	}
}

func TestApprove_atOriginalAmount(t *testing.T) {
	e, store, _ := newTestEngine(t)
	tx := submit(t, e, "100.00", ledger.ModeStandard)

	rec, err := e.Approve(context.Background(), settlement.ApproveRequest{ID: tx.ID, ApproverID: "9000"})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}

	if rec.Status != ledger.StatusApprovedManual {
		t.Errorf("Status = %q, want %q", rec.Status, ledger.StatusApprovedManual)
	}
	if rec.PrevHash != ledger.SentinelHash {
		t.Errorf("first record PrevHash = %q, want sentinel", rec.PrevHash)
	}
	if !rec.Adjustment.IsZero() {
		t.Errorf("Adjustment = %s, want 0", rec.Adjustment)
	}
	if got := balance(t, store, "1001"); !got.Equal(dec(t, "400.00")) {
		t.Errorf("sender balance = %s, want 400.00", got)
	}
	if got := balance(t, store, "1002"); !got.Equal(dec(t, "300.00")) {
		t.Errorf("receiver balance = %s, want 300.00", got)
	}
	if got := balance(t, store, "9000"); !got.Equal(dec(t, "1000.00")) {
		t.Errorf("approver balance = %s, want unchanged 1000.00", got)
	}
	if queueLen(t, store) != 0 {
		t.Error("settled transaction still queued")
	}
}

func TestApprove_downwardAdjustmentRetainedByApprover(t *testing.T) {
	e, store, _ := newTestEngine(t)
	tx := submit(t, e, "100.00", ledger.ModeStandard)

	final := dec(t, "90.00")
	rec, err := e.Approve(context.Background(), settlement.ApproveRequest{ID: tx.ID, ApproverID: "9000", FinalAmount: &final})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}

	// Sender is debited what they submitted; the receiver gets the
	// adjusted amount and the authority retains the difference.
	if got := balance(t, store, "1001"); !got.Equal(dec(t, "400.00")) {
		t.Errorf("sender balance = %s, want 400.00", got)
	}
	if got := balance(t, store, "1002"); !got.Equal(dec(t, "290.00")) {
		t.Errorf("receiver balance = %s, want 290.00", got)
	}
	if got := balance(t, store, "9000"); !got.Equal(dec(t, "1010.00")) {
		t.Errorf("approver balance = %s, want 1010.00", got)
	}
	if want := dec(t, "10.00"); !rec.Adjustment.Equal(want) {
		t.Errorf("Adjustment = %s, want %s", rec.Adjustment, want)
	}

	// The chain hashes the amount that actually moved.
	if want := seal.Hash(seal.Commitment(final) + ledger.SentinelHash); rec.Hash != want {
		t.Errorf("Hash = %q, want hash over final amount %q", rec.Hash, want)
	}
}

func TestApprove_upwardAdjustmentPaidByApprover(t *testing.T) {
	e, store, _ := newTestEngine(t)
	tx := submit(t, e, "100.00", ledger.ModeFast)

	final := dec(t, "120.00")
	rec, err := e.Approve(context.Background(), settlement.ApproveRequest{ID: tx.ID, ApproverID: "9000", FinalAmount: &final})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}

	if got := balance(t, store, "1002"); !got.Equal(dec(t, "320.00")) {
		t.Errorf("receiver balance = %s, want 320.00", got)
	}
	if got := balance(t, store, "9000"); !got.Equal(dec(t, "980.00")) {
		t.Errorf("approver balance = %s, want 980.00", got)
	}
	if want := dec(t, "-20.00"); !rec.Adjustment.Equal(want) {
		t.Errorf("Adjustment = %s, want %s", rec.Adjustment, want)
	}
}

func TestApprove_subsidyExceedsApproverFunds(t *testing.T) {
	e, store, _ := newTestEngine(t)
	tx := submit(t, e, "100.00", ledger.ModeFast)

	final := dec(t, "2000.00")
	_, err := e.Approve(context.Background(), settlement.ApproveRequest{ID: tx.ID, ApproverID: "9000", FinalAmount: &final})

	var fundsErr *settlement.InsufficientFundsError
	if !errors.As(err, &fundsErr) || fundsErr.AccountID != "9000" {
		t.Fatalf("Approve = %v, want *InsufficientFundsError for approver", err)
	}
	// The whole settlement aborts: transaction stays queued, no balance
	// moved, nothing reached the ledger.
	if queueLen(t, store) != 1 {
		t.Error("transaction left the queue after aborted settlement")
	}
	if got := balance(t, store, "1001"); !got.Equal(dec(t, "500.00")) {
		t.Errorf("sender balance = %s, want unchanged 500.00", got)
	}
	if len(ledgerRecords(t, store)) != 0 {
		t.Error("aborted settlement reached the ledger")
	}
}

func TestApprove_integrityMismatchDiscards(t *testing.T) {
	e, store, alerts := newTestEngine(t)
	tx := submit(t, e, "100.00", ledger.ModeStandard)

	// Tamper with the queued amount behind the seal's back.
	store.Update(context.Background(), func(s *vault.State) error {
		s.Queue[s.Pending(tx.ID)].Amount = dec(t, "999.00")
		return nil
	})

	_, err := e.Approve(context.Background(), settlement.ApproveRequest{ID: tx.ID, ApproverID: "9000"})

	var intErr *settlement.IntegrityError
	if !errors.As(err, &intErr) {
		t.Fatalf("Approve = %v, want *IntegrityError", err)
	}
	if intErr.ID != tx.ID {
		t.Errorf("IntegrityError.ID = %q, want %q", intErr.ID, tx.ID)
	}
	if intErr.Stored == intErr.Recomputed {
		t.Error("stored and recomputed seals should differ")
	}

	// Discard is terminal: the transaction leaves the queue but no funds
	// move and the ledger stays empty.
	if queueLen(t, store) != 0 {
		t.Error("tampered transaction still queued")
	}
	if len(ledgerRecords(t, store)) != 0 {
		t.Error("tampered transaction reached the ledger")
	}
	if got := balance(t, store, "1001"); !got.Equal(dec(t, "500.00")) {
		t.Errorf("sender balance = %s, want unchanged 500.00", got)
	}
	if alerts.count() != 1 {
		t.Errorf("alerts sent = %d, want 1", alerts.count())
	}

	// A discarded transaction can never be retried.
	if _, err := e.Approve(context.Background(), settlement.ApproveRequest{ID: tx.ID, ApproverID: "9000"}); !errors.Is(err, settlement.ErrNotQueued) {
		t.Errorf("second Approve = %v, want ErrNotQueued", err)
	}
}

func TestApprove_unknownID(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.Approve(context.Background(), settlement.ApproveRequest{ID: "nope", ApproverID: "9000"})
	if !errors.Is(err, settlement.ErrNotQueued) {
		t.Errorf("Approve = %v, want ErrNotQueued", err)
	}
}

func TestApprove_nonPositiveFinalAmount(t *testing.T) {
	e, store, _ := newTestEngine(t)
	tx := submit(t, e, "100.00", ledger.ModeFast)

	final := decimal.Zero
	_, err := e.Approve(context.Background(), settlement.ApproveRequest{ID: tx.ID, ApproverID: "9000", FinalAmount: &final})
	if !errors.Is(err, settlement.ErrInvalidAmount) {
		t.Errorf("Approve = %v, want ErrInvalidAmount", err)
	}
	if queueLen(t, store) != 1 {
		t.Error("transaction should remain queued after invalid adjustment")
	}
}

func TestReject(t *testing.T) {
	e, store, _ := newTestEngine(t)
	tx := submit(t, e, "100.00", ledger.ModeStandard)

	if err := e.Reject(context.Background(), tx.ID); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if queueLen(t, store) != 0 {
		t.Error("rejected transaction still queued")
	}
	if got := balance(t, store, "1001"); !got.Equal(dec(t, "500.00")) {
		t.Errorf("sender balance = %s, want unchanged 500.00", got)
	}
	if err := e.Reject(context.Background(), tx.ID); !errors.Is(err, settlement.ErrNotQueued) {
		t.Errorf("second Reject = %v, want ErrNotQueued", err)
	}
}

func TestSweep_respectsDelay(t *testing.T) {
	e, store, _ := newTestEngine(t)
	tx := submit(t, e, "100.00", ledger.ModeFast)

	// 29s elapsed: not yet eligible.
	e.SetClock(func() time.Time { return baseTime.Add(29 * time.Second) })
	report, err := e.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Settled != 0 || queueLen(t, store) != 1 {
		t.Errorf("early sweep settled %d, queue len %d; want 0 settled, 1 queued", report.Settled, queueLen(t, store))
	}

	// 30s elapsed: promoted.
	e.SetClock(func() time.Time { return baseTime.Add(30 * time.Second) })
	report, err = e.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Settled != 1 {
		t.Fatalf("Settled = %d, want 1", report.Settled)
	}

	records := ledgerRecords(t, store)
	if len(records) != 1 {
		t.Fatalf("ledger len = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.ID != tx.ID {
		t.Errorf("record id = %q, want %q", rec.ID, tx.ID)
	}
	if rec.Status != ledger.StatusApprovedAuto {
		t.Errorf("Status = %q, want %q", rec.Status, ledger.StatusApprovedAuto)
	}
	if rec.ApproverID != "SYSTEM" {
		t.Errorf("ApproverID = %q, want SYSTEM", rec.ApproverID)
	}
	if !rec.Adjustment.IsZero() {
		t.Errorf("automatic settlement Adjustment = %s, want 0", rec.Adjustment)
	}
	if got := balance(t, store, "1002"); !got.Equal(dec(t, "300.00")) {
		t.Errorf("receiver balance = %s, want 300.00", got)
	}
}

func TestSweep_ignoresStandardMode(t *testing.T) {
	e, store, _ := newTestEngine(t)
	submit(t, e, "100.00", ledger.ModeStandard)

	e.SetClock(func() time.Time { return baseTime.Add(time.Hour) })
	report, err := e.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Settled != 0 || queueLen(t, store) != 1 {
		t.Error("sweep touched a standard-mode transaction")
	}
}

func TestSweep_defersMalformedTimestamp(t *testing.T) {
	e, store, _ := newTestEngine(t)
	tx := submit(t, e, "100.00", ledger.ModeFast)

	store.Update(context.Background(), func(s *vault.State) error {
		s.Queue[s.Pending(tx.ID)].SubmittedAt = "not-a-timestamp"
		return nil
	})

	e.SetClock(func() time.Time { return baseTime.Add(time.Hour) })
	report, err := e.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Deferred != 1 {
		t.Errorf("Deferred = %d, want 1", report.Deferred)
	}
	if queueLen(t, store) != 1 {
		t.Error("deferred transaction left the queue")
	}
}

func TestSweep_dropsWhenSenderUnderfunded(t *testing.T) {
	e, store, _ := newTestEngine(t)
	// Two eligible fast transfers that each need most of the balance; the
	// second cannot be covered after the first settles.
	submit(t, e, "400.00", ledger.ModeFast)
	submit(t, e, "400.00", ledger.ModeFast)

	e.SetClock(func() time.Time { return baseTime.Add(time.Minute) })
	report, err := e.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Settled != 1 || report.Dropped != 1 {
		t.Errorf("Settled/Dropped = %d/%d, want 1/1", report.Settled, report.Dropped)
	}
	if queueLen(t, store) != 0 {
		t.Error("dropped transaction still queued")
	}
	if len(ledgerRecords(t, store)) != 1 {
		t.Error("dropped transaction reached the ledger")
	}
}

func TestSweep_dropsWhenAccountVanishes(t *testing.T) {
	e, store, _ := newTestEngine(t)
	submit(t, e, "100.00", ledger.ModeFast)

	store.Update(context.Background(), func(s *vault.State) error {
		delete(s.Accounts, "1002")
		return nil
	})

	e.SetClock(func() time.Time { return baseTime.Add(time.Minute) })
	report, err := e.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", report.Dropped)
	}
	if queueLen(t, store) != 0 {
		t.Error("unresolvable transaction still queued")
	}
}

func TestSweep_reportsThroughCallback(t *testing.T) {
	e, _, _ := newTestEngine(t)
	submit(t, e, "50.00", ledger.ModeFast)

	var got settlement.SweepReport
	e.SetSweepRecord(func(r settlement.SweepReport) { got = r })

	e.SetClock(func() time.Time { return baseTime.Add(time.Minute) })
	if _, err := e.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if got.Settled != 1 {
		t.Errorf("callback Settled = %d, want 1", got.Settled)
	}
}

func TestSettlements_extendOneVerifiableChain(t *testing.T) {
	e, store, _ := newTestEngine(t)

	tx1 := submit(t, e, "10.00", ledger.ModeStandard)
	submit(t, e, "20.00", ledger.ModeFast)
	if _, err := e.Approve(context.Background(), settlement.ApproveRequest{ID: tx1.ID, ApproverID: "9000"}); err != nil {
		t.Fatalf("Approve tx1: %v", err)
	}
	e.SetClock(func() time.Time { return baseTime.Add(time.Minute) })
	if _, err := e.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	records := ledgerRecords(t, store)
	if len(records) != 2 {
		t.Fatalf("ledger len = %d, want 2", len(records))
	}
	if records[1].PrevHash != records[0].Hash {
		t.Error("second record does not link to the first")
	}
	if err := ledger.Verify(records); err != nil {
		t.Errorf("Verify = %v, want nil", err)
	}
}

func TestStart_sweepsUntilStopped(t *testing.T) {
	store := vault.NewMemoryStore()
	store.Seed(
		vault.Account{ID: "1001", Name: "Alice", Balance: dec(t, "500.00")},
		vault.Account{ID: "1002", Name: "Bassam", Balance: dec(t, "200.00")},
	)
	e := settlement.New(store, &captureNotifier{}, settlement.Config{
		SweepInterval: 10 * time.Millisecond,
	}, zap.NewNop())

	e.SetClock(func() time.Time { return baseTime })
	submit(t, e, "50.00", ledger.ModeFast)
	e.SetClock(func() time.Time { return baseTime.Add(time.Minute) })

	quit := make(chan os.Signal, 1)
	done := make(chan struct{})
	go func() {
		e.Start(quit)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(ledgerRecords(t, store)) == 0 {
		select {
		case <-deadline:
			t.Fatal("background loop never settled the eligible transaction")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	// A closed stop channel must end the loop; main's shutdown path closes
	// it rather than forwarding a signal.
	close(quit)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after its stop channel closed")
	}
}

func TestApprove_raceSettlesExactlyOnce(t *testing.T) {
	e, store, _ := newTestEngine(t)
	tx := submit(t, e, "100.00", ledger.ModeStandard)

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Approve(context.Background(), settlement.ApproveRequest{ID: tx.ID, ApproverID: "9000"})
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, settlement.ErrNotQueued):
			lost++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if won != 1 || lost != attempts-1 {
		t.Errorf("won/lost = %d/%d, want 1/%d", won, lost, attempts-1)
	}
	if len(ledgerRecords(t, store)) != 1 {
		t.Errorf("ledger len = %d, want exactly 1", len(ledgerRecords(t, store)))
	}
	if got := balance(t, store, "1001"); !got.Equal(dec(t, "400.00")) {
		t.Errorf("sender balance = %s, want debited exactly once (400.00)", got)
	}
}
