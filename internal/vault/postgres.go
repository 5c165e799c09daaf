package vault

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vaultline/vaultline/internal/ledger"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Update calls. The value is arbitrary but must be consistent
// across all server instances sharing a database.
const advisoryLockKey = int64(7_204_118_853)

// PostgresStore persists the three collections to PostgreSQL. It implements
// Store: every Update is one database transaction holding a transaction
// scoped advisory lock, so settlements remain mutually exclusive even across
// processes.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// View implements Store. It loads a consistent snapshot in a read-only
// transaction and runs fn against it.
func (p *PostgresStore) View(ctx context.Context, fn func(*State) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	state, err := loadState(ctx, tx)
	if err != nil {
		return err
	}
	return fn(state)
}

// Update implements Store. It acquires the advisory lock, loads the full
// state, runs fn against it, and writes the result back — all inside one
// transaction. An error from fn rolls everything back.
func (p *PostgresStore) Update(ctx context.Context, fn func(*State) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serialise concurrent updates with a transaction-scoped advisory lock.
	// Released automatically at commit or rollback.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	state, err := loadState(ctx, tx)
	if err != nil {
		return err
	}
	ledgerLen := len(state.Ledger)

	if err := fn(state); err != nil {
		return err
	}

	if err := saveState(ctx, tx, state, ledgerLen); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	return nil
}

func loadState(ctx context.Context, tx pgx.Tx) (*State, error) {
	state := NewState()

	rows, err := tx.Query(ctx, "SELECT id, name, balance::text FROM accounts")
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	for rows.Next() {
		var a Account
		var balance string
		if err := rows.Scan(&a.ID, &a.Name, &balance); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan account: %w", err)
		}
		if a.Balance, err = decimal.NewFromString(balance); err != nil {
			rows.Close()
			return nil, fmt.Errorf("parse balance for account %s: %w", a.ID, err)
		}
		acc := a
		state.Accounts[a.ID] = &acc
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, fmt.Errorf("read accounts: %w", rows.Err())
	}

	rows, err = tx.Query(ctx,
		`SELECT id, sender, receiver, amount::text, mode, submitted_at, integrity_hash
		 FROM pending_transactions ORDER BY pos ASC`)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	for rows.Next() {
		var t PendingTransaction
		var amount string
		if err := rows.Scan(&t.ID, &t.Sender, &t.Receiver, &amount, &t.Mode, &t.SubmittedAt, &t.IntegrityHash); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan pending transaction: %w", err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("parse amount for transaction %s: %w", t.ID, err)
		}
		state.Queue = append(state.Queue, t)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, fmt.Errorf("read queue: %w", rows.Err())
	}

	rows, err = tx.Query(ctx,
		`SELECT id, sender, receiver, original_amount::text, final_amount::text,
		        adjustment::text, mode, submitted_at, status, approver_id,
		        prev_hash, hash, integrity_hash
		 FROM ledger_records ORDER BY idx ASC`)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	for rows.Next() {
		var r ledger.Record
		var original, final, adjustment string
		if err := rows.Scan(&r.ID, &r.Sender, &r.Receiver, &original, &final,
			&adjustment, &r.Mode, &r.SubmittedAt, &r.Status, &r.ApproverID,
			&r.PrevHash, &r.Hash, &r.IntegrityHash); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan ledger record: %w", err)
		}
		if r.OriginalAmount, err = decimal.NewFromString(original); err != nil {
			rows.Close()
			return nil, fmt.Errorf("parse original amount for record %s: %w", r.ID, err)
		}
		if r.FinalAmount, err = decimal.NewFromString(final); err != nil {
			rows.Close()
			return nil, fmt.Errorf("parse final amount for record %s: %w", r.ID, err)
		}
		if r.Adjustment, err = decimal.NewFromString(adjustment); err != nil {
			rows.Close()
			return nil, fmt.Errorf("parse adjustment for record %s: %w", r.ID, err)
		}
		state.Ledger = append(state.Ledger, r)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, fmt.Errorf("read ledger: %w", rows.Err())
	}

	return state, nil
}

// saveState writes the mutated state back. Account balances are upserted,
// the queue is rewritten whole (it is small and its order matters), and the
// ledger — append-only by construction — gets inserts only for records past
// prevLedgerLen.
func saveState(ctx context.Context, tx pgx.Tx, state *State, prevLedgerLen int) error {
	for _, a := range state.Accounts {
		if _, err := tx.Exec(ctx,
			`INSERT INTO accounts (id, name, balance) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE SET name = $2, balance = $3`,
			a.ID, a.Name, a.Balance.String(),
		); err != nil {
			return fmt.Errorf("upsert account %s: %w", a.ID, err)
		}
	}

	if _, err := tx.Exec(ctx, "DELETE FROM pending_transactions"); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	for i := range state.Queue {
		t := &state.Queue[i]
		if _, err := tx.Exec(ctx,
			`INSERT INTO pending_transactions (pos, id, sender, receiver, amount, mode, submitted_at, integrity_hash)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			i, t.ID, t.Sender, t.Receiver, t.Amount.String(), t.Mode, t.SubmittedAt, t.IntegrityHash,
		); err != nil {
			return fmt.Errorf("insert pending transaction %s: %w", t.ID, err)
		}
	}

	for i := prevLedgerLen; i < len(state.Ledger); i++ {
		r := &state.Ledger[i]
		if _, err := tx.Exec(ctx,
			`INSERT INTO ledger_records (idx, id, sender, receiver, original_amount, final_amount,
			                             adjustment, mode, submitted_at, status, approver_id,
			                             prev_hash, hash, integrity_hash)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			i, r.ID, r.Sender, r.Receiver, r.OriginalAmount.String(), r.FinalAmount.String(),
			r.Adjustment.String(), r.Mode, r.SubmittedAt, r.Status, r.ApproverID,
			r.PrevHash, r.Hash, r.IntegrityHash,
		); err != nil {
			return fmt.Errorf("insert ledger record %s: %w", r.ID, err)
		}
	}
	return nil
}
