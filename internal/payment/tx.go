package payment

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxRunner runs service callbacks inside a single pgx transaction. The
// factories rebind the ledger and booking surfaces to the transaction so both
// writes share its fate.
type PgxRunner struct {
	Pool     *pgxpool.Pool
	Ledger   func(pgx.Tx) Ledger
	Bookings func(pgx.Tx) Bookings
}

// InTx begins a transaction, invokes fn with transaction-bound surfaces and
// commits on success.
func (r PgxRunner) InTx(ctx context.Context, fn func(Ledger, Bookings) error) error {
	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(r.Ledger(tx), r.Bookings(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
