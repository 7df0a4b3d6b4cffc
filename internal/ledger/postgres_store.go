package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL. Tables come from the
// goose migrations in migrations/.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// GetBalance retrieves an address's balance.
func (p *PostgresStore) GetBalance(ctx context.Context, addr string) (*Balance, error) {
	bal := &Balance{Address: addr}

	err := p.db.QueryRowContext(ctx, `
		SELECT available::TEXT, total_in::TEXT, total_out::TEXT, updated_at
		FROM ledger_balances WHERE address = $1
	`, addr).Scan(&bal.Available, &bal.TotalIn, &bal.TotalOut, &bal.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return zeroBalance(addr), nil
	}
	if err != nil {
		return nil, err
	}
	return bal, nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, e *Entry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, address, type, amount, reference, created_at)
		VALUES ($1, $2, $3, $4::NUMERIC(78,0), $5, $6)
	`, e.ID, e.Address, e.Type, e.Amount, e.Reference, e.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateReference
	}
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}
	return nil
}

// Credit adds funds to an address's balance.
func (p *PostgresStore) Credit(ctx context.Context, entry *Entry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertEntry(ctx, tx, entry); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_balances (address, available, total_in, updated_at)
		VALUES ($1, $2::NUMERIC(78,0), $2::NUMERIC(78,0), NOW())
		ON CONFLICT (address) DO UPDATE SET
			available  = ledger_balances.available + $2::NUMERIC(78,0),
			total_in   = ledger_balances.total_in  + $2::NUMERIC(78,0),
			updated_at = NOW()
	`, entry.Address, entry.Amount)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	return tx.Commit()
}

// Debit removes funds from an address's balance. The conditional update
// prevents overdraft; the CHECK constraint backs it up.
func (p *PostgresStore) Debit(ctx context.Context, entry *Entry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE ledger_balances SET
			available  = available - $2::NUMERIC(78,0),
			total_out  = total_out + $2::NUMERIC(78,0),
			updated_at = NOW()
		WHERE address = $1 AND available >= $2::NUMERIC(78,0)
	`, entry.Address, entry.Amount)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInsufficientBalance
	}

	if err := insertEntry(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

const entryColumns = `id, address, type, amount::TEXT, reference, created_at`

func scanEntry(row interface{ Scan(...any) error }) (*Entry, error) {
	e := &Entry{}
	if err := row.Scan(&e.ID, &e.Address, &e.Type, &e.Amount, &e.Reference, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

// GetEntry returns the entry recorded under reference.
func (p *PostgresStore) GetEntry(ctx context.Context, reference string) (*Entry, error) {
	e, err := scanEntry(p.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE reference = $1`, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	return e, err
}

// GetHistory returns an address's entries, newest first.
func (p *PostgresStore) GetHistory(ctx context.Context, addr string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE address = $1 ORDER BY created_at DESC, id LIMIT $2`,
		addr, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
