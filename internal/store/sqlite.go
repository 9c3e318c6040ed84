package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"markethours/internal/domain"
	"markethours/internal/pda"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Ledger = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	address  TEXT PRIMARY KEY,
	owner    TEXT    NOT NULL,
	lamports INTEGER NOT NULL CHECK (lamports >= 0),
	data     BLOB
);
CREATE TABLE IF NOT EXISTS receipts (
	id          TEXT PRIMARY KEY,
	instruction TEXT    NOT NULL,
	signer      TEXT    NOT NULL,
	payer       TEXT    NOT NULL,
	unix_ts     INTEGER NOT NULL,
	success     INTEGER NOT NULL,
	error       TEXT    NOT NULL DEFAULT '',
	logs        TEXT    NOT NULL DEFAULT '[]',
	reward      INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS receipts_created_at ON receipts (created_at);
`

// SQLiteStore implements Ledger backed by a SQLite database. It holds a
// single connection, so transactions from concurrent callers are serialized.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore. Use ":memory:" for an
// ephemeral ledger.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ---------------------------------------------------------------------------
// Ledger implementation
// ---------------------------------------------------------------------------

// GetAccount retrieves a single account by address.
func (s *SQLiteStore) GetAccount(ctx context.Context, addr pda.Address) (*domain.Account, error) {
	return getAccount(ctx, s.db, addr)
}

// WithTx runs fn in a SQLite transaction.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(&sqliteTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rolling back: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// SaveReceipt inserts a receipt outside of a call transaction.
func (s *SQLiteStore) SaveReceipt(ctx context.Context, r *domain.Receipt) error {
	return saveReceipt(ctx, s.db, r)
}

// ListReceipts returns receipts in [start, end), newest first.
func (s *SQLiteStore) ListReceipts(ctx context.Context, start, end time.Time, limit int) ([]domain.Receipt, error) {
	q := `SELECT id, instruction, signer, payer, unix_ts, success, error, logs, reward, created_at
		FROM receipts WHERE created_at >= ? AND created_at < ? ORDER BY created_at DESC, id`
	args := []any{start.UnixMilli(), end.UnixMilli()}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying receipts: %w", err)
	}
	defer rows.Close()

	var out []domain.Receipt
	for rows.Next() {
		var (
			r              domain.Receipt
			signer, payer  string
			success        int
			logs           string
			reward, millis int64
		)
		if err := rows.Scan(&r.ID, &r.Instruction, &signer, &payer, &r.UnixTimestamp,
			&success, &r.Error, &logs, &reward, &millis); err != nil {
			return nil, fmt.Errorf("scanning receipt: %w", err)
		}
		if r.Signer, err = pda.ParseAddress(signer); err != nil {
			return nil, err
		}
		if r.Payer, err = pda.ParseAddress(payer); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(logs), &r.Logs); err != nil {
			return nil, fmt.Errorf("decoding receipt logs: %w", err)
		}
		r.Success = success != 0
		r.Reward = uint64(reward)
		r.CreatedAt = time.UnixMilli(millis).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Tx implementation
// ---------------------------------------------------------------------------

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) GetAccount(ctx context.Context, addr pda.Address) (*domain.Account, error) {
	return getAccount(ctx, t.tx, addr)
}

func (t *sqliteTx) PutAccount(ctx context.Context, acct *domain.Account) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO accounts (address, owner, lamports, data) VALUES (?, ?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET owner = excluded.owner,
			lamports = excluded.lamports, data = excluded.data`,
		acct.Address.String(), acct.Owner.String(), int64(acct.Lamports), acct.Data)
	if err != nil {
		return fmt.Errorf("writing account %s: %w", acct.Address, err)
	}
	return nil
}

func (t *sqliteTx) SaveReceipt(ctx context.Context, r *domain.Receipt) error {
	return saveReceipt(ctx, t.tx, r)
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

func getAccount(ctx context.Context, q querier, addr pda.Address) (*domain.Account, error) {
	var (
		owner    string
		lamports int64
		data     []byte
	)
	err := q.QueryRowContext(ctx,
		`SELECT owner, lamports, data FROM accounts WHERE address = ?`, addr.String(),
	).Scan(&owner, &lamports, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", addr, ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading account %s: %w", addr, err)
	}
	ownerAddr, err := pda.ParseAddress(owner)
	if err != nil {
		return nil, err
	}
	return &domain.Account{
		Address:  addr,
		Owner:    ownerAddr,
		Lamports: uint64(lamports),
		Data:     data,
	}, nil
}

func saveReceipt(ctx context.Context, q querier, r *domain.Receipt) error {
	logs := r.Logs
	if logs == nil {
		logs = []string{}
	}
	logsJSON, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("encoding receipt logs: %w", err)
	}
	success := 0
	if r.Success {
		success = 1
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO receipts (id, instruction, signer, payer, unix_ts, success, error, logs, reward, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Instruction, r.Signer.String(), r.Payer.String(), r.UnixTimestamp,
		success, r.Error, string(logsJSON), int64(r.Reward), r.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("writing receipt %s: %w", r.ID, err)
	}
	return nil
}
