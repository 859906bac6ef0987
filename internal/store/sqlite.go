package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"covercall/internal/calendar"
	"covercall/internal/domain"
	"covercall/internal/ledger"
	"covercall/internal/perf"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id                    TEXT PRIMARY KEY,
	created_at            INTEGER NOT NULL,
	ticker                TEXT NOT NULL,
	params                TEXT NOT NULL,
	initial_capital       TEXT NOT NULL,
	premiums              TEXT NOT NULL,
	cash                  TEXT NOT NULL,
	shares                TEXT NOT NULL,
	last_close            TEXT NOT NULL,
	equity                TEXT NOT NULL,
	elapsed_days          INTEGER NOT NULL,
	total_return          REAL NOT NULL,
	annualized_return     REAL NOT NULL,
	cash_yield            REAL NOT NULL,
	annualized_cash_yield REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS ledger_entries (
	run_id    TEXT NOT NULL REFERENCES runs(id),
	seq       INTEGER NOT NULL,
	asset     TEXT NOT NULL,
	direction TEXT NOT NULL,
	concept   TEXT NOT NULL,
	date      TEXT NOT NULL,
	phase     TEXT NOT NULL,
	quantity  TEXT NOT NULL,
	price     TEXT,
	PRIMARY KEY (run_id, seq)
);
`

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema if needed and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
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

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts a run and its ledger in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	sum := run.Summary
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, created_at, ticker, params, initial_capital, premiums, cash, shares, last_close, equity,
		 elapsed_days, total_return, annualized_return, cash_yield, annualized_cash_yield)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UnixMilli(), run.Ticker, string(run.Params),
		sum.InitialCapital.String(), sum.Premiums.String(), sum.Cash.String(), sum.Shares.String(),
		sum.LastClose.String(), sum.Equity.String(), sum.ElapsedDays,
		sum.TotalReturn, sum.AnnualizedReturn, sum.CashYield, sum.AnnualizedCashYield,
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ledger_entries
		(run_id, seq, asset, direction, concept, date, phase, quantity, price)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range run.Entries {
		var price sql.NullString
		if e.Price != nil {
			price = sql.NullString{String: e.Price.String(), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, run.ID, e.Seq, e.Asset, string(e.Direction), string(e.Concept),
			calendar.Format(e.Date), string(e.Phase), e.Quantity.String(), price); err != nil {
			return fmt.Errorf("inserting entry %d of run %s: %w", e.Seq, run.ID, err)
		}
	}

	return tx.Commit()
}

// GetRun retrieves a single run and its ledger by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	entries, err := s.listEntries(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Entries = entries
	return run, nil
}

// ListRuns returns the most recent runs, newest first, up to limit.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectRuns+` ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) listEntries(ctx context.Context, runID string) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, asset, direction, concept, date, phase, quantity, price
		FROM ledger_entries WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var (
			e                                    ledger.Entry
			direction, concept, date, phase, qty string
			price                                sql.NullString
		)
		if err := rows.Scan(&e.Seq, &e.Asset, &direction, &concept, &date, &phase, &qty, &price); err != nil {
			return nil, err
		}
		e.Direction = domain.Direction(direction)
		e.Concept = domain.Concept(concept)
		e.Phase = domain.Phase(phase)
		if e.Date, err = calendar.ParseDate(date); err != nil {
			return nil, err
		}
		if e.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("entry %d quantity: %w", e.Seq, err)
		}
		if price.Valid {
			p, err := decimal.NewFromString(price.String)
			if err != nil {
				return nil, fmt.Errorf("entry %d price: %w", e.Seq, err)
			}
			e.Price = &p
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

const selectRuns = `
	SELECT id, created_at, ticker, params, initial_capital, premiums, cash, shares, last_close, equity,
	       elapsed_days, total_return, annualized_return, cash_yield, annualized_cash_yield
	FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		run                                                Run
		createdAt                                          int64
		params                                             string
		capital, premiums, cash, shares, lastClose, equity string
		sum                                                perf.Summary
	)
	if err := sc.Scan(&run.ID, &createdAt, &run.Ticker, &params,
		&capital, &premiums, &cash, &shares, &lastClose, &equity,
		&sum.ElapsedDays, &sum.TotalReturn, &sum.AnnualizedReturn, &sum.CashYield, &sum.AnnualizedCashYield); err != nil {
		return nil, err
	}

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&sum.InitialCapital, capital},
		{&sum.Premiums, premiums},
		{&sum.Cash, cash},
		{&sum.Shares, shares},
		{&sum.LastClose, lastClose},
		{&sum.Equity, equity},
	} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", run.ID, err)
		}
		*f.dst = d
	}

	run.CreatedAt = time.UnixMilli(createdAt).UTC()
	run.Params = []byte(params)
	run.Summary = sum
	return &run, nil
}
