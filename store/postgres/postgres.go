/*
Package postgres provides a PostgreSQL implementation of the commission storage interfaces.

Amounts are NUMERIC(14,2) columns, exchanged with the driver as text and
parsed with shopspring/decimal. The invoice counter uses the same
single-statement INSERT ... ON CONFLICT DO UPDATE ... RETURNING upsert as the
SQLite store, so concurrent allocations are serialized by the row lock.

Concurrency is handled by the database; there is no process-level mutex.
Inside WithTx, reading or writing a filing lock first takes a
pg_advisory_xact_lock on the filing period, so a lock check and a concurrent
LockPeriod on the same month run one after the other even under READ
COMMITTED.
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/qrbooks/commission-engine/commission"
	"github.com/shopspring/decimal"
)

// Store implements commission.TxStore and commission.AuditLog on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// New connects to databaseURL, pings it and applies the schema.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	if databaseURL == "" {
		return nil, errors.New("database url is empty")
	}
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		date DATE NOT NULL,
		total_received NUMERIC(14,2) NOT NULL,
		commission_percent NUMERIC(6,3) NOT NULL,
		tax_rate_percent NUMERIC(6,3) NOT NULL,
		commission_amount NUMERIC(14,2) NOT NULL,
		tax_amount NUMERIC(14,2) NOT NULL,
		net_income NUMERIC(14,2) NOT NULL,
		return_amount NUMERIC(14,2) NOT NULL,
		payment_mode TEXT NOT NULL,
		invoice_number TEXT NOT NULL UNIQUE,
		fiscal_year TEXT NOT NULL,
		created_by TEXT NOT NULL,
		remarks TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(date, invoice_number);
	CREATE INDEX IF NOT EXISTS idx_transactions_fiscal_year ON transactions(fiscal_year);

	CREATE TABLE IF NOT EXISTS invoice_sequences (
		fiscal_year TEXT PRIMARY KEY,
		last_sequence_number BIGINT NOT NULL,
		prefix TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS filing_locks (
		id TEXT PRIMARY KEY,
		fiscal_year TEXT NOT NULL,
		month INT NOT NULL CHECK (month BETWEEN 1 AND 12),
		year INT NOT NULL,
		filing_period TEXT NOT NULL UNIQUE,
		is_locked BOOLEAN NOT NULL,
		locked_at TIMESTAMPTZ NOT NULL,
		locked_by TEXT NOT NULL,
		unlocked_at TIMESTAMPTZ,
		unlocked_by TEXT,
		gstr1_filed_at TIMESTAMPTZ,
		gstr3b_filed_at TIMESTAMPTZ,
		remarks TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (fiscal_year, month, year)
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		timestamp TIMESTAMPTZ NOT NULL,
		action TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT,
		period TEXT,
		details JSONB,
		status TEXT NOT NULL,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp);
	`)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

const selectTransaction = `SELECT id, date, total_received::text, commission_percent::text,
	tax_rate_percent::text, commission_amount::text, tax_amount::text, net_income::text, return_amount::text,
	payment_mode, invoice_number, fiscal_year, created_by, remarks, created_at, updated_at
	FROM transactions`

func (s *Store) InsertTransaction(ctx context.Context, tx commission.Transaction) error {
	return insertTransaction(ctx, s.pool, tx)
}

func insertTransaction(ctx context.Context, q querier, tx commission.Transaction) error {
	_, err := q.Exec(ctx, `
		INSERT INTO transactions (id, date, total_received, commission_percent, tax_rate_percent,
			commission_amount, tax_amount, net_income, return_amount, payment_mode, invoice_number,
			fiscal_year, created_by, remarks, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		tx.ID, tx.Date, tx.TotalReceived.String(), tx.CommissionPercent.String(), tx.TaxRatePercent.String(),
		tx.CommissionAmount.String(), tx.TaxAmount.String(), tx.NetIncome.String(), tx.ReturnAmount.String(),
		string(tx.PaymentMode), tx.InvoiceNumber, string(tx.FiscalYear), tx.CreatedBy,
		nullable(tx.Remarks), tx.CreatedAt, tx.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", commission.ErrDuplicateInvoiceNumber, tx.InvoiceNumber)
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (s *Store) UpdateTransaction(ctx context.Context, tx commission.Transaction) error {
	return updateTransaction(ctx, s.pool, tx)
}

func updateTransaction(ctx context.Context, q querier, tx commission.Transaction) error {
	tag, err := q.Exec(ctx, `
		UPDATE transactions SET
			date = $2, total_received = $3, commission_percent = $4, tax_rate_percent = $5,
			commission_amount = $6, tax_amount = $7, net_income = $8, return_amount = $9,
			payment_mode = $10, invoice_number = $11, fiscal_year = $12, remarks = $13, updated_at = $14
		WHERE id = $1`,
		tx.ID, tx.Date, tx.TotalReceived.String(), tx.CommissionPercent.String(), tx.TaxRatePercent.String(),
		tx.CommissionAmount.String(), tx.TaxAmount.String(), tx.NetIncome.String(), tx.ReturnAmount.String(),
		string(tx.PaymentMode), tx.InvoiceNumber, string(tx.FiscalYear), nullable(tx.Remarks), tx.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", commission.ErrDuplicateInvoiceNumber, tx.InvoiceNumber)
		}
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &commission.NotFoundError{Kind: "transaction", Key: tx.ID}
	}
	return nil
}

func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	return deleteTransaction(ctx, s.pool, id)
}

func deleteTransaction(ctx context.Context, q querier, id string) error {
	tag, err := q.Exec(ctx, "DELETE FROM transactions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &commission.NotFoundError{Kind: "transaction", Key: id}
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*commission.Transaction, error) {
	return getTransaction(ctx, s.pool, id)
}

func getTransaction(ctx context.Context, q querier, id string) (*commission.Transaction, error) {
	txs, err := queryTransactions(ctx, q, selectTransaction+" WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

func (s *Store) ListTransactions(ctx context.Context, filter commission.TransactionFilter) ([]commission.Transaction, error) {
	return listTransactions(ctx, s.pool, filter)
}

func listTransactions(ctx context.Context, q querier, f commission.TransactionFilter) ([]commission.Transaction, error) {
	var w where
	if f.From != nil {
		w.add("date >= $%d", commission.NormalizeDate(*f.From))
	}
	if f.To != nil {
		w.add("date <= $%d", commission.NormalizeDate(*f.To))
	}
	if f.FiscalYear != "" {
		w.add("fiscal_year = $%d", string(f.FiscalYear))
	}
	if f.PaymentMode != "" {
		w.add("payment_mode = $%d", string(f.PaymentMode))
	}
	if f.InvoiceNumber != "" {
		w.add("invoice_number = $%d", f.InvoiceNumber)
	}
	if f.CreatedBy != "" {
		w.add("created_by = $%d", f.CreatedBy)
	}

	query := selectTransaction + w.sql() + " ORDER BY date ASC, invoice_number ASC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", f.Offset)
	}
	return queryTransactions(ctx, q, query, w.args...)
}

func queryTransactions(ctx context.Context, q querier, query string, args ...any) ([]commission.Transaction, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []commission.Transaction
	for rows.Next() {
		var (
			tx                                                      commission.Transaction
			total, pct, taxRate, commissionAmt, tax, net, returnAmt string
			mode, fy                                                string
			remarks                                                 *string
		)
		if err := rows.Scan(&tx.ID, &tx.Date, &total, &pct, &taxRate, &commissionAmt, &tax, &net, &returnAmt,
			&mode, &tx.InvoiceNumber, &fy, &tx.CreatedBy, &remarks, &tx.CreatedAt, &tx.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		amounts := []*decimal.Decimal{&tx.TotalReceived, &tx.CommissionPercent, &tx.TaxRatePercent, &tx.CommissionAmount, &tx.TaxAmount, &tx.NetIncome, &tx.ReturnAmount}
		for i, raw := range []string{total, pct, taxRate, commissionAmt, tax, net, returnAmt} {
			d, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("transaction %s: bad amount %q: %w", tx.ID, raw, err)
			}
			*amounts[i] = d
		}
		tx.Date = commission.NormalizeDate(tx.Date)
		tx.PaymentMode = commission.PaymentMode(mode)
		tx.FiscalYear = commission.FiscalYear(fy)
		if remarks != nil {
			tx.Remarks = *remarks
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// =============================================================================
// INVOICE SEQUENCES
// =============================================================================

// NextSequence increments the fiscal year counter in one statement.
func (s *Store) NextSequence(ctx context.Context, fy commission.FiscalYear, prefix string) (int64, error) {
	return nextSequence(ctx, s.pool, fy, prefix)
}

func nextSequence(ctx context.Context, q querier, fy commission.FiscalYear, prefix string) (int64, error) {
	var seq int64
	err := q.QueryRow(ctx, `
		INSERT INTO invoice_sequences (fiscal_year, last_sequence_number, prefix)
		VALUES ($1, 1, $2)
		ON CONFLICT (fiscal_year)
		DO UPDATE SET last_sequence_number = invoice_sequences.last_sequence_number + 1,
			prefix = EXCLUDED.prefix,
			updated_at = now()
		RETURNING last_sequence_number`,
		string(fy), prefix,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to increment invoice sequence: %w", err)
	}
	return seq, nil
}

// =============================================================================
// FILING LOCKS
// =============================================================================

const selectLock = `SELECT id, fiscal_year, month, year, filing_period, is_locked, locked_at, locked_by,
	unlocked_at, unlocked_by, gstr1_filed_at, gstr3b_filed_at, remarks, created_at, updated_at
	FROM filing_locks`

func (s *Store) UpsertFilingLock(ctx context.Context, lock commission.FilingLock) error {
	return upsertFilingLock(ctx, s.pool, lock)
}

func upsertFilingLock(ctx context.Context, q querier, l commission.FilingLock) error {
	_, err := q.Exec(ctx, `
		INSERT INTO filing_locks (id, fiscal_year, month, year, filing_period, is_locked, locked_at, locked_by,
			unlocked_at, unlocked_by, gstr1_filed_at, gstr3b_filed_at, remarks, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (fiscal_year, month, year) DO UPDATE SET
			is_locked = EXCLUDED.is_locked,
			locked_at = EXCLUDED.locked_at,
			locked_by = EXCLUDED.locked_by,
			unlocked_at = EXCLUDED.unlocked_at,
			unlocked_by = EXCLUDED.unlocked_by,
			gstr1_filed_at = EXCLUDED.gstr1_filed_at,
			gstr3b_filed_at = EXCLUDED.gstr3b_filed_at,
			remarks = EXCLUDED.remarks,
			updated_at = EXCLUDED.updated_at`,
		l.ID, string(l.FiscalYear), int(l.Month), l.Year, l.FilingPeriod, l.IsLocked, l.LockedAt, l.LockedBy,
		l.UnlockedAt, nullable(l.UnlockedBy), l.FilingDates.GSTR1, l.FilingDates.GSTR3B,
		nullable(l.Remarks), l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert filing lock: %w", err)
	}
	return nil
}

func (s *Store) GetFilingLock(ctx context.Context, key commission.LockKey) (*commission.FilingLock, error) {
	return getFilingLock(ctx, s.pool, key)
}

func getFilingLock(ctx context.Context, q querier, key commission.LockKey) (*commission.FilingLock, error) {
	locks, err := queryLocks(ctx, q, selectLock+" WHERE fiscal_year = $1 AND month = $2 AND year = $3",
		string(key.FiscalYear), int(key.Month), key.Year)
	if err != nil {
		return nil, err
	}
	if len(locks) == 0 {
		return nil, nil
	}
	return &locks[0], nil
}

func (s *Store) ListFilingLocks(ctx context.Context, fy commission.FiscalYear) ([]commission.FilingLock, error) {
	return listFilingLocks(ctx, s.pool, fy)
}

func listFilingLocks(ctx context.Context, q querier, fy commission.FiscalYear) ([]commission.FilingLock, error) {
	if fy == "" {
		return queryLocks(ctx, q, selectLock+" ORDER BY year, month")
	}
	return queryLocks(ctx, q, selectLock+" WHERE fiscal_year = $1 ORDER BY year, month", string(fy))
}

func queryLocks(ctx context.Context, q querier, query string, args ...any) ([]commission.FilingLock, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query filing locks: %w", err)
	}
	defer rows.Close()

	var out []commission.FilingLock
	for rows.Next() {
		var (
			l                   commission.FilingLock
			fy                  string
			month               int
			unlockedBy, remarks *string
		)
		if err := rows.Scan(&l.ID, &fy, &month, &l.Year, &l.FilingPeriod, &l.IsLocked, &l.LockedAt, &l.LockedBy,
			&l.UnlockedAt, &unlockedBy, &l.FilingDates.GSTR1, &l.FilingDates.GSTR3B, &remarks,
			&l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan filing lock: %w", err)
		}
		l.FiscalYear = commission.FiscalYear(fy)
		l.Month = time.Month(month)
		if unlockedBy != nil {
			l.UnlockedBy = *unlockedBy
		}
		if remarks != nil {
			l.Remarks = *remarks
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx runs fn inside a database transaction, rolled back when fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(commission.Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type txStore struct {
	tx pgx.Tx
}

func (ts *txStore) InsertTransaction(ctx context.Context, tx commission.Transaction) error {
	return insertTransaction(ctx, ts.tx, tx)
}

func (ts *txStore) UpdateTransaction(ctx context.Context, tx commission.Transaction) error {
	return updateTransaction(ctx, ts.tx, tx)
}

func (ts *txStore) DeleteTransaction(ctx context.Context, id string) error {
	return deleteTransaction(ctx, ts.tx, id)
}

func (ts *txStore) GetTransaction(ctx context.Context, id string) (*commission.Transaction, error) {
	return getTransaction(ctx, ts.tx, id)
}

func (ts *txStore) ListTransactions(ctx context.Context, filter commission.TransactionFilter) ([]commission.Transaction, error) {
	return listTransactions(ctx, ts.tx, filter)
}

func (ts *txStore) NextSequence(ctx context.Context, fy commission.FiscalYear, prefix string) (int64, error) {
	return nextSequence(ctx, ts.tx, fy, prefix)
}

func (ts *txStore) UpsertFilingLock(ctx context.Context, lock commission.FilingLock) error {
	if err := holdPeriod(ctx, ts.tx, lock.FilingPeriod); err != nil {
		return err
	}
	return upsertFilingLock(ctx, ts.tx, lock)
}

// GetFilingLock holds the period until commit, so a lock written concurrently
// is either visible here or waits for this transaction to finish.
func (ts *txStore) GetFilingLock(ctx context.Context, key commission.LockKey) (*commission.FilingLock, error) {
	if err := holdPeriod(ctx, ts.tx, key.Period().FilingPeriod()); err != nil {
		return nil, err
	}
	return getFilingLock(ctx, ts.tx, key)
}

// holdPeriod takes a transaction-scoped advisory lock on a filing period.
// Re-entrant within one transaction; released on commit or rollback.
func holdPeriod(ctx context.Context, q querier, filingPeriod string) error {
	if _, err := q.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", filingPeriod); err != nil {
		return fmt.Errorf("failed to hold filing period %s: %w", filingPeriod, err)
	}
	return nil
}

func (ts *txStore) ListFilingLocks(ctx context.Context, fy commission.FiscalYear) ([]commission.FilingLock, error) {
	return listFilingLocks(ctx, ts.tx, fy)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, e commission.AuditEntry) error {
	var details []byte
	if e.Details != nil {
		data, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("failed to encode audit details: %w", err)
		}
		details = data
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (id, timestamp, action, actor_id, entity_type, entity_id, period, details, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.Timestamp, string(e.Action), e.ActorID, e.EntityType,
		nullable(e.EntityID), nullable(e.Period), details, string(e.Status), nullable(e.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *Store) QueryAudit(ctx context.Context, f commission.AuditFilter) ([]commission.AuditEntry, error) {
	var w where
	if f.ActorID != "" {
		w.add("actor_id = $%d", f.ActorID)
	}
	if f.EntityID != "" {
		w.add("entity_id = $%d", f.EntityID)
	}
	if len(f.Actions) > 0 {
		actions := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			actions[i] = string(a)
		}
		w.add("action = ANY($%d)", actions)
	}
	if f.From != nil {
		w.add("timestamp >= $%d", *f.From)
	}
	if f.To != nil {
		w.add("timestamp <= $%d", *f.To)
	}
	query := `SELECT id, timestamp, action, actor_id, entity_type, entity_id, period, details, status, error
		FROM audit_log` + w.sql()
	if f.Limit > 0 {
		query += fmt.Sprintf(" ORDER BY timestamp DESC, seq DESC LIMIT %d", f.Limit)
	} else {
		query += " ORDER BY timestamp ASC, seq ASC"
	}

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []commission.AuditEntry
	for rows.Next() {
		var (
			e                        commission.AuditEntry
			action, status           string
			entityID, period, errMsg *string
			details                  []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &action, &e.ActorID, &e.EntityType,
			&entityID, &period, &details, &status, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Action = commission.AuditAction(action)
		e.Status = commission.AuditStatus(status)
		e.EntityID = deref(entityID)
		e.Period = deref(period)
		e.Error = deref(errMsg)
		if e.Details, err = commission.DecodeAuditDetails(e.Action, details); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if f.Limit > 0 {
		slices.Reverse(out)
	}
	return out, nil
}

// Reset truncates every table (integration tests, demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "TRUNCATE TABLE transactions, invoice_sequences, filing_locks, audit_log")
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// where accumulates numbered predicates.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(format string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(format, len(w.args)))
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var (
	_ commission.TxStore  = (*Store)(nil)
	_ commission.AuditLog = (*Store)(nil)
)
