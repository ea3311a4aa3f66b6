/*
Package sqlite provides a SQLite-backed implementation of the commission storage interfaces.

INTERFACES IMPLEMENTED:
  commission.TxStore:  Transactions, invoice sequences, filing locks
  commission.AuditLog: Append-only audit trail

KEY TABLES:
  transactions:       One row per QR receipt, unique invoice_number
  invoice_sequences:  One counter row per fiscal year
  filing_locks:       One row per (fiscal_year, month, year)
  audit_log:          Append-only, details stored as JSON

ATOMIC COUNTER:
  NextSequence is a single INSERT ... ON CONFLICT DO UPDATE ... RETURNING
  statement. The counter is never read and written back in two steps.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so ":memory:"
  databases are shared by every caller. Inside WithTx every query runs on the
  *sql.Tx; the parent's locking methods are never re-entered.

AMOUNTS:
  Decimals are stored as TEXT and parsed with shopspring/decimal, so no
  amount ever passes through a float.

USAGE:
  store, err := sqlite.New("./data/commission.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc, err := commission.NewService(store, store, cfg, logger)
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/qrbooks/commission-engine/commission"
	"github.com/shopspring/decimal"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		total_received TEXT NOT NULL,
		commission_percent TEXT NOT NULL,
		tax_rate_percent TEXT NOT NULL,
		commission_amount TEXT NOT NULL,
		tax_amount TEXT NOT NULL,
		net_income TEXT NOT NULL,
		return_amount TEXT NOT NULL,
		payment_mode TEXT NOT NULL,
		invoice_number TEXT NOT NULL UNIQUE,
		fiscal_year TEXT NOT NULL,
		created_by TEXT NOT NULL,
		remarks TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_date
		ON transactions(date, invoice_number);
	CREATE INDEX IF NOT EXISTS idx_transactions_fiscal_year
		ON transactions(fiscal_year);

	CREATE TABLE IF NOT EXISTS invoice_sequences (
		fiscal_year TEXT PRIMARY KEY,
		last_sequence_number INTEGER NOT NULL,
		prefix TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS filing_locks (
		id TEXT PRIMARY KEY,
		fiscal_year TEXT NOT NULL,
		month INTEGER NOT NULL,
		year INTEGER NOT NULL,
		filing_period TEXT NOT NULL UNIQUE,
		is_locked INTEGER NOT NULL,
		locked_at TEXT NOT NULL,
		locked_by TEXT NOT NULL,
		unlocked_at TEXT,
		unlocked_by TEXT,
		gstr1_filed_at TEXT,
		gstr3b_filed_at TEXT,
		remarks TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (fiscal_year, month, year)
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		action TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT,
		period TEXT,
		details_json TEXT,
		status TEXT NOT NULL,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_log_entity ON audit_log(entity_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

const transactionColumns = `id, date, total_received, commission_percent, tax_rate_percent, commission_amount,
	tax_amount, net_income, return_amount, payment_mode, invoice_number, fiscal_year,
	created_by, remarks, created_at, updated_at`

func (s *Store) InsertTransaction(ctx context.Context, tx commission.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertTransaction(ctx, s.db, tx)
}

func insertTransaction(ctx context.Context, q querier, tx commission.Transaction) error {
	_, err := q.ExecContext(ctx, `INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.Date.Format(time.DateOnly),
		tx.TotalReceived.String(),
		tx.CommissionPercent.String(),
		tx.TaxRatePercent.String(),
		tx.CommissionAmount.String(),
		tx.TaxAmount.String(),
		tx.NetIncome.String(),
		tx.ReturnAmount.String(),
		string(tx.PaymentMode),
		tx.InvoiceNumber,
		string(tx.FiscalYear),
		tx.CreatedBy,
		nullString(tx.Remarks),
		formatTime(tx.CreatedAt),
		formatTime(tx.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", commission.ErrDuplicateInvoiceNumber, tx.InvoiceNumber)
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (s *Store) UpdateTransaction(ctx context.Context, tx commission.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateTransaction(ctx, s.db, tx)
}

func updateTransaction(ctx context.Context, q querier, tx commission.Transaction) error {
	res, err := q.ExecContext(ctx, `
		UPDATE transactions SET
			date = ?, total_received = ?, commission_percent = ?, tax_rate_percent = ?,
			commission_amount = ?, tax_amount = ?, net_income = ?, return_amount = ?, payment_mode = ?,
			invoice_number = ?, fiscal_year = ?, remarks = ?, updated_at = ?
		WHERE id = ?`,
		tx.Date.Format(time.DateOnly),
		tx.TotalReceived.String(),
		tx.CommissionPercent.String(),
		tx.TaxRatePercent.String(),
		tx.CommissionAmount.String(),
		tx.TaxAmount.String(),
		tx.NetIncome.String(),
		tx.ReturnAmount.String(),
		string(tx.PaymentMode),
		tx.InvoiceNumber,
		string(tx.FiscalYear),
		nullString(tx.Remarks),
		formatTime(tx.UpdatedAt),
		tx.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", commission.ErrDuplicateInvoiceNumber, tx.InvoiceNumber)
		}
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return requireRow(res, "transaction", tx.ID)
}

func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteTransaction(ctx, s.db, id)
}

func deleteTransaction(ctx context.Context, q querier, id string) error {
	res, err := q.ExecContext(ctx, "DELETE FROM transactions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return requireRow(res, "transaction", id)
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*commission.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTransaction(ctx, s.db, id)
}

func getTransaction(ctx context.Context, q querier, id string) (*commission.Transaction, error) {
	txs, err := queryTransactions(ctx, q, "SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

func (s *Store) ListTransactions(ctx context.Context, filter commission.TransactionFilter) ([]commission.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listTransactions(ctx, s.db, filter)
}

func listTransactions(ctx context.Context, q querier, f commission.TransactionFilter) ([]commission.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if f.From != nil {
		where = append(where, "date >= ?")
		args = append(args, f.From.Format(time.DateOnly))
	}
	if f.To != nil {
		where = append(where, "date <= ?")
		args = append(args, f.To.Format(time.DateOnly))
	}
	if f.FiscalYear != "" {
		where = append(where, "fiscal_year = ?")
		args = append(args, string(f.FiscalYear))
	}
	if f.PaymentMode != "" {
		where = append(where, "payment_mode = ?")
		args = append(args, string(f.PaymentMode))
	}
	if f.InvoiceNumber != "" {
		where = append(where, "invoice_number = ?")
		args = append(args, f.InvoiceNumber)
	}
	if f.CreatedBy != "" {
		where = append(where, "created_by = ?")
		args = append(args, f.CreatedBy)
	}

	query := "SELECT " + transactionColumns + " FROM transactions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date ASC, invoice_number ASC"
	if f.Limit > 0 || f.Offset > 0 {
		limit := f.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, f.Offset)
	}
	return queryTransactions(ctx, q, query, args...)
}

func queryTransactions(ctx context.Context, q querier, query string, args ...any) ([]commission.Transaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []commission.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (commission.Transaction, error) {
	var (
		tx                                                      commission.Transaction
		date, createdAt, updatedAt                              string
		total, pct, taxRate, commissionAmt, tax, net, returnAmt string
		mode, fy                                                string
		remarks                                                 sql.NullString
	)
	err := rows.Scan(&tx.ID, &date, &total, &pct, &taxRate, &commissionAmt, &tax, &net, &returnAmt,
		&mode, &tx.InvoiceNumber, &fy, &tx.CreatedBy, &remarks, &createdAt, &updatedAt)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	var p decimalParser
	tx.TotalReceived = p.parse(total)
	tx.CommissionPercent = p.parse(pct)
	tx.TaxRatePercent = p.parse(taxRate)
	tx.CommissionAmount = p.parse(commissionAmt)
	tx.TaxAmount = p.parse(tax)
	tx.NetIncome = p.parse(net)
	tx.ReturnAmount = p.parse(returnAmt)
	if p.err != nil {
		return tx, fmt.Errorf("transaction %s: %w", tx.ID, p.err)
	}
	if tx.Date, err = time.Parse(time.DateOnly, date); err != nil {
		return tx, fmt.Errorf("transaction %s: bad date: %w", tx.ID, err)
	}
	tx.PaymentMode = commission.PaymentMode(mode)
	tx.FiscalYear = commission.FiscalYear(fy)
	tx.Remarks = remarks.String
	tx.CreatedAt = parseTime(createdAt)
	tx.UpdatedAt = parseTime(updatedAt)
	return tx, nil
}

// =============================================================================
// INVOICE SEQUENCES
// =============================================================================

func (s *Store) NextSequence(ctx context.Context, fy commission.FiscalYear, prefix string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nextSequence(ctx, s.db, fy, prefix)
}

func nextSequence(ctx context.Context, q querier, fy commission.FiscalYear, prefix string) (int64, error) {
	now := formatTime(time.Now().UTC())
	var seq int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO invoice_sequences (fiscal_year, last_sequence_number, prefix, created_at, updated_at)
		VALUES (?, 1, ?, ?, ?)
		ON CONFLICT(fiscal_year) DO UPDATE SET
			last_sequence_number = last_sequence_number + 1,
			prefix = excluded.prefix,
			updated_at = excluded.updated_at
		RETURNING last_sequence_number`,
		string(fy), prefix, now, now,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to increment invoice sequence: %w", err)
	}
	return seq, nil
}

// Sequence returns the counter row of a fiscal year, or nil.
func (s *Store) Sequence(ctx context.Context, fy commission.FiscalYear) (*commission.InvoiceSequence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seq := commission.InvoiceSequence{FiscalYear: fy}
	err := s.db.QueryRowContext(ctx,
		"SELECT last_sequence_number, prefix FROM invoice_sequences WHERE fiscal_year = ?", string(fy),
	).Scan(&seq.LastSequenceNumber, &seq.Prefix)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice sequence: %w", err)
	}
	return &seq, nil
}

// =============================================================================
// FILING LOCKS
// =============================================================================

const lockColumns = `id, fiscal_year, month, year, filing_period, is_locked, locked_at, locked_by,
	unlocked_at, unlocked_by, gstr1_filed_at, gstr3b_filed_at, remarks, created_at, updated_at`

func (s *Store) UpsertFilingLock(ctx context.Context, lock commission.FilingLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertFilingLock(ctx, s.db, lock)
}

func upsertFilingLock(ctx context.Context, q querier, l commission.FilingLock) error {
	_, err := q.ExecContext(ctx, `INSERT INTO filing_locks (`+lockColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fiscal_year, month, year) DO UPDATE SET
			is_locked = excluded.is_locked,
			locked_at = excluded.locked_at,
			locked_by = excluded.locked_by,
			unlocked_at = excluded.unlocked_at,
			unlocked_by = excluded.unlocked_by,
			gstr1_filed_at = excluded.gstr1_filed_at,
			gstr3b_filed_at = excluded.gstr3b_filed_at,
			remarks = excluded.remarks,
			updated_at = excluded.updated_at`,
		l.ID,
		string(l.FiscalYear),
		int(l.Month),
		l.Year,
		l.FilingPeriod,
		l.IsLocked,
		formatTime(l.LockedAt),
		l.LockedBy,
		nullTime(l.UnlockedAt),
		nullString(l.UnlockedBy),
		nullTime(l.FilingDates.GSTR1),
		nullTime(l.FilingDates.GSTR3B),
		nullString(l.Remarks),
		formatTime(l.CreatedAt),
		formatTime(l.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert filing lock: %w", err)
	}
	return nil
}

func (s *Store) GetFilingLock(ctx context.Context, key commission.LockKey) (*commission.FilingLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getFilingLock(ctx, s.db, key)
}

func getFilingLock(ctx context.Context, q querier, key commission.LockKey) (*commission.FilingLock, error) {
	locks, err := queryLocks(ctx, q,
		"SELECT "+lockColumns+" FROM filing_locks WHERE fiscal_year = ? AND month = ? AND year = ?",
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
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listFilingLocks(ctx, s.db, fy)
}

func listFilingLocks(ctx context.Context, q querier, fy commission.FiscalYear) ([]commission.FilingLock, error) {
	if fy == "" {
		return queryLocks(ctx, q, "SELECT "+lockColumns+" FROM filing_locks ORDER BY year, month")
	}
	return queryLocks(ctx, q, "SELECT "+lockColumns+" FROM filing_locks WHERE fiscal_year = ? ORDER BY year, month", string(fy))
}

func queryLocks(ctx context.Context, q querier, query string, args ...any) ([]commission.FilingLock, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query filing locks: %w", err)
	}
	defer rows.Close()

	var locks []commission.FilingLock
	for rows.Next() {
		var (
			l                                     commission.FilingLock
			fy, lockedAt, createdAt, updatedAt    string
			month                                 int
			unlockedAt, unlockedBy, gstr1, gstr3b sql.NullString
			remarks                               sql.NullString
		)
		if err := rows.Scan(&l.ID, &fy, &month, &l.Year, &l.FilingPeriod, &l.IsLocked, &lockedAt, &l.LockedBy,
			&unlockedAt, &unlockedBy, &gstr1, &gstr3b, &remarks, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan filing lock: %w", err)
		}
		l.FiscalYear = commission.FiscalYear(fy)
		l.Month = time.Month(month)
		l.LockedAt = parseTime(lockedAt)
		l.UnlockedAt = parseNullTime(unlockedAt)
		l.UnlockedBy = unlockedBy.String
		l.FilingDates.GSTR1 = parseNullTime(gstr1)
		l.FilingDates.GSTR3B = parseNullTime(gstr3b)
		l.Remarks = remarks.String
		l.CreatedAt = parseTime(createdAt)
		l.UpdatedAt = parseTime(updatedAt)
		locks = append(locks, l)
	}
	return locks, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (commission.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store commission.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
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
	return upsertFilingLock(ctx, ts.tx, lock)
}

func (ts *txStore) GetFilingLock(ctx context.Context, key commission.LockKey) (*commission.FilingLock, error) {
	return getFilingLock(ctx, ts.tx, key)
}

func (ts *txStore) ListFilingLocks(ctx context.Context, fy commission.FiscalYear) ([]commission.FilingLock, error) {
	return listFilingLocks(ctx, ts.tx, fy)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, e commission.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var details sql.NullString
	if e.Details != nil {
		data, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("failed to encode audit details: %w", err)
		}
		details = sql.NullString{String: string(data), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, timestamp, action, actor_id, entity_type, entity_id, period, details_json, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, formatTime(e.Timestamp), string(e.Action), e.ActorID, e.EntityType,
		nullString(e.EntityID), nullString(e.Period), details, string(e.Status), nullString(e.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// QueryAudit returns matching entries, oldest first.
func (s *Store) QueryAudit(ctx context.Context, f commission.AuditFilter) ([]commission.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if f.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, f.ActorID)
	}
	if f.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	if len(f.Actions) > 0 {
		marks := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			marks[i] = "?"
			args = append(args, string(a))
		}
		where = append(where, "action IN ("+strings.Join(marks, ", ")+")")
	}
	if f.From != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		where = append(where, "timestamp <= ?")
		args = append(args, formatTime(*f.To))
	}

	query := `SELECT id, timestamp, action, actor_id, entity_type, entity_id, period, details_json, status, error FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Limit > 0 {
		query += " ORDER BY timestamp DESC, rowid DESC LIMIT ?"
		args = append(args, f.Limit)
	} else {
		query += " ORDER BY timestamp ASC, rowid ASC"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []commission.AuditEntry
	for rows.Next() {
		var (
			e                             commission.AuditEntry
			ts, action, status            string
			entityID, period, details, ee sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &action, &e.ActorID, &e.EntityType, &entityID, &period, &details, &status, &ee); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Timestamp = parseTime(ts)
		e.Action = commission.AuditAction(action)
		e.EntityID = entityID.String
		e.Period = period.String
		e.Status = commission.AuditStatus(status)
		e.Error = ee.String
		if e.Details, err = commission.DecodeAuditDetails(e.Action, []byte(details.String)); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if f.Limit > 0 {
		slices.Reverse(entries)
	}
	return entries, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"transactions", "invoice_sequences", "filing_locks", "audit_log"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func requireRow(res sql.Result, kind, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &commission.NotFoundError{Kind: kind, Key: key}
	}
	return nil
}

// decimalParser keeps the first parse error so a row is scanned in one pass.
type decimalParser struct {
	err error
}

func (p *decimalParser) parse(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("bad amount %q: %w", s, err)
	}
	return d
}

// timeLayout has a fixed-width fraction so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

var (
	_ commission.TxStore  = (*Store)(nil)
	_ commission.AuditLog = (*Store)(nil)
)
