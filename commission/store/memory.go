// Package store provides the in-memory commission.TxStore.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/qrbooks/commission-engine/commission"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	transactions map[string]commission.Transaction
	invoices     map[string]string // invoice number -> transaction id
	sequences    map[commission.FiscalYear]commission.InvoiceSequence
	locks        map[commission.LockKey]commission.FilingLock
	audit        []commission.AuditEntry
}

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[string]commission.Transaction),
		invoices:     make(map[string]string),
		sequences:    make(map[commission.FiscalYear]commission.InvoiceSequence),
		locks:        make(map[commission.LockKey]commission.FilingLock),
	}
}

func (m *Memory) InsertTransaction(_ context.Context, tx commission.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(tx)
}

func (m *Memory) insertLocked(tx commission.Transaction) error {
	if _, ok := m.transactions[tx.ID]; ok {
		return fmt.Errorf("transaction %s already exists", tx.ID)
	}
	if _, ok := m.invoices[tx.InvoiceNumber]; ok {
		return fmt.Errorf("%w: %s", commission.ErrDuplicateInvoiceNumber, tx.InvoiceNumber)
	}
	m.transactions[tx.ID] = tx
	m.invoices[tx.InvoiceNumber] = tx.ID
	return nil
}

func (m *Memory) UpdateTransaction(_ context.Context, tx commission.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(tx)
}

func (m *Memory) updateLocked(tx commission.Transaction) error {
	old, ok := m.transactions[tx.ID]
	if !ok {
		return &commission.NotFoundError{Kind: "transaction", Key: tx.ID}
	}
	if old.InvoiceNumber != tx.InvoiceNumber {
		if _, taken := m.invoices[tx.InvoiceNumber]; taken {
			return fmt.Errorf("%w: %s", commission.ErrDuplicateInvoiceNumber, tx.InvoiceNumber)
		}
		delete(m.invoices, old.InvoiceNumber)
		m.invoices[tx.InvoiceNumber] = tx.ID
	}
	m.transactions[tx.ID] = tx
	return nil
}

func (m *Memory) DeleteTransaction(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(id)
}

func (m *Memory) deleteLocked(id string) error {
	tx, ok := m.transactions[id]
	if !ok {
		return &commission.NotFoundError{Kind: "transaction", Key: id}
	}
	delete(m.transactions, id)
	delete(m.invoices, tx.InvoiceNumber)
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id string) (*commission.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id), nil
}

func (m *Memory) getLocked(id string) *commission.Transaction {
	tx, ok := m.transactions[id]
	if !ok {
		return nil
	}
	return &tx
}

func (m *Memory) ListTransactions(_ context.Context, filter commission.TransactionFilter) ([]commission.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(filter), nil
}

func (m *Memory) listLocked(filter commission.TransactionFilter) []commission.Transaction {
	var result []commission.Transaction
	for _, tx := range m.transactions {
		if filter.Matches(tx) {
			result = append(result, tx)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].InvoiceNumber < result[j].InvoiceNumber
	})
	return paginate(result, filter.Offset, filter.Limit)
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// NextSequence increments under the write lock, so concurrent callers never share a value.
func (m *Memory) NextSequence(_ context.Context, fy commission.FiscalYear, prefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextLocked(fy, prefix), nil
}

func (m *Memory) nextLocked(fy commission.FiscalYear, prefix string) int64 {
	seq := m.sequences[fy]
	seq.FiscalYear = fy
	seq.Prefix = prefix
	seq.LastSequenceNumber++
	m.sequences[fy] = seq
	return seq.LastSequenceNumber
}

// Sequence returns the counter row of a fiscal year.
func (m *Memory) Sequence(fy commission.FiscalYear) (commission.InvoiceSequence, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seq, ok := m.sequences[fy]
	return seq, ok
}

func (m *Memory) UpsertFilingLock(_ context.Context, lock commission.FilingLock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[lock.Key()] = lock
	return nil
}

func (m *Memory) GetFilingLock(_ context.Context, key commission.LockKey) (*commission.FilingLock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLockLocked(key), nil
}

func (m *Memory) getLockLocked(key commission.LockKey) *commission.FilingLock {
	l, ok := m.locks[key]
	if !ok {
		return nil
	}
	return &l
}

func (m *Memory) ListFilingLocks(_ context.Context, fy commission.FiscalYear) ([]commission.FilingLock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocksLocked(fy), nil
}

func (m *Memory) listLocksLocked(fy commission.FiscalYear) []commission.FilingLock {
	var result []commission.FilingLock
	for _, l := range m.locks {
		if fy == "" || l.FiscalYear == fy {
			result = append(result, l)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Year != result[j].Year {
			return result[i].Year < result[j].Year
		}
		return result[i].Month < result[j].Month
	})
	return result
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, entry commission.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

// QueryAudit returns matching entries, oldest first. A limit keeps the newest.
func (m *Memory) QueryAudit(_ context.Context, filter commission.AuditFilter) ([]commission.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []commission.AuditEntry
	for _, e := range m.audit {
		if filter.Matches(e) {
			result = append(result, e)
		}
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[len(result)-filter.Limit:]
	}
	return result, nil
}

// Reset clears all data, the audit log included.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions = make(map[string]commission.Transaction)
	m.invoices = make(map[string]string)
	m.sequences = make(map[commission.FiscalYear]commission.InvoiceSequence)
	m.locks = make(map[commission.LockKey]commission.FilingLock)
	m.audit = nil
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The audit log is not part of the snapshot; entries are written outside fn.
func (tm *TxMemory) WithTx(_ context.Context, fn func(commission.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snap := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	transactions map[string]commission.Transaction
	invoices     map[string]string
	sequences    map[commission.FiscalYear]commission.InvoiceSequence
	locks        map[commission.LockKey]commission.FilingLock
}

func (tm *TxMemory) snapshot() memorySnapshot {
	return memorySnapshot{
		transactions: cloneMap(tm.transactions),
		invoices:     cloneMap(tm.invoices),
		sequences:    cloneMap(tm.sequences),
		locks:        cloneMap(tm.locks),
	}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.transactions = s.transactions
	tm.invoices = s.invoices
	tm.sequences = s.sequences
	tm.locks = s.locks
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// txMemoryView runs against the parent while WithTx holds its lock.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) InsertTransaction(_ context.Context, tx commission.Transaction) error {
	return tv.parent.insertLocked(tx)
}

func (tv *txMemoryView) UpdateTransaction(_ context.Context, tx commission.Transaction) error {
	return tv.parent.updateLocked(tx)
}

func (tv *txMemoryView) DeleteTransaction(_ context.Context, id string) error {
	return tv.parent.deleteLocked(id)
}

func (tv *txMemoryView) GetTransaction(_ context.Context, id string) (*commission.Transaction, error) {
	return tv.parent.getLocked(id), nil
}

func (tv *txMemoryView) ListTransactions(_ context.Context, filter commission.TransactionFilter) ([]commission.Transaction, error) {
	return tv.parent.listLocked(filter), nil
}

func (tv *txMemoryView) NextSequence(_ context.Context, fy commission.FiscalYear, prefix string) (int64, error) {
	return tv.parent.nextLocked(fy, prefix), nil
}

func (tv *txMemoryView) UpsertFilingLock(_ context.Context, lock commission.FilingLock) error {
	tv.parent.locks[lock.Key()] = lock
	return nil
}

func (tv *txMemoryView) GetFilingLock(_ context.Context, key commission.LockKey) (*commission.FilingLock, error) {
	return tv.parent.getLockLocked(key), nil
}

func (tv *txMemoryView) ListFilingLocks(_ context.Context, fy commission.FiscalYear) ([]commission.FilingLock, error) {
	return tv.parent.listLocksLocked(fy), nil
}

var (
	_ commission.TxStore  = (*TxMemory)(nil)
	_ commission.AuditLog = (*Memory)(nil)
)
