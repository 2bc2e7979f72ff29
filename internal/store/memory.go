package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ad419/lockchain-claimd/internal/domain"
)

// MemoryLedger is an in-process ledger with the same atomicity contract as
// LedgerStore: Record holds the mutex across check and insert, so only one
// concurrent caller can win a given (wallet, week) pair. Used in tests and
// for running the service without Postgres.
type MemoryLedger struct {
	mu      sync.Mutex
	nextID  int64
	records map[string][]domain.ClaimRecord // lower-cased address -> records
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{nextID: 1, records: make(map[string][]domain.ClaimRecord)}
}

func (m *MemoryLedger) HasClaimed(_ context.Context, userAddress string, weekNumber int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records[strings.ToLower(userAddress)] {
		if rec.WeekNumber == weekNumber {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryLedger) Record(_ context.Context, rec *domain.ClaimRecord) (*domain.ClaimRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr := strings.ToLower(rec.UserAddress)
	for _, existing := range m.records[addr] {
		if existing.WeekNumber == rec.WeekNumber {
			return nil, ErrDuplicateClaim
		}
	}

	out := *rec
	out.ID = m.nextID
	out.UserAddress = addr
	out.RecordedAt = time.Now().UTC()
	m.nextID++
	m.records[addr] = append(m.records[addr], out)
	return &out, nil
}

func (m *MemoryLedger) ClaimedWeeks(_ context.Context, userAddress string) ([]domain.ClaimRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.records[strings.ToLower(userAddress)]
	records := make([]domain.ClaimRecord, len(stored))
	for i, rec := range stored {
		rec.Amount = canonicalAmount(rec.Amount)
		records[i] = rec
	}
	sort.Slice(records, func(i, j int) bool { return records[i].WeekNumber < records[j].WeekNumber })
	if len(records) == 0 {
		return nil, nil
	}
	return records, nil
}

func (m *MemoryLedger) HasTxReference(_ context.Context, txReference string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, recs := range m.records {
		for _, rec := range recs {
			if rec.TxReference == txReference {
				return true, nil
			}
		}
	}
	return false, nil
}
