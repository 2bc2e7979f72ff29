// Package store persists the claim ledger. The ledger is the single
// serialization point for at-most-once disbursement: Record is an atomic
// conditional insert backed by a unique index on (user_address, week_number),
// so of N concurrent claims for the same pair exactly one insert succeeds.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ad419/lockchain-claimd/internal/claim"
	"github.com/ad419/lockchain-claimd/internal/domain"
)

// canonicalAmount normalizes a stored amount for display. NUMERIC columns
// come back at full scale ("100.000000000000000000"); trimming to the
// shortest decimal form keeps both ledger backends reporting identical
// amounts for the same claim. Unparseable values pass through untouched.
func canonicalAmount(amount string) string {
	units, err := claim.ParseUnits(amount, claim.TokenDecimals)
	if err != nil {
		return amount
	}
	return claim.FormatUnits(units, claim.TokenDecimals)
}

var (
	// ErrDuplicateClaim means a record already exists for (wallet, week).
	// Terminal; surfaced to the user as "already claimed".
	ErrDuplicateClaim = errors.New("store: claim already recorded for this wallet and week")

	// ErrLedgerUnavailable wraps storage-layer failures (connectivity,
	// quota). Callers must not assume anything about claim state when
	// they see it.
	ErrLedgerUnavailable = errors.New("store: ledger unavailable")
)

// Schema creates the claims table and its uniqueness constraint. Ran by
// cmd/seeder; idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS claims (
	id              BIGSERIAL PRIMARY KEY,
	user_address    TEXT        NOT NULL,
	week_number     INT         NOT NULL,
	amount          NUMERIC(38, 18) NOT NULL,
	tx_reference    TEXT        NOT NULL,
	signature       TEXT        NOT NULL,
	claim_timestamp BIGINT      NOT NULL,
	recorded_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_address, week_number)
);
`

// LedgerStore is the Postgres-backed claim ledger.
type LedgerStore struct {
	db *pgxpool.Pool
}

func NewLedgerStore(db *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{db: db}
}

// HasClaimed reports whether a record exists for the pair. Advisory pre-check
// only; Record re-checks atomically at insert time.
func (s *LedgerStore) HasClaimed(ctx context.Context, userAddress string, weekNumber int) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM claims WHERE user_address = $1 AND week_number = $2)",
		strings.ToLower(userAddress), weekNumber,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return exists, nil
}

// Record inserts a new immutable claim record. The uniqueness constraint
// makes the check-then-insert a single atomic operation: a concurrent insert
// for the same pair surfaces as a unique violation, mapped to
// ErrDuplicateClaim.
func (s *LedgerStore) Record(ctx context.Context, rec *domain.ClaimRecord) (*domain.ClaimRecord, error) {
	out := *rec
	out.UserAddress = strings.ToLower(rec.UserAddress)

	err := s.db.QueryRow(ctx,
		`INSERT INTO claims (user_address, week_number, amount, tx_reference, signature, claim_timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, recorded_at`,
		out.UserAddress, out.WeekNumber, out.Amount, out.TxReference, out.Signature, out.Timestamp,
	).Scan(&out.ID, &out.RecordedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateClaim
		}
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return &out, nil
}

// ClaimedWeeks returns all records for a wallet ordered ascending by week.
func (s *LedgerStore) ClaimedWeeks(ctx context.Context, userAddress string) ([]domain.ClaimRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_address, week_number, amount::text, tx_reference, signature, claim_timestamp, recorded_at
		 FROM claims WHERE user_address = $1 ORDER BY week_number ASC`,
		strings.ToLower(userAddress),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	defer rows.Close()

	var records []domain.ClaimRecord
	for rows.Next() {
		var rec domain.ClaimRecord
		if err := rows.Scan(&rec.ID, &rec.UserAddress, &rec.WeekNumber, &rec.Amount,
			&rec.TxReference, &rec.Signature, &rec.Timestamp, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
		}
		rec.Amount = canonicalAmount(rec.Amount)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return records, nil
}

// HasTxReference reports whether a ledger row exists for the given on-chain
// transaction. Used by the reconciler to spot orphaned transfers.
func (s *LedgerStore) HasTxReference(ctx context.Context, txReference string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM claims WHERE tx_reference = $1)", txReference,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return exists, nil
}
