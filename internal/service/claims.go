// Package service runs the claim verification pipeline: request validation,
// signature recovery, replay-window enforcement, ledger idempotency and the
// on-chain disbursement, in that order.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ad419/lockchain-claimd/internal/claim"
	"github.com/ad419/lockchain-claimd/internal/domain"
	"github.com/ad419/lockchain-claimd/internal/store"
)

var (
	ErrInvalidRequest   = errors.New("service: malformed or missing claim fields")
	ErrInvalidSignature = errors.New("service: signature does not recover to claimed address")
	ErrStaleRequest     = errors.New("service: claim timestamp outside replay window")
)

// Ledger is the durable claim store. Record must be atomic: of N concurrent
// calls for the same (wallet, week) exactly one may succeed.
type Ledger interface {
	HasClaimed(ctx context.Context, userAddress string, weekNumber int) (bool, error)
	Record(ctx context.Context, rec *domain.ClaimRecord) (*domain.ClaimRecord, error)
	ClaimedWeeks(ctx context.Context, userAddress string) ([]domain.ClaimRecord, error)
}

// Disburser executes the on-chain transfer. It is a stateless action: given a
// valid target and amount it will disburse, so the ledger check-then-record
// around it is what prevents double payment.
type Disburser interface {
	Disburse(ctx context.Context, token, to common.Address, amount *big.Int) (*domain.DisburseResult, error)
}

type ClaimService struct {
	ledger    Ledger
	disburser Disburser
}

func NewClaimService(ledger Ledger, disburser Disburser) *ClaimService {
	return &ClaimService{ledger: ledger, disburser: disburser}
}

// ProcessClaim validates, verifies and disburses one claim request.
//
// Failure taxonomy (matched with errors.Is by the HTTP layer):
// ErrInvalidRequest, ErrInvalidSignature, ErrStaleRequest,
// store.ErrDuplicateClaim, chain.ErrNoHealthyEndpoint,
// chain.ErrInsufficientFunds, chain.ErrInsufficientGas,
// chain.ErrTransferFailed, store.ErrLedgerUnavailable.
func (s *ClaimService) ProcessClaim(ctx context.Context, req *domain.ClaimRequest) (*domain.ClaimResponse, error) {
	amount, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	ok, err := claim.Verify(req.UserAddress, req.WeekNumber, req.Amount, req.Timestamp, req.Signature)
	if err != nil || !ok {
		// Security-relevant rejection: someone presented a signature that
		// does not belong to the claimed wallet.
		log.Printf("signature rejected: wallet=%s week=%d err=%v", req.UserAddress, req.WeekNumber, err)
		return nil, ErrInvalidSignature
	}

	if !claim.Fresh(req.Timestamp, time.Now()) {
		return nil, fmt.Errorf("%w: timestamp %d", ErrStaleRequest, req.Timestamp)
	}

	// Advisory pre-check; Record below is the atomic serialization point.
	claimed, err := s.ledger.HasClaimed(ctx, req.UserAddress, req.WeekNumber)
	if err != nil {
		return nil, err
	}
	if claimed {
		return nil, store.ErrDuplicateClaim
	}

	result, err := s.disburser.Disburse(ctx,
		common.HexToAddress(req.TokenContract),
		common.HexToAddress(req.UserAddress),
		amount)
	if err != nil {
		return nil, err
	}

	rec := &domain.ClaimRecord{
		UserAddress: req.UserAddress,
		WeekNumber:  req.WeekNumber,
		Amount:      req.Amount,
		TxReference: result.TxHash,
		Signature:   req.Signature,
		Timestamp:   req.Timestamp,
	}
	if _, err := s.ledger.Record(ctx, rec); err != nil {
		// The transfer is already on chain but the ledger holds no record
		// of it. Logged distinctly so the reconciler / an operator can
		// match the transaction up manually.
		log.Printf("ORPHANED TRANSFER: tx=%s wallet=%s week=%d amount=%s ledger error: %v",
			result.TxHash, req.UserAddress, req.WeekNumber, req.Amount, err)
		return nil, fmt.Errorf("disbursed as %s but ledger write failed: %w", result.TxHash, err)
	}

	return &domain.ClaimResponse{
		Success:     true,
		TxHash:      result.TxHash,
		BlockNumber: result.BlockNumber,
		GasUsed:     result.GasUsed,
		GasPrice:    result.GasPrice,
		RPCUsed:     result.RPCUsed,
		Message:     fmt.Sprintf("week %d claim disbursed", req.WeekNumber),
	}, nil
}

// ClaimedSummary returns a wallet's records ordered by week plus the running
// total, for the claimed-weeks view.
func (s *ClaimService) ClaimedSummary(ctx context.Context, userAddress string) (*domain.ClaimsSummary, error) {
	if !common.IsHexAddress(userAddress) {
		return nil, fmt.Errorf("%w: bad address %q", ErrInvalidRequest, userAddress)
	}

	records, err := s.ledger.ClaimedWeeks(ctx, userAddress)
	if err != nil {
		return nil, err
	}

	total := new(big.Int)
	for _, rec := range records {
		units, err := claim.ParseUnits(rec.Amount, claim.TokenDecimals)
		if err != nil {
			// Ledger rows are validated on the way in; a bad amount here
			// means manual tampering. Skip it rather than fail the read.
			log.Printf("ledger row %d has unparseable amount %q", rec.ID, rec.Amount)
			continue
		}
		total.Add(total, units)
	}

	if records == nil {
		records = []domain.ClaimRecord{}
	}
	return &domain.ClaimsSummary{
		UserAddress:  userAddress,
		Claims:       records,
		TotalClaimed: claim.FormatUnits(total, claim.TokenDecimals),
	}, nil
}

// validate performs the field-presence and format checks, returning the claim
// amount in base units.
func (s *ClaimService) validate(req *domain.ClaimRequest) (*big.Int, error) {
	if req.UserAddress == "" || req.Signature == "" || req.Amount == "" ||
		req.TokenContract == "" || req.Timestamp == 0 {
		return nil, fmt.Errorf("%w: missing fields", ErrInvalidRequest)
	}
	if !common.IsHexAddress(req.UserAddress) {
		return nil, fmt.Errorf("%w: bad wallet address %q", ErrInvalidRequest, req.UserAddress)
	}
	if !common.IsHexAddress(req.TokenContract) {
		return nil, fmt.Errorf("%w: bad token contract %q", ErrInvalidRequest, req.TokenContract)
	}
	if !claim.ValidWeek(req.WeekNumber) {
		return nil, fmt.Errorf("%w: week %d out of range", ErrInvalidRequest, req.WeekNumber)
	}
	amount, err := claim.ParseUnits(req.Amount, claim.TokenDecimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return amount, nil
}
