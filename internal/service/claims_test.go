package service_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ad419/lockchain-claimd/internal/chain"
	"github.com/ad419/lockchain-claimd/internal/claim"
	"github.com/ad419/lockchain-claimd/internal/domain"
	"github.com/ad419/lockchain-claimd/internal/service"
	"github.com/ad419/lockchain-claimd/internal/store"
)

const testToken = "0x469788fE6E9E9681C6ebF3bF78e7Fd26Fc015446"

type fakeDisburser struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeDisburser) Disburse(_ context.Context, _, to common.Address, amount *big.Int) (*domain.DisburseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &domain.DisburseResult{
		TxHash:      "0xdeadbeef",
		BlockNumber: 1234,
		GasUsed:     52000,
		GasPrice:    "1000000000",
		RPCUsed:     "https://rpc.example/primary",
	}, nil
}

func (f *fakeDisburser) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func signedRequest(t *testing.T, key *ecdsa.PrivateKey, week int, amount string) *domain.ClaimRequest {
	t.Helper()
	ts := time.Now().UnixMilli()
	sig, err := claim.Sign(week, amount, ts, key)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	return &domain.ClaimRequest{
		UserAddress:   crypto.PubkeyToAddress(key.PublicKey).Hex(),
		WeekNumber:    week,
		Amount:        amount,
		TokenContract: testToken,
		Signature:     sig,
		Timestamp:     ts,
	}
}

func newService(t *testing.T) (*service.ClaimService, *store.MemoryLedger, *fakeDisburser, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	ledger := store.NewMemoryLedger()
	disburser := &fakeDisburser{}
	return service.NewClaimService(ledger, disburser), ledger, disburser, key
}

func TestProcessClaimSuccess(t *testing.T) {
	svc, ledger, disburser, key := newService(t)

	resp, err := svc.ProcessClaim(context.Background(), signedRequest(t, key, 5, "100.0"))
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if !resp.Success || resp.TxHash != "0xdeadbeef" || resp.BlockNumber != 1234 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.RPCUsed != "https://rpc.example/primary" {
		t.Fatalf("rpcUsed not surfaced: %+v", resp)
	}
	if disburser.callCount() != 1 {
		t.Fatalf("expected one disbursement, got %d", disburser.callCount())
	}

	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	claimed, err := ledger.HasClaimed(context.Background(), addr, 5)
	if err != nil || !claimed {
		t.Fatalf("ledger not updated: claimed=%v err=%v", claimed, err)
	}
}

func TestProcessClaimDuplicateWeek(t *testing.T) {
	svc, _, disburser, key := newService(t)
	ctx := context.Background()

	if _, err := svc.ProcessClaim(ctx, signedRequest(t, key, 5, "100.0")); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}

	// Second attempt for the same week with a fresh, valid signature must be
	// rejected without a second transfer.
	_, err := svc.ProcessClaim(ctx, signedRequest(t, key, 5, "100.0"))
	if !errors.Is(err, store.ErrDuplicateClaim) {
		t.Fatalf("expected ErrDuplicateClaim, got %v", err)
	}
	if disburser.callCount() != 1 {
		t.Fatalf("duplicate claim triggered a second disbursement (calls=%d)", disburser.callCount())
	}

	// A different week is still claimable.
	if _, err := svc.ProcessClaim(ctx, signedRequest(t, key, 6, "100.0")); err != nil {
		t.Fatalf("week 6 claim failed: %v", err)
	}
}

func TestProcessClaimInvalidSignature(t *testing.T) {
	svc, _, disburser, key := newService(t)

	otherKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	// Signature from a different key than the claimed wallet.
	req := signedRequest(t, otherKey, 5, "100.0")
	req.UserAddress = crypto.PubkeyToAddress(key.PublicKey).Hex()

	if _, err := svc.ProcessClaim(context.Background(), req); !errors.Is(err, service.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if disburser.callCount() != 0 {
		t.Fatal("invalid signature must not reach disbursement")
	}
}

func TestProcessClaimTamperedAmount(t *testing.T) {
	svc, _, disburser, key := newService(t)

	req := signedRequest(t, key, 5, "100.0")
	req.Amount = "999.0" // altered after signing

	if _, err := svc.ProcessClaim(context.Background(), req); !errors.Is(err, service.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for tampered amount, got %v", err)
	}
	if disburser.callCount() != 0 {
		t.Fatal("tampered request must not reach disbursement")
	}
}

func TestProcessClaimStaleTimestamp(t *testing.T) {
	svc, _, disburser, key := newService(t)

	ts := time.Now().Add(-claim.ReplayWindow - time.Second).UnixMilli()
	sig, err := claim.Sign(5, "100.0", ts, key)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	req := &domain.ClaimRequest{
		UserAddress:   crypto.PubkeyToAddress(key.PublicKey).Hex(),
		WeekNumber:    5,
		Amount:        "100.0",
		TokenContract: testToken,
		Signature:     sig,
		Timestamp:     ts,
	}

	if _, err := svc.ProcessClaim(context.Background(), req); !errors.Is(err, service.ErrStaleRequest) {
		t.Fatalf("expected ErrStaleRequest, got %v", err)
	}
	if disburser.callCount() != 0 {
		t.Fatal("stale request must not reach disbursement")
	}
}

func TestProcessClaimValidation(t *testing.T) {
	svc, _, disburser, key := newService(t)
	ctx := context.Background()

	mutations := map[string]func(*domain.ClaimRequest){
		"missing address":    func(r *domain.ClaimRequest) { r.UserAddress = "" },
		"bad address":        func(r *domain.ClaimRequest) { r.UserAddress = "not-an-address" },
		"missing signature":  func(r *domain.ClaimRequest) { r.Signature = "" },
		"bad token contract": func(r *domain.ClaimRequest) { r.TokenContract = "0x123" },
		"week zero":          func(r *domain.ClaimRequest) { r.WeekNumber = 0 },
		"week too large":     func(r *domain.ClaimRequest) { r.WeekNumber = 53 },
		"zero timestamp":     func(r *domain.ClaimRequest) { r.Timestamp = 0 },
		"negative amount":    func(r *domain.ClaimRequest) { r.Amount = "-5" },
		"empty amount":       func(r *domain.ClaimRequest) { r.Amount = "" },
	}
	for name, mutate := range mutations {
		req := signedRequest(t, key, 5, "100.0")
		mutate(req)
		if _, err := svc.ProcessClaim(ctx, req); !errors.Is(err, service.ErrInvalidRequest) {
			t.Errorf("%s: expected ErrInvalidRequest, got %v", name, err)
		}
	}
	if disburser.callCount() != 0 {
		t.Fatal("invalid requests must not reach disbursement")
	}
}

func TestProcessClaimInsufficientFunds(t *testing.T) {
	svc, ledger, disburser, key := newService(t)
	disburser.err = chain.ErrInsufficientFunds

	_, err := svc.ProcessClaim(context.Background(), signedRequest(t, key, 5, "100.0"))
	if !errors.Is(err, chain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// Failed disbursement must leave no ledger record.
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	claimed, _ := ledger.HasClaimed(context.Background(), addr, 5)
	if claimed {
		t.Fatal("failed disbursement must not be recorded")
	}
}

// failingLedger simulates a storage outage on the record step only.
type failingLedger struct {
	*store.MemoryLedger
}

func (f *failingLedger) Record(context.Context, *domain.ClaimRecord) (*domain.ClaimRecord, error) {
	return nil, store.ErrLedgerUnavailable
}

func TestProcessClaimOrphanedTransfer(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	disburser := &fakeDisburser{}
	svc := service.NewClaimService(&failingLedger{store.NewMemoryLedger()}, disburser)

	_, err = svc.ProcessClaim(context.Background(), signedRequest(t, key, 5, "100.0"))
	if !errors.Is(err, store.ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
	// The error must carry the tx reference so the transfer can be
	// reconciled manually.
	if !strings.Contains(err.Error(), "0xdeadbeef") {
		t.Fatalf("orphaned transfer error must name the transaction: %v", err)
	}
	if disburser.callCount() != 1 {
		t.Fatalf("expected the transfer to have been submitted once, got %d", disburser.callCount())
	}
}

func TestClaimedSummary(t *testing.T) {
	svc, _, _, key := newService(t)
	ctx := context.Background()
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()

	empty, err := svc.ClaimedSummary(ctx, addr)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if len(empty.Claims) != 0 || empty.TotalClaimed != "0" {
		t.Fatalf("fresh wallet summary: %+v", empty)
	}

	for _, week := range []int{3, 1} {
		if _, err := svc.ProcessClaim(ctx, signedRequest(t, key, week, "100.5")); err != nil {
			t.Fatalf("claim week %d failed: %v", week, err)
		}
	}

	summary, err := svc.ClaimedSummary(ctx, addr)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if len(summary.Claims) != 2 {
		t.Fatalf("expected 2 claims, got %d", len(summary.Claims))
	}
	if summary.Claims[0].WeekNumber != 1 || summary.Claims[1].WeekNumber != 3 {
		t.Fatalf("claims not ordered by week: %+v", summary.Claims)
	}
	if summary.TotalClaimed != "201" {
		t.Fatalf("total claimed %q, want 201", summary.TotalClaimed)
	}

	if _, err := svc.ClaimedSummary(ctx, "junk"); !errors.Is(err, service.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for bad address, got %v", err)
	}
}
