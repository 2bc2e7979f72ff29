package domain

import (
	"time"
)

// ClaimRequest is the DTO for incoming claim HTTP requests. It is transient:
// built fresh per claim attempt, never persisted as-is.
type ClaimRequest struct {
	UserAddress   string `json:"userAddress"`
	WeekNumber    int    `json:"weekNumber"`
	Amount        string `json:"amount"`
	TokenContract string `json:"tokenContract"`
	Signature     string `json:"signature"`
	Timestamp     int64  `json:"timestamp"` // epoch milliseconds, set by the signer
}

// ClaimRecord is the immutable ledger row written after a confirmed
// disbursement. At most one record may exist per (UserAddress, WeekNumber);
// UserAddress is stored lower-cased so the uniqueness constraint compares
// canonically.
type ClaimRecord struct {
	ID          int64     `json:"id"`
	UserAddress string    `json:"user_address"`
	WeekNumber  int       `json:"week_number"`
	Amount      string    `json:"amount"`
	TxReference string    `json:"tx_reference"`
	Signature   string    `json:"signature"`
	Timestamp   int64     `json:"timestamp"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// DisburseResult carries the on-chain outcome of a successful transfer.
type DisburseResult struct {
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
	GasUsed     uint64 `json:"gasUsed"`
	GasPrice    string `json:"gasPrice"`
	RPCUsed     string `json:"rpcUsed"`
}

// ClaimResponse is the canonical success body for POST /api/v1/claims.
type ClaimResponse struct {
	Success     bool   `json:"success"`
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
	GasUsed     uint64 `json:"gasUsed"`
	GasPrice    string `json:"gasPrice"`
	RPCUsed     string `json:"rpcUsed"`
	Message     string `json:"message"`
}

// ClaimsSummary is returned for GET /api/v1/claims/{address}: all records for
// a wallet ordered ascending by week, plus the cumulative total.
type ClaimsSummary struct {
	UserAddress  string        `json:"user_address"`
	Claims       []ClaimRecord `json:"claims"`
	TotalClaimed string        `json:"total_claimed"`
}
