// Package claim implements the canonical claim message and its signature
// contract. The message deterministically encodes the week number, amount and
// timestamp, so any alteration after signing breaks recovery. Signatures are
// EIP-191 personal-sign signatures, matching what browser wallets produce.
package claim

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ReplayWindow bounds how far a claim timestamp may drift from server time,
// in either direction. A captured signed request is only replayable inside
// this window.
const ReplayWindow = 5 * time.Minute

// TokenDecimals is the LockChain token's ERC-20 decimal count.
const TokenDecimals = 18

var (
	ErrBadSignatureEncoding = errors.New("claim: signature is not a 65-byte hex string")
	ErrBadAmount            = errors.New("claim: amount is not a positive decimal")
)

// MinWeek and MaxWeek bound the weekly tranche identifiers.
const (
	MinWeek = 1
	MaxWeek = 52
)

// Message builds the canonical string that the wallet signs. Week, amount and
// timestamp are embedded verbatim; verification rebuilds this exact string
// from the request fields.
func Message(weekNumber int, amount string, timestamp int64) string {
	return fmt.Sprintf("LockChain Airdrop Claim\nWeek: %d\nAmount: %s\nTimestamp: %d",
		weekNumber, amount, timestamp)
}

// Sign produces a personal-sign signature over the canonical message,
// returning it 0x-prefixed with v in {27,28} as wallets emit it.
func Sign(weekNumber int, amount string, timestamp int64, key *ecdsa.PrivateKey) (string, error) {
	hash := accounts.TextHash([]byte(Message(weekNumber, amount, timestamp)))
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return "", err
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverSigner recomputes the canonical message and recovers the address
// that signed it.
func RecoverSigner(weekNumber int, amount string, timestamp int64, signature string) (common.Address, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(raw) != crypto.SignatureLength {
		return common.Address{}, ErrBadSignatureEncoding
	}
	// Wallets emit v as 27/28; SigToPub wants 0/1.
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, raw)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	hash := accounts.TextHash([]byte(Message(weekNumber, amount, timestamp)))
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("claim: signature recovery failed: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify checks that the signature over (weekNumber, amount, timestamp)
// recovers to the claimed address, case-insensitively.
func Verify(userAddress string, weekNumber int, amount string, timestamp int64, signature string) (bool, error) {
	recovered, err := RecoverSigner(weekNumber, amount, timestamp, signature)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(recovered.Hex(), userAddress), nil
}

// Fresh reports whether a claim timestamp (epoch milliseconds) is within the
// replay window of now. The boundary itself is accepted: a drift of exactly
// ReplayWindow passes, one millisecond more does not.
func Fresh(timestamp int64, now time.Time) bool {
	drift := now.UnixMilli() - timestamp
	if drift < 0 {
		drift = -drift
	}
	return drift <= ReplayWindow.Milliseconds()
}

// ValidWeek reports whether the week number identifies a real tranche.
func ValidWeek(weekNumber int) bool {
	return weekNumber >= MinWeek && weekNumber <= MaxWeek
}

// ParseUnits converts a decimal token amount string (e.g. "100.5") into
// base units using big.Int math. Rejects empty, negative, malformed and
// over-precise inputs.
func ParseUnits(amount string, decimals int) (*big.Int, error) {
	s := strings.TrimSpace(amount)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return nil, ErrBadAmount
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("%w: more than %d decimal places", ErrBadAmount, decimals)
	}
	// Right-pad the fraction to the full decimal count.
	frac += strings.Repeat("0", decimals-len(frac))

	units, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, ErrBadAmount
	}
	if units.Sign() <= 0 {
		return nil, ErrBadAmount
	}
	return units, nil
}

// FormatUnits renders base units back into a decimal token string, trimming
// trailing zeros. Inverse of ParseUnits for display and reconciliation output.
func FormatUnits(units *big.Int, decimals int) string {
	base := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, rem := new(big.Int).QuoRem(units, base, new(big.Int))
	if rem.Sign() == 0 {
		return whole.String()
	}
	remStr := rem.String()
	frac := strings.TrimRight(strings.Repeat("0", decimals-len(remStr))+remStr, "0")
	return whole.String() + "." + frac
}
