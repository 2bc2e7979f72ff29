// Command signer plays the wallet's role in the claim flow: it builds the
// canonical claim message for a week and amount, signs it with a private key,
// and prints the request body ready to POST to /api/v1/claims.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ad419/lockchain-claimd/internal/claim"
	"github.com/ad419/lockchain-claimd/internal/domain"
)

var (
	keyHex    string
	week      int
	amount    string
	token     string
	timestamp int64
)

func init() {
	flag.StringVar(&keyHex, "key", "", "Hex private key (or set CLAIM_PRIVATE_KEY)")
	flag.IntVar(&week, "week", 0, "Week number to claim (1-52)")
	flag.StringVar(&amount, "amount", "", "Token amount for the week, e.g. 100.0")
	flag.StringVar(&token, "token", "", "Token contract address")
	flag.Int64Var(&timestamp, "timestamp", 0, "Claim timestamp in epoch ms (default: now)")
}

func main() {
	flag.Parse()

	if keyHex == "" {
		keyHex = os.Getenv("CLAIM_PRIVATE_KEY")
	}
	if keyHex == "" || week == 0 || amount == "" || token == "" {
		flag.Usage()
		os.Exit(2)
	}
	if !claim.ValidWeek(week) {
		log.Fatalf("week %d out of range [%d, %d]", week, claim.MinWeek, claim.MaxWeek)
	}
	if _, err := claim.ParseUnits(amount, claim.TokenDecimals); err != nil {
		log.Fatalf("bad amount: %v", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		log.Fatalf("bad private key: %v", err)
	}

	if timestamp == 0 {
		timestamp = time.Now().UnixMilli()
	}

	sig, err := claim.Sign(week, amount, timestamp, key)
	if err != nil {
		log.Fatalf("signing failed: %v", err)
	}

	req := domain.ClaimRequest{
		UserAddress:   crypto.PubkeyToAddress(key.PublicKey).Hex(),
		WeekNumber:    week,
		Amount:        amount,
		TokenContract: token,
		Signature:     sig,
		Timestamp:     timestamp,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(req)
}
