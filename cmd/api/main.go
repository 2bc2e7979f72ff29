package main

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ad419/lockchain-claimd/internal/api"
	"github.com/ad419/lockchain-claimd/internal/chain"
	"github.com/ad419/lockchain-claimd/internal/config"
	"github.com/ad419/lockchain-claimd/internal/service"
	"github.com/ad419/lockchain-claimd/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	dbPool, err := pgxpool.New(context.Background(), cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer dbPool.Close()

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.FundingPrivateKey, "0x"))
	if err != nil {
		log.Fatalf("Invalid funding private key: %v", err)
	}

	// Initialize Layers
	ledger := store.NewLedgerStore(dbPool)
	pool := chain.NewPool(cfg.RPCEndpoints, cfg.ChainID)
	disburser := chain.NewDisburser(pool, key, cfg.ChainID, cfg.GasReserveWei, cfg.ConfirmTimeout)
	claims := service.NewClaimService(ledger, disburser)
	handler := api.NewHandler(claims)

	log.Printf("Funding wallet: %s | chain %s | %d rpc endpoint(s)",
		disburser.From().Hex(), cfg.ChainID, len(cfg.RPCEndpoints))

	// Router
	r := mux.NewRouter()
	r.Use(api.CORS)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/claims", handler.CreateClaim).Methods("POST", "OPTIONS")
	apiV1.HandleFunc("/claims/{address}", handler.GetClaims).Methods("GET")

	log.Printf("Server starting on :%s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal(err)
	}
}
