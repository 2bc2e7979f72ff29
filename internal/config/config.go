package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"
)

type Config struct {
	DBSource          string
	Port              string
	Env               string
	FundingPrivateKey string
	RPCEndpoints      []string // ordered; first healthy endpoint wins
	ChainID           *big.Int
	GasReserveWei     *big.Int
	ConfirmTimeout    time.Duration
}

func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	key := os.Getenv("FUNDING_PRIVATE_KEY")
	if key == "" {
		return nil, fmt.Errorf("FUNDING_PRIVATE_KEY environment variable is required")
	}

	rawEndpoints := os.Getenv("RPC_ENDPOINTS")
	if rawEndpoints == "" {
		return nil, fmt.Errorf("RPC_ENDPOINTS environment variable is required")
	}
	var endpoints []string
	for _, ep := range strings.Split(rawEndpoints, ",") {
		if ep = strings.TrimSpace(ep); ep != "" {
			endpoints = append(endpoints, ep)
		}
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("RPC_ENDPOINTS must list at least one endpoint")
	}

	chainID, ok := new(big.Int).SetString(os.Getenv("CHAIN_ID"), 10)
	if !ok {
		return nil, fmt.Errorf("CHAIN_ID environment variable must be a decimal integer")
	}

	gasReserve := big.NewInt(10_000_000_000_000_000) // 0.01 ETH default
	if v := os.Getenv("GAS_RESERVE_WEI"); v != "" {
		gasReserve, ok = new(big.Int).SetString(v, 10)
		if !ok {
			return nil, fmt.Errorf("GAS_RESERVE_WEI must be a decimal integer")
		}
	}

	confirmTimeout := 90 * time.Second
	if v := os.Getenv("CONFIRM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("CONFIRM_TIMEOUT: %w", err)
		}
		confirmTimeout = d
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	return &Config{
		DBSource:          dbSource,
		Port:              port,
		Env:               env,
		FundingPrivateKey: key,
		RPCEndpoints:      endpoints,
		ChainID:           chainID,
		GasReserveWei:     gasReserve,
		ConfirmTimeout:    confirmTimeout,
	}, nil
}
