// Package chain talks to the blockchain: endpoint failover, funding-wallet
// solvency reads and the token disbursement itself.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrNoHealthyEndpoint means every configured RPC endpoint either failed to
// respond or reported the wrong chain id. Retryable; no state was touched.
var ErrNoHealthyEndpoint = errors.New("chain: no healthy rpc endpoint")

// DefaultDialTimeout bounds each individual endpoint probe so one dead
// endpoint cannot stall the whole failover pass.
const DefaultDialTimeout = 5 * time.Second

// Pool holds an ordered list of candidate RPC endpoints for one network.
// Connect returns the first candidate that responds and reports the expected
// chain id, so callers never iterate endpoints themselves.
type Pool struct {
	endpoints   []string
	wantChainID *big.Int
	dialTimeout time.Duration
}

// Conn is a live RPC connection plus the endpoint it was dialed from, which
// is surfaced to clients as rpcUsed.
type Conn struct {
	Client   *ethclient.Client
	Endpoint string
}

func (c *Conn) Close() {
	c.Client.Close()
}

// NewPool creates a pool over the given ordered endpoints. wantChainID guards
// against a fallback endpoint that answers but serves the wrong network.
func NewPool(endpoints []string, wantChainID *big.Int) *Pool {
	return &Pool{
		endpoints:   endpoints,
		wantChainID: wantChainID,
		dialTimeout: DefaultDialTimeout,
	}
}

// Connect tries each endpoint in order and returns the first healthy one.
// A candidate is healthy when it dials, answers eth_chainId, and the id
// matches. Every failure is logged; if all candidates fail the caller gets
// ErrNoHealthyEndpoint.
func (p *Pool) Connect(ctx context.Context) (*Conn, error) {
	if len(p.endpoints) == 0 {
		return nil, fmt.Errorf("%w: none configured", ErrNoHealthyEndpoint)
	}

	var lastErr error
	for _, url := range p.endpoints {
		dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
		client, err := ethclient.DialContext(dialCtx, url)
		if err != nil {
			cancel()
			lastErr = err
			log.Printf("rpc endpoint %s: dial failed: %v", url, err)
			continue
		}

		id, err := client.ChainID(dialCtx)
		cancel()
		if err != nil {
			client.Close()
			lastErr = err
			log.Printf("rpc endpoint %s: chain id probe failed: %v", url, err)
			continue
		}
		if p.wantChainID != nil && id.Cmp(p.wantChainID) != 0 {
			client.Close()
			lastErr = fmt.Errorf("endpoint %s serves chain %s, want %s", url, id, p.wantChainID)
			log.Printf("rpc endpoint %s: wrong chain id %s (want %s)", url, id, p.wantChainID)
			continue
		}

		return &Conn{Client: client, Endpoint: url}, nil
	}

	return nil, fmt.Errorf("%w: last error: %v", ErrNoHealthyEndpoint, lastErr)
}
