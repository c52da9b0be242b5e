package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"strings"
	"sync"
	"time"

	"redemption-engine/internal/models"
	"redemption-engine/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SimulatedChainClient stands in for the RCN token contract in development
// and tests: in-memory balances, a configurable burn success rate, and
// synthetic transaction hashes. Production deployments plug a real client
// into the ChainClient interface.
type SimulatedChainClient struct {
	mu          sync.Mutex
	balances    map[string]decimal.Decimal
	successRate float64
	logger      *zap.Logger
}

// NewSimulatedChainClient creates a simulated chain with the given burn
// success rate (0.0 - 1.0).
func NewSimulatedChainClient(successRate float64) *SimulatedChainClient {
	return &SimulatedChainClient{
		balances:    make(map[string]decimal.Decimal),
		successRate: successRate,
		logger:      util.GetLogger(),
	}
}

// SetBalance seeds an on-chain balance for an address.
func (c *SimulatedChainClient) SetBalance(address string, balance decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[strings.ToLower(address)] = balance
}

// GetBalance returns the on-chain RCN balance for an address.
func (c *SimulatedChainClient) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	balance, ok := c.balances[strings.ToLower(address)]
	if !ok {
		return decimal.Zero, nil
	}
	return balance, nil
}

// Burn destroys tokens from an address. Irreversible on success.
func (c *SimulatedChainClient) Burn(ctx context.Context, address string, amount decimal.Decimal) (*BurnResult, error) {
	time.Sleep(time.Duration(20+rand.Intn(80)) * time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()

	key := strings.ToLower(address)
	balance := c.balances[key]
	if balance.LessThan(amount) {
		return &BurnResult{Success: false}, models.ErrBurnFailed
	}

	if rand.Float64() >= c.successRate {
		c.logger.Warn("Simulated burn declined",
			zap.String("address", address),
			zap.String("amount", amount.String()))
		return &BurnResult{Success: false}, models.ErrBurnFailed
	}

	c.balances[key] = balance.Sub(amount)
	sum := sha256.Sum256([]byte(uuid.New().String()))
	return &BurnResult{
		Success: true,
		TxHash:  "0x" + hex.EncodeToString(sum[:]),
	}, nil
}
