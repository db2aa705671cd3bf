// Package vault abstracts the custody subsystem that holds and moves
// collateral. The engine never holds funds itself — it only authorizes
// movement between user balances and per-market escrow accounts.
package vault

import (
	"context"
	"math/bits"
	"sync"

	"github.com/google/uuid"

	"github.com/cryptodj413/forward-contract-program/internal/model"
)

// Vault is the custody interface. Every transfer is atomic and fails on
// insufficient balance with no partial movement.
type Vault interface {
	// EscrowedBalance returns the collateral currently escrowed for a market.
	EscrowedBalance(ctx context.Context, marketID uuid.UUID) (uint64, error)

	// TransferIn moves amount from a user's balance into market escrow.
	TransferIn(ctx context.Context, user string, marketID uuid.UUID, amount uint64) error

	// TransferOut moves amount from market escrow to a user's balance.
	TransferOut(ctx context.Context, marketID uuid.UUID, user string, amount uint64) error

	// Balance returns a user's free collateral balance.
	Balance(ctx context.Context, user string) (uint64, error)
}

// MemoryVault implements Vault with in-memory accounts. Used for
// testing and development.
type MemoryVault struct {
	mu       sync.Mutex
	balances map[string]uint64
	escrow   map[uuid.UUID]uint64
}

// NewMemoryVault creates an empty in-memory vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{
		balances: make(map[string]uint64),
		escrow:   make(map[uuid.UUID]uint64),
	}
}

// Fund credits a user's free balance. Test/dev seeding helper.
func (v *MemoryVault) Fund(user string, amount uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[user] += amount
}

func (v *MemoryVault) EscrowedBalance(_ context.Context, marketID uuid.UUID) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.escrow[marketID], nil
}

func (v *MemoryVault) Balance(_ context.Context, user string) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[user], nil
}

func (v *MemoryVault) TransferIn(_ context.Context, user string, marketID uuid.UUID, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.balances[user] < amount {
		return model.ErrInsufficientBalance
	}
	newEscrow, carry := bits.Add64(v.escrow[marketID], amount, 0)
	if carry != 0 {
		return model.ErrMathOverflow
	}
	v.balances[user] -= amount
	v.escrow[marketID] = newEscrow
	return nil
}

func (v *MemoryVault) TransferOut(_ context.Context, marketID uuid.UUID, user string, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.escrow[marketID] < amount {
		return model.ErrInsufficientEscrow
	}
	newBalance, carry := bits.Add64(v.balances[user], amount, 0)
	if carry != 0 {
		return model.ErrMathOverflow
	}
	v.escrow[marketID] -= amount
	v.balances[user] = newBalance
	return nil
}
