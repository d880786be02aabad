package token

import (
	"context"
	"errors"
	"log/slog"
	"math/bits"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance = errors.New("insufficient token balance")
	ErrBalanceOverflow     = errors.New("token balance overflow")
	ErrZeroAmount          = errors.New("zero token amount")
)

// Acceptor validates the context attached to a deposit into custody.
type Acceptor func(data []byte) error

type balanceKey struct {
	owner common.Address
	kind  common.Address
	id    uint64
}

// Vault is an in-memory multi-token ledger holding balances per
// (owner, kind, id). Deposits into the custody account pass through the
// acceptor first.
type Vault struct {
	mu       sync.Mutex
	custody  common.Address
	accept   Acceptor
	balances map[balanceKey]uint64
	logger   *slog.Logger
}

func NewVault(custody common.Address, logger *slog.Logger) *Vault {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Vault{
		custody:  custody,
		balances: make(map[balanceKey]uint64),
		logger:   logger,
	}
}

// SetAcceptor installs the custody acceptance hook. It must not call back
// into the vault.
func (v *Vault) SetAcceptor(fn Acceptor) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.accept = fn
}

func (v *Vault) Custody() common.Address {
	return v.custody
}

// Credit mints amount of (kind, id) to account.
func (v *Vault) Credit(account, kind common.Address, id, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, ErrZeroAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	key := balanceKey{account, kind, id}
	sum, carry := bits.Add64(v.balances[key], amount, 0)
	if carry != 0 {
		return 0, ErrBalanceOverflow
	}
	v.balances[key] = sum
	v.logger.Info("vault credit", "account", account.Hex(), "kind", kind.Hex(), "id", id, "amount", amount)
	return sum, nil
}

func (v *Vault) BalanceOf(account, kind common.Address, id uint64) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[balanceKey{account, kind, id}]
}

func (v *Vault) TransferIn(_ context.Context, from, to, kind common.Address, id, amount uint64, data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if to == v.custody && v.accept != nil {
		if err := v.accept(data); err != nil {
			return err
		}
	}
	return v.move(from, to, kind, id, amount)
}

// TransferOut pays amount out of custody.
func (v *Vault) TransferOut(_ context.Context, to, kind common.Address, id, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.move(v.custody, to, kind, id, amount)
}

func (v *Vault) move(from, to, kind common.Address, id, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	src := balanceKey{from, kind, id}
	dst := balanceKey{to, kind, id}
	if v.balances[src] < amount {
		return ErrInsufficientBalance
	}
	if from == to {
		return nil
	}
	sum, carry := bits.Add64(v.balances[dst], amount, 0)
	if carry != 0 {
		return ErrBalanceOverflow
	}
	v.balances[src] -= amount
	v.balances[dst] = sum
	return nil
}
