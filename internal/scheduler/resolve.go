package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

const (
	PolicyOracle = "oracle"
	PolicyDirect = "direct"
	PolicyManual = "manual"
)

// Resolver is the slice of the ledger the runner drives.
type Resolver interface {
	PendingResolution() []uint64
	RequestRandomness(ctx context.Context, raffleID uint64, caller common.Address, seed common.Hash) (common.Hash, error)
	ResolveDirect(ctx context.Context, raffleID uint64, caller common.Address) (common.Hash, error)
}

// ResolveRunner periodically resolves raffles whose staking window has
// closed, either through the oracle or directly.
type ResolveRunner struct {
	ledger   Resolver
	policy   string
	caller   common.Address
	interval time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewResolveRunner(ledger Resolver, policy string, caller common.Address, interval time.Duration, logger *slog.Logger) *ResolveRunner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ResolveRunner{
		ledger:   ledger,
		policy:   policy,
		caller:   caller,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

func (r *ResolveRunner) Start(ctx context.Context) {
	if r.policy == PolicyManual || r.interval <= 0 {
		r.logger.Info("raffle auto-resolution disabled", "policy", r.policy)
		return
	}
	ticker := time.NewTicker(r.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Sweep(ctx)
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			}
		}
	}()
}

func (r *ResolveRunner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Sweep resolves every pending raffle once and returns how many succeeded.
func (r *ResolveRunner) Sweep(ctx context.Context) int {
	done := 0
	for _, id := range r.ledger.PendingResolution() {
		if ctx.Err() != nil {
			break
		}
		switch r.policy {
		case PolicyOracle:
			seed := crypto.Keccak256Hash([]byte(uuid.NewString()))
			requestID, err := r.ledger.RequestRandomness(ctx, id, r.caller, seed)
			if err != nil {
				r.logger.Warn("failed to request randomness", "raffle_id", id, "error", err)
				continue
			}
			r.logger.Info("randomness requested", "raffle_id", id, "request_id", requestID.Hex())
		case PolicyDirect:
			value, err := r.ledger.ResolveDirect(ctx, id, r.caller)
			if err != nil {
				r.logger.Warn("failed to resolve raffle", "raffle_id", id, "error", err)
				continue
			}
			r.logger.Info("raffle resolved", "raffle_id", id, "random", value.Hex())
		default:
			return done
		}
		done++
	}
	return done
}
