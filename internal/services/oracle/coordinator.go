package oracle

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"stake-raffle/internal/cache"
	"stake-raffle/internal/models"
)

var (
	ErrQueueFull  = errors.New("oracle request queue full")
	ErrUnknownKey = errors.New("oracle key hash not served")
	ErrStopped    = errors.New("oracle coordinator stopped")
)

// Fulfiller receives proven random values.
type Fulfiller interface {
	FulfillRandomness(ctx context.Context, caller common.Address, requestID, value common.Hash) error
}

type Request struct {
	ID      common.Hash `json:"id"`
	KeyHash common.Hash `json:"keyHash"`
	Seed    common.Hash `json:"seed"`
	Fee     uint64      `json:"fee"`
}

// Coordinator is an in-process VRF oracle. Requests are queued by
// SubmitRequest and proven by a single worker, which then calls back into
// the fulfiller as the oracle address.
type Coordinator struct {
	key     *ecdsa.PrivateKey
	address common.Address
	keyHash common.Hash
	queue   chan Request
	logger  *slog.Logger

	stopOnce sync.Once
	started  atomic.Bool
	stopCh   chan struct{}
	done     chan struct{}

	proofs *cache.LRU[common.Hash, Fulfillment]
}

// NewCoordinator serves key. Proofs of the last 4*queueSize fulfillments are
// kept for Proof.
func NewCoordinator(key *ecdsa.PrivateKey, queueSize int, logger *slog.Logger) (*Coordinator, error) {
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	proofs, err := cache.NewLRU[common.Hash, Fulfillment](4 * queueSize)
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		keyHash: KeyHash(&key.PublicKey),
		queue:   make(chan Request, queueSize),
		logger:  logger,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		proofs:  proofs,
	}, nil
}

func (c *Coordinator) Address() common.Address {
	return c.address
}

func (c *Coordinator) KeyHash() common.Hash {
	return c.keyHash
}

func (c *Coordinator) PublicKey() []byte {
	return crypto.CompressPubkey(&c.key.PublicKey)
}

// SubmitRequest queues a request and returns its id. It never blocks: a
// full queue is reported as ErrQueueFull.
func (c *Coordinator) SubmitRequest(_ context.Context, keyHash common.Hash, fee uint64, seed common.Hash) (common.Hash, error) {
	if keyHash != c.keyHash {
		return common.Hash{}, ErrUnknownKey
	}
	req := Request{ID: RequestID(keyHash, seed), KeyHash: keyHash, Seed: seed, Fee: fee}
	select {
	case c.queue <- req:
		return req.ID, nil
	default:
		return common.Hash{}, ErrQueueFull
	}
}

// Resubmit queues a request recorded earlier, keeping its id. Unlike
// SubmitRequest it waits for queue space, so a worker must be running.
func (c *Coordinator) Resubmit(ctx context.Context, req Request) error {
	if req.KeyHash != c.keyHash {
		return ErrUnknownKey
	}
	select {
	case c.queue <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopCh:
		return ErrStopped
	}
}

// ResubmitOutstanding requeues the ledger's unanswered requests made against
// this coordinator's key and returns how many were queued. Call it after Start.
func (c *Coordinator) ResubmitOutstanding(ctx context.Context, reqs []models.RandomnessRequest) (int, error) {
	n := 0
	for _, r := range reqs {
		if r.KeyHash != c.keyHash {
			c.logger.Warn("outstanding request for another key skipped", "request_id", r.ID.Hex(), "raffle_id", r.RaffleID)
			continue
		}
		if err := c.Resubmit(ctx, Request{ID: r.ID, KeyHash: r.KeyHash, Seed: r.Seed, Fee: r.Fee}); err != nil {
			return n, err
		}
		c.logger.Info("outstanding request resubmitted", "request_id", r.ID.Hex(), "raffle_id", r.RaffleID)
		n++
	}
	return n, nil
}

func (c *Coordinator) Start(ctx context.Context, f Fulfiller) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(c.done)
		for {
			select {
			case req := <-c.queue:
				c.fulfill(ctx, f, req)
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop ends the worker and waits for it. Queued requests are dropped.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	if c.started.Load() {
		<-c.done
	}
}

func (c *Coordinator) fulfill(ctx context.Context, f Fulfiller, req Request) {
	random, proof, err := Prove(c.key, req.Seed)
	if err != nil {
		c.logger.Error("vrf prove failed", "request_id", req.ID.Hex(), "error", err)
		return
	}
	c.proofs.Add(req.ID, Fulfillment{RequestID: req.ID, Random: random, Proof: proof})

	if err := f.FulfillRandomness(ctx, c.address, req.ID, random); err != nil {
		c.logger.Warn("randomness fulfillment rejected", "request_id", req.ID.Hex(), "error", err)
		return
	}
	c.logger.Info("randomness fulfilled", "request_id", req.ID.Hex(), "random", random.Hex())
}

// Proof returns the fulfillment produced for a request, if any.
func (c *Coordinator) Proof(requestID common.Hash) (Fulfillment, bool) {
	return c.proofs.Get(requestID)
}
