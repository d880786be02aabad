package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stake-raffle/internal/models"
	"stake-raffle/internal/services/raffle"
)

type delivery struct {
	caller    common.Address
	requestID common.Hash
	value     common.Hash
}

type chanFulfiller chan delivery

func (f chanFulfiller) FulfillRandomness(_ context.Context, caller common.Address, requestID, value common.Hash) error {
	f <- delivery{caller, requestID, value}
	return nil
}

func TestProveAndVerify(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	seed := common.HexToHash("0x5eed")

	random, proof, err := Prove(key, seed)
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, random)

	v, err := NewVerifier(crypto.CompressPubkey(&key.PublicKey))
	require.NoError(t, err)
	assert.Equal(t, KeyHash(&key.PublicKey), v.KeyHash())

	got, err := v.Verify(seed, proof)
	require.NoError(t, err)
	assert.Equal(t, random, got)
	assert.NoError(t, v.Check(seed, random, proof))
	assert.ErrorIs(t, v.Check(seed, common.HexToHash("0x01"), proof), ErrProofMismatch)

	_, err = v.Verify(common.HexToHash("0x5eee"), proof)
	assert.Error(t, err)

	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	ov, err := NewVerifier(crypto.CompressPubkey(&other.PublicKey))
	require.NoError(t, err)
	_, err = ov.Verify(seed, proof)
	assert.Error(t, err)

	_, err = NewVerifier([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCoordinator(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := NewCoordinator(key, 1, nil)
	require.NoError(t, err)
	ctx := context.Background()
	seed := common.HexToHash("0x01")

	_, err = c.SubmitRequest(ctx, common.HexToHash("0xff"), 0, seed)
	assert.ErrorIs(t, err, ErrUnknownKey)

	id, err := c.SubmitRequest(ctx, c.KeyHash(), 3, seed)
	require.NoError(t, err)
	assert.Equal(t, RequestID(c.KeyHash(), seed), id)

	_, err = c.SubmitRequest(ctx, c.KeyHash(), 3, common.HexToHash("0x02"))
	assert.ErrorIs(t, err, ErrQueueFull)

	out := make(chanFulfiller, 1)
	c.Start(ctx, out)
	defer c.Stop()

	select {
	case d := <-out:
		assert.Equal(t, c.Address(), d.caller)
		assert.Equal(t, id, d.requestID)
		f, ok := c.Proof(id)
		require.True(t, ok)
		assert.Equal(t, d.value, f.Random)

		v, err := NewVerifier(c.PublicKey())
		require.NoError(t, err)
		assert.NoError(t, v.Check(seed, d.value, f.Proof))
	case <-time.After(5 * time.Second):
		t.Fatal("request was not fulfilled")
	}
}

func TestCoordinatorStopWithoutStart(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := NewCoordinator(key, 0, nil)
	require.NoError(t, err)
	c.Stop()
	c.Stop()
}

// A raffle resolved through the local oracle ends up with the VRF output of
// the request's input seed.
func TestCoordinatorResolvesRaffle(t *testing.T) {
	ctx := context.Background()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := NewCoordinator(key, 4, nil)
	require.NoError(t, err)

	owner := common.HexToAddress("0x00000000000000000000000000000000000000f0")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ledger := raffle.New(raffle.Options{
		Owner:         owner,
		OracleAddress: c.Address(),
		KeyHash:       c.KeyHash(),
		Fee:           1,
		Oracle:        c,
		Now:           func() time.Time { return now },
	})
	events, cancel := ledger.Subscribe(16)
	defer cancel()

	c.Start(ctx, ledger)
	defer c.Stop()

	items := []models.Item{{
		Kind:   common.HexToAddress("0x01"),
		ID:     1,
		Prizes: []models.Prize{{Kind: common.HexToAddress("0xaa"), ID: 1, Value: 1}},
	}}
	id, err := ledger.CreateRaffle(ctx, owner, now.Add(2*time.Hour), items)
	require.NoError(t, err)
	now = now.Add(3 * time.Hour)
	_, err = ledger.FundOracle(ctx, owner, 1)
	require.NoError(t, err)
	reqID, err := ledger.RequestRandomness(ctx, id, owner, common.HexToHash("0x5eed"))
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type != raffle.EventRandomnessResolved {
				continue
			}
			req, err := ledger.Request(reqID)
			require.NoError(t, err)
			want, _, err := Prove(key, req.Seed)
			require.NoError(t, err)

			info, err := ledger.RaffleInfo(id)
			require.NoError(t, err)
			assert.Equal(t, want, info.RandomNumber)
			return
		case <-deadline:
			t.Fatal("raffle was not resolved")
		}
	}
}

// Requests recorded before a restart are answered once the new coordinator
// resubmits them, under their original ids.
func TestCoordinatorResubmitsAfterRestore(t *testing.T) {
	ctx := context.Background()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	before, err := NewCoordinator(key, 4, nil)
	require.NoError(t, err)

	owner := common.HexToAddress("0x00000000000000000000000000000000000000f0")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	opts := raffle.Options{
		Owner:         owner,
		OracleAddress: before.Address(),
		KeyHash:       before.KeyHash(),
		Fee:           1,
		Oracle:        before,
		Now:           func() time.Time { return now },
	}
	ledger := raffle.New(opts)
	items := []models.Item{{
		Kind:   common.HexToAddress("0x01"),
		ID:     1,
		Prizes: []models.Prize{{Kind: common.HexToAddress("0xaa"), ID: 1, Value: 1}},
	}}
	id, err := ledger.CreateRaffle(ctx, owner, now.Add(2*time.Hour), items)
	require.NoError(t, err)
	now = now.Add(3 * time.Hour)
	_, err = ledger.FundOracle(ctx, owner, 1)
	require.NoError(t, err)
	reqID, err := ledger.RequestRandomness(ctx, id, owner, common.HexToHash("0x5eed"))
	require.NoError(t, err)
	req, err := ledger.Request(reqID)
	require.NoError(t, err)
	// The first process dies with the request still queued.
	before.Stop()

	info, err := ledger.RaffleInfo(id)
	require.NoError(t, err)
	snap := &models.Snapshot{
		Settings: &models.Settings{Owner: owner, Height: ledger.Height()},
		Raffles: []*models.Raffle{{
			ID:      id,
			EndTime: info.EndTime,
			Items:   items,
			Claimed: map[common.Address]bool{},
		}},
		Requests: []models.RandomnessRequest{req},
		Nonces:   map[common.Hash]uint64{req.KeyHash: req.Nonce + 1},
	}

	after, err := NewCoordinator(key, 4, nil)
	require.NoError(t, err)
	opts.Oracle = after
	restored, err := raffle.Restore(snap, opts)
	require.NoError(t, err)
	assert.Empty(t, restored.PendingResolution())
	events, cancel := restored.Subscribe(16)
	defer cancel()

	after.Start(ctx, restored)
	defer after.Stop()
	n, err := after.ResubmitOutstanding(ctx, restored.OutstandingRequests())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type != raffle.EventRandomnessResolved {
				continue
			}
			want, _, err := Prove(key, req.Seed)
			require.NoError(t, err)
			info, err := restored.RaffleInfo(id)
			require.NoError(t, err)
			assert.Equal(t, want, info.RandomNumber)
			assert.Empty(t, restored.OutstandingRequests())
			_, ok := after.Proof(reqID)
			assert.True(t, ok)
			return
		case <-deadline:
			t.Fatal("restored raffle was not resolved")
		}
	}
}

func TestCoordinatorResubmit(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := NewCoordinator(key, 1, nil)
	require.NoError(t, err)
	ctx := context.Background()

	err = c.Resubmit(ctx, Request{ID: common.HexToHash("0x01"), KeyHash: common.HexToHash("0xff")})
	assert.ErrorIs(t, err, ErrUnknownKey)

	foreign := []models.RandomnessRequest{{ID: common.HexToHash("0x01"), KeyHash: common.HexToHash("0xff")}}
	n, err := c.ResubmitOutstanding(ctx, foreign)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, c.Resubmit(ctx, Request{ID: common.HexToHash("0x02"), KeyHash: c.KeyHash()}))
	// The queue is full and no worker drains it.
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err = c.Resubmit(short, Request{ID: common.HexToHash("0x03"), KeyHash: c.KeyHash()})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	c.Stop()
	err = c.Resubmit(ctx, Request{ID: common.HexToHash("0x04"), KeyHash: c.KeyHash()})
	assert.ErrorIs(t, err, ErrStopped)
}

// Only the most recent proofs are kept.
func TestCoordinatorProofEviction(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := NewCoordinator(key, 1, nil)
	require.NoError(t, err)
	ctx := context.Background()

	out := make(chanFulfiller, 1)
	c.Start(ctx, out)
	defer c.Stop()

	var ids []common.Hash
	for i := 1; i <= 5; i++ {
		id, err := c.SubmitRequest(ctx, c.KeyHash(), 0, common.Hash{byte(i)})
		require.NoError(t, err)
		select {
		case <-out:
		case <-time.After(5 * time.Second):
			t.Fatal("request was not fulfilled")
		}
		ids = append(ids, id)
	}

	_, ok := c.Proof(ids[0])
	assert.False(t, ok)
	for _, id := range ids[1:] {
		_, ok := c.Proof(id)
		assert.True(t, ok)
	}
}

func TestHTTPClient(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/requests" {
			http.NotFound(w, r)
			return
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got.Fee == 0 {
			w.WriteHeader(http.StatusPaymentRequired)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"requestId": RequestID(got.KeyHash, got.Seed)})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	keyHash, seed := common.HexToHash("0x0a"), common.HexToHash("0x0b")
	id, err := c.SubmitRequest(context.Background(), keyHash, 2, seed)
	require.NoError(t, err)
	assert.Equal(t, RequestID(keyHash, seed), id)
	assert.Equal(t, Request{KeyHash: keyHash, Seed: seed, Fee: 2}, got)

	_, err = c.SubmitRequest(context.Background(), keyHash, 0, seed)
	assert.Error(t, err)
}
