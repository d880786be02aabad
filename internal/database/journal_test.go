package database

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stake-raffle/internal/models"
	"stake-raffle/internal/services/raffle"
)

var (
	owner     = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	oracle    = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	alice     = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	stakeKind = common.HexToAddress("0x0000000000000000000000000000000000000001")
	prizeKind = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "sqlite:" + filepath.Join(t.TempDir(), "raffle.db")
	store, err := New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

type oracleStub struct{}

func (oracleStub) SubmitRequest(_ context.Context, _ common.Hash, _ uint64, seed common.Hash) (common.Hash, error) {
	return seed, nil
}

func TestRebind(t *testing.T) {
	s := &Store{dbType: "postgres"}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", s.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))
	s.dbType = "sqlite"
	assert.Equal(t, "x = ?", s.rebind("x = ?"))
}

func TestEmptySnapshot(t *testing.T) {
	store := newTestStore(t)
	snap, err := store.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap.Settings)
	assert.Empty(t, snap.Raffles)
}

func TestApplyAndLoad(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	created := time.Unix(1_700_000_000, 0).UTC()

	r := &models.Raffle{
		ID:      0,
		EndTime: created.Add(2 * time.Hour),
		Items: []models.Item{
			{Kind: stakeKind, ID: 1, Prizes: []models.Prize{{Kind: prizeKind, ID: 7, Value: 3}, {Kind: prizeKind, ID: 8, Value: 1}}},
			{Kind: stakeKind, ID: math.MaxUint64, Prizes: []models.Prize{{Kind: prizeKind, ID: 9, Value: 2}}},
		},
		CreatedAt: created,
	}
	require.NoError(t, store.Apply(ctx, models.Mutation{Settings: models.Settings{Owner: owner, Height: 1}, Raffle: r}))

	stakes := []models.Stake{
		{Account: alice, Item: 0, RangeStart: 0, RangeEnd: 60, CreatedAt: created},
		{Account: bob, Item: 1, RangeStart: 0, RangeEnd: math.MaxUint64, CreatedAt: created},
	}
	require.NoError(t, store.Apply(ctx, models.Mutation{
		Settings: models.Settings{Owner: owner, Height: 2},
		RaffleID: 0,
		Stakes:   stakes,
		StakeSeq: 0,
		Totals:   map[int]uint64{0: 60, 1: math.MaxUint64},
	}))

	req := models.RandomnessRequest{
		ID:        common.HexToHash("0x01"),
		RaffleID:  0,
		KeyHash:   common.HexToHash("0x02"),
		Seed:      common.HexToHash("0x03"),
		Nonce:     4,
		Fee:       10,
		CreatedAt: created,
	}
	require.NoError(t, store.Apply(ctx, models.Mutation{Settings: models.Settings{Owner: owner, Height: 3, FeeBalance: 5}, Request: &req}))

	random := common.HexToHash("0x2a")
	require.NoError(t, store.Apply(ctx, models.Mutation{Settings: models.Settings{Owner: owner, Height: 4}, RaffleID: 0, Random: &random}))
	require.NoError(t, store.Apply(ctx, models.Mutation{Settings: models.Settings{Owner: owner, Height: 5}, RaffleID: 0, Claimed: &alice}))

	snap, err := store.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap.Settings)
	assert.Equal(t, uint64(5), snap.Settings.Height)
	assert.Equal(t, uint64(0), snap.Settings.FeeBalance)
	require.Len(t, snap.Raffles, 1)

	got := snap.Raffles[0]
	assert.Equal(t, r.EndTime, got.EndTime)
	assert.Equal(t, random, got.RandomNumber)
	require.Len(t, got.Items, 2)
	assert.Equal(t, uint64(60), got.Items[0].StakeTotal)
	assert.Equal(t, uint64(math.MaxUint64), got.Items[1].StakeTotal)
	assert.Equal(t, uint64(math.MaxUint64), got.Items[1].ID)
	assert.Equal(t, r.Items[0].Prizes, got.Items[0].Prizes)
	assert.Equal(t, stakes, got.Stakes)
	assert.Equal(t, map[common.Address]bool{alice: true}, got.Claimed)
	assert.Equal(t, []models.RandomnessRequest{req}, snap.Requests)
	assert.Equal(t, map[common.Hash]uint64{req.KeyHash: 5}, snap.Nonces)
}

func TestApplyRejectsConflicts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := &models.Raffle{
		Items:     []models.Item{{Kind: stakeKind, ID: 1, Prizes: []models.Prize{{Kind: prizeKind, ID: 7, Value: 1}}}},
		EndTime:   time.Unix(100, 0),
		CreatedAt: time.Unix(0, 0),
	}
	require.NoError(t, store.Apply(ctx, models.Mutation{Raffle: r}))

	assert.ErrorIs(t, store.Apply(ctx, models.Mutation{Raffle: r}), ErrDuplicate)

	random := common.HexToHash("0x2a")
	require.NoError(t, store.Apply(ctx, models.Mutation{RaffleID: 0, Random: &random}))
	assert.ErrorIs(t, store.Apply(ctx, models.Mutation{RaffleID: 0, Random: &random}), ErrRaffleResolved)
	assert.ErrorIs(t, store.Apply(ctx, models.Mutation{RaffleID: 3, Random: &random}), ErrRaffleMissing)

	require.NoError(t, store.Apply(ctx, models.Mutation{RaffleID: 0, Claimed: &bob}))
	assert.ErrorIs(t, store.Apply(ctx, models.Mutation{RaffleID: 0, Claimed: &bob}), ErrDuplicate)

	// A failed mutation leaves nothing behind, settings included.
	err := store.Apply(ctx, models.Mutation{Settings: models.Settings{Owner: alice, Height: 99}, RaffleID: 0, Claimed: &bob})
	require.Error(t, err)
	snap, err := store.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, uint64(99), snap.Settings.Height)
}

// The journal keeps enough to rebuild a ledger that agrees with the original.
func TestLedgerRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	opts := raffle.Options{
		Owner:         owner,
		OracleAddress: oracle,
		KeyHash:       common.HexToHash("0x0b"),
		Fee:           1,
		Oracle:        oracleStub{},
		Journal:       store,
		Now:           clock,
	}

	ledger := raffle.New(opts)
	items := []models.Item{{Kind: stakeKind, ID: 1, Prizes: []models.Prize{{Kind: prizeKind, ID: 7, Value: 5}}}}
	id, err := ledger.CreateRaffle(ctx, owner, now.Add(2*time.Hour), items)
	require.NoError(t, err)
	_, err = ledger.Stake(ctx, id, alice, []models.StakeEntry{{Kind: stakeKind, ID: 1, Amount: 60}})
	require.NoError(t, err)
	_, err = ledger.Stake(ctx, id, bob, []models.StakeEntry{{Kind: stakeKind, ID: 1, Amount: 40}})
	require.NoError(t, err)

	now = now.Add(3 * time.Hour)
	_, err = ledger.FundOracle(ctx, owner, 3)
	require.NoError(t, err)
	reqID, err := ledger.RequestRandomness(ctx, id, alice, common.HexToHash("0x5eed"))
	require.NoError(t, err)
	require.NoError(t, ledger.FulfillRandomness(ctx, oracle, reqID, common.HexToHash("0x1234")))
	_, err = ledger.ClaimPrize(ctx, id, bob, nil)
	require.NoError(t, err)

	snap, err := store.LoadSnapshot(ctx)
	require.NoError(t, err)
	restored, err := raffle.Restore(snap, opts)
	require.NoError(t, err)

	want, err := ledger.Winners(id)
	require.NoError(t, err)
	got, err := restored.Winners(id)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.Equal(t, ledger.Height(), restored.Height())
	assert.Equal(t, ledger.FeeBalance(), restored.FeeBalance())
	assert.Equal(t, ledger.Nonce(opts.KeyHash), restored.Nonce(opts.KeyHash))
	assert.Empty(t, restored.PendingResolution())

	_, err = restored.ClaimPrize(ctx, id, bob, nil)
	assert.ErrorIs(t, err, raffle.ErrAlreadyClaimed)
}
