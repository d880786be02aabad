package raffle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stake-raffle/internal/models"
)

var (
	owner      = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	custody    = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	oracleAddr = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	alice      = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	stakeKind  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	prizeKind  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	keyHash    = common.HexToHash("0x01")
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type transfer struct {
	account common.Address
	kind    common.Address
	id      uint64
	amount  uint64
	data    []byte
}

type fakeToken struct {
	mu     sync.Mutex
	calls  int
	failAt int
	in     []transfer
	out    []transfer
	outErr error
	// outFailAt fails the n-th payout (1-based) when set.
	outFailAt int
	outCalls  int
}

func (f *fakeToken) TransferIn(_ context.Context, from, _, kind common.Address, id, amount uint64, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAt != 0 && f.calls == f.failAt {
		return errors.New("transfer rejected")
	}
	f.in = append(f.in, transfer{account: from, kind: kind, id: id, amount: amount, data: data})
	return nil
}

func (f *fakeToken) TransferOut(_ context.Context, to, kind common.Address, id, amount uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outErr != nil {
		return f.outErr
	}
	f.outCalls++
	if f.outFailAt != 0 && f.outCalls == f.outFailAt {
		return errors.New("payout rejected")
	}
	f.out = append(f.out, transfer{account: to, kind: kind, id: id, amount: amount})
	return nil
}

type fakeOracle struct {
	err   error
	seeds []common.Hash
}

func (f *fakeOracle) SubmitRequest(_ context.Context, keyHash common.Hash, _ uint64, seed common.Hash) (common.Hash, error) {
	if f.err != nil {
		return common.Hash{}, f.err
	}
	f.seeds = append(f.seeds, seed)
	return crypto.Keccak256Hash(keyHash[:], seed[:]), nil
}

type fakeJournal struct {
	err       error
	mutations []models.Mutation
}

func (f *fakeJournal) Apply(_ context.Context, m models.Mutation) error {
	if f.err != nil {
		return f.err
	}
	f.mutations = append(f.mutations, m)
	return nil
}

type harness struct {
	ledger  *Ledger
	token   *fakeToken
	oracle  *fakeOracle
	journal *fakeJournal
	clock   *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		token:   &fakeToken{},
		oracle:  &fakeOracle{},
		journal: &fakeJournal{},
		clock:   &testClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	h.ledger = New(Options{
		Owner:         owner,
		Custody:       custody,
		OracleAddress: oracleAddr,
		KeyHash:       keyHash,
		Fee:           10,
		Token:         h.token,
		Oracle:        h.oracle,
		Journal:       h.journal,
		Now:           h.clock.Now,
	})
	return h
}

func singleItem(prizeValue uint64) []models.Item {
	return []models.Item{{
		Kind:   stakeKind,
		ID:     1,
		Prizes: []models.Prize{{Kind: prizeKind, ID: 7, Value: prizeValue}},
	}}
}

func (h *harness) createRaffle(t *testing.T, items []models.Item) uint64 {
	t.Helper()
	id, err := h.ledger.CreateRaffle(context.Background(), owner, h.clock.Now().Add(2*time.Hour), items)
	require.NoError(t, err)
	return id
}

func (h *harness) stake(t *testing.T, raffleID uint64, account common.Address, amount uint64) {
	t.Helper()
	_, err := h.ledger.Stake(context.Background(), raffleID, account, []models.StakeEntry{{Kind: stakeKind, ID: 1, Amount: amount}})
	require.NoError(t, err)
}

// resolveWith closes the raffle and delivers random through the oracle path.
func (h *harness) resolveWith(t *testing.T, raffleID uint64, random common.Hash) {
	t.Helper()
	ctx := context.Background()
	h.clock.Advance(3 * time.Hour)
	_, err := h.ledger.FundOracle(ctx, owner, 10)
	require.NoError(t, err)
	reqID, err := h.ledger.RequestRandomness(ctx, raffleID, alice, common.HexToHash("0x5eed"))
	require.NoError(t, err)
	require.NoError(t, h.ledger.FulfillRandomness(ctx, oracleAddr, reqID, random))
}

func TestRaffleContext(t *testing.T) {
	data := RaffleContext(258)
	require.Len(t, data, 32)
	assert.Equal(t, byte(1), data[30])
	assert.Equal(t, byte(2), data[31])

	id, err := ParseRaffleContext(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(258), id)

	_, err = ParseRaffleContext(data[1:])
	assert.ErrorIs(t, err, ErrInvalidContext)

	big := make([]byte, 32)
	big[0] = 1
	_, err = ParseRaffleContext(big)
	assert.ErrorIs(t, err, ErrInvalidContext)
}

func TestAcceptDeposit(t *testing.T) {
	h := newHarness(t)
	id := h.createRaffle(t, singleItem(1))

	assert.NoError(t, h.ledger.AcceptDeposit(RaffleContext(id)))
	assert.ErrorIs(t, h.ledger.AcceptDeposit(RaffleContext(id+1)), ErrRaffleNotFound)
	assert.ErrorIs(t, h.ledger.AcceptDeposit([]byte{1}), ErrInvalidContext)

	h.clock.Advance(2 * time.Hour)
	assert.ErrorIs(t, h.ledger.AcceptDeposit(RaffleContext(id)), ErrExpired)
}

func TestErrorKinds(t *testing.T) {
	assert.ErrorIs(t, ErrRaffleNotFound, NotFound)
	assert.ErrorIs(t, ErrExpired, StateConflict)
	assert.ErrorIs(t, ErrNotOracle, Unauthorized)
	assert.ErrorIs(t, ErrInsufficientFee, InsufficientResource)
	assert.NotErrorIs(t, ErrZeroValue, NotFound)
	assert.NotErrorIs(t, ErrExpired, ErrNotExpired)

	wrapped := errors.Join(errors.New("context"), ErrUnsortedUnits)
	assert.Equal(t, KindInvalidArgument, KindOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("disk full")))
	assert.Equal(t, "not_found", KindNotFound.String())
}

func TestMutationsAdvanceHeight(t *testing.T) {
	h := newHarness(t)
	h.createRaffle(t, singleItem(1))
	h.stake(t, 0, alice, 5)

	assert.Equal(t, uint64(2), h.ledger.Height())
	require.Len(t, h.journal.mutations, 2)
	first, second := h.journal.mutations[0].Settings, h.journal.mutations[1].Settings
	assert.Equal(t, uint64(1), first.Height)
	assert.Equal(t, uint64(2), second.Height)
	assert.NotEqual(t, first.Entropy, second.Entropy)
}

func TestRestore(t *testing.T) {
	h := newHarness(t)
	id := h.createRaffle(t, singleItem(3))
	h.stake(t, id, alice, 60)
	h.stake(t, id, bob, 40)
	h.stake(t, id, alice, 5)

	snapshot := func() *models.Snapshot {
		items := singleItem(3)
		items[0].StakeTotal = 105
		return &models.Snapshot{
			Settings: &models.Settings{Owner: bob, FeeBalance: 4, Height: 9},
			Raffles: []*models.Raffle{{
				ID:      id,
				EndTime: h.clock.Now().Add(2 * time.Hour),
				Items:   items,
				Stakes: []models.Stake{
					{Account: alice, Item: 0, RangeStart: 0, RangeEnd: 60},
					{Account: bob, Item: 0, RangeStart: 60, RangeEnd: 100},
					{Account: alice, Item: 0, RangeStart: 100, RangeEnd: 105},
				},
				Claimed: map[common.Address]bool{},
			}},
			Nonces: map[common.Hash]uint64{keyHash: 3},
		}
	}

	t.Run("rebuilds indexes", func(t *testing.T) {
		l, err := Restore(snapshot(), Options{Owner: owner, Now: h.clock.Now})
		require.NoError(t, err)
		assert.Equal(t, bob, l.Owner())
		assert.Equal(t, uint64(4), l.FeeBalance())
		assert.Equal(t, uint64(3), l.Nonce(keyHash))

		stats, err := l.StakerStats(id, alice)
		require.NoError(t, err)
		require.Len(t, stats.Stakes, 2)
		assert.Equal(t, uint64(100), stats.Stakes[1].RangeStart)

		info, err := l.RaffleInfo(id)
		require.NoError(t, err)
		assert.Equal(t, 2, info.Stakers)
		assert.Equal(t, uint64(105), info.Items[0].StakeTotal)
	})

	t.Run("rejects total mismatch", func(t *testing.T) {
		snap := snapshot()
		snap.Raffles[0].Items[0].StakeTotal = 200
		_, err := Restore(snap, Options{})
		assert.Error(t, err)
	})

	t.Run("rejects gap in ranges", func(t *testing.T) {
		snap := snapshot()
		snap.Raffles[0].Stakes[1].RangeStart = 61
		_, err := Restore(snap, Options{})
		assert.Error(t, err)
	})
}

func TestSubscribe(t *testing.T) {
	h := newHarness(t)
	events, cancel := h.ledger.Subscribe(4)
	defer cancel()

	id := h.createRaffle(t, singleItem(1))
	h.stake(t, id, alice, 3)

	ev := <-events
	assert.Equal(t, EventRaffleCreated, ev.Type)
	assert.NotEmpty(t, ev.ID)
	ev = <-events
	assert.Equal(t, EventStaked, ev.Type)
	assert.Equal(t, alice, ev.Account)
	data, ok := ev.Data.(StakedData)
	require.True(t, ok)
	assert.Equal(t, []StakeRange{{Kind: stakeKind, ID: 1, RangeStart: 0, RangeEnd: 3}}, data.Stakes)

	cancel()
	_, open := <-events
	assert.False(t, open)
}
