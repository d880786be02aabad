package raffle

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"stake-raffle/internal/models"
)

// DefaultMinDuration is how far in the future a new raffle must end.
const DefaultMinDuration = time.Hour

// Token moves stake deposits into custody and prize payouts out of it.
type Token interface {
	TransferIn(ctx context.Context, from, to, kind common.Address, id, amount uint64, data []byte) error
	TransferOut(ctx context.Context, to, kind common.Address, id, amount uint64) error
}

// Oracle accepts randomness requests. The random value arrives later through
// Ledger.FulfillRandomness.
type Oracle interface {
	SubmitRequest(ctx context.Context, keyHash common.Hash, fee uint64, seed common.Hash) (common.Hash, error)
}

// Journal persists mutations before they are applied in memory.
type Journal interface {
	Apply(ctx context.Context, m models.Mutation) error
}

// ResolutionCache keeps computed resolutions. A resolution never changes once
// the random number is set.
type ResolutionCache interface {
	Get(raffleID uint64) (*Resolution, bool)
	Add(raffleID uint64, res *Resolution)
}

type Options struct {
	Owner         common.Address
	Custody       common.Address
	Gateway       common.Address
	OracleAddress common.Address
	KeyHash       common.Hash
	Fee           uint64
	MinDuration   time.Duration

	Token   Token
	Oracle  Oracle
	Journal Journal
	Cache   ResolutionCache
	Logger  *slog.Logger
	Now     func() time.Time
}

type itemKey struct {
	kind common.Address
	id   uint64
}

type raffleState struct {
	*models.Raffle
	itemIndex map[itemKey]int
	byAccount map[common.Address][]int
	byItem    [][]int
	requested bool
}

func newRaffleState(r *models.Raffle) *raffleState {
	st := &raffleState{
		Raffle:    r,
		itemIndex: make(map[itemKey]int, len(r.Items)),
		byAccount: make(map[common.Address][]int),
		byItem:    make([][]int, len(r.Items)),
	}
	if st.Claimed == nil {
		st.Claimed = make(map[common.Address]bool)
	}
	for i, item := range r.Items {
		st.itemIndex[itemKey{item.Kind, item.ID}] = i + 1
	}
	return st
}

// appendStake records s as the next stake of the raffle.
func (r *raffleState) appendStake(s models.Stake) {
	idx := len(r.Stakes)
	r.Stakes = append(r.Stakes, s)
	if _, ok := r.byAccount[s.Account]; !ok {
		r.Stakers = append(r.Stakers, s.Account)
	}
	r.byAccount[s.Account] = append(r.byAccount[s.Account], idx)
	r.byItem[s.Item] = append(r.byItem[s.Item], idx)
	r.Items[s.Item].StakeTotal = s.RangeEnd
}

func (r *raffleState) item(kind common.Address, id uint64) (int, bool) {
	idx := r.itemIndex[itemKey{kind, id}]
	return idx - 1, idx != 0
}

// Ledger owns every raffle, stake, randomness request and claim. Mutations
// run one at a time under the write lock; queries share the read lock.
type Ledger struct {
	mu sync.RWMutex

	custody     common.Address
	gateway     common.Address
	oracleAddr  common.Address
	keyHash     common.Hash
	fee         uint64
	minDuration time.Duration

	token   Token
	oracle  Oracle
	journal Journal
	cache   ResolutionCache
	logger  *slog.Logger
	now     func() time.Time

	owner      common.Address
	feeBalance uint64
	height     uint64
	entropy    common.Hash

	raffles  []*raffleState
	requests map[common.Hash]models.RandomnessRequest
	nonces   map[common.Hash]uint64

	// endTimes is read by the deposit hook without taking mu.
	endTimes sync.Map

	bus *bus
}

func New(opts Options) *Ledger {
	l := &Ledger{
		custody:     opts.Custody,
		gateway:     opts.Gateway,
		oracleAddr:  opts.OracleAddress,
		keyHash:     opts.KeyHash,
		fee:         opts.Fee,
		minDuration: opts.MinDuration,
		token:       opts.Token,
		oracle:      opts.Oracle,
		journal:     opts.Journal,
		cache:       opts.Cache,
		logger:      opts.Logger,
		now:         opts.Now,
		owner:       opts.Owner,
		requests:    make(map[common.Hash]models.RandomnessRequest),
		nonces:      make(map[common.Hash]uint64),
		bus:         newBus(),
	}
	if l.minDuration <= 0 {
		l.minDuration = DefaultMinDuration
	}
	if l.logger == nil {
		l.logger = slog.New(slog.DiscardHandler)
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.gateway == (common.Address{}) {
		l.gateway = l.custody
	}
	return l
}

// Restore rebuilds a ledger from persisted state. The owner stored in the
// snapshot wins over opts.Owner.
func Restore(snap *models.Snapshot, opts Options) (*Ledger, error) {
	l := New(opts)
	if snap == nil {
		return l, nil
	}
	if snap.Settings != nil {
		if snap.Settings.Owner != (common.Address{}) {
			l.owner = snap.Settings.Owner
		}
		l.feeBalance = snap.Settings.FeeBalance
		l.height = snap.Settings.Height
		l.entropy = snap.Settings.Entropy
	}
	for i, r := range snap.Raffles {
		if r.ID != uint64(i) {
			return nil, fmt.Errorf("restore: raffle %d stored at position %d", r.ID, i)
		}
		totals := make([]uint64, len(r.Items))
		for j := range r.Items {
			totals[j] = r.Items[j].StakeTotal
			r.Items[j].StakeTotal = 0
		}
		stakes := r.Stakes
		r.Stakes = nil
		r.Stakers = nil
		st := newRaffleState(r)
		for _, s := range stakes {
			if s.Item < 0 || s.Item >= len(r.Items) || s.RangeStart != r.Items[s.Item].StakeTotal || s.RangeEnd <= s.RangeStart {
				return nil, fmt.Errorf("restore: raffle %d: stake range [%d,%d) does not extend item %d", r.ID, s.RangeStart, s.RangeEnd, s.Item)
			}
			st.appendStake(s)
		}
		for j, total := range totals {
			if r.Items[j].StakeTotal != total {
				return nil, fmt.Errorf("restore: raffle %d item %d: stored total %d, stakes sum to %d", r.ID, j, total, r.Items[j].StakeTotal)
			}
		}
		l.raffles = append(l.raffles, st)
		l.endTimes.Store(r.ID, r.EndTime)
	}
	for _, req := range snap.Requests {
		if req.RaffleID >= uint64(len(l.raffles)) {
			return nil, fmt.Errorf("restore: request %s for unknown raffle %d", req.ID, req.RaffleID)
		}
		l.requests[req.ID] = req
		l.raffles[req.RaffleID].requested = true
	}
	for k, v := range snap.Nonces {
		l.nonces[k] = v
	}
	return l, nil
}

func (l *Ledger) raffle(id uint64) (*raffleState, error) {
	if id >= uint64(len(l.raffles)) {
		return nil, ErrRaffleNotFound
	}
	return l.raffles[id], nil
}

// settingsAfter returns the ledger settings as they will be once a mutation
// tagged with op and data is applied. Height and entropy act as the ledger's
// block context.
func (l *Ledger) settingsAfter(op string, data ...[]byte) models.Settings {
	height := l.height + 1
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], height)
	parts := append([][]byte{l.entropy[:], h[:], []byte(op)}, data...)
	return models.Settings{
		Owner:      l.owner,
		FeeBalance: l.feeBalance,
		Height:     height,
		Entropy:    crypto.Keccak256Hash(parts...),
	}
}

func (l *Ledger) commit(s models.Settings) {
	l.owner = s.Owner
	l.feeBalance = s.FeeBalance
	l.height = s.Height
	l.entropy = s.Entropy
}

func (l *Ledger) persist(ctx context.Context, m models.Mutation) error {
	if l.journal == nil {
		return nil
	}
	if err := l.journal.Apply(ctx, m); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return nil
}

// RaffleContext encodes a raffle id as the 32-byte deposit context.
func RaffleContext(id uint64) []byte {
	b := uint256.NewInt(id).Bytes32()
	return b[:]
}

// ParseRaffleContext decodes a deposit context produced by RaffleContext.
func ParseRaffleContext(data []byte) (uint64, error) {
	if len(data) != 32 {
		return 0, ErrInvalidContext
	}
	v := new(uint256.Int).SetBytes32(data)
	if !v.IsUint64() {
		return 0, ErrInvalidContext
	}
	return v.Uint64(), nil
}

// AcceptDeposit is the custody acceptance hook: it admits a deposit only while
// the raffle named by data is open. It does not take the ledger lock, so it is
// safe to call from inside Stake.
func (l *Ledger) AcceptDeposit(data []byte) error {
	id, err := ParseRaffleContext(data)
	if err != nil {
		return err
	}
	v, ok := l.endTimes.Load(id)
	if !ok {
		return ErrRaffleNotFound
	}
	if !l.now().Before(v.(time.Time)) {
		return ErrExpired
	}
	return nil
}

func (l *Ledger) Owner() common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.owner
}

func (l *Ledger) OracleAddress() common.Address {
	return l.oracleAddr
}

func (l *Ledger) FeeBalance() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.feeBalance
}

// Height is the number of mutations applied to the ledger.
func (l *Ledger) Height() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.height
}

func unixTime(t time.Time) time.Time {
	return time.Unix(t.Unix(), 0).UTC()
}

func cloneItems(items []models.Item) []models.Item {
	out := make([]models.Item, len(items))
	for i, item := range items {
		out[i] = item
		out[i].Prizes = append([]models.Prize(nil), item.Prizes...)
	}
	return out
}
