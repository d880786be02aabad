package raffle

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"stake-raffle/internal/models"
)

type EventType string

const (
	EventRaffleCreated        EventType = "raffle_created"
	EventStaked               EventType = "staked"
	EventRandomnessRequested  EventType = "randomness_requested"
	EventRandomnessResolved   EventType = "randomness_resolved"
	EventPrizeClaimed         EventType = "prize_claimed"
	EventOwnershipTransferred EventType = "ownership_transferred"
	EventOracleFunded         EventType = "oracle_funded"
)

// Event is published after a mutation has been applied.
type Event struct {
	ID       string         `json:"id"`
	Type     EventType      `json:"type"`
	RaffleID uint64         `json:"raffleId"`
	Account  common.Address `json:"account,omitempty"`
	Data     any            `json:"data,omitempty"`
	Time     time.Time      `json:"time"`
}

type RaffleCreatedData struct {
	EndTime time.Time     `json:"endTime"`
	Items   []models.Item `json:"items"`
}

type StakedData struct {
	Stakes []StakeRange `json:"stakes"`
}

type StakeRange struct {
	Kind       common.Address `json:"kind"`
	ID         uint64         `json:"id"`
	RangeStart uint64         `json:"rangeStart"`
	RangeEnd   uint64         `json:"rangeEnd"`
}

type RandomnessRequestedData struct {
	RequestID common.Hash `json:"requestId"`
	Seed      common.Hash `json:"seed"`
	Fee       uint64      `json:"fee"`
}

type RandomnessResolvedData struct {
	RequestID    common.Hash `json:"requestId,omitempty"`
	RandomNumber common.Hash `json:"randomNumber"`
}

type PrizeClaimedData struct {
	Payouts []models.Payout `json:"payouts"`
}

type OwnershipTransferredData struct {
	Previous common.Address `json:"previous"`
	Owner    common.Address `json:"owner"`
}

type OracleFundedData struct {
	Amount  uint64 `json:"amount"`
	Balance uint64 `json:"balance"`
}

type subscriber struct {
	ch chan Event
}

// bus fans events out to subscribers. A subscriber that falls behind loses
// events rather than blocking the ledger.
type bus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

func newBus() *bus {
	return &bus{subs: make(map[*subscriber]struct{})}
}

func (b *bus) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

func (b *bus) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel of ledger events and a function that ends the
// subscription and closes the channel.
func (l *Ledger) Subscribe(buffer int) (<-chan Event, func()) {
	return l.bus.subscribe(buffer)
}

func (l *Ledger) emit(typ EventType, raffleID uint64, account common.Address, data any) {
	ev := Event{
		ID:       uuid.NewString(),
		Type:     typ,
		RaffleID: raffleID,
		Account:  account,
		Data:     data,
		Time:     l.now().UTC(),
	}
	l.logger.Info("ledger event", "type", typ, "raffle_id", raffleID, "account", account.Hex())
	l.bus.publish(ev)
}
