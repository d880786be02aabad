package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Prize is one prize entry of a raffle item. Value is the number of
// independently sampled units, indexed 0..Value-1.
type Prize struct {
	Kind  common.Address `json:"kind"`
	ID    uint64         `json:"id"`
	Value uint64         `json:"value"`
}

// Item is a stakeable (kind, id) slot of a raffle.
type Item struct {
	Kind       common.Address `json:"kind"`
	ID         uint64         `json:"id"`
	StakeTotal uint64         `json:"stakeTotal"`
	Prizes     []Prize        `json:"prizes"`
}

// Stake is a staker's half-open range [RangeStart, RangeEnd) of an item's total.
type Stake struct {
	Account    common.Address `json:"account"`
	Item       int            `json:"item"`
	RangeStart uint64         `json:"rangeStart"`
	RangeEnd   uint64         `json:"rangeEnd"`
	CreatedAt  time.Time      `json:"createdAt"`
}

func (s Stake) Amount() uint64 {
	return s.RangeEnd - s.RangeStart
}

// Contains reports whether n falls inside the stake range.
func (s Stake) Contains(n uint64) bool {
	return s.RangeStart <= n && n < s.RangeEnd
}

type Raffle struct {
	ID           uint64                  `json:"id"`
	EndTime      time.Time               `json:"endTime"`
	RandomNumber common.Hash             `json:"randomNumber"`
	Items        []Item                  `json:"items"`
	Stakers      []common.Address        `json:"stakers"`
	Stakes       []Stake                 `json:"stakes"`
	Claimed      map[common.Address]bool `json:"claimed"`
	CreatedAt    time.Time               `json:"createdAt"`
}

func (r *Raffle) Resolved() bool {
	return r.RandomNumber != (common.Hash{})
}

// StakeEntry is one element of a stake call.
type StakeEntry struct {
	Kind   common.Address `json:"kind"`
	ID     uint64         `json:"id"`
	Amount uint64         `json:"amount"`
}

// ClaimEntry names the units an account claims for one of its stakes.
// StakeIndex is the position in the account's own stake list, PrizeIndex the
// position in the staked item's prize list.
type ClaimEntry struct {
	StakeIndex int      `json:"stakeIndex"`
	PrizeIndex int      `json:"prizeIndex"`
	Units      []uint64 `json:"units"`
}

type RandomnessRequest struct {
	ID        common.Hash `json:"id"`
	RaffleID  uint64      `json:"raffleId"`
	KeyHash   common.Hash `json:"keyHash"`
	Seed      common.Hash `json:"seed"`
	Nonce     uint64      `json:"nonce"`
	Fee       uint64      `json:"fee"`
	CreatedAt time.Time   `json:"createdAt"`
}

type Settings struct {
	Owner      common.Address `json:"owner"`
	FeeBalance uint64         `json:"feeBalance"`
	Height     uint64         `json:"height"`
	Entropy    common.Hash    `json:"entropy"`
}

// Snapshot is the persisted ledger state loaded at startup.
type Snapshot struct {
	Settings *Settings
	Raffles  []*Raffle
	Requests []RandomnessRequest
	Nonces   map[common.Hash]uint64
}

type RaffleSummary struct {
	ID      uint64    `json:"id"`
	EndTime time.Time `json:"endTime"`
}

type RaffleInfo struct {
	ID           uint64      `json:"id"`
	EndTime      time.Time   `json:"endTime"`
	Items        []Item      `json:"items"`
	Resolved     bool        `json:"resolved"`
	RandomNumber common.Hash `json:"randomNumber"`
	Stakers      int         `json:"stakers"`
}

type ItemStats struct {
	Kind       common.Address `json:"kind"`
	ID         uint64         `json:"id"`
	StakeTotal uint64         `json:"stakeTotal"`
	Stakers    int            `json:"stakers"`
}

type StakeStats struct {
	RaffleID uint64      `json:"raffleId"`
	Stakers  int         `json:"stakers"`
	Items    []ItemStats `json:"items"`
}

type StakerStats struct {
	RaffleID uint64         `json:"raffleId"`
	Account  common.Address `json:"account"`
	Stakes   []Stake        `json:"stakes"`
	Totals   []uint64       `json:"totals"`
	Claimed  bool           `json:"claimed"`
}

type PrizeWin struct {
	PrizeIndex int            `json:"prizeIndex"`
	Kind       common.Address `json:"kind"`
	ID         uint64         `json:"id"`
	Units      []uint64       `json:"units"`
}

type StakeWins struct {
	StakeIndex int        `json:"stakeIndex"`
	Item       int        `json:"item"`
	RangeStart uint64     `json:"rangeStart"`
	RangeEnd   uint64     `json:"rangeEnd"`
	Prizes     []PrizeWin `json:"prizes"`
}

type StakerWins struct {
	Account common.Address `json:"account"`
	Claimed bool           `json:"claimed"`
	Stakes  []StakeWins    `json:"stakes"`
}

type Payout struct {
	Kind   common.Address `json:"kind"`
	ID     uint64         `json:"id"`
	Amount uint64         `json:"amount"`
}

// Mutation is everything one ledger operation changes. A journal writes it in
// a single transaction; unset fields are left untouched. StakeSeq is the
// position of Stakes[0] in the raffle's stake list.
type Mutation struct {
	Settings Settings
	Raffle   *Raffle
	RaffleID uint64
	Stakes   []Stake
	StakeSeq int
	Totals   map[int]uint64
	Request  *RandomnessRequest
	Random   *common.Hash
	Claimed  *common.Address
}
