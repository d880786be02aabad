package raffle

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"stake-raffle/internal/models"
)

// WinningNumber maps prize unit k of (prizeKind, prizeID) to a position in
// [0, total):
//
//	keccak256(random ‖ prizeKind ‖ uint256(prizeID) ‖ uint256(k)) mod total
//
// total must be non-zero.
func WinningNumber(random common.Hash, prizeKind common.Address, prizeID, k, total uint64) uint64 {
	h := crypto.Keccak256(random[:], prizeKind.Bytes(), word(prizeID), word(k))
	n := new(uint256.Int).SetBytes32(h)
	n.Mod(n, uint256.NewInt(total))
	return n.Uint64()
}

// Resolution is the complete outcome of a resolved raffle.
type Resolution struct {
	Random common.Hash
	// Owners[item][prize][unit] is the index of the winning stake, or -1 when
	// the item received no stake.
	Owners [][][]int
	// Wins[stake][prize] lists the units the stake won, ascending. Prize
	// indices refer to the stake's item.
	Wins [][][]uint64
}

// Resolve computes every unit's winner. It depends only on its arguments.
func Resolve(random common.Hash, items []models.Item, stakes []models.Stake) *Resolution {
	res := &Resolution{
		Random: random,
		Owners: make([][][]int, len(items)),
		Wins:   make([][][]uint64, len(stakes)),
	}
	byItem := make([][]int, len(items))
	for i, s := range stakes {
		byItem[s.Item] = append(byItem[s.Item], i)
	}
	for i, item := range items {
		ranges := byItem[i]
		sort.Slice(ranges, func(a, b int) bool {
			return stakes[ranges[a]].RangeStart < stakes[ranges[b]].RangeStart
		})
		res.Owners[i] = make([][]int, len(item.Prizes))
		for p, prize := range item.Prizes {
			owners := make([]int, prize.Value)
			for k := range owners {
				owners[k] = -1
			}
			res.Owners[i][p] = owners
			if item.StakeTotal == 0 {
				continue
			}
			for k := uint64(0); k < prize.Value; k++ {
				n := WinningNumber(random, prize.Kind, prize.ID, k, item.StakeTotal)
				j := sort.Search(len(ranges), func(j int) bool {
					return stakes[ranges[j]].RangeEnd > n
				})
				if j == len(ranges) || !stakes[ranges[j]].Contains(n) {
					continue
				}
				winner := ranges[j]
				owners[k] = winner
				if res.Wins[winner] == nil {
					res.Wins[winner] = make([][]uint64, len(item.Prizes))
				}
				res.Wins[winner][p] = append(res.Wins[winner][p], k)
			}
		}
	}
	return res
}

func (l *Ledger) resolution(r *raffleState) *Resolution {
	if l.cache != nil {
		if res, ok := l.cache.Get(r.ID); ok && res.Random == r.RandomNumber {
			return res
		}
	}
	res := Resolve(r.RandomNumber, r.Items, r.Stakes)
	if l.cache != nil {
		l.cache.Add(r.ID, res)
	}
	return res
}

// Winners lists, for each account (every staker when none are given), the
// prize units won by each of its stakes and whether it has claimed. Stakes
// and prizes without a won unit are left out.
func (l *Ledger) Winners(raffleID uint64, accounts ...common.Address) ([]models.StakerWins, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, err := l.raffle(raffleID)
	if err != nil {
		return nil, err
	}
	if !r.Resolved() {
		return nil, ErrRandomNotReady
	}
	if len(accounts) == 0 {
		accounts = r.Stakers
	}
	res := l.resolution(r)

	out := make([]models.StakerWins, 0, len(accounts))
	for _, account := range accounts {
		sw := models.StakerWins{
			Account: account,
			Claimed: r.Claimed[account],
			Stakes:  []models.StakeWins{},
		}
		for i, idx := range r.byAccount[account] {
			wins := res.Wins[idx]
			if wins == nil {
				continue
			}
			s := r.Stakes[idx]
			item := r.Items[s.Item]
			stw := models.StakeWins{
				StakeIndex: i,
				Item:       s.Item,
				RangeStart: s.RangeStart,
				RangeEnd:   s.RangeEnd,
			}
			for p, units := range wins {
				if len(units) == 0 {
					continue
				}
				prize := item.Prizes[p]
				stw.Prizes = append(stw.Prizes, models.PrizeWin{
					PrizeIndex: p,
					Kind:       prize.Kind,
					ID:         prize.ID,
					Units:      append([]uint64(nil), units...),
				})
			}
			sw.Stakes = append(sw.Stakes, stw)
		}
		out = append(out, sw)
	}
	return out, nil
}
