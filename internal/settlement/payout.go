// Package settlement computes how a match's net pot is divided among
// finishers once the simulation reaches its settlement phase. Every
// function here is a pure integer computation over minor units (cents); no
// function in this package touches a clock, a socket, or a ledger.
// Settlement only decides amounts, it never moves money.
package settlement

import "fmt"

// Model names a payout scheme. The zero value is invalid.
type Model string

const (
	ModelWinnerTakeAll Model = "winner_take_all"
	ModelTop3Ladder    Model = "top3_ladder"
	ModelProportional  Model = "proportional"
)

// top3LadderBps is the fixed basis-point split for the top three ranks; any
// remainder from integer division is credited to rank 1.
var top3LadderBps = [3]int64{6500, 2500, 1000}

// Finisher is one player's rank and final mass, the only inputs settlement
// needs beyond the pot itself.
type Finisher struct {
	AccountID string
	Rank      int
	Mass      float64
}

// Payout is one player's settlement outcome.
type Payout struct {
	AccountID string
	AmountCts int64
}

// Rake computes the house take given the gross pot, basis points, and an
// optional cap (0 means uncapped), rounding down in the house's favor.
func Rake(potCts int64, rakeBps int, capCts int64) int64 {
	if potCts <= 0 || rakeBps <= 0 {
		return 0
	}
	rake := potCts * int64(rakeBps) / 10000
	if capCts > 0 && rake > capCts {
		rake = capCts
	}
	return rake
}

// Compute distributes netPotCts (pot minus rake) across finishers according
// to model. The sum of the returned payouts always equals netPotCts
// exactly; any residue left by integer rounding is credited to rank 1.
func Compute(model Model, finishers []Finisher, netPotCts int64) ([]Payout, error) {
	if netPotCts < 0 {
		return nil, fmt.Errorf("settlement: negative net pot %d", netPotCts)
	}
	if len(finishers) == 0 {
		return nil, nil
	}
	switch model {
	case ModelWinnerTakeAll:
		return winnerTakeAll(finishers, netPotCts)
	case ModelTop3Ladder:
		return top3Ladder(finishers, netPotCts)
	case ModelProportional:
		return proportional(finishers, netPotCts)
	default:
		return nil, fmt.Errorf("settlement: unknown payout model %q", model)
	}
}

func rankOneAccount(finishers []Finisher) string {
	best := finishers[0]
	for _, f := range finishers[1:] {
		if f.Rank < best.Rank {
			best = f
		}
	}
	return best.AccountID
}

func winnerTakeAll(finishers []Finisher, netPotCts int64) ([]Payout, error) {
	payouts := make([]Payout, 0, len(finishers))
	for _, f := range finishers {
		amount := int64(0)
		if f.Rank == 1 {
			amount = netPotCts
		}
		payouts = append(payouts, Payout{AccountID: f.AccountID, AmountCts: amount})
	}
	return payouts, nil
}

func top3Ladder(finishers []Finisher, netPotCts int64) ([]Payout, error) {
	payouts := make([]Payout, 0, len(finishers))
	var distributed int64
	for _, f := range finishers {
		amount := int64(0)
		if f.Rank >= 1 && f.Rank <= 3 {
			amount = netPotCts * top3LadderBps[f.Rank-1] / 10000
			distributed += amount
		}
		payouts = append(payouts, Payout{AccountID: f.AccountID, AmountCts: amount})
	}
	creditResidue(payouts, finishers, netPotCts-distributed)
	return payouts, nil
}

// proportional splits the pot by each finisher's share of total final mass.
// If every finisher's mass is zero (a degenerate all-dead settlement), the
// pot is split equally instead.
func proportional(finishers []Finisher, netPotCts int64) ([]Payout, error) {
	var totalMass float64
	for _, f := range finishers {
		totalMass += f.Mass
	}

	payouts := make([]Payout, 0, len(finishers))
	var distributed int64

	if totalMass <= 0 {
		share := netPotCts / int64(len(finishers))
		for _, f := range finishers {
			payouts = append(payouts, Payout{AccountID: f.AccountID, AmountCts: share})
			distributed += share
		}
		creditResidue(payouts, finishers, netPotCts-distributed)
		return payouts, nil
	}

	for _, f := range finishers {
		amount := int64(float64(netPotCts) * f.Mass / totalMass)
		payouts = append(payouts, Payout{AccountID: f.AccountID, AmountCts: amount})
		distributed += amount
	}
	creditResidue(payouts, finishers, netPotCts-distributed)
	return payouts, nil
}

// creditResidue adds any leftover cents (from integer rounding) to rank 1's
// payout so the sum always equals the net pot exactly.
func creditResidue(payouts []Payout, finishers []Finisher, residue int64) {
	if residue == 0 {
		return
	}
	target := rankOneAccount(finishers)
	for i := range payouts {
		if payouts[i].AccountID == target {
			payouts[i].AmountCts += residue
			return
		}
	}
}
