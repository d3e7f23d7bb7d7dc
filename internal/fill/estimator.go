// Package fill simulates taker fills against live order book ladders.
package fill

import (
	"math"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// eps absorbs float residue when comparing sizes and budgets.
const eps = 1e-9

// ComputeFillEstimate walks two ascending ask ladders together, buying equal
// share counts on both sides at the cheapest combined price first, until the
// budget runs out or either ladder is drained. Budget-limited partial steps
// are rounded down to whole shares. It returns nil when either ladder is
// empty, the budget is not positive, or not a single share is affordable.
func ComputeFillEstimate(asksA, asksB []domain.PriceLevel, budget float64) *domain.FillEstimate {
	if !validBudget(budget) {
		return nil
	}
	a := domain.NormalizeLevels(asksA, false)
	b := domain.NormalizeLevels(asksB, false)
	if len(a) == 0 || len(b) == 0 {
		return nil
	}

	var shares, costA, costB float64
	var i, j int
	left := budget
	remA, remB := a[0].Size, b[0].Size
	for i < len(a) && j < len(b) {
		pa, pb := a[i].Price, b[j].Price
		unit := pa + pb
		take := math.Min(remA, remB)
		if take*unit > left+eps {
			take = math.Floor(left / unit)
			if take <= 0 {
				break
			}
		}

		shares += take
		costA += take * pa
		costB += take * pb
		left -= take * unit
		remA -= take
		remB -= take

		if remA <= eps {
			i++
			if i < len(a) {
				remA = a[i].Size
			}
		}
		if remB <= eps {
			j++
			if j < len(b) {
				remB = b[j].Size
			}
		}
		if left <= eps {
			break
		}
	}

	if shares <= eps {
		return nil
	}
	est := &domain.FillEstimate{
		Shares:    shares,
		AvgPriceA: costA / shares,
		AvgPriceB: costB / shares,
		CostA:     costA,
		CostB:     costB,
		TotalCost: costA + costB,
		TwoSided:  true,
	}
	est.Gap = 1 - (est.AvgPriceA + est.AvgPriceB)
	return est
}

// FindMaxEqualShares returns the largest equal share count buyable on both
// ladders within budget, 0 when nothing is fillable.
func FindMaxEqualShares(asksA, asksB []domain.PriceLevel, budget float64) float64 {
	est := ComputeFillEstimate(asksA, asksB, budget)
	if est == nil {
		return 0
	}
	return est.Shares
}

// SimulateBuy walks one ascending ask ladder with a budget. Only the A fields
// of the result are populated.
func SimulateBuy(asks []domain.PriceLevel, budget float64) *domain.FillEstimate {
	if !validBudget(budget) {
		return nil
	}
	levels := domain.NormalizeLevels(asks, false)
	if len(levels) == 0 {
		return nil
	}

	var shares, cost float64
	left := budget
	for _, lvl := range levels {
		take := lvl.Size
		if take*lvl.Price > left+eps {
			take = math.Floor(left / lvl.Price)
		}
		if take <= 0 {
			break
		}
		shares += take
		cost += take * lvl.Price
		left -= take * lvl.Price
		if left <= eps {
			break
		}
	}
	if shares <= eps {
		return nil
	}
	return &domain.FillEstimate{
		Shares:    shares,
		AvgPriceA: cost / shares,
		CostA:     cost,
		TotalCost: cost,
	}
}

// SellFill is the result of selling into a bid ladder.
type SellFill struct {
	Shares   float64
	Proceeds float64
	AvgPrice float64
	// Complete is false when the ladder could not absorb every share.
	Complete bool
}

// SimulateSell walks a descending bid ladder selling shares. It returns nil
// when shares is not positive or the ladder is empty.
func SimulateSell(bids []domain.PriceLevel, shares float64) *SellFill {
	if shares <= 0 || math.IsNaN(shares) || math.IsInf(shares, 0) {
		return nil
	}
	levels := domain.NormalizeLevels(bids, true)
	if len(levels) == 0 {
		return nil
	}

	var sold, proceeds float64
	for _, lvl := range levels {
		take := math.Min(lvl.Size, shares-sold)
		sold += take
		proceeds += take * lvl.Price
		if shares-sold <= eps {
			break
		}
	}
	if sold <= eps {
		return nil
	}
	return &SellFill{
		Shares:   sold,
		Proceeds: proceeds,
		AvgPrice: proceeds / sold,
		Complete: shares-sold <= eps,
	}
}

func validBudget(b float64) bool {
	return b > 0 && !math.IsNaN(b) && !math.IsInf(b, 0)
}
