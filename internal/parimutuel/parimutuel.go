// Package parimutuel implements pool-based odds and payouts for binary
// YES/NO bets.
//
// Every wager joins the pool for its side. When a bet resolves, the winners
// split the combined pool in proportion to what each of them put into the
// winning pool. Payouts are truncated to whole coins, so the distributed
// total can fall short of the pool by less than one coin per winner. That
// remainder ("dust") is not redistributed.
//
// The functions here are pure: pools are passed in, nothing is stored.
package parimutuel

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/cazino/engine/internal/apperr"
	"github.com/cazino/engine/internal/model"
)

// ErrInvalidOdds is returned when an opening-odds label is not of the form
// "N:M" with N and M positive integers.
var ErrInvalidOdds = fmt.Errorf("%w: invalid odds format", apperr.ErrConstraint)

// oddsRegex matches an opening-odds label such as "3:1".
var oddsRegex = regexp.MustCompile(`^(\d+):(\d+)$`)

// Probability returns the YES probability implied by the pools:
//
//	p_yes = yesPool / (yesPool + noPool)
//
// Empty pools give exactly 0.5.
func Probability(yesPool, noPool int64) float64 {
	total := yesPool + noPool
	if total == 0 {
		return 0.5
	}
	return float64(yesPool) / float64(total)
}

// ApplyWager adds amount to the chosen side and returns the new pools along
// with what the wager would pay if that side won right now.
func ApplyWager(yesPool, noPool int64, side model.Side, amount int64) (newYes, newNo, payout int64) {
	newYes, newNo = yesPool, noPool
	winning := int64(0)
	if side == model.Yes {
		newYes += amount
		winning = newYes
	} else {
		newNo += amount
		winning = newNo
	}
	return newYes, newNo, share(amount, winning, newYes+newNo)
}

// DistributePayouts computes what each winner of a resolved bet receives.
// Unresolved bets and bets with an empty winning pool pay nothing. Payouts
// are ordered by each winner's first winning wager.
func DistributePayouts(bet *model.Bet, wagers []model.Wager) []model.Payout {
	winningSide, ok := bet.Status.WinningSide()
	if !ok {
		return nil
	}

	winningPool := bet.Pool(winningSide)
	if winningPool == 0 {
		return nil
	}
	totalPool := bet.TotalPool()

	contributions := make(map[string]int64)
	var order []string
	for _, w := range wagers {
		if w.Side != winningSide {
			continue
		}
		if _, seen := contributions[w.UserID]; !seen {
			order = append(order, w.UserID)
		}
		contributions[w.UserID] += w.Amount
	}

	payouts := make([]model.Payout, 0, len(order))
	for _, userID := range order {
		payouts = append(payouts, model.Payout{
			UserID: userID,
			Amount: share(contributions[userID], winningPool, totalPool),
		})
	}
	return payouts
}

// Dust returns the truncation remainder of a payout: the total pool minus
// what the winners were paid. When nobody is paid (unresolved bet or an
// empty winning pool) nothing was split, so there is no rounding dust and
// the result is 0.
func Dust(bet *model.Bet, payouts []model.Payout) int64 {
	if _, ok := bet.Status.WinningSide(); !ok || len(payouts) == 0 {
		return 0
	}
	var paid int64
	for _, p := range payouts {
		paid += p.Amount
	}
	return bet.TotalPool() - paid
}

// ParseOdds validates an opening-odds label and returns the opening pools
// for the creator's wager. The label is for display: the whole opening
// wager always seeds the YES pool, whatever ratio the label states.
func ParseOdds(label string, openingWager int64) (yesPool, noPool int64, err error) {
	m := oddsRegex.FindStringSubmatch(label)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: %q (expected N:M)", ErrInvalidOdds, label)
	}
	for _, part := range m[1:] {
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, fmt.Errorf("%w: %q (ratios must be positive)", ErrInvalidOdds, label)
		}
	}
	return openingWager, 0, nil
}

// share computes floor(stake / winningPool * totalPool) exactly. The
// product is formed in decimal so it cannot overflow int64.
func share(stake, winningPool, totalPool int64) int64 {
	if winningPool == 0 {
		return 0
	}
	num := decimal.NewFromInt(stake).Mul(decimal.NewFromInt(totalPool))
	q, _ := num.QuoRem(decimal.NewFromInt(winningPool), 0)
	return q.IntPart()
}
