// Package visibility renders bets for a particular viewer, redacting bets
// that are hidden from their own subject.
package visibility

import (
	"github.com/google/uuid"

	"github.com/cazino/engine/internal/model"
)

// Nobody is a viewer id that is never the subject of a bet. Rendering for
// Nobody reveals everything.
var Nobody = uuid.Nil.String()

// Hidden reports whether bet must be redacted for viewerID: the bet asks to
// be hidden from its subject, the viewer is that subject, and the bet has
// not been resolved.
func Hidden(bet *model.Bet, viewerID string) bool {
	if !bet.HideFromSubject || bet.SubjectUserID != viewerID {
		return false
	}
	return bet.Status == model.BetPending || bet.Status == model.BetActive
}

// ToView projects bet for viewerID.
func ToView(bet *model.Bet, viewerID string) model.BetView {
	v := model.BetView{
		ID:          bet.ID,
		MarketID:    bet.MarketID,
		CreatedBy:   bet.CreatedBy,
		InitialOdds: bet.InitialOdds,
		Status:      bet.Status,
		YesPool:     bet.YesPool,
		NoPool:      bet.NoPool,
		CreatedAt:   bet.CreatedAt,
		ResolvedAt:  bet.ResolvedAt,
	}
	if Hidden(bet, viewerID) {
		v.IsHidden = true
		return v
	}
	subject, desc := bet.SubjectUserID, bet.Description
	v.SubjectUserID = &subject
	v.Description = &desc
	return v
}

// ToViews projects every bet for viewerID, preserving order.
func ToViews(bets []model.Bet, viewerID string) []model.BetView {
	views := make([]model.BetView, 0, len(bets))
	for i := range bets {
		views = append(views, ToView(&bets[i], viewerID))
	}
	return views
}
