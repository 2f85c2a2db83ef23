// Package notify defines the real-time events pushed to market members and
// the publishers that deliver them.
package notify

import (
	"context"
	"time"

	"github.com/cazino/engine/internal/model"
	"github.com/cazino/engine/internal/parimutuel"
	"github.com/cazino/engine/internal/visibility"
)

// Type names an event.
type Type string

const (
	TypeMarketUpdate        Type = "market_update"
	TypeUserJoined          Type = "user_joined"
	TypeMarketStatusChanged Type = "market_status_changed"
	TypeMarketDeleted       Type = "market_deleted"
	TypeBetCreated          Type = "bet_created"
	TypeBetApproved         Type = "bet_approved"
	TypeWagerPlaced         Type = "wager_placed"
	TypeBetResolved         Type = "bet_resolved"
)

// Event is one message for the members of a market. Only the fields that
// belong to its Type are set.
type Event struct {
	Type      Type      `json:"type"`
	MarketID  string    `json:"market_id"`
	Timestamp time.Time `json:"timestamp"`

	Market  *model.Market  `json:"market,omitempty"`
	User    *model.User    `json:"user,omitempty"`
	Bet     *model.BetView `json:"bet,omitempty"`
	Wager   *WagerUpdate   `json:"wager,omitempty"`
	Outcome model.Side     `json:"outcome,omitempty"`
	Payouts []model.Payout `json:"payouts,omitempty"`
}

// WagerUpdate is the pool state after a wager.
type WagerUpdate struct {
	BetID       string     `json:"bet_id"`
	UserID      string     `json:"user_id"`
	Side        model.Side `json:"side"`
	Amount      int64      `json:"amount"`
	YesPool     int64      `json:"yes_pool"`
	NoPool      int64      `json:"no_pool"`
	Probability float64    `json:"probability"`
}

// Publisher delivers events. Implementations must not block the caller on
// slow consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

func newEvent(t Type, marketID string) Event {
	return Event{Type: t, MarketID: marketID, Timestamp: time.Now().UTC()}
}

// MarketUpdate carries the current market record.
func MarketUpdate(m *model.Market) Event {
	ev := newEvent(TypeMarketUpdate, m.ID)
	ev.Market = m
	return ev
}

// UserJoined announces a new member. The device id stays private.
func UserJoined(u *model.User) Event {
	ev := newEvent(TypeUserJoined, u.MarketID)
	pub := *u
	pub.DeviceID = ""
	ev.User = &pub
	return ev
}

// MarketStatusChanged announces a lifecycle transition.
func MarketStatusChanged(m *model.Market) Event {
	ev := newEvent(TypeMarketStatusChanged, m.ID)
	ev.Market = m
	return ev
}

// MarketDeleted tells members the market is gone.
func MarketDeleted(marketID string) Event {
	return newEvent(TypeMarketDeleted, marketID)
}

// BetCreated announces a new bet. Broadcasts reach the subject too, so a
// bet hidden from its subject is sent redacted.
func BetCreated(b *model.Bet) Event {
	ev := newEvent(TypeBetCreated, b.MarketID)
	v := visibility.ToView(b, b.SubjectUserID)
	ev.Bet = &v
	return ev
}

// BetApproved announces a bet moving from pending to active.
func BetApproved(b *model.Bet) Event {
	ev := newEvent(TypeBetApproved, b.MarketID)
	v := visibility.ToView(b, b.SubjectUserID)
	ev.Bet = &v
	return ev
}

// WagerPlaced carries the new pools after w.
func WagerPlaced(b *model.Bet, w *model.Wager) Event {
	ev := newEvent(TypeWagerPlaced, b.MarketID)
	ev.Wager = &WagerUpdate{
		BetID:       b.ID,
		UserID:      w.UserID,
		Side:        w.Side,
		Amount:      w.Amount,
		YesPool:     b.YesPool,
		NoPool:      b.NoPool,
		Probability: parimutuel.Probability(b.YesPool, b.NoPool),
	}
	return ev
}

// BetResolved announces the outcome and what each winner received.
func BetResolved(b *model.Bet, payouts []model.Payout) Event {
	ev := newEvent(TypeBetResolved, b.MarketID)
	v := visibility.ToView(b, visibility.Nobody)
	ev.Bet = &v
	if side, ok := b.Status.WinningSide(); ok {
		ev.Outcome = side
	}
	ev.Payouts = payouts
	return ev
}
