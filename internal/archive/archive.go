// Package archive exports finished or deleted markets to object storage so
// their history outlives the live database.
package archive

import (
	"context"
	"time"

	"github.com/cazino/engine/internal/model"
)

// Snapshot is everything known about a market at one moment.
type Snapshot struct {
	Market     model.Market  `json:"market"`
	Users      []model.User  `json:"users"`
	Bets       []model.Bet   `json:"bets"`
	Wagers     []model.Wager `json:"wagers"`
	Reason     string        `json:"reason"` // "resolved" or "deleted"
	ArchivedAt time.Time     `json:"archived_at"`
}

// Archiver stores market snapshots.
type Archiver interface {
	ArchiveMarket(ctx context.Context, snap Snapshot) error
}

// Nop discards snapshots. Used when no bucket is configured.
type Nop struct{}

func (Nop) ArchiveMarket(context.Context, Snapshot) error { return nil }

// Key returns the object key a market's snapshot is stored under.
func Key(marketID string) string {
	return "markets/" + marketID + ".json"
}
