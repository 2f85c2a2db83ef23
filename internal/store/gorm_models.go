package store

import (
	"time"

	"github.com/cazino/engine/internal/model"
)

// marketRow is the MySQL row for a market.
type marketRow struct {
	ID              string    `gorm:"primaryKey;size:36"`
	Name            string    `gorm:"size:255;not null"`
	Status          string    `gorm:"size:16;not null;index"`
	CreatedBy       string    `gorm:"size:36;not null"`
	OpensAt         time.Time `gorm:"not null"`
	ClosesAt        time.Time `gorm:"not null"`
	StartingBalance int64     `gorm:"not null"`
	InviteCode      string    `gorm:"size:16;not null;uniqueIndex"`
	CreatedAt       time.Time `gorm:"not null"`
}

func (marketRow) TableName() string {
	return "markets"
}

func marketToRow(m *model.Market) marketRow {
	return marketRow{
		ID: m.ID, Name: m.Name, Status: string(m.Status), CreatedBy: m.CreatedBy,
		OpensAt: m.OpensAt, ClosesAt: m.ClosesAt, StartingBalance: m.StartingBalance,
		InviteCode: m.InviteCode, CreatedAt: m.CreatedAt,
	}
}

func (r *marketRow) toModel() *model.Market {
	return &model.Market{
		ID: r.ID, Name: r.Name, Status: model.MarketStatus(r.Status), CreatedBy: r.CreatedBy,
		OpensAt: r.OpensAt, ClosesAt: r.ClosesAt, StartingBalance: r.StartingBalance,
		InviteCode: r.InviteCode, CreatedAt: r.CreatedAt,
	}
}

// userRow is the MySQL row for a user.
type userRow struct {
	ID          string    `gorm:"primaryKey;size:36"`
	MarketID    string    `gorm:"size:36;not null;uniqueIndex:idx_market_device"`
	DeviceID    string    `gorm:"size:128;not null;uniqueIndex:idx_market_device;index:idx_device_joined"`
	DisplayName string    `gorm:"size:255;not null"`
	Avatar      string    `gorm:"size:64"`
	Balance     int64     `gorm:"not null"`
	IsAdmin     bool      `gorm:"not null;default:false"`
	JoinedAt    time.Time `gorm:"not null;index:idx_device_joined"`
}

func (userRow) TableName() string {
	return "users"
}

func userToRow(u *model.User) userRow {
	return userRow{
		ID: u.ID, MarketID: u.MarketID, DeviceID: u.DeviceID, DisplayName: u.DisplayName,
		Avatar: u.Avatar, Balance: u.Balance, IsAdmin: u.IsAdmin, JoinedAt: u.JoinedAt,
	}
}

func (r *userRow) toModel() *model.User {
	return &model.User{
		ID: r.ID, MarketID: r.MarketID, DeviceID: r.DeviceID, DisplayName: r.DisplayName,
		Avatar: r.Avatar, Balance: r.Balance, IsAdmin: r.IsAdmin, JoinedAt: r.JoinedAt,
	}
}

// betRow is the MySQL row for a bet.
type betRow struct {
	ID              string     `gorm:"primaryKey;size:36"`
	MarketID        string     `gorm:"size:36;not null;index"`
	SubjectUserID   string     `gorm:"size:36;not null;index"`
	CreatedBy       string     `gorm:"size:36;not null"`
	Description     string     `gorm:"type:text;not null"`
	InitialOdds     string     `gorm:"size:32;not null"`
	Status          string     `gorm:"size:16;not null;index"`
	YesPool         int64      `gorm:"not null;default:0"`
	NoPool          int64      `gorm:"not null;default:0"`
	HideFromSubject bool       `gorm:"not null;default:false"`
	CreatedAt       time.Time  `gorm:"not null"`
	ResolvedAt      *time.Time
}

func (betRow) TableName() string {
	return "bets"
}

func betToRow(b *model.Bet) betRow {
	return betRow{
		ID: b.ID, MarketID: b.MarketID, SubjectUserID: b.SubjectUserID, CreatedBy: b.CreatedBy,
		Description: b.Description, InitialOdds: b.InitialOdds, Status: string(b.Status),
		YesPool: b.YesPool, NoPool: b.NoPool, HideFromSubject: b.HideFromSubject,
		CreatedAt: b.CreatedAt, ResolvedAt: b.ResolvedAt,
	}
}

func (r *betRow) toModel() *model.Bet {
	return &model.Bet{
		ID: r.ID, MarketID: r.MarketID, SubjectUserID: r.SubjectUserID, CreatedBy: r.CreatedBy,
		Description: r.Description, InitialOdds: r.InitialOdds, Status: model.BetStatus(r.Status),
		YesPool: r.YesPool, NoPool: r.NoPool, HideFromSubject: r.HideFromSubject,
		CreatedAt: r.CreatedAt, ResolvedAt: r.ResolvedAt,
	}
}

// wagerRow is the MySQL row for a wager. Seq breaks ties between wagers
// placed within the same clock tick.
type wagerRow struct {
	Seq              int64     `gorm:"primaryKey;autoIncrement"`
	ID               string    `gorm:"size:36;not null;uniqueIndex"`
	BetID            string    `gorm:"size:36;not null;index:idx_bet_placed"`
	UserID           string    `gorm:"size:36;not null;index:idx_user_placed"`
	Side             string    `gorm:"size:3;not null"`
	Amount           int64     `gorm:"not null"`
	PlacedAt         time.Time `gorm:"not null;index:idx_bet_placed;index:idx_user_placed"`
	YesPoolAfter     int64     `gorm:"not null"`
	NoPoolAfter      int64     `gorm:"not null"`
	ProbabilityAfter float64   `gorm:"not null"`
}

func (wagerRow) TableName() string {
	return "wagers"
}

func wagerToRow(w *model.Wager) wagerRow {
	return wagerRow{
		ID: w.ID, BetID: w.BetID, UserID: w.UserID, Side: string(w.Side), Amount: w.Amount,
		PlacedAt: w.PlacedAt, YesPoolAfter: w.YesPoolAfter, NoPoolAfter: w.NoPoolAfter,
		ProbabilityAfter: w.ProbabilityAfter,
	}
}

func (r *wagerRow) toModel() model.Wager {
	return model.Wager{
		ID: r.ID, BetID: r.BetID, UserID: r.UserID, Side: model.Side(r.Side), Amount: r.Amount,
		PlacedAt: r.PlacedAt, YesPoolAfter: r.YesPoolAfter, NoPoolAfter: r.NoPoolAfter,
		ProbabilityAfter: r.ProbabilityAfter,
	}
}
