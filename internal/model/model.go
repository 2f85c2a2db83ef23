// Package model defines the core domain types shared across the betting
// engine. Coin amounts are whole coins held in int64; only probabilities
// are fractional.
package model

import (
	"time"
)

// MarketStatus is the lifecycle state of a market. It only moves forward:
// draft → open → closed → resolved.
type MarketStatus string

const (
	MarketDraft    MarketStatus = "draft"
	MarketOpen     MarketStatus = "open"
	MarketClosed   MarketStatus = "closed"
	MarketResolved MarketStatus = "resolved"
)

// Next returns the only status a market may move to from s, and false when
// s is terminal or unknown.
func (s MarketStatus) Next() (MarketStatus, bool) {
	switch s {
	case MarketDraft:
		return MarketOpen, true
	case MarketOpen:
		return MarketClosed, true
	case MarketClosed:
		return MarketResolved, true
	default:
		return "", false
	}
}

// Valid reports whether s is a known market status.
func (s MarketStatus) Valid() bool {
	switch s {
	case MarketDraft, MarketOpen, MarketClosed, MarketResolved:
		return true
	}
	return false
}

// BetStatus is the lifecycle state of a bet.
type BetStatus string

const (
	BetPending     BetStatus = "pending"
	BetActive      BetStatus = "active"
	BetResolvedYes BetStatus = "resolved_yes"
	BetResolvedNo  BetStatus = "resolved_no"
	// BetChallenged is reserved for a dispute flow. Nothing sets it yet.
	BetChallenged BetStatus = "challenged"
)

// Resolved reports whether the bet has an outcome.
func (s BetStatus) Resolved() bool {
	return s == BetResolvedYes || s == BetResolvedNo
}

// Valid reports whether s is a known bet status.
func (s BetStatus) Valid() bool {
	switch s {
	case BetPending, BetActive, BetResolvedYes, BetResolvedNo, BetChallenged:
		return true
	}
	return false
}

// Side is one of the two outcomes of a bet.
type Side string

const (
	Yes Side = "YES"
	No  Side = "NO"
)

// Valid reports whether s is YES or NO.
func (s Side) Valid() bool {
	return s == Yes || s == No
}

// ResolvedStatus maps an outcome to the bet status it resolves to.
func (s Side) ResolvedStatus() BetStatus {
	if s == Yes {
		return BetResolvedYes
	}
	return BetResolvedNo
}

// WinningSide returns the side that won a resolved bet.
func (s BetStatus) WinningSide() (Side, bool) {
	switch s {
	case BetResolvedYes:
		return Yes, true
	case BetResolvedNo:
		return No, true
	}
	return "", false
}

// Market is a time-boxed betting session among a group of participants.
type Market struct {
	ID              string       `json:"id" db:"id"`
	Name            string       `json:"name" db:"name"`
	Status          MarketStatus `json:"status" db:"status"`
	CreatedBy       string       `json:"created_by" db:"created_by"` // admin user id
	OpensAt         time.Time    `json:"opens_at" db:"opens_at"`
	ClosesAt        time.Time    `json:"closes_at" db:"closes_at"` // informational only
	StartingBalance int64        `json:"starting_balance" db:"starting_balance"`
	InviteCode      string       `json:"invite_code" db:"invite_code"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
}

// User is a participant in exactly one market, recognised by device id.
type User struct {
	ID          string    `json:"id" db:"id"`
	MarketID    string    `json:"market_id" db:"market_id"`
	DeviceID    string    `json:"device_id" db:"device_id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Avatar      string    `json:"avatar" db:"avatar"`
	Balance     int64     `json:"balance" db:"balance"`
	IsAdmin     bool      `json:"is_admin" db:"is_admin"`
	JoinedAt    time.Time `json:"joined_at" db:"joined_at"`
}

// Bet is a binary proposition about one participant.
type Bet struct {
	ID              string     `json:"id" db:"id"`
	MarketID        string     `json:"market_id" db:"market_id"`
	SubjectUserID   string     `json:"subject_user_id" db:"subject_user_id"`
	CreatedBy       string     `json:"created_by" db:"created_by"`
	Description     string     `json:"description" db:"description"`
	InitialOdds     string     `json:"initial_odds" db:"initial_odds"` // display only
	Status          BetStatus  `json:"status" db:"status"`
	YesPool         int64      `json:"yes_pool" db:"yes_pool"`
	NoPool          int64      `json:"no_pool" db:"no_pool"`
	HideFromSubject bool       `json:"hide_from_subject" db:"hide_from_subject"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// TotalPool is the sum of both pools.
func (b *Bet) TotalPool() int64 {
	return b.YesPool + b.NoPool
}

// Pool returns the pool on the given side.
func (b *Bet) Pool(side Side) int64 {
	if side == Yes {
		return b.YesPool
	}
	return b.NoPool
}

// Wager is an immutable stake on one side of a bet, with a snapshot of the
// pools right after it was applied.
type Wager struct {
	ID               string    `json:"id" db:"id"`
	BetID            string    `json:"bet_id" db:"bet_id"`
	UserID           string    `json:"user_id" db:"user_id"`
	Side             Side      `json:"side" db:"side"`
	Amount           int64     `json:"amount" db:"amount"`
	PlacedAt         time.Time `json:"placed_at" db:"placed_at"`
	YesPoolAfter     int64     `json:"yes_pool_after" db:"yes_pool_after"`
	NoPoolAfter      int64     `json:"no_pool_after" db:"no_pool_after"`
	ProbabilityAfter float64   `json:"probability_after" db:"probability_after"`
}

// BetView is a bet as seen by one viewer. When IsHidden is set the subject
// and description are withheld.
type BetView struct {
	ID            string     `json:"id"`
	MarketID      string     `json:"market_id"`
	IsHidden      bool       `json:"is_hidden"`
	SubjectUserID *string    `json:"subject_user_id,omitempty"`
	Description   *string    `json:"description,omitempty"`
	CreatedBy     string     `json:"created_by"`
	InitialOdds   string     `json:"initial_odds"`
	Status        BetStatus  `json:"status"`
	YesPool       int64      `json:"yes_pool"`
	NoPool        int64      `json:"no_pool"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// ProbabilityPoint is one point of a bet's YES-probability chart.
type ProbabilityPoint struct {
	Timestamp      time.Time `json:"timestamp"`
	YesProbability float64   `json:"yes_probability"`
}

// Payout is the amount credited to one winner when a bet resolves.
type Payout struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
}

// LeaderboardEntry is a user ranked by balance. Rank is positional, so
// equal balances get consecutive ranks.
type LeaderboardEntry struct {
	User   User  `json:"user"`
	Profit int64 `json:"profit"`
	Rank   int   `json:"rank"`
}

// Membership pairs a market with the identity a device holds in it.
type Membership struct {
	Market Market `json:"market"`
	User   User   `json:"user"`
}
