package api

import (
	"github.com/cazino/engine/internal/model"
)

// --- Requests ---

// CreateMarketRequest is the JSON body for POST /api/markets.
type CreateMarketRequest struct {
	Name            string `json:"name"`
	AdminName       string `json:"admin_name"`
	DurationHours   int    `json:"duration_hours"`
	StartingBalance *int64 `json:"starting_balance,omitempty"` // nil → configured default
	DeviceID        string `json:"device_id,omitempty"`        // empty → generated
	InviteCode      string `json:"invite_code,omitempty"`      // empty → generated
}

// JoinMarketRequest is the JSON body for POST /api/markets/join/{inviteCode}.
type JoinMarketRequest struct {
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar"`
	DeviceID    string `json:"device_id,omitempty"`
}

// CreateBetRequest is the JSON body for POST /api/markets/{marketID}/bets/{creatorID}.
type CreateBetRequest struct {
	SubjectUserID   string `json:"subject_user_id"`
	Description     string `json:"description"`
	InitialOdds     string `json:"initial_odds"`
	OpeningWager    int64  `json:"opening_wager"`
	HideFromSubject bool   `json:"hide_from_subject"`
}

// PlaceWagerRequest is the JSON body for POST /api/bets/{betID}/wager/{userID}.
type PlaceWagerRequest struct {
	Side   model.Side `json:"side"`
	Amount int64      `json:"amount"`
}

// ResolveBetRequest is the JSON body for POST /api/bets/{betID}/resolve/{adminID}.
type ResolveBetRequest struct {
	Outcome model.Side `json:"outcome"`
}

// --- Responses ---

type CreateMarketResponse struct {
	Market     *model.Market `json:"market"`
	User       *model.User   `json:"user"`
	InviteCode string        `json:"invite_code"`
}

type JoinMarketResponse struct {
	Market *model.Market `json:"market"`
	User   *model.User   `json:"user"`
}

type BetResponse struct {
	Bet model.BetView `json:"bet"`
}

type WagerResponse struct {
	BetID          string     `json:"bet_id"`
	UserID         string     `json:"user_id"`
	Side           model.Side `json:"side"`
	Amount         int64      `json:"amount"`
	YesPool        int64      `json:"yes_pool"`
	NoPool         int64      `json:"no_pool"`
	NewProbability float64    `json:"new_probability"`
}

type ResolveBetResponse struct {
	Bet     model.BetView  `json:"bet"`
	Outcome model.Side     `json:"outcome"`
	Payouts []model.Payout `json:"payouts"`
	Dust    int64          `json:"dust"`
}

type ProbabilityChartResponse struct {
	Points []model.ProbabilityPoint `json:"points"`
}

type LeaderboardResponse struct {
	Users []model.LeaderboardEntry `json:"users"`
}

type RevealResponse struct {
	Bets []model.BetView `json:"bets"`
}

type DeviceMarketsResponse struct {
	Markets []model.Membership `json:"markets"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
