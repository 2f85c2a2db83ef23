// Package store defines the persistence interface for the betting engine.
// Implementations include PostgreSQL (pgx), MySQL (gorm), a Redis
// read-through cache that wraps either, and an in-memory store for tests
// and single-process deployments.
//
// Missing rows are reported with errors wrapping apperr.ErrNotFound and
// uniqueness violations with errors wrapping apperr.ErrConstraint. Anything
// else is an infrastructure failure.
package store

import (
	"context"
	"time"

	"github.com/cazino/engine/internal/model"
)

// Store is the persistence interface. Each method is a single write or
// query; callers that need several writes to land together hold the
// relevant entity locks.
type Store interface {
	// --- Markets ---

	// CreateMarket persists a new market. The invite code must be unique.
	CreateMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// GetMarketByInviteCode retrieves a market by its invite code.
	GetMarketByInviteCode(ctx context.Context, code string) (*model.Market, error)

	// UpdateMarketStatus moves a market to a new status.
	UpdateMarketStatus(ctx context.Context, id string, status model.MarketStatus) error

	// DeleteMarket removes a market together with its users, bets and wagers.
	DeleteMarket(ctx context.Context, id string) error

	// ListMembershipsByDevice returns the markets a device has joined,
	// most recently joined first, at most limit of them.
	ListMembershipsByDevice(ctx context.Context, deviceID string, limit int) ([]model.Membership, error)

	// --- Users ---

	// CreateUser persists a new user. (market_id, device_id) must be unique.
	CreateUser(ctx context.Context, user *model.User) error

	// GetUser retrieves a user by its ID.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// GetUserByDevice retrieves the identity a device holds in a market.
	GetUserByDevice(ctx context.Context, marketID, deviceID string) (*model.User, error)

	// ListUsersInMarket returns every user of a market in join order.
	ListUsersInMarket(ctx context.Context, marketID string) ([]model.User, error)

	// UpdateUserBalance sets a user's balance.
	UpdateUserBalance(ctx context.Context, id string, balance int64) error

	// --- Bets ---

	// CreateBet persists a new bet.
	CreateBet(ctx context.Context, bet *model.Bet) error

	// GetBet retrieves a bet by its ID.
	GetBet(ctx context.Context, id string) (*model.Bet, error)

	// ListBetsInMarket returns the bets of a market, newest first.
	ListBetsInMarket(ctx context.Context, marketID string) ([]model.Bet, error)

	// ListPendingBets returns the pending bets of a market, oldest first.
	ListPendingBets(ctx context.Context, marketID string) ([]model.Bet, error)

	// ListBetsAboutUser returns the bets whose subject is the user.
	ListBetsAboutUser(ctx context.Context, userID string) ([]model.Bet, error)

	// UpdateBetStatus sets a bet's status and, when resolving, its
	// resolution time.
	UpdateBetStatus(ctx context.Context, id string, status model.BetStatus, resolvedAt *time.Time) error

	// UpdateBetPools sets both pools of a bet.
	UpdateBetPools(ctx context.Context, id string, yesPool, noPool int64) error

	// --- Wagers (append-only) ---

	// CreateWager appends an immutable wager.
	CreateWager(ctx context.Context, wager *model.Wager) error

	// ListWagersForBet returns a bet's wagers in placement order.
	ListWagersForBet(ctx context.Context, betID string) ([]model.Wager, error)

	// ListWagersForUser returns a user's wagers in placement order.
	ListWagersForUser(ctx context.Context, userID string) ([]model.Wager, error)
}
