package service

import (
	"context"
	"slices"

	"github.com/cazino/engine/internal/apperr"
	"github.com/cazino/engine/internal/model"
	"github.com/cazino/engine/internal/visibility"
)

// MarketsForDeviceLimit is how many memberships MarketsForDevice returns.
const MarketsForDeviceLimit = 10

// GetMarket returns a market by id.
func (s *Service) GetMarket(ctx context.Context, marketID string) (*model.Market, error) {
	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, apperr.Internal("get market", err)
	}
	return m, nil
}

// GetUser returns a user by id.
func (s *Service) GetUser(ctx context.Context, userID string) (*model.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("get user", err)
	}
	return u, nil
}

// GetBet returns a bet as viewerID sees it.
func (s *Service) GetBet(ctx context.Context, betID, viewerID string) (*model.BetView, error) {
	b, err := s.store.GetBet(ctx, betID)
	if err != nil {
		return nil, apperr.Internal("get bet", err)
	}
	v := visibility.ToView(b, viewerID)
	return &v, nil
}

// ListBets returns a market's bets, newest first, as viewerID sees them.
func (s *Service) ListBets(ctx context.Context, marketID, viewerID string) ([]model.BetView, error) {
	if _, err := s.store.GetMarket(ctx, marketID); err != nil {
		return nil, apperr.Internal("get market", err)
	}
	bets, err := s.store.ListBetsInMarket(ctx, marketID)
	if err != nil {
		return nil, apperr.Internal("list bets", err)
	}
	return visibility.ToViews(bets, viewerID), nil
}

// PendingBets returns a market's bets awaiting approval, oldest first.
// Only admins see this list, so nothing is hidden.
func (s *Service) PendingBets(ctx context.Context, marketID string) ([]model.BetView, error) {
	bets, err := s.store.ListPendingBets(ctx, marketID)
	if err != nil {
		return nil, apperr.Internal("list pending bets", err)
	}
	return visibility.ToViews(bets, visibility.Nobody), nil
}

// ProbabilityChart returns the YES probability after each wager on a bet.
func (s *Service) ProbabilityChart(ctx context.Context, betID string) ([]model.ProbabilityPoint, error) {
	if _, err := s.store.GetBet(ctx, betID); err != nil {
		return nil, apperr.Internal("get bet", err)
	}
	wagers, err := s.store.ListWagersForBet(ctx, betID)
	if err != nil {
		return nil, apperr.Internal("list wagers", err)
	}
	points := make([]model.ProbabilityPoint, 0, len(wagers))
	for _, w := range wagers {
		points = append(points, model.ProbabilityPoint{
			Timestamp:      w.PlacedAt,
			YesProbability: w.ProbabilityAfter,
		})
	}
	return points, nil
}

// Leaderboard ranks a market's users by balance, highest first. Users with
// equal balances keep join order and still get consecutive ranks.
func (s *Service) Leaderboard(ctx context.Context, marketID string) ([]model.LeaderboardEntry, error) {
	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, apperr.Internal("get market", err)
	}
	users, err := s.store.ListUsersInMarket(ctx, marketID)
	if err != nil {
		return nil, apperr.Internal("list users", err)
	}

	slices.SortStableFunc(users, func(a, b model.User) int {
		switch {
		case a.Balance > b.Balance:
			return -1
		case a.Balance < b.Balance:
			return 1
		}
		return 0
	})

	entries := make([]model.LeaderboardEntry, len(users))
	for i, u := range users {
		u.DeviceID = ""
		entries[i] = model.LeaderboardEntry{
			User:   u,
			Profit: u.Balance - market.StartingBalance,
			Rank:   i + 1,
		}
	}
	return entries, nil
}

// Reveal returns every bet about a user with nothing hidden.
func (s *Service) Reveal(ctx context.Context, userID string) ([]model.BetView, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, apperr.Internal("get user", err)
	}
	bets, err := s.store.ListBetsAboutUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("list bets about user", err)
	}
	return visibility.ToViews(bets, visibility.Nobody), nil
}

// MarketsForDevice returns the markets a device has joined, most recent
// first, with the identity it holds in each.
func (s *Service) MarketsForDevice(ctx context.Context, deviceID string) ([]model.Membership, error) {
	ms, err := s.store.ListMembershipsByDevice(ctx, deviceID, MarketsForDeviceLimit)
	if err != nil {
		return nil, apperr.Internal("list memberships", err)
	}
	return ms, nil
}
