package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cazino/engine/internal/apperr"
	"github.com/cazino/engine/internal/archive"
	"github.com/cazino/engine/internal/invite"
	"github.com/cazino/engine/internal/lock"
	"github.com/cazino/engine/internal/metrics"
	"github.com/cazino/engine/internal/model"
	"github.com/cazino/engine/internal/rules"
)

// CreateMarketParams describes a new market and its admin.
type CreateMarketParams struct {
	Name            string
	AdminDeviceID   string
	AdminName       string
	AdminAvatar     string
	StartingBalance int64
	DurationHours   int
	// InviteCode is optional. When empty a code is generated.
	InviteCode string
}

// CreateMarket creates a draft market and its admin user.
func (s *Service) CreateMarket(ctx context.Context, p CreateMarketParams) (*model.Market, *model.User, error) {
	name := strings.TrimSpace(p.Name)
	switch {
	case name == "":
		return nil, nil, apperr.Constraint("market name is required")
	case strings.TrimSpace(p.AdminDeviceID) == "":
		return nil, nil, apperr.Constraint("device id is required")
	case strings.TrimSpace(p.AdminName) == "":
		return nil, nil, apperr.Constraint("display name is required")
	case p.StartingBalance <= 0:
		return nil, nil, apperr.Constraint("starting balance must be positive")
	case p.DurationHours <= 0:
		return nil, nil, apperr.Constraint("duration must be at least one hour")
	case s.maxDurationHours > 0 && p.DurationHours > s.maxDurationHours:
		return nil, nil, apperr.Constraint("duration may not exceed %d hours", s.maxDurationHours)
	}

	code, unlock, err := s.reserveInviteCode(ctx, p.InviteCode)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	now := s.now()
	market := &model.Market{
		ID:              uuid.New().String(),
		Name:            name,
		Status:          model.MarketDraft,
		OpensAt:         now,
		ClosesAt:        now.Add(time.Duration(p.DurationHours) * time.Hour),
		StartingBalance: p.StartingBalance,
		InviteCode:      code,
		CreatedAt:       now,
	}
	admin := &model.User{
		ID:          uuid.New().String(),
		MarketID:    market.ID,
		DeviceID:    p.AdminDeviceID,
		DisplayName: strings.TrimSpace(p.AdminName),
		Avatar:      p.AdminAvatar,
		Balance:     p.StartingBalance,
		IsAdmin:     true,
		JoinedAt:    now,
	}
	market.CreatedBy = admin.ID

	if err := s.store.CreateMarket(ctx, market); err != nil {
		return nil, nil, apperr.Internal("create market", err)
	}
	if err := s.store.CreateUser(ctx, admin); err != nil {
		return nil, nil, apperr.Internal("create admin", err)
	}

	metrics.MarketTransitions.WithLabelValues(string(model.MarketDraft)).Inc()
	s.log.Info("market created",
		"market_id", market.ID,
		"name", market.Name,
		"invite_code", market.InviteCode,
		"admin", admin.ID,
		"starting_balance", market.StartingBalance,
	)
	return market, admin, nil
}

// reserveInviteCode returns a free invite code and holds its lock until
// the returned unlock is called. A custom code must be well formed and
// unused. Generated codes are retried on collision.
func (s *Service) reserveInviteCode(ctx context.Context, custom string) (string, func(), error) {
	if custom != "" {
		code := invite.Normalize(custom)
		if err := invite.Validate(code); err != nil {
			return "", nil, err
		}
		unlock, free, err := s.tryInviteCode(ctx, code)
		if err != nil {
			return "", nil, err
		}
		if !free {
			return "", nil, apperr.Constraint("invite code %s is already in use", code)
		}
		return code, unlock, nil
	}

	for attempt := 0; attempt < s.inviteAttempts; attempt++ {
		code := invite.Generate()
		unlock, free, err := s.tryInviteCode(ctx, code)
		if err != nil {
			return "", nil, err
		}
		if free {
			return code, unlock, nil
		}
		s.log.Warn("invite code collision", "code", code, "attempt", attempt+1)
	}
	return "", nil, apperr.Internal("generate invite code",
		errors.New("no free code after repeated collisions"))
}

// tryInviteCode locks code and reports whether no market uses it. On a
// taken code the lock is already released.
func (s *Service) tryInviteCode(ctx context.Context, code string) (func(), bool, error) {
	unlock, err := s.lock(ctx, lock.InviteKey(code))
	if err != nil {
		return nil, false, err
	}
	_, err = s.store.GetMarketByInviteCode(ctx, code)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return unlock, true, nil
	case err != nil:
		unlock()
		return nil, false, apperr.Internal("check invite code", err)
	default:
		unlock()
		return nil, false, nil
	}
}

// JoinMarket adds a device to the market behind inviteCode. A device that
// already joined gets its original identity back and the new name and
// avatar are ignored.
func (s *Service) JoinMarket(ctx context.Context, inviteCode, deviceID, displayName, avatar string) (*model.Market, *model.User, bool, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, nil, false, apperr.Constraint("device id is required")
	}

	market, err := s.store.GetMarketByInviteCode(ctx, invite.Normalize(inviteCode))
	if err != nil {
		return nil, nil, false, apperr.Internal("find market", err)
	}

	unlock, err := s.lock(ctx, lock.DeviceKey(market.ID, deviceID))
	if err != nil {
		return nil, nil, false, err
	}
	defer unlock()

	existing, err := s.store.GetUserByDevice(ctx, market.ID, deviceID)
	if err == nil {
		s.log.Info("user rejoined", "market_id", market.ID, "user", existing.ID)
		return market, existing, false, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, nil, false, apperr.Internal("find user by device", err)
	}

	if strings.TrimSpace(displayName) == "" {
		return nil, nil, false, apperr.Constraint("display name is required")
	}
	user := &model.User{
		ID:          uuid.New().String(),
		MarketID:    market.ID,
		DeviceID:    deviceID,
		DisplayName: strings.TrimSpace(displayName),
		Avatar:      avatar,
		Balance:     market.StartingBalance,
		JoinedAt:    s.now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, nil, false, apperr.Internal("create user", err)
	}

	metrics.UsersJoined.Inc()
	s.log.Info("user joined", "market_id", market.ID, "user", user.ID, "name", user.DisplayName)
	return market, user, true, nil
}

// OpenMarket moves a draft market to open.
func (s *Service) OpenMarket(ctx context.Context, marketID, adminID string) (*model.Market, error) {
	return s.transition(ctx, marketID, adminID, model.MarketOpen)
}

// CloseMarket moves an open market to closed. Wagers are rejected from
// then on.
func (s *Service) CloseMarket(ctx context.Context, marketID, adminID string) (*model.Market, error) {
	return s.transition(ctx, marketID, adminID, model.MarketClosed)
}

// ResolveMarket moves a closed market to its final state and archives it.
func (s *Service) ResolveMarket(ctx context.Context, marketID, adminID string) (*model.Market, error) {
	m, err := s.transition(ctx, marketID, adminID, model.MarketResolved)
	if err != nil {
		return nil, err
	}
	if err := s.archiveMarket(ctx, m, "resolved"); err != nil {
		// The market is resolved either way; the archive can be retried.
		s.log.Error("archive resolved market", "market_id", m.ID, "err", err)
	}
	return m, nil
}

func (s *Service) transition(ctx context.Context, marketID, adminID string, target model.MarketStatus) (*model.Market, error) {
	unlock, err := s.lock(ctx, lock.MarketKey(marketID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, apperr.Internal("get market", err)
	}
	admin, err := s.store.GetUser(ctx, adminID)
	if err != nil {
		return nil, apperr.Internal("get admin", err)
	}
	if err := rules.ValidateMarketTransition(market, admin, target); err != nil {
		return nil, s.reject(err)
	}

	if err := s.store.UpdateMarketStatus(ctx, marketID, target); err != nil {
		return nil, apperr.Internal("update market status", err)
	}
	from := market.Status
	market.Status = target

	metrics.MarketTransitions.WithLabelValues(string(target)).Inc()
	s.log.Info("market status changed", "market_id", marketID, "from", from, "to", target, "admin", adminID)
	return market, nil
}

// DeleteMarket archives a market and then removes it with all its users,
// bets and wagers. If the archive fails nothing is deleted.
func (s *Service) DeleteMarket(ctx context.Context, marketID, adminID string) error {
	unlock, err := s.lock(ctx, lock.MarketKey(marketID))
	if err != nil {
		return err
	}
	defer unlock()

	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return apperr.Internal("get market", err)
	}
	admin, err := s.store.GetUser(ctx, adminID)
	if err != nil {
		return apperr.Internal("get admin", err)
	}
	if err := rules.ValidateMarketDeletion(market, admin); err != nil {
		return s.reject(err)
	}

	if err := s.archiveMarket(ctx, market, "deleted"); err != nil {
		return apperr.Internal("archive market", err)
	}
	if err := s.store.DeleteMarket(ctx, marketID); err != nil {
		return apperr.Internal("delete market", err)
	}

	s.log.Info("market deleted", "market_id", marketID, "admin", adminID)
	return nil
}

// Snapshot collects everything stored about a market.
func (s *Service) Snapshot(ctx context.Context, marketID string) (*archive.Snapshot, error) {
	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, apperr.Internal("get market", err)
	}
	return s.snapshot(ctx, market, "")
}

func (s *Service) snapshot(ctx context.Context, market *model.Market, reason string) (*archive.Snapshot, error) {
	users, err := s.store.ListUsersInMarket(ctx, market.ID)
	if err != nil {
		return nil, apperr.Internal("list users", err)
	}
	bets, err := s.store.ListBetsInMarket(ctx, market.ID)
	if err != nil {
		return nil, apperr.Internal("list bets", err)
	}
	snap := &archive.Snapshot{
		Market:     *market,
		Users:      users,
		Bets:       bets,
		Reason:     reason,
		ArchivedAt: s.now(),
	}
	for _, b := range bets {
		wagers, err := s.store.ListWagersForBet(ctx, b.ID)
		if err != nil {
			return nil, apperr.Internal("list wagers", err)
		}
		snap.Wagers = append(snap.Wagers, wagers...)
	}
	return snap, nil
}

func (s *Service) archiveMarket(ctx context.Context, market *model.Market, reason string) error {
	snap, err := s.snapshot(ctx, market, reason)
	if err != nil {
		return err
	}
	if err := s.archiver.ArchiveMarket(ctx, *snap); err != nil {
		return err
	}
	s.log.Info("market archived", "market_id", market.ID, "reason", reason,
		"bets", len(snap.Bets), "wagers", len(snap.Wagers))
	return nil
}
