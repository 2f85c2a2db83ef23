package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cazino/engine/internal/apperr"
	"github.com/cazino/engine/internal/lock"
	"github.com/cazino/engine/internal/metrics"
	"github.com/cazino/engine/internal/model"
	"github.com/cazino/engine/internal/parimutuel"
	"github.com/cazino/engine/internal/rules"
)

// CreateBetParams describes a proposed bet.
type CreateBetParams struct {
	MarketID        string
	CreatorID       string
	SubjectUserID   string
	Description     string
	InitialOdds     string
	OpeningWager    int64
	HideFromSubject bool
}

// WagerResult is a placed wager and the bet as it stands afterwards.
type WagerResult struct {
	Wager model.Wager `json:"wager"`
	Bet   model.Bet   `json:"bet"`
}

// ResolveResult is a resolved bet and what each winner was paid.
type ResolveResult struct {
	Bet     model.Bet      `json:"bet"`
	Payouts []model.Payout `json:"payouts"`
	Dust    int64          `json:"dust"`
}

// CreateBet creates an active bet, records the creator's opening wager on
// YES and debits it from the creator.
func (s *Service) CreateBet(ctx context.Context, p CreateBetParams) (*model.Bet, error) {
	description := strings.TrimSpace(p.Description)
	if description == "" {
		return nil, apperr.Constraint("description is required")
	}

	// The market lock keeps a concurrent close or delete from landing
	// between the status check and the writes.
	unlock, err := s.lock(ctx, lock.MarketKey(p.MarketID), lock.UserKey(p.CreatorID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	market, err := s.store.GetMarket(ctx, p.MarketID)
	if err != nil {
		return nil, apperr.Internal("get market", err)
	}
	creator, err := s.store.GetUser(ctx, p.CreatorID)
	if err != nil {
		return nil, apperr.Internal("get creator", err)
	}
	subject, err := s.store.GetUser(ctx, p.SubjectUserID)
	if err != nil {
		return nil, apperr.Internal("get subject", err)
	}
	if err := rules.ValidateMembership(market, creator); err != nil {
		return nil, s.reject(err)
	}
	if err := rules.ValidateMembership(market, subject); err != nil {
		return nil, s.reject(err)
	}
	if err := rules.ValidateBetCreation(market, creator, subject.ID, p.OpeningWager); err != nil {
		return nil, s.reject(err)
	}
	yesPool, noPool, err := parimutuel.ParseOdds(p.InitialOdds, p.OpeningWager)
	if err != nil {
		return nil, s.reject(err)
	}

	now := s.now()
	bet := &model.Bet{
		ID:              uuid.New().String(),
		MarketID:        market.ID,
		SubjectUserID:   subject.ID,
		CreatedBy:       creator.ID,
		Description:     description,
		InitialOdds:     p.InitialOdds,
		Status:          model.BetActive,
		YesPool:         yesPool,
		NoPool:          noPool,
		HideFromSubject: p.HideFromSubject,
		CreatedAt:       now,
	}
	opening := &model.Wager{
		ID:               uuid.New().String(),
		BetID:            bet.ID,
		UserID:           creator.ID,
		Side:             model.Yes,
		Amount:           p.OpeningWager,
		PlacedAt:         now,
		YesPoolAfter:     yesPool,
		NoPoolAfter:      noPool,
		ProbabilityAfter: parimutuel.Probability(yesPool, noPool),
	}

	if err := s.store.CreateBet(ctx, bet); err != nil {
		return nil, apperr.Internal("create bet", err)
	}
	if err := s.store.CreateWager(ctx, opening); err != nil {
		return nil, apperr.Internal("record opening wager", err)
	}
	if err := s.store.UpdateUserBalance(ctx, creator.ID, creator.Balance-p.OpeningWager); err != nil {
		return nil, apperr.Internal("debit creator", err)
	}

	metrics.BetsCreated.Inc()
	metrics.CoinsWagered.WithLabelValues(string(model.Yes)).Add(float64(p.OpeningWager))
	s.log.Info("bet created",
		"bet_id", bet.ID,
		"market_id", market.ID,
		"creator", creator.ID,
		"subject", subject.ID,
		"opening_wager", p.OpeningWager,
		"odds", p.InitialOdds,
		"hidden", p.HideFromSubject,
	)
	return bet, nil
}

// ApproveBet moves a pending bet to active. Approving an active bet is a
// no-op; resolved and challenged bets cannot be approved.
func (s *Service) ApproveBet(ctx context.Context, betID, adminID string) (*model.Bet, error) {
	unlock, err := s.lock(ctx, lock.BetKey(betID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	bet, err := s.store.GetBet(ctx, betID)
	if err != nil {
		return nil, apperr.Internal("get bet", err)
	}
	admin, err := s.store.GetUser(ctx, adminID)
	if err != nil {
		return nil, apperr.Internal("get admin", err)
	}
	if err := rules.ValidateBetApproval(admin); err != nil {
		return nil, s.reject(err)
	}
	if admin.MarketID != bet.MarketID {
		return nil, s.reject(rules.ErrNotMember)
	}

	switch {
	case bet.Status == model.BetActive:
		return bet, nil
	case bet.Status.Resolved():
		return nil, s.reject(rules.ErrAlreadyResolved)
	case bet.Status != model.BetPending:
		return nil, s.reject(rules.ErrBetNotActive)
	}

	if err := s.store.UpdateBetStatus(ctx, betID, model.BetActive, nil); err != nil {
		return nil, apperr.Internal("approve bet", err)
	}
	bet.Status = model.BetActive

	s.log.Info("bet approved", "bet_id", betID, "admin", adminID)
	return bet, nil
}

// PlaceWager stakes amount on side of a bet for a user. The bet, its
// market and the user are locked for the whole read-validate-write cycle,
// so concurrent wagers and a concurrent close see a consistent state.
func (s *Service) PlaceWager(ctx context.Context, betID, userID string, side model.Side, amount int64) (*WagerResult, error) {
	start := time.Now()
	if !side.Valid() {
		return nil, apperr.Constraint("side must be YES or NO")
	}

	// The market id of a bet never changes, so it can be read unlocked.
	probe, err := s.store.GetBet(ctx, betID)
	if err != nil {
		return nil, apperr.Internal("get bet", err)
	}

	unlock, err := s.lock(ctx, lock.BetKey(betID), lock.MarketKey(probe.MarketID), lock.UserKey(userID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	bet, err := s.store.GetBet(ctx, betID)
	if err != nil {
		return nil, apperr.Internal("get bet", err)
	}
	market, err := s.store.GetMarket(ctx, bet.MarketID)
	if err != nil {
		return nil, apperr.Internal("get market", err)
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("get user", err)
	}
	if err := rules.ValidateMembership(market, user); err != nil {
		return nil, s.reject(err)
	}
	if err := rules.ValidateWager(market, bet, user, amount); err != nil {
		return nil, s.reject(err)
	}

	newYes, newNo, _ := parimutuel.ApplyWager(bet.YesPool, bet.NoPool, side, amount)
	wager := model.Wager{
		ID:               uuid.New().String(),
		BetID:            bet.ID,
		UserID:           user.ID,
		Side:             side,
		Amount:           amount,
		PlacedAt:         s.now(),
		YesPoolAfter:     newYes,
		NoPoolAfter:      newNo,
		ProbabilityAfter: parimutuel.Probability(newYes, newNo),
	}

	if err := s.store.CreateWager(ctx, &wager); err != nil {
		return nil, apperr.Internal("record wager", err)
	}
	if err := s.store.UpdateBetPools(ctx, bet.ID, newYes, newNo); err != nil {
		return nil, apperr.Internal("update pools", err)
	}
	if err := s.store.UpdateUserBalance(ctx, user.ID, user.Balance-amount); err != nil {
		return nil, apperr.Internal("debit user", err)
	}
	bet.YesPool, bet.NoPool = newYes, newNo

	metrics.WagersTotal.WithLabelValues(string(side)).Inc()
	metrics.CoinsWagered.WithLabelValues(string(side)).Add(float64(amount))
	metrics.WagerLatency.WithLabelValues(string(side)).Observe(time.Since(start).Seconds())
	s.log.Info("wager placed",
		"wager_id", wager.ID,
		"bet_id", bet.ID,
		"user", user.ID,
		"side", side,
		"amount", amount,
		"yes_pool", newYes,
		"no_pool", newNo,
		"probability", wager.ProbabilityAfter,
	)
	return &WagerResult{Wager: wager, Bet: *bet}, nil
}

// ResolveBet settles a bet on outcome and credits the winners. The bet
// stays locked throughout; each winner's balance is locked only while it
// is credited.
func (s *Service) ResolveBet(ctx context.Context, betID, adminID string, outcome model.Side) (*ResolveResult, error) {
	if !outcome.Valid() {
		return nil, apperr.Constraint("outcome must be YES or NO")
	}

	unlock, err := s.lock(ctx, lock.BetKey(betID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	bet, err := s.store.GetBet(ctx, betID)
	if err != nil {
		return nil, apperr.Internal("get bet", err)
	}
	admin, err := s.store.GetUser(ctx, adminID)
	if err != nil {
		return nil, apperr.Internal("get admin", err)
	}
	if err := rules.ValidateBetResolution(bet, admin); err != nil {
		return nil, s.reject(err)
	}
	if admin.MarketID != bet.MarketID {
		return nil, s.reject(rules.ErrNotMember)
	}

	wagers, err := s.store.ListWagersForBet(ctx, betID)
	if err != nil {
		return nil, apperr.Internal("list wagers", err)
	}

	// Payouts are computed on the local copy; the status is written only
	// once everything needed to pay out has been read.
	resolvedAt := s.now()
	bet.Status = outcome.ResolvedStatus()
	bet.ResolvedAt = &resolvedAt
	payouts := parimutuel.DistributePayouts(bet, wagers)

	if err := s.store.UpdateBetStatus(ctx, betID, bet.Status, &resolvedAt); err != nil {
		return nil, apperr.Internal("resolve bet", err)
	}

	var paid int64
	for _, p := range payouts {
		if err := s.credit(ctx, p); err != nil {
			return nil, err
		}
		paid += p.Amount
	}
	dust := parimutuel.Dust(bet, payouts)

	metrics.BetsResolved.WithLabelValues(string(outcome)).Inc()
	metrics.PayoutsDistributed.Add(float64(paid))
	metrics.RoundingDust.Add(float64(dust))
	s.log.Info("bet resolved",
		"bet_id", betID,
		"outcome", outcome,
		"admin", adminID,
		"winners", len(payouts),
		"paid", paid,
		"dust", dust,
	)
	if payouts == nil {
		payouts = []model.Payout{}
	}
	return &ResolveResult{Bet: *bet, Payouts: payouts, Dust: dust}, nil
}

// credit adds a payout to the winner's current balance.
func (s *Service) credit(ctx context.Context, p model.Payout) error {
	unlock, err := s.lock(ctx, lock.UserKey(p.UserID))
	if err != nil {
		return err
	}
	defer unlock()

	user, err := s.store.GetUser(ctx, p.UserID)
	if err != nil {
		return apperr.Internal("get winner", err)
	}
	if err := s.store.UpdateUserBalance(ctx, user.ID, user.Balance+p.Amount); err != nil {
		return apperr.Internal("credit winner", err)
	}
	return nil
}
