// Package rules validates betting actions against the current state of a
// market, a bet and the acting user.
//
// Validators are pure. They receive snapshots, never touch storage, and
// return nil or a constraint error wrapping one of the sentinels below.
package rules

import (
	"errors"
	"fmt"

	"github.com/cazino/engine/internal/apperr"
	"github.com/cazino/engine/internal/model"
)

var (
	// ErrMarketNotOpen is returned when wagering on a market that is not open,
	// or creating a bet in a market that is closed or resolved.
	ErrMarketNotOpen = fmt.Errorf("%w: market is not open", apperr.ErrConstraint)

	// ErrBetNotActive is returned when acting on a bet that is pending or
	// challenged.
	ErrBetNotActive = fmt.Errorf("%w: bet is not active", apperr.ErrConstraint)

	// ErrInsufficientBalance is returned when a user tries to stake more
	// coins than they hold.
	ErrInsufficientBalance = fmt.Errorf("%w: insufficient balance", apperr.ErrConstraint)

	// ErrCannotBetOnSelf is returned when the subject of a bet tries to
	// wager on it. Admins are not exempt.
	ErrCannotBetOnSelf = fmt.Errorf("%w: cannot bet on yourself", apperr.ErrConstraint)

	// ErrAdminOnly is returned when a non-admin attempts an admin action.
	ErrAdminOnly = fmt.Errorf("%w: only admin can perform this action", apperr.ErrConstraint)

	// ErrInvalidAmount is returned for stakes that are zero or negative.
	ErrInvalidAmount = fmt.Errorf("%w: amount must be positive", apperr.ErrConstraint)

	// ErrAlreadyResolved is returned when resolving a bet twice.
	ErrAlreadyResolved = fmt.Errorf("%w: bet already resolved", apperr.ErrConstraint)

	// ErrInvalidMarketStatus is returned for a market transition that skips
	// or reverses a lifecycle step.
	ErrInvalidMarketStatus = fmt.Errorf("%w: invalid market status transition", apperr.ErrConstraint)

	// ErrNotMember is returned when a user acts on a market they have not
	// joined.
	ErrNotMember = fmt.Errorf("%w: user is not a member of this market", apperr.ErrConstraint)
)

// InsufficientBalanceError carries the amounts behind ErrInsufficientBalance.
type InsufficientBalanceError struct {
	Needed    int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%s: needed %d, available %d", ErrInsufficientBalance, e.Needed, e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Reason returns a short label for a rule failure, suitable as a metric
// label. Errors that are not rule failures return "other".
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMarketNotOpen):
		return "market_not_open"
	case errors.Is(err, ErrBetNotActive):
		return "bet_not_active"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrCannotBetOnSelf):
		return "self_bet"
	case errors.Is(err, ErrAdminOnly):
		return "admin_only"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrAlreadyResolved):
		return "already_resolved"
	case errors.Is(err, ErrInvalidMarketStatus):
		return "invalid_market_status"
	case errors.Is(err, ErrNotMember):
		return "not_member"
	}
	return "other"
}

// ValidateWager checks that user may stake amount on bet. The checks run in
// a fixed order and the first failure wins: market open, bet active,
// sufficient balance, positive amount, not the subject.
func ValidateWager(market *model.Market, bet *model.Bet, user *model.User, amount int64) error {
	if market.Status != model.MarketOpen {
		return ErrMarketNotOpen
	}
	if bet.Status != model.BetActive {
		return ErrBetNotActive
	}
	if user.Balance < amount {
		return &InsufficientBalanceError{Needed: amount, Available: user.Balance}
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if bet.SubjectUserID == user.ID {
		return ErrCannotBetOnSelf
	}
	return nil
}

// ValidateBetCreation checks that user may propose a bet about
// subjectUserID with the given opening wager. Bets can be created while the
// market is still a draft, and the creator may name themselves as subject.
func ValidateBetCreation(market *model.Market, user *model.User, subjectUserID string, openingWager int64) error {
	if market.Status != model.MarketDraft && market.Status != model.MarketOpen {
		return ErrMarketNotOpen
	}
	if user.Balance < openingWager {
		return &InsufficientBalanceError{Needed: openingWager, Available: user.Balance}
	}
	if openingWager <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// ValidateBetApproval checks that user may approve pending bets.
func ValidateBetApproval(user *model.User) error {
	if !user.IsAdmin {
		return ErrAdminOnly
	}
	return nil
}

// ValidateBetResolution checks that user may resolve bet.
func ValidateBetResolution(bet *model.Bet, user *model.User) error {
	if !user.IsAdmin {
		return ErrAdminOnly
	}
	if bet.Status.Resolved() {
		return ErrAlreadyResolved
	}
	if bet.Status != model.BetActive {
		return ErrBetNotActive
	}
	return nil
}

// ValidateMembership checks that user belongs to market.
func ValidateMembership(market *model.Market, user *model.User) error {
	if user.MarketID != market.ID {
		return ErrNotMember
	}
	return nil
}

// ValidateMarketTransition checks that user may move market to target.
// Only the admin of the market may do it, and only one step forward.
func ValidateMarketTransition(market *model.Market, user *model.User, target model.MarketStatus) error {
	if err := ValidateMembership(market, user); err != nil {
		return err
	}
	if !user.IsAdmin {
		return ErrAdminOnly
	}
	next, ok := market.Status.Next()
	if !ok || next != target {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidMarketStatus, market.Status, target)
	}
	return nil
}

// ValidateMarketDeletion checks that user is the admin of market.
func ValidateMarketDeletion(market *model.Market, user *model.User) error {
	if err := ValidateMembership(market, user); err != nil {
		return err
	}
	if !user.IsAdmin {
		return ErrAdminOnly
	}
	return nil
}
