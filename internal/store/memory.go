package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/cazino/engine/internal/apperr"
	"github.com/cazino/engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// single-process deployments. Nothing survives a restart.
//
// Every value is copied on the way in and on the way out, so callers never
// share memory with the store.
type MemoryStore struct {
	mu sync.RWMutex

	markets map[string]*model.Market
	invites map[string]string // invite code → market id
	users   map[string]*model.User
	devices map[string]string // market id + device id → user id
	bets    map[string]*model.Bet
	wagers  map[string][]model.Wager // bet id → wagers in placement order
	userSeq []string                 // user ids in creation order
	betSeq  []string                 // bet ids in creation order
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets: make(map[string]*model.Market),
		invites: make(map[string]string),
		users:   make(map[string]*model.User),
		devices: make(map[string]string),
		bets:    make(map[string]*model.Bet),
		wagers:  make(map[string][]model.Wager),
	}
}

func deviceIndex(marketID, deviceID string) string {
	return marketID + "\x00" + deviceID
}

// --- Markets ---

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return apperr.Constraint("market %s already exists", m.ID)
	}
	if _, ok := s.invites[m.InviteCode]; ok {
		return apperr.Constraint("invite code %s already in use", m.InviteCode)
	}
	cp := *m
	s.markets[m.ID] = &cp
	s.invites[m.InviteCode] = m.ID
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, apperr.NotFound("market", id)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetMarketByInviteCode(_ context.Context, code string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.invites[code]
	if !ok {
		return nil, apperr.NotFound("invite code", code)
	}
	cp := *s.markets[id]
	return &cp, nil
}

func (s *MemoryStore) UpdateMarketStatus(_ context.Context, id string, status model.MarketStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return apperr.NotFound("market", id)
	}
	m.Status = status
	return nil
}

func (s *MemoryStore) DeleteMarket(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return apperr.NotFound("market", id)
	}
	delete(s.invites, m.InviteCode)
	delete(s.markets, id)

	s.userSeq = slices.DeleteFunc(s.userSeq, func(uid string) bool {
		u := s.users[uid]
		if u.MarketID != id {
			return false
		}
		delete(s.devices, deviceIndex(u.MarketID, u.DeviceID))
		delete(s.users, uid)
		return true
	})
	s.betSeq = slices.DeleteFunc(s.betSeq, func(bid string) bool {
		if s.bets[bid].MarketID != id {
			return false
		}
		delete(s.wagers, bid)
		delete(s.bets, bid)
		return true
	})
	return nil
}

func (s *MemoryStore) ListMembershipsByDevice(_ context.Context, deviceID string, limit int) ([]model.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Membership
	for _, uid := range s.userSeq {
		u := s.users[uid]
		if u.DeviceID != deviceID {
			continue
		}
		result = append(result, model.Membership{Market: *s.markets[u.MarketID], User: *u})
	}
	slices.SortStableFunc(result, func(a, b model.Membership) int {
		return b.User.JoinedAt.Compare(a.User.JoinedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// --- Users ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[u.MarketID]; !ok {
		return apperr.NotFound("market", u.MarketID)
	}
	if _, ok := s.users[u.ID]; ok {
		return apperr.Constraint("user %s already exists", u.ID)
	}
	idx := deviceIndex(u.MarketID, u.DeviceID)
	if _, ok := s.devices[idx]; ok {
		return apperr.Constraint("device %s already joined market %s", u.DeviceID, u.MarketID)
	}
	cp := *u
	s.users[u.ID] = &cp
	s.devices[idx] = u.ID
	s.userSeq = append(s.userSeq, u.ID)
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, apperr.NotFound("user", id)
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetUserByDevice(_ context.Context, marketID, deviceID string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.devices[deviceIndex(marketID, deviceID)]
	if !ok {
		return nil, apperr.NotFound("device", deviceID)
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *MemoryStore) ListUsersInMarket(_ context.Context, marketID string) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.User
	for _, uid := range s.userSeq {
		if u := s.users[uid]; u.MarketID == marketID {
			result = append(result, *u)
		}
	}
	return result, nil
}

func (s *MemoryStore) UpdateUserBalance(_ context.Context, id string, balance int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return apperr.NotFound("user", id)
	}
	u.Balance = balance
	return nil
}

// --- Bets ---

func (s *MemoryStore) CreateBet(_ context.Context, b *model.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[b.MarketID]; !ok {
		return apperr.NotFound("market", b.MarketID)
	}
	if _, ok := s.bets[b.ID]; ok {
		return apperr.Constraint("bet %s already exists", b.ID)
	}
	s.bets[b.ID] = cloneBet(b)
	s.betSeq = append(s.betSeq, b.ID)
	return nil
}

func (s *MemoryStore) GetBet(_ context.Context, id string) (*model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bets[id]
	if !ok {
		return nil, apperr.NotFound("bet", id)
	}
	return cloneBet(b), nil
}

func (s *MemoryStore) ListBetsInMarket(_ context.Context, marketID string) ([]model.Bet, error) {
	result := s.filterBets(func(b *model.Bet) bool { return b.MarketID == marketID })
	slices.Reverse(result)
	return result, nil
}

func (s *MemoryStore) ListPendingBets(_ context.Context, marketID string) ([]model.Bet, error) {
	return s.filterBets(func(b *model.Bet) bool {
		return b.MarketID == marketID && b.Status == model.BetPending
	}), nil
}

func (s *MemoryStore) ListBetsAboutUser(_ context.Context, userID string) ([]model.Bet, error) {
	return s.filterBets(func(b *model.Bet) bool { return b.SubjectUserID == userID }), nil
}

// filterBets returns copies of matching bets in creation order.
func (s *MemoryStore) filterBets(keep func(*model.Bet) bool) []model.Bet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bet
	for _, bid := range s.betSeq {
		if b := s.bets[bid]; keep(b) {
			result = append(result, *cloneBet(b))
		}
	}
	return result
}

func (s *MemoryStore) UpdateBetStatus(_ context.Context, id string, status model.BetStatus, resolvedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bets[id]
	if !ok {
		return apperr.NotFound("bet", id)
	}
	b.Status = status
	if resolvedAt != nil {
		t := *resolvedAt
		b.ResolvedAt = &t
	}
	return nil
}

func (s *MemoryStore) UpdateBetPools(_ context.Context, id string, yesPool, noPool int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bets[id]
	if !ok {
		return apperr.NotFound("bet", id)
	}
	b.YesPool = yesPool
	b.NoPool = noPool
	return nil
}

// --- Wagers ---

func (s *MemoryStore) CreateWager(_ context.Context, w *model.Wager) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bets[w.BetID]; !ok {
		return apperr.NotFound("bet", w.BetID)
	}
	s.wagers[w.BetID] = append(s.wagers[w.BetID], *w)
	return nil
}

func (s *MemoryStore) ListWagersForBet(_ context.Context, betID string) ([]model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.wagers[betID]), nil
}

func (s *MemoryStore) ListWagersForUser(_ context.Context, userID string) ([]model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Wager
	for _, bid := range s.betSeq {
		for _, w := range s.wagers[bid] {
			if w.UserID == userID {
				result = append(result, w)
			}
		}
	}
	slices.SortStableFunc(result, func(a, b model.Wager) int {
		return a.PlacedAt.Compare(b.PlacedAt)
	})
	return result, nil
}

func cloneBet(b *model.Bet) *model.Bet {
	cp := *b
	if b.ResolvedAt != nil {
		t := *b.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
