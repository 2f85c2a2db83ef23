package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cazino/engine/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for
// markets and invite-code lookups. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back to the
// primary.
//
// Users, bets and wagers are never cached: balances and pools change on
// every wager and must always be read from the source of truth.
type CachedStore struct {
	Store // passthrough for everything not overridden below

	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store:   primary,
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh or invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) UpdateMarketStatus(ctx context.Context, id string, status model.MarketStatus) error {
	if err := s.primary.UpdateMarketStatus(ctx, id, status); err != nil {
		return err
	}
	// Invalidate; next read will re-populate.
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) DeleteMarket(ctx context.Context, id string) error {
	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return err
	}
	if err := s.primary.DeleteMarket(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(id), inviteKey(m.InviteCode))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetMarketByInviteCode(ctx context.Context, code string) (*model.Market, error) {
	marketID, err := s.rdb.Get(ctx, inviteKey(code)).Result()
	if err == nil {
		return s.GetMarket(ctx, marketID)
	}

	m, err := s.primary.GetMarketByInviteCode(ctx, code)
	if err != nil {
		return nil, err
	}
	s.cacheMarket(ctx, m)
	return m, nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
		s.rdb.Set(ctx, inviteKey(m.InviteCode), m.ID, s.ttl)
	}
}

func marketKey(id string) string   { return fmt.Sprintf("cazino:market:%s", id) }
func inviteKey(code string) string { return fmt.Sprintf("cazino:invite:%s", code) }

var _ Store = (*CachedStore)(nil)
