package service_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cazino/engine/internal/apperr"
	"github.com/cazino/engine/internal/archive"
	"github.com/cazino/engine/internal/lock"
	"github.com/cazino/engine/internal/model"
	"github.com/cazino/engine/internal/rules"
	"github.com/cazino/engine/internal/service"
	"github.com/cazino/engine/internal/store"
)

// recordingArchiver keeps every snapshot it is given.
type recordingArchiver struct {
	mu    sync.Mutex
	snaps []archive.Snapshot
	err   error
}

func (a *recordingArchiver) ArchiveMarket(_ context.Context, snap archive.Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.snaps = append(a.snaps, snap)
	return nil
}

type testEnv struct {
	svc      *service.Service
	store    *store.MemoryStore
	archiver *recordingArchiver
}

// newTestEnv builds a service over an in-memory store with a clock that
// advances one second per reading.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var ticks atomic.Int64
	clock := func() time.Time {
		return base.Add(time.Duration(ticks.Add(1)) * time.Second)
	}
	ms := store.NewMemoryStore()
	arch := &recordingArchiver{}
	svc := service.New(ms, lock.NewLocal(),
		service.WithArchiver(arch),
		service.WithClock(clock),
		service.WithMaxDurationHours(24*30),
	)
	return &testEnv{svc: svc, store: ms, archiver: arch}
}

// seedMarket creates a market with an admin and joins the named players.
func (e *testEnv) seedMarket(t *testing.T, players ...string) (*model.Market, *model.User, map[string]*model.User) {
	t.Helper()
	ctx := context.Background()
	market, admin, err := e.svc.CreateMarket(ctx, service.CreateMarketParams{
		Name:            "Friday night",
		AdminDeviceID:   "device-admin",
		AdminName:       "Admin",
		AdminAvatar:     "👑",
		StartingBalance: 1000,
		DurationHours:   24,
	})
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	users := make(map[string]*model.User, len(players))
	for _, name := range players {
		_, u, _, err := e.svc.JoinMarket(ctx, market.InviteCode, "device-"+name, name, "🙂")
		if err != nil {
			t.Fatalf("JoinMarket(%s): %v", name, err)
		}
		users[name] = u
	}
	return market, admin, users
}

func (e *testEnv) open(t *testing.T, market *model.Market, admin *model.User) {
	t.Helper()
	if _, err := e.svc.OpenMarket(context.Background(), market.ID, admin.ID); err != nil {
		t.Fatalf("OpenMarket: %v", err)
	}
}

func (e *testEnv) balance(t *testing.T, userID string) int64 {
	t.Helper()
	u, err := e.svc.GetUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	return u.Balance
}

func (e *testEnv) createBet(t *testing.T, market *model.Market, creator, subject *model.User, opening int64, hidden bool) *model.Bet {
	t.Helper()
	bet, err := e.svc.CreateBet(context.Background(), service.CreateBetParams{
		MarketID:        market.ID,
		CreatorID:       creator.ID,
		SubjectUserID:   subject.ID,
		Description:     fmt.Sprintf("%s will sing karaoke", subject.DisplayName),
		InitialOdds:     "1:1",
		OpeningWager:    opening,
		HideFromSubject: hidden,
	})
	if err != nil {
		t.Fatalf("CreateBet: %v", err)
	}
	return bet
}

// --- Full game ---

func TestEndToEnd(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	market, admin, users := e.seedMarket(t, "Alice", "Bob")
	alice, bob := users["Alice"], users["Bob"]

	if market.Status != model.MarketDraft {
		t.Errorf("new market status = %s, want draft", market.Status)
	}
	if want := market.OpensAt.Add(24 * time.Hour); !market.ClosesAt.Equal(want) {
		t.Errorf("closes_at = %v, want %v", market.ClosesAt, want)
	}
	if !admin.IsAdmin || admin.Balance != 1000 || market.CreatedBy != admin.ID {
		t.Errorf("admin = %+v, market.CreatedBy = %s", admin, market.CreatedBy)
	}
	if alice.IsAdmin || alice.Balance != 1000 || bob.Balance != 1000 {
		t.Errorf("players: alice=%+v bob=%+v", alice, bob)
	}

	e.open(t, market, admin)

	bet := e.createBet(t, market, alice, bob, 100, false)
	if bet.Status != model.BetActive {
		t.Errorf("bet status = %s, want active", bet.Status)
	}
	if bet.YesPool != 100 || bet.NoPool != 0 {
		t.Errorf("opening pools = (%d,%d), want (100,0)", bet.YesPool, bet.NoPool)
	}
	if got := e.balance(t, alice.ID); got != 900 {
		t.Errorf("alice balance after opening wager = %d, want 900", got)
	}

	res, err := e.svc.PlaceWager(ctx, bet.ID, admin.ID, model.No, 200)
	if err != nil {
		t.Fatalf("PlaceWager: %v", err)
	}
	if res.Bet.YesPool != 100 || res.Bet.NoPool != 200 {
		t.Errorf("pools = (%d,%d), want (100,200)", res.Bet.YesPool, res.Bet.NoPool)
	}
	if math.Abs(res.Wager.ProbabilityAfter-1.0/3.0) > 1e-9 {
		t.Errorf("probability after = %f, want 0.333", res.Wager.ProbabilityAfter)
	}
	if res.Wager.YesPoolAfter != 100 || res.Wager.NoPoolAfter != 200 {
		t.Errorf("wager snapshot = (%d,%d)", res.Wager.YesPoolAfter, res.Wager.NoPoolAfter)
	}

	chart, err := e.svc.ProbabilityChart(ctx, bet.ID)
	if err != nil {
		t.Fatalf("ProbabilityChart: %v", err)
	}
	if len(chart) != 2 || chart[0].YesProbability != 1.0 || math.Abs(chart[1].YesProbability-1.0/3.0) > 1e-9 {
		t.Errorf("chart = %+v", chart)
	}
	if !chart[0].Timestamp.Before(chart[1].Timestamp) {
		t.Errorf("chart out of order: %+v", chart)
	}

	resolved, err := e.svc.ResolveBet(ctx, bet.ID, admin.ID, model.Yes)
	if err != nil {
		t.Fatalf("ResolveBet: %v", err)
	}
	if resolved.Bet.Status != model.BetResolvedYes || resolved.Bet.ResolvedAt == nil {
		t.Errorf("resolved bet = %+v", resolved.Bet)
	}
	if len(resolved.Payouts) != 1 || resolved.Payouts[0].UserID != alice.ID || resolved.Payouts[0].Amount != 300 {
		t.Errorf("payouts = %+v, want alice:300", resolved.Payouts)
	}
	if resolved.Dust != 0 {
		t.Errorf("dust = %d, want 0", resolved.Dust)
	}

	if got := e.balance(t, alice.ID); got != 1200 {
		t.Errorf("alice final balance = %d, want 1200", got)
	}
	if got := e.balance(t, admin.ID); got != 800 {
		t.Errorf("admin final balance = %d, want 800", got)
	}
	if got := e.balance(t, bob.ID); got != 1000 {
		t.Errorf("bob final balance = %d, want 1000", got)
	}

	board, err := e.svc.Leaderboard(ctx, market.ID)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if board[0].User.ID != alice.ID || board[0].Profit != 200 || board[0].Rank != 1 {
		t.Errorf("leader = %+v", board[0])
	}
	if board[2].User.ID != admin.ID || board[2].Profit != -200 {
		t.Errorf("last = %+v", board[2])
	}
}

func TestResolveBet_Dust(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	market, admin, users := e.seedMarket(t, "Alice", "Bob", "Carol", "Dave")
	e.open(t, market, admin)

	bet := e.createBet(t, market, users["Alice"], admin, 10, false)
	for _, name := range []string{"Bob", "Carol"} {
		if _, err := e.svc.PlaceWager(ctx, bet.ID, users[name].ID, model.Yes, 10); err != nil {
			t.Fatalf("PlaceWager(%s): %v", name, err)
		}
	}
	if _, err := e.svc.PlaceWager(ctx, bet.ID, users["Dave"].ID, model.No, 10); err != nil {
		t.Fatalf("PlaceWager(Dave): %v", err)
	}

	res, err := e.svc.ResolveBet(ctx, bet.ID, admin.ID, model.Yes)
	if err != nil {
		t.Fatalf("ResolveBet: %v", err)
	}
	if len(res.Payouts) != 3 {
		t.Fatalf("payouts = %+v, want 3 winners", res.Payouts)
	}
	for _, p := range res.Payouts {
		if p.Amount != 13 {
			t.Errorf("payout %s = %d, want 13", p.UserID, p.Amount)
		}
	}
	if res.Dust != 1 {
		t.Errorf("dust = %d, want 1", res.Dust)
	}
	if got := e.balance(t, users["Dave"].ID); got != 990 {
		t.Errorf("loser balance = %d, want 990", got)
	}
}

func TestResolveBet_NoWinners(t *testing.T) {
	e := newTestEnv(t)
	market, admin, users := e.seedMarket(t, "Alice", "Bob")
	e.open(t, market, admin)
	bet := e.createBet(t, market, users["Alice"], users["Bob"], 50, false)

	res, err := e.svc.ResolveBet(context.Background(), bet.ID, admin.ID, model.No)
	if err != nil {
		t.Fatalf("ResolveBet: %v", err)
	}
	if len(res.Payouts) != 0 || res.Dust != 0 {
		t.Errorf("result = %+v, want no payouts", res)
	}
	if got := e.balance(t, users["Alice"].ID); got != 950 {
		t.Errorf("alice balance = %d, want 950", got)
	}
}

func TestResolveBet_Rejections(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	market, admin, users := e.seedMarket(t, "Alice", "Bob")
	e.open(t, market, admin)
	bet := e.createBet(t, market, users["Alice"], users["Bob"], 50, false)

	if _, err := e.svc.ResolveBet(ctx, bet.ID, users["Alice"].ID, model.Yes); !errors.Is(err, rules.ErrAdminOnly) {
		t.Errorf("non-admin resolve: got %v, want ErrAdminOnly", err)
	}
	if _, err := e.svc.ResolveBet(ctx, bet.ID, admin.ID, model.Side("MAYBE")); !errors.Is(err, apperr.ErrConstraint) {
		t.Errorf("bad outcome: got %v, want constraint", err)
	}
	if _, err := e.svc.ResolveBet(ctx, bet.ID, admin.ID, model.Yes); err != nil {
		t.Fatalf("ResolveBet: %v", err)
	}
	if _, err := e.svc.ResolveBet(ctx, bet.ID, admin.ID, model.No); !errors.Is(err, rules.ErrAlreadyResolved) {
		t.Errorf("second resolve: got %v, want ErrAlreadyResolved", err)
	}
	if _, err := e.svc.ResolveBet(ctx, "missing", admin.ID, model.Yes); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing bet: got %v, want not found", err)
	}
	if got := e.balance(t, users["Alice"].ID); got != 1000 {
		t.Errorf("alice balance = %d, want 1000 (paid once)", got)
	}
}

func TestResolveBet_ReadFailureLeavesBetActive(t *testing.T) {
	e, hs := newHookEnv(t)
	ctx := context.Background()
	market, admin, users := e.seedMarket(t, "Alice", "Bob", "Carol")
	e.open(t, market, admin)
	bet := e.createBet(t, market, users["Alice"], users["Bob"], 100, false)
	if _, err := e.svc.PlaceWager(ctx, bet.ID, users["Carol"].ID, model.No, 100); err != nil {
		t.Fatalf("PlaceWager: %v", err)
	}

	hs.failWagers.Store(true)
	if _, err := e.svc.ResolveBet(ctx, bet.ID, admin.ID, model.Yes); !errors.Is(err, apperr.ErrInternal) {
		t.Fatalf("ResolveBet with failing store: got %v, want internal", err)
	}
	got, err := e.store.GetBet(ctx, bet.ID)
	if err != nil {
		t.Fatalf("GetBet: %v", err)
	}
	if got.Status != model.BetActive || got.ResolvedAt != nil {
		t.Errorf("bet after failed resolve = %s (resolved_at %v), want active", got.Status, got.ResolvedAt)
	}

	res, err := e.svc.ResolveBet(ctx, bet.ID, admin.ID, model.Yes)
	if err != nil {
		t.Fatalf("retry ResolveBet: %v", err)
	}
	if len(res.Payouts) != 1 || res.Payouts[0].Amount != 200 {
		t.Errorf("payouts = %+v, want alice paid 200", res.Payouts)
	}
	if got := e.balance(t, users["Alice"].ID); got != 1100 {
		t.Errorf("alice balance = %d, want 1100", got)
	}
}

// --- Markets ---

func TestJoinMarket_RejoinKeepsIdentity(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	market, _, users := e.seedMarket(t, "Alice")
	alice := users["Alice"]

	_, again, created, err := e.svc.JoinMarket(ctx, market.InviteCode, "device-Alice", "Someone Else", "🐸")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if created {
		t.Error("rejoin reported a new user")
	}
	if again.ID != alice.ID || again.DisplayName != "Alice" || again.Avatar != "🙂" {
		t.Errorf("rejoin = %+v, want original identity %+v", again, alice)
	}

	members, err := e.store.ListUsersInMarket(ctx, market.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Errorf("members = %d, want 2", len(members))
	}
}

func TestJoinMarket_CodeHandling(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	market, _, _ := e.seedMarket(t)

	lower := []rune(market.InviteCode)
	for i, r := range lower {
		if r >= 'A' && r <= 'Z' {
			lower[i] = r + ('a' - 'A')
		}
	}
	got, _, created, err := e.svc.JoinMarket(ctx, " "+string(lower)+" ", "device-x", "X", "")
	if err != nil {
		t.Fatalf("join with lowercase code: %v", err)
	}
	if !created || got.ID != market.ID {
		t.Errorf("joined %s (created=%v), want %s", got.ID, created, market.ID)
	}

	if _, _, _, err := e.svc.JoinMarket(ctx, "ZZZZZZ", "device-y", "Y", ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown code: got %v, want not found", err)
	}
	if _, _, _, err := e.svc.JoinMarket(ctx, market.InviteCode, "", "Y", ""); !errors.Is(err, apperr.ErrConstraint) {
		t.Errorf("empty device: got %v, want constraint", err)
	}
	if _, _, _, err := e.svc.JoinMarket(ctx, market.InviteCode, "device-z", "  ", ""); !errors.Is(err, apperr.ErrConstraint) {
		t.Errorf("empty name: got %v, want constraint", err)
	}
}

func TestCreateMarket_InviteCodes(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	params := service.CreateMarketParams{
		Name:            "Custom",
		AdminDeviceID:   "dev-1",
		AdminName:       "Host",
		StartingBalance: 500,
		DurationHours:   2,
		InviteCode:      "abc234",
	}

	m, _, err := e.svc.CreateMarket(ctx, params)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if m.InviteCode != "ABC234" {
		t.Errorf("invite code = %q, want ABC234", m.InviteCode)
	}

	params.AdminDeviceID = "dev-2"
	if _, _, err := e.svc.CreateMarket(ctx, params); !errors.Is(err, apperr.ErrConstraint) {
		t.Errorf("taken code: got %v, want constraint", err)
	}

	params.InviteCode = "IO01"
	if _, _, err := e.svc.CreateMarket(ctx, params); !errors.Is(err, apperr.ErrConstraint) {
		t.Errorf("malformed code: got %v, want constraint", err)
	}
}

func TestCreateMarket_Validation(t *testing.T) {
	e := newTestEnv(t)
	valid := service.CreateMarketParams{
		Name:            "Game",
		AdminDeviceID:   "dev",
		AdminName:       "Host",
		StartingBalance: 1000,
		DurationHours:   24,
	}
	tests := []struct {
		name   string
		mutate func(*service.CreateMarketParams)
	}{
		{"empty name", func(p *service.CreateMarketParams) { p.Name = " " }},
		{"no device", func(p *service.CreateMarketParams) { p.AdminDeviceID = "" }},
		{"no admin name", func(p *service.CreateMarketParams) { p.AdminName = "" }},
		{"zero balance", func(p *service.CreateMarketParams) { p.StartingBalance = 0 }},
		{"zero duration", func(p *service.CreateMarketParams) { p.DurationHours = 0 }},
		{"too long", func(p *service.CreateMarketParams) { p.DurationHours = 24*30 + 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			if _, _, err := e.svc.CreateMarket(context.Background(), p); !errors.Is(err, apperr.ErrConstraint) {
				t.Errorf("got %v, want constraint", err)
			}
		})
	}
}

func TestMarketTransitions(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	market, admin, users := e.seedMarket(t, "Alice", "Bob")
	other, otherAdmin, _ := e.seedMarket(t)

	if _, err := e.svc.CloseMarket(ctx, market.ID, admin.ID); !errors.Is(err, rules.ErrInvalidMarketStatus) {
		t.Errorf("close draft: got %v, want ErrInvalidMarketStatus", err)
	}
	if _, err := e.svc.OpenMarket(ctx, market.ID, users["Alice"].ID); !errors.Is(err, rules.ErrAdminOnly) {
		t.Errorf("non-admin open: got %v, want ErrAdminOnly", err)
	}
	if _, err := e.svc.OpenMarket(ctx, market.ID, otherAdmin.ID); !errors.Is(err, rules.ErrNotMember) {
		t.Errorf("foreign admin open: got %v, want ErrNotMember", err)
	}

	opened, err := e.svc.OpenMarket(ctx, market.ID, admin.ID)
	if err != nil || opened.Status != model.MarketOpen {
		t.Fatalf("OpenMarket = %+v, %v", opened, err)
	}
	if _, err := e.svc.OpenMarket(ctx, market.ID, admin.ID); !errors.Is(err, rules.ErrInvalidMarketStatus) {
		t.Errorf("reopen: got %v, want ErrInvalidMarketStatus", err)
	}

	bet := e.createBet(t, market, users["Alice"], users["Bob"], 10, false)

	if _, err := e.svc.CloseMarket(ctx, market.ID, admin.ID); err != nil {
		t.Fatalf("CloseMarket: %v", err)
	}
	if _, err := e.svc.PlaceWager(ctx, bet.ID, admin.ID, model.Yes, 10); !errors.Is(err, rules.ErrMarketNotOpen) {
		t.Errorf("wager on closed market: got %v, want ErrMarketNotOpen", err)
	}

	resolved, err := e.svc.ResolveMarket(ctx, market.ID, admin.ID)
	if err != nil || resolved.Status != model.MarketResolved {
		t.Fatalf("ResolveMarket = %+v, %v", resolved, err)
	}
	if _, err := e.svc.ResolveMarket(ctx, market.ID, admin.ID); !errors.Is(err, rules.ErrInvalidMarketStatus) {
		t.Errorf("resolve twice: got %v, want ErrInvalidMarketStatus", err)
	}

	if len(e.archiver.snaps) != 1 {
		t.Fatalf("archived %d snapshots, want 1", len(e.archiver.snaps))
	}
	snap := e.archiver.snaps[0]
	if snap.Reason != "resolved" || snap.Market.ID != market.ID || len(snap.Users) != 3 || len(snap.Bets) != 1 || len(snap.Wagers) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}

	stored, err := e.svc.GetMarket(ctx, other.ID)
	if err != nil || stored.Status != model.MarketDraft {
		t.Errorf("other market changed: %+v, %v", stored, err)
	}
}

func TestDeleteMarket(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	market, admin, users := e.seedMarket(t, "Alice", "Bob")
	e.open(t, market, admin)
	bet := e.createBet(t, market, users["Alice"], users["Bob"], 10, false)

	if err := e.svc.DeleteMarket(ctx, market.ID, users["Alice"].ID); !errors.Is(err, rules.ErrAdminOnly) {
		t.Errorf("non-admin delete: got %v, want ErrAdminOnly", err)
	}

	e.archiver.err = errors.New("bucket unavailable")
	if err := e.svc.DeleteMarket(ctx, market.ID, admin.ID); !errors.Is(err, apperr.ErrInternal) {
		t.Errorf("delete with failing archive: got %v, want internal", err)
	}
	if _, err := e.svc.GetMarket(ctx, market.ID); err != nil {
		t.Fatalf("market gone after failed archive: %v", err)
	}

	e.archiver.err = nil
	if err := e.svc.DeleteMarket(ctx, market.ID, admin.ID); err != nil {
		t.Fatalf("DeleteMarket: %v", err)
	}
	if len(e.archiver.snaps) != 1 || e.archiver.snaps[0].Reason != "deleted" {
		t.Errorf("snapshots = %+v", e.archiver.snaps)
	}
	if _, err := e.svc.GetMarket(ctx, market.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetMarket after delete: got %v, want not found", err)
	}
	if _, err := e.svc.GetUser(ctx, users["Alice"].ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetUser after delete: got %v, want not found", err)
	}
	if _, err := e.svc.GetBet(ctx, bet.ID, admin.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetBet after delete: got %v, want not found", err)
	}
}

func TestMarketsForDevice(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	first, _, _ := e.seedMarket(t, "Alice")
	second, _, _ := e.seedMarket(t, "Alice")

	ms, err := e.svc.MarketsForDevice(ctx, "device-Alice")
	if err != nil {
		t.Fatalf("MarketsForDevice: %v", err)
	}
	if len(ms) != 2 || ms[0].Market.ID != second.ID || ms[1].Market.ID != first.ID {
		t.Errorf("memberships = %+v, want newest first", ms)
	}
	if ms[0].User.DisplayName != "Alice" {
		t.Errorf("identity = %+v", ms[0].User)
	}

	none, err := e.svc.MarketsForDevice(ctx, "unknown")
	if err != nil || len(none) != 0 {
		t.Errorf("unknown device = %+v, %v", none, err)
	}
}

// --- Bets ---

func TestCreateBet_Rules(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	market, admin, users := e.seedMarket(t, "Alice", "Bob")
	_, _, outsiders := e.seedMarket(t, "Mallory")
	alice, bob := users["Alice"], users["Bob"]

	base := service.CreateBetParams{
		MarketID:      market.ID,
		CreatorID:     alice.ID,
		SubjectUserID: bob.ID,
		Description:   "Bob shows up late",
		InitialOdds:   "2:1",
		OpeningWager:  50,
	}
	tests := []struct {
		name   string
		mutate func(*service.CreateBetParams)
		want   error
	}{
		{"empty description", func(p *service.CreateBetParams) { p.Description = "  " }, apperr.ErrConstraint},
		{"bad odds", func(p *service.CreateBetParams) { p.InitialOdds = "evens" }, apperr.ErrConstraint},
		{"zero odds", func(p *service.CreateBetParams) { p.InitialOdds = "0:1" }, apperr.ErrConstraint},
		{"zero wager", func(p *service.CreateBetParams) { p.OpeningWager = 0 }, rules.ErrInvalidAmount},
		{"too rich", func(p *service.CreateBetParams) { p.OpeningWager = 5000 }, rules.ErrInsufficientBalance},
		{"unknown subject", func(p *service.CreateBetParams) { p.SubjectUserID = "ghost" }, apperr.ErrNotFound},
		{"foreign subject", func(p *service.CreateBetParams) { p.SubjectUserID = outsiders["Mallory"].ID }, rules.ErrNotMember},
		{"foreign creator", func(p *service.CreateBetParams) { p.CreatorID = outsiders["Mallory"].ID }, rules.ErrNotMember},
		{"unknown market", func(p *service.CreateBetParams) { p.MarketID = "nowhere" }, apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			if _, err := e.svc.CreateBet(ctx, p); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
	if got := e.balance(t, alice.ID); got != 1000 {
		t.Errorf("rejected bets debited alice: balance %d", got)
	}

	// Draft markets accept bets; a creator may name themselves.
	self := base
	self.SubjectUserID = alice.ID
	if _, err := e.svc.CreateBet(ctx, self); err != nil {
		t.Errorf("self-subject bet on draft market: %v", err)
	}

	e.open(t, market, admin)
	if _, err := e.svc.CloseMarket(ctx, market.ID, admin.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.CreateBet(ctx, base); !errors.Is(err, rules.ErrMarketNotOpen) {
		t.Errorf("bet on closed market: got %v, want ErrMarketNotOpen", err)
	}
}

// hookStore runs callbacks around selected store calls.
type hookStore struct {
	store.Store
	armed       atomic.Bool
	onGetMarket func()
	onCreateBet func(*model.Bet)
	failWagers  atomic.Bool
}

func (h *hookStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	if h.armed.CompareAndSwap(true, false) && h.onGetMarket != nil {
		h.onGetMarket()
	}
	return h.Store.GetMarket(ctx, id)
}

func (h *hookStore) CreateBet(ctx context.Context, b *model.Bet) error {
	if h.onCreateBet != nil {
		h.onCreateBet(b)
	}
	return h.Store.CreateBet(ctx, b)
}

func (h *hookStore) ListWagersForBet(ctx context.Context, betID string) ([]model.Wager, error) {
	if h.failWagers.CompareAndSwap(true, false) {
		return nil, errors.New("connection reset")
	}
	return h.Store.ListWagersForBet(ctx, betID)
}

func newHookEnv(t *testing.T) (*testEnv, *hookStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	hs := &hookStore{Store: ms}
	arch := &recordingArchiver{}
	svc := service.New(hs, lock.NewLocal(), service.WithArchiver(arch))
	return &testEnv{svc: svc, store: ms, archiver: arch}, hs
}

func TestCreateBet_SerializedWithMarketClose(t *testing.T) {
	e, hs := newHookEnv(t)
	ctx := context.Background()
	market, admin, users := e.seedMarket(t, "Alice", "Bob")
	e.open(t, market, admin)

	closeDone := make(chan error, 1)
	closedFirst := false
	hs.onGetMarket = func() {
		go func() {
			_, err := e.svc.CloseMarket(ctx, market.ID, admin.ID)
			closeDone <- err
		}()
		select {
		case err := <-closeDone:
			closedFirst = true
			closeDone <- err
		case <-time.After(100 * time.Millisecond):
		}
	}
	var statusAtWrite model.MarketStatus
	hs.onCreateBet = func(b *model.Bet) {
		m, err := e.store.GetMarket(ctx, b.MarketID)
		if err != nil {
			t.Errorf("GetMarket: %v", err)
			return
		}
		statusAtWrite = m.Status
	}
	hs.armed.Store(true)

	_, err := e.svc.CreateBet(ctx, service.CreateBetParams{
		MarketID:      market.ID,
		CreatorID:     users["Alice"].ID,
		SubjectUserID: users["Bob"].ID,
		Description:   "Bob leaves before midnight",
		InitialOdds:   "1:1",
		OpeningWager:  10,
	})
	if closedFirst {
		t.Errorf("close committed while bet creation held the market")
	}
	if err != nil {
		t.Fatalf("CreateBet: %v", err)
	}
	if statusAtWrite != model.MarketOpen {
		t.Errorf("bet written while market was %s", statusAtWrite)
	}
	if err := <-closeDone; err != nil {
		t.Fatalf("CloseMarket: %v", err)
	}
	m, _ := e.svc.GetMarket(ctx, market.ID)
	if m.Status != model.MarketClosed {
		t.Errorf("market status = %s, want closed", m.Status)
	}
}

func TestPlaceWager_Rejections(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	market, admin, users := e.seedMarket(t, "Alice", "Bob")
	_, _, outsiders := e.seedMarket(t, "Mallory")
	e.open(t, market, admin)
	bet := e.createBet(t, market, users["Alice"], users["Bob"], 100, false)

	tests := []struct {
		name   string
		userID string
		side   model.Side
		amount int64
		want   error
	}{
		{"subject", users["Bob"].ID, model.No, 10, rules.ErrCannotBetOnSelf},
		{"zero", users["Alice"].ID, model.Yes, 0, rules.ErrInvalidAmount},
		{"negative", users["Alice"].ID, model.Yes, -5, rules.ErrInvalidAmount},
		{"over balance", users["Alice"].ID, model.Yes, 901, rules.ErrInsufficientBalance},
		{"bad side", users["Alice"].ID, model.Side("maybe"), 10, apperr.ErrConstraint},
		{"outsider", outsiders["Mallory"].ID, model.Yes, 10, rules.ErrNotMember},
		{"unknown user", "ghost", model.Yes, 10, apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.PlaceWager(ctx, bet.ID, tt.userID, tt.side, tt.amount)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	_, err := e.svc.PlaceWager(ctx, bet.ID, users["Alice"].ID, model.Yes, 901)
	var ibe *rules.InsufficientBalanceError
	if !errors.As(err, &ibe) || ibe.Needed != 901 || ibe.Available != 900 {
		t.Errorf("insufficient balance detail = %+v", ibe)
	}

	if _, err := e.svc.PlaceWager(ctx, "missing", users["Alice"].ID, model.Yes, 10); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing bet: got %v, want not found", err)
	}

	got, err := e.store.GetBet(ctx, bet.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.YesPool != 100 || got.NoPool != 0 {
		t.Errorf("rejected wagers moved pools to (%d,%d)", got.YesPool, got.NoPool)
	}
}

func TestPlaceWager_SubjectRejectedForEveryRole(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	market, admin, users := e.seedMarket(t, "Alice", "Bob")
	e.open(t, market, admin)

	subjects := map[string]*model.User{"admin": admin, "creator": users["Alice"], "player": users["Bob"]}
	for role, subject := range subjects {
		t.Run(role, func(t *testing.T) {
			bet := e.createBet(t, market, users["Alice"], subject, 10, false)
			if _, err := e.svc.PlaceWager(ctx, bet.ID, subject.ID, model.Yes, 10); !errors.Is(err, rules.ErrCannotBetOnSelf) {
				t.Errorf("got %v, want ErrCannotBetOnSelf", err)
			}
		})
	}
}

func TestPlaceWager_ConcurrentConservesCoins(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	players := []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8"}
	market, admin, users := e.seedMarket(t, append(players, "subject")...)
	e.open(t, market, admin)
	bet := e.createBet(t, market, admin, users["subject"], 100, false)

	const perPlayer = 25
	var wg sync.WaitGroup
	errs := make(chan error, len(players)*perPlayer)
	for i, name := range players {
		wg.Add(1)
		go func(i int, u *model.User) {
			defer wg.Done()
			for n := 0; n < perPlayer; n++ {
				side := model.Yes
				if (i+n)%2 == 1 {
					side = model.No
				}
				if _, err := e.svc.PlaceWager(ctx, bet.ID, u.ID, side, int64(1+n%3)); err != nil {
					errs <- err
				}
			}
		}(i, users[name])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent wager: %v", err)
	}

	got, err := e.store.GetBet(ctx, bet.ID)
	if err != nil {
		t.Fatal(err)
	}
	wagers, err := e.store.ListWagersForBet(ctx, bet.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(wagers) != 1+len(players)*perPlayer {
		t.Errorf("wagers = %d, want %d", len(wagers), 1+len(players)*perPlayer)
	}
	var yes, no int64
	for _, w := range wagers {
		if w.Side == model.Yes {
			yes += w.Amount
		} else {
			no += w.Amount
		}
	}
	if got.YesPool != yes || got.NoPool != no {
		t.Errorf("pools (%d,%d) != wager sums (%d,%d)", got.YesPool, got.NoPool, yes, no)
	}

	members, err := e.store.ListUsersInMarket(ctx, market.ID)
	if err != nil {
		t.Fatal(err)
	}
	var held int64
	for _, u := range members {
		held += u.Balance
	}
	if want := int64(len(members)) * 1000; held+got.TotalPool() != want {
		t.Errorf("balances %d + pool %d = %d, want %d", held, got.TotalPool(), held+got.TotalPool(), want)
	}
}

func TestApproveBet(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	market, admin, users := e.seedMarket(t, "Alice", "Bob")
	_, otherAdmin, _ := e.seedMarket(t)
	e.open(t, market, admin)

	pending := &model.Bet{
		ID:            "bet-pending",
		MarketID:      market.ID,
		SubjectUserID: users["Bob"].ID,
		CreatedBy:     users["Alice"].ID,
		Description:   "Bob orders pineapple pizza",
		InitialOdds:   "1:1",
		Status:        model.BetPending,
		CreatedAt:     time.Now().UTC(),
	}
	if err := e.store.CreateBet(ctx, pending); err != nil {
		t.Fatal(err)
	}

	queue, err := e.svc.PendingBets(ctx, market.ID)
	if err != nil || len(queue) != 1 || queue[0].ID != pending.ID {
		t.Fatalf("PendingBets = %+v, %v", queue, err)
	}
	if _, err := e.svc.PlaceWager(ctx, pending.ID, users["Alice"].ID, model.Yes, 10); !errors.Is(err, rules.ErrBetNotActive) {
		t.Errorf("wager on pending bet: got %v, want ErrBetNotActive", err)
	}
	if _, err := e.svc.ApproveBet(ctx, pending.ID, users["Alice"].ID); !errors.Is(err, rules.ErrAdminOnly) {
		t.Errorf("non-admin approve: got %v, want ErrAdminOnly", err)
	}
	if _, err := e.svc.ApproveBet(ctx, pending.ID, otherAdmin.ID); !errors.Is(err, rules.ErrNotMember) {
		t.Errorf("foreign admin approve: got %v, want ErrNotMember", err)
	}

	approved, err := e.svc.ApproveBet(ctx, pending.ID, admin.ID)
	if err != nil || approved.Status != model.BetActive {
		t.Fatalf("ApproveBet = %+v, %v", approved, err)
	}
	again, err := e.svc.ApproveBet(ctx, pending.ID, admin.ID)
	if err != nil || again.Status != model.BetActive {
		t.Errorf("re-approve = %+v, %v, want no-op", again, err)
	}
	if queue, _ := e.svc.PendingBets(ctx, market.ID); len(queue) != 0 {
		t.Errorf("pending after approve = %+v", queue)
	}
	if _, err := e.svc.PlaceWager(ctx, pending.ID, users["Alice"].ID, model.Yes, 10); err != nil {
		t.Errorf("wager on approved bet: %v", err)
	}

	if _, err := e.svc.ResolveBet(ctx, pending.ID, admin.ID, model.No); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.ApproveBet(ctx, pending.ID, admin.ID); !errors.Is(err, rules.ErrAlreadyResolved) {
		t.Errorf("approve resolved: got %v, want ErrAlreadyResolved", err)
	}
}

// --- Visibility ---

func TestHiddenBetAndReveal(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	market, admin, users := e.seedMarket(t, "Alice", "Bob")
	alice, bob := users["Alice"], users["Bob"]
	e.open(t, market, admin)

	hidden := e.createBet(t, market, alice, bob, 20, true)
	public := e.createBet(t, market, alice, bob, 20, false)

	bobView, err := e.svc.ListBets(ctx, market.ID, bob.ID)
	if err != nil {
		t.Fatalf("ListBets: %v", err)
	}
	if len(bobView) != 2 || bobView[0].ID != public.ID || bobView[1].ID != hidden.ID {
		t.Fatalf("bob's list = %+v, want newest first", bobView)
	}
	if !bobView[1].IsHidden || bobView[1].Description != nil || bobView[1].SubjectUserID != nil {
		t.Errorf("hidden bet leaked to subject: %+v", bobView[1])
	}
	if bobView[0].IsHidden || bobView[0].Description == nil {
		t.Errorf("public bet hidden from subject: %+v", bobView[0])
	}

	aliceView, err := e.svc.GetBet(ctx, hidden.ID, alice.ID)
	if err != nil {
		t.Fatalf("GetBet: %v", err)
	}
	if aliceView.IsHidden || aliceView.Description == nil || *aliceView.Description != hidden.Description {
		t.Errorf("alice's view = %+v", aliceView)
	}

	revealed, err := e.svc.Reveal(ctx, bob.ID)
	if err != nil {
		t.Fatalf("Reveal: %v", err)
	}
	if len(revealed) != 2 {
		t.Fatalf("revealed %d bets, want 2", len(revealed))
	}
	for _, v := range revealed {
		if v.IsHidden || v.Description == nil {
			t.Errorf("revealed bet still hidden: %+v", v)
		}
	}

	if _, err := e.svc.ResolveBet(ctx, hidden.ID, admin.ID, model.Yes); err != nil {
		t.Fatal(err)
	}
	after, err := e.svc.GetBet(ctx, hidden.ID, bob.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.IsHidden {
		t.Error("resolved bet still hidden from subject")
	}

	if _, err := e.svc.Reveal(ctx, "ghost"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("reveal unknown user: got %v, want not found", err)
	}
}

// --- Leaderboard ---

func TestLeaderboard_TiesGetConsecutiveRanks(t *testing.T) {
	e := newTestEnv(t)
	market, admin, users := e.seedMarket(t, "Alice", "Bob")

	board, err := e.svc.Leaderboard(context.Background(), market.ID)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	wantOrder := []string{admin.ID, users["Alice"].ID, users["Bob"].ID}
	if len(board) != len(wantOrder) {
		t.Fatalf("entries = %d, want %d", len(board), len(wantOrder))
	}
	for i, entry := range board {
		if entry.User.ID != wantOrder[i] || entry.Rank != i+1 || entry.Profit != 0 {
			t.Errorf("entry %d = %+v, want %s rank %d", i, entry, wantOrder[i], i+1)
		}
		if entry.User.DeviceID != "" {
			t.Errorf("leaderboard exposes device id: %+v", entry.User)
		}
	}

	if _, err := e.svc.Leaderboard(context.Background(), "nowhere"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown market: got %v, want not found", err)
	}
}
