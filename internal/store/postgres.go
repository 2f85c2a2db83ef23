package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cazino/engine/internal/apperr"
	"github.com/cazino/engine/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// pgUniqueViolation is the SQLSTATE for a unique constraint failure.
const pgUniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL as the source of truth.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// RunMigrations applies the embedded SQL files in lexical order and records
// each one in schema_migrations so it runs only once.
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	const createTracker = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`
	if _, err := s.pool.Exec(ctx, createTracker); err != nil {
		return fmt.Errorf("postgres: create schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		var applied bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)", name,
		).Scan(&applied); err != nil {
			return fmt.Errorf("postgres: check migration %s: %w", name, err)
		}
		if applied {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("postgres: read migration %s: %w", name, err)
		}

		err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(data)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (filename) VALUES ($1)", name)
			return err
		})
		if err != nil {
			return fmt.Errorf("postgres: apply migration %s: %w", name, err)
		}
	}
	return nil
}

// --- Markets ---

const marketColumns = `id, name, status, created_by, opens_at, closes_at, starting_balance, invite_code, created_at`

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (`+marketColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.Name, m.Status, m.CreatedBy, m.OpensAt, m.ClosesAt,
		m.StartingBalance, m.InviteCode, m.CreatedAt,
	)
	return pgError(err, "create market %s", m.ID)
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("market", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) GetMarketByInviteCode(ctx context.Context, code string) (*model.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE invite_code = $1`, code)
	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("invite code", code)
	}
	if err != nil {
		return nil, fmt.Errorf("get market by invite %s: %w", code, err)
	}
	return m, nil
}

func (s *PostgresStore) UpdateMarketStatus(ctx context.Context, id string, status model.MarketStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE markets SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update market %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("market", id)
	}
	return nil
}

func (s *PostgresStore) DeleteMarket(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM markets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("market", id)
	}
	return nil
}

func (s *PostgresStore) ListMembershipsByDevice(ctx context.Context, deviceID string, limit int) ([]model.Membership, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.name, m.status, m.created_by, m.opens_at, m.closes_at,
		        m.starting_balance, m.invite_code, m.created_at,
		        u.id, u.market_id, u.device_id, u.display_name, u.avatar,
		        u.balance, u.is_admin, u.joined_at
		 FROM users u
		 JOIN markets m ON m.id = u.market_id
		 WHERE u.device_id = $1
		 ORDER BY u.joined_at DESC
		 LIMIT $2`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list memberships for device %s: %w", deviceID, err)
	}
	defer rows.Close()

	var result []model.Membership
	for rows.Next() {
		var ms model.Membership
		m, u := &ms.Market, &ms.User
		if err := rows.Scan(
			&m.ID, &m.Name, &m.Status, &m.CreatedBy, &m.OpensAt, &m.ClosesAt,
			&m.StartingBalance, &m.InviteCode, &m.CreatedAt,
			&u.ID, &u.MarketID, &u.DeviceID, &u.DisplayName, &u.Avatar,
			&u.Balance, &u.IsAdmin, &u.JoinedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, ms)
	}
	return result, rows.Err()
}

// --- Users ---

const userColumns = `id, market_id, device_id, display_name, avatar, balance, is_admin, joined_at`

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.MarketID, u.DeviceID, u.DisplayName, u.Avatar, u.Balance, u.IsAdmin, u.JoinedAt,
	)
	return pgError(err, "create user %s", u.ID)
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByDevice(ctx context.Context, marketID, deviceID string) (*model.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE market_id = $1 AND device_id = $2`, marketID, deviceID)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("device", deviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by device %s: %w", deviceID, err)
	}
	return u, nil
}

func (s *PostgresStore) ListUsersInMarket(ctx context.Context, marketID string) ([]model.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE market_id = $1 ORDER BY joined_at, id`, marketID)
	if err != nil {
		return nil, fmt.Errorf("list users in market %s: %w", marketID, err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) UpdateUserBalance(ctx context.Context, id string, balance int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET balance = $2 WHERE id = $1`, id, balance)
	if err != nil {
		return fmt.Errorf("update user %s balance: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user", id)
	}
	return nil
}

// --- Bets ---

const betColumns = `id, market_id, subject_user_id, created_by, description, initial_odds,
	status, yes_pool, no_pool, hide_from_subject, created_at, resolved_at`

func (s *PostgresStore) CreateBet(ctx context.Context, b *model.Bet) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bets (`+betColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		b.ID, b.MarketID, b.SubjectUserID, b.CreatedBy, b.Description, b.InitialOdds,
		b.Status, b.YesPool, b.NoPool, b.HideFromSubject, b.CreatedAt, b.ResolvedAt,
	)
	return pgError(err, "create bet %s", b.ID)
}

func (s *PostgresStore) GetBet(ctx context.Context, id string) (*model.Bet, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+betColumns+` FROM bets WHERE id = $1`, id)
	b, err := scanBet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("bet", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get bet %s: %w", id, err)
	}
	return b, nil
}

func (s *PostgresStore) ListBetsInMarket(ctx context.Context, marketID string) ([]model.Bet, error) {
	return s.queryBets(ctx,
		`SELECT `+betColumns+` FROM bets WHERE market_id = $1 ORDER BY created_at DESC`, marketID)
}

func (s *PostgresStore) ListPendingBets(ctx context.Context, marketID string) ([]model.Bet, error) {
	return s.queryBets(ctx,
		`SELECT `+betColumns+` FROM bets WHERE market_id = $1 AND status = 'pending' ORDER BY created_at`, marketID)
}

func (s *PostgresStore) ListBetsAboutUser(ctx context.Context, userID string) ([]model.Bet, error) {
	return s.queryBets(ctx,
		`SELECT `+betColumns+` FROM bets WHERE subject_user_id = $1 ORDER BY created_at`, userID)
}

func (s *PostgresStore) queryBets(ctx context.Context, sql string, args ...any) ([]model.Bet, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list bets: %w", err)
	}
	defer rows.Close()

	var bets []model.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, *b)
	}
	return bets, rows.Err()
}

func (s *PostgresStore) UpdateBetStatus(ctx context.Context, id string, status model.BetStatus, resolvedAt *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bets SET status = $2, resolved_at = COALESCE($3, resolved_at) WHERE id = $1`,
		id, status, resolvedAt)
	if err != nil {
		return fmt.Errorf("update bet %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("bet", id)
	}
	return nil
}

func (s *PostgresStore) UpdateBetPools(ctx context.Context, id string, yesPool, noPool int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bets SET yes_pool = $2, no_pool = $3 WHERE id = $1`, id, yesPool, noPool)
	if err != nil {
		return fmt.Errorf("update bet %s pools: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("bet", id)
	}
	return nil
}

// --- Wagers ---

const wagerColumns = `id, bet_id, user_id, side, amount, placed_at, yes_pool_after, no_pool_after, probability_after`

func (s *PostgresStore) CreateWager(ctx context.Context, w *model.Wager) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wagers (`+wagerColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		w.ID, w.BetID, w.UserID, w.Side, w.Amount, w.PlacedAt,
		w.YesPoolAfter, w.NoPoolAfter, w.ProbabilityAfter,
	)
	return pgError(err, "create wager %s", w.ID)
}

func (s *PostgresStore) ListWagersForBet(ctx context.Context, betID string) ([]model.Wager, error) {
	return s.queryWagers(ctx,
		`SELECT `+wagerColumns+` FROM wagers WHERE bet_id = $1 ORDER BY placed_at, seq`, betID)
}

func (s *PostgresStore) ListWagersForUser(ctx context.Context, userID string) ([]model.Wager, error) {
	return s.queryWagers(ctx,
		`SELECT `+wagerColumns+` FROM wagers WHERE user_id = $1 ORDER BY placed_at, seq`, userID)
}

func (s *PostgresStore) queryWagers(ctx context.Context, sql string, args ...any) ([]model.Wager, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list wagers: %w", err)
	}
	defer rows.Close()

	var wagers []model.Wager
	for rows.Next() {
		var w model.Wager
		if err := rows.Scan(&w.ID, &w.BetID, &w.UserID, &w.Side, &w.Amount, &w.PlacedAt,
			&w.YesPoolAfter, &w.NoPoolAfter, &w.ProbabilityAfter); err != nil {
			return nil, err
		}
		wagers = append(wagers, w)
	}
	return wagers, rows.Err()
}

// --- Scanning helpers ---

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	err := row.Scan(&m.ID, &m.Name, &m.Status, &m.CreatedBy, &m.OpensAt, &m.ClosesAt,
		&m.StartingBalance, &m.InviteCode, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.MarketID, &u.DeviceID, &u.DisplayName, &u.Avatar,
		&u.Balance, &u.IsAdmin, &u.JoinedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func scanBet(row pgx.Row) (*model.Bet, error) {
	var b model.Bet
	err := row.Scan(&b.ID, &b.MarketID, &b.SubjectUserID, &b.CreatedBy, &b.Description, &b.InitialOdds,
		&b.Status, &b.YesPool, &b.NoPool, &b.HideFromSubject, &b.CreatedAt, &b.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// pgError maps unique violations to constraint errors and annotates the rest.
func pgError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return apperr.Constraint("%s already exists", pgErr.ConstraintName)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

var _ Store = (*PostgresStore)(nil)
