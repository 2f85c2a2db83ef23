package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cazino/engine/internal/apperr"
	"github.com/cazino/engine/internal/model"
)

// GormConfig holds connection parameters for the MySQL backend.
type GormConfig struct {
	DSN         string
	MaxConns    int
	MaxIdleTime time.Duration
}

// GormStore implements Store on MySQL through GORM.
type GormStore struct {
	conn *gorm.DB
}

// NewGormStore opens a MySQL connection and verifies it.
func NewGormStore(ctx context.Context, cfg GormConfig, log *slog.Logger) (*GormStore, error) {
	gormLogger := logger.New(
		&gormLogAdapter{log: log},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	conn, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if cfg.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxConns)
		sqlDB.SetMaxIdleConns(max(cfg.MaxConns/2, 1))
	}
	if cfg.MaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.MaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &GormStore{conn: conn}, nil
}

// Close closes the database connection.
func (s *GormStore) Close() error {
	sqlDB, err := s.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate creates or updates the tables.
func (s *GormStore) AutoMigrate() error {
	return s.conn.AutoMigrate(&marketRow{}, &userRow{}, &betRow{}, &wagerRow{})
}

// --- Markets ---

func (s *GormStore) CreateMarket(ctx context.Context, m *model.Market) error {
	row := marketToRow(m)
	return gormError(s.conn.WithContext(ctx).Create(&row).Error, "create market %s", m.ID)
}

func (s *GormStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	var row marketRow
	err := s.conn.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("market", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return row.toModel(), nil
}

func (s *GormStore) GetMarketByInviteCode(ctx context.Context, code string) (*model.Market, error) {
	var row marketRow
	err := s.conn.WithContext(ctx).Where("invite_code = ?", code).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("invite code", code)
	}
	if err != nil {
		return nil, fmt.Errorf("get market by invite %s: %w", code, err)
	}
	return row.toModel(), nil
}

func (s *GormStore) UpdateMarketStatus(ctx context.Context, id string, status model.MarketStatus) error {
	res := s.conn.WithContext(ctx).Model(&marketRow{}).Where("id = ?", id).Update("status", string(status))
	return affected(res, "market", id)
}

func (s *GormStore) DeleteMarket(ctx context.Context, id string) error {
	return s.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		betIDs := tx.Model(&betRow{}).Select("id").Where("market_id = ?", id)
		if err := tx.Where("bet_id IN (?)", betIDs).Delete(&wagerRow{}).Error; err != nil {
			return fmt.Errorf("delete wagers: %w", err)
		}
		if err := tx.Where("market_id = ?", id).Delete(&betRow{}).Error; err != nil {
			return fmt.Errorf("delete bets: %w", err)
		}
		if err := tx.Where("market_id = ?", id).Delete(&userRow{}).Error; err != nil {
			return fmt.Errorf("delete users: %w", err)
		}
		return affected(tx.Where("id = ?", id).Delete(&marketRow{}), "market", id)
	})
}

func (s *GormStore) ListMembershipsByDevice(ctx context.Context, deviceID string, limit int) ([]model.Membership, error) {
	var users []userRow
	q := s.conn.WithContext(ctx).Where("device_id = ?", deviceID).Order("joined_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list memberships for device %s: %w", deviceID, err)
	}
	if len(users) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.MarketID)
	}
	var markets []marketRow
	if err := s.conn.WithContext(ctx).Where("id IN ?", ids).Find(&markets).Error; err != nil {
		return nil, fmt.Errorf("list markets for device %s: %w", deviceID, err)
	}
	byID := make(map[string]*marketRow, len(markets))
	for i := range markets {
		byID[markets[i].ID] = &markets[i]
	}

	result := make([]model.Membership, 0, len(users))
	for _, u := range users {
		m, ok := byID[u.MarketID]
		if !ok {
			continue
		}
		result = append(result, model.Membership{Market: *m.toModel(), User: *u.toModel()})
	}
	return result, nil
}

// --- Users ---

func (s *GormStore) CreateUser(ctx context.Context, u *model.User) error {
	row := userToRow(u)
	return gormError(s.conn.WithContext(ctx).Create(&row).Error, "create user %s", u.ID)
}

func (s *GormStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var row userRow
	err := s.conn.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return row.toModel(), nil
}

func (s *GormStore) GetUserByDevice(ctx context.Context, marketID, deviceID string) (*model.User, error) {
	var row userRow
	err := s.conn.WithContext(ctx).
		Where("market_id = ? AND device_id = ?", marketID, deviceID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("device", deviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by device %s: %w", deviceID, err)
	}
	return row.toModel(), nil
}

func (s *GormStore) ListUsersInMarket(ctx context.Context, marketID string) ([]model.User, error) {
	var rows []userRow
	if err := s.conn.WithContext(ctx).Where("market_id = ?", marketID).Order("joined_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list users in market %s: %w", marketID, err)
	}
	users := make([]model.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, *r.toModel())
	}
	return users, nil
}

func (s *GormStore) UpdateUserBalance(ctx context.Context, id string, balance int64) error {
	res := s.conn.WithContext(ctx).Model(&userRow{}).Where("id = ?", id).Update("balance", balance)
	return affected(res, "user", id)
}

// --- Bets ---

func (s *GormStore) CreateBet(ctx context.Context, b *model.Bet) error {
	row := betToRow(b)
	return gormError(s.conn.WithContext(ctx).Create(&row).Error, "create bet %s", b.ID)
}

func (s *GormStore) GetBet(ctx context.Context, id string) (*model.Bet, error) {
	var row betRow
	err := s.conn.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("bet", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get bet %s: %w", id, err)
	}
	return row.toModel(), nil
}

func (s *GormStore) ListBetsInMarket(ctx context.Context, marketID string) ([]model.Bet, error) {
	return s.findBets(ctx, "created_at DESC", "market_id = ?", marketID)
}

func (s *GormStore) ListPendingBets(ctx context.Context, marketID string) ([]model.Bet, error) {
	return s.findBets(ctx, "created_at", "market_id = ? AND status = ?", marketID, string(model.BetPending))
}

func (s *GormStore) ListBetsAboutUser(ctx context.Context, userID string) ([]model.Bet, error) {
	return s.findBets(ctx, "created_at", "subject_user_id = ?", userID)
}

func (s *GormStore) findBets(ctx context.Context, order string, query string, args ...any) ([]model.Bet, error) {
	var rows []betRow
	if err := s.conn.WithContext(ctx).Where(query, args...).Order(order).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list bets: %w", err)
	}
	bets := make([]model.Bet, 0, len(rows))
	for _, r := range rows {
		bets = append(bets, *r.toModel())
	}
	return bets, nil
}

func (s *GormStore) UpdateBetStatus(ctx context.Context, id string, status model.BetStatus, resolvedAt *time.Time) error {
	updates := map[string]any{"status": string(status)}
	if resolvedAt != nil {
		updates["resolved_at"] = *resolvedAt
	}
	res := s.conn.WithContext(ctx).Model(&betRow{}).Where("id = ?", id).Updates(updates)
	return affected(res, "bet", id)
}

func (s *GormStore) UpdateBetPools(ctx context.Context, id string, yesPool, noPool int64) error {
	res := s.conn.WithContext(ctx).Model(&betRow{}).Where("id = ?", id).
		Updates(map[string]any{"yes_pool": yesPool, "no_pool": noPool})
	return affected(res, "bet", id)
}

// --- Wagers ---

func (s *GormStore) CreateWager(ctx context.Context, w *model.Wager) error {
	row := wagerToRow(w)
	return gormError(s.conn.WithContext(ctx).Create(&row).Error, "create wager %s", w.ID)
}

func (s *GormStore) ListWagersForBet(ctx context.Context, betID string) ([]model.Wager, error) {
	return s.findWagers(ctx, "bet_id = ?", betID)
}

func (s *GormStore) ListWagersForUser(ctx context.Context, userID string) ([]model.Wager, error) {
	return s.findWagers(ctx, "user_id = ?", userID)
}

func (s *GormStore) findWagers(ctx context.Context, query string, arg string) ([]model.Wager, error) {
	var rows []wagerRow
	if err := s.conn.WithContext(ctx).Where(query, arg).Order("placed_at, seq").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list wagers: %w", err)
	}
	wagers := make([]model.Wager, 0, len(rows))
	for _, r := range rows {
		wagers = append(wagers, r.toModel())
	}
	return wagers, nil
}

// affected turns a zero-row update into a not-found error.
func affected(res *gorm.DB, entity, id string) error {
	if res.Error != nil {
		return fmt.Errorf("update %s %s: %w", entity, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound(entity, id)
	}
	return nil
}

func gormError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperr.Constraint("%s: duplicate key", fmt.Sprintf(format, args...))
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// gormLogAdapter routes GORM's logger through slog.
type gormLogAdapter struct {
	log *slog.Logger
}

func (l *gormLogAdapter) Printf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...), "component", "gorm")
}

var _ Store = (*GormStore)(nil)
