package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrMatchNotFound  = errors.New("match not found")
	ErrConfigNotFound = errors.New("escrow config not found")
)

// Mutating methods take an explicit db handle so the service can run a whole
// operation inside one gorm transaction.
type Repository interface {
	GetMatch(ctx context.Context, db *gorm.DB, matchID uint64) (*Match, error)
	CreateMatch(ctx context.Context, db *gorm.DB, m *Match) error
	UpdateMatch(ctx context.Context, db *gorm.DB, m *Match) error
	ListStaleAwaiting(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]Match, error)

	GetActiveMatchID(ctx context.Context, db *gorm.DB, playerID string) (uint64, error)
	SetActivePointer(ctx context.Context, db *gorm.DB, playerID string, matchID uint64) error
	ClearActivePointer(ctx context.Context, db *gorm.DB, playerID string) error

	GetBalance(ctx context.Context, db *gorm.DB, accountID, kind string) (decimal.Decimal, error)
	AddToBalance(ctx context.Context, db *gorm.DB, accountID, kind string, amount decimal.Decimal) error
	SetBalance(ctx context.Context, db *gorm.DB, accountID, kind string, amount decimal.Decimal) error

	GetReferrer(ctx context.Context, db *gorm.DB, playerID string) (string, error)
	SetReferrerIfAbsent(ctx context.Context, db *gorm.DB, playerID, referrerID string) error

	GetConfig(ctx context.Context, db *gorm.DB) (*Config, error)
	SaveConfig(ctx context.Context, db *gorm.DB, cfg *Config) error

	AppendEvent(ctx context.Context, db *gorm.DB, e *Event) error
	ListEvents(ctx context.Context, db *gorm.DB, matchID uint64) ([]Event, error)
}

type RepositoryImpl struct{}

func NewRepository() Repository {
	return &RepositoryImpl{}
}

func (r *RepositoryImpl) GetMatch(ctx context.Context, db *gorm.DB, matchID uint64) (*Match, error) {
	var m Match
	err := db.WithContext(ctx).Where("match_id = ?", matchID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return &m, nil
}

func (r *RepositoryImpl) CreateMatch(ctx context.Context, db *gorm.DB, m *Match) error {
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to create match: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) UpdateMatch(ctx context.Context, db *gorm.DB, m *Match) error {
	result := db.WithContext(ctx).Model(&Match{}).Where("match_id = ?", m.MatchID).
		Updates(map[string]interface{}{
			"player_b":      m.PlayerB,
			"wager_amount":  m.WagerAmount,
			"total_deposit": m.TotalDeposit,
			"status":        m.Status,
			"active_at":     m.ActiveAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update match: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrMatchNotFound
	}
	return nil
}

func (r *RepositoryImpl) ListStaleAwaiting(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]Match, error) {
	var matches []Match
	err := db.WithContext(ctx).
		Where("status = ? AND created_at < ?", StatusAwaitingOpponent, cutoff).
		Order("match_id").
		Find(&matches).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale matches: %w", err)
	}
	return matches, nil
}

func (r *RepositoryImpl) GetActiveMatchID(ctx context.Context, db *gorm.DB, playerID string) (uint64, error) {
	var p ActiveMatch
	err := db.WithContext(ctx).Where("player_id = ?", playerID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get active pointer: %w", err)
	}
	return p.MatchID, nil
}

func (r *RepositoryImpl) SetActivePointer(ctx context.Context, db *gorm.DB, playerID string, matchID uint64) error {
	p := ActiveMatch{PlayerID: playerID, MatchID: matchID}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "player_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"match_id"}),
	}).Create(&p).Error
	if err != nil {
		return fmt.Errorf("failed to set active pointer: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) ClearActivePointer(ctx context.Context, db *gorm.DB, playerID string) error {
	err := db.WithContext(ctx).Where("player_id = ?", playerID).Delete(&ActiveMatch{}).Error
	if err != nil {
		return fmt.Errorf("failed to clear active pointer: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) GetBalance(ctx context.Context, db *gorm.DB, accountID, kind string) (decimal.Decimal, error) {
	var entry BalanceEntry
	err := db.WithContext(ctx).Where("account_id = ? AND kind = ?", accountID, kind).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return entry.Balance, nil
}

func (r *RepositoryImpl) AddToBalance(ctx context.Context, db *gorm.DB, accountID, kind string, amount decimal.Decimal) error {
	current, err := r.GetBalance(ctx, db, accountID, kind)
	if err != nil {
		return err
	}
	return r.SetBalance(ctx, db, accountID, kind, current.Add(amount))
}

func (r *RepositoryImpl) SetBalance(ctx context.Context, db *gorm.DB, accountID, kind string, amount decimal.Decimal) error {
	entry := BalanceEntry{AccountID: accountID, Kind: kind, Balance: amount, UpdatedAt: time.Now()}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"balance", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to set balance: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) GetReferrer(ctx context.Context, db *gorm.DB, playerID string) (string, error) {
	var ref Referrer
	err := db.WithContext(ctx).Where("player_id = ?", playerID).First(&ref).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get referrer: %w", err)
	}
	return ref.ReferrerID, nil
}

func (r *RepositoryImpl) SetReferrerIfAbsent(ctx context.Context, db *gorm.DB, playerID, referrerID string) error {
	ref := Referrer{PlayerID: playerID, ReferrerID: referrerID, CreatedAt: time.Now()}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "player_id"}},
		DoNothing: true,
	}).Create(&ref).Error
	if err != nil {
		return fmt.Errorf("failed to set referrer: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) GetConfig(ctx context.Context, db *gorm.DB) (*Config, error) {
	var cfg Config
	err := db.WithContext(ctx).Where("id = ?", 1).First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to get config: %w", err)
	}
	return &cfg, nil
}

func (r *RepositoryImpl) SaveConfig(ctx context.Context, db *gorm.DB, cfg *Config) error {
	cfg.ID = 1
	cfg.Version++
	cfg.UpdatedAt = time.Now()

	result := db.WithContext(ctx).Model(&Config{}).Where("id = ?", cfg.ID).
		Updates(map[string]interface{}{
			"fee_bp":             cfg.FeeBp,
			"referral_bp":        cfg.ReferralBp,
			"merge_tolerance_bp": cfg.MergeToleranceBp,
			"oracle_id":          cfg.OracleID,
			"oracle_key_pem":     cfg.OracleKeyPEM,
			"approval_epoch":     cfg.ApprovalEpoch,
			"owner_id":           cfg.OwnerID,
			"version":            cfg.Version,
			"updated_at":         cfg.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to save config: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if err := db.WithContext(ctx).Create(cfg).Error; err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
	}
	return nil
}

func (r *RepositoryImpl) AppendEvent(ctx context.Context, db *gorm.DB, e *Event) error {
	if e.EventID == "" {
		e.EventID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if err := db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) ListEvents(ctx context.Context, db *gorm.DB, matchID uint64) ([]Event, error) {
	var events []Event
	q := db.WithContext(ctx).Order("created_at")
	if matchID != 0 {
		q = q.Where("match_id = ?", matchID)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}
