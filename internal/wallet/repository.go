package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrOptimisticLock    = errors.New("optimistic lock error")
)

// Credit and Debit take an explicit db handle so callers can run them inside
// their own gorm transaction (the escrow service does this to keep stake
// debits and match writes in one atomic unit).
type WalletRepository interface {
	GetByPlayer(ctx context.Context, db *gorm.DB, playerID string) (*Wallet, error)
	CreateWallet(ctx context.Context, db *gorm.DB, playerID string) (*Wallet, error)
	Credit(ctx context.Context, db *gorm.DB, tx *Transaction) error
	Debit(ctx context.Context, db *gorm.DB, tx *Transaction) error
}

type WalletRepositoryImpl struct{}

func NewWalletRepositoryImpl() WalletRepository {
	return &WalletRepositoryImpl{}
}

func (r *WalletRepositoryImpl) GetByPlayer(ctx context.Context, db *gorm.DB, playerID string) (*Wallet, error) {
	var w Wallet
	err := db.WithContext(ctx).Where("player_id = ?", playerID).First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (r *WalletRepositoryImpl) CreateWallet(ctx context.Context, db *gorm.DB, playerID string) (*Wallet, error) {
	w := Wallet{
		WalletID: uuid.New().String(),
		PlayerID: playerID,
	}
	if err := db.WithContext(ctx).Create(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WalletRepositoryImpl) Debit(ctx context.Context, db *gorm.DB, tx *Transaction) error {
	var w Wallet
	err := db.WithContext(ctx).Where("player_id = ?", tx.PlayerID).First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrWalletNotFound
		}
		return err
	}

	if w.Balance.LessThan(tx.Amount) {
		return ErrInsufficientFunds
	}

	newBalance := w.Balance.Sub(tx.Amount)

	result := db.WithContext(ctx).Model(&Wallet{}).Where("wallet_id = ? AND version = ?", w.WalletID, w.Version).
		Updates(map[string]interface{}{
			"balance":    newBalance,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}

	tx.TransactionID = uuid.New().String()
	tx.WalletID = w.WalletID
	tx.BalanceBefore = w.Balance
	tx.BalanceAfter = newBalance
	tx.CreatedAt = time.Now()

	return db.WithContext(ctx).Create(tx).Error
}

func (r *WalletRepositoryImpl) Credit(ctx context.Context, db *gorm.DB, tx *Transaction) error {
	var w Wallet
	err := db.WithContext(ctx).Where("player_id = ?", tx.PlayerID).First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrWalletNotFound
		}
		return err
	}

	newBalance := w.Balance.Add(tx.Amount)

	result := db.WithContext(ctx).Model(&Wallet{}).Where("wallet_id = ? AND version = ?", w.WalletID, w.Version).
		Updates(map[string]interface{}{
			"balance":    newBalance,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}

	tx.TransactionID = uuid.New().String()
	tx.WalletID = w.WalletID
	tx.BalanceBefore = w.Balance
	tx.BalanceAfter = newBalance
	tx.CreatedAt = time.Now()

	return db.WithContext(ctx).Create(tx).Error
}
