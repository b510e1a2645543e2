package wallet

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	MaxRetries = 3
	RetryDelay = 10 * time.Millisecond
)

var ErrInvalidAmount = errors.New("amount must be positive")

type Service struct {
	db   *gorm.DB
	repo WalletRepository
}

func NewService(db *gorm.DB, repo WalletRepository) *Service {
	return &Service{db: db, repo: repo}
}

func (s *Service) GetBalance(ctx context.Context, playerID string) (*Wallet, error) {
	return s.repo.GetByPlayer(ctx, s.db, playerID)
}

// Deposit funds a player's wallet, creating it on first use. Retries on
// optimistic-lock conflicts.
func (s *Service) Deposit(ctx context.Context, req DepositRequest) (*DepositResponse, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	_, err := s.repo.GetByPlayer(ctx, s.db, req.PlayerID)
	if err != nil {
		if !errors.Is(err, ErrWalletNotFound) {
			return nil, err
		}
		if _, err = s.repo.CreateWallet(ctx, s.db, req.PlayerID); err != nil {
			return nil, err
		}
	}

	tx := &Transaction{
		PlayerID:        req.PlayerID,
		TransactionType: TxTypeDeposit,
		Amount:          req.Amount,
		ReferenceID:     req.Reference,
	}

	for i := 0; i < MaxRetries; i++ {
		err = s.repo.Credit(ctx, s.db, tx)
		if err == nil {
			return &DepositResponse{
				TransactionID: tx.TransactionID,
				Balance:       tx.BalanceAfter,
			}, nil
		}
		if errors.Is(err, ErrOptimisticLock) {
			time.Sleep(RetryDelay)
			continue
		}
		return nil, err
	}
	return nil, err
}
