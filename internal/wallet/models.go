package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Amounts are atomic currency units, so numeric(20,0) everywhere.
type Wallet struct {
	WalletID  string          `gorm:"column:wallet_id;primaryKey;type:uuid"`
	PlayerID  string          `gorm:"column:player_id;type:uuid;not null;uniqueIndex"`
	Balance   decimal.Decimal `gorm:"column:balance;type:numeric(20,0);not null;default:0"`
	Version   int             `gorm:"column:version;not null;default:1"`
	CreatedAt time.Time       `gorm:"column:created_at;not null"`
	UpdatedAt time.Time       `gorm:"column:updated_at;not null"`
}

type Transaction struct {
	TransactionID   string          `gorm:"column:transaction_id;primaryKey;type:uuid"`
	WalletID        string          `gorm:"column:wallet_id;type:uuid;not null"`
	PlayerID        string          `gorm:"column:player_id;type:uuid;not null"`
	TransactionType string          `gorm:"column:transaction_type;type:varchar(20);not null"` // "deposit", "stake", "payout", "withdrawal"
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(20,0);not null"`
	BalanceBefore   decimal.Decimal `gorm:"column:balance_before;type:numeric(20,0);not null"`
	BalanceAfter    decimal.Decimal `gorm:"column:balance_after;type:numeric(20,0);not null"`
	ReferenceID     string          `gorm:"column:reference_id;type:varchar(255);not null"` // match id or withdrawal id
	CreatedAt       time.Time       `gorm:"column:created_at;not null"`
}

type DepositRequest struct {
	PlayerID string          `json:"player_id"`
	Amount   decimal.Decimal `json:"amount"`
	Reference string         `json:"reference"`
}

type DepositResponse struct {
	TransactionID string          `json:"transaction_id"`
	Balance       decimal.Decimal `json:"balance"`
}

const (
	TxTypeDeposit    = "deposit"
	TxTypeStake      = "stake"
	TxTypePayout     = "payout"
	TxTypeWithdrawal = "withdrawal"
)
