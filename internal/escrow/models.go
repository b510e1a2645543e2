package escrow

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusAwaitingOpponent = "awaiting_opponent"
	StatusActive           = "active"
	StatusSettled          = "settled"
	StatusRefunded         = "refunded"
	// Merge sources get their own terminal state so the audit trail never
	// shows a "settled" match that paid nobody.
	StatusMerged = "merged"
)

// Match ids are monotonic and never reused; 0 means "no match".
type Match struct {
	MatchID           uint64          `gorm:"column:match_id;primaryKey;autoIncrement"`
	PlayerA           string          `gorm:"column:player_a;type:uuid;not null"`
	PlayerB           string          `gorm:"column:player_b;type:uuid"` // empty until joined
	WagerAmount       decimal.Decimal `gorm:"column:wager_amount;type:numeric(20,0);not null"`
	TotalDeposit      decimal.Decimal `gorm:"column:total_deposit;type:numeric(20,0);not null"`
	Status            string          `gorm:"column:status;type:varchar(20);not null"`
	FeeBpAtCreate     int64           `gorm:"column:fee_bp_at_create;not null"`
	ReferralBpAtCreate int64          `gorm:"column:referral_bp_at_create;not null"`
	CreatedAt         time.Time       `gorm:"column:created_at;not null"`
	ActiveAt          *time.Time      `gorm:"column:active_at"`
}

// ActiveMatch is the one-active-match-per-player pointer.
type ActiveMatch struct {
	PlayerID string `gorm:"column:player_id;primaryKey;type:uuid"`
	MatchID  uint64 `gorm:"column:match_id;not null"`
}

const (
	BalancePayout   = "payout"   // winnings and refunds owed to a player
	BalanceReferral = "referral" // referral commission owed to a referrer
	BalanceFee      = "fee"      // platform fees owed to the operator
)

// BalanceEntry is a pull-payment account: funds sit here until the owner
// withdraws them in full.
type BalanceEntry struct {
	AccountID string          `gorm:"column:account_id;primaryKey;type:uuid"`
	Kind      string          `gorm:"column:kind;primaryKey;type:varchar(10)"`
	Balance   decimal.Decimal `gorm:"column:balance;type:numeric(20,0);not null"`
	UpdatedAt time.Time       `gorm:"column:updated_at;not null"`
}

// Referrer is sticky: the first valid row written for a player wins and is
// never overwritten.
type Referrer struct {
	PlayerID   string    `gorm:"column:player_id;primaryKey;type:uuid"`
	ReferrerID string    `gorm:"column:referrer_id;type:uuid;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
}

// Config is the single mutable configuration row. Matches copy the fee and
// referral rates out of it at creation and never read it again.
type Config struct {
	ID               uint            `gorm:"column:id;primaryKey"`
	FeeBp            int64           `gorm:"column:fee_bp;not null"`
	ReferralBp       int64           `gorm:"column:referral_bp;not null"`
	MergeToleranceBp int64           `gorm:"column:merge_tolerance_bp;not null"`
	OracleID         string          `gorm:"column:oracle_id;type:uuid;not null"`
	OracleKeyPEM     string          `gorm:"column:oracle_key_pem;type:text;not null"`
	ApprovalEpoch    int64           `gorm:"column:approval_epoch;not null"`
	OwnerID          string          `gorm:"column:owner_id;type:uuid;not null"`
	Version          int             `gorm:"column:version;not null"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;not null"`
}

const (
	EventMatchCreated     = "match_created"
	EventMatchJoined      = "match_joined"
	EventMatchSettled     = "match_settled"
	EventMatchRefunded    = "match_refunded"
	EventMatchMerged      = "match_merged"
	EventBalanceCredited  = "balance_credited"
	EventBalanceWithdrawn = "balance_withdrawn"
	EventConfigChanged    = "config_changed"
	EventOracleRotated    = "oracle_rotated"
)

// Event is the append-only audit record; every row is also broadcast through
// the in-process hub after the surrounding transaction commits.
type Event struct {
	EventID   string          `gorm:"column:event_id;primaryKey;type:uuid"`
	EventType string          `gorm:"column:event_type;type:varchar(30);not null"`
	MatchID   uint64          `gorm:"column:match_id;index"`
	AccountID string          `gorm:"column:account_id;type:uuid"`
	Amount    decimal.Decimal `gorm:"column:amount;type:numeric(20,0);not null"`
	CreatedAt time.Time       `gorm:"column:created_at;not null"`
}

type MatchView struct {
	MatchID            uint64          `json:"match_id"`
	PlayerA            string          `json:"player_a"`
	PlayerB            string          `json:"player_b,omitempty"`
	WagerAmount        decimal.Decimal `json:"wager_amount"`
	TotalDeposit       decimal.Decimal `json:"total_deposit"`
	Status             string          `json:"status"`
	FeeBpAtCreate      int64           `json:"fee_bp_at_create"`
	ReferralBpAtCreate int64           `json:"referral_bp_at_create"`
	CreatedAt          time.Time       `json:"created_at"`
	ActiveAt           *time.Time      `json:"active_at,omitempty"`
}

func (m *Match) View() MatchView {
	return MatchView{
		MatchID:            m.MatchID,
		PlayerA:            m.PlayerA,
		PlayerB:            m.PlayerB,
		WagerAmount:        m.WagerAmount,
		TotalDeposit:       m.TotalDeposit,
		Status:             m.Status,
		FeeBpAtCreate:      m.FeeBpAtCreate,
		ReferralBpAtCreate: m.ReferralBpAtCreate,
		CreatedAt:          m.CreatedAt,
		ActiveAt:           m.ActiveAt,
	}
}
