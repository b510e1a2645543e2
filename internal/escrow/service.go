package escrow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"escrow_service/internal/approval"
	"escrow_service/internal/wallet"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrNotOracle  = errors.New("caller is not the oracle")
	ErrNotOwner   = errors.New("caller is not the owner")
	ErrNotCreator = errors.New("caller is not the match creator")

	ErrAlreadyInMatch   = errors.New("player already has an active match")
	ErrMatchNotJoinable = errors.New("match is not awaiting an opponent")
	ErrMatchNotActive   = errors.New("match is not active")
	ErrSelfJoin         = errors.New("cannot join your own match")
	ErrOpponentMismatch = errors.New("match creator does not match expected opponent")
	ErrInvalidWinner    = errors.New("winner is not a participant of this match")

	ErrInvalidStake  = errors.New("stake must be positive")
	ErrWagerMismatch = errors.New("payment does not match the match wager")

	ErrNothingToWithdraw = errors.New("nothing to withdraw")
	ErrValueOutOfBounds  = errors.New("configuration value out of bounds")
	ErrOracleUnchanged   = errors.New("new oracle must differ from current")
	ErrInvalidOracle     = errors.New("oracle identity must be non-empty")
	ErrEpochUnchanged    = errors.New("new epoch must be non-zero and differ from current")

	ErrMergeSameMatch    = errors.New("cannot merge a match with itself")
	ErrStalePointer      = errors.New("match is no longer its creator's active match")
	ErrSnapshotMismatch  = errors.New("matches have different fee snapshots")
	ErrToleranceExceeded = errors.New("wager difference exceeds merge tolerance")
)

// Service owns the match state machine and the pull-payment ledger. Every
// mutating operation runs inside a single gorm transaction so it either
// commits fully or leaves no trace, and the mutex serializes operations so a
// call can never observe another call's intermediate state.
type Service struct {
	db      *gorm.DB
	repo    Repository
	wallets wallet.WalletRepository
	hub     *EventHub
	mu      sync.Mutex
}

func NewService(db *gorm.DB, repo Repository, wallets wallet.WalletRepository, hub *EventHub) *Service {
	return &Service{db: db, repo: repo, wallets: wallets, hub: hub}
}

func (s *Service) publish(events []Event) {
	if s.hub == nil {
		return
	}
	for _, e := range events {
		s.hub.Publish(e)
	}
}

func (s *Service) verifyApproval(cfg *Config, token, playerID string, amount decimal.Decimal) error {
	key, err := approval.ParsePublicKey(cfg.OracleKeyPEM)
	if err != nil {
		return fmt.Errorf("oracle key unusable: %w", err)
	}
	return approval.Verify(key, token, playerID, amount, cfg.ApprovalEpoch, time.Now())
}

func (s *Service) recordReferrer(ctx context.Context, tx *gorm.DB, playerID, referrerID string) error {
	if referrerID == "" || referrerID == playerID {
		return nil
	}
	return s.repo.SetReferrerIfAbsent(ctx, tx, playerID, referrerID)
}

func matchRef(matchID uint64) string {
	return fmt.Sprintf("match:%d", matchID)
}

// CreateMatch opens a new match awaiting an opponent. The stake is debited
// from the caller's wallet in the same transaction; fee and referral rates
// are snapshotted into the match and never re-read.
func (s *Service) CreateMatch(ctx context.Context, playerID, referrerID, token string, amount decimal.Decimal) (*Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !amount.IsPositive() {
		return nil, ErrInvalidStake
	}

	var created *Match
	var events []Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cfg, err := s.repo.GetConfig(ctx, tx)
		if err != nil {
			return err
		}

		current, err := s.repo.GetActiveMatchID(ctx, tx, playerID)
		if err != nil {
			return err
		}
		if current != 0 {
			return ErrAlreadyInMatch
		}

		if err := s.verifyApproval(cfg, token, playerID, amount); err != nil {
			return err
		}

		m := &Match{
			PlayerA:            playerID,
			WagerAmount:        amount,
			TotalDeposit:       amount,
			Status:             StatusAwaitingOpponent,
			FeeBpAtCreate:      cfg.FeeBp,
			ReferralBpAtCreate: cfg.ReferralBp,
			CreatedAt:          time.Now(),
		}
		if err := s.repo.CreateMatch(ctx, tx, m); err != nil {
			return err
		}
		if err := s.repo.SetActivePointer(ctx, tx, playerID, m.MatchID); err != nil {
			return err
		}
		if err := s.recordReferrer(ctx, tx, playerID, referrerID); err != nil {
			return err
		}

		debit := &wallet.Transaction{
			PlayerID:        playerID,
			TransactionType: wallet.TxTypeStake,
			Amount:          amount,
			ReferenceID:     matchRef(m.MatchID),
		}
		if err := s.wallets.Debit(ctx, tx, debit); err != nil {
			return err
		}

		e := Event{EventType: EventMatchCreated, MatchID: m.MatchID, AccountID: playerID, Amount: amount}
		if err := s.repo.AppendEvent(ctx, tx, &e); err != nil {
			return err
		}
		events = append(events, e)
		created = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(events)
	log.Printf("Match created: match_id=%d player=%s wager=%s", created.MatchID, playerID, amount.String())
	return created, nil
}

// JoinMatch fills the second seat. expectedWager must equal the stored wager
// and, when expectedOpponent is set, it must name the creator (front-run
// guard).
func (s *Service) JoinMatch(ctx context.Context, matchID uint64, playerID, expectedOpponent string, expectedWager decimal.Decimal, referrerID, token string, amount decimal.Decimal) (*Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var joined *Match
	var events []Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cfg, err := s.repo.GetConfig(ctx, tx)
		if err != nil {
			return err
		}

		m, err := s.repo.GetMatch(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if m.Status != StatusAwaitingOpponent {
			return ErrMatchNotJoinable
		}
		if m.PlayerA == playerID {
			return ErrSelfJoin
		}
		if expectedOpponent != "" && expectedOpponent != m.PlayerA {
			return ErrOpponentMismatch
		}
		if !amount.Equal(m.WagerAmount) || !expectedWager.Equal(m.WagerAmount) {
			return ErrWagerMismatch
		}

		current, err := s.repo.GetActiveMatchID(ctx, tx, playerID)
		if err != nil {
			return err
		}
		if current != 0 {
			return ErrAlreadyInMatch
		}

		if err := s.verifyApproval(cfg, token, playerID, amount); err != nil {
			return err
		}

		now := time.Now()
		m.PlayerB = playerID
		m.TotalDeposit = m.TotalDeposit.Add(amount)
		m.Status = StatusActive
		m.ActiveAt = &now
		if err := s.repo.UpdateMatch(ctx, tx, m); err != nil {
			return err
		}
		if err := s.repo.SetActivePointer(ctx, tx, playerID, m.MatchID); err != nil {
			return err
		}
		if err := s.recordReferrer(ctx, tx, playerID, referrerID); err != nil {
			return err
		}

		debit := &wallet.Transaction{
			PlayerID:        playerID,
			TransactionType: wallet.TxTypeStake,
			Amount:          amount,
			ReferenceID:     matchRef(m.MatchID),
		}
		if err := s.wallets.Debit(ctx, tx, debit); err != nil {
			return err
		}

		e := Event{EventType: EventMatchJoined, MatchID: m.MatchID, AccountID: playerID, Amount: amount}
		if err := s.repo.AppendEvent(ctx, tx, &e); err != nil {
			return err
		}
		events = append(events, e)
		joined = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(events)
	log.Printf("Match joined: match_id=%d player=%s wager=%s", joined.MatchID, playerID, amount.String())
	return joined, nil
}

// CancelByCreator refunds an unjoined match. The refund is pushed straight to
// the creator's wallet when possible; if the wallet cannot receive it the
// amount is parked in the pull ledger instead, and the match still reaches
// its terminal state.
func (s *Service) CancelByCreator(ctx context.Context, matchID uint64, playerID string) (*Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var canceled *Match
	var events []Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := s.repo.GetMatch(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if m.Status != StatusAwaitingOpponent {
			return ErrMatchNotJoinable
		}
		if m.PlayerA != playerID {
			return ErrNotCreator
		}

		m.Status = StatusRefunded
		if err := s.repo.UpdateMatch(ctx, tx, m); err != nil {
			return err
		}
		if err := s.repo.ClearActivePointer(ctx, tx, playerID); err != nil {
			return err
		}

		refund := &wallet.Transaction{
			PlayerID:        playerID,
			TransactionType: wallet.TxTypePayout,
			Amount:          m.WagerAmount,
			ReferenceID:     matchRef(m.MatchID),
		}
		pushErr := s.wallets.Credit(ctx, tx, refund)
		if pushErr != nil {
			if !errors.Is(pushErr, wallet.ErrWalletNotFound) {
				return pushErr
			}
			// Push refused; park the refund for later withdrawal.
			if err := s.repo.AddToBalance(ctx, tx, playerID, BalancePayout, m.WagerAmount); err != nil {
				return err
			}
			e := Event{EventType: EventBalanceCredited, MatchID: m.MatchID, AccountID: playerID, Amount: m.WagerAmount}
			if err := s.repo.AppendEvent(ctx, tx, &e); err != nil {
				return err
			}
			events = append(events, e)
		}

		e := Event{EventType: EventMatchRefunded, MatchID: m.MatchID, AccountID: playerID, Amount: m.WagerAmount}
		if err := s.repo.AppendEvent(ctx, tx, &e); err != nil {
			return err
		}
		events = append(events, e)
		canceled = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(events)
	log.Printf("Match canceled by creator: match_id=%d player=%s", canceled.MatchID, playerID)
	return canceled, nil
}

// refundAwaiting closes an unjoined match with a pure ledger credit. Shared
// by the oracle cancel entry point and the stale-match sweeper.
func (s *Service) refundAwaiting(ctx context.Context, tx *gorm.DB, m *Match, events *[]Event) error {
	m.Status = StatusRefunded
	if err := s.repo.UpdateMatch(ctx, tx, m); err != nil {
		return err
	}
	if err := s.repo.ClearActivePointer(ctx, tx, m.PlayerA); err != nil {
		return err
	}
	if err := s.repo.AddToBalance(ctx, tx, m.PlayerA, BalancePayout, m.WagerAmount); err != nil {
		return err
	}
	credited := Event{EventType: EventBalanceCredited, MatchID: m.MatchID, AccountID: m.PlayerA, Amount: m.WagerAmount}
	if err := s.repo.AppendEvent(ctx, tx, &credited); err != nil {
		return err
	}
	refunded := Event{EventType: EventMatchRefunded, MatchID: m.MatchID, AccountID: m.PlayerA, Amount: m.WagerAmount}
	if err := s.repo.AppendEvent(ctx, tx, &refunded); err != nil {
		return err
	}
	*events = append(*events, credited, refunded)
	return nil
}

// CancelByOracle lets the oracle clear out an unjoined match. Active matches
// cannot be force-canceled.
func (s *Service) CancelByOracle(ctx context.Context, matchID uint64, callerID string) (*Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var canceled *Match
	var events []Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cfg, err := s.repo.GetConfig(ctx, tx)
		if err != nil {
			return err
		}
		if callerID != cfg.OracleID {
			return ErrNotOracle
		}

		m, err := s.repo.GetMatch(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if m.Status != StatusAwaitingOpponent {
			return ErrMatchNotJoinable
		}

		if err := s.refundAwaiting(ctx, tx, m, &events); err != nil {
			return err
		}
		canceled = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(events)
	log.Printf("Match canceled by oracle: match_id=%d", canceled.MatchID)
	return canceled, nil
}

// SettleMatch resolves an active match. An empty winner id is a draw: both
// wagers go back to the players' pull balances and no fee accrues. Otherwise
// the winner is credited the pot net of the snapshotted fee, with the
// referral split drawn out of the fee.
func (s *Service) SettleMatch(ctx context.Context, matchID uint64, callerID, winner string) (*Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var settled *Match
	var events []Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cfg, err := s.repo.GetConfig(ctx, tx)
		if err != nil {
			return err
		}
		if callerID != cfg.OracleID {
			return ErrNotOracle
		}

		m, err := s.repo.GetMatch(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if m.Status != StatusActive {
			return ErrMatchNotActive
		}
		if winner != "" && winner != m.PlayerA && winner != m.PlayerB {
			return ErrInvalidWinner
		}

		m.Status = StatusSettled
		if err := s.repo.UpdateMatch(ctx, tx, m); err != nil {
			return err
		}
		if err := s.repo.ClearActivePointer(ctx, tx, m.PlayerA); err != nil {
			return err
		}
		if err := s.repo.ClearActivePointer(ctx, tx, m.PlayerB); err != nil {
			return err
		}

		if winner == "" {
			for _, p := range []string{m.PlayerA, m.PlayerB} {
				if err := s.repo.AddToBalance(ctx, tx, p, BalancePayout, m.WagerAmount); err != nil {
					return err
				}
				e := Event{EventType: EventBalanceCredited, MatchID: m.MatchID, AccountID: p, Amount: m.WagerAmount}
				if err := s.repo.AppendEvent(ctx, tx, &e); err != nil {
					return err
				}
				events = append(events, e)
			}
			e := Event{EventType: EventMatchSettled, MatchID: m.MatchID}
			if err := s.repo.AppendEvent(ctx, tx, &e); err != nil {
				return err
			}
			events = append(events, e)
			settled = m
			return nil
		}

		referrerA, err := s.repo.GetReferrer(ctx, tx, m.PlayerA)
		if err != nil {
			return err
		}
		referrerB, err := s.repo.GetReferrer(ctx, tx, m.PlayerB)
		if err != nil {
			return err
		}

		split := ComputeSettlement(m.TotalDeposit, m.FeeBpAtCreate, m.ReferralBpAtCreate, referrerA, referrerB)

		if err := s.repo.AddToBalance(ctx, tx, winner, BalancePayout, split.WinnerPayout); err != nil {
			return err
		}
		e := Event{EventType: EventBalanceCredited, MatchID: m.MatchID, AccountID: winner, Amount: split.WinnerPayout}
		if err := s.repo.AppendEvent(ctx, tx, &e); err != nil {
			return err
		}
		events = append(events, e)

		for ref, amt := range split.Referrals {
			if err := s.repo.AddToBalance(ctx, tx, ref, BalanceReferral, amt); err != nil {
				return err
			}
			re := Event{EventType: EventBalanceCredited, MatchID: m.MatchID, AccountID: ref, Amount: amt}
			if err := s.repo.AppendEvent(ctx, tx, &re); err != nil {
				return err
			}
			events = append(events, re)
		}

		if split.PlatformFee.IsPositive() {
			if err := s.repo.AddToBalance(ctx, tx, cfg.OwnerID, BalanceFee, split.PlatformFee); err != nil {
				return err
			}
		}

		se := Event{EventType: EventMatchSettled, MatchID: m.MatchID, AccountID: winner, Amount: split.WinnerPayout}
		if err := s.repo.AppendEvent(ctx, tx, &se); err != nil {
			return err
		}
		events = append(events, se)
		settled = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(events)
	log.Printf("Match settled: match_id=%d winner=%s", settled.MatchID, winner)
	return settled, nil
}

// MergeMatches pairs two waiting matches whose wagers are within tolerance.
// The target becomes the active match at the smaller wager, the heavier
// depositor gets the overage back as a ledger credit, and the source is
// closed terminally with its deposit zeroed.
func (s *Service) MergeMatches(ctx context.Context, callerID string, sourceID, targetID uint64) (*Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sourceID == targetID {
		return nil, ErrMergeSameMatch
	}

	var merged *Match
	var events []Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cfg, err := s.repo.GetConfig(ctx, tx)
		if err != nil {
			return err
		}
		if callerID != cfg.OracleID {
			return ErrNotOracle
		}

		source, err := s.repo.GetMatch(ctx, tx, sourceID)
		if err != nil {
			return err
		}
		target, err := s.repo.GetMatch(ctx, tx, targetID)
		if err != nil {
			return err
		}
		if source.Status != StatusAwaitingOpponent || target.Status != StatusAwaitingOpponent {
			return ErrMatchNotJoinable
		}
		if source.PlayerA == "" || target.PlayerA == "" {
			return ErrMatchNotJoinable
		}

		srcPtr, err := s.repo.GetActiveMatchID(ctx, tx, source.PlayerA)
		if err != nil {
			return err
		}
		tgtPtr, err := s.repo.GetActiveMatchID(ctx, tx, target.PlayerA)
		if err != nil {
			return err
		}
		if srcPtr != source.MatchID || tgtPtr != target.MatchID {
			return ErrStalePointer
		}

		if source.FeeBpAtCreate != target.FeeBpAtCreate || source.ReferralBpAtCreate != target.ReferralBpAtCreate {
			return ErrSnapshotMismatch
		}
		if !withinTolerance(source.WagerAmount, target.WagerAmount, cfg.MergeToleranceBp) {
			return ErrToleranceExceeded
		}

		minWager := decimal.Min(source.WagerAmount, target.WagerAmount)

		// Credit the heavier depositor their excess over the equalized wager.
		for _, side := range []*Match{source, target} {
			overage := side.WagerAmount.Sub(minWager)
			if !overage.IsPositive() {
				continue
			}
			if err := s.repo.AddToBalance(ctx, tx, side.PlayerA, BalancePayout, overage); err != nil {
				return err
			}
			e := Event{EventType: EventBalanceCredited, MatchID: target.MatchID, AccountID: side.PlayerA, Amount: overage}
			if err := s.repo.AppendEvent(ctx, tx, &e); err != nil {
				return err
			}
			events = append(events, e)
		}

		now := time.Now()
		target.PlayerB = source.PlayerA
		target.WagerAmount = minWager
		target.TotalDeposit = minWager.Mul(two)
		target.Status = StatusActive
		target.ActiveAt = &now
		if err := s.repo.UpdateMatch(ctx, tx, target); err != nil {
			return err
		}

		source.TotalDeposit = decimal.Zero
		source.Status = StatusMerged
		if err := s.repo.UpdateMatch(ctx, tx, source); err != nil {
			return err
		}

		if err := s.repo.SetActivePointer(ctx, tx, source.PlayerA, target.MatchID); err != nil {
			return err
		}

		for _, e := range []Event{
			{EventType: EventMatchMerged, MatchID: source.MatchID, AccountID: source.PlayerA},
			{EventType: EventMatchMerged, MatchID: target.MatchID, AccountID: target.PlayerA, Amount: target.TotalDeposit},
		} {
			e := e
			if err := s.repo.AppendEvent(ctx, tx, &e); err != nil {
				return err
			}
			events = append(events, e)
		}
		merged = target
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(events)
	log.Printf("Matches merged: source=%d target=%d wager=%s", sourceID, targetID, merged.WagerAmount.String())
	return merged, nil
}

// withdraw zeroes a pull balance and pushes it to a wallet inside one
// transaction. A refused transfer rolls the zeroing back, so the balance is
// never left double-payable and never silently lost.
func (s *Service) withdraw(ctx context.Context, accountID, kind, destination string) (decimal.Decimal, error) {
	var amount decimal.Decimal
	var events []Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := s.repo.GetBalance(ctx, tx, accountID, kind)
		if err != nil {
			return err
		}
		if !balance.IsPositive() {
			return ErrNothingToWithdraw
		}

		if err := s.repo.SetBalance(ctx, tx, accountID, kind, decimal.Zero); err != nil {
			return err
		}

		credit := &wallet.Transaction{
			PlayerID:        destination,
			TransactionType: wallet.TxTypeWithdrawal,
			Amount:          balance,
			ReferenceID:     fmt.Sprintf("withdrawal:%s:%s", kind, accountID),
		}
		if err := s.wallets.Credit(ctx, tx, credit); err != nil {
			return err
		}

		e := Event{EventType: EventBalanceWithdrawn, AccountID: accountID, Amount: balance}
		if err := s.repo.AppendEvent(ctx, tx, &e); err != nil {
			return err
		}
		events = append(events, e)
		amount = balance
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	s.publish(events)
	log.Printf("Balance withdrawn: account=%s kind=%s amount=%s", accountID, kind, amount.String())
	return amount, nil
}

func (s *Service) WithdrawBalance(ctx context.Context, playerID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withdraw(ctx, playerID, BalancePayout, playerID)
}

func (s *Service) WithdrawReferralEarnings(ctx context.Context, referrerID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withdraw(ctx, referrerID, BalanceReferral, referrerID)
}

// WithdrawPlatformFees moves accrued fees to an arbitrary destination wallet.
func (s *Service) WithdrawPlatformFees(ctx context.Context, callerID, destination string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.repo.GetConfig(ctx, s.db)
	if err != nil {
		return decimal.Zero, err
	}
	if callerID != cfg.OwnerID {
		return decimal.Zero, ErrNotOwner
	}
	return s.withdraw(ctx, cfg.OwnerID, BalanceFee, destination)
}

func (s *Service) updateConfig(ctx context.Context, callerID, eventType string, mutate func(cfg *Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cfg, err := s.repo.GetConfig(ctx, tx)
		if err != nil {
			return err
		}
		if callerID != cfg.OwnerID {
			return ErrNotOwner
		}
		if err := mutate(cfg); err != nil {
			return err
		}
		if err := s.repo.SaveConfig(ctx, tx, cfg); err != nil {
			return err
		}
		e := Event{EventType: eventType, AccountID: callerID}
		if err := s.repo.AppendEvent(ctx, tx, &e); err != nil {
			return err
		}
		events = append(events, e)
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(events)
	return nil
}

func (s *Service) SetFeeRate(ctx context.Context, callerID string, bp int64) error {
	return s.updateConfig(ctx, callerID, EventConfigChanged, func(cfg *Config) error {
		if bp < 0 || bp > MaxFeeBp {
			return ErrValueOutOfBounds
		}
		cfg.FeeBp = bp
		return nil
	})
}

func (s *Service) SetReferralRate(ctx context.Context, callerID string, bp int64) error {
	return s.updateConfig(ctx, callerID, EventConfigChanged, func(cfg *Config) error {
		if bp < 0 || bp > MaxReferralBp {
			return ErrValueOutOfBounds
		}
		cfg.ReferralBp = bp
		return nil
	})
}

func (s *Service) SetMergeTolerance(ctx context.Context, callerID string, bp int64) error {
	return s.updateConfig(ctx, callerID, EventConfigChanged, func(cfg *Config) error {
		if bp < 0 || bp > MaxMergeToleranceBp {
			return ErrValueOutOfBounds
		}
		cfg.MergeToleranceBp = bp
		return nil
	})
}

// RotateOracle swaps the oracle identity and its verification key. Existing
// matches are unaffected; approvals signed by the old key stop verifying.
func (s *Service) RotateOracle(ctx context.Context, callerID, oracleID, oracleKeyPEM string) error {
	return s.updateConfig(ctx, callerID, EventOracleRotated, func(cfg *Config) error {
		if oracleID == "" {
			return ErrInvalidOracle
		}
		if oracleID == cfg.OracleID {
			return ErrOracleUnchanged
		}
		if _, err := approval.ParsePublicKey(oracleKeyPEM); err != nil {
			return fmt.Errorf("oracle key unusable: %w", err)
		}
		cfg.OracleID = oracleID
		cfg.OracleKeyPEM = oracleKeyPEM
		return nil
	})
}

// BumpApprovalEpoch invalidates every outstanding bet approval at once.
func (s *Service) BumpApprovalEpoch(ctx context.Context, callerID string, epoch int64) error {
	return s.updateConfig(ctx, callerID, EventConfigChanged, func(cfg *Config) error {
		if epoch == 0 || epoch == cfg.ApprovalEpoch {
			return ErrEpochUnchanged
		}
		cfg.ApprovalEpoch = epoch
		return nil
	})
}

// SweepStaleMatches oracle-cancels unjoined matches older than ttl. Each
// refund runs in its own transaction so one bad row cannot block the rest.
func (s *Service) SweepStaleMatches(ctx context.Context, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stale, err := s.repo.ListStaleAwaiting(ctx, s.db, time.Now().Add(-ttl))
	if err != nil {
		return 0, err
	}

	swept := 0
	for i := range stale {
		m := stale[i]
		var events []Event
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.refundAwaiting(ctx, tx, &m, &events)
		})
		if err != nil {
			log.Printf("Stale sweep failed: match_id=%d err=%v", m.MatchID, err)
			continue
		}
		s.publish(events)
		swept++
	}
	if swept > 0 {
		log.Printf("Stale matches swept: count=%d ttl=%s", swept, ttl)
	}
	return swept, nil
}

func (s *Service) GetMatch(ctx context.Context, matchID uint64) (*Match, error) {
	return s.repo.GetMatch(ctx, s.db, matchID)
}

func (s *Service) GetActiveMatchID(ctx context.Context, playerID string) (uint64, error) {
	return s.repo.GetActiveMatchID(ctx, s.db, playerID)
}

func (s *Service) CanStartMatch(ctx context.Context, playerID string) (bool, error) {
	id, err := s.repo.GetActiveMatchID(ctx, s.db, playerID)
	if err != nil {
		return false, err
	}
	return id == 0, nil
}

func (s *Service) GetConfig(ctx context.Context) (*Config, error) {
	return s.repo.GetConfig(ctx, s.db)
}

// GetBalances returns all three pull balances for an account.
func (s *Service) GetBalances(ctx context.Context, accountID string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, 3)
	for _, kind := range []string{BalancePayout, BalanceReferral, BalanceFee} {
		b, err := s.repo.GetBalance(ctx, s.db, accountID, kind)
		if err != nil {
			return nil, err
		}
		out[kind] = b
	}
	return out, nil
}

func (s *Service) ListEvents(ctx context.Context, matchID uint64) ([]Event, error) {
	return s.repo.ListEvents(ctx, s.db, matchID)
}

func (s *Service) GetReferrer(ctx context.Context, playerID string) (string, error) {
	return s.repo.GetReferrer(ctx, s.db, playerID)
}
