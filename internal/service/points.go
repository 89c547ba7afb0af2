package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"domaindns/internal/model"
)

// LedgerStore is the storage surface for the points operations outside the
// provisioning workflow: signup and verification credits, card redemption,
// and invite rewards. Every credit pairs one AdjustPoints with one
// InsertPointsTxn inside InTx.
type LedgerStore interface {
	InTx(ctx context.Context, fn func(tx LedgerStore) error) error

	FindUserByID(ctx context.Context, id int64) (*model.User, error)
	AllSettings(ctx context.Context) (map[string]string, error)
	AdjustPoints(ctx context.Context, userID int64, delta int) (int, error)
	InsertPointsTxn(ctx context.Context, txn model.PointsTransaction) error
	ListPointsTxns(ctx context.Context, userID int64, limit, offset int) ([]model.PointsTransaction, int, error)
	HasPointsTxn(ctx context.Context, userID int64, txnType string, relatedID *int64) (bool, error)

	FindCardByCode(ctx context.Context, code string) (*model.Card, error)
	InsertCard(ctx context.Context, code string, points int, usageLimit *int, expiredAt *time.Time) (int64, error)
	ListCards(ctx context.Context, limit, offset int) ([]model.Card, int, error)
	ConsumeCardUse(ctx context.Context, id int64, limit int) (int, bool, error)
	MarkCardUsed(ctx context.Context, id, userID int64, at time.Time) error

	FindInviteByCode(ctx context.Context, code string) (*model.InviteCode, error)
	FindInviteByOwner(ctx context.Context, ownerUserID int64) (*model.InviteCode, error)
	InsertInvite(ctx context.Context, code string, ownerUserID int64, maxUses *int, expiredAt *time.Time) error
	ResetInviteByOwner(ctx context.Context, ownerUserID int64, code string, maxUses *int, expiredAt *time.Time) error
	IncrementInviteUse(ctx context.Context, code string) error
	SetUserInviter(ctx context.Context, userID, inviterID int64) error
	SetUserInviteCode(ctx context.Context, userID int64, code string) error
}

// Errors specific to the points operations.
var (
	ErrCardUnavailable = errors.New("card does not exist or is no longer redeemable")
	ErrCardRedeemed    = errors.New("card already redeemed by this user")
	ErrInviteInvalid   = errors.New("invite code invalid or exhausted")
	ErrAlreadyInvited  = errors.New("an inviter is already bound to this account")
	ErrSelfInvite      = errors.New("cannot bind your own invite code")
)

type PointsService struct {
	store  LedgerStore
	logger *log.Logger
}

func NewPointsService(store LedgerStore, logger *log.Logger) *PointsService {
	return &PointsService{store: store, logger: logger}
}

func (s *PointsService) ListTransactions(ctx context.Context, userID int64, page, size int) ([]model.PointsTransaction, int, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 10
	}
	return s.store.ListPointsTxns(ctx, userID, size, (page-1)*size)
}

// AdminAdjust applies an operator-initiated signed adjustment. This is the
// only path allowed to drive a balance negative.
func (s *PointsService) AdminAdjust(ctx context.Context, userID int64, delta int, remark string) (int, error) {
	user, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	if user == nil {
		return 0, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	var balance int
	err = s.store.InTx(ctx, func(tx LedgerStore) error {
		balance, err = tx.AdjustPoints(ctx, userID, delta)
		if err != nil {
			return err
		}
		return tx.InsertPointsTxn(ctx, model.PointsTransaction{
			UserID:       userID,
			Change:       delta,
			BalanceAfter: &balance,
			Type:         model.TxnAdminAdjust,
			Remark:       remark,
		})
	})
	return balance, err
}

// RedeemCard credits a voucher's points to the user. A usage limit of -1
// means unlimited; a missing limit is legacy single-use data. Each user may
// redeem a given card at most once, guarded by the ledger itself.
func (s *PointsService) RedeemCard(ctx context.Context, userID int64, code string) (int, int, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return 0, 0, ErrCardUnavailable
	}

	card, err := s.store.FindCardByCode(ctx, code)
	if err != nil {
		return 0, 0, err
	}
	if card == nil || card.Status != "ACTIVE" {
		return 0, 0, ErrCardUnavailable
	}
	if card.ExpiredAt != nil && card.ExpiredAt.Before(time.Now()) {
		return 0, 0, ErrCardUnavailable
	}

	redeemed, err := s.store.HasPointsTxn(ctx, userID, model.TxnCardRedeem, &card.ID)
	if err != nil {
		return 0, 0, err
	}
	if redeemed {
		return 0, 0, ErrCardRedeemed
	}

	limit := 1
	if card.UsageLimit != nil {
		limit = *card.UsageLimit
	}
	if limit != -1 && card.UsedCount >= limit {
		return 0, 0, ErrCardUnavailable
	}
	if limit == 1 && card.UsedBy != nil {
		return 0, 0, ErrCardUnavailable
	}

	var balance int
	err = s.store.InTx(ctx, func(tx LedgerStore) error {
		// The guarded update is the arbiter under concurrent redemptions;
		// the checks above only ran against a stale read.
		used, ok, err := tx.ConsumeCardUse(ctx, card.ID, limit)
		if err != nil {
			return err
		}
		if !ok {
			return ErrCardUnavailable
		}
		if limit != -1 && used >= limit {
			if err := tx.MarkCardUsed(ctx, card.ID, userID, time.Now()); err != nil {
				return err
			}
		}
		b, err := tx.AdjustPoints(ctx, userID, card.Points)
		if err != nil {
			return err
		}
		balance = b
		cardID := card.ID
		return tx.InsertPointsTxn(ctx, model.PointsTransaction{
			UserID:       userID,
			Change:       card.Points,
			BalanceAfter: &balance,
			Type:         model.TxnCardRedeem,
			Remark:       "card redemption",
			RelatedID:    &cardID,
		})
	})
	if err != nil {
		return 0, 0, err
	}
	return card.Points, balance, nil
}

// CreateCards mints a batch of voucher codes worth the given points each.
func (s *PointsService) CreateCards(ctx context.Context, count, points int, usageLimit *int, validDays *int) ([]model.Card, error) {
	if count < 1 || count > 100 {
		return nil, fmt.Errorf("card batch size must be between 1 and 100")
	}
	if points < 1 {
		return nil, fmt.Errorf("card value must be positive")
	}
	var expiredAt *time.Time
	if validDays != nil {
		t := time.Now().AddDate(0, 0, *validDays)
		expiredAt = &t
	}

	cards := make([]model.Card, 0, count)
	err := s.store.InTx(ctx, func(tx LedgerStore) error {
		for i := 0; i < count; i++ {
			code := randomCode(16)
			id, err := tx.InsertCard(ctx, code, points, usageLimit, expiredAt)
			if err != nil {
				return err
			}
			cards = append(cards, model.Card{
				ID: id, Code: code, Points: points, Status: "ACTIVE",
				UsageLimit: usageLimit, ExpiredAt: expiredAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cards, nil
}

func (s *PointsService) ListCards(ctx context.Context, page, size int) ([]model.Card, int, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 10
	}
	return s.store.ListCards(ctx, size, (page-1)*size)
}

// GenerateInviteCode creates or resets the user's invite code.
func (s *PointsService) GenerateInviteCode(ctx context.Context, userID int64, maxUses *int, validDays *int) (*model.InviteCode, error) {
	code := randomCode(8)
	var expiredAt *time.Time
	if validDays != nil {
		t := time.Now().AddDate(0, 0, *validDays)
		expiredAt = &t
	}

	err := s.store.InTx(ctx, func(tx LedgerStore) error {
		existing, err := tx.FindInviteByOwner(ctx, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			if err := tx.ResetInviteByOwner(ctx, userID, code, maxUses, expiredAt); err != nil {
				return err
			}
		} else if err := tx.InsertInvite(ctx, code, userID, maxUses, expiredAt); err != nil {
			return err
		}
		return tx.SetUserInviteCode(ctx, userID, code)
	})
	if err != nil {
		return nil, err
	}
	return s.store.FindInviteByOwner(ctx, userID)
}

// BindInviteCode attaches an inviter to a user who registered without one
// and credits both sides.
func (s *PointsService) BindInviteCode(ctx context.Context, userID int64, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrInviteInvalid
	}

	me, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if me == nil {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if me.InviterID != nil {
		return ErrAlreadyInvited
	}

	invite, err := s.store.FindInviteByCode(ctx, code)
	if err != nil {
		return err
	}
	if invite == nil || invite.Status != "ACTIVE" {
		return ErrInviteInvalid
	}
	if invite.ExpiredAt != nil && invite.ExpiredAt.Before(time.Now()) {
		return ErrInviteInvalid
	}
	if invite.MaxUses != nil && *invite.MaxUses > 0 && invite.UsedCount >= *invite.MaxUses {
		return ErrInviteInvalid
	}
	if invite.OwnerUserID == userID {
		return ErrSelfInvite
	}

	settings, err := s.store.AllSettings(ctx)
	if err != nil {
		return err
	}
	inviteePoints := settingInt(settings, "invitee_points", 3)
	inviterPoints := settingInt(settings, "inviter_points", 3)

	return s.store.InTx(ctx, func(tx LedgerStore) error {
		if err := tx.SetUserInviter(ctx, userID, invite.OwnerUserID); err != nil {
			return err
		}

		balance, err := tx.AdjustPoints(ctx, userID, inviteePoints)
		if err != nil {
			return err
		}
		inviterID := invite.OwnerUserID
		if err := tx.InsertPointsTxn(ctx, model.PointsTransaction{
			UserID:       userID,
			Change:       inviteePoints,
			BalanceAfter: &balance,
			Type:         model.TxnInviteCode,
			Remark:       "invite code bonus",
			RelatedID:    &inviterID,
		}); err != nil {
			return err
		}

		inviterBalance, err := tx.AdjustPoints(ctx, invite.OwnerUserID, inviterPoints)
		if err != nil {
			return err
		}
		inviteeID := userID
		if err := tx.InsertPointsTxn(ctx, model.PointsTransaction{
			UserID:       invite.OwnerUserID,
			Change:       inviterPoints,
			BalanceAfter: &inviterBalance,
			Type:         model.TxnInviteReward,
			Remark:       fmt.Sprintf("invited %s", me.Username),
			RelatedID:    &inviteeID,
		}); err != nil {
			return err
		}

		return tx.IncrementInviteUse(ctx, invite.Code)
	})
}

// GrantSignupBonus credits the configured registration bonus. Called once,
// by registration, right after the user row is created.
func (s *PointsService) GrantSignupBonus(ctx context.Context, userID int64) error {
	settings, err := s.store.AllSettings(ctx)
	if err != nil {
		return err
	}
	bonus := settingInt(settings, "initial_register_points", 5)
	return s.store.InTx(ctx, func(tx LedgerStore) error {
		balance, err := tx.AdjustPoints(ctx, userID, bonus)
		if err != nil {
			return err
		}
		return tx.InsertPointsTxn(ctx, model.PointsTransaction{
			UserID:       userID,
			Change:       bonus,
			BalanceAfter: &balance,
			Type:         model.TxnRegister,
			Remark:       "registration bonus",
		})
	})
}

// GrantVerificationReward credits the identity-verification reward at most
// once per user.
func (s *PointsService) GrantVerificationReward(ctx context.Context, userID int64) error {
	granted, err := s.store.HasPointsTxn(ctx, userID, model.TxnVerificationReward, nil)
	if err != nil {
		return err
	}
	if granted {
		return nil
	}
	settings, err := s.store.AllSettings(ctx)
	if err != nil {
		return err
	}
	reward := settingInt(settings, "verify_reward_points", 5)
	return s.store.InTx(ctx, func(tx LedgerStore) error {
		balance, err := tx.AdjustPoints(ctx, userID, reward)
		if err != nil {
			return err
		}
		return tx.InsertPointsTxn(ctx, model.PointsTransaction{
			UserID:       userID,
			Change:       reward,
			BalanceAfter: &balance,
			Type:         model.TxnVerificationReward,
			Remark:       "verification reward",
		})
	})
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func randomCode(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b)
}
