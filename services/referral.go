package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"reward-engine/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReferralRewards struct {
	Referrer int64
	Referred int64
}

// ValidationResult reports what Validate did. BonusAwarded is true only for
// the single call that paid the referral.
type ValidationResult struct {
	Validated    bool   `json:"validated"`
	ReferrerID   string `json:"referrer_id,omitempty"`
	BonusAwarded bool   `json:"bonus_awarded"`
}

type ReferralValidator struct {
	DB      *gorm.DB
	ledger  Ledger
	rewards ReferralRewards
	log     *slog.Logger
}

func NewReferralValidator(db *gorm.DB, rewards ReferralRewards, logger *slog.Logger) *ReferralValidator {
	// the referral row uses reward > 0 as its paid marker
	if rewards.Referrer <= 0 {
		rewards.Referrer = 5
	}
	if rewards.Referred < 0 {
		rewards.Referred = 0
	}
	return &ReferralValidator{DB: db, rewards: rewards, log: logger}
}

// Create links referredID to referrerID. A user can be referred only once.
func (v *ReferralValidator) Create(ctx context.Context, referrerID, referredID string) (*models.Referral, error) {
	if referrerID == "" || referredID == "" {
		return nil, fmt.Errorf("%w: referrer and referred are required", ErrValidation)
	}
	if referrerID == referredID {
		return nil, fmt.Errorf("%w: cannot refer yourself", ErrValidation)
	}

	ref := &models.Referral{
		ID:         uuid.NewString(),
		ReferrerID: referrerID,
		ReferredID: referredID,
	}
	err := v.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireUser(tx, referrerID); err != nil {
			return err
		}
		if err := requireUser(tx, referredID); err != nil {
			return err
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "referred_id"}},
			DoNothing: true,
		}).Create(ref)
		if res.Error != nil {
			return fmt.Errorf("create referral: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrAlreadyReferred, referredID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	v.log.Info("referral created", "referrer_id", referrerID, "user_id", referredID)
	return ref, nil
}

// Validate pays the referral of referredID exactly once. A user nobody
// referred is not an error.
func (v *ReferralValidator) Validate(ctx context.Context, referredID string) (ValidationResult, error) {
	var out ValidationResult
	err := v.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = v.ValidateTx(tx, referredID)
		return err
	})
	if err != nil {
		return ValidationResult{}, err
	}
	if out.BonusAwarded {
		v.log.Info("referral paid", "referrer_id", out.ReferrerID, "user_id", referredID)
	}
	return out, nil
}

func (v *ReferralValidator) ValidateTx(tx *gorm.DB, referredID string) (ValidationResult, error) {
	var ref models.Referral
	err := tx.Where("referred_id = ?", referredID).First(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ValidationResult{}, nil
	}
	if err != nil {
		return ValidationResult{}, fmt.Errorf("load referral of %s: %w", referredID, err)
	}

	done := ValidationResult{Validated: true, ReferrerID: ref.ReferrerID}
	if ref.Paid() {
		return done, nil
	}

	now := time.Now()
	res := tx.Model(&models.Referral{}).
		Where("id = ? AND reward = 0", ref.ID).
		Updates(map[string]any{"reward": v.rewards.Referrer, "validated_at": now})
	if res.Error != nil {
		return ValidationResult{}, fmt.Errorf("mark referral %s paid: %w", ref.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		// a concurrent call paid it first
		return done, nil
	}

	if err := v.ledger.Credit(tx, ref.ReferrerID, v.rewards.Referrer); err != nil {
		return ValidationResult{}, err
	}
	if err := v.ledger.Credit(tx, ref.ReferredID, v.rewards.Referred); err != nil {
		return ValidationResult{}, err
	}

	referrer, err := getUser(tx, ref.ReferrerID)
	if err != nil {
		return ValidationResult{}, err
	}
	msg := models.UserMessagePayload{
		PlatformID: referrer.PlatformID,
		Text:       fmt.Sprintf("Your friend finished onboarding. +%d to your balance!", v.rewards.Referrer),
	}
	if _, err := Enqueue(tx, models.OutboxUserMessage, msg, 0); err != nil {
		return ValidationResult{}, err
	}

	done.BonusAwarded = true
	return done, nil
}

// ValidatedCount counts the paid referrals where userID is the referrer.
func (v *ReferralValidator) ValidatedCount(ctx context.Context, userID string) (int64, error) {
	return v.ValidatedCountTx(v.DB.WithContext(ctx), userID)
}

func (v *ReferralValidator) ValidatedCountTx(tx *gorm.DB, userID string) (int64, error) {
	var n int64
	err := tx.Model(&models.Referral{}).
		Where("referrer_id = ? AND reward > 0", userID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count referrals of %s: %w", userID, err)
	}
	return n, nil
}
