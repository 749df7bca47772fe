package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"reward-engine/models"

	"gorm.io/gorm"
)

type OnboardingConfig struct {
	Channels          []models.Channel
	RequiredReferrals int64
	// ReferralValidationDelay postpones paying the referrer after the
	// referred user joins the channels.
	ReferralValidationDelay time.Duration
}

type OnboardingView struct {
	Status             models.OnboardingStatus `json:"status"`
	Draw               *models.LootBoxDraw     `json:"draw,omitempty"`
	ValidatedReferrals int64                   `json:"validated_referrals"`
	RequiredReferrals  int64                   `json:"required_referrals"`
	Channels           []models.Channel        `json:"channels"`
}

type ClaimGiftResult struct {
	Purchase *models.Purchase    `json:"purchase"`
	Draw     *models.LootBoxDraw `json:"draw"`
}

// OnboardingStateMachine drives a user through
// NEW → GIFT_REVEALED → CHANNELS_COMPLETED → ALL_COMPLETED → COMPLETED.
// Every transition is a conditional update on the current status.
type OnboardingStateMachine struct {
	DB        *gorm.DB
	draws     *LootBoxDrawEngine
	referrals *ReferralValidator
	purchases *PurchaseTransaction
	checker   *MembershipChecker
	cfg       OnboardingConfig
	log       *slog.Logger
}

func NewOnboardingStateMachine(
	db *gorm.DB,
	draws *LootBoxDrawEngine,
	referrals *ReferralValidator,
	purchases *PurchaseTransaction,
	checker *MembershipChecker,
	cfg OnboardingConfig,
	logger *slog.Logger,
) *OnboardingStateMachine {
	if cfg.Channels == nil {
		cfg.Channels = []models.Channel{}
	}
	return &OnboardingStateMachine{
		DB:        db,
		draws:     draws,
		referrals: referrals,
		purchases: purchases,
		checker:   checker,
		cfg:       cfg,
		log:       logger,
	}
}

// Get returns the user's onboarding state. The first call for a NEW user
// reveals the gift by drawing a prize.
func (m *OnboardingStateMachine) Get(ctx context.Context, userID string) (*OnboardingView, error) {
	var view *OnboardingView
	revealed := false
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := getUser(tx, userID)
		if err != nil {
			return err
		}
		if user.OnboardingStatus == models.OnboardingNew {
			ok, err := advance(tx, userID, models.OnboardingNew, models.OnboardingGiftRevealed)
			if err != nil {
				return err
			}
			if ok {
				if _, err := m.draws.DrawTx(tx, userID); err != nil {
					return err
				}
				revealed = true
			}
		}
		view, err = m.viewTx(tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if revealed {
		m.log.Info("onboarding gift revealed", "user_id", userID)
	}
	return view, nil
}

func (m *OnboardingStateMachine) viewTx(tx *gorm.DB, userID string) (*OnboardingView, error) {
	user, err := getUser(tx, userID)
	if err != nil {
		return nil, err
	}
	count, err := m.referrals.ValidatedCountTx(tx, userID)
	if err != nil {
		return nil, err
	}
	view := &OnboardingView{
		Status:             user.OnboardingStatus,
		ValidatedReferrals: count,
		RequiredReferrals:  m.cfg.RequiredReferrals,
		Channels:           m.cfg.Channels,
	}
	d, err := latestDraw(tx, userID, "")
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, err
	default:
		view.Draw = d
	}
	return view, nil
}

// CompleteChannels moves GIFT_REVEALED → CHANNELS_COMPLETED once the user is
// in every required channel, and schedules validation of their referral.
func (m *OnboardingStateMachine) CompleteChannels(ctx context.Context, userID string) (*OnboardingView, error) {
	user, err := getUser(m.DB.WithContext(ctx), userID)
	if err != nil {
		return nil, err
	}
	switch user.OnboardingStatus {
	case models.OnboardingGiftRevealed:
	case models.OnboardingNew:
		return nil, fmt.Errorf("%w: gift not revealed yet", ErrInvalidState)
	default:
		return m.Get(ctx, userID)
	}

	if err := m.requireChannels(ctx, user); err != nil {
		return nil, err
	}

	var view *OnboardingView
	err = m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := advance(tx, userID, models.OnboardingGiftRevealed, models.OnboardingChannelsCompleted)
		if err != nil {
			return err
		}
		if ok {
			payload := models.ReferralValidatePayload{UserID: userID}
			if _, err := Enqueue(tx, models.OutboxReferralValidate, payload, m.cfg.ReferralValidationDelay); err != nil {
				return err
			}
		}
		view, err = m.viewTx(tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("onboarding channels completed", "user_id", userID)
	return view, nil
}

// Check is the CHANNELS_COMPLETED → ALL_COMPLETED gate. It is safe to call
// repeatedly: a referral shortfall leaves the user at CHANNELS_COMPLETED and
// returns a *ReferralShortfallError.
func (m *OnboardingStateMachine) Check(ctx context.Context, userID string) (*OnboardingView, error) {
	user, err := getUser(m.DB.WithContext(ctx), userID)
	if err != nil {
		return nil, err
	}
	switch user.OnboardingStatus {
	case models.OnboardingChannelsCompleted:
	case models.OnboardingAllCompleted, models.OnboardingCompleted:
		return m.Get(ctx, userID)
	default:
		return nil, fmt.Errorf("%w: channels not completed", ErrInvalidState)
	}

	if err := m.requireChannels(ctx, user); err != nil {
		return nil, err
	}

	var (
		view      *OnboardingView
		shortfall *ReferralShortfallError
	)
	err = m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		count, err := m.referrals.ValidatedCountTx(tx, userID)
		if err != nil {
			return err
		}
		if count < m.cfg.RequiredReferrals {
			res := tx.Model(&models.User{}).
				Where("id = ? AND onboarding_status = ?", userID, models.OnboardingChannelsCompleted).
				Update("onboarding_status", models.OnboardingChannelsCompleted)
			if res.Error != nil {
				return fmt.Errorf("reset onboarding of %s: %w", userID, res.Error)
			}
			shortfall = &ReferralShortfallError{Have: count, Need: m.cfg.RequiredReferrals}
			return nil
		}

		ok, err := advance(tx, userID, models.OnboardingChannelsCompleted, models.OnboardingAllCompleted)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: onboarding of %s moved concurrently", ErrInvalidState, userID)
		}
		if _, err := m.claimDrawTx(tx, userID); err != nil {
			return err
		}
		view, err = m.viewTx(tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if shortfall != nil {
		return nil, shortfall
	}
	m.log.Info("onboarding gates passed", "user_id", userID)
	return view, nil
}

// maxClaimAttempts bounds the redraws when prizes keep hitting their cap
// between draw and claim.
const maxClaimAttempts = 3

// claimDrawTx claims the user's latest unclaimed draw. When that prize has
// become ineligible since it was drawn, a fresh draw is made and claimed.
func (m *OnboardingStateMachine) claimDrawTx(tx *gorm.DB, userID string) (*models.LootBoxDraw, error) {
	d, err := m.draws.LatestUnclaimedTx(tx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		d = nil
	case err != nil:
		return nil, err
	}
	if d != nil && (d.Prize == nil || !d.Prize.Eligible()) {
		d = nil
	}
	return m.claimOrRedrawTx(tx, userID, d)
}

// claimOrRedrawTx claims d, or a fresh draw when d is nil. Each claim runs in
// a savepoint: if the prize reached its cap after it was read, the claim is
// rolled back and the user draws again.
func (m *OnboardingStateMachine) claimOrRedrawTx(tx *gorm.DB, userID string, d *models.LootBoxDraw) (*models.LootBoxDraw, error) {
	for attempt := 1; ; attempt++ {
		if d == nil {
			var err error
			if d, err = m.draws.DrawTx(tx, userID); err != nil {
				return nil, err
			}
		}
		var claimed *models.LootBoxDraw
		err := tx.Transaction(func(sp *gorm.DB) error {
			var err error
			claimed, err = m.draws.ClaimTx(sp, d.ID)
			return err
		})
		if err == nil {
			return claimed, nil
		}
		if !errors.Is(err, ErrPrizeCapReached) || attempt >= maxClaimAttempts {
			return nil, err
		}
		m.log.Warn("prize capped before claim, redrawing", "user_id", userID, "draw_id", d.ID, "prize_id", d.PrizeID)
		d = nil
	}
}

// ClaimGift is ALL_COMPLETED → COMPLETED. The claimed prize becomes a free
// purchase and its delivery is queued.
func (m *OnboardingStateMachine) ClaimGift(ctx context.Context, userID string) (*ClaimGiftResult, error) {
	var out ClaimGiftResult
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := getUser(tx, userID)
		if err != nil {
			return err
		}
		ok, err := advance(tx, userID, models.OnboardingAllCompleted, models.OnboardingCompleted)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: onboarding is %s", ErrInvalidState, user.OnboardingStatus)
		}

		d, err := latestDraw(tx, userID, models.DrawClaimed)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: no claimed prize for user %s", ErrInvalidState, userID)
		}
		if err != nil {
			return err
		}
		if d.Prize == nil {
			return fmt.Errorf("%w: prize of draw %s", ErrNotFound, d.ID)
		}
		p, err := m.purchases.PurchaseTx(tx, PurchaseRequest{
			BuyerID:  userID,
			GiftID:   d.Prize.GiftID,
			Quantity: 1,
			Grant:    true,
		})
		if err != nil {
			return err
		}

		deliver := models.GiftDeliverPayload{
			PurchaseID: p.ID,
			UserID:     userID,
			PlatformID: user.PlatformID,
			GiftID:     p.GiftID,
		}
		if _, err := Enqueue(tx, models.OutboxGiftDeliver, deliver, 0); err != nil {
			return err
		}
		note := models.AdminNotifyPayload{
			Text: fmt.Sprintf("User %s (%d) finished onboarding and claimed %s (purchase %s)", userID, user.PlatformID, giftName(d), p.ID),
		}
		if _, err := Enqueue(tx, models.OutboxAdminNotify, note, 0); err != nil {
			return err
		}
		out = ClaimGiftResult{Purchase: p, Draw: d}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("onboarding completed", "user_id", userID, "purchase_id", out.Purchase.ID)
	return &out, nil
}

func (m *OnboardingStateMachine) requireChannels(ctx context.Context, user *models.User) error {
	if len(m.cfg.Channels) == 0 {
		return nil
	}
	missing, err := m.checker.Missing(ctx, user.PlatformID, m.cfg.Channels)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return &MissingChannelsError{Channels: missing}
	}
	return nil
}

// advance moves the user from one status to the next. It reports false when
// the user was not in from.
func advance(tx *gorm.DB, userID string, from, to models.OnboardingStatus) (bool, error) {
	res := tx.Model(&models.User{}).
		Where("id = ? AND onboarding_status = ?", userID, from).
		Update("onboarding_status", to)
	if res.Error != nil {
		return false, fmt.Errorf("advance onboarding of %s to %s: %w", userID, to, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func giftName(d *models.LootBoxDraw) string {
	if d.Prize != nil && d.Prize.Gift != nil {
		return d.Prize.Gift.Name
	}
	return "prize"
}
