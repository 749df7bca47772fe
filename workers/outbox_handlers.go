package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"reward-engine/models"
	"reward-engine/services"

	"github.com/redis/go-redis/v9"
)

const sentMarkerTTL = 7 * 24 * time.Hour

// Deliveries turns outbox events into messenger calls and follow-up state
// changes.
type Deliveries struct {
	Messenger services.Messenger
	Referrals *services.ReferralValidator
	Purchases *services.PurchaseTransaction
	// Redis holds sent markers; nil disables them.
	Redis *redis.Client
	Log   *slog.Logger
}

func (d *Deliveries) Register(disp *Dispatcher) {
	disp.Handle(models.OutboxReferralValidate, d.validateReferral)
	disp.Handle(models.OutboxGiftDeliver, d.deliverGift)
	disp.Handle(models.OutboxUserMessage, d.sendUserMessage)
	disp.Handle(models.OutboxAdminNotify, d.notifyAdmin)
}

func (d *Deliveries) validateReferral(ctx context.Context, ev *models.OutboxEvent) error {
	var p models.ReferralValidatePayload
	if err := json.Unmarshal([]byte(ev.Payload), &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	res, err := d.Referrals.Validate(ctx, p.UserID)
	if err != nil {
		return err
	}
	d.Log.Info("referral validation processed", "user_id", p.UserID, "validated", res.Validated, "bonus_awarded", res.BonusAwarded)
	return nil
}

// deliverGift sends the prize of a PENDING purchase. The purchase row records
// that delivery began, so a cancelled purchase is never sent and a retried
// event does not send twice.
func (d *Deliveries) deliverGift(ctx context.Context, ev *models.OutboxEvent) error {
	var p models.GiftDeliverPayload
	if err := json.Unmarshal([]byte(ev.Payload), &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	purchase, err := d.Purchases.Get(ctx, p.PurchaseID)
	if err != nil {
		return err
	}
	if purchase.Status != models.PurchasePending {
		d.Log.Info("gift delivery skipped", "purchase_id", purchase.ID, "status", purchase.Status)
		return nil
	}
	if purchase.Gift == nil {
		return fmt.Errorf("purchase %s has no gift", purchase.ID)
	}
	gift := purchase.Gift

	if gift.TelegramGiftID == "" {
		// delivered by hand; the purchase stays PENDING until an admin marks it
		return d.sendOnce(ctx, ev, func() error {
			text := fmt.Sprintf("Your prize %q is on its way. We will deliver it shortly.", gift.Name)
			return d.Messenger.SendMessage(ctx, p.PlatformID, text)
		})
	}

	purchase, started, err := d.Purchases.BeginDelivery(ctx, purchase.ID)
	if err != nil {
		return err
	}
	if !started {
		if purchase.Status != models.PurchasePending {
			d.Log.Info("gift delivery skipped", "purchase_id", purchase.ID, "status", purchase.Status)
			return nil
		}
		// an earlier attempt sent the gift but did not record it
		_, err = d.Purchases.MarkSent(ctx, purchase.ID)
		return err
	}

	ok, err := d.Messenger.SendGift(ctx, p.PlatformID, gift.TelegramGiftID, "Congratulations on finishing onboarding!")
	if err == nil && !ok {
		err = errors.New("gift was not delivered")
	}
	if err != nil {
		if abortErr := d.Purchases.AbortDelivery(ctx, purchase.ID); abortErr != nil {
			d.Log.Error("release delivery failed", "purchase_id", purchase.ID, "error", abortErr)
		}
		return err
	}
	_, err = d.Purchases.MarkSent(ctx, purchase.ID)
	return err
}

func (d *Deliveries) sendUserMessage(ctx context.Context, ev *models.OutboxEvent) error {
	var p models.UserMessagePayload
	if err := json.Unmarshal([]byte(ev.Payload), &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return d.sendOnce(ctx, ev, func() error {
		return d.Messenger.SendMessage(ctx, p.PlatformID, p.Text)
	})
}

func (d *Deliveries) notifyAdmin(ctx context.Context, ev *models.OutboxEvent) error {
	var p models.AdminNotifyPayload
	if err := json.Unmarshal([]byte(ev.Payload), &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return d.sendOnce(ctx, ev, func() error {
		return d.Messenger.NotifyAdmin(ctx, p.Text)
	})
}

// sendOnce runs send unless a previous attempt of the same event already
// got through.
func (d *Deliveries) sendOnce(ctx context.Context, ev *models.OutboxEvent, send func() error) error {
	key := fmt.Sprintf("outbox_sent_%s", ev.ID)
	if d.Redis != nil {
		n, err := d.Redis.Exists(ctx, key).Result()
		if err != nil {
			d.Log.Warn("sent marker read failed", "event_id", ev.ID, "error", err)
		} else if n > 0 {
			return nil
		}
	}
	if err := send(); err != nil {
		return err
	}
	if d.Redis != nil {
		if err := d.Redis.Set(ctx, key, "1", sentMarkerTTL).Err(); err != nil {
			d.Log.Warn("sent marker write failed", "event_id", ev.ID, "error", err)
		}
	}
	return nil
}
