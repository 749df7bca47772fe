package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"reward-engine/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PurchaseRequest struct {
	BuyerID  string `json:"-"`
	GiftID   string `json:"gift_id"`
	Quantity int64  `json:"quantity"`
	// Grant makes the purchase free. Used to hand out onboarding prizes.
	Grant bool `json:"-"`
}

type PurchaseTransaction struct {
	DB     *gorm.DB
	ledger Ledger
	log    *slog.Logger
}

func NewPurchaseTransaction(db *gorm.DB, logger *slog.Logger) *PurchaseTransaction {
	return &PurchaseTransaction{DB: db, log: logger}
}

// Purchase takes stock, debits the buyer and records a PENDING purchase in one
// transaction.
func (s *PurchaseTransaction) Purchase(ctx context.Context, req PurchaseRequest) (*models.Purchase, error) {
	var p *models.Purchase
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		p, err = s.PurchaseTx(tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("purchase created", "purchase_id", p.ID, "user_id", p.BuyerID, "gift_id", p.GiftID, "total", p.TotalPrice)
	return p, nil
}

func (s *PurchaseTransaction) PurchaseTx(tx *gorm.DB, req PurchaseRequest) (*models.Purchase, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if req.BuyerID == "" || req.GiftID == "" {
		return nil, fmt.Errorf("%w: buyer and gift are required", ErrValidation)
	}

	gift, err := loadGift(tx, req.GiftID)
	if err != nil {
		return nil, err
	}
	price := gift.Price
	if req.Grant {
		price = 0
	}
	if price > 0 && req.Quantity > math.MaxInt64/price {
		return nil, fmt.Errorf("%w: quantity too large", ErrValidation)
	}
	total := price * req.Quantity

	res := tx.Model(&models.Gift{}).
		Where("id = ? AND is_deleted = ? AND quantity >= ?", gift.ID, false, req.Quantity).
		Updates(map[string]any{
			"quantity":   gorm.Expr("quantity - ?", req.Quantity),
			"sold_count": gorm.Expr("sold_count + ?", req.Quantity),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("take stock of gift %s: %w", gift.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: gift %s has fewer than %d left", ErrInsufficientStock, gift.ID, req.Quantity)
	}

	if err := s.ledger.Debit(tx, req.BuyerID, total); err != nil {
		return nil, err
	}

	p := &models.Purchase{
		ID:           uuid.NewString(),
		BuyerID:      req.BuyerID,
		GiftID:       gift.ID,
		Quantity:     req.Quantity,
		PricePerItem: price,
		TotalPrice:   total,
		Status:       models.PurchasePending,
	}
	if err := tx.Create(p).Error; err != nil {
		return nil, fmt.Errorf("record purchase: %w", err)
	}

	if !req.Grant {
		note := models.AdminNotifyPayload{
			Text: fmt.Sprintf("New purchase %s: user %s bought %d x %s for %d", p.ID, p.BuyerID, p.Quantity, gift.Name, p.TotalPrice),
		}
		if _, err := Enqueue(tx, models.OutboxAdminNotify, note, 0); err != nil {
			return nil, err
		}
	}
	return loadPurchase(tx, p.ID)
}

// Cancel refunds a PENDING purchase and puts its stock back.
func (s *PurchaseTransaction) Cancel(ctx context.Context, purchaseID string) (*models.Purchase, error) {
	var p *models.Purchase
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		p, err = s.CancelTx(tx, purchaseID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("purchase cancelled", "purchase_id", p.ID, "user_id", p.BuyerID, "refund", p.TotalPrice)
	return p, nil
}

func (s *PurchaseTransaction) CancelTx(tx *gorm.DB, purchaseID string) (*models.Purchase, error) {
	p, err := loadPurchase(tx, purchaseID)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PurchasePending {
		return nil, fmt.Errorf("%w: purchase %s is %s", ErrInvalidState, purchaseID, p.Status)
	}
	if p.DeliveryStartedAt != nil {
		return nil, fmt.Errorf("%w: purchase %s is being delivered", ErrInvalidState, purchaseID)
	}

	res := tx.Model(&models.Purchase{}).
		Where("id = ? AND status = ? AND delivery_started_at IS NULL", purchaseID, models.PurchasePending).
		Updates(map[string]any{"status": models.PurchaseCancelled, "cancelled_at": time.Now()})
	if res.Error != nil {
		return nil, fmt.Errorf("cancel purchase %s: %w", purchaseID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: purchase %s is no longer pending", ErrInvalidState, purchaseID)
	}

	if err := s.ledger.Credit(tx, p.BuyerID, p.TotalPrice); err != nil {
		return nil, err
	}
	res = tx.Model(&models.Gift{}).
		Where("id = ?", p.GiftID).
		Updates(map[string]any{
			"quantity":   gorm.Expr("quantity + ?", p.Quantity),
			"sold_count": gorm.Expr("sold_count - ?", p.Quantity),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("restore stock of gift %s: %w", p.GiftID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: gift %s", ErrNotFound, p.GiftID)
	}
	return loadPurchase(tx, purchaseID)
}

// MarkSent records delivery. Marking an already SENT purchase again returns it
// unchanged so redelivered outbox events stay harmless.
func (s *PurchaseTransaction) MarkSent(ctx context.Context, purchaseID string) (*models.Purchase, error) {
	db := s.DB.WithContext(ctx)
	res := db.Model(&models.Purchase{}).
		Where("id = ? AND status = ?", purchaseID, models.PurchasePending).
		Updates(map[string]any{"status": models.PurchaseSent, "sent_at": time.Now()})
	if res.Error != nil {
		return nil, fmt.Errorf("mark purchase %s sent: %w", purchaseID, res.Error)
	}
	p, err := loadPurchase(db, purchaseID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 && p.Status != models.PurchaseSent {
		return nil, fmt.Errorf("%w: purchase %s is %s", ErrInvalidState, purchaseID, p.Status)
	}
	if res.RowsAffected > 0 {
		s.log.Info("purchase sent", "purchase_id", purchaseID)
	}
	return p, nil
}

func (s *PurchaseTransaction) Get(ctx context.Context, purchaseID string) (*models.Purchase, error) {
	return loadPurchase(s.DB.WithContext(ctx), purchaseID)
}

// BeginDelivery marks a PENDING purchase as being delivered. started is false
// when the purchase is no longer PENDING or a previous delivery already began;
// the returned purchase tells which.
func (s *PurchaseTransaction) BeginDelivery(ctx context.Context, purchaseID string) (p *models.Purchase, started bool, err error) {
	db := s.DB.WithContext(ctx)
	res := db.Model(&models.Purchase{}).
		Where("id = ? AND status = ? AND delivery_started_at IS NULL", purchaseID, models.PurchasePending).
		Update("delivery_started_at", time.Now())
	if res.Error != nil {
		return nil, false, fmt.Errorf("begin delivery of purchase %s: %w", purchaseID, res.Error)
	}
	p, err = loadPurchase(db, purchaseID)
	if err != nil {
		return nil, false, err
	}
	return p, res.RowsAffected == 1, nil
}

// AbortDelivery releases a delivery that failed before reaching the user, so
// the purchase can be retried or cancelled.
func (s *PurchaseTransaction) AbortDelivery(ctx context.Context, purchaseID string) error {
	res := s.DB.WithContext(ctx).Model(&models.Purchase{}).
		Where("id = ? AND status = ?", purchaseID, models.PurchasePending).
		Update("delivery_started_at", nil)
	if res.Error != nil {
		return fmt.Errorf("abort delivery of purchase %s: %w", purchaseID, res.Error)
	}
	return nil
}

func (s *PurchaseTransaction) List(ctx context.Context, buyerID string) ([]models.Purchase, error) {
	var out []models.Purchase
	err := s.DB.WithContext(ctx).
		Preload("Gift").
		Where("buyer_id = ?", buyerID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list purchases of %s: %w", buyerID, err)
	}
	return out, nil
}

func loadGift(tx *gorm.DB, giftID string) (*models.Gift, error) {
	var g models.Gift
	err := tx.First(&g, "id = ? AND is_deleted = ?", giftID, false).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: gift %s", ErrNotFound, giftID)
	}
	if err != nil {
		return nil, fmt.Errorf("load gift %s: %w", giftID, err)
	}
	return &g, nil
}

func loadPurchase(tx *gorm.DB, purchaseID string) (*models.Purchase, error) {
	var p models.Purchase
	err := tx.Preload("Gift").First(&p, "id = ?", purchaseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: purchase %s", ErrNotFound, purchaseID)
	}
	if err != nil {
		return nil, fmt.Errorf("load purchase %s: %w", purchaseID, err)
	}
	return &p, nil
}
