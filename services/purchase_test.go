package services

import (
	"context"
	"testing"

	"reward-engine/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func giftState(t *testing.T, db *gorm.DB, id string) models.Gift {
	t.Helper()
	var g models.Gift
	if err := db.First(&g, "id = ?", id).Error; err != nil {
		t.Fatalf("load gift: %v", err)
	}
	return g
}

func TestPurchaseThenCancelRestoresEverything(t *testing.T) {
	db := openTestDB(t)
	s := NewPurchaseTransaction(db, testLogger())
	ctx := context.Background()
	u := seedUser(t, db, 100)
	gift := seedGift(t, db, 30, 1)

	p, err := s.Purchase(ctx, PurchaseRequest{BuyerID: u.ID, GiftID: gift.ID, Quantity: 1})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if p.Status != models.PurchasePending || p.TotalPrice != 30 || p.PricePerItem != 30 {
		t.Errorf("unexpected purchase %+v", p)
	}
	if got := balanceOf(t, db, u.ID); got != 70 {
		t.Errorf("expected balance 70, got %d", got)
	}
	g := giftState(t, db, gift.ID)
	if g.Quantity != 0 || g.SoldCount != 1 {
		t.Errorf("expected quantity 0 sold 1, got %d/%d", g.Quantity, g.SoldCount)
	}
	if n := outboxKinds(t, db)[models.OutboxAdminNotify]; n != 1 {
		t.Errorf("expected one admin notification, got %d", n)
	}

	p, err = s.Cancel(ctx, p.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if p.Status != models.PurchaseCancelled || p.CancelledAt == nil {
		t.Errorf("expected CANCELLED, got %s", p.Status)
	}
	if got := balanceOf(t, db, u.ID); got != 100 {
		t.Errorf("expected balance 100, got %d", got)
	}
	g = giftState(t, db, gift.ID)
	if g.Quantity != 1 || g.SoldCount != 0 {
		t.Errorf("expected quantity 1 sold 0, got %d/%d", g.Quantity, g.SoldCount)
	}

	_, err = s.Cancel(ctx, p.ID)
	mustErrorIs(t, err, ErrInvalidState)
}

func TestPurchaseInsufficientFundsRollsBackStock(t *testing.T) {
	db := openTestDB(t)
	s := NewPurchaseTransaction(db, testLogger())
	u := seedUser(t, db, 10)
	gift := seedGift(t, db, 30, 5)

	_, err := s.Purchase(context.Background(), PurchaseRequest{BuyerID: u.ID, GiftID: gift.ID, Quantity: 1})
	mustErrorIs(t, err, ErrInsufficientFunds)

	g := giftState(t, db, gift.ID)
	if g.Quantity != 5 || g.SoldCount != 0 {
		t.Errorf("stock changed: %d/%d", g.Quantity, g.SoldCount)
	}
	var n int64
	db.Model(&models.Purchase{}).Count(&n)
	if n != 0 {
		t.Errorf("expected no purchase rows, got %d", n)
	}
}

func TestPurchaseRejections(t *testing.T) {
	db := openTestDB(t)
	s := NewPurchaseTransaction(db, testLogger())
	ctx := context.Background()
	u := seedUser(t, db, 1000)
	gift := seedGift(t, db, 10, 2)

	_, err := s.Purchase(ctx, PurchaseRequest{BuyerID: u.ID, GiftID: gift.ID, Quantity: 3})
	mustErrorIs(t, err, ErrInsufficientStock)

	_, err = s.Purchase(ctx, PurchaseRequest{BuyerID: u.ID, GiftID: gift.ID, Quantity: 0})
	mustErrorIs(t, err, ErrValidation)

	_, err = s.Purchase(ctx, PurchaseRequest{BuyerID: u.ID, GiftID: uuid.NewString(), Quantity: 1})
	mustErrorIs(t, err, ErrNotFound)

	db.Model(&models.Gift{}).Where("id = ?", gift.ID).Update("is_deleted", true)
	_, err = s.Purchase(ctx, PurchaseRequest{BuyerID: u.ID, GiftID: gift.ID, Quantity: 1})
	mustErrorIs(t, err, ErrNotFound)

	if got := balanceOf(t, db, u.ID); got != 1000 {
		t.Errorf("expected balance 1000, got %d", got)
	}
}

func TestGrantPurchaseIsFree(t *testing.T) {
	db := openTestDB(t)
	s := NewPurchaseTransaction(db, testLogger())
	u := seedUser(t, db, 0)
	gift := seedGift(t, db, 500, 1)

	p, err := s.Purchase(context.Background(), PurchaseRequest{BuyerID: u.ID, GiftID: gift.ID, Quantity: 1, Grant: true})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if p.TotalPrice != 0 {
		t.Errorf("expected free purchase, got %d", p.TotalPrice)
	}
	if n := outboxKinds(t, db)[models.OutboxAdminNotify]; n != 0 {
		t.Errorf("grants are not announced, got %d notifications", n)
	}
}

func TestMarkSentIsTerminal(t *testing.T) {
	db := openTestDB(t)
	s := NewPurchaseTransaction(db, testLogger())
	ctx := context.Background()
	u := seedUser(t, db, 50)
	gift := seedGift(t, db, 10, 3)

	p, err := s.Purchase(ctx, PurchaseRequest{BuyerID: u.ID, GiftID: gift.ID, Quantity: 2})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	sent, err := s.MarkSent(ctx, p.ID)
	if err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if sent.Status != models.PurchaseSent || sent.SentAt == nil {
		t.Errorf("expected SENT, got %s", sent.Status)
	}
	if _, err := s.MarkSent(ctx, p.ID); err != nil {
		t.Errorf("repeat mark sent: %v", err)
	}
	_, err = s.Cancel(ctx, p.ID)
	mustErrorIs(t, err, ErrInvalidState)

	list, err := s.List(ctx, u.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Gift == nil {
		t.Errorf("expected one purchase with gift, got %+v", list)
	}

	cancelled, err := s.Purchase(ctx, PurchaseRequest{BuyerID: u.ID, GiftID: gift.ID, Quantity: 1})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if _, err := s.Cancel(ctx, cancelled.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, err = s.MarkSent(ctx, cancelled.ID)
	mustErrorIs(t, err, ErrInvalidState)
}
