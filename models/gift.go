package models

import "time"

// Gift is a catalog item. Quantity is remaining stock; every unit sold moves
// one from Quantity to SoldCount.
type Gift struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	Name           string `gorm:"not null" json:"name"`
	TelegramGiftID string `gorm:"size:64" json:"telegram_gift_id,omitempty"` // empty for gifts delivered by hand
	Price          int64  `gorm:"not null;check:chk_gifts_price,price >= 0" json:"price"`
	Quantity       int64  `gorm:"not null;check:chk_gifts_quantity,quantity >= 0" json:"quantity"`
	SoldCount      int64  `gorm:"not null;default:0;check:chk_gifts_sold_count,sold_count >= 0" json:"sold_count"`
	IsDeleted      bool   `gorm:"not null;index" json:"is_deleted"`

	Timestamps
}

type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "PENDING"
	PurchaseSent      PurchaseStatus = "SENT"
	PurchaseCancelled PurchaseStatus = "CANCELLED"
)

type Purchase struct {
	ID           string         `gorm:"primaryKey;type:uuid" json:"id"`
	BuyerID      string         `gorm:"type:uuid;index;not null" json:"buyer_id"`
	GiftID       string         `gorm:"type:uuid;index;not null" json:"gift_id"`
	Gift         *Gift          `gorm:"foreignKey:GiftID" json:"gift,omitempty"`
	Quantity     int64          `gorm:"not null;check:chk_purchases_quantity,quantity > 0" json:"quantity"`
	PricePerItem int64          `gorm:"not null" json:"price_per_item"`
	TotalPrice   int64          `gorm:"not null" json:"total_price"`
	Status       PurchaseStatus `gorm:"type:varchar(16);not null;index" json:"status"`

	// DeliveryStartedAt is set while an automatic delivery is under way. It
	// blocks Cancel and keeps a retried delivery from sending twice.
	DeliveryStartedAt *time.Time `json:"delivery_started_at,omitempty"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`

	Timestamps
}
