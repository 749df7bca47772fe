package models

import "time"

type OutboxKind string

const (
	OutboxReferralValidate OutboxKind = "referral.validate"
	OutboxGiftDeliver      OutboxKind = "gift.deliver"
	OutboxUserMessage      OutboxKind = "user.message"
	OutboxAdminNotify      OutboxKind = "admin.notify"
)

type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxDone    OutboxStatus = "done"
	OutboxFailed  OutboxStatus = "failed"
)

// OutboxEvent is a side effect recorded in the same transaction as the state
// change that caused it. The dispatcher delivers it at least once.
type OutboxEvent struct {
	ID      string       `gorm:"primaryKey;type:uuid" json:"id"`
	Kind    OutboxKind   `gorm:"type:varchar(32);not null;index" json:"kind"`
	Payload string       `gorm:"type:text;not null" json:"payload"`
	Status  OutboxStatus `gorm:"type:varchar(16);not null;index:idx_outbox_due,priority:1" json:"status"`

	Attempts      int        `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt time.Time  `gorm:"not null;index:idx_outbox_due,priority:2" json:"next_attempt_at"`
	LockedUntil   *time.Time `json:"locked_until,omitempty"`
	LastError     string     `gorm:"type:text" json:"last_error,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`

	Timestamps
}

// Payloads carried by each kind.

type ReferralValidatePayload struct {
	UserID string `json:"user_id"`
}

type GiftDeliverPayload struct {
	PurchaseID string `json:"purchase_id"`
	UserID     string `json:"user_id"`
	PlatformID int64  `json:"platform_id"`
	GiftID     string `json:"gift_id"`
}

type UserMessagePayload struct {
	PlatformID int64  `json:"platform_id"`
	Text       string `json:"text"`
}

type AdminNotifyPayload struct {
	Text string `json:"text"`
}
