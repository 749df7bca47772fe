package models

import (
	"time"
)

// OnboardingStatus is the user's position in the forced reward-unlock sequence.
type OnboardingStatus string

const (
	OnboardingNew               OnboardingStatus = "NEW"
	OnboardingGiftRevealed      OnboardingStatus = "GIFT_REVEALED"
	OnboardingChannelsCompleted OnboardingStatus = "CHANNELS_COMPLETED"
	OnboardingAllCompleted      OnboardingStatus = "ALL_COMPLETED"
	OnboardingCompleted         OnboardingStatus = "COMPLETED"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User holds the reward balance and onboarding position of one platform account.
// Rows are never deleted.
type User struct {
	ID               string           `gorm:"primaryKey;type:uuid" json:"id"`
	PlatformID       int64            `gorm:"uniqueIndex;not null" json:"platform_id"` // Telegram user id
	Username         string           `gorm:"size:255" json:"username"`
	Balance          int64            `gorm:"not null;default:0;check:chk_users_balance,balance >= 0" json:"balance"`
	OnboardingStatus OnboardingStatus `gorm:"type:varchar(32);not null;default:'NEW';index" json:"onboarding_status"`
	Role             string           `gorm:"type:varchar(16);not null;default:'user'" json:"role"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
