package models

import "time"

// Referral records that ReferrerID invited ReferredID.
// Reward is 0 until the referral is validated, then holds the amount paid to the referrer.
type Referral struct {
	ID         string `gorm:"primaryKey;type:uuid" json:"id"`
	ReferrerID string `gorm:"type:uuid;index;not null" json:"referrer_id"`
	ReferredID string `gorm:"type:uuid;uniqueIndex;not null" json:"referred_id"` // a user can be referred at most once

	Reward      int64      `gorm:"not null;default:0;check:chk_referrals_reward,reward >= 0" json:"reward"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`

	Timestamps
}

// Paid reports whether the referrer has already been rewarded.
func (r *Referral) Paid() bool {
	return r.Reward > 0
}
