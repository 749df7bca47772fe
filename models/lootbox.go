package models

import "time"

// LootBoxPrize is one entry of the draw pool. DropChance is the prize's share
// of the active pool.
type LootBoxPrize struct {
	ID          string  `gorm:"primaryKey;type:uuid" json:"id"`
	GiftID      string  `gorm:"type:uuid;index;not null" json:"gift_id"`
	Gift        *Gift   `gorm:"foreignKey:GiftID" json:"gift,omitempty"`
	DropChance  float64 `gorm:"not null;check:chk_lootbox_prizes_drop_chance,drop_chance >= 0" json:"drop_chance"`
	MaxWins     int64   `gorm:"not null" json:"max_wins"`
	CurrentWins int64   `gorm:"not null;default:0;check:chk_lootbox_prizes_wins,current_wins <= max_wins" json:"current_wins"`
	IsActive    bool    `gorm:"not null;index" json:"is_active"`
	Color       string  `gorm:"size:16" json:"color"`

	Timestamps
}

// Eligible reports whether the prize can still be drawn.
func (p *LootBoxPrize) Eligible() bool {
	return p.IsActive && p.CurrentWins < p.MaxWins
}

type DrawStatus string

const (
	DrawWon     DrawStatus = "WON"
	DrawClaimed DrawStatus = "CLAIMED"
)

type LootBoxDraw struct {
	ID        string        `gorm:"primaryKey;type:uuid" json:"id"`
	UserID    string        `gorm:"type:uuid;index;not null" json:"user_id"`
	PrizeID   string        `gorm:"type:uuid;index;not null" json:"prize_id"`
	Prize     *LootBoxPrize `gorm:"foreignKey:PrizeID" json:"prize,omitempty"`
	Status    DrawStatus    `gorm:"type:varchar(16);not null" json:"status"`
	WonAt     time.Time     `gorm:"not null;index" json:"won_at"`
	ClaimedAt *time.Time    `json:"claimed_at,omitempty"`

	Timestamps
}
