package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type TaskType string

const (
	TaskTypeTelegramSubscription TaskType = "TELEGRAM_SUBSCRIPTION"
	TaskTypeFreeBonus            TaskType = "FREE_BONUS"
)

// TaskDuration is the availability window class; ExpiresAt is derived from it.
type TaskDuration string

const (
	TaskDurationDay       TaskDuration = "DAY"
	TaskDurationWeek      TaskDuration = "WEEK"
	TaskDurationMonth     TaskDuration = "MONTH"
	TaskDurationUnlimited TaskDuration = "UNLIMITED"
)

// ExpiresAt returns the end of the window that starts at startsAt, or nil for UNLIMITED.
func (d TaskDuration) ExpiresAt(startsAt time.Time) *time.Time {
	var span time.Duration
	switch d {
	case TaskDurationDay:
		span = 24 * time.Hour
	case TaskDurationWeek:
		span = 7 * 24 * time.Hour
	case TaskDurationMonth:
		span = 30 * 24 * time.Hour
	default:
		return nil
	}
	t := startsAt.Add(span)
	return &t
}

type Task struct {
	ID       string       `gorm:"primaryKey;type:uuid" json:"id"`
	Title    string       `gorm:"not null" json:"title"`
	Type     TaskType     `gorm:"type:varchar(32);not null" json:"type"`
	Duration TaskDuration `gorm:"type:varchar(16);not null;default:'UNLIMITED'" json:"duration"`
	Reward   int64        `gorm:"not null;check:chk_tasks_reward,reward >= 0" json:"reward"`

	StartsAt  time.Time  `gorm:"not null" json:"starts_at"`
	ExpiresAt *time.Time `gorm:"index" json:"expires_at,omitempty"`

	// no gorm defaults on the flags: a false value must reach the INSERT
	IsActive  bool `gorm:"not null" json:"is_active"`
	IsVisible bool `gorm:"not null" json:"is_visible"`

	CompletedCount int64  `gorm:"not null;default:0" json:"completed_count"`
	MaxCompletions *int64 `json:"max_completions,omitempty"`

	Meta TaskMeta `gorm:"type:text" json:"meta"`

	Timestamps
}

// BeforeSave derives ExpiresAt from Duration whenever the task is created or edited.
func (t *Task) BeforeSave(tx *gorm.DB) error {
	if t.StartsAt.IsZero() {
		t.StartsAt = time.Now()
	}
	t.ExpiresAt = t.Duration.ExpiresAt(t.StartsAt)
	return nil
}

// IsOpen reports whether users can interact with the task at now.
func (t *Task) IsOpen(now time.Time) bool {
	if !t.IsActive || !t.IsVisible {
		return false
	}
	if now.Before(t.StartsAt) {
		return false
	}
	return t.ExpiresAt == nil || now.Before(*t.ExpiresAt)
}

// CapReached reports whether MaxCompletions has been hit.
func (t *Task) CapReached() bool {
	return t.MaxCompletions != nil && t.CompletedCount >= *t.MaxCompletions
}

// TaskConfig is the per-type configuration of a task. Each variant carries only
// the fields its task type needs.
type TaskConfig interface {
	TaskType() TaskType
}

// SubscriptionConfig configures a TELEGRAM_SUBSCRIPTION task.
type SubscriptionConfig struct {
	ChatID     int64  `json:"chat_id"`
	ChannelURL string `json:"channel_url"`
}

func (SubscriptionConfig) TaskType() TaskType { return TaskTypeTelegramSubscription }

// FreeBonusConfig configures a FREE_BONUS task. It has no fields.
type FreeBonusConfig struct{}

func (FreeBonusConfig) TaskType() TaskType { return TaskTypeFreeBonus }

// TaskMeta stores a TaskConfig as {"type": ..., "data": ...} in a text column.
type TaskMeta struct {
	Config TaskConfig
}

type taskMetaEnvelope struct {
	Type TaskType        `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (m TaskMeta) GormDataType() string {
	return "text"
}

func (m TaskMeta) MarshalJSON() ([]byte, error) {
	if m.Config == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(m.Config)
	if err != nil {
		return nil, err
	}
	return json.Marshal(taskMetaEnvelope{Type: m.Config.TaskType(), Data: data})
}

func (m *TaskMeta) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		m.Config = nil
		return nil
	}
	var env taskMetaEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	switch env.Type {
	case TaskTypeTelegramSubscription:
		var c SubscriptionConfig
		if err := json.Unmarshal(env.Data, &c); err != nil {
			return fmt.Errorf("subscription task meta: %w", err)
		}
		m.Config = c
	case TaskTypeFreeBonus:
		m.Config = FreeBonusConfig{}
	default:
		return fmt.Errorf("unknown task meta type %q", env.Type)
	}
	return nil
}

func (m TaskMeta) Value() (driver.Value, error) {
	if m.Config == nil {
		return nil, nil
	}
	b, err := m.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *TaskMeta) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		m.Config = nil
		return nil
	case []byte:
		return m.UnmarshalJSON(v)
	case string:
		return m.UnmarshalJSON([]byte(v))
	default:
		return errors.New("task meta: unsupported column type")
	}
}

type UserTaskStatus string

const (
	UserTaskAvailable  UserTaskStatus = "AVAILABLE"
	UserTaskInProgress UserTaskStatus = "IN_PROGRESS"
	UserTaskCompleted  UserTaskStatus = "COMPLETED"
	UserTaskClaimed    UserTaskStatus = "CLAIMED"
)

// UserTask is the per-(user, task) completion lifecycle. Status never regresses.
type UserTask struct {
	UserID string         `gorm:"primaryKey;type:uuid" json:"user_id"`
	TaskID string         `gorm:"primaryKey;type:uuid;index" json:"task_id"`
	Status UserTaskStatus `gorm:"type:varchar(16);not null" json:"status"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`

	Timestamps
}
