package services

import (
	"encoding/json"
	"fmt"
	"time"

	"reward-engine/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Enqueue records a side effect on tx. It becomes visible to the dispatcher
// only if tx commits, and no earlier than delay from now.
func Enqueue(tx *gorm.DB, kind models.OutboxKind, payload any, delay time.Duration) (*models.OutboxEvent, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	ev := &models.OutboxEvent{
		ID:            uuid.NewString(),
		Kind:          kind,
		Payload:       string(body),
		Status:        models.OutboxPending,
		NextAttemptAt: time.Now().Add(delay),
	}
	if err := tx.Create(ev).Error; err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return ev, nil
}
