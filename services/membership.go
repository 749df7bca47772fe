package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"reward-engine/models"

	"github.com/redis/go-redis/v9"
)

// MembershipChecker answers channel-membership questions through the
// messenger. Positive answers are cached; a user who has not joined yet is
// asked again on every check.
type MembershipChecker struct {
	messenger Messenger
	cache     *redis.Client
	ttl       time.Duration
	log       *slog.Logger
}

func NewMembershipChecker(m Messenger, cache *redis.Client, ttl time.Duration, logger *slog.Logger) *MembershipChecker {
	return &MembershipChecker{messenger: m, cache: cache, ttl: ttl, log: logger}
}

func membershipKey(chatID, platformID int64) string {
	return fmt.Sprintf("member_%d_%d", chatID, platformID)
}

func (c *MembershipChecker) IsMember(ctx context.Context, platformID, chatID int64) (bool, error) {
	key := membershipKey(chatID, platformID)
	if c.cache != nil && c.ttl > 0 {
		n, err := c.cache.Exists(ctx, key).Result()
		if err != nil {
			c.log.Warn("membership cache read failed", "key", key, "error", err)
		} else if n > 0 {
			return true, nil
		}
	}

	ok, err := c.messenger.IsChannelMember(ctx, platformID, chatID)
	if err != nil {
		return false, fmt.Errorf("check membership of %d in %d: %w", platformID, chatID, err)
	}
	if ok && c.cache != nil && c.ttl > 0 {
		if err := c.cache.Set(ctx, key, 1, c.ttl).Err(); err != nil {
			c.log.Warn("membership cache write failed", "key", key, "error", err)
		}
	}
	return ok, nil
}

// Missing returns the channels the user has not joined, in input order.
func (c *MembershipChecker) Missing(ctx context.Context, platformID int64, channels []models.Channel) ([]models.Channel, error) {
	var missing []models.Channel
	for _, ch := range channels {
		ok, err := c.IsMember(ctx, platformID, ch.ChatID)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, ch)
		}
	}
	return missing, nil
}
