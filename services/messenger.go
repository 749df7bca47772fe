package services

import "context"

// Messenger is the messaging-platform boundary. Every call is best effort:
// callers log failures and never roll back committed state because of them.
type Messenger interface {
	IsChannelMember(ctx context.Context, platformID, chatID int64) (bool, error)
	SendMessage(ctx context.Context, platformID int64, text string) error
	// SendGift delivers a platform gift. It reports false when the platform
	// accepted the call but could not deliver.
	SendGift(ctx context.Context, platformID int64, giftRef, text string) (bool, error)
	NotifyAdmin(ctx context.Context, text string) error
}
