package services

import (
	"errors"
	"fmt"
	"strings"

	"reward-engine/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrAlreadyClaimed    = errors.New("already claimed")
	ErrValidation        = errors.New("validation failed")
	ErrPoolExhausted     = errors.New("prize pool exhausted")
	ErrAlreadyReferred   = errors.New("user already referred")
)

// MissingChannelsError is returned when the user has not joined every
// required channel.
type MissingChannelsError struct {
	Channels []models.Channel
}

func (e *MissingChannelsError) Error() string {
	names := make([]string, 0, len(e.Channels))
	for _, ch := range e.Channels {
		names = append(names, ch.Title)
	}
	return fmt.Sprintf("not subscribed to: %s", strings.Join(names, ", "))
}

func (e *MissingChannelsError) Unwrap() error { return ErrInvalidState }

// ReferralShortfallError is returned when the user has fewer validated
// referrals than onboarding requires.
type ReferralShortfallError struct {
	Have int64
	Need int64
}

func (e *ReferralShortfallError) Error() string {
	return fmt.Sprintf("not enough validated referrals: %d/%d", e.Have, e.Need)
}

func (e *ReferralShortfallError) Unwrap() error { return ErrInvalidState }

// ErrPrizeCapReached is returned when a claim would push a prize past MaxWins.
var ErrPrizeCapReached = fmt.Errorf("%w: prize reached its win cap", ErrPoolExhausted)
