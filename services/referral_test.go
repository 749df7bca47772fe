package services

import (
	"context"
	"sync"
	"testing"

	"reward-engine/models"
)

func newTestReferrals(t *testing.T) (*ReferralValidator, func() *models.User) {
	t.Helper()
	db := openTestDB(t)
	v := NewReferralValidator(db, ReferralRewards{Referrer: 5, Referred: 5}, testLogger())
	return v, func() *models.User { return seedUser(t, db, 0) }
}

func TestValidateWithoutReferralIsNoop(t *testing.T) {
	v, newUser := newTestReferrals(t)
	u := newUser()

	res, err := v.Validate(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Validated || res.BonusAwarded {
		t.Errorf("expected no-op result, got %+v", res)
	}
	if got := balanceOf(t, v.DB, u.ID); got != 0 {
		t.Errorf("expected balance 0, got %d", got)
	}
}

// The sqlite test store holds one connection, so these calls run one after
// another. This checks that repeated callers stay idempotent; contention on
// the guarded update itself is left to postgres.
func TestValidatePaysOnceForParallelCallers(t *testing.T) {
	v, newUser := newTestReferrals(t)
	ctx := context.Background()
	referrer, referred := newUser(), newUser()
	if _, err := v.Create(ctx, referrer.ID, referred.ID); err != nil {
		t.Fatalf("create referral: %v", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		awarded int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := v.Validate(ctx, referred.ID)
			if err != nil {
				t.Errorf("validate: %v", err)
				return
			}
			if !res.Validated || res.ReferrerID != referrer.ID {
				t.Errorf("unexpected result %+v", res)
			}
			if res.BonusAwarded {
				mu.Lock()
				awarded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if awarded != 1 {
		t.Errorf("expected exactly one award, got %d", awarded)
	}
	if got := balanceOf(t, v.DB, referrer.ID); got != 5 {
		t.Errorf("referrer balance: expected 5, got %d", got)
	}
	if got := balanceOf(t, v.DB, referred.ID); got != 5 {
		t.Errorf("referred balance: expected 5, got %d", got)
	}
	if n := outboxKinds(t, v.DB)[models.OutboxUserMessage]; n != 1 {
		t.Errorf("expected one referrer message queued, got %d", n)
	}

	n, err := v.ValidatedCount(ctx, referrer.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 validated referral, got %d", n)
	}
}

func TestCreateRejectsSecondReferrer(t *testing.T) {
	v, newUser := newTestReferrals(t)
	ctx := context.Background()
	a, b, referred := newUser(), newUser(), newUser()

	if _, err := v.Create(ctx, a.ID, referred.ID); err != nil {
		t.Fatalf("first referral: %v", err)
	}
	_, err := v.Create(ctx, b.ID, referred.ID)
	mustErrorIs(t, err, ErrAlreadyReferred)

	var n int64
	v.DB.Model(&models.Referral{}).Where("referred_id = ?", referred.ID).Count(&n)
	if n != 1 {
		t.Errorf("expected 1 referral row, got %d", n)
	}
}

func TestCreateValidation(t *testing.T) {
	v, newUser := newTestReferrals(t)
	ctx := context.Background()
	u := newUser()

	_, err := v.Create(ctx, u.ID, u.ID)
	mustErrorIs(t, err, ErrValidation)

	_, err = v.Create(ctx, u.ID, "00000000-0000-0000-0000-000000000000")
	mustErrorIs(t, err, ErrNotFound)
}

func TestValidatedCountIgnoresUnpaid(t *testing.T) {
	v, newUser := newTestReferrals(t)
	ctx := context.Background()
	referrer := newUser()
	paid, unpaid := newUser(), newUser()
	for _, r := range []*models.User{paid, unpaid} {
		if _, err := v.Create(ctx, referrer.ID, r.ID); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := v.Validate(ctx, paid.ID); err != nil {
		t.Fatalf("validate: %v", err)
	}

	n, err := v.ValidatedCount(ctx, referrer.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1, got %d", n)
	}
}
