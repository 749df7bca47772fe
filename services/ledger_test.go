package services

import (
	"sync"
	"testing"

	"gorm.io/gorm"
)

func TestLedgerCreditAndDebit(t *testing.T) {
	db := openTestDB(t)
	u := seedUser(t, db, 10)
	var l Ledger

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := l.Credit(tx, u.ID, 15); err != nil {
			return err
		}
		return l.Debit(tx, u.ID, 20)
	})
	if err != nil {
		t.Fatalf("credit/debit: %v", err)
	}
	if got := balanceOf(t, db, u.ID); got != 5 {
		t.Errorf("expected balance 5, got %d", got)
	}
}

func TestLedgerDebitInsufficientFundsLeavesBalance(t *testing.T) {
	db := openTestDB(t)
	u := seedUser(t, db, 10)
	var l Ledger

	err := db.Transaction(func(tx *gorm.DB) error {
		return l.Debit(tx, u.ID, 11)
	})
	mustErrorIs(t, err, ErrInsufficientFunds)
	if got := balanceOf(t, db, u.ID); got != 10 {
		t.Errorf("expected balance 10, got %d", got)
	}
}

func TestLedgerUnknownUserAndBadAmount(t *testing.T) {
	db := openTestDB(t)
	var l Ledger

	mustErrorIs(t, l.Debit(db, "00000000-0000-0000-0000-000000000000", 1), ErrNotFound)
	mustErrorIs(t, l.Credit(db, "00000000-0000-0000-0000-000000000000", 0), ErrNotFound)

	u := seedUser(t, db, 0)
	mustErrorIs(t, l.Credit(db, u.ID, -1), ErrValidation)
	mustErrorIs(t, l.Debit(db, u.ID, -1), ErrValidation)
	if err := l.Debit(db, u.ID, 0); err != nil {
		t.Errorf("zero debit: %v", err)
	}
}

// The sqlite test store holds one connection, so these calls run one after
// another. This checks that repeated callers stay idempotent; contention on
// the guarded update itself is left to postgres.
func TestLedgerParallelDebitsNeverNegative(t *testing.T) {
	db := openTestDB(t)
	u := seedUser(t, db, 100)
	var l Ledger

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.Transaction(func(tx *gorm.DB) error {
				return l.Debit(tx, u.ID, 30)
			})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if ok != 3 {
		t.Errorf("expected 3 successful debits, got %d", ok)
	}
	if got := balanceOf(t, db, u.ID); got != 10 {
		t.Errorf("expected balance 10, got %d", got)
	}
}
