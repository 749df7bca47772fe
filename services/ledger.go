package services

import (
	"fmt"

	"reward-engine/models"

	"gorm.io/gorm"
)

// Ledger moves reward balance. It owns no transaction: every call runs on the
// caller's tx so the balance change commits with the rest of the operation.
type Ledger struct{}

// Credit adds amount to the user's balance.
func (Ledger) Credit(tx *gorm.DB, userID string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative credit %d", ErrValidation, amount)
	}
	if amount == 0 {
		return requireUser(tx, userID)
	}
	res := tx.Model(&models.User{}).
		Where("id = ?", userID).
		Update("balance", gorm.Expr("balance + ?", amount))
	if res.Error != nil {
		return fmt.Errorf("credit user %s: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return nil
}

// Debit subtracts amount from the user's balance. The sufficiency check is part
// of the UPDATE so concurrent debits cannot drive the balance below zero.
func (Ledger) Debit(tx *gorm.DB, userID string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative debit %d", ErrValidation, amount)
	}
	if amount == 0 {
		return requireUser(tx, userID)
	}
	res := tx.Model(&models.User{}).
		Where("id = ? AND balance >= ?", userID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return fmt.Errorf("debit user %s: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		if err := requireUser(tx, userID); err != nil {
			return err
		}
		return fmt.Errorf("%w: user %s needs %d", ErrInsufficientFunds, userID, amount)
	}
	return nil
}

func requireUser(tx *gorm.DB, userID string) error {
	var n int64
	if err := tx.Model(&models.User{}).Where("id = ?", userID).Count(&n).Error; err != nil {
		return fmt.Errorf("lookup user %s: %w", userID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return nil
}
