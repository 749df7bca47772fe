package services

import (
	"context"
	"errors"
	"fmt"

	"reward-engine/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Identity is the verified caller context supplied by the gateway.
type Identity struct {
	UserID     string
	PlatformID int64
	Username   string
	Role       string
}

func (id Identity) IsAdmin() bool {
	return id.Role == models.RoleAdmin
}

type UserService struct {
	DB *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{DB: db}
}

// Ensure creates the user row for a verified identity if it does not exist yet.
// Existing rows are returned untouched.
func (s *UserService) Ensure(ctx context.Context, id Identity) (*models.User, error) {
	if _, err := uuid.Parse(id.UserID); err != nil {
		return nil, fmt.Errorf("%w: user id %q", ErrValidation, id.UserID)
	}
	if id.PlatformID == 0 {
		return nil, fmt.Errorf("%w: platform id is required", ErrValidation)
	}
	role := id.Role
	if role == "" {
		role = models.RoleUser
	}

	u := models.User{
		ID:               id.UserID,
		PlatformID:       id.PlatformID,
		Username:         id.Username,
		OnboardingStatus: models.OnboardingNew,
		Role:             role,
	}
	db := s.DB.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&u).Error; err != nil {
		return nil, fmt.Errorf("ensure user %s: %w", id.UserID, err)
	}

	var out models.User
	err := db.First(&out, "id = ?", id.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// the insert was skipped on the platform id, which belongs to someone else
		return nil, fmt.Errorf("%w: platform id %d is bound to another user", ErrValidation, id.PlatformID)
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", id.UserID, err)
	}
	return &out, nil
}

func (s *UserService) Get(ctx context.Context, userID string) (*models.User, error) {
	return getUser(s.DB.WithContext(ctx), userID)
}

func getUser(tx *gorm.DB, userID string) (*models.User, error) {
	var u models.User
	err := tx.First(&u, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	return &u, nil
}
