package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"reward-engine/database"
	"reward-engine/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openTestDB returns a migrated SQLite database in a temp directory.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "sqlite:" + filepath.Join(t.TempDir(), "test.db")
	db, err := database.Open(dsn, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var nextPlatformID int64 = 1000
var platformMu sync.Mutex

func seedUser(t *testing.T, db *gorm.DB, balance int64) *models.User {
	t.Helper()
	platformMu.Lock()
	nextPlatformID++
	pid := nextPlatformID
	platformMu.Unlock()

	u := &models.User{
		ID:               uuid.NewString(),
		PlatformID:       pid,
		Balance:          balance,
		OnboardingStatus: models.OnboardingNew,
		Role:             models.RoleUser,
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func seedGift(t *testing.T, db *gorm.DB, price, quantity int64) *models.Gift {
	t.Helper()
	g := &models.Gift{
		ID:       uuid.NewString(),
		Name:     "Teddy Bear",
		Price:    price,
		Quantity: quantity,
	}
	if err := db.Create(g).Error; err != nil {
		t.Fatalf("seed gift: %v", err)
	}
	return g
}

func seedPrize(t *testing.T, db *gorm.DB, giftID string, chance float64, maxWins int64) *models.LootBoxPrize {
	t.Helper()
	p := &models.LootBoxPrize{
		ID:         uuid.NewString(),
		GiftID:     giftID,
		DropChance: chance,
		MaxWins:    maxWins,
		IsActive:   true,
		Color:      "#ffcc00",
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("seed prize: %v", err)
	}
	return p
}

func balanceOf(t *testing.T, db *gorm.DB, userID string) int64 {
	t.Helper()
	var u models.User
	if err := db.First(&u, "id = ?", userID).Error; err != nil {
		t.Fatalf("load user: %v", err)
	}
	return u.Balance
}

func outboxKinds(t *testing.T, db *gorm.DB) map[models.OutboxKind]int {
	t.Helper()
	var evs []models.OutboxEvent
	if err := db.Find(&evs).Error; err != nil {
		t.Fatalf("load outbox: %v", err)
	}
	out := map[models.OutboxKind]int{}
	for _, ev := range evs {
		out[ev.Kind]++
	}
	return out
}

func mustErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

// fixedRand always returns the same value.
type fixedRand float64

func (r fixedRand) Float64() float64 { return float64(r) }

// fakeMessenger records calls. members maps chat id to the platform ids in it.
type fakeMessenger struct {
	mu       sync.Mutex
	members  map[int64]map[int64]bool
	messages []string
	gifts    []string
	admin    []string
	calls    int
	giftOK   bool
	sendErr  error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{members: map[int64]map[int64]bool{}, giftOK: true}
}

func (f *fakeMessenger) join(chatID, platformID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[chatID] == nil {
		f.members[chatID] = map[int64]bool{}
	}
	f.members[chatID][platformID] = true
}

func (f *fakeMessenger) IsChannelMember(_ context.Context, platformID, chatID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.members[chatID][platformID], nil
}

func (f *fakeMessenger) SendMessage(_ context.Context, _ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return f.sendErr
}

func (f *fakeMessenger) SendGift(_ context.Context, _ int64, giftRef, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gifts = append(f.gifts, giftRef)
	return f.giftOK, f.sendErr
}

func (f *fakeMessenger) NotifyAdmin(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admin = append(f.admin, text)
	return f.sendErr
}
