package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	mrand "math/rand"
	"sync"
	"time"

	"reward-engine/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RandomSource yields uniform values in [0, 1).
type RandomSource interface {
	Float64() float64
}

type lockedRand struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

func (r *lockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

func NewRandomSource() RandomSource {
	return &lockedRand{rng: mrand.New(mrand.NewSource(time.Now().UnixNano()))}
}

type LootBoxDrawEngine struct {
	DB  *gorm.DB
	rng RandomSource
	log *slog.Logger
}

func NewLootBoxDrawEngine(db *gorm.DB, rng RandomSource, logger *slog.Logger) *LootBoxDrawEngine {
	if rng == nil {
		rng = NewRandomSource()
	}
	return &LootBoxDrawEngine{DB: db, rng: rng, log: logger}
}

// Draw picks a prize for the user and records a WON draw. It does not touch
// the prize's win counter; that happens on Claim.
func (e *LootBoxDrawEngine) Draw(ctx context.Context, userID string) (*models.LootBoxDraw, error) {
	var d *models.LootBoxDraw
	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		d, err = e.DrawTx(tx, userID)
		return err
	})
	return d, err
}

func (e *LootBoxDrawEngine) DrawTx(tx *gorm.DB, userID string) (*models.LootBoxDraw, error) {
	if err := requireUser(tx, userID); err != nil {
		return nil, err
	}
	var prizes []models.LootBoxPrize
	err := tx.Preload("Gift").
		Where("is_active = ? AND current_wins < max_wins", true).
		Order("id ASC").
		Find(&prizes).Error
	if err != nil {
		return nil, fmt.Errorf("load prize pool: %w", err)
	}

	prize, err := pickPrize(prizes, e.rng.Float64())
	if err != nil {
		return nil, err
	}

	d := &models.LootBoxDraw{
		ID:      uuid.NewString(),
		UserID:  userID,
		PrizeID: prize.ID,
		Status:  models.DrawWon,
		WonAt:   time.Now(),
	}
	if err := tx.Create(d).Error; err != nil {
		return nil, fmt.Errorf("record draw: %w", err)
	}
	d.Prize = prize
	e.log.Info("lootbox drawn", "user_id", userID, "draw_id", d.ID, "prize_id", prize.ID)
	return d, nil
}

// pickPrize selects by DropChance, renormalized over the prizes given. r is
// uniform in [0, 1).
func pickPrize(prizes []models.LootBoxPrize, r float64) (*models.LootBoxPrize, error) {
	var total float64
	last := -1
	for i, p := range prizes {
		if p.DropChance > 0 {
			total += p.DropChance
			last = i
		}
	}
	if total <= 0 {
		return nil, ErrPoolExhausted
	}

	target := r * total
	var cumulative float64
	for i := range prizes {
		if prizes[i].DropChance <= 0 {
			continue
		}
		cumulative += prizes[i].DropChance
		if cumulative > target {
			return &prizes[i], nil
		}
	}
	// rounding can leave target at the very top of the range
	return &prizes[last], nil
}

// Claim flips a WON draw to CLAIMED and counts the win against the prize cap.
func (e *LootBoxDrawEngine) Claim(ctx context.Context, drawID string) (*models.LootBoxDraw, error) {
	var d *models.LootBoxDraw
	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		d, err = e.ClaimTx(tx, drawID)
		return err
	})
	return d, err
}

func (e *LootBoxDrawEngine) ClaimTx(tx *gorm.DB, drawID string) (*models.LootBoxDraw, error) {
	d, err := loadDraw(tx, drawID)
	if err != nil {
		return nil, err
	}
	if d.Status == models.DrawClaimed {
		return nil, fmt.Errorf("%w: draw %s", ErrAlreadyClaimed, drawID)
	}

	now := time.Now()
	res := tx.Model(&models.LootBoxDraw{}).
		Where("id = ? AND status = ?", drawID, models.DrawWon).
		Updates(map[string]any{"status": models.DrawClaimed, "claimed_at": now})
	if res.Error != nil {
		return nil, fmt.Errorf("claim draw %s: %w", drawID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: draw %s", ErrAlreadyClaimed, drawID)
	}

	res = tx.Model(&models.LootBoxPrize{}).
		Where("id = ? AND current_wins < max_wins", d.PrizeID).
		Update("current_wins", gorm.Expr("current_wins + 1"))
	if res.Error != nil {
		return nil, fmt.Errorf("count win of prize %s: %w", d.PrizeID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: prize %s", ErrPrizeCapReached, d.PrizeID)
	}
	return loadDraw(tx, drawID)
}

// Latest returns the user's most recent draw in any status.
func (e *LootBoxDrawEngine) Latest(ctx context.Context, userID string) (*models.LootBoxDraw, error) {
	return latestDraw(e.DB.WithContext(ctx), userID, "")
}

// LatestUnclaimedTx returns the most recent WON draw. Older unclaimed draws
// are ignored.
func (e *LootBoxDrawEngine) LatestUnclaimedTx(tx *gorm.DB, userID string) (*models.LootBoxDraw, error) {
	return latestDraw(tx, userID, models.DrawWon)
}

func latestDraw(tx *gorm.DB, userID string, status models.DrawStatus) (*models.LootBoxDraw, error) {
	q := tx.Preload("Prize.Gift").Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var d models.LootBoxDraw
	err := q.Order("won_at DESC").Order("id DESC").Take(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: no draw for user %s", ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load draw of %s: %w", userID, err)
	}
	return &d, nil
}

func loadDraw(tx *gorm.DB, drawID string) (*models.LootBoxDraw, error) {
	var d models.LootBoxDraw
	err := tx.Preload("Prize.Gift").First(&d, "id = ?", drawID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: draw %s", ErrNotFound, drawID)
	}
	if err != nil {
		return nil, fmt.Errorf("load draw %s: %w", drawID, err)
	}
	return &d, nil
}
