package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"reward-engine/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func seedTask(t *testing.T, db *gorm.DB, task models.Task) *models.Task {
	t.Helper()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Title == "" {
		task.Title = "Task"
	}
	if task.Duration == "" {
		task.Duration = models.TaskDurationUnlimited
	}
	if task.StartsAt.IsZero() {
		task.StartsAt = time.Now().Add(-time.Hour)
	}
	task.IsActive = true
	task.IsVisible = true
	if err := db.Create(&task).Error; err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return &task
}

func completedCount(t *testing.T, db *gorm.DB, taskID string) int64 {
	t.Helper()
	var task models.Task
	if err := db.First(&task, "id = ?", taskID).Error; err != nil {
		t.Fatalf("load task: %v", err)
	}
	return task.CompletedCount
}

func newTestTaskEngine(t *testing.T) (*TaskRewardEngine, *fakeMessenger) {
	t.Helper()
	db := openTestDB(t)
	m := newFakeMessenger()
	checker := NewMembershipChecker(m, nil, 0, testLogger())
	return NewTaskRewardEngine(db, checker, testLogger()), m
}

func TestFreeBonusStartClaim(t *testing.T) {
	e, _ := newTestTaskEngine(t)
	ctx := context.Background()
	u := seedUser(t, e.DB, 0)
	task := seedTask(t, e.DB, models.Task{
		Type:   models.TaskTypeFreeBonus,
		Reward: 10,
		Meta:   models.TaskMeta{Config: models.FreeBonusConfig{}},
	})

	ut, err := e.Start(ctx, u.ID, task.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if ut.Status != models.UserTaskCompleted || ut.CompletedAt == nil {
		t.Fatalf("expected COMPLETED with completed_at, got %s", ut.Status)
	}

	ut, err = e.Claim(ctx, u.ID, task.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if ut.Status != models.UserTaskClaimed || ut.ClaimedAt == nil {
		t.Errorf("expected CLAIMED, got %s", ut.Status)
	}
	if got := balanceOf(t, e.DB, u.ID); got != 10 {
		t.Errorf("expected balance 10, got %d", got)
	}
	if got := completedCount(t, e.DB, task.ID); got != 1 {
		t.Errorf("expected completed_count 1, got %d", got)
	}
}

func TestClaimTwicePaysOnce(t *testing.T) {
	e, _ := newTestTaskEngine(t)
	ctx := context.Background()
	u := seedUser(t, e.DB, 0)
	task := seedTask(t, e.DB, models.Task{Type: models.TaskTypeFreeBonus, Reward: 7})

	if _, err := e.Start(ctx, u.ID, task.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := e.Claim(ctx, u.ID, task.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err := e.Claim(ctx, u.ID, task.ID)
	mustErrorIs(t, err, ErrAlreadyClaimed)

	if got := balanceOf(t, e.DB, u.ID); got != 7 {
		t.Errorf("expected balance 7, got %d", got)
	}
}

// Parallel claims are serialized by the single sqlite connection; exactly one
// must pay and the rest must see the task already claimed.
func TestParallelClaimsPayOnce(t *testing.T) {
	e, _ := newTestTaskEngine(t)
	ctx := context.Background()
	u := seedUser(t, e.DB, 0)
	task := seedTask(t, e.DB, models.Task{Type: models.TaskTypeFreeBonus, Reward: 10})
	if _, err := e.Start(ctx, u.ID, task.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		paid    int
		claimed int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Claim(ctx, u.ID, task.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				paid++
			case errors.Is(err, ErrAlreadyClaimed):
				claimed++
			default:
				t.Errorf("claim: %v", err)
			}
		}()
	}
	wg.Wait()

	if paid != 1 || claimed != 5 {
		t.Errorf("expected 1 payout and 5 already-claimed, got %d and %d", paid, claimed)
	}
	if got := balanceOf(t, e.DB, u.ID); got != 10 {
		t.Errorf("expected balance 10, got %d", got)
	}
}

func TestSubscriptionTaskLifecycle(t *testing.T) {
	e, m := newTestTaskEngine(t)
	ctx := context.Background()
	u := seedUser(t, e.DB, 0)
	task := seedTask(t, e.DB, models.Task{
		Type:   models.TaskTypeTelegramSubscription,
		Reward: 3,
		Meta: models.TaskMeta{Config: models.SubscriptionConfig{
			ChatID:     -100123,
			ChannelURL: "https://t.me/news",
		}},
	})

	_, err := e.Complete(ctx, u.ID, task.ID)
	mustErrorIs(t, err, ErrInvalidState)

	ut, err := e.Start(ctx, u.ID, task.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if ut.Status != models.UserTaskInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", ut.Status)
	}

	_, err = e.Claim(ctx, u.ID, task.ID)
	mustErrorIs(t, err, ErrInvalidState)

	res, err := e.Check(ctx, u.ID, task.ID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Completed {
		t.Fatal("expected not completed before joining")
	}
	if got := completedCount(t, e.DB, task.ID); got != 0 {
		t.Errorf("expected completed_count 0, got %d", got)
	}

	m.join(-100123, u.PlatformID)
	res, err = e.Check(ctx, u.ID, task.ID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Completed || res.UserTask.Status != models.UserTaskCompleted {
		t.Fatalf("expected completed, got %+v", res)
	}

	// retried completion must not count twice
	if _, err := e.Complete(ctx, u.ID, task.ID); err != nil {
		t.Fatalf("repeat complete: %v", err)
	}
	if got := completedCount(t, e.DB, task.ID); got != 1 {
		t.Errorf("expected completed_count 1, got %d", got)
	}

	if _, err := e.Claim(ctx, u.ID, task.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err = e.Complete(ctx, u.ID, task.ID)
	mustErrorIs(t, err, ErrAlreadyClaimed)
	if got := balanceOf(t, e.DB, u.ID); got != 3 {
		t.Errorf("expected balance 3, got %d", got)
	}
}

func TestStartRejectsRestart(t *testing.T) {
	e, _ := newTestTaskEngine(t)
	ctx := context.Background()
	u := seedUser(t, e.DB, 0)
	task := seedTask(t, e.DB, models.Task{Type: models.TaskTypeTelegramSubscription})

	if _, err := e.Start(ctx, u.ID, task.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := e.Start(ctx, u.ID, task.ID)
	mustErrorIs(t, err, ErrInvalidState)
}

func TestStartRejectsUnavailableTasks(t *testing.T) {
	e, _ := newTestTaskEngine(t)
	ctx := context.Background()
	u := seedUser(t, e.DB, 0)

	_, err := e.Start(ctx, u.ID, uuid.NewString())
	mustErrorIs(t, err, ErrNotFound)

	expired := seedTask(t, e.DB, models.Task{
		Type:     models.TaskTypeFreeBonus,
		Duration: models.TaskDurationDay,
		StartsAt: time.Now().Add(-48 * time.Hour),
	})
	_, err = e.Start(ctx, u.ID, expired.ID)
	mustErrorIs(t, err, ErrInvalidState)

	hidden := seedTask(t, e.DB, models.Task{Type: models.TaskTypeFreeBonus})
	e.DB.Model(&models.Task{}).Where("id = ?", hidden.ID).UpdateColumn("is_visible", false)
	_, err = e.Start(ctx, u.ID, hidden.ID)
	mustErrorIs(t, err, ErrInvalidState)
}

// MaxCompletions is enforced: once the cap is hit nobody else can start.
func TestStartEnforcesMaxCompletions(t *testing.T) {
	e, _ := newTestTaskEngine(t)
	ctx := context.Background()
	limit := int64(1)
	task := seedTask(t, e.DB, models.Task{Type: models.TaskTypeFreeBonus, Reward: 1, MaxCompletions: &limit})

	first, second := seedUser(t, e.DB, 0), seedUser(t, e.DB, 0)
	if _, err := e.Start(ctx, first.ID, task.ID); err != nil {
		t.Fatalf("first start: %v", err)
	}
	_, err := e.Start(ctx, second.ID, task.ID)
	mustErrorIs(t, err, ErrInvalidState)
	if got := completedCount(t, e.DB, task.ID); got != 1 {
		t.Errorf("expected completed_count 1, got %d", got)
	}
}

func TestListShowsUserStatus(t *testing.T) {
	e, _ := newTestTaskEngine(t)
	ctx := context.Background()
	u := seedUser(t, e.DB, 0)
	started := seedTask(t, e.DB, models.Task{Title: "join", Type: models.TaskTypeTelegramSubscription})
	fresh := seedTask(t, e.DB, models.Task{Title: "bonus", Type: models.TaskTypeFreeBonus})
	seedTask(t, e.DB, models.Task{
		Title:    "old",
		Type:     models.TaskTypeFreeBonus,
		Duration: models.TaskDurationWeek,
		StartsAt: time.Now().Add(-8 * 24 * time.Hour),
	})

	if _, err := e.Start(ctx, u.ID, started.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	views, err := e.List(ctx, u.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 open tasks, got %d", len(views))
	}
	got := map[string]models.UserTaskStatus{}
	for _, v := range views {
		got[v.ID] = v.UserStatus
	}
	if got[started.ID] != models.UserTaskInProgress {
		t.Errorf("started task: expected IN_PROGRESS, got %s", got[started.ID])
	}
	if got[fresh.ID] != models.UserTaskAvailable {
		t.Errorf("fresh task: expected AVAILABLE, got %s", got[fresh.ID])
	}
}
