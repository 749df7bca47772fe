package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"reward-engine/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TaskView is a task as one user sees it.
type TaskView struct {
	models.Task
	UserStatus models.UserTaskStatus `json:"user_status"`
	ClaimedAt  *time.Time            `json:"claimed_at,omitempty"`
}

// CheckResult is the outcome of an externally verified completion attempt.
// Completed is false when the platform says the user has not subscribed yet.
type CheckResult struct {
	Completed bool             `json:"completed"`
	UserTask  *models.UserTask `json:"user_task,omitempty"`
}

type TaskRewardEngine struct {
	DB      *gorm.DB
	ledger  Ledger
	checker *MembershipChecker
	log     *slog.Logger
}

func NewTaskRewardEngine(db *gorm.DB, checker *MembershipChecker, logger *slog.Logger) *TaskRewardEngine {
	return &TaskRewardEngine{DB: db, checker: checker, log: logger}
}

// List returns the open tasks with the user's progress on each.
func (e *TaskRewardEngine) List(ctx context.Context, userID string) ([]TaskView, error) {
	db := e.DB.WithContext(ctx)
	now := time.Now()

	var tasks []models.Task
	err := db.Where("is_active = ? AND is_visible = ? AND starts_at <= ?", true, true, now).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("created_at ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		return []TaskView{}, nil
	}

	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	var rows []models.UserTask
	if err := db.Where("user_id = ? AND task_id IN ?", userID, ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list user tasks: %w", err)
	}
	byTask := make(map[string]models.UserTask, len(rows))
	for _, r := range rows {
		byTask[r.TaskID] = r
	}

	out := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		v := TaskView{Task: t, UserStatus: models.UserTaskAvailable}
		if r, ok := byTask[t.ID]; ok {
			v.UserStatus = r.Status
			v.ClaimedAt = r.ClaimedAt
		}
		out = append(out, v)
	}
	return out, nil
}

// Start moves the user's task to IN_PROGRESS, or straight to COMPLETED for
// FREE_BONUS tasks.
func (e *TaskRewardEngine) Start(ctx context.Context, userID, taskID string) (*models.UserTask, error) {
	var ut *models.UserTask
	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		ut, err = e.StartTx(tx, userID, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("task started", "user_id", userID, "task_id", taskID, "status", ut.Status)
	return ut, nil
}

func (e *TaskRewardEngine) StartTx(tx *gorm.DB, userID, taskID string) (*models.UserTask, error) {
	task, err := loadTask(tx, taskID)
	if err != nil {
		return nil, err
	}
	if err := requireUser(tx, userID); err != nil {
		return nil, err
	}
	now := time.Now()
	if !task.IsOpen(now) {
		return nil, fmt.Errorf("%w: task %s is not available", ErrInvalidState, taskID)
	}
	if task.CapReached() {
		return nil, fmt.Errorf("%w: task %s reached its completion limit", ErrInvalidState, taskID)
	}

	next := models.UserTaskInProgress
	if task.Type == models.TaskTypeFreeBonus {
		next = models.UserTaskCompleted
	}

	existing, err := loadUserTask(tx, userID, taskID)
	switch {
	case errors.Is(err, ErrNotFound):
		ut := &models.UserTask{UserID: userID, TaskID: taskID, Status: next, StartedAt: &now}
		if next == models.UserTaskCompleted {
			ut.CompletedAt = &now
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(ut)
		if res.Error != nil {
			return nil, fmt.Errorf("start task %s: %w", taskID, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, fmt.Errorf("%w: task %s already started", ErrInvalidState, taskID)
		}
	case err != nil:
		return nil, err
	case existing.Status != models.UserTaskAvailable:
		return nil, fmt.Errorf("%w: task %s is %s", ErrInvalidState, taskID, existing.Status)
	default:
		updates := map[string]any{"status": next, "started_at": now}
		if next == models.UserTaskCompleted {
			updates["completed_at"] = now
		}
		res := tx.Model(&models.UserTask{}).
			Where("user_id = ? AND task_id = ? AND status = ?", userID, taskID, models.UserTaskAvailable).
			Updates(updates)
		if res.Error != nil {
			return nil, fmt.Errorf("start task %s: %w", taskID, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, fmt.Errorf("%w: task %s already started", ErrInvalidState, taskID)
		}
	}

	if next == models.UserTaskCompleted {
		if err := incrementCompleted(tx, taskID); err != nil {
			return nil, err
		}
	}
	return loadUserTask(tx, userID, taskID)
}

// Complete marks a started task COMPLETED. Completing an already completed
// task is a no-op and does not count twice.
func (e *TaskRewardEngine) Complete(ctx context.Context, userID, taskID string) (*models.UserTask, error) {
	var ut *models.UserTask
	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		ut, err = e.CompleteTx(tx, userID, taskID)
		return err
	})
	return ut, err
}

func (e *TaskRewardEngine) CompleteTx(tx *gorm.DB, userID, taskID string) (*models.UserTask, error) {
	task, err := loadTask(tx, taskID)
	if err != nil {
		return nil, err
	}
	ut, err := loadUserTask(tx, userID, taskID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: task %s was not started", ErrInvalidState, taskID)
	}
	if err != nil {
		return nil, err
	}
	if done, err := settled(ut); done {
		return ut, err
	}

	from := []models.UserTaskStatus{models.UserTaskInProgress}
	if task.Type == models.TaskTypeFreeBonus {
		from = append(from, models.UserTaskAvailable)
	}
	now := time.Now()
	res := tx.Model(&models.UserTask{}).
		Where("user_id = ? AND task_id = ? AND status IN ?", userID, taskID, from).
		Updates(map[string]any{"status": models.UserTaskCompleted, "completed_at": now})
	if res.Error != nil {
		return nil, fmt.Errorf("complete task %s: %w", taskID, res.Error)
	}
	if res.RowsAffected == 0 {
		ut, err := loadUserTask(tx, userID, taskID)
		if err != nil {
			return nil, err
		}
		if done, err := settled(ut); done {
			return ut, err
		}
		return nil, fmt.Errorf("%w: task %s is %s", ErrInvalidState, taskID, ut.Status)
	}

	if err := incrementCompleted(tx, taskID); err != nil {
		return nil, err
	}
	return loadUserTask(tx, userID, taskID)
}

// settled reports whether ut is already past completion. A COMPLETED row is
// returned as is; a CLAIMED row yields ErrAlreadyClaimed.
func settled(ut *models.UserTask) (bool, error) {
	switch ut.Status {
	case models.UserTaskCompleted:
		return true, nil
	case models.UserTaskClaimed:
		return true, fmt.Errorf("%w: task %s", ErrAlreadyClaimed, ut.TaskID)
	}
	return false, nil
}

// Claim pays the task reward once.
func (e *TaskRewardEngine) Claim(ctx context.Context, userID, taskID string) (*models.UserTask, error) {
	var ut *models.UserTask
	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		ut, err = e.ClaimTx(tx, userID, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("task reward claimed", "user_id", userID, "task_id", taskID)
	return ut, nil
}

func (e *TaskRewardEngine) ClaimTx(tx *gorm.DB, userID, taskID string) (*models.UserTask, error) {
	task, err := loadTask(tx, taskID)
	if err != nil {
		return nil, err
	}
	ut, err := loadUserTask(tx, userID, taskID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: task %s was not started", ErrInvalidState, taskID)
	}
	if err != nil {
		return nil, err
	}
	if ut.Status == models.UserTaskClaimed || ut.ClaimedAt != nil {
		return nil, fmt.Errorf("%w: task %s", ErrAlreadyClaimed, taskID)
	}
	if ut.Status != models.UserTaskCompleted {
		return nil, fmt.Errorf("%w: task %s is %s", ErrInvalidState, taskID, ut.Status)
	}

	now := time.Now()
	res := tx.Model(&models.UserTask{}).
		Where("user_id = ? AND task_id = ? AND status = ? AND claimed_at IS NULL", userID, taskID, models.UserTaskCompleted).
		Updates(map[string]any{"status": models.UserTaskClaimed, "claimed_at": now})
	if res.Error != nil {
		return nil, fmt.Errorf("claim task %s: %w", taskID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: task %s", ErrAlreadyClaimed, taskID)
	}
	if err := e.ledger.Credit(tx, userID, task.Reward); err != nil {
		return nil, err
	}
	return loadUserTask(tx, userID, taskID)
}

// Check verifies a subscription task with the messaging platform and
// completes it when the user has joined. Other task types complete directly.
func (e *TaskRewardEngine) Check(ctx context.Context, userID, taskID string) (CheckResult, error) {
	db := e.DB.WithContext(ctx)
	task, err := loadTask(db, taskID)
	if err != nil {
		return CheckResult{}, err
	}

	if task.Type == models.TaskTypeTelegramSubscription {
		cfg, ok := task.Meta.Config.(models.SubscriptionConfig)
		if !ok {
			return CheckResult{}, fmt.Errorf("%w: task %s has no channel configured", ErrInvalidState, taskID)
		}
		user, err := getUser(db, userID)
		if err != nil {
			return CheckResult{}, err
		}
		// the platform call stays outside the transaction
		member, err := e.checker.IsMember(ctx, user.PlatformID, cfg.ChatID)
		if err != nil {
			return CheckResult{}, err
		}
		if !member {
			return CheckResult{Completed: false}, nil
		}
	}

	ut, err := e.Complete(ctx, userID, taskID)
	if err != nil {
		return CheckResult{}, err
	}
	return CheckResult{Completed: true, UserTask: ut}, nil
}

func loadTask(tx *gorm.DB, taskID string) (*models.Task, error) {
	var t models.Task
	err := tx.First(&t, "id = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}
	return &t, nil
}

func loadUserTask(tx *gorm.DB, userID, taskID string) (*models.UserTask, error) {
	var ut models.UserTask
	err := tx.Where("user_id = ? AND task_id = ?", userID, taskID).Take(&ut).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: task %s for user %s", ErrNotFound, taskID, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load user task %s: %w", taskID, err)
	}
	return &ut, nil
}

// incrementCompleted bumps Task.completed_count, refusing to pass MaxCompletions.
func incrementCompleted(tx *gorm.DB, taskID string) error {
	res := tx.Model(&models.Task{}).
		Where("id = ? AND (max_completions IS NULL OR completed_count < max_completions)", taskID).
		UpdateColumn("completed_count", gorm.Expr("completed_count + 1"))
	if res.Error != nil {
		return fmt.Errorf("count completion of task %s: %w", taskID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: task %s reached its completion limit", ErrInvalidState, taskID)
	}
	return nil
}
