package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"reward-engine/models"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// Handler performs one outbox event. Returning an error reschedules it.
type Handler func(ctx context.Context, ev *models.OutboxEvent) error

type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	// Lease is how long a picked event stays invisible to other dispatchers.
	Lease time.Duration
}

// Dispatcher delivers outbox events at least once. Events are leased with a
// conditional update, so several instances can poll the same table.
type Dispatcher struct {
	DB       *gorm.DB
	cfg      DispatcherConfig
	handlers map[models.OutboxKind]Handler
	log      *slog.Logger
	sched    gocron.Scheduler
}

func NewDispatcher(db *gorm.DB, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &Dispatcher{
		DB:       db,
		cfg:      cfg,
		handlers: map[models.OutboxKind]Handler{},
		log:      logger,
	}
}

func (d *Dispatcher) Handle(kind models.OutboxKind, h Handler) {
	d.handlers[kind] = h
}

// Start polls on a gocron job until Stop. A slow batch delays the next one
// instead of overlapping it.
func (d *Dispatcher) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(d.cfg.PollInterval),
		gocron.NewTask(func() {
			if _, err := d.RunOnce(ctx); err != nil {
				d.log.Error("outbox poll failed", "error", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule outbox job: %w", err)
	}
	sched.Start()
	d.sched = sched
	d.log.Info("outbox dispatcher started", "interval", d.cfg.PollInterval)
	return nil
}

func (d *Dispatcher) Stop() error {
	if d.sched == nil {
		return nil
	}
	return d.sched.Shutdown()
}

// RunOnce processes one batch of due events and returns how many it handled.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	db := d.DB.WithContext(ctx)
	now := time.Now()

	var due []models.OutboxEvent
	err := db.Where("status = ? AND next_attempt_at <= ?", models.OutboxPending, now).
		Where("locked_until IS NULL OR locked_until < ?", now).
		Order("next_attempt_at ASC").
		Limit(d.cfg.BatchSize).
		Find(&due).Error
	if err != nil {
		return 0, fmt.Errorf("load due events: %w", err)
	}

	handled := 0
	for i := range due {
		ev := &due[i]
		ok, err := d.lease(db, ev, now)
		if err != nil {
			return handled, err
		}
		if !ok {
			continue
		}
		d.process(ctx, ev)
		handled++
	}
	return handled, nil
}

func (d *Dispatcher) lease(db *gorm.DB, ev *models.OutboxEvent, now time.Time) (bool, error) {
	res := db.Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ?", ev.ID, models.OutboxPending).
		Where("locked_until IS NULL OR locked_until < ?", now).
		Updates(map[string]any{
			"locked_until": now.Add(d.cfg.Lease),
			"attempts":     gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("lease event %s: %w", ev.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	ev.Attempts++
	return true, nil
}

func (d *Dispatcher) process(ctx context.Context, ev *models.OutboxEvent) {
	db := d.DB.WithContext(ctx)
	err := d.dispatch(ctx, ev)
	now := time.Now()

	if err == nil {
		if err := db.Model(&models.OutboxEvent{}).Where("id = ?", ev.ID).Updates(map[string]any{
			"status":       models.OutboxDone,
			"processed_at": now,
			"locked_until": nil,
			"last_error":   "",
		}).Error; err != nil {
			d.log.Error("mark outbox event done", "event_id", ev.ID, "error", err)
		}
		return
	}

	updates := map[string]any{
		"locked_until": nil,
		"last_error":   err.Error(),
	}
	if ev.Attempts >= d.cfg.MaxAttempts {
		updates["status"] = models.OutboxFailed
		updates["processed_at"] = now
		d.log.Error("outbox event failed permanently", "event_id", ev.ID, "kind", ev.Kind, "attempts", ev.Attempts, "error", err)
	} else {
		updates["next_attempt_at"] = now.Add(Backoff(ev.Attempts))
		d.log.Warn("outbox event failed, will retry", "event_id", ev.ID, "kind", ev.Kind, "attempts", ev.Attempts, "error", err)
	}
	if err := db.Model(&models.OutboxEvent{}).Where("id = ?", ev.ID).Updates(updates).Error; err != nil {
		d.log.Error("reschedule outbox event", "event_id", ev.ID, "error", err)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, ev *models.OutboxEvent) (err error) {
	h, ok := d.handlers[ev.Kind]
	if !ok {
		return fmt.Errorf("no handler for %s", ev.Kind)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, ev)
}

// Backoff is the delay before retry number attempt+1: 5s doubled per
// attempt, capped at one hour.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 12 {
		return time.Hour
	}
	delay := 5 * time.Second << (attempt - 1)
	if delay > time.Hour {
		return time.Hour
	}
	return delay
}
