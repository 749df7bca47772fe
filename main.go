package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reward-engine/config"
	"reward-engine/database"
	"reward-engine/handlers"
	"reward-engine/services"
	"reward-engine/utils"
	"reward-engine/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DatabaseURL, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(ctx, db); err != nil {
		log.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	rdb, err := utils.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if rdb == nil {
		log.Warn("REDIS_ADDR not set, membership cache and sent markers disabled")
	}

	var messenger services.Messenger
	if cfg.TelegramBotToken != "" {
		tg, err := utils.NewTelegramMessenger(cfg.TelegramBotToken, cfg.AdminChatID, log)
		if err != nil {
			log.Error("failed to start telegram client", "error", err)
			os.Exit(1)
		}
		messenger = tg
	} else {
		log.Warn("TELEGRAM_BOT_TOKEN not set, messages are only logged")
		messenger = utils.NewLogMessenger(log)
	}

	checker := services.NewMembershipChecker(messenger, rdb, cfg.MembershipCacheTTL, log)
	users := services.NewUserService(db)
	referrals := services.NewReferralValidator(db, services.ReferralRewards{
		Referrer: cfg.ReferrerReward,
		Referred: cfg.ReferredReward,
	}, log)
	tasks := services.NewTaskRewardEngine(db, checker, log)
	draws := services.NewLootBoxDrawEngine(db, nil, log)
	purchases := services.NewPurchaseTransaction(db, log)
	onboarding := services.NewOnboardingStateMachine(db, draws, referrals, purchases, checker, services.OnboardingConfig{
		Channels:                cfg.Channels,
		RequiredReferrals:       cfg.RequiredReferrals,
		ReferralValidationDelay: cfg.ReferralValidationDelay,
	}, log)

	dispatcher := workers.NewDispatcher(db, workers.DispatcherConfig{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
	}, log)
	deliveries := &workers.Deliveries{
		Messenger: messenger,
		Referrals: referrals,
		Purchases: purchases,
		Redis:     rdb,
		Log:       log,
	}
	deliveries.Register(dispatcher)
	if err := dispatcher.Start(ctx); err != nil {
		log.Error("failed to start outbox dispatcher", "error", err)
		os.Exit(1)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(log),
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-User-ID, X-Platform-ID, X-Username, X-User-Roles",
		MaxAge:       86400,
	}))

	handlers.Setup(app, handlers.Services{
		Users:      users,
		Referrals:  referrals,
		Tasks:      tasks,
		Purchases:  purchases,
		Onboarding: onboarding,
	}, cfg.GatewayToken, log)

	go func() {
		if err := app.Listen(":" + cfg.HTTPPort); err != nil {
			log.Error("server error", "error", err)
			stop()
		}
	}()
	log.Info("server running", "port", cfg.HTTPPort, "channels", len(cfg.Channels))

	<-ctx.Done()
	log.Info("shutting down")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error("http shutdown", "error", err)
	}
	if err := dispatcher.Stop(); err != nil {
		log.Error("outbox shutdown", "error", err)
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
