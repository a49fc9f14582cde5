package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gatekeeper/internal/challenge"
	"gatekeeper/internal/config"
	"gatekeeper/internal/detect"
	"gatekeeper/internal/domain"
	"gatekeeper/internal/handler"
	"gatekeeper/internal/repository/postgres"
	"gatekeeper/internal/service"
	"gatekeeper/internal/telegram"

	"github.com/golang-migrate/migrate/v4"
	postgresdb "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Gatekeeper Bot")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Configuration loaded successfully")

	// Connect to database with retries
	db, err := connectDatabase(cfg.DSN(), logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Database connection established")

	// Run migrations
	if err := runMigrations(db, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	logger.Info("Database migrations completed")

	// Initialize repositories
	userRepo := postgres.NewUserRepo(db)
	attemptRepo := postgres.NewAttemptRepo(db)

	// Initialize Telegram bot
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.BotToken,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}

	logger.Info("Telegram bot initialized", zap.String("username", bot.Me.Username))

	// Initialize services
	generator := challenge.NewGenerator(cfg.Verification.Question, cfg.Verification.TTL)
	classifier := detect.NewClassifier(cfg.Verification.Indicators)
	enforcer := telegram.NewEnforcer(bot, cfg.Messages, cfg.AdminChatID, logger)

	verifier := service.NewVerificationService(
		attemptRepo,
		userRepo,
		generator,
		classifier,
		enforcer,
		logger,
		cfg.Verification.MaxAttempts,
		cfg.Verification.MaxTimeouts,
	)
	sweeper := service.NewSweepService(attemptRepo, verifier, logger)
	adminService := service.NewAdminService(userRepo, classifier, logger)

	logStartupCounts(adminService, logger)

	// Initialize handler
	h := handler.NewHandler(bot, verifier, adminService, cfg.Messages, logger)
	h.RegisterHandlers()

	logger.Info("Handlers registered")

	// Start expiry sweeper in background
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runSweepLoop(ctx, sweeper, cfg.Verification.SweepInterval, logger)

	// Start bot in background
	go func() {
		logger.Info("Bot started successfully")
		bot.Start()
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	logger.Info("Shutdown signal received, stopping bot...")

	// Graceful shutdown
	bot.Stop()
	cancel()

	logger.Info("Bot stopped gracefully")
}

// connectDatabase connects to PostgreSQL with retries
func connectDatabase(dsn string, logger *zap.Logger) (*sql.DB, error) {
	var db *sql.DB
	var err error

	maxRetries := 30
	retryDelay := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			logger.Warn("Failed to open database connection",
				zap.Int("attempt", i+1),
				zap.Error(err),
			)
			time.Sleep(retryDelay)
			continue
		}

		// Test connection
		if err = db.Ping(); err != nil {
			logger.Warn("Failed to ping database",
				zap.Int("attempt", i+1),
				zap.Error(err),
			)
			db.Close()
			time.Sleep(retryDelay)
			continue
		}

		// Connection successful
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		return db, nil
	}

	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
}

// runMigrations runs database migrations
func runMigrations(db *sql.DB, logger *zap.Logger) error {
	driver, err := postgresdb.WithInstance(db, &postgresdb.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err == migrate.ErrNoChange {
		logger.Info("No new migrations to apply")
	} else {
		logger.Info("Migrations applied successfully")
	}

	return nil
}

// logStartupCounts reports how many members are known in each state.
// Count failures are not fatal; the bot can run without the summary.
func logStartupCounts(adminService *service.AdminService, logger *zap.Logger) {
	counts, err := adminService.CountByStatus()
	if err != nil {
		logger.Warn("Failed to count stored members", zap.Error(err))
		return
	}

	logger.Info("Loaded stored members",
		zap.Int("verified", counts[domain.UserVerified]),
		zap.Int("pending", counts[domain.UserPending]),
		zap.Int("blocked", counts[domain.UserBlocked]),
	)
}

// runSweepLoop periodically finalizes challenges whose deadline passed.
func runSweepLoop(ctx context.Context, sweeper *service.SweepService, interval time.Duration, logger *zap.Logger) {
	// Catch up on anything that expired while the bot was down
	if _, err := sweeper.RunOnce(time.Now()); err != nil {
		logger.Error("Failed to run initial expiry sweep", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := sweeper.RunOnce(time.Now()); err != nil {
				logger.Error("Failed to run expiry sweep", zap.Error(err))
			}
		}
	}
}
