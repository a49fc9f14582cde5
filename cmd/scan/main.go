package main

import (
	"database/sql"
	"fmt"
	"os"

	"gatekeeper/internal/config"
	"gatekeeper/internal/detect"
	"gatekeeper/internal/repository/postgres"
	"gatekeeper/internal/service"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// A one-shot sweep over every stored member: re-runs name detection and
// blocks what it flags. Useful after tightening SUSPECT_NAME_PATTERNS,
// since joins that predate the change were checked against the old list.
func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		logger.Fatal("Failed to open database connection", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatal("Failed to ping database", zap.Error(err))
	}

	classifier := detect.NewClassifier(cfg.Verification.Indicators)
	adminService := service.NewAdminService(postgres.NewUserRepo(db), classifier, logger)

	report, err := adminService.Scan()
	if err != nil {
		logger.Fatal("Failed to scan users", zap.Error(err))
	}

	fmt.Printf("Scanned %d stored member(s)\n", report.Scanned)
	fmt.Printf("Flagged and blocked %d\n", len(report.Flagged))
	for _, f := range report.Flagged {
		name := f.DisplayName
		if name == "" {
			name = "(no name)"
		}
		fmt.Printf("  - %s (@%s) id=%d chat=%d: %s\n", name, f.Username, f.UserID, f.ChatID, f.Reason)
	}
	if report.Errors > 0 {
		fmt.Printf("%d member(s) could not be updated, see logs\n", report.Errors)
		os.Exit(1)
	}
}
