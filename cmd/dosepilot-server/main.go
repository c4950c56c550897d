package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dosepilot/dosepilot/internal/config"
	"github.com/dosepilot/dosepilot/internal/domain/action"
	"github.com/dosepilot/dosepilot/internal/domain/adherence"
	"github.com/dosepilot/dosepilot/internal/domain/calendar"
	"github.com/dosepilot/dosepilot/internal/domain/doselog"
	"github.com/dosepilot/dosepilot/internal/domain/regimen"
	"github.com/dosepilot/dosepilot/internal/platform/auth"
	"github.com/dosepilot/dosepilot/internal/platform/db"
	"github.com/dosepilot/dosepilot/internal/platform/drugmeta"
	"github.com/dosepilot/dosepilot/internal/platform/holiday"
	"github.com/dosepilot/dosepilot/internal/platform/metrics"
	"github.com/dosepilot/dosepilot/internal/platform/middleware"
	"github.com/dosepilot/dosepilot/internal/platform/notification"
	"github.com/dosepilot/dosepilot/internal/platform/tasks"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dosepilot-server",
		Short: "Medication scheduling engine API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(archiveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling engine API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// sweepCmd runs a single missed-dose sweep and exits, for cron-style
// deployments that prefer not to rely on the in-process runner.
func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one missed-dose detection sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			commandRepo := regimen.NewCommandRepoPG(pool)
			eventRepo := doselog.NewEventRepoPG(pool)
			occRepo := calendar.NewOccurrenceRepoPG(pool)

			coord := action.NewCoordinator(action.NewPGTxRunner(pool, db.DefaultRetryOptions()), occRepo, eventRepo, commandRepo, logger)
			detector := action.NewDetector(occRepo, coord, commandRepo, notification.NewLogService(logger),
				cfg.SweepBatchSize, time.Duration(cfg.SweepBudgetSeconds)*time.Second, logger)

			processed, err := detector.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Sweep complete: %d occurrence(s) processed.\n", processed)
			return nil
		},
	}
}

// archiveCmd summarizes one closed day into daily rollups and prunes
// occurrences past the retention window.
func archiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Summarize a closed day and prune expired occurrences",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, _ := cmd.Flags().GetString("day")

			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			archiver := adherence.NewArchiver(
				calendar.NewOccurrenceRepoPG(pool),
				doselog.NewEventRepoPG(pool),
				adherence.NewSummaryRepoPG(pool),
				regimen.NewCommandRepoPG(pool),
				notification.NewLogService(logger),
				cfg.RetentionDays, logger)

			if day != "" {
				d, err := time.Parse("2006-01-02", day)
				if err != nil {
					return fmt.Errorf("--day must be YYYY-MM-DD: %w", err)
				}
				written, err := archiver.ArchiveDay(ctx, d)
				if err != nil {
					return err
				}
				fmt.Printf("Archived %s: %d patient summar(ies) written.\n", day, written)
				return nil
			}
			return archiver.Run(ctx)
		},
	}
	cmd.Flags().String("day", "", "Specific day to archive (YYYY-MM-DD); defaults to yesterday")
	return cmd
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.JWTSecret),
		}))
	}
	if len(cfg.FamilyGrants) > 0 {
		checker, err := auth.ParseStaticChecker(cfg.FamilyGrants)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid FAMILY_GRANTS")
		}
		e.Use(auth.WithChecker(checker))
	}

	// Repositories
	commandRepo := regimen.NewCommandRepoPG(pool)
	eventRepo := doselog.NewEventRepoPG(pool)
	occRepo := calendar.NewOccurrenceRepoPG(pool)
	summaryRepo := adherence.NewSummaryRepoPG(pool)
	milestoneRepo := adherence.NewMilestoneRepoPG(pool)

	// Platform services
	holidayDates := make(map[string]bool, len(cfg.HolidayDates))
	for _, d := range cfg.HolidayDates {
		holidayDates[d] = true
	}
	holidays := holiday.NewCalendar(&holiday.StaticProvider{Dates: holidayDates}, logger)

	var drugs drugmeta.Client = &drugmeta.StaticClient{}
	if cfg.DrugMetaURL != "" {
		drugs = drugmeta.NewHTTPClient(cfg.DrugMetaURL)
	}

	notifier := notification.NewLogService(logger)

	// Domain services
	boundaries := calendar.BucketBoundaries{
		NoonStart:    cfg.NoonStartHour,
		EveningStart: cfg.EveningStartHour,
		BedtimeStart: cfg.BedtimeStartHour,
	}
	calendarSvc := calendar.NewService(occRepo, eventRepo, commandRepo, holidays, boundaries, logger)
	regimenSvc := regimen.NewService(commandRepo, calendarSvc, cfg.HorizonDays, logger)

	coord := action.NewCoordinator(action.NewPGTxRunner(pool, db.DefaultRetryOptions()), occRepo, eventRepo, commandRepo, logger)
	coord.SetUndoWindow(time.Duration(cfg.UndoWindowSeconds) * time.Second)
	coord.SetGraceRules(boundaries, holidays)
	detector := action.NewDetector(occRepo, coord, commandRepo, notifier,
		cfg.SweepBatchSize, time.Duration(cfg.SweepBudgetSeconds)*time.Second, logger)

	adherenceSvc := adherence.NewService(eventRepo, milestoneRepo, cfg.TimingAccuracyMinutes, logger)
	archiver := adherence.NewArchiver(occRepo, eventRepo, summaryRepo, commandRepo, notifier, cfg.RetentionDays, logger)

	// API routes
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	regimen.NewHandler(regimenSvc, drugs).RegisterRoutes(apiV1)
	calendar.NewHandler(calendarSvc).RegisterRoutes(apiV1)
	action.NewHandler(coord).RegisterRoutes(apiV1)
	adherence.NewHandler(adherenceSvc).RegisterRoutes(apiV1)

	e.GET("/health", db.HealthHandler(pool))
	e.GET("/metrics", metrics.Handler())

	// Background jobs
	runner := tasks.NewRunner(logger)
	runner.Add(tasks.Job{
		Name:     "missed-dose-sweep",
		Interval: time.Duration(cfg.SweepIntervalMinutes) * time.Minute,
		Run: func(ctx context.Context) error {
			_, err := detector.Sweep(ctx)
			return err
		},
	})
	runner.Add(tasks.Job{
		Name:     "rolling-window-maintenance",
		Interval: 24 * time.Hour,
		Run: func(ctx context.Context) error {
			_, err := calendarSvc.MaintainAllActive(ctx, cfg.HorizonDays)
			return err
		},
	})
	runner.Add(tasks.Job{
		Name:     "daily-archiver",
		Interval: 24 * time.Hour,
		Run:      archiver.Run,
	})
	runner.Start(ctx)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	runner.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
