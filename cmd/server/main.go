package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/duetapp/duet/internal/api"
	"github.com/duetapp/duet/internal/app"
	"github.com/duetapp/duet/internal/app/maintenance"
	iauth "github.com/duetapp/duet/internal/auth"
	"github.com/duetapp/duet/internal/database"
	"github.com/duetapp/duet/internal/notifications"
	"github.com/duetapp/duet/internal/services"
	"github.com/duetapp/duet/pkg/logger"
	"github.com/duetapp/duet/pkg/mail"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("duet-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}
	if err := ensureSecretsPresent(cfg); err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	jwtService, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         cfg.Auth.JWT.Secret,
		Issuer:         cfg.Auth.JWT.Issuer,
		AccessTokenTTL: cfg.Auth.JWT.TTL,
	})
	if err != nil {
		return fmt.Errorf("initialise jwt service: %w", err)
	}

	mailer, err := mail.NewSMTPMailer(mail.SMTPSettings{
		Enabled:  cfg.Email.SMTP.Enabled,
		Host:     cfg.Email.SMTP.Host,
		Port:     cfg.Email.SMTP.Port,
		Username: cfg.Email.SMTP.Username,
		Password: cfg.Email.SMTP.Password,
		From:     cfg.Email.SMTP.From,
		UseTLS:   cfg.Email.SMTP.UseTLS,
		Timeout:  cfg.Email.SMTP.Timeout,
	})
	if err != nil {
		return fmt.Errorf("initialise mailer: %w", err)
	}

	hub := notifications.NewHub()

	userService, err := services.NewUserService(db)
	if err != nil {
		return fmt.Errorf("initialise user service: %w", err)
	}

	notificationService, err := services.NewNotificationService(db, hub)
	if err != nil {
		return fmt.Errorf("initialise notification service: %w", err)
	}

	pairingService, err := services.NewPairingService(db,
		services.WithBaseURL(cfg.Server.BaseURL),
		services.WithTokenTTL(cfg.Pairing.TokenTTL),
		services.WithCodeTTL(cfg.Pairing.CodeTTL),
		services.WithOperationTimeout(cfg.Pairing.OperationTimeout),
		services.WithMailer(mailer),
		services.WithPairingNotifier(notificationService),
	)
	if err != nil {
		return fmt.Errorf("initialise pairing service: %w", err)
	}

	checkInService, err := services.NewCheckInService(db)
	if err != nil {
		return fmt.Errorf("initialise checkin service: %w", err)
	}

	goalService, err := services.NewGoalService(db,
		services.WithGoalNotifier(notificationService))
	if err != nil {
		return fmt.Errorf("initialise goal service: %w", err)
	}

	conflictOpts := []services.ConflictOption{}
	if cfg.Guidance.Enabled && cfg.Guidance.APIKey != "" {
		clientCfg := openai.DefaultConfig(cfg.Guidance.APIKey)
		if cfg.Guidance.BaseURL != "" {
			clientCfg.BaseURL = cfg.Guidance.BaseURL
		}
		conflictOpts = append(conflictOpts,
			services.WithGuidanceClient(openai.NewClientWithConfig(clientCfg), cfg.Guidance.Model))
	}
	conflictService, err := services.NewConflictService(db, conflictOpts...)
	if err != nil {
		return fmt.Errorf("initialise conflict service: %w", err)
	}

	sweeper := maintenance.NewSweeper(pairingService,
		maintenance.WithSchedule(cfg.Pairing.CleanupSchedule))
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("start maintenance jobs: %w", err)
	}
	defer func() {
		stopCtx := sweeper.Stop()
		if err := sweeper.RunOnce(stopCtx); err != nil {
			log.Warn("maintenance shutdown sweep failed", zap.Error(err))
		}
	}()

	router, err := api.NewRouter(api.Dependencies{
		DB:            db,
		Config:        cfg,
		JWT:           jwtService,
		Users:         userService,
		Pairing:       pairingService,
		CheckIns:      checkInService,
		Goals:         goalService,
		Conflicts:     conflictService,
		Notifications: notificationService,
		Hub:           hub,
	})
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func ensureSecretsPresent(cfg *app.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Auth.JWT.Secret = strings.TrimSpace(cfg.Auth.JWT.Secret)
	if cfg.Auth.JWT.Secret == "" {
		return errors.New("auth.jwt.secret must be configured")
	}
	return nil
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	db, err := database.Open(database.Config{
		Driver:   cfg.Database.Driver,
		Path:     cfg.Database.Path,
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Postgres.Host,
		Port:     cfg.Database.Postgres.Port,
		Name:     cfg.Database.Postgres.Database,
		User:     cfg.Database.Postgres.Username,
		Password: cfg.Database.Postgres.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("close database", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("close database", zap.Error(err))
	}
}
