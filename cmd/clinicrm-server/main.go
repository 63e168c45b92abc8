package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/clinicrm/clinicrm/internal/config"
	"github.com/clinicrm/clinicrm/internal/domain/billing"
	"github.com/clinicrm/clinicrm/internal/domain/encounter"
	"github.com/clinicrm/clinicrm/internal/domain/identity"
	"github.com/clinicrm/clinicrm/internal/domain/patient"
	"github.com/clinicrm/clinicrm/internal/domain/prescription"
	"github.com/clinicrm/clinicrm/internal/domain/scheduling"
	"github.com/clinicrm/clinicrm/internal/platform/auth"
	"github.com/clinicrm/clinicrm/internal/platform/cache"
	"github.com/clinicrm/clinicrm/internal/platform/chatbot"
	"github.com/clinicrm/clinicrm/internal/platform/db"
	"github.com/clinicrm/clinicrm/internal/platform/events"
	"github.com/clinicrm/clinicrm/internal/platform/middleware"
	"github.com/clinicrm/clinicrm/internal/platform/notification"
)

// packageCatalog adapts the billing service to the chatbot's catalog
// interface, keeping the chatbot package free of a billing import.
type packageCatalog struct {
	billing *billing.Service
}

func (p *packageCatalog) PackageSummaries(ctx context.Context) ([]string, error) {
	packages, err := p.billing.ListPackages(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(packages))
	for _, tp := range packages {
		out = append(out, fmt.Sprintf("%s: %d sessions for %s (valid %d days)",
			tp.Name, tp.SessionCount, tp.Price.StringFixed(2), tp.ValidityDays))
	}
	return out, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinicrm-server",
		Short: "Clinic CRM API Server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(workerCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the CRM API server",
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

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	createAdminCmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			name, _ := cmd.Flags().GetString("name")
			if email == "" || password == "" {
				return fmt.Errorf("--email and --password are required")
			}
			if name == "" {
				name = "Administrator"
			}

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

			svc := identity.NewService(identity.NewRepoPG(pool))
			u := &identity.User{
				Email:    email,
				FullName: name,
				Role:     identity.RoleAdmin,
			}
			if err := svc.CreateUser(ctx, u, password); err != nil {
				return err
			}
			fmt.Printf("Created admin account %s (%s)\n", u.Email, u.ID)
			return nil
		},
	}
	createAdminCmd.Flags().String("email", "", "Login email")
	createAdminCmd.Flags().String("password", "", "Initial password (min 8 characters)")
	createAdminCmd.Flags().String("name", "", "Display name")

	cmd.AddCommand(createAdminCmd)
	return cmd
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume clinic events from Kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if len(cfg.KafkaBrokers) == 0 {
				return fmt.Errorf("KAFKA_BROKERS is required for the worker")
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reader := events.NewReader(cfg.KafkaBrokers, "clinicrm-worker")
			defer reader.Close()

			logger.Info().Strs("brokers", cfg.KafkaBrokers).Msg("worker started")
			for {
				msg, err := reader.ReadMessage(ctx)
				if err != nil {
					if ctx.Err() != nil {
						logger.Info().Msg("worker stopped")
						return nil
					}
					logger.Error().Err(err).Msg("read event")
					continue
				}
				logger.Info().
					Str("key", string(msg.Key)).
					Str("event", string(msg.Value)).
					Msg("event received")
			}
		},
	}
}

func newLogger() zerolog.Logger {
	if os.Getenv("ENV") == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Environment: cfg.Env}); err != nil {
			logger.Warn().Err(err).Msg("sentry init failed; continuing without it")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Cache. Redis when configured, in-process otherwise; sessions and
	// slot lookups degrade gracefully either way.
	store := cache.NewMemory()
	if cfg.RedisURL != "" {
		redisStore, err := cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable; using in-memory cache")
		} else {
			store = redisStore
			logger.Info().Msg("connected to redis")
		}
	}
	revocations := cache.NewRevocations(store)
	sessions := auth.NewSessionManager(cfg.JWTSecret,
		time.Duration(cfg.SessionTTLMins)*time.Minute, revocations)

	// Event stream.
	var publisher events.Publisher = events.NewNoop()
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers)
		if err != nil {
			logger.Warn().Err(err).Msg("kafka unavailable; events disabled")
		} else {
			publisher = kp
			logger.Info().Strs("brokers", cfg.KafkaBrokers).Msg("event publishing enabled")
		}
	}
	defer publisher.Close()

	// WhatsApp messaging.
	var sender notification.WhatsAppSender
	if cfg.WhatsAppEnabled() {
		sender = notification.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken,
			cfg.TwilioWhatsAppNumber, logger)
		logger.Info().Msg("whatsapp notifications enabled")
	} else {
		sender = &notification.MockWhatsAppSender{}
		logger.Warn().Msg("twilio credentials not set; notifications are logged only")
	}
	notifier := notification.NewManager(sender, nil, notification.NewTemplateEngine())

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.Metrics())
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	e.GET("/health", db.HealthHandler(pool))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Unauthenticated endpoints: login and the WhatsApp webhook.
	public := e.Group("/api/v1")
	public.Use(middleware.RateLimit(rateLimitCfg))

	// Everything else requires a session.
	api := e.Group("/api/v1")
	api.Use(middleware.RateLimit(rateLimitCfg))
	api.Use(sessions.Middleware())
	api.Use(middleware.Audit(logger))

	// -- Domain wiring --

	patientSvc := patient.NewService(patient.NewRepoPG(pool))
	patient.NewHandler(patientSvc).RegisterRoutes(api)

	identitySvc := identity.NewService(identity.NewRepoPG(pool))
	identityHandler := identity.NewHandler(identitySvc, sessions, cfg.IsProduction())
	identityHandler.RegisterPublicRoutes(public)
	identityHandler.RegisterRoutes(api)

	schedSvc := scheduling.NewService(scheduling.NewRepoPG(pool),
		scheduling.Dependencies{
			Pool:      pool,
			Patients:  patientSvc,
			Doctors:   identitySvc,
			Notifier:  notifier,
			Events:    publisher,
			SlotCache: store,
			Logger:    logger,
		},
		scheduling.Config{
			WorkDayStartHour: cfg.WorkDayStartHour,
			WorkDayEndHour:   cfg.WorkDayEndHour,
			SlotMinutes:      cfg.SlotMinutes,
			Prices: map[string]decimal.Decimal{
				scheduling.VisitClinic: decimal.NewFromFloat(cfg.PriceClinicVisit),
				scheduling.VisitHome:   decimal.NewFromFloat(cfg.PriceHomeVisit),
				scheduling.VisitOnline: decimal.NewFromFloat(cfg.PriceOnlineVisit),
			},
		})
	scheduling.NewHandler(schedSvc).RegisterRoutes(api)

	encounterSvc := encounter.NewService(encounter.NewRepoPG(pool), schedSvc)
	encounter.NewHandler(encounterSvc).RegisterRoutes(api)

	billingSvc := billing.NewService(billing.NewRepoPG(pool),
		billing.Dependencies{
			Pool:     pool,
			Patients: patientSvc,
			Notifier: notifier,
			Events:   publisher,
			Logger:   logger,
		},
		billing.Config{TaxRatePercent: decimal.NewFromFloat(cfg.TaxRatePercent)})
	billing.NewHandler(billingSvc).RegisterRoutes(api)

	prescriptionSvc := prescription.NewService(prescription.NewRepoPG(pool))
	prescription.NewHandler(prescriptionSvc).RegisterRoutes(api)

	notifGroup := api.Group("", auth.RequireRole("admin", "staff"))
	notification.NewHandler(notifier).RegisterRoutes(notifGroup)

	bot := chatbot.NewEngine(chatbot.Config{
		HoursLine: fmt.Sprintf("Monday to Saturday, %d:00 to %d:00",
			cfg.WorkDayStartHour, cfg.WorkDayEndHour),
		BookingNumber: strings.TrimPrefix(cfg.TwilioWhatsAppNumber, "whatsapp:"),
	}, &packageCatalog{billing: billingSvc})
	chatbotHandler := chatbot.NewHandler(bot)
	chatbotHandler.RegisterPublicRoutes(e)
	chatbotHandler.RegisterRoutes(api)

	// Reminder loop: appointment reminders, overdue-bill nudges and
	// package expiry notices on one ticker.
	reminderCtx, stopReminders := context.WithCancel(ctx)
	defer stopReminders()
	go runReminders(reminderCtx, logger,
		time.Duration(cfg.ReminderIntervalMins)*time.Minute, schedSvc, billingSvc)

	// Start server with graceful shutdown.
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func runReminders(ctx context.Context, logger zerolog.Logger, interval time.Duration,
	sched *scheduling.Service, bills *billing.Service) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := sched.SendReminders(ctx); err != nil {
				logger.Error().Err(err).Msg("appointment reminders failed")
			} else if n > 0 {
				logger.Info().Int("sent", n).Msg("appointment reminders sent")
			}
			if n, err := bills.SendPaymentReminders(ctx); err != nil {
				logger.Error().Err(err).Msg("payment reminders failed")
			} else if n > 0 {
				logger.Info().Int("sent", n).Msg("payment reminders sent")
			}
			if n, err := bills.SendExpiryReminders(ctx); err != nil {
				logger.Error().Err(err).Msg("package expiry notices failed")
			} else if n > 0 {
				logger.Info().Int("sent", n).Msg("package expiry notices sent")
			}
		}
	}
}
