package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-habit-backend/internal/cache"
	"github.com/tbourn/go-habit-backend/internal/config"
	"github.com/tbourn/go-habit-backend/internal/domain"
	httpapi "github.com/tbourn/go-habit-backend/internal/http"
	"github.com/tbourn/go-habit-backend/internal/observability"
	"github.com/tbourn/go-habit-backend/internal/realtime"
	"github.com/tbourn/go-habit-backend/internal/repo"
	"github.com/tbourn/go-habit-backend/internal/scheduler"
	"github.com/tbourn/go-habit-backend/internal/services"
	"github.com/tbourn/go-habit-backend/internal/sysutil"
)

const shutdownTimeout = 10 * time.Second

// ServeCmd runs the API server, the Redis forwarder and the scheduler until
// SIGINT or SIGTERM.
type ServeCmd struct {
	NoScheduler bool `name:"no-scheduler" help:"Do not start the daily scheduler in this process."`
}

// Run implements the serve command.
func (c *ServeCmd) Run(app *App) error {
	cfg := app.Config
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore(db)

	g, gctx := errgroup.WithContext(ctx)

	hub := realtime.NewHub()
	events := &realtime.Publisher{Hub: hub}
	if cfg.Realtime.RedisAddr != "" {
		bus, err := realtime.NewRedisBus(ctx, realtime.RedisOptions{
			Addr:     cfg.Realtime.RedisAddr,
			Password: cfg.Realtime.RedisPassword,
			DB:       cfg.Realtime.RedisDB,
			Channel:  cfg.Realtime.RedisChannel,
		})
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable; events stay in-process")
		} else {
			defer func() { _ = bus.Close() }()
			if err := bus.StartForwarder(gctx, hub.Broadcast); err != nil {
				log.Warn().Err(err).Msg("redis forwarder; events stay in-process")
			} else {
				events.Relay = bus
				log.Info().Str("channel", bus.Channel()).Msg("redis event relay enabled")
			}
		}
	}

	analyticsCache := cache.New(cfg.CacheTTL)
	policy := protectionPolicy(cfg)

	routines := services.NewRoutineService(db, analyticsCache, events)
	completion := &services.CompletionService{
		DB:       db,
		Cache:    analyticsCache,
		Events:   events,
		Gamifier: services.LogGamifier{},
		Policy:   policy,
		XPBase:   cfg.Habit.XPBase,
	}
	analytics := &services.AnalyticsService{
		DB:       db,
		Cache:    analyticsCache,
		Events:   events,
		Notifier: services.LogNotifier{},
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:         db,
		Config:     cfg,
		Routines:   routines,
		Completion: completion,
		Analytics:  analytics,
		Hub:        hub,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		// Request contexts end on shutdown so open event streams return.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("api", cfg.APIBasePath).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down http server")
		return srv.Shutdown(sctx)
	})

	if cfg.Scheduler.Enabled && !c.NoScheduler {
		runner := &scheduler.Runner{
			Steps:     &services.DailyScheduler{DB: db, Cache: analyticsCache, Policy: policy},
			Interval:  cfg.Scheduler.Interval,
			SeedHour:  cfg.Scheduler.SeedHour,
			CloseHour: cfg.Scheduler.CloseHour,
			Purge: func(ctx context.Context, now time.Time) (int64, error) {
				return repo.PurgeExpiredIdempotency(ctx, db, now)
			},
		}
		g.Go(func() error { return runner.Run(gctx) })
	} else {
		log.Info().Msg("daily scheduler disabled in this process")
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("habitd stopped")
	return nil
}

// SeedCmd runs one seed step.
type SeedCmd struct {
	At string `help:"Instant to seed for (RFC3339 or YYYY-MM-DD, UTC); now when empty." placeholder:"TIME"`
}

// Run implements the seed command.
func (c *SeedCmd) Run(app *App) error {
	at, err := sysutil.ParseAt(c.At, app.Now())
	if err != nil {
		return err
	}
	db, err := openStore(app.Config)
	if err != nil {
		return err
	}
	defer closeStore(db)

	s := &services.DailyScheduler{DB: db, Policy: protectionPolicy(app.Config)}
	res, err := s.Seed(context.Background(), at)
	if err != nil {
		return fmt.Errorf("seed %s: %w", res.Day, err)
	}
	fmt.Printf("seed %s: created=%d existing=%d failed=%d skipped=%t\n",
		res.Day, res.Created, res.Existing, res.Failed, res.Skipped)
	return nil
}

// CloseCmd runs one close step.
type CloseCmd struct {
	At string `help:"Instant to close for (RFC3339 or YYYY-MM-DD, UTC); now when empty." placeholder:"TIME"`
}

// Run implements the close command.
func (c *CloseCmd) Run(app *App) error {
	at, err := sysutil.ParseAt(c.At, app.Now())
	if err != nil {
		return err
	}
	db, err := openStore(app.Config)
	if err != nil {
		return err
	}
	defer closeStore(db)

	s := &services.DailyScheduler{DB: db, Policy: protectionPolicy(app.Config)}
	res, err := s.Close(context.Background(), at)
	if err != nil {
		return fmt.Errorf("close %s: %w", res.Day, err)
	}
	fmt.Printf("close %s: missed=%d forgiven=%d reset=%d failed=%d\n",
		res.Day, res.Missed, res.Forgiven, res.Reset, res.Failed)
	return nil
}

// MigrateCmd applies the schema.
type MigrateCmd struct{}

// Run implements the migrate command.
func (c *MigrateCmd) Run(app *App) error {
	db, err := openStore(app.Config)
	if err != nil {
		return err
	}
	closeStore(db)
	log.Info().Str("driver", app.Config.DBDriver).Msg("schema up to date")
	return nil
}

// openStore opens the configured database and migrates it.
func openStore(cfg config.Config) (*gorm.DB, error) {
	db, err := repo.Open(cfg.DBDriver, cfg.DBPath, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.DBDriver, err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		closeStore(db)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func closeStore(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn().Err(err).Msg("close database")
	}
}

func protectionPolicy(cfg config.Config) domain.ProtectionPolicy {
	return domain.ProtectionPolicy{
		Reset:         domain.ResetPolicy(cfg.Habit.DecayResetPolicy),
		RearmAtStreak: cfg.Habit.DecayResetAfterStreak,
	}
}
