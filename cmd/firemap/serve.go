package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/neurowhai/firemap/internal/cache"
	"github.com/neurowhai/firemap/internal/captcha"
	"github.com/neurowhai/firemap/internal/config"
	"github.com/neurowhai/firemap/internal/feeds/activefire"
	"github.com/neurowhai/firemap/internal/feeds/cctv"
	"github.com/neurowhai/firemap/internal/feeds/dangerplace"
	"github.com/neurowhai/firemap/internal/feeds/fireevent"
	"github.com/neurowhai/firemap/internal/feeds/forecast"
	"github.com/neurowhai/firemap/internal/logging"
	"github.com/neurowhai/firemap/internal/metrics"
	"github.com/neurowhai/firemap/internal/observability"
	"github.com/neurowhai/firemap/internal/report"
	"github.com/neurowhai/firemap/internal/scheduler"
	"github.com/neurowhai/firemap/internal/server"
	"github.com/neurowhai/firemap/internal/shelter"
	"github.com/neurowhai/firemap/internal/store"
	"github.com/neurowhai/firemap/internal/wind"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		env        string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the fire map server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configPath != "" {
				loaded, err := config.LoadFromFile(configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = loaded
			}
			config.LoadFromEnv(cfg)

			if addr != "" {
				cfg.Server.Addr = addr
			}
			if env != "" {
				cfg.Server.Env = env
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}

			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	cmd.Flags().StringVar(&env, "env", "", "Environment: dev, staging, production")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	return cmd
}

func runServe(cfg *config.Config) error {
	logging.InitStructured(cfg.Log.Format, cfg.Log.Level)
	metrics.Init("firemap")

	ctx := context.Background()

	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: "firemap",
		SampleRate:  cfg.Telemetry.SampleRate,
	}); err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer observability.Shutdown(context.Background())

	db, err := store.NewPostgres(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	var reportCache cache.Cache
	if cfg.Redis.Addr != "" {
		reportCache = cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		logging.Op().Info("report cache backend", "backend", "redis", "addr", cfg.Redis.Addr)
	} else {
		reportCache = cache.NewInMemory(512)
	}
	defer reportCache.Close()

	captchaSvc := captcha.NewService()

	forecastFeed, err := forecast.New(cfg.Server.DataDir)
	if err != nil {
		return err
	}
	dangerFeed, err := dangerplace.Load(cfg.Server.DataDir)
	if err != nil {
		return err
	}
	windFeed, err := wind.New(cfg.Server.DataDir)
	if err != nil {
		return err
	}
	activeFireFeed := activefire.New()
	cctvFeed := cctv.New(cfg.CctvKey)
	fireEventFeed := fireevent.New()

	reportSvc := report.NewService(report.Options{
		Store:     db,
		Cache:     reportCache,
		Captcha:   captchaSvc,
		StaticDir: cfg.Server.StaticDir,
		UploadDir: cfg.Server.UploadDir,
		AdminID:   cfg.Admin.ID,
		AdminPwd:  cfg.Admin.Pwd,
	})
	shelterSvc := shelter.NewService(shelter.Options{
		Store:    db,
		Captcha:  captchaSvc,
		DataDir:  cfg.Server.DataDir,
		AdminID:  cfg.Admin.ID,
		AdminPwd: cfg.Admin.Pwd,
	})

	// Initial fetches run here; a dead upstream only shortens that feed's
	// retry period, while broken seed data aborts startup.
	builder := scheduler.NewBuilder().
		Workers(cfg.Scheduler.Workers).
		Resolution(cfg.Scheduler.Resolution)

	activeFireFeed.Register(builder)
	cctvFeed.Register(builder)
	fireEventFeed.Register(builder)
	forecastFeed.Register(builder)
	windFeed.Register(builder)
	if err := reportSvc.Register(builder); err != nil {
		return err
	}
	if err := shelterSvc.Register(builder); err != nil {
		return err
	}

	sched := builder.Build()

	handler := server.New(server.Config{
		StaticDir:   cfg.Server.StaticDir,
		Dev:         cfg.IsDev(),
		Captcha:     captchaSvc,
		Report:      reportSvc,
		Shelter:     shelterSvc,
		ActiveFire:  activeFireFeed,
		CCTV:        cctvFeed,
		FireEvent:   fireEventFeed,
		Forecast:    forecastFeed,
		DangerPlace: dangerFeed,
		Wind:        windFeed,
	})
	srv := server.StartHTTPServer(cfg.Server.Addr, handler)
	logging.Op().Info("fire map server started",
		"addr", cfg.Server.Addr, "env", cfg.Server.Env)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logging.Op().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Op().Warn("HTTP shutdown error", "error", err)
	}
	sched.Stop()
	return nil
}
