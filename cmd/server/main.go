package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	router "github.com/dkeye/Confer/internal/adapters/http"
	"github.com/dkeye/Confer/internal/adapters/rtc"
	"github.com/dkeye/Confer/internal/app"
	"github.com/dkeye/Confer/internal/app/orch"
	"github.com/dkeye/Confer/internal/auth"
	"github.com/dkeye/Confer/internal/config"
	"github.com/dkeye/Confer/internal/storage"
)

func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Mode != "release" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("confer stopped")
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Console output until the config says otherwise.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	loader, cfg, err := config.LoadFile(config.FileName())
	if err != nil {
		return err
	}
	setupLogger(cfg)

	var authz orch.Authorizer = orch.AllowAll{}
	var roomPolicy *auth.RoomPolicy
	var lessons router.LessonLister
	if cfg.Auth.Mode == "session" {
		store, err := storage.Open(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		if cfg.Storage.ImportJSON != "" {
			if _, err := store.ImportJSON(ctx, cfg.Storage.ImportJSON); err != nil {
				log.Error().Err(err).Str("file", cfg.Storage.ImportJSON).Msg("lesson import failed")
			}
		}
		roomPolicy = &auth.RoomPolicy{Prefix: cfg.Auth.RoomPrefix, Store: store}
		lessons = store
		authz = roomPolicy
	}

	policy, err := app.ParsePolicy(cfg.Signal.Backpressure)
	if err != nil {
		return err
	}

	rtcCfg := rtc.Configuration(cfg.WebRTCICEServers())
	if err := rtc.Validate(rtcCfg); err != nil {
		return err
	}

	reg := app.NewRegistry()
	rooms := app.NewRoomManager()
	o := orch.New(reg, rooms, policy, authz)
	o.ICEServers = rtcCfg.ICEServers

	reconciler := app.NewReconciler(rooms, reg, o, cfg.Presence.SweepInterval, cfg.Presence.InactivityTimeout)
	health := &app.Health{Rooms: rooms, Conns: reg, Reconciler: reconciler}

	loader.Watch(func(c *config.Config) {
		reconciler.SetTimings(c.Presence.SweepInterval, c.Presence.InactivityTimeout)
	})

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Orch:    o,
		Health:  health,
		RTC:     rtcCfg,
		Rooms:   roomPolicy,
		Lessons: lessons,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg conc.WaitGroup
	wg.Go(func() { reconciler.Run(ctx) })
	wg.Go(func() {
		log.Info().Str("addr", addr).Msg("Confer server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	})

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	wg.Wait()
	log.Info().Msg("Server exited gracefully")
	return nil
}
