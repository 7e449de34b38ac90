package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/echoes/backend/internal/config"
	"github.com/zhouzirui/echoes/backend/internal/events"
	"github.com/zhouzirui/echoes/backend/internal/handler"
	"github.com/zhouzirui/echoes/backend/internal/logging"
	"github.com/zhouzirui/echoes/backend/internal/model/profile"
	sessionModel "github.com/zhouzirui/echoes/backend/internal/model/session"
	"github.com/zhouzirui/echoes/backend/internal/scheduler"
	"github.com/zhouzirui/echoes/backend/internal/script"
	"github.com/zhouzirui/echoes/backend/internal/service/media"
	"github.com/zhouzirui/echoes/backend/internal/service/session"
	"github.com/zhouzirui/echoes/backend/internal/service/upload"
	"github.com/zhouzirui/echoes/backend/internal/service/voice"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Pretty)
	if envErr != nil {
		log.Debug().Err(envErr).Msg("no .env file, using process environment only")
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	scripts := script.Default()
	if cfg.Session.ScriptsFile != "" {
		loaded, err := script.Load(cfg.Session.ScriptsFile)
		if err != nil {
			return err
		}
		scripts = loaded
		log.Info().Str("path", cfg.Session.ScriptsFile).Msg("reply scripts loaded")
	}

	bus, err := newBus(ctx, cfg.Events)
	if err != nil {
		return err
	}

	var capture media.Capture = media.NewSimulatedCapture()
	if cfg.Media.Capture == config.CaptureDenied {
		capture = media.DeniedCapture{}
	}

	seed := time.Now().UnixNano()
	if cfg.Session.RandomSeed != nil {
		seed = *cfg.Session.RandomSeed
	}

	profiles := profile.NewMemoryStore(profile.Seed())
	clock := scheduler.Real()

	sessions := session.NewManager(session.ManagerOptions{
		Profiles: profiles,
		Scripts:  scripts,
		Timing: session.Timing{
			ConnectDelay:   cfg.Session.ConnectDelay,
			TickInterval:   cfg.Session.TickInterval,
			ScriptInterval: cfg.Session.ScriptInterval,
			ReplyDelay:     cfg.Session.ReplyDelay,
		},
		Scheduler:   clock,
		Capture:     capture,
		Synthesizer: voice.NewMockSynthesizer(cfg.Session.PlaybackDuration),
		Transcriber: voice.PlaceholderTranscriber{},
		Events:      bus,
		Random:      session.NewLockedRand(seed),
		Retention:   cfg.Session.Retention,
		SweepSpec:   cfg.Session.SweepSpec,
		OnEnd: func(snap sessionModel.Snapshot) {
			log.Info().Str("session_id", snap.ID).Int("messages", len(snap.Transcript)).Int("elapsed", snap.ElapsedSeconds).Msg("session ended")
		},
	})
	if err := sessions.Start(); err != nil {
		_ = bus.Close()
		return err
	}

	uploads := upload.NewController(upload.Options{
		Profiles:  profiles,
		Scheduler: clock,
		VoicePace: upload.Pace{Step: cfg.Upload.VoiceStep, Interval: cfg.Upload.VoiceInterval},
		TextPace:  upload.Pace{Step: cfg.Upload.TextStep, Interval: cfg.Upload.TextInterval},
		Retention: cfg.Upload.Retention,
		SweepSpec: cfg.Session.SweepSpec,
	})
	if err := uploads.StartSweep(); err != nil {
		sessions.Stop(ctx)
		_ = bus.Close()
		return err
	}

	router := handler.NewRouter(handler.Deps{
		Profiles:       profiles,
		Sessions:       sessions,
		Events:         bus,
		Uploads:        uploads,
		UploadMaxBytes: cfg.Upload.MaxBytes,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("Echoes backend listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		uploads.Close()
		sessions.Stop(shutdownCtx)
		if cerr := bus.Close(); cerr != nil && err == nil {
			err = cerr
		}
		log.Info().Msg("shutdown complete")
		return err
	})
	return g.Wait()
}

func newBus(ctx context.Context, cfg config.EventsConfig) (*events.Bus, error) {
	if cfg.RedisAddr == "" {
		return events.NewMemoryBus(), nil
	}
	bus, err := events.NewRedisBus(ctx, events.RedisConfig{Addr: cfg.RedisAddr, Group: cfg.RedisGroup})
	if err != nil {
		return nil, err
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("session events on redis streams")
	return bus, nil
}
