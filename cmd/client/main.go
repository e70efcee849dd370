package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/vidcall/internal/adapters/credential"
	router "github.com/dkeye/vidcall/internal/adapters/http"
	"github.com/dkeye/vidcall/internal/adapters/media"
	"github.com/dkeye/vidcall/internal/adapters/rtc"
	"github.com/dkeye/vidcall/internal/app"
	"github.com/dkeye/vidcall/internal/app/orch"
	"github.com/dkeye/vidcall/internal/config"
	"github.com/dkeye/vidcall/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	flags := config.Flags()
	if err := flags.Parse(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("bad flags")
	}
	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	capturer, err := media.NewCapturer()
	if err != nil {
		log.Fatal().Err(err).Msg("capture init")
	}
	me := &webrtc.MediaEngine{}
	if err := capturer.PopulateMediaEngine(me); err != nil {
		log.Fatal().Err(err).Msg("media engine init")
	}
	engine, err := rtc.NewEngine(rtc.Options{
		ICEServers:  cfg.RTC.ICEServers,
		PingPeriod:  cfg.RTC.PingPeriod,
		MediaEngine: me,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("rtc engine init")
	}

	devices := app.NewDeviceRegistry(media.NewProvider())
	publish := app.NewPublishController(capturer, app.PublishOptions{
		Width:     cfg.Publisher.Width,
		Height:    cfg.Publisher.Height,
		FrameRate: cfg.Publisher.FrameRate,
		Mirror:    cfg.Publisher.Mirror,
	})

	co := orch.New(orch.Config{
		Engine:       engine,
		Credentials:  credential.New(credential.Config{BaseURL: cfg.Backend.URL, Timeout: cfg.Backend.Timeout}),
		Devices:      devices,
		Publish:      publish,
		Policy:       app.SimplePolicy{},
		AudioEnabled: cfg.Publisher.Audio,
		VideoEnabled: cfg.Publisher.Video,
		NewForm: func() domain.JoinForm {
			return domain.NewJoinForm(cfg.Session.DefaultID, cfg.Session.NamePrefix)
		},
	})
	defer co.Close()

	r := router.SetupRouter(ctx, cfg, co, devices)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("vidcall client started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := co.Leave(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("leave on shutdown")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Client exited gracefully")
}
