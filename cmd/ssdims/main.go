package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ssdims/ssdims/pkg/common"
	"github.com/ssdims/ssdims/pkg/coordinator"
	"github.com/ssdims/ssdims/pkg/ims"
	"github.com/ssdims/ssdims/pkg/log"
	"github.com/ssdims/ssdims/pkg/server"
	"github.com/ssdims/ssdims/pkg/storage"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	api := ims.Configured()
	s := storage.Configured()
	c := coordinator.Configured(api, s)

	// init server
	srv := server.Configured(c, s, common.Version())

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()
	defer api.Logout(context.Background())

	log.Ctx(ctx).InfoContext(ctx, "starting ssdims", slog.String("version", common.Version()))

	coordinatorDone := make(chan struct{})
	go func() {
		defer close(coordinatorDone)
		if err := c.Run(ctx); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "coordinator stopped", "error", err)
			cancel()
		}
	}()

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		cancel()
		<-coordinatorDone
		os.Exit(1)
	}
	<-coordinatorDone
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
