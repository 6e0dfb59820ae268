// Command devserver runs a local meeting service: provisioning on /meeting
// and signaling with media forwarding on /control. Point
// provisioning.endpoint at http://<addr>/meeting to join meetings offline.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"meetjoin/internal/devserver"
	"meetjoin/pkg/logger"
	"meetjoin/pkg/validation"
)

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	bots := flag.Int("bots", 1, "synthetic participants published in every meeting")
	fps := flag.Int("fps", 15, "bot frame rate")
	signalingURL := flag.String("signaling-url", "", "signaling url handed out by provisioning; derived from the request host when empty")
	loopback := flag.Bool("loopback", true, "gather loopback ICE candidates")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	zapLogger := logger.New(*logLevel)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if *signalingURL != "" {
		if err := validation.ValidateURL(*signalingURL); err != nil {
			log.Fatalw("invalid -signaling-url", "error", err)
		}
	}

	cfg := devserver.DefaultConfig()
	cfg.Bots = *bots
	cfg.BotFrameRate = *fps
	cfg.SignalingURL = *signalingURL
	cfg.IncludeLoopback = *loopback

	srv, err := devserver.NewServer(cfg, log)
	if err != nil {
		log.Fatalw("failed to create dev server", "error", err)
	}

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Infow("starting dev meeting server", "address", *addr, "bots", *bots)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("dev server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down dev server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("rooms did not close cleanly", "error", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("http server shutdown failed", "error", err)
	}
}
