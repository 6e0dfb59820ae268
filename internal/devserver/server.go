// Package devserver is a self-contained meeting service for local runs and
// tests. It provisions meetings over HTTP and terminates their media in a
// small forwarding unit reached through the websocket signaling protocol.
package devserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	ProvisioningPath = "/meeting"
	SignalingPath    = "/control"
)

type Config struct {
	// SignalingURL overrides the url handed out by provisioning.
	SignalingURL string

	// Bots is the number of synthetic participants published in every room.
	Bots         int
	BotFrameRate int

	ICEServers      []webrtc.ICEServer
	IncludeLoopback bool

	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Bots:         1,
		BotFrameRate: 15,
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server bundles the provisioning registry and the forwarding unit.
type Server struct {
	registry *Registry
	sfu      *SFU
	mux      *http.ServeMux
}

func NewServer(cfg Config, logger *zap.SugaredLogger) (*Server, error) {
	registry := NewRegistry(cfg.SignalingURL, logger.Named("registry"))
	sfu, err := NewSFU(cfg, registry, logger.Named("sfu"))
	if err != nil {
		return nil, fmt.Errorf("create sfu: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET "+ProvisioningPath, registry)
	mux.HandleFunc(SignalingPath, sfu.HandleWebSocket)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{registry: registry, sfu: sfu, mux: mux}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) Registry() *Registry { return s.registry }

// Rooms returns the number of meetings with connected participants.
func (s *Server) Rooms() int { return s.sfu.Rooms() }

// Shutdown disconnects every participant and waits for the rooms to close.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.sfu.Shutdown(ctx)
}
