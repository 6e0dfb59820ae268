package rtc

import (
	"context"
	"fmt"

	"meetjoin/internal/core/domain"
	"meetjoin/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Engine is the pion implementation of the conferencing engine.
type Engine struct {
	cfg    Config
	api    *webrtc.API
	logger *zap.SugaredLogger
}

var _ ports.Engine = (*Engine)(nil)

func NewEngine(cfg Config, logger *zap.SugaredLogger) (*Engine, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("set port range: %w", err)
		}
	}

	settingEngine.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	return &Engine{
		cfg: cfg,
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithSettingEngine(settingEngine),
		),
		logger: logger,
	}, nil
}

func (e *Engine) NewDeviceController(ctx context.Context) (ports.DeviceController, error) {
	return NewDeviceController(e.cfg.VideoInputs, e.cfg.FrameRate, e.logger), nil
}

func (e *Engine) NewSession(ctx context.Context, creds *domain.SessionCredentials, dc ports.DeviceController, sink ports.EventSink) (ports.Session, error) {
	controller, ok := dc.(*DeviceController)
	if !ok {
		return nil, fmt.Errorf("device controller %T was not created by this engine", dc)
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if creds.Meeting.MediaPlacement.SignalingURL == "" {
		return nil, fmt.Errorf("meeting has no signaling url")
	}
	return newSession(e.cfg, e.api, creds, controller, sink, e.logger)
}
