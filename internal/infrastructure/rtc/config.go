package rtc

import (
	"time"

	"meetjoin/pkg/config"

	"github.com/pion/webrtc/v3"
)

// Config configures the pion engine.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}

	// KeyframeRequestInterval rate limits PLIs per remote tile.
	KeyframeRequestInterval time.Duration

	PingInterval time.Duration
	WriteTimeout time.Duration

	// VideoInputs are the synthetic capture devices the controller reports.
	VideoInputs []string
	FrameRate   int

	// IncludeLoopback gathers loopback ICE candidates, for single-host setups.
	IncludeLoopback bool
}

// DefaultConfig returns a configuration with one synthetic device.
func DefaultConfig() Config {
	return Config{
		KeyframeRequestInterval: time.Second,
		PingInterval:            15 * time.Second,
		WriteTimeout:            5 * time.Second,
		VideoInputs:             []string{"cam-0"},
		FrameRate:               15,
	}
}

// ConfigFrom maps the application configuration onto the engine.
func ConfigFrom(cfg *config.Config) Config {
	c := Config{
		KeyframeRequestInterval: cfg.WebRTC.KeyframeRequestInterval,
		PingInterval:            cfg.Session.Signaling.PingInterval,
		WriteTimeout:            cfg.Session.Signaling.WriteTimeout,
		VideoInputs:             append([]string(nil), cfg.Devices.VideoInputs...),
		FrameRate:               cfg.Devices.FrameRate,
	}
	c.PortRange.Min = cfg.WebRTC.PortRange.Min
	c.PortRange.Max = cfg.WebRTC.PortRange.Max

	for _, s := range cfg.WebRTC.ICEServers {
		c.ICEServers = append(c.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return c
}
