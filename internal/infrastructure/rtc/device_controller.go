package rtc

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"meetjoin/internal/core/domain"
	"meetjoin/internal/core/ports"
	"meetjoin/pkg/utils"

	"github.com/pion/rtp"
	"go.uber.org/zap"
)

const (
	previewSink = "preview"
	sessionSink = "session"
)

// DeviceController owns the synthetic capture devices. At most one device
// is claimed at a time; every consumer taps the same pump.
type DeviceController struct {
	devices []domain.DeviceHandle
	profile domain.VideoProfile
	logger  *zap.SugaredLogger

	mu        sync.RWMutex
	pump      *PatternSource
	sinks     map[string]PacketWriter
	destroyed bool
}

var _ ports.DeviceController = (*DeviceController)(nil)

// NewDeviceController reports one video input per configured id.
func NewDeviceController(deviceIDs []string, frameRate int, logger *zap.SugaredLogger) *DeviceController {
	profile := domain.DefaultVideoProfile
	if frameRate > 0 {
		profile.FrameRate = frameRate
	}

	devices := make([]domain.DeviceHandle, 0, len(deviceIDs))
	for i, id := range deviceIDs {
		label := fmt.Sprintf("Synthetic Camera %d", i)
		devices = append(devices, domain.DeviceHandle{
			DeviceID: id,
			Label:    label,
			GroupID:  utils.DeviceGroupID(label),
			Kind:     domain.DeviceKindVideoInput,
			Capabilities: domain.DeviceCapabilities{
				Width:     profile.Width,
				Height:    profile.Height,
				FrameRate: profile.FrameRate,
			},
		})
	}

	return &DeviceController{
		devices: devices,
		profile: profile,
		logger:  logger,
		sinks:   make(map[string]PacketWriter),
	}
}

func (c *DeviceController) ListVideoInputDevices(ctx context.Context) ([]domain.DeviceHandle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.destroyed {
		return nil, fmt.Errorf("device controller destroyed")
	}
	return slices.Clone(c.devices), nil
}

func (c *DeviceController) StartVideoPreview(ctx context.Context, deviceID string, surface ports.Surface) error {
	w, ok := surface.(PacketWriter)
	if !ok {
		w = packetWriterFunc(func(*rtp.Packet) error { return nil })
	}
	if err := c.attach(deviceID, previewSink, w); err != nil {
		return err
	}
	c.logger.Infow("video preview started", "device_id", deviceID, "surface_id", surface.SurfaceID())
	return nil
}

func (c *DeviceController) StopVideoPreview(ctx context.Context, surface ports.Surface) error {
	c.detach(previewSink)
	c.logger.Infow("video preview stopped", "surface_id", surface.SurfaceID())
	return nil
}

// Destroy releases the claimed device. Later calls fail.
func (c *DeviceController) Destroy(ctx context.Context) error {
	c.mu.Lock()
	pump := c.pump
	c.pump = nil
	clear(c.sinks)
	c.destroyed = true
	c.mu.Unlock()

	if pump != nil {
		pump.Stop()
	}
	return nil
}

// ActiveDevice returns the claimed device id, if any.
func (c *DeviceController) ActiveDevice() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.pump == nil {
		return "", false
	}
	return c.pump.DeviceID(), true
}

// SetFrameRate applies fps to the running pump and to later ones.
func (c *DeviceController) SetFrameRate(fps int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fps <= 0 {
		return
	}
	c.profile.FrameRate = fps
	if c.pump != nil {
		c.pump.SetFrameRate(fps)
	}
}

// RequestKeyframe asks the running pump for a keyframe.
func (c *DeviceController) RequestKeyframe() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.pump != nil {
		c.pump.RequestKeyframe()
	}
}

// attach routes packets of deviceID to w under name. A different device is
// claimed only after the previous pump has stopped.
func (c *DeviceController) attach(deviceID, name string, w PacketWriter) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return fmt.Errorf("device controller destroyed")
	}
	if !c.known(deviceID) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrDeviceNotFound, deviceID)
	}

	var old *PatternSource
	if c.pump != nil && c.pump.DeviceID() != deviceID {
		old = c.pump
		c.pump = nil
	}
	c.sinks[name] = w
	c.mu.Unlock()

	if old != nil {
		old.Stop()
		c.logger.Infow("capture device released", "device_id", old.DeviceID())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pump == nil && !c.destroyed {
		c.pump = NewPatternSource(deviceID, c.profile.Width, c.profile.Height, c.profile.FrameRate, packetWriterFunc(c.dispatch))
		c.pump.Start()
		c.logger.Infow("capture device claimed", "device_id", deviceID)
	}
	return nil
}

// detach removes name. The device is released when nothing taps it.
func (c *DeviceController) detach(name string) {
	c.mu.Lock()
	delete(c.sinks, name)
	var pump *PatternSource
	if len(c.sinks) == 0 && c.pump != nil {
		pump = c.pump
		c.pump = nil
	}
	c.mu.Unlock()

	if pump != nil {
		pump.Stop()
		c.logger.Infow("capture device released", "device_id", pump.DeviceID())
	}
}

func (c *DeviceController) dispatch(p *rtp.Packet) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for name, w := range c.sinks {
		if err := w.WriteRTP(p); err != nil {
			c.logger.Debugw("packet sink failed", "sink", name, "error", err)
		}
	}
	return nil
}

func (c *DeviceController) known(deviceID string) bool {
	return slices.ContainsFunc(c.devices, func(d domain.DeviceHandle) bool {
		return d.DeviceID == deviceID
	})
}
