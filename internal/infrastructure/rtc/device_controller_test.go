package rtc

import (
	"context"
	"testing"
	"time"

	"meetjoin/internal/core/domain"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// countingSurface is a surface that accepts packets.
type countingSurface struct {
	id string
	packetCollector
}

func (s *countingSurface) SurfaceID() string { return s.id }

type plainSurface string

func (s plainSurface) SurfaceID() string { return string(s) }

func newTestController(t *testing.T, devices ...string) *DeviceController {
	if len(devices) == 0 {
		devices = []string{"cam-0", "cam-1"}
	}
	dc := NewDeviceController(devices, 100, zaptest.NewLogger(t).Sugar())
	t.Cleanup(func() { _ = dc.Destroy(context.Background()) })
	return dc
}

func TestDeviceController_ListVideoInputDevices(t *testing.T) {
	dc := newTestController(t)

	devices, err := dc.ListVideoInputDevices(context.Background())

	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "cam-0", devices[0].DeviceID)
	assert.Equal(t, domain.DeviceKindVideoInput, devices[0].Kind)
	assert.NotEmpty(t, devices[0].GroupID)
	assert.NotEqual(t, devices[0].GroupID, devices[1].GroupID)
	assert.Equal(t, 100, devices[0].Capabilities.FrameRate)

	devices[0].DeviceID = "changed"
	again, _ := dc.ListVideoInputDevices(context.Background())
	assert.Equal(t, "cam-0", again[0].DeviceID)
}

func TestDeviceController_NoDevices(t *testing.T) {
	dc := NewDeviceController(nil, 15, zaptest.NewLogger(t).Sugar())
	devices, err := dc.ListVideoInputDevices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestDeviceController_Preview(t *testing.T) {
	dc := newTestController(t)
	surface := &countingSurface{id: "video-preview"}

	require.NoError(t, dc.StartVideoPreview(context.Background(), "cam-0", surface))
	require.Eventually(t, func() bool { return surface.Len() > 0 }, 2*time.Second, 5*time.Millisecond)
	active, ok := dc.ActiveDevice()
	assert.True(t, ok)
	assert.Equal(t, "cam-0", active)

	require.NoError(t, dc.StopVideoPreview(context.Background(), surface))
	_, ok = dc.ActiveDevice()
	assert.False(t, ok, "device released once nothing taps it")
}

func TestDeviceController_PreviewOnSurfaceWithoutPackets(t *testing.T) {
	dc := newTestController(t)
	require.NoError(t, dc.StartVideoPreview(context.Background(), "cam-0", plainSurface("video-preview")))
	_, ok := dc.ActiveDevice()
	assert.True(t, ok)
}

func TestDeviceController_UnknownDevice(t *testing.T) {
	dc := newTestController(t)
	err := dc.StartVideoPreview(context.Background(), "cam-9", plainSurface("video-preview"))
	assert.ErrorIs(t, err, domain.ErrDeviceNotFound)
}

func TestDeviceController_SharedPumpAndSwitch(t *testing.T) {
	dc := newTestController(t)
	preview := &packetCollector{}
	session := &packetCollector{}

	require.NoError(t, dc.attach("cam-0", previewSink, preview))
	require.NoError(t, dc.attach("cam-0", sessionSink, session))
	require.Eventually(t, func() bool { return preview.Len() > 0 && session.Len() > 0 }, 2*time.Second, 5*time.Millisecond)

	ssrc := func(p *rtp.Packet) uint32 { return p.SSRC }
	assert.Equal(t, ssrc(preview.Last()), ssrc(session.Last()), "one pump feeds every tap")

	before := ssrc(session.Last())
	require.NoError(t, dc.attach("cam-1", sessionSink, session))
	active, _ := dc.ActiveDevice()
	assert.Equal(t, "cam-1", active)
	require.Eventually(t, func() bool { return ssrc(session.Last()) != before }, 2*time.Second, 5*time.Millisecond)

	dc.detach(sessionSink)
	_, ok := dc.ActiveDevice()
	assert.True(t, ok, "preview still taps the device")
	dc.detach(previewSink)
	_, ok = dc.ActiveDevice()
	assert.False(t, ok)
}

func TestDeviceController_Destroy(t *testing.T) {
	dc := newTestController(t)
	require.NoError(t, dc.StartVideoPreview(context.Background(), "cam-0", plainSurface("p")))

	require.NoError(t, dc.Destroy(context.Background()))

	_, ok := dc.ActiveDevice()
	assert.False(t, ok)
	_, err := dc.ListVideoInputDevices(context.Background())
	assert.Error(t, err)
	assert.Error(t, dc.StartVideoPreview(context.Background(), "cam-0", plainSurface("p")))
}
