package rtc

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type packetCollector struct {
	mu      sync.Mutex
	packets []*rtp.Packet
}

func (c *packetCollector) WriteRTP(p *rtp.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packets = append(c.packets, p)
	return nil
}

func (c *packetCollector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.packets)
}

func (c *packetCollector) Last() *rtp.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.packets) == 0 {
		return nil
	}
	return c.packets[len(c.packets)-1]
}

func TestPatternSource_Packets(t *testing.T) {
	src := NewPatternSource("cam-0", 960, 540, 15, &packetCollector{})

	first := src.nextPacket(6000)
	second := src.nextPacket(6000)

	assert.True(t, vp8Keyframe(first.Payload), "first frame is a keyframe")
	assert.False(t, vp8Keyframe(second.Payload))
	assert.Equal(t, first.SequenceNumber+1, second.SequenceNumber)
	assert.Equal(t, first.Timestamp+6000, second.Timestamp)
	assert.Equal(t, first.SSRC, second.SSRC)
	assert.Equal(t, uint8(vp8PayloadType), first.PayloadType)

	src.RequestKeyframe()
	assert.True(t, vp8Keyframe(src.nextPacket(6000).Payload))
}

func TestPatternSource_DevicesProduceDifferentPatterns(t *testing.T) {
	a := NewPatternSource("cam-0", 960, 540, 15, &packetCollector{}).nextPacket(6000)
	b := NewPatternSource("cam-1", 960, 540, 15, &packetCollector{}).nextPacket(6000)
	assert.NotEqual(t, a.Payload, b.Payload)
}

func TestPatternSource_StartStop(t *testing.T) {
	out := &packetCollector{}
	src := NewPatternSource("cam-0", 960, 540, 100, out)

	src.Start()
	require.Eventually(t, func() bool { return out.Len() >= 3 }, 2*time.Second, 5*time.Millisecond)
	src.Stop()
	src.Stop()

	n := out.Len()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, out.Len(), "no packets after stop")
}

func TestPatternSource_StopWithoutStart(t *testing.T) {
	src := NewPatternSource("cam-0", 960, 540, 15, &packetCollector{})
	src.Stop()
}
