package rtc

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

const (
	vp8PayloadType  = 96
	videoClockRate  = 90000
	keyframeEvery   = 60
	patternBodySize = 160
)

// PatternSource is a synthetic capture device. It emits VP8-framed RTP
// packets carrying a deterministic pattern at a fixed frame rate.
type PatternSource struct {
	deviceID string
	width    int
	height   int
	out      PacketWriter

	frameRate atomic.Int32
	keyframe  atomic.Bool

	ssrc      uint32
	seq       uint16
	timestamp uint32
	frame     uint64
	seed      byte

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewPatternSource creates a stopped source for deviceID writing to out.
func NewPatternSource(deviceID string, width, height, frameRate int, out PacketWriter) *PatternSource {
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceID))

	s := &PatternSource{
		deviceID:  deviceID,
		width:     width,
		height:    height,
		out:       out,
		ssrc:      rand.Uint32(),
		seq:       uint16(rand.UintN(1 << 16)),
		timestamp: rand.Uint32(),
		seed:      byte(h.Sum32()),
		done:      make(chan struct{}),
	}
	s.frameRate.Store(int32(frameRate))
	s.keyframe.Store(true)
	return s
}

func (s *PatternSource) DeviceID() string { return s.deviceID }

// Codec is the capability of the packets the source emits.
func (s *PatternSource) Codec() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: videoClockRate}
}

// SetFrameRate changes the rate from the next tick on.
func (s *PatternSource) SetFrameRate(fps int) {
	if fps > 0 {
		s.frameRate.Store(int32(fps))
	}
}

// RequestKeyframe makes the next frame a keyframe.
func (s *PatternSource) RequestKeyframe() {
	s.keyframe.Store(true)
}

// Start runs the pump until Stop.
func (s *PatternSource) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
}

// Stop halts the pump and waits for it. Stop is idempotent.
func (s *PatternSource) Stop() {
	s.once.Do(func() {
		if s.cancel == nil {
			close(s.done)
			return
		}
		s.cancel()
		<-s.done
	})
}

func (s *PatternSource) run(ctx context.Context) {
	defer close(s.done)

	fps := s.frameRate.Load()
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if cur := s.frameRate.Load(); cur != fps {
			fps = cur
			ticker.Reset(time.Second / time.Duration(fps))
		}
		_ = s.out.WriteRTP(s.nextPacket(uint32(videoClockRate / fps)))
	}
}

// nextPacket builds one single-packet frame.
func (s *PatternSource) nextPacket(tsStep uint32) *rtp.Packet {
	key := s.keyframe.Swap(false) || s.frame%keyframeEvery == 0

	payload := make([]byte, 0, 11+patternBodySize)
	payload = append(payload, 0x10) // S=1, PID=0
	if key {
		payload = append(payload, 0x00, 0x00, 0x00, 0x9d, 0x01, 0x2a,
			byte(s.width), byte(s.width>>8), byte(s.height), byte(s.height>>8))
	} else {
		payload = append(payload, 0x01, 0x00, 0x00)
	}
	for i := 0; i < patternBodySize; i++ {
		payload = append(payload, s.seed+byte(s.frame)+byte(i))
	}

	p := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         true,
			PayloadType:    vp8PayloadType,
			SequenceNumber: s.seq,
			Timestamp:      s.timestamp,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}

	s.seq++
	s.timestamp += tsStep
	s.frame++
	return p
}
