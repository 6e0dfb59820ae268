package rtc

import (
	"github.com/pion/rtp"
)

// PacketWriter receives RTP packets. Packets are shared between writers and
// must not be modified; clone before changing one.
type PacketWriter interface {
	WriteRTP(p *rtp.Packet) error
}

type packetWriterFunc func(p *rtp.Packet) error

func (f packetWriterFunc) WriteRTP(p *rtp.Packet) error { return f(p) }

// vp8Keyframe reports whether payload starts a VP8 keyframe.
func vp8Keyframe(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}

	desc := payload[0]
	start := desc&0x10 != 0
	partition := desc & 0x07
	n := 1

	// extended control bits
	if desc&0x80 != 0 {
		if len(payload) < 2 {
			return false
		}
		ext := payload[1]
		n++
		if ext&0x80 != 0 { // picture id
			if len(payload) <= n {
				return false
			}
			if payload[n]&0x80 != 0 {
				n += 2
			} else {
				n++
			}
		}
		if ext&0x40 != 0 { // TL0PICIDX
			n++
		}
		if ext&0x30 != 0 { // TID / KEYIDX
			n++
		}
	}

	if !start || partition != 0 || len(payload) <= n {
		return false
	}
	// the P bit of the frame tag is clear on keyframes
	return payload[n]&0x01 == 0
}
