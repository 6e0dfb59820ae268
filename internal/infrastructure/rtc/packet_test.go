package rtc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVP8Keyframe(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
		want    bool
	}{
		{"empty", nil, false},
		{"keyframe", []byte{0x10, 0x00, 0x00, 0x00}, true},
		{"interframe", []byte{0x10, 0x01, 0x00, 0x00}, false},
		{"continuation packet", []byte{0x00, 0x00, 0x00}, false},
		{"second partition", []byte{0x11, 0x00, 0x00}, false},
		{"extended with short picture id", []byte{0x90, 0x80, 0x05, 0x00}, true},
		{"extended with long picture id", []byte{0x90, 0x80, 0x85, 0x05, 0x01}, false},
		{"extended with every field", []byte{0x90, 0xf0, 0x85, 0x05, 0x01, 0x20, 0x00}, true},
		{"truncated extension", []byte{0x90}, false},
		{"descriptor only", []byte{0x10}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, vp8Keyframe(tc.payload))
		})
	}
}
