package services

import (
	"context"
	"fmt"
	"iter"

	"meetjoin/internal/core/domain"
	"meetjoin/internal/core/ports"

	"go.uber.org/zap"
)

// DeviceSelector enumerates video inputs and picks one deterministically.
type DeviceSelector struct {
	lister ports.DeviceLister
	logger *zap.SugaredLogger
}

func NewDeviceSelector(lister ports.DeviceLister, logger *zap.SugaredLogger) *DeviceSelector {
	return &DeviceSelector{lister: lister, logger: logger}
}

// ListVideoInputs returns a lazy sequence of the devices currently reported
// by the platform. Each range re-enumerates. An enumeration failure is
// yielded once as the error value and ends the sequence.
func (s *DeviceSelector) ListVideoInputs(ctx context.Context) iter.Seq2[domain.DeviceHandle, error] {
	return func(yield func(domain.DeviceHandle, error) bool) {
		devices, err := s.lister.ListVideoInputDevices(ctx)
		if err != nil {
			yield(domain.DeviceHandle{}, fmt.Errorf("list video inputs: %w", err))
			return
		}
		for i := 0; i < len(devices); i++ {
			if devices[i].Kind != "" && devices[i].Kind != domain.DeviceKindVideoInput {
				continue
			}
			if !yield(devices[i], nil) {
				return
			}
		}
	}
}

// CollectVideoInputs drains seq into a slice.
func CollectVideoInputs(seq iter.Seq2[domain.DeviceHandle, error]) ([]domain.DeviceHandle, error) {
	var devices []domain.DeviceHandle
	for d, err := range seq {
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// SelectDefault picks the first device. An empty list yields a nil handle
// and no error so the caller can continue without video.
func (s *DeviceSelector) SelectDefault(devices []domain.DeviceHandle) (*domain.DeviceHandle, error) {
	if len(devices) == 0 {
		return nil, nil
	}
	d := devices[0]
	return &d, nil
}

// Pick enumerates and selects in one step.
func (s *DeviceSelector) Pick(ctx context.Context) (*domain.DeviceHandle, error) {
	devices, err := CollectVideoInputs(s.ListVideoInputs(ctx))
	if err != nil {
		return nil, err
	}
	d, err := s.SelectDefault(devices)
	if err != nil {
		return nil, err
	}
	if d == nil {
		s.logger.Infow("no video input available")
		return nil, nil
	}
	s.logger.Debugw("selected video input",
		"device_id", d.DeviceID,
		"label", d.Label,
		"candidates", len(devices),
	)
	return d, nil
}
