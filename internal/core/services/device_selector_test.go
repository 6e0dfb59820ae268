package services

import (
	"context"
	"errors"
	"testing"

	"meetjoin/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDeviceSelector_SelectDefault_EmptyReturnsNone(t *testing.T) {
	s := NewDeviceSelector(new(MockDeviceController), zap.NewNop().Sugar())

	d, err := s.SelectDefault(nil)
	assert.NoError(t, err)
	assert.Nil(t, d)

	d, err = s.SelectDefault([]domain.DeviceHandle{})
	assert.NoError(t, err)
	assert.Nil(t, d)
}

func TestDeviceSelector_SelectDefault_FirstDevice(t *testing.T) {
	s := NewDeviceSelector(new(MockDeviceController), zap.NewNop().Sugar())

	d, err := s.SelectDefault([]domain.DeviceHandle{{DeviceID: "cam-0"}, {DeviceID: "cam-1"}})
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "cam-0", d.DeviceID)
}

func TestDeviceSelector_ListVideoInputs_IncludesLastDevice(t *testing.T) {
	dc := new(MockDeviceController)
	dc.On("ListVideoInputDevices", mock.Anything).Return([]domain.DeviceHandle{
		{DeviceID: "cam-0", Kind: domain.DeviceKindVideoInput},
		{DeviceID: "mic-0", Kind: domain.DeviceKindAudioInput},
		{DeviceID: "cam-1", Kind: domain.DeviceKindVideoInput},
	}, nil)
	s := NewDeviceSelector(dc, zap.NewNop().Sugar())

	devices, err := CollectVideoInputs(s.ListVideoInputs(context.Background()))
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "cam-1", devices[1].DeviceID)
}

func TestDeviceSelector_ListVideoInputs_RestartableAndLazy(t *testing.T) {
	dc := new(MockDeviceController)
	dc.On("ListVideoInputDevices", mock.Anything).Return([]domain.DeviceHandle{{DeviceID: "cam-0"}, {DeviceID: "cam-1"}}, nil)
	s := NewDeviceSelector(dc, zap.NewNop().Sugar())

	seq := s.ListVideoInputs(context.Background())
	dc.AssertNotCalled(t, "ListVideoInputDevices", mock.Anything)

	for d, err := range seq {
		require.NoError(t, err)
		assert.Equal(t, "cam-0", d.DeviceID)
		break
	}
	devices, err := CollectVideoInputs(seq)
	require.NoError(t, err)
	assert.Len(t, devices, 2)
	dc.AssertNumberOfCalls(t, "ListVideoInputDevices", 2)
}

func TestDeviceSelector_ListVideoInputs_Error(t *testing.T) {
	dc := new(MockDeviceController)
	dc.On("ListVideoInputDevices", mock.Anything).Return(nil, errors.New("permission denied"))
	s := NewDeviceSelector(dc, zap.NewNop().Sugar())

	_, err := s.Pick(context.Background())
	assert.ErrorContains(t, err, "permission denied")
}
