package services

import (
	"context"
	"fmt"
	"sync"

	"meetjoin/internal/core/domain"
	"meetjoin/internal/core/ports"

	"github.com/stretchr/testify/mock"
)

type MockProvisioner struct {
	mock.Mock
}

func (m *MockProvisioner) FetchCredentials(ctx context.Context, meetingID string) (*domain.SessionCredentials, error) {
	args := m.Called(ctx, meetingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SessionCredentials), args.Error(1)
}

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) NewDeviceController(ctx context.Context) (ports.DeviceController, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.DeviceController), args.Error(1)
}

func (m *MockEngine) NewSession(ctx context.Context, creds *domain.SessionCredentials, dc ports.DeviceController, sink ports.EventSink) (ports.Session, error) {
	args := m.Called(ctx, creds, dc, sink)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.Session), args.Error(1)
}

type MockDeviceController struct {
	mock.Mock
}

func (m *MockDeviceController) ListVideoInputDevices(ctx context.Context) ([]domain.DeviceHandle, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.DeviceHandle), args.Error(1)
}

func (m *MockDeviceController) StartVideoPreview(ctx context.Context, deviceID string, surface ports.Surface) error {
	return m.Called(ctx, deviceID, surface).Error(0)
}

func (m *MockDeviceController) StopVideoPreview(ctx context.Context, surface ports.Surface) error {
	return m.Called(ctx, surface).Error(0)
}

func (m *MockDeviceController) Destroy(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// MockSession records observers so tests can fire engine events. Observer
// calls are recorded without arguments: the dispatcher is live and must not
// be formatted by testify.
type MockSession struct {
	mock.Mock

	mu        sync.Mutex
	observers []ports.SessionObserver
}

func (m *MockSession) AddObserver(o ports.SessionObserver) {
	m.Called()
	m.mu.Lock()
	m.observers = append(m.observers, o)
	m.mu.Unlock()
}

func (m *MockSession) RemoveObserver(o ports.SessionObserver) {
	m.Called()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.observers {
		if existing == o {
			m.observers = append(m.observers[:i], m.observers[i+1:]...)
			return
		}
	}
}

func (m *MockSession) Observers() []ports.SessionObserver {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.SessionObserver(nil), m.observers...)
}

func (m *MockSession) ChooseVideoInputQuality(width, height, frameRate int) {
	m.Called(width, height, frameRate)
}

func (m *MockSession) SetVideoMaxBandwidthKbps(kbps int) {
	m.Called(kbps)
}

func (m *MockSession) StartVideoInput(ctx context.Context, input ports.VideoInput) error {
	return m.Called(ctx, input).Error(0)
}

func (m *MockSession) StopVideoInput(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSession) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSession) Stop(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSession) StartLocalVideoTile() (domain.TileID, error) {
	args := m.Called()
	return args.Get(0).(domain.TileID), args.Error(1)
}

func (m *MockSession) BindVideoElement(tileID domain.TileID, surface ports.Surface) error {
	return m.Called(tileID, surface).Error(0)
}

type MockTransformEngine struct {
	mock.Mock
}

func (m *MockTransformEngine) Supported(kind domain.TransformKind) bool {
	return m.Called(kind).Bool(0)
}

func (m *MockTransformEngine) NewProcessor(ctx context.Context, kind domain.TransformKind, params domain.TransformParams, asset []byte) (ports.FrameProcessor, error) {
	args := m.Called(ctx, kind, params, asset)
	if fn, ok := args.Get(0).(func(context.Context, domain.TransformKind, domain.TransformParams, []byte) (ports.FrameProcessor, error)); ok {
		return fn(ctx, kind, params, asset)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.FrameProcessor), args.Error(1)
}

func (m *MockTransformEngine) NewTransformDevice(ctx context.Context, deviceID string, processors []ports.FrameProcessor) (ports.TransformDevice, error) {
	args := m.Called(ctx, deviceID, processors)
	if fn, ok := args.Get(0).(func(context.Context, string, []ports.FrameProcessor) (ports.TransformDevice, error)); ok {
		return fn(ctx, deviceID, processors)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.TransformDevice), args.Error(1)
}

type MockAssetFetcher struct {
	mock.Mock
}

func (m *MockAssetFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

type fakeProcessor struct {
	name      string
	destroyed bool
}

func (p *fakeProcessor) Name() string   { return p.name }
func (p *fakeProcessor) Destroy() error { p.destroyed = true; return nil }

type fakeTransformDevice struct {
	id      string
	inner   string
	stopped int
}

func (d *fakeTransformDevice) DeviceID() string      { return d.id }
func (d *fakeTransformDevice) InnerDeviceID() string { return d.inner }
func (d *fakeTransformDevice) Stop(context.Context) error {
	d.stopped++
	return nil
}

type fakeSurface string

func (s fakeSurface) SurfaceID() string { return string(s) }

// fakeSurfaces is an in-memory SurfaceProvider.
type fakeSurfaces struct {
	mu      sync.Mutex
	local   ports.Surface
	remote  map[domain.TileID]fakeSurface
	created int
	failFor map[domain.TileID]bool
}

func newFakeSurfaces() *fakeSurfaces {
	return &fakeSurfaces{
		local:   fakeSurface("video-local"),
		remote:  make(map[domain.TileID]fakeSurface),
		failFor: make(map[domain.TileID]bool),
	}
}

func (f *fakeSurfaces) LocalSurface() ports.Surface {
	return f.local
}

func (f *fakeSurfaces) CreateRemoteSurface(tileID domain.TileID) (ports.Surface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[tileID] {
		return nil, fmt.Errorf("no container for tile %d", tileID)
	}
	s := fakeSurface(fmt.Sprintf("tile-%d", tileID))
	f.remote[tileID] = s
	f.created++
	return s, nil
}

func (f *fakeSurfaces) RemoveRemoteSurface(tileID domain.TileID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.remote[tileID]; !ok {
		return fmt.Errorf("surface for tile %d not found", tileID)
	}
	delete(f.remote, tileID)
	return nil
}

func (f *fakeSurfaces) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.remote)
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) RecordEvent(name string, _ map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, name)
}

func (s *recordingSink) Count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == name {
			n++
		}
	}
	return n
}
