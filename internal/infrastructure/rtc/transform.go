package rtc

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"

	"meetjoin/internal/core/domain"
	"meetjoin/internal/core/ports"

	"github.com/pion/rtp"
	"go.uber.org/zap"
)

// PacketProcessor is a frame processor that rewrites packets in flight.
type PacketProcessor interface {
	ports.FrameProcessor
	Process(p *rtp.Packet) (*rtp.Packet, error)
}

// ProcessorFactory builds a processor for one pipeline.
type ProcessorFactory func(params domain.TransformParams, asset []byte) (PacketProcessor, error)

// TransformEngine builds pipelines from registered processor factories. A
// kind without a factory is unsupported.
type TransformEngine struct {
	factories map[domain.TransformKind]ProcessorFactory
	logger    *zap.SugaredLogger
}

type TransformOption func(*TransformEngine)

// WithProcessor registers factory for kind.
func WithProcessor(kind domain.TransformKind, factory ProcessorFactory) TransformOption {
	return func(e *TransformEngine) {
		e.factories[kind] = factory
	}
}

func NewTransformEngine(logger *zap.SugaredLogger, opts ...TransformOption) *TransformEngine {
	e := &TransformEngine{
		factories: make(map[domain.TransformKind]ProcessorFactory),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ ports.TransformEngine = (*TransformEngine)(nil)

func (e *TransformEngine) Supported(kind domain.TransformKind) bool {
	_, ok := e.factories[kind]
	return ok
}

func (e *TransformEngine) NewProcessor(ctx context.Context, kind domain.TransformKind, params domain.TransformParams, asset []byte) (ports.FrameProcessor, error) {
	factory, ok := e.factories[kind]
	if !ok {
		return nil, fmt.Errorf("no processor registered for %q", kind)
	}
	return factory(params, asset)
}

func (e *TransformEngine) NewTransformDevice(ctx context.Context, deviceID string, processors []ports.FrameProcessor) (ports.TransformDevice, error) {
	if len(processors) == 0 {
		return nil, fmt.Errorf("transform device needs at least one processor")
	}

	chain := make([]PacketProcessor, 0, len(processors))
	names := make([]string, 0, len(processors))
	for _, p := range processors {
		pp, ok := p.(PacketProcessor)
		if !ok {
			return nil, fmt.Errorf("processor %q cannot run on packets", p.Name())
		}
		chain = append(chain, pp)
		names = append(names, p.Name())
	}

	return &TransformDevice{
		id:         strings.Join(names, "+") + ":" + deviceID,
		inner:      deviceID,
		processors: chain,
		logger:     e.logger,
	}, nil
}

// TransformDevice runs a processor chain over the packets of a raw device.
type TransformDevice struct {
	id         string
	inner      string
	processors []PacketProcessor
	logger     *zap.SugaredLogger

	mu      sync.RWMutex
	stopped bool
}

func (d *TransformDevice) DeviceID() string      { return d.id }
func (d *TransformDevice) InnerDeviceID() string { return d.inner }

// Wrap returns a writer that processes packets before handing them to next.
// Packets are dropped once the device is stopped.
func (d *TransformDevice) Wrap(next PacketWriter) PacketWriter {
	return packetWriterFunc(func(p *rtp.Packet) error {
		d.mu.RLock()
		defer d.mu.RUnlock()
		if d.stopped {
			return nil
		}

		out := p
		for _, proc := range d.processors {
			var err error
			if out, err = proc.Process(out); err != nil {
				return fmt.Errorf("%s: %w", proc.Name(), err)
			}
		}
		return next.WriteRTP(out)
	})
}

func (d *TransformDevice) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return nil
	}
	d.stopped = true

	var firstErr error
	for _, p := range d.processors {
		if err := p.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.logger.Debugw("transform device stopped", "device_id", d.id)
	return firstErr
}

// Header extension ids stamped by the marker processors.
const (
	BlurExtensionID        = 5
	ReplacementExtensionID = 6
)

// markerProcessor stamps each packet with a header extension so receivers
// can tell which effect produced it.
type markerProcessor struct {
	name  string
	extID uint8
	value []byte

	mu        sync.Mutex
	destroyed bool
}

// NewBlurMarker stamps the blur strength on every packet.
func NewBlurMarker(params domain.TransformParams, _ []byte) (PacketProcessor, error) {
	strength := params.BlurStrength
	if strength == 0 {
		strength = 50
	}
	return &markerProcessor{
		name:  string(domain.TransformBlur),
		extID: BlurExtensionID,
		value: []byte{byte(strength)},
	}, nil
}

// NewReplacementMarker stamps a digest of the background image.
func NewReplacementMarker(_ domain.TransformParams, asset []byte) (PacketProcessor, error) {
	if len(asset) == 0 {
		return nil, fmt.Errorf("replacement background is empty")
	}
	sum := sha256.Sum256(asset)
	return &markerProcessor{
		name:  string(domain.TransformReplacement),
		extID: ReplacementExtensionID,
		value: sum[:4],
	}, nil
}

func (m *markerProcessor) Name() string { return m.name }

func (m *markerProcessor) Process(p *rtp.Packet) (*rtp.Packet, error) {
	m.mu.Lock()
	destroyed := m.destroyed
	m.mu.Unlock()
	if destroyed {
		return nil, fmt.Errorf("processor destroyed")
	}

	out := p.Clone()
	if err := out.Header.SetExtension(m.extID, m.value); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *markerProcessor) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroyed = true
	return nil
}
