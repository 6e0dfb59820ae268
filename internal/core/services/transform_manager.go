package services

import (
	"context"
	"fmt"
	"sync"

	"meetjoin/internal/core/domain"
	"meetjoin/internal/core/ports"
	apperrors "meetjoin/pkg/errors"
	"meetjoin/pkg/tracing"
	"meetjoin/pkg/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TransformRequest asks for one effect on top of a raw device.
type TransformRequest struct {
	Kind             domain.TransformKind
	OriginalDeviceID string
	Params           domain.TransformParams
}

type activePipeline struct {
	state  domain.TransformState
	device ports.TransformDevice
}

// TransformManager keeps at most one transform pipeline alive. Start and
// Stop are serialized; a Start while a pipeline is active tears the old
// one down first.
type TransformManager struct {
	engine ports.TransformEngine
	assets ports.AssetFetcher
	sink   ports.EventSink
	logger *zap.SugaredLogger

	opMu sync.Mutex

	mu     sync.RWMutex
	active *activePipeline
}

func NewTransformManager(
	engine ports.TransformEngine,
	assets ports.AssetFetcher,
	sink ports.EventSink,
	logger *zap.SugaredLogger,
) *TransformManager {
	return &TransformManager{
		engine: engine,
		assets: assets,
		sink:   sink,
		logger: logger,
	}
}

// Supported reports whether the runtime can build kind.
func (m *TransformManager) Supported(kind domain.TransformKind) bool {
	return m.engine.Supported(kind)
}

// State returns the current transform state without waiting on an
// in-flight Start or Stop.
func (m *TransformManager) State() domain.TransformState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return domain.InactiveTransform
	}
	return m.active.state
}

// Start builds a pipeline for req and binds it through binder. An
// unsupported kind is a no-op that returns the unchanged state. On any
// failure the original device is left bound and no pipeline is active.
func (m *TransformManager) Start(ctx context.Context, binder ports.VideoInputBinder, req TransformRequest) (domain.TransformState, error) {
	if req.Kind != domain.TransformBlur && req.Kind != domain.TransformReplacement {
		return m.State(), apperrors.NewInvalidInputError(fmt.Sprintf("unknown transform kind %q", req.Kind))
	}
	if err := validation.ValidateBlurStrength(req.Params.BlurStrength); err != nil {
		return m.State(), apperrors.NewInvalidInputError(err.Error())
	}
	if req.OriginalDeviceID == "" {
		return m.State(), apperrors.NewDeviceUnavailableError("no video input to transform")
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	ctx, span := tracing.TraceTransform(ctx, "start", string(req.Kind))
	defer span.End()

	if !m.engine.Supported(req.Kind) {
		m.logger.Infow("transform not supported by runtime, ignoring start", "transform", req.Kind)
		m.record(ports.EventTransformUnsupported, req.Kind)
		return m.State(), nil
	}

	if err := m.stopLocked(ctx, binder); err != nil {
		tracing.RecordError(ctx, err)
		return m.State(), fmt.Errorf("stop previous transform: %w", err)
	}

	var asset []byte
	if req.Kind == domain.TransformReplacement {
		if err := validation.ValidateHTTPURL(req.Params.ImageURL); err != nil {
			return m.State(), apperrors.NewInvalidInputError(fmt.Sprintf("image_url: %v", err))
		}
		data, err := m.assets.Fetch(ctx, req.Params.ImageURL)
		if err != nil {
			m.logger.Warnw("background image fetch failed",
				"url", req.Params.ImageURL,
				"error", err,
			)
			m.record(ports.EventTransformFailed, req.Kind)
			tracing.RecordError(ctx, err)
			return m.State(), apperrors.NewTransformAssetError(req.Params.ImageURL, err)
		}
		asset = data
	}

	processor, err := m.engine.NewProcessor(ctx, req.Kind, req.Params, asset)
	if err != nil {
		m.record(ports.EventTransformFailed, req.Kind)
		return m.State(), fmt.Errorf("create %s processor: %w", req.Kind, err)
	}

	device, err := m.engine.NewTransformDevice(ctx, req.OriginalDeviceID, []ports.FrameProcessor{processor})
	if err != nil {
		if derr := processor.Destroy(); derr != nil {
			m.logger.Warnw("failed to destroy processor", "error", derr)
		}
		m.record(ports.EventTransformFailed, req.Kind)
		return m.State(), fmt.Errorf("create transform device: %w", err)
	}

	if err := binder.StartVideoInput(ctx, device); err != nil {
		m.release(ctx, device)
		if rerr := binder.StartVideoInput(ctx, ports.DeviceInput(req.OriginalDeviceID)); rerr != nil {
			m.logger.Errorw("failed to restore original video input",
				"device_id", req.OriginalDeviceID,
				"error", rerr,
			)
		}
		m.record(ports.EventTransformFailed, req.Kind)
		tracing.RecordError(ctx, err)
		return m.State(), fmt.Errorf("bind transform device: %w", err)
	}

	state := domain.TransformState{
		Kind:               req.Kind,
		UnderlyingDeviceID: req.OriginalDeviceID,
		PipelineID:         uuid.NewString(),
	}
	m.mu.Lock()
	m.active = &activePipeline{state: state, device: device}
	m.mu.Unlock()

	m.logger.Infow("transform started",
		"transform", req.Kind,
		"device_id", req.OriginalDeviceID,
		"pipeline_id", state.PipelineID,
	)
	m.record(ports.EventTransformStarted, req.Kind)
	return state, nil
}

// Stop releases the active pipeline and rebinds the original device. With
// no active pipeline it does nothing.
func (m *TransformManager) Stop(ctx context.Context, binder ports.VideoInputBinder) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	ctx, span := tracing.TraceTransform(ctx, "stop", string(m.State().Kind))
	defer span.End()

	return m.stopLocked(ctx, binder)
}

// Discard releases the active pipeline without touching the session input.
// Used when the session itself is going away.
func (m *TransformManager) Discard(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if p := m.take(); p != nil {
		m.release(ctx, p.device)
		m.record(ports.EventTransformStopped, p.state.Kind)
	}
}

func (m *TransformManager) stopLocked(ctx context.Context, binder ports.VideoInputBinder) error {
	p := m.take()
	if p == nil {
		return nil
	}

	m.release(ctx, p.device)
	m.record(ports.EventTransformStopped, p.state.Kind)
	m.logger.Infow("transform stopped",
		"transform", p.state.Kind,
		"pipeline_id", p.state.PipelineID,
	)

	if err := binder.StartVideoInput(ctx, ports.DeviceInput(p.state.UnderlyingDeviceID)); err != nil {
		return fmt.Errorf("restore video input %s: %w", p.state.UnderlyingDeviceID, err)
	}
	return nil
}

func (m *TransformManager) take() *activePipeline {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.active
	m.active = nil
	return p
}

func (m *TransformManager) release(ctx context.Context, device ports.TransformDevice) {
	if err := device.Stop(ctx); err != nil {
		m.logger.Warnw("failed to stop transform device",
			"device_id", device.InnerDeviceID(),
			"error", err,
		)
	}
}

func (m *TransformManager) record(name string, kind domain.TransformKind) {
	if m.sink != nil {
		m.sink.RecordEvent(name, map[string]string{"transform": string(kind)})
	}
}
