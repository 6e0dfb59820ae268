package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"meetjoin/internal/core/domain"
	"meetjoin/internal/core/ports"
	apperrors "meetjoin/pkg/errors"
	"meetjoin/pkg/logger"
	"meetjoin/pkg/resource"
	"meetjoin/pkg/tracing"
	"meetjoin/pkg/utils"
	"meetjoin/pkg/validation"

	"go.uber.org/zap"
)

const cleanupTimeout = 5 * time.Second

type CoordinatorConfig struct {
	VideoProfile        domain.VideoProfile
	ProvisioningTimeout time.Duration
	StartTimeout        time.Duration
}

func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		VideoProfile:        domain.DefaultVideoProfile,
		ProvisioningTimeout: 10 * time.Second,
		StartTimeout:        20 * time.Second,
	}
}

// joinedMeeting is everything acquired by one successful Initialize.
type joinedMeeting struct {
	creds         *domain.SessionCredentials
	session       ports.Session
	dispatcher    *EventDispatcher
	registry      *SurfaceRegistry
	videoDeviceID string
}

// Coordinator drives one meeting client: provisioning, devices, the session,
// preview and transforms. Lifecycle operations are serialized; Status never
// waits on them.
type Coordinator struct {
	cfg         CoordinatorConfig
	provisioner ports.Provisioner
	engine      ports.Engine
	transforms  *TransformManager
	surfaces    ports.SurfaceProvider
	sink        ports.EventSink
	log         *logger.ContextLogger

	opMu sync.Mutex

	meeting resource.Slot[*joinedMeeting]
	devices resource.Slot[ports.DeviceController]
	preview resource.Slot[ports.Surface]
}

var _ ports.MeetingCoordinator = (*Coordinator)(nil)

func NewCoordinator(
	cfg CoordinatorConfig,
	provisioner ports.Provisioner,
	engine ports.Engine,
	transforms *TransformManager,
	surfaces ports.SurfaceProvider,
	sink ports.EventSink,
	log *zap.Logger,
) *Coordinator {
	if cfg.VideoProfile == (domain.VideoProfile{}) {
		cfg.VideoProfile = domain.DefaultVideoProfile
	}
	return &Coordinator{
		cfg:         cfg,
		provisioner: provisioner,
		engine:      engine,
		transforms:  transforms,
		surfaces:    surfaces,
		sink:        sink,
		log:         logger.NewContextLogger(log),
	}
}

// Initialize joins meetingID. On failure everything acquired by this call is
// released and a SessionInitError is returned.
func (c *Coordinator) Initialize(ctx context.Context, meetingID string) (err error) {
	if verr := validation.ValidateMeetingID(meetingID); verr != nil {
		return apperrors.NewInvalidInputError(verr.Error())
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.meeting.Held() {
		return apperrors.NewAlreadyJoinedError(meetingID)
	}

	ctx = logger.WithMeetingID(logger.WithAttemptID(ctx, utils.NewAttemptID()), meetingID)
	ctx, span := tracing.TraceMeeting(ctx, "initialize", meetingID)
	defer span.End()
	log := c.log.Sugar(ctx)
	started := time.Now()

	var undo rollback
	defer func() {
		if err == nil {
			return
		}
		undo.run(ctx, log)
		tracing.RecordError(ctx, err)
		c.record(ports.EventMeetingJoinFailed, nil)
		log.Errorw("failed to join meeting", "error", err)
	}()

	// provisioning
	pctx, cancel := context.WithTimeout(ctx, c.cfg.ProvisioningTimeout)
	creds, err := c.provisioner.FetchCredentials(pctx, meetingID)
	cancel()
	if err != nil {
		return apperrors.NewSessionInitError("provisioning failed", err)
	}
	if err = creds.Validate(); err != nil {
		return apperrors.NewSessionInitError("provisioning returned unusable credentials",
			apperrors.NewProvisioningError(err.Error(), 0, err))
	}
	log.Infow("credentials obtained",
		"attendee_id", creds.Attendee.AttendeeID,
		"external_meeting_id", creds.Meeting.ExternalMeetingID,
	)

	// device controller and session
	dc, created, err := c.deviceController(ctx)
	if err != nil {
		return apperrors.NewSessionInitError("device controller", err)
	}
	if created {
		undo.add("destroy device controller", func(ctx context.Context) error {
			c.devices.Release()
			return dc.Destroy(ctx)
		})
	}

	session, err := c.engine.NewSession(ctx, creds, dc, c.sink)
	if err != nil {
		return apperrors.NewSessionInitError("create session", err)
	}

	// video input selection, audio-only when nothing is there
	device, derr := NewDeviceSelector(dc, log).Pick(ctx)
	if derr != nil {
		log.Warnw("video input enumeration failed, joining audio-only", "error", derr)
		device = nil
	}
	if device == nil {
		log.Infow("no video input, joining audio-only", "code", apperrors.ErrCodeDeviceUnavailable)
	}

	p := c.cfg.VideoProfile
	session.ChooseVideoInputQuality(p.Width, p.Height, p.FrameRate)
	session.SetVideoMaxBandwidthKbps(p.MaxBitrateKbps)

	// the observer goes in before any media starts
	registry := NewSurfaceRegistry(session, c.surfaces, c.sink, log)
	dispatcher := NewEventDispatcher(registry, log)
	session.AddObserver(dispatcher)
	undo.add("remove session observer", func(context.Context) error {
		session.RemoveObserver(dispatcher)
		dispatcher.Close()
		registry.Clear()
		return nil
	})

	sctx, scancel := context.WithTimeout(ctx, c.cfg.StartTimeout)
	defer scancel()

	var videoDeviceID string
	if device != nil {
		if err = session.StartVideoInput(sctx, ports.DeviceInput(device.DeviceID)); err != nil {
			return apperrors.NewSessionInitError("start video input", err).
				WithContext("device_id", device.DeviceID)
		}
		videoDeviceID = device.DeviceID
		undo.add("stop video input", session.StopVideoInput)
	}

	// credentials the media service refuses are not reused
	if inv, ok := c.provisioner.(ports.CredentialsInvalidator); ok {
		undo.add("drop cached credentials", func(ctx context.Context) error {
			return inv.Invalidate(ctx, meetingID)
		})
	}
	undo.add("stop session", session.Stop)
	if err = session.Start(sctx); err != nil {
		return apperrors.NewSessionInitError("start session", err)
	}

	if device != nil {
		tileID, terr := session.StartLocalVideoTile()
		if terr != nil {
			err = apperrors.NewSessionInitError("start local video tile", terr)
			return err
		}
		log.Debugw("local video tile started", "tile_id", tileID)
	}

	if err = c.meeting.Acquire(&joinedMeeting{
		creds:         creds,
		session:       session,
		dispatcher:    dispatcher,
		registry:      registry,
		videoDeviceID: videoDeviceID,
	}); err != nil {
		return apperrors.NewSessionInitError("store session", err)
	}

	tracing.MeasureDuration(ctx, started, "initialize")
	log.Infow("meeting joined",
		"attendee_id", creds.Attendee.AttendeeID,
		"device_id", videoDeviceID,
		"audio_only", videoDeviceID == "",
		"took", time.Since(started),
	)
	c.record(ports.EventMeetingJoined, map[string]string{
		"duration_seconds": strconv.FormatFloat(time.Since(started).Seconds(), 'f', 3, 64),
	})
	return nil
}

// Status projects the current state. It never blocks on a running
// operation and has no side effects.
func (c *Coordinator) Status() domain.MeetingStatus {
	st := domain.MeetingStatus{
		PreviewActive: c.preview.Held(),
		Transform:     c.transforms.State().Kind,
	}
	if m, ok := c.meeting.Get(); ok {
		st.MeetingID = m.creds.Meeting.MeetingID
		st.ExternalMeetingID = m.creds.Meeting.ExternalMeetingID
		st.AttendeeID = m.creds.Attendee.AttendeeID
		st.Joined = true
		st.VideoDeviceID = m.videoDeviceID
		st.AudioOnly = m.videoDeviceID == ""
	}
	return st
}

// Surfaces lists remote participant surfaces, plus the local one when bound.
func (c *Coordinator) Surfaces() []domain.ParticipantSurface {
	m, ok := c.meeting.Get()
	if !ok {
		return nil
	}
	out := m.registry.Surfaces()
	if local, ok := m.registry.LocalTile(); ok {
		out = append([]domain.ParticipantSurface{local}, out...)
	}
	return out
}

// PreviewStart shows the camera on surface. It works with or without a
// session; a previous preview surface is detached first.
func (c *Coordinator) PreviewStart(ctx context.Context, surface ports.Surface) error {
	if surface == nil {
		return apperrors.NewInvalidInputError("preview surface is required")
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()
	log := c.log.Sugar(ctx)

	dc, created, err := c.deviceController(ctx)
	if err != nil {
		return fmt.Errorf("device controller: %w", err)
	}

	deviceID := ""
	if m, ok := c.meeting.Get(); ok {
		deviceID = m.videoDeviceID
	}
	if deviceID == "" {
		d, err := NewDeviceSelector(dc, log).Pick(ctx)
		if err != nil {
			log.Warnw("video input enumeration failed", "error", err)
		} else if d != nil {
			deviceID = d.DeviceID
		}
	}
	if deviceID == "" {
		if created {
			c.destroyDeviceController(ctx)
		}
		return apperrors.NewDeviceUnavailableError("no video input device for preview")
	}

	if prev, ok := c.preview.Get(); ok {
		if err := dc.StopVideoPreview(ctx, prev); err != nil {
			log.Warnw("failed to stop previous preview", "surface_id", prev.SurfaceID(), "error", err)
		}
		c.preview.Release()
	}

	if err := dc.StartVideoPreview(ctx, deviceID, surface); err != nil {
		if created {
			c.destroyDeviceController(ctx)
		}
		return fmt.Errorf("start preview: %w", err)
	}
	c.preview.Swap(surface)

	log.Infow("preview started", "device_id", deviceID, "surface_id", surface.SurfaceID())
	c.record(ports.EventPreviewStarted, nil)
	return nil
}

// PreviewStop detaches the preview. Without an active preview it does
// nothing.
func (c *Coordinator) PreviewStop(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.stopPreviewLocked(ctx)
}

func (c *Coordinator) stopPreviewLocked(ctx context.Context) error {
	surface, ok := c.preview.Release()
	if !ok {
		return nil
	}

	var err error
	if dc, ok := c.devices.Get(); ok {
		if serr := dc.StopVideoPreview(ctx, surface); serr != nil {
			err = fmt.Errorf("stop preview: %w", serr)
		}
	}
	if !c.meeting.Held() {
		c.destroyDeviceController(ctx)
	}

	c.log.Sugar(ctx).Infow("preview stopped", "surface_id", surface.SurfaceID())
	c.record(ports.EventPreviewStopped, nil)
	return err
}

// TransformSupported reports whether kind can be started on this runtime.
func (c *Coordinator) TransformSupported(kind domain.TransformKind) bool {
	return c.transforms.Supported(kind)
}

// TransformStart replaces the session video input with a transformed one.
// When the runtime does not support kind the state is returned unchanged.
func (c *Coordinator) TransformStart(ctx context.Context, kind domain.TransformKind, params domain.TransformParams) (domain.TransformState, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	m, ok := c.meeting.Get()
	if !ok {
		return c.transforms.State(), apperrors.NewNoSessionError()
	}
	if m.videoDeviceID == "" {
		return c.transforms.State(), apperrors.NewDeviceUnavailableError("meeting joined without video")
	}

	ctx = logger.WithMeetingID(ctx, m.creds.Meeting.MeetingID)
	return c.transforms.Start(ctx, m.session, TransformRequest{
		Kind:             kind,
		OriginalDeviceID: m.videoDeviceID,
		Params:           params,
	})
}

// TransformStop removes the active transform and rebinds the raw device.
func (c *Coordinator) TransformStop(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	m, ok := c.meeting.Get()
	if !ok {
		return nil
	}
	return c.transforms.Stop(ctx, m.session)
}

// Leave tears the meeting down. It is safe to call when not joined.
func (c *Coordinator) Leave(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	m, ok := c.meeting.Release()
	var errs []error

	if ok {
		ctx = logger.WithMeetingID(ctx, m.creds.Meeting.MeetingID)
		ctx, span := tracing.TraceMeeting(ctx, "leave", m.creds.Meeting.MeetingID)
		defer span.End()

		c.transforms.Discard(ctx)
		if m.videoDeviceID != "" {
			if err := m.session.StopVideoInput(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stop video input: %w", err))
			}
		}
		if err := m.session.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop session: %w", err))
		}

		dctx, cancel := context.WithTimeout(ctx, cleanupTimeout)
		if err := m.dispatcher.Drain(dctx); err != nil {
			c.log.Sugar(ctx).Warnw("session events not drained before leave", "error", err)
		}
		cancel()
		m.session.RemoveObserver(m.dispatcher)
		m.dispatcher.Close()
		m.registry.Clear()
	}

	if err := c.stopPreviewLocked(ctx); err != nil {
		errs = append(errs, err)
	}
	c.destroyDeviceController(ctx)

	if ok {
		c.log.Sugar(ctx).Infow("meeting left", "attendee_id", m.creds.Attendee.AttendeeID)
		c.record(ports.EventMeetingLeft, nil)
	}
	return errors.Join(errs...)
}

// deviceController returns the held controller or creates one. created is
// true when this call made it.
func (c *Coordinator) deviceController(ctx context.Context) (ports.DeviceController, bool, error) {
	if dc, ok := c.devices.Get(); ok {
		return dc, false, nil
	}
	dc, err := c.engine.NewDeviceController(ctx)
	if err != nil {
		return nil, false, err
	}
	if err := c.devices.Acquire(dc); err != nil {
		_ = dc.Destroy(ctx)
		return nil, false, err
	}
	return dc, true, nil
}

func (c *Coordinator) destroyDeviceController(ctx context.Context) {
	dc, ok := c.devices.Release()
	if !ok {
		return
	}
	if err := dc.Destroy(ctx); err != nil {
		c.log.Sugar(ctx).Warnw("failed to destroy device controller", "error", err)
	}
}

func (c *Coordinator) record(name string, attrs map[string]string) {
	if c.sink != nil {
		c.sink.RecordEvent(name, attrs)
	}
}

type undoStep struct {
	name string
	fn   func(ctx context.Context) error
}

// rollback runs registered cleanup steps in reverse order.
type rollback struct {
	steps []undoStep
}

func (r *rollback) add(name string, fn func(ctx context.Context) error) {
	r.steps = append(r.steps, undoStep{name: name, fn: fn})
}

func (r *rollback) run(ctx context.Context, log *zap.SugaredLogger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	for i := len(r.steps) - 1; i >= 0; i-- {
		if err := r.steps[i].fn(ctx); err != nil {
			log.Warnw("rollback step failed", "step", r.steps[i].name, "error", err)
		}
	}
	r.steps = nil
}
