package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"meetjoin/internal/core/domain"
	"meetjoin/internal/core/ports"
	"meetjoin/pkg/tracing"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var errSessionStarted = errors.New("session already started")

// Session is a meeting session over one PeerConnection and one signaling
// connection.
type Session struct {
	cfg    Config
	creds  *domain.SessionCredentials
	dc     *DeviceController
	sink   ports.EventSink
	api    *webrtc.API
	logger *zap.SugaredLogger

	localTrack *webrtc.TrackLocalStaticRTP

	outMu        sync.RWMutex
	localSurface PacketWriter

	mu           sync.Mutex
	observers    []ports.SessionObserver
	pc           *webrtc.PeerConnection
	signal       *signalClient
	input        ports.VideoInput
	localTile    domain.TileID
	tiles        map[domain.TileID]*remoteTile
	nextTile     domain.TileID
	profile      domain.VideoProfile
	pending      []webrtc.ICECandidateInit
	started      bool
	stopped      bool
	avStarted    bool
	stopNotified bool

	answered   chan struct{}
	answerOnce sync.Once
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

type remoteTile struct {
	id         domain.TileID
	attendeeID string
	track      *webrtc.TrackRemote
	limiter    *rate.Limiter

	mu   sync.RWMutex
	sink PacketWriter
}

func (t *remoteTile) setSink(w PacketWriter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink = w
}

func (t *remoteTile) write(p *rtp.Packet) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.sink != nil {
		_ = t.sink.WriteRTP(p)
	}
}

var _ ports.Session = (*Session)(nil)

func newSession(cfg Config, api *webrtc.API, creds *domain.SessionCredentials, dc *DeviceController, sink ports.EventSink, logger *zap.SugaredLogger) (*Session, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: videoClockRate},
		"video",
		creds.Attendee.AttendeeID,
	)
	if err != nil {
		return nil, fmt.Errorf("create local video track: %w", err)
	}

	return &Session{
		cfg:        cfg,
		creds:      creds,
		dc:         dc,
		sink:       sink,
		api:        api,
		logger:     logger.With("meeting_id", creds.Meeting.MeetingID, "attendee_id", creds.Attendee.AttendeeID),
		localTrack: track,
		tiles:      make(map[domain.TileID]*remoteTile),
		profile:    domain.DefaultVideoProfile,
		answered:   make(chan struct{}),
	}, nil
}

func (s *Session) AddObserver(o ports.SessionObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *Session) RemoveObserver(o ports.SessionObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = slices.DeleteFunc(s.observers, func(x ports.SessionObserver) bool { return x == o })
}

func (s *Session) ChooseVideoInputQuality(width, height, frameRate int) {
	s.mu.Lock()
	s.profile.Width = width
	s.profile.Height = height
	s.profile.FrameRate = frameRate
	s.mu.Unlock()
	s.dc.SetFrameRate(frameRate)
}

func (s *Session) SetVideoMaxBandwidthKbps(kbps int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile.MaxBitrateKbps = kbps
}

// StartVideoInput binds input to the outgoing track, replacing whatever was
// bound. A transform device is fed from its inner device.
func (s *Session) StartVideoInput(ctx context.Context, input ports.VideoInput) error {
	if s.isStopped() {
		return domain.ErrSessionClosed
	}
	var w PacketWriter = packetWriterFunc(s.writeOutbound)
	deviceID := input.DeviceID()

	switch in := input.(type) {
	case *TransformDevice:
		w = in.Wrap(w)
		deviceID = in.InnerDeviceID()
	case ports.TransformDevice:
		return fmt.Errorf("transform device %q was not built by this engine", in.DeviceID())
	}

	if err := s.dc.attach(deviceID, sessionSink, w); err != nil {
		return err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.dc.detach(sessionSink)
		return domain.ErrSessionClosed
	}
	s.input = input
	s.mu.Unlock()

	s.dc.RequestKeyframe()
	s.logger.Infow("video input bound", "device_id", input.DeviceID())
	return nil
}

func (s *Session) StopVideoInput(ctx context.Context) error {
	s.dc.detach(sessionSink)

	s.mu.Lock()
	input := s.input
	s.input = nil
	s.mu.Unlock()

	if input != nil {
		s.logger.Infow("video input stopped", "device_id", input.DeviceID())
	}
	return nil
}

// Start connects signaling and media and returns once the remote answer is
// applied.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return errSessionStarted
	}
	s.started = true
	profile := s.profile
	s.mu.Unlock()

	ctx, span := tracing.TraceMeeting(ctx, "session_start", s.creds.Meeting.MeetingID)
	defer span.End()

	sig, err := dialSignaling(ctx,
		s.creds.Meeting.MediaPlacement.SignalingURL,
		s.creds.Attendee.AttendeeID,
		s.creds.Meeting.MeetingID,
		s.creds.Attendee.JoinToken,
		s.cfg, s.logger,
	)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.signal = sig
	s.mu.Unlock()

	pc, err := s.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   s.cfg.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	})
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}
	s.mu.Lock()
	s.pc = pc
	s.mu.Unlock()

	sender, err := pc.AddTrack(s.localTrack)
	if err != nil {
		return fmt.Errorf("add local video track: %w", err)
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}

	pc.OnTrack(s.onTrack)
	pc.OnConnectionStateChange(s.onConnectionState)
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		if err := sig.Send(context.Background(), MsgICECandidate, ICECandidatePayload{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		}); err != nil {
			s.logger.Debugw("failed to send ICE candidate", "error", err)
		}
	})

	s.wg.Add(2)
	go s.readSenderRTCP(sender)
	go s.readSignaling(sig)

	join := JoinPayload{StreamID: s.creds.Meeting.MeetingID, IsPublisher: true}
	join.Capabilities.MaxBitrate = profile.MaxBitrateKbps * 1000
	join.Capabilities.Codecs = []string{webrtc.MimeTypeVP8}
	if err := sig.Send(ctx, MsgJoinStream, join); err != nil {
		return err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	if err := sig.Send(ctx, MsgOffer, SDPPayload{SDP: offer.SDP}); err != nil {
		return err
	}

	select {
	case <-s.answered:
		s.logger.Infow("session negotiated")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for answer: %w", ctx.Err())
	}
}

// Stop closes media and signaling. Remote tiles are reported removed and
// observers see one AudioVideoDidStop. Stop is idempotent.
func (s *Session) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		pc, sig := s.pc, s.signal
		tiles := s.tiles
		s.tiles = make(map[domain.TileID]*remoteTile)
		started := s.started
		s.mu.Unlock()

		if sig != nil {
			if cerr := sig.Close(); cerr != nil {
				s.logger.Debugw("signaling close failed", "error", cerr)
			}
		}
		if pc != nil {
			err = pc.Close()
		}
		s.dc.detach(sessionSink)

		for id := range tiles {
			s.notify(func(o ports.SessionObserver) { o.VideoTileWasRemoved(id) })
		}
		if started {
			s.notifyStopped(domain.SessionStatus{Code: domain.SessionStatusLeft})
		}
		s.wg.Wait()
		s.logger.Infow("session stopped")
	})
	return err
}

func (s *Session) StartLocalVideoTile() (domain.TileID, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, domain.ErrSessionClosed
	}
	if s.localTile == 0 {
		s.localTile = s.allocTileLocked()
	}
	id := s.localTile
	active := s.input != nil
	profile := s.profile
	s.mu.Unlock()

	s.notify(func(o ports.SessionObserver) {
		o.VideoTileDidUpdate(domain.TileState{
			TileID:       id,
			IsLocal:      true,
			AttendeeID:   s.creds.Attendee.AttendeeID,
			Active:       active,
			StreamWidth:  profile.Width,
			StreamHeight: profile.Height,
		})
	})
	return id, nil
}

// BindVideoElement routes a tile's packets to surface. Surfaces that do not
// accept packets are bound without receiving media. Binding a remote tile
// requests a keyframe from its sender.
func (s *Session) BindVideoElement(tileID domain.TileID, surface ports.Surface) error {
	w, _ := surface.(PacketWriter)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	local := s.localTile != 0 && tileID == s.localTile
	tile, ok := s.tiles[tileID]
	pc := s.pc
	s.mu.Unlock()

	if local {
		s.outMu.Lock()
		s.localSurface = w
		s.outMu.Unlock()
		s.dc.RequestKeyframe()
		return nil
	}
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrTileNotFound, tileID)
	}

	tile.setSink(w)
	if pc != nil && tile.limiter.Allow() {
		pli := &rtcp.PictureLossIndication{MediaSSRC: uint32(tile.track.SSRC())}
		if err := pc.WriteRTCP([]rtcp.Packet{pli}); err != nil {
			s.logger.Debugw("failed to send PLI", "tile_id", tileID, "error", err)
		} else {
			s.record(ports.EventKeyframeRequested, nil)
		}
	}
	return nil
}

func (s *Session) writeOutbound(p *rtp.Packet) error {
	err := s.localTrack.WriteRTP(p)

	s.outMu.RLock()
	local := s.localSurface
	s.outMu.RUnlock()
	if local != nil {
		_ = local.WriteRTP(p)
	}

	if errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}

func (s *Session) onTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)

	if track.Kind() != webrtc.RTPCodecTypeVideo {
		s.mu.Unlock()
		go func() {
			defer s.wg.Done()
			for {
				if _, _, err := track.ReadRTP(); err != nil {
					return
				}
			}
		}()
		return
	}

	tile := &remoteTile{
		id:         s.allocTileLocked(),
		attendeeID: track.StreamID(),
		track:      track,
		limiter:    rate.NewLimiter(rate.Every(s.cfg.KeyframeRequestInterval), 1),
	}
	s.tiles[tile.id] = tile
	s.mu.Unlock()

	s.logger.Infow("remote video track added",
		"tile_id", tile.id,
		"track_id", track.ID(),
		"codec", track.Codec().MimeType,
	)
	s.record(ports.EventRemoteTrackAdded, nil)
	s.notify(func(o ports.SessionObserver) {
		o.VideoTileDidUpdate(domain.TileState{
			TileID:     tile.id,
			AttendeeID: tile.attendeeID,
			Active:     true,
		})
	})

	go s.forwardTile(tile)
}

// forwardTile copies remote packets to the bound surface until the track
// ends, then reports the tile removed.
func (s *Session) forwardTile(tile *remoteTile) {
	defer s.wg.Done()

	for {
		p, _, err := tile.track.ReadRTP()
		if err != nil {
			break
		}
		tile.write(p)
	}

	s.mu.Lock()
	_, owned := s.tiles[tile.id]
	delete(s.tiles, tile.id)
	s.mu.Unlock()

	if owned {
		s.logger.Infow("remote video track ended", "tile_id", tile.id)
		s.notify(func(o ports.SessionObserver) { o.VideoTileWasRemoved(tile.id) })
	}
}

func (s *Session) onConnectionState(state webrtc.PeerConnectionState) {
	s.logger.Infow("peer connection state changed", "connection_state", state.String())

	switch state {
	case webrtc.PeerConnectionStateConnected:
		s.mu.Lock()
		first := !s.avStarted && !s.stopped
		s.avStarted = true
		s.mu.Unlock()
		if first {
			s.notify(func(o ports.SessionObserver) { o.AudioVideoDidStart() })
		}
	case webrtc.PeerConnectionStateFailed:
		s.record(ports.EventConnectionFailed, nil)
		s.notifyStopped(domain.SessionStatus{
			Code:   domain.SessionStatusConnectionFailed,
			Reason: "peer connection failed",
		})
	}
}

// readSenderRTCP turns keyframe requests from the far end into keyframes.
func (s *Session) readSenderRTCP(sender *webrtc.RTPSender) {
	defer s.wg.Done()
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, p := range packets {
			switch p.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				s.dc.RequestKeyframe()
			}
		}
	}
}

func (s *Session) readSignaling(sig *signalClient) {
	defer s.wg.Done()

	err := sig.Run(s.handleSignal)

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}

	reason := "signaling closed"
	if err != nil {
		reason = err.Error()
	}
	s.logger.Warnw("signaling connection dropped", "reason", reason)
	s.record(ports.EventSignalingDropped, nil)
	s.notifyStopped(domain.SessionStatus{Code: domain.SessionStatusSignalingDropped, Reason: reason})
}

func (s *Session) handleSignal(msg SignalMessage) {
	s.mu.Lock()
	pc, sig := s.pc, s.signal
	s.mu.Unlock()
	if pc == nil {
		s.logger.Debugw("signaling message before peer connection", "type", msg.Type)
		return
	}

	var err error
	switch msg.Type {
	case MsgAnswer:
		err = s.handleAnswer(pc, msg)
	case MsgOffer:
		err = s.handleOffer(pc, sig, msg)
	case MsgICECandidate:
		err = s.handleICECandidate(pc, msg)
	case MsgPeersList:
		s.logger.Debugw("peers list received", "payload_size", len(msg.Payload))
	case MsgError:
		s.logger.Warnw("signaling error", "message", msg.Message)
	default:
		s.logger.Debugw("unknown signaling message", "type", msg.Type)
	}
	if err != nil {
		s.logger.Warnw("failed to handle signaling message", "type", msg.Type, "error", err)
	}
}

func (s *Session) handleAnswer(pc *webrtc.PeerConnection, msg SignalMessage) error {
	var payload SDPPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid answer payload: %w", err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: payload.SDP}); err != nil {
		return err
	}
	s.flushCandidates(pc)
	s.answerOnce.Do(func() { close(s.answered) })
	return nil
}

// handleOffer answers a renegotiation started by the far end.
func (s *Session) handleOffer(pc *webrtc.PeerConnection, sig *signalClient, msg SignalMessage) error {
	var payload SDPPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid offer payload: %w", err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: payload.SDP}); err != nil {
		return err
	}
	s.flushCandidates(pc)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return err
	}
	return sig.Send(context.Background(), MsgAnswer, SDPPayload{SDP: answer.SDP})
}

func (s *Session) handleICECandidate(pc *webrtc.PeerConnection, msg SignalMessage) error {
	var payload ICECandidatePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid ICE candidate payload: %w", err)
	}
	if payload.Candidate == "" {
		return fmt.Errorf("ICE candidate is required")
	}
	init := webrtc.ICECandidateInit{
		Candidate:     payload.Candidate,
		SDPMid:        payload.SDPMid,
		SDPMLineIndex: payload.SDPMLineIndex,
	}

	if pc.RemoteDescription() == nil {
		s.mu.Lock()
		s.pending = append(s.pending, init)
		s.mu.Unlock()
		return nil
	}
	return pc.AddICECandidate(init)
}

func (s *Session) flushCandidates(pc *webrtc.PeerConnection) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, c := range pending {
		if err := pc.AddICECandidate(c); err != nil {
			s.logger.Debugw("failed to add queued ICE candidate", "error", err)
		}
	}
}

func (s *Session) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Session) allocTileLocked() domain.TileID {
	s.nextTile++
	return s.nextTile
}

func (s *Session) notify(fn func(ports.SessionObserver)) {
	s.mu.Lock()
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	for _, o := range observers {
		fn(o)
	}
}

func (s *Session) notifyStopped(status domain.SessionStatus) {
	s.mu.Lock()
	first := !s.stopNotified
	s.stopNotified = true
	s.mu.Unlock()

	if first {
		s.notify(func(o ports.SessionObserver) { o.AudioVideoDidStop(status) })
	}
}

func (s *Session) record(name string, attrs map[string]string) {
	if s.sink != nil {
		s.sink.RecordEvent(name, attrs)
	}
}
