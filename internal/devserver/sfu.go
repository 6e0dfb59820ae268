package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"meetjoin/internal/infrastructure/rtc"
	"meetjoin/pkg/optimize"

	"github.com/gorilla/websocket"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

var packetPool = optimize.NewBytePool(optimize.MTU)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// SFU terminates every participant's peer connection and forwards each
// published video track to the rest of the room.
type SFU struct {
	cfg      Config
	api      *webrtc.API
	registry *Registry

	rooms map[string]*room
	mu    sync.Mutex

	logger *zap.SugaredLogger
}

type room struct {
	id         string
	peers      map[string]*peer
	bots       []*bot
	forwarders map[string]*forwarder
}

// bot is a synthetic participant publishing a pattern track.
type bot struct {
	source *rtc.PatternSource
	track  *webrtc.TrackLocalStaticRTP
}

// forwarder is one publisher's video, re-published to subscribers.
type forwarder struct {
	publisher *peer
	track     *webrtc.TrackLocalStaticRTP
	ssrc      webrtc.SSRC
}

type peer struct {
	id        string
	meetingID string
	conn      *websocket.Conn
	writeMu   sync.Mutex

	mu         sync.Mutex
	room       *room
	pc         *webrtc.PeerConnection
	senders    map[string]*webrtc.RTPSender
	candidates []webrtc.ICECandidateInit
	pending    bool
	closed     bool
}

func NewSFU(cfg Config, registry *Registry, logger *zap.SugaredLogger) (*SFU, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	return &SFU{
		cfg: cfg,
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithSettingEngine(settingEngine),
		),
		registry: registry,
		rooms:    make(map[string]*room),
		logger:   logger,
	}, nil
}

// Rooms returns the number of open rooms.
func (s *SFU) Rooms() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// Close drops every participant.
func (s *SFU) Close() {
	s.mu.Lock()
	var peers []*peer
	for _, r := range s.rooms {
		for _, p := range r.peers {
			peers = append(peers, p)
		}
	}
	s.mu.Unlock()

	for _, p := range peers {
		_ = p.conn.Close()
	}
}

func (s *SFU) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	peerID := r.URL.Query().Get("peer_id")
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	meetingID, ok := s.registry.Verify(peerID, token)
	if !ok {
		s.logger.Warnw("rejected signaling connection", "peer_id", peerID)
		http.Error(w, "invalid attendee credentials", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	p := &peer{
		id:        peerID,
		meetingID: meetingID,
		conn:      conn,
		senders:   make(map[string]*webrtc.RTPSender),
	}
	s.logger.Infow("peer connected via WebSocket", "peer_id", peerID, "meeting_id", meetingID)

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan rtc.SignalMessage, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg rtc.SignalMessage
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
			messageChan <- msg
		}
	}()

	defer s.leave(p)

	for {
		select {
		case msg := <-messageChan:
			if err := s.handleMessage(p, msg); err != nil {
				s.logger.Infow("error handling message from peer", "peer_id", peerID, "type", msg.Type, "error", err)
				_ = s.send(p, rtc.SignalMessage{Type: rtc.MsgError, Message: err.Error()})
			}

		case <-pingTicker.C:
			p.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			p.writeMu.Unlock()
			if err != nil {
				s.logger.Infow("error sending ping", "peer_id", peerID, "error", err)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading message from peer", "peer_id", peerID, "error", err)
			}
			return
		}
	}
}

func (s *SFU) handleMessage(p *peer, msg rtc.SignalMessage) error {
	if msg.Type == "" {
		return fmt.Errorf("message type is required")
	}
	if msg.PeerID != "" && msg.PeerID != p.id {
		return fmt.Errorf("peer_id mismatch: expected %s, got %s", p.id, msg.PeerID)
	}

	switch msg.Type {
	case rtc.MsgJoinStream:
		return s.handleJoin(p, msg)
	case rtc.MsgOffer:
		return s.handleOffer(p, msg)
	case rtc.MsgAnswer:
		return s.handleAnswer(p, msg)
	case rtc.MsgICECandidate:
		return s.handleICECandidate(p, msg)
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

func (s *SFU) handleJoin(p *peer, msg rtc.SignalMessage) error {
	var payload rtc.JoinPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid join_stream payload: %w", err)
	}
	if payload.StreamID != p.meetingID {
		return fmt.Errorf("stream_id %q does not match the attendee's meeting", payload.StreamID)
	}
	if payload.Capabilities.MaxBitrate < 0 {
		return fmt.Errorf("max_bitrate must be >= 0")
	}

	p.mu.Lock()
	joined := p.room != nil
	p.mu.Unlock()
	if joined {
		return fmt.Errorf("already joined")
	}

	s.mu.Lock()
	r, ok := s.rooms[p.meetingID]
	if !ok {
		r = s.openRoomLocked(p.meetingID)
	} else if existing := r.peers[p.id]; existing != nil && existing != p {
		s.mu.Unlock()
		return fmt.Errorf("attendee %s is already connected", p.id)
	}
	type peerInfo struct {
		PeerID    string `json:"peer_id"`
		Publisher bool   `json:"publisher"`
	}
	peers := make([]peerInfo, 0, len(r.peers)+len(r.bots))
	for _, b := range r.bots {
		peers = append(peers, peerInfo{PeerID: b.track.StreamID(), Publisher: true})
	}
	for id := range r.peers {
		peers = append(peers, peerInfo{PeerID: id, Publisher: true})
	}
	r.peers[p.id] = p
	s.mu.Unlock()

	p.mu.Lock()
	p.room = r
	p.mu.Unlock()

	s.logger.Infow("peer joined room",
		"peer_id", p.id,
		"meeting_id", p.meetingID,
		"max_bitrate", payload.Capabilities.MaxBitrate,
		"participants", len(peers)+1,
	)

	raw, err := json.Marshal(map[string]any{"peers": peers})
	if err != nil {
		return err
	}
	return s.send(p, rtc.SignalMessage{Type: rtc.MsgPeersList, StreamID: r.id, Payload: raw})
}

func (s *SFU) openRoomLocked(meetingID string) *room {
	r := &room{
		id:         meetingID,
		peers:      make(map[string]*peer),
		forwarders: make(map[string]*forwarder),
	}
	for i := 0; i < s.cfg.Bots; i++ {
		name := fmt.Sprintf("bot-%d", i+1)
		track, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", name,
		)
		if err != nil {
			s.logger.Errorw("failed to create bot track", "bot", name, "error", err)
			continue
		}
		src := rtc.NewPatternSource(name, 640, 360, s.cfg.BotFrameRate, track)
		src.Start()
		r.bots = append(r.bots, &bot{source: src, track: track})
	}
	s.rooms[meetingID] = r
	s.logger.Infow("room opened", "meeting_id", meetingID, "bots", len(r.bots))
	return r
}

func (s *SFU) handleOffer(p *peer, msg rtc.SignalMessage) error {
	var payload rtc.SDPPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid offer payload: %w", err)
	}
	if payload.SDP == "" {
		return fmt.Errorf("SDP is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.room == nil {
		return fmt.Errorf("join_stream is required before offer")
	}
	if p.pc == nil {
		if err := s.createPeerConnectionLocked(p); err != nil {
			return err
		}
	}

	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: payload.SDP}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	p.flushCandidatesLocked(s.logger)

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	if err := s.send(p, rtc.SignalMessage{Type: rtc.MsgAnswer, Payload: sdpPayload(answer.SDP)}); err != nil {
		return err
	}

	// Tracks that found no m-line in the peer's offer go out in our own offer.
	for _, t := range p.pc.GetTransceivers() {
		if t.Mid() == "" && t.Sender() != nil {
			p.pending = true
			break
		}
	}
	return s.negotiateLocked(p)
}

func (s *SFU) createPeerConnectionLocked(p *peer) error {
	pc, err := s.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   s.cfg.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	})
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}
	p.pc = pc

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		raw, err := json.Marshal(rtc.ICECandidatePayload{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
		if err != nil {
			return
		}
		if err := s.send(p, rtc.SignalMessage{Type: rtc.MsgICECandidate, Payload: raw}); err != nil {
			s.logger.Debugw("failed to send ICE candidate", "peer_id", p.id, "error", err)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Infow("peer connection state changed", "peer_id", p.id, "connection_state", state.String())
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		s.onPublisherTrack(p, track)
	})

	s.mu.Lock()
	bots := append([]*bot(nil), p.room.bots...)
	forwarders := make([]*forwarder, 0, len(p.room.forwarders))
	for _, f := range p.room.forwarders {
		if f.publisher != p {
			forwarders = append(forwarders, f)
		}
	}
	s.mu.Unlock()

	for _, b := range bots {
		sender, err := pc.AddTrack(b.track)
		if err != nil {
			return fmt.Errorf("add bot track: %w", err)
		}
		p.senders[b.track.StreamID()] = sender
		go readSenderRTCP(sender, b.source.RequestKeyframe)
	}
	for _, f := range forwarders {
		if err := s.subscribeLocked(p, f); err != nil {
			return err
		}
	}
	return nil
}

// subscribeLocked adds a forwarded track to p. The caller renegotiates.
func (s *SFU) subscribeLocked(p *peer, f *forwarder) error {
	publisherID := f.track.StreamID()
	if _, ok := p.senders[publisherID]; ok {
		return nil
	}
	sender, err := p.pc.AddTrack(f.track)
	if err != nil {
		return fmt.Errorf("add forwarded track: %w", err)
	}
	p.senders[publisherID] = sender
	go readSenderRTCP(sender, f.requestKeyframe)
	return nil
}

// negotiateLocked sends a server offer once the peer is in a stable state.
// Offers attempted mid-negotiation are retried after the next answer.
func (s *SFU) negotiateLocked(p *peer) error {
	if p.pc == nil || p.closed || !p.pending {
		return nil
	}
	if p.pc.SignalingState() != webrtc.SignalingStateStable {
		return nil
	}
	p.pending = false

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	s.logger.Debugw("renegotiating peer", "peer_id", p.id)
	return s.send(p, rtc.SignalMessage{Type: rtc.MsgOffer, Payload: sdpPayload(offer.SDP)})
}

func (s *SFU) handleAnswer(p *peer, msg rtc.SignalMessage) error {
	var payload rtc.SDPPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid answer payload: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pc == nil {
		return fmt.Errorf("answer without a peer connection")
	}
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: payload.SDP}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	p.flushCandidatesLocked(s.logger)
	return s.negotiateLocked(p)
}

func (s *SFU) handleICECandidate(p *peer, msg rtc.SignalMessage) error {
	var payload rtc.ICECandidatePayload
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

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pc == nil || p.pc.RemoteDescription() == nil {
		p.candidates = append(p.candidates, init)
		return nil
	}
	return p.pc.AddICECandidate(init)
}

func (p *peer) flushCandidatesLocked(logger *zap.SugaredLogger) {
	for _, c := range p.candidates {
		if err := p.pc.AddICECandidate(c); err != nil {
			logger.Debugw("failed to add queued ICE candidate", "peer_id", p.id, "error", err)
		}
	}
	p.candidates = nil
}

// onPublisherTrack re-publishes a participant's video to everyone else in
// the room until the track ends.
func (s *SFU) onPublisherTrack(p *peer, track *webrtc.TrackRemote) {
	if track.Kind() != webrtc.RTPCodecTypeVideo {
		for {
			if _, _, err := track.ReadRTP(); err != nil {
				return
			}
		}
	}

	local, err := webrtc.NewTrackLocalStaticRTP(track.Codec().RTPCodecCapability, track.ID()+"-"+p.id, p.id)
	if err != nil {
		s.logger.Errorw("failed to create forwarded track", "peer_id", p.id, "error", err)
		return
	}
	f := &forwarder{publisher: p, track: local, ssrc: track.SSRC()}

	p.mu.Lock()
	r := p.room
	p.mu.Unlock()

	s.mu.Lock()
	r.forwarders[p.id] = f
	subscribers := r.others(p)
	s.mu.Unlock()

	s.logger.Infow("forwarding publisher track",
		"peer_id", p.id,
		"track_id", track.ID(),
		"codec", track.Codec().MimeType,
		"subscribers", len(subscribers),
	)

	for _, sub := range subscribers {
		s.withPeer(sub, func() error {
			if sub.pc == nil {
				return nil
			}
			if err := s.subscribeLocked(sub, f); err != nil {
				return err
			}
			sub.pending = true
			return s.negotiateLocked(sub)
		})
	}
	f.requestKeyframe()

	buf := packetPool.Get()
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			break
		}
		if _, err := local.Write(buf[:n]); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			s.logger.Debugw("failed to forward packet", "peer_id", p.id, "error", err)
		}
	}
	packetPool.Put(buf)

	s.dropForwarder(r, f)
}

// dropForwarder removes a publisher's track from the room's subscribers.
func (s *SFU) dropForwarder(r *room, f *forwarder) {
	publisherID := f.publisher.id

	s.mu.Lock()
	if r.forwarders[publisherID] == f {
		delete(r.forwarders, publisherID)
	}
	subscribers := r.others(f.publisher)
	s.mu.Unlock()

	for _, sub := range subscribers {
		s.withPeer(sub, func() error {
			sender, ok := sub.senders[publisherID]
			if !ok || sub.pc == nil {
				return nil
			}
			delete(sub.senders, publisherID)
			if err := sub.pc.RemoveTrack(sender); err != nil {
				return fmt.Errorf("remove forwarded track: %w", err)
			}
			sub.pending = true
			return s.negotiateLocked(sub)
		})
	}
	s.logger.Infow("publisher track ended", "peer_id", publisherID)
}

func (s *SFU) withPeer(p *peer, fn func() error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if err := fn(); err != nil {
		s.logger.Warnw("failed to update subscriber", "peer_id", p.id, "error", err)
	}
}

// leave closes the peer's connection and the room once it empties.
func (s *SFU) leave(p *peer) {
	p.mu.Lock()
	p.closed = true
	r, pc := p.room, p.pc
	p.mu.Unlock()

	if pc != nil {
		if err := pc.Close(); err != nil {
			s.logger.Debugw("peer connection close failed", "peer_id", p.id, "error", err)
		}
	}

	if r != nil {
		s.mu.Lock()
		if r.peers[p.id] == p {
			delete(r.peers, p.id)
		}
		empty := len(r.peers) == 0
		if empty {
			delete(s.rooms, r.id)
		}
		s.mu.Unlock()

		if empty {
			for _, b := range r.bots {
				b.source.Stop()
			}
			s.logger.Infow("room closed", "meeting_id", r.id)
		}
	}
	s.logger.Infow("peer disconnected", "peer_id", p.id)
}

func (s *SFU) send(p *peer, msg rtc.SignalMessage) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	_ = p.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return p.conn.WriteJSON(msg)
}

// others must be called with the SFU lock held.
func (r *room) others(p *peer) []*peer {
	out := make([]*peer, 0, len(r.peers))
	for id, other := range r.peers {
		if id != p.id {
			out = append(out, other)
		}
	}
	return out
}

func (f *forwarder) requestKeyframe() {
	f.publisher.mu.Lock()
	pc := f.publisher.pc
	f.publisher.mu.Unlock()
	if pc == nil {
		return
	}
	_ = pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(f.ssrc)}})
}

// readSenderRTCP turns subscriber keyframe requests into keyframes at the
// source.
func readSenderRTCP(sender *webrtc.RTPSender, keyframe func()) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, p := range packets {
			switch p.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				keyframe()
			}
		}
	}
}

func sdpPayload(sdp string) json.RawMessage {
	raw, _ := json.Marshal(rtc.SDPPayload{SDP: sdp})
	return raw
}

// Shutdown closes every connection and waits for rooms to drain.
func (s *SFU) Shutdown(ctx context.Context) error {
	s.Close()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for s.Rooms() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
