package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"meetjoin/pkg/tracing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Signaling message types exchanged with the meeting signaling service.
const (
	MsgJoinStream   = "join_stream"
	MsgOffer        = "offer"
	MsgAnswer       = "answer"
	MsgICECandidate = "ice_candidate"
	MsgPeersList    = "peers_list"
	MsgError        = "error"
)

type SignalMessage struct {
	Type     string          `json:"type"`
	PeerID   string          `json:"peer_id,omitempty"`
	StreamID string          `json:"stream_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Message  string          `json:"message,omitempty"`
}

type JoinPayload struct {
	StreamID     string `json:"stream_id"`
	IsPublisher  bool   `json:"is_publisher"`
	Capabilities struct {
		MaxBitrate int      `json:"max_bitrate"`
		Codecs     []string `json:"codecs"`
	} `json:"capabilities"`
}

type SDPPayload struct {
	SDP string `json:"sdp"`
}

type ICECandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index,omitempty"`
}

// signalClient is one websocket connection to the signaling service.
type signalClient struct {
	conn         *websocket.Conn
	attendeeID   string
	meetingID    string
	pingInterval time.Duration
	writeTimeout time.Duration
	logger       *zap.SugaredLogger

	writeMu sync.Mutex
	closeMu sync.Once
	done    chan struct{}
}

// dialSignaling connects to signalingURL, presenting the join token.
func dialSignaling(ctx context.Context, signalingURL, attendeeID, meetingID, joinToken string, cfg Config, logger *zap.SugaredLogger) (*signalClient, error) {
	u, err := url.Parse(signalingURL)
	if err != nil {
		return nil, fmt.Errorf("invalid signaling url: %w", err)
	}
	q := u.Query()
	q.Set("peer_id", attendeeID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if joinToken != "" {
		header.Set("Authorization", "Bearer "+joinToken)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.WriteTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("signaling handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("signaling dial failed: %w", err)
	}

	return &signalClient{
		conn:         conn,
		attendeeID:   attendeeID,
		meetingID:    meetingID,
		pingInterval: cfg.PingInterval,
		writeTimeout: cfg.WriteTimeout,
		logger:       logger,
		done:         make(chan struct{}),
	}, nil
}

// Send writes one message with payload.
func (c *signalClient) Send(ctx context.Context, msgType string, payload any) error {
	_, span := tracing.TraceSignaling(ctx, msgType, c.attendeeID)
	defer span.End()

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	msg := SignalMessage{
		Type:     msgType,
		PeerID:   c.attendeeID,
		StreamID: c.meetingID,
		Payload:  raw,
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s: %w", msgType, err)
	}
	return nil
}

// Run reads messages until the connection closes. handle is called on the
// reader goroutine. The returned error is nil after Close.
func (c *signalClient) Run(handle func(SignalMessage)) error {
	readTimeout := 2 * c.pingInterval
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go c.keepalive()

	for {
		var msg SignalMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))

		if msg.Type == "" {
			c.logger.Debugw("signaling message without type ignored")
			continue
		}
		handle(msg)
	}
}

func (c *signalClient) keepalive() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Infow("error sending ping", "error", err)
				return
			}
		}
	}
}

// Close sends a close frame and shuts the connection. It is idempotent.
func (c *signalClient) Close() error {
	var err error
	c.closeMu.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leaving"),
			time.Now().Add(c.writeTimeout))
		c.writeMu.Unlock()
		err = c.conn.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	return err
}
