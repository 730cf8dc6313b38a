package media

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	linkHandshakeTimeout = 10 * time.Second
	linkWriteWait        = 10 * time.Second
	linkPongWait         = 60 * time.Second
	linkPingPeriod       = 54 * time.Second
)

// controlMessage is the JSON frame exchanged with a media endpoint.
type controlMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	PeerID  string `json:"peerId,omitempty"`
	Token   string `json:"token,omitempty"`
	Video   bool   `json:"video,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
	Error   string `json:"error,omitempty"`
}

// controlLink owns the websocket control connection both adapters use to
// drive their media endpoint. Media itself never flows over it.
type controlLink struct {
	provider Provider
	url      string
	dialer   *websocket.Dialer
	log      *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	channel string
	muted   bool
	video   bool
	sharing bool

	events chan Event
}

func newControlLink(provider Provider, url string, log *slog.Logger) *controlLink {
	if log == nil {
		log = slog.Default()
	}
	return &controlLink{
		provider: provider,
		url:      url,
		dialer:   &websocket.Dialer{HandshakeTimeout: linkHandshakeTimeout},
		log:      log.With("provider", string(provider)),
		events:   make(chan Event, 16),
	}
}

func (l *controlLink) join(ctx context.Context, req JoinRequest, token string, header http.Header) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return ErrAlreadyJoined
	}

	conn, _, err := l.dialer.DialContext(ctx, l.url, header)
	if err != nil {
		return fmt.Errorf("media: dial %s: %w", l.provider, err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(linkHandshakeTimeout)
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(controlMessage{
		Type:    "join",
		Channel: req.Channel,
		PeerID:  req.PeerID,
		Token:   token,
		Video:   req.Video,
	}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("media: send join: %w", err)
	}

	_ = conn.SetReadDeadline(deadline)
	var reply controlMessage
	if err := conn.ReadJSON(&reply); err != nil {
		_ = conn.Close()
		return fmt.Errorf("media: await join ack: %w", err)
	}
	if reply.Type != "joined" {
		_ = conn.Close()
		return fmt.Errorf("%w: %s", ErrJoinRejected, reply.Error)
	}

	_ = conn.SetReadDeadline(time.Now().Add(linkPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(linkPongWait))
	})

	l.conn = conn
	l.channel = req.Channel
	l.muted = false
	l.video = req.Video
	l.sharing = false

	done := make(chan struct{})
	go l.readPump(conn, req.Channel, done)
	go l.pingPump(conn, done)

	l.emit(Event{Provider: l.provider, Type: EventConnected, Channel: req.Channel})
	return nil
}

func (l *controlLink) leave(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}
	conn := l.conn
	l.conn = nil
	l.channel = ""

	_ = conn.SetWriteDeadline(time.Now().Add(linkWriteWait))
	err := conn.WriteJSON(controlMessage{Type: "leave"})
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
	if err != nil {
		return fmt.Errorf("media: send leave: %w", err)
	}
	return nil
}

func (l *controlLink) toggle(ctx context.Context, t Toggle) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return false, ErrNotJoined
	}

	var state *bool
	switch t {
	case ToggleMute:
		l.muted = !l.muted
		state = &l.muted
	case ToggleVideo:
		l.video = !l.video
		state = &l.video
	case ToggleScreenShare:
		l.sharing = !l.sharing
		state = &l.sharing
	default:
		return false, ErrUnknownToggle
	}

	enabled := *state
	_ = l.conn.SetWriteDeadline(time.Now().Add(linkWriteWait))
	if err := l.conn.WriteJSON(controlMessage{Type: string(t), Enabled: &enabled}); err != nil {
		*state = !enabled
		return false, fmt.Errorf("media: send %s: %w", t, err)
	}
	return enabled, nil
}

func (l *controlLink) readPump(conn *websocket.Conn, channel string, done chan struct{}) {
	defer close(done)

	for {
		var msg controlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			l.mu.Lock()
			current := l.conn == conn
			if current {
				l.conn = nil
				l.channel = ""
			}
			l.mu.Unlock()

			if current {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					l.log.Warn("media link dropped", "channel", channel, "err", err)
				}
				_ = conn.Close()
				l.emit(Event{Provider: l.provider, Type: EventDisconnected, Channel: channel})
			}
			return
		}

		switch msg.Type {
		case "peer-left", "hangup":
			l.emit(Event{Provider: l.provider, Type: EventRemoteHangup, Channel: channel, PeerID: msg.PeerID})
		case "peer-joined":
			l.log.Debug("peer joined media channel", "channel", channel, "peer_id", msg.PeerID)
		case "error":
			l.log.Warn("media endpoint error", "channel", channel, "error", msg.Error)
		}
	}
}

func (l *controlLink) pingPump(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(linkPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			l.mu.Lock()
			if l.conn != conn {
				l.mu.Unlock()
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(linkWriteWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			l.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (l *controlLink) emit(e Event) {
	select {
	case l.events <- e:
	default:
		l.log.Warn("media event dropped, buffer full", "type", string(e.Type), "channel", e.Channel)
	}
}
