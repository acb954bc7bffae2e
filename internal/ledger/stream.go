package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Stream errors
var (
	ErrNotConnected    = errors.New("stream not connected")
	ErrStreamClosed    = errors.New("stream closed")
	ErrCommandRejected = errors.New("command rejected")
	ErrCommandTimeout  = errors.New("command timeout")
)

// StreamConfig configures the notification stream.
type StreamConfig struct {
	URL    string
	APIKey string

	PingInterval time.Duration // How often we ping the server
	PingTimeout  time.Duration // Connection considered stale after this long without ping/pong
	WriteTimeout time.Duration

	CommandTimeout time.Duration // Max wait for a command response

	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
}

// DefaultStreamConfig returns sensible defaults for url.
func DefaultStreamConfig(url string) StreamConfig {
	return StreamConfig{
		URL:                url,
		PingInterval:       30 * time.Second,
		PingTimeout:        60 * time.Second,
		WriteTimeout:       5 * time.Second,
		CommandTimeout:     10 * time.Second,
		ReconnectBaseDelay: 500 * time.Millisecond,
		ReconnectMaxDelay:  30 * time.Second,
	}
}

// Stream is a websocket connection to the ledger notification feed.
// It multiplexes any number of subscriptions over one connection and
// resubscribes all of them after a reconnect.
type Stream struct {
	cfg    StreamConfig
	logger *slog.Logger

	// Connection state
	mu         sync.RWMutex
	conn       *websocket.Conn
	connected  bool
	closed     bool
	lastPingAt time.Time

	writeMu sync.Mutex

	// Command/response correlation
	cmdID     atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]*pendingCmd

	// Subscription tracking
	subsMu sync.RWMutex
	subs   map[string]*streamSub // delivery id → subscription
	bySID  map[int64]*streamSub  // server sid → subscription

	done chan struct{}
	wg   sync.WaitGroup
}

type streamSub struct {
	id      string
	kind    Kind
	handler Handler
	sid     int64
}

type pendingCmd struct {
	resp         chan Response
	onSubscribed func(sid int64)
}

// NewStream creates a stream. Call Connect before subscribing.
func NewStream(cfg StreamConfig, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		cfg:     cfg,
		logger:  logger,
		pending: make(map[int64]*pendingCmd),
		subs:    make(map[string]*streamSub),
		bySID:   make(map[int64]*streamSub),
		done:    make(chan struct{}),
	}
}

// Connect dials the ledger and starts the read and heartbeat loops.
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrStreamClosed
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	s.setConn(conn)

	s.wg.Add(2)
	go s.run(conn)
	go s.heartbeatLoop()

	s.logger.Debug("stream connected", "url", s.cfg.URL)
	return nil
}

// IsConnected returns the current connection state.
func (s *Stream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Close shuts the stream down. Later calls are no-ops.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.connected = false
	conn := s.conn
	s.mu.Unlock()

	close(s.done)

	var err error
	if conn != nil {
		s.writeMu.Lock()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()
		err = conn.Close()
	}

	s.wg.Wait()
	return err
}

// Subscribe registers h for notifications of the given kind.
func (s *Stream) Subscribe(ctx context.Context, kind Kind, h Handler) (Subscription, error) {
	sub := &streamSub{
		id:      uuid.NewString(),
		kind:    kind,
		handler: h,
	}

	if err := s.subscribe(ctx, sub); err != nil {
		return Subscription{}, fmt.Errorf("subscribe %s: %w", kind, err)
	}

	s.subsMu.Lock()
	s.subs[sub.id] = sub
	s.subsMu.Unlock()

	s.logger.Debug("subscribed", "kind", kind, "delivery_id", sub.id, "sid", sub.sid)
	return Subscription{ID: sub.id, Kind: kind}, nil
}

// Unsubscribe cancels a subscription. The handler is detached before the
// command is sent. Unknown subscriptions are ignored.
func (s *Stream) Unsubscribe(ctx context.Context, sub Subscription) error {
	s.subsMu.Lock()
	st, ok := s.subs[sub.ID]
	if !ok {
		s.subsMu.Unlock()
		return nil
	}
	delete(s.subs, sub.ID)
	delete(s.bySID, st.sid)
	sid := st.sid
	s.subsMu.Unlock()

	// A dropped connection already lost the server-side subscription.
	if !s.IsConnected() {
		return nil
	}

	if _, err := s.command(ctx, "unsubscribe", UnsubscribeParams{SIDs: []int64{sid}}, nil); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sub.Kind, err)
	}
	return nil
}

// subscribe sends the subscribe command for sub. The sid is bound by the
// read loop before the response is handed back, so data that follows the
// confirmation immediately is not lost.
func (s *Stream) subscribe(ctx context.Context, sub *streamSub) error {
	_, err := s.command(ctx, "subscribe", SubscribeParams{Channels: []string{string(sub.kind)}}, func(sid int64) {
		s.subsMu.Lock()
		sub.sid = sid
		s.bySID[sid] = sub
		s.subsMu.Unlock()
	})
	return err
}

// command sends a command and waits for its response.
func (s *Stream) command(ctx context.Context, cmd string, params any, onSubscribed func(int64)) (Response, error) {
	id := s.cmdID.Add(1)
	p := &pendingCmd{resp: make(chan Response, 1), onSubscribed: onSubscribed}

	s.pendingMu.Lock()
	s.pending[id] = p
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	data, err := json.Marshal(Command{ID: id, Cmd: cmd, Params: params})
	if err != nil {
		return Response{}, fmt.Errorf("marshal command: %w", err)
	}
	if err := s.send(data); err != nil {
		return Response{}, err
	}

	timer := time.NewTimer(s.cfg.CommandTimeout)
	defer timer.Stop()

	var resp Response
	select {
	case resp = <-p.resp:
	case <-timer.C:
		return Response{}, ErrCommandTimeout
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-s.done:
		return Response{}, ErrStreamClosed
	}

	if resp.Type == "error" {
		var em ErrorMsg
		json.Unmarshal(resp.Msg, &em)
		return resp, fmt.Errorf("%w: %s %s", ErrCommandRejected, em.Code, em.Message)
	}
	return resp, nil
}

// send writes raw bytes to the current connection.
func (s *Stream) send(data []byte) error {
	s.mu.RLock()
	conn, connected := s.conn, s.connected
	s.mu.RUnlock()
	if !connected {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")
	if s.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}

	// Server sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		s.touch()
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})

	return conn, nil
}

func (s *Stream) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.lastPingAt = time.Now()
	s.mu.Unlock()
}

func (s *Stream) touch() {
	s.mu.Lock()
	s.lastPingAt = time.Now()
	s.mu.Unlock()
}

// run reads from conn until it fails, then reconnects and resubscribes.
func (s *Stream) run(conn *websocket.Conn) {
	defer s.wg.Done()

	for {
		err := s.readLoop(conn)

		s.mu.Lock()
		s.connected = false
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		s.logger.Warn("stream disconnected", "error", err)
		conn.Close()

		conn = s.reconnect()
		if conn == nil {
			return
		}

		s.wg.Add(1)
		go s.resubscribe()
	}
}

func (s *Stream) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.touch()
		s.dispatch(data)
	}
}

func (s *Stream) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Warn("malformed stream message", "error", err)
		return
	}

	switch env.Type {
	case "subscribed", "unsubscribed", "ok", "error":
		s.handleResponse(Response{ID: env.ID, Type: env.Type, Msg: env.Msg})
	default:
		s.handleData(env)
	}
}

func (s *Stream) handleResponse(resp Response) {
	s.pendingMu.Lock()
	p, ok := s.pending[resp.ID]
	s.pendingMu.Unlock()
	if !ok {
		s.logger.Debug("response for unknown command", "id", resp.ID, "type", resp.Type)
		return
	}

	if resp.Type == "subscribed" && p.onSubscribed != nil {
		var sm SubscribedMsg
		if err := json.Unmarshal(resp.Msg, &sm); err == nil {
			p.onSubscribed(sm.SID)
		}
	}

	select {
	case p.resp <- resp:
	default:
	}
}

func (s *Stream) handleData(env envelope) {
	s.subsMu.RLock()
	sub, ok := s.bySID[env.SID]
	s.subsMu.RUnlock()
	if !ok {
		s.logger.Debug("notification for unknown sid", "sid", env.SID, "type", env.Type)
		return
	}

	var n Notification
	if err := json.Unmarshal(env.Msg, &n); err != nil {
		s.logger.Warn("malformed notification", "kind", sub.kind, "error", err)
		return
	}
	n.Kind = sub.kind

	sub.handler(n)
}

// reconnect dials with exponential backoff until it succeeds or the stream
// is closed.
func (s *Stream) reconnect() *websocket.Conn {
	delay := s.cfg.ReconnectBaseDelay
	for attempt := 1; ; attempt++ {
		select {
		case <-s.done:
			return nil
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := s.dial(ctx)
		cancel()
		if err == nil {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				conn.Close()
				return nil
			}
			s.conn = conn
			s.connected = true
			s.lastPingAt = time.Now()
			s.mu.Unlock()

			s.logger.Info("stream reconnected", "attempts", attempt)
			return conn
		}

		s.logger.Warn("reconnect failed", "attempt", attempt, "error", err)
		delay *= 2
		if delay > s.cfg.ReconnectMaxDelay {
			delay = s.cfg.ReconnectMaxDelay
		}
	}
}

// resubscribe restores every registered subscription on a new connection.
// Delivery ids are kept, only the server sids change.
func (s *Stream) resubscribe() {
	defer s.wg.Done()

	s.subsMu.Lock()
	subs := make([]*streamSub, 0, len(s.subs))
	for _, sub := range s.subs {
		delete(s.bySID, sub.sid)
		subs = append(subs, sub)
	}
	s.subsMu.Unlock()

	for _, sub := range subs {
		err := s.subscribe(context.Background(), sub)
		if err != nil {
			s.logger.Error("resubscribe failed", "kind", sub.kind, "delivery_id", sub.id, "error", err)
		}
	}
}

// heartbeatLoop pings the server and drops stale connections so that run
// reconnects.
func (s *Stream) heartbeatLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.RLock()
			conn, connected, lastPing := s.conn, s.connected, s.lastPingAt
			s.mu.RUnlock()
			if !connected || conn == nil {
				continue
			}

			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(s.cfg.WriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Debug("failed to send ping", "error", err)
			}

			if time.Since(lastPing) > s.cfg.PingTimeout {
				s.logger.Warn("connection stale, closing",
					"last_ping", lastPing,
					"timeout", s.cfg.PingTimeout,
				)
				conn.Close()
			}
		}
	}
}
