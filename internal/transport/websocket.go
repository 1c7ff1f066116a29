package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Rrens/langly/internal/credential"
	"github.com/Rrens/langly/internal/protocol"
)

const writeWait = 10 * time.Second

// Options configures a WebSocket transport
type Options struct {
	ConnectTimeout time.Duration
	// Reconnect enables background reconnection after an unexpected drop
	Reconnect    bool
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	Dialer       *websocket.Dialer
	Logger       zerolog.Logger
}

func (o *Options) defaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 3 * time.Second
	}
	if o.ReconnectMin <= 0 {
		o.ReconnectMin = 500 * time.Millisecond
	}
	if o.ReconnectMax < o.ReconnectMin {
		o.ReconnectMax = 30 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
}

type handlerEntry struct {
	id int
	fn Handler
}

// WebSocket implements Transport over a gorilla websocket connection
type WebSocket struct {
	url    string
	tokens credential.Source
	opts   Options
	log    zerolog.Logger

	group singleflight.Group

	mu      sync.Mutex
	conn    *websocket.Conn
	stopped bool
	stopCh  chan struct{}

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[string][]handlerEntry
	nextID     int
}

// NewWebSocket creates a transport for the socket at rawURL. The token is
// read from tokens at every connect.
func NewWebSocket(rawURL string, tokens credential.Source, opts Options) *WebSocket {
	opts.defaults()
	return &WebSocket{
		url:      rawURL,
		tokens:   tokens,
		opts:     opts,
		log:      opts.Logger.With().Str("component", "transport").Logger(),
		stopCh:   make(chan struct{}),
		handlers: make(map[string][]handlerEntry),
	}
}

// Connected reports whether a connection is open
func (w *WebSocket) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn != nil
}

// Connect opens the connection, bounded by the connect timeout and ctx
func (w *WebSocket) Connect(ctx context.Context) error {
	w.arm()
	return w.await(ctx)
}

// Disconnect closes the connection and cancels any reconnect loop
func (w *WebSocket) Disconnect() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
	conn := w.conn
	w.mu.Unlock()

	if conn == nil {
		return
	}

	w.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	w.writeMu.Unlock()
	_ = conn.Close()
}

// Emit encodes and sends one event, connecting first when needed
func (w *WebSocket) Emit(ctx context.Context, event string, payload any) error {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}

	if !w.Connected() {
		w.arm()
		if err := w.await(ctx); err != nil {
			return err
		}
	}

	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("failed to write %s: %w", event, err)
	}
	return nil
}

// On registers h for event
func (w *WebSocket) On(event string, h Handler) func() {
	w.handlersMu.Lock()
	defer w.handlersMu.Unlock()

	w.nextID++
	id := w.nextID
	w.handlers[event] = append(w.handlers[event], handlerEntry{id: id, fn: h})

	return func() {
		w.handlersMu.Lock()
		defer w.handlersMu.Unlock()

		entries := w.handlers[event]
		for i, e := range entries {
			if e.id == id {
				w.handlers[event] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

func (w *WebSocket) dispatch(event string, data json.RawMessage) {
	w.handlersMu.RLock()
	entries := append([]handlerEntry(nil), w.handlers[event]...)
	w.handlersMu.RUnlock()

	for _, e := range entries {
		e.fn(data)
	}
}

// arm re-enables connecting after a Disconnect
func (w *WebSocket) arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		w.stopped = false
		w.stopCh = make(chan struct{})
	}
}

// await waits for the single in-flight connect attempt
func (w *WebSocket) await(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.opts.ConnectTimeout)
	defer cancel()

	ch := w.group.DoChan("connect", func() (any, error) {
		if w.Connected() {
			return nil, nil
		}
		dctx, dcancel := context.WithTimeout(context.Background(), w.opts.ConnectTimeout)
		defer dcancel()
		return nil, w.dial(dctx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrNotConnected, ctx.Err())
	}
}

func (w *WebSocket) dial(ctx context.Context) error {
	target, err := w.dialURL()
	if err != nil {
		return err
	}

	header := http.Header{}
	if tok := w.tokens.Token(); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}

	conn, resp, err := w.opts.Dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			w.log.Warn().Int("status", resp.StatusCode).Msg("Socket handshake rejected")
			w.dispatch(EventAuthRejected, nil)
			return &AuthError{Status: resp.StatusCode}
		}
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("%w: disconnected while dialing", ErrNotConnected)
	}
	w.conn = conn
	stopCh := w.stopCh
	w.mu.Unlock()

	w.log.Debug().Str("url", w.url).Msg("Socket connected")
	w.dispatch(EventConnect, nil)

	go w.readLoop(conn, stopCh)
	return nil
}

func (w *WebSocket) dialURL() (string, error) {
	u, err := url.Parse(w.url)
	if err != nil {
		return "", fmt.Errorf("invalid socket url: %w", err)
	}
	if tok := w.tokens.Token(); tok != "" {
		q := u.Query()
		q.Set("token", tok)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (w *WebSocket) readLoop(conn *websocket.Conn, stopCh chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.log.Debug().Err(err).Msg("Socket read ended")
			}
			break
		}

		env, err := protocol.Decode(data)
		if err != nil {
			w.log.Warn().Err(err).Msg("Dropping malformed frame")
			continue
		}
		w.dispatch(env.Event, env.Data)
	}

	w.mu.Lock()
	if w.conn == conn {
		w.conn = nil
	}
	stopped := w.stopped
	w.mu.Unlock()
	_ = conn.Close()

	w.dispatch(EventDisconnect, nil)

	if !stopped && w.opts.Reconnect {
		go w.reconnectLoop(stopCh)
	}
}

// reconnectLoop retries with exponential backoff until connected, stopped,
// or the credential is rejected
func (w *WebSocket) reconnectLoop(stopCh chan struct{}) {
	backoff := w.opts.ReconnectMin
	for {
		timer := time.NewTimer(backoff)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		err := w.await(context.Background())
		if err == nil {
			return
		}
		if IsAuthError(err) {
			w.log.Warn().Msg("Reconnect stopped: credential rejected")
			return
		}

		w.log.Debug().Err(err).Dur("backoff", backoff).Msg("Reconnect failed")
		backoff *= 2
		if backoff > w.opts.ReconnectMax {
			backoff = w.opts.ReconnectMax
		}
	}
}

var _ Transport = (*WebSocket)(nil)
