package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/langly/internal/api/middleware"
	"github.com/Rrens/langly/internal/api/response"
	"github.com/Rrens/langly/internal/assistant"
	"github.com/Rrens/langly/internal/protocol"
)

const (
	socketWriteWait = 10 * time.Second
	socketReadLimit = 64 * 1024
)

// SocketHandler serves the chat event stream
type SocketHandler struct {
	verifier     middleware.TokenVerifier
	assistants   *assistant.Router
	limiter      middleware.Limiter
	timeout      time.Duration
	systemPrompt string
	upgrader     websocket.Upgrader
}

// NewSocketHandler creates a socket handler. limiter may be nil.
func NewSocketHandler(verifier middleware.TokenVerifier, assistants *assistant.Router, limiter middleware.Limiter, timeout time.Duration, systemPrompt string) *SocketHandler {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &SocketHandler{
		verifier:     verifier,
		assistants:   assistants,
		limiter:      limiter,
		timeout:      timeout,
		systemPrompt: systemPrompt,
		upgrader: websocket.Upgrader{
			// CORS is enforced by the router; the socket is token authenticated
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP rejects bad tokens before the upgrade so clients see a 401
func (h *SocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r)
	if !ok {
		response.Unauthorized(w, "missing token")
		return
	}
	subject, err := h.verifier.Verify(token)
	if err != nil {
		response.Unauthorized(w, "invalid or expired token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Socket upgrade failed")
		return
	}

	sc := &socketConn{conn: conn}
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		_ = conn.Close()
	}()

	conn.SetReadLimit(socketReadLimit)
	log.Debug().Str("subject", subject).Msg("Socket connected")

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("Socket closed")
			}
			return
		}

		env, err := protocol.Decode(frame)
		if err != nil {
			log.Warn().Err(err).Msg("Ignoring malformed frame")
			continue
		}
		if env.Event != protocol.EventSend {
			continue
		}

		var send protocol.SendPayload
		if err := json.Unmarshal(env.Data, &send); err != nil {
			_ = sc.emit(protocol.EventError, protocol.ErrorPayload{Error: "invalid payload"})
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			h.handleSend(ctx, sc, subject, send)
		}()
	}
}

// handleSend runs one turn and writes its events in order
func (h *SocketHandler) handleSend(ctx context.Context, sc *socketConn, subject string, send protocol.SendPayload) {
	turnID := send.TurnID
	fail := func(msg string) {
		_ = sc.emit(protocol.EventError, protocol.ErrorPayload{Error: msg, TurnID: turnID})
	}

	message := strings.TrimSpace(send.Message)
	if message == "" {
		fail("No message provided")
		return
	}

	if h.limiter != nil {
		allowed, _, err := h.limiter.Allow(ctx, subject)
		if err != nil {
			log.Warn().Err(err).Msg("Rate limiter unavailable")
		} else if !allowed {
			fail("rate limit exceeded")
			return
		}
	}

	provider, err := h.assistants.GetProvider("")
	if err != nil {
		fail(err.Error())
		return
	}

	tctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	result, err := provider.Respond(tctx, assistant.Request{
		Message:      message,
		SystemPrompt: h.systemPrompt,
	}, &socketSink{conn: sc, turnID: turnID})

	if err != nil {
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			fail(fmt.Sprintf("Agent timed out after %d seconds", int(h.timeout.Seconds())))
			return
		}
		if ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Str("provider", provider.Name()).Msg("Assistant failed")
		fail(err.Error())
		return
	}

	log.Info().
		Str("provider", provider.Name()).
		Str("model", result.Model).
		Int("tool_calls", len(result.ToolCalls)).
		Dur("duration", time.Since(start)).
		Msg("Turn completed")

	_ = sc.emit(protocol.EventDone, protocol.DonePayload{
		Response:  result.Response,
		ToolCalls: result.ToolCalls,
		TurnID:    turnID,
	})
}

// socketConn serializes writes from concurrent turns
type socketConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *socketConn) emit(event string, payload any) error {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(socketWriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// socketSink forwards intermediate assistant events tagged with the turn
type socketSink struct {
	conn   *socketConn
	turnID string
}

func (s *socketSink) Thinking(text string) error {
	return s.conn.emit(protocol.EventThinking, protocol.ThinkingPayload{Text: text, TurnID: s.turnID})
}

func (s *socketSink) ToolStart(tool, input string) error {
	return s.conn.emit(protocol.EventToolStart, protocol.ToolStartPayload{Tool: tool, Input: input, TurnID: s.turnID})
}

func (s *socketSink) ToolResult(output string) error {
	return s.conn.emit(protocol.EventToolResult, protocol.ToolResultPayload{Output: output, TurnID: s.turnID})
}
