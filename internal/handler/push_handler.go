package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/hourglass/internal/middleware"
	"github.com/stemsi/hourglass/internal/response"
	"github.com/stemsi/hourglass/internal/service"
	ws "github.com/stemsi/hourglass/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// PushHandler streams proctor messages to students as they are sent.
type PushHandler struct {
	takeService *service.TakeService
	log         zerolog.Logger
	upgrader    websocket.Upgrader
	pingPeriod  time.Duration
}

// NewPushHandler creates a new PushHandler.
func NewPushHandler(takeService *service.TakeService, log zerolog.Logger, allowedOrigins []string) *PushHandler {
	return &PushHandler{
		takeService: takeService,
		log:         log.With().Str("component", "push_handler").Logger(),
		upgrader:    buildUpgrader(allowedOrigins),
		pingPeriod:  ws.PingPeriod,
	}
}

// StreamMessages godoc
// WS /ws/student/exams/:exam_id/messages
// Pushes {event:"message"} frames for every message addressed to the student.
// Clients may send {action:"ping"} and get {event:"pong"} back.
func (h *PushHandler) StreamMessages(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusForbidden, response.ErrTokenRequired)
		return
	}
	examID, ok := parseExamID(c)
	if !ok {
		return
	}

	// Reject before upgrading so the client sees a plain 403.
	reg, err := h.takeService.Registration(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		failFromError(c, err)
		return
	}
	if reg.Final {
		failFromError(c, service.ErrRegistrationFinal)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("user_id", claims.UserID).
		Int64("registration_id", reg.ID).
		Str("exam_id", examID.String()).
		Logger()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	msgs, err := h.takeService.Subscribe(ctx, reg)
	if err != nil {
		wsLog.Error().Err(err).Msg("Subscribe failed")
		_ = ws.WriteError(conn, "message channel unavailable")
		return
	}

	wsLog.Info().Msg("Student connected")
	replies := make(chan interface{}, 4)
	go h.readLoop(ctx, cancel, conn, replies, wsLog)

	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteClose(conn, "bye")
			wsLog.Debug().Msg("Connection closed")
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			if err := ws.WriteTyped(conn, ws.MessageEvent{Event: ws.EventMessage, Message: m}); err != nil {
				wsLog.Warn().Err(err).Int64("message_id", m.ID).Msg("Push write failed")
				return
			}
		case reply := <-replies:
			if err := ws.WriteTyped(conn, reply); err != nil {
				return
			}
		case <-ticker.C:
			if err := ws.WritePing(conn); err != nil {
				return
			}
		}
	}
}

// readLoop owns reads; all writes stay on the handler goroutine.
func (h *PushHandler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, replies chan<- interface{}, wsLog zerolog.Logger) {
	defer cancel()
	ws.KeepAlive(conn)

	for {
		var env ws.RequestEnvelope
		if err := ws.ReadJSON(conn, &env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			}
			return
		}

		var reply interface{}
		switch env.Action {
		case ws.ActionPing:
			reply = ws.PongResponse{Event: ws.EventPong}
		default:
			wsLog.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			reply = ws.ErrorResponse{Event: ws.EventError, Error: "unknown action: " + string(env.Action)}
		}

		select {
		case replies <- reply:
		case <-ctx.Done():
			return
		}
	}
}
