package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/whisperexam/whisper-backend/internal/broadcast"
	"github.com/whisperexam/whisper-backend/internal/config"
	"github.com/whisperexam/whisper-backend/internal/middleware"
	"github.com/whisperexam/whisper-backend/internal/model"
	"github.com/whisperexam/whisper-backend/internal/service"
	ws "github.com/whisperexam/whisper-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
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

// WSHandler handles the live session channel: countdown ticks and
// progress events flow out; autosaves and proctor events flow in.
type WSHandler struct {
	rdb            *redis.Client
	hub            *broadcast.Hub
	sessionService *service.ExamSessionService
	proctorService *service.ProctorService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(
	rdb *redis.Client,
	hub *broadcast.Hub,
	sessionService *service.ExamSessionService,
	proctorService *service.ProctorService,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		rdb:            rdb,
		hub:            hub,
		sessionService: sessionService,
		proctorService: proctorService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/student/sessions/:session_id/stream
// Upgrades to WebSocket for the live attempt channel.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session ID"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	// Ownership check before any data flows.
	if _, err := h.sessionService.GetState(c.Request.Context(), sessionID, claims.UserID); err != nil {
		ws.WriteError(conn, "no session for this user")
		return
	}

	wsLog := h.log.With().
		Str("session_id", sessionID.String()).
		Str("user_id", claims.UserID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	// Writes come from both the event forwarder and the read loop, so
	// they share one lock.
	var writeMu sync.Mutex
	send := func(v interface{}) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := ws.WriteTyped(conn, v); err != nil {
			wsLog.Debug().Err(err).Msg("Write failed")
		}
	}

	events, cancel := h.hub.Subscribe(sessionID)
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				send(ws.SessionEventResponse{Event: ws.EventSession, Payload: ev})
			}
		}
	}()

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionAutosave:
			h.handleAutosave(send, wsLog, sessionID, claims.UserID, &msg)
		case ws.ActionProctor:
			h.handleProctorEvent(send, sessionID, claims.UserID, &msg)
		case ws.ActionPing:
			send(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			send(ws.ErrorResponse{Event: ws.EventError, Error: "unknown action: " + string(msg.Action)})
		}
	}
}

// handleAutosave queues the answer for the persistence worker. The save is
// revalidated there; the channel only acknowledges intake.
func (h *WSHandler) handleAutosave(send func(interface{}), wsLog zerolog.Logger, sessionID, userID uuid.UUID, msg *ws.RequestPayload) {
	if msg.QID == "" || len(msg.Answer) == 0 {
		send(ws.ErrorResponse{Event: ws.EventError, Error: "q_id and ans are required"})
		return
	}
	if _, err := uuid.Parse(msg.QID); err != nil {
		send(ws.ErrorResponse{Event: ws.EventError, Error: "invalid q_id format"})
		return
	}

	payload, _ := json.Marshal(model.AnswerQueueItem{
		SessionID:  sessionID.String(),
		UserID:     userID.String(),
		QuestionID: msg.QID,
		Answer:     msg.Answer,
		Timestamp:  time.Now().Unix(),
	})
	if err := h.rdb.LPush(context.Background(), config.WorkerKey.PersistAnswersQueue, payload).Err(); err != nil {
		wsLog.Error().Err(err).Msg("Autosave enqueue failed")
		send(ws.ErrorResponse{Event: ws.EventError, Error: "save failed"})
		return
	}
	send(ws.AcceptedResponse{Event: ws.EventAccepted, Action: ws.ActionAutosave})
}

func (h *WSHandler) handleProctorEvent(send func(interface{}), sessionID, userID uuid.UUID, msg *ws.RequestPayload) {
	if msg.EventType == "" {
		send(ws.ErrorResponse{Event: ws.EventError, Error: "event_type is required"})
		return
	}

	_, err := h.proctorService.RecordViolation(context.Background(), sessionID, userID, model.ViolationRequest{
		EventType: msg.EventType,
		Details:   msg.Details,
	})
	if err != nil {
		send(ws.ErrorResponse{Event: ws.EventError, Error: "event rejected"})
		return
	}
	send(ws.AcceptedResponse{Event: ws.EventAccepted, Action: ws.ActionProctor})
}
