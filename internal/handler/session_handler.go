package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-kiosk/internal/autosave"
	"github.com/stemsi/exstem-kiosk/internal/middleware"
	"github.com/stemsi/exstem-kiosk/internal/model"
	"github.com/stemsi/exstem-kiosk/internal/response"
	"github.com/stemsi/exstem-kiosk/internal/session"
	"github.com/stemsi/exstem-kiosk/internal/validator"
	ws "github.com/stemsi/exstem-kiosk/internal/websocket"
)

const (
	openTimeout   = 15 * time.Second
	unloadTimeout = 5 * time.Second
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
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

// SessionHandler streams one exam session per WebSocket connection.
type SessionHandler struct {
	deps     session.Deps
	opts     session.Options
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewSessionHandler creates a new SessionHandler. deps and opts are copied for every
// connection; the surface and hooks are bound per connection.
func NewSessionHandler(deps session.Deps, opts session.Options, log zerolog.Logger, allowedOrigins []string) *SessionHandler {
	return &SessionHandler{
		deps:     deps,
		opts:     opts,
		log:      log.With().Str("component", "session_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/schedules/:schedule_id/session?token=...
// Opens or resumes the examinee's attempt and relays answers, environment events
// and session events until the page goes away.
func (h *SessionHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	scheduleID, err := uuid.Parse(c.Param("schedule_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	if !claims.Allows(scheduleID) {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	examineeID := claims.UserID
	wsLog := h.log.With().
		Int("examinee_id", examineeID).
		Str("schedule_id", scheduleID.String()).
		Logger()

	surface := ws.NewSurface(func(enabled bool) {
		conn.WriteTyped(ws.SelectionResponse{Event: ws.EventSelection, Enabled: enabled})
	})

	deps := h.deps
	deps.Surface = surface
	opts := h.opts
	opts.Hooks = h.hooks(conn)

	ctrl := session.NewController(deps, opts)
	defer ctrl.Close()

	openCtx, cancel := context.WithTimeout(c.Request.Context(), openTimeout)
	init, err := ctrl.Open(openCtx, scheduleID, examineeID)
	cancel()
	if err != nil {
		wsLog.Warn().Err(err).Msg("Open session failed")
		writeDomainError(conn, err)
		return
	}
	conn.WriteTyped(ws.InitResponse{Event: ws.EventInit, Session: init})
	if init.Result != nil {
		return
	}

	wsLog.Info().Bool("resumed", init.Resumed).Msg("Examinee connected")

	s := &stream{ctrl: ctrl, conn: conn, surface: surface, log: wsLog}
	for {
		data, err := conn.ReadRaw()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}
		s.handle(c.Request.Context(), data)
	}

	// The page is gone: push whatever is pending before tearing down.
	saveCtx, cancel := context.WithTimeout(context.Background(), unloadTimeout)
	defer cancel()
	if err := ctrl.ForceSave(saveCtx); err != nil && !errors.Is(err, autosave.ErrOffline) {
		wsLog.Warn().Err(err).Msg("Final save on disconnect failed")
	}
}

func (h *SessionHandler) hooks(conn *ws.Conn) session.Hooks {
	return session.Hooks{
		OnTick: func(remaining time.Duration) {
			conn.WriteTyped(ws.TickResponse{
				Event:            ws.EventTick,
				RemainingSeconds: int64((remaining + time.Second - 1) / time.Second),
			})
		},
		OnSaveStatus: func(st autosave.Status) {
			conn.WriteTyped(ws.SaveStatusResponse{Event: ws.EventSaveStatus, Status: st})
		},
		OnViolation: func(v model.Violation, count, maxWarnings int) {
			conn.WriteTyped(ws.ViolationResponse{
				Event:       ws.EventViolation,
				Violation:   v,
				Count:       count,
				MaxWarnings: maxWarnings,
			})
		},
		OnLockdown: func(locked bool) {
			conn.WriteTyped(ws.LockdownResponse{Event: ws.EventLockdown, Locked: locked})
		},
		OnSubmitted: func(result *model.SubmissionResult) {
			conn.WriteTyped(ws.SubmittedResponse{Event: ws.EventSubmitted, Result: result})
		},
		OnKicked: func() {
			conn.WriteTyped(ws.KickedResponse{Event: ws.EventKicked})
		},
	}
}

// stream dispatches the frames of one connection.
type stream struct {
	ctrl    *session.Controller
	conn    *ws.Conn
	surface *ws.Surface
	log     zerolog.Logger
}

func (s *stream) handle(ctx context.Context, data []byte) {
	action, ok := ws.PeekAction(data)
	if !ok {
		s.fail(response.ErrInvalidPayload, nil)
		return
	}

	switch action {
	case ws.ActionAnswer:
		var req ws.AnswerRequest
		if !s.decode(data, &req) {
			return
		}
		qid := uuid.MustParse(req.QuestionID)
		if err := s.ctrl.RecordAnswer(qid, req.Value); err != nil {
			writeDomainError(s.conn, err)
			return
		}
		s.writeState(qid)

	case ws.ActionFlag:
		var req ws.FlagRequest
		if !s.decode(data, &req) {
			return
		}
		qid := uuid.MustParse(req.QuestionID)
		s.ctrl.ToggleFlag(qid)
		s.writeState(qid)

	case ws.ActionSubmit:
		// The submitted event is written by the OnSubmitted hook.
		if _, err := s.ctrl.Submit(ctx, model.SubmitManual); err != nil {
			writeDomainError(s.conn, err)
		}

	case ws.ActionEnv:
		var req ws.EnvRequest
		if !s.decode(data, &req) {
			return
		}
		prevented := s.surface.Dispatch(req.Event)
		s.conn.WriteTyped(ws.EnvAckResponse{Event: ws.EventEnvAck, Seq: req.Seq, Prevented: prevented})

	case ws.ActionMetrics:
		var req ws.MetricsRequest
		if !s.decode(data, &req) {
			return
		}
		s.surface.UpdateMetrics(*req.Metrics)

	case ws.ActionUnload:
		saveCtx, cancel := context.WithTimeout(ctx, unloadTimeout)
		defer cancel()
		if err := s.ctrl.ForceSave(saveCtx); err != nil && !errors.Is(err, autosave.ErrOffline) {
			s.log.Warn().Err(err).Msg("Save on unload failed")
		}

	case ws.ActionPing:
		s.conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})

	default:
		s.log.Warn().Str("action", string(action)).Msg("Unknown action")
		s.fail(response.ErrUnknownAction, nil)
	}
}

func (s *stream) decode(data []byte, dst interface{}) bool {
	if err := json.Unmarshal(data, dst); err != nil {
		s.fail(response.ErrInvalidPayload, map[string]string{"detail": err.Error()})
		return false
	}
	if fields := validator.Struct(dst); fields != nil {
		s.fail(response.ErrValidation, fields)
		return false
	}
	return true
}

func (s *stream) writeState(qid uuid.UUID) {
	_, answered := s.ctrl.Answers()[qid]
	flags := s.ctrl.Flags()
	ids := make([]string, len(flags))
	flagged := false
	for i, id := range flags {
		ids[i] = id.String()
		if id == qid {
			flagged = true
		}
	}
	s.conn.WriteTyped(ws.StateResponse{
		Event:      ws.EventState,
		QuestionID: qid.String(),
		Answered:   answered,
		Flagged:    flagged,
		Flags:      ids,
	})
}

func (s *stream) fail(code response.ErrCode, fields map[string]string) {
	s.conn.WriteError(string(code), response.GetMessage(code), fields)
}

func writeDomainError(conn *ws.Conn, err error) {
	code, _ := response.CodeFor(err)
	conn.WriteError(string(code), response.GetMessage(code), nil)
}
