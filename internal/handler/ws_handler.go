package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-tutor/internal/middleware"
	"github.com/stemsi/exstem-tutor/internal/response"
	"github.com/stemsi/exstem-tutor/internal/session"
	ws "github.com/stemsi/exstem-tutor/internal/websocket"
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

// WSHandler streams session render passes and accepts actions over a WebSocket.
type WSHandler struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/session/stream
// Pushes a state event for every render pass, loading and settled alike.
func (h *WSHandler) SessionStream(c *gin.Context) {
	ctrl := middleware.GetSession(c)
	if ctrl == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrSessionRequired)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().Str("session_id", middleware.GetSessionID(c)).Logger()
	wsLog.Info().Msg("Client connected")

	views, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	// gorilla allows one concurrent writer; every write goes through this goroutine.
	out := make(chan interface{}, 8)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case v, ok := <-views:
				if !ok {
					_ = ws.WriteError(conn, string(response.ErrSessionClosed), response.GetMessage(response.ErrSessionClosed))
					_ = conn.Close()
					return
				}
				if err := ws.WriteState(conn, v); err != nil {
					_ = conn.Close()
					return
				}
			case msg, ok := <-out:
				if !ok {
					return
				}
				if err := ws.WriteTyped(conn, msg); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	out <- ws.StateEvent{Event: ws.EventState, View: ctrl.View()}

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	var actions sync.WaitGroup
	defer func() {
		cancel()
		actions.Wait()
		close(out)
		<-writerDone
		wsLog.Debug().Msg("Connection closed")
	}()

	for {
		var msg ws.Request
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			}
			return
		}

		switch msg.Action {
		case ws.ActionPing:
			h.send(ctx, out, ws.PongResponse{Event: ws.EventPong})
		case ws.ActionSubmit:
			answer := msg.Answer
			h.runAction(ctx, &actions, out, func() error {
				_, err := ctrl.SubmitAnswer(ctx, answer)
				return err
			})
		case ws.ActionFetchNext:
			h.runAction(ctx, &actions, out, func() error {
				_, err := ctrl.FetchNextQuestion(ctx)
				return err
			})
		case ws.ActionExecute:
			language, code := msg.Language, msg.Code
			h.runAction(ctx, &actions, out, func() error {
				_, err := ctrl.ExecuteCode(ctx, language, code)
				return err
			})
		case ws.ActionFetchObjectives:
			h.runAction(ctx, &actions, out, func() error {
				_, err := ctrl.FetchLearningObjectives(ctx)
				return err
			})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			h.send(ctx, out, ws.ErrorResponse{
				Event: ws.EventError,
				Code:  string(response.ErrInvalidPayload),
				Error: "unknown action: " + string(msg.Action),
			})
		}
	}
}

// runAction executes a controller call off the read loop so pings and
// further actions are still read while a workflow is loading. Views reach
// the client through the subscription; only refusals are reported here.
func (h *WSHandler) runAction(ctx context.Context, wg *sync.WaitGroup, out chan<- interface{}, call func() error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := call()
		if _, code, ok := statusFor(err); !ok {
			h.send(ctx, out, ws.ErrorResponse{
				Event: ws.EventError,
				Code:  string(code),
				Error: wsMessage(code, err),
			})
		}
	}()
}

func (h *WSHandler) send(ctx context.Context, out chan<- interface{}, msg interface{}) {
	select {
	case out <- msg:
	case <-ctx.Done():
	}
}

func wsMessage(code response.ErrCode, err error) string {
	var ve *session.ValidationError
	if errors.As(err, &ve) {
		return ve.Notice
	}
	return response.GetMessage(code)
}
