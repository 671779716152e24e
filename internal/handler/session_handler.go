package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-tutor/internal/middleware"
	"github.com/stemsi/exstem-tutor/internal/model"
	"github.com/stemsi/exstem-tutor/internal/response"
	"github.com/stemsi/exstem-tutor/internal/session"
	"github.com/stemsi/exstem-tutor/internal/validator"
)

// SessionHandler exposes the tutoring session over HTTP.
type SessionHandler struct {
	registry *session.Registry
	log      zerolog.Logger
	cookie   middleware.CookieOptions
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(registry *session.Registry, log zerolog.Logger, cookie middleware.CookieOptions) *SessionHandler {
	return &SessionHandler{
		registry: registry,
		log:      log.With().Str("component", "session_handler").Logger(),
		cookie:   cookie,
	}
}

// Start godoc
// POST /api/v1/sessions
// Creates a session seeded with the default article and question.
func (h *SessionHandler) Start(c *gin.Context) {
	// The session outlives this request; the registry owns its lifetime.
	id, ctrl := h.registry.Start(context.WithoutCancel(c.Request.Context()))

	middleware.SetSessionCookie(c, id, h.cookie)

	response.Success(c, http.StatusCreated, model.StartSessionResponse{
		SessionID: id,
		View:      ctrl.View(),
	})
}

// Get godoc
// GET /api/v1/session
// Returns the current render output, including the spinner while loading.
func (h *SessionHandler) Get(c *gin.Context) {
	ctrl := middleware.GetSession(c)
	if ctrl == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrSessionRequired)
		return
	}
	response.Success(c, http.StatusOK, ctrl.View())
}

// SubmitAnswer godoc
// POST /api/v1/session/answer
// Runs the submit-answer workflow and returns the settled view.
func (h *SessionHandler) SubmitAnswer(c *gin.Context) {
	ctrl := middleware.GetSession(c)
	if ctrl == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrSessionRequired)
		return
	}

	var req model.SubmitAnswerRequest
	if fields, err := validator.Bind(c, &req); err != nil {
		if !validator.IsValidationError(err) {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidPayload, fields)
			return
		}
		if strings.TrimSpace(req.Answer) != "" {
			response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrValidation, fields)
			return
		}
		// Blank answers still go through the controller so the warning
		// lands in the session view for every attached surface.
	}

	view, err := ctrl.SubmitAnswer(c.Request.Context(), req.Answer)
	h.respond(c, view, err)
}

// NextQuestion godoc
// POST /api/v1/session/next-question
// Runs the fetch-next-question workflow and returns the settled view.
func (h *SessionHandler) NextQuestion(c *gin.Context) {
	ctrl := middleware.GetSession(c)
	if ctrl == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrSessionRequired)
		return
	}

	view, err := ctrl.FetchNextQuestion(c.Request.Context())
	h.respond(c, view, err)
}

// ExecuteCode godoc
// POST /api/v1/session/execute
// Runs code on the backend runner and returns the settled view.
func (h *SessionHandler) ExecuteCode(c *gin.Context) {
	ctrl := middleware.GetSession(c)
	if ctrl == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrSessionRequired)
		return
	}

	var req model.ExecuteCodeRequest
	if fields, err := validator.Bind(c, &req); err != nil {
		if !validator.IsValidationError(err) {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidPayload, fields)
			return
		}
		if _, bad := fields["language"]; bad || strings.TrimSpace(req.Code) != "" {
			response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrValidation, fields)
			return
		}
		// Blank code takes the same route as a blank answer.
	}

	view, err := ctrl.ExecuteCode(c.Request.Context(), req.Language, req.Code)
	h.respond(c, view, err)
}

// LearningObjectives godoc
// POST /api/v1/session/learning-objectives
// Fetches learning objectives for the session's article and returns the settled view.
func (h *SessionHandler) LearningObjectives(c *gin.Context) {
	ctrl := middleware.GetSession(c)
	if ctrl == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrSessionRequired)
		return
	}

	view, err := ctrl.FetchLearningObjectives(c.Request.Context())
	h.respond(c, view, err)
}

// End godoc
// DELETE /api/v1/session
// Ends the session and clears the cookie.
func (h *SessionHandler) End(c *gin.Context) {
	id := middleware.GetSessionID(c)
	if !h.registry.End(id) {
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
		return
	}

	middleware.ClearSessionCookie(c, h.cookie)
	response.Success(c, http.StatusOK, gin.H{"ended": true})
}

// respond maps controller outcomes onto the envelope. Backend failures are
// already folded into the view, so they arrive here as a nil error.
func (h *SessionHandler) respond(c *gin.Context, view model.View, err error) {
	status, code, ok := statusFor(err)
	if ok {
		response.Success(c, http.StatusOK, view)
		return
	}
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("session_id", middleware.GetSessionID(c)).Msg("Unexpected controller error")
	}
	response.FailWithData(c, status, code, view)
}

// statusFor classifies a controller error. ok is true for a nil error.
func statusFor(err error) (status int, code response.ErrCode, ok bool) {
	var ve *session.ValidationError
	switch {
	case err == nil:
		return http.StatusOK, "", true
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity, response.ErrValidation, false
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict, response.ErrWorkflowBusy, false
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone, response.ErrSessionClosed, false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, response.ErrRequestCancelled, false
	default:
		return http.StatusInternalServerError, response.ErrInternal, false
	}
}
