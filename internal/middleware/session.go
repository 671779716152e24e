package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-tutor/internal/response"
	"github.com/stemsi/exstem-tutor/internal/session"
)

const (
	// SessionCookie carries the session id for browser clients.
	SessionCookie = "tutor_session"
	// SessionHeader carries the session id for non-browser clients.
	SessionHeader = "X-Session-ID"

	// ContextKeySession is the Gin context key for the resolved controller.
	ContextKeySession = "session"
	// ContextKeySessionID is the Gin context key for the resolved session id.
	ContextKeySessionID = "session_id"
)

// CookieOptions controls how the session cookie is written.
type CookieOptions struct {
	// MaxAge is in seconds and matches the session idle TTL.
	MaxAge int
	Secure bool
}

// NewCookieOptions builds cookie options whose lifetime follows idleTTL.
func NewCookieOptions(idleTTL time.Duration, secure bool) CookieOptions {
	return CookieOptions{MaxAge: int(idleTTL / time.Second), Secure: secure}
}

// SetSessionCookie writes id into the HttpOnly session cookie.
func SetSessionCookie(c *gin.Context, id string, opts CookieOptions) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, id, opts.MaxAge, "/", "", opts.Secure, true)
}

// ClearSessionCookie tells the browser to drop the session cookie.
func ClearSessionCookie(c *gin.Context, opts CookieOptions) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, "", -1, "/", "", opts.Secure, true)
}

// SessionID extracts the session id from the cookie, falling back to the header.
func SessionID(c *gin.Context) string {
	id, _ := sessionID(c)
	return id
}

func sessionID(c *gin.Context) (id string, fromCookie bool) {
	if id, err := c.Cookie(SessionCookie); err == nil && id != "" {
		return id, true
	}
	return c.GetHeader(SessionHeader), false
}

// RequireSession resolves the caller's session from the registry and stores
// the controller in the Gin context. A cookie-borne id has its cookie
// re-issued so the browser keeps it as long as the registry does.
func RequireSession(registry *session.Registry, cookie CookieOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, fromCookie := sessionID(c)
		if id == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionRequired)
			return
		}

		ctrl, ok := registry.Get(id)
		if !ok {
			response.AbortFail(c, http.StatusNotFound, response.ErrSessionNotFound)
			return
		}

		if fromCookie {
			SetSessionCookie(c, id, cookie)
		}
		c.Set(ContextKeySessionID, id)
		c.Set(ContextKeySession, ctrl)
		c.Next()
	}
}

// GetSession retrieves the controller set by RequireSession.
func GetSession(c *gin.Context) *session.Controller {
	v, exists := c.Get(ContextKeySession)
	if !exists {
		return nil
	}
	ctrl, _ := v.(*session.Controller)
	return ctrl
}

// GetSessionID retrieves the session id set by RequireSession.
func GetSessionID(c *gin.Context) string {
	return c.GetString(ContextKeySessionID)
}
