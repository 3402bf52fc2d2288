package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/abdulhad-eng/home-fair-share/internal/infra/config"
)

// SessionIDKey is the gin context key holding the client auth slot id.
const SessionIDKey = "session_id"

// SessionCookie makes sure every request carries an auth slot id, issuing a
// new cookie when the client has none.
func SessionCookie(cfg config.SessionSettings) gin.HandlerFunc {
	name := cfg.CookieName
	if name == "" {
		name = "roomie_session"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}

	return func(c *gin.Context) {
		sid, err := c.Cookie(name)
		if err != nil || uuid.Validate(sid) != nil {
			sid = uuid.NewString()
			http.SetCookie(c.Writer, &http.Cookie{
				Name:     name,
				Value:    sid,
				Path:     "/",
				MaxAge:   int(ttl.Seconds()),
				HttpOnly: true,
				Secure:   cfg.SecureCookie,
				SameSite: http.SameSiteLaxMode,
			})
		}
		c.Set(SessionIDKey, sid)
		c.Next()
	}
}

// GetSessionID returns the auth slot id set by SessionCookie.
func GetSessionID(c *gin.Context) string {
	return c.GetString(SessionIDKey)
}
