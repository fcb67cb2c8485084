package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stemsi/hourglass/internal/response"
)

// CSRFHeader carries the double-submitted forgery protection token.
const CSRFHeader = "X-CSRF-Token"

// CSRFConfig names the cookie holding the token.
type CSRFConfig struct {
	CookieName string
	Secure     bool
}

// IssueCSRF sets the token cookie when the client does not have one yet.
func IssueCSRF(cfg CSRFConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, err := c.Cookie(cfg.CookieName); err != nil || token == "" {
			c.SetSameSite(http.SameSiteStrictMode)
			c.SetCookie(cfg.CookieName, uuid.NewString(), 0, "/", "", cfg.Secure, false)
		}
		c.Next()
	}
}

// RequireCSRF rejects unsafe requests whose header does not match the cookie.
// The rejection is a 403 like any other loss of session.
func RequireCSRF(cfg CSRFConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		cookie, err := c.Cookie(cfg.CookieName)
		header := c.GetHeader(CSRFHeader)
		if err != nil || cookie == "" || subtle.ConstantTimeCompare([]byte(cookie), []byte(header)) != 1 {
			response.AbortFail(c, http.StatusForbidden, response.ErrCSRFInvalid)
			return
		}
		c.Next()
	}
}
