package server

import (
	"crypto/subtle"
	stderrors "errors"
	"strings"

	"github.com/gin-gonic/gin"

	"codemode/internal/errors"
)

func stdAs(err error, target any) bool { return stderrors.As(err, target) }

// authMiddleware enforces the bearer token with a timing-safe comparison.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.DisableAuth {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			abortAuth(c, errors.New(errors.KindAuthRequired, "missing Authorization header"))
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			abortAuth(c, errors.New(errors.KindAuthInvalid, "Authorization header must use the Bearer scheme"))
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) != 1 {
			abortAuth(c, errors.New(errors.KindAuthInvalid, "invalid token"))
			return
		}
		c.Next()
	}
}

func abortAuth(c *gin.Context, err error) {
	writeError(c, err)
	c.Abort()
}
