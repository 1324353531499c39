package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
)

const adminPasswordHeader = "X-Admin-Password"

// AdminRequired guards the back-office routes with the single shared
// admin password. The webhook, health and metrics endpoints never pass
// through here.
func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminPassword == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		supplied := strings.TrimSpace(c.GetHeader(adminPasswordHeader))
		if supplied == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		// Hash both sides so the comparison is constant-time regardless
		// of length.
		want := sha256.Sum256([]byte(s.cfg.AdminPassword))
		got := sha256.Sum256([]byte(supplied))
		if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Next()
	}
}
