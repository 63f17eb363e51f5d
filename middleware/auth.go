package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Natchlou/le-q/services"
)

const hostRoomKey = "host_room_id"

// HostAuth guards host-only routes. It verifies the Bearer token minted
// at room creation and stashes the room it is bound to; handlers compare
// that room against the one the request targets.
func HostAuth(tokens *services.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header must be a bearer token"})
			c.Abort()
			return
		}

		roomID, err := tokens.Verify(raw)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid host token"})
			c.Abort()
			return
		}

		c.Set(hostRoomKey, roomID)
		c.Next()
	}
}

// HostRoom returns the room the verified host token is bound to;
// uuid.Nil outside HostAuth-guarded routes.
func HostRoom(c *gin.Context) uuid.UUID {
	v, ok := c.Get(hostRoomKey)
	if !ok {
		return uuid.Nil
	}
	id, ok := v.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}
