package middlewares

import (
	"strings"

	"bitbucket.org/mmdatafocus/tradeledger_backend/utils"
	"github.com/gin-gonic/gin"
)

const ActorHeader = "X-Actor"

// ActorMiddleware records who made the request, for logs only. The value is not verified.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(ActorHeader))
		if actor == "" {
			c.Next()
			return
		}
		c.Request = c.Request.WithContext(utils.SetActorInContext(c.Request.Context(), actor))
		c.Next()
	}
}
