package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/creatorops/internal/observability/context"
)

const (
	HeaderActor     = "X-Actor"
	contextActorKey = "actor"
	defaultActor    = "admin"
)

// ActorContext records who is calling. Authentication happens in front of
// this service; the header is trusted as given.
func ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(HeaderActor))
		if actor == "" {
			actor = defaultActor
		}
		c.Set(contextActorKey, actor)
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), "user", actor))
		c.Next()
	}
}

func actorFrom(c *gin.Context) string {
	if v, ok := c.Get(contextActorKey); ok {
		if actor, ok := v.(string); ok && actor != "" {
			return actor
		}
	}
	return defaultActor
}

// actorOr prefers an explicit actor from the request body.
func actorOr(c *gin.Context, explicit string) string {
	if trimmed := strings.TrimSpace(explicit); trimmed != "" {
		return trimmed
	}
	return actorFrom(c)
}
