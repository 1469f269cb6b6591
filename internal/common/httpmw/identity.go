package httpmw

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/opengate/opengate/internal/common/errors"
	"github.com/opengate/opengate/internal/task/models"
)

// actorKey is the gin context key the resolved caller is stored under.
const actorKey = "opengate.actor"

// ActorResolver maps a bearer token to the agent behind it.
type ActorResolver interface {
	ResolveToken(c *gin.Context, token string) (models.Actor, error)
}

// Identity resolves the caller for every request. Requests without an
// Authorization header act as an anonymous human operator; a bearer token
// must match a registered agent or the request is rejected.
func Identity(resolver ActorResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Set(actorKey, models.HumanActor(""))
			c.Next()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" || token == header {
			AbortWithError(c, apperrors.AuthRequired("malformed authorization header"))
			return
		}

		actor, err := resolver.ResolveToken(c, token)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// Actor returns the caller resolved by the Identity middleware. Routes
// registered outside the middleware see an anonymous human operator.
func Actor(c *gin.Context) models.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(models.Actor); ok {
			return actor
		}
	}
	return models.HumanActor("")
}

// RequireAgent returns the calling agent's actor, or an auth error when the
// caller is not an authenticated agent.
func RequireAgent(c *gin.Context) (models.Actor, error) {
	actor := Actor(c)
	if !actor.IsAgent() {
		return models.Actor{}, apperrors.AuthRequired("agent authentication required")
	}
	return actor, nil
}

// AbortWithError renders an error as the canonical JSON error body and
// aborts the request. Unknown errors map to 500.
func AbortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apperrors.GetHTTPStatus(err), gin.H{"error": errorMessage(err)})
}

func errorMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
