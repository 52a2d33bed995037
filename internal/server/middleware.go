package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/repairpay/internal/actorcontext"
	"github.com/smallbiznis/repairpay/internal/payrollerr"
)

const (
	HeaderActorRole = "X-Actor-Role"
	HeaderActorID   = "X-Actor-Id"

	contextTechnicianIDKey = "technician_id"
)

var errTechnicianScope = payrollerr.New(payrollerr.ErrForbidden, "technician_scope")

// ActorFromHeaders resolves the caller from the headers set by the upstream
// session proxy. The system role is reserved for in-process jobs.
func ActorFromHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := actorcontext.ParseRole(c.GetHeader(HeaderActorRole))
		if !ok || role == actorcontext.RoleSystem {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		id := strings.TrimSpace(c.GetHeader(HeaderActorID))
		if id == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := actorcontext.WithActor(c.Request.Context(), actorcontext.Actor{ID: id, Role: role})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// TechnicianScope parses :technicianId and keeps technicians on their own records.
func TechnicianScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		technicianID, err := parseSnowflakeParam(c, "technicianId")
		if err != nil {
			AbortWithError(c, err)
			return
		}

		actor := actorcontext.ActorFromContext(c.Request.Context())
		if actor.Role == actorcontext.RoleTechnician && actor.ID != technicianID.String() {
			AbortWithError(c, errTechnicianScope)
			return
		}

		c.Set(contextTechnicianIDKey, technicianID.String())
		c.Next()
	}
}

func technicianIDFromContext(c *gin.Context) snowflake.ID {
	id, _ := snowflake.ParseString(c.GetString(contextTechnicianIDKey))
	return id
}

// RequireRole rejects callers whose role is not listed.
func RequireRole(roles ...actorcontext.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorcontext.ActorFromContext(c.Request.Context())
		for _, role := range roles {
			if actor.Role == role {
				c.Next()
				return
			}
		}
		AbortWithError(c, payrollerr.New(payrollerr.ErrForbidden, "role_not_allowed"))
	}
}
