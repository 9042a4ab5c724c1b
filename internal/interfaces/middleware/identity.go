package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/JongoDB/ems-cop-sub001/internal/domain/models"
	apperrors "github.com/JongoDB/ems-cop-sub001/pkg/errors"
)

// Trusted identity headers set by the upstream auth proxy
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRoles = "X-User-Roles"
)

// ContextKeyCaller is the gin context key holding the *models.Caller
const ContextKeyCaller = "caller"

// Identity reads the proxy headers into a Caller. Requests without
// X-User-ID carry no caller.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if id != "" {
			c.Set(ContextKeyCaller, &models.Caller{ID: id, Roles: parseRoles(c.GetHeader(HeaderUserRoles))})
		}
		c.Next()
	}
}

// RequireCaller rejects requests that Identity could not attribute
func RequireCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CallerFrom(c) == nil {
			err := apperrors.NewUnauthorizedError("missing " + HeaderUserID + " header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    err.Code(),
				"message": err.Error(),
			})
			return
		}
		c.Next()
	}
}

// CallerFrom returns the caller set by Identity, or nil
func CallerFrom(c *gin.Context) *models.Caller {
	v, ok := c.Get(ContextKeyCaller)
	if !ok {
		return nil
	}
	caller, _ := v.(*models.Caller)
	return caller
}

func parseRoles(header string) []string {
	var roles []string
	for _, r := range strings.Split(header, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}
