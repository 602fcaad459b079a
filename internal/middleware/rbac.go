package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/openbasket/marketplace-api/internal/models"
	appErrors "github.com/openbasket/marketplace-api/pkg/errors"
	"github.com/openbasket/marketplace-api/pkg/response"
)

// RequireRoles gates a route to the listed roles. Supplier-level ownership
// (a supplier only touching its own jobs) is enforced by the services, since
// it needs the target resource, not just the claims.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims, ok := claimsValue.(*models.JWTClaims)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
