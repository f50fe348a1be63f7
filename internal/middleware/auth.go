package middleware

import (
	"context"
	"net/http"

	"github.com/exagonbr/Portal-sub023/internal/gate"
	"github.com/exagonbr/Portal-sub023/pkg/response"
	"github.com/gin-gonic/gin"
)

// Context keys set by Auth
const (
	IdentityKey = "identity"
	UserIDKey   = "user_id"
)

// Authorizer resolves the identity behind a request. *gate.Gate implements it.
type Authorizer interface {
	Authorize(ctx context.Context, r *http.Request) (*gate.Identity, error)
}

// Auth creates an authentication middleware backed by the authorization gate
func Auth(authorizer Authorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := authorizer.Authorize(c.Request.Context(), c.Request)
		if err != nil {
			_ = c.Error(err)
			response.Abort(c, gate.AppError(err))
			return
		}

		c.Set(IdentityKey, identity)
		c.Set(UserIDKey, identity.UserID())

		c.Next()
	}
}

// IdentityFrom returns the identity stored by Auth
func IdentityFrom(c *gin.Context) (*gate.Identity, bool) {
	v, exists := c.Get(IdentityKey)
	if !exists {
		return nil, false
	}
	identity, ok := v.(*gate.Identity)
	return identity, ok
}
