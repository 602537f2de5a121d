package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"byteme/utils"
)

const customerKey = "customerID"

// AuthMiddleware 校验 Bearer token 并把 customer_id 放进上下文。
// secret 为空时不做认证。
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		h := c.GetHeader("Authorization")
		if h == "" || !strings.HasPrefix(h, "Bearer ") {
			utils.Fail(c, http.StatusUnauthorized, "Missing or invalid token")
			c.Abort()
			return
		}

		customerID, err := utils.ParseToken(strings.TrimPrefix(h, "Bearer "), secret)
		if err != nil {
			utils.Fail(c, http.StatusUnauthorized, "Invalid token")
			c.Abort()
			return
		}

		c.Set(customerKey, customerID)
		c.Next()
	}
}

// AuthorizedCustomer reports whether the request may act for customerID.
// Requests that went through a disabled AuthMiddleware are always allowed.
func AuthorizedCustomer(c *gin.Context, customerID string) bool {
	v, ok := c.Get(customerKey)
	if !ok {
		return true
	}
	return v.(string) == customerID
}
