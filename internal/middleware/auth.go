package middleware

import (
	"net/http"
	"strings"

	"carpool/internal/pkg/jwt"
	"carpool/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

// JWTAuth validates the bearer token and stores user_id and role in the context.
func JWTAuth(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" {
			response.Abort(c, http.StatusUnauthorized, response.CodeUnauth, "Missing Authorization header")
			return
		}
		if !strings.HasPrefix(h, "Bearer ") {
			response.Abort(c, http.StatusUnauthorized, response.CodeUnauth, "Invalid Authorization header")
			return
		}

		tokenStr := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		if tokenStr == "" {
			response.Abort(c, http.StatusUnauthorized, response.CodeUnauth, "Empty token")
			return
		}

		claims, err := jwtService.ValidateToken(tokenStr)
		if err != nil {
			response.Abort(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token")
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// CurrentUser returns the authenticated user id and role. ok is false when
// the request did not pass through JWTAuth.
func CurrentUser(c *gin.Context) (userID int64, role string, ok bool) {
	userID = c.GetInt64(ContextUserID)
	if userID == 0 {
		return 0, "", false
	}
	return userID, c.GetString(ContextRole), true
}
