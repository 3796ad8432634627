package middleware

import (
	"net/http"
	"strings"

	"refund_engine/internal/pkg/scope"
	"refund_engine/pkg/response"
	"refund_engine/pkg/utils"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware JWT认证中间件
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			c.Abort()
			return
		}

		// 检查格式 "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := utils.ParseToken(parts[1])
		if err != nil {
			response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "Invalid or expired token")
			c.Abort()
			return
		}

		// 将身份信息存入上下文
		c.Set("userID", claims.UserID)
		c.Set("role", claims.Role)
		if claims.VendorID != "" {
			c.Set("vendorID", claims.VendorID)
		}

		c.Next()
	}
}

// AdminMiddleware 管理员权限中间件
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists {
			response.Error(c, http.StatusUnauthorized, response.ErrNoPermission, "Unauthorized")
			c.Abort()
			return
		}

		roleInt, ok := role.(int)
		if !ok || roleInt != utils.RoleAdmin {
			response.Error(c, http.StatusForbidden, response.ErrNoPermission, "Admin permission required")
			c.Abort()
			return
		}

		c.Next()
	}
}

// StaffMiddleware 管理员或商家权限中间件
// 商家维度的数据隔离在 service 层按 scope 收口，这里只拦角色
func StaffMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists {
			response.Error(c, http.StatusUnauthorized, response.ErrNoPermission, "Unauthorized")
			c.Abort()
			return
		}

		roleInt, ok := role.(int)
		if !ok || (roleInt != utils.RoleAdmin && roleInt != utils.RoleVendor) {
			response.Error(c, http.StatusForbidden, response.ErrNoPermission, "Staff permission required")
			c.Abort()
			return
		}

		c.Next()
	}
}

// GetScope 从请求上下文组装调用 scope
func GetScope(c *gin.Context) scope.Scope {
	s := scope.Scope{}
	if v, ok := c.Get("userID"); ok {
		if str, ok := v.(string); ok {
			s.ActorID = str
		}
	}
	if v, ok := c.Get("role"); ok {
		if r, ok := v.(int); ok {
			s.Role = r
		}
	}
	if v, ok := c.Get("vendorID"); ok {
		if str, ok := v.(string); ok && str != "" {
			s.VendorID = &str
		}
	}
	return s
}
