package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/regnido/regnido/internal/models"
)

const ctxActorKey = "actor"

// RequireAuth 校验 Bearer 令牌并加载操作者身份。
// 认证失败直接返回 401，绝不进入事件入队路径。
func (h *Handler) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing token"})
			return
		}

		userID, err := h.issuer.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		user, err := h.userRepo.GetActive(c.Request.Context(), userID)
		if err != nil {
			h.logger.Error("Failed to load user", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
			return
		}
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
			return
		}

		c.Set(ctxActorKey, user)
		c.Next()
	}
}

// Actor 读取当前请求的操作者
func Actor(c *gin.Context) *models.User {
	v, ok := c.Get(ctxActorKey)
	if !ok {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}
