package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sudooom.hrchat/internal/config"
	"sudooom.hrchat/internal/handler"
	"sudooom.hrchat/internal/middleware"
)

// SetupRouter 设置路由：REST 接口挂在 /api/v1，推送 websocket 挂在 /ws
func SetupRouter(cfg *config.Config, convHandler *handler.ConversationHandler, push http.Handler) *gin.Engine {
	gin.SetMode(cfg.App.Mode)

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowCredentials,
	))

	if push != nil {
		r.GET("/ws", gin.WrapH(push))
	}

	v1 := r.Group("/api/v1")
	{
		conversations := v1.Group("/conversations")
		{
			conversations.GET("", convHandler.ListConversations)
			conversations.GET("/:key", convHandler.GetConversation)
			conversations.GET("/:key/messages", convHandler.ListMessages)
		}

		v1.POST("/messages", convHandler.SendMessage)
		v1.GET("/identity/sender-id", convHandler.DeriveSenderID)
	}

	return r
}
