package api

import "github.com/gin-gonic/gin"

func registerAlertRoutes(router *gin.RouterGroup, h *AlertHandler) {
	rules := router.Group("/alerts/rules")
	{
		rules.GET("", h.ListRules)
		rules.POST("", h.CreateRule)
		rules.DELETE("/:id", h.DeleteRule)
		rules.POST("/:id/toggle", h.ToggleRule)
	}

	triggered := router.Group("/alerts")
	{
		triggered.GET("/triggered", h.ListTriggered)
		triggered.DELETE("/triggered", h.ClearTriggered)
		triggered.GET("/stream", h.Stream)
	}
}

func registerFeedRoutes(router *gin.RouterGroup, h *FeedHandler) {
	router.GET("/status", h.Status)
	router.GET("/trades/recent", h.RecentTrades)

	f := router.Group("/feed")
	{
		f.POST("/pause", h.Pause)
		f.POST("/resume", h.Resume)
	}
}
