package http

import "github.com/gin-gonic/gin"

func RegisterSyncRoutes(r *gin.Engine, handler *SyncHandler) {
	sync := r.Group("/sync")
	{
		sync.GET("/status", handler.Status)
		sync.POST("/retry", handler.Retry)
	}
}
