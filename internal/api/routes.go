package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter creates the gin engine with recovery and CORS configured for origins.
// A "*" entry allows every origin.
func NewRouter(origins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", SessionHeader},
		ExposeHeaders: []string{SessionHeader},
		MaxAge:        12 * time.Hour,
	}
	for _, origin := range origins {
		if origin == "*" {
			corsConfig.AllowAllOrigins = true
			break
		}
		corsConfig.AllowOrigins = append(corsConfig.AllowOrigins, origin)
	}
	if corsConfig.AllowAllOrigins || len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowOrigins = nil
	}
	router.Use(cors.New(corsConfig))

	return router
}

func SetupRoutes(router *gin.Engine, handler *Handler) {
	api := router.Group("/api")
	{
		api.GET("/properties", handler.ListProperties)
		api.POST("/properties", handler.CreateProperty)
		api.GET("/properties/counts", handler.GetFilterCounts)
		api.POST("/properties/number", handler.GeneratePropertyNumber)
		api.GET("/properties/:id", handler.GetProperty)
		api.POST("/properties/:id/publish", handler.TogglePublished)
		api.DELETE("/properties/:id", handler.DeleteProperty)
		api.POST("/refresh", handler.Refresh)
		api.POST("/signals/focus", handler.Focus)
		api.POST("/signals/reconnect", handler.Reconnect)
	}
}
