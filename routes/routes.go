package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Natchlou/le-q/handlers"
	"github.com/Natchlou/le-q/middleware"
	"github.com/Natchlou/le-q/services"
)

func SetupRoutes(
	router *gin.Engine,
	gameHandler *handlers.GameHandler,
	wsHandler *handlers.WSHandler,
	tokens *services.TokenIssuer,
) {
	api := router.Group("/api")
	{
		// Public room routes
		rooms := api.Group("/rooms")
		{
			rooms.POST("", gameHandler.CreateRoom)
			rooms.POST("/:code/join", gameHandler.JoinRoom)
			rooms.GET("/:code", gameHandler.GetRoom)
		}

		// Host routes, guarded by the room's host token
		host := api.Group("/")
		host.Use(middleware.HostAuth(tokens))
		{
			host.POST("/rooms/:code/question", gameHandler.SendQuestion)
			host.DELETE("/rooms/:code", gameHandler.EndRoom)
			host.POST("/answers/:id/correct", gameHandler.MarkCorrect)
			host.POST("/players/:id/score", gameHandler.AdjustScore)
		}

		// Player routes
		api.POST("/answers", gameHandler.SubmitAnswer)
		api.POST("/sessions/:id/heartbeat", gameHandler.Heartbeat)

		api.GET("/stats", gameHandler.Stats)
	}

	// WebSocket endpoint for the live event stream; the playerID slot
	// also takes "host" for the host console
	router.GET("/ws/:code/:playerID", wsHandler.Serve)

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
