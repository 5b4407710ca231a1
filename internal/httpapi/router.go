package httpapi

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yungbote/rpa-orchestrator/internal/wire/ws"
)

// RouterConfig wires the gin router's handlers, auth middleware, and the
// robot-facing WebSocket server, mirroring the teacher's RouterConfig/
// NewRouter split.
type RouterConfig struct {
	Handlers   *Handlers
	Auth       *AuthMiddleware
	WireServer *ws.Server
	CORSOrigins []string
}

// NewRouter builds the full gin.Engine for the orchestrator's HTTP control
// plane and robot WebSocket endpoint.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Robot-Id"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", HealthCheck)

	api := router.Group("/api")
	protected := api.Group("/")
	protected.Use(cfg.Auth.RequireAuth())

	protected.POST("/jobs", cfg.Handlers.SubmitJob)
	protected.GET("/jobs/:id", cfg.Handlers.GetJob)
	protected.POST("/jobs/:id/cancel", cfg.Handlers.CancelJob)
	protected.POST("/jobs/:id/retry", cfg.Handlers.RetryJob)
	protected.GET("/queue/stats", cfg.Handlers.QueueStats)

	protected.POST("/robots", cfg.Handlers.RegisterRobot)
	protected.GET("/robots/:id", cfg.Handlers.GetRobot)
	protected.PATCH("/robots/:id/status", cfg.Handlers.UpdateRobotStatus)
	protected.POST("/robots/:id/heartbeat", cfg.Handlers.RobotHeartbeat)

	protected.POST("/schedules", cfg.Handlers.CreateSchedule)
	protected.PATCH("/schedules/:id", cfg.Handlers.ToggleSchedule)
	protected.DELETE("/schedules/:id", cfg.Handlers.DeleteSchedule)
	protected.GET("/schedules/upcoming", cfg.Handlers.UpcomingSchedules)

	if cfg.WireServer != nil {
		router.GET("/ws/robot", func(c *gin.Context) {
			cfg.WireServer.ServeHTTP(c.Writer, c.Request)
		})
	}

	return router
}
