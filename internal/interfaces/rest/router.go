package rest

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/JongoDB/ems-cop-sub001/internal/domain/ports"
	"github.com/JongoDB/ems-cop-sub001/internal/interfaces/middleware"
)

// RouterConfig carries everything NewRouter wires
type RouterConfig struct {
	Workflows      WorkflowService
	Runs           RunService
	Bus            ports.EventPublisher
	Logger         *zap.Logger
	AllowedOrigins []string
	// Health reports dependency health for GET /health; nil means always healthy
	Health func(ctx context.Context) error
}

// NewRouter builds the gin engine with every route under /api/v1
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(
		middleware.Recovery(logger),
		middleware.Cors(cfg.AllowedOrigins),
		middleware.Identity(),
		middleware.RequestLogger(logger),
	)

	router.GET("/health", func(c *gin.Context) {
		if cfg.Health != nil {
			if err := cfg.Health(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "workflow-engine"})
	})

	workflows := NewWorkflowHandler(cfg.Workflows)
	runs := NewRunHandler(cfg.Runs)
	hooks := NewHookHandler(cfg.Bus)
	requireCaller := middleware.RequireCaller()

	api := router.Group("/api/v1")
	{
		wf := api.Group("/workflows")
		{
			wf.GET("", workflows.List)
			wf.POST("", requireCaller, workflows.Create)
			wf.GET("/:id", workflows.Get)
			wf.PATCH("/:id", requireCaller, workflows.Update)
			wf.DELETE("/:id", requireCaller, workflows.Delete)
			wf.POST("/:id/clone", requireCaller, workflows.Clone)
		}

		wr := api.Group("/workflow-runs")
		{
			wr.GET("", runs.List)
			wr.POST("", requireCaller, runs.Start)
			wr.GET("/:id", runs.Get)
			wr.GET("/:id/history", runs.History)
			wr.POST("/:id/actions", requireCaller, runs.Action)
			wr.POST("/:id/abort", requireCaller, runs.Abort)
			wr.PATCH("/:id/context", requireCaller, runs.UpdateContext)
		}

		// service-to-service; the ticket service is trusted by network placement
		api.POST("/hooks/ticket-status", hooks.TicketStatus)
	}

	return router
}
