package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	uploadH "github.com/uplinkhq/uplink/internal/server/handlers/upload"
	"github.com/uplinkhq/uplink/internal/server/middlewares"
	"github.com/uplinkhq/uplink/internal/version"
)

func SetupRoutes(config *Config, svc *Services) (http.Handler, error) {
	r := gin.New()

	h := uploadH.New(svc.Upload)
	streamH, err := uploadH.NewStreamHandler(svc.Upload)
	if err != nil {
		return nil, err
	}

	r.Use(middlewares.Logger())
	r.Use(gin.Recovery())
	r.Use(middlewares.GZIP())
	r.Use(middlewares.CORS())

	r.GET("/", IndexHandler)
	r.GET("/healthz", HealthHandler)

	uploads := r.Group("/api/v1/uploads")
	{
		uploads.POST("", h.CreateSession)
		uploads.GET("", h.ListSessions)
		uploads.GET("/:id", h.GetSession)
		uploads.DELETE("/:id", h.CancelSession)
		uploads.POST("/:id/pause", h.PauseSession)
		uploads.POST("/:id/resume", h.ResumeSession)
		uploads.POST("/:id/finalize", h.FinalizeSession)
		uploads.GET("/:id/finalize", h.GetFinalizeStatus)

		// chunk writes dominate request volume, they get the limiter
		uploads.PUT("/:id/chunks/:index",
			middlewares.RateLimiter(config.HTTP.ChunkRateLimit),
			h.UploadChunk,
		)
	}

	r.HEAD("/uploads/:id/stream", streamH.Head)
	r.GET("/uploads/:id/stream", streamH.Get)

	r.NoRoute(func(c *gin.Context) {
		c.PureJSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.PureJSON(http.StatusMethodNotAllowed, gin.H{
			"error": "method not allowed",
		})
	})

	return r.Handler(), nil
}

func IndexHandler(ctx *gin.Context) {
	ctx.String(http.StatusOK, version.DetailedWithApp())
}

func HealthHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
