package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"github.com/yuthstyle88/108jobs-clean-sub000/internal/infra/config"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/infra/obs"
)

type RoomHTTP interface {
	Enter(c *gin.Context)
	Leave(c *gin.Context)
	State(c *gin.Context)
	Messages(c *gin.Context)
	FetchOlder(c *gin.Context)
	Send(c *gin.Context)
	Retry(c *gin.Context)
	MarkRead(c *gin.Context)
	Refocus(c *gin.Context)
	Typing(c *gin.Context)
	StartHiring(c *gin.Context)
	SubmitQuotation(c *gin.Context)
	ApproveQuotation(c *gin.Context)
	StartWork(c *gin.Context)
	SubmitDelivery(c *gin.Context)
	RequestRevision(c *gin.Context)
	ApproveWork(c *gin.Context)
	Cancel(c *gin.Context)
	SubmitReview(c *gin.Context)
	UploadDeliverable(c *gin.Context)
}

type Handlers struct {
	Rooms    RoomHTTP
	Identity gin.HandlerFunc
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "X-Wallet-ID", "X-User-Role"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}))
	if h.Identity != nil {
		router.Use(h.Identity)
	}

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)

	api := router.Group("/api/v1")
	if h.Rooms != nil {
		rooms := api.Group("/rooms/:id")
		rooms.POST("/enter", h.Rooms.Enter)
		rooms.POST("/leave", h.Rooms.Leave)
		rooms.GET("", h.Rooms.State)
		rooms.GET("/messages", h.Rooms.Messages)
		rooms.POST("/messages", h.Rooms.Send)
		rooms.POST("/messages/older", h.Rooms.FetchOlder)
		rooms.POST("/messages/:messageId/retry", h.Rooms.Retry)
		rooms.POST("/read", h.Rooms.MarkRead)
		rooms.POST("/refocus", h.Rooms.Refocus)
		rooms.POST("/typing", h.Rooms.Typing)

		rooms.POST("/workflow/start", h.Rooms.StartHiring)
		rooms.POST("/workflow/quotation", h.Rooms.SubmitQuotation)
		rooms.POST("/workflow/approve-quotation", h.Rooms.ApproveQuotation)
		rooms.POST("/workflow/start-work", h.Rooms.StartWork)
		rooms.POST("/workflow/delivery", h.Rooms.SubmitDelivery)
		rooms.POST("/workflow/revision", h.Rooms.RequestRevision)
		rooms.POST("/workflow/approve-work", h.Rooms.ApproveWork)
		rooms.POST("/workflow/cancel", h.Rooms.Cancel)
		rooms.POST("/workflow/review", h.Rooms.SubmitReview)
		rooms.POST("/deliverables", h.Rooms.UploadDeliverable)
	}

	return &http.Server{Addr: cfg.HTTPAddr, Handler: router}
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
