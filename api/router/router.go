package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/sshcollectorpro/fsmaudit/api/handler"
	"github.com/sshcollectorpro/fsmaudit/internal/audit"
	"github.com/sshcollectorpro/fsmaudit/internal/database"
	"github.com/sshcollectorpro/fsmaudit/internal/templates"
	"github.com/sshcollectorpro/fsmaudit/pkg/logger"
)

// Dependencies 路由依赖；DB 与 Archiver 可为空
type Dependencies struct {
	Registry         *templates.Registry
	AuditOptions     audit.Options
	MaxReevaluations int
	DB               *gorm.DB
	Archiver         audit.Archiver
	Mode             string
}

// SetupRouter 设置路由
func SetupRouter(deps Dependencies) *gin.Engine {
	mode := deps.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())

	var store *database.RunStore
	if deps.DB != nil {
		store = database.NewRunStore(deps.DB)
	}
	var runOpts []audit.RunnerOption
	if deps.Archiver != nil {
		runOpts = append(runOpts, audit.WithArchiver(deps.Archiver))
	}

	healthHandler := handler.NewHealthHandler(deps.Registry, deps.DB)
	parseHandler := handler.NewParseHandler(deps.Registry, deps.MaxReevaluations)
	auditHandler := handler.NewAuditHandler(deps.Registry, deps.AuditOptions, deps.MaxReevaluations, store, runOpts...)

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":   "fsmaudit",
			"status": "running",
		})
	})

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", healthHandler.Health)
		v1.GET("/templates", parseHandler.ListTemplates)
		v1.POST("/parse", parseHandler.Parse)

		v1.POST("/audit/:job", auditHandler.Run)
		v1.GET("/runs", auditHandler.ListRuns)
		v1.GET("/runs/:id", auditHandler.GetRun)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, handler.ErrorResponse{
			Code:    "NOT_FOUND",
			Message: "接口不存在",
			Data:    gin.H{"path": c.Request.URL.Path},
		})
	})
	return r
}

// RequestIDMiddleware 请求ID中间件
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// LoggingMiddleware 请求日志，状态码 >= 400 时记为警告
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"duration":   time.Since(start),
			"client_ip":  c.ClientIP(),
		})
		if status >= 400 {
			entry.Warn("HTTP Request")
			return
		}
		entry.Info("HTTP Request")
	}
}
