package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/sshcollectorpro/fsmaudit/internal/database"
	"github.com/sshcollectorpro/fsmaudit/internal/templates"
)

// HealthHandler 健康检查
type HealthHandler struct {
	registry *templates.Registry
	db       *gorm.DB
}

func NewHealthHandler(registry *templates.Registry, db *gorm.DB) *HealthHandler {
	return &HealthHandler{registry: registry, db: db}
}

// Health 模板可列出且数据库（若启用）可连通时返回 200
func (h *HealthHandler) Health(c *gin.Context) {
	names, err := h.registry.Names()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "SERVICE_UNAVAILABLE", Message: err.Error()})
		return
	}
	data := gin.H{"templates": len(names), "database": "disabled"}
	if h.db != nil {
		if err := database.Health(h.db); err != nil {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "SERVICE_UNAVAILABLE", Message: err.Error()})
			return
		}
		data["database"] = "ok"
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "服务正常", Data: data})
}
