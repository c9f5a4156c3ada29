package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sshcollectorpro/fsmaudit/internal/audit"
	"github.com/sshcollectorpro/fsmaudit/internal/database"
	"github.com/sshcollectorpro/fsmaudit/internal/inventory"
	"github.com/sshcollectorpro/fsmaudit/internal/templates"
	"github.com/sshcollectorpro/fsmaudit/pkg/textfsm"
)

// AuditHandler 设备审计接口
type AuditHandler struct {
	registry         *templates.Registry
	options          audit.Options
	runOpts          []audit.RunnerOption
	store            *database.RunStore
	maxReevaluations int
}

// NewAuditHandler 创建审计处理器；options 中的凭据会被请求体覆盖，store 可为 nil
func NewAuditHandler(registry *templates.Registry, options audit.Options, maxReevaluations int, store *database.RunStore, runOpts ...audit.RunnerOption) *AuditHandler {
	return &AuditHandler{
		registry:         registry,
		options:          options,
		runOpts:          runOpts,
		store:            store,
		maxReevaluations: maxReevaluations,
	}
}

// AuditRequest 审计请求
type AuditRequest struct {
	Devices  []string `json:"devices" binding:"required,min=1"`
	Username string   `json:"username" binding:"required"`
	Password string   `json:"password"`
	Secret   string   `json:"secret"`
}

// Run 同步执行审计任务并返回结果
func (h *AuditHandler) Run(c *gin.Context) {
	var req AuditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: err.Error()})
		return
	}
	devices, err := inventory.Entries(req.Devices)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_DEVICES", Message: err.Error()})
		return
	}
	job, err := audit.NewJob(c.Param("job"), h.registry, textfsm.WithMaxReevaluations(h.maxReevaluations))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "UNKNOWN_JOB", Message: err.Error()})
		return
	}

	opts := h.options
	opts.Credentials = audit.Credentials{Username: req.Username, Password: req.Password, Secret: req.Secret}
	runOpts := h.runOpts
	if h.store != nil {
		runOpts = append(append([]audit.RunnerOption{}, runOpts...), audit.WithStore(h.store))
	}

	res, err := audit.NewRunner(opts, runOpts...).Run(c.Request.Context(), job, devices)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "AUDIT_ABORTED", Message: err.Error(), Data: res})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "ok", Data: res})
}

// ListRuns 最近的审计运行
func (h *AuditHandler) ListRuns(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "STORE_DISABLED", Message: "database is not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := h.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "QUERY_FAILED", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "ok", Data: runs})
}

// RunView 运行详情
type RunView struct {
	ID       string      `json:"id"`
	Job      string      `json:"job"`
	Header   []string    `json:"header"`
	Rows     [][]string  `json:"rows"`
	Failures interface{} `json:"failures"`
}

// GetRun 单次运行详情
func (h *AuditHandler) GetRun(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "STORE_DISABLED", Message: "database is not configured"})
		return
	}
	run, err := h.store.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, database.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "NOT_FOUND", Message: err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "QUERY_FAILED", Message: err.Error()})
		return
	}
	view := RunView{ID: run.ID, Job: run.Job, Header: run.HeaderColumns(), Rows: make([][]string, 0, len(run.Rows)), Failures: run.Failures}
	for i := range run.Rows {
		view.Rows = append(view.Rows, run.Rows[i].Values())
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "ok", Data: view})
}
