package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sshcollectorpro/fsmaudit/internal/templates"
	"github.com/sshcollectorpro/fsmaudit/pkg/logger"
	"github.com/sshcollectorpro/fsmaudit/pkg/textfsm"
)

// ParseHandler 模板解析接口
type ParseHandler struct {
	registry         *templates.Registry
	maxReevaluations int
}

// NewParseHandler 创建解析处理器
func NewParseHandler(registry *templates.Registry, maxReevaluations int) *ParseHandler {
	return &ParseHandler{registry: registry, maxReevaluations: maxReevaluations}
}

// ParseRequest 解析请求：Template 为模板源文本，TemplateName 为内置或目录模板名，二选一
type ParseRequest struct {
	Template         string `json:"template"`
	TemplateName     string `json:"template_name"`
	Text             string `json:"text"`
	MaxReevaluations int    `json:"max_reevaluations"`
}

// ParseResult 解析结果
type ParseResult struct {
	Header  []string                 `json:"header"`
	Records []map[string]interface{} `json:"records"`
}

// ListTemplates 列出可用模板
func (h *ParseHandler) ListTemplates(c *gin.Context) {
	names, err := h.registry.Names()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "TEMPLATE_LIST_FAILED", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "ok", Data: names})
}

// Parse 使用模板解析文本。模板错误返回 400，运行期错误返回 422 并附带已产生的记录
func (h *ParseHandler) Parse(c *gin.Context) {
	var req ParseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: err.Error()})
		return
	}
	hasSource := strings.TrimSpace(req.Template) != ""
	hasName := strings.TrimSpace(req.TemplateName) != ""
	if hasSource == hasName {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: "exactly one of template or template_name is required"})
		return
	}

	var tmpl *textfsm.Template
	var err error
	if hasSource {
		tmpl, err = textfsm.ParseString(req.Template)
	} else {
		tmpl, err = h.registry.Get(req.TemplateName)
	}
	if err != nil {
		var se *textfsm.TemplateSyntaxError
		switch {
		case errors.As(err, &se):
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Code:    "TEMPLATE_SYNTAX",
				Message: se.Error(),
				Data:    gin.H{"line": se.Line, "reason": se.Msg},
			})
		case errors.Is(err, templates.ErrNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Code: "TEMPLATE_NOT_FOUND", Message: err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "TEMPLATE_LOAD_FAILED", Message: err.Error()})
		}
		return
	}

	limit := req.MaxReevaluations
	if limit <= 0 {
		limit = h.maxReevaluations
	}
	records, err := tmpl.ParseText(req.Text, textfsm.WithMaxReevaluations(limit))
	result := ParseResult{Header: tmpl.Header(), Records: make([]map[string]interface{}, 0, len(records))}
	for _, r := range records {
		result.Records = append(result.Records, r.Map())
	}
	if err != nil {
		logger.WithField("request_id", c.GetString("request_id")).Warnf("Parse aborted: %v", err)
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Code: "PARSE_FAILED", Message: err.Error(), Data: result})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "ok", Data: result})
}
