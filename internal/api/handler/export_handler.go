package handler

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"hsgrowth/backend/internal/dto"
	"hsgrowth/backend/pkg/response"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportExecutions 按筛选条件导出执行日志
// GET /api/v1/automation-executions/export?rule_id=&status=&from=&to=
func (h *ExecutionHandler) ExportExecutions(c *gin.Context) {
	var req dto.ExecutionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	accountID, ok := MustGetAccountID(c)
	if !ok {
		return
	}

	buf, filename, err := h.execSvc.Export(c.Request.Context(), accountID, &req)
	if err != nil {
		handleExecutionError(c, err)
		return
	}

	// 设置下载响应头
	encodedFilename := url.QueryEscape(filename)
	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+encodedFilename)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}
