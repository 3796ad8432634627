package handler

import (
	"errors"
	"net/http"
	"time"

	catalogrepo "refund_engine/internal/domain/catalog/repository"
	"refund_engine/internal/domain/refund/repository"
	"refund_engine/internal/domain/refund/service"
	"refund_engine/internal/pkg/middleware"
	"refund_engine/internal/pkg/uploader"
	"refund_engine/pkg/response"
	"refund_engine/pkg/utils"

	"github.com/gin-gonic/gin"
)

type RefundHandler struct {
	service service.RefundService
	stats   service.StatisticsService
}

func NewRefundHandler(s service.RefundService, stats service.StatisticsService) *RefundHandler {
	return &RefundHandler{service: s, stats: stats}
}

// Create 创建退款请求
// @Summary 创建退款请求
// @Tags Refund
// @Accept json
// @Produce json
// @Param input body service.CreateInput true "Refund request"
// @Success 201 {object} response.Response{data=model.Refund}
// @Router /refunds [post]
func (h *RefundHandler) Create(c *gin.Context) {
	var input service.CreateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	refund, err := h.service.Create(middleware.GetScope(c), input)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Created(c, refund)
}

// List 退款列表
// @Summary 退款列表
// @Tags Refund
// @Produce json
// @Param status query string false "Status filter"
// @Param method query string false "Method filter"
// @Param sourceType query string false "Source type filter"
// @Param sourceId query string false "Source ID filter"
// @Param page query int false "Page"
// @Param limit query int false "Limit"
// @Success 200 {object} response.Response{data=utils.PageResult}
// @Router /refunds [get]
func (h *RefundHandler) List(c *gin.Context) {
	var p utils.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	filter := repository.ListFilter{
		Status:     c.Query("status"),
		Method:     c.Query("method"),
		SourceType: c.Query("sourceType"),
		SourceID:   c.Query("sourceId"),
	}
	refunds, total, err := h.service.List(middleware.GetScope(c), filter, &p)
	if err != nil {
		h.handleError(c, err)
		return
	}

	response.Success(c, utils.PageResult{List: refunds, Total: total, Page: p.Page, Limit: p.Limit})
}

// Get 退款详情（管理端/商家附带网关流水）
// @Summary 退款详情
// @Tags Refund
// @Produce json
// @Param id path string true "Refund ID"
// @Success 200 {object} response.Response{data=service.RefundDetail}
// @Router /refunds/{id} [get]
func (h *RefundHandler) Get(c *gin.Context) {
	detail, err := h.service.Get(middleware.GetScope(c), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Success(c, detail)
}

// GetEligibility 查询来源单剩余可退额度
// @Summary 查询退款资格
// @Tags Refund
// @Produce json
// @Param sourceType query string true "sale or order"
// @Param sourceId query string true "Source ID"
// @Success 200 {object} response.Response{data=service.Eligibility}
// @Router /refunds/eligibility [get]
func (h *RefundHandler) GetEligibility(c *gin.Context) {
	elig, err := h.service.GetEligibility(middleware.GetScope(c), c.Query("sourceType"), c.Query("sourceId"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Success(c, elig)
}

type ApproveInput struct {
	Notes string `json:"notes"`
}

// Approve 审批通过
// @Summary 审批退款
// @Tags Refund
// @Accept json
// @Produce json
// @Param id path string true "Refund ID"
// @Param input body ApproveInput false "Notes"
// @Success 200 {object} response.Response{data=model.Refund}
// @Router /refunds/{id}/approve [post]
func (h *RefundHandler) Approve(c *gin.Context) {
	var input ApproveInput
	_ = c.ShouldBindJSON(&input)

	refund, err := h.service.Approve(middleware.GetScope(c), c.Param("id"), input.Notes)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Success(c, refund)
}

type RejectInput struct {
	Reason string `json:"reason" binding:"required"`
	Notes  string `json:"notes"`
}

// Reject 驳回退款
// @Summary 驳回退款
// @Tags Refund
// @Accept json
// @Produce json
// @Param id path string true "Refund ID"
// @Param input body RejectInput true "Reason"
// @Success 200 {object} response.Response{data=model.Refund}
// @Router /refunds/{id}/reject [post]
func (h *RefundHandler) Reject(c *gin.Context) {
	var input RejectInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	refund, err := h.service.Reject(middleware.GetScope(c), c.Param("id"), input.Reason, input.Notes)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Success(c, refund)
}

// Cancel 客户撤回待审请求
// @Summary 撤回退款请求
// @Tags Refund
// @Produce json
// @Param id path string true "Refund ID"
// @Success 200 {object} response.Response{data=model.Refund}
// @Router /refunds/{id}/cancel [post]
func (h *RefundHandler) Cancel(c *gin.Context) {
	refund, err := h.service.Cancel(middleware.GetScope(c), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Success(c, refund)
}

// Process 发起打款
// @Summary 发起退款打款
// @Tags Refund
// @Produce json
// @Param id path string true "Refund ID"
// @Success 200 {object} response.Response{data=model.Refund}
// @Router /refunds/{id}/process [post]
func (h *RefundHandler) Process(c *gin.Context) {
	refund, err := h.service.Process(c.Request.Context(), middleware.GetScope(c), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Success(c, refund)
}

// Retry 重试失败的打款
// @Summary 重试退款打款
// @Tags Refund
// @Produce json
// @Param id path string true "Refund ID"
// @Success 200 {object} response.Response{data=model.Refund}
// @Router /refunds/{id}/retry [post]
func (h *RefundHandler) Retry(c *gin.Context) {
	refund, err := h.service.Retry(c.Request.Context(), middleware.GetScope(c), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Success(c, refund)
}

// AttachProof 上传转账凭证并完成手工/银行转账退款
// @Summary 上传退款凭证
// @Tags Refund
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Refund ID"
// @Param proof formData file true "Transfer proof"
// @Success 200 {object} response.Response{data=model.Refund}
// @Router /refunds/{id}/proof [post]
func (h *RefundHandler) AttachProof(c *gin.Context) {
	if uploader.GlobalUploader == nil {
		response.Error(c, http.StatusServiceUnavailable, response.ErrServerInternal, "proof uploads are not configured")
		return
	}

	file, err := c.FormFile("proof")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "proof file is required")
		return
	}

	sc := middleware.GetScope(c)
	detail, err := h.service.Get(sc, c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	proofPath, err := uploader.GlobalUploader.UploadProof(file, detail.Refund.Reference)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
		return
	}

	refund, err := h.service.CompleteWithProof(sc, c.Param("id"), proofPath)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Success(c, refund)
}

type ItemQCInput struct {
	QCStatus string `json:"qcStatus" binding:"required"`
}

// SetItemQC 标记退货质检结果
// @Summary 标记退货质检结果
// @Tags Refund
// @Accept json
// @Produce json
// @Param id path string true "Refund ID"
// @Param itemId path string true "Refund item ID"
// @Param input body ItemQCInput true "QC status: passed or failed"
// @Success 200 {object} response.Response
// @Router /refunds/{id}/items/{itemId}/qc [patch]
func (h *RefundHandler) SetItemQC(c *gin.Context) {
	var input ItemQCInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	if err := h.service.SetItemQC(middleware.GetScope(c), c.Param("id"), c.Param("itemId"), input.QCStatus); err != nil {
		h.handleError(c, err)
		return
	}
	response.Success(c, nil)
}

// Statistics 退款统计
// @Summary 退款统计
// @Tags Refund
// @Produce json
// @Param from query string false "From date (YYYY-MM-DD), default 30 days ago"
// @Param to query string false "To date exclusive (YYYY-MM-DD), default tomorrow"
// @Success 200 {object} response.Response{data=repository.Statistics}
// @Router /refunds/statistics [get]
func (h *RefundHandler) Statistics(c *gin.Context) {
	from, to, err := parseStatsRange(c.Query("from"), c.Query("to"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	stats, err := h.stats.Statistics(c.Request.Context(), middleware.GetScope(c), from, to)
	if err != nil {
		h.handleError(c, err)
		return
	}
	response.Success(c, stats)
}

// PingGateway 网关连通性检查
// @Summary 网关连通性检查
// @Tags Refund
// @Produce json
// @Param name path string true "Gateway name"
// @Success 200 {object} response.Response
// @Router /refunds/gateways/{name}/ping [get]
func (h *RefundHandler) PingGateway(c *gin.Context) {
	if err := h.service.TestGateway(c.Request.Context(), c.Param("name")); err != nil {
		if errors.Is(err, service.ErrUnknownGateway) {
			response.Fail(c, response.ErrUnknownGateway, err.Error())
			return
		}
		response.Fail(c, response.ErrGateway, err.Error())
		return
	}
	response.Success(c, gin.H{"status": "ok"})
}

func parseStatsRange(fromStr, toStr string) (time.Time, time.Time, error) {
	now := time.Now()
	from := now.AddDate(0, 0, -30)
	to := now.AddDate(0, 0, 1)

	var err error
	if fromStr != "" {
		if from, err = time.Parse("2006-01-02", fromStr); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if toStr != "" {
		if to, err = time.Parse("2006-01-02", toStr); err != nil {
			return time.Time{}, time.Time{}, err
		}
		// to 为闭区间日期，查询按半开区间处理
		to = to.AddDate(0, 0, 1)
	}
	return from, to, nil
}

// handleError 业务错误到响应码的统一映射
func (h *RefundHandler) handleError(c *gin.Context, err error) {
	var ineligible *service.IneligibleAmountError
	var invalidState *service.InvalidStateError
	var gatewayErr *service.GatewayError

	switch {
	case errors.Is(err, service.ErrRefundNotFound):
		response.Error(c, http.StatusNotFound, response.ErrRefundNotFound, "refund not found")
	case errors.Is(err, service.ErrSourceNotFound):
		response.Error(c, http.StatusNotFound, response.ErrSourceNotFound, "source transaction not found")
	case errors.Is(err, catalogrepo.ErrProductNotFound), errors.Is(err, catalogrepo.ErrVariantNotFound):
		response.Fail(c, response.ErrProductNotFound, err.Error())
	case errors.As(err, &ineligible):
		// 返回剩余额度，调用方可调整金额重试
		response.FailWithData(c, response.ErrIneligibleAmount, err.Error(), gin.H{
			"requested": ineligible.Requested,
			"remaining": ineligible.Remaining,
		})
	case errors.As(err, &invalidState):
		response.Fail(c, response.ErrInvalidState, err.Error())
	case errors.Is(err, service.ErrQCNotPassed):
		response.Fail(c, response.ErrQCPending, err.Error())
	case errors.Is(err, service.ErrItemMismatch):
		response.Fail(c, response.ErrItemMismatch, err.Error())
	case errors.Is(err, service.ErrUnknownGateway):
		response.Fail(c, response.ErrUnknownGateway, err.Error())
	case errors.As(err, &gatewayErr):
		// 打款失败不是请求错误：退款已置 failed，返回流水可查的业务码
		response.Fail(c, response.ErrGateway, err.Error())
	case errors.Is(err, service.ErrValidation):
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
	}
}
