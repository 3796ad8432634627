package handler

import (
	"errors"
	"net/http"

	"refund_engine/internal/domain/creditnote/repository"
	"refund_engine/internal/domain/creditnote/service"
	"refund_engine/internal/pkg/middleware"
	"refund_engine/pkg/response"
	"refund_engine/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type CreditNoteHandler struct {
	service service.CreditNoteService
}

func NewCreditNoteHandler(s service.CreditNoteService) *CreditNoteHandler {
	return &CreditNoteHandler{service: s}
}

type ConsumeInput struct {
	// 金额用定点字符串传输，decimal 负责解析
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

// Consume 核销信用凭证
// @Summary 核销信用凭证（结账系统调用）
// @Tags CreditNote
// @Accept json
// @Produce json
// @Param id path string true "Credit Note ID"
// @Param input body ConsumeInput true "Amount"
// @Success 200 {object} response.Response{data=service.ConsumeResult}
// @Router /credit-notes/{id}/consume [post]
func (h *CreditNoteHandler) Consume(c *gin.Context) {
	var input ConsumeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	result, err := h.service.Consume(nil, c.Param("id"), input.Amount)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoteNotFound):
			response.Error(c, http.StatusNotFound, response.ErrNoteNotFound, "credit note not found")
		case errors.Is(err, service.ErrInsufficientCredit):
			response.Fail(c, response.ErrInsufficientCredit, "insufficient credit")
		case errors.Is(err, service.ErrNoteExpired):
			response.Fail(c, response.ErrNoteExpired, "credit note expired")
		case errors.Is(err, service.ErrNoteInactive):
			response.Fail(c, response.ErrNoteInactive, "credit note is not active")
		default:
			response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
		}
		return
	}

	response.Success(c, result)
}

// Get 查询单个凭证
// @Summary 查询信用凭证
// @Tags CreditNote
// @Produce json
// @Param id path string true "Credit Note ID"
// @Success 200 {object} response.Response
// @Router /credit-notes/{id} [get]
func (h *CreditNoteHandler) Get(c *gin.Context) {
	note, err := h.service.Get(middleware.GetScope(c), c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusNotFound, response.ErrNoteNotFound, "credit note not found")
		return
	}
	response.Success(c, note)
}

// List 凭证列表
// @Summary 信用凭证列表
// @Tags CreditNote
// @Produce json
// @Param status query string false "Status filter"
// @Param page query int false "Page"
// @Param limit query int false "Limit"
// @Success 200 {object} response.Response{data=utils.PageResult}
// @Router /credit-notes [get]
func (h *CreditNoteHandler) List(c *gin.Context) {
	var p utils.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	filter := repository.ListFilter{Status: c.Query("status")}
	notes, total, err := h.service.List(middleware.GetScope(c), filter, &p)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
		return
	}

	response.Success(c, utils.PageResult{List: notes, Total: total, Page: p.Page, Limit: p.Limit})
}
