package service

import (
	"errors"
	"fmt"

	"refund_engine/internal/domain/refund/repository"

	"github.com/shopspring/decimal"
)

var (
	ErrRefundNotFound = repository.ErrRefundNotFound
	ErrSourceNotFound = errors.New("source transaction not found")
	ErrQCNotPassed    = errors.New("refund items have not all passed quality control")
	ErrUnknownGateway = errors.New("no gateway adapter registered for this payment gateway")
	ErrValidation     = errors.New("invalid refund request")
	ErrItemMismatch   = errors.New("refund item totals do not match refund amount")
)

// IneligibleAmountError 请求/审批金额超出剩余可退额度
// 带上计算出的剩余额度，调用方可据此调整
type IneligibleAmountError struct {
	Requested decimal.Decimal
	Remaining decimal.Decimal
}

func (e *IneligibleAmountError) Error() string {
	return fmt.Sprintf("requested %s exceeds remaining refundable %s",
		e.Requested.StringFixed(2), e.Remaining.StringFixed(2))
}

// InvalidStateError 当前状态不允许该操作
type InvalidStateError struct {
	Current string
	Event   string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s refund in status %s", e.Event, e.Current)
}

// GatewayError 网关调用失败，可重试
// 原始返回已落在流水上，这里只带摘要
type GatewayError struct {
	Gateway string
	Reason  string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s refund failed: %s", e.Gateway, e.Reason)
}
