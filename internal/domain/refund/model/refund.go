package model

import (
	"encoding/json"
	"time"

	baseModel "refund_engine/pkg/model"

	"github.com/shopspring/decimal"
)

// Refund 退款请求聚合根
// 财务审计记录：只做状态流转，永不物理删除
type Refund struct {
	baseModel.BaseModel
	Reference       string          `gorm:"unique;not null" json:"reference"`
	SourceType      string          `gorm:"not null;index:idx_refunds_source" json:"sourceType"` // sale, order
	SourceID        string          `gorm:"type:uuid;not null;index:idx_refunds_source" json:"sourceId"`
	CustomerID      string          `gorm:"type:uuid;index" json:"customerId"`
	VendorID        *string         `gorm:"type:uuid;index" json:"vendorId,omitempty"` // nil 表示平台级
	Amount          decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"amount"`
	Method          string          `gorm:"not null" json:"method"`
	Reason          string          `gorm:"type:text" json:"reason"`
	Status          string          `gorm:"default:'pending';index" json:"status"`
	AdminNotes      string          `gorm:"type:text" json:"adminNotes,omitempty"`
	RejectionReason string          `gorm:"type:text" json:"rejectionReason,omitempty"`
	RequestedAt     time.Time       `json:"requestedAt"`
	ApprovedAt      *time.Time      `json:"approvedAt,omitempty"`
	ProcessedAt     *time.Time      `json:"processedAt,omitempty"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
	Items           []RefundItem    `gorm:"foreignKey:RefundID" json:"items,omitempty"`
}

// RefundItem 退款行项目（lump-sum/手工退款没有行项目）
// 不变量：有行项目时 sum(total_amount) == Refund.Amount
type RefundItem struct {
	baseModel.BaseModel
	RefundID    string          `gorm:"type:uuid;index;not null" json:"refundId"`
	ProductID   string          `gorm:"type:uuid;not null" json:"productId"`
	VariantID   *string         `gorm:"type:uuid" json:"variantId,omitempty"`
	Quantity    int             `gorm:"not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"unitPrice"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"totalAmount"`
	Status      string          `gorm:"default:'pending'" json:"status"`
	QCStatus    string          `gorm:"default:'pending'" json:"qcStatus"` // 实物退货质检
}

// RefundTransaction 网关打款流水，一次尝试一行
// 仅追加：重试产生新行，已完结的行不再改写
type RefundTransaction struct {
	baseModel.BaseModel
	RefundID             string          `gorm:"type:uuid;index;not null" json:"refundId"`
	TransactionID        string          `gorm:"unique;not null" json:"transactionId"`
	Gateway              string          `gorm:"not null" json:"gateway"`
	Status               string          `gorm:"default:'pending'" json:"status"`
	Amount               decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"amount"`
	GatewayTransactionID string          `json:"gatewayTransactionId,omitempty"` // 原支付在网关侧的标识
	GatewayRefundID      string          `json:"gatewayRefundId,omitempty"`
	GatewayResponse      json.RawMessage `gorm:"type:jsonb" json:"gatewayResponse,omitempty"` // 原始返回，仅审计
	FailureReason        string          `gorm:"type:text" json:"failureReason,omitempty"`
	ProofPath            string          `json:"proofPath,omitempty"` // 手工/银行转账凭证
	ProcessedAt          *time.Time      `json:"processedAt,omitempty"`
	CompletedAt          *time.Time      `json:"completedAt,omitempty"`
}

// 退款状态
const (
	StatusPending    = "pending"
	StatusApproved   = "approved"
	StatusRejected   = "rejected"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// 退款方式
const (
	MethodCreditNote   = "credit_note"
	MethodMoney        = "money"
	MethodBankTransfer = "bank_transfer"
	MethodManual       = "manual"
)

// 网关标识
const (
	GatewayRazorpay     = "razorpay"
	GatewayStripe       = "stripe"
	GatewayPaytm        = "paytm"
	GatewayAlipay       = "alipay"
	GatewayWechat       = "wechat"
	GatewayManual       = "manual"
	GatewayBankTransfer = "bank_transfer"
)

// 流水状态
const (
	TxStatusPending    = "pending"
	TxStatusProcessing = "processing"
	TxStatusCompleted  = "completed"
	TxStatusFailed     = "failed"
	TxStatusCancelled  = "cancelled"
)

// 行项目状态
const (
	ItemStatusPending  = "pending"
	ItemStatusApproved = "approved"
	ItemStatusRejected = "rejected"
)

// 质检状态
const (
	QCStatusPending = "pending"
	QCStatusPassed  = "passed"
	QCStatusFailed  = "failed"
)

// IsValidMethod 校验退款方式
func IsValidMethod(m string) bool {
	switch m {
	case MethodCreditNote, MethodMoney, MethodBankTransfer, MethodManual:
		return true
	}
	return false
}

// IsTerminal 是否终态（failed 可通过显式 retry 离开，不算硬终态）
func IsTerminal(status string) bool {
	switch status {
	case StatusRejected, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}
