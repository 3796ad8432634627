package model

import (
	"time"

	baseModel "refund_engine/pkg/model"

	"github.com/shopspring/decimal"
)

// 来源单类型
const (
	SourceTypeSale  = "sale"
	SourceTypeOrder = "order"
)

// 来源单退款状态
const (
	RefundStatusNone    = "none"
	RefundStatusPartial = "partial"
	RefundStatusFull    = "full"
)

// Sale POS 销售单（结账系统拥有，本系统只读 total/customer/vendor，写退款字段）
type Sale struct {
	baseModel.BaseModel
	Total          decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"total"`
	CustomerID     string          `gorm:"type:uuid;index" json:"customerId"`
	VendorID       *string         `gorm:"type:uuid;index" json:"vendorId,omitempty"`
	PaymentGateway string          `json:"paymentGateway"` // razorpay, stripe, alipay, wechat ...
	PaymentRef     string          `json:"paymentRef"`     // 网关侧的支付/订单标识
	RefundedAmount decimal.Decimal `gorm:"type:decimal(15,2);default:0" json:"refundedAmount"`
	RefundStatus   string          `gorm:"default:'none'" json:"refundStatus"`
	LastRefundAt   *time.Time      `json:"lastRefundAt,omitempty"`
}

// Order 在线订单，字段与 Sale 对齐
type Order struct {
	baseModel.BaseModel
	Total          decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"total"`
	CustomerID     string          `gorm:"type:uuid;index" json:"customerId"`
	VendorID       *string         `gorm:"type:uuid;index" json:"vendorId,omitempty"`
	PaymentGateway string          `json:"paymentGateway"`
	PaymentRef     string          `json:"paymentRef"`
	RefundedAmount decimal.Decimal `gorm:"type:decimal(15,2);default:0" json:"refundedAmount"`
	RefundStatus   string          `gorm:"default:'none'" json:"refundStatus"`
	LastRefundAt   *time.Time      `json:"lastRefundAt,omitempty"`
}

// SourceTransaction 销售单/订单的统一视图
// 多态抽象在这一层收口，编排器不做类型分支
type SourceTransaction struct {
	SourceType     string          `json:"sourceType"`
	ID             string          `json:"id"`
	Total          decimal.Decimal `json:"total"`
	CustomerID     string          `json:"customerId"`
	VendorID       *string         `json:"vendorId,omitempty"`
	PaymentGateway string          `json:"paymentGateway"`
	PaymentRef     string          `json:"paymentRef"`
	RefundedAmount decimal.Decimal `json:"refundedAmount"`
	RefundStatus   string          `json:"refundStatus"`
}

// FromSale 转换为统一视图
func FromSale(s *Sale) *SourceTransaction {
	return &SourceTransaction{
		SourceType:     SourceTypeSale,
		ID:             s.ID,
		Total:          s.Total,
		CustomerID:     s.CustomerID,
		VendorID:       s.VendorID,
		PaymentGateway: s.PaymentGateway,
		PaymentRef:     s.PaymentRef,
		RefundedAmount: s.RefundedAmount,
		RefundStatus:   s.RefundStatus,
	}
}

// FromOrder 转换为统一视图
func FromOrder(o *Order) *SourceTransaction {
	return &SourceTransaction{
		SourceType:     SourceTypeOrder,
		ID:             o.ID,
		Total:          o.Total,
		CustomerID:     o.CustomerID,
		VendorID:       o.VendorID,
		PaymentGateway: o.PaymentGateway,
		PaymentRef:     o.PaymentRef,
		RefundedAmount: o.RefundedAmount,
		RefundStatus:   o.RefundStatus,
	}
}

// IsValidSourceType 校验来源单类型
func IsValidSourceType(t string) bool {
	return t == SourceTypeSale || t == SourceTypeOrder
}
