package model

import (
	"time"

	baseModel "refund_engine/pkg/model"

	"github.com/shopspring/decimal"
)

// CreditNote 信用凭证（门店代金）
// 守恒不变量：used_amount + remaining_amount == amount，remaining_amount 永不为负
type CreditNote struct {
	baseModel.BaseModel
	CreditNoteNumber string          `gorm:"unique;not null" json:"creditNoteNumber"`
	CustomerID       string          `gorm:"type:uuid;index;not null" json:"customerId"`
	VendorID         *string         `gorm:"type:uuid;index" json:"vendorId,omitempty"`
	RefundID         *string         `gorm:"type:uuid;index" json:"refundId,omitempty"`
	SourceID         string          `gorm:"type:uuid" json:"sourceId"`
	Amount           decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"amount"`
	UsedAmount       decimal.Decimal `gorm:"type:decimal(15,2);default:0" json:"usedAmount"`
	RemainingAmount  decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"remainingAmount"`
	Status           string          `gorm:"default:'active';index" json:"status"`
	IssuedAt         time.Time       `json:"issuedAt"`
	ExpiresAt        *time.Time      `gorm:"index" json:"expiresAt,omitempty"`
}

const (
	NoteStatusActive    = "active"
	NoteStatusUsed      = "used"
	NoteStatusExpired   = "expired"
	NoteStatusCancelled = "cancelled"
)
