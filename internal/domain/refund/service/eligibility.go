package service

import "github.com/shopspring/decimal"

// Eligibility 一张来源单当前还能退多少
// 占用口径：除 rejected/cancelled 外的所有退款都计入，pending 也占额度，
// 防止同一张单被并发请求超退
type Eligibility struct {
	SourceType    string          `json:"sourceType"`
	SourceID      string          `json:"sourceId"`
	MaxRefundable decimal.Decimal `json:"maxRefundable"`
	TotalRefunded decimal.Decimal `json:"totalRefunded"`
	Remaining     decimal.Decimal `json:"remaining"`
	IsEligible    bool            `json:"isEligible"`
}

func computeEligibility(sourceType, sourceID string, total, occupied decimal.Decimal) *Eligibility {
	remaining := total.Sub(occupied)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return &Eligibility{
		SourceType:    sourceType,
		SourceID:      sourceID,
		MaxRefundable: total,
		TotalRefunded: occupied,
		Remaining:     remaining,
		IsEligible:    remaining.IsPositive(),
	}
}
