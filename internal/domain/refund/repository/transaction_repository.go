package repository

import (
	"encoding/json"
	"time"

	"refund_engine/internal/domain/refund/model"

	"gorm.io/gorm"
)

// TransactionRepository 网关流水记录器
// 一次打款尝试插入一行；行只在尝试出结果时补写一次终态字段，
// 重试永远新开一行，保证"这笔钱试着动过几次、每次发生了什么"可查
type TransactionRepository interface {
	CreateAttempt(tx *gorm.DB, attempt *model.RefundTransaction) error
	// ResolveAttempt 补写终态，只允许从 pending/processing 补写一次
	ResolveAttempt(tx *gorm.DB, attemptID string, updates AttemptResolution) error
	// LatestOpenAttempt 最近一条未完结的流水（手工/银行转账补凭证时定位）
	LatestOpenAttempt(tx *gorm.DB, refundID string) (*model.RefundTransaction, error)
	ListByRefund(refundID string) ([]model.RefundTransaction, error)
	CountByRefund(refundID string) (int64, error)
}

// AttemptResolution 一次尝试的终态
type AttemptResolution struct {
	Status          string
	GatewayRefundID string
	GatewayResponse json.RawMessage
	FailureReason   string
	ProofPath       string
	CompletedAt     *time.Time
}

type transactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) CreateAttempt(tx *gorm.DB, attempt *model.RefundTransaction) error {
	return tx.Create(attempt).Error
}

func (r *transactionRepository) ResolveAttempt(tx *gorm.DB, attemptID string, res AttemptResolution) error {
	updates := map[string]interface{}{
		"status": res.Status,
	}
	if res.GatewayRefundID != "" {
		updates["gateway_refund_id"] = res.GatewayRefundID
	}
	if res.GatewayResponse != nil {
		updates["gateway_response"] = res.GatewayResponse
	}
	if res.FailureReason != "" {
		updates["failure_reason"] = res.FailureReason
	}
	if res.ProofPath != "" {
		updates["proof_path"] = res.ProofPath
	}
	if res.CompletedAt != nil {
		updates["completed_at"] = res.CompletedAt
	}

	// 已完结的行不允许再改写
	return tx.Model(&model.RefundTransaction{}).
		Where("id = ? AND status IN ?", attemptID, []string{model.TxStatusPending, model.TxStatusProcessing}).
		Updates(updates).Error
}

func (r *transactionRepository) LatestOpenAttempt(tx *gorm.DB, refundID string) (*model.RefundTransaction, error) {
	var attempt model.RefundTransaction
	err := tx.Where("refund_id = ? AND status IN ?", refundID, []string{model.TxStatusPending, model.TxStatusProcessing}).
		Order("created_at DESC").First(&attempt).Error
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *transactionRepository) ListByRefund(refundID string) ([]model.RefundTransaction, error) {
	var attempts []model.RefundTransaction
	if err := r.db.Where("refund_id = ?", refundID).
		Order("created_at ASC").Find(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}

func (r *transactionRepository) CountByRefund(refundID string) (int64, error) {
	var count int64
	err := r.db.Model(&model.RefundTransaction{}).
		Where("refund_id = ?", refundID).Count(&count).Error
	return count, err
}
