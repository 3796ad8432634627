package repository

import (
	"errors"
	"time"

	"refund_engine/internal/domain/refund/model"
	"refund_engine/pkg/utils"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrRefundNotFound = errors.New("refund not found")

// ListFilter 退款列表查询条件
type ListFilter struct {
	Status     string
	Method     string
	SourceType string
	SourceID   string
	CustomerID string
	VendorID   *string
	From       *time.Time
	To         *time.Time
}

type RefundRepository interface {
	Create(refund *model.Refund) error
	GetByID(id string) (*model.Refund, error)
	GetByIDTx(tx *gorm.DB, id string) (*model.Refund, error)
	List(filter ListFilter, p *utils.Pagination) ([]model.Refund, int64, error)
	UpdateStatus(tx *gorm.DB, id string, updates map[string]interface{}) error
	UpdateItemQC(refundID, itemID, qcStatus string) (int64, error)
	// UpdateItemStatuses 审批/驳回时批量翻转行项目状态
	UpdateItemStatuses(tx *gorm.DB, refundID, status string) error
	// SumActive 占用口径：status NOT IN (rejected, cancelled)
	// 资格查询与创建校验用，pending 也计入占用
	SumActive(db *gorm.DB, sourceType, sourceID string) (decimal.Decimal, error)
	// SumCommitted 承诺口径：status NOT IN (pending, rejected, cancelled)
	// 审批/打款复核用，排除待审请求，排除候选退款自身
	SumCommitted(tx *gorm.DB, sourceType, sourceID, excludeRefundID string) (decimal.Decimal, error)
}

type refundRepository struct {
	db *gorm.DB
}

func NewRefundRepository(db *gorm.DB) RefundRepository {
	return &refundRepository{db: db}
}

func (r *refundRepository) Create(refund *model.Refund) error {
	return r.db.Create(refund).Error
}

func (r *refundRepository) GetByID(id string) (*model.Refund, error) {
	return r.GetByIDTx(r.db, id)
}

func (r *refundRepository) GetByIDTx(tx *gorm.DB, id string) (*model.Refund, error) {
	var refund model.Refund
	if err := tx.Preload("Items").Where("id = ?", id).First(&refund).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRefundNotFound
		}
		return nil, err
	}
	return &refund, nil
}

func (r *refundRepository) List(filter ListFilter, p *utils.Pagination) ([]model.Refund, int64, error) {
	query := r.db.Model(&model.Refund{})

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Method != "" {
		query = query.Where("method = ?", filter.Method)
	}
	if filter.SourceType != "" {
		query = query.Where("source_type = ?", filter.SourceType)
	}
	if filter.SourceID != "" {
		query = query.Where("source_id = ?", filter.SourceID)
	}
	if filter.CustomerID != "" {
		query = query.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.VendorID != nil {
		query = query.Where("vendor_id = ?", *filter.VendorID)
	}
	if filter.From != nil {
		query = query.Where("requested_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("requested_at < ?", *filter.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := p.GetPageOffset()
	var refunds []model.Refund
	if err := query.Preload("Items").Order("requested_at DESC").
		Offset(offset).Limit(limit).Find(&refunds).Error; err != nil {
		return nil, 0, err
	}

	return refunds, total, nil
}

func (r *refundRepository) UpdateStatus(tx *gorm.DB, id string, updates map[string]interface{}) error {
	return tx.Model(&model.Refund{}).Where("id = ?", id).Updates(updates).Error
}

func (r *refundRepository) UpdateItemQC(refundID, itemID, qcStatus string) (int64, error) {
	result := r.db.Model(&model.RefundItem{}).
		Where("id = ? AND refund_id = ?", itemID, refundID).
		UpdateColumn("qc_status", qcStatus)
	return result.RowsAffected, result.Error
}

func (r *refundRepository) UpdateItemStatuses(tx *gorm.DB, refundID, status string) error {
	return tx.Model(&model.RefundItem{}).
		Where("refund_id = ?", refundID).
		UpdateColumn("status", status).Error
}

func (r *refundRepository) SumActive(db *gorm.DB, sourceType, sourceID string) (decimal.Decimal, error) {
	return r.sum(db, sourceType, sourceID, []string{model.StatusRejected, model.StatusCancelled}, "")
}

func (r *refundRepository) SumCommitted(tx *gorm.DB, sourceType, sourceID, excludeRefundID string) (decimal.Decimal, error) {
	excluded := []string{model.StatusPending, model.StatusRejected, model.StatusCancelled}
	return r.sum(tx, sourceType, sourceID, excluded, excludeRefundID)
}

func (r *refundRepository) sum(db *gorm.DB, sourceType, sourceID string, excludedStatuses []string, excludeRefundID string) (decimal.Decimal, error) {
	var result struct {
		Total decimal.Decimal
	}

	query := db.Model(&model.Refund{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("source_type = ? AND source_id = ?", sourceType, sourceID).
		Where("status NOT IN ?", excludedStatuses)

	if excludeRefundID != "" {
		query = query.Where("id <> ?", excludeRefundID)
	}

	if err := query.Scan(&result).Error; err != nil {
		return decimal.Zero, err
	}
	return result.Total, nil
}
