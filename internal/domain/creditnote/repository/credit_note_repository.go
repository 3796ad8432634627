package repository

import (
	"errors"
	"time"

	"refund_engine/internal/domain/creditnote/model"
	"refund_engine/pkg/utils"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrNoteNotFound       = errors.New("credit note not found")
	ErrInsufficientCredit = errors.New("insufficient credit")
)

// ListFilter 信用凭证查询条件
type ListFilter struct {
	CustomerID string
	VendorID   *string
	Status     string
}

type CreditNoteRepository interface {
	Create(tx *gorm.DB, note *model.CreditNote) error
	GetByID(id string) (*model.CreditNote, error)
	// GetByIDTx 事务内读取，核销后的回读必须走同一事务才能看到未提交的扣减
	GetByIDTx(tx *gorm.DB, id string) (*model.CreditNote, error)
	GetByRefundID(refundID string) (*model.CreditNote, error)
	List(filter ListFilter, p *utils.Pagination) ([]model.CreditNote, int64, error)
	// Consume 条件扣减：remaining_amount >= amount 且状态 active 且未过期才会命中
	// 返回 RowsAffected==0 时由上层判定具体失败原因
	Consume(tx *gorm.DB, id string, amount decimal.Decimal, now time.Time) (int64, error)
	MarkUsedIfDrained(tx *gorm.DB, id string) error
	ExpireBatch(now time.Time, limit int) (int64, error)
}

type creditNoteRepository struct {
	db *gorm.DB
}

func NewCreditNoteRepository(db *gorm.DB) CreditNoteRepository {
	return &creditNoteRepository{db: db}
}

func (r *creditNoteRepository) Create(tx *gorm.DB, note *model.CreditNote) error {
	return tx.Create(note).Error
}

func (r *creditNoteRepository) GetByID(id string) (*model.CreditNote, error) {
	return r.GetByIDTx(r.db, id)
}

func (r *creditNoteRepository) GetByIDTx(tx *gorm.DB, id string) (*model.CreditNote, error) {
	var note model.CreditNote
	if err := tx.Where("id = ?", id).First(&note).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoteNotFound
		}
		return nil, err
	}
	return &note, nil
}

func (r *creditNoteRepository) GetByRefundID(refundID string) (*model.CreditNote, error) {
	var note model.CreditNote
	if err := r.db.Where("refund_id = ?", refundID).First(&note).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoteNotFound
		}
		return nil, err
	}
	return &note, nil
}

func (r *creditNoteRepository) List(filter ListFilter, p *utils.Pagination) ([]model.CreditNote, int64, error) {
	query := r.db.Model(&model.CreditNote{})

	if filter.CustomerID != "" {
		query = query.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.VendorID != nil {
		query = query.Where("vendor_id = ?", *filter.VendorID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := p.GetPageOffset()
	var notes []model.CreditNote
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&notes).Error; err != nil {
		return nil, 0, err
	}

	return notes, total, nil
}

// Consume 单条 SQL 完成检查+扣减，避免读改写竞态下的双花
func (r *creditNoteRepository) Consume(tx *gorm.DB, id string, amount decimal.Decimal, now time.Time) (int64, error) {
	result := tx.Model(&model.CreditNote{}).
		Where("id = ? AND status = ? AND remaining_amount >= ?", id, model.NoteStatusActive, amount).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Updates(map[string]interface{}{
			"used_amount":      gorm.Expr("used_amount + ?", amount),
			"remaining_amount": gorm.Expr("remaining_amount - ?", amount),
		})

	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// MarkUsedIfDrained 余额归零时状态翻转为 used，幂等
func (r *creditNoteRepository) MarkUsedIfDrained(tx *gorm.DB, id string) error {
	return tx.Model(&model.CreditNote{}).
		Where("id = ? AND status = ? AND remaining_amount = 0", id, model.NoteStatusActive).
		UpdateColumn("status", model.NoteStatusUsed).Error
}

// ExpireBatch 过期巡检：active 且已过期的凭证批量翻转为 expired，可重复执行
func (r *creditNoteRepository) ExpireBatch(now time.Time, limit int) (int64, error) {
	result := r.db.Model(&model.CreditNote{}).
		Where("id IN (?)", r.db.Model(&model.CreditNote{}).
			Select("id").
			Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", model.NoteStatusActive, now).
			Limit(limit)).
		UpdateColumn("status", model.NoteStatusExpired)

	return result.RowsAffected, result.Error
}
