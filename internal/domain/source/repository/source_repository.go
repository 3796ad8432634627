package repository

import (
	"errors"
	"time"

	"refund_engine/internal/domain/source/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrUnknownSourceType = errors.New("unknown source type")

// SourceRepository 来源单（销售单/订单）仓储
// Get 普通读；GetForUpdate 在审批/打款事务里对来源单行加 FOR UPDATE 锁，
// 两笔并发审批在这一行上串行化
type SourceRepository interface {
	Get(sourceType, id string) (*model.SourceTransaction, error)
	GetForUpdate(tx *gorm.DB, sourceType, id string) (*model.SourceTransaction, error)
	UpdateRefundState(tx *gorm.DB, sourceType, id string, refunded decimal.Decimal, refundStatus string, at time.Time) error
}

type sourceRepository struct {
	db *gorm.DB
}

func NewSourceRepository(db *gorm.DB) SourceRepository {
	return &sourceRepository{db: db}
}

func (r *sourceRepository) Get(sourceType, id string) (*model.SourceTransaction, error) {
	return r.load(r.db, sourceType, id, false)
}

func (r *sourceRepository) GetForUpdate(tx *gorm.DB, sourceType, id string) (*model.SourceTransaction, error) {
	return r.load(tx, sourceType, id, true)
}

func (r *sourceRepository) load(db *gorm.DB, sourceType, id string, lock bool) (*model.SourceTransaction, error) {
	if lock {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	switch sourceType {
	case model.SourceTypeSale:
		var sale model.Sale
		if err := db.Where("id = ?", id).First(&sale).Error; err != nil {
			return nil, err
		}
		return model.FromSale(&sale), nil
	case model.SourceTypeOrder:
		var order model.Order
		if err := db.Where("id = ?", id).First(&order).Error; err != nil {
			return nil, err
		}
		return model.FromOrder(&order), nil
	default:
		return nil, ErrUnknownSourceType
	}
}

func (r *sourceRepository) UpdateRefundState(tx *gorm.DB, sourceType, id string, refunded decimal.Decimal, refundStatus string, at time.Time) error {
	updates := map[string]interface{}{
		"refunded_amount": refunded,
		"refund_status":   refundStatus,
		"last_refund_at":  at,
	}

	switch sourceType {
	case model.SourceTypeSale:
		return tx.Model(&model.Sale{}).Where("id = ?", id).Updates(updates).Error
	case model.SourceTypeOrder:
		return tx.Model(&model.Order{}).Where("id = ?", id).Updates(updates).Error
	default:
		return ErrUnknownSourceType
	}
}
