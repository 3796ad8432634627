package repository

import (
	"errors"

	"refund_engine/internal/domain/catalog/model"

	"gorm.io/gorm"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrVariantNotFound = errors.New("variant not found")
)

// ProductResolver 商品存在性校验，退款行项目创建时调用
type ProductResolver interface {
	ResolveProduct(productID string, variantID *string) error
}

type catalogRepository struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) ProductResolver {
	return &catalogRepository{db: db}
}

func (r *catalogRepository) ResolveProduct(productID string, variantID *string) error {
	var count int64
	if err := r.db.Model(&model.Product{}).Where("id = ?", productID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrProductNotFound
	}

	if variantID != nil {
		if err := r.db.Model(&model.Variant{}).
			Where("id = ? AND product_id = ?", *variantID, productID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrVariantNotFound
		}
	}

	return nil
}
