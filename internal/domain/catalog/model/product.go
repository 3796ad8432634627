package model

import (
	baseModel "refund_engine/pkg/model"
)

// Product 商品（目录系统拥有，本系统只做存在性校验）
type Product struct {
	baseModel.BaseModel
	Name     string  `json:"name"`
	VendorID *string `gorm:"type:uuid;index" json:"vendorId,omitempty"`
	Active   bool    `gorm:"default:true" json:"active"`
}

// Variant 商品变体
type Variant struct {
	baseModel.BaseModel
	ProductID string `gorm:"type:uuid;index;not null" json:"productId"`
	SKU       string `json:"sku"`
	Active    bool   `gorm:"default:true" json:"active"`
}
