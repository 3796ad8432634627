package scope

import "refund_engine/pkg/utils"

// Scope 调用方上下文：谁在操作、以什么角色、限定在哪个商家
// 显式传入每个编排调用，避免全局单例式的商家隔离
type Scope struct {
	ActorID  string
	Role     int
	VendorID *string // 商家账号限定；平台管理员为 nil
}

// Admin 平台级管理员 scope（测试和内部任务使用）
func Admin(actorID string) Scope {
	return Scope{ActorID: actorID, Role: utils.RoleAdmin}
}

// IsAdmin 是否平台管理员
func (s Scope) IsAdmin() bool {
	return s.Role == utils.RoleAdmin
}

// IsVendor 是否商家账号
func (s Scope) IsVendor() bool {
	return s.Role == utils.RoleVendor && s.VendorID != nil
}

// CanAccessVendor 是否可访问指定商家的资源
// 平台管理员可访问所有；商家只能访问自己；客户不受商家维度限制
func (s Scope) CanAccessVendor(vendorID *string) bool {
	if !s.IsVendor() {
		return true
	}
	if vendorID == nil {
		return false
	}
	return *s.VendorID == *vendorID
}
