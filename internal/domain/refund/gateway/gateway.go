package gateway

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// RefundRequest 一次打款尝试的入参
type RefundRequest struct {
	AttemptID  string          // 本次尝试的唯一编号，同时作为网关侧幂等键
	PaymentRef string          // 原支付在网关侧的标识（payment id / out trade no）
	Amount     decimal.Decimal // 主币种定点金额
	Original   decimal.Decimal // 原单总额，部分网关（微信）退款接口要求
	Currency   string
	Reason     string
}

// RefundResult 网关返回的类型化结果
// RawResponse 保留原始返回做审计，状态机只依赖类型化字段，
// 绝不在业务逻辑里解析 RawResponse 的结构
type RefundResult struct {
	Success         bool
	GatewayRefundID string
	Status          string
	RawResponse     json.RawMessage
	Message         string
}

// RefundGateway 支付网关退款适配器
// 适配器只执行转账并如实上报结果，不做业务资格判断
type RefundGateway interface {
	// Name 网关标识（razorpay, stripe, alipay, wechat ...）
	Name() string

	// Refund 对一笔已完成的支付发起退款
	// 网络错误/超时返回 error；网关明确拒绝时返回 Success=false 的结果
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)

	// TestConnection 连通性检查（管理后台用）
	TestConnection(ctx context.Context) error
}
