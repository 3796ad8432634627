package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"refund_engine/internal/pkg/config"

	razorpay "github.com/razorpay/razorpay-go"
)

// RazorpayGateway Razorpay 退款适配器
// Razorpay 的退款接口按原支付 payment id 发起，金额单位是 paise
type RazorpayGateway struct {
	client *razorpay.Client
}

func NewRazorpayGateway() (*RazorpayGateway, error) {
	cfg := config.GlobalConfig.Razorpay
	if cfg.KeyID == "" {
		return nil, errors.New("razorpay config missing")
	}

	return &RazorpayGateway{
		client: razorpay.NewClient(cfg.KeyID, cfg.KeySecret),
	}, nil
}

func (g *RazorpayGateway) Name() string {
	return "razorpay"
}

func (g *RazorpayGateway) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	// 转换为 paise
	amountPaise := int(req.Amount.Shift(2).IntPart())

	data := map[string]interface{}{
		"speed": "normal",
		"notes": map[string]interface{}{
			"reason":  req.Reason,
			"attempt": req.AttemptID,
		},
		// receipt 作为幂等参考号
		"receipt": req.AttemptID,
	}

	// razorpay-go 不接受 context，超时控制在 select 外层兜底
	type refundOutcome struct {
		body map[string]interface{}
		err  error
	}
	done := make(chan refundOutcome, 1)
	go func() {
		body, err := g.client.Payment.Refund(req.PaymentRef, amountPaise, data, nil)
		done <- refundOutcome{body: body, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case outcome := <-done:
		if outcome.err != nil {
			return nil, outcome.err
		}

		raw, _ := json.Marshal(outcome.body)
		status, _ := outcome.body["status"].(string)
		refundID, _ := outcome.body["id"].(string)

		// pending/processed 都表示网关已受理
		success := status == "processed" || status == "pending"
		result := &RefundResult{
			Success:         success,
			GatewayRefundID: refundID,
			Status:          status,
			RawResponse:     raw,
		}
		if !success {
			result.Message = fmt.Sprintf("razorpay refund status: %s", status)
		}
		return result, nil
	}
}

func (g *RazorpayGateway) TestConnection(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		_, err := g.client.Payment.All(map[string]interface{}{"count": 1}, nil)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

var _ RefundGateway = (*RazorpayGateway)(nil)
