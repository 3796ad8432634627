package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"refund_engine/internal/pkg/config"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/balance"
	"github.com/stripe/stripe-go/v83/refund"
)

// StripeGateway Stripe 退款适配器
// 按原支付的 PaymentIntent 发起退款，金额单位是最小货币单位
type StripeGateway struct{}

func NewStripeGateway() (*StripeGateway, error) {
	cfg := config.GlobalConfig.Stripe
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe config missing")
	}
	stripe.Key = cfg.SecretKey
	return &StripeGateway{}, nil
}

func (g *StripeGateway) Name() string {
	return "stripe"
}

func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentRef),
		Amount:        stripe.Int64(req.Amount.Shift(2).IntPart()),
		Reason:        stripe.String("requested_by_customer"),
	}
	params.Context = ctx
	// 幂等键用尝试编号，同一次尝试的重发不会重复打款
	params.SetIdempotencyKey(req.AttemptID)

	stripeRefund, err := refund.New(params)
	if err != nil {
		return nil, err
	}

	raw, _ := json.Marshal(stripeRefund)
	status := string(stripeRefund.Status)
	success := stripeRefund.Status == stripe.RefundStatusSucceeded ||
		stripeRefund.Status == stripe.RefundStatusPending

	result := &RefundResult{
		Success:         success,
		GatewayRefundID: stripeRefund.ID,
		Status:          status,
		RawResponse:     raw,
	}
	if !success {
		result.Message = fmt.Sprintf("stripe refund status: %s", status)
	}
	return result, nil
}

func (g *StripeGateway) TestConnection(ctx context.Context) error {
	params := &stripe.BalanceParams{}
	params.Context = ctx
	_, err := balance.Get(params)
	return err
}

var _ RefundGateway = (*StripeGateway)(nil)
