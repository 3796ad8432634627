package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"refund_engine/internal/pkg/config"

	"github.com/smartwalle/alipay/v3"
)

// AlipayGateway 支付宝退款适配器
// 按原支付的 out_trade_no 发起退款，out_request_no 用尝试编号保证幂等
type AlipayGateway struct {
	client *alipay.Client
}

func NewAlipayGateway() (*AlipayGateway, error) {
	cfg := config.GlobalConfig.Alipay
	if cfg.AppID == "" {
		return nil, errors.New("alipay config missing")
	}

	client, err := alipay.New(cfg.AppID, cfg.PrivateKey, cfg.IsProduction)
	if err != nil {
		return nil, err
	}

	// 加载支付宝公钥 (用于验证签名)
	if err = client.LoadAliPayPublicKey(cfg.PublicKey); err != nil {
		return nil, err
	}

	return &AlipayGateway{client: client}, nil
}

func (g *AlipayGateway) Name() string {
	return "alipay"
}

func (g *AlipayGateway) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	p := alipay.TradeRefund{
		OutTradeNo:   req.PaymentRef,
		RefundAmount: req.Amount.StringFixed(2),
		RefundReason: req.Reason,
		OutRequestNo: req.AttemptID,
	}

	rsp, err := g.client.TradeRefund(ctx, p)
	if err != nil {
		return nil, err
	}

	raw, _ := json.Marshal(rsp)
	success := rsp.IsSuccess()

	result := &RefundResult{
		Success:         success,
		GatewayRefundID: rsp.TradeNo,
		Status:          string(rsp.Code),
		RawResponse:     raw,
	}
	if !success {
		result.Message = fmt.Sprintf("alipay refund failed: %s %s", rsp.Code, rsp.Msg)
	}
	return result, nil
}

func (g *AlipayGateway) TestConnection(ctx context.Context) error {
	// 用一笔不存在的单号查询，能走通签名与网络即视为连通
	_, err := g.client.TradeQuery(ctx, alipay.TradeQuery{OutTradeNo: "connectivity-check"})
	if err != nil {
		return err
	}
	return nil
}

var _ RefundGateway = (*AlipayGateway)(nil)
