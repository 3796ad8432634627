package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"refund_engine/internal/pkg/config"

	"github.com/wechatpay-apiv3/wechatpay-go/core"
	"github.com/wechatpay-apiv3/wechatpay-go/core/option"
	"github.com/wechatpay-apiv3/wechatpay-go/services/refunddomestic"
	"github.com/wechatpay-apiv3/wechatpay-go/utils"
)

// WechatGateway 微信支付退款适配器
// 按原支付的 out_trade_no 发起退款，out_refund_no 用尝试编号保证幂等
type WechatGateway struct {
	client *core.Client
	config config.WechatPayConfig
}

func NewWechatGateway() (*WechatGateway, error) {
	cfg := config.GlobalConfig.Wechat
	if cfg.MchID == "" {
		return nil, errors.New("wechat pay config missing")
	}

	// 1. 加载商户私钥
	mchPrivateKey, err := utils.LoadPrivateKey(cfg.MchPrivateKey)
	if err != nil {
		return nil, err
	}

	// 2. 初始化 Client
	opts := []core.ClientOption{
		option.WithWechatPayAutoAuthCipher(cfg.MchID, cfg.MchCertificateSerial, mchPrivateKey, cfg.APIv3Key),
	}

	client, err := core.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, err
	}

	return &WechatGateway{client: client, config: cfg}, nil
}

func (g *WechatGateway) Name() string {
	return "wechat"
}

func (g *WechatGateway) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	// 转换为分
	refundFen := req.Amount.Shift(2).IntPart()
	totalFen := req.Original.Shift(2).IntPart()

	svc := refunddomestic.RefundsApiService{Client: g.client}
	resp, _, err := svc.Create(ctx, refunddomestic.CreateRequest{
		OutTradeNo:  core.String(req.PaymentRef),
		OutRefundNo: core.String(req.AttemptID),
		Reason:      core.String(req.Reason),
		Amount: &refunddomestic.AmountReq{
			Refund:   core.Int64(refundFen),
			Total:    core.Int64(totalFen),
			Currency: core.String("CNY"),
		},
	})
	if err != nil {
		return nil, err
	}

	raw, _ := json.Marshal(resp)
	status := ""
	if resp.Status != nil {
		status = string(*resp.Status)
	}
	refundID := ""
	if resp.RefundId != nil {
		refundID = *resp.RefundId
	}

	success := resp.Status != nil &&
		(*resp.Status == refunddomestic.STATUS_SUCCESS || *resp.Status == refunddomestic.STATUS_PROCESSING)

	result := &RefundResult{
		Success:         success,
		GatewayRefundID: refundID,
		Status:          status,
		RawResponse:     raw,
	}
	if !success {
		result.Message = fmt.Sprintf("wechat refund status: %s", status)
	}
	return result, nil
}

func (g *WechatGateway) TestConnection(ctx context.Context) error {
	// 查询一笔不存在的退款单，请求能走通签名与网络即视为连通
	svc := refunddomestic.RefundsApiService{Client: g.client}
	_, result, err := svc.QueryByOutRefundNo(ctx, refunddomestic.QueryByOutRefundNoRequest{
		OutRefundNo: core.String("connectivity-check"),
	})
	if err != nil && result == nil {
		return err
	}
	return nil
}

var _ RefundGateway = (*WechatGateway)(nil)
