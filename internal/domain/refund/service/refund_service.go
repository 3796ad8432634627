package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	catalogrepo "refund_engine/internal/domain/catalog/repository"
	cnservice "refund_engine/internal/domain/creditnote/service"
	"refund_engine/internal/domain/refund/gateway"
	"refund_engine/internal/domain/refund/model"
	"refund_engine/internal/domain/refund/repository"
	sourcemodel "refund_engine/internal/domain/source/model"
	sourcerepo "refund_engine/internal/domain/source/repository"
	"refund_engine/internal/pkg/config"
	"refund_engine/internal/pkg/scope"
	"refund_engine/internal/pkg/worker"
	"refund_engine/pkg/cache"
	"refund_engine/pkg/logger"
	"refund_engine/pkg/metrics"
	"refund_engine/pkg/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ItemInput 退款行项目入参
type ItemInput struct {
	ProductID string          `json:"productId"`
	VariantID *string         `json:"variantId,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// CreateInput 创建退款入参；Items 为空表示整单/手工金额退款
type CreateInput struct {
	SourceType string          `json:"sourceType"`
	SourceID   string          `json:"sourceId"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	Reason     string          `json:"reason"`
	Items      []ItemInput     `json:"items,omitempty"`
}

// RefundDetail 退款详情；Attempts 只对管理端/商家暴露
type RefundDetail struct {
	Refund   *model.Refund             `json:"refund"`
	Attempts []model.RefundTransaction `json:"attempts,omitempty"`
}

// RefundService 退款编排器：状态机唯一入口
// 状态流转只发生在这里，仓储层不做业务判断
type RefundService interface {
	Create(sc scope.Scope, input CreateInput) (*model.Refund, error)
	Approve(sc scope.Scope, refundID, notes string) (*model.Refund, error)
	Reject(sc scope.Scope, refundID, reason, notes string) (*model.Refund, error)
	Cancel(sc scope.Scope, refundID string) (*model.Refund, error)
	// Process 对已审批的款项退款发起网关打款
	Process(ctx context.Context, sc scope.Scope, refundID string) (*model.Refund, error)
	// Retry 对打款失败的退款重试，产生新的流水行
	Retry(ctx context.Context, sc scope.Scope, refundID string) (*model.Refund, error)
	// CompleteWithProof 手工/银行转账退款：上传凭证即完成
	CompleteWithProof(sc scope.Scope, refundID, proofPath string) (*model.Refund, error)
	SetItemQC(sc scope.Scope, refundID, itemID, qcStatus string) error
	Get(sc scope.Scope, refundID string) (*RefundDetail, error)
	List(sc scope.Scope, filter repository.ListFilter, p *utils.Pagination) ([]model.Refund, int64, error)
	GetEligibility(sc scope.Scope, sourceType, sourceID string) (*Eligibility, error)
	TestGateway(ctx context.Context, name string) error
	// RegisterGateway 注册网关适配器，仅在启动期调用
	RegisterGateway(g gateway.RefundGateway)
}

type refundService struct {
	db         *gorm.DB
	repo       repository.RefundRepository
	txRepo     repository.TransactionRepository
	sourceRepo sourcerepo.SourceRepository
	resolver   catalogrepo.ProductResolver
	notes      cnservice.CreditNoteService
	notifier   *worker.NotifyPool
	cache      cache.CacheService
	gateways   map[string]gateway.RefundGateway
}

func NewRefundService(
	db *gorm.DB,
	repo repository.RefundRepository,
	txRepo repository.TransactionRepository,
	sourceRepo sourcerepo.SourceRepository,
	resolver catalogrepo.ProductResolver,
	notes cnservice.CreditNoteService,
	notifier *worker.NotifyPool,
	cacheService cache.CacheService,
) RefundService {
	return &refundService{
		db:         db,
		repo:       repo,
		txRepo:     txRepo,
		sourceRepo: sourceRepo,
		resolver:   resolver,
		notes:      notes,
		notifier:   notifier,
		cache:      cacheService,
		gateways:   make(map[string]gateway.RefundGateway),
	}
}

func (s *refundService) RegisterGateway(g gateway.RefundGateway) {
	s.gateways[g.Name()] = g
	logger.Log.Info("refund gateway registered", zap.String("gateway", g.Name()))
}

// Create 创建退款请求
func (s *refundService) Create(sc scope.Scope, input CreateInput) (*model.Refund, error) {
	// 1. 参数校验
	if !sourcemodel.IsValidSourceType(input.SourceType) {
		return nil, fmt.Errorf("%w: unknown source type %q", ErrValidation, input.SourceType)
	}
	if !model.IsValidMethod(input.Method) {
		return nil, fmt.Errorf("%w: unknown refund method %q", ErrValidation, input.Method)
	}
	if !input.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if input.Reason == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrValidation)
	}

	// 2. 加载来源单并做归属校验
	source, err := s.sourceRepo.Get(input.SourceType, input.SourceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSourceNotFound
		}
		return nil, err
	}
	if !sc.CanAccessVendor(source.VendorID) {
		return nil, ErrSourceNotFound
	}
	if !sc.IsAdmin() && !sc.IsVendor() && source.CustomerID != sc.ActorID {
		return nil, ErrSourceNotFound
	}

	// 3. 行项目校验：商品存在、数量为正、合计与请求金额一致
	items, err := s.buildItems(input)
	if err != nil {
		return nil, err
	}

	// 4. 额度校验（占用口径，pending 也计入）
	occupied, err := s.repo.SumActive(s.db, input.SourceType, input.SourceID)
	if err != nil {
		return nil, err
	}
	elig := computeEligibility(input.SourceType, input.SourceID, source.Total, occupied)
	if input.Amount.GreaterThan(elig.Remaining) {
		return nil, &IneligibleAmountError{Requested: input.Amount, Remaining: elig.Remaining}
	}

	refund := &model.Refund{
		Reference:   generateReference(),
		SourceType:  input.SourceType,
		SourceID:    input.SourceID,
		CustomerID:  source.CustomerID,
		VendorID:    source.VendorID,
		Amount:      input.Amount,
		Method:      input.Method,
		Reason:      input.Reason,
		Status:      model.StatusPending,
		RequestedAt: time.Now(),
		Items:       items,
	}

	if err := s.repo.Create(refund); err != nil {
		return nil, err
	}

	metrics.GetGlobalCollector().RecordRefundTransition(model.StatusPending, refund.Method)
	s.invalidateStats()
	logger.Log.Info("refund requested",
		zap.String("reference", refund.Reference),
		zap.String("source", refund.SourceType+"/"+refund.SourceID),
		zap.String("amount", refund.Amount.StringFixed(2)),
		zap.String("method", refund.Method))

	return refund, nil
}

func (s *refundService) buildItems(input CreateInput) ([]model.RefundItem, error) {
	if len(input.Items) == 0 {
		return nil, nil
	}

	items := make([]model.RefundItem, 0, len(input.Items))
	sum := decimal.Zero
	for _, in := range input.Items {
		if in.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item quantity must be positive", ErrValidation)
		}
		if in.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: item unit price cannot be negative", ErrValidation)
		}
		if err := s.resolver.ResolveProduct(in.ProductID, in.VariantID); err != nil {
			return nil, err
		}

		total := in.UnitPrice.Mul(decimal.NewFromInt(int64(in.Quantity)))
		sum = sum.Add(total)
		items = append(items, model.RefundItem{
			ProductID:   in.ProductID,
			VariantID:   in.VariantID,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
			TotalAmount: total,
			Status:      model.ItemStatusPending,
			QCStatus:    model.QCStatusPending,
		})
	}

	// 行项目合计必须等于请求金额
	if !sum.Equal(input.Amount) {
		return nil, fmt.Errorf("%w: items total %s, requested %s",
			ErrItemMismatch, sum.StringFixed(2), input.Amount.StringFixed(2))
	}
	return items, nil
}

// Approve 审批通过
// 在来源单行锁内按承诺口径复核额度；credit_note 方式同事务发放凭证并直接完成
func (s *refundService) Approve(sc scope.Scope, refundID, notes string) (*model.Refund, error) {
	var refund *model.Refund

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		refund, err = s.loadForTransition(tx, sc, refundID, "approve", model.StatusPending)
		if err != nil {
			return err
		}

		// 有实物行项目时，质检全部通过才放行
		for _, item := range refund.Items {
			if item.QCStatus != model.QCStatusPassed {
				return ErrQCNotPassed
			}
		}

		// 锁来源单行：并发审批在这里串行化
		source, err := s.sourceRepo.GetForUpdate(tx, refund.SourceType, refund.SourceID)
		if err != nil {
			return err
		}

		// 承诺口径复核：排除仍在 pending 的其它请求和候选自身
		committed, err := s.repo.SumCommitted(tx, refund.SourceType, refund.SourceID, refund.ID)
		if err != nil {
			return err
		}
		remaining := source.Total.Sub(committed)
		if refund.Amount.GreaterThan(remaining) {
			return &IneligibleAmountError{Requested: refund.Amount, Remaining: remaining}
		}

		now := time.Now()
		updates := map[string]interface{}{
			"status":      model.StatusApproved,
			"approved_at": now,
			"admin_notes": notes,
		}

		if refund.Method == model.MethodCreditNote {
			// 凭证退款不走网关：同事务发放凭证、完成退款、更新来源单
			if err := s.issueCreditNote(tx, refund, source); err != nil {
				return err
			}
			updates["status"] = model.StatusCompleted
			updates["completed_at"] = now
		}

		if err := s.repo.UpdateStatus(tx, refund.ID, updates); err != nil {
			return err
		}
		if len(refund.Items) > 0 {
			if err := s.repo.UpdateItemStatuses(tx, refund.ID, model.ItemStatusApproved); err != nil {
				return err
			}
		}

		refund.Status = updates["status"].(string)
		refund.ApprovedAt = &now
		refund.AdminNotes = notes
		if refund.Status == model.StatusCompleted {
			refund.CompletedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.GetGlobalCollector().RecordRefundTransition(refund.Status, refund.Method)
	s.invalidateStats()
	logger.Log.Info("refund approved",
		zap.String("reference", refund.Reference),
		zap.String("status", refund.Status))

	if refund.Status == model.StatusCompleted {
		s.notifyCustomer(refund, "Refund completed",
			fmt.Sprintf("Your refund %s has been issued as store credit.", refund.Reference))
	} else {
		s.notifyCustomer(refund, "Refund approved",
			fmt.Sprintf("Your refund %s has been approved and will be processed shortly.", refund.Reference))
	}
	return refund, nil
}

// issueCreditNote 凭证方式审批：发放凭证 + 更新来源单累计退款，同一事务内完成
func (s *refundService) issueCreditNote(tx *gorm.DB, refund *model.Refund, source *sourcemodel.SourceTransaction) error {
	var expiresAt *time.Time
	if days := config.GlobalConfig.CreditNote.ExpiryDays; days > 0 {
		t := time.Now().AddDate(0, 0, days)
		expiresAt = &t
	}

	_, err := s.notes.Issue(tx, cnservice.IssueInput{
		CustomerID: refund.CustomerID,
		VendorID:   refund.VendorID,
		SourceID:   refund.SourceID,
		RefundID:   &refund.ID,
		Amount:     refund.Amount,
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		return err
	}

	return s.applySourceRefund(tx, refund, source, time.Now())
}

// Reject 驳回，需给出原因
func (s *refundService) Reject(sc scope.Scope, refundID, reason, notes string) (*model.Refund, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", ErrValidation)
	}

	var refund *model.Refund
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		refund, err = s.loadForTransition(tx, sc, refundID, "reject", model.StatusPending)
		if err != nil {
			return err
		}

		if err := s.repo.UpdateStatus(tx, refund.ID, map[string]interface{}{
			"status":           model.StatusRejected,
			"rejection_reason": reason,
			"admin_notes":      notes,
		}); err != nil {
			return err
		}
		if len(refund.Items) > 0 {
			if err := s.repo.UpdateItemStatuses(tx, refund.ID, model.ItemStatusRejected); err != nil {
				return err
			}
		}

		refund.Status = model.StatusRejected
		refund.RejectionReason = reason
		refund.AdminNotes = notes
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.GetGlobalCollector().RecordRefundTransition(model.StatusRejected, refund.Method)
	s.invalidateStats()
	s.notifyCustomer(refund, "Refund rejected",
		fmt.Sprintf("Your refund %s was rejected: %s", refund.Reference, reason))
	return refund, nil
}

// Cancel 客户撤回自己的待审请求
func (s *refundService) Cancel(sc scope.Scope, refundID string) (*model.Refund, error) {
	var refund *model.Refund
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		refund, err = s.loadForTransition(tx, sc, refundID, "cancel", model.StatusPending)
		if err != nil {
			return err
		}
		// 撤回只属于提出请求的客户，运营侧走 reject 留下驳回原因
		if refund.CustomerID != sc.ActorID {
			return ErrRefundNotFound
		}

		if err := s.repo.UpdateStatus(tx, refund.ID, map[string]interface{}{
			"status": model.StatusCancelled,
		}); err != nil {
			return err
		}
		refund.Status = model.StatusCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.GetGlobalCollector().RecordRefundTransition(model.StatusCancelled, refund.Method)
	s.invalidateStats()
	return refund, nil
}

// Process 对已审批的退款发起打款
// money 方式调用网关；manual/bank_transfer 进入 processing 等待上传凭证
func (s *refundService) Process(ctx context.Context, sc scope.Scope, refundID string) (*model.Refund, error) {
	return s.dispatch(ctx, sc, refundID, "process", model.StatusApproved)
}

// Retry 对打款失败的退款重试，新开一条流水行
func (s *refundService) Retry(ctx context.Context, sc scope.Scope, refundID string) (*model.Refund, error) {
	return s.dispatch(ctx, sc, refundID, "retry", model.StatusFailed)
}

func (s *refundService) dispatch(ctx context.Context, sc scope.Scope, refundID, event, fromStatus string) (*model.Refund, error) {
	var refund *model.Refund
	var attempt *model.RefundTransaction
	var source *sourcemodel.SourceTransaction

	// 第一段事务：锁来源单复核额度，进入 processing 并落一条 pending 流水
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		refund, err = s.loadForTransition(tx, sc, refundID, event, fromStatus)
		if err != nil {
			return err
		}
		if refund.Method == model.MethodCreditNote {
			// 凭证退款在审批时已完成，不存在打款
			return &InvalidStateError{Current: refund.Status, Event: event}
		}

		source, err = s.sourceRepo.GetForUpdate(tx, refund.SourceType, refund.SourceID)
		if err != nil {
			return err
		}

		committed, err := s.repo.SumCommitted(tx, refund.SourceType, refund.SourceID, refund.ID)
		if err != nil {
			return err
		}
		remaining := source.Total.Sub(committed)
		if refund.Amount.GreaterThan(remaining) {
			return &IneligibleAmountError{Requested: refund.Amount, Remaining: remaining}
		}

		gatewayName := s.gatewayFor(refund, source)
		if refund.Method == model.MethodMoney {
			if _, ok := s.gateways[gatewayName]; !ok {
				// 不流转状态：配置好适配器后可重新发起
				return fmt.Errorf("%w: %s", ErrUnknownGateway, gatewayName)
			}
		}

		now := time.Now()
		attempt = &model.RefundTransaction{
			RefundID:             refund.ID,
			TransactionID:        generateTransactionID(),
			Gateway:              gatewayName,
			Status:               model.TxStatusPending,
			Amount:               refund.Amount,
			GatewayTransactionID: source.PaymentRef,
			ProcessedAt:          &now,
		}
		if err := s.txRepo.CreateAttempt(tx, attempt); err != nil {
			return err
		}

		if err := s.repo.UpdateStatus(tx, refund.ID, map[string]interface{}{
			"status":       model.StatusProcessing,
			"processed_at": now,
		}); err != nil {
			return err
		}
		refund.Status = model.StatusProcessing
		refund.ProcessedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.GetGlobalCollector().RecordRefundTransition(model.StatusProcessing, refund.Method)
	s.invalidateStats()

	// 手工/银行转账：停在 processing，等 CompleteWithProof
	if refund.Method != model.MethodMoney {
		return refund, nil
	}

	// 网关调用在锁外执行，单独限时
	if err := s.executeAttempt(ctx, refund, attempt, source); err != nil {
		return refund, err
	}
	return refund, nil
}

// gatewayFor 打款通道：money 跟随原支付网关，其余即方式本身
func (s *refundService) gatewayFor(refund *model.Refund, source *sourcemodel.SourceTransaction) string {
	if refund.Method == model.MethodMoney {
		return source.PaymentGateway
	}
	return refund.Method
}

// executeAttempt 调网关并落终态
// 网关成功才碰来源单累计额；失败只补写流水和退款状态
func (s *refundService) executeAttempt(ctx context.Context, refund *model.Refund, attempt *model.RefundTransaction, source *sourcemodel.SourceTransaction) error {
	gw := s.gateways[attempt.Gateway]
	timeout := time.Duration(config.GlobalConfig.Gateway.TimeoutSeconds) * time.Second
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	result, err := gw.Refund(callCtx, gateway.RefundRequest{
		AttemptID:  attempt.TransactionID,
		PaymentRef: attempt.GatewayTransactionID,
		Amount:     attempt.Amount,
		Original:   source.Total,
		Currency:   config.GlobalConfig.Gateway.Currency,
		Reason:     refund.Reason,
	})
	duration := time.Since(started)

	if err != nil {
		metrics.GetGlobalCollector().RecordGatewayAttempt(attempt.Gateway, "error", duration)
		reason := err.Error()
		if ferr := s.failAttempt(refund, attempt, reason, nil); ferr != nil {
			return ferr
		}
		return &GatewayError{Gateway: attempt.Gateway, Reason: reason}
	}

	if !result.Success {
		metrics.GetGlobalCollector().RecordGatewayAttempt(attempt.Gateway, "declined", duration)
		if ferr := s.failAttempt(refund, attempt, result.Message, result.RawResponse); ferr != nil {
			return ferr
		}
		return &GatewayError{Gateway: attempt.Gateway, Reason: result.Message}
	}

	metrics.GetGlobalCollector().RecordGatewayAttempt(attempt.Gateway, "ok", duration)
	return s.completeAttempt(refund, attempt, repository.AttemptResolution{
		Status:          model.TxStatusCompleted,
		GatewayRefundID: result.GatewayRefundID,
		GatewayResponse: result.RawResponse,
	})
}

// failAttempt 失败终态：流水补写原始返回与原因，退款置 failed（可重试）
func (s *refundService) failAttempt(refund *model.Refund, attempt *model.RefundTransaction, reason string, raw []byte) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.txRepo.ResolveAttempt(tx, attempt.ID, repository.AttemptResolution{
			Status:          model.TxStatusFailed,
			FailureReason:   reason,
			GatewayResponse: raw,
		}); err != nil {
			return err
		}
		return s.repo.UpdateStatus(tx, refund.ID, map[string]interface{}{
			"status": model.StatusFailed,
		})
	})
	if err != nil {
		return err
	}

	refund.Status = model.StatusFailed
	metrics.GetGlobalCollector().RecordRefundTransition(model.StatusFailed, refund.Method)
	s.invalidateStats()
	logger.Log.Warn("refund gateway attempt failed",
		zap.String("reference", refund.Reference),
		zap.String("gateway", attempt.Gateway),
		zap.String("transactionId", attempt.TransactionID),
		zap.String("reason", reason))
	s.notifyCustomer(refund, "Refund delayed",
		fmt.Sprintf("Your refund %s hit a temporary issue and will be retried.", refund.Reference))
	return nil
}

// completeAttempt 成功终态：流水、退款、来源单在同一事务里收口
// 来源单累计额只在这里加一次
func (s *refundService) completeAttempt(refund *model.Refund, attempt *model.RefundTransaction, res repository.AttemptResolution) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		source, err := s.sourceRepo.GetForUpdate(tx, refund.SourceType, refund.SourceID)
		if err != nil {
			return err
		}

		now := time.Now()
		res.CompletedAt = &now
		if err := s.txRepo.ResolveAttempt(tx, attempt.ID, res); err != nil {
			return err
		}
		if err := s.repo.UpdateStatus(tx, refund.ID, map[string]interface{}{
			"status":       model.StatusCompleted,
			"completed_at": now,
		}); err != nil {
			return err
		}
		refund.Status = model.StatusCompleted
		refund.CompletedAt = &now

		return s.applySourceRefund(tx, refund, source, now)
	})
	if err != nil {
		return err
	}

	metrics.GetGlobalCollector().RecordRefundTransition(model.StatusCompleted, refund.Method)
	s.invalidateStats()
	logger.Log.Info("refund completed",
		zap.String("reference", refund.Reference),
		zap.String("gateway", attempt.Gateway),
		zap.String("transactionId", attempt.TransactionID),
		zap.String("amount", refund.Amount.StringFixed(2)))
	s.notifyCustomer(refund, "Refund completed",
		fmt.Sprintf("Your refund %s of %s has been processed.", refund.Reference, refund.Amount.StringFixed(2)))
	return nil
}

// applySourceRefund 累加来源单已退金额并重算 partial/full
// 调用方必须已持有来源单行锁
func (s *refundService) applySourceRefund(tx *gorm.DB, refund *model.Refund, source *sourcemodel.SourceTransaction, at time.Time) error {
	refunded := source.RefundedAmount.Add(refund.Amount)
	status := sourcemodel.RefundStatusPartial
	if refunded.GreaterThanOrEqual(source.Total) {
		status = sourcemodel.RefundStatusFull
	}
	return s.sourceRepo.UpdateRefundState(tx, refund.SourceType, refund.SourceID, refunded, status, at)
}

// CompleteWithProof 手工/银行转账的完成路径：凭证落在当前流水上
func (s *refundService) CompleteWithProof(sc scope.Scope, refundID, proofPath string) (*model.Refund, error) {
	if proofPath == "" {
		return nil, fmt.Errorf("%w: proof is required", ErrValidation)
	}

	var refund *model.Refund
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		refund, err = s.loadForTransition(tx, sc, refundID, "complete", model.StatusProcessing)
		if err != nil {
			return err
		}
		if refund.Method != model.MethodManual && refund.Method != model.MethodBankTransfer {
			return &InvalidStateError{Current: refund.Status, Event: "complete with proof"}
		}

		source, err := s.sourceRepo.GetForUpdate(tx, refund.SourceType, refund.SourceID)
		if err != nil {
			return err
		}

		attempt, err := s.txRepo.LatestOpenAttempt(tx, refund.ID)
		if err != nil {
			return err
		}

		now := time.Now()
		if err := s.txRepo.ResolveAttempt(tx, attempt.ID, repository.AttemptResolution{
			Status:      model.TxStatusCompleted,
			ProofPath:   proofPath,
			CompletedAt: &now,
		}); err != nil {
			return err
		}
		if err := s.repo.UpdateStatus(tx, refund.ID, map[string]interface{}{
			"status":       model.StatusCompleted,
			"completed_at": now,
		}); err != nil {
			return err
		}
		refund.Status = model.StatusCompleted
		refund.CompletedAt = &now

		return s.applySourceRefund(tx, refund, source, now)
	})
	if err != nil {
		return nil, err
	}

	metrics.GetGlobalCollector().RecordRefundTransition(model.StatusCompleted, refund.Method)
	s.invalidateStats()
	s.notifyCustomer(refund, "Refund completed",
		fmt.Sprintf("Your refund %s of %s has been transferred.", refund.Reference, refund.Amount.StringFixed(2)))
	return refund, nil
}

// SetItemQC 标记退货质检结果，仅待审阶段允许
func (s *refundService) SetItemQC(sc scope.Scope, refundID, itemID, qcStatus string) error {
	if qcStatus != model.QCStatusPassed && qcStatus != model.QCStatusFailed {
		return fmt.Errorf("%w: qc status must be passed or failed", ErrValidation)
	}

	refund, err := s.repo.GetByID(refundID)
	if err != nil {
		return err
	}
	if !sc.CanAccessVendor(refund.VendorID) {
		return ErrRefundNotFound
	}
	if refund.Status != model.StatusPending {
		return &InvalidStateError{Current: refund.Status, Event: "set item qc"}
	}

	affected, err := s.repo.UpdateItemQC(refundID, itemID, qcStatus)
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRefundNotFound
	}
	return nil
}

func (s *refundService) Get(sc scope.Scope, refundID string) (*RefundDetail, error) {
	refund, err := s.repo.GetByID(refundID)
	if err != nil {
		return nil, err
	}
	if !sc.CanAccessVendor(refund.VendorID) {
		return nil, ErrRefundNotFound
	}
	if !sc.IsAdmin() && !sc.IsVendor() && refund.CustomerID != sc.ActorID {
		return nil, ErrRefundNotFound
	}

	detail := &RefundDetail{Refund: refund}
	// 网关流水（含原始返回）只对管理端/商家可见
	if sc.IsAdmin() || sc.IsVendor() {
		attempts, err := s.txRepo.ListByRefund(refundID)
		if err != nil {
			return nil, err
		}
		detail.Attempts = attempts
	}
	return detail, nil
}

func (s *refundService) List(sc scope.Scope, filter repository.ListFilter, p *utils.Pagination) ([]model.Refund, int64, error) {
	if sc.IsVendor() {
		filter.VendorID = sc.VendorID
	} else if !sc.IsAdmin() {
		filter.CustomerID = sc.ActorID
	}
	return s.repo.List(filter, p)
}

func (s *refundService) GetEligibility(sc scope.Scope, sourceType, sourceID string) (*Eligibility, error) {
	if !sourcemodel.IsValidSourceType(sourceType) {
		return nil, fmt.Errorf("%w: unknown source type %q", ErrValidation, sourceType)
	}

	source, err := s.sourceRepo.Get(sourceType, sourceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSourceNotFound
		}
		return nil, err
	}
	if !sc.CanAccessVendor(source.VendorID) {
		return nil, ErrSourceNotFound
	}
	if !sc.IsAdmin() && !sc.IsVendor() && source.CustomerID != sc.ActorID {
		return nil, ErrSourceNotFound
	}

	occupied, err := s.repo.SumActive(s.db, sourceType, sourceID)
	if err != nil {
		return nil, err
	}
	return computeEligibility(sourceType, sourceID, source.Total, occupied), nil
}

func (s *refundService) TestGateway(ctx context.Context, name string) error {
	gw, ok := s.gateways[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGateway, name)
	}
	timeout := time.Duration(config.GlobalConfig.Gateway.TimeoutSeconds) * time.Second
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return gw.TestConnection(callCtx)
}

// loadForTransition 事务内加载并校验：归属 + 当前状态
func (s *refundService) loadForTransition(tx *gorm.DB, sc scope.Scope, refundID, event, fromStatus string) (*model.Refund, error) {
	refund, err := s.repo.GetByIDTx(tx, refundID)
	if err != nil {
		return nil, err
	}
	if !sc.CanAccessVendor(refund.VendorID) {
		return nil, ErrRefundNotFound
	}
	if refund.Status != fromStatus {
		return nil, &InvalidStateError{Current: refund.Status, Event: event}
	}
	return refund, nil
}

func (s *refundService) notifyCustomer(refund *model.Refund, title, body string) {
	if s.notifier == nil {
		return
	}
	s.notifier.AddTask(worker.NotifyTask{
		CustomerID: refund.CustomerID,
		Title:      title,
		Body:       body,
		Ext: map[string]string{
			"refundId":  refund.ID,
			"reference": refund.Reference,
			"status":    refund.Status,
		},
	})
}

func (s *refundService) invalidateStats() {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidatePattern(context.Background(), "stats:*"); err != nil {
		logger.Log.Warn("failed to invalidate statistics cache", zap.Error(err))
	}
}

// 退款单号：RF + 时间戳 + 随机段
func generateReference() string {
	return fmt.Sprintf("RF%s%s", time.Now().Format("20060102150405"), uuid.New().String()[:8])
}

// 流水号：RTX + 时间戳 + 随机段，同时作为网关幂等键
func generateTransactionID() string {
	return fmt.Sprintf("RTX%s%s", time.Now().Format("20060102150405"), uuid.New().String()[:8])
}
