package service

import (
	"errors"
	"fmt"
	"time"

	"refund_engine/internal/domain/creditnote/model"
	"refund_engine/internal/domain/creditnote/repository"
	"refund_engine/internal/pkg/scope"
	"refund_engine/pkg/logger"
	"refund_engine/pkg/metrics"
	"refund_engine/pkg/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 核销失败的业务错误
var (
	ErrNoteNotFound       = repository.ErrNoteNotFound
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrNoteExpired        = errors.New("credit note expired")
	ErrNoteInactive       = errors.New("credit note is not active")
)

// IssueInput 发放参数
type IssueInput struct {
	CustomerID string
	VendorID   *string
	SourceID   string
	RefundID   *string
	Amount     decimal.Decimal
	ExpiresAt  *time.Time
}

// ConsumeResult 核销结果
type ConsumeResult struct {
	RemainingAfter decimal.Decimal `json:"remainingAfter"`
	Status         string          `json:"status"`
}

type CreditNoteService interface {
	// Issue 发放凭证，在调用方事务内执行（退款审批事务）
	Issue(tx *gorm.DB, input IssueInput) (*model.CreditNote, error)
	// Consume 核销：结账侧在其订单事务内调用；tx 为 nil 时自起事务
	Consume(tx *gorm.DB, noteID string, amount decimal.Decimal) (*ConsumeResult, error)
	Get(sc scope.Scope, id string) (*model.CreditNote, error)
	List(sc scope.Scope, filter repository.ListFilter, p *utils.Pagination) ([]model.CreditNote, int64, error)
	// RunExpirySweep 过期巡检，幂等，可重复执行
	RunExpirySweep() (int64, error)
	StartExpirySweep(interval time.Duration, stopCh <-chan struct{})
}

type creditNoteService struct {
	db        *gorm.DB
	repo      repository.CreditNoteRepository
	batchSize int
}

func NewCreditNoteService(db *gorm.DB, repo repository.CreditNoteRepository, batchSize int) CreditNoteService {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &creditNoteService{db: db, repo: repo, batchSize: batchSize}
}

func (s *creditNoteService) Issue(tx *gorm.DB, input IssueInput) (*model.CreditNote, error) {
	if !input.Amount.IsPositive() {
		return nil, errors.New("credit note amount must be positive")
	}

	note := &model.CreditNote{
		CreditNoteNumber: generateNoteNumber(),
		CustomerID:       input.CustomerID,
		VendorID:         input.VendorID,
		RefundID:         input.RefundID,
		SourceID:         input.SourceID,
		Amount:           input.Amount,
		UsedAmount:       decimal.Zero,
		RemainingAmount:  input.Amount,
		Status:           model.NoteStatusActive,
		IssuedAt:         time.Now(),
		ExpiresAt:        input.ExpiresAt,
	}

	if err := s.repo.Create(tx, note); err != nil {
		return nil, err
	}

	metrics.GetGlobalCollector().RecordCreditNoteIssued()
	return note, nil
}

func (s *creditNoteService) Consume(tx *gorm.DB, noteID string, amount decimal.Decimal) (*ConsumeResult, error) {
	if !amount.IsPositive() {
		return nil, errors.New("consume amount must be positive")
	}

	collector := metrics.GetGlobalCollector()

	run := func(tx *gorm.DB) (*ConsumeResult, error) {
		now := time.Now()
		affected, err := s.repo.Consume(tx, noteID, amount, now)
		if err != nil {
			return nil, err
		}

		if affected == 0 {
			// 条件扣减未命中，读一次判定失败原因
			note, err := s.repo.GetByIDTx(tx, noteID)
			if err != nil {
				return nil, err
			}
			switch {
			case note.Status != model.NoteStatusActive:
				return nil, ErrNoteInactive
			case note.ExpiresAt != nil && !note.ExpiresAt.After(now):
				return nil, ErrNoteExpired
			default:
				return nil, ErrInsufficientCredit
			}
		}

		if err := s.repo.MarkUsedIfDrained(tx, noteID); err != nil {
			return nil, err
		}

		// 回读走扣减所在的事务，拿到的才是扣减后的余额
		note, err := s.repo.GetByIDTx(tx, noteID)
		if err != nil {
			return nil, err
		}
		return &ConsumeResult{RemainingAfter: note.RemainingAmount, Status: note.Status}, nil
	}

	var result *ConsumeResult
	var err error
	if tx != nil {
		result, err = run(tx)
	} else {
		err = s.db.Transaction(func(tx *gorm.DB) error {
			var innerErr error
			result, innerErr = run(tx)
			return innerErr
		})
	}

	if err != nil {
		collector.RecordCreditNoteConsume("failed")
		return nil, err
	}
	collector.RecordCreditNoteConsume("ok")
	return result, nil
}

func (s *creditNoteService) Get(sc scope.Scope, id string) (*model.CreditNote, error) {
	note, err := s.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	// 商家维度隔离：不属于该商家的凭证按不存在处理
	if !sc.CanAccessVendor(note.VendorID) {
		return nil, ErrNoteNotFound
	}
	// 客户只能看自己的凭证
	if !sc.IsAdmin() && !sc.IsVendor() && note.CustomerID != sc.ActorID {
		return nil, ErrNoteNotFound
	}
	return note, nil
}

func (s *creditNoteService) List(sc scope.Scope, filter repository.ListFilter, p *utils.Pagination) ([]model.CreditNote, int64, error) {
	// scope 收紧过滤条件
	if sc.IsVendor() {
		filter.VendorID = sc.VendorID
	} else if !sc.IsAdmin() {
		filter.CustomerID = sc.ActorID
	}
	return s.repo.List(filter, p)
}

func (s *creditNoteService) RunExpirySweep() (int64, error) {
	var total int64
	for {
		n, err := s.repo.ExpireBatch(time.Now(), s.batchSize)
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(s.batchSize) {
			break
		}
	}
	if total > 0 {
		metrics.GetGlobalCollector().RecordCreditNotesExpired(total)
		logger.Log.Info("credit note expiry sweep", zap.Int64("expired", total))
	}
	return total, nil
}

func (s *creditNoteService) StartExpirySweep(interval time.Duration, stopCh <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.RunExpirySweep(); err != nil {
					logger.Log.Error("credit note expiry sweep failed", zap.Error(err))
				}
			case <-stopCh:
				return
			}
		}
	}()
}

// 凭证号：CN + 时间戳 + 随机段
func generateNoteNumber() string {
	return fmt.Sprintf("CN%s%s", time.Now().Format("20060102150405"), uuid.New().String()[:8])
}
