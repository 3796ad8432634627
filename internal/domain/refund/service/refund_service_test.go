package service

import (
	"context"
	"os"
	"testing"
	"time"

	cnmodel "refund_engine/internal/domain/creditnote/model"
	cnrepo "refund_engine/internal/domain/creditnote/repository"
	cnservice "refund_engine/internal/domain/creditnote/service"
	"refund_engine/internal/domain/refund/gateway"
	"refund_engine/internal/domain/refund/model"
	"refund_engine/internal/domain/refund/repository"
	sourcemodel "refund_engine/internal/domain/source/model"
	"refund_engine/internal/pkg/config"
	"refund_engine/internal/pkg/scope"
	"refund_engine/pkg/logger"
	"refund_engine/pkg/utils"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	config.GlobalConfig.Gateway.TimeoutSeconds = 5
	config.GlobalConfig.Gateway.Currency = "INR"
	config.GlobalConfig.CreditNote.ExpiryDays = 365
	os.Exit(m.Run())
}

// MockRefundRepository is a mock of RefundRepository
type MockRefundRepository struct {
	mock.Mock
}

func (m *MockRefundRepository) Create(refund *model.Refund) error {
	args := m.Called(refund)
	return args.Error(0)
}

func (m *MockRefundRepository) GetByID(id string) (*model.Refund, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Refund), args.Error(1)
}

func (m *MockRefundRepository) GetByIDTx(tx *gorm.DB, id string) (*model.Refund, error) {
	args := m.Called(tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Refund), args.Error(1)
}

func (m *MockRefundRepository) List(filter repository.ListFilter, p *utils.Pagination) ([]model.Refund, int64, error) {
	args := m.Called(filter, p)
	return args.Get(0).([]model.Refund), args.Get(1).(int64), args.Error(2)
}

func (m *MockRefundRepository) UpdateStatus(tx *gorm.DB, id string, updates map[string]interface{}) error {
	args := m.Called(tx, id, updates)
	return args.Error(0)
}

func (m *MockRefundRepository) UpdateItemQC(refundID, itemID, qcStatus string) (int64, error) {
	args := m.Called(refundID, itemID, qcStatus)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRefundRepository) UpdateItemStatuses(tx *gorm.DB, refundID, status string) error {
	args := m.Called(tx, refundID, status)
	return args.Error(0)
}

func (m *MockRefundRepository) SumActive(db *gorm.DB, sourceType, sourceID string) (decimal.Decimal, error) {
	args := m.Called(db, sourceType, sourceID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockRefundRepository) SumCommitted(tx *gorm.DB, sourceType, sourceID, excludeRefundID string) (decimal.Decimal, error) {
	args := m.Called(tx, sourceType, sourceID, excludeRefundID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

// MockTransactionRepository is a mock of TransactionRepository
type MockTransactionRepository struct {
	mock.Mock
}

func (m *MockTransactionRepository) CreateAttempt(tx *gorm.DB, attempt *model.RefundTransaction) error {
	args := m.Called(tx, attempt)
	return args.Error(0)
}

func (m *MockTransactionRepository) ResolveAttempt(tx *gorm.DB, attemptID string, res repository.AttemptResolution) error {
	args := m.Called(tx, attemptID, res)
	return args.Error(0)
}

func (m *MockTransactionRepository) LatestOpenAttempt(tx *gorm.DB, refundID string) (*model.RefundTransaction, error) {
	args := m.Called(tx, refundID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RefundTransaction), args.Error(1)
}

func (m *MockTransactionRepository) ListByRefund(refundID string) ([]model.RefundTransaction, error) {
	args := m.Called(refundID)
	return args.Get(0).([]model.RefundTransaction), args.Error(1)
}

func (m *MockTransactionRepository) CountByRefund(refundID string) (int64, error) {
	args := m.Called(refundID)
	return args.Get(0).(int64), args.Error(1)
}

// MockSourceRepository is a mock of SourceRepository
type MockSourceRepository struct {
	mock.Mock
}

func (m *MockSourceRepository) Get(sourceType, id string) (*sourcemodel.SourceTransaction, error) {
	args := m.Called(sourceType, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sourcemodel.SourceTransaction), args.Error(1)
}

func (m *MockSourceRepository) GetForUpdate(tx *gorm.DB, sourceType, id string) (*sourcemodel.SourceTransaction, error) {
	args := m.Called(tx, sourceType, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sourcemodel.SourceTransaction), args.Error(1)
}

func (m *MockSourceRepository) UpdateRefundState(tx *gorm.DB, sourceType, id string, refunded decimal.Decimal, refundStatus string, at time.Time) error {
	args := m.Called(tx, sourceType, id, refunded, refundStatus, at)
	return args.Error(0)
}

// MockProductResolver is a mock of ProductResolver
type MockProductResolver struct {
	mock.Mock
}

func (m *MockProductResolver) ResolveProduct(productID string, variantID *string) error {
	args := m.Called(productID, variantID)
	return args.Error(0)
}

// MockCreditNoteService is a mock of CreditNoteService
type MockCreditNoteService struct {
	mock.Mock
}

func (m *MockCreditNoteService) Issue(tx *gorm.DB, input cnservice.IssueInput) (*cnmodel.CreditNote, error) {
	args := m.Called(tx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cnmodel.CreditNote), args.Error(1)
}

func (m *MockCreditNoteService) Consume(tx *gorm.DB, noteID string, amount decimal.Decimal) (*cnservice.ConsumeResult, error) {
	args := m.Called(tx, noteID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cnservice.ConsumeResult), args.Error(1)
}

func (m *MockCreditNoteService) Get(sc scope.Scope, id string) (*cnmodel.CreditNote, error) {
	args := m.Called(sc, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cnmodel.CreditNote), args.Error(1)
}

func (m *MockCreditNoteService) List(sc scope.Scope, filter cnrepo.ListFilter, p *utils.Pagination) ([]cnmodel.CreditNote, int64, error) {
	args := m.Called(sc, filter, p)
	return args.Get(0).([]cnmodel.CreditNote), args.Get(1).(int64), args.Error(2)
}

func (m *MockCreditNoteService) RunExpirySweep() (int64, error) {
	args := m.Called()
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCreditNoteService) StartExpirySweep(interval time.Duration, stopCh <-chan struct{}) {
	m.Called(interval, stopCh)
}

// fakeGateway 可编程的网关桩
type fakeGateway struct {
	name    string
	result  *gateway.RefundResult
	err     error
	calls   int
	lastReq gateway.RefundRequest
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	g.calls++
	g.lastReq = req
	return g.result, g.err
}

func (g *fakeGateway) TestConnection(ctx context.Context) error { return g.err }

type serviceFixture struct {
	svc        RefundService
	db         *gorm.DB
	sqlMock    sqlmock.Sqlmock
	repo       *MockRefundRepository
	txRepo     *MockTransactionRepository
	sourceRepo *MockSourceRepository
	resolver   *MockProductResolver
	notes      *MockCreditNoteService
}

func newFixture(t *testing.T) *serviceFixture {
	sqlDB, sqlMock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{Logger: glogger.Default.LogMode(glogger.Silent)})
	assert.NoError(t, err)

	f := &serviceFixture{
		db:         db,
		sqlMock:    sqlMock,
		repo:       new(MockRefundRepository),
		txRepo:     new(MockTransactionRepository),
		sourceRepo: new(MockSourceRepository),
		resolver:   new(MockProductResolver),
		notes:      new(MockCreditNoteService),
	}
	f.svc = NewRefundService(db, f.repo, f.txRepo, f.sourceRepo, f.resolver, f.notes, nil, nil)
	return f
}

func (f *serviceFixture) expectTx() {
	f.sqlMock.ExpectBegin()
	f.sqlMock.ExpectCommit()
}

func (f *serviceFixture) expectRollback() {
	f.sqlMock.ExpectBegin()
	f.sqlMock.ExpectRollback()
}

func testSource(total string) *sourcemodel.SourceTransaction {
	return &sourcemodel.SourceTransaction{
		SourceType:     sourcemodel.SourceTypeSale,
		ID:             "sale-1",
		Total:          decimal.RequireFromString(total),
		CustomerID:     "cust-1",
		PaymentGateway: "testpay",
		PaymentRef:     "pay_abc",
		RefundedAmount: decimal.Zero,
		RefundStatus:   sourcemodel.RefundStatusNone,
	}
}

func testRefund(status, method, amount string) *model.Refund {
	r := &model.Refund{
		Reference:   "RF20250101000000abcd1234",
		SourceType:  sourcemodel.SourceTypeSale,
		SourceID:    "sale-1",
		CustomerID:  "cust-1",
		Amount:      decimal.RequireFromString(amount),
		Method:      method,
		Reason:      "damaged item",
		Status:      status,
		RequestedAt: time.Now(),
	}
	r.ID = "refund-1"
	return r
}

func adminScope() scope.Scope {
	return scope.Admin("admin-1")
}

func customerScope(id string) scope.Scope {
	return scope.Scope{ActorID: id, Role: utils.RoleCustomer}
}

func TestCreate(t *testing.T) {
	t.Run("Lump sum refund within remaining amount", func(t *testing.T) {
		f := newFixture(t)
		f.sourceRepo.On("Get", "sale", "sale-1").Return(testSource("1000.00"), nil)
		f.repo.On("SumActive", mock.Anything, "sale", "sale-1").Return(decimal.RequireFromString("100.00"), nil)
		f.repo.On("Create", mock.AnythingOfType("*model.Refund")).Return(nil)

		refund, err := f.svc.Create(customerScope("cust-1"), CreateInput{
			SourceType: "sale",
			SourceID:   "sale-1",
			Amount:     decimal.RequireFromString("500.00"),
			Method:     model.MethodMoney,
			Reason:     "damaged item",
		})

		assert.NoError(t, err)
		assert.Equal(t, model.StatusPending, refund.Status)
		assert.Equal(t, "cust-1", refund.CustomerID)
		assert.NotEmpty(t, refund.Reference)
		f.repo.AssertExpectations(t)
	})

	t.Run("Pending refunds occupy the remaining amount", func(t *testing.T) {
		f := newFixture(t)
		f.sourceRepo.On("Get", "sale", "sale-1").Return(testSource("1000.00"), nil)
		// 600 already requested (pending counts), only 400 left
		f.repo.On("SumActive", mock.Anything, "sale", "sale-1").Return(decimal.RequireFromString("600.00"), nil)

		_, err := f.svc.Create(customerScope("cust-1"), CreateInput{
			SourceType: "sale",
			SourceID:   "sale-1",
			Amount:     decimal.RequireFromString("500.00"),
			Method:     model.MethodMoney,
			Reason:     "changed my mind",
		})

		var ineligible *IneligibleAmountError
		assert.ErrorAs(t, err, &ineligible)
		assert.True(t, ineligible.Remaining.Equal(decimal.RequireFromString("400.00")))
		f.repo.AssertNotCalled(t, "Create", mock.Anything)
	})

	t.Run("Item totals must match refund amount", func(t *testing.T) {
		f := newFixture(t)
		f.sourceRepo.On("Get", "sale", "sale-1").Return(testSource("1000.00"), nil)
		f.resolver.On("ResolveProduct", "prod-1", (*string)(nil)).Return(nil)

		_, err := f.svc.Create(adminScope(), CreateInput{
			SourceType: "sale",
			SourceID:   "sale-1",
			Amount:     decimal.RequireFromString("500.00"),
			Method:     model.MethodMoney,
			Reason:     "partial return",
			Items: []ItemInput{
				{ProductID: "prod-1", Quantity: 2, UnitPrice: decimal.RequireFromString("100.00")},
			},
		})

		assert.ErrorIs(t, err, ErrItemMismatch)
	})

	t.Run("Unknown refund method", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Create(adminScope(), CreateInput{
			SourceType: "sale",
			SourceID:   "sale-1",
			Amount:     decimal.RequireFromString("10.00"),
			Method:     "cheque",
			Reason:     "whatever",
		})

		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("Customer cannot refund another customer's sale", func(t *testing.T) {
		f := newFixture(t)
		f.sourceRepo.On("Get", "sale", "sale-1").Return(testSource("1000.00"), nil)

		_, err := f.svc.Create(customerScope("someone-else"), CreateInput{
			SourceType: "sale",
			SourceID:   "sale-1",
			Amount:     decimal.RequireFromString("10.00"),
			Method:     model.MethodMoney,
			Reason:     "not mine",
		})

		assert.ErrorIs(t, err, ErrSourceNotFound)
	})
}

func TestApprove(t *testing.T) {
	t.Run("Money refund approved", func(t *testing.T) {
		f := newFixture(t)
		refund := testRefund(model.StatusPending, model.MethodMoney, "500.00")
		f.expectTx()
		f.repo.On("GetByIDTx", mock.Anything, "refund-1").Return(refund, nil)
		f.sourceRepo.On("GetForUpdate", mock.Anything, "sale", "sale-1").Return(testSource("1000.00"), nil)
		f.repo.On("SumCommitted", mock.Anything, "sale", "sale-1", "refund-1").Return(decimal.Zero, nil)
		f.repo.On("UpdateStatus", mock.Anything, "refund-1", mock.MatchedBy(func(u map[string]interface{}) bool {
			return u["status"] == model.StatusApproved
		})).Return(nil)

		result, err := f.svc.Approve(adminScope(), "refund-1", "looks fine")

		assert.NoError(t, err)
		assert.Equal(t, model.StatusApproved, result.Status)
		assert.NotNil(t, result.ApprovedAt)
		f.repo.AssertExpectations(t)
	})

	t.Run("Approval rechecks remaining amount under lock", func(t *testing.T) {
		f := newFixture(t)
		refund := testRefund(model.StatusPending, model.MethodMoney, "500.00")
		f.expectRollback()
		f.repo.On("GetByIDTx", mock.Anything, "refund-1").Return(refund, nil)
		f.sourceRepo.On("GetForUpdate", mock.Anything, "sale", "sale-1").Return(testSource("1000.00"), nil)
		// another refund got committed first, only 400 left
		f.repo.On("SumCommitted", mock.Anything, "sale", "sale-1", "refund-1").Return(decimal.RequireFromString("600.00"), nil)

		_, err := f.svc.Approve(adminScope(), "refund-1", "")

		var ineligible *IneligibleAmountError
		assert.ErrorAs(t, err, &ineligible)
		assert.True(t, ineligible.Remaining.Equal(decimal.RequireFromString("400.00")))
		f.repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Credit note approval completes immediately", func(t *testing.T) {
		f := newFixture(t)
		refund := testRefund(model.StatusPending, model.MethodCreditNote, "300.00")
		f.expectTx()
		f.repo.On("GetByIDTx", mock.Anything, "refund-1").Return(refund, nil)
		f.sourceRepo.On("GetForUpdate", mock.Anything, "sale", "sale-1").Return(testSource("1000.00"), nil)
		f.repo.On("SumCommitted", mock.Anything, "sale", "sale-1", "refund-1").Return(decimal.Zero, nil)
		f.notes.On("Issue", mock.Anything, mock.MatchedBy(func(in cnservice.IssueInput) bool {
			return in.CustomerID == "cust-1" && in.Amount.Equal(decimal.RequireFromString("300.00"))
		})).Return(&cnmodel.CreditNote{}, nil)
		f.sourceRepo.On("UpdateRefundState", mock.Anything, "sale", "sale-1",
			decimal.RequireFromString("300.00"), sourcemodel.RefundStatusPartial, mock.Anything).Return(nil)
		f.repo.On("UpdateStatus", mock.Anything, "refund-1", mock.MatchedBy(func(u map[string]interface{}) bool {
			return u["status"] == model.StatusCompleted
		})).Return(nil)

		result, err := f.svc.Approve(adminScope(), "refund-1", "")

		assert.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, result.Status)
		f.notes.AssertExpectations(t)
		f.sourceRepo.AssertExpectations(t)
		// no gateway attempt row for credit note refunds
		f.txRepo.AssertNotCalled(t, "CreateAttempt", mock.Anything, mock.Anything)
	})

	t.Run("Items must pass quality control first", func(t *testing.T) {
		f := newFixture(t)
		refund := testRefund(model.StatusPending, model.MethodMoney, "200.00")
		refund.Items = []model.RefundItem{
			{ProductID: "prod-1", Quantity: 1, QCStatus: model.QCStatusPending},
		}
		f.expectRollback()
		f.repo.On("GetByIDTx", mock.Anything, "refund-1").Return(refund, nil)

		_, err := f.svc.Approve(adminScope(), "refund-1", "")

		assert.ErrorIs(t, err, ErrQCNotPassed)
	})

	t.Run("Only pending refunds can be approved", func(t *testing.T) {
		f := newFixture(t)
		refund := testRefund(model.StatusCompleted, model.MethodMoney, "200.00")
		f.expectRollback()
		f.repo.On("GetByIDTx", mock.Anything, "refund-1").Return(refund, nil)

		_, err := f.svc.Approve(adminScope(), "refund-1", "")

		var invalidState *InvalidStateError
		assert.ErrorAs(t, err, &invalidState)
		assert.Equal(t, model.StatusCompleted, invalidState.Current)
	})
}

func TestRejectAndCancel(t *testing.T) {
	t.Run("Reject requires a reason", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Reject(adminScope(), "refund-1", "", "")

		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("Reject pending refund", func(t *testing.T) {
		f := newFixture(t)
		refund := testRefund(model.StatusPending, model.MethodMoney, "100.00")
		f.expectTx()
		f.repo.On("GetByIDTx", mock.Anything, "refund-1").Return(refund, nil)
		f.repo.On("UpdateStatus", mock.Anything, "refund-1", mock.MatchedBy(func(u map[string]interface{}) bool {
			return u["status"] == model.StatusRejected && u["rejection_reason"] == "outside return window"
		})).Return(nil)

		result, err := f.svc.Reject(adminScope(), "refund-1", "outside return window", "")

		assert.NoError(t, err)
		assert.Equal(t, model.StatusRejected, result.Status)
	})

	t.Run("Customer cancels own pending request", func(t *testing.T) {
		f := newFixture(t)
		refund := testRefund(model.StatusPending, model.MethodMoney, "100.00")
		f.expectTx()
		f.repo.On("GetByIDTx", mock.Anything, "refund-1").Return(refund, nil)
		f.repo.On("UpdateStatus", mock.Anything, "refund-1", mock.MatchedBy(func(u map[string]interface{}) bool {
			return u["status"] == model.StatusCancelled
		})).Return(nil)

		result, err := f.svc.Cancel(customerScope("cust-1"), "refund-1")

		assert.NoError(t, err)
		assert.Equal(t, model.StatusCancelled, result.Status)
	})

	t.Run("Customer cannot cancel someone else's request", func(t *testing.T) {
		f := newFixture(t)
		refund := testRefund(model.StatusPending, model.MethodMoney, "100.00")
		f.expectRollback()
		f.repo.On("GetByIDTx", mock.Anything, "refund-1").Return(refund, nil)

		_, err := f.svc.Cancel(customerScope("intruder"), "refund-1")

		assert.ErrorIs(t, err, ErrRefundNotFound)
	})

	t.Run("Staff cannot cancel, they reject with a reason", func(t *testing.T) {
		f := newFixture(t)
		refund := testRefund(model.StatusPending, model.MethodMoney, "100.00")
		f.expectRollback()
		f.repo.On("GetByIDTx", mock.Anything, "refund-1").Return(refund, nil)

		_, err := f.svc.Cancel(adminScope(), "refund-1")

		assert.ErrorIs(t, err, ErrRefundNotFound)
		f.repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestProcess(t *testing.T) {
	t.Run("Successful gateway refund completes and settles source once", func(t *testing.T) {
		f := newFixture(t)
		gw := &fakeGateway{name: "testpay", result: &gateway.RefundResult{
			Success:         true,
			GatewayRefundID: "rfnd_123",
			Status:          "processed",
			RawResponse:     []byte(`{"id":"rfnd_123"}`),
		}}
		f.svc.RegisterGateway(gw)

		refund := testRefund(model.StatusApproved, model.MethodMoney, "500.00")
		source := testSource("1000.00")
		f.expectTx() // processing + attempt row
		f.expectTx() // completion
		f.repo.On("GetByIDTx", mock.Anything, "refund-1").Return(refund, nil)
		f.sourceRepo.On("GetForUpdate", mock.Anything, "sale", "sale-1").Return(source, nil)
		f.repo.On("SumCommitted", mock.Anything, "sale", "sale-1", "refund-1").Return(decimal.Zero, nil)
		f.txRepo.On("CreateAttempt", mock.Anything, mock.AnythingOfType("*model.RefundTransaction")).Return(nil)
		f.repo.On("UpdateStatus", mock.Anything, "refund-1", mock.Anything).Return(nil)
		f.txRepo.On("ResolveAttempt", mock.Anything, mock.Anything, mock.MatchedBy(func(res repository.AttemptResolution) bool {
			return res.Status == model.TxStatusCompleted && res.GatewayRefundID == "rfnd_123"
		})).Return(nil)
		f.sourceRepo.On("UpdateRefundState", mock.Anything, "sale", "sale-1",
			decimal.RequireFromString("500.00"), sourcemodel.RefundStatusPartial, mock.Anything).Return(nil)

		result, err := f.svc.Process(context.Background(), adminScope(), "refund-1")

		assert.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, result.Status)
		assert.Equal(t, 1, gw.calls)
		assert.Equal(t, "pay_abc", gw.lastReq.PaymentRef)
		assert.NotEmpty(t, gw.lastReq.AttemptID)
		f.sourceRepo.AssertNumberOfCalls(t, "UpdateRefundState", 1)
	})

	t.Run("Full refund flips source to full", func(t *testing.T) {
		f := newFixture(t)
		gw := &fakeGateway{name: "testpay", result: &gateway.RefundResult{Success: true}}
		f.svc.RegisterGateway(gw)

		refund := testRefund(model.StatusApproved, model.MethodMoney, "1000.00")
		f.expectTx()
		f.expectTx()
		f.repo.On("GetByIDTx", mock.Anything, "refund-1").Return(refund, nil)
		f.sourceRepo.On("GetForUpdate", mock.Anything, "sale", "sale-1").Return(testSource("1000.00"), nil)
		f.repo.On("SumCommitted", mock.Anything, "sale", "sale-1", "refund-1").Return(decimal.Zero, nil)
		f.txRepo.On("CreateAttempt", mock.Anything, mock.Anything).Return(nil)
		f.repo.On("UpdateStatus", mock.Anything, "refund-1", mock.Anything).Return(nil)
		f.txRepo.On("ResolveAttempt", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		f.sourceRepo.On("UpdateRefundState", mock.Anything, "sale", "sale-1",
			decimal.RequireFromString("1000.00"), sourcemodel.RefundStatusFull, mock.Anything).Return(nil)

		_, err := f.svc.Process(context.Background(), adminScope(), "refund-1")

		assert.NoError(t, err)
		f.sourceRepo.AssertExpectations(t)
	})

	t.Run("Declined gateway refund marks refund failed", func(t *testing.T) {
		f := newFixture(t)
		gw := &fakeGateway{name: "testpay", result: &gateway.RefundResult{
			Success:     false,
			Status:      "failed",
			RawResponse: []byte(`{"error":"insufficient balance"}`),
			Message:     "insufficient balance in merchant account",
		}}
		f.svc.RegisterGateway(gw)

		refund := testRefund(model.StatusApproved, model.MethodMoney, "500.00")
		f.expectTx() // processing
		f.expectTx() // fail resolution
		f.repo.On("GetByIDTx", mock.Anything, "refund-1").Return(refund, nil)
		f.sourceRepo.On("GetForUpdate", mock.Anything, "sale", "sale-1").Return(testSource("1000.00"), nil)
		f.repo.On("SumCommitted", mock.Anything, "sale", "sale-1", "refund-1").Return(decimal.Zero, nil)
		f.txRepo.On("CreateAttempt", mock.Anything, mock.Anything).Return(nil)
		f.repo.On("UpdateStatus", mock.Anything, "refund-1", mock.Anything).Return(nil)
		f.txRepo.On("ResolveAttempt", mock.Anything, mock.Anything, mock.MatchedBy(func(res repository.AttemptResolution) bool {
			return res.Status == model.TxStatusFailed && res.FailureReason != ""
		})).Return(nil)

		result, err := f.svc.Process(context.Background(), adminScope(), "refund-1")

		var gatewayErr *GatewayError
		assert.ErrorAs(t, err, &gatewayErr)
		assert.Equal(t, model.StatusFailed, result.Status)
		// source is never touched on failure
		f.sourceRepo.AssertNotCalled(t, "UpdateRefundState",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Gateway timeout marks refund failed with the context error", func(t *testing.T) {
		f := newFixture(t)
		gw := &fakeGateway{name: "testpay", err: context.DeadlineExceeded}
		f.svc.RegisterGateway(gw)

		refund := testRefund(model.StatusApproved, model.MethodMoney, "500.00")
		f.expectTx() // processing
		f.expectTx() // fail resolution
		f.repo.On("GetByIDTx", mock.Anything, "refund-1").Return(refund, nil)
		f.sourceRepo.On("GetForUpdate", mock.Anything, "sale", "sale-1").Return(testSource("1000.00"), nil)
		f.repo.On("SumCommitted", mock.Anything, "sale", "sale-1", "refund-1").Return(decimal.Zero, nil)
		f.txRepo.On("CreateAttempt", mock.Anything, mock.Anything).Return(nil)
		f.repo.On("UpdateStatus", mock.Anything, "refund-1", mock.Anything).Return(nil)
		f.txRepo.On("ResolveAttempt", mock.Anything, mock.Anything, mock.MatchedBy(func(res repository.AttemptResolution) bool {
			return res.Status == model.TxStatusFailed &&
				res.FailureReason == context.DeadlineExceeded.Error()
		})).Return(nil)

		result, err := f.svc.Process(context.Background(), adminScope(), "refund-1")

		var gatewayErr *GatewayError
		assert.ErrorAs(t, err, &gatewayErr)
		assert.Equal(t, model.StatusFailed, result.Status)
		f.sourceRepo.AssertNotCalled(t, "UpdateRefundState",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Unknown gateway leaves refund approved", func(t *testing.T) {
		f := newFixture(t)
		refund := testRefund(model.StatusApproved, model.MethodMoney, "500.00")
		f.expectRollback()
		f.repo.On("GetByIDTx", mock.Anything, "refund-1").Return(refund, nil)
		f.sourceRepo.On("GetForUpdate", mock.Anything, "sale", "sale-1").Return(testSource("1000.00"), nil)
		f.repo.On("SumCommitted", mock.Anything, "sale", "sale-1", "refund-1").Return(decimal.Zero, nil)

		_, err := f.svc.Process(context.Background(), adminScope(), "refund-1")

		assert.ErrorIs(t, err, ErrUnknownGateway)
		f.txRepo.AssertNotCalled(t, "CreateAttempt", mock.Anything, mock.Anything)
	})

	t.Run("Credit note refunds never process", func(t *testing.T) {
		f := newFixture(t)
		refund := testRefund(model.StatusApproved, model.MethodCreditNote, "300.00")
		f.expectRollback()
		f.repo.On("GetByIDTx", mock.Anything, "refund-1").Return(refund, nil)

		_, err := f.svc.Process(context.Background(), adminScope(), "refund-1")

		var invalidState *InvalidStateError
		assert.ErrorAs(t, err, &invalidState)
	})

	t.Run("Manual refund stays processing until proof", func(t *testing.T) {
		f := newFixture(t)
		refund := testRefund(model.StatusApproved, model.MethodManual, "200.00")
		f.expectTx()
		f.repo.On("GetByIDTx", mock.Anything, "refund-1").Return(refund, nil)
		f.sourceRepo.On("GetForUpdate", mock.Anything, "sale", "sale-1").Return(testSource("1000.00"), nil)
		f.repo.On("SumCommitted", mock.Anything, "sale", "sale-1", "refund-1").Return(decimal.Zero, nil)
		f.txRepo.On("CreateAttempt", mock.Anything, mock.MatchedBy(func(a *model.RefundTransaction) bool {
			return a.Gateway == model.GatewayManual && a.Status == model.TxStatusPending
		})).Return(nil)
		f.repo.On("UpdateStatus", mock.Anything, "refund-1", mock.Anything).Return(nil)

		result, err := f.svc.Process(context.Background(), adminScope(), "refund-1")

		assert.NoError(t, err)
		assert.Equal(t, model.StatusProcessing, result.Status)
		f.txRepo.AssertExpectations(t)
	})
}

func TestRetry(t *testing.T) {
	t.Run("Retry opens a fresh attempt row", func(t *testing.T) {
		f := newFixture(t)
		gw := &fakeGateway{name: "testpay", result: &gateway.RefundResult{Success: true}}
		f.svc.RegisterGateway(gw)

		refund := testRefund(model.StatusFailed, model.MethodMoney, "500.00")
		f.expectTx()
		f.expectTx()
		f.repo.On("GetByIDTx", mock.Anything, "refund-1").Return(refund, nil)
		f.sourceRepo.On("GetForUpdate", mock.Anything, "sale", "sale-1").Return(testSource("1000.00"), nil)
		f.repo.On("SumCommitted", mock.Anything, "sale", "sale-1", "refund-1").Return(decimal.Zero, nil)
		f.txRepo.On("CreateAttempt", mock.Anything, mock.Anything).Return(nil)
		f.repo.On("UpdateStatus", mock.Anything, "refund-1", mock.Anything).Return(nil)
		f.txRepo.On("ResolveAttempt", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		f.sourceRepo.On("UpdateRefundState", mock.Anything, "sale", "sale-1",
			mock.Anything, mock.Anything, mock.Anything).Return(nil)

		result, err := f.svc.Retry(context.Background(), adminScope(), "refund-1")

		assert.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, result.Status)
		f.txRepo.AssertNumberOfCalls(t, "CreateAttempt", 1)
	})

	t.Run("Only failed refunds can retry", func(t *testing.T) {
		f := newFixture(t)
		refund := testRefund(model.StatusApproved, model.MethodMoney, "500.00")
		f.expectRollback()
		f.repo.On("GetByIDTx", mock.Anything, "refund-1").Return(refund, nil)

		_, err := f.svc.Retry(context.Background(), adminScope(), "refund-1")

		var invalidState *InvalidStateError
		assert.ErrorAs(t, err, &invalidState)
	})
}

func TestCompleteWithProof(t *testing.T) {
	t.Run("Bank transfer completes with proof", func(t *testing.T) {
		f := newFixture(t)
		refund := testRefund(model.StatusProcessing, model.MethodBankTransfer, "200.00")
		attempt := &model.RefundTransaction{RefundID: "refund-1", TransactionID: "RTX1", Status: model.TxStatusPending}
		attempt.ID = "attempt-1"

		f.expectTx()
		f.repo.On("GetByIDTx", mock.Anything, "refund-1").Return(refund, nil)
		f.sourceRepo.On("GetForUpdate", mock.Anything, "sale", "sale-1").Return(testSource("1000.00"), nil)
		f.txRepo.On("LatestOpenAttempt", mock.Anything, "refund-1").Return(attempt, nil)
		f.txRepo.On("ResolveAttempt", mock.Anything, "attempt-1", mock.MatchedBy(func(res repository.AttemptResolution) bool {
			return res.Status == model.TxStatusCompleted && res.ProofPath == "refund-proofs/RF1/x.pdf"
		})).Return(nil)
		f.repo.On("UpdateStatus", mock.Anything, "refund-1", mock.Anything).Return(nil)
		f.sourceRepo.On("UpdateRefundState", mock.Anything, "sale", "sale-1",
			decimal.RequireFromString("200.00"), sourcemodel.RefundStatusPartial, mock.Anything).Return(nil)

		result, err := f.svc.CompleteWithProof(adminScope(), "refund-1", "refund-proofs/RF1/x.pdf")

		assert.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, result.Status)
	})

	t.Run("Money refunds cannot complete via proof", func(t *testing.T) {
		f := newFixture(t)
		refund := testRefund(model.StatusProcessing, model.MethodMoney, "200.00")
		f.expectRollback()
		f.repo.On("GetByIDTx", mock.Anything, "refund-1").Return(refund, nil)

		_, err := f.svc.CompleteWithProof(adminScope(), "refund-1", "refund-proofs/RF1/x.pdf")

		var invalidState *InvalidStateError
		assert.ErrorAs(t, err, &invalidState)
	})
}

func TestSetItemQC(t *testing.T) {
	t.Run("Mark item as passed", func(t *testing.T) {
		f := newFixture(t)
		refund := testRefund(model.StatusPending, model.MethodMoney, "200.00")
		f.repo.On("GetByID", "refund-1").Return(refund, nil)
		f.repo.On("UpdateItemQC", "refund-1", "item-1", model.QCStatusPassed).Return(int64(1), nil)

		err := f.svc.SetItemQC(adminScope(), "refund-1", "item-1", model.QCStatusPassed)

		assert.NoError(t, err)
	})

	t.Run("QC only applies while pending", func(t *testing.T) {
		f := newFixture(t)
		refund := testRefund(model.StatusApproved, model.MethodMoney, "200.00")
		f.repo.On("GetByID", "refund-1").Return(refund, nil)

		err := f.svc.SetItemQC(adminScope(), "refund-1", "item-1", model.QCStatusFailed)

		var invalidState *InvalidStateError
		assert.ErrorAs(t, err, &invalidState)
	})

	t.Run("Unknown item", func(t *testing.T) {
		f := newFixture(t)
		refund := testRefund(model.StatusPending, model.MethodMoney, "200.00")
		f.repo.On("GetByID", "refund-1").Return(refund, nil)
		f.repo.On("UpdateItemQC", "refund-1", "nope", model.QCStatusPassed).Return(int64(0), nil)

		err := f.svc.SetItemQC(adminScope(), "refund-1", "nope", model.QCStatusPassed)

		assert.ErrorIs(t, err, ErrRefundNotFound)
	})
}

func TestGetEligibility(t *testing.T) {
	t.Run("Remaining clamps at zero", func(t *testing.T) {
		f := newFixture(t)
		f.sourceRepo.On("Get", "sale", "sale-1").Return(testSource("1000.00"), nil)
		f.repo.On("SumActive", mock.Anything, "sale", "sale-1").Return(decimal.RequireFromString("1000.00"), nil)

		elig, err := f.svc.GetEligibility(adminScope(), "sale", "sale-1")

		assert.NoError(t, err)
		assert.False(t, elig.IsEligible)
		assert.True(t, elig.Remaining.IsZero())
	})

	t.Run("Vendor cannot see other vendors' sources", func(t *testing.T) {
		f := newFixture(t)
		source := testSource("1000.00")
		otherVendor := "vendor-2"
		source.VendorID = &otherVendor
		f.sourceRepo.On("Get", "sale", "sale-1").Return(source, nil)

		vendorID := "vendor-1"
		sc := scope.Scope{ActorID: "staff-1", Role: utils.RoleVendor, VendorID: &vendorID}
		_, err := f.svc.GetEligibility(sc, "sale", "sale-1")

		assert.ErrorIs(t, err, ErrSourceNotFound)
	})
}

func TestGetDetail(t *testing.T) {
	t.Run("Customer view hides gateway attempts", func(t *testing.T) {
		f := newFixture(t)
		refund := testRefund(model.StatusCompleted, model.MethodMoney, "500.00")
		f.repo.On("GetByID", "refund-1").Return(refund, nil)

		detail, err := f.svc.Get(customerScope("cust-1"), "refund-1")

		assert.NoError(t, err)
		assert.Nil(t, detail.Attempts)
		f.txRepo.AssertNotCalled(t, "ListByRefund", mock.Anything)
	})

	t.Run("Admin view includes gateway attempts", func(t *testing.T) {
		f := newFixture(t)
		refund := testRefund(model.StatusCompleted, model.MethodMoney, "500.00")
		f.repo.On("GetByID", "refund-1").Return(refund, nil)
		f.txRepo.On("ListByRefund", "refund-1").Return([]model.RefundTransaction{
			{RefundID: "refund-1", TransactionID: "RTX1", Status: model.TxStatusFailed},
			{RefundID: "refund-1", TransactionID: "RTX2", Status: model.TxStatusCompleted},
		}, nil)

		detail, err := f.svc.Get(adminScope(), "refund-1")

		assert.NoError(t, err)
		assert.Len(t, detail.Attempts, 2)
	})
}
