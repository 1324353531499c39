package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/studiodesk/internal/config"
	ledgerdomain "github.com/smallbiznis/studiodesk/internal/ledger/domain"
	orderdomain "github.com/smallbiznis/studiodesk/internal/order/domain"
	paymentdomain "github.com/smallbiznis/studiodesk/internal/payment/domain"
	"github.com/smallbiznis/studiodesk/internal/server"
)

type fakeOrderService struct {
	createErr error
	getErr    error
	owed      int64
	owedErr   error
	deleteErr error
	created   *orderdomain.AcceptedQuote
}

func (f *fakeOrderService) CreateFromQuote(ctx context.Context, quote orderdomain.AcceptedQuote) (*orderdomain.Order, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = &quote
	return &orderdomain.Order{
		ID:            snowflake.ID(1001),
		CustomerID:    quote.CustomerID,
		Title:         quote.Title,
		DepositAmount: quote.Deposit,
		BalanceAmount: quote.Total - quote.Deposit,
		Status:        orderdomain.StatusInProgress,
	}, nil
}

func (f *fakeOrderService) Get(ctx context.Context, id snowflake.ID) (*orderdomain.Order, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &orderdomain.Order{ID: id, Title: "Kitchen refit"}, nil
}

func (f *fakeOrderService) AmountOwed(ctx context.Context, id snowflake.ID, category ledgerdomain.Category) (int64, error) {
	if f.owedErr != nil {
		return 0, f.owedErr
	}
	return f.owed, nil
}

func (f *fakeOrderService) Delete(ctx context.Context, id snowflake.ID) error {
	return f.deleteErr
}

type fakeCheckoutService struct {
	err  error
	flow paymentdomain.Flow
}

func (f *fakeCheckoutService) CreateCheckout(ctx context.Context, orderID snowflake.ID, flow paymentdomain.Flow, category ledgerdomain.Category) (*paymentdomain.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.flow = flow
	return &paymentdomain.Session{ID: "cs_1", URL: "https://pay.test/cs_1"}, nil
}

type fakeWebhookService struct {
	err     error
	payload []byte
}

func (f *fakeWebhookService) HandleEvent(ctx context.Context, payload []byte, signatureHeader string) error {
	f.payload = payload
	return f.err
}

type fakeRefundService struct {
	err    error
	amount int64
}

func (f *fakeRefundService) Refund(ctx context.Context, entryID snowflake.ID, amount int64) (*ledgerdomain.Entry, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.amount = amount
	return &ledgerdomain.Entry{ID: snowflake.ID(2002), Amount: -amount, Status: ledgerdomain.StatusRefunded}, nil
}

type fakeRecurringService struct {
	err    error
	report *paymentdomain.BatchReport
}

func (f *fakeRecurringService) BillAll(ctx context.Context, amount int64, description string) (*paymentdomain.BatchReport, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.report, nil
}

type fakeAudit struct{}

func (fakeAudit) AuditLog(ctx context.Context, action, targetType, targetID string, metadata map[string]any) error {
	return nil
}

type fixture struct {
	engine    *gin.Engine
	orders    *fakeOrderService
	checkout  *fakeCheckoutService
	webhook   *fakeWebhookService
	refund    *fakeRefundService
	recurring *fakeRecurringService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	node, err := snowflake.NewNode(8)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	f := &fixture{
		orders:    &fakeOrderService{},
		checkout:  &fakeCheckoutService{},
		webhook:   &fakeWebhookService{},
		refund:    &fakeRefundService{},
		recurring: &fakeRecurringService{report: &paymentdomain.BatchReport{}},
	}

	engine := server.NewEngine()
	srv := server.NewServer(server.ServerParams{
		Gin:          engine,
		Cfg:          config.Config{AdminPassword: "hunter2"},
		Log:          zap.NewNop(),
		GenID:        node,
		OrderSvc:     f.orders,
		CheckoutSvc:  f.checkout,
		WebhookSvc:   f.webhook,
		RefundSvc:    f.refund,
		RecurringSvc: f.recurring,
		AuditSvc:     fakeAudit{},
	})
	srv.RegisterRoutes()
	f.engine = engine
	return f
}

func (f *fixture) do(method, path, body, password string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if password != "" {
		req.Header.Set("X-Admin-Password", password)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func TestAdminRoutesRejectMissingPassword(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/v1/orders/1001", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	w = f.do(http.MethodGet, "/v1/orders/1001", "", "wrong")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", w.Code)
	}
}

func TestWebhookSkipsAdminAuth(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/v1/payments/webhook", `{"id":"evt_1"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if string(f.webhook.payload) != `{"id":"evt_1"}` {
		t.Fatalf("payload not forwarded: %s", f.webhook.payload)
	}
}

func TestWebhookBadSignatureMaps400(t *testing.T) {
	f := newFixture(t)
	f.webhook.err = paymentdomain.ErrInvalidSignature

	w := f.do(http.MethodPost, "/v1/payments/webhook", `{}`, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestWebhookAcceptsLargeEvent(t *testing.T) {
	f := newFixture(t)

	// Events with expanded refund lists can run past 64 KiB.
	body := fmt.Sprintf(`{"id":"evt_big","padding":"%s"}`, strings.Repeat("x", 100_000))
	w := f.do(http.MethodPost, "/v1/payments/webhook", body, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(f.webhook.payload) != len(body) {
		t.Fatalf("expected full payload forwarded, got %d of %d bytes", len(f.webhook.payload), len(body))
	}
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)

	body := `{
		"customer_id": "42",
		"title": "Bathroom refit",
		"items": [{"description": "Labour", "quantity": 2, "unit_amount": "100.00"}],
		"total": "200.00",
		"deposit": "50.00"
	}`
	w := f.do(http.MethodPost, "/v1/orders", body, "hunter2")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if f.orders.created == nil {
		t.Fatalf("service not called")
	}
	if f.orders.created.Total != 20000 || f.orders.created.Deposit != 5000 {
		t.Fatalf("amounts not parsed to minor units: %+v", f.orders.created)
	}
}

func TestCreateOrderRejectsSubPennyAmount(t *testing.T) {
	f := newFixture(t)

	body := `{"customer_id": "42", "title": "Refit", "total": "200.001", "deposit": "50.00"}`
	w := f.do(http.MethodPost, "/v1/orders", body, "hunter2")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if f.orders.created != nil {
		t.Fatalf("service must not be called")
	}
}

func TestCreateOrderMapsInvalidQuote(t *testing.T) {
	f := newFixture(t)
	f.orders.createErr = orderdomain.ErrInvalidQuote

	body := `{"customer_id": "42", "title": "Refit", "total": "100.00", "deposit": "200.00"}`
	w := f.do(http.MethodPost, "/v1/orders", body, "hunter2")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	f := newFixture(t)
	f.orders.getErr = orderdomain.ErrNotFound

	w := f.do(http.MethodGet, "/v1/orders/1001", "", "hunter2")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestDeleteOrder(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodDelete, "/v1/orders/1001", "", "hunter2")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	f.orders.deleteErr = orderdomain.ErrNotFound
	w = f.do(http.MethodDelete, "/v1/orders/1001", "", "hunter2")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown order, got %d", w.Code)
	}
}

func TestGetAmountOwed(t *testing.T) {
	f := newFixture(t)
	f.orders.owed = 15000

	w := f.do(http.MethodGet, "/v1/orders/1001/amount-owed?category=balance", "", "hunter2")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		AmountOwed int64  `json:"amount_owed"`
		Formatted  string `json:"formatted"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AmountOwed != 15000 {
		t.Fatalf("expected 15000, got %d", resp.AmountOwed)
	}
	if resp.Formatted == "" {
		t.Fatalf("expected formatted amount")
	}
}

func TestGetAmountOwedRejectsMonthly(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/v1/orders/1001/amount-owed?category=monthly", "", "hunter2")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreateCheckout(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/v1/orders/1001/checkout", `{"flow":"card_payment","category":"deposit"}`, "hunter2")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		SessionID string `json:"session_id"`
		URL       string `json:"url"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SessionID != "cs_1" || resp.URL == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCreateCheckoutRejectsUnknownFlow(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/v1/orders/1001/checkout", `{"flow":"wire_transfer"}`, "hunter2")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreateCheckoutNothingOwedMaps409(t *testing.T) {
	f := newFixture(t)
	f.checkout.err = orderdomain.ErrNothingOwed

	w := f.do(http.MethodPost, "/v1/orders/1001/checkout", `{"flow":"card_payment","category":"deposit"}`, "hunter2")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestRefundEmptyBodyMeansFullRefund(t *testing.T) {
	f := newFixture(t)
	f.refund.amount = -1

	w := f.do(http.MethodPost, "/v1/ledger/2002/refund", "", "hunter2")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if f.refund.amount != 0 {
		t.Fatalf("expected zero amount forwarded, got %d", f.refund.amount)
	}
}

func TestRefundProcessorFailureMaps502(t *testing.T) {
	f := newFixture(t)
	f.refund.err = paymentdomain.ErrProcessorFailure

	w := f.do(http.MethodPost, "/v1/ledger/2002/refund", `{"amount":"20.00"}`, "hunter2")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestRunBillingConcurrentRunMaps409(t *testing.T) {
	f := newFixture(t)
	f.recurring.err = paymentdomain.ErrBatchAlreadyActive

	w := f.do(http.MethodPost, "/v1/billing/run", "", "hunter2")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestRunBillingReturnsReport(t *testing.T) {
	f := newFixture(t)
	f.recurring.report = &paymentdomain.BatchReport{Attempted: 3, Charged: 2, Failed: 1}

	w := f.do(http.MethodPost, "/v1/billing/run", `{"amount":"25.00"}`, "hunter2")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var report paymentdomain.BatchReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Charged != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestUnknownErrorMaps500(t *testing.T) {
	f := newFixture(t)
	f.orders.getErr = errors.New("boom")

	w := f.do(http.MethodGet, "/v1/orders/1001", "", "hunter2")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
