package checkout_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/smallbiznis/studiodesk/internal/clock"
	"github.com/smallbiznis/studiodesk/internal/config"
	customerrepo "github.com/smallbiznis/studiodesk/internal/customer/repository"
	ledgerdomain "github.com/smallbiznis/studiodesk/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/studiodesk/internal/ledger/repository"
	"github.com/smallbiznis/studiodesk/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/studiodesk/internal/order/domain"
	orderrepo "github.com/smallbiznis/studiodesk/internal/order/repository"
	orderservice "github.com/smallbiznis/studiodesk/internal/order/service"
	"github.com/smallbiznis/studiodesk/internal/payment/checkout"
	"github.com/smallbiznis/studiodesk/internal/payment/domain"
	"github.com/smallbiznis/studiodesk/internal/providers/email"
	"github.com/smallbiznis/studiodesk/internal/providers/pdf"
)

type sessionCall struct {
	req domain.SessionRequest
}

type fakeProcessor struct {
	customers int
	sessions  []sessionCall
}

func (f *fakeProcessor) EnsureCustomer(ctx context.Context, name, email, localID string) (string, error) {
	f.customers++
	return fmt.Sprintf("cus_%d", f.customers), nil
}

func (f *fakeProcessor) CreateSession(ctx context.Context, req domain.SessionRequest) (*domain.Session, error) {
	f.sessions = append(f.sessions, sessionCall{req: req})
	return &domain.Session{ID: fmt.Sprintf("cs_%d", len(f.sessions)), URL: "https://pay.test/session"}, nil
}

func (f *fakeProcessor) CreateRefund(ctx context.Context, providerRef string, amount int64) (*domain.RefundResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeProcessor) ResolveMandate(ctx context.Context, setupRef string) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeProcessor) CreateOffSessionCharge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	return nil, errors.New("not used")
}

type recordingEmail struct {
	sent []email.Message
}

func (r *recordingEmail) Send(ctx context.Context, msg email.Message) error {
	r.sent = append(r.sent, msg)
	return nil
}

type fakePDF struct{}

func (fakePDF) RenderOrderInvoice(ctx context.Context, data pdf.InvoiceData) ([]byte, error) {
	return []byte("%PDF-1.4 fake"), nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	schema := []string{
		`CREATE TABLE customers (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			currency TEXT NOT NULL DEFAULT '',
			processor_customer_id TEXT NOT NULL DEFAULT '',
			mandate_ref TEXT NOT NULL DEFAULT '',
			mandate_active BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE orders (
			id BIGINT PRIMARY KEY,
			customer_id BIGINT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			items TEXT,
			deposit_amount BIGINT NOT NULL,
			balance_amount BIGINT NOT NULL,
			total_paid BIGINT NOT NULL DEFAULT 0,
			deposit_paid BOOLEAN NOT NULL DEFAULT FALSE,
			balance_paid BOOLEAN NOT NULL DEFAULT FALSE,
			status TEXT NOT NULL DEFAULT 'in_progress',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE ledger_entries (
			id BIGINT PRIMARY KEY,
			order_id BIGINT,
			customer_id BIGINT NOT NULL,
			amount BIGINT NOT NULL,
			category TEXT NOT NULL,
			method TEXT NOT NULL,
			provider_ref TEXT NOT NULL DEFAULT '',
			provider_event_id TEXT,
			provider_status TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema exec failed: %v", err)
		}
	}
	return db
}

type fixture struct {
	db        *gorm.DB
	node      *snowflake.Node
	svc       domain.CheckoutService
	processor *fakeProcessor
	email     *recordingEmail
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(4)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	orderSvc := orderservice.NewService(orderservice.Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Repo:       orderrepo.Provide(),
		LedgerRepo: ledgerrepo.Provide(),
	})

	processor := &fakeProcessor{}
	mail := &recordingEmail{}
	svc := checkout.NewService(checkout.Params{
		DB:           db,
		Log:          zap.NewNop(),
		Config:       config.Config{AppName: "studiodesk", Currency: "gbp"},
		Clock:        clock.NewSystemClock(),
		OrderRepo:    orderrepo.Provide(),
		OrderService: orderSvc,
		CustomerRepo: customerrepo.Provide(),
		LedgerRepo:   ledgerrepo.Provide(),
		Processor:    processor,
		Email:        mail,
		PDF:          fakePDF{},
		Metrics:      metrics.New(prometheus.NewRegistry()),
	})

	return &fixture{db: db, node: node, svc: svc, processor: processor, email: mail}
}

func (f *fixture) seedCustomer(t *testing.T) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	now := time.Now().UTC()
	if err := f.db.Exec(
		`INSERT INTO customers (id, name, email, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, "Sam Taylor", "sam@example.com", now, now,
	).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	return id
}

func (f *fixture) seedOrder(t *testing.T, customerID snowflake.ID, deposit, balance int64) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	now := time.Now().UTC()
	if err := f.db.Exec(
		`INSERT INTO orders (id, customer_id, title, items, deposit_amount, balance_amount, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, customerID, "Bathroom refit", `[{"description":"Labour","quantity":2,"unit_amount":10000}]`, deposit, balance, now, now,
	).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return id
}

func TestCreateCheckoutBuildsSessionWithMetadata(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedCustomer(t)
	orderID := f.seedOrder(t, customerID, 5000, 15000)

	session, err := f.svc.CreateCheckout(context.Background(), orderID, domain.FlowCardPayment, ledgerdomain.CategoryDeposit)
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if session.URL == "" {
		t.Fatalf("expected session url")
	}

	if len(f.processor.sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(f.processor.sessions))
	}
	req := f.processor.sessions[0].req
	if req.Mode != domain.ModePayment {
		t.Fatalf("expected payment mode, got %s", req.Mode)
	}
	if req.Amount != 5000 {
		t.Fatalf("expected amount 5000, got %d", req.Amount)
	}
	if req.Metadata["order_id"] != orderID.String() ||
		req.Metadata["customer_id"] != customerID.String() ||
		req.Metadata["category"] != "deposit" {
		t.Fatalf("unexpected metadata %v", req.Metadata)
	}

	// No ledger rows before money moves.
	var count int64
	if err := f.db.Raw(`SELECT COUNT(1) FROM ledger_entries`).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no local writes, got %d rows", count)
	}

	if len(f.email.sent) != 1 {
		t.Fatalf("expected payment link email")
	}
	if len(f.email.sent[0].Attachments) != 1 || f.email.sent[0].Attachments[0].ContentType != "application/pdf" {
		t.Fatalf("expected pdf attachment, got %+v", f.email.sent[0].Attachments)
	}
}

func TestCreateCheckoutRefusesWhenNothingOwed(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedCustomer(t)
	orderID := f.seedOrder(t, customerID, 5000, 15000)

	if err := f.db.Exec(
		`INSERT INTO ledger_entries (id, order_id, customer_id, amount, category, method, status, created_at)
		 VALUES (?, ?, ?, 5000, 'deposit', 'card', 'paid', ?)`,
		f.node.Generate(), orderID, customerID, time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("seed paid deposit: %v", err)
	}

	_, err := f.svc.CreateCheckout(context.Background(), orderID, domain.FlowCardPayment, ledgerdomain.CategoryDeposit)
	if !errors.Is(err, orderdomain.ErrNothingOwed) {
		t.Fatalf("expected ErrNothingOwed, got %v", err)
	}
	if len(f.processor.sessions) != 0 {
		t.Fatalf("expected no external session call")
	}
}

func TestCreateCheckoutPersistsProcessorCustomerOnce(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedCustomer(t)
	orderID := f.seedOrder(t, customerID, 5000, 15000)

	ctx := context.Background()
	if _, err := f.svc.CreateCheckout(ctx, orderID, domain.FlowCardPayment, ledgerdomain.CategoryDeposit); err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	if _, err := f.svc.CreateCheckout(ctx, orderID, domain.FlowCardPayment, ledgerdomain.CategoryBalance); err != nil {
		t.Fatalf("second checkout: %v", err)
	}

	if f.processor.customers != 1 {
		t.Fatalf("expected one processor customer, got %d", f.processor.customers)
	}
	var processorID string
	if err := f.db.Raw(`SELECT processor_customer_id FROM customers WHERE id = ?`, customerID).Scan(&processorID).Error; err != nil {
		t.Fatalf("scan: %v", err)
	}
	if processorID != "cus_1" {
		t.Fatalf("expected cus_1 persisted, got %q", processorID)
	}
}

func TestCreateCheckoutMandateSetup(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedCustomer(t)
	orderID := f.seedOrder(t, customerID, 5000, 15000)

	session, err := f.svc.CreateCheckout(context.Background(), orderID, domain.FlowMandateSetup, "")
	if err != nil {
		t.Fatalf("mandate setup: %v", err)
	}
	if session.ID == "" {
		t.Fatalf("expected session")
	}

	req := f.processor.sessions[0].req
	if req.Mode != domain.ModeSetup {
		t.Fatalf("expected setup mode, got %s", req.Mode)
	}
	if req.Method != ledgerdomain.MethodBankDebit {
		t.Fatalf("expected bank debit method, got %s", req.Method)
	}
	if _, ok := req.Metadata["order_id"]; ok {
		t.Fatalf("setup session should not carry order metadata")
	}
}

func TestCreateCheckoutUnknownOrder(t *testing.T) {
	f := newFixture(t)
	f.seedCustomer(t)

	_, err := f.svc.CreateCheckout(context.Background(), f.node.Generate(), domain.FlowCardPayment, ledgerdomain.CategoryDeposit)
	if !errors.Is(err, orderdomain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
