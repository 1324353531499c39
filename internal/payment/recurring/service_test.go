package recurring_test

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

	auditservice "github.com/smallbiznis/studiodesk/internal/audit/service"
	"github.com/smallbiznis/studiodesk/internal/clock"
	"github.com/smallbiznis/studiodesk/internal/config"
	customerrepo "github.com/smallbiznis/studiodesk/internal/customer/repository"
	ledgerrepo "github.com/smallbiznis/studiodesk/internal/ledger/repository"
	"github.com/smallbiznis/studiodesk/internal/observability/metrics"
	"github.com/smallbiznis/studiodesk/internal/payment/domain"
	"github.com/smallbiznis/studiodesk/internal/payment/recurring"
	"github.com/smallbiznis/studiodesk/internal/providers/email"
)

// chargeBehaviour keys on the processor customer id.
type chargeBehaviour struct {
	err    error
	status string
}

type fakeProcessor struct {
	behaviours map[string]chargeBehaviour
	charges    []domain.ChargeRequest
}

func (f *fakeProcessor) EnsureCustomer(ctx context.Context, name, email, localID string) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeProcessor) CreateSession(ctx context.Context, req domain.SessionRequest) (*domain.Session, error) {
	return nil, errors.New("not used")
}

func (f *fakeProcessor) CreateRefund(ctx context.Context, providerRef string, amount int64) (*domain.RefundResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeProcessor) ResolveMandate(ctx context.Context, setupRef string) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeProcessor) CreateOffSessionCharge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	f.charges = append(f.charges, req)
	b := f.behaviours[req.ProcessorCustomerID]
	if b.err != nil {
		return nil, b.err
	}
	status := b.status
	if status == "" {
		status = "succeeded"
	}
	return &domain.ChargeResult{
		ProviderRef:    fmt.Sprintf("pi_batch_%d", len(f.charges)),
		ProviderStatus: status,
		Succeeded:      status == "succeeded",
	}, nil
}

type recordingEmail struct {
	sent []email.Message
}

func (r *recordingEmail) Send(ctx context.Context, msg email.Message) error {
	r.sent = append(r.sent, msg)
	return nil
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
		`CREATE UNIQUE INDEX uq_ledger_entries_provider_event
			ON ledger_entries (provider_event_id)
			WHERE provider_event_id IS NOT NULL`,
		`CREATE TABLE audit_logs (
			id BIGINT PRIMARY KEY,
			action TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id TEXT NOT NULL,
			metadata TEXT,
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
	svc       domain.RecurringService
	processor *fakeProcessor
	email     *recordingEmail
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(6)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	processor := &fakeProcessor{behaviours: map[string]chargeBehaviour{}}
	mail := &recordingEmail{}
	svc := recurring.NewService(recurring.Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        clock.NewSystemClock(),
		Config:       config.Config{Currency: "gbp"},
		Billing:      &config.BillingConfigHolder{},
		CustomerRepo: customerrepo.Provide(),
		LedgerRepo:   ledgerrepo.Provide(),
		Processor:    processor,
		Email:        mail,
		Audit:        auditservice.NewService(auditservice.Params{DB: db, Log: zap.NewNop(), GenID: node}),
		Metrics:      metrics.New(prometheus.NewRegistry()),
	})
	return &fixture{db: db, node: node, svc: svc, processor: processor, email: mail}
}

func (f *fixture) seedMandateCustomer(t *testing.T, processorID string) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	now := time.Now().UTC()
	if err := f.db.Exec(
		`INSERT INTO customers (id, name, email, processor_customer_id, mandate_ref, mandate_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'pm_bacs', TRUE, ?, ?)`,
		id, "Client "+processorID, processorID+"@example.com", processorID, now, now,
	).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	return id
}

func TestBillAllChargesEveryMandateCustomer(t *testing.T) {
	f := newFixture(t)
	f.seedMandateCustomer(t, "cus_a")
	f.seedMandateCustomer(t, "cus_b")

	report, err := f.svc.BillAll(context.Background(), 2500, "Monthly hosting")
	if err != nil {
		t.Fatalf("bill all: %v", err)
	}
	if report.Attempted != 2 || report.Charged != 2 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	var count int64
	if err := f.db.Raw(`SELECT COUNT(1) FROM ledger_entries WHERE category = 'monthly' AND status = 'paid' AND order_id IS NULL`).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 paid monthly rows, got %d", count)
	}
	if len(f.email.sent) != 2 {
		t.Fatalf("expected 2 receipts, got %d", len(f.email.sent))
	}
}

func TestBillAllContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	f.seedMandateCustomer(t, "cus_ok")
	f.seedMandateCustomer(t, "cus_err")
	f.seedMandateCustomer(t, "cus_declined")
	f.processor.behaviours["cus_err"] = chargeBehaviour{err: errors.New("stripe unreachable")}
	f.processor.behaviours["cus_declined"] = chargeBehaviour{status: "requires_payment_method"}

	report, err := f.svc.BillAll(context.Background(), 2500, "Monthly hosting")
	if err != nil {
		t.Fatalf("bill all: %v", err)
	}
	if report.Attempted != 3 || report.Charged != 1 || report.Failed != 2 {
		t.Fatalf("unexpected report %+v", report)
	}

	failed := 0
	for _, r := range report.Results {
		if r.Error != "" {
			failed++
		}
	}
	if failed != 2 {
		t.Fatalf("expected 2 results with errors, got %d", failed)
	}

	// A transport error leaves no ledger row; a declined charge leaves a
	// failed one.
	var rows int64
	if err := f.db.Raw(`SELECT COUNT(1) FROM ledger_entries`).Scan(&rows).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 2 {
		t.Fatalf("expected 2 ledger rows, got %d", rows)
	}
}

func TestBillAllRecordsPendingForSlowDebits(t *testing.T) {
	f := newFixture(t)
	f.seedMandateCustomer(t, "cus_slow")
	f.processor.behaviours["cus_slow"] = chargeBehaviour{status: "processing"}

	report, err := f.svc.BillAll(context.Background(), 2500, "Monthly hosting")
	if err != nil {
		t.Fatalf("bill all: %v", err)
	}
	if report.Charged != 1 {
		t.Fatalf("pending debit counts as charged, got %+v", report)
	}

	var status string
	if err := f.db.Raw(`SELECT status FROM ledger_entries WHERE provider_ref = 'pi_batch_1'`).Scan(&status).Error; err != nil {
		t.Fatalf("scan: %v", err)
	}
	if status != "pending" {
		t.Fatalf("expected pending row, got %s", status)
	}
}

func TestBillAllDefaultsFromBillingConfig(t *testing.T) {
	f := newFixture(t)
	f.seedMandateCustomer(t, "cus_a")

	if _, err := f.svc.BillAll(context.Background(), 0, ""); err != nil {
		t.Fatalf("bill all: %v", err)
	}
	if len(f.processor.charges) != 1 {
		t.Fatalf("expected one charge")
	}
	defaults := config.DefaultBillingConfig()
	if f.processor.charges[0].Amount != defaults.MonthlyAmount {
		t.Fatalf("expected default amount %d, got %d", defaults.MonthlyAmount, f.processor.charges[0].Amount)
	}
	if f.processor.charges[0].Description != defaults.MonthlyDescription {
		t.Fatalf("expected default description, got %q", f.processor.charges[0].Description)
	}
}

func TestBillAllSkipsCustomersWithoutMandate(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	if err := f.db.Exec(
		`INSERT INTO customers (id, name, email, processor_customer_id, mandate_active, created_at, updated_at)
		 VALUES (?, 'No Mandate', 'nm@example.com', 'cus_nm', FALSE, ?, ?)`,
		f.node.Generate(), now, now,
	).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	report, err := f.svc.BillAll(context.Background(), 2500, "Monthly hosting")
	if err != nil {
		t.Fatalf("bill all: %v", err)
	}
	if report.Attempted != 0 {
		t.Fatalf("expected empty batch, got %+v", report)
	}
	if len(f.processor.charges) != 0 {
		t.Fatalf("expected no charges")
	}
}
