package recurring

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bwmarrin/snowflake"

	auditdomain "github.com/smallbiznis/studiodesk/internal/audit/domain"
	"github.com/smallbiznis/studiodesk/internal/clock"
	"github.com/smallbiznis/studiodesk/internal/config"
	customerdomain "github.com/smallbiznis/studiodesk/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/studiodesk/internal/ledger/domain"
	"github.com/smallbiznis/studiodesk/internal/locks"
	"github.com/smallbiznis/studiodesk/internal/observability/metrics"
	"github.com/smallbiznis/studiodesk/internal/payment/domain"
	"github.com/smallbiznis/studiodesk/internal/providers/email"
	"github.com/smallbiznis/studiodesk/pkg/money"
)

const (
	batchLockKey = "studiodesk:billing:run"
	batchLockTTL = 10 * time.Minute
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Config       config.Config
	Billing      *config.BillingConfigHolder
	Locker       *locks.Locker `optional:"true"`
	CustomerRepo customerdomain.Repository
	LedgerRepo   ledgerdomain.Repository
	Processor    domain.Processor
	Email        email.Provider
	Audit        auditdomain.Service
	Metrics      *metrics.Metrics
}

type service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	cfg          config.Config
	billing      *config.BillingConfigHolder
	locker       *locks.Locker
	customerRepo customerdomain.Repository
	ledgerRepo   ledgerdomain.Repository
	processor    domain.Processor
	email        email.Provider
	audit        auditdomain.Service
	metrics      *metrics.Metrics
}

func NewService(p Params) domain.RecurringService {
	return &service{
		db:           p.DB,
		log:          p.Log.Named("payment.recurring"),
		genID:        p.GenID,
		clock:        p.Clock,
		cfg:          p.Config,
		billing:      p.Billing,
		locker:       p.Locker,
		customerRepo: p.CustomerRepo,
		ledgerRepo:   p.LedgerRepo,
		processor:    p.Processor,
		email:        p.Email,
		audit:        p.Audit,
		metrics:      p.Metrics,
	}
}

func (s *service) BillAll(ctx context.Context, amount int64, description string) (*domain.BatchReport, error) {
	billing := s.billing.Current()
	if amount <= 0 {
		amount = billing.MonthlyAmount
	}
	if description == "" {
		description = billing.MonthlyDescription
	}

	if s.locker.Enabled() {
		token, ok, err := s.locker.TryLock(ctx, batchLockKey, batchLockTTL)
		if err != nil {
			// The lock is best-effort; a redis outage must not stop
			// billing.
			s.log.Warn("billing lock unavailable, proceeding", zap.Error(err))
		} else if !ok {
			return nil, domain.ErrBatchAlreadyActive
		} else {
			defer func() {
				if err := s.locker.Release(context.WithoutCancel(ctx), batchLockKey, token); err != nil {
					s.log.Warn("release billing lock", zap.Error(err))
				}
			}()
		}
	}

	customers, err := s.customerRepo.ListBillable(ctx, s.db)
	if err != nil {
		return nil, err
	}

	report := &domain.BatchReport{Results: make([]domain.CustomerResult, 0, len(customers))}
	for i := range customers {
		result := s.billCustomer(ctx, &customers[i], amount, description)
		report.Attempted++
		if result.Charged {
			report.Charged++
		} else {
			report.Failed++
		}
		report.Results = append(report.Results, result)
	}

	s.log.Info("recurring billing run finished",
		zap.Int("attempted", report.Attempted),
		zap.Int("charged", report.Charged),
		zap.Int("failed", report.Failed),
		zap.Int64("amount", amount),
	)
	if err := s.audit.AuditLog(ctx, "billing.run", "batch", s.clock.Now().Format(time.RFC3339), map[string]any{
		"attempted": report.Attempted,
		"charged":   report.Charged,
		"failed":    report.Failed,
		"amount":    amount,
	}); err != nil {
		s.log.Warn("write audit log", zap.Error(err))
	}

	return report, nil
}

// billCustomer charges one customer and records the outcome. Every
// failure is contained here so the batch continues.
func (s *service) billCustomer(ctx context.Context, customer *customerdomain.Customer, amount int64, description string) domain.CustomerResult {
	result := domain.CustomerResult{CustomerID: customer.ID, Email: customer.Email}

	charge, err := s.processor.CreateOffSessionCharge(ctx, domain.ChargeRequest{
		ProcessorCustomerID: customer.ProcessorCustomerID,
		MandateRef:          customer.MandateRef,
		Amount:              amount,
		Currency:            s.currency(customer),
		Description:         description,
		Metadata: map[string]string{
			domain.MetadataCustomerID: customer.ID.String(),
			domain.MetadataCategory:   string(ledgerdomain.CategoryMonthly),
		},
	})
	if err != nil {
		s.log.Warn("off-session charge failed",
			zap.Error(err),
			zap.Int64("customer_id", customer.ID.Int64()),
		)
		s.metrics.RecurringCharges.WithLabelValues("error").Inc()
		result.Error = err.Error()
		return result
	}

	status := ledgerdomain.StatusFailed
	switch {
	case charge.Succeeded:
		status = ledgerdomain.StatusPaid
	case charge.ProviderStatus == "processing", charge.ProviderStatus == "requires_action":
		// Bacs debits settle days later; the webhook promotes the row.
		status = ledgerdomain.StatusPending
	}

	entry := &ledgerdomain.Entry{
		ID:             s.genID.Generate(),
		CustomerID:     customer.ID,
		Amount:         amount,
		Category:       ledgerdomain.CategoryMonthly,
		Method:         ledgerdomain.MethodBankDebit,
		ProviderRef:    charge.ProviderRef,
		ProviderStatus: charge.ProviderStatus,
		Status:         status,
		CreatedAt:      s.clock.Now(),
	}
	if _, err := s.ledgerRepo.Insert(ctx, s.db, entry); err != nil {
		s.log.Error("record recurring charge",
			zap.Error(err),
			zap.Int64("customer_id", customer.ID.Int64()),
			zap.String("provider_ref", charge.ProviderRef),
		)
		result.Error = err.Error()
		return result
	}

	result.ProviderRef = charge.ProviderRef
	if status == ledgerdomain.StatusFailed {
		s.metrics.RecurringCharges.WithLabelValues("failed").Inc()
		result.Error = charge.ProviderStatus
		s.sendOutcomeEmail(ctx, customer, "recurring_failed", "Monthly payment unsuccessful", amount, description)
		return result
	}

	s.metrics.RecurringCharges.WithLabelValues("charged").Inc()
	result.Charged = true
	s.sendOutcomeEmail(ctx, customer, "recurring_charged", "Monthly payment collected", amount, description)
	return result
}

func (s *service) currency(customer *customerdomain.Customer) string {
	if customer.Currency != "" {
		return customer.Currency
	}
	return s.cfg.Currency
}

func (s *service) sendOutcomeEmail(ctx context.Context, customer *customerdomain.Customer, template, subject string, amount int64, description string) {
	body, err := email.Render(template, email.TemplateData{
		Name:        customer.Name,
		Amount:      money.FormatMinor(amount),
		Description: description,
	})
	if err != nil {
		s.log.Warn("render recurring email", zap.Error(err))
		return
	}
	if err := s.email.Send(ctx, email.Message{
		To:       []string{customer.Email},
		Subject:  subject,
		HTMLBody: body,
	}); err != nil {
		s.log.Warn("send recurring email", zap.Error(err), zap.String("to", customer.Email))
	}
}
