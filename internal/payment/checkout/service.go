package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/studiodesk/internal/clock"
	"github.com/smallbiznis/studiodesk/internal/config"
	customerdomain "github.com/smallbiznis/studiodesk/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/studiodesk/internal/ledger/domain"
	"github.com/smallbiznis/studiodesk/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/studiodesk/internal/order/domain"
	"github.com/smallbiznis/studiodesk/internal/payment/domain"
	"github.com/smallbiznis/studiodesk/internal/providers/email"
	"github.com/smallbiznis/studiodesk/internal/providers/pdf"
	"github.com/smallbiznis/studiodesk/pkg/money"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Config       config.Config
	Clock        clock.Clock
	OrderRepo    orderdomain.Repository
	OrderService orderdomain.Service
	CustomerRepo customerdomain.Repository
	LedgerRepo   ledgerdomain.Repository
	Processor    domain.Processor
	Email        email.Provider
	PDF          pdf.Provider
	Metrics      *metrics.Metrics
}

type service struct {
	db           *gorm.DB
	log          *zap.Logger
	cfg          config.Config
	clock        clock.Clock
	orderRepo    orderdomain.Repository
	orderService orderdomain.Service
	customerRepo customerdomain.Repository
	ledgerRepo   ledgerdomain.Repository
	processor    domain.Processor
	email        email.Provider
	pdf          pdf.Provider
	metrics      *metrics.Metrics
}

func NewService(p Params) domain.CheckoutService {
	return &service{
		db:           p.DB,
		log:          p.Log.Named("payment.checkout"),
		cfg:          p.Config,
		clock:        p.Clock,
		orderRepo:    p.OrderRepo,
		orderService: p.OrderService,
		customerRepo: p.CustomerRepo,
		ledgerRepo:   p.LedgerRepo,
		processor:    p.Processor,
		email:        p.Email,
		pdf:          p.PDF,
		metrics:      p.Metrics,
	}
}

func (s *service) CreateCheckout(ctx context.Context, orderID snowflake.ID, flow domain.Flow, category ledgerdomain.Category) (*domain.Session, error) {
	order, err := s.orderRepo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, orderdomain.ErrNotFound
	}

	customer, err := s.customerRepo.FindByID(ctx, s.db, order.CustomerID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, customerdomain.ErrNotFound
	}

	processorCustomerID, err := s.ensureProcessorCustomer(ctx, customer)
	if err != nil {
		return nil, err
	}

	if flow == domain.FlowMandateSetup {
		return s.createSetupSession(ctx, customer, processorCustomerID)
	}

	owed, err := s.amountOwed(ctx, order, category)
	if err != nil {
		return nil, err
	}
	if owed <= 0 {
		return nil, orderdomain.ErrNothingOwed
	}

	session, err := s.processor.CreateSession(ctx, domain.SessionRequest{
		Mode:                domain.ModePayment,
		ProcessorCustomerID: processorCustomerID,
		Amount:              owed,
		Currency:            s.currency(customer),
		Description:         fmt.Sprintf("%s (%s)", order.Title, category),
		Method:              flow.Method(),
		Metadata: map[string]string{
			domain.MetadataOrderID:    order.ID.String(),
			domain.MetadataCustomerID: customer.ID.String(),
			domain.MetadataCategory:   string(category),
		},
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("checkout session created",
		zap.Int64("order_id", order.ID.Int64()),
		zap.String("flow", string(flow)),
		zap.String("category", string(category)),
		zap.Int64("amount", owed),
		zap.String("session_id", session.ID),
	)
	s.metrics.CheckoutSessions.WithLabelValues(string(flow)).Inc()

	s.sendPaymentLink(ctx, order, customer, category, owed, session.URL)

	return session, nil
}

// ensureProcessorCustomer creates the processor-side customer the first
// time one is needed and persists the id. Concurrent first calls may
// both create one; the first persisted id wins and the stray customer
// is harmless.
func (s *service) ensureProcessorCustomer(ctx context.Context, customer *customerdomain.Customer) (string, error) {
	if customer.ProcessorCustomerID != "" {
		return customer.ProcessorCustomerID, nil
	}

	id, err := s.processor.EnsureCustomer(ctx, customer.Name, customer.Email, customer.ID.String())
	if err != nil {
		return "", err
	}
	if err := s.customerRepo.SetProcessorCustomerID(ctx, s.db, customer.ID, id, s.clock.Now()); err != nil {
		return "", err
	}

	fresh, err := s.customerRepo.FindByID(ctx, s.db, customer.ID)
	if err != nil {
		return "", err
	}
	if fresh == nil {
		return "", customerdomain.ErrNotFound
	}
	return fresh.ProcessorCustomerID, nil
}

func (s *service) createSetupSession(ctx context.Context, customer *customerdomain.Customer, processorCustomerID string) (*domain.Session, error) {
	session, err := s.processor.CreateSession(ctx, domain.SessionRequest{
		Mode:                domain.ModeSetup,
		ProcessorCustomerID: processorCustomerID,
		Currency:            s.currency(customer),
		Method:              ledgerdomain.MethodBankDebit,
		Metadata: map[string]string{
			domain.MetadataCustomerID: customer.ID.String(),
		},
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("mandate setup session created",
		zap.Int64("customer_id", customer.ID.Int64()),
		zap.String("session_id", session.ID),
	)
	s.metrics.CheckoutSessions.WithLabelValues(string(domain.FlowMandateSetup)).Inc()
	return session, nil
}

func (s *service) amountOwed(ctx context.Context, order *orderdomain.Order, category ledgerdomain.Category) (int64, error) {
	switch category {
	case ledgerdomain.CategoryDeposit, ledgerdomain.CategoryBalance:
		return s.orderService.AmountOwed(ctx, order.ID, category)
	case ledgerdomain.CategoryFull:
		paid, err := s.ledgerRepo.SumSettled(ctx, s.db, order.ID)
		if err != nil {
			return 0, err
		}
		owed := order.Total() - paid
		if owed < 0 {
			owed = 0
		}
		return owed, nil
	default:
		return 0, orderdomain.ErrInvalidCategory
	}
}

func (s *service) currency(customer *customerdomain.Customer) string {
	if customer.Currency != "" {
		return customer.Currency
	}
	return s.cfg.Currency
}

// sendPaymentLink mails the session URL with the order invoice
// attached. Delivery is best-effort; the session already exists.
func (s *service) sendPaymentLink(ctx context.Context, order *orderdomain.Order, customer *customerdomain.Customer, category ledgerdomain.Category, owed int64, url string) {
	body, err := email.Render("payment_link", email.TemplateData{
		Name:       customer.Name,
		Amount:     money.FormatMinor(owed),
		OrderTitle: order.Title,
		Category:   string(category),
		URL:        url,
	})
	if err != nil {
		s.log.Warn("render payment link email", zap.Error(err))
		return
	}

	msg := email.Message{
		To:       []string{customer.Email},
		Subject:  fmt.Sprintf("Payment link for %s", order.Title),
		HTMLBody: body,
	}

	if data, err := s.renderInvoice(ctx, order, customer, owed, category); err != nil {
		s.log.Warn("render order invoice", zap.Error(err), zap.Int64("order_id", order.ID.Int64()))
	} else {
		msg.Attachments = append(msg.Attachments, email.Attachment{
			Filename:    fmt.Sprintf("invoice-%s.pdf", order.ID.String()),
			ContentType: "application/pdf",
			Data:        data,
		})
	}

	if err := s.email.Send(ctx, msg); err != nil {
		s.log.Warn("send payment link email",
			zap.Error(err),
			zap.Int64("order_id", order.ID.Int64()),
			zap.String("to", customer.Email),
		)
	}
}

func (s *service) renderInvoice(ctx context.Context, order *orderdomain.Order, customer *customerdomain.Customer, owed int64, category ledgerdomain.Category) ([]byte, error) {
	var quoteItems []orderdomain.QuoteItem
	if len(order.Items) > 0 {
		if err := json.Unmarshal(order.Items, &quoteItems); err != nil {
			return nil, err
		}
	}

	items := make([]pdf.InvoiceItem, 0, len(quoteItems))
	for _, item := range quoteItems {
		items = append(items, pdf.InvoiceItem{
			Description: item.Description,
			Qty:         item.Quantity,
			UnitPrice:   money.FormatMinor(item.UnitAmount),
			Amount:      money.FormatMinor(item.UnitAmount * int64(item.Quantity)),
		})
	}

	return s.pdf.RenderOrderInvoice(ctx, pdf.InvoiceData{
		BusinessName:  s.cfg.AppName,
		OrderNumber:   order.ID.String(),
		OrderTitle:    order.Title,
		IssueDate:     s.clock.Now().Format("2 January 2006"),
		CustomerName:  customer.Name,
		CustomerEmail: customer.Email,
		Items:         items,
		Deposit:       money.FormatMinor(order.DepositAmount),
		Balance:       money.FormatMinor(order.BalanceAmount),
		Total:         money.FormatMinor(order.Total()),
		TotalPaid:     money.FormatMinor(order.TotalPaid),
		AmountDue:     money.FormatMinor(owed),
		DueLabel:      fmt.Sprintf("Due now (%s)", strings.ToLower(string(category))),
	})
}
