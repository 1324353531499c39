package webhook

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/studiodesk/internal/audit/domain"
	"github.com/smallbiznis/studiodesk/internal/clock"
	customerdomain "github.com/smallbiznis/studiodesk/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/studiodesk/internal/ledger/domain"
	"github.com/smallbiznis/studiodesk/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/studiodesk/internal/order/domain"
	"github.com/smallbiznis/studiodesk/internal/payment/domain"
	"github.com/smallbiznis/studiodesk/internal/providers/email"
	"github.com/smallbiznis/studiodesk/pkg/money"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Parser       domain.EventParser
	Processor    domain.Processor
	LedgerRepo   ledgerdomain.Repository
	OrderRepo    orderdomain.Repository
	CustomerRepo customerdomain.Repository
	Email        email.Provider
	Audit        auditdomain.Service
	Metrics      *metrics.Metrics
}

type service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	parser       domain.EventParser
	processor    domain.Processor
	ledgerRepo   ledgerdomain.Repository
	orderRepo    orderdomain.Repository
	customerRepo customerdomain.Repository
	email        email.Provider
	audit        auditdomain.Service
	metrics      *metrics.Metrics
}

func NewService(p Params) domain.WebhookService {
	return &service{
		db:           p.DB,
		log:          p.Log.Named("payment.webhook"),
		genID:        p.GenID,
		clock:        p.Clock,
		parser:       p.Parser,
		processor:    p.Processor,
		ledgerRepo:   p.LedgerRepo,
		orderRepo:    p.OrderRepo,
		customerRepo: p.CustomerRepo,
		email:        p.Email,
		audit:        p.Audit,
		metrics:      p.Metrics,
	}
}

func (s *service) HandleEvent(ctx context.Context, payload []byte, signatureHeader string) error {
	event, err := s.parser.Parse(payload, signatureHeader)
	if err != nil {
		s.metrics.WebhookEvents.WithLabelValues("unverified", "rejected").Inc()
		return err
	}

	log := s.log.With(
		zap.String("event_id", event.ID),
		zap.String("event_kind", string(event.Kind)),
		zap.String("provider_ref", event.ProviderRef),
	)

	var handlerErr error
	switch event.Kind {
	case domain.EventIgnored:
		s.metrics.WebhookEvents.WithLabelValues(string(event.Kind), "ignored").Inc()
		return nil
	case domain.EventSetupCompleted:
		handlerErr = s.handleSetupCompleted(ctx, event, log)
	case domain.EventCheckoutCompleted, domain.EventPaymentSucceeded:
		handlerErr = s.handleSettlement(ctx, event, ledgerdomain.StatusPaid, log)
	case domain.EventPaymentFailed:
		handlerErr = s.handleSettlement(ctx, event, ledgerdomain.StatusFailed, log)
	case domain.EventPaymentCancelled:
		handlerErr = s.handleCancelled(ctx, event, log)
	case domain.EventChargeRefunded:
		handlerErr = s.handleRefunded(ctx, event, log)
	}

	outcome := "ok"
	if handlerErr != nil {
		outcome = "error"
	}
	s.metrics.WebhookEvents.WithLabelValues(string(event.Kind), outcome).Inc()
	return handlerErr
}

// handleSetupCompleted activates the customer's Direct Debit mandate.
// Replays resolve the same reference and rewrite the same fields.
func (s *service) handleSetupCompleted(ctx context.Context, event *domain.Event, log *zap.Logger) error {
	if event.CustomerID == nil || event.SetupRef == "" {
		log.Warn("setup completion without customer metadata or setup reference")
		return nil
	}

	mandateRef, err := s.processor.ResolveMandate(ctx, event.SetupRef)
	if err != nil {
		return err
	}
	if err := s.customerRepo.ActivateMandate(ctx, s.db, *event.CustomerID, mandateRef, s.clock.Now()); err != nil {
		return err
	}

	log.Info("mandate activated", zap.Int64("customer_id", event.CustomerID.Int64()))
	s.auditLog(ctx, "mandate.activated", "customer", event.CustomerID.String(), map[string]any{
		"mandate_ref": mandateRef,
	})
	return nil
}

// handleSettlement reconciles a success or failure event against the
// ledger inside one transaction: replayed event ids are no-ops, a
// matching pending row is promoted, otherwise a fresh row is inserted
// keyed by the event id. Totals are recomputed, never incremented.
func (s *service) handleSettlement(ctx context.Context, event *domain.Event, status ledgerdomain.Status, log *zap.Logger) error {
	var settled *ledgerdomain.Entry

	err := s.db.Transaction(func(tx *gorm.DB) error {
		existing, err := s.ledgerRepo.FindByProviderEventID(ctx, tx, event.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			log.Info("event already reconciled, skipping")
			return nil
		}

		if event.ProviderRef != "" {
			matched, err := s.ledgerRepo.FindByProviderRef(ctx, tx, event.ProviderRef)
			if err != nil {
				return err
			}
			if matched != nil {
				if matched.Status != ledgerdomain.StatusPending {
					// A sibling event for the same payment already
					// settled this row.
					log.Info("payment already settled by another event",
						zap.Int64("entry_id", matched.ID.Int64()),
						zap.String("status", string(matched.Status)),
					)
					return nil
				}
				if err := s.ledgerRepo.MarkSettled(ctx, tx, matched.ID, status, event.ID, string(status)); err != nil {
					return err
				}
				matched.Status = status
				settled = matched
				return s.recompute(ctx, tx, matched.OrderID, status)
			}
		}

		entry, err := s.entryFromEvent(ctx, event, status)
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}

		inserted, err := s.ledgerRepo.Insert(ctx, tx, entry)
		if err != nil {
			return err
		}
		if !inserted {
			log.Info("concurrent delivery already recorded this event")
			return nil
		}
		settled = entry
		return s.recompute(ctx, tx, entry.OrderID, status)
	})
	if err != nil {
		return err
	}
	if settled == nil {
		return nil
	}

	log.Info("payment reconciled",
		zap.Int64("entry_id", settled.ID.Int64()),
		zap.Int64("amount", settled.Amount),
		zap.String("status", string(status)),
	)

	switch status {
	case ledgerdomain.StatusPaid:
		s.auditLog(ctx, "payment.reconciled", "ledger_entry", settled.ID.String(), map[string]any{
			"amount":   settled.Amount,
			"category": settled.Category,
			"event_id": event.ID,
		})
		s.sendOutcomeEmail(ctx, settled, "payment_receipt", "Payment received")
	case ledgerdomain.StatusFailed:
		s.auditLog(ctx, "payment.failed", "ledger_entry", settled.ID.String(), map[string]any{
			"amount":   settled.Amount,
			"event_id": event.ID,
		})
		s.sendOutcomeEmail(ctx, settled, "payment_failed", "Payment unsuccessful")
	}
	return nil
}

// entryFromEvent builds a fresh ledger row for an event no existing row
// matches. Events with no usable attribution are acknowledged and
// dropped.
func (s *service) entryFromEvent(ctx context.Context, event *domain.Event, status ledgerdomain.Status) (*ledgerdomain.Entry, error) {
	customerID, orderID, err := s.attribute(ctx, event)
	if err != nil {
		return nil, err
	}
	if customerID == 0 {
		s.log.Warn("event carries no usable attribution, acknowledging",
			zap.String("event_id", event.ID),
		)
		return nil, nil
	}

	category := event.Category
	if category == "" {
		if orderID != nil {
			category = ledgerdomain.CategoryFull
		} else {
			category = ledgerdomain.CategoryMonthly
		}
	}

	eventID := event.ID
	return &ledgerdomain.Entry{
		ID:              s.genID.Generate(),
		OrderID:         orderID,
		CustomerID:      customerID,
		Amount:          event.Amount,
		Category:        category,
		Method:          event.Method,
		ProviderRef:     event.ProviderRef,
		ProviderEventID: &eventID,
		ProviderStatus:  string(status),
		Status:          status,
		CreatedAt:       s.clock.Now(),
	}, nil
}

func (s *service) attribute(ctx context.Context, event *domain.Event) (snowflake.ID, *snowflake.ID, error) {
	if event.CustomerID != nil {
		return *event.CustomerID, event.OrderID, nil
	}
	if event.OrderID == nil {
		return 0, nil, nil
	}
	order, err := s.orderRepo.FindByID(ctx, s.db, *event.OrderID)
	if err != nil {
		return 0, nil, err
	}
	if order == nil {
		return 0, nil, nil
	}
	return order.CustomerID, event.OrderID, nil
}

// recompute re-derives the order's totals after a settlement that can
// move them. Failure records move nothing; monthly charges have no
// order.
func (s *service) recompute(ctx context.Context, tx *gorm.DB, orderID *snowflake.ID, status ledgerdomain.Status) error {
	if orderID == nil || status != ledgerdomain.StatusPaid {
		return nil
	}
	_, err := s.orderRepo.RecomputeTotals(ctx, tx, *orderID, s.clock.Now())
	return err
}

func (s *service) handleCancelled(ctx context.Context, event *domain.Event, log *zap.Logger) error {
	if event.ProviderRef == "" {
		return nil
	}
	matched, err := s.ledgerRepo.FindByProviderRef(ctx, s.db, event.ProviderRef)
	if err != nil {
		return err
	}
	if matched == nil || matched.Status != ledgerdomain.StatusPending {
		return nil
	}
	if err := s.ledgerRepo.MarkSettled(ctx, s.db, matched.ID, ledgerdomain.StatusCancelled, event.ID, "canceled"); err != nil {
		return err
	}
	log.Info("pending payment cancelled", zap.Int64("entry_id", matched.ID.Int64()))
	return nil
}

// handleRefunded records the refund delta as a negative row. Refunds
// initiated through the API already hold a row keyed by the refund
// reference, so their follow-up event is a no-op.
func (s *service) handleRefunded(ctx context.Context, event *domain.Event, log *zap.Logger) error {
	var recorded *ledgerdomain.Entry

	err := s.db.Transaction(func(tx *gorm.DB) error {
		existing, err := s.ledgerRepo.FindByProviderEventID(ctx, tx, event.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}
		if event.RefundRef != "" {
			byRefund, err := s.ledgerRepo.FindByProviderRef(ctx, tx, event.RefundRef)
			if err != nil {
				return err
			}
			if byRefund != nil {
				log.Info("refund already recorded", zap.Int64("entry_id", byRefund.ID.Int64()))
				return nil
			}
		}

		source, err := s.ledgerRepo.FindByProviderRef(ctx, tx, event.ProviderRef)
		if err != nil {
			return err
		}

		customerID := snowflake.ID(0)
		orderID := event.OrderID
		method := event.Method
		if source != nil {
			customerID = source.CustomerID
			orderID = source.OrderID
			method = source.Method
		} else if event.CustomerID != nil {
			customerID = *event.CustomerID
		}
		if customerID == 0 {
			log.Warn("refund event matches no known payment, acknowledging")
			return nil
		}

		amount := event.Amount
		if amount > 0 {
			amount = -amount
		}
		providerRef := event.RefundRef
		if providerRef == "" {
			providerRef = event.ProviderRef
		}
		eventID := event.ID
		entry := &ledgerdomain.Entry{
			ID:              s.genID.Generate(),
			OrderID:         orderID,
			CustomerID:      customerID,
			Amount:          amount,
			Category:        ledgerdomain.CategoryRefund,
			Method:          method,
			ProviderRef:     providerRef,
			ProviderEventID: &eventID,
			ProviderStatus:  "refunded",
			Status:          ledgerdomain.StatusRefunded,
			CreatedAt:       s.clock.Now(),
		}
		inserted, err := s.ledgerRepo.Insert(ctx, tx, entry)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		recorded = entry
		if orderID != nil {
			if _, err := s.orderRepo.RecomputeTotals(ctx, tx, *orderID, s.clock.Now()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if recorded == nil {
		return nil
	}

	log.Info("refund recorded",
		zap.Int64("entry_id", recorded.ID.Int64()),
		zap.Int64("amount", recorded.Amount),
	)
	s.auditLog(ctx, "payment.refunded", "ledger_entry", recorded.ID.String(), map[string]any{
		"amount":   recorded.Amount,
		"event_id": event.ID,
	})
	return nil
}

func (s *service) auditLog(ctx context.Context, action, targetType, targetID string, metadata map[string]any) {
	if err := s.audit.AuditLog(ctx, action, targetType, targetID, metadata); err != nil {
		s.log.Warn("write audit log", zap.Error(err), zap.String("action", action))
	}
}

// sendOutcomeEmail mails the customer about a settled or failed
// payment. Best-effort; reconciliation already committed.
func (s *service) sendOutcomeEmail(ctx context.Context, entry *ledgerdomain.Entry, template, subject string) {
	customer, err := s.customerRepo.FindByID(ctx, s.db, entry.CustomerID)
	if err != nil || customer == nil {
		s.log.Warn("load customer for outcome email", zap.Error(err))
		return
	}

	orderTitle := ""
	if entry.OrderID != nil {
		if order, err := s.orderRepo.FindByID(ctx, s.db, *entry.OrderID); err == nil && order != nil {
			orderTitle = order.Title
		}
	}

	body, err := email.Render(template, email.TemplateData{
		Name:       customer.Name,
		Amount:     money.FormatMinor(entry.Amount),
		OrderTitle: orderTitle,
		Category:   string(entry.Category),
	})
	if err != nil {
		s.log.Warn("render outcome email", zap.Error(err))
		return
	}
	if err := s.email.Send(ctx, email.Message{
		To:       []string{customer.Email},
		Subject:  subject,
		HTMLBody: body,
	}); err != nil {
		s.log.Warn("send outcome email", zap.Error(err), zap.String("to", customer.Email))
	}
}
