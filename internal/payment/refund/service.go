package refund

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/studiodesk/internal/audit/domain"
	"github.com/smallbiznis/studiodesk/internal/clock"
	ledgerdomain "github.com/smallbiznis/studiodesk/internal/ledger/domain"
	"github.com/smallbiznis/studiodesk/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/studiodesk/internal/order/domain"
	"github.com/smallbiznis/studiodesk/internal/payment/domain"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	LedgerRepo ledgerdomain.Repository
	OrderRepo  orderdomain.Repository
	Processor  domain.Processor
	Audit      auditdomain.Service
	Metrics    *metrics.Metrics
}

type service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	ledgerRepo ledgerdomain.Repository
	orderRepo  orderdomain.Repository
	processor  domain.Processor
	audit      auditdomain.Service
	metrics    *metrics.Metrics
}

func NewService(p Params) domain.RefundService {
	return &service{
		db:         p.DB,
		log:        p.Log.Named("payment.refund"),
		genID:      p.GenID,
		clock:      p.Clock,
		ledgerRepo: p.LedgerRepo,
		orderRepo:  p.OrderRepo,
		processor:  p.Processor,
		audit:      p.Audit,
		metrics:    p.Metrics,
	}
}

func (s *service) Refund(ctx context.Context, entryID snowflake.ID, amount int64) (*ledgerdomain.Entry, error) {
	entry, err := s.ledgerRepo.FindByID(ctx, s.db, entryID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ledgerdomain.ErrNotFound
	}
	if entry.Status != ledgerdomain.StatusPaid || entry.Amount <= 0 {
		return nil, domain.ErrNotRefundable
	}
	if entry.ProviderRef == "" {
		return nil, domain.ErrNoProviderRef
	}
	if amount < 0 || amount > entry.Amount {
		return nil, domain.ErrRefundExceedsPaid
	}
	if amount == 0 {
		amount = entry.Amount
	}

	// The external call happens first; nothing is persisted if the
	// processor refuses.
	result, err := s.processor.CreateRefund(ctx, entry.ProviderRef, amount)
	if err != nil {
		return nil, err
	}

	refundEntry := &ledgerdomain.Entry{
		ID:             s.genID.Generate(),
		OrderID:        entry.OrderID,
		CustomerID:     entry.CustomerID,
		Amount:         -amount,
		Category:       ledgerdomain.CategoryRefund,
		Method:         entry.Method,
		ProviderRef:    result.ID,
		ProviderStatus: result.Status,
		Status:         ledgerdomain.StatusRefunded,
		CreatedAt:      s.clock.Now(),
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.ledgerRepo.Insert(ctx, tx, refundEntry); err != nil {
			return err
		}
		if refundEntry.OrderID != nil {
			if _, err := s.orderRepo.RecomputeTotals(ctx, tx, *refundEntry.OrderID, s.clock.Now()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("refund issued",
		zap.Int64("entry_id", entry.ID.Int64()),
		zap.Int64("refund_entry_id", refundEntry.ID.Int64()),
		zap.Int64("amount", amount),
		zap.String("refund_ref", result.ID),
	)
	s.metrics.RefundsTotal.Inc()

	if err := s.audit.AuditLog(ctx, "refund.issued", "ledger_entry", entry.ID.String(), map[string]any{
		"amount":     amount,
		"refund_ref": result.ID,
	}); err != nil {
		s.log.Warn("write audit log", zap.Error(err))
	}

	return refundEntry, nil
}
