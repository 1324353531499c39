package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/studiodesk/internal/ledger/domain"
	"github.com/smallbiznis/studiodesk/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	LedgerRepo ledgerdomain.Repository
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	ledgerRepo ledgerdomain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("order.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		ledgerRepo: p.LedgerRepo,
	}
}

func (s *Service) CreateFromQuote(ctx context.Context, quote domain.AcceptedQuote) (*domain.Order, error) {
	if quote.CustomerID == 0 {
		return nil, domain.ErrInvalidQuote
	}
	quote.Title = strings.TrimSpace(quote.Title)
	if quote.Title == "" {
		return nil, domain.ErrInvalidQuote
	}
	if quote.Total <= 0 || quote.Deposit < 0 || quote.Deposit > quote.Total {
		return nil, domain.ErrInvalidQuote
	}

	items, err := json.Marshal(quote.Items)
	if err != nil {
		return nil, domain.ErrInvalidQuote
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:            s.genID.Generate(),
		CustomerID:    quote.CustomerID,
		Title:         quote.Title,
		Description:   strings.TrimSpace(quote.Description),
		Items:         datatypes.JSON(items),
		DepositAmount: quote.Deposit,
		BalanceAmount: quote.Total - quote.Deposit,
		Status:        domain.StatusInProgress,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Create(ctx, s.db, order); err != nil {
		return nil, err
	}

	s.log.Info("order created from quote",
		zap.String("order_id", order.ID.String()),
		zap.String("customer_id", order.CustomerID.String()),
		zap.Int64("deposit", order.DepositAmount),
		zap.Int64("balance", order.BalanceAmount),
	)
	return order, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Order, error) {
	order, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

func (s *Service) AmountOwed(ctx context.Context, id snowflake.ID, category ledgerdomain.Category) (int64, error) {
	order, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}

	var base int64
	switch category {
	case ledgerdomain.CategoryDeposit:
		base = order.DepositAmount
	case ledgerdomain.CategoryBalance:
		base = order.BalanceAmount
	default:
		return 0, domain.ErrInvalidCategory
	}

	// Full payments cover both buckets.
	paid, err := s.ledgerRepo.SumSettled(ctx, s.db, id, category, ledgerdomain.CategoryFull)
	if err != nil {
		return 0, err
	}

	owed := base - paid
	if owed < 0 {
		owed = 0
	}
	return owed, nil
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	order, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ledgerRepo.DeleteByOrder(ctx, tx, order.ID); err != nil {
			return err
		}
		return s.repo.Delete(ctx, tx, order.ID)
	})
}
