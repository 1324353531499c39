package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/studiodesk/internal/ledger/domain"
)

// QuoteItem is one line of an accepted quote.
type QuoteItem struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitAmount  int64  `json:"unit_amount"`
}

// AcceptedQuote is the quote-shaped payload an order is created from.
// Total and Deposit are minor units; balance = total - deposit.
type AcceptedQuote struct {
	CustomerID  snowflake.ID
	Title       string
	Description string
	Items       []QuoteItem
	Total       int64
	Deposit     int64
}

type Service interface {
	CreateFromQuote(ctx context.Context, quote AcceptedQuote) (*Order, error)
	Get(ctx context.Context, id snowflake.ID) (*Order, error)

	// AmountOwed reports what is still owed for the category.
	// category is deposit or balance; full payments count toward both.
	// Never negative.
	AmountOwed(ctx context.Context, id snowflake.ID, category ledgerdomain.Category) (int64, error)

	// Delete removes the order and cascades its ledger entries.
	Delete(ctx context.Context, id snowflake.ID) error
}
