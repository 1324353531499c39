package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"

	ledgerdomain "github.com/smallbiznis/studiodesk/internal/ledger/domain"
)

type CheckoutService interface {
	// CreateCheckout builds a hosted session for an order: a deposit,
	// balance or full payment, or a Direct Debit mandate setup. Nothing
	// is written locally before the processor call returns.
	CreateCheckout(ctx context.Context, orderID snowflake.ID, flow Flow, category ledgerdomain.Category) (*Session, error)
}

type WebhookService interface {
	// HandleEvent verifies and reconciles one webhook delivery.
	// Replays and out-of-order duplicates are no-ops.
	HandleEvent(ctx context.Context, payload []byte, signatureHeader string) error
}

type RefundService interface {
	// Refund refunds amount (minor units, 0 means the full entry)
	// against a settled ledger entry and records the negative row.
	Refund(ctx context.Context, entryID snowflake.ID, amount int64) (*ledgerdomain.Entry, error)
}

// CustomerResult is one customer's outcome in a recurring batch run.
type CustomerResult struct {
	CustomerID  snowflake.ID `json:"customer_id"`
	Email       string       `json:"email"`
	Charged     bool         `json:"charged"`
	ProviderRef string       `json:"provider_ref,omitempty"`
	Error       string       `json:"error,omitempty"`
}

type BatchReport struct {
	Attempted int              `json:"attempted"`
	Charged   int              `json:"charged"`
	Failed    int              `json:"failed"`
	Results   []CustomerResult `json:"results"`
}

type RecurringService interface {
	// BillAll charges every customer with an active mandate. One
	// customer's failure never aborts the batch; the report always
	// comes back.
	BillAll(ctx context.Context, amount int64, description string) (*BatchReport, error)
}
