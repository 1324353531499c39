package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	ledgerdomain "github.com/smallbiznis/studiodesk/internal/ledger/domain"
)

var (
	ErrInvalidSignature   = errors.New("invalid_webhook_signature")
	ErrInvalidFlow        = errors.New("invalid_checkout_flow")
	ErrNoProviderRef      = errors.New("no_provider_reference")
	ErrNotRefundable      = errors.New("entry_not_refundable")
	ErrRefundExceedsPaid  = errors.New("refund_exceeds_paid_amount")
	ErrNoActiveMandate    = errors.New("no_active_mandate")
	ErrProcessorFailure   = errors.New("processor_failure")
	ErrBatchAlreadyActive = errors.New("billing_batch_already_running")
)

// Flow selects what a checkout session is for.
type Flow string

const (
	FlowCardPayment  Flow = "card_payment"
	FlowBankPayment  Flow = "bank_payment"
	FlowMandateSetup Flow = "mandate_setup"
)

func ParseFlow(raw string) (Flow, error) {
	switch Flow(raw) {
	case FlowCardPayment:
		return FlowCardPayment, nil
	case FlowBankPayment:
		return FlowBankPayment, nil
	case FlowMandateSetup:
		return FlowMandateSetup, nil
	default:
		return "", ErrInvalidFlow
	}
}

// Method returns the ledger method a settled session of this flow
// records.
func (f Flow) Method() ledgerdomain.Method {
	if f == FlowBankPayment {
		return ledgerdomain.MethodBankDebit
	}
	return ledgerdomain.MethodCard
}

// SessionMode distinguishes paying sessions from mandate-setup ones.
type SessionMode string

const (
	ModePayment SessionMode = "payment"
	ModeSetup   SessionMode = "setup"
)

// Metadata keys stamped on every processor object we create. They are
// the sole correlation mechanism between processor events and local
// rows.
const (
	MetadataOrderID    = "order_id"
	MetadataCustomerID = "customer_id"
	MetadataCategory   = "category"
)

type SessionRequest struct {
	Mode                SessionMode
	ProcessorCustomerID string
	Amount              int64
	Currency            string
	Description         string
	Method              ledgerdomain.Method
	Metadata            map[string]string
}

type Session struct {
	ID  string
	URL string
}

type ChargeRequest struct {
	ProcessorCustomerID string
	MandateRef          string
	Amount              int64
	Currency            string
	Description         string
	Metadata            map[string]string
}

// ChargeResult reports an off-session charge attempt. Declines come
// back as Succeeded=false with a provider reference when one exists,
// not as an error.
type ChargeResult struct {
	ProviderRef    string
	ProviderStatus string
	Succeeded      bool
}

type RefundResult struct {
	ID     string
	Status string
}

// Processor is the payment provider surface the services depend on.
type Processor interface {
	// EnsureCustomer returns the processor-side customer id, creating
	// one when the customer has none yet.
	EnsureCustomer(ctx context.Context, name, email, localID string) (string, error)

	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)

	CreateRefund(ctx context.Context, providerRef string, amount int64) (*RefundResult, error)

	// ResolveMandate turns a completed setup reference into the durable
	// payment method reference used for off-session charges.
	ResolveMandate(ctx context.Context, setupRef string) (string, error)

	CreateOffSessionCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// EventKind classifies a verified webhook event.
type EventKind string

const (
	EventCheckoutCompleted EventKind = "checkout_completed"
	EventSetupCompleted    EventKind = "setup_completed"
	EventPaymentSucceeded  EventKind = "payment_succeeded"
	EventPaymentFailed     EventKind = "payment_failed"
	EventPaymentCancelled  EventKind = "payment_cancelled"
	EventChargeRefunded    EventKind = "charge_refunded"
	EventIgnored           EventKind = "ignored"
)

// Event is a provider webhook event reduced to the fields the
// reconciler acts on. OrderID and CustomerID come from the metadata we
// stamped on the originating processor object and may be absent.
type Event struct {
	ID          string
	Kind        EventKind
	ProviderRef string
	SetupRef    string
	RefundRef   string
	Amount      int64
	Currency    string
	Method      ledgerdomain.Method
	OrderID     *snowflake.ID
	CustomerID  *snowflake.ID
	Category    ledgerdomain.Category
	OccurredAt  time.Time
}

// EventParser verifies a raw webhook delivery and parses it into an
// Event. A bad signature is ErrInvalidSignature.
type EventParser interface {
	Parse(payload []byte, signatureHeader string) (*Event, error)
}
