package stripe

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"

	"github.com/smallbiznis/studiodesk/internal/config"
	ledgerdomain "github.com/smallbiznis/studiodesk/internal/ledger/domain"
	"github.com/smallbiznis/studiodesk/internal/payment/domain"
)

type eventParser struct {
	secret string
	log    *zap.Logger
}

// NewEventParser builds the signature-verifying webhook parser.
func NewEventParser(cfg config.Config, log *zap.Logger) domain.EventParser {
	return &eventParser{
		secret: cfg.Stripe.WebhookSecret,
		log:    log.Named("payment.stripe.webhook"),
	}
}

func (p *eventParser) Parse(payload []byte, signatureHeader string) (*domain.Event, error) {
	event, err := webhook.ConstructEventWithOptions(
		payload,
		signatureHeader,
		p.secret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	out := &domain.Event{
		ID:         event.ID,
		Kind:       domain.EventIgnored,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("parse checkout session: %w", err)
		}
		p.applyMetadata(out, session.Metadata)
		out.Currency = string(session.Currency)

		if session.Mode == stripe.CheckoutSessionModeSetup {
			out.Kind = domain.EventSetupCompleted
			if session.SetupIntent != nil {
				out.SetupRef = session.SetupIntent.ID
			}
			return out, nil
		}
		if session.PaymentIntent != nil {
			out.ProviderRef = session.PaymentIntent.ID
		}
		out.Amount = session.AmountTotal
		out.Method = ledgerdomain.MethodCard
		// Delayed-notification methods complete the session before the
		// money moves; the intent event settles those.
		if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
			out.Kind = domain.EventCheckoutCompleted
		}
		return out, nil

	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return nil, fmt.Errorf("parse payment intent: %w", err)
		}
		p.applyMetadata(out, intent.Metadata)
		out.ProviderRef = intent.ID
		out.Amount = intent.Amount
		out.Currency = string(intent.Currency)
		out.Method = methodOf(intent.PaymentMethodTypes)
		switch event.Type {
		case "payment_intent.succeeded":
			out.Kind = domain.EventPaymentSucceeded
		case "payment_intent.payment_failed":
			out.Kind = domain.EventPaymentFailed
		default:
			out.Kind = domain.EventPaymentCancelled
		}
		return out, nil

	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, fmt.Errorf("parse charge: %w", err)
		}
		p.applyMetadata(out, charge.Metadata)
		out.Kind = domain.EventChargeRefunded
		if charge.PaymentIntent != nil {
			out.ProviderRef = charge.PaymentIntent.ID
		}
		out.Currency = string(charge.Currency)
		out.Method = ledgerdomain.MethodCard
		// The refund list is most-recent-first; that entry is the delta
		// this event reports.
		if charge.Refunds != nil && len(charge.Refunds.Data) > 0 {
			out.RefundRef = charge.Refunds.Data[0].ID
			out.Amount = charge.Refunds.Data[0].Amount
		} else {
			out.Amount = charge.AmountRefunded
		}
		return out, nil
	}

	p.log.Debug("ignoring webhook event",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
	)
	return out, nil
}

func (p *eventParser) applyMetadata(out *domain.Event, metadata map[string]string) {
	if raw, ok := metadata[domain.MetadataOrderID]; ok {
		if id, err := snowflake.ParseString(raw); err == nil {
			out.OrderID = &id
		} else {
			p.log.Warn("unparseable order id in event metadata", zap.String("order_id", raw))
		}
	}
	if raw, ok := metadata[domain.MetadataCustomerID]; ok {
		if id, err := snowflake.ParseString(raw); err == nil {
			out.CustomerID = &id
		}
	}
	if raw, ok := metadata[domain.MetadataCategory]; ok {
		if category, err := ledgerdomain.ParseCategory(raw); err == nil {
			out.Category = category
		}
	}
}

func methodOf(types []string) ledgerdomain.Method {
	for _, t := range types {
		if t == "bacs_debit" {
			return ledgerdomain.MethodBankDebit
		}
	}
	return ledgerdomain.MethodCard
}
