package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"go.uber.org/zap"

	"github.com/smallbiznis/studiodesk/internal/config"
	ledgerdomain "github.com/smallbiznis/studiodesk/internal/ledger/domain"
	"github.com/smallbiznis/studiodesk/internal/payment/domain"
)

// apiCallTimeout bounds every Stripe API call so a stalled upstream
// never holds a request or a billing batch open.
const apiCallTimeout = 30 * time.Second

type processor struct {
	client     *client.API
	log        *zap.Logger
	successURL string
	cancelURL  string
}

// NewProcessor builds the Stripe-backed payment processor.
func NewProcessor(cfg config.Config, log *zap.Logger) domain.Processor {
	sc := &client.API{}
	sc.Init(cfg.Stripe.SecretKey, nil)
	return &processor{
		client:     sc,
		log:        log.Named("payment.stripe"),
		successURL: cfg.Stripe.SuccessURL,
		cancelURL:  cfg.Stripe.CancelURL,
	}
}

func (p *processor) EnsureCustomer(ctx context.Context, name, email, localID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, apiCallTimeout)
	defer cancel()

	params := &stripe.CustomerParams{
		Name:  stripe.String(name),
		Email: stripe.String(email),
		Metadata: map[string]string{
			domain.MetadataCustomerID: localID,
		},
	}
	params.Context = ctx

	cus, err := p.client.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: create customer: %v", domain.ErrProcessorFailure, err)
	}

	p.log.Info("stripe customer created",
		zap.String("stripe_customer_id", cus.ID),
		zap.String("customer_id", localID),
	)
	return cus.ID, nil
}

func (p *processor) CreateSession(ctx context.Context, req domain.SessionRequest) (*domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, apiCallTimeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(req.ProcessorCustomerID),
		Mode:               stripe.String(string(req.Mode)),
		PaymentMethodTypes: stripe.StringSlice(paymentMethodTypes(req.Method)),
		SuccessURL:         stripe.String(p.successURL),
		CancelURL:          stripe.String(p.cancelURL),
		Metadata:           req.Metadata,
	}
	params.Context = ctx

	switch req.Mode {
	case domain.ModeSetup:
		params.SetupIntentData = &stripe.CheckoutSessionSetupIntentDataParams{
			Metadata: req.Metadata,
		}
	default:
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Currency),
					UnitAmount: stripe.Int64(req.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		}
		// Metadata must also land on the payment intent so intent
		// events reconcile without a session lookup.
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: req.Metadata,
		}
	}

	s, err := p.client.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: create checkout session: %v", domain.ErrProcessorFailure, err)
	}

	return &domain.Session{ID: s.ID, URL: s.URL}, nil
}

func (p *processor) CreateRefund(ctx context.Context, providerRef string, amount int64) (*domain.RefundResult, error) {
	ctx, cancel := context.WithTimeout(ctx, apiCallTimeout)
	defer cancel()

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(providerRef),
	}
	if amount > 0 {
		params.Amount = stripe.Int64(amount)
	}
	params.Context = ctx

	ref, err := p.client.Refunds.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: create refund: %v", domain.ErrProcessorFailure, err)
	}
	return &domain.RefundResult{ID: ref.ID, Status: string(ref.Status)}, nil
}

func (p *processor) ResolveMandate(ctx context.Context, setupRef string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, apiCallTimeout)
	defer cancel()

	params := &stripe.SetupIntentParams{}
	params.Context = ctx

	si, err := p.client.SetupIntents.Get(setupRef, params)
	if err != nil {
		return "", fmt.Errorf("%w: get setup intent: %v", domain.ErrProcessorFailure, err)
	}
	if si.PaymentMethod != nil && si.PaymentMethod.ID != "" {
		return si.PaymentMethod.ID, nil
	}
	if si.Mandate != nil && si.Mandate.ID != "" {
		return si.Mandate.ID, nil
	}
	return "", fmt.Errorf("%w: setup intent %s has no payment method", domain.ErrProcessorFailure, setupRef)
}

func (p *processor) CreateOffSessionCharge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, apiCallTimeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Customer:      stripe.String(req.ProcessorCustomerID),
		PaymentMethod: stripe.String(req.MandateRef),
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(req.Currency),
		Description:   stripe.String(req.Description),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
		Metadata:      req.Metadata,
	}
	params.Context = ctx

	pi, err := p.client.PaymentIntents.New(params)
	if err != nil {
		// A decline still carries the intent; report it as a failed
		// charge rather than a processor outage.
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.PaymentIntent != nil {
			return &domain.ChargeResult{
				ProviderRef:    stripeErr.PaymentIntent.ID,
				ProviderStatus: string(stripeErr.Code),
				Succeeded:      false,
			}, nil
		}
		return nil, fmt.Errorf("%w: create off-session charge: %v", domain.ErrProcessorFailure, err)
	}

	return &domain.ChargeResult{
		ProviderRef:    pi.ID,
		ProviderStatus: string(pi.Status),
		Succeeded:      pi.Status == stripe.PaymentIntentStatusSucceeded,
	}, nil
}

func paymentMethodTypes(method ledgerdomain.Method) []string {
	if method == ledgerdomain.MethodBankDebit {
		return []string{"bacs_debit"}
	}
	return []string{"card"}
}
