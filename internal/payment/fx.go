package payment

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/studiodesk/internal/payment/checkout"
	"github.com/smallbiznis/studiodesk/internal/payment/processor/stripe"
	"github.com/smallbiznis/studiodesk/internal/payment/recurring"
	"github.com/smallbiznis/studiodesk/internal/payment/refund"
	"github.com/smallbiznis/studiodesk/internal/payment/webhook"
)

var Module = fx.Module("payment",
	fx.Provide(
		stripe.NewProcessor,
		stripe.NewEventParser,
		checkout.NewService,
		webhook.NewService,
		refund.NewService,
		recurring.NewService,
	),
)
