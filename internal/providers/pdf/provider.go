package pdf

import "context"

// Provider renders order paperwork as PDF bytes.
type Provider interface {
	RenderOrderInvoice(ctx context.Context, data InvoiceData) ([]byte, error)
}
