package email

import "context"

// Attachment is a file carried inline with a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Message struct {
	To          []string
	Subject     string
	HTMLBody    string
	Attachments []Attachment
}

// Provider delivers outbound mail. Callers in the payment path treat
// delivery as best-effort: failures are logged, never propagated into
// the money flow.
type Provider interface {
	Send(ctx context.Context, msg Message) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, msg Message) error {
	return nil
}
