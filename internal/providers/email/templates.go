package email

import (
	"bytes"
	"fmt"
	"html/template"
)

// Inline templates keep the provider independent of the working
// directory the binary starts in.
var templates = template.Must(template.New("email").Parse(`
{{define "payment_link"}}
<p>Hi {{.Name}},</p>
<p>Your payment of &pound;{{.Amount}} for <strong>{{.OrderTitle}}</strong> ({{.Category}}) is ready to complete.</p>
<p><a href="{{.URL}}">Pay securely online</a></p>
<p>The attached invoice has the full breakdown.</p>
{{end}}

{{define "payment_receipt"}}
<p>Hi {{.Name}},</p>
<p>We received your payment of &pound;{{.Amount}}{{if .OrderTitle}} for <strong>{{.OrderTitle}}</strong>{{end}}. Thank you.</p>
{{end}}

{{define "payment_failed"}}
<p>Hi {{.Name}},</p>
<p>Your payment of &pound;{{.Amount}}{{if .OrderTitle}} for <strong>{{.OrderTitle}}</strong>{{end}} did not go through. No money was taken.</p>
<p>Please get in touch and we will sort out another way to pay.</p>
{{end}}

{{define "recurring_charged"}}
<p>Hi {{.Name}},</p>
<p>Your monthly payment of &pound;{{.Amount}} ({{.Description}}) has been collected by Direct Debit.</p>
{{end}}

{{define "recurring_failed"}}
<p>Hi {{.Name}},</p>
<p>We could not collect your monthly payment of &pound;{{.Amount}} ({{.Description}}). We will be in touch.</p>
{{end}}
`))

// TemplateData feeds every payment template; Amount is a formatted
// major-unit string.
type TemplateData struct {
	Name        string
	Amount      string
	OrderTitle  string
	Category    string
	Description string
	URL         string
}

func Render(name string, data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render email template %s: %w", name, err)
	}
	return buf.String(), nil
}
