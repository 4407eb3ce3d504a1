package email

import (
	"bytes"
	"fmt"
	"html/template"
)

var layout = template.Must(template.New("layout").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif; background:#f8fafc; padding:24px;">
  <div style="max-width:560px; margin:0 auto; background:#ffffff; border-radius:12px; padding:32px;">
    {{template "content" .}}
    <p style="margin-top:32px; font-size:12px; color:#64748b;">
      You are receiving this because you used BizModelAI.
      <a href="{{.UnsubscribeURL}}">Unsubscribe</a>
    </p>
  </div>
</body>
</html>`))

var quizResultsTmpl = template.Must(template.Must(layout.Clone()).New("content").Parse(`
<h1 style="color:#0f172a;">Your business model results are ready</h1>
<p>Hi {{.Name}},</p>
<p>Thanks for taking the BizModelAI quiz. Your personalized results are saved and waiting for you.</p>
<p><a href="{{.ResultsURL}}" style="display:inline-block; background:#2563eb; color:#ffffff; padding:12px 20px; border-radius:8px; text-decoration:none;">View my results</a></p>
{{if .ExpiresAt}}<p style="color:#64748b;">Your results are kept until {{.ExpiresAt}}. Unlock your full report to keep them permanently.</p>{{end}}
`))

var receiptTmpl = template.Must(template.Must(layout.Clone()).New("content").Parse(`
<h1 style="color:#0f172a;">Your full report is unlocked</h1>
<p>Hi {{.Name}},</p>
<p>We received your payment of <strong>{{.Amount}}</strong>. Your full business model report is now available.</p>
<p><a href="{{.ResultsURL}}" style="display:inline-block; background:#16a34a; color:#ffffff; padding:12px 20px; border-radius:8px; text-decoration:none;">Open my report</a></p>
{{if .SetPasswordURL}}<p>Your account is now permanent. <a href="{{.SetPasswordURL}}">Choose a password</a> to sign in from any device.</p>{{end}}
<p style="color:#64748b;">Payment reference: {{.PaymentID}}</p>
`))

var passwordSetupTmpl = template.Must(template.Must(layout.Clone()).New("content").Parse(`
<h1 style="color:#0f172a;">Choose your BizModelAI password</h1>
<p>Hi {{.Name}},</p>
<p>Use the link below to set a password for your account. It expires in 24 hours.</p>
<p><a href="{{.SetPasswordURL}}" style="display:inline-block; background:#2563eb; color:#ffffff; padding:12px 20px; border-radius:8px; text-decoration:none;">Set my password</a></p>
<p style="color:#64748b;">If you did not ask for this, you can ignore this email.</p>
`))

type quizResultsData struct {
	Name           string
	ResultsURL     string
	ExpiresAt      string
	UnsubscribeURL string
}

type receiptData struct {
	Name           string
	Amount         string
	ResultsURL     string
	SetPasswordURL string
	PaymentID      int64
	UnsubscribeURL string
}

type passwordSetupData struct {
	Name           string
	SetPasswordURL string
	UnsubscribeURL string
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return buf.String(), nil
}
