package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"

	"rental-portal/internal/storage"
)

type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// Notifier mails the admin about new rental and allow-list requests. A
// notifier without a recipient or sender does nothing.
type Notifier struct {
	sender  Sender
	to      string
	baseURL string
	logger  *slog.Logger
}

func NewNotifier(sender Sender, adminEmail, baseURL string) *Notifier {
	return &Notifier{
		sender:  sender,
		to:      adminEmail,
		baseURL: baseURL,
		logger:  slog.With("component", "notifier"),
	}
}

var rentalRequestTemplate = template.Must(template.New("rental_request").Parse(`<p>新しい予約リクエストが届きました。</p>
<table>
<tr><th>商品</th><td>{{.Rental.Name}}{{if .Rental.Category}} ({{.Rental.Category}}){{end}}</td></tr>
<tr><th>お名前</th><td>{{.Request.Name}}</td></tr>
<tr><th>連絡先</th><td>{{.Request.Contact}}</td></tr>
<tr><th>期間</th><td>{{.Request.StartDate}} 〜 {{.Request.EndDate}}</td></tr>
<tr><th>備考</th><td>{{.Request.Note}}</td></tr>
</table>
<p><a href="{{.BaseURL}}/admin/requests">リクエスト一覧を開く</a></p>
`))

var allowRequestTemplate = template.Must(template.New("allow_request").Parse(`<p>{{.Email}} から利用許可のリクエストが届きました。</p>
<p><a href="{{.BaseURL}}/admin/users">許可リストを管理する</a></p>
`))

func (n *Notifier) enabled() bool {
	if n == nil || n.to == "" || n.sender == nil {
		return false
	}
	if c, ok := n.sender.(*Client); ok {
		return c.Enabled()
	}
	return true
}

// RentalRequested mails the admin a summary of request.
func (n *Notifier) RentalRequested(ctx context.Context, rental storage.Rental, request storage.RentalRequest) error {
	if !n.enabled() {
		return nil
	}
	html, err := render(rentalRequestTemplate, map[string]any{
		"Rental":  rental,
		"Request": request,
		"BaseURL": n.baseURL,
	})
	if err != nil {
		return err
	}
	n.logger.Debug("Sending rental request notification", "request_id", request.ID)
	return n.sender.Send(ctx, &Message{
		To:      []string{n.to},
		Subject: fmt.Sprintf("予約リクエスト: %s", rental.Name),
		HTML:    html,
	})
}

// AllowRequested mails the admin that email asked to be allowed.
func (n *Notifier) AllowRequested(ctx context.Context, email string) error {
	if !n.enabled() {
		return nil
	}
	html, err := render(allowRequestTemplate, map[string]any{
		"Email":   email,
		"BaseURL": n.baseURL,
	})
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, &Message{
		To:      []string{n.to},
		Subject: "利用許可リクエスト",
		HTML:    html,
	})
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
