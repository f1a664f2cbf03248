package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/config"
	"github.com/cenkalti/backoff/v4"
)

const (
	TemplateOrderPlaced   = "order_placed"
	TemplateOrderApproved = "order_approved"
	TemplateOrderRejected = "order_rejected"
)

var emailTemplates = template.Must(template.New("email").Option("missingkey=error").Parse(`
{{define "order_placed.subject"}}New order {{.OrderNumber}} awaits your review{{end}}
{{define "order_placed.body"}}Hello {{.RecipientName}},

{{.CustomerName}} placed order {{.OrderNumber}} for {{.Quantity}} x {{.MedicineName}}.
Please review the prescription and approve or reject the order.
{{end}}
{{define "order_approved.subject"}}Your order {{.OrderNumber}} was approved{{end}}
{{define "order_approved.body"}}Hello {{.RecipientName}},

Your order {{.OrderNumber}} for {{.Quantity}} x {{.MedicineName}} was approved.
Total: {{.Total}}

Pharmacist contact:
{{.PharmacistName}}
{{.PharmacistEmail}}
{{.PharmacistPhone}}
{{end}}
{{define "order_rejected.subject"}}Your order {{.OrderNumber}} was rejected{{end}}
{{define "order_rejected.body"}}Hello {{.RecipientName}},

Your order {{.OrderNumber}} for {{.MedicineName}} was rejected.
Reason: {{.Reason}}
{{end}}
`))

// SendFunc is smtp.SendMail bounded by ctx.
type SendFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

type EmailChannel struct {
	addr string
	auth smtp.Auth
	from string
	send SendFunc
}

func NewEmailChannel(cfg config.SMTPConfig) *EmailChannel {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &EmailChannel{
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		auth: auth,
		from: cfg.From,
		send: sendMail,
	}
}

// WithSender replaces the SMTP transport.
func (c *EmailChannel) WithSender(send SendFunc) *EmailChannel {
	c.send = send
	return c
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Send(ctx context.Context, msg Message) error {
	if msg.RecipientEmail == "" {
		return backoff.Permanent(errors.New("recipient has no email address"))
	}

	subject, body, err := RenderEmail(msg)
	if err != nil {
		return backoff.Permanent(err)
	}

	raw := buildMIME(c.from, msg.RecipientEmail, subject, body)

	if err := c.send(ctx, c.addr, c.auth, c.from, []string{msg.RecipientEmail}, raw); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// sendMail runs the SMTP exchange on a connection that is expired as soon as
// ctx is done, so nothing is left running when it returns.
func sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) (err error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer func() {
		stop()
		if err != nil && ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", ctx.Err(), err)
		}
	}()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(a); err != nil {
				return err
			}
		}
	}

	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// RenderEmail returns the subject and body for msg. Messages without a known
// template fall back to their title and body.
func RenderEmail(msg Message) (string, string, error) {
	if msg.TemplateKey == "" || emailTemplates.Lookup(msg.TemplateKey+".subject") == nil {
		return msg.Title, msg.Body, nil
	}

	data := make(map[string]any, len(msg.Data)+1)
	for k, v := range msg.Data {
		data[k] = v
	}
	data["RecipientName"] = msg.RecipientName

	var subject, body bytes.Buffer
	if err := emailTemplates.ExecuteTemplate(&subject, msg.TemplateKey+".subject", data); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", msg.TemplateKey, err)
	}
	if err := emailTemplates.ExecuteTemplate(&body, msg.TemplateKey+".body", data); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", msg.TemplateKey, err)
	}

	return strings.TrimSpace(subject.String()), body.String(), nil
}

func buildMIME(from, to, subject, body string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return b.Bytes()
}
