package alerting

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// smtpPresets 常用邮箱服务商的 SMTP 参数。
var smtpPresets = map[string]struct {
	Host string
	Port int
}{
	"qq":  {Host: "smtp.qq.com", Port: 587},
	"163": {Host: "smtp.163.com", Port: 587},
}

// EmailOptions parameterise the SMTP notifier.
type EmailOptions struct {
	Provider   string
	Host       string
	Port       int
	Address    string
	Password   string
	Recipients []string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier 通过 SMTP 向每个收件人单独发送 HTML 邮件。
type EmailNotifier struct {
	opts     EmailOptions
	addr     string
	sendMail sendMailFunc
	now      func() time.Time
	logger   zerolog.Logger
}

// NewEmailNotifier resolves the provider preset unless host is given explicitly.
func NewEmailNotifier(opts EmailOptions, logger zerolog.Logger) (*EmailNotifier, error) {
	if opts.Host == "" {
		preset, ok := smtpPresets[strings.ToLower(opts.Provider)]
		if !ok {
			return nil, fmt.Errorf("不支持的邮箱类型: %q (支持 qq, 163)", opts.Provider)
		}
		opts.Host = preset.Host
		if opts.Port == 0 {
			opts.Port = preset.Port
		}
	}
	if opts.Port == 0 {
		opts.Port = 587
	}
	if opts.Address == "" || opts.Password == "" {
		return nil, errors.New("email address and password are required")
	}

	return &EmailNotifier{
		opts:     opts,
		addr:     net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		sendMail: smtp.SendMail,
		now:      time.Now,
		logger:   logger.With().Str("component", "alert_email").Logger(),
	}, nil
}

// Name implements Notifier.
func (n *EmailNotifier) Name() string { return "email" }

// Notify sends one message per recipient. smtp.SendMail upgrades with
// STARTTLS when the server offers it, which both presets do.
func (n *EmailNotifier) Notify(ctx context.Context, note Notification) (Delivery, error) {
	delivery := Delivery{}
	if len(n.opts.Recipients) == 0 {
		return delivery, errors.New("no email recipients configured")
	}

	html, err := renderEmailHTML(note, n.now())
	if err != nil {
		return delivery, err
	}

	auth := smtp.PlainAuth("", n.opts.Address, n.opts.Password, n.opts.Host)
	var errs []error
	for _, recipient := range n.opts.Recipients {
		if err := ctx.Err(); err != nil {
			delivery[recipient] = false
			errs = append(errs, err)
			continue
		}
		msg := buildMIME(n.opts.Address, recipient, note.Subject(), html)
		if err := n.sendMail(n.addr, auth, n.opts.Address, []string{recipient}, msg); err != nil {
			delivery[recipient] = false
			errs = append(errs, fmt.Errorf("send to %s: %w", recipient, err))
			n.logger.Error().Err(err).Str("recipient", recipient).Msg("邮件发送失败")
			continue
		}
		delivery[recipient] = true
		n.logger.Info().Str("recipient", recipient).Str("product", note.Decision.ProductID).Msg("告警已发送 (Email)")
	}
	return delivery, errors.Join(errs...)
}

func buildMIME(from, to, subject, html string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(html)
	return b.Bytes()
}

var emailTemplate = template.Must(template.New("email").Parse(`<html>
<head><meta charset="utf-8"><title>{{.Subject}}</title></head>
<body style="font-family: sans-serif;">
  <h1>🔔 {{.ProductID}}金价提醒</h1>
  <p>提醒等级: <strong>{{.Level}}</strong></p>
  <table>
    <tr><td>当前金价:</td><td>{{.Current}}元/克</td></tr>
    {{- if .HasExtremes}}
    <tr><td>24小时最高价:</td><td>{{.Highest}}元/克</td></tr>
    <tr><td>24小时最低价:</td><td>{{.Lowest}}元/克</td></tr>
    <tr><td>价格范围:</td><td>{{.Range}}元/克</td></tr>
    {{- end}}
    {{- if .HasDiff}}
    <tr><td>与最高价差值:</td><td><strong>{{.AbsDiff}}元/克 ({{.PctDiff}}%)</strong></td></tr>
    {{- end}}
    <tr><td>发送时间:</td><td>{{.SentAt}}</td></tr>
  </table>
  <h3>触发原因:</h3>
  <ul>
  {{- range .Reasons}}
    <li>{{.}}</li>
  {{- end}}
  </ul>
  <p style="color: #888;">这是一封自动生成的邮件，请勿直接回复。</p>
</body>
</html>
`))

type emailView struct {
	Subject     string
	ProductID   string
	Level       string
	Current     string
	HasExtremes bool
	Highest     string
	Lowest      string
	Range       string
	HasDiff     bool
	AbsDiff     string
	PctDiff     string
	SentAt      string
	Reasons     []string
}

func renderEmailHTML(note Notification, sentAt time.Time) (string, error) {
	d := note.Decision
	view := emailView{
		Subject:   note.Subject(),
		ProductID: d.ProductID,
		Level:     strings.ToUpper(d.Level.String()),
		Current:   d.CurrentPrice.StringFixed(2),
		SentAt:    sentAt.Format("2006-01-02 15:04:05"),
		Reasons:   d.Reasons,
	}
	if d.Extremes != nil {
		ext := d.Extremes.Rounded()
		view.HasExtremes = true
		view.Highest = ext.Highest.StringFixed(2)
		view.Lowest = ext.Lowest.StringFixed(2)
		view.Range = ext.Range.StringFixed(2)
	}
	if d.PriceDiff != nil {
		diff := d.PriceDiff.Rounded()
		view.HasDiff = true
		view.AbsDiff = diff.AbsoluteDiff.StringFixed(2)
		view.PctDiff = diff.PercentDiff.StringFixed(2)
	}

	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return buf.String(), nil
}

var _ Notifier = (*EmailNotifier)(nil)
