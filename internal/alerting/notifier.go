package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gold-price-alerts/internal/alert"
)

// Notification 封装告警上下文。
type Notification struct {
	Decision      alert.Decision
	Channels      []string
	AdditionalMsg string
}

// NewNotification wraps a triggered decision.
func NewNotification(d alert.Decision) Notification {
	return Notification{Decision: d}
}

// Subject 生成邮件主题及消息标题。
func (n Notification) Subject() string {
	return fmt.Sprintf("🔔 %s金价提醒 - %s", n.Decision.ProductID, strings.ToUpper(n.Decision.Level.String()))
}

// Delivery maps each recipient to whether the message reached it.
type Delivery map[string]bool

// Succeeded counts successful recipients.
func (d Delivery) Succeeded() int {
	n := 0
	for _, ok := range d {
		if ok {
			n++
		}
	}
	return n
}

// Failed counts failed recipients.
func (d Delivery) Failed() int {
	return len(d) - d.Succeeded()
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Name() string
	Notify(ctx context.Context, notification Notification) (Delivery, error)
}

// Multi 将告警依次投递给多个渠道。
type Multi []Notifier

// Name lists the wrapped channels.
func (m Multi) Name() string {
	names := make([]string, 0, len(m))
	for _, n := range m {
		names = append(names, n.Name())
	}
	return strings.Join(names, ",")
}

// Notify calls every notifier in turn, merging deliveries and joining errors.
func (m Multi) Notify(ctx context.Context, note Notification) (Delivery, error) {
	merged := Delivery{}
	var errs []error
	for _, n := range m {
		delivery, err := n.Notify(ctx, note)
		for recipient, ok := range delivery {
			merged[recipient] = ok
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return merged, errors.Join(errs...)
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(note.Decision.Message())
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = Multi(nil)
