package alerting

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// LogNotifier 测试模式下只记录日志，不真正发送。
type LogNotifier struct {
	recipients []string
	logger     zerolog.Logger
}

// NewLogNotifier reports success for every recipient without contacting anyone.
func NewLogNotifier(recipients []string, logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{recipients: recipients, logger: logger.With().Str("component", "alert_log").Logger()}
}

// Name implements Notifier.
func (n *LogNotifier) Name() string { return "log" }

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, note Notification) (Delivery, error) {
	delivery := Delivery{}
	for _, r := range n.recipients {
		delivery[r] = true
	}
	n.logger.Info().
		Str("subject", note.Subject()).
		Str("recipients", strings.Join(n.recipients, ",")).
		Str("message", renderMessage(note)).
		Msg("测试模式: 告警未实际发送")
	return delivery, nil
}

var _ Notifier = (*LogNotifier)(nil)
