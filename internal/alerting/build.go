package alerting

import (
	"github.com/rs/zerolog"

	"gold-price-alerts/internal/config"
)

// FromConfig wires the enabled channels. Test mode swaps every channel for a
// LogNotifier; with nothing enabled it returns nil.
func FromConfig(cfg config.AlertingConfig, logger zerolog.Logger) (Notifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if cfg.TestMode {
		var recipients []string
		if cfg.Email.Enabled {
			recipients = append(recipients, cfg.Email.Recipients...)
		}
		if cfg.Telegram.Enabled {
			recipients = append(recipients, "telegram:"+cfg.Telegram.ChatID)
		}
		if len(recipients) == 0 {
			return nil, nil
		}
		return NewLogNotifier(recipients, logger), nil
	}

	var multi Multi
	if cfg.Email.Enabled {
		email, err := NewEmailNotifier(EmailOptions{
			Provider:   cfg.Email.Provider,
			Host:       cfg.Email.SMTPHost,
			Port:       cfg.Email.SMTPPort,
			Address:    cfg.Email.Address,
			Password:   cfg.Email.Password,
			Recipients: cfg.Email.Recipients,
		}, logger)
		if err != nil {
			return nil, err
		}
		multi = append(multi, email)
	}
	if cfg.Telegram.Enabled {
		multi = append(multi, NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, 0, logger))
	}

	switch len(multi) {
	case 0:
		return nil, nil
	case 1:
		return multi[0], nil
	}
	return multi, nil
}
