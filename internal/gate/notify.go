package gate

import (
	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"
)

// Notifier shows a best-effort message to the user.
type Notifier interface {
	Notify(message string)
}

// LogNotifier writes notifications to the log.
type LogNotifier struct{}

func (LogNotifier) Notify(message string) {
	log.Warn().Str("notification", message).Msg("User notification")
}

// DialogNotifier shows a desktop notification, falling back to the log.
type DialogNotifier struct{}

func (DialogNotifier) Notify(message string) {
	if err := zenity.Notify(message, zenity.Title("image-edit"), zenity.WarningIcon); err != nil {
		log.Debug().Err(err).Msg("Desktop notification failed")
		LogNotifier{}.Notify(message)
	}
}
