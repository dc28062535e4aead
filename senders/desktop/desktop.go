package desktop

import (
	"fmt"

	"github.com/AlexAkulov/releasewatch"

	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"
)

// Sender pops an OS notification for every new version.
type Sender struct {
	// Alert also plays the system beep
	Alert bool
	Log   zerolog.Logger

	notify func(title, message string, icon any) error
}

func (s *Sender) Start() error {
	if s.notify != nil {
		return nil
	}
	s.notify = beeep.Notify
	if s.Alert {
		s.notify = beeep.Alert
	}
	return nil
}

func (s *Sender) Send(event releasewatch.Event) error {
	if err := s.notify(event.Title(), event.Body(), ""); err != nil {
		return fmt.Errorf("can't show notification with: %w", err)
	}
	s.Log.Debug().Str("service", "desktop sender").Str("repo", event.Key).Str("version", event.Version).Msg("notified")
	return nil
}

func (s *Sender) Stop() error {
	return nil
}
