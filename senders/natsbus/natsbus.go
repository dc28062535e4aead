package natsbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/AlexAkulov/releasewatch"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const flushTimeout = 5 * time.Second

// Sender publishes events as JSON messages on a NATS subject.
type Sender struct {
	URL     string
	Subject string
	Log     zerolog.Logger

	conn *nats.Conn
}

func (s *Sender) Start() error {
	conn, err := nats.Connect(s.URL,
		nats.Name("releasewatch"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.Log.Warn().Str("service", "nats sender").Str("error", err.Error()).Msg("disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			s.Log.Info().Str("service", "nats sender").Str("url", c.ConnectedUrl()).Msg("reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("can't connect to nats with: %w", err)
	}
	s.conn = conn
	return nil
}

func (s *Sender) Send(event releasewatch.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("can't encode event with: %w", err)
	}
	msg := nats.NewMsg(s.Subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, event.ID)
	if err := s.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("can't publish event with: %w", err)
	}
	return nil
}

func (s *Sender) Stop() error {
	if s.conn == nil {
		return nil
	}
	defer s.conn.Close()
	if err := s.conn.FlushTimeout(flushTimeout); err != nil {
		return fmt.Errorf("can't flush nats with: %w", err)
	}
	return nil
}
