package router

import (
	"fmt"
	"sort"

	"github.com/AlexAkulov/releasewatch"
	"github.com/AlexAkulov/releasewatch/config"
	"github.com/AlexAkulov/releasewatch/helpers"
	"github.com/AlexAkulov/releasewatch/senders/desktop"
	"github.com/AlexAkulov/releasewatch/senders/email"
	"github.com/AlexAkulov/releasewatch/senders/file"
	"github.com/AlexAkulov/releasewatch/senders/natsbus"
	"github.com/AlexAkulov/releasewatch/senders/webhook"

	m "github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"
	"gopkg.in/tomb.v2"
)

type Metrics struct {
	Sent       m.Counter
	SendErrors m.Counter
}

// EventsRouter turns cycle results into a status snapshot and fans new
// versions out to the senders.
type EventsRouter struct {
	ResultChannel <-chan releasewatch.CycleResult
	Config        *config.Config
	Log           zerolog.Logger
	Metrics       Metrics
	// Senders are started together with the ones enabled in Config.
	Senders  map[string]releasewatch.IMessageSender
	OnStatus func(Status)

	senders     map[string]releasewatch.IMessageSender
	senderNames []string
	tomb        tomb.Tomb
	statusSync  deadlock.RWMutex
	status      Status
}

func (r *EventsRouter) Start() error {
	if r.Metrics.Sent == nil {
		r.Metrics.Sent = discard.NewCounter()
	}
	if r.Metrics.SendErrors == nil {
		r.Metrics.SendErrors = discard.NewCounter()
	}
	configured, err := r.configSenders()
	if err != nil {
		return err
	}
	for name, sender := range r.Senders {
		configured[name] = sender
	}

	r.senders = map[string]releasewatch.IMessageSender{}
	for senderName, sender := range configured {
		if err := sender.Start(); err != nil {
			r.Log.Error().Str("service", senderName).Str("error", err.Error()).Msg("can't start sender, disabled")
			continue
		}
		r.senders[senderName] = sender
		r.senderNames = append(r.senderNames, senderName)
		r.Log.Debug().Str("service", senderName).Msg("started")
	}
	sort.Strings(r.senderNames)

	r.tomb.Go(func() error {
		for {
			select {
			case <-r.tomb.Dying():
				return nil
			case result, ok := <-r.ResultChannel:
				if !ok {
					return nil
				}
				r.Handle(result)
			}
		}
	})
	return nil
}

func (r *EventsRouter) configSenders() (map[string]releasewatch.IMessageSender, error) {
	senders := map[string]releasewatch.IMessageSender{}
	if r.Config == nil {
		return senders, nil
	}
	if r.Config.Desktop != nil && r.Config.Desktop.Enable {
		senders["desktop"] = &desktop.Sender{Alert: r.Config.Desktop.Alert, Log: r.Log}
	}
	if r.Config.SMTP != nil && r.Config.SMTP.Enable {
		delay, err := helpers.ParseDuration(r.Config.SMTP.Delay)
		if err != nil {
			return nil, fmt.Errorf("can't parse delay with: %v", err)
		}
		senders["email"] = &email.Sender{
			Recipient: r.Config.SMTP.Recipient,
			Config: &email.Config{
				From:        r.Config.SMTP.From,
				SMTPHost:    r.Config.SMTP.Host,
				SMTPPort:    r.Config.SMTP.Port,
				InsecureTLS: !r.Config.SMTP.TLS,
				Username:    r.Config.SMTP.Username,
				Password:    r.Config.SMTP.Password,
				Delay:       delay,
			},
			Log: r.Log,
		}
	}
	if r.Config.Webhook != nil && r.Config.Webhook.Enable {
		senders["webhook"] = &webhook.Sender{
			Method:  r.Config.Webhook.Method,
			URL:     r.Config.Webhook.URL,
			Headers: r.Config.Webhook.Headers,
		}
	}
	if r.Config.EventsFile != "" {
		senders["file"] = &file.File{EventsFile: r.Config.EventsFile}
	}
	if r.Config.NATS != nil && r.Config.NATS.Enable {
		senders["nats"] = &natsbus.Sender{
			URL:     r.Config.NATS.URL,
			Subject: r.Config.NATS.Subject,
			Log:     r.Log,
		}
	}
	return senders, nil
}

// Handle applies a cycle result to the status and delivers its events. Every
// event goes to every sender once, a failing sender doesn't stop the others.
func (r *EventsRouter) Handle(result releasewatch.CycleResult) {
	r.statusSync.Lock()
	r.status.apply(result)
	snapshot := r.status.copy()
	r.statusSync.Unlock()

	if r.OnStatus != nil {
		r.OnStatus(snapshot)
	}

	for _, event := range result.Events() {
		for _, senderName := range r.senderNames {
			if err := r.senders[senderName].Send(event); err != nil {
				r.Metrics.SendErrors.Add(1)
				r.Log.Error().Str("service", senderName).Str("repo", event.Key).Str("error", err.Error()).Msg("can't send event")
				continue
			}
			r.Metrics.Sent.Add(1)
		}
		r.Log.Info().Str("service", "events router").Str("repo", event.Key).Str("version", event.Version).Msg(event.Body())
	}
}

// SetTargets shows the configured repositories with the versions known from
// the state. NEW markers of repositories that are still watched are kept.
func (r *EventsRouter) SetTargets(targets []releasewatch.WatchTarget, state releasewatch.IStateStore) {
	r.statusSync.Lock()
	defer r.statusSync.Unlock()
	next := make([]TargetStatus, 0, len(targets))
	for _, target := range targets {
		t := TargetStatus{Key: target.Key(), Label: target.Label, Watch: target.Watch}
		if prev := r.status.find(target.Key()); prev != nil {
			t.Version = prev.Version
			t.New = prev.New
			t.LastOutcome = prev.LastOutcome
			t.Error = prev.Error
		}
		if t.Version == "" && state != nil {
			if repoState, ok := state.Get(target.Key()); ok {
				t.Version = repoState.LastTagName
			}
		}
		next = append(next, t)
	}
	r.status.Targets = next
	if r.status.Indicator != IndicatorError {
		r.status.updateIndicator(false)
	}
}

// Acknowledge clears the NEW marker of a repository and returns its version.
func (r *EventsRouter) Acknowledge(key string) (string, bool) {
	r.statusSync.Lock()
	defer r.statusSync.Unlock()
	t := r.status.find(key)
	if t == nil {
		return "", false
	}
	t.New = false
	if r.status.Indicator == IndicatorNew && !r.status.hasNew() {
		r.status.Indicator = IndicatorIdle
	}
	return t.Version, true
}

// AcknowledgeAll clears every NEW marker.
func (r *EventsRouter) AcknowledgeAll() {
	r.statusSync.Lock()
	defer r.statusSync.Unlock()
	for i := range r.status.Targets {
		r.status.Targets[i].New = false
	}
	if r.status.Indicator == IndicatorNew {
		r.status.Indicator = IndicatorIdle
	}
}

func (r *EventsRouter) Status() Status {
	r.statusSync.RLock()
	defer r.statusSync.RUnlock()
	s := r.status.copy()
	if s.Indicator == "" {
		s.Indicator = IndicatorIdle
	}
	return s
}

func (r *EventsRouter) Stop() error {
	r.tomb.Kill(nil)
	r.tomb.Wait()
	for senderName, sender := range r.senders {
		if err := sender.Stop(); err != nil {
			r.Log.Error().Str("service", senderName).Str("error", err.Error()).Msg("can't stop sender")
		}
	}
	return nil
}
