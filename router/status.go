package router

import (
	"time"

	"github.com/AlexAkulov/releasewatch"
)

type Indicator string

const (
	IndicatorIdle  Indicator = "idle"
	IndicatorNew   Indicator = "new"
	IndicatorError Indicator = "error"
)

// TargetStatus is the last known version of one watched repository.
// Version is empty until the repository was seen once.
type TargetStatus struct {
	Key         string
	Label       string
	Watch       releasewatch.WatchMode
	Version     string
	New         bool
	LastOutcome releasewatch.Outcome
	Error       string
}

func (t TargetStatus) String() string {
	version := t.Version
	if version == "" {
		version = "checking..."
	}
	s := t.Label + ": " + version
	if t.New {
		s += " (NEW)"
	}
	return s
}

// Status is a consistent snapshot of everything the last cycles reported.
type Status struct {
	Indicator    Indicator
	ErrorMessage string
	LastCycle    time.Time
	RetryAt      time.Time
	Targets      []TargetStatus
}

func (s Status) hasNew() bool {
	for _, t := range s.Targets {
		if t.New {
			return true
		}
	}
	return false
}

func (s *Status) find(key string) *TargetStatus {
	for i := range s.Targets {
		if s.Targets[i].Key == key {
			return &s.Targets[i]
		}
	}
	return nil
}

func (s Status) copy() Status {
	s.Targets = append([]TargetStatus(nil), s.Targets...)
	return s
}

// apply folds a cycle result into the snapshot. NEW markers survive until
// acknowledged, the indicator reflects the latest cycle.
func (s *Status) apply(result releasewatch.CycleResult) {
	for _, o := range result.Outcomes {
		t := s.find(o.Target.Key())
		if t == nil {
			s.Targets = append(s.Targets, TargetStatus{Key: o.Target.Key(), Label: o.Target.Label, Watch: o.Target.Watch})
			t = &s.Targets[len(s.Targets)-1]
		}
		t.LastOutcome = o.Outcome
		t.Error = ""
		switch o.Outcome {
		case releasewatch.OutcomeFailed:
			if o.Err != nil {
				t.Error = o.Err.Error()
			}
		case releasewatch.OutcomeNew:
			t.New = true
			t.Version = o.Version
		default:
			if o.Version != "" {
				t.Version = o.Version
			}
		}
	}
	s.LastCycle = result.EndTime
	s.RetryAt = result.RetryAt
	s.ErrorMessage = result.ErrorMessage
	s.updateIndicator(result.AnyError)
}

func (s *Status) updateIndicator(anyError bool) {
	switch {
	case anyError:
		s.Indicator = IndicatorError
	case s.hasNew():
		s.Indicator = IndicatorNew
	default:
		s.Indicator = IndicatorIdle
	}
}
