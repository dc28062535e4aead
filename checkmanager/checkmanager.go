package checkmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AlexAkulov/releasewatch"
	"github.com/AlexAkulov/releasewatch/github"
	"github.com/AlexAkulov/releasewatch/helpers"

	"github.com/go-co-op/gocron/v2"
	m "github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"
)

type Metrics struct {
	Checks      m.Counter
	New         m.Counter
	Errors      m.Counter
	RateLimited m.Counter
	CycleTime   m.Histogram
}

func (mt Metrics) orDiscard() Metrics {
	if mt.Checks == nil {
		mt.Checks = discard.NewCounter()
	}
	if mt.New == nil {
		mt.New = discard.NewCounter()
	}
	if mt.Errors == nil {
		mt.Errors = discard.NewCounter()
	}
	if mt.RateLimited == nil {
		mt.RateLimited = discard.NewCounter()
	}
	if mt.CycleTime == nil {
		mt.CycleTime = discard.NewHistogram()
	}
	return mt
}

// CheckManager runs check cycles over the watched repositories. At most one
// cycle is in flight, a cycle requested meanwhile is dropped.
type CheckManager struct {
	Fetcher       releasewatch.IFetcher
	State         releasewatch.IStateStore
	ResultChannel chan<- releasewatch.CycleResult
	Log           zerolog.Logger
	Metrics       Metrics

	running atomic.Bool
	now     func() time.Time

	targetsSync deadlock.RWMutex
	targets     []releasewatch.WatchTarget
	interval    time.Duration

	scheduler gocron.Scheduler
	cycleJob  gocron.Job
	retryJob  gocron.Job
	jobsSync  deadlock.Mutex
	pending   sync.WaitGroup
	stopping  chan struct{}
}

func (cm *CheckManager) fetcher() releasewatch.IFetcher {
	cm.targetsSync.RLock()
	defer cm.targetsSync.RUnlock()
	return cm.Fetcher
}

// SetFetcher replaces the fetcher used by the following checks, e.g. after
// the github settings were reloaded. A check in flight keeps the old one.
func (cm *CheckManager) SetFetcher(fetcher releasewatch.IFetcher) {
	cm.targetsSync.Lock()
	defer cm.targetsSync.Unlock()
	cm.Fetcher = fetcher
}

func (cm *CheckManager) clock() time.Time {
	if cm.now != nil {
		return cm.now()
	}
	return time.Now()
}

// RunCycle checks every target once. The second return value is false when
// another cycle was already running and nothing was done.
func (cm *CheckManager) RunCycle(ctx context.Context, targets []releasewatch.WatchTarget) (releasewatch.CycleResult, bool) {
	if !cm.running.CompareAndSwap(false, true) {
		cm.Log.Debug().Str("service", "check manager").Msg("cycle already running, skipped")
		return releasewatch.CycleResult{}, false
	}
	defer cm.running.Store(false)

	metrics := cm.Metrics.orDiscard()
	result := releasewatch.CycleResult{StartTime: cm.clock()}
	rateLimited := false
	var lastError string

	for _, target := range targets {
		outcome := cm.checkTarget(ctx, target)
		result.Outcomes = append(result.Outcomes, outcome)
		metrics.Checks.Add(1)

		switch outcome.Outcome {
		case releasewatch.OutcomeNew:
			result.AnyNew = true
			metrics.New.Add(1)
		case releasewatch.OutcomeFailed:
			result.AnyError = true
			metrics.Errors.Add(1)
			cm.Log.Error().Str("service", "check manager").Str("repo", target.Key()).Str("error", outcome.Err.Error()).Msg("check failed")

			var rateErr *github.RateLimitError
			if errors.As(outcome.Err, &rateErr) {
				rateLimited = true
				metrics.RateLimited.Add(1)
				retryAt := rateErr.RetryAt(cm.clock())
				if !retryAt.IsZero() && (result.RetryAt.IsZero() || retryAt.Before(result.RetryAt)) {
					result.RetryAt = retryAt
				}
				continue
			}
			lastError = fmt.Sprintf("%s: %v", target.Key(), outcome.Err)
		}
	}

	switch {
	case rateLimited:
		result.ErrorMessage = rateLimitMessage(result.RetryAt)
	case result.AnyError:
		result.ErrorMessage = lastError
	}
	result.EndTime = cm.clock()
	metrics.CycleTime.Observe(result.EndTime.Sub(result.StartTime).Seconds())
	cm.Log.Info().
		Str("service", "check manager").
		Int("targets", len(targets)).
		Bool("new", result.AnyNew).
		Bool("error", result.AnyError).
		Str("duration", helpers.PrettyDuration(result.EndTime.Sub(result.StartTime))).
		Msg("cycle finished")
	return result, true
}

func rateLimitMessage(retryAt time.Time) string {
	if retryAt.IsZero() {
		return "rate limited"
	}
	return fmt.Sprintf("rate limited, next check at %s UTC", retryAt.UTC().Format("15:04"))
}

func (cm *CheckManager) checkTarget(ctx context.Context, target releasewatch.WatchTarget) releasewatch.CheckOutcome {
	outcome := releasewatch.CheckOutcome{
		Target: target,
		Watch:  target.Watch,
	}
	status, version, err := cm.reconcile(ctx, target)
	if err != nil {
		outcome.Outcome = releasewatch.OutcomeFailed
		outcome.Err = err
		return outcome
	}
	outcome.Outcome = status
	outcome.Version = version
	return outcome
}

func (cm *CheckManager) reconcile(ctx context.Context, target releasewatch.WatchTarget) (status releasewatch.Outcome, version string, err error) {
	defer helpers.RecoverTo(&err)

	key := target.Key()
	etag := cm.State.GetETag(key)
	isFirst := cm.State.IsFirstRun(key)
	prev, hasPrev := cm.State.Get(key)

	fetcher := cm.fetcher()
	var result *releasewatch.FetchResult
	switch target.Watch {
	case releasewatch.WatchTags:
		result, err = fetcher.FetchLatestTag(ctx, target.Owner, target.Repo, etag)
	case releasewatch.WatchReleases:
		result, err = fetcher.FetchLatestRelease(ctx, target.Owner, target.Repo, etag)
	default:
		err = fmt.Errorf("unknown watch mode '%s'", target.Watch)
	}
	if err != nil {
		return "", "", err
	}
	if result == nil {
		cm.Log.Debug().Str("service", "check manager").Str("repo", key).Msg("not modified")
		return releasewatch.OutcomeUnchanged, prev.LastTagName, nil
	}

	patch, changed := compare(target.Watch, prev, hasPrev, result)
	if err := cm.State.Update(key, patch); err != nil {
		return "", "", fmt.Errorf("can't save state with: %w", err)
	}

	switch {
	case changed && !isFirst:
		status = releasewatch.OutcomeNew
	case changed:
		status = releasewatch.OutcomeBaseline
	default:
		status = releasewatch.OutcomeUnchanged
	}
	cm.Log.Info().Str("service", "check manager").Str("repo", key).Str("version", result.TagName).Str("outcome", string(status)).Msg("checked")
	return status, result.TagName, nil
}

// compare builds the state patch for a fetched result and reports whether it
// differs from the stored record. A tag counts as changed when either its
// name or its commit moved.
func compare(mode releasewatch.WatchMode, prev releasewatch.RepoState, hasPrev bool, result *releasewatch.FetchResult) (releasewatch.RepoStatePatch, bool) {
	tagName := result.TagName
	etag := result.ETag
	patch := releasewatch.RepoStatePatch{
		LastTagName: &tagName,
		ETag:        &etag,
	}
	if mode == releasewatch.WatchTags {
		sha := result.CommitSHA
		patch.LastCommitSHA = &sha
		return patch, !hasPrev || prev.LastTagName != result.TagName || prev.LastCommitSHA != result.CommitSHA
	}
	releaseID := result.ReleaseID
	patch.LastReleaseID = &releaseID
	return patch, !hasPrev || prev.LastReleaseID != result.ReleaseID
}
