package checkmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/AlexAkulov/releasewatch"
	"github.com/AlexAkulov/releasewatch/config"
	"github.com/AlexAkulov/releasewatch/helpers"

	"github.com/go-co-op/gocron/v2"
)

const (
	cycleJobName = "check-cycle"
	retryJobName = "rate-limit-retry"

	// GitHub resets quotas on the second, give it a little slack
	retryMargin = 5 * time.Second
)

// Start schedules a check cycle every check interval, the first one right away.
func (cm *CheckManager) Start(conf *config.Config) error {
	cm.stopping = make(chan struct{})
	interval, _ := cm.setTargets(conf)

	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return fmt.Errorf("can't create scheduler with: %w", err)
	}
	job, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(cm.scheduledCheck),
		gocron.WithName(cycleJobName),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("can't schedule check cycle with: %w", err)
	}

	cm.jobsSync.Lock()
	cm.scheduler = s
	cm.cycleJob = job
	cm.jobsSync.Unlock()

	s.Start()
	cm.Log.Info().Str("service", "check manager").Str("interval", helpers.PrettyDuration(interval)).Int("repos", len(conf.Repos)).Msg("started")
	return nil
}

// Stop shuts the scheduler down and waits for on-demand cycles to finish.
func (cm *CheckManager) Stop() error {
	cm.jobsSync.Lock()
	if cm.stopping != nil {
		select {
		case <-cm.stopping:
		default:
			close(cm.stopping)
		}
	}
	s := cm.scheduler
	cm.jobsSync.Unlock()

	var err error
	if s != nil {
		if err = s.Shutdown(); err != nil {
			cm.Log.Error().Str("service", "check manager").Str("error", err.Error()).Msg("stop")
		}
	}
	cm.pending.Wait()
	cm.Log.Debug().Str("service", "check manager").Msg("stopped")
	return err
}

// CheckNow runs a cycle in the background. It is dropped when a cycle is
// already in flight.
func (cm *CheckManager) CheckNow() {
	cm.jobsSync.Lock()
	defer cm.jobsSync.Unlock()
	if cm.isStopping() {
		return
	}
	cm.pending.Add(1)
	go func() {
		defer cm.pending.Done()
		cm.scheduledCheck()
	}()
}

// SetConfig replaces the watched repositories and reschedules the cycle job
// when the interval changed.
func (cm *CheckManager) SetConfig(conf *config.Config) error {
	interval, changed := cm.setTargets(conf)
	cm.Log.Debug().Str("service", "check manager").Int("repos", len(conf.Repos)).Msg("config reloaded")
	if !changed {
		return nil
	}

	cm.jobsSync.Lock()
	defer cm.jobsSync.Unlock()
	if cm.scheduler == nil || cm.cycleJob == nil {
		return nil
	}
	job, err := cm.scheduler.Update(
		cm.cycleJob.ID(),
		gocron.DurationJob(interval),
		gocron.NewTask(cm.scheduledCheck),
		gocron.WithName(cycleJobName),
	)
	if err != nil {
		return fmt.Errorf("can't reschedule check cycle with: %w", err)
	}
	cm.cycleJob = job
	cm.Log.Info().Str("service", "check manager").Str("interval", helpers.PrettyDuration(interval)).Msg("rescheduled")
	return nil
}

func (cm *CheckManager) Targets() []releasewatch.WatchTarget {
	cm.targetsSync.RLock()
	defer cm.targetsSync.RUnlock()
	targets := make([]releasewatch.WatchTarget, len(cm.targets))
	copy(targets, cm.targets)
	return targets
}

func (cm *CheckManager) setTargets(conf *config.Config) (time.Duration, bool) {
	cm.targetsSync.Lock()
	defer cm.targetsSync.Unlock()
	interval := conf.CheckInterval()
	changed := interval != cm.interval
	cm.targets = conf.Targets()
	cm.interval = interval
	return interval, changed
}

func (cm *CheckManager) isStopping() bool {
	if cm.stopping == nil {
		return false
	}
	select {
	case <-cm.stopping:
		return true
	default:
		return false
	}
}

func (cm *CheckManager) scheduledCheck() {
	result, ok := cm.RunCycle(context.Background(), cm.Targets())
	if !ok {
		return
	}
	if cm.ResultChannel != nil {
		select {
		case cm.ResultChannel <- result:
		case <-cm.stopping:
			return
		}
	}
	if !result.RetryAt.IsZero() {
		cm.scheduleRetry(result.RetryAt)
	}
}

// scheduleRetry replaces the pending retry with a one-shot cycle at the given
// point. Points already in the past are left to the regular schedule.
func (cm *CheckManager) scheduleRetry(at time.Time) {
	cm.jobsSync.Lock()
	defer cm.jobsSync.Unlock()
	if cm.scheduler == nil || cm.isStopping() {
		return
	}
	if cm.retryJob != nil {
		// a fired one-shot job may be gone already
		_ = cm.scheduler.RemoveJob(cm.retryJob.ID())
		cm.retryJob = nil
	}
	at = at.Add(retryMargin)
	if !at.After(cm.clock()) {
		return
	}
	job, err := cm.scheduler.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(at)),
		gocron.NewTask(cm.scheduledCheck),
		gocron.WithName(retryJobName),
	)
	if err != nil {
		cm.Log.Error().Str("service", "check manager").Str("error", err.Error()).Msg("can't schedule retry")
		return
	}
	cm.retryJob = job
	cm.Log.Info().Str("service", "check manager").Str("at", at.UTC().Format(time.RFC3339)).Msg("retry scheduled")
}
