package releasewatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type WatchMode string

const (
	WatchTags     WatchMode = "tags"
	WatchReleases WatchMode = "releases"
)

func ParseWatchMode(s string) (WatchMode, error) {
	switch WatchMode(s) {
	case WatchTags, WatchReleases:
		return WatchMode(s), nil
	}
	return "", fmt.Errorf("unknown watch mode '%s', must be one of: %s, %s", s, WatchTags, WatchReleases)
}

// Noun is the word used for the watched object in user-facing messages.
func (m WatchMode) Noun() string {
	if m == WatchTags {
		return "tag"
	}
	return "release"
}

type WatchTarget struct {
	Owner string
	Repo  string
	Label string
	Watch WatchMode
}

func (t WatchTarget) Key() string {
	return t.Owner + "/" + t.Repo
}

type FetchResult struct {
	TagName     string
	CommitSHA   string
	ReleaseID   int64
	ReleaseName string
	ETag        string
}

type RepoState struct {
	LastTagName   string    `json:"last_tag_name"`
	LastCommitSHA string    `json:"last_commit_sha,omitempty"`
	LastReleaseID int64     `json:"last_release_id,omitempty"`
	ETag          string    `json:"etag"`
	LastChecked   time.Time `json:"last_checked"`
}

// RepoStatePatch carries the fields an update overwrites; nil fields are kept.
type RepoStatePatch struct {
	LastTagName   *string
	LastCommitSHA *string
	LastReleaseID *int64
	ETag          *string
}

func (p RepoStatePatch) Apply(s RepoState) RepoState {
	if p.LastTagName != nil {
		s.LastTagName = *p.LastTagName
	}
	if p.LastCommitSHA != nil {
		s.LastCommitSHA = *p.LastCommitSHA
	}
	if p.LastReleaseID != nil {
		s.LastReleaseID = *p.LastReleaseID
	}
	if p.ETag != nil {
		s.ETag = *p.ETag
	}
	return s
}

type Outcome string

const (
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeBaseline  Outcome = "baseline"
	OutcomeNew       Outcome = "new"
	OutcomeFailed    Outcome = "failed"
)

type CheckOutcome struct {
	Target  WatchTarget
	Outcome Outcome
	Version string
	Watch   WatchMode
	Err     error
}

type CycleResult struct {
	Outcomes     []CheckOutcome
	AnyError     bool
	AnyNew       bool
	ErrorMessage string
	RetryAt      time.Time
	StartTime    time.Time
	EndTime      time.Time
}

// Events returns one notification event per new outcome of the cycle.
func (r CycleResult) Events() []Event {
	var events []Event
	for _, o := range r.Outcomes {
		if o.Outcome != OutcomeNew {
			continue
		}
		events = append(events, Event{
			ID:      uuid.NewString(),
			Label:   o.Target.Label,
			Key:     o.Target.Key(),
			Version: o.Version,
			Watch:   o.Watch,
			Time:    r.EndTime,
		})
	}
	return events
}

type Event struct {
	ID      string    `json:"id"`
	Label   string    `json:"label"`
	Key     string    `json:"repo"`
	Version string    `json:"version"`
	Watch   WatchMode `json:"watch"`
	Time    time.Time `json:"ts"`
}

func (e Event) Title() string {
	return e.Label
}

func (e Event) Body() string {
	return fmt.Sprintf("New %s: %s", e.Watch.Noun(), e.Version)
}

type IFetcher interface {
	FetchLatestTag(ctx context.Context, owner, repo, etag string) (*FetchResult, error)
	FetchLatestRelease(ctx context.Context, owner, repo, etag string) (*FetchResult, error)
}

type IStateStore interface {
	Get(key string) (RepoState, bool)
	GetETag(key string) string
	IsFirstRun(key string) bool
	Update(key string, patch RepoStatePatch) error
	Warning() string
	Keys() []string
	Close() error
}

type IMessageSender interface {
	Start() error
	Send(Event) error
	Stop() error
}

type ICredentialResolver interface {
	Resolve() (string, error)
}
