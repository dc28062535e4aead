package config

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/AlexAkulov/releasewatch"
	"github.com/AlexAkulov/releasewatch/helpers"

	yaml "gopkg.in/yaml.v2"
)

const (
	DefaultCheckIntervalMinutes = 60
	DefaultStateFile            = "state.json"
	DefaultGitHubTimeout        = 30 * time.Second
	DefaultNATSSubject          = "releasewatch.events"
	MinCheckInterval            = time.Second

	StateBackendFile   = "file"
	StateBackendSQLite = "sqlite"
)

// ConfigError is returned for any configuration that must not start the engine.
type ConfigError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("config %s: %s", e.Path, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

type Repo struct {
	Owner string `json:"owner" yaml:"owner"`
	Repo  string `json:"repo" yaml:"repo"`
	Watch string `json:"watch" yaml:"watch"`
	Label string `json:"label" yaml:"label"`
}

type GitHub struct {
	BaseURL       string        `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Token         string        `json:"token,omitempty" yaml:"token,omitempty"`
	TimeoutString string        `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Timeout       time.Duration `json:"-" yaml:"-"`
}

type Logging struct {
	Level string `json:"level" yaml:"level"`
	File  string `json:"file,omitempty" yaml:"file,omitempty"`
}

type Metrics struct {
	GraphiteAddress    string        `json:"graphite_address,omitempty" yaml:"graphite_address,omitempty"`
	Prefix             string        `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	SendIntervalString string        `json:"send_interval,omitempty" yaml:"send_interval,omitempty"`
	PrometheusListen   string        `json:"prometheus_listen,omitempty" yaml:"prometheus_listen,omitempty"`
	SendInterval       time.Duration `json:"-" yaml:"-"`
}

type Desktop struct {
	Enable bool `json:"enable" yaml:"enable"`
	Alert  bool `json:"alert,omitempty" yaml:"alert,omitempty"`
}

type SMTP struct {
	Enable    bool   `json:"enable" yaml:"enable"`
	From      string `json:"mail_from" yaml:"mail_from"`
	Host      string `json:"host" yaml:"host"`
	Port      int    `json:"port" yaml:"port"`
	TLS       bool   `json:"tls" yaml:"tls"`
	Username  string `json:"username" yaml:"username"`
	Password  string `json:"password" yaml:"password"`
	Recipient string `json:"recipient" yaml:"recipient"`
	Delay     string `json:"delay" yaml:"delay"`
}

type Webhook struct {
	Enable  bool              `json:"enable" yaml:"enable"`
	URL     string            `json:"url" yaml:"url"`
	Method  string            `json:"method,omitempty" yaml:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

type NATS struct {
	Enable  bool   `json:"enable" yaml:"enable"`
	URL     string `json:"url" yaml:"url"`
	Subject string `json:"subject,omitempty" yaml:"subject,omitempty"`
}

type Vault struct {
	Enable   bool   `json:"enable" yaml:"enable"`
	VaultURL string `json:"vault_url" yaml:"vault_url"`
	Token    string `json:"token" yaml:"token"`
	Path     string `json:"path" yaml:"path"`
	Field    string `json:"field,omitempty" yaml:"field,omitempty"`
}

type Config struct {
	CheckIntervalMinutes *float64 `json:"check_interval_minutes,omitempty" yaml:"check_interval_minutes,omitempty"`
	Repos                []Repo   `json:"repos" yaml:"repos"`
	StateFile            string   `json:"state_file,omitempty" yaml:"state_file,omitempty"`
	StateBackend         string   `json:"state_backend,omitempty" yaml:"state_backend,omitempty"`
	EventsFile           string   `json:"events_file,omitempty" yaml:"events_file,omitempty"`
	DotEnvFile           string   `json:"dotenv_file,omitempty" yaml:"dotenv_file,omitempty"`
	GitHub               *GitHub  `json:"github,omitempty" yaml:"github,omitempty"`
	Logging              *Logging `json:"logging,omitempty" yaml:"logging,omitempty"`
	Metrics              *Metrics `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Desktop              *Desktop `json:"desktop,omitempty" yaml:"desktop,omitempty"`
	SMTP                 *SMTP    `json:"smtp,omitempty" yaml:"smtp,omitempty"`
	Webhook              *Webhook `json:"webhook,omitempty" yaml:"webhook,omitempty"`
	NATS                 *NATS    `json:"nats,omitempty" yaml:"nats,omitempty"`
	Vault                *Vault   `json:"vault,omitempty" yaml:"vault,omitempty"`
}

func defaultConfig() *Config {
	return &Config{
		StateFile:    DefaultStateFile,
		StateBackend: StateBackendFile,
		GitHub:       &GitHub{},
		Logging:      &Logging{Level: "info"},
		Metrics:      &Metrics{SendIntervalString: "1m"},
		Desktop:      &Desktop{},
		SMTP:         &SMTP{Delay: "5m", Port: 587, TLS: true},
		Webhook:      &Webhook{Method: "POST"},
		NATS:         &NATS{Subject: DefaultNATSSubject},
		Vault:        &Vault{Field: "token"},
	}
}

// CheckInterval is the period between two scheduled check cycles.
func (c *Config) CheckInterval() time.Duration {
	minutes := float64(DefaultCheckIntervalMinutes)
	if c.CheckIntervalMinutes != nil {
		minutes = *c.CheckIntervalMinutes
	}
	return time.Duration(minutes * float64(time.Minute))
}

func (c *Config) Targets() []releasewatch.WatchTarget {
	targets := make([]releasewatch.WatchTarget, 0, len(c.Repos))
	for _, r := range c.Repos {
		targets = append(targets, releasewatch.WatchTarget{
			Owner: r.Owner,
			Repo:  r.Repo,
			Label: r.Label,
			Watch: releasewatch.WatchMode(r.Watch),
		})
	}
	return targets
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yml" || ext == ".yaml"
}

func LoadConfig(configLocation string) (*Config, error) {
	raw, err := os.ReadFile(configLocation)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ConfigError{Path: configLocation, Reason: "file not found"}
		}
		return nil, &ConfigError{Path: configLocation, Reason: "can't read", Err: err}
	}
	config := defaultConfig()
	if isYAML(configLocation) {
		err = yaml.Unmarshal(raw, config)
	} else {
		err = json.Unmarshal(raw, config)
	}
	if err != nil {
		return nil, &ConfigError{Path: configLocation, Reason: "can't parse", Err: err}
	}
	if err := config.validate(); err != nil {
		return nil, &ConfigError{Path: configLocation, Reason: err.Error()}
	}
	if err := config.resolve(filepath.Dir(configLocation)); err != nil {
		return nil, &ConfigError{Path: configLocation, Reason: err.Error()}
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.Repos == nil {
		return fmt.Errorf("must contain a 'repos' list")
	}
	if c.CheckIntervalMinutes != nil {
		if err := validateInterval(*c.CheckIntervalMinutes); err != nil {
			return err
		}
	}
	seen := map[string]int{}
	for i, r := range c.Repos {
		var missing []string
		for _, field := range []struct{ name, value string }{
			{"owner", r.Owner}, {"repo", r.Repo}, {"watch", r.Watch}, {"label", r.Label},
		} {
			if strings.TrimSpace(field.value) == "" {
				missing = append(missing, field.name)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("repo #%d missing keys: %s", i, strings.Join(missing, ", "))
		}
		if _, err := releasewatch.ParseWatchMode(r.Watch); err != nil {
			return fmt.Errorf("repo #%d has invalid watch type: %v", i, err)
		}
		key := r.Owner + "/" + r.Repo
		if j, ok := seen[key]; ok {
			return fmt.Errorf("repo #%d duplicates repo #%d (%s)", i, j, key)
		}
		seen[key] = i
	}
	switch c.StateBackend {
	case "", StateBackendFile, StateBackendSQLite:
	default:
		return fmt.Errorf("unknown state_backend '%s'", c.StateBackend)
	}
	return nil
}

func validateInterval(minutes float64) error {
	if math.IsNaN(minutes) || minutes <= 0 {
		return fmt.Errorf("check_interval_minutes must be a positive number, got %v", minutes)
	}
	nanos := minutes * float64(time.Minute)
	if nanos >= math.MaxInt64 {
		return fmt.Errorf("check_interval_minutes %v is too large", minutes)
	}
	if time.Duration(nanos) < MinCheckInterval {
		return fmt.Errorf("check_interval_minutes %v is shorter than %s", minutes, MinCheckInterval)
	}
	return nil
}

// FetcherChanged reports whether next needs a new github client: the api
// settings or one of the token sources differ.
func FetcherChanged(prev, next *Config) bool {
	return !reflect.DeepEqual(prev.GitHub, next.GitHub) ||
		!reflect.DeepEqual(prev.Vault, next.Vault) ||
		prev.DotEnvFile != next.DotEnvFile
}

// RestartRequired lists the settings of next that differ from prev and are
// only applied on restart.
func RestartRequired(prev, next *Config) []string {
	var changed []string
	for _, s := range []struct {
		name       string
		prev, next interface{}
	}{
		{"state_file", prev.StateFile, next.StateFile},
		{"state_backend", prev.StateBackend, next.StateBackend},
		{"events_file", prev.EventsFile, next.EventsFile},
		{"logging", prev.Logging, next.Logging},
		{"metrics", prev.Metrics, next.Metrics},
		{"desktop", prev.Desktop, next.Desktop},
		{"smtp", prev.SMTP, next.SMTP},
		{"webhook", prev.Webhook, next.Webhook},
		{"nats", prev.NATS, next.NATS},
	} {
		if !reflect.DeepEqual(s.prev, s.next) {
			changed = append(changed, s.name)
		}
	}
	return changed
}

// resolve fills derived values and makes file paths relative to the config file.
func (c *Config) resolve(baseDir string) error {
	if c.StateBackend == "" {
		c.StateBackend = StateBackendFile
	}
	if c.StateFile == "" {
		c.StateFile = DefaultStateFile
	}
	if !filepath.IsAbs(c.StateFile) {
		c.StateFile = filepath.Join(baseDir, c.StateFile)
	}
	if c.GitHub == nil {
		c.GitHub = &GitHub{}
	}
	c.GitHub.Timeout = DefaultGitHubTimeout
	if c.GitHub.TimeoutString != "" {
		timeout, err := helpers.ParseDuration(c.GitHub.TimeoutString)
		if err != nil {
			return fmt.Errorf("github.timeout: %v", err)
		}
		if timeout > 0 {
			c.GitHub.Timeout = timeout
		}
	}
	if c.Metrics == nil {
		c.Metrics = &Metrics{}
	}
	sendInterval, err := helpers.ParseDuration(c.Metrics.SendIntervalString)
	if err != nil {
		return fmt.Errorf("metrics.send_interval: %v", err)
	}
	if sendInterval < time.Second {
		sendInterval = time.Minute
	}
	c.Metrics.SendInterval = sendInterval
	if c.Logging == nil {
		c.Logging = &Logging{Level: "info"}
	}
	if c.SMTP != nil && c.SMTP.Enable {
		if _, err := helpers.ParseDuration(c.SMTP.Delay); err != nil {
			return fmt.Errorf("smtp.delay: %v", err)
		}
	}
	if c.NATS != nil && c.NATS.Subject == "" {
		c.NATS.Subject = DefaultNATSSubject
	}
	return nil
}

func exampleConfig() *Config {
	c := defaultConfig()
	interval := float64(DefaultCheckIntervalMinutes)
	c.CheckIntervalMinutes = &interval
	c.Repos = []Repo{
		{Owner: "golang", Repo: "go", Watch: string(releasewatch.WatchTags), Label: "Go"},
		{Owner: "prometheus", Repo: "prometheus", Watch: string(releasewatch.WatchReleases), Label: "Prometheus"},
	}
	return c
}

// PrintDefaultConfig writes an example config in JSON, or YAML when asYAML is set.
func PrintDefaultConfig(w io.Writer, asYAML bool) error {
	c := exampleConfig()
	var (
		d   []byte
		err error
	)
	if asYAML {
		d, err = yaml.Marshal(c)
	} else {
		d, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(d))
	return err
}
