package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	DBPath string `long:"db-path" env:"DB_PATH" default:"./rss-desk.db" description:"SQLite database file"`

	Port              string        `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	APIAccessKey      string        `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`
	KeepaliveInterval time.Duration `long:"keepalive-interval" env:"KEEPALIVE_INTERVAL" default:"15s" description:"Keepalive comment interval on event streams"`

	FeedsDir          string        `long:"feeds-dir" env:"FEEDS_DIR" default:"./feeds" description:"Directory containing feed seed files"`
	UserID            int64         `long:"user-id" env:"USER_ID" default:"1" description:"Owner of rules and article state"`
	UserAgent         string        `long:"user-agent" env:"USER_AGENT" default:"RSS Desk/1.0" description:"User agent string for HTTP requests"`
	BackgroundTimeout time.Duration `long:"background-timeout" env:"BACKGROUND_TIMEOUT" default:"15s" description:"Fetch timeout for background refreshes"`
	ManualTimeout     time.Duration `long:"manual-timeout" env:"MANUAL_TIMEOUT" default:"30s" description:"Fetch timeout for user-initiated refreshes"`
	WorkerCount       int           `long:"worker-count" env:"WORKER_COUNT" default:"3" description:"Number of background task workers"`

	SchedulerTick          time.Duration `long:"scheduler-tick" env:"SCHEDULER_TICK" default:"60s" description:"Background scheduler tick interval"`
	SchedulerInitialDelay  time.Duration `long:"scheduler-initial-delay" env:"SCHEDULER_INITIAL_DELAY" default:"5s" description:"Delay before the first scheduler tick"`
	BatchSize              int           `long:"batch-size" env:"BATCH_SIZE" default:"10" description:"Feeds refreshed concurrently per batch"`
	BreakerThreshold       int           `long:"breaker-threshold" env:"BREAKER_THRESHOLD" default:"3" description:"Consecutive failed cycles before backing off"`
	MaxBackoff             time.Duration `long:"max-backoff" env:"MAX_BACKOFF" default:"30m" description:"Upper bound for scheduler backoff"`
	DefaultRefreshInterval int           `long:"refresh-interval" env:"REFRESH_INTERVAL" default:"30" description:"Default global refresh interval in minutes"`
	MemoryWarning          string        `long:"memory-warning" env:"MEMORY_WARNING" default:"512MiB" description:"Heap size that logs a warning before a cycle"`
	MemoryCritical         string        `long:"memory-critical" env:"MEMORY_CRITICAL" default:"1GiB" description:"Heap size that skips a cycle"`

	NtfyTopic string `long:"ntfy-topic" env:"NTFY_TOPIC" description:"ntfy topic or URL for rule notifications (optional)"`
	NtfyToken string `long:"ntfy-token" env:"NTFY_TOKEN" description:"Bearer token for reserved ntfy topics"`

	LogFormat string `long:"log-format" env:"LOG_FORMAT" default:"text" choice:"text" choice:"json" description:"Log output format"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	return LoadArgs(nil)
}

// LoadArgs parses args (os.Args when nil) and the environment.
// Returns nil, nil when help was requested.
func LoadArgs(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	var err error
	if args == nil {
		_, err = parser.Parse()
	} else {
		_, err = parser.ParseArgs(args)
	}
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg, err := raw.convert()
	if err != nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		slog.Warn("Invalid timezone, using system default", "timezone", cfg.Timezone, "error", err)
	}

	globalCfg = cfg

	return cfg, nil
}

func (raw rawCfg) convert() (*Cfg, error) {
	memWarning, err := humanize.ParseBytes(raw.MemoryWarning)
	if err != nil {
		return nil, fmt.Errorf("invalid memory warning threshold %q: %w", raw.MemoryWarning, err)
	}

	memCritical, err := humanize.ParseBytes(raw.MemoryCritical)
	if err != nil {
		return nil, fmt.Errorf("invalid memory critical threshold %q: %w", raw.MemoryCritical, err)
	}

	if memCritical < memWarning {
		return nil, fmt.Errorf("memory critical threshold (%s) is below warning threshold (%s)",
			humanize.IBytes(memCritical), humanize.IBytes(memWarning))
	}

	if raw.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", raw.BatchSize)
	}

	if raw.BackgroundTimeout > raw.ManualTimeout {
		return nil, fmt.Errorf("background timeout (%s) must not exceed manual timeout (%s)",
			raw.BackgroundTimeout, raw.ManualTimeout)
	}

	return &Cfg{
		DBPath:                 raw.DBPath,
		Port:                   raw.Port,
		APIAccessKey:           raw.APIAccessKey,
		KeepaliveInterval:      raw.KeepaliveInterval,
		FeedsDir:               raw.FeedsDir,
		UserID:                 raw.UserID,
		UserAgent:              raw.UserAgent,
		BackgroundTimeout:      raw.BackgroundTimeout,
		ManualTimeout:          raw.ManualTimeout,
		WorkerCount:            raw.WorkerCount,
		SchedulerTick:          raw.SchedulerTick,
		SchedulerInitialDelay:  raw.SchedulerInitialDelay,
		BatchSize:              raw.BatchSize,
		BreakerThreshold:       raw.BreakerThreshold,
		MaxBackoff:             raw.MaxBackoff,
		DefaultRefreshInterval: raw.DefaultRefreshInterval,
		MemoryWarning:          memWarning,
		MemoryCritical:         memCritical,
		NtfyTopic:              raw.NtfyTopic,
		NtfyToken:              raw.NtfyToken,
		LogFormat:              raw.LogFormat,
		Timezone:               raw.Timezone,
		Debug:                  raw.Debug,
		Version:                GetVersion(),
	}, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone == "" {
		return nil
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return err
	}

	time.Local = loc
	return nil
}
