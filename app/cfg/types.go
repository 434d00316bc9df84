package cfg

import "time"

type Cfg struct {
	// Storage
	DBPath string

	// HTTP
	Port              string
	APIAccessKey      string
	KeepaliveInterval time.Duration

	// Feeds
	FeedsDir          string
	UserID            int64
	UserAgent         string
	BackgroundTimeout time.Duration
	ManualTimeout     time.Duration
	WorkerCount       int

	// Scheduler
	SchedulerTick          time.Duration
	SchedulerInitialDelay  time.Duration
	BatchSize              int
	BreakerThreshold       int
	MaxBackoff             time.Duration
	DefaultRefreshInterval int // minutes
	MemoryWarning          uint64
	MemoryCritical         uint64

	// Notifications
	NtfyTopic string
	NtfyToken string

	// Application metadata
	LogFormat string
	Timezone  string
	Debug     bool
	Version   string
}
