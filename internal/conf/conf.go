package conf

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bootstrap is the root of the configuration tree.
type Bootstrap struct {
	Data      *Data      `json:"data"`
	Catalog   *Catalog   `json:"catalog"`
	Providers *Providers `json:"providers"`
	Sync      *Sync      `json:"sync"`
	Worker    *Worker    `json:"worker"`
	Metrics   *Metrics   `json:"metrics"`
	Trace     *Trace     `json:"trace"`
	Log       *Log       `json:"log"`
}

// Data holds storage settings.
type Data struct {
	Database *Database `json:"database"`
	Redis    *Redis    `json:"redis"`
}

// Database configures the gorm connection.
type Database struct {
	Driver          string   `json:"driver"`
	Source          string   `json:"source"`
	MaxIdleConns    int      `json:"max_idle_conns"`
	MaxOpenConns    int      `json:"max_open_conns"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime"`
	AutoMigrate     bool     `json:"auto_migrate"`
	SlowThreshold   Duration `json:"slow_threshold"`
}

// Redis is optional. An empty address disables the response cache and run locks.
type Redis struct {
	Addr         string   `json:"addr"`
	Password     string   `json:"password"`
	DB           int      `json:"db"`
	ReadTimeout  Duration `json:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout"`
}

// Catalog configures the Plex media server adapter.
type Catalog struct {
	URL           string   `json:"url"`
	Token         string   `json:"token"`
	MovieSection  string   `json:"movie_section"`
	ShowSection   string   `json:"show_section"`
	PageSize      int      `json:"page_size"`
	DetailWorkers int      `json:"detail_workers"`
	Timeout       Duration `json:"timeout"`
}

// Providers groups the metadata provider clients.
type Providers struct {
	TMDB    *Provider `json:"tmdb"`
	TVDB    *Provider `json:"tvdb"`
	YouTube *Provider `json:"youtube"`
	Trakt   *Provider `json:"trakt"`
}

// Provider configures one outbound metadata API. A provider without an API key is disabled.
type Provider struct {
	URL           string   `json:"url"`
	APIKey        string   `json:"api_key"`
	ImageURL      string   `json:"image_url"`
	Timeout       Duration `json:"timeout"`
	MaxRetries    int      `json:"max_retries"`
	RatePerSecond float64  `json:"rate_per_second"`
	Burst         int      `json:"burst"`
	CacheTTL      Duration `json:"cache_ttl"`
}

// Enabled reports whether the provider has credentials.
func (p *Provider) Enabled() bool {
	return p != nil && p.APIKey != ""
}

// Sync configures the reconciliation engine.
type Sync struct {
	MovieBatchSize   int      `json:"movie_batch_size"`
	ShowBatchSize    int      `json:"show_batch_size"`
	EpisodeBatchSize int      `json:"episode_batch_size"`
	ItemWorkers      int      `json:"item_workers"`
	Concurrent       bool     `json:"concurrent"`
	MergePolicy      string   `json:"merge_policy"`
	LockTTL          Duration `json:"lock_ttl"`
	RunTimeout       Duration `json:"run_timeout"`
	Retry            *Retry   `json:"retry"`
}

// Retry configures the storage contention retry wrapper.
type Retry struct {
	MaxAttempts int      `json:"max_attempts"`
	BaseDelay   Duration `json:"base_delay"`
	MaxJitter   Duration `json:"max_jitter"`
}

// Worker configures the asynq task server and the cron scheduler.
type Worker struct {
	Concurrency int      `json:"concurrency"`
	Queue       string   `json:"queue"`
	Schedule    string   `json:"schedule"`
	TaskTimeout Duration `json:"task_timeout"`
	MaxRetry    int      `json:"max_retry"`
}

// Metrics configures the Prometheus Pushgateway target.
type Metrics struct {
	PushURL string `json:"push_url"`
	Job     string `json:"job"`
}

// Trace toggles the stdout span exporter.
type Trace struct {
	Stdout bool `json:"stdout"`
}

// Log sets the minimum level.
type Log struct {
	Level string `json:"level"`
}

// Duration decodes "300ms"-style strings and plain nanosecond numbers.
type Duration time.Duration

// AsDuration returns the value as a time.Duration.
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
	case string:
		if value == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

// SetDefaults fills every unset value. It is safe to call on a partially populated tree.
func (b *Bootstrap) SetDefaults() {
	if b.Data == nil {
		b.Data = &Data{}
	}
	if b.Data.Database == nil {
		b.Data.Database = &Database{}
	}
	db := b.Data.Database
	if db.Driver == "" {
		db.Driver = "postgres"
	}
	if db.MaxIdleConns == 0 {
		db.MaxIdleConns = 10
	}
	if db.MaxOpenConns == 0 {
		db.MaxOpenConns = 100
	}
	if db.ConnMaxLifetime == 0 {
		db.ConnMaxLifetime = Duration(time.Hour)
	}
	if db.SlowThreshold == 0 {
		db.SlowThreshold = Duration(500 * time.Millisecond)
	}
	if b.Data.Redis == nil {
		b.Data.Redis = &Redis{}
	}

	if b.Catalog == nil {
		b.Catalog = &Catalog{}
	}
	if b.Catalog.MovieSection == "" {
		b.Catalog.MovieSection = "Movies"
	}
	if b.Catalog.ShowSection == "" {
		b.Catalog.ShowSection = "TV Shows"
	}
	if b.Catalog.PageSize == 0 {
		b.Catalog.PageSize = 200
	}
	if b.Catalog.DetailWorkers == 0 {
		b.Catalog.DetailWorkers = 4
	}
	if b.Catalog.Timeout == 0 {
		b.Catalog.Timeout = Duration(30 * time.Second)
	}

	if b.Providers == nil {
		b.Providers = &Providers{}
	}
	b.Providers.TMDB = providerDefaults(b.Providers.TMDB, "https://api.themoviedb.org/3", 4)
	if b.Providers.TMDB.ImageURL == "" {
		b.Providers.TMDB.ImageURL = "https://image.tmdb.org/t/p/w185"
	}
	b.Providers.TVDB = providerDefaults(b.Providers.TVDB, "https://api4.thetvdb.com/v4", 4)
	b.Providers.YouTube = providerDefaults(b.Providers.YouTube, "https://www.googleapis.com/youtube/v3", 1)
	b.Providers.Trakt = providerDefaults(b.Providers.Trakt, "https://api.trakt.tv", 2)

	if b.Sync == nil {
		b.Sync = &Sync{Concurrent: true}
	}
	s := b.Sync
	if s.MovieBatchSize == 0 {
		s.MovieBatchSize = 100
	}
	if s.ShowBatchSize == 0 {
		s.ShowBatchSize = 50
	}
	if s.EpisodeBatchSize == 0 {
		s.EpisodeBatchSize = 100
	}
	if s.ItemWorkers == 0 {
		s.ItemWorkers = 4
	}
	if s.MergePolicy == "" {
		s.MergePolicy = "non_null"
	}
	if s.LockTTL == 0 {
		s.LockTTL = Duration(5 * time.Minute)
	}
	if s.Retry == nil {
		s.Retry = &Retry{}
	}
	if s.Retry.MaxAttempts == 0 {
		s.Retry.MaxAttempts = 5
	}
	if s.Retry.BaseDelay == 0 {
		s.Retry.BaseDelay = Duration(100 * time.Millisecond)
	}
	if s.Retry.MaxJitter == 0 {
		s.Retry.MaxJitter = Duration(100 * time.Millisecond)
	}

	if b.Worker == nil {
		b.Worker = &Worker{}
	}
	if b.Worker.Concurrency == 0 {
		b.Worker.Concurrency = 2
	}
	if b.Worker.Queue == "" {
		b.Worker.Queue = "default"
	}
	if b.Worker.TaskTimeout == 0 {
		b.Worker.TaskTimeout = Duration(6 * time.Hour)
	}
	if b.Metrics == nil {
		b.Metrics = &Metrics{}
	}
	if b.Metrics.Job == "" {
		b.Metrics.Job = "mediasync"
	}
	if b.Trace == nil {
		b.Trace = &Trace{}
	}
	if b.Log == nil {
		b.Log = &Log{}
	}
	if b.Log.Level == "" {
		b.Log.Level = "info"
	}
}

func providerDefaults(p *Provider, url string, rps float64) *Provider {
	if p == nil {
		p = &Provider{}
	}
	if p.URL == "" {
		p.URL = url
	}
	if p.Timeout == 0 {
		p.Timeout = Duration(10 * time.Second)
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = 3
	}
	if p.RatePerSecond == 0 {
		p.RatePerSecond = rps
	}
	if p.Burst == 0 {
		p.Burst = 1
	}
	if p.CacheTTL == 0 {
		p.CacheTTL = Duration(24 * time.Hour)
	}
	return p
}
