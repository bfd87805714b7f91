package config

// Config is the whole streamcheck configuration file.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Defaults are applied by Load; zero values mean "use the default".
type Config struct {
	Paths    PathsConfig    `json:"paths"`
	Tester   TesterConfig   `json:"tester"`
	Fetcher  FetcherConfig  `json:"fetcher"`
	Parser   ParserConfig   `json:"parser"`
	Matcher  MatcherConfig  `json:"matcher,omitempty"`
	Exporter ExporterConfig `json:"exporter"`
	Notify   NotifyConfig   `json:"notify,omitempty"`

	Calibrate CalibrateConfig `json:"calibrate,omitempty"`
	Schedule  ScheduleConfig  `json:"schedule,omitempty"`
	Watch     WatchConfig     `json:"watch,omitempty"`

	Logging LoggingConfig `json:"logging"`
}

type PathsConfig struct {
	// Sources lists subscription playlist URLs and/or local playlist files.
	Sources []string `json:"sources"`
	// SourcesFile points at a text file with one source per line
	// ('#' comments allowed). Merged with Sources.
	SourcesFile string `json:"sources_file,omitempty"`

	WhitelistFile string `json:"whitelist_file,omitempty"`
	BlacklistFile string `json:"blacklist_file,omitempty"`

	// TemplateFile holds the category template driving auto-categorization
	// and template-ordered output. Empty disables the stage.
	TemplateFile string `json:"template_file,omitempty"`
	// FailedURLsFile receives the URLs that went offline, one per line,
	// after each run. Empty disables it.
	FailedURLsFile string `json:"failed_urls_file,omitempty"`
}

// TesterConfig drives the health-check engine. Every knob the engine
// recognizes is enumerated here; see internal/engine for semantics.
//
// Defaults (when fields are omitted/zero):
//   - timeout: "10s", concurrency: 8 (clamped to [1,100])
//   - max_attempts: 1 (accepted, reserved for a future retry policy)
//   - min_download_speed: 100 KB/s, max_download_size: 102400 bytes
//   - udp_timeout: 30% of timeout (floor "500ms"), http_timeout: timeout
//   - min_udp_download_speed: 30 KB/s
//   - max_udp_latency: "300ms", max_http_latency: "1s"
//   - max_channels_per_ip: 0 (unlimited), max_failures_per_ip: 5
//   - min_ip_interval: "0s" (recorded, not yet applied)
//   - enable_logging: true
type TesterConfig struct {
	Timeout             string  `json:"timeout,omitempty"`
	Concurrency         int     `json:"concurrency,omitempty"`
	MaxAttempts         int     `json:"max_attempts,omitempty"`
	MinDownloadSpeed    float64 `json:"min_download_speed,omitempty"`
	MaxDownloadSize     int64   `json:"max_download_size,omitempty"`
	HTTPTimeout         string  `json:"http_timeout,omitempty"`
	UDPTimeout          string  `json:"udp_timeout,omitempty"`
	MinUDPDownloadSpeed float64 `json:"min_udp_download_speed,omitempty"`
	MaxUDPLatency       string  `json:"max_udp_latency,omitempty"`
	MaxHTTPLatency      string  `json:"max_http_latency,omitempty"`
	MaxChannelsPerIP    int     `json:"max_channels_per_ip,omitempty"`
	MaxFailuresPerIP    int     `json:"max_failures_per_ip,omitempty"`
	MinIPInterval       string  `json:"min_ip_interval,omitempty"`
	EnableLogging       *bool   `json:"enable_logging,omitempty"`
}

type FetcherConfig struct {
	Timeout       string `json:"timeout,omitempty"`        // default "15s"
	Concurrency   int    `json:"concurrency,omitempty"`    // default 5
	Retries       int    `json:"retries,omitempty"`        // default 2
	MaxSourceSize int64  `json:"max_source_size,omitempty"` // bytes, default 50 MiB
}

type ParserConfig struct {
	// RemoveParams lists query parameters stripped from channel URLs.
	RemoveParams []string `json:"remove_params,omitempty"`
}

type MatcherConfig struct {
	// SpaceClean normalizes separators/whitespace in channel names before
	// template matching. Default true.
	SpaceClean *bool `json:"enable_space_clean,omitempty"`
}

// SpaceCleanEnabled resolves the tri-state (default on).
func (c MatcherConfig) SpaceCleanEnabled() bool {
	return c.SpaceClean == nil || *c.SpaceClean
}

type ExporterConfig struct {
	OutputDir   string `json:"output_dir,omitempty"`   // default "outputs"
	M3UFilename string `json:"m3u_filename,omitempty"` // default "all.m3u"
	TXTFilename string `json:"txt_filename,omitempty"` // default "all.txt"
	EPGURL      string `json:"epg_url,omitempty"`
	// LogoURLTemplate may reference {name} and {category} placeholders.
	LogoURLTemplate string `json:"logo_url_template,omitempty"`

	EnableHistory bool   `json:"enable_history,omitempty"`
	HistoryPath   string `json:"history_path,omitempty"` // sqlite file, default "<output_dir>/history.db"
}

type NotifyConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"` // default 1
}

type CalibrateConfig struct {
	// Enabled runs a local uplink speedtest before the first batch and
	// warns when concurrency x min_download_speed exceeds the downlink.
	Enabled bool `json:"enabled"`
}

type ScheduleConfig struct {
	// Spec is a cron expression (or @every form). Empty = run once.
	Spec     string `json:"spec,omitempty"`
	Timezone string `json:"timezone,omitempty"` // IANA TZ
}

type WatchConfig struct {
	// Enabled re-runs the pipeline when a watched source file changes.
	Enabled bool `json:"enabled"`
	// Debounce coalesces bursty editor writes. Default "2s".
	Debounce string `json:"debounce,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"` // default "info"
	Console *bool             `json:"console,omitempty"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// EngineLoggingEnabled resolves the tester's enable_logging tri-state.
func (c TesterConfig) EngineLoggingEnabled() bool {
	return c.EnableLogging == nil || *c.EnableLogging
}

// ConsoleEnabled resolves the console tri-state (default on).
func (c LoggingConfig) ConsoleEnabled() bool {
	return c.Console == nil || *c.Console
}
