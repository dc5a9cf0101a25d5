// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/discussion-harvester/internal/harvest"
	"github.com/JakeFAU/discussion-harvester/internal/orchestrator"
	"github.com/JakeFAU/discussion-harvester/internal/verify"
)

// EnvPrefix namespaces environment overrides, e.g. HARVESTER_SERVER_PORT.
const EnvPrefix = "HARVESTER"

// DefaultUserAgent is a desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Browser BrowserConfig `mapstructure:"browser"`
	Harvest HarvestConfig `mapstructure:"harvest"`
	Export  ExportConfig  `mapstructure:"export"`
	Verify  VerifyConfig  `mapstructure:"verify"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior and session retention.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	APIKey            string        `mapstructure:"api_key"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	SessionRetention  time.Duration `mapstructure:"session_retention"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
}

// BrowserConfig configures the headless browser and per-session emulation.
type BrowserConfig struct {
	ExecPath          string        `mapstructure:"exec_path"`
	Headless          bool          `mapstructure:"headless"`
	NoSandbox         bool          `mapstructure:"no_sandbox"`
	MaxSessions       int           `mapstructure:"max_sessions"`
	UserAgent         string        `mapstructure:"user_agent"`
	BlockResources    []string      `mapstructure:"block_resources"`
	ViewportWidth     int           `mapstructure:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	LandmarkTimeout   time.Duration `mapstructure:"landmark_timeout"`
	CloseTimeout      time.Duration `mapstructure:"close_timeout"`
	DebugScreenshots  bool          `mapstructure:"debug_screenshots"`
}

// HarvestConfig tunes the harvesting strategies.
type HarvestConfig struct {
	RequestTimeout time.Duration            `mapstructure:"request_timeout"`
	FetchTimeout   time.Duration            `mapstructure:"fetch_timeout"`
	CookieDomain   string                   `mapstructure:"cookie_domain"`
	Landmark       string                   `mapstructure:"landmark"`
	Scroll         harvest.ScrollConfig     `mapstructure:"scroll"`
	Discovery      harvest.DiscoveryConfig  `mapstructure:"discovery"`
	Pagination     harvest.PaginationConfig `mapstructure:"pagination"`
}

// ExportConfig sets where CSV artifacts land and how they are named.
type ExportConfig struct {
	Dir          string `mapstructure:"dir"`
	Prefix       string `mapstructure:"prefix"`
	DownloadPath string `mapstructure:"download_path"`
}

// VerifyConfig configures the credential check.
type VerifyConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// StorageConfig enables the optional GCS mirror.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the optional export ledger.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	orch := orchestrator.DefaultConfig()
	scroll := harvest.DefaultScrollConfig()
	discovery := harvest.DefaultDiscoveryConfig()
	pagination := harvest.DefaultPaginationConfig()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.session_retention", time.Hour)
	v.SetDefault("server.sweep_interval", 5*time.Minute)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.max_sessions", 4)
	v.SetDefault("browser.user_agent", DefaultUserAgent)
	v.SetDefault("browser.block_resources", []string{"Image", "Stylesheet", "Font", "Media"})
	v.SetDefault("browser.viewport_width", orch.ViewportWidth)
	v.SetDefault("browser.viewport_height", orch.ViewportHeight)
	v.SetDefault("browser.navigation_timeout", orch.NavigationTimeout)
	v.SetDefault("browser.landmark_timeout", orch.LandmarkTimeout)
	v.SetDefault("browser.close_timeout", orch.CloseTimeout)
	v.SetDefault("browser.debug_screenshots", orch.DebugScreenshots)

	v.SetDefault("harvest.request_timeout", orch.RequestTimeout)
	v.SetDefault("harvest.fetch_timeout", 20*time.Second)
	v.SetDefault("harvest.cookie_domain", orch.CookieDomain)
	v.SetDefault("harvest.landmark", orch.Landmark)
	v.SetDefault("harvest.scroll.max_rounds", scroll.MaxRounds)
	v.SetDefault("harvest.scroll.no_growth_threshold", scroll.NoGrowthThreshold)
	v.SetDefault("harvest.scroll.settle", scroll.Settle)
	v.SetDefault("harvest.scroll.pass_settle", scroll.PassSettle)
	v.SetDefault("harvest.scroll.step_min", scroll.StepMin)
	v.SetDefault("harvest.scroll.step_max", scroll.StepMax)
	v.SetDefault("harvest.scroll.interval_min", scroll.IntervalMin)
	v.SetDefault("harvest.scroll.interval_max", scroll.IntervalMax)
	v.SetDefault("harvest.scroll.max_steps", scroll.MaxSteps)
	v.SetDefault("harvest.discovery.path_marker", discovery.PathMarker)
	v.SetDefault("harvest.discovery.settle", discovery.Settle)
	v.SetDefault("harvest.pagination.max_pages", pagination.MaxPages)
	v.SetDefault("harvest.pagination.delay_min", pagination.DelayMin)
	v.SetDefault("harvest.pagination.delay_max", pagination.DelayMax)
	v.SetDefault("harvest.pagination.rate_per_second", pagination.RatePerSecond)

	v.SetDefault("export.dir", "downloads")
	v.SetDefault("export.prefix", orch.ExportPrefix)
	v.SetDefault("export.download_path", orch.DownloadPath)

	v.SetDefault("verify.endpoint", verify.DefaultEndpoint)
	v.SetDefault("verify.timeout", 15*time.Second)

	v.SetDefault("storage.prefix", orch.MirrorPrefix)
	v.SetDefault("db.table", "harvest_exports")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.topic_name", "harvest-exports")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Browser.MaxSessions < 0 {
		return fmt.Errorf("browser.max_sessions must be >= 0")
	}
	if c.Browser.NavigationTimeout <= 0 || c.Browser.LandmarkTimeout <= 0 {
		return fmt.Errorf("browser navigation and landmark timeouts must be > 0")
	}
	if c.Harvest.RequestTimeout <= 0 {
		return fmt.Errorf("harvest.request_timeout must be > 0")
	}
	if _, err := c.ResourceTypes(); err != nil {
		return err
	}
	s := c.Harvest.Scroll
	if s.MaxRounds <= 0 || s.NoGrowthThreshold <= 0 {
		return fmt.Errorf("harvest.scroll max_rounds and no_growth_threshold must be > 0")
	}
	if s.StepMin <= 0 || s.StepMax < s.StepMin {
		return fmt.Errorf("harvest.scroll step range is invalid")
	}
	if s.IntervalMax < s.IntervalMin {
		return fmt.Errorf("harvest.scroll interval range is invalid")
	}
	p := c.Harvest.Pagination
	if p.MaxPages <= 0 {
		return fmt.Errorf("harvest.pagination.max_pages must be > 0")
	}
	if p.DelayMin < 0 || p.DelayMax < p.DelayMin {
		return fmt.Errorf("harvest.pagination delay range is invalid")
	}
	if p.RatePerSecond < 0 {
		return fmt.Errorf("harvest.pagination.rate_per_second must be >= 0")
	}
	if c.Export.Dir == "" {
		return fmt.Errorf("export.dir must be set")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	return nil
}

// ResourceTypes parses browser.block_resources.
func (c Config) ResourceTypes() ([]harvest.ResourceType, error) {
	known := map[string]harvest.ResourceType{}
	for _, t := range []harvest.ResourceType{
		harvest.ResourceDocument, harvest.ResourceXHR, harvest.ResourceFetch,
		harvest.ResourceImage, harvest.ResourceStylesheet, harvest.ResourceFont,
		harvest.ResourceMedia, harvest.ResourceScript, harvest.ResourceOther,
	} {
		known[strings.ToLower(string(t))] = t
	}
	out := make([]harvest.ResourceType, 0, len(c.Browser.BlockResources))
	for _, raw := range c.Browser.BlockResources {
		t, ok := known[strings.ToLower(strings.TrimSpace(raw))]
		if !ok {
			return nil, fmt.Errorf("browser.block_resources: unknown resource type %q", raw)
		}
		out = append(out, t)
	}
	return out, nil
}

// Orchestrator maps the loaded values onto orchestrator.Config.
func (c Config) Orchestrator() orchestrator.Config {
	types, _ := c.ResourceTypes()
	return orchestrator.Config{
		NavigationTimeout: c.Browser.NavigationTimeout,
		LandmarkTimeout:   c.Browser.LandmarkTimeout,
		RequestTimeout:    c.Harvest.RequestTimeout,
		CloseTimeout:      c.Browser.CloseTimeout,
		Landmark:          c.Harvest.Landmark,
		CookieDomain:      c.Harvest.CookieDomain,
		UserAgent:         c.Browser.UserAgent,
		BlockResources:    types,
		ViewportWidth:     c.Browser.ViewportWidth,
		ViewportHeight:    c.Browser.ViewportHeight,
		ExportPrefix:      c.Export.Prefix,
		DownloadPath:      c.Export.DownloadPath,
		MirrorPrefix:      c.Storage.Prefix,
		Topic:             c.PubSub.TopicName,
		DebugScreenshots:  c.Browser.DebugScreenshots,
		Discovery:         c.Harvest.Discovery,
		Scroll:            c.Harvest.Scroll,
		Pagination:        c.Harvest.Pagination,
	}
}
