// Package config provides configuration management for vantage using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sternforth/vantage/pkg/httpclient"
)

// Default configuration values.
const (
	defaultServePort       = 8786
	defaultServeTimeout    = 5 * time.Minute
	defaultShutdownTimeout = 10 * time.Second
	defaultWorkers         = 4
	defaultSegmentWorkers  = 16
	defaultJobRetention    = time.Hour
	defaultUpdateInterval  = 24 * time.Hour
)

// Config holds all configuration for the application.
type Config struct {
	Directories    DirectoriesConfig           `mapstructure:"directories"`
	Filenames      FilenamesConfig             `mapstructure:"filenames"`
	Logging        LoggingConfig               `mapstructure:"logging"`
	Headers        map[string]string           `mapstructure:"headers"`
	Downloader     DownloaderConfig            `mapstructure:"downloader"`
	Serve          ServeConfig                 `mapstructure:"serve"`
	Services       map[string]map[string]any   `mapstructure:"services"`
	Credentials    map[string]any              `mapstructure:"credentials"`
	ProxyProviders ProxyProvidersConfig        `mapstructure:"proxy_providers"`
	RemoteServices []RemoteServiceConfig       `mapstructure:"remote_services"`
	HTTP           HTTPConfig                  `mapstructure:"http"`
	OutputTemplate OutputTemplateConfig        `mapstructure:"output_template"`
	KeyVaults      []KeyVaultConfig            `mapstructure:"key_vaults"`
	UpdateChecks   bool                        `mapstructure:"update_checks"`
	UpdateInterval time.Duration               `mapstructure:"update_check_interval"`
	Tag            string                      `mapstructure:"tag"`
}

// DirectoriesConfig holds the filesystem layout.
type DirectoriesConfig struct {
	Downloads string `mapstructure:"downloads"`
	Temp      string `mapstructure:"temp"`
	Cache     string `mapstructure:"cache"`
	Cookies   string `mapstructure:"cookies"`
	Services  string `mapstructure:"services"`
}

// FilenamesConfig holds templated filenames written under the directories above.
type FilenamesConfig struct {
	Log      string `mapstructure:"log"`      // Directories.Cache
	Chapters string `mapstructure:"chapters"` // Directories.Temp
	Subtitle string `mapstructure:"subtitle"` // Directories.Temp
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// DownloaderConfig holds download job configuration.
type DownloaderConfig struct {
	Workers        int           `mapstructure:"workers"`         // concurrent tracks per job
	SegmentWorkers int           `mapstructure:"segment_workers"` // concurrent segments per track
	JobRetention   time.Duration `mapstructure:"job_retention"`   // how long finished jobs stay listed
	PruneSchedule  string        `mapstructure:"prune_schedule"`  // cron expression for job/session pruning
}

// ServeConfig holds the remote service server configuration.
type ServeConfig struct {
	Host            string         `mapstructure:"host"`
	Port            int            `mapstructure:"port"`
	ReadTimeout     time.Duration  `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration  `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration  `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string       `mapstructure:"cors_origins"`
	APISecret       string         `mapstructure:"api_secret"` // single-key mode
	APIKeys         []APIKeyConfig `mapstructure:"api_keys"`
	NoAuth          bool           `mapstructure:"no_auth"`
	Debug           bool           `mapstructure:"debug"` // include stack traces in error bodies
}

// APIKeyConfig describes one issued API key and its entitlements.
type APIKeyConfig struct {
	Key         string   `mapstructure:"key"`
	Name        string   `mapstructure:"name"`
	Tier        string   `mapstructure:"tier"` // basic, premium
	AllowedCDMs []string `mapstructure:"allowed_cdms"`
	DefaultCDM  string   `mapstructure:"default_cdm"`
}

// ProxyProvidersConfig holds proxy provider credentials and server maps.
type ProxyProvidersConfig struct {
	Basic   map[string][]string `mapstructure:"basic"`
	NordVPN NordVPNConfig       `mapstructure:"nordvpn"`
}

// NordVPNConfig holds NordVPN service credentials.
type NordVPNConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// RemoteServiceConfig points at one remote service server.
type RemoteServiceConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
	Name   string `mapstructure:"name"`
}

// HTTPConfig holds HTTP client facade configuration: a global default plus
// per-service named overrides, merged default -> named -> per-call.
type HTTPConfig struct {
	Default HTTPClientConfig            `mapstructure:"default"`
	Named   map[string]HTTPClientConfig `mapstructure:"named"`
	Proxy   string                      `mapstructure:"proxy"` // default outbound proxy token
}

// HTTPClientConfig mirrors httpclient.Config in mapstructure form.
type HTTPClientConfig struct {
	Backend     string            `mapstructure:"backend"` // standard, impersonating
	Proxy       string            `mapstructure:"proxy"`
	Headers     map[string]string `mapstructure:"headers"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	UserAgent   string            `mapstructure:"user_agent"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Impersonate ImpersonateConfig `mapstructure:"impersonate"`
}

// RetryConfig holds retry policy overrides.
type RetryConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	RetryStatuses     []int         `mapstructure:"retry_statuses"`
}

// ImpersonateConfig holds TLS fingerprint configuration for the
// impersonating backend.
type ImpersonateConfig struct {
	Preset string `mapstructure:"preset"` // okhttp4, okhttp5, chrome, firefox
	JA3    string `mapstructure:"ja3"`
	Akamai string `mapstructure:"akamai"`
}

// OutputTemplateConfig holds filename templates per title type.
type OutputTemplateConfig struct {
	Movies string `mapstructure:"movies"`
	Series string `mapstructure:"series"`
	Songs  string `mapstructure:"songs"`
}

// KeyVaultConfig describes one content-key vault.
type KeyVaultConfig struct {
	Type     string `mapstructure:"type"` // sqlite, mysql, http
	Name     string `mapstructure:"name"`
	Path     string `mapstructure:"path"` // sqlite
	Host     string `mapstructure:"host"` // mysql
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	URI      string `mapstructure:"uri"` // http
	APIKey   string `mapstructure:"api_key"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with VANTAGE_ and use underscores for
// nesting. Example: VANTAGE_SERVE_PORT=8786.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("vantage")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/vantage")
		v.AddConfigPath("$HOME/.config/vantage")
	}

	v.SetEnvPrefix("VANTAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file so defaults are in place.
func SetDefaults(v *viper.Viper) {
	cacheDir := "./cache"
	if dir, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(dir, "vantage")
	}

	// Directory defaults
	v.SetDefault("directories.downloads", "./downloads")
	v.SetDefault("directories.temp", "./temp")
	v.SetDefault("directories.cache", cacheDir)
	v.SetDefault("directories.cookies", filepath.Join(cacheDir, "cookies"))
	v.SetDefault("directories.services", "./services")

	// Filename defaults
	v.SetDefault("filenames.log", "vantage_{name}_{time}.log")
	v.SetDefault("filenames.chapters", "Chapters_{title}_{random}.txt")
	v.SetDefault("filenames.subtitle", "Subtitle_{id}_{language}.srt")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Downloader defaults
	v.SetDefault("downloader.workers", defaultWorkers)
	v.SetDefault("downloader.segment_workers", defaultSegmentWorkers)
	v.SetDefault("downloader.job_retention", defaultJobRetention)
	v.SetDefault("downloader.prune_schedule", "0 * * * *") // hourly

	// Serve defaults
	v.SetDefault("serve.host", "0.0.0.0")
	v.SetDefault("serve.port", defaultServePort)
	v.SetDefault("serve.read_timeout", defaultServeTimeout)
	v.SetDefault("serve.write_timeout", defaultServeTimeout)
	v.SetDefault("serve.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("serve.cors_origins", []string{"*"})
	v.SetDefault("serve.no_auth", false)
	v.SetDefault("serve.debug", false)

	// HTTP facade defaults
	v.SetDefault("http.default.backend", "standard")

	// Output template defaults
	v.SetDefault("output_template.movies", "{title} ({year}) {quality}")
	v.SetDefault("output_template.series", "{title} {season_episode} {episode_name?}")
	v.SetDefault("output_template.songs", "{track_number}. {title}")

	// Update check defaults
	v.SetDefault("update_checks", true)
	v.SetDefault("update_check_interval", defaultUpdateInterval)
}

// templateVar matches {var} and {var?} references in output templates.
var templateVar = regexp.MustCompile(`\{([^}?]+)\??\}`)

// knownTemplateVars is the variable inventory for output templates.
var knownTemplateVars = map[string]bool{
	"title": true, "year": true, "season": true, "episode": true,
	"season_episode": true, "episode_name": true, "quality": true,
	"resolution": true, "source": true, "tag": true, "track_number": true,
	"artist": true, "album": true, "disc": true,
	"audio": true, "audio_channels": true, "audio_full": true,
	"atmos": true, "dual": true, "multi": true,
	"video": true, "hdr": true, "hfr": true,
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Serve.Port < 1 || c.Serve.Port > maxPort {
		return fmt.Errorf("serve.port must be between 1 and %d", maxPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	validTiers := map[string]bool{"": true, "basic": true, "premium": true}
	for i, key := range c.Serve.APIKeys {
		if key.Key == "" {
			return fmt.Errorf("serve.api_keys[%d].key is required", i)
		}
		if !validTiers[key.Tier] {
			return fmt.Errorf("serve.api_keys[%d].tier must be basic or premium", i)
		}
	}

	for i, remote := range c.RemoteServices {
		if remote.URL == "" {
			return fmt.Errorf("remote_services[%d].url is required", i)
		}
		if !strings.HasPrefix(remote.URL, "http://") && !strings.HasPrefix(remote.URL, "https://") {
			return fmt.Errorf("remote_services[%d].url must be an http(s) URL", i)
		}
	}

	validVaults := map[string]bool{"sqlite": true, "mysql": true, "http": true}
	for i, vault := range c.KeyVaults {
		if !validVaults[vault.Type] {
			return fmt.Errorf("key_vaults[%d].type must be one of: sqlite, mysql, http", i)
		}
	}

	for name, template := range map[string]string{
		"movies": c.OutputTemplate.Movies,
		"series": c.OutputTemplate.Series,
		"songs":  c.OutputTemplate.Songs,
	} {
		for _, match := range templateVar.FindAllStringSubmatch(template, -1) {
			if !knownTemplateVars[match[1]] {
				return fmt.Errorf("output_template.%s references unknown variable %q", name, match[1])
			}
		}
	}

	if c.Downloader.Workers < 1 {
		return fmt.Errorf("downloader.workers must be at least 1")
	}
	if c.Downloader.SegmentWorkers < 1 {
		return fmt.Errorf("downloader.segment_workers must be at least 1")
	}

	return nil
}

// Address returns the serve address in host:port format.
func (c *ServeConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ValidKeys reports whether any authentication material is configured.
func (c *ServeConfig) ValidKeys() bool {
	return c.APISecret != "" || len(c.APIKeys) > 0
}

// GetCredential returns the configured username/password for a service and
/// profile. Credentials may be a single "user:pass" string for the service or
// a profile-keyed map of them; the empty profile means "default".
func (c *Config) GetCredential(serviceTag, profile string) (username, password string, ok bool) {
	raw, found := c.Credentials[serviceTag]
	if !found {
		// Config keys are case-insensitive through viper, but direct
		// construction in tests may use any case.
		for tag, value := range c.Credentials {
			if strings.EqualFold(tag, serviceTag) {
				raw, found = value, true
				break
			}
		}
	}
	if !found {
		return "", "", false
	}

	if profile == "" {
		profile = "default"
	}

	switch value := raw.(type) {
	case string:
		return splitCredential(value)
	case map[string]any:
		entry, ok := value[profile]
		if !ok {
			return "", "", false
		}
		s, ok := entry.(string)
		if !ok {
			return "", "", false
		}
		return splitCredential(s)
	}
	return "", "", false
}

func splitCredential(s string) (string, string, bool) {
	username, password, ok := strings.Cut(s, ":")
	if !ok || username == "" {
		return "", "", false
	}
	return username, password, true
}

// ClientConfig converts the mapstructure form into an httpclient.Config.
func (c HTTPClientConfig) ClientConfig() httpclient.Config {
	return httpclient.Config{
		Backend:   httpclient.Backend(c.Backend),
		Proxy:     c.Proxy,
		Headers:   c.Headers,
		Timeout:   c.Timeout,
		UserAgent: c.UserAgent,
		Retry: httpclient.RetryPolicy{
			MaxAttempts:       c.Retry.MaxAttempts,
			BackoffBase:       c.Retry.BackoffBase,
			BackoffMultiplier: c.Retry.BackoffMultiplier,
			MaxBackoff:        c.Retry.MaxBackoff,
			RetryStatuses:     c.Retry.RetryStatuses,
		},
		Impersonate: httpclient.ImpersonateOptions{
			Preset: c.Impersonate.Preset,
			JA3:    c.Impersonate.JA3,
			Akamai: c.Impersonate.Akamai,
		},
	}
}

// ClientConfigs converts the whole http section for the facade factory.
func (c HTTPConfig) ClientConfigs() (httpclient.Config, map[string]httpclient.Config) {
	named := make(map[string]httpclient.Config, len(c.Named))
	for name, cfg := range c.Named {
		named[name] = cfg.ClientConfig()
	}
	return c.Default.ClientConfig(), named
}

// ServicePath returns the on-disk path for a service's own files.
func (c *DirectoriesConfig) ServicePath(tag string) string {
	return filepath.Join(c.Services, tag)
}

// CookiePath returns the cookies text file path for a service profile.
func (c *DirectoriesConfig) CookiePath(tag, profile string) string {
	if profile == "" {
		profile = "default"
	}
	return filepath.Join(c.Cookies, tag, profile+".txt")
}
