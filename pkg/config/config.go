package config

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	errs "moonfetch/pkg/errors"
)

// Config holds all configuration options for moonfetch
type Config struct {
	Request   RequestConfig   `yaml:"request" json:"request"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Proxy     ProxyConfig     `yaml:"proxy" json:"proxy"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Challenge ChallengeConfig `yaml:"challenge" json:"challenge"`
	Download  DownloadConfig  `yaml:"download" json:"download"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// RequestConfig controls the executor
type RequestConfig struct {
	RetryBudget     int           `yaml:"retry_budget" json:"retry_budget"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
	Fingerprint     string        `yaml:"fingerprint" json:"fingerprint"`
	FollowRedirects bool          `yaml:"follow_redirects" json:"follow_redirects"`
}

// CacheConfig controls the response cache
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	Backend    string        `yaml:"backend" json:"backend"`
	TTL        time.Duration `yaml:"ttl" json:"ttl"`
	MaxEntries int           `yaml:"max_entries" json:"max_entries"`
	RedisURL   string        `yaml:"redis_url" json:"redis_url"`
}

// ProxyConfig controls the proxy rotator
type ProxyConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	List             []string      `yaml:"list" json:"list"`
	ListFile         string        `yaml:"list_file" json:"list_file"`
	Strategy         string        `yaml:"strategy" json:"strategy"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown" json:"cooldown"`
	Credentials      string        `yaml:"credentials" json:"credentials"`
}

// RateLimitConfig holds request pacing configuration
type RateLimitConfig struct {
	Enabled   bool          `yaml:"enabled" json:"enabled"`
	MinDelay  time.Duration `yaml:"min_delay" json:"min_delay"`
	MaxDelay  time.Duration `yaml:"max_delay" json:"max_delay"`
	GlobalRPS float64       `yaml:"global_rps" json:"global_rps"`
	Burst     int           `yaml:"burst" json:"burst"`
}

// ChallengeConfig controls challenge solving
type ChallengeConfig struct {
	MinSubmitDelay time.Duration `yaml:"min_submit_delay" json:"min_submit_delay"`
	MaxSubmitDelay time.Duration `yaml:"max_submit_delay" json:"max_submit_delay"`
	ClearanceTTL   time.Duration `yaml:"clearance_ttl" json:"clearance_ttl"`
	MaxClearances  int           `yaml:"max_clearances" json:"max_clearances"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	Overwrite   bool `yaml:"overwrite" json:"overwrite"`
	KeepPartial bool `yaml:"keep_partial" json:"keep_partial"`
	Concurrency int  `yaml:"concurrency" json:"concurrency"`
	Attempts    int  `yaml:"attempts" json:"attempts"`
	// RetryDelay fixes the pause between attempts; 0 backs off by error kind
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	Manifest   string        `yaml:"manifest" json:"manifest"`
}

// TelemetryConfig controls the stats endpoint
type TelemetryConfig struct {
	Listen string `yaml:"listen" json:"listen"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// Known option values, checked by Validate.
var (
	ProxyStrategies   = []string{"round_robin", "least_recently_used", "weighted"}
	CacheBackends     = []string{"memory", "redis"}
	CredentialSources = []string{"keyring", "file", "env", "none"}
	// FingerprintProfiles mirrors the profiles registered in pkg/fingerprint.
	FingerprintProfiles = []string{"chrome_windows", "chrome_mac", "firefox_linux", "safari_mac", "mobile_android"}
)

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Request: RequestConfig{
			RetryBudget:     3,
			Timeout:         30 * time.Second,
			Fingerprint:     "chrome_windows",
			FollowRedirects: true,
		},
		Cache: CacheConfig{
			Enabled:    true,
			Backend:    "memory",
			TTL:        5 * time.Minute,
			MaxEntries: 1024,
		},
		Proxy: ProxyConfig{
			Strategy:         "round_robin",
			FailureThreshold: 5,
			Cooldown:         5 * time.Minute,
			Credentials:      "none",
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			MinDelay: 1 * time.Second,
			MaxDelay: 3 * time.Second,
			Burst:    1,
		},
		Challenge: ChallengeConfig{
			MinSubmitDelay: 1 * time.Second,
			MaxSubmitDelay: 5 * time.Second,
			ClearanceTTL:   30 * time.Minute,
			MaxClearances:  1024,
		},
		Download: DownloadConfig{
			KeepPartial: true,
			Concurrency: 3,
			Attempts:    3,
		},
		Telemetry: TelemetryConfig{
			Listen: ":9090",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from MOONFETCH_* environment variables
func (c *Config) LoadFromEnv() error {
	var problems []error

	envInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				problems = append(problems, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	envDur := func(name string, dst *time.Duration) {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				problems = append(problems, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}
	envBool := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			*dst = strings.ToLower(v) == "true" || v == "1"
		}
	}
	envStr := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	envInt("MOONFETCH_RETRY_BUDGET", &c.Request.RetryBudget)
	envDur("MOONFETCH_TIMEOUT", &c.Request.Timeout)
	envStr("MOONFETCH_FINGERPRINT", &c.Request.Fingerprint)

	envBool("MOONFETCH_CACHE_ENABLED", &c.Cache.Enabled)
	envStr("MOONFETCH_CACHE_BACKEND", &c.Cache.Backend)
	envDur("MOONFETCH_CACHE_TTL", &c.Cache.TTL)
	envInt("MOONFETCH_CACHE_MAX_ENTRIES", &c.Cache.MaxEntries)
	envStr("MOONFETCH_REDIS_URL", &c.Cache.RedisURL)

	envBool("MOONFETCH_PROXY_ENABLED", &c.Proxy.Enabled)
	if list := os.Getenv("MOONFETCH_PROXY_LIST"); list != "" {
		c.Proxy.List = splitList(list)
	}
	envStr("MOONFETCH_PROXY_LIST_FILE", &c.Proxy.ListFile)
	envStr("MOONFETCH_PROXY_STRATEGY", &c.Proxy.Strategy)
	envStr("MOONFETCH_PROXY_CREDENTIALS", &c.Proxy.Credentials)

	envBool("MOONFETCH_RATE_LIMIT_ENABLED", &c.RateLimit.Enabled)
	envDur("MOONFETCH_MIN_DELAY", &c.RateLimit.MinDelay)
	envDur("MOONFETCH_MAX_DELAY", &c.RateLimit.MaxDelay)

	envDur("MOONFETCH_DOWNLOAD_RETRY_DELAY", &c.Download.RetryDelay)
	envStr("MOONFETCH_MANIFEST", &c.Download.Manifest)
	envStr("MOONFETCH_TELEMETRY_LISTEN", &c.Telemetry.Listen)
	envStr("MOONFETCH_LOG_LEVEL", &c.Logging.Level)
	envStr("MOONFETCH_LOG_FILE", &c.Logging.File)

	return errors.Join(problems...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".moonfetch.yaml",
		".moonfetch.yml",
		filepath.Join(home, ".config", "moonfetch", "config.yaml"),
		filepath.Join(home, ".moonfetch.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// ProxyURLs returns the inline list plus any entries read from ListFile.
// Blank lines and lines starting with '#' are skipped.
func (c *Config) ProxyURLs() ([]string, error) {
	urls := append([]string(nil), c.Proxy.List...)
	if c.Proxy.ListFile == "" {
		return urls, nil
	}

	f, err := os.Open(c.Proxy.ListFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open proxy list: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read proxy list: %w", err)
	}
	return urls, nil
}

// Validate checks if the configuration is valid. The result is a ConfigError
// listing every problem found.
func (c *Config) Validate() error {
	var problems []error

	if c.Request.RetryBudget < 1 {
		problems = append(problems, errors.New("retry budget must be at least 1"))
	}
	if c.Request.Timeout <= 0 {
		problems = append(problems, errors.New("request timeout must be positive"))
	}
	if !oneOf(c.Request.Fingerprint, FingerprintProfiles) {
		problems = append(problems, fmt.Errorf("unknown fingerprint profile %q", c.Request.Fingerprint))
	}

	if c.Cache.Enabled {
		if !oneOf(c.Cache.Backend, CacheBackends) {
			problems = append(problems, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
		}
		if c.Cache.TTL <= 0 {
			problems = append(problems, errors.New("cache ttl must be positive"))
		}
		if c.Cache.Backend == "memory" && c.Cache.MaxEntries <= 0 {
			problems = append(problems, errors.New("cache max entries must be positive"))
		}
		if c.Cache.Backend == "redis" && c.Cache.RedisURL == "" {
			problems = append(problems, errors.New("redis cache backend requires redis_url"))
		}
	}

	if c.Proxy.Enabled {
		if !oneOf(c.Proxy.Strategy, ProxyStrategies) {
			problems = append(problems, fmt.Errorf("unknown proxy strategy %q", c.Proxy.Strategy))
		}
		if c.Proxy.FailureThreshold <= 0 {
			problems = append(problems, errors.New("proxy failure threshold must be positive"))
		}
		if c.Proxy.Cooldown <= 0 {
			problems = append(problems, errors.New("proxy cooldown must be positive"))
		}
		if !oneOf(c.Proxy.Credentials, CredentialSources) {
			problems = append(problems, fmt.Errorf("unknown credential source %q", c.Proxy.Credentials))
		}
		if len(c.Proxy.List) == 0 && c.Proxy.ListFile == "" {
			problems = append(problems, errors.New("proxy rotation enabled but no proxies configured"))
		}
		for _, raw := range c.Proxy.List {
			if _, err := url.Parse(raw); err != nil {
				problems = append(problems, fmt.Errorf("invalid proxy url %q: %w", raw, err))
			}
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.MinDelay < 0 {
			problems = append(problems, errors.New("min delay cannot be negative"))
		}
		if c.RateLimit.MinDelay > c.RateLimit.MaxDelay {
			problems = append(problems, errors.New("min delay cannot exceed max delay"))
		}
		if c.RateLimit.GlobalRPS < 0 {
			problems = append(problems, errors.New("global rps cannot be negative"))
		}
	}

	if c.Challenge.MinSubmitDelay > c.Challenge.MaxSubmitDelay {
		problems = append(problems, errors.New("challenge min submit delay cannot exceed max submit delay"))
	}
	if c.Challenge.ClearanceTTL <= 0 {
		problems = append(problems, errors.New("clearance ttl must be positive"))
	}

	if c.Download.Concurrency <= 0 {
		problems = append(problems, errors.New("download concurrency must be positive"))
	}
	if c.Download.Attempts <= 0 {
		problems = append(problems, errors.New("download attempts must be positive"))
	}
	if c.Download.RetryDelay < 0 {
		problems = append(problems, errors.New("download retry delay must not be negative"))
	}

	validLogLevels := []string{"debug", "info", "warn", "error", "disabled"}
	if !oneOf(strings.ToLower(c.Logging.Level), validLogLevels) {
		problems = append(problems, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}

	if len(problems) > 0 {
		return errs.Config(errors.Join(problems...), "invalid configuration")
	}

	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Keys match the cobra flag names.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["retry-budget"].(int); ok && v > 0 {
		c.Request.RetryBudget = v
	}
	if v, ok := flags["timeout"].(time.Duration); ok && v > 0 {
		c.Request.Timeout = v
	}
	if v, ok := flags["fingerprint"].(string); ok && v != "" {
		c.Request.Fingerprint = v
	}
	if v, ok := flags["no-cache"].(bool); ok && v {
		c.Cache.Enabled = false
	}
	if v, ok := flags["proxy"].([]string); ok && len(v) > 0 {
		c.Proxy.Enabled = true
		c.Proxy.List = v
	}
	if v, ok := flags["proxy-file"].(string); ok && v != "" {
		c.Proxy.Enabled = true
		c.Proxy.ListFile = v
	}
	if v, ok := flags["proxy-strategy"].(string); ok && v != "" {
		c.Proxy.Strategy = v
	}
	if v, ok := flags["min-delay"].(time.Duration); ok {
		c.RateLimit.MinDelay = v
	}
	if v, ok := flags["max-delay"].(time.Duration); ok {
		c.RateLimit.MaxDelay = v
	}
	if v, ok := flags["no-rate-limit"].(bool); ok && v {
		c.RateLimit.Enabled = false
	}
	if v, ok := flags["overwrite"].(bool); ok && v {
		c.Download.Overwrite = true
	}
	if v, ok := flags["concurrency"].(int); ok && v > 0 {
		c.Download.Concurrency = v
	}
	if v, ok := flags["manifest"].(string); ok && v != "" {
		c.Download.Manifest = v
	}
	if v, ok := flags["listen"].(string); ok && v != "" {
		c.Telemetry.Listen = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".moonfetch.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, errs.Config(err, "failed to load config file")
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, errs.Config(err, "failed to load environment variables")
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}
