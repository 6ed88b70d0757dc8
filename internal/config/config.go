// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/portalpilot/api/schemas"
)

// Config holds the entire application configuration. It is built once at
// startup and handed to every component by pointer; nothing mutates it afterwards.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Target      TargetConfig      `mapstructure:"target" yaml:"target"`
	Probe       ProbeConfig       `mapstructure:"probe" yaml:"probe"`
	Proxy       ProxyConfig       `mapstructure:"proxy" yaml:"proxy"`
	Selector    SelectorConfig    `mapstructure:"selector" yaml:"selector"`
	Engines     EnginesConfig     `mapstructure:"engines" yaml:"engines"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	OTP         OTPConfig         `mapstructure:"otp" yaml:"otp"`
	Portal      PortalConfig      `mapstructure:"portal" yaml:"portal"`
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
	Evidence    EvidenceConfig    `mapstructure:"evidence" yaml:"evidence"`
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Secrets     SecretsConfig     `mapstructure:"secrets" yaml:"secrets"`
	Payload     PayloadConfig     `mapstructure:"payload" yaml:"payload"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// TargetConfig identifies the portal and what a healthy landing page contains.
type TargetConfig struct {
	URL    string `mapstructure:"url" yaml:"url"`
	Marker string `mapstructure:"marker" yaml:"marker"`
}

// ProbeConfig tunes the connectivity probe.
type ProbeConfig struct {
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	BlockedStatuses []int         `mapstructure:"blocked_statuses" yaml:"blocked_statuses"`
}

// ProxyConfig describes the upstream proxy used when the direct path is blocked.
// The password is never stored in the config file; it is resolved through the
// secret named by PasswordSecret.
type ProxyConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	Host           string `mapstructure:"host" yaml:"host"`
	Port           int    `mapstructure:"port" yaml:"port"`
	Username       string `mapstructure:"username" yaml:"username"`
	PasswordSecret string `mapstructure:"password_secret" yaml:"password_secret"`
	// Region is the ISO country code of the proxy's exit node.
	Region string `mapstructure:"region" yaml:"region"`
}

// SelectorConfig controls the direct-or-proxy decision.
type SelectorConfig struct {
	DefaultRegion     string `mapstructure:"default_region" yaml:"default_region"`
	ProxyOnDNSFailure bool   `mapstructure:"proxy_on_dns_failure" yaml:"proxy_on_dns_failure"`
	ProxyOnRefused    bool   `mapstructure:"proxy_on_refused" yaml:"proxy_on_refused"`
}

// EnginesConfig lists the engine priority order and each engine's time budget.
type EnginesConfig struct {
	Order             []string      `mapstructure:"order" yaml:"order"`
	MinEvidenceBytes  int           `mapstructure:"min_evidence_bytes" yaml:"min_evidence_bytes"`
	PrimaryTimeout    time.Duration `mapstructure:"primary_timeout" yaml:"primary_timeout"`
	SecondaryTimeout  time.Duration `mapstructure:"secondary_timeout" yaml:"secondary_timeout"`
	SubprocessTimeout time.Duration `mapstructure:"subprocess_timeout" yaml:"subprocess_timeout"`
	RawHTTPTimeout    time.Duration `mapstructure:"raw_http_timeout" yaml:"raw_http_timeout"`
}

// ParsedOrder converts Order into engine kinds, rejecting unknown names and duplicates.
func (e EnginesConfig) ParsedOrder() ([]schemas.EngineKind, error) {
	kinds := make([]schemas.EngineKind, 0, len(e.Order))
	seen := make(map[schemas.EngineKind]bool, len(e.Order))
	for _, name := range e.Order {
		k, err := schemas.ParseEngineKind(name)
		if err != nil {
			return nil, err
		}
		if seen[k] {
			return nil, fmt.Errorf("engine %s listed more than once", k)
		}
		seen[k] = true
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// TimeoutFor returns the time budget of a single attempt by kind.
func (e EnginesConfig) TimeoutFor(kind schemas.EngineKind) time.Duration {
	switch kind {
	case schemas.EnginePrimaryDriver:
		return e.PrimaryTimeout
	case schemas.EngineSecondaryDriver:
		return e.SecondaryTimeout
	case schemas.EngineSubprocessBrowser:
		return e.SubprocessTimeout
	case schemas.EngineRawHTTP:
		return e.RawHTTPTimeout
	}
	return 0
}

// BrowserConfig holds settings shared by every browser based engine.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	Binary          string         `mapstructure:"binary" yaml:"binary"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
}

// ViewportSize returns the configured width and height, falling back to 1366x900.
func (b BrowserConfig) ViewportSize() (int, int) {
	w, h := b.Viewport["width"], b.Viewport["height"]
	if w <= 0 {
		w = 1366
	}
	if h <= 0 {
		h = 900
	}
	return w, h
}

// OTP source modes.
const (
	OTPModeConsole = "console"
	OTPModeFile    = "file"
)

// OTPConfig controls how the one-time passcode is obtained.
type OTPConfig struct {
	Mode              string        `mapstructure:"mode" yaml:"mode"`
	HandoffFile       string        `mapstructure:"handoff_file" yaml:"handoff_file"`
	Pattern           string        `mapstructure:"pattern" yaml:"pattern"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	UnattendedTimeout time.Duration `mapstructure:"unattended_timeout" yaml:"unattended_timeout"`
	Unattended        bool          `mapstructure:"unattended" yaml:"unattended"`
}

// EffectiveTimeout picks the wait budget for the current mode.
func (o OTPConfig) EffectiveTimeout() time.Duration {
	if o.Unattended {
		return o.UnattendedTimeout
	}
	return o.Timeout
}

// PortalConfig captures everything site specific: paths, selectors and markers.
type PortalConfig struct {
	LoginPath           string        `mapstructure:"login_path" yaml:"login_path"`
	UsernameSelector    string        `mapstructure:"username_selector" yaml:"username_selector"`
	PasswordSelector    string        `mapstructure:"password_selector" yaml:"password_selector"`
	LoginSubmitSelector string        `mapstructure:"login_submit_selector" yaml:"login_submit_selector"`
	LoginFailureMarkers []string      `mapstructure:"login_failure_markers" yaml:"login_failure_markers"`
	OTPSelector         string        `mapstructure:"otp_selector" yaml:"otp_selector"`
	OTPSubmitSelector   string        `mapstructure:"otp_submit_selector" yaml:"otp_submit_selector"`
	OTPSuccessSelector  string        `mapstructure:"otp_success_selector" yaml:"otp_success_selector"`
	OTPFailureMarkers   []string      `mapstructure:"otp_failure_markers" yaml:"otp_failure_markers"`
	UploadPath          string        `mapstructure:"upload_path" yaml:"upload_path"`
	FileInputSelector   string        `mapstructure:"file_input_selector" yaml:"file_input_selector"`
	SubmitSelector      string        `mapstructure:"submit_selector" yaml:"submit_selector"`
	ConfirmationMarker  string        `mapstructure:"confirmation_marker" yaml:"confirmation_marker"`
	StepTimeout         time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	ConfirmationTimeout time.Duration `mapstructure:"confirmation_timeout" yaml:"confirmation_timeout"`
	PollInterval        time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// CredentialsConfig names the secrets holding the portal login.
type CredentialsConfig struct {
	UsernameSecret string `mapstructure:"username_secret" yaml:"username_secret"`
	PasswordSecret string `mapstructure:"password_secret" yaml:"password_secret"`
}

// EvidenceConfig controls where step snapshots are written.
type EvidenceConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// DatabaseConfig holds the run event store connection. An empty URL keeps
// run events in the log only.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// SecretsConfig configures secret resolution.
type SecretsConfig struct {
	File      string `mapstructure:"file" yaml:"file"`
	EnvPrefix string `mapstructure:"env_prefix" yaml:"env_prefix"`
}

// PayloadConfig controls how the upload file is materialized.
type PayloadConfig struct {
	Reference   string        `mapstructure:"reference" yaml:"reference"`
	DownloadDir string        `mapstructure:"download_dir" yaml:"download_dir"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "portalpilot")
	v.SetDefault("logger.log_file", "portalpilot.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Probe --
	v.SetDefault("probe.timeout", "12s")
	v.SetDefault("probe.max_body_bytes", 1<<20)
	v.SetDefault("probe.blocked_statuses", []int{403, 429, 503})

	// -- Proxy / Selector --
	v.SetDefault("proxy.enabled", false)
	v.SetDefault("proxy.region", "US")
	v.SetDefault("selector.default_region", "US")
	v.SetDefault("selector.proxy_on_dns_failure", false)
	v.SetDefault("selector.proxy_on_refused", true)

	// -- Engines --
	v.SetDefault("engines.order", []string{
		string(schemas.EnginePrimaryDriver),
		string(schemas.EngineSecondaryDriver),
		string(schemas.EngineSubprocessBrowser),
		string(schemas.EngineRawHTTP),
	})
	v.SetDefault("engines.min_evidence_bytes", 20000)
	v.SetDefault("engines.primary_timeout", "60s")
	v.SetDefault("engines.secondary_timeout", "60s")
	v.SetDefault("engines.subprocess_timeout", "45s")
	v.SetDefault("engines.raw_http_timeout", "20s")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport", map[string]int{"width": 1366, "height": 900})

	// -- OTP --
	v.SetDefault("otp.mode", OTPModeConsole)
	v.SetDefault("otp.pattern", `^[0-9]{4,10}$`)
	v.SetDefault("otp.timeout", "2m")
	v.SetDefault("otp.unattended_timeout", "15m")
	v.SetDefault("otp.unattended", false)

	// -- Portal --
	v.SetDefault("portal.login_path", "/login")
	v.SetDefault("portal.username_selector", `input[name="username"]`)
	v.SetDefault("portal.password_selector", `input[type="password"]`)
	v.SetDefault("portal.login_submit_selector", `button[type="submit"]`)
	v.SetDefault("portal.login_failure_markers", []string{"invalid username", "incorrect password", "invalid credentials"})
	v.SetDefault("portal.otp_selector", `input[autocomplete="one-time-code"]`)
	v.SetDefault("portal.otp_submit_selector", `button[type="submit"]`)
	v.SetDefault("portal.otp_failure_markers", []string{"invalid code", "code has expired", "incorrect code"})
	v.SetDefault("portal.file_input_selector", `input[type="file"]`)
	v.SetDefault("portal.submit_selector", `button[type="submit"]`)
	v.SetDefault("portal.confirmation_marker", "successfully")
	v.SetDefault("portal.step_timeout", "45s")
	v.SetDefault("portal.confirmation_timeout", "90s")
	v.SetDefault("portal.poll_interval", "500ms")

	// -- Credentials / Secrets --
	v.SetDefault("credentials.username_secret", "portal_username")
	v.SetDefault("credentials.password_secret", "portal_password")
	v.SetDefault("secrets.env_prefix", "PORTALPILOT_SECRET_")

	// -- Evidence / Payload --
	v.SetDefault("evidence.dir", "~/.portalpilot/evidence")
	v.SetDefault("payload.timeout", "60s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Evidence.Dir, &c.Browser.Binary, &c.OTP.HandoffFile, &c.Secrets.File, &c.Payload.DownloadDir, &c.Logger.LogFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	var errs []error

	if c.Target.URL == "" {
		errs = append(errs, errors.New("target.url is required"))
	} else if u, err := url.Parse(c.Target.URL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("target.url %q must be an absolute http(s) URL", c.Target.URL))
	}
	if c.Probe.Timeout <= 0 {
		errs = append(errs, errors.New("probe.timeout must be a positive duration"))
	}

	order, err := c.Engines.ParsedOrder()
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("engines.order: %w", err))
	case len(order) == 0:
		errs = append(errs, errors.New("engines.order must list at least one engine"))
	default:
		for _, k := range order {
			if c.Engines.TimeoutFor(k) <= 0 {
				errs = append(errs, fmt.Errorf("engines timeout for %s must be a positive duration", k))
			}
		}
	}

	if err := c.Proxy.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("proxy: %w", err))
	}
	if err := c.OTP.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("otp: %w", err))
	}
	if c.Portal.PollInterval <= 0 {
		errs = append(errs, errors.New("portal.poll_interval must be a positive duration"))
	}
	if c.Evidence.Dir == "" {
		errs = append(errs, errors.New("evidence.dir is required"))
	}
	return errors.Join(errs...)
}

// Validate checks the proxy settings when the proxy is enabled.
func (p *ProxyConfig) Validate() error {
	if !p.Enabled {
		return nil
	}
	if p.Host == "" {
		return errors.New("host is required when the proxy is enabled")
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("port %d is out of range", p.Port)
	}
	if p.Username != "" && p.PasswordSecret == "" {
		return errors.New("password_secret is required when username is set")
	}
	return nil
}

// Validate checks the OTP source settings.
func (o *OTPConfig) Validate() error {
	switch strings.ToLower(o.Mode) {
	case OTPModeConsole:
	case OTPModeFile:
		if o.HandoffFile == "" {
			return errors.New("handoff_file is required in file mode")
		}
	default:
		return fmt.Errorf("unknown mode %q", o.Mode)
	}
	if o.EffectiveTimeout() <= 0 {
		return errors.New("timeout must be a positive duration")
	}
	return nil
}
