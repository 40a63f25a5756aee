// Package config handles application configuration from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Providers ProvidersConfig `yaml:"providers"`
	Cache     CacheConfig     `yaml:"cache"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Bulk      BulkConfig      `yaml:"bulk"`
	RateLimit RateLimitConfig `yaml:"rate_limits"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ProvidersConfig groups per-provider settings with the shared transport
// and circuit-breaker knobs.
type ProvidersConfig struct {
	VirusTotal ProviderConfig `yaml:"virustotal"`
	AbuseIPDB  ProviderConfig `yaml:"abuseipdb"`
	OTX        ProviderConfig `yaml:"otx"`

	ConnectTimeoutSec int `yaml:"connect_timeout_sec"`
	ReadTimeoutSec    int `yaml:"read_timeout_sec"`

	CircuitBreakerFails       int `yaml:"circuit_breaker_fails"`
	CircuitBreakerCooldownSec int `yaml:"circuit_breaker_cooldown_sec"`

	RetryMax          int     `yaml:"retry_max"`
	RetryBaseDelaySec float64 `yaml:"retry_base_delay_sec"`
}

// ProviderConfig holds one external API's credentials and request shape.
// Paths map indicator types to path templates with an {ioc} placeholder.
type ProviderConfig struct {
	APIKey  string            `yaml:"api_key"`
	BaseURL string            `yaml:"base_url"`
	Paths   map[string]string `yaml:"paths"`
}

// CacheConfig sets per-indicator-type freshness windows.
type CacheConfig struct {
	TTLIPSec     int `yaml:"ttl_ip_sec"`
	TTLDomainSec int `yaml:"ttl_domain_sec"`
	TTLURLSec    int `yaml:"ttl_url_sec"`
	TTLHashSec   int `yaml:"ttl_hash_sec"`
}

// ScoringConfig sets provider weights, verdict thresholds and the OTX
// pulse-to-reputation policy constants.
type ScoringConfig struct {
	Weights       map[string]float64 `yaml:"weights"`
	DefaultWeight float64            `yaml:"default_weight"`

	MaliciousThreshold  int `yaml:"malicious_threshold"`
	SuspiciousThreshold int `yaml:"suspicious_threshold"`
	UnknownThreshold    int `yaml:"unknown_threshold"`

	OTXPulsePoints  int `yaml:"otx_pulse_points"`
	OTXPulseCap     int `yaml:"otx_pulse_cap"`
	OTXMalwareBonus int `yaml:"otx_malware_bonus"`
}

type BulkConfig struct {
	MaxFileSizeBytes int64 `yaml:"max_file_size_bytes"`
	PauseMs          int   `yaml:"pause_ms"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ConnectTimeout returns the provider connect timeout as a duration.
func (p *ProvidersConfig) ConnectTimeout() time.Duration {
	return time.Duration(p.ConnectTimeoutSec) * time.Second
}

// ReadTimeout returns the provider read timeout as a duration.
func (p *ProvidersConfig) ReadTimeout() time.Duration {
	return time.Duration(p.ReadTimeoutSec) * time.Second
}

// CircuitBreakerCooldown returns the breaker cooldown as a duration.
func (p *ProvidersConfig) CircuitBreakerCooldown() time.Duration {
	return time.Duration(p.CircuitBreakerCooldownSec) * time.Second
}

// RetryBaseDelay returns the retry base delay as a duration.
func (p *ProvidersConfig) RetryBaseDelay() time.Duration {
	return time.Duration(p.RetryBaseDelaySec * float64(time.Second))
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path: "./data/threatlens.db",
		},
		Providers: ProvidersConfig{
			VirusTotal: ProviderConfig{
				BaseURL: "https://www.virustotal.com/api/v3",
				Paths: map[string]string{
					"ipv4":        "/ip_addresses/{ioc}",
					"ipv6":        "/ip_addresses/{ioc}",
					"domain":      "/domains/{ioc}",
					"url":         "/urls/{ioc}",
					"hash_md5":    "/files/{ioc}",
					"hash_sha1":   "/files/{ioc}",
					"hash_sha256": "/files/{ioc}",
				},
			},
			AbuseIPDB: ProviderConfig{
				BaseURL: "https://api.abuseipdb.com/api/v2",
				Paths: map[string]string{
					"ipv4": "/check",
				},
			},
			OTX: ProviderConfig{
				BaseURL: "https://otx.alienvault.com/api/v1",
				Paths: map[string]string{
					"ipv4":        "/indicators/IPv4/{ioc}/general",
					"ipv6":        "/indicators/IPv6/{ioc}/general",
					"domain":      "/indicators/domain/{ioc}/general",
					"url":         "/indicators/url/{ioc}/general",
					"hash_md5":    "/indicators/file/{ioc}/general",
					"hash_sha1":   "/indicators/file/{ioc}/general",
					"hash_sha256": "/indicators/file/{ioc}/general",
				},
			},
			ConnectTimeoutSec:         2,
			ReadTimeoutSec:            8,
			CircuitBreakerFails:       3,
			CircuitBreakerCooldownSec: 60,
			RetryMax:                  2,
			RetryBaseDelaySec:         1.0,
		},
		Cache: CacheConfig{
			TTLIPSec:     3600,   // 1 hour
			TTLDomainSec: 10800,  // 3 hours
			TTLURLSec:    10800,  // 3 hours
			TTLHashSec:   604800, // 7 days
		},
		Scoring: ScoringConfig{
			Weights: map[string]float64{
				"virustotal": 0.5,
				"otx":        0.3,
				"abuseipdb":  0.2,
			},
			DefaultWeight:       0.1,
			MaliciousThreshold:  80,
			SuspiciousThreshold: 50,
			UnknownThreshold:    20,
			OTXPulsePoints:      10,
			OTXPulseCap:         80,
			OTXMalwareBonus:     20,
		},
		Bulk: BulkConfig{
			MaxFileSizeBytes: 10 << 20, // 10 MiB
			PauseMs:          100,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s (run with --generate-config to create one)", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Interpolate environment variables
	content := interpolateEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// GenerateSample creates a sample configuration file.
func GenerateSample(path string) error {
	sample := `# ThreatLens Configuration
# See documentation for all options

server:
  port: 8080

database:
  path: ./data/threatlens.db

providers:
  virustotal:
    api_key: ${VT_API_KEY}
  abuseipdb:
    api_key: ${ABUSEIPDB_API_KEY}
  otx:
    api_key: ${OTX_API_KEY}

  connect_timeout_sec: 2
  read_timeout_sec: 8
  circuit_breaker_fails: 3
  circuit_breaker_cooldown_sec: 60
  retry_max: 2
  retry_base_delay_sec: 1.0

cache:
  ttl_ip_sec: 3600        # 1 hour
  ttl_domain_sec: 10800   # 3 hours
  ttl_url_sec: 10800      # 3 hours
  ttl_hash_sec: 604800    # 7 days

scoring:
  weights:
    virustotal: 0.5
    otx: 0.3
    abuseipdb: 0.2
  default_weight: 0.1
  malicious_threshold: 80
  suspicious_threshold: 50
  unknown_threshold: 20

bulk:
  max_file_size_bytes: 10485760  # 10 MiB
  pause_ms: 100

rate_limits:
  requests_per_minute: 60

logging:
  level: info  # debug, info, warn, error
  format: json # json or text
`
	return os.WriteFile(path, []byte(sample), 0644)
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Providers.CircuitBreakerFails < 1 {
		return fmt.Errorf("circuit_breaker_fails must be at least 1")
	}

	if c.Providers.ConnectTimeoutSec < 1 || c.Providers.ReadTimeoutSec < 1 {
		return fmt.Errorf("provider timeouts must be at least 1 second")
	}

	if c.Bulk.MaxFileSizeBytes < 1 {
		return fmt.Errorf("bulk max_file_size_bytes must be positive")
	}

	thr := c.Scoring
	if !(thr.MaliciousThreshold > thr.SuspiciousThreshold && thr.SuspiciousThreshold > thr.UnknownThreshold) {
		return fmt.Errorf("scoring thresholds must be strictly decreasing: malicious > suspicious > unknown")
	}

	return nil
}

// interpolateEnvVars replaces ${VAR_NAME} with environment variable values.
func interpolateEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return match // Keep original if not set
	})
}

// TTLFor returns the cache TTL for an indicator type string
// ("ipv4", "domain", ...). Unknown types fall back to one hour.
func (c *CacheConfig) TTLFor(indicatorType string) time.Duration {
	switch indicatorType {
	case "ipv4", "ipv6":
		return time.Duration(c.TTLIPSec) * time.Second
	case "domain":
		return time.Duration(c.TTLDomainSec) * time.Second
	case "url":
		return time.Duration(c.TTLURLSec) * time.Second
	case "hash_md5", "hash_sha1", "hash_sha256":
		return time.Duration(c.TTLHashSec) * time.Second
	default:
		return time.Hour
	}
}
