package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Store     StoreConfig     `yaml:"store"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type UpstreamConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIToken       string        `yaml:"api_token"`
	TeamID         string        `yaml:"team_id"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type ReconcileConfig struct {
	PollInterval           time.Duration  `yaml:"poll_interval"`
	MaxSessionDuration     time.Duration  `yaml:"max_session_duration"`
	HealthFailureThreshold int            `yaml:"health_failure_threshold"`
	Backfill               BackfillConfig `yaml:"backfill"`
}

type BackfillConfig struct {
	Enabled  bool `yaml:"enabled"`
	MaxPages int  `yaml:"max_pages"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Upstream: UpstreamConfig{
			BaseURL:        "https://api.clickup.com/api/v2",
			RequestTimeout: 10 * time.Second,
		},
		Reconcile: ReconcileConfig{
			PollInterval:           30 * time.Second,
			MaxSessionDuration:     12 * time.Hour,
			HealthFailureThreshold: 3,
			Backfill: BackfillConfig{
				MaxPages: 100,
			},
		},
		Store: StoreConfig{
			Path: "timemonitor.db",
		},
	}
}

// Load reads the YAML config at path over a defaults-populated Config.
// A missing file is not an error: the defaults are returned so that
// credential-free modes (-mock) work without a config file on disk.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MaxSessionMillis returns the session duration clamp in milliseconds.
// Zero or negative configured durations disable clamping.
func (c *Config) MaxSessionMillis() int64 {
	if c.Reconcile.MaxSessionDuration <= 0 {
		return 0
	}
	return c.Reconcile.MaxSessionDuration.Milliseconds()
}
