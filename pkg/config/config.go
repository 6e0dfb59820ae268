package config

import (
	"fmt"
	"os"
	"time"

	"meetjoin/pkg/validation"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Provisioning struct {
		Endpoint string        `yaml:"endpoint"`
		Timeout  time.Duration `yaml:"timeout"`
		CacheTTL time.Duration `yaml:"cache_ttl"`

		Retry struct {
			Enabled      bool          `yaml:"enabled"`
			MaxAttempts  int           `yaml:"max_attempts"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
		} `yaml:"retry"`

		CircuitBreaker struct {
			Enabled          bool          `yaml:"enabled"`
			FailureThreshold int           `yaml:"failure_threshold"`
			SuccessThreshold int           `yaml:"success_threshold"`
			Timeout          time.Duration `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"provisioning"`

	Session struct {
		MeetingID    string        `yaml:"meeting_id"`
		AutoJoin     bool          `yaml:"auto_join"`
		StartTimeout time.Duration `yaml:"start_timeout"`

		Signaling struct {
			PingInterval time.Duration `yaml:"ping_interval"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
		} `yaml:"signaling"`
	} `yaml:"session"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
		PortRange  struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
		KeyframeRequestInterval time.Duration `yaml:"keyframe_request_interval"`
	} `yaml:"webrtc"`

	Devices struct {
		VideoInputs []string `yaml:"video_inputs"`
		FrameRate   int      `yaml:"frame_rate"`
	} `yaml:"devices"`

	Transforms struct {
		Kinds         []string      `yaml:"kinds"`
		AssetTimeout  time.Duration `yaml:"asset_timeout"`
		MaxAssetBytes int64         `yaml:"max_asset_bytes"`
	} `yaml:"transforms"`

	Control struct {
		Address         string        `yaml:"address"`
		JWTSecret       string        `yaml:"jwt_secret"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

		RateLimiting struct {
			Enabled           bool    `yaml:"enabled"`
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"rate_limiting"`
	} `yaml:"control"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`

		Tracing struct {
			Enabled    bool    `yaml:"enabled"`
			JaegerURL  string  `yaml:"jaeger_url"`
			SampleRate float64 `yaml:"sample_rate"`
		} `yaml:"tracing"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Provisioning
	if c.Provisioning.Endpoint == "" {
		return fmt.Errorf("provisioning.endpoint must not be empty")
	}
	if c.Provisioning.Timeout <= 0 {
		return fmt.Errorf("provisioning.timeout must be > 0")
	}
	if c.Provisioning.CacheTTL < 0 {
		return fmt.Errorf("provisioning.cache_ttl must be >= 0")
	}
	if c.Provisioning.Retry.Enabled {
		if c.Provisioning.Retry.MaxAttempts <= 0 {
			return fmt.Errorf("provisioning.retry.max_attempts must be > 0 when retry is enabled")
		}
		if c.Provisioning.Retry.InitialDelay <= 0 {
			return fmt.Errorf("provisioning.retry.initial_delay must be > 0 when retry is enabled")
		}
	}
	if c.Provisioning.CircuitBreaker.Enabled {
		if c.Provisioning.CircuitBreaker.FailureThreshold <= 0 {
			return fmt.Errorf("provisioning.circuit_breaker.failure_threshold must be > 0")
		}
		if c.Provisioning.CircuitBreaker.Timeout <= 0 {
			return fmt.Errorf("provisioning.circuit_breaker.timeout must be > 0")
		}
	}

	// Session
	if c.Session.StartTimeout <= 0 {
		return fmt.Errorf("session.start_timeout must be > 0")
	}
	if c.Session.Signaling.PingInterval <= 0 {
		return fmt.Errorf("session.signaling.ping_interval must be > 0")
	}
	if c.Session.Signaling.WriteTimeout <= 0 {
		return fmt.Errorf("session.signaling.write_timeout must be > 0")
	}

	// WebRTC
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}
	if c.WebRTC.KeyframeRequestInterval <= 0 {
		return fmt.Errorf("webrtc.keyframe_request_interval must be > 0")
	}

	// Devices
	if c.Devices.FrameRate <= 0 {
		return fmt.Errorf("devices.frame_rate must be > 0")
	}
	for _, id := range c.Devices.VideoInputs {
		if err := validation.ValidateDeviceID(id); err != nil {
			return fmt.Errorf("devices.video_inputs: %q: %w", id, err)
		}
	}

	// Transforms
	for _, kind := range c.Transforms.Kinds {
		if kind != "blur" && kind != "replacement" {
			return fmt.Errorf("transforms.kinds: unknown kind %q", kind)
		}
	}
	if c.Transforms.AssetTimeout <= 0 {
		return fmt.Errorf("transforms.asset_timeout must be > 0")
	}
	if c.Transforms.MaxAssetBytes <= 0 {
		return fmt.Errorf("transforms.max_asset_bytes must be > 0")
	}

	// Control
	if c.Control.Address == "" {
		return fmt.Errorf("control.address must not be empty")
	}
	if c.Control.ShutdownTimeout <= 0 {
		return fmt.Errorf("control.shutdown_timeout must be > 0")
	}
	if c.Control.RateLimiting.Enabled {
		if c.Control.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("control.rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.Control.RateLimiting.Burst <= 0 {
			return fmt.Errorf("control.rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}

	// Monitoring
	if c.Monitoring.Tracing.Enabled {
		if c.Monitoring.Tracing.JaegerURL == "" {
			return fmt.Errorf("monitoring.tracing.jaeger_url must not be empty when tracing is enabled")
		}
		if c.Monitoring.Tracing.SampleRate < 0 || c.Monitoring.Tracing.SampleRate > 1 {
			return fmt.Errorf("monitoring.tracing.sample_rate must be within [0, 1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.applyEnvOverrides(); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Provisioning.Endpoint = "http://localhost:8080/meeting"
	cfg.Provisioning.Timeout = 10 * time.Second
	cfg.Provisioning.CacheTTL = 0
	cfg.Provisioning.Retry.Enabled = false
	cfg.Provisioning.Retry.MaxAttempts = 3
	cfg.Provisioning.Retry.InitialDelay = 200 * time.Millisecond
	cfg.Provisioning.Retry.MaxDelay = 5 * time.Second
	cfg.Provisioning.CircuitBreaker.Enabled = false
	cfg.Provisioning.CircuitBreaker.FailureThreshold = 5
	cfg.Provisioning.CircuitBreaker.SuccessThreshold = 2
	cfg.Provisioning.CircuitBreaker.Timeout = 30 * time.Second

	cfg.Session.MeetingID = "test123"
	cfg.Session.AutoJoin = false
	cfg.Session.StartTimeout = 20 * time.Second
	cfg.Session.Signaling.PingInterval = 30 * time.Second
	cfg.Session.Signaling.WriteTimeout = 10 * time.Second

	cfg.WebRTC.ICEServers = []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	cfg.WebRTC.KeyframeRequestInterval = time.Second

	cfg.Devices.VideoInputs = []string{"cam-0"}
	cfg.Devices.FrameRate = 15

	cfg.Transforms.Kinds = []string{"blur", "replacement"}
	cfg.Transforms.AssetTimeout = 10 * time.Second
	cfg.Transforms.MaxAssetBytes = 8 << 20

	cfg.Control.Address = "127.0.0.1:7070"
	cfg.Control.ShutdownTimeout = 10 * time.Second
	cfg.Control.RateLimiting.Enabled = false
	cfg.Control.RateLimiting.RequestsPerSecond = 10
	cfg.Control.RateLimiting.Burst = 20

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.Tracing.Enabled = false
	cfg.Monitoring.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Monitoring.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	return cfg
}

// envOverrides lists the settings that can be overridden from the
// environment. Unset variables leave the loaded value in place.
type envOverrides struct {
	ProvisioningEndpoint string         `env:"MEETJOIN_PROVISIONING_ENDPOINT"`
	ProvisioningTimeout  *time.Duration `env:"MEETJOIN_PROVISIONING_TIMEOUT"`
	ProvisioningCacheTTL *time.Duration `env:"MEETJOIN_PROVISIONING_CACHE_TTL"`
	MeetingID            string         `env:"MEETJOIN_MEETING_ID"`
	AutoJoin             *bool          `env:"MEETJOIN_AUTO_JOIN"`
	SessionStartTimeout  *time.Duration `env:"MEETJOIN_SESSION_START_TIMEOUT"`
	VideoInputs          []string       `env:"MEETJOIN_VIDEO_INPUTS" envSeparator:","`
	ControlAddress       string         `env:"MEETJOIN_CONTROL_ADDRESS"`
	JWTSecret            string         `env:"MEETJOIN_JWT_SECRET"`
	TracingEnabled       *bool          `env:"MEETJOIN_TRACING_ENABLED"`
	JaegerURL            string         `env:"MEETJOIN_JAEGER_URL"`
	LogLevel             string         `env:"MEETJOIN_LOG_LEVEL"`
	RedisEnabled         *bool          `env:"MEETJOIN_REDIS_ENABLED"`
	RedisAddress         string         `env:"MEETJOIN_REDIS_ADDRESS"`
	RedisPassword        string         `env:"MEETJOIN_REDIS_PASSWORD"`
}

func (c *Config) applyEnvOverrides() error {
	o, err := env.ParseAs[envOverrides]()
	if err != nil {
		return fmt.Errorf("failed to parse env overrides: %w", err)
	}

	if o.ProvisioningEndpoint != "" {
		c.Provisioning.Endpoint = o.ProvisioningEndpoint
	}
	if o.ProvisioningTimeout != nil {
		c.Provisioning.Timeout = *o.ProvisioningTimeout
	}
	if o.ProvisioningCacheTTL != nil {
		c.Provisioning.CacheTTL = *o.ProvisioningCacheTTL
	}
	if o.MeetingID != "" {
		c.Session.MeetingID = o.MeetingID
	}
	if o.AutoJoin != nil {
		c.Session.AutoJoin = *o.AutoJoin
	}
	if o.SessionStartTimeout != nil {
		c.Session.StartTimeout = *o.SessionStartTimeout
	}
	if len(o.VideoInputs) > 0 {
		c.Devices.VideoInputs = o.VideoInputs
	}
	if o.ControlAddress != "" {
		c.Control.Address = o.ControlAddress
	}
	if o.JWTSecret != "" {
		c.Control.JWTSecret = o.JWTSecret
	}
	if o.TracingEnabled != nil {
		c.Monitoring.Tracing.Enabled = *o.TracingEnabled
	}
	if o.JaegerURL != "" {
		c.Monitoring.Tracing.JaegerURL = o.JaegerURL
	}
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
	if o.RedisEnabled != nil {
		c.Redis.Enabled = *o.RedisEnabled
	}
	if o.RedisAddress != "" {
		c.Redis.Address = o.RedisAddress
	}
	if o.RedisPassword != "" {
		c.Redis.Password = o.RedisPassword
	}
	return nil
}
