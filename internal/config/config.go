// Package config loads the service configuration from YAML with POSTLAUNCH_*
// environment overrides and command-line flags on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/postlaunch/internal/creation"
	"github.com/sawpanic/postlaunch/internal/guard"
	"github.com/sawpanic/postlaunch/internal/infrastructure/db"
	"github.com/sawpanic/postlaunch/internal/journal"
	"github.com/sawpanic/postlaunch/internal/social"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "POSTLAUNCH_"

// Config is the complete service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Client    ClientConfig    `yaml:"client"`
	Social    SocialConfig    `yaml:"social"`
	Guard     GuardConfig     `yaml:"guard"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	Creation  CreationConfig  `yaml:"creation"`
	Signer    SignerConfig    `yaml:"signer"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Ledger    db.Config       `yaml:"ledger"`
	Journal   JournalConfig   `yaml:"journal"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// LaunchTimeout bounds one submit or resume run
	LaunchTimeout time.Duration `yaml:"launch_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto, json or console
}

type SocialConfig struct {
	Endpoint `yaml:",inline"`
	Trigger  string `yaml:"trigger"`
}

type GuardConfig struct {
	Cooldown time.Duration `yaml:"cooldown"`
}

type MetadataConfig struct {
	Endpoint      `yaml:",inline"`
	MaxImageBytes int64 `yaml:"max_image_bytes"`
}

type CreationConfig struct {
	Endpoint `yaml:",inline"`
	APIKey   string          `yaml:"api_key"`
	Timeout  time.Duration   `yaml:"timeout"`
	Params   creation.Params `yaml:"params"`
}

// SignerConfig locates the requester key. Key holds an inline key and is
// only read from the environment.
type SignerConfig struct {
	KeyFile string `yaml:"key_file"`
	Key     string `yaml:"-"`
}

type BroadcastConfig struct {
	Relays         []Endpoint    `yaml:"relays"`
	RelayTimeout   time.Duration `yaml:"relay_timeout"`
	Breaker        BreakerConfig `yaml:"breaker"`
	RPC            []Endpoint    `yaml:"rpc"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
}

type JournalConfig struct {
	Driver string        `yaml:"driver"` // memory or redis
	TTL    time.Duration `yaml:"ttl"`
	Redis  RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"-"`
	DB       int    `yaml:"db"`
}

// Default returns a configuration that only lacks collaborator URLs and the
// signing key
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    6 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			LaunchTimeout:   5 * time.Minute,
		},
		Log: LogConfig{Level: "info", Format: "auto"},
		Client: ClientConfig{
			MaxConcurrency: 16,
			RequestTimeout: 10 * time.Second,
			MaxRetries:     2,
			Backoff:        BackoffConfig{Base: 200 * time.Millisecond, Max: 2 * time.Second},
			UserAgent:      "postlaunch/1.0",
		},
		Social:   SocialConfig{Endpoint: Endpoint{Name: "social"}, Trigger: social.DefaultTrigger},
		Guard:    GuardConfig{Cooldown: guard.DefaultCooldown},
		Metadata: MetadataConfig{Endpoint: Endpoint{Name: "content-store"}, MaxImageBytes: 5 << 20},
		Creation: CreationConfig{
			Endpoint: Endpoint{Name: "creation"},
			Timeout:  30 * time.Second,
			Params: creation.Params{
				InitialBuySOL:       0,
				SlippageBps:         1000,
				RelayTipLamports:    1_000_000,
				PriorityFeeLamports: 100_000,
			},
		},
		Broadcast: BroadcastConfig{
			RelayTimeout: 5 * time.Second,
			Breaker: BreakerConfig{
				ConsecutiveFailures: 3,
				MinRequests:         20,
				FailureRatio:        0.5,
				Interval:            time.Minute,
				OpenTimeout:         30 * time.Second,
			},
			PollInterval:   time.Second,
			ConfirmTimeout: 60 * time.Second,
		},
		Ledger:  db.DefaultConfig(),
		Journal: JournalConfig{Driver: "memory", TTL: journal.DefaultTTL, Redis: RedisConfig{Addr: "localhost:6379"}},
	}
}

// Load reads configPath over the defaults, if the file exists, then applies
// environment overrides. It does not validate.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
			}
		}
	}

	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

// applyEnvOverrides applies POSTLAUNCH_* variables. Malformed values are
// reported rather than ignored.
func applyEnvOverrides(cfg *Config, lookup lookupFunc) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	endpoints := func(name, prefix string, dst *[]Endpoint) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = parseEndpointList(prefix, v)
		}
	}

	str("SERVER_ADDR", &cfg.Server.Addr)
	dur("LAUNCH_TIMEOUT", &cfg.Server.LaunchTimeout)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	str("SOCIAL_URL", &cfg.Social.URL)
	str("SOCIAL_TRIGGER", &cfg.Social.Trigger)
	dur("GUARD_COOLDOWN", &cfg.Guard.Cooldown)
	str("METADATA_URL", &cfg.Metadata.URL)
	str("CREATION_URL", &cfg.Creation.URL)
	str("CREATION_API_KEY", &cfg.Creation.APIKey)
	str("SIGNER_KEY_FILE", &cfg.Signer.KeyFile)
	str("SIGNER_KEY", &cfg.Signer.Key)

	endpoints("RELAY_URLS", "relay", &cfg.Broadcast.Relays)
	endpoints("RPC_URLS", "rpc", &cfg.Broadcast.RPC)
	dur("RELAY_TIMEOUT", &cfg.Broadcast.RelayTimeout)
	dur("CONFIRM_TIMEOUT", &cfg.Broadcast.ConfirmTimeout)

	str("LEDGER_DRIVER", &cfg.Ledger.Driver)
	str("LEDGER_DSN", &cfg.Ledger.DSN)
	dur("LEDGER_QUERY_TIMEOUT", &cfg.Ledger.QueryTimeout)
	integer("LEDGER_MAX_OPEN_CONNS", &cfg.Ledger.MaxOpenConns)

	str("JOURNAL_DRIVER", &cfg.Journal.Driver)
	dur("JOURNAL_TTL", &cfg.Journal.TTL)
	str("REDIS_ADDR", &cfg.Journal.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Journal.Redis.Password)
	integer("REDIS_DB", &cfg.Journal.Redis.DB)

	return errors.Join(errs...)
}

// parseEndpointList reads "name=url" items separated by commas; unnamed items
// are numbered
func parseEndpointList(prefix, v string) []Endpoint {
	var out []Endpoint
	for i, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name := fmt.Sprintf("%s-%d", prefix, i+1)
		if k, u, ok := strings.Cut(item, "="); ok {
			name, item = strings.TrimSpace(k), strings.TrimSpace(u)
		}
		out = append(out, Endpoint{Name: name, URL: item})
	}
	return out
}

// Validate reports every problem in the configuration at once
func (c *Config) Validate() error {
	var errs []error
	add := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}

	if c.Server.Addr == "" {
		add("server", errors.New("addr cannot be empty"))
	}
	if c.Server.LaunchTimeout <= 0 {
		add("server", errors.New("launch_timeout must be positive"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "auto", "json", "console":
	default:
		add("log", fmt.Errorf("format %q must be auto, json or console", c.Log.Format))
	}
	add("client", c.Client.Validate())
	add("social", c.Social.Validate())
	if strings.TrimSpace(c.Social.Trigger) == "" {
		add("social", errors.New("trigger cannot be empty"))
	}
	if c.Guard.Cooldown <= 0 {
		add("guard", errors.New("cooldown must be positive"))
	}
	add("metadata", c.Metadata.Validate())
	if c.Metadata.MaxImageBytes <= 0 {
		add("metadata", errors.New("max_image_bytes must be positive"))
	}
	add("creation", c.Creation.Validate())
	if c.Creation.Timeout <= 0 {
		add("creation", errors.New("timeout must be positive"))
	}
	if c.Creation.Params.SlippageBps < 0 || c.Creation.Params.SlippageBps > 10_000 {
		add("creation", fmt.Errorf("params.slippage_bps must be between 0 and 10000, got %d", c.Creation.Params.SlippageBps))
	}
	if c.Creation.Params.InitialBuySOL < 0 {
		add("creation", errors.New("params.initial_buy_sol cannot be negative"))
	}
	if c.Signer.KeyFile == "" && c.Signer.Key == "" {
		add("signer", fmt.Errorf("key_file or %sSIGNER_KEY is required", EnvPrefix))
	}

	if len(c.Broadcast.Relays) == 0 && len(c.Broadcast.RPC) == 0 {
		add("broadcast", errors.New("at least one relay or rpc endpoint is required"))
	}
	for i, e := range c.Broadcast.Relays {
		add(fmt.Sprintf("broadcast.relays[%d]", i), e.Validate())
	}
	for i, e := range c.Broadcast.RPC {
		add(fmt.Sprintf("broadcast.rpc[%d]", i), e.Validate())
	}
	if c.Broadcast.RelayTimeout <= 0 {
		add("broadcast", errors.New("relay_timeout must be positive"))
	}
	if c.Broadcast.PollInterval <= 0 || c.Broadcast.ConfirmTimeout <= c.Broadcast.PollInterval {
		add("broadcast", errors.New("confirm_timeout must exceed a positive poll_interval"))
	}
	add("broadcast.breaker", c.Broadcast.Breaker.Validate())

	add("ledger", c.Ledger.Validate())

	switch c.Journal.Driver {
	case "memory":
	case "redis":
		if c.Journal.Redis.Addr == "" {
			add("journal", errors.New("redis.addr is required for the redis driver"))
		}
	default:
		add("journal", fmt.Errorf("driver %q must be memory or redis", c.Journal.Driver))
	}
	if c.Journal.TTL <= 0 {
		add("journal", errors.New("ttl must be positive"))
	}

	return errors.Join(errs...)
}
