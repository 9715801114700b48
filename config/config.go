// Package config carrega a configuração do gateway: padrões, arquivo YAML
// opcional e variáveis de ambiente (prefixo GATEWAY_, mais PORT).
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"sre-gateway/middleware/ratelimit/domain"
)

const EnvPrefix = "GATEWAY"

type Config struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	GRPCHealthAddr  string        `mapstructure:"grpc_health_addr" yaml:"grpc_health_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	Service     ServiceConfig     `mapstructure:"service" yaml:"service"`
	Chaos       ChaosConfig       `mapstructure:"chaos" yaml:"chaos"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit" yaml:"rate_limit"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency" yaml:"concurrency"`
	Stats       StatsConfig       `mapstructure:"stats" yaml:"stats"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

type ServiceConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	DisplayName string `mapstructure:"display_name" yaml:"display_name"`
	Version     string `mapstructure:"version" yaml:"version"`
}

type ChaosConfig struct {
	Param   string        `mapstructure:"param" yaml:"param"`
	Latency time.Duration `mapstructure:"latency" yaml:"latency"`
}

type RateLimitConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	KeyHeader      string        `mapstructure:"key_header" yaml:"key_header"`
	TrustXFF       bool          `mapstructure:"trust_xff" yaml:"trust_xff"`
	TrustedProxies []string      `mapstructure:"trusted_proxies" yaml:"trusted_proxies"`
	IPv6Prefix     int           `mapstructure:"ipv6_prefix" yaml:"ipv6_prefix"`
	AddHeaders     bool          `mapstructure:"add_headers" yaml:"add_headers"`
	CleanupEvery   time.Duration `mapstructure:"cleanup_every" yaml:"cleanup_every"`
	Shards         int           `mapstructure:"shards" yaml:"shards"`
	Exempt         []string      `mapstructure:"exempt" yaml:"exempt"`
	Rules          []RuleConfig  `mapstructure:"rules" yaml:"rules"`
}

type ConcurrencyConfig struct {
	Max            int           `mapstructure:"max" yaml:"max"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout"`
}

// StatsConfig controla o registro de decisões no Redis (opcional).
type StatsConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	RedisAddr     string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password" yaml:"-"`
	RedisDB       int           `mapstructure:"redis_db" yaml:"redis_db"`
	Prefix        string        `mapstructure:"prefix" yaml:"prefix"`
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Bucket        string        `mapstructure:"bucket" yaml:"bucket"`
	TrackKeys     bool          `mapstructure:"track_keys" yaml:"track_keys"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

func Default() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 10 * time.Second,
		Service: ServiceConfig{
			Name:        "sre-governance-api",
			DisplayName: "SRE Governance Platform API",
			Version:     "1.0.0",
		},
		Chaos: ChaosConfig{
			Param:   "chaos",
			Latency: 3 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:      true,
			IPv6Prefix:   64,
			AddHeaders:   true,
			CleanupEvery: time.Minute,
			Shards:       32,
			Exempt:       []string{"/health", "/metrics"},
			Rules:        DefaultRules(),
		},
		Concurrency: ConcurrencyConfig{
			Max: 100,
		},
		Stats: StatsConfig{
			Prefix: "ratelimit:stats",
			TTL:    24 * time.Hour,
			Bucket: "minute",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Addr é o endereço de escuta HTTP.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Rules converte as regras declarativas, validando cada uma.
func (c Config) Rules() ([]domain.Rule, error) {
	rules := make([]domain.Rule, 0, len(c.RateLimit.Rules))
	seen := make(map[string]struct{}, len(c.RateLimit.Rules))
	for _, rc := range c.RateLimit.Rules {
		if _, dup := seen[rc.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate rule id %q", ErrInvalidRule, rc.ID)
		}
		seen[rc.ID] = struct{}{}
		r, err := rc.Rule()
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535, got %d", c.Port)
	}
	if strings.TrimSpace(c.Chaos.Param) == "" {
		return errors.New("chaos.param must not be empty")
	}
	if c.Chaos.Latency < 0 {
		return errors.New("chaos.latency must be >= 0")
	}
	if c.RateLimit.IPv6Prefix < 0 || c.RateLimit.IPv6Prefix > 128 {
		return fmt.Errorf("rate_limit.ipv6_prefix must be in 0..128, got %d", c.RateLimit.IPv6Prefix)
	}
	if c.Concurrency.Max < 0 {
		return errors.New("concurrency.max must be >= 0")
	}
	if c.Stats.Enabled && strings.TrimSpace(c.Stats.RedisAddr) == "" {
		return errors.New("stats.redis_addr is required when stats.enabled=true")
	}
	if c.RateLimit.Enabled {
		if _, err := c.Rules(); err != nil {
			return err
		}
	}
	return nil
}

// Load monta a configuração efetiva. path vazio: só padrões e ambiente.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// PORT é a convenção das plataformas de container; GATEWAY_PORT tem precedência.
	if err := v.BindEnv("port", EnvPrefix+"_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind PORT: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	// o decode reaproveita slices existentes; zera as que vêm do viper
	cfg := Default()
	cfg.RateLimit.Exempt = nil
	cfg.RateLimit.TrustedProxies = nil
	if v.IsSet("rate_limit.rules") {
		cfg.RateLimit.Rules = nil
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	// listas vindas do ambiente chegam como "a,b"
	cfg.RateLimit.TrustedProxies = splitList(cfg.RateLimit.TrustedProxies)
	cfg.RateLimit.Exempt = splitList(cfg.RateLimit.Exempt)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setDefaults registra toda chave escalar para que AutomaticEnv a enxergue
// no Unmarshal. As regras ficam de fora: só vêm do arquivo ou de Default.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("grpc_health_addr", d.GRPCHealthAddr)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)

	v.SetDefault("service.name", d.Service.Name)
	v.SetDefault("service.display_name", d.Service.DisplayName)
	v.SetDefault("service.version", d.Service.Version)

	v.SetDefault("chaos.param", d.Chaos.Param)
	v.SetDefault("chaos.latency", d.Chaos.Latency)

	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit.key_header", d.RateLimit.KeyHeader)
	v.SetDefault("rate_limit.trust_xff", d.RateLimit.TrustXFF)
	v.SetDefault("rate_limit.trusted_proxies", d.RateLimit.TrustedProxies)
	v.SetDefault("rate_limit.ipv6_prefix", d.RateLimit.IPv6Prefix)
	v.SetDefault("rate_limit.add_headers", d.RateLimit.AddHeaders)
	v.SetDefault("rate_limit.cleanup_every", d.RateLimit.CleanupEvery)
	v.SetDefault("rate_limit.shards", d.RateLimit.Shards)
	v.SetDefault("rate_limit.exempt", d.RateLimit.Exempt)

	v.SetDefault("concurrency.max", d.Concurrency.Max)
	v.SetDefault("concurrency.acquire_timeout", d.Concurrency.AcquireTimeout)

	v.SetDefault("stats.enabled", d.Stats.Enabled)
	v.SetDefault("stats.redis_addr", d.Stats.RedisAddr)
	v.SetDefault("stats.redis_password", d.Stats.RedisPassword)
	v.SetDefault("stats.redis_db", d.Stats.RedisDB)
	v.SetDefault("stats.prefix", d.Stats.Prefix)
	v.SetDefault("stats.ttl", d.Stats.TTL)
	v.SetDefault("stats.bucket", d.Stats.Bucket)
	v.SetDefault("stats.track_keys", d.Stats.TrackKeys)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// WriteYAML despeja a configuração efetiva (sem segredos).
func (c Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding config yaml: %w", err)
	}
	return enc.Close()
}
