package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is shared by every service binary; each one reads the sections it
// needs. Values come from configs/base.yaml, an optional per-environment
// overlay, and ECP_* environment variables.
type Config struct {
	App struct {
		Env      string `koanf:"env"`
		LogDir   string `koanf:"log_dir"`
		LogLevel string `koanf:"log_level"`
	} `koanf:"app"`

	HTTP struct {
		GatewayAddr  string        `koanf:"gateway_addr"`
		AuthAddr     string        `koanf:"auth_addr"`
		UserAddr     string        `koanf:"user_addr"`
		ProductAddr  string        `koanf:"product_addr"`
		OrderAddr    string        `koanf:"order_addr"`
		ReadTimeout  time.Duration `koanf:"read_timeout"`
		WriteTimeout time.Duration `koanf:"write_timeout"`
	} `koanf:"http"`

	Postgres struct {
		URL          string `koanf:"url"`
		MaxOpenConns int    `koanf:"max_open_conns"`
		MaxIdleConns int    `koanf:"max_idle_conns"`
	} `koanf:"postgres"`

	Rabbit struct {
		URL              string        `koanf:"url"`
		ReconnectBackoff time.Duration `koanf:"reconnect_backoff"`
		MaxReconnectWait time.Duration `koanf:"max_reconnect_wait"`
	} `koanf:"rabbitmq"`

	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
	} `koanf:"redis"`

	Dedupe struct {
		TTL time.Duration `koanf:"ttl"`
	} `koanf:"dedupe"`

	RateLimit struct {
		Requests int           `koanf:"requests"`
		Window   time.Duration `koanf:"window"`
	} `koanf:"rate_limit"`

	JWT struct {
		Secret        string        `koanf:"secret"`
		AccessExpiry  time.Duration `koanf:"access_expiry"`
		RefreshExpiry time.Duration `koanf:"refresh_expiry"`
	} `koanf:"jwt"`

	ProductService struct {
		BaseURL string `koanf:"base_url"`
	} `koanf:"product_service"`

	Breaker struct {
		FailureThreshold int           `koanf:"failure_threshold"`
		SuccessThreshold int           `koanf:"success_threshold"`
		ResetTimeout     time.Duration `koanf:"reset_timeout"`
		CallTimeout      time.Duration `koanf:"call_timeout"`
	} `koanf:"breaker"`

	SMTP struct {
		Host string `koanf:"host"`
		Port string `koanf:"port"`
		From string `koanf:"from"`
	} `koanf:"smtp"`
}

// Load reads layered configuration: base.yaml, then <env>.yaml if present,
// then ECP_* environment variables (nested keys with __, e.g. ECP_POSTGRES__URL).
func Load(pathDir, envName string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(fmt.Sprintf("%s/base.yaml", pathDir)), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load base config: %w", err)
	}

	// Per-environment overlay is optional.
	_ = k.Load(file.Provider(fmt.Sprintf("%s/%s.yaml", pathDir, envName)), yaml.Parser())

	if err := k.Load(env.Provider("ECP_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "ECP_")
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Postgres.URL == "" {
		return fmt.Errorf("postgres.url required")
	}
	if c.Rabbit.URL == "" {
		return fmt.Errorf("rabbitmq.url required")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("jwt.secret must be at least 32 characters")
	}
	return nil
}
