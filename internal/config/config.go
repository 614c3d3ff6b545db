package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/shopspring/decimal"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

type Config struct {
	Env         string        `yaml:"env" env:"APP_ENV" env-default:"local" env-description:"Environment" env-choices:"local,dev,prod"`
	HTTPAddr    string        `yaml:"http_addr" env:"HTTP_ADDR" env-default:":3000"`
	DatabaseURL string        `yaml:"database_url" env:"DATABASE_URL" env-description:"PostgreSQL DSN; empty runs on the in-memory store"`
	RedisURL    string        `yaml:"redis_url" env:"REDIS_URL" env-description:"Redis URL for the read-through cache; empty disables it"`
	CacheTTL    time.Duration `yaml:"cache_ttl" env:"CACHE_TTL" env-default:"30s"`
	StaticDir   string        `yaml:"static_dir" env:"STATIC_DIR" env-default:"./public"`

	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`

	Session `yaml:"session"`
	Market  `yaml:"market"`
	Trade   `yaml:"trade"`
	Kafka   `yaml:"kafka"`
}

type Session struct {
	Secret string        `yaml:"secret" env:"SESSION_SECRET" env-default:"change-me-in-production"`
	TTL    time.Duration `yaml:"ttl" env:"SESSION_TTL" env-default:"24h"`
}

type Market struct {
	TickEvery       time.Duration `yaml:"tick_every" env:"MARKET_TICK_EVERY" env-default:"60s"`
	StockJitter     float64       `yaml:"stock_jitter" env:"MARKET_STOCK_JITTER" env-default:"0.05"`
	CryptoJitter    float64       `yaml:"crypto_jitter" env:"MARKET_CRYPTO_JITTER" env-default:"0.10"`
	StartingBalance string        `yaml:"starting_balance" env:"STARTING_BALANCE" env-default:"5000"`
}

// StartingCash is StartingBalance as a decimal. Call after Validate.
func (m Market) StartingCash() decimal.Decimal {
	v, _ := decimal.NewFromString(m.StartingBalance)
	return v
}

// Policies are strings rather than bools: cleanenv fills zero values from
// env-default after reading YAML, so a false in the file would be lost.
type Trade struct {
	SelfTrade          string        `yaml:"self_trade" env:"TRADE_SELF_TRADE" env-default:"reject" env-description:"reject or allow"`
	RecipientOverdraft string        `yaml:"recipient_overdraft" env:"TRADE_RECIPIENT_OVERDRAFT" env-default:"allow" env-description:"allow or reject"`
	SettleTimeout      time.Duration `yaml:"settle_timeout" env:"TRADE_SETTLE_TIMEOUT" env-default:"5s"`
}

// AllowsRecipientOverdraft reports whether a recipient may pay into a negative balance.
func (t Trade) AllowsRecipientOverdraft() bool {
	return t.RecipientOverdraft == "allow"
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"trade_settled"`
}

// Load reads the YAML file at path with environment overrides, or the
// environment alone when path is empty.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad loads the config named by -config or CONFIG_PATH and panics on failure.
func MustLoad() *Config {
	cfg, err := Load(fetchConfigPath())
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	return cfg
}

func (c *Config) Validate() error {
	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		return fmt.Errorf("APP_ENV must be local, dev or prod, got %q", c.Env)
	}
	switch c.Trade.SelfTrade {
	case "reject", "allow":
	default:
		return fmt.Errorf("TRADE_SELF_TRADE must be reject or allow, got %q", c.Trade.SelfTrade)
	}
	switch c.Trade.RecipientOverdraft {
	case "allow", "reject":
	default:
		return fmt.Errorf("TRADE_RECIPIENT_OVERDRAFT must be allow or reject, got %q", c.Trade.RecipientOverdraft)
	}
	if c.Market.TickEvery <= 0 {
		return fmt.Errorf("MARKET_TICK_EVERY must be positive")
	}
	balance, err := decimal.NewFromString(c.Market.StartingBalance)
	if err != nil {
		return fmt.Errorf("STARTING_BALANCE must be a number, got %q", c.Market.StartingBalance)
	}
	if balance.IsNegative() {
		return fmt.Errorf("STARTING_BALANCE must not be negative")
	}
	if c.Env == EnvProd && c.Session.Secret == "change-me-in-production" {
		return fmt.Errorf("SESSION_SECRET must be set in prod")
	}
	return nil
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
