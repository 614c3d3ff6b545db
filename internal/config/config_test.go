package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoad_EnvDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != EnvLocal || cfg.HTTPAddr != ":3000" {
		t.Errorf("unexpected defaults env=%q addr=%q", cfg.Env, cfg.HTTPAddr)
	}
	if cfg.Market.TickEvery != time.Minute || !cfg.Market.StartingCash().Equal(decimal.NewFromInt(5000)) {
		t.Errorf("unexpected market defaults %+v", cfg.Market)
	}
	if cfg.Trade.SelfTrade != "reject" || !cfg.Trade.AllowsRecipientOverdraft() {
		t.Errorf("unexpected trade defaults %+v", cfg.Trade)
	}
	if cfg.Kafka.Topic != "trade_settled" || len(cfg.Kafka.Brokers) != 0 {
		t.Errorf("unexpected kafka defaults %+v", cfg.Kafka)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("TRADE_SELF_TRADE", "allow")
	t.Setenv("TRADE_SETTLE_TIMEOUT", "250ms")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("MARKET_CRYPTO_JITTER", "0.2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != EnvDev || cfg.Trade.SelfTrade != "allow" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Trade.SettleTimeout != 250*time.Millisecond {
		t.Errorf("expected 250ms settle timeout, got %v", cfg.Trade.SettleTimeout)
	}
	if !reflect.DeepEqual(cfg.Kafka.Brokers, []string{"k1:9092", "k2:9092"}) {
		t.Errorf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.Market.CryptoJitter != 0.2 {
		t.Errorf("expected crypto jitter 0.2, got %v", cfg.Market.CryptoJitter)
	}
}

func TestLoad_RejectsUnknownSelfTradePolicy(t *testing.T) {
	t.Setenv("TRADE_SELF_TRADE", "maybe")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoad_ProdRequiresSecret(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	if _, err := Load(""); err == nil {
		t.Fatal("expected prod without SESSION_SECRET to fail")
	}
	t.Setenv("SESSION_SECRET", "s3cret")
	if _, err := Load(""); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `env: dev
http_addr: ":8081"
market:
  tick_every: 5s
  starting_balance: "100"
trade:
  self_trade: allow
  recipient_overdraft: reject
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8081" || cfg.Market.TickEvery != 5*time.Second || !cfg.Market.StartingCash().Equal(decimal.NewFromInt(100)) {
		t.Errorf("yaml values not applied: %+v", cfg)
	}
	if cfg.Trade.AllowsRecipientOverdraft() {
		t.Error("expected overdraft disabled from yaml")
	}
	// Unset keys keep their defaults.
	if cfg.Session.TTL != 24*time.Hour {
		t.Errorf("expected default session ttl, got %v", cfg.Session.TTL)
	}
}

func TestLoad_YAMLZeroValuesSurviveDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `market:
  starting_balance: "0"
trade:
  recipient_overdraft: reject
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Market.StartingCash().IsZero() {
		t.Errorf("expected starting balance 0, got %s", cfg.Market.StartingBalance)
	}
	if cfg.Trade.AllowsRecipientOverdraft() {
		t.Error("expected overdraft rejected")
	}
}

func TestLoad_EnvOverdraftAndBalance(t *testing.T) {
	t.Setenv("TRADE_RECIPIENT_OVERDRAFT", "reject")
	t.Setenv("STARTING_BALANCE", "0")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Trade.AllowsRecipientOverdraft() || !cfg.Market.StartingCash().IsZero() {
		t.Errorf("overrides not applied: %+v", cfg.Trade)
	}
}

func TestLoad_RejectsBadOverdraftAndBalance(t *testing.T) {
	t.Run("overdraft", func(t *testing.T) {
		t.Setenv("TRADE_RECIPIENT_OVERDRAFT", "sometimes")
		if _, err := Load(""); err == nil {
			t.Fatal("expected validation error")
		}
	})
	t.Run("balance", func(t *testing.T) {
		t.Setenv("STARTING_BALANCE", "lots")
		if _, err := Load(""); err == nil {
			t.Fatal("expected validation error")
		}
	})
	t.Run("negative balance", func(t *testing.T) {
		t.Setenv("STARTING_BALANCE", "-5")
		if _, err := Load(""); err == nil {
			t.Fatal("expected validation error")
		}
	})
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
