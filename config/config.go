package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/everFinance/trustcoin/schema"
	"github.com/spf13/viper"
)

const (
	LedgerSqlite = "sqlite"
	LedgerMysql  = "mysql"
	LedgerBolt   = "bolt"
)

// Config is built once at startup and handed to every constructor.
type Config struct {
	Port          string   `mapstructure:"port" yaml:"port"`
	MetricPort    string   `mapstructure:"metricPort" yaml:"metricPort"`
	AdminApiKey   string   `mapstructure:"adminApiKey" yaml:"adminApiKey"`
	RateLimit     int      `mapstructure:"rateLimit" yaml:"rateLimit"` // requests per minute per origin+ip
	RateWhitelist []string `mapstructure:"rateWhitelist" yaml:"rateWhitelist"`
	BoltDir       string   `mapstructure:"boltDir" yaml:"boltDir"`

	Chain       Chain       `mapstructure:"chain" yaml:"chain"`
	Reputation  Reputation  `mapstructure:"reputation" yaml:"reputation"`
	Eligibility Eligibility `mapstructure:"eligibility" yaml:"eligibility"`
	Claim       Claim       `mapstructure:"claim" yaml:"claim"`
	Sync        Sync        `mapstructure:"sync" yaml:"sync"`
	Ledger      Ledger      `mapstructure:"ledger" yaml:"ledger"`
	Kafka       Kafka       `mapstructure:"kafka" yaml:"kafka"`
	Sentry      Sentry      `mapstructure:"sentry" yaml:"sentry"`
}

type Chain struct {
	RpcUrl         string        `mapstructure:"rpcUrl" yaml:"rpcUrl"`
	ChainId        int64         `mapstructure:"chainId" yaml:"chainId"`
	AdminKey       string        `mapstructure:"adminKey" yaml:"adminKey"` // hex private key
	Registry       string        `mapstructure:"registry" yaml:"registry"`
	Token          string        `mapstructure:"token" yaml:"token"`
	PolicyId       uint64        `mapstructure:"policyId" yaml:"policyId"`
	Decimals       int32         `mapstructure:"decimals" yaml:"decimals"`
	GasLimit       uint64        `mapstructure:"gasLimit" yaml:"gasLimit"` // 0: estimate
	ConfirmTimeout time.Duration `mapstructure:"confirmTimeout" yaml:"confirmTimeout"`
}

type Reputation struct {
	Url       string        `mapstructure:"url" yaml:"url"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimit float64       `mapstructure:"rateLimit" yaml:"rateLimit"` // requests per second
	Burst     int           `mapstructure:"burst" yaml:"burst"`
	CacheTTL  time.Duration `mapstructure:"cacheTTL" yaml:"cacheTTL"`
}

type Eligibility struct {
	MinScore  int64  `mapstructure:"minScore" yaml:"minScore"`
	ClaimUnit string `mapstructure:"claimUnit" yaml:"claimUnit"` // minor units per XP
}

type Claim struct {
	FreshnessWindow time.Duration `mapstructure:"freshnessWindow" yaml:"freshnessWindow"`
}

type Sync struct {
	Enable      bool          `mapstructure:"enable" yaml:"enable"`
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
}

type Ledger struct {
	Backend   string `mapstructure:"backend" yaml:"backend"` // sqlite | mysql | bolt
	Dsn       string `mapstructure:"dsn" yaml:"dsn"`
	SqliteDir string `mapstructure:"sqliteDir" yaml:"sqliteDir"`
}

type Kafka struct {
	Start bool   `mapstructure:"start" yaml:"start"`
	Uri   string `mapstructure:"uri" yaml:"uri"`
}

type Sentry struct {
	Dsn string `mapstructure:"dsn" yaml:"dsn"`
	Env string `mapstructure:"env" yaml:"env"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", ":8080")
	v.SetDefault("metricPort", ":9000")
	v.SetDefault("rateLimit", 120)
	v.SetDefault("boltDir", "./data/bolt")
	v.SetDefault("chain.decimals", 6)
	v.SetDefault("chain.confirmTimeout", "90s")
	v.SetDefault("reputation.url", "https://api.ethos.network/api/v1")
	v.SetDefault("reputation.timeout", "10s")
	v.SetDefault("reputation.rateLimit", 10)
	v.SetDefault("reputation.burst", 5)
	v.SetDefault("reputation.cacheTTL", "60s")
	v.SetDefault("eligibility.minScore", 1400)
	v.SetDefault("eligibility.claimUnit", "1000000")
	v.SetDefault("claim.freshnessWindow", "5m")
	v.SetDefault("sync.enable", true)
	v.SetDefault("sync.interval", "30m")
	v.SetDefault("sync.concurrency", 20)
	v.SetDefault("ledger.backend", LedgerSqlite)
	v.SetDefault("ledger.sqliteDir", "./data/sqlite")
}

// Load reads a yaml file (optional when path is empty) and TRUSTCOIN_* environment overrides,
// e.g. TRUSTCOIN_CHAIN_POLICYID=7.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("trustcoin")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("trustcoin")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, err
		}
	}
	// AutomaticEnv only covers keys viper already knows about
	for _, k := range []string{"chain.rpcUrl", "chain.chainId", "chain.adminKey", "chain.registry", "chain.token",
		"chain.policyId", "chain.gasLimit", "adminApiKey", "ledger.dsn", "kafka.start", "kafka.uri", "sentry.dsn", "sentry.env"} {
		_ = v.BindEnv(k)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports ErrMisconfigured for anything sync and claim cannot run without.
func (c *Config) Validate() error {
	if c.Chain.PolicyId == 0 {
		return fmt.Errorf("%w: policy id is unset", schema.ErrMisconfigured)
	}
	if !common.IsHexAddress(c.Chain.Registry) {
		return fmt.Errorf("%w: invalid registry address %q", schema.ErrMisconfigured, c.Chain.Registry)
	}
	if !common.IsHexAddress(c.Chain.Token) {
		return fmt.Errorf("%w: invalid token address %q", schema.ErrMisconfigured, c.Chain.Token)
	}
	if len(c.Chain.RpcUrl) == 0 {
		return fmt.Errorf("%w: rpc url is unset", schema.ErrMisconfigured)
	}
	if len(c.Chain.AdminKey) == 0 {
		return fmt.Errorf("%w: admin key is unset", schema.ErrMisconfigured)
	}
	if _, err := c.ClaimUnit(); err != nil {
		return err
	}
	switch c.Ledger.Backend {
	case LedgerSqlite, LedgerBolt:
	case LedgerMysql:
		if len(c.Ledger.Dsn) == 0 {
			return fmt.Errorf("%w: mysql ledger needs a dsn", schema.ErrMisconfigured)
		}
	default:
		return fmt.Errorf("%w: unknown ledger backend %q", schema.ErrMisconfigured, c.Ledger.Backend)
	}
	return nil
}

func (c *Config) ClaimUnit() (*big.Int, error) {
	unit, ok := new(big.Int).SetString(c.Eligibility.ClaimUnit, 10)
	if !ok || unit.Sign() <= 0 {
		return nil, fmt.Errorf("%w: invalid claim unit %q", schema.ErrMisconfigured, c.Eligibility.ClaimUnit)
	}
	return unit, nil
}

func (c *Config) RateWhitelistSet() map[string]struct{} {
	res := make(map[string]struct{}, len(c.RateWhitelist))
	for _, ip := range c.RateWhitelist {
		res[ip] = struct{}{}
	}
	return res
}
