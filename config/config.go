// Package config loads node configuration from a YAML/JSON file with DMA_
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// TokenConfig describes the escrow ledger token created at genesis.
type TokenConfig struct {
	Name     string `mapstructure:"name"`
	Symbol   string `mapstructure:"symbol"`
	Decimals uint8  `mapstructure:"decimals"`
	Issuer   string `mapstructure:"issuer"` // may mint with add_issue
}

// RegistryConfig describes the NFT registry created at genesis.
type RegistryConfig struct {
	Name        string `mapstructure:"name"`
	Symbol      string `mapstructure:"symbol"`
	Metadata    string `mapstructure:"metadata"`
	Owner       string `mapstructure:"owner"`
	BurnEnabled bool   `mapstructure:"burn_enabled"`
}

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID  string         `mapstructure:"chain_id"`
	Token    TokenConfig    `mapstructure:"token"`
	Registry RegistryConfig `mapstructure:"registry"`
	// Alloc maps an address to a human-readable amount such as "1500.25",
	// scaled by Token.Decimals.
	Alloc map[string]string `mapstructure:"alloc"`
}

type TLSConfig struct {
	CACert   string `mapstructure:"ca_cert"` // when set, clients must present a cert
	NodeCert string `mapstructure:"cert"`
	NodeKey  string `mapstructure:"key"`
}

type RPCConfig struct {
	Addr      string    `mapstructure:"addr"`
	AuthToken string    `mapstructure:"auth_token"` // empty → no auth
	TLS       TLSConfig `mapstructure:"tls"`
}

type LogConfig struct {
	Debug      bool   `mapstructure:"debug"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type NATSConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	ConnectionName string        `mapstructure:"connection_name"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PublishRetries uint64        `mapstructure:"publish_retries"`
}

type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
	Prefix  string `mapstructure:"prefix"`
}

// Config holds all node configuration.
type Config struct {
	NodeID        string        `mapstructure:"node_id"`
	DataDir       string        `mapstructure:"data_dir"`
	BlockInterval time.Duration `mapstructure:"block_interval"`
	MaxBlockTxs   int           `mapstructure:"max_block_txs"` // 0 → 500
	Validators    []string      `mapstructure:"validators"`    // authorised proposer pubkey hexes

	RPC     RPCConfig     `mapstructure:"rpc"`
	Genesis GenesisConfig `mapstructure:"genesis"`
	Log     LogConfig     `mapstructure:"log"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Journal JournalConfig `mapstructure:"journal"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node_id", "node0")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("block_interval", "2s")
	v.SetDefault("max_block_txs", 500)
	v.SetDefault("validators", []string{})

	v.SetDefault("rpc.addr", ":8545")
	v.SetDefault("rpc.auth_token", "")
	v.SetDefault("rpc.tls.ca_cert", "")
	v.SetDefault("rpc.tls.cert", "")
	v.SetDefault("rpc.tls.key", "")

	v.SetDefault("genesis.chain_id", "dmachain-dev")
	v.SetDefault("genesis.token.name", "DMA Token")
	v.SetDefault("genesis.token.symbol", "DMA")
	v.SetDefault("genesis.token.decimals", 18)
	v.SetDefault("genesis.token.issuer", "")
	v.SetDefault("genesis.registry.name", "DMA Assets")
	v.SetDefault("genesis.registry.symbol", "DMAA")
	v.SetDefault("genesis.registry.metadata", "")
	v.SetDefault("genesis.registry.owner", "")
	v.SetDefault("genesis.registry.burn_enabled", true)

	v.SetDefault("log.debug", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 128)
	v.SetDefault("log.max_backups", 30)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.connection_name", "dmachain")
	v.SetDefault("nats.subject_prefix", "dma.events")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.connect_timeout", "30s")
	v.SetDefault("nats.publish_retries", 3)

	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.dir", "")
	v.SetDefault("journal.prefix", "events")
}

// Load reads path (YAML or JSON by extension) on top of the defaults. A
// missing file is not an error: defaults and DMA_* variables apply, e.g.
// DMA_RPC_ADDR or DMA_GENESIS_CHAIN_ID.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("DMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Journal.Dir == "" {
		cfg.Journal.Dir = cfg.DataDir + "/journal"
	}
	return &cfg, cfg.Validate()
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate rejects settings the node cannot run with.
func (c *Config) Validate() error {
	if c.Genesis.ChainID == "" {
		return errors.New("genesis.chain_id is required")
	}
	if c.BlockInterval <= 0 {
		return fmt.Errorf("block_interval must be positive, got %s", c.BlockInterval)
	}
	if (c.RPC.TLS.NodeCert == "") != (c.RPC.TLS.NodeKey == "") {
		return errors.New("rpc.tls.cert and rpc.tls.key must be set together")
	}
	return nil
}
