package node

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"certanchor.dev/node/chain"
	"certanchor.dev/node/crypto"
	"certanchor.dev/node/errs"
	"certanchor.dev/node/keyindex"
	"certanchor.dev/node/ledger"
	"certanchor.dev/node/logger"
	"certanchor.dev/node/payload"
	"certanchor.dev/node/txbuilder"
)

const (
	EnvPrefix = "ANCHOR"

	LedgerWhatsOnChain = "whatsonchain"
	LedgerMemory       = "memory"

	defaultLedgerTimeout   = 10 * time.Second
	defaultLedgerRetries   = 3
	defaultLedgerCacheSize = 256
)

type LedgerConfig struct {
	Kind      string
	URL       string
	Timeout   time.Duration
	Retries   int
	CacheSize int
	// MemoryFund pre-funds the wallet address when Kind is memory.
	MemoryFund uint64
}

type IndexConfig struct {
	Backend  string
	Path     string
	WrapKeys bool
}

// Config holds the runtime settings of an anchoring node.
type Config struct {
	Network       chain.Network
	DataDir       string
	LogLevel      uint32
	MasterKey     string
	WalletWIF     string
	FeeRate       txbuilder.FeeRate
	PayloadPrefix string
	Issuer        string
	StrictFields  bool
	Ledger        LedgerConfig
	Index         IndexConfig
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".certanchor"
	}
	return filepath.Join(home, ".certanchor")
}

// NewDefaultConfig creates a new Config with default settings. The master
// key has no default.
func NewDefaultConfig() *Config {
	return &Config{
		Network:       chain.Mainnet,
		DataDir:       DefaultDataDir(),
		LogLevel:      uint32(log.InfoLevel),
		FeeRate:       txbuilder.DefaultFeeRate,
		PayloadPrefix: payload.DefaultPrefix,
		Ledger: LedgerConfig{
			Kind:      LedgerWhatsOnChain,
			Timeout:   defaultLedgerTimeout,
			Retries:   defaultLedgerRetries,
			CacheSize: defaultLedgerCacheSize,
		},
		Index: IndexConfig{Backend: keyindex.BackendBolt},
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Short aliases for the two secrets.
	_ = v.BindEnv("master.key", EnvPrefix+"_MASTER_KEY")
	_ = v.BindEnv("wallet.wif", EnvPrefix+"_WALLET_WIF", EnvPrefix+"_WIF")
	return v
}

// NewConfig creates a Config with default settings, applies the YAML file at
// configFile (if not empty) and then ANCHOR_* environment overrides.
func NewConfig(configFile string) (*Config, error) { // nolint: gocyclo
	v := newViper()
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errs.Wrap(errs.ERR_CONFIG, err, "read config "+configFile)
		}
	}

	config := NewDefaultConfig()

	if v.IsSet("network") {
		n, err := chain.ParseNetwork(v.GetString("network"))
		if err != nil {
			return nil, errs.Wrap(errs.ERR_CONFIG, err, "network")
		}
		config.Network = n
	}
	if v.IsSet("data.dir") {
		config.DataDir = v.GetString("data.dir")
	}
	if v.IsSet("log.level") {
		level, err := logger.GetLogLevel(v.GetString("log.level"))
		if err != nil {
			return nil, errs.Wrap(errs.ERR_CONFIG, err, "log.level")
		}
		config.LogLevel = level
	}
	if v.IsSet("master.key") {
		config.MasterKey = v.GetString("master.key")
	}
	if v.IsSet("wallet.wif") {
		config.WalletWIF = v.GetString("wallet.wif")
	}
	if v.IsSet("fee.rate.sat.per.kb") {
		config.FeeRate = txbuilder.FeeRate(v.GetUint64("fee.rate.sat.per.kb"))
	}
	if v.IsSet("payload.prefix") {
		config.PayloadPrefix = v.GetString("payload.prefix")
	}
	if v.IsSet("issuer") {
		config.Issuer = v.GetString("issuer")
	}
	if v.IsSet("retrieve.strict.fields") {
		config.StrictFields = v.GetBool("retrieve.strict.fields")
	}

	if v.IsSet("ledger.kind") {
		config.Ledger.Kind = strings.ToLower(v.GetString("ledger.kind"))
	}
	if v.IsSet("ledger.url") {
		config.Ledger.URL = v.GetString("ledger.url")
	}
	if v.IsSet("ledger.timeout") {
		config.Ledger.Timeout = v.GetDuration("ledger.timeout")
	}
	if v.IsSet("ledger.retries") {
		config.Ledger.Retries = v.GetInt("ledger.retries")
	}
	if v.IsSet("ledger.cache.size") {
		config.Ledger.CacheSize = v.GetInt("ledger.cache.size")
	}
	if v.IsSet("ledger.memory.fund") {
		config.Ledger.MemoryFund = v.GetUint64("ledger.memory.fund")
	}

	if v.IsSet("index.backend") {
		config.Index.Backend = strings.ToLower(v.GetString("index.backend"))
	}
	if v.IsSet("index.path") {
		config.Index.Path = v.GetString("index.path")
	}
	if v.IsSet("index.wrap.keys") {
		config.Index.WrapKeys = v.GetBool("index.wrap.keys")
	}

	return config, nil
}

// IndexPath is the configured index path or its default under DataDir.
func (c *Config) IndexPath() string {
	if c.Index.Path != "" {
		return c.Index.Path
	}
	switch c.Index.Backend {
	case keyindex.BackendFile:
		return filepath.Join(c.DataDir, string(c.Network), "index.json")
	default:
		return filepath.Join(c.DataDir, string(c.Network), "index.db")
	}
}

// LedgerURL is the configured ledger URL or the WhatsOnChain endpoint of the
// network.
func (c *Config) LedgerURL() string {
	if c.Ledger.URL != "" {
		return c.Ledger.URL
	}
	if c.Network == chain.Testnet {
		return "https://api.whatsonchain.com/v1/bsv/test"
	}
	return ledger.DefaultWhatsOnChainURL
}

// ValidateConfig fails fast on anything that would otherwise surface later
// as data loss: above all a missing or malformed master key.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return errs.New(errs.ERR_CONFIG, "config is nil")
	}
	if _, err := chain.ParseNetwork(string(cfg.Network)); err != nil {
		return errs.Wrap(errs.ERR_CONFIG, err, "network")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errs.New(errs.ERR_CONFIG, "data.dir is required")
	}
	if _, err := crypto.ParseMasterKey(cfg.MasterKey); err != nil {
		return err
	}
	if cfg.WalletWIF != "" {
		if _, err := chain.DecodeWIF(cfg.WalletWIF, cfg.Network); err != nil {
			return errs.Wrap(errs.ERR_CONFIG, err, "wallet.wif")
		}
	}
	if cfg.FeeRate == 0 {
		return errs.New(errs.ERR_CONFIG, "fee.rate.sat.per.kb must be positive")
	}
	if _, err := payload.NewCodec(cfg.PayloadPrefix); err != nil {
		return err
	}
	switch cfg.Ledger.Kind {
	case LedgerWhatsOnChain, LedgerMemory:
	default:
		return errs.Newf(errs.ERR_CONFIG, "unknown ledger.kind %q", cfg.Ledger.Kind)
	}
	if cfg.Ledger.Timeout <= 0 {
		return errs.New(errs.ERR_CONFIG, "ledger.timeout must be positive")
	}
	if cfg.Ledger.Retries < 0 {
		return errs.New(errs.ERR_CONFIG, "ledger.retries must not be negative")
	}
	switch cfg.Index.Backend {
	case keyindex.BackendMemory, keyindex.BackendFile, keyindex.BackendBolt:
	default:
		return errs.Newf(errs.ERR_CONFIG, "unknown index.backend %q", cfg.Index.Backend)
	}
	return nil
}
