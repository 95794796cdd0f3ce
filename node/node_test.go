package node

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"certanchor.dev/node/certificate"
	"certanchor.dev/node/chain"
	"certanchor.dev/node/errs"
	"certanchor.dev/node/keyindex"
	"certanchor.dev/node/logger"
	"certanchor.dev/node/txbuilder"
)

var testMasterKey = strings.Repeat("1f", 32)

func TestNewConfigDefaults(t *testing.T) {
	cfg, err := NewConfig("")
	require.NoError(t, err)
	require.Equal(t, chain.Mainnet, cfg.Network)
	require.Equal(t, uint32(log.InfoLevel), cfg.LogLevel)
	require.Equal(t, txbuilder.DefaultFeeRate, cfg.FeeRate)
	require.Equal(t, "disabd", cfg.PayloadPrefix)
	require.Equal(t, LedgerWhatsOnChain, cfg.Ledger.Kind)
	require.Equal(t, 10*time.Second, cfg.Ledger.Timeout)
	require.Equal(t, keyindex.BackendBolt, cfg.Index.Backend)

	// no master key: fail fast
	err = ValidateConfig(cfg)
	require.True(t, errs.Is(err, errs.ERR_CONFIG), "got %v", err)
}

func TestNewConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "anchord.yaml")
	yaml := `network: testnet
data:
  dir: ` + dir + `
log:
  level: debug
fee:
  rate:
    sat:
      per:
        kb: 250
ledger:
  kind: memory
  timeout: 3s
index:
  backend: file
  wrap:
    keys: true
retrieve:
  strict:
    fields: true
`
	require.NoError(t, os.WriteFile(file, []byte(yaml), 0o600))
	t.Setenv("ANCHOR_MASTER_KEY", testMasterKey)
	t.Setenv("ANCHOR_LEDGER_RETRIES", "5")

	cfg, err := NewConfig(file)
	require.NoError(t, err)
	require.Equal(t, chain.Testnet, cfg.Network)
	require.Equal(t, uint32(log.DebugLevel), cfg.LogLevel)
	require.Equal(t, txbuilder.FeeRate(250), cfg.FeeRate)
	require.Equal(t, LedgerMemory, cfg.Ledger.Kind)
	require.Equal(t, 3*time.Second, cfg.Ledger.Timeout)
	require.Equal(t, 5, cfg.Ledger.Retries)
	require.Equal(t, keyindex.BackendFile, cfg.Index.Backend)
	require.True(t, cfg.Index.WrapKeys)
	require.True(t, cfg.StrictFields)
	require.Equal(t, testMasterKey, cfg.MasterKey)
	require.Equal(t, filepath.Join(dir, "testnet", "index.json"), cfg.IndexPath())
	require.Equal(t, "https://api.whatsonchain.com/v1/bsv/test", cfg.LedgerURL())
	require.NoError(t, ValidateConfig(cfg))
}

func TestNewConfigMissingFile(t *testing.T) {
	_, err := NewConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.True(t, errs.Is(err, errs.ERR_CONFIG))
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		cfg := NewDefaultConfig()
		cfg.DataDir = t.TempDir()
		cfg.MasterKey = testMasterKey
		return cfg
	}
	require.NoError(t, ValidateConfig(valid()))

	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"short_master_key", func(c *Config) { c.MasterKey = "abcd" }},
		{"non_hex_master_key", func(c *Config) { c.MasterKey = strings.Repeat("zz", 32) }},
		{"bad_network", func(c *Config) { c.Network = "regtest" }},
		{"bad_prefix", func(c *Config) { c.PayloadPrefix = "ANCHOR1" }},
		{"zero_fee", func(c *Config) { c.FeeRate = 0 }},
		{"bad_ledger", func(c *Config) { c.Ledger.Kind = "electrum" }},
		{"bad_index", func(c *Config) { c.Index.Backend = "sqlite" }},
		{"bad_wif", func(c *Config) { c.WalletWIF = "not-a-wif" }},
		{"no_data_dir", func(c *Config) { c.DataDir = " " }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := ValidateConfig(cfg)
			require.True(t, errs.Is(err, errs.ERR_CONFIG), "got %v", err)
		})
	}
}

func TestNodeEndToEndOnMemoryLedger(t *testing.T) {
	key, err := chain.GenerateKey()
	require.NoError(t, err)

	cfg := NewDefaultConfig()
	cfg.Network = chain.Testnet
	cfg.DataDir = t.TempDir()
	cfg.MasterKey = testMasterKey
	cfg.WalletWIF = key.WIF(chain.Testnet)
	cfg.Ledger.Kind = LedgerMemory
	cfg.Ledger.MemoryFund = 50_000
	cfg.Index.WrapKeys = true

	n, err := New(cfg, logger.NewDiscard())
	require.NoError(t, err)
	defer n.Close()
	require.Equal(t, key.Address(chain.Testnet), n.Service.Address())

	cert := &certificate.Certificate{
		FirstName:             "Jon",
		LastName:              "Ander",
		DocumentID:            "87654321X",
		PhoneNumber:           "944000000",
		DisabilityType:        "sensorial",
		DisabilityPercentage:  75,
		DisabilityDescription: "Hipoacusia",
	}
	id, err := n.Service.Store(context.Background(), cert)
	require.NoError(t, err)

	got, err := n.Service.Retrieve(context.Background(), id, []string{"disabilityType"})
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"disabilityType": "sensorial"}, got)

	_, err = os.Stat(cfg.IndexPath())
	require.NoError(t, err)
}

func TestNodeReadOnlyWithoutWallet(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.MasterKey = testMasterKey
	cfg.Ledger.Kind = LedgerMemory
	cfg.Index.Backend = keyindex.BackendMemory

	n, err := New(cfg, logger.NewDiscard())
	require.NoError(t, err)
	defer n.Close()
	require.Equal(t, "", n.Service.Address())

	list, err := n.Service.List()
	require.NoError(t, err)
	require.Empty(t, list)
}
