// Package node wires configuration into a running anchoring service.
package node

import (
	"certanchor.dev/node/chain"
	"certanchor.dev/node/crypto"
	"certanchor.dev/node/errs"
	"certanchor.dev/node/keyindex"
	"certanchor.dev/node/ledger"
	"certanchor.dev/node/logger"
	"certanchor.dev/node/payload"
	"certanchor.dev/node/service"
)

// Node owns the resources behind a Service.
type Node struct {
	Service *service.Service
	Index   keyindex.Index
	Ledger  ledger.Client
	Logger  logger.Logger
}

// New validates cfg and builds a Node. Without a wallet WIF the node is
// read-only: retrieve, list and stats work, store does not.
func New(cfg *Config, log logger.Logger) (*Node, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewLogger(cfg.LogLevel)
	}

	master, err := crypto.ParseMasterKey(cfg.MasterKey)
	if err != nil {
		return nil, err
	}
	sealer, err := crypto.NewSealer(master)
	if err != nil {
		return nil, err
	}
	codec, err := payload.NewCodec(cfg.PayloadPrefix)
	if err != nil {
		return nil, err
	}

	var key *chain.Key
	if cfg.WalletWIF != "" {
		if key, err = chain.DecodeWIF(cfg.WalletWIF, cfg.Network); err != nil {
			return nil, errs.Wrap(errs.ERR_CONFIG, err, "wallet.wif")
		}
	} else {
		log.Warnf("no wallet configured, store is disabled")
	}

	client, err := newLedger(cfg, key, log)
	if err != nil {
		return nil, err
	}

	var kek []byte
	if cfg.Index.WrapKeys {
		if kek, err = crypto.DeriveWrapKey(master); err != nil {
			return nil, err
		}
	}
	index, err := keyindex.Open(cfg.Index.Backend, cfg.IndexPath(), kek)
	if err != nil {
		return nil, err
	}
	if cfg.Index.Backend == keyindex.BackendMemory {
		log.Warnf("memory key index: anchored certificates become unreadable when the process exits")
	}

	svc, err := service.New(service.Config{
		Network:      cfg.Network,
		FeeRate:      cfg.FeeRate,
		Issuer:       cfg.Issuer,
		StrictFields: cfg.StrictFields,
	}, service.Deps{
		Sealer: sealer,
		Codec:  codec,
		Ledger: client,
		Index:  index,
		Key:    key,
		Logger: log,
	})
	if err != nil {
		_ = index.Close()
		return nil, err
	}
	log.Debugf("node ready: network=%s ledger=%s index=%s(%s)", cfg.Network, cfg.Ledger.Kind, cfg.Index.Backend, cfg.IndexPath())
	return &Node{Service: svc, Index: index, Ledger: client, Logger: log}, nil
}

func newLedger(cfg *Config, key *chain.Key, log logger.Logger) (ledger.Client, error) {
	switch cfg.Ledger.Kind {
	case LedgerMemory:
		m := ledger.NewMemLedger(cfg.Network)
		if key != nil && cfg.Ledger.MemoryFund > 0 {
			if _, err := m.Fund(key.Address(cfg.Network), cfg.Ledger.MemoryFund); err != nil {
				return nil, err
			}
		}
		return m, nil
	default:
		retries := cfg.Ledger.Retries
		if retries == 0 {
			retries = -1
		}
		w, err := ledger.NewWhatsOnChain(ledger.WhatsOnChainConfig{
			BaseURL:   cfg.LedgerURL(),
			Timeout:   cfg.Ledger.Timeout,
			Retries:   retries,
			CacheSize: cfg.Ledger.CacheSize,
			Logger:    log,
		})
		if err != nil {
			return nil, err
		}
		return w, nil
	}
}

func (n *Node) Close() error {
	if n == nil || n.Index == nil {
		return nil
	}
	return n.Index.Close()
}
