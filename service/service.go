// Package service orchestrates anchoring: encrypt, encode, fund, build,
// sign, broadcast and index on store; index lookup, fetch, recover, decrypt
// and project on retrieve.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"certanchor.dev/node/certificate"
	"certanchor.dev/node/chain"
	"certanchor.dev/node/crypto"
	"certanchor.dev/node/errs"
	"certanchor.dev/node/keyindex"
	"certanchor.dev/node/ledger"
	"certanchor.dev/node/logger"
	"certanchor.dev/node/payload"
	"certanchor.dev/node/txbuilder"
)

const defaultSpentMemoSize = 1024

type Config struct {
	Network      chain.Network
	FeeRate      txbuilder.FeeRate
	Issuer       string
	StrictFields bool
	SpentMemo    int
	Now          func() time.Time
}

// Deps are the collaborators a Service is built from. Key may be nil for a
// read-only service; Store then fails with a config error.
type Deps struct {
	Sealer *crypto.Sealer
	Codec  *payload.Codec
	Ledger ledger.Client
	Index  keyindex.Index
	Key    *chain.Key
	Logger logger.Logger
}

type Service struct {
	cfg    Config
	sealer *crypto.Sealer
	codec  *payload.Codec
	ledger ledger.Client
	index  keyindex.Index
	key    *chain.Key
	reader *txbuilder.Reader
	log    logger.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// spent remembers outpoints this process has consumed until the ledger
	// stops listing them.
	spent *lru.Cache
}

// ListEntry is one row of List: everything in the index except key material.
type ListEntry struct {
	AnchorID  string           `json:"anchorId"`
	CreatedAt time.Time        `json:"createdAt"`
	Preview   keyindex.Preview `json:"preview"`
}

func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Sealer == nil {
		return nil, errs.New(errs.ERR_CONFIG, "service: sealer required")
	}
	if deps.Ledger == nil {
		return nil, errs.New(errs.ERR_CONFIG, "service: ledger client required")
	}
	if deps.Index == nil {
		return nil, errs.New(errs.ERR_CONFIG, "service: key index required")
	}
	if deps.Codec == nil {
		deps.Codec = payload.Default()
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewDiscard()
	}
	if cfg.Network == "" {
		cfg.Network = chain.Mainnet
	}
	if cfg.FeeRate == 0 {
		cfg.FeeRate = txbuilder.DefaultFeeRate
	}
	if cfg.SpentMemo <= 0 {
		cfg.SpentMemo = defaultSpentMemoSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	spent, err := lru.New(cfg.SpentMemo)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:    cfg,
		sealer: deps.Sealer,
		codec:  deps.Codec,
		ledger: deps.Ledger,
		index:  deps.Index,
		key:    deps.Key,
		reader: txbuilder.NewReader(deps.Codec, deps.Logger),
		log:    deps.Logger,
		locks:  make(map[string]*sync.Mutex),
		spent:  spent,
	}, nil
}

// Address is the funding address, or "" for a read-only service.
func (s *Service) Address() string {
	if s.key == nil {
		return ""
	}
	return s.key.Address(s.cfg.Network)
}

func (s *Service) addressLock(addr string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[addr]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[addr] = mu
	}
	return mu
}

// Store validates, stamps, encrypts and anchors cert, and indexes its key
// material once the ledger has accepted the transaction. It returns the
// anchor id. Nothing is indexed when any step fails.
func (s *Service) Store(ctx context.Context, cert *certificate.Certificate) (string, error) {
	if s.key == nil {
		return "", errs.New(errs.ERR_CONFIG, "store requires a funding key")
	}
	if err := cert.Validate(); err != nil {
		return "", err
	}
	now := s.cfg.Now()
	stamped := cert.Stamp(now, s.cfg.Issuer)

	env, km, err := s.sealer.Encrypt(stamped)
	if err != nil {
		return "", errors.Wrap(err, "store: encrypt")
	}
	blob, err := s.codec.Encode(env)
	if err != nil {
		return "", errors.Wrap(err, "store: encode")
	}
	s.log.Debugf("sealed certificate into %s payload", humanize.Bytes(uint64(len(blob))))

	anchorID, fee, size, err := s.anchor(ctx, blob)
	if err != nil {
		return "", err
	}

	rec := keyindex.IndexRecord{
		AnchorID:       anchorID,
		KeyMaterialHex: km.Hex(),
		CreatedAt:      now.UTC(),
		Preview:        cert.Preview(now),
	}
	if err := s.index.Put(rec); err != nil {
		s.log.WithField("anchor", anchorID).Errorf("transaction broadcast but key index write failed: %v", err)
		return "", errors.Wrapf(err, "store: index anchor %s", anchorID)
	}
	s.log.WithField("anchor", anchorID).Infof("anchored certificate: tx %s, fee %s sat",
		humanize.Bytes(uint64(size)), humanize.Comma(int64(fee)))
	return anchorID, nil
}

// anchor funds, builds, signs and broadcasts a data transaction for blob.
// Selection through broadcast runs under the funding address lock.
func (s *Service) anchor(ctx context.Context, blob []byte) (string, uint64, int, error) {
	addr := s.Address()
	mu := s.addressLock(addr)
	mu.Lock()
	defer mu.Unlock()

	utxos, err := s.ledger.SpendableOutputs(ctx, addr)
	if err != nil {
		return "", 0, 0, errors.Wrap(err, "store: list spendable outputs")
	}
	utxos = s.unspentByUs(utxos)
	u, err := txbuilder.Select(utxos)
	if err != nil {
		return "", 0, 0, errors.Wrapf(err, "store: fund from %s", addr)
	}
	s.log.Debugf("selected %s:%d worth %s sat out of %d outputs", u.TxID, u.OutputIndex, humanize.Comma(int64(u.Value)), len(utxos))

	raw, err := s.ledger.RawTransaction(ctx, u.TxID)
	if err != nil {
		return "", 0, 0, errors.Wrap(err, "store: fetch source transaction")
	}
	src, err := txbuilder.ResolveSource(u, raw)
	if err != nil {
		return "", 0, 0, errors.Wrap(err, "store: resolve source output")
	}

	b := txbuilder.New(s.key, s.cfg.FeeRate)
	if err := b.BindInput(src); err != nil {
		return "", 0, 0, errors.Wrap(err, "store: bind input")
	}
	if err := b.BindOutputs(blob); err != nil {
		return "", 0, 0, errors.Wrap(err, "store: bind outputs")
	}
	fee, err := b.ApplyFee()
	if err != nil {
		return "", 0, 0, errors.Wrap(err, "store: apply fee")
	}
	if err := b.Sign(); err != nil {
		return "", 0, 0, errors.Wrap(err, "store: sign")
	}
	signed, err := b.Raw()
	if err != nil {
		return "", 0, 0, err
	}

	id, err := b.Broadcast(ctx, s.ledger)
	if err != nil {
		if errs.Retryable(err) {
			// The ledger may have accepted it; never re-pick this outpoint.
			s.markSpent(src.OutPoint)
			want, _ := b.TxID()
			s.log.WithField("txid", want).Warnf("broadcast outcome unknown, check the transaction before retrying: %v", err)
		}
		return "", 0, 0, errors.Wrap(err, "store: broadcast")
	}
	s.markSpent(src.OutPoint)
	return id, fee, len(signed), nil
}

func outpointKey(txid string, index uint32) string {
	return fmt.Sprintf("%s:%d", txid, index)
}

func (s *Service) markSpent(op chain.OutPoint) {
	s.spent.Add(outpointKey(op.Hash.String(), op.Index), struct{}{})
}

// unspentByUs drops outpoints this process already spent and forgets the
// ones the ledger no longer lists.
func (s *Service) unspentByUs(utxos []ledger.UnspentOutput) []ledger.UnspentOutput {
	listed := make(map[string]struct{}, len(utxos))
	out := make([]ledger.UnspentOutput, 0, len(utxos))
	for _, u := range utxos {
		k := outpointKey(u.TxID, u.OutputIndex)
		listed[k] = struct{}{}
		if s.spent.Contains(k) {
			s.log.Debugf("skipping %s: spent by this process, not yet dropped by the ledger", k)
			continue
		}
		out = append(out, u)
	}
	for _, k := range s.spent.Keys() {
		if _, ok := listed[k.(string)]; !ok {
			s.spent.Remove(k)
		}
	}
	return out
}

// Retrieve returns the certificate anchored under anchorID. A nil fields
// returns the whole record; otherwise only the named top-level fields.
// Unknown names are dropped unless strict field checking is configured.
func (s *Service) Retrieve(ctx context.Context, anchorID string, fields []string) (map[string]interface{}, error) {
	anchorID, err := keyindex.NormalizeAnchorID(anchorID)
	if err != nil {
		return nil, err
	}
	rec, err := s.index.Get(anchorID)
	if err != nil {
		return nil, err
	}
	km, err := crypto.ParseKeyMaterialHex(rec.KeyMaterialHex)
	if err != nil {
		return nil, errors.Wrapf(err, "retrieve: key material for %s", anchorID)
	}

	tx, err := s.ledger.Transaction(ctx, anchorID)
	if err != nil {
		return nil, errors.Wrap(err, "retrieve: fetch transaction")
	}
	env, err := s.reader.Recover(tx)
	if err != nil {
		return nil, errors.Wrap(err, "retrieve: recover envelope")
	}
	var record map[string]interface{}
	if err := crypto.Decrypt(env, km, &record); err != nil {
		return nil, errors.Wrap(err, "retrieve: decrypt")
	}

	if s.cfg.StrictFields {
		return certificate.ProjectStrict(record, fields)
	}
	out, dropped := certificate.Project(record, fields)
	if len(dropped) > 0 {
		s.log.WithField("anchor", anchorID).Warnf("ignoring unknown fields %v", dropped)
	}
	return out, nil
}

func (s *Service) List() ([]ListEntry, error) {
	recs, err := s.index.GetAll()
	if err != nil {
		return nil, errors.Wrap(err, "list")
	}
	out := make([]ListEntry, 0, len(recs))
	for _, r := range recs {
		out = append(out, ListEntry{AnchorID: r.AnchorID, CreatedAt: r.CreatedAt, Preview: r.Preview})
	}
	return out, nil
}

func (s *Service) Stats() (certificate.Stats, error) {
	recs, err := s.index.GetAll()
	if err != nil {
		return certificate.Stats{}, errors.Wrap(err, "stats")
	}
	return certificate.ComputeStats(recs), nil
}

// Balance sums the value the ledger lists for the funding address.
func (s *Service) Balance(ctx context.Context) (uint64, error) {
	if s.key == nil {
		return 0, errs.New(errs.ERR_CONFIG, "balance requires a funding key")
	}
	utxos, err := s.ledger.SpendableOutputs(ctx, s.Address())
	if err != nil {
		return 0, err
	}
	var sum uint64
	for _, u := range s.unspentByUs(utxos) {
		sum += u.Value
	}
	return sum, nil
}
