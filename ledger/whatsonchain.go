package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"certanchor.dev/node/errs"
	"certanchor.dev/node/logger"
)

const (
	DefaultWhatsOnChainURL = "https://api.whatsonchain.com/v1/bsv/main"
	defaultTimeout         = 10 * time.Second
	defaultRetries         = 3
	defaultCacheSize       = 256
	defaultBackoff         = 250 * time.Millisecond
	maxResponseBytes       = 32 << 20
	satoshisPerCoin        = 1e8
)

type WhatsOnChainConfig struct {
	BaseURL   string
	Timeout   time.Duration
	Retries   int
	Backoff   time.Duration
	CacheSize int
	HTTP      *http.Client
	Logger    logger.Logger
}

// WhatsOnChain is a Client backed by the WhatsOnChain REST API. Every call
// runs under its own timeout; network failures are retried with exponential
// backoff. Transactions are immutable by id, so fetched ones are cached.
type WhatsOnChain struct {
	base    string
	timeout time.Duration
	retries int
	backoff time.Duration
	http    *http.Client
	log     logger.Logger
	rawTxs  *lru.Cache
	txs     *lru.Cache
}

func NewWhatsOnChain(cfg WhatsOnChainConfig) (*WhatsOnChain, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultWhatsOnChainURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	} else if cfg.Retries == 0 {
		cfg.Retries = defaultRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.HTTP == nil {
		cfg.HTTP = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDiscard()
	}
	rawTxs, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	txs, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &WhatsOnChain{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		retries: cfg.Retries,
		backoff: cfg.Backoff,
		http:    cfg.HTTP,
		log:     cfg.Logger.WithField("ledger", "whatsonchain"),
		rawTxs:  rawTxs,
		txs:     txs,
	}, nil
}

type wocUnspent struct {
	Height int    `json:"height"`
	TxPos  uint32 `json:"tx_pos"`
	TxHash string `json:"tx_hash"`
	Value  uint64 `json:"value"`
}

type wocTx struct {
	TxID string `json:"txid"`
	Vout []struct {
		Value        json.Number `json:"value"`
		N            uint32      `json:"n"`
		ScriptPubKey struct {
			Hex string `json:"hex"`
		} `json:"scriptPubKey"`
	} `json:"vout"`
}

type wocBroadcast struct {
	TxHex string `json:"txhex"`
}

func (w *WhatsOnChain) SpendableOutputs(ctx context.Context, address string) ([]UnspentOutput, error) {
	body, err := w.do(ctx, http.MethodGet, "/address/"+address+"/unspent", nil)
	if err != nil {
		return nil, err
	}
	var raw []wocUnspent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errs.Wrap(errs.ERR_UPSTREAM, err, "decode unspent list")
	}
	out := make([]UnspentOutput, 0, len(raw))
	for _, u := range raw {
		out = append(out, UnspentOutput{TxID: u.TxHash, OutputIndex: u.TxPos, Value: u.Value})
	}
	return out, nil
}

func (w *WhatsOnChain) RawTransaction(ctx context.Context, txid string) ([]byte, error) {
	if v, ok := w.rawTxs.Get(txid); ok {
		return append([]byte(nil), v.([]byte)...), nil
	}
	body, err := w.do(ctx, http.MethodGet, "/tx/"+txid+"/hex", nil)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(strings.Trim(strings.TrimSpace(string(body)), `"`))
	if err != nil {
		return nil, errs.Wrap(errs.ERR_UPSTREAM, err, "decode raw transaction hex")
	}
	w.rawTxs.Add(txid, raw)
	return append([]byte(nil), raw...), nil
}

func (w *WhatsOnChain) Transaction(ctx context.Context, txid string) (*Transaction, error) {
	if v, ok := w.txs.Get(txid); ok {
		return v.(*Transaction).Clone(), nil
	}
	body, err := w.do(ctx, http.MethodGet, "/tx/hash/"+txid, nil)
	if err != nil {
		return nil, err
	}
	var raw wocTx
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errs.Wrap(errs.ERR_UPSTREAM, err, "decode transaction")
	}
	if !strings.EqualFold(raw.TxID, txid) {
		return nil, errs.Newf(errs.ERR_UPSTREAM, "asked for transaction %s, ledger returned %q", txid, raw.TxID)
	}
	tx := &Transaction{TxID: raw.TxID, Outputs: make([]Output, 0, len(raw.Vout))}
	for _, v := range raw.Vout {
		sats, err := coinsToSatoshis(v.Value)
		if err != nil {
			return nil, errs.Wrap(errs.ERR_UPSTREAM, err, "decode output value")
		}
		script, err := hex.DecodeString(v.ScriptPubKey.Hex)
		if err != nil {
			return nil, errs.Wrap(errs.ERR_UPSTREAM, err, "decode output script")
		}
		tx.Outputs = append(tx.Outputs, Output{Value: sats, Script: script})
	}
	w.txs.Add(txid, tx)
	return tx.Clone(), nil
}

// Broadcast submits rawTx. Resending the same signed bytes after a network
// failure is safe: the ledger rejects it as already known.
func (w *WhatsOnChain) Broadcast(ctx context.Context, rawTx []byte) (string, error) {
	req, err := json.Marshal(wocBroadcast{TxHex: hex.EncodeToString(rawTx)})
	if err != nil {
		return "", err
	}
	body, err := w.do(ctx, http.MethodPost, "/tx/raw", req)
	if err != nil {
		if e, ok := err.(*errs.Error); ok && (e.Code == errs.ERR_UPSTREAM || e.Code == errs.ERR_NOT_FOUND) {
			return "", &errs.Error{Code: errs.ERR_BROADCAST_REJECTED, Msg: strings.TrimSpace(e.Body), Status: e.Status, Body: e.Body}
		}
		return "", err
	}
	return strings.Trim(strings.TrimSpace(string(body)), `"`), nil
}

func (w *WhatsOnChain) do(ctx context.Context, method, path string, reqBody []byte) ([]byte, error) {
	var lastErr error
	wait := w.backoff
	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			w.log.Debugf("retrying %s %s in %s after: %v", method, path, wait, lastErr)
			select {
			case <-ctx.Done():
				return nil, errs.Wrap(errs.ERR_NETWORK, ctx.Err(), "request cancelled")
			case <-time.After(wait):
			}
			wait *= 2
		}
		body, err := w.once(ctx, method, path, reqBody)
		if err == nil || !errs.Retryable(err) {
			return body, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (w *WhatsOnChain) once(ctx context.Context, method, path string, reqBody []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	var rd io.Reader
	if reqBody != nil {
		rd = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, w.base+path, rd)
	if err != nil {
		return nil, fmt.Errorf("ledger: build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := w.http.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.ERR_NETWORK, err, method+" "+path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errs.Wrap(errs.ERR_NETWORK, err, "read response")
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &errs.Error{Code: errs.ERR_NOT_FOUND, Msg: path, Status: resp.StatusCode, Body: string(body)}
	case resp.StatusCode >= 300:
		return nil, errs.Upstream(method+" "+path, resp.StatusCode, string(body))
	}
	return body, nil
}

func coinsToSatoshis(n json.Number) (uint64, error) {
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return 0, err
	}
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid value %q", n)
	}
	return uint64(math.Round(f * satoshisPerCoin)), nil
}
