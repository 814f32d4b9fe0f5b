package esplora

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-errors/errors"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/satsworks/satsagent/internal/types"
	log "github.com/sirupsen/logrus"
)

// ErrTxNotFound is returned when the indexer answers 404 for a transaction
// lookup. It is a resolvable outcome, not an I/O failure.
var ErrTxNotFound = errors.New("transaction not found")

// TxOut is one output of an indexed transaction.
type TxOut struct {
	ScriptPubKey        string `json:"scriptpubkey"`
	ScriptPubKeyType    string `json:"scriptpubkey_type"`
	ScriptPubKeyAddress string `json:"scriptpubkey_address"`
	Value               int64  `json:"value"`
}

// TxIn carries the funding output of one input, enough to identify the
// sender.
type TxIn struct {
	Prevout TxOut `json:"prevout"`
}

// Tx is the indexer's view of one transaction.
type Tx struct {
	Txid string  `json:"txid"`
	Vin  []TxIn  `json:"vin"`
	Vout []TxOut `json:"vout"`
}

type addressStats struct {
	ChainStats struct {
		FundedTxoSum int64 `json:"funded_txo_sum"`
		SpentTxoSum  int64 `json:"spent_txo_sum"`
	} `json:"chain_stats"`
	MempoolStats struct {
		FundedTxoSum int64 `json:"funded_txo_sum"`
		SpentTxoSum  int64 `json:"spent_txo_sum"`
	} `json:"mempool_stats"`
}

type utxoResult struct {
	Txid  string `json:"txid"`
	Vout  uint32 `json:"vout"`
	Value int64  `json:"value"`
}

// Client wraps the remote Esplora-style index: address reads plus a single
// write operation (broadcast). It holds no state of its own.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
}

func NewClient(baseURL string) *Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.HTTPClient.Timeout = 30 * time.Second
	client.Logger = nil
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
	}
}

// GetBalance returns confirmed and unconfirmed balance in sats.
func (c *Client) GetBalance(ctx context.Context, address string) (int64, int64, error) {
	var stats addressStats
	if err := c.getJSON(ctx, fmt.Sprintf("/address/%s", address), &stats); err != nil {
		return 0, 0, err
	}
	confirmed := stats.ChainStats.FundedTxoSum - stats.ChainStats.SpentTxoSum
	unconfirmed := stats.MempoolStats.FundedTxoSum - stats.MempoolStats.SpentTxoSum
	return confirmed, unconfirmed, nil
}

// ListUnspent returns the spendable outputs of an address in the order the
// indexer lists them. PkScript is left for the caller to fill in, the
// indexer does not return it.
func (c *Client) ListUnspent(ctx context.Context, address string) ([]types.Utxo, error) {
	var results []utxoResult
	if err := c.getJSON(ctx, fmt.Sprintf("/address/%s/utxo", address), &results); err != nil {
		return nil, err
	}
	utxos := make([]types.Utxo, 0, len(results))
	for _, r := range results {
		utxos = append(utxos, types.Utxo{
			Txid:     r.Txid,
			OutIndex: r.Vout,
			Amount:   r.Value,
		})
	}
	return utxos, nil
}

// GetHistory returns the txids of an address's recent activity, newest first.
func (c *Client) GetHistory(ctx context.Context, address string) ([]string, error) {
	var txs []Tx
	if err := c.getJSON(ctx, fmt.Sprintf("/address/%s/txs", address), &txs); err != nil {
		return nil, err
	}
	txids := make([]string, 0, len(txs))
	for _, tx := range txs {
		txids = append(txids, tx.Txid)
	}
	return txids, nil
}

// GetHistoryTxs is GetHistory with full transaction detail, used by the
// bridge correlator to decode settlement outputs without a second round trip.
func (c *Client) GetHistoryTxs(ctx context.Context, address string) ([]Tx, error) {
	var txs []Tx
	if err := c.getJSON(ctx, fmt.Sprintf("/address/%s/txs", address), &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// GetTransaction fetches one transaction by id. A 404 resolves to
// ErrTxNotFound rather than a generic error.
func (c *Client) GetTransaction(ctx context.Context, txid string) (*Tx, error) {
	req, err := retryablehttp.NewRequest(http.MethodGet, c.baseURL+"/tx/"+txid, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %v", err)
	}
	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %v", txid, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrTxNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to get transaction %s: status %d", txid, resp.StatusCode)
	}

	var tx Tx
	if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
		return nil, fmt.Errorf("failed to decode transaction %s: %v", txid, err)
	}
	return &tx, nil
}

// Broadcast submits a raw hex transaction and returns its txid.
func (c *Client) Broadcast(ctx context.Context, rawHex string) (string, error) {
	req, err := retryablehttp.NewRequest(http.MethodPost, c.baseURL+"/tx", strings.NewReader(rawHex))
	if err != nil {
		return "", fmt.Errorf("failed to build broadcast request: %v", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to broadcast transaction: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read broadcast response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("broadcast rejected: status %d, %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	txid := strings.TrimSpace(string(body))
	log.Debugf("Broadcast transaction accepted: %s", txid)
	return txid, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := retryablehttp.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %v", err)
	}
	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to get %s: %v", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("failed to get %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %v", path, err)
	}
	return nil
}
