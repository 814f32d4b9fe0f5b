package bridge

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-errors/errors"
	"github.com/google/uuid"
	"github.com/satsworks/satsagent/internal/agent"
	"github.com/satsworks/satsagent/internal/codec"
	"github.com/satsworks/satsagent/internal/config"
	"github.com/satsworks/satsagent/internal/esplora"
	"github.com/satsworks/satsagent/internal/store"
	"github.com/satsworks/satsagent/internal/types"
	"github.com/satsworks/satsagent/internal/wallet"
	log "github.com/sirupsen/logrus"
)

// ErrAwaitTimeout means the bounded wait for a settlement expired. The job
// itself may still settle later; this layer has no delivery guarantee.
var ErrAwaitTimeout = errors.New("timed out waiting for settlement")

// Ledger is the slice of the gateway the correlator needs.
type Ledger interface {
	ListUnspent(ctx context.Context, address string) ([]types.Utxo, error)
	GetHistoryTxs(ctx context.Context, address string) ([]esplora.Tx, error)
	Broadcast(ctx context.Context, rawHex string) (string, error)
}

// Correlator submits a job transaction on behalf of a requester and waits
// for the matching response, via the local job store when running in the
// agent process, or by scanning the agent address history directly.
type Correlator struct {
	cfg          *config.Config
	ledger       Ledger
	wallet       *wallet.Wallet
	jobs         *store.JobStore     // nil outside the agent process
	reserve      *agent.ReserveTable // nil outside the agent process
	agentAddress string
}

func NewCorrelator(cfg *config.Config, ledger Ledger, w *wallet.Wallet, jobs *store.JobStore,
	reserve *agent.ReserveTable, agentAddress string) *Correlator {
	return &Correlator{
		cfg:          cfg,
		ledger:       ledger,
		wallet:       w,
		jobs:         jobs,
		reserve:      reserve,
		agentAddress: agentAddress,
	}
}

// Submit broadcasts a job request paying the configured price to the agent.
// In-process, outpoints held by the settlement side are excluded from
// selection and the chosen inputs are claimed until the broadcast resolves.
func (c *Correlator) Submit(ctx context.Context, prompt string) (string, error) {
	utxos, err := c.ledger.ListUnspent(ctx, c.wallet.Address())
	if err != nil {
		return "", fmt.Errorf("failed to list spendable outputs: %v", err)
	}
	candidates := make([]types.Utxo, 0, len(utxos))
	for _, u := range utxos {
		if c.reserve != nil && c.reserve.Held(u.OutPoint()) {
			continue
		}
		u.PkScript = c.wallet.PkScript()
		candidates = append(candidates, u)
	}

	tx, err := c.wallet.BuildJobRequest(candidates, c.agentAddress, []byte(prompt), c.cfg.JobPriceSats, c.cfg.FlatFeeSats)
	if err != nil {
		return "", fmt.Errorf("failed to build job request: %v", err)
	}
	if c.reserve != nil {
		outpoints := make([]string, 0, len(tx.TxIn))
		for _, in := range tx.TxIn {
			outpoints = append(outpoints,
				fmt.Sprintf("%s:%d", in.PreviousOutPoint.Hash.String(), in.PreviousOutPoint.Index))
		}
		if !c.reserve.Reserve(outpoints) {
			return "", fmt.Errorf("request inputs already reserved by another settlement")
		}
		defer c.reserve.Release(outpoints)
	}

	rawHex, err := wallet.SerializeTx(tx)
	if err != nil {
		return "", err
	}
	txid, err := c.ledger.Broadcast(ctx, rawHex)
	if err != nil {
		return "", fmt.Errorf("failed to broadcast job request: %v", err)
	}
	log.Infof("Job request %s submitted, paying %d sats to %s", txid, c.cfg.JobPriceSats, c.agentAddress)
	return txid, nil
}

// Await polls for a settlement matching requestTxid, bounded by the
// configured total wait. Whichever check succeeds first wins: the local job
// store, then the agent address history.
func (c *Correlator) Await(ctx context.Context, requestTxid string) (result string, responseTxid string, err error) {
	deadline := time.Now().Add(c.cfg.AwaitTimeout)
	for {
		if result, responseTxid, ok := c.checkJobStore(requestTxid); ok {
			return result, responseTxid, nil
		}
		if result, responseTxid, ok := c.scanHistory(ctx, requestTxid); ok {
			return result, responseTxid, nil
		}
		if time.Now().After(deadline) {
			return "", "", ErrAwaitTimeout
		}
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-time.After(c.cfg.AwaitInterval):
		}
	}
}

// Request is Submit followed by Await.
func (c *Correlator) Request(ctx context.Context, prompt string) (result, requestTxid, responseTxid string, err error) {
	correlationId := uuid.New().String()
	log.Infof("Bridge request %s, prompt length %d", correlationId, len(prompt))

	requestTxid, err = c.Submit(ctx, prompt)
	if err != nil {
		return "", "", "", err
	}
	result, responseTxid, err = c.Await(ctx, requestTxid)
	if err != nil {
		return "", requestTxid, "", err
	}
	log.Infof("Bridge request %s settled, response %s", correlationId, responseTxid)
	return result, requestTxid, responseTxid, nil
}

func (c *Correlator) checkJobStore(requestTxid string) (string, string, bool) {
	if c.jobs == nil {
		return "", "", false
	}
	rec, ok := c.jobs.Get(requestTxid)
	if !ok || rec.ResponseTxid == "" {
		return "", "", false
	}
	return rec.Result, rec.ResponseTxid, true
}

func (c *Correlator) scanHistory(ctx context.Context, requestTxid string) (string, string, bool) {
	txs, err := c.ledger.GetHistoryTxs(ctx, c.agentAddress)
	if err != nil {
		log.Warnf("Failed to scan agent history: %v", err)
		return "", "", false
	}
	for _, tx := range txs {
		for _, out := range tx.Vout {
			script, err := hex.DecodeString(out.ScriptPubKey)
			if err != nil {
				continue
			}
			payload, ok := codec.Decode(script)
			if !ok || payload.Tag != codec.TagRes {
				continue
			}
			backRef, err := payload.RequestTxid()
			if err != nil || backRef != requestTxid {
				continue
			}
			return string(payload.Result()), tx.Txid, true
		}
	}
	return "", "", false
}
