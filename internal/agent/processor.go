package agent

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/satsworks/satsagent/internal/ai"
	"github.com/satsworks/satsagent/internal/codec"
	"github.com/satsworks/satsagent/internal/config"
	"github.com/satsworks/satsagent/internal/esplora"
	"github.com/satsworks/satsagent/internal/store"
	"github.com/satsworks/satsagent/internal/types"
	"github.com/satsworks/satsagent/internal/wallet"
	log "github.com/sirupsen/logrus"
)

// Ledger is the slice of the gateway the processor needs.
type Ledger interface {
	GetTransaction(ctx context.Context, txid string) (*esplora.Tx, error)
	ListUnspent(ctx context.Context, address string) ([]types.Utxo, error)
	Broadcast(ctx context.Context, rawHex string) (string, error)
}

// Processor drives one job from "observed on ledger" to "settled on ledger
// or recorded as failed". Terminal either way: an id written to the job
// store is never reprocessed, even when its settlement failed.
type Processor struct {
	cfg      *config.Config
	ledger   Ledger
	wallet   *wallet.Wallet
	jobs     *store.JobStore
	convs    *store.ConversationStore
	provider ai.Provider
	reserve  *ReserveTable
}

func NewProcessor(cfg *config.Config, ledger Ledger, w *wallet.Wallet, jobs *store.JobStore,
	convs *store.ConversationStore, provider ai.Provider, reserve *ReserveTable) *Processor {
	return &Processor{
		cfg:      cfg,
		ledger:   ledger,
		wallet:   w,
		jobs:     jobs,
		convs:    convs,
		provider: provider,
		reserve:  reserve,
	}
}

// ProcessTx runs the state machine for one observed txid.
// Returns (nil, nil) when the transaction is discarded or already handled,
// (record, nil) when a terminal record was written, and (nil, err) only for
// read or storage failures that left no record behind.
func (p *Processor) ProcessTx(ctx context.Context, txid string) (*store.JobRecord, error) {
	if p.jobs.Has(txid) {
		log.Debugf("Job %s already processed, skipping", txid)
		return nil, nil
	}

	tx, err := p.ledger.GetTransaction(ctx, txid)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch request %s: %v", txid, err)
	}

	payload, ok := findJobPayload(tx)
	if !ok {
		log.Debugf("Tx %s carries no job tag, discarded", txid)
		return nil, nil
	}
	prompt := string(payload.Prompt())

	// a tag with no payment is not a valid job
	utxos := p.outputsToSelf(tx)
	if len(utxos) == 0 {
		log.Infof("Tx %s has a job tag but pays us nothing, discarded", txid)
		return nil, nil
	}
	var received int64
	outpoints := make([]string, 0, len(utxos))
	for _, u := range utxos {
		received += u.Amount
		outpoints = append(outpoints, u.OutPoint())
	}

	if !p.reserve.Reserve(outpoints) {
		return nil, fmt.Errorf("request %s outputs already reserved by another settlement", txid)
	}
	defer p.reserve.Release(outpoints)

	requester := requesterAddress(tx)
	if err := p.convs.AppendPending(requester, prompt, txid); err != nil {
		return nil, fmt.Errorf("failed to record pending exchange: %v", err)
	}

	result := p.compute(ctx, requester, prompt)

	rec := store.JobRecord{
		RequestTxid:  txid,
		Prompt:       prompt,
		Result:       result,
		SatsReceived: received,
	}

	responseTxid, hashed, kept, settleErr := p.settle(ctx, utxos, txid, result)
	if settleErr != nil {
		log.Errorf("Settlement for job %s failed: %v", txid, settleErr)
		if err := p.convs.DropPending(requester); err != nil {
			log.Errorf("Failed to drop pending exchange for job %s: %v", txid, err)
		}
		rec.Error = settleErr.Error()
		rec.State = types.JobFailed
	} else {
		if err := p.convs.ResolvePending(requester, result, responseTxid); err != nil {
			log.Errorf("Failed to resolve pending exchange for job %s: %v", txid, err)
		}
		rec.ResponseTxid = responseTxid
		rec.SatsKept = kept
		rec.Hashed = hashed
		rec.State = types.JobSettled
	}

	if err := p.jobs.Append(rec); err != nil {
		return nil, fmt.Errorf("failed to record job %s: %v", txid, err)
	}
	log.Infof("Job %s %s, received %d sats, kept %d sats, response %s",
		txid, rec.State, rec.SatsReceived, rec.SatsKept, rec.ResponseTxid)
	return &rec, nil
}

// Chat is the single-transaction variant: inference first, then one CHAT
// output carrying both prompt and result, paid from the agent's own funds.
// No request transaction exists, so the exchange is recorded under the
// agent's own address.
func (p *Processor) Chat(ctx context.Context, prompt string) (result string, txid string, err error) {
	own := p.wallet.Address()
	if err := p.convs.AppendPending(own, prompt, ""); err != nil {
		return "", "", fmt.Errorf("failed to record pending exchange: %v", err)
	}

	result = p.compute(ctx, own, prompt)

	txid, err = p.settleChat(ctx, prompt, result)
	if err != nil {
		if dropErr := p.convs.DropPending(own); dropErr != nil {
			log.Errorf("Failed to drop pending chat exchange: %v", dropErr)
		}
		return "", "", err
	}
	if err := p.convs.ResolvePending(own, result, txid); err != nil {
		log.Errorf("Failed to resolve pending chat exchange: %v", err)
	}
	log.Infof("Chat settled in %s", txid)
	return result, txid, nil
}

func (p *Processor) settleChat(ctx context.Context, prompt, result string) (string, error) {
	all, err := p.ledger.ListUnspent(ctx, p.wallet.Address())
	if err != nil {
		return "", fmt.Errorf("failed to list spendable outputs: %v", err)
	}
	candidates := make([]types.Utxo, 0, len(all))
	for _, u := range all {
		if p.reserve.Held(u.OutPoint()) {
			continue
		}
		u.PkScript = p.wallet.PkScript()
		candidates = append(candidates, u)
	}

	tx, err := p.wallet.BuildChat(candidates, []byte(prompt), []byte(result), p.cfg.FlatFeeSats)
	if err != nil {
		return "", fmt.Errorf("failed to build chat transaction: %v", err)
	}
	outpoints := spentOutpoints(tx)
	if !p.reserve.Reserve(outpoints) {
		return "", fmt.Errorf("chat inputs already reserved by another settlement")
	}
	defer p.reserve.Release(outpoints)

	rawHex, err := wallet.SerializeTx(tx)
	if err != nil {
		return "", err
	}
	return p.ledger.Broadcast(ctx, rawHex)
}

func spentOutpoints(tx *wire.MsgTx) []string {
	outpoints := make([]string, 0, len(tx.TxIn))
	for _, in := range tx.TxIn {
		outpoints = append(outpoints,
			fmt.Sprintf("%s:%d", in.PreviousOutPoint.Hash.String(), in.PreviousOutPoint.Index))
	}
	return outpoints
}

// compute hands the prompt to the inference backend under a bounded wait.
// Failures become a textual error result, not a hard failure: the requester
// already paid, so settlement is still attempted.
func (p *Processor) compute(ctx context.Context, requester, prompt string) string {
	history, err := p.convs.Context(requester, p.cfg.ContextWindow)
	if err != nil {
		log.Warnf("Failed to load conversation context: %v", err)
	}
	messages := make([]ai.Message, 0, len(history)*2+1)
	for _, entry := range history {
		messages = append(messages,
			ai.Message{Role: "user", Content: entry.Prompt},
			ai.Message{Role: "assistant", Content: entry.Result})
	}
	messages = append(messages, ai.Message{Role: "user", Content: prompt})

	llmCtx, cancel := context.WithTimeout(ctx, p.cfg.LLMTimeout)
	defer cancel()
	result, err := p.provider.Complete(llmCtx, p.cfg.LLMSystemPrompt, messages)
	if err != nil {
		log.Warnf("Inference failed, settling with error result: %v", err)
		return "Error: " + err.Error()
	}
	return result
}

func (p *Processor) settle(ctx context.Context, utxos []types.Utxo, requestTxid, result string) (responseTxid string, hashed bool, kept int64, err error) {
	tx, hashed, kept, err := p.wallet.BuildSettlement(utxos, requestTxid, []byte(result), p.cfg.FlatFeeSats)
	if err != nil {
		return "", false, 0, fmt.Errorf("failed to build settlement: %v", err)
	}
	rawHex, err := wallet.SerializeTx(tx)
	if err != nil {
		return "", false, 0, err
	}
	responseTxid, err = p.ledger.Broadcast(ctx, rawHex)
	if err != nil {
		return "", false, 0, err
	}
	return responseTxid, hashed, kept, nil
}

// outputsToSelf extracts every request output paying the agent's address.
func (p *Processor) outputsToSelf(tx *esplora.Tx) []types.Utxo {
	own := p.wallet.Address()
	var utxos []types.Utxo
	for i, out := range tx.Vout {
		if out.ScriptPubKeyAddress != own {
			continue
		}
		script, err := hex.DecodeString(out.ScriptPubKey)
		if err != nil {
			log.Warnf("Tx %s output %d has unparsable script, skipping", tx.Txid, i)
			continue
		}
		utxos = append(utxos, types.Utxo{
			Txid:     tx.Txid,
			OutIndex: uint32(i),
			Amount:   out.Value,
			PkScript: script,
		})
	}
	return utxos
}

// findJobPayload scans the outputs for a JOB data output.
func findJobPayload(tx *esplora.Tx) (*codec.Payload, bool) {
	for _, out := range tx.Vout {
		script, err := hex.DecodeString(out.ScriptPubKey)
		if err != nil {
			continue
		}
		payload, ok := codec.Decode(script)
		if !ok || payload.Tag != codec.TagJob {
			continue
		}
		return payload, true
	}
	return nil, false
}

// requesterAddress identifies the sender by the first input's funding
// address. Conversations for unattributable senders share one bucket.
func requesterAddress(tx *esplora.Tx) string {
	for _, in := range tx.Vin {
		if in.Prevout.ScriptPubKeyAddress != "" {
			return in.Prevout.ScriptPubKeyAddress
		}
	}
	return "unknown"
}
