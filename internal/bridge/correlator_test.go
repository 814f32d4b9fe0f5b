package bridge_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/satsworks/satsagent/internal/agent"
	"github.com/satsworks/satsagent/internal/bridge"
	"github.com/satsworks/satsagent/internal/codec"
	"github.com/satsworks/satsagent/internal/config"
	"github.com/satsworks/satsagent/internal/esplora"
	"github.com/satsworks/satsagent/internal/store"
	"github.com/satsworks/satsagent/internal/types"
	"github.com/satsworks/satsagent/internal/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	requestTxid  = "6f33de3f5347f832f0f5ad39b0bc4309ec6a9de586d6763b733e1fbecbd9c8d8"
	responseTxid = "915cf91cef8a56c1284616ad149b6ee0674360ed09c51e10b2de5b9ec36b24d4"
	agentAddress = "bcrt1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjlfdsnd"
)

type fakeLedger struct {
	utxos       []types.Utxo
	history     []esplora.Tx
	broadcasted []string
}

func (f *fakeLedger) ListUnspent(_ context.Context, _ string) ([]types.Utxo, error) {
	return f.utxos, nil
}

func (f *fakeLedger) GetHistoryTxs(_ context.Context, _ string) ([]esplora.Tx, error) {
	return f.history, nil
}

func (f *fakeLedger) Broadcast(_ context.Context, rawHex string) (string, error) {
	f.broadcasted = append(f.broadcasted, rawHex)
	return requestTxid, nil
}

func newCorrelator(t *testing.T, jobs *store.JobStore) (*bridge.Correlator, *fakeLedger) {
	return newReservingCorrelator(t, jobs, nil)
}

func newReservingCorrelator(t *testing.T, jobs *store.JobStore, reserve *agent.ReserveTable) (*bridge.Correlator, *fakeLedger) {
	cfg := &config.Config{
		Network:       &chaincfg.RegressionNetParams,
		JobPriceSats:  3000,
		FlatFeeSats:   1000,
		AwaitTimeout:  150 * time.Millisecond,
		AwaitInterval: 10 * time.Millisecond,
	}
	w, err := wallet.LoadOrCreate(t.TempDir(), cfg.Network)
	require.NoError(t, err)
	ledger := &fakeLedger{
		utxos: []types.Utxo{{Txid: responseTxid, OutIndex: 0, Amount: 10000}},
	}
	return bridge.NewCorrelator(cfg, ledger, w, jobs, reserve, agentAddress), ledger
}

// settlementTx fabricates the agent's response transaction carrying a RES
// output pointing back at requestTxid.
func settlementTx(t *testing.T, backRef, result string) esplora.Tx {
	script, _, err := codec.EncodeResponse(backRef, []byte(result))
	require.NoError(t, err)
	return esplora.Tx{
		Txid: responseTxid,
		Vout: []esplora.TxOut{{ScriptPubKey: hex.EncodeToString(script), Value: 0}},
	}
}

func TestSubmitBroadcastsDecodableJob(t *testing.T) {
	c, ledger := newCorrelator(t, nil)

	txid, err := c.Submit(context.Background(), "2+2?")
	require.NoError(t, err)
	assert.Equal(t, requestTxid, txid)
	require.Len(t, ledger.broadcasted, 1)

	raw, err := hex.DecodeString(ledger.broadcasted[0])
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
}

func TestSubmitSkipsReservedOutpoints(t *testing.T) {
	reserve := agent.NewReserveTable(time.Minute)
	c, ledger := newReservingCorrelator(t, nil, reserve)

	held := types.Utxo{Txid: requestTxid, OutIndex: 0, Amount: 10000}
	free := types.Utxo{Txid: responseTxid, OutIndex: 1, Amount: 10000}
	ledger.utxos = []types.Utxo{held, free}
	require.True(t, reserve.Reserve([]string{held.OutPoint()}))

	_, err := c.Submit(context.Background(), "2+2?")
	require.NoError(t, err)

	raw, err := hex.DecodeString(ledger.broadcasted[0])
	require.NoError(t, err)
	var tx wire.MsgTx
	require.NoError(t, tx.Deserialize(bytes.NewReader(raw)))
	require.Len(t, tx.TxIn, 1)
	assert.Equal(t, responseTxid, tx.TxIn[0].PreviousOutPoint.Hash.String())
	assert.Equal(t, uint32(1), tx.TxIn[0].PreviousOutPoint.Index)
}

func TestAwaitViaHistoryScan(t *testing.T) {
	c, ledger := newCorrelator(t, nil)
	ledger.history = []esplora.Tx{settlementTx(t, requestTxid, "4")}

	result, respTxid, err := c.Await(context.Background(), requestTxid)
	require.NoError(t, err)
	assert.Equal(t, "4", result)
	assert.Equal(t, responseTxid, respTxid)
}

func TestAwaitIgnoresSettlementsForOtherJobs(t *testing.T) {
	const other = "a3c4f90be6c3f59ad48ee1e06fd2d1aa76cd9d42bd2d9e8b11967d6520b2d1f7"

	c, ledger := newCorrelator(t, nil)
	ledger.history = []esplora.Tx{settlementTx(t, other, "not yours")}

	_, _, err := c.Await(context.Background(), requestTxid)
	assert.ErrorIs(t, err, bridge.ErrAwaitTimeout)
}

func TestAwaitViaJobStore(t *testing.T) {
	jobs, err := store.NewJobStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, jobs.Append(store.JobRecord{
		RequestTxid:  requestTxid,
		Result:       "4",
		ResponseTxid: responseTxid,
		State:        types.JobSettled,
	}))

	c, _ := newCorrelator(t, jobs)

	result, respTxid, err := c.Await(context.Background(), requestTxid)
	require.NoError(t, err)
	assert.Equal(t, "4", result)
	assert.Equal(t, responseTxid, respTxid)
}

func TestAwaitTimesOut(t *testing.T) {
	c, _ := newCorrelator(t, nil)

	_, _, err := c.Await(context.Background(), requestTxid)
	assert.ErrorIs(t, err, bridge.ErrAwaitTimeout)
}

func TestAwaitHonorsContextCancel(t *testing.T) {
	c, _ := newCorrelator(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.Await(ctx, requestTxid)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRequestRoundTrip(t *testing.T) {
	c, ledger := newCorrelator(t, nil)
	ledger.history = []esplora.Tx{settlementTx(t, requestTxid, "4")}

	result, reqTxid, respTxid, err := c.Request(context.Background(), "2+2?")
	require.NoError(t, err)
	assert.Equal(t, "4", result)
	assert.Equal(t, requestTxid, reqTxid)
	assert.Equal(t, responseTxid, respTxid)
}
