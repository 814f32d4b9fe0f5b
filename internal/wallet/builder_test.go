package wallet_test

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/satsworks/satsagent/internal/codec"
	"github.com/satsworks/satsagent/internal/types"
	"github.com/satsworks/satsagent/internal/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const requestTxid = "6f33de3f5347f832f0f5ad39b0bc4309ec6a9de586d6763b733e1fbecbd9c8d8"

func newTestWallet(t *testing.T) *wallet.Wallet {
	w, err := wallet.LoadOrCreate(t.TempDir(), &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	return w
}

func TestBuildSettlementFeeConservation(t *testing.T) {
	w := newTestWallet(t)
	utxos := []types.Utxo{{Txid: requestTxid, OutIndex: 1, Amount: 10000}}

	tx, hashed, kept, err := w.BuildSettlement(utxos, requestTxid, []byte("4"), 1000)
	require.NoError(t, err)
	assert.False(t, hashed)
	assert.Equal(t, int64(9000), kept)

	// data output always sits at index 0 for decoder compatibility
	require.Len(t, tx.TxOut, 2)
	assert.Equal(t, int64(0), tx.TxOut[0].Value)
	payload, ok := codec.Decode(tx.TxOut[0].PkScript)
	require.True(t, ok)
	assert.Equal(t, codec.TagRes, payload.Tag)
	backRef, err := payload.RequestTxid()
	require.NoError(t, err)
	assert.Equal(t, requestTxid, backRef)

	// sum(outputs) + fee == totalIn
	var sumOut int64
	for _, out := range tx.TxOut {
		sumOut += out.Value
	}
	assert.Equal(t, int64(10000), sumOut+1000)
}

func TestBuildSettlementNoChangeWhenFeeConsumesInput(t *testing.T) {
	w := newTestWallet(t)
	utxos := []types.Utxo{{Txid: requestTxid, OutIndex: 0, Amount: 800}}

	tx, _, kept, err := w.BuildSettlement(utxos, requestTxid, []byte("ok"), 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(0), kept)

	// only the data output; the fee is paid entirely from the inputs
	require.Len(t, tx.TxOut, 1)
	var sumOut int64
	for _, out := range tx.TxOut {
		sumOut += out.Value
		assert.GreaterOrEqual(t, out.Value, int64(0))
	}
	assert.LessOrEqual(t, sumOut, int64(800))
}

func TestBuildSettlementSignsEveryInput(t *testing.T) {
	w := newTestWallet(t)
	utxos := []types.Utxo{
		{Txid: requestTxid, OutIndex: 0, Amount: 2000},
		{Txid: requestTxid, OutIndex: 2, Amount: 3000},
	}

	tx, _, _, err := w.BuildSettlement(utxos, requestTxid, []byte("4"), 1000)
	require.NoError(t, err)
	require.Len(t, tx.TxIn, 2)
	for _, txIn := range tx.TxIn {
		// P2WPKH witness is signature + pubkey
		assert.Len(t, txIn.Witness, 2)
	}
}

func TestBuildSettlementRejectsEmptyInputs(t *testing.T) {
	w := newTestWallet(t)
	_, _, _, err := w.BuildSettlement(nil, requestTxid, []byte("4"), 1000)
	assert.Error(t, err)
}

func TestBuildJobRequestGreedySelection(t *testing.T) {
	w := newTestWallet(t)
	agent := newTestWallet(t)
	utxos := []types.Utxo{
		{Txid: requestTxid, OutIndex: 0, Amount: 5000},
		{Txid: requestTxid, OutIndex: 1, Amount: 2000},
		{Txid: requestTxid, OutIndex: 2, Amount: 9000},
	}

	tx, err := w.BuildJobRequest(utxos, agent.Address(), []byte("2+2?"), 3000, 1000)
	require.NoError(t, err)

	// first sufficient set wins: the 5000 utxo alone covers 3000+1000
	require.Len(t, tx.TxIn, 1)
	assert.Equal(t, uint32(0), tx.TxIn[0].PreviousOutPoint.Index)

	require.Len(t, tx.TxOut, 3)
	payload, ok := codec.Decode(tx.TxOut[0].PkScript)
	require.True(t, ok)
	assert.Equal(t, codec.TagJob, payload.Tag)
	assert.Equal(t, []byte("2+2?"), payload.Prompt())
	assert.Equal(t, int64(3000), tx.TxOut[1].Value)
	assert.Equal(t, int64(1000), tx.TxOut[2].Value)
}

func TestBuildJobRequestInsufficientFunds(t *testing.T) {
	w := newTestWallet(t)
	agent := newTestWallet(t)
	utxos := []types.Utxo{{Txid: requestTxid, OutIndex: 0, Amount: 1500}}

	_, err := w.BuildJobRequest(utxos, agent.Address(), []byte("2+2?"), 3000, 1000)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient funds")
}

func TestBuildChat(t *testing.T) {
	w := newTestWallet(t)
	utxos := []types.Utxo{{Txid: requestTxid, OutIndex: 0, Amount: 5000}}

	tx, err := w.BuildChat(utxos, []byte("2+2?"), []byte("4"), 1000)
	require.NoError(t, err)
	require.Len(t, tx.TxOut, 2)

	payload, ok := codec.Decode(tx.TxOut[0].PkScript)
	require.True(t, ok)
	assert.Equal(t, codec.TagChat, payload.Tag)
	assert.Equal(t, int64(4000), tx.TxOut[1].Value)
}

func TestWalletReload(t *testing.T) {
	dir := t.TempDir()
	w1, err := wallet.LoadOrCreate(dir, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	w2, err := wallet.LoadOrCreate(dir, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	assert.Equal(t, w1.Address(), w2.Address())
}
