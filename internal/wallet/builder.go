package wallet

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/satsworks/satsagent/internal/codec"
	"github.com/satsworks/satsagent/internal/types"
	log "github.com/sirupsen/logrus"
)

// BuildSettlement builds and signs the response transaction for one job:
// the RES data output at index 0, a flat fee, and a change-to-self output
// when anything remains. The inputs are exactly the request outputs paying
// the agent, so the builder can never spend more than the requester sent.
func (w *Wallet) BuildSettlement(utxos []types.Utxo, requestTxid string, result []byte, flatFee int64) (tx *wire.MsgTx, hashed bool, kept int64, err error) {
	if len(utxos) == 0 {
		return nil, false, 0, fmt.Errorf("no inputs to settle with")
	}
	var totalIn int64
	for _, u := range utxos {
		totalIn += u.Amount
	}

	dataScript, hashed, err := codec.EncodeResponse(requestTxid, result)
	if err != nil {
		return nil, false, 0, fmt.Errorf("failed to encode response output: %v", err)
	}

	tx = wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(0, dataScript))

	kept = totalIn - flatFee
	if kept > 0 {
		tx.AddTxOut(wire.NewTxOut(kept, w.pkScript))
	} else {
		kept = 0
	}

	if err := w.addAndSignInputs(tx, utxos); err != nil {
		return nil, false, 0, err
	}
	log.Debugf("Built settlement for request %s, totalIn %d, kept %d, hashed %v", requestTxid, totalIn, kept, hashed)
	return tx, hashed, kept, nil
}

// BuildJobRequest builds and signs a requester-side job transaction: JOB
// data output at index 0, payment to the agent at index 1, change at index
// 2. Inputs are accumulated greedily in the order the ledger listed them,
// stopping at the first sufficient set.
func (w *Wallet) BuildJobRequest(utxos []types.Utxo, agentAddress string, prompt []byte, price, flatFee int64) (*wire.MsgTx, error) {
	agentAddr, err := btcutil.DecodeAddress(agentAddress, w.network)
	if err != nil {
		return nil, fmt.Errorf("failed to decode agent address %s: %v", agentAddress, err)
	}
	agentScript, err := txscript.PayToAddrScript(agentAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to build agent script: %v", err)
	}

	dataScript, err := codec.EncodeJob(prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job output: %v", err)
	}

	target := price + flatFee
	var selected []types.Utxo
	var totalIn int64
	for _, u := range utxos {
		selected = append(selected, u)
		totalIn += u.Amount
		if totalIn >= target {
			break
		}
	}
	if totalIn < target {
		return nil, fmt.Errorf("insufficient funds: have %d sats, need %d", totalIn, target)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(0, dataScript))
	tx.AddTxOut(wire.NewTxOut(price, agentScript))
	if change := totalIn - target; change > 0 {
		tx.AddTxOut(wire.NewTxOut(change, w.pkScript))
	}

	if err := w.addAndSignInputs(tx, selected); err != nil {
		return nil, err
	}
	return tx, nil
}

// BuildChat builds the single-transaction variant carrying both prompt and
// result in one CHAT output, spending the wallet's own funds.
func (w *Wallet) BuildChat(utxos []types.Utxo, prompt, result []byte, flatFee int64) (*wire.MsgTx, error) {
	if len(utxos) == 0 {
		return nil, fmt.Errorf("no inputs to spend")
	}
	dataScript, err := codec.EncodeChat(prompt, result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat output: %v", err)
	}

	var selected []types.Utxo
	var totalIn int64
	for _, u := range utxos {
		selected = append(selected, u)
		totalIn += u.Amount
		if totalIn >= flatFee {
			break
		}
	}
	if totalIn < flatFee {
		return nil, fmt.Errorf("insufficient funds: have %d sats, need %d", totalIn, flatFee)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(0, dataScript))
	if change := totalIn - flatFee; change > 0 {
		tx.AddTxOut(wire.NewTxOut(change, w.pkScript))
	}

	if err := w.addAndSignInputs(tx, selected); err != nil {
		return nil, err
	}
	return tx, nil
}

// addAndSignInputs appends every utxo as an input and produces P2WPKH
// witnesses. Inputs missing a PkScript are assumed to pay the wallet itself.
func (w *Wallet) addAndSignInputs(tx *wire.MsgTx, utxos []types.Utxo) error {
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(utxos))
	for _, u := range utxos {
		prevHash, err := chainhash.NewHashFromStr(u.Txid)
		if err != nil {
			return fmt.Errorf("failed to parse input txid %s: %v", u.Txid, err)
		}
		outPoint := wire.NewOutPoint(prevHash, u.OutIndex)
		tx.AddTxIn(wire.NewTxIn(outPoint, nil, nil))

		pkScript := u.PkScript
		if len(pkScript) == 0 {
			pkScript = w.pkScript
		}
		prevOuts[*outPoint] = wire.NewTxOut(u.Amount, pkScript)
	}

	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, txIn := range tx.TxIn {
		prevOut := prevOuts[txIn.PreviousOutPoint]
		witness, err := txscript.WitnessSignature(tx, sigHashes, i,
			prevOut.Value, prevOut.PkScript, txscript.SigHashAll, w.privKey, true)
		if err != nil {
			return fmt.Errorf("failed to sign input %d: %v", i, err)
		}
		txIn.Witness = witness
	}
	return nil
}

// SerializeTx renders a signed transaction as broadcast-ready hex.
func SerializeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %v", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}
