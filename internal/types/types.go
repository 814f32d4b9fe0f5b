package types

import (
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// JobState is the lifecycle of one observed request transaction.
// A job leaves the machine through exactly one of the terminal states
// (Settled, Failed, Discarded) and is never revisited afterwards.
type JobState int

const (
	JobObserved JobState = iota
	JobParsed
	JobComputed
	JobSettled
	JobFailed
	JobDiscarded
)

func (s JobState) String() string {
	switch s {
	case JobObserved:
		return "observed"
	case JobParsed:
		return "parsed"
	case JobComputed:
		return "computed"
	case JobSettled:
		return "settled"
	case JobFailed:
		return "failed"
	case JobDiscarded:
		return "discarded"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

func (s JobState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *JobState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "observed":
		*s = JobObserved
	case "parsed":
		*s = JobParsed
	case "computed":
		*s = JobComputed
	case "settled":
		*s = JobSettled
	case "failed":
		*s = JobFailed
	case "discarded":
		*s = JobDiscarded
	default:
		return fmt.Errorf("unknown job state %q", name)
	}
	return nil
}

// Utxo is one spendable output addressed to the agent wallet.
type Utxo struct {
	Txid     string `json:"txid"`
	OutIndex uint32 `json:"out_index"`
	Amount   int64  `json:"amount"`
	PkScript []byte `json:"pk_script"`
}

// OutPoint returns the canonical "txid:index" key used by the reservation table.
func (u Utxo) OutPoint() string {
	return fmt.Sprintf("%s:%d", u.Txid, u.OutIndex)
}

func GetBTCNetwork(networkType string) *chaincfg.Params {
	switch networkType {
	case "", "mainnet":
		return &chaincfg.MainNetParams
	case "testnet3":
		return &chaincfg.TestNet3Params
	case "regtest":
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// TxidToWireBytes converts a display-order txid hex string to the raw
// byte-reversed form carried inside transactions and RES back-references.
func TxidToWireBytes(txid string) ([]byte, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, fmt.Errorf("failed to parse txid %s: %v", txid, err)
	}
	return hash[:], nil
}

// WireBytesToTxid is the inverse of TxidToWireBytes.
func WireBytesToTxid(raw []byte) (string, error) {
	hash, err := chainhash.NewHash(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse raw txid bytes: %v", err)
	}
	return hash.String(), nil
}
