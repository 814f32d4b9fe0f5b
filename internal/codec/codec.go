package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/satsworks/satsagent/internal/types"
)

const (
	TagJob  = "JOB"
	TagRes  = "RES"
	TagChat = "CHAT"

	// MaxResultBytes is the ceiling for an on-chain result payload. Larger
	// results are substituted by a sha256 placeholder; the full text is
	// retained only in the local job store.
	MaxResultBytes = 50000

	HashPrefix = "HASH:"
)

// Payload is a decoded tagged data output.
type Payload struct {
	Tag    string
	Fields [][]byte
}

// Encode builds a null-data output script: OP_RETURN <tag> <field>...
func Encode(tag string, fields ...[]byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder().AddOp(txscript.OP_RETURN).AddFullData([]byte(tag))
	for _, field := range fields {
		builder.AddFullData(field)
	}
	script, err := builder.Script()
	if err != nil {
		return nil, fmt.Errorf("failed to build data script: %v", err)
	}
	return script, nil
}

// EncodeJob builds a work request output.
func EncodeJob(prompt []byte) ([]byte, error) {
	return Encode(TagJob, prompt)
}

// EncodeResponse builds a settlement output back-referencing requestTxid.
// The request id is carried as raw bytes in wire (reversed) order. Results
// over MaxResultBytes are replaced by the hash placeholder; hashed reports
// whether that substitution happened.
func EncodeResponse(requestTxid string, result []byte) (script []byte, hashed bool, err error) {
	backRef, err := types.TxidToWireBytes(requestTxid)
	if err != nil {
		return nil, false, err
	}
	payload := result
	if len(result) > MaxResultBytes {
		digest := sha256.Sum256(result)
		payload = []byte(HashPrefix + hex.EncodeToString(digest[:]))
		hashed = true
	}
	script, err = Encode(TagRes, backRef, payload)
	if err != nil {
		return nil, false, err
	}
	return script, hashed, nil
}

// EncodeChat builds a self-contained prompt/result output.
func EncodeChat(prompt, result []byte) ([]byte, error) {
	return Encode(TagChat, prompt, result)
}

// Decode inspects a pkScript and returns the tagged payload if it is one of
// ours. Foreign, malformed, or non-null-data scripts return ok=false, never
// an error.
func Decode(pkScript []byte) (*Payload, bool) {
	if len(pkScript) == 0 || pkScript[0] != txscript.OP_RETURN {
		return nil, false
	}
	pushes, err := txscript.PushedData(pkScript)
	if err != nil || len(pushes) == 0 {
		return nil, false
	}
	tag := string(pushes[0])
	fields := pushes[1:]
	switch tag {
	case TagJob:
		if len(fields) < 1 {
			return nil, false
		}
	case TagRes:
		if len(fields) < 2 || len(fields[0]) != 32 {
			return nil, false
		}
	case TagChat:
		if len(fields) < 2 {
			return nil, false
		}
	default:
		return nil, false
	}
	return &Payload{Tag: tag, Fields: fields}, true
}

// RequestTxid re-reverses a RES back-reference into display order.
func (p *Payload) RequestTxid() (string, error) {
	if p.Tag != TagRes {
		return "", fmt.Errorf("payload tag %s carries no back-reference", p.Tag)
	}
	return types.WireBytesToTxid(p.Fields[0])
}

// Prompt returns the request text of a JOB or CHAT payload.
func (p *Payload) Prompt() []byte {
	switch p.Tag {
	case TagJob, TagChat:
		return p.Fields[0]
	}
	return nil
}

// Result returns the result text of a RES or CHAT payload.
func (p *Payload) Result() []byte {
	switch p.Tag {
	case TagRes, TagChat:
		return p.Fields[1]
	}
	return nil
}
