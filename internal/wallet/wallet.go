package wallet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	log "github.com/sirupsen/logrus"
)

type walletFile struct {
	Address    string    `json:"address"`
	PrivKeyWIF string    `json:"privKeyWif"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Wallet holds the agent's signing key. Key material is read-only after
// load; nothing rewrites the wallet file once it exists.
type Wallet struct {
	network  *chaincfg.Params
	privKey  *btcec.PrivateKey
	address  btcutil.Address
	pkScript []byte
}

// LoadOrCreate reads wallet.json from dataDir, generating a fresh P2WPKH
// key pair on first run.
func LoadOrCreate(dataDir string, network *chaincfg.Params) (*Wallet, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}
	path := filepath.Join(dataDir, "wallet.json")

	data, err := os.ReadFile(path)
	if err == nil {
		var wf walletFile
		if err := json.Unmarshal(data, &wf); err != nil {
			return nil, fmt.Errorf("failed to parse wallet file: %v", err)
		}
		wif, err := btcutil.DecodeWIF(wf.PrivKeyWIF)
		if err != nil {
			return nil, fmt.Errorf("failed to decode wallet key: %v", err)
		}
		w, err := fromKey(wif.PrivKey, network)
		if err != nil {
			return nil, err
		}
		if w.Address() != wf.Address {
			return nil, fmt.Errorf("wallet file address %s does not match derived address %s", wf.Address, w.Address())
		}
		log.Infof("Wallet loaded, address %s", w.Address())
		return w, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read wallet file: %v", err)
	}

	privKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %v", err)
	}
	w, err := fromKey(privKey, network)
	if err != nil {
		return nil, err
	}
	wif, err := btcutil.NewWIF(privKey, network, true)
	if err != nil {
		return nil, fmt.Errorf("failed to encode wallet key: %v", err)
	}
	wf := walletFile{
		Address:    w.Address(),
		PrivKeyWIF: wif.String(),
		CreatedAt:  time.Now().UTC(),
	}
	out, err := json.MarshalIndent(wf, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal wallet file: %v", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write wallet file: %v", err)
	}
	log.Infof("Wallet created, address %s", w.Address())
	return w, nil
}

func fromKey(privKey *btcec.PrivateKey, network *chaincfg.Params) (*Wallet, error) {
	pubKeyHash := btcutil.Hash160(privKey.PubKey().SerializeCompressed())
	address, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, network)
	if err != nil {
		return nil, fmt.Errorf("failed to build P2WPKH address: %v", err)
	}
	pkScript, err := txscript.PayToAddrScript(address)
	if err != nil {
		return nil, fmt.Errorf("failed to build wallet script: %v", err)
	}
	return &Wallet{
		network:  network,
		privKey:  privKey,
		address:  address,
		pkScript: pkScript,
	}, nil
}

func (w *Wallet) Address() string {
	return w.address.EncodeAddress()
}

// PkScript is the wallet's own locking script, used both for change outputs
// and as the funding script of every output addressed to the agent.
func (w *Wallet) PkScript() []byte {
	return w.pkScript
}

func (w *Wallet) Network() *chaincfg.Params {
	return w.network
}
