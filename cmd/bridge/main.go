package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/satsworks/satsagent/internal/bridge"
	"github.com/satsworks/satsagent/internal/config"
	"github.com/satsworks/satsagent/internal/esplora"
	"github.com/satsworks/satsagent/internal/wallet"
	log "github.com/sirupsen/logrus"
)

// bridge submits a job transaction from a requester-side wallet and waits
// for the agent's settlement to appear on the ledger.
func main() {
	var (
		prompt = flag.String("prompt", "", "Prompt text to submit as a job")
		agent  = flag.String("agent", "", "Agent address (overrides AGENT_ADDRESS)")
		help   = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *help {
		fmt.Println("Usage: bridge [options]")
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if *prompt == "" {
		log.Fatal("Prompt is required. Use -prompt flag.")
	}

	cfg := config.LoadConfig()
	agentAddress := cfg.AgentAddress
	if *agent != "" {
		agentAddress = *agent
	}
	if agentAddress == "" {
		log.Fatal("Agent address is required. Use -agent flag or AGENT_ADDRESS.")
	}

	w, err := wallet.LoadOrCreate(cfg.DataDir, cfg.Network)
	if err != nil {
		log.Fatalf("Failed to load requester wallet: %v", err)
	}

	ledger := esplora.NewClient(cfg.EsploraURL)
	correlator := bridge.NewCorrelator(cfg, ledger, w, nil, nil, agentAddress)

	result, requestTxid, responseTxid, err := correlator.Request(context.Background(), *prompt)
	if err != nil {
		if requestTxid != "" {
			log.Warnf("Request %s submitted but settlement not observed: %v", requestTxid, err)
		}
		log.Fatalf("Bridge request failed: %v", err)
	}

	fmt.Printf("Request:  %s\n", requestTxid)
	fmt.Printf("Response: %s\n", responseTxid)
	fmt.Printf("Result:   %s\n", result)
}
