package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/satsworks/satsagent/internal/agent"
	"github.com/satsworks/satsagent/internal/ai"
	"github.com/satsworks/satsagent/internal/bridge"
	"github.com/satsworks/satsagent/internal/config"
	"github.com/satsworks/satsagent/internal/esplora"
	"github.com/satsworks/satsagent/internal/http"
	"github.com/satsworks/satsagent/internal/store"
	"github.com/satsworks/satsagent/internal/wallet"
	log "github.com/sirupsen/logrus"
)

type Application struct {
	Config     *config.Config
	Wallet     *wallet.Wallet
	Ledger     *esplora.Client
	Jobs       *store.JobStore
	Convs      *store.ConversationStore
	Processor  *agent.Processor
	Poller     *agent.Poller
	Correlator *bridge.Correlator
	HTTPServer *http.HTTPServer
}

func NewApplication() *Application {
	cfg := config.LoadConfig()

	w, err := wallet.LoadOrCreate(cfg.DataDir, cfg.Network)
	if err != nil {
		log.Fatalf("Failed to load wallet: %v", err)
	}

	jobs, err := store.NewJobStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to open job store: %v", err)
	}
	convs, err := store.NewConversationStore(cfg.DataDir, cfg.AddressSalt)
	if err != nil {
		log.Fatalf("Failed to open conversation store: %v", err)
	}

	ledger := esplora.NewClient(cfg.EsploraURL)
	provider := ai.NewOpenAICompatProvider(cfg.LLMURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMTimeout)
	reserve := agent.NewReserveTable(5 * time.Minute)

	processor := agent.NewProcessor(cfg, ledger, w, jobs, convs, provider, reserve)
	poller := agent.NewPoller(cfg, ledger, processor, jobs, w.Address())

	// the chat surface bridges through the agent's own wallet and job store,
	// sharing the reservation table with the settlement side
	correlator := bridge.NewCorrelator(cfg, ledger, w, jobs, reserve, w.Address())
	httpServer := http.NewHTTPServer(cfg, w.Address(), ledger, jobs, correlator, processor)

	return &Application{
		Config:     cfg,
		Wallet:     w,
		Ledger:     ledger,
		Jobs:       jobs,
		Convs:      convs,
		Processor:  processor,
		Poller:     poller,
		Correlator: correlator,
		HTTPServer: httpServer,
	}
}

func (app *Application) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Poller.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.HTTPServer.Start(ctx)
	}()

	<-stop
	log.Info("Receiving exit signal...")

	cancel()

	wg.Wait()
	log.Info("Agent stopped")
}

func main() {
	app := NewApplication()
	app.Run()
}
