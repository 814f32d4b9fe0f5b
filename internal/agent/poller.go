package agent

import (
	"context"
	"time"

	"github.com/satsworks/satsagent/internal/config"
	"github.com/satsworks/satsagent/internal/store"
	log "github.com/sirupsen/logrus"
)

// HistoryLedger is the read surface the poller scans.
type HistoryLedger interface {
	GetHistory(ctx context.Context, address string) ([]string, error)
}

// Poller scans the agent address on a fixed interval and feeds unseen
// transactions to the processor. Each tick runs to completion before the
// next is scheduled, so the seen-set needs no locking of its own.
type Poller struct {
	cfg       *config.Config
	ledger    HistoryLedger
	processor *Processor
	jobs      *store.JobStore
	address   string

	seen    map[string]struct{}
	lastTip string
}

func NewPoller(cfg *config.Config, ledger HistoryLedger, processor *Processor, jobs *store.JobStore, address string) *Poller {
	return &Poller{
		cfg:       cfg,
		ledger:    ledger,
		processor: processor,
		jobs:      jobs,
		address:   address,
		seen:      make(map[string]struct{}),
	}
}

func (p *Poller) Start(ctx context.Context) {
	p.seed()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	log.Infof("Poller started, watching %s every %v", p.address, p.cfg.PollInterval)
	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping the poller...")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// seed marks every recorded job (and its settlement) as already seen, so a
// restart does not reprocess old jobs. History entries not yet recorded are
// left unseen and re-evaluated on the first tick.
func (p *Poller) seed() {
	for _, rec := range p.jobs.All() {
		p.seen[rec.RequestTxid] = struct{}{}
		if rec.ResponseTxid != "" {
			p.seen[rec.ResponseTxid] = struct{}{}
		}
	}
	log.Infof("Poller seeded, %d transactions marked seen", len(p.seen))
}

func (p *Poller) tick(ctx context.Context) {
	history, err := p.ledger.GetHistory(ctx, p.address)
	if err != nil {
		log.Errorf("Failed to fetch address history: %v", err)
		return
	}
	if len(history) == 0 {
		return
	}
	// history is newest-first; the previous tip is the high-water mark
	if p.lastTip != "" && history[0] == p.lastTip {
		return
	}

	var fresh []string
	for _, txid := range history {
		if txid == p.lastTip {
			break
		}
		if _, ok := p.seen[txid]; ok {
			continue
		}
		fresh = append(fresh, txid)
	}
	p.lastTip = history[0]

	// process oldest first to keep conversations ordered
	for i := len(fresh) - 1; i >= 0; i-- {
		select {
		case <-ctx.Done():
			return
		default:
		}
		txid := fresh[i]
		p.seen[txid] = struct{}{}
		p.handle(ctx, txid)
	}
}

func (p *Poller) handle(ctx context.Context, txid string) {
	// let the transaction propagate before fetching full detail
	select {
	case <-ctx.Done():
		return
	case <-time.After(p.cfg.SettleDelay):
	}

	rec, err := p.processor.ProcessTx(ctx, txid)
	if err != nil {
		// no record was written; forget the id so the next tick retries
		delete(p.seen, txid)
		p.lastTip = ""
		log.Errorf("Failed to process tx %s: %v", txid, err)
		return
	}
	if rec != nil && rec.ResponseTxid != "" {
		p.seen[rec.ResponseTxid] = struct{}{}
	}
}
