package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-errors/errors"
	"github.com/satsworks/satsagent/internal/types"
	log "github.com/sirupsen/logrus"
)

// ErrAlreadyProcessed is returned when a request txid is appended twice.
// The job store's key set is the idempotency boundary: membership means the
// request was handled, successfully or not, and is never revisited.
var ErrAlreadyProcessed = errors.New("request already processed")

// JobRecord is one unit of work, terminal once written: either ResponseTxid
// is set and Error empty, or the reverse.
type JobRecord struct {
	RequestTxid  string         `json:"requestTxid"`
	Prompt       string         `json:"prompt"`
	Result       string         `json:"result"`
	ResponseTxid string         `json:"responseTxid,omitempty"`
	SatsReceived int64          `json:"satsReceived"`
	SatsKept     int64          `json:"satsKept"`
	Error        string         `json:"error,omitempty"`
	Hashed       bool           `json:"hashed,omitempty"`
	State        types.JobState `json:"state"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Stats aggregates the job history for the operator status view.
type Stats struct {
	Settled       int   `json:"settled"`
	Failed        int   `json:"failed"`
	TotalReceived int64 `json:"totalReceived"`
	TotalKept     int64 `json:"totalKept"`
}

// JobStore is the append-only local record of processed jobs, persisted as
// a single JSON snapshot rewritten wholesale on each append.
type JobStore struct {
	mu   sync.Mutex
	path string
	jobs []JobRecord
	byId map[string]int
}

func NewJobStore(dataDir string) (*JobStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}
	s := &JobStore{
		path: filepath.Join(dataDir, "jobs.json"),
		byId: make(map[string]int),
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read job store: %v", err)
		}
		return s, nil
	}
	if err := json.Unmarshal(data, &s.jobs); err != nil {
		return nil, fmt.Errorf("failed to parse job store: %v", err)
	}
	for i, job := range s.jobs {
		s.byId[job.RequestTxid] = i
	}
	log.Infof("Job store loaded, %d records from %s", len(s.jobs), s.path)
	return s, nil
}

func (s *JobStore) Has(requestTxid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byId[requestTxid]
	return ok
}

func (s *JobStore) Get(requestTxid string) (JobRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byId[requestTxid]
	if !ok {
		return JobRecord{}, false
	}
	return s.jobs[i], true
}

// Append writes one terminal record. Appending a request txid twice is a
// no-op returning ErrAlreadyProcessed.
func (s *JobStore) Append(rec JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byId[rec.RequestTxid]; ok {
		return ErrAlreadyProcessed
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.jobs = append(s.jobs, rec)
	s.byId[rec.RequestTxid] = len(s.jobs) - 1
	return s.persist()
}

func (s *JobStore) All() []JobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobRecord, len(s.jobs))
	copy(out, s.jobs)
	return out
}

func (s *JobStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats Stats
	for _, job := range s.jobs {
		switch job.State {
		case types.JobSettled:
			stats.Settled++
			stats.TotalReceived += job.SatsReceived
			stats.TotalKept += job.SatsKept
		case types.JobFailed:
			stats.Failed++
			stats.TotalReceived += job.SatsReceived
		}
	}
	return stats
}

func (s *JobStore) persist() error {
	data, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal job store: %v", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write job store: %v", err)
	}
	return nil
}
