package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one exchange with one requester. At most one entry per requester
// may be pending at a time; a failed settlement pops its pending entry
// rather than leaving a dangling record.
type Entry struct {
	Prompt       string    `json:"prompt"`
	Result       string    `json:"result"`
	RequestTxid  string    `json:"requestTxid,omitempty"`
	ResponseTxid string    `json:"responseTxid,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Pending      bool      `json:"pending,omitempty"`
}

// ConversationStore keeps per-requester ordered prompt/result history under
// DATA_DIR/conversations. Files are named by a salted hash of the requester
// address, never the raw address.
type ConversationStore struct {
	mu   sync.Mutex
	dir  string
	salt string
}

func NewConversationStore(dataDir, salt string) (*ConversationStore, error) {
	dir := filepath.Join(dataDir, "conversations")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create conversation directory: %v", err)
	}
	return &ConversationStore{dir: dir, salt: salt}, nil
}

func (s *ConversationStore) fileFor(address string) string {
	digest := sha256.Sum256([]byte(s.salt + address))
	return filepath.Join(s.dir, hex.EncodeToString(digest[:])+".json")
}

// AppendPending optimistically records an exchange before computation
// completes. Any stale pending entry for the requester is removed first.
func (s *ConversationStore) AppendPending(address, prompt, requestTxid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load(address)
	if err != nil {
		return err
	}
	entries = dropPending(entries)
	entries = append(entries, Entry{
		Prompt:      prompt,
		RequestTxid: requestTxid,
		Timestamp:   time.Now().UTC(),
		Pending:     true,
	})
	return s.save(address, entries)
}

// ResolvePending replaces the pending entry in place with the final record.
func (s *ConversationStore) ResolvePending(address, result, responseTxid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load(address)
	if err != nil {
		return err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Pending {
			entries[i].Result = result
			entries[i].ResponseTxid = responseTxid
			entries[i].Pending = false
			return s.save(address, entries)
		}
	}
	return fmt.Errorf("no pending entry for requester")
}

// DropPending restores the conversation to its state before the attempt.
func (s *ConversationStore) DropPending(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load(address)
	if err != nil {
		return err
	}
	return s.save(address, dropPending(entries))
}

// Context returns the most recent n completed exchanges in chronological
// order, the window fed to the inference backend ahead of a new prompt.
func (s *ConversationStore) Context(address string, n int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load(address)
	if err != nil {
		return nil, err
	}
	completed := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !e.Pending {
			completed = append(completed, e)
		}
	}
	if len(completed) > n {
		completed = completed[len(completed)-n:]
	}
	return completed, nil
}

// History returns the full conversation, pending entry included.
func (s *ConversationStore) History(address string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(address)
}

func dropPending(entries []Entry) []Entry {
	out := entries[:0]
	for _, e := range entries {
		if !e.Pending {
			out = append(out, e)
		}
	}
	return out
}

func (s *ConversationStore) load(address string) ([]Entry, error) {
	data, err := os.ReadFile(s.fileFor(address))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read conversation: %v", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse conversation: %v", err)
	}
	return entries, nil
}

func (s *ConversationStore) save(address string, entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %v", err)
	}
	if err := os.WriteFile(s.fileFor(address), data, 0o644); err != nil {
		return fmt.Errorf("failed to write conversation: %v", err)
	}
	return nil
}
