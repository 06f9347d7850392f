package subagents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/crewline/crewline/pkg/models"
)

// Store persists the full run snapshot. Implementations must tolerate a
// missing or corrupt snapshot by returning an empty list.
type Store interface {
	Load() ([]*models.SubAgentRunState, error)
	Save(runs []*models.SubAgentRunState) error
}

// snapshot is the on-disk format.
type snapshot struct {
	Version int                        `json:"version"`
	Runs    []*models.SubAgentRunState `json:"runs"`
}

// MemoryStore keeps the snapshot in process memory. Used in tests and for
// callers that do not want durability.
type MemoryStore struct {
	mu   sync.Mutex
	runs []*models.SubAgentRunState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Load() ([]*models.SubAgentRunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRuns(s.runs), nil
}

func (s *MemoryStore) Save(runs []*models.SubAgentRunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = cloneRuns(runs)
	return nil
}

// FileStore writes the snapshot atomically: marshal to <path>.tmp, then
// rename over the target. Writes are serialized through a mutex so they
// never interleave.
type FileStore struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// NewFileStore creates a store at path. The parent directory is created on
// first save.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger.With("component", "subagent-store")}
}

// Load reads the snapshot. A missing or unparseable file yields an empty
// list; the coordinator treats missing as empty.
func (s *FileStore) Load() ([]*models.SubAgentRunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("run snapshot unreadable, starting empty", "path", s.path, "error", err)
		}
		return nil, nil
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("run snapshot corrupt, starting empty", "path", s.path, "error", err)
		return nil, nil
	}
	return snap.Runs, nil
}

func (s *FileStore) Save(runs []*models.SubAgentRunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	data, err := json.MarshalIndent(snapshot{Version: 1, Runs: runs}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run snapshot: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write run snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit run snapshot: %w", err)
	}
	return nil
}

func cloneRuns(runs []*models.SubAgentRunState) []*models.SubAgentRunState {
	out := make([]*models.SubAgentRunState, len(runs))
	for i, r := range runs {
		out[i] = r.Clone()
	}
	return out
}
