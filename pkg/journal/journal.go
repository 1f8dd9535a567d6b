package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"swapctl/pkg/types"
)

const (
	DefaultFileName = ".swapctl-history.json"
)

// Journal persists swap outcomes keyed by request ID
type Journal struct {
	filePath string
	mu       sync.RWMutex
	outcomes map[string]types.SwapOutcome
}

// journalFile represents the JSON structure on disk
type journalFile struct {
	Outcomes map[string]types.SwapOutcome `json:"outcomes"`
}

// New opens the journal at filePath, defaulting to the home directory
func New(filePath string) (*Journal, error) {
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(home, DefaultFileName)
	}

	j := &Journal{
		filePath: filePath,
		outcomes: make(map[string]types.SwapOutcome),
	}

	if err := j.load(); err != nil {
		// Created on first write
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load journal: %w", err)
		}
	}

	return j, nil
}

func (j *Journal) load() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := os.ReadFile(j.filePath)
	if err != nil {
		return err
	}

	var f journalFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to unmarshal journal: %w", err)
	}

	if f.Outcomes != nil {
		j.outcomes = f.Outcomes
	}
	return nil
}

// save writes the journal. Callers hold the write lock.
func (j *Journal) save() error {
	data, err := json.MarshalIndent(journalFile{Outcomes: j.outcomes}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal journal: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(j.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to temporary file first, then rename for atomic write
	tempFile := j.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write journal: %w", err)
	}

	if err := os.Rename(tempFile, j.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Name identifies the journal as an outcome sink
func (j *Journal) Name() string {
	return "journal"
}

// Record stores an outcome, replacing any earlier entry with the same request ID
func (j *Journal) Record(ctx context.Context, outcome types.SwapOutcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if outcome.RequestID == "" {
		return fmt.Errorf("outcome has no request id")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	prev, existed := j.outcomes[outcome.RequestID]
	j.outcomes[outcome.RequestID] = outcome
	if err := j.save(); err != nil {
		if existed {
			j.outcomes[outcome.RequestID] = prev
		} else {
			delete(j.outcomes, outcome.RequestID)
		}
		return err
	}
	return nil
}

// Get retrieves an outcome by request ID
func (j *Journal) Get(requestID string) (types.SwapOutcome, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	outcome, exists := j.outcomes[requestID]
	if !exists {
		return types.SwapOutcome{}, fmt.Errorf("outcome '%s' not found", requestID)
	}
	return outcome, nil
}

// List returns outcomes newest first. limit <= 0 returns all of them.
func (j *Journal) List(limit int, failedOnly bool) []types.SwapOutcome {
	j.mu.RLock()
	out := make([]types.SwapOutcome, 0, len(j.outcomes))
	for _, o := range j.outcomes {
		if failedOnly && o.Succeeded() {
			continue
		}
		out = append(out, o)
	}
	j.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].StartedAt.Equal(out[b].StartedAt) {
			return out[a].RequestID < out[b].RequestID
		}
		return out[a].StartedAt.After(out[b].StartedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Count returns the number of journaled outcomes
func (j *Journal) Count() int {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return len(j.outcomes)
}

// Path returns the journal file path
func (j *Journal) Path() string {
	return j.filePath
}
