// Package progress persists curriculum completion and drives the stage
// unlocking rules.
package progress

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/firstmerge/firstmerge/pkg/models"
)

const ProgressFilename = "progress.json"

// Store owns the persisted progress record. Every mutation is written back
// to disk before the mutating call returns, so a crash never loses a
// completed stage.
type Store struct {
	path     string
	progress *models.Progress
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewStore creates a store with a fresh default record. The record is not
// written until the first Save.
func NewStore(dir string, session *models.Session, logger *slog.Logger) *Store {
	return &Store{
		path: filepath.Join(dir, ProgressFilename),
		progress: &models.Progress{
			SessionID:    uuid.New().String(),
			CreatedAt:    time.Now(),
			CurrentStage: models.StageSetup,
			Credentials: models.ProgressCredentials{
				ContentKey:   session.ContentKey,
				HostingToken: session.HostingToken,
			},
			Selections: session.Selections,
		},
		logger: logger.With("component", "progress"),
	}
}

// Open loads the persisted record from dir, restoring it verbatim.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	path := filepath.Join(dir, ProgressFilename)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read progress file: %w", err)
	}

	var p models.Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
	}

	logger.Info("Progress loaded",
		"session_id", p.SessionID,
		"current_stage", p.CurrentStage,
		"completed_stages", len(p.CompletedStages))

	return &Store{
		path:     path,
		progress: &p,
		logger:   logger.With("component", "progress"),
	}, nil
}

// Exists reports whether a progress file is present in dir.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ProgressFilename))
	return err == nil
}

// Save writes the record to disk atomically: write to a temp file, then
// rename over the destination.
func (s *Store) Save() error {
	s.mu.Lock()
	s.progress.LastSavedAt = time.Now()
	data, err := json.MarshalIndent(s.progress, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp progress file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		return fmt.Errorf("failed to rename progress file: %w", err)
	}

	s.logger.Debug("Progress saved", "path", s.path)
	return nil
}

// Progress returns a copy of the current record.
func (s *Store) Progress() models.Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := *s.progress
	p.CompletedStages = append([]models.StageID{}, s.progress.CompletedStages...)
	return p
}

// Reset discards all completion state and removes the progress file.
func (s *Store) Reset() error {
	s.mu.Lock()
	s.progress.CurrentStage = models.StageSetup
	s.progress.CompletedStages = nil
	s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove progress file: %w", err)
	}
	s.logger.Info("Progress reset", "path", s.path)
	return nil
}

// update applies fn to the record under the lock and persists the result.
func (s *Store) update(fn func(p *models.Progress)) error {
	s.mu.Lock()
	fn(s.progress)
	s.mu.Unlock()
	return s.Save()
}
