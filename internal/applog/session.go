// Package applog manages the application state directory and the session
// logger. The state directory holds the persisted progress record; each run
// also gets its own structured log file under logs/.
package applog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Manager manages the state directory layout
type Manager struct {
	baseDir string
	logPath string
	logger  *slog.Logger
}

// NewManager ensures the state directory exists and picks a timestamped log
// file for this run.
func NewManager(baseDir string, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	logsDir := filepath.Join(baseDir, "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02T15-04-05")
	logPath := filepath.Join(logsDir, "session_"+timestamp+".log")

	logger.Debug("State directory ready", "path", baseDir)

	return &Manager{
		baseDir: baseDir,
		logPath: logPath,
		logger:  logger,
	}, nil
}

// BaseDir returns the state directory path. The progress record lives here.
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// LogPath returns the full path to this run's log file
func (m *Manager) LogPath() string {
	return m.logPath
}
