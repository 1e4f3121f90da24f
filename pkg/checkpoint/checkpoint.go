// Package checkpoint persists the pagination cursor of an interrupted or
// capped crawl so the next run can resume where it stopped.
//
// Checkpoints live under the platform data directory:
//   - Linux: $XDG_DATA_HOME/pixivdl/checkpoints or ~/.local/share/pixivdl/checkpoints
//   - macOS: ~/Library/Application Support/pixivdl/checkpoints
//   - Windows: %APPDATA%/pixivdl/checkpoints
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"time"

	"pixivdl/pkg/logger"
)

const currentVersion = 1

// Checkpoint is the resumable state of one (namespace, subject) crawl
type Checkpoint struct {
	Namespace string            `json:"namespace"`
	SubjectID string            `json:"subject_id"`
	Cursor    map[string]string `json:"cursor"`
	Pages     int               `json:"pages"`
	RunID     string            `json:"run_id"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Version   int               `json:"version"`
}

// Manager reads and writes the checkpoint file for one crawl
type Manager struct {
	path   string
	logger logger.Logger
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// NewManager creates a manager storing its file under dir. An empty dir
// selects the platform data directory.
func NewManager(dir, namespace, subjectID string, log logger.Logger) (*Manager, error) {
	if dir == "" {
		dataDir, err := DataDirectory()
		if err != nil {
			return nil, fmt.Errorf("failed to get data directory: %w", err)
		}
		dir = filepath.Join(dataDir, "checkpoints")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s.checkpoint.json",
		unsafeChars.ReplaceAllString(namespace, "_"),
		unsafeChars.ReplaceAllString(subjectID, "_"))

	return &Manager{
		path:   filepath.Join(dir, name),
		logger: logger.OrGlobal(log),
	}, nil
}

// Path returns the checkpoint file location
func (m *Manager) Path() string {
	return m.path
}

// Load returns the stored checkpoint, or nil when none exists
func (m *Manager) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if cp.Version > currentVersion {
		return nil, fmt.Errorf("checkpoint version %d is newer than supported version %d", cp.Version, currentVersion)
	}

	m.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"namespace":  cp.Namespace,
		"subject_id": cp.SubjectID,
		"pages":      cp.Pages,
		"updated_at": cp.UpdatedAt,
	})
	return &cp, nil
}

// Save writes cp to disk atomically
func (m *Manager) Save(cp *Checkpoint) error {
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	cp.Version = currentVersion

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	tempPath := m.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}
	if err := os.Rename(tempPath, m.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"namespace": cp.Namespace,
		"pages":     cp.Pages,
	})
	return nil
}

// SaveCursor records the cursor of the next unfetched page
func (m *Manager) SaveCursor(namespace, subjectID, runID string, cursor map[string]string, pages int) error {
	cp, err := m.Load()
	if err != nil || cp == nil {
		cp = &Checkpoint{Namespace: namespace, SubjectID: subjectID}
	}
	cp.Cursor = cursor
	cp.Pages = pages
	cp.RunID = runID
	return m.Save(cp)
}

// Delete removes the checkpoint file
func (m *Manager) Delete() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	m.logger.Debug("Checkpoint deleted")
	return nil
}

// Exists checks if a checkpoint file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// DataDirectory returns the per-user pixivdl data directory, creating it
func DataDirectory() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, "Library", "Application Support", "pixivdl")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dataDir = filepath.Join(appData, "pixivdl")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			dataDir = filepath.Join(xdg, "pixivdl")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dataDir = filepath.Join(home, ".local", "share", "pixivdl")
		}
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dataDir, nil
}
