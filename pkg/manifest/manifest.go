package manifest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"moonfetch/pkg/logger"
)

const currentVersion = 1

// Record is the last known state of one destination file
type Record struct {
	URL       string    `json:"url"`
	Path      string    `json:"path"`
	Bytes     int64     `json:"bytes"`
	Total     int64     `json:"total"` // -1 when the server sent no length
	Complete  bool      `json:"complete"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Manifest is the on-disk document
type Manifest struct {
	Records   map[string]Record `json:"records"` // destination path -> record
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Version   int               `json:"version"`
}

// Manager reads and writes a manifest file. It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	path   string
	doc    *Manifest
	logger logger.Logger
}

// NewManager opens the manifest at path, or at the default location when
// path is empty. A missing file starts an empty manifest.
func NewManager(path string) (*Manager, error) {
	if path == "" {
		dataDir, err := getDataDirectory()
		if err != nil {
			return nil, fmt.Errorf("failed to get data directory: %w", err)
		}
		path = filepath.Join(dataDir, "manifest.json")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create manifest directory: %w", err)
	}

	m := &Manager{path: path, logger: logger.GetLogger()}
	doc, err := m.load()
	if err != nil {
		return nil, err
	}
	m.doc = doc
	return m, nil
}

// Path returns the manifest file location
func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) load() (*Manifest, error) {
	file, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			now := time.Now()
			return &Manifest{
				Records:   make(map[string]Record),
				CreatedAt: now,
				UpdatedAt: now,
				Version:   currentVersion,
			}, nil
		}
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	var doc Manifest
	if err := json.NewDecoder(file).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if doc.Records == nil {
		doc.Records = make(map[string]Record)
	}

	m.logger.DebugWithFields("Manifest loaded", map[string]interface{}{
		"path":    m.path,
		"records": len(doc.Records),
	})
	return &doc, nil
}

// Record stores rec under its destination path and saves the manifest
func (m *Manager) Record(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	m.doc.Records[rec.Path] = rec
	return m.save()
}

// Lookup returns the record for a destination path
func (m *Manager) Lookup(path string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.doc.Records[path]
	return rec, ok
}

// IsComplete reports whether url was already fetched to path in full
func (m *Manager) IsComplete(url, path string) bool {
	rec, ok := m.Lookup(path)
	return ok && rec.Complete && rec.URL == url
}

// Records returns all records ordered by path
func (m *Manager) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, 0, len(m.doc.Records))
	for _, rec := range m.doc.Records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Forget drops the record for path
func (m *Manager) Forget(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.doc.Records[path]; !ok {
		return nil
	}
	delete(m.doc.Records, path)
	return m.save()
}

// save writes the manifest atomically. Callers hold m.mu.
func (m *Manager) save() error {
	m.doc.UpdatedAt = time.Now()

	tempPath := m.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary manifest file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(m.doc); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync manifest file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close manifest file: %w", err)
	}

	if err := os.Rename(tempPath, m.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace manifest file: %w", err)
	}

	m.logger.DebugWithFields("Manifest saved", map[string]interface{}{
		"path":    m.path,
		"records": len(m.doc.Records),
	})
	return nil
}

// Delete removes the manifest file and clears all records
func (m *Manager) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete manifest: %w", err)
	}
	m.doc.Records = make(map[string]Record)

	m.logger.Info("Manifest deleted")
	return nil
}

// Backup copies the manifest file to <path>.backup
func (m *Manager) Backup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open manifest for backup: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(m.path + ".backup")
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy manifest to backup: %w", err)
	}
	return nil
}

// getDataDirectory returns the appropriate data directory for the current OS
func getDataDirectory() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "moonfetch"), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		return filepath.Join(appData, "moonfetch"), nil
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "moonfetch"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "share", "moonfetch"), nil
	}
}
