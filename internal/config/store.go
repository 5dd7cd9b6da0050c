// Package config persists scan defaults between runs so a user does
// not retype resolution and quality flags for every document.
package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/mzyy94/kvscan/internal/kvs"
)

// Settings holds the user-configurable scan defaults.
type Settings struct {
	Resolution  int     `json:"resolution"`
	Quality     int     `json:"quality"`
	Duplex      bool    `json:"duplex"`
	Flatbed     bool    `json:"flatbed"`
	WidthInch   float64 `json:"widthInch"`
	HeightInch  float64 `json:"heightInch"`
	Compression string  `json:"compression"` // "jpeg" or "none"
	Device      string  `json:"device"`      // bus:address hint or sg path
}

// DefaultSettings returns the defaults for a US letter colour scan.
func DefaultSettings() Settings {
	return Settings{
		Resolution:  300,
		Quality:     85,
		WidthInch:   8.5,
		HeightInch:  11,
		Compression: "jpeg",
	}
}

// Window builds the scanner configuration these settings describe.
func (s Settings) Window() kvs.Window {
	w := kvs.DefaultWindow()
	w.XRes = uint16(s.Resolution)
	w.YRes = uint16(s.Resolution)
	w.CompressionArgument = byte(s.Quality)
	w.Flatbed = s.Flatbed
	w.Width = uint32(s.WidthInch * 1200)
	w.Length = uint32(s.HeightInch * 1200)
	w.DocumentWidth = w.Width
	w.DocumentLength = w.Length
	if s.Compression == "none" {
		w.CompressionType = 0
		w.CompressionArgument = 0
	}
	return w
}

// Store provides settings persistence backed by a JSON file.
type Store struct {
	mu       sync.RWMutex
	settings Settings
	path     string
}

// NewStore creates a Store that persists settings to dataDir/settings.json.
// A missing or invalid file falls back to defaults.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	s := &Store{
		path:     filepath.Join(dataDir, "settings.json"),
		settings: DefaultSettings(),
	}
	s.load()
	return s, nil
}

// NewMemoryStore creates a Store without file persistence.
func NewMemoryStore() *Store {
	return &Store{settings: DefaultSettings()}
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Update replaces the settings and persists them.
func (s *Store) Update(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return s.save()
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return // file missing is OK, use defaults
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		slog.Warn("invalid settings file, using defaults", "path", s.path, "err", err)
		return
	}
	s.settings = settings
}

func (s *Store) save() error {
	if s.path == "" {
		return nil // memory-only mode
	}
	data, err := json.MarshalIndent(s.settings, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
