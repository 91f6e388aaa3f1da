// Package history remembers the server names a player recently hosted or
// searched for, so coopctl can default to the last one.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// historyVersion is bumped when the schema changes.
	historyVersion = 1

	historyFileName = "history.json"
	appDirName      = "coop-sessions"

	// maxRecent bounds each recent-names list.
	maxRecent = 10
)

// History is loaded from and saved to ~/.local/state/coop-sessions/history.json
// (respecting XDG_STATE_HOME).
type History struct {
	Version int `json:"version"`

	Hosted []string `json:"hosted"` // most recent first
	Joined []string `json:"joined"` // most recent first

	LastAddress string    `json:"lastAddress,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// LastHosted returns the most recently hosted server name.
func (h *History) LastHosted() (string, bool) {
	if len(h.Hosted) == 0 {
		return "", false
	}
	return h.Hosted[0], true
}

// LastJoined returns the most recently searched-for server name.
func (h *History) LastJoined() (string, bool) {
	if len(h.Joined) == 0 {
		return "", false
	}
	return h.Joined[0], true
}

func (h *History) RecordHosted(name string) {
	h.Hosted = pushRecent(h.Hosted, name)
}

func (h *History) RecordJoined(name, address string) {
	h.Joined = pushRecent(h.Joined, name)
	if address != "" {
		h.LastAddress = address
	}
}

// pushRecent moves name to the front, dropping case-insensitive duplicates
// and anything past maxRecent.
func pushRecent(list []string, name string) []string {
	name = strings.TrimSpace(name)
	if name == "" {
		return list
	}
	out := make([]string, 0, len(list)+1)
	out = append(out, name)
	for _, n := range list {
		if strings.EqualFold(n, name) {
			continue
		}
		out = append(out, n)
		if len(out) == maxRecent {
			break
		}
	}
	return out
}

// Store handles loading and saving History to disk.
type Store struct {
	dir string // directory containing history.json
}

// NewStore creates a Store in dir. The directory is created on the first
// Save. Pass an empty string to use the default XDG state path.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = defaultDir()
	}
	return &Store{dir: dir}
}

// Path returns the full path to the history file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, historyFileName)
}

// Load reads history from disk. A missing file yields an empty History.
func (s *Store) Load() (*History, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return &History{Version: historyVersion}, nil
		}
		return nil, fmt.Errorf("reading history: %w", err)
	}

	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parsing history: %w", err)
	}
	return &h, nil
}

// Save writes history to disk using an atomic temp-file-then-rename pattern.
func (s *Store) Save(h *History) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating history dir: %w", err)
	}

	h.Version = historyVersion
	h.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling history: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, ".history-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path()); err != nil {
		return fmt.Errorf("renaming history file: %w", err)
	}
	committed = true

	return nil
}

// Update loads the history, applies fn and saves the result.
func (s *Store) Update(fn func(*History)) error {
	h, err := s.Load()
	if err != nil {
		return err
	}
	fn(h)
	return s.Save(h)
}

// defaultDir returns ~/.local/state/coop-sessions, respecting
// XDG_STATE_HOME if set.
func defaultDir() string {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".local", "state", appDirName)
}
