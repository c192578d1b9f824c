package gesture

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const macroExt = ".macro"

// appIDPattern keeps app IDs usable as file names
var appIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidateAppID rejects IDs that could escape the macro directory
func ValidateAppID(appID string) error {
	if appID == "" {
		return fmt.Errorf("app id is required")
	}
	if !appIDPattern.MatchString(appID) || strings.Contains(appID, "..") {
		return fmt.Errorf("invalid app id %q", appID)
	}
	return nil
}

// MacroStore keeps one macro per app under dir, cached in memory.
// Watch keeps the cache in sync with files written by other processes.
type MacroStore struct {
	dir    string
	logger zerolog.Logger

	mu    sync.RWMutex
	cache map[string]Macro

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// OpenMacroStore creates dir if needed and loads every macro in it
func OpenMacroStore(dir string, logger zerolog.Logger) (*MacroStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create macro directory: %w", err)
	}
	s := &MacroStore{
		dir:    dir,
		logger: logger.With().Str("module", "macros").Logger(),
		cache:  make(map[string]Macro),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MacroStore) Dir() string { return s.dir }

func (s *MacroStore) path(appID string) string {
	return filepath.Join(s.dir, appID+macroExt)
}

// Reload replaces the cache with the directory contents. Unreadable or
// malformed files are logged and skipped.
func (s *MacroStore) Reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read macro directory: %w", err)
	}

	next := make(map[string]Macro)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), macroExt) {
			continue
		}
		appID := strings.TrimSuffix(entry.Name(), macroExt)
		if ValidateAppID(appID) != nil {
			continue
		}
		m, err := s.readFile(appID)
		if err != nil {
			s.logger.Warn().Err(err).Str("app", appID).Msg("skipping macro")
			continue
		}
		if len(m) > 0 {
			next[appID] = m
		}
	}

	s.mu.Lock()
	s.cache = next
	s.mu.Unlock()
	return nil
}

func (s *MacroStore) readFile(appID string) (Macro, error) {
	data, err := os.ReadFile(s.path(appID))
	if err != nil {
		return nil, err
	}
	return ParseMacro(string(data))
}

// Get returns a copy of the macro for appID
func (s *MacroStore) Get(appID string) (Macro, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.cache[appID]
	if !ok {
		return nil, false
	}
	return append(Macro(nil), m...), true
}

// Save writes the macro atomically and updates the cache
func (s *MacroStore) Save(appID string, m Macro) error {
	if err := ValidateAppID(appID); err != nil {
		return err
	}
	if len(m) == 0 {
		return ErrEmptyMacro
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to write macro file: %w", err)
	}
	if _, err := tmp.WriteString(m.String()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write macro file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write macro file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(appID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write macro file: %w", err)
	}

	s.mu.Lock()
	s.cache[appID] = append(Macro(nil), m...)
	s.mu.Unlock()
	s.logger.Info().Str("app", appID).Int("actions", len(m)).Msg("macro saved")
	return nil
}

// Delete removes the macro for appID, reporting whether one existed
func (s *MacroStore) Delete(appID string) (bool, error) {
	if err := ValidateAppID(appID); err != nil {
		return false, err
	}
	err := os.Remove(s.path(appID))
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to delete macro: %w", err)
	}

	s.mu.Lock()
	_, cached := s.cache[appID]
	delete(s.cache, appID)
	s.mu.Unlock()
	return err == nil || cached, nil
}

// List returns the app IDs that have a macro, sorted
func (s *MacroStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.cache))
	for id := range s.cache {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
