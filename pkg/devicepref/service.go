// Package devicepref remembers which device to drive when no serial is
// configured: a pinned serial and the last time each device was used.
package devicepref

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"adsweep/pkg/host/adb"
)

const settingsFile = "devices.json"

var ErrNoDevice = errors.New("no device connected")

// AmbiguousError is returned when several devices are online and none is
// pinned or was used before
type AmbiguousError struct {
	Serials []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%d devices connected (%s); pass --serial or pin one", len(e.Serials), strings.Join(e.Serials, ", "))
}

// Settings is the persisted form
type Settings struct {
	LastActive   map[string]int64 `json:"lastActive"`
	PinnedSerial string           `json:"pinnedSerial"`
}

// Service keeps the settings in memory and writes them on Save
type Service struct {
	path   string
	logger zerolog.Logger

	mu         sync.RWMutex
	lastActive map[string]int64
	pinned     string
}

// Open loads dataDir/devices.json. A missing or unreadable file starts empty.
func Open(dataDir string, logger zerolog.Logger) (*Service, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, err
	}
	s := &Service{
		path:       filepath.Join(dataDir, settingsFile),
		logger:     logger.With().Str("module", "devicepref").Logger(),
		lastActive: make(map[string]int64),
	}
	s.load()
	return s, nil
}

func (s *Service) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("ignoring unreadable device settings")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if settings.LastActive != nil {
		s.lastActive = settings.LastActive
	}
	s.pinned = settings.PinnedSerial
}

func (s *Service) Path() string { return s.path }

func (s *Service) Pinned() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pinned
}

// TogglePin pins serial, or unpins it when it already is. It reports
// whether serial ends up pinned.
func (s *Service) TogglePin(serial string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pinned == serial {
		s.pinned = ""
		return false
	}
	s.pinned = serial
	return true
}

func (s *Service) LastActive(serial string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive[serial]
}

// Touch records that serial was used at ts (unix millis)
func (s *Service) Touch(serial string, ts int64) {
	s.mu.Lock()
	s.lastActive[serial] = ts
	s.mu.Unlock()
}

// Save writes the settings atomically
func (s *Service) Save() error {
	s.mu.RLock()
	settings := Settings{
		LastActive:   make(map[string]int64, len(s.lastActive)),
		PinnedSerial: s.pinned,
	}
	for k, v := range s.lastActive {
		settings.LastActive[k] = v
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("save device settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("save device settings: %w", err)
	}
	return nil
}

// Rank orders devices pinned first, then most recently used
func (s *Service) Rank(devices []adb.Device) []adb.Device {
	s.mu.RLock()
	pinned := s.pinned
	last := make(map[string]int64, len(devices))
	for _, d := range devices {
		last[d.Serial] = s.lastActive[d.Serial]
	}
	s.mu.RUnlock()

	out := append([]adb.Device(nil), devices...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Serial == pinned, out[j].Serial == pinned
		if pi != pj {
			return pi
		}
		return last[out[i].Serial] > last[out[j].Serial]
	})
	return out
}

// Choose picks the device to drive among those adb reports online: the
// pinned one, the only one, or the most recently used one.
func (s *Service) Choose(devices []adb.Device) (string, error) {
	var online []adb.Device
	for _, d := range devices {
		if d.State == "device" {
			online = append(online, d)
		}
	}
	switch len(online) {
	case 0:
		return "", ErrNoDevice
	case 1:
		return online[0].Serial, nil
	}

	ranked := s.Rank(online)
	best := ranked[0].Serial
	if best == s.Pinned() || s.LastActive(best) > 0 {
		return best, nil
	}
	serials := make([]string, len(ranked))
	for i, d := range ranked {
		serials[i] = d.Serial
	}
	sort.Strings(serials)
	return "", &AmbiguousError{Serials: serials}
}
