// Package keywords holds the per-app advertisement keyword table. The
// table is loaded from a chain of layers (secure store, bundled document,
// hardcoded defaults). Edits are applied to the latest persisted document
// inside one secure store transaction, and reads pick up edits made by
// other processes.
package keywords

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"adsweep/pkg/securestore"
	"adsweep/pkg/types"
)

// StoreKey is the secure store entry holding the keyword document
const StoreKey = "keywords/config"

// KV is the persisted layer. *securestore.Store satisfies it.
type KV interface {
	Get(key string) ([]byte, error)
	Revision(key string) (int64, error)
	Update(key string, fn func(cur []byte) ([]byte, error)) (int64, error)
	Delete(key string) error
}

var _ KV = (*securestore.Store)(nil)

// Store is safe for concurrent use. Reads share a lock; edits are serialized.
type Store struct {
	mu      sync.RWMutex
	kv      KV
	bundled Source
	logger  zerolog.Logger

	loaded  bool
	order   []string
	targets map[string]*types.AppTarget
	layer   Layer
	version uint64
	// rev is the secure store stamp the table was read from or written as
	rev int64
}

// New creates a store. A nil bundled source means the embedded document.
func New(kv KV, bundled Source, logger zerolog.Logger) *Store {
	if bundled == nil {
		bundled = EmbeddedSource()
	}
	return &Store{
		kv:      kv,
		bundled: bundled,
		logger:  logger.With().Str("module", "keywords").Logger(),
		targets: make(map[string]*types.AppTarget),
	}
}

// Load (re)reads the table, first usable layer wins. The returned error
// joins every MalformedConfigError met on the way; the table is valid
// even when err is non-nil.
func (s *Store) Load() (map[string]types.AppTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.loadLocked()
	return s.snapshotLocked(), err
}

func (s *Store) loadLocked() error {
	var errs []error

	// 1. secure store
	if s.kv != nil {
		// stamp first: a write racing the read only causes another reload
		rev, rerr := s.kv.Revision(StoreKey)
		if rerr != nil {
			s.logger.Debug().Err(rerr).Msg("keyword revision unavailable")
		}
		data, err := s.kv.Get(StoreKey)
		switch {
		case errors.Is(err, securestore.ErrNotFound):
		case err != nil:
			errs = append(errs, &MalformedConfigError{Layer: LayerSecureStore, Err: err})
		default:
			targets, perr := parseDocument(data)
			if perr == nil {
				s.install(targets, LayerSecureStore)
				s.rev = rev
				s.logLoad(errs)
				return errors.Join(errs...)
			}
			errs = append(errs, &MalformedConfigError{Layer: LayerSecureStore, Err: perr})
		}
	}

	// 2. bundled document
	data, err := s.bundled.Read()
	if err == nil {
		var targets []types.AppTarget
		if targets, err = parseDocument(data); err == nil {
			s.install(targets, LayerBundled)
			s.persistLoaded()
			s.logLoad(errs)
			return errors.Join(errs...)
		}
	}
	errs = append(errs, &MalformedConfigError{Layer: LayerBundled, Source: s.bundled.Name(), Err: err})

	// 3. hardcoded table
	s.install(hardcodedTargets(), LayerHardcoded)
	s.persistLoaded()
	s.logLoad(errs)
	return errors.Join(errs...)
}

func (s *Store) logLoad(errs []error) {
	for _, err := range errs {
		s.logger.Warn().Err(err).Msg("keyword layer skipped")
	}
	s.logger.Info().Str("layer", string(s.layer)).Int("apps", len(s.order)).Msg("keywords loaded")
}

func (s *Store) install(targets []types.AppTarget, layer Layer) {
	s.order = s.order[:0]
	s.targets = make(map[string]*types.AppTarget, len(targets))
	for _, t := range targets {
		t := t.Clone()
		s.order = append(s.order, t.AppID)
		s.targets[t.AppID] = &t
	}
	s.layer = layer
	s.loaded = true
	s.version++
}

// persistLoaded writes a fallback-layer table into the secure store so the
// next load takes the fast path. Failure only costs that fast path.
func (s *Store) persistLoaded() {
	if err := s.persistLocked(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist keyword defaults")
	}
}

func (s *Store) persistLocked() error {
	if s.kv == nil {
		return nil
	}
	data, err := encodeDocument(s.orderedLocked())
	if err != nil {
		return fmt.Errorf("encode keywords: %w", err)
	}
	rev, err := s.kv.Update(StoreKey, func([]byte) ([]byte, error) { return data, nil })
	if err != nil {
		return err
	}
	s.rev = rev
	return nil
}

func (s *Store) orderedLocked() []types.AppTarget {
	out := make([]types.AppTarget, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.targets[id].Clone())
	}
	return out
}

func (s *Store) snapshotLocked() map[string]types.AppTarget {
	out := make(map[string]types.AppTarget, len(s.targets))
	for id, t := range s.targets {
		out[id] = t.Clone()
	}
	return out
}

// ensureLoaded loads the table on first use and reloads it when another
// process has written the secure store since.
func (s *Store) ensureLoaded() {
	s.mu.RLock()
	loaded, rev := s.loaded, s.rev
	s.mu.RUnlock()
	if loaded && !s.staleSince(rev) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded || s.rev == rev {
		// errors were logged; the table is usable regardless
		_ = s.loadLocked()
	}
}

func (s *Store) staleSince(rev int64) bool {
	if s.kv == nil {
		return false
	}
	cur, err := s.kv.Revision(StoreKey)
	if err != nil {
		s.logger.Debug().Err(err).Msg("keyword revision check failed")
		return false
	}
	return cur != rev
}

// Get returns the keywords for appID in insertion order
func (s *Store) Get(appID string) []string {
	s.ensureLoaded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.targets[appID]
	if !ok || len(t.Keywords) == 0 {
		return nil
	}
	out := make([]string, len(t.Keywords))
	copy(out, t.Keywords)
	return out
}

// Target returns the full config for appID
func (s *Store) Target(appID string) (types.AppTarget, bool) {
	s.ensureLoaded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.targets[appID]
	if !ok {
		return types.AppTarget{}, false
	}
	return t.Clone(), true
}

// Has reports whether appID is configured at all
func (s *Store) Has(appID string) bool {
	s.ensureLoaded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.targets[appID]
	return ok
}

// Apps returns every configured target in document order
func (s *Store) Apps() []types.AppTarget {
	s.ensureLoaded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orderedLocked()
}

// Version changes whenever the table changes
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// LoadedFrom names the layer the current table came from
func (s *Store) LoadedFrom() Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.layer
}

// mutate applies change to the newest table: the persisted document when
// it is readable, else the in-memory one. Read, change and write happen in
// one secure store transaction so concurrent editors never drop each
// other's edits. change reports false to leave everything untouched.
func (s *Store) mutate(change func(targets []types.AppTarget) ([]types.AppTarget, bool)) (bool, error) {
	s.ensureLoaded()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kv == nil {
		next, changed := change(s.orderedLocked())
		if changed {
			s.install(next, s.layer)
		}
		return changed, nil
	}

	var (
		latest    []types.AppTarget
		fromStore bool
		changed   bool
	)
	rev, err := s.kv.Update(StoreKey, func(cur []byte) ([]byte, error) {
		latest, fromStore, changed = s.orderedLocked(), false, false
		if cur != nil {
			if targets, perr := parseDocument(cur); perr == nil {
				latest, fromStore = targets, true
			}
		}
		next, ok := change(latest)
		if !ok {
			return nil, nil
		}
		latest, changed = next, true
		data, err := encodeDocument(next)
		if err != nil {
			return nil, fmt.Errorf("encode keywords: %w", err)
		}
		return data, nil
	})
	if err != nil {
		return false, fmt.Errorf("persist keywords: %w", err)
	}
	if changed || (fromStore && rev != s.rev) {
		s.install(latest, LayerSecureStore)
		s.rev = rev
	}
	return changed, nil
}

// Add appends keyword to appID, creating the target with a default scroll
// config when needed. It returns false for an empty or duplicate keyword.
func (s *Store) Add(appID, keyword string) (bool, error) {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return false, errors.New("app id is required")
	}
	added, err := s.mutate(func(targets []types.AppTarget) ([]types.AppTarget, bool) {
		for i := range targets {
			if targets[i].AppID != appID {
				continue
			}
			next, ok := appendKeyword(append([]string(nil), targets[i].Keywords...), keyword)
			if !ok {
				return nil, false
			}
			targets[i].Keywords = next
			return targets, true
		}
		kws, ok := appendKeyword(nil, keyword)
		if !ok {
			return nil, false
		}
		return append(targets, types.AppTarget{
			AppID:        appID,
			Keywords:     kws,
			ScrollConfig: types.DefaultScrollConfig(),
		}), true
	})
	if added {
		s.logger.Info().Str("app", appID).Str("keyword", strings.TrimSpace(keyword)).Msg("keyword added")
	}
	return added, err
}

// Remove deletes keyword (case-insensitive) from appID
func (s *Store) Remove(appID, keyword string) (bool, error) {
	keyword = strings.TrimSpace(keyword)
	removed, err := s.mutate(func(targets []types.AppTarget) ([]types.AppTarget, bool) {
		for i := range targets {
			if targets[i].AppID != appID {
				continue
			}
			kws := targets[i].Keywords
			for j, kw := range kws {
				if strings.EqualFold(kw, keyword) {
					next := make([]string, 0, len(kws)-1)
					next = append(next, kws[:j]...)
					targets[i].Keywords = append(next, kws[j+1:]...)
					return targets, true
				}
			}
			return nil, false
		}
		return nil, false
	})
	if removed {
		s.logger.Info().Str("app", appID).Str("keyword", keyword).Msg("keyword removed")
	}
	return removed, err
}

// Reset drops the persisted table and reloads from the fallback layers
func (s *Store) Reset() (map[string]types.AppTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kv != nil {
		if err := s.kv.Delete(StoreKey); err != nil {
			return s.snapshotLocked(), fmt.Errorf("reset keywords: %w", err)
		}
	}
	err := s.loadLocked()
	return s.snapshotLocked(), err
}
