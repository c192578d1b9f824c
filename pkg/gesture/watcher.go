package gesture

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 300 * time.Millisecond

// Watch starts following external changes to the macro directory.
// Calling it twice is a no-op.
func (s *MacroStore) Watch() error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return err
	}
	s.watcher = watcher
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	s.logger.Info().Str("path", s.dir).Msg("watching macro directory")
	go s.watch(watcher, s.stopCh, s.doneCh)
	return nil
}

// Close stops the watcher and waits for its goroutine
func (s *MacroStore) Close() error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watcher == nil {
		return nil
	}
	close(s.stopCh)
	err := s.watcher.Close()
	<-s.doneCh
	s.watcher = nil
	return err
}

func (s *MacroStore) watch(w *fsnotify.Watcher, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	// bursts of events (temp file + rename) collapse into one reload
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			if !strings.HasSuffix(name, macroExt) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.logger.Debug().Str("file", name).Str("op", event.Op.String()).Msg("macro file changed")
			timer.Reset(watchDebounce)

		case <-timer.C:
			if err := s.Reload(); err != nil {
				s.logger.Error().Err(err).Msg("macro reload failed")
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Error().Err(err).Msg("watcher error")
		}
	}
}
