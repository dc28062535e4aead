package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/tomb.v2"
)

// Watcher reloads the config file when it changes on disk. Invalid edits are
// logged and ignored, the running config stays in place.
type Watcher struct {
	Path     string
	Debounce time.Duration
	OnReload func(*Config)
	Log      zerolog.Logger

	watcher *fsnotify.Watcher
	tomb    tomb.Tomb
}

func (w *Watcher) Start() error {
	absPath, err := filepath.Abs(w.Path)
	if err != nil {
		return fmt.Errorf("can't resolve config path with: %w", err)
	}
	w.Path = absPath
	if w.Debounce <= 0 {
		w.Debounce = 2 * time.Second
	}
	if w.watcher, err = fsnotify.NewWatcher(); err != nil {
		return fmt.Errorf("can't create file watcher with: %w", err)
	}
	// editors replace files on save, so the directory is watched instead of the file
	if err := w.watcher.Add(filepath.Dir(absPath)); err != nil {
		w.watcher.Close()
		return fmt.Errorf("can't watch %s with: %w", filepath.Dir(absPath), err)
	}
	w.tomb.Go(w.loop)
	return nil
}

func (w *Watcher) Stop() error {
	w.tomb.Kill(nil)
	err := w.tomb.Wait()
	if closeErr := w.watcher.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

func (w *Watcher) loop() error {
	configFile := filepath.Base(w.Path)
	var reload <-chan time.Time
	for {
		select {
		case <-w.tomb.Dying():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != configFile {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.Log.Debug().Str("service", "config watcher").Str("op", event.Op.String()).Msg("config file changed")
			reload = time.After(w.Debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.Log.Error().Str("service", "config watcher").Str("error", err.Error()).Msg("watch failed")
		case <-reload:
			reload = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	conf, err := LoadConfig(w.Path)
	if err != nil {
		w.Log.Error().Str("service", "config watcher").Str("error", err.Error()).Msg("can't reload config")
		return
	}
	if w.OnReload != nil {
		w.OnReload(conf)
	}
}
