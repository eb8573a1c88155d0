package keysource

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/credguard/jwt"
)

// Watch reloads ring from path whenever the file changes, until ctx ends.
// The parent directory is watched so editors and config managers that
// replace the file by rename are picked up. A document that fails to parse
// or validate is logged and the previous keys stay in force.
//
// reloaded, when non-nil, is called after every successful swap.
func Watch(ctx context.Context, path string, ring *jwt.Keyring, log logrus.FieldLogger, reloaded func()) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithFields(logrus.Fields{"component": "keysource", "path": path})

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}

	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				active, keys, err := LoadFile(path)
				if err != nil {
					log.WithError(err).Warn("keyring reload failed, keeping previous keys")
					continue
				}
				if err := ring.Replace(active, keys...); err != nil {
					log.WithError(err).Warn("keyring rejected, keeping previous keys")
					continue
				}
				log.WithField("active_kid", active).Info("keyring reloaded")
				if reloaded != nil {
					reloaded()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("keyring watcher error")
			}
		}
	}()
	return nil
}
