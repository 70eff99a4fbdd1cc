package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch re-runs a callback when JSON specs under dir change. Events are
// debounced per path so editors that write in multiple syscalls trigger
// one run. Watch returns when the context is canceled.
func Watch(ctx context.Context, dir string, debounce time.Duration, run func(specPath string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}

	logrus.WithField("dir", dir).Info("watching for spec changes")

	pending := map[string]*time.Timer{}
	fire := make(chan string)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			path := event.Name
			if !strings.HasSuffix(path, ".json") || strings.HasSuffix(path, ".report.json") {
				continue
			}
			if t, ok := pending[path]; ok {
				t.Stop()
			}
			p := path
			pending[path] = time.AfterFunc(debounce, func() { fire <- p })

		case path := <-fire:
			delete(pending, path)
			logrus.WithField("spec", filepath.Base(path)).Info("spec changed, regenerating")
			run(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logrus.WithError(err).Warn("watch error")
		}
	}
}
