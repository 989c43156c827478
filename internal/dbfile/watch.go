package dbfile

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultSettle is how long the file must stay quiet before a change is
// reported. Builds write the file in many steps.
const DefaultSettle = 500 * time.Millisecond

// Watch calls onChange after the file is written, created or renamed into
// place, once it has been quiet for settle. It blocks until ctx is done.
// The directory is watched so atomic replacement by rename is seen.
func (f *File) Watch(ctx context.Context, settle time.Duration, onChange func()) error {
	if settle <= 0 {
		settle = DefaultSettle
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	abs, err := filepath.Abs(f.Path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	f.Logger.Info("watching database file", zap.String("path", abs))

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending bool
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			f.Logger.Debug("database file event", zap.String("op", ev.Op.String()))
			pending = true
			if timer == nil {
				timer = time.NewTimer(settle)
			} else {
				timer.Reset(settle)
			}
			timerC = timer.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			f.Logger.Warn("watch error", zap.Error(err))

		case <-timerC:
			timerC = nil
			if pending {
				pending = false
				f.Logger.Info("database file changed", zap.String("path", abs))
				onChange()
			}
		}
	}
}
