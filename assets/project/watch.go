package project

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"miren.dev/studio/assets"
)

var _ assets.Watcher = (*Project)(nil)

// Watch reports asset files changed outside of the project until ctx is
// done. Changes from Put are not reported. Events for the same asset are
// collected and reported once things settle down.
func (p *Project) Watch(ctx context.Context, changed func(id uuid.UUID)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	err = filepath.WalkDir(p.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if path != p.dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}

		return w.Add(path)
	})
	if err != nil {
		w.Close()
		return fmt.Errorf("failed to watch project: %w", err)
	}

	d := &debouncer{
		delay: p.debounce,
		ids:   make(map[uuid.UUID]struct{}),
		fn:    changed,
	}

	go p.watch(ctx, w, d)

	return nil
}

func (p *Project) watch(ctx context.Context, w *fsnotify.Watcher, d *debouncer) {
	defer w.Close()
	defer d.stop()

	settings := p.file(SettingsPath)

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}

			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if err := w.Add(ev.Name); err != nil {
						p.log.Warn("unable to watch new directory", "path", ev.Name, "error", err)
					}
					continue
				}
			}

			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}

			if p.ownWrite(ev.Name) {
				continue
			}

			if ev.Name == settings {
				p.log.Info("asset settings changed, reloading")
				if err := p.loadSettings(); err != nil {
					p.log.Error("unable to reload asset settings", "error", err)
				}
				continue
			}

			if id, ok := p.idOf(ev.Name); ok {
				p.log.Debug("asset file changed", "uuid", id, "path", ev.Name, "op", ev.Op.String())
				d.add(id)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			p.log.Error("file watcher error", "error", err)
		}
	}
}

// ownWrite reports whether name still looks the way Put left it.
func (p *Project) ownWrite(name string) bool {
	p.mu.RLock()
	stamp, ok := p.written[name]
	p.mu.RUnlock()

	if !ok {
		return false
	}

	fi, err := os.Stat(name)
	if err != nil {
		return false
	}

	return fi.Size() == stamp.size && fi.ModTime().Equal(stamp.modTime)
}

func (p *Project) idOf(name string) (uuid.UUID, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for id, e := range p.entries {
		if p.file(e.Path) == name {
			return id, true
		}
	}

	return uuid.Nil, false
}

type debouncer struct {
	delay time.Duration
	fn    func(uuid.UUID)

	mu      sync.Mutex
	timer   *time.Timer
	ids     map[uuid.UUID]struct{}
	stopped bool
}

func (d *debouncer) add(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.ids[id] = struct{}{}

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.delay, d.flush)
}

func (d *debouncer) flush() {
	d.mu.Lock()
	ids := d.ids
	d.ids = make(map[uuid.UUID]struct{})
	stopped := d.stopped
	d.mu.Unlock()

	if stopped {
		return
	}

	for id := range ids {
		d.fn(id)
	}
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
