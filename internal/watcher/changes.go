package watcher

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/thebtf/ctxview/internal/store"
)

// ChangeDetector reports which watched documents changed since the last scan.
//
// With a FileBackend it compares modification times and sizes and is woken
// by fsnotify; with any other backend it compares content hashes on a timer.
type ChangeDetector struct {
	backend  store.Backend
	names    []store.Name
	interval time.Duration
	onChange func([]store.Name)
	versions map[store.Name]string
	logger   zerolog.Logger
}

// NewChangeDetector creates a detector over store.Watched. onChange may be nil.
func NewChangeDetector(backend store.Backend, interval time.Duration, onChange func([]store.Name), logger zerolog.Logger) *ChangeDetector {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &ChangeDetector{
		backend:  backend,
		names:    slices.Clone(store.Watched),
		interval: interval,
		onChange: onChange,
		versions: make(map[store.Name]string),
		logger:   logger.With().Str("component", "change-detector").Logger(),
	}
}

// Run scans until ctx is cancelled. The first scan records a baseline.
func (d *ChangeDetector) Run(ctx context.Context) error {
	d.Scan(ctx)

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if fb, ok := d.backend.(*store.FileBackend); ok {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			d.logger.Warn().Err(err).Msg("File notifications unavailable, scanning on timer")
		} else {
			defer w.Close()
			if err := w.Add(fb.Dir()); err != nil {
				d.logger.Warn().Err(err).Str("dir", fb.Dir()).Msg("Cannot watch directory")
			} else {
				events, errs = w.Events, w.Errors
			}
		}
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !d.watches(filepath.Base(ev.Name)) {
				continue
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.logger.Warn().Err(err).Msg("File watcher error")
			continue
		}

		if changed := d.Scan(ctx); len(changed) > 0 {
			d.logger.Info().Interface("documents", changed).Msg("File changes detected")
			if d.onChange != nil {
				d.onChange(changed)
			}
		}
	}
}

func (d *ChangeDetector) watches(base string) bool {
	return slices.Contains(d.names, store.Name(base))
}

// Scan compares every watched document against the previous scan and
// returns those whose version differs. Missing documents have an empty version.
func (d *ChangeDetector) Scan(ctx context.Context) []store.Name {
	var changed []store.Name
	for _, name := range d.names {
		v, err := d.version(ctx, name)
		if err != nil {
			d.logger.Debug().Err(err).Str("document", string(name)).Msg("Cannot read document version")
			continue
		}
		prev, known := d.versions[name]
		d.versions[name] = v
		if known && prev != v {
			changed = append(changed, name)
		}
	}
	return changed
}

func (d *ChangeDetector) version(ctx context.Context, name store.Name) (string, error) {
	if fb, ok := d.backend.(*store.FileBackend); ok {
		info, err := os.Stat(fb.Path(name))
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d-%d", info.ModTime().UnixNano(), info.Size()), nil
	}

	data, err := d.backend.Read(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	h := fnv.New64a()
	_, _ = h.Write(data)
	return fmt.Sprintf("%x", h.Sum64()), nil
}
