// Package watch reinstalls design documents when their files change.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cutting-room-floor/backbone-couch/internal/couch"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 250 * time.Millisecond

// InstallFunc installs design documents, e.g. (*couch.Client).InstallDesignDocs.
type InstallFunc func(ctx context.Context, sources []couch.DesignSource) error

// Watcher watches design document files and reinstalls the ones that change.
// Parent directories are watched so files replaced by rename are picked up.
type Watcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]bool // absolute paths
	install  InstallFunc
	debounce time.Duration
}

// Option customizes a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long to wait for further events before reinstalling.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// New creates a watcher for files. Only .json, .yaml and .yml files are accepted.
func New(files []string, install InstallFunc, opts ...Option) (*Watcher, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no design files to watch")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		watcher:  fsw,
		files:    make(map[string]bool, len(files)),
		install:  install,
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}

	dirs := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to resolve %s: %w", f, err)
		}
		if !isDesignFile(abs) {
			fsw.Close()
			return nil, fmt.Errorf("unsupported design file %s: want .json, .yaml or .yml", f)
		}
		w.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
		}
	}
	return w, nil
}

func isDesignFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// Run processes events until ctx is canceled. Install failures are logged
// and watching continues.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	pending := make(map[string]bool)
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			path, ok := w.relevant(event)
			if !ok {
				continue
			}
			log.Debug().Str("file", path).Str("op", event.Op.String()).Msg("design file changed")
			pending[path] = true
			timer.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("watch error")

		case <-timer.C:
			w.reinstall(ctx, pending)
			pending = make(map[string]bool)
		}
	}
}

// relevant reports whether event touches a watched file with new content.
func (w *Watcher) relevant(event fsnotify.Event) (string, bool) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return "", false
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil || !w.files[abs] {
		return "", false
	}
	return abs, true
}

func (w *Watcher) reinstall(ctx context.Context, pending map[string]bool) {
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	sources := make([]couch.DesignSource, 0, len(paths))
	for _, p := range paths {
		sources = append(sources, couch.DesignFile(p))
	}

	if err := w.install(ctx, sources); err != nil {
		log.Error().Err(err).Strs("files", paths).Msg("failed to reinstall design documents")
		return
	}
	log.Info().Strs("files", paths).Msg("design documents reinstalled")
}
