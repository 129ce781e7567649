// Package spool ingests chunk files from a spool directory.
//
// The layout is <dir>/<device>/<file>: every regular file is one chunk of the
// device named by its parent directory. Files are enqueued in name order and
// removed once the queue accepted them. Producers should write under a name
// starting with "." or ending in ".tmp" and rename when complete.
package spool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/chunkship/internal/domain"
	"github.com/bft-labs/chunkship/internal/ports"
)

// Default watcher settings.
const (
	DefaultDebounce       = 200 * time.Millisecond
	DefaultRescanInterval = 30 * time.Second
	DefaultFilesPerAdd    = 50
)

// Sink receives the chunks read from the spool.
type Sink interface {
	EnqueueAndPost(deviceID string, chunks []domain.Chunk) error
}

// Config contains configuration for a Watcher.
type Config struct {
	// Dir is the spool root.
	Dir string

	// Debounce delays a scan after a burst of file events.
	Debounce time.Duration

	// RescanInterval rescans the whole spool, picking up files left behind by
	// a full queue. Zero disables it.
	RescanInterval time.Duration

	// FilesPerAdd is the number of files handed to the sink per call.
	FilesPerAdd int

	// MaxFileSize skips larger files. Zero disables the check.
	MaxFileSize int64
}

// Watcher moves chunk files from the spool into a Sink.
type Watcher struct {
	cfg    Config
	sink   Sink
	logger ports.Logger
}

// New creates a Watcher.
func New(cfg Config, sink Sink, logger ports.Logger) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("%w: spool directory is required", domain.ErrInvalidConfig)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.FilesPerAdd <= 0 {
		cfg.FilesPerAdd = DefaultFilesPerAdd
	}
	return &Watcher{cfg: cfg, sink: sink, logger: logger}, nil
}

// ScanAll ingests the files of every device directory.
// It returns the number of files ingested.
func (w *Watcher) ScanAll(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		if !e.IsDir() || skipName(e.Name()) {
			continue
		}
		n, err := w.ScanDevice(ctx, e.Name())
		total += n
		if err != nil {
			w.logger.Error("spool scan failed",
				ports.String("device", e.Name()),
				ports.Err(err),
			)
		}
	}
	return total, nil
}

// ScanDevice ingests the pending files of one device in name order.
// A full queue ends the scan early; the remaining files stay for a later scan.
func (w *Watcher) ScanDevice(ctx context.Context, deviceID string) (int, error) {
	dir := filepath.Join(w.cfg.Dir, deviceID)
	names, err := pendingFiles(dir)
	if err != nil {
		return 0, err
	}

	ingested := 0
	for start := 0; start < len(names); start += w.cfg.FilesPerAdd {
		if ctx.Err() != nil {
			return ingested, ctx.Err()
		}
		end := min(start+w.cfg.FilesPerAdd, len(names))

		var chunks []domain.Chunk
		var paths []string
		for _, name := range names[start:end] {
			path := filepath.Join(dir, name)
			data, ok := w.readChunk(path)
			if !ok {
				continue
			}
			chunks = append(chunks, data)
			paths = append(paths, path)
		}
		if len(chunks) == 0 {
			continue
		}

		if err := w.sink.EnqueueAndPost(deviceID, chunks); err != nil {
			if errors.Is(err, domain.ErrQueueFull) {
				w.logger.Warn("queue full, leaving files in spool",
					ports.String("device", deviceID),
					ports.Int("files", len(names)-start),
				)
				return ingested, nil
			}
			return ingested, err
		}

		for _, p := range paths {
			if err := os.Remove(p); err != nil {
				w.logger.Error("remove spooled chunk", ports.String("path", p), ports.Err(err))
			}
		}
		ingested += len(paths)
	}

	if ingested > 0 {
		w.logger.Debug("spool ingested",
			ports.String("device", deviceID),
			ports.Int("files", ingested),
		)
	}
	return ingested, nil
}

func (w *Watcher) readChunk(path string) (domain.Chunk, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, false
	}
	if w.cfg.MaxFileSize > 0 && info.Size() > w.cfg.MaxFileSize {
		w.logger.Warn("skipping oversized chunk file",
			ports.String("path", path),
			ports.Int64("size", info.Size()),
		)
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Error("read spooled chunk", ports.String("path", path), ports.Err(err))
		return nil, false
	}
	return data, true
}

// Run scans the spool once, then ingests new files as they appear until ctx
// is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.cfg.Dir, err)
	}
	w.watchDevices(fw)

	if _, err := w.ScanAll(ctx); err != nil {
		w.logger.Error("initial spool scan failed", ports.Err(err))
	}

	var rescan <-chan time.Time
	if w.cfg.RescanInterval > 0 {
		ticker := time.NewTicker(w.cfg.RescanInterval)
		defer ticker.Stop()
		rescan = ticker.C
	}

	pending := make(map[string]struct{})
	debounce := time.NewTimer(w.cfg.Debounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			device, isDir := w.classify(event.Name)
			if device == "" {
				continue
			}
			if isDir {
				if err := fw.Add(event.Name); err != nil {
					w.logger.Error("watch device directory", ports.String("path", event.Name), ports.Err(err))
				}
			}
			pending[device] = struct{}{}
			debounce.Reset(w.cfg.Debounce)

		case <-debounce.C:
			for device := range pending {
				if _, err := w.ScanDevice(ctx, device); err != nil {
					w.logger.Error("spool scan failed", ports.String("device", device), ports.Err(err))
				}
			}
			clear(pending)

		case <-rescan:
			w.watchDevices(fw)
			if _, err := w.ScanAll(ctx); err != nil {
				w.logger.Error("spool rescan failed", ports.Err(err))
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("spool watcher error", ports.Err(err))
		}
	}
}

// watchDevices adds every device directory to fw. Adding a watched path again
// is a no-op.
func (w *Watcher) watchDevices(fw *fsnotify.Watcher) {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() && !skipName(e.Name()) {
			_ = fw.Add(filepath.Join(w.cfg.Dir, e.Name()))
		}
	}
}

// classify maps an event path to its device. isDir is true when the path is
// a new device directory.
func (w *Watcher) classify(path string) (device string, isDir bool) {
	rel, err := filepath.Rel(w.cfg.Dir, path)
	if err != nil {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	switch len(parts) {
	case 1:
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() || skipName(parts[0]) {
			return "", false
		}
		return parts[0], true
	case 2:
		if skipName(parts[0]) || skipName(parts[1]) {
			return "", false
		}
		return parts[0], false
	}
	return "", false
}

// pendingFiles lists the ready chunk files of dir; os.ReadDir sorts by name.
func pendingFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && !skipName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// skipName reports names of files still being written.
func skipName(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp")
}
