package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/turnkit/turnlog/internal/service"
)

// Watcher tails a directory of .jsonl transcripts and captures appended
// turns as they land. Editors and assistants write in bursts, so ingest
// passes are rate limited to coalesce event storms.
type Watcher struct {
	svc     *service.Service
	dir     string
	limiter *rate.Limiter

	mu      sync.Mutex
	offsets map[string]int64 // bytes of each file already ingested
}

// NewWatcher builds a watcher over dir. Nothing happens until Run.
func NewWatcher(svc *service.Service, dir string) *Watcher {
	return &Watcher{
		svc:     svc,
		dir:     dir,
		limiter: rate.NewLimiter(rate.Limit(4), 8),
		offsets: make(map[string]int64),
	}
}

// Run ingests existing files, then blocks consuming filesystem events
// until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ingest: watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("ingest: watch %s: %w", w.dir, err)
	}

	// Catch up on whatever is already there.
	paths, err := filepath.Glob(filepath.Join(w.dir, "*.jsonl"))
	if err != nil {
		return fmt.Errorf("ingest: glob %s: %w", w.dir, err)
	}
	for _, path := range paths {
		if err := w.ingestTail(ctx, path); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			if !strings.HasSuffix(ev.Name, ".jsonl") {
				continue
			}
			if err := w.limiter.Wait(ctx); err != nil {
				return err
			}
			if err := w.ingestTail(ctx, ev.Name); err != nil {
				ingestLog.Error("tail_failed", "path", ev.Name, "error", err)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			ingestLog.Warn("watch_error", "error", err)
		}
	}
}

// ingestTail captures any complete lines appended past the last ingested
// offset. A trailing partial line stays unconsumed until its newline
// arrives.
func (w *Watcher) ingestTail(ctx context.Context, path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	offset := w.offsets[path]

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("ingest: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("ingest: stat %s: %w", path, err)
	}
	if info.Size() < offset {
		// Truncated or replaced; start over.
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("ingest: seek %s: %w", path, err)
	}

	reader := bufio.NewReaderSize(f, scannerInitialBuf)
	res := &Result{}
	for {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			break // partial line, wait for more
		}
		if err != nil {
			return fmt.Errorf("ingest: read %s: %w", path, err)
		}
		offset += int64(len(line))

		trimmed := []byte(strings.TrimSpace(string(line)))
		if len(trimmed) == 0 {
			continue
		}
		captured, err := ingestLine(ctx, w.svc, path, trimmed, res)
		if err != nil {
			return err
		}
		if captured {
			res.Captured++
		}
	}
	w.offsets[path] = offset

	if res.Captured > 0 {
		ingestLog.Info("tail_ingested", "path", path, "captured", res.Captured)
	}
	return nil
}
