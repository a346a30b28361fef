package connector

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/veridia/parley/config"
	"github.com/veridia/parley/errors"
	"github.com/veridia/parley/record"
)

// Local ingests conversation documents from a directory tree. Paths are
// resolved before reading and must stay inside the configured root; a file
// escaping the root through a symlink is a security violation, not an IO
// error.
type Local struct {
	name       string
	path       string
	root       string // resolved at Connect
	extensions map[string]bool
	watch      bool
	maxRecords int
	guard      *FetchGuard
	logger     *zap.SugaredLogger
}

// NewLocal builds a local-directory connector.
func NewLocal(cfg config.SourceConfig, logger *zap.SugaredLogger) (*Local, error) {
	if cfg.Path == "" {
		return nil, errors.WithDetail(errors.New("local source requires a path"), "source: "+cfg.Name)
	}
	extensions := make(map[string]bool, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extensions[ext] = true
	}
	return &Local{
		name:       cfg.Name,
		path:       cfg.Path,
		extensions: extensions,
		watch:      cfg.Watch,
		maxRecords: cfg.MaxRecords,
		guard:      NewFetchGuard(cfg),
		logger:     logger,
	}, nil
}

func (l *Local) Name() string                  { return l.name }
func (l *Local) SourceType() record.SourceType { return record.SourceLocalFile }

// Connect resolves the root directory. Symlinks are resolved here so the
// containment check in Fetch compares canonical paths.
func (l *Local) Connect(_ context.Context) error {
	abs, err := filepath.Abs(l.path)
	if err != nil {
		return errors.Wrapf(errors.ErrConnection, "invalid source path %q: %v", l.path, err)
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return errors.Wrapf(errors.ErrConnection, "source path %q unavailable: %v", l.path, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return errors.Wrapf(errors.ErrConnection, "source path %q unavailable: %v", l.path, err)
	}
	if !info.IsDir() {
		return errors.Wrapf(errors.ErrConnection, "source path %q is not a directory", l.path)
	}
	l.root = root
	return nil
}

func (l *Local) Fetch(ctx context.Context) (<-chan record.IngestRecord, <-chan error) {
	out := make(chan record.IngestRecord)
	errs := make(chan error, 8)

	go func() {
		defer close(out)
		defer close(errs)

		var seq int64
		seen := make(map[string]bool)

		walkErr := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				emitErr(ctx, errs, errors.Wrapf(err, "walk failed at %q", path))
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() || !l.wantsFile(path) {
				return nil
			}
			seen[path] = true
			seq = l.processFile(ctx, path, seq, out, errs)
			if l.capped(seq) {
				return fs.SkipAll
			}
			return nil
		})
		if walkErr != nil && walkErr != ctx.Err() {
			emitErr(ctx, errs, errors.Wrap(walkErr, "directory walk aborted"))
		}

		if !l.watch || ctx.Err() != nil || l.capped(seq) {
			return
		}
		l.watchLoop(ctx, seen, seq, out, errs)
	}()

	return out, errs
}

// watchLoop processes files created under the root after the initial walk.
func (l *Local) watchLoop(ctx context.Context, seen map[string]bool, seq int64, out chan<- record.IngestRecord, errs chan<- error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		emitErr(ctx, errs, errors.Wrap(err, "failed to start directory watcher"))
		return
	}
	defer watcher.Close()

	// Watch the whole tree; fsnotify does not recurse on its own.
	_ = filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			if werr := watcher.Add(path); werr != nil {
				l.logger.Warnw("Failed to watch directory", "path", path, "error", werr)
			}
		}
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if event.Op&fsnotify.Create != 0 {
					_ = watcher.Add(event.Name)
				}
				continue
			}
			if !l.wantsFile(event.Name) || seen[event.Name] {
				continue
			}
			// Writers may still be mid-flush when the event fires.
			time.Sleep(10 * time.Millisecond)
			seen[event.Name] = true
			seq = l.processFile(ctx, event.Name, seq, out, errs)
			if l.capped(seq) {
				return
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return
			}
			emitErr(ctx, errs, errors.Wrap(werr, "directory watcher error"))
		}
	}
}

func (l *Local) wantsFile(path string) bool {
	if len(l.extensions) == 0 {
		return true
	}
	return l.extensions[strings.ToLower(filepath.Ext(path))]
}

func (l *Local) capped(seq int64) bool {
	return l.maxRecords > 0 && seq >= int64(l.maxRecords)
}

// processFile reads one file and emits its records, returning the updated
// sequence counter. Errors are reported per file and never stop the stream.
func (l *Local) processFile(ctx context.Context, path string, seq int64, out chan<- record.IngestRecord, errs chan<- error) int64 {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		emitErr(ctx, errs, errors.Wrapf(err, "failed to resolve %q", path))
		return seq
	}
	if !l.contains(resolved) {
		emitErr(ctx, errs, errors.NewSecurityViolation(
			"path %q escapes source root %q", path, l.root))
		return seq
	}

	var data []byte
	err = l.guard.Do(ctx, "read "+path, func(context.Context) error {
		var rerr error
		data, rerr = os.ReadFile(resolved)
		return rerr
	})
	if err != nil {
		emitErr(ctx, errs, err)
		return seq
	}

	rel, err := filepath.Rel(l.root, resolved)
	if err != nil {
		rel = resolved
	}

	for _, payload := range l.parse(ctx, rel, data, errs) {
		seq++
		rec := record.IngestRecord{
			SourceID:       payload.sourceID,
			SourceType:     record.SourceLocalFile,
			RawPayload:     payload.doc,
			FetchTimestamp: time.Now().UTC(),
			Sequence:       seq,
		}
		if !emit(ctx, out, rec) {
			return seq
		}
		if l.capped(seq) {
			return seq
		}
	}
	return seq
}

type localDoc struct {
	sourceID string
	doc      map[string]any
}

// parse decodes a file into zero or more payload documents. Files with a
// .jsonl extension hold one document per line; everything else is a single
// JSON document.
func (l *Local) parse(ctx context.Context, rel string, data []byte, errs chan<- error) []localDoc {
	if strings.ToLower(filepath.Ext(rel)) == ".jsonl" {
		var docs []localDoc
		for i, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			var doc map[string]any
			if err := json.Unmarshal([]byte(line), &doc); err != nil {
				emitErr(ctx, errs, errors.Wrapf(err, "invalid JSON at %s line %d", rel, i+1))
				continue
			}
			docs = append(docs, localDoc{sourceID: rel + "#" + strconv.Itoa(i+1), doc: doc})
		}
		return docs
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		emitErr(ctx, errs, errors.Wrapf(err, "invalid JSON document at %s", rel))
		return nil
	}
	return []localDoc{{sourceID: rel, doc: doc}}
}

func (l *Local) contains(resolved string) bool {
	if resolved == l.root {
		return true
	}
	return strings.HasPrefix(resolved, l.root+string(filepath.Separator))
}
