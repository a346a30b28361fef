package connector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/veridia/parley/config"
	"github.com/veridia/parley/errors"
	"github.com/veridia/parley/internal/httpclient"
	"github.com/veridia/parley/record"
)

// maxEntryBytes bounds a single fetched document so a hostile endpoint
// cannot exhaust memory.
const maxEntryBytes = 4 << 20

// Playlist polls a remote playlist document for conversation entries. The
// playlist is a line-oriented list of entry URLs (comment lines start with
// #); each new entry is fetched once as a JSON document. All requests go
// through the SSRF-guarded HTTP client.
type Playlist struct {
	name         string
	rawURL       string
	base         *url.URL
	pollInterval time.Duration
	maxRecords   int
	client       *httpclient.Client
	guard        *FetchGuard
	logger       *zap.SugaredLogger
}

// NewPlaylist builds a playlist connector.
func NewPlaylist(cfg config.SourceConfig, logger *zap.SugaredLogger) (*Playlist, error) {
	if cfg.URL == "" {
		return nil, errors.WithDetail(errors.New("playlist source requires a url"), "source: "+cfg.Name)
	}
	pollInterval := time.Duration(cfg.PollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	timeout := time.Duration(cfg.FetchTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Playlist{
		name:         cfg.Name,
		rawURL:       cfg.URL,
		pollInterval: pollInterval,
		maxRecords:   cfg.MaxRecords,
		client:       httpclient.New(timeout, httpclient.Options{}),
		guard:        NewFetchGuard(cfg),
		logger:       logger,
	}, nil
}

func (p *Playlist) Name() string                  { return p.name }
func (p *Playlist) SourceType() record.SourceType { return record.SourcePlaylist }

// Connect validates the playlist URL without issuing a request. A URL that
// targets a private address or a disallowed scheme fails here, before any
// fetch attempt is made.
func (p *Playlist) Connect(_ context.Context) error {
	u, err := p.client.ValidateURL(p.rawURL)
	if err != nil {
		return err
	}
	p.base = u
	return nil
}

func (p *Playlist) Fetch(ctx context.Context) (<-chan record.IngestRecord, <-chan error) {
	out := make(chan record.IngestRecord)
	errs := make(chan error, 8)

	go func() {
		defer close(out)
		defer close(errs)

		var seq int64
		seen := make(map[string]bool)
		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()

		for {
			seq = p.poll(ctx, seen, seq, out, errs)
			if p.capped(seq) || ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out, errs
}

func (p *Playlist) capped(seq int64) bool {
	return p.maxRecords > 0 && seq >= int64(p.maxRecords)
}

// poll fetches the playlist once and processes every entry not yet seen.
func (p *Playlist) poll(ctx context.Context, seen map[string]bool, seq int64, out chan<- record.IngestRecord, errs chan<- error) int64 {
	body, err := p.get(ctx, p.base.String())
	if err != nil {
		emitErr(ctx, errs, errors.Wrap(err, "playlist fetch failed"))
		return seq
	}

	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entry, err := p.base.Parse(line)
		if err != nil {
			emitErr(ctx, errs, errors.Wrapf(err, "invalid playlist entry %q", line))
			continue
		}
		entryURL := entry.String()
		if seen[entryURL] {
			continue
		}
		seen[entryURL] = true

		doc, err := p.fetchEntry(ctx, entryURL)
		if err != nil {
			emitErr(ctx, errs, err)
			continue
		}
		seq++
		rec := record.IngestRecord{
			SourceID:       entryURL,
			SourceType:     record.SourcePlaylist,
			RawPayload:     doc,
			FetchTimestamp: time.Now().UTC(),
			Sequence:       seq,
		}
		if !emit(ctx, out, rec) || p.capped(seq) {
			return seq
		}
	}
	return seq
}

func (p *Playlist) fetchEntry(ctx context.Context, entryURL string) (map[string]any, error) {
	body, err := p.get(ctx, entryURL)
	if err != nil {
		return nil, errors.Wrapf(err, "entry fetch failed for %q", entryURL)
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errors.Wrapf(err, "invalid JSON entry at %q", entryURL)
	}
	return doc, nil
}

// get issues one guarded GET, retried under the fetch guard's policy.
func (p *Playlist) get(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	err := p.guard.Do(ctx, "GET "+rawURL, func(attemptCtx context.Context) error {
		req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
		if err != nil {
			return errors.Wrap(err, "failed to build request")
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errors.Newf("unexpected status %d from %q", resp.StatusCode, rawURL)
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxEntryBytes))
		return err
	})
	return body, err
}
