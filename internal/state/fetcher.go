// Package state fetches the depot snapshot and keeps the last good copy in
// the local cache so a view can paint before the network answers.
package state

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/agsys/depot-dispatch/internal/model"
	"github.com/agsys/depot-dispatch/internal/storage"
)

// Source downloads the live snapshot
type Source interface {
	FetchState(ctx context.Context) (*model.Snapshot, []byte, error)
}

// Cache persists the raw snapshot between runs
type Cache interface {
	SaveSnapshot(ctx context.Context, snap *storage.CachedSnapshot) error
	LoadSnapshot(ctx context.Context) (*storage.CachedSnapshot, error)
}

// Origin tells a painter where a snapshot came from
type Origin int

const (
	FromCache Origin = iota
	FromLive
)

func (o Origin) String() string {
	if o == FromCache {
		return "cache"
	}
	return "live"
}

// Fetcher combines the live source with the local cache
type Fetcher struct {
	source Source
	cache  Cache
	log    *logrus.Logger
	now    func() time.Time
}

// NewFetcher creates a fetcher
func NewFetcher(source Source, cache Cache, log *logrus.Logger) *Fetcher {
	return &Fetcher{source: source, cache: cache, log: log, now: time.Now}
}

// Fetch downloads a fresh snapshot and writes it to the cache. Errors from
// the source are returned unchanged so callers can test for expired auth.
// A cache write failure is logged and does not fail the fetch.
func (f *Fetcher) Fetch(ctx context.Context) (*model.Snapshot, error) {
	snap, raw, err := f.source.FetchState(ctx)
	if err != nil {
		return nil, err
	}

	cached := &storage.CachedSnapshot{
		Payload:   raw,
		FetchedAt: f.now().UTC(),
	}
	if !snap.ServerTime.IsZero() {
		cached.ServerTime = snap.ServerTime.Format(time.RFC3339Nano)
	}
	if err := f.cache.SaveSnapshot(ctx, cached); err != nil {
		f.log.WithError(err).Warn("failed to cache state snapshot")
	}
	return snap, nil
}

// Cached returns the snapshot from the last successful fetch. A missing or
// corrupt cache reads as absent.
func (f *Fetcher) Cached(ctx context.Context) (*model.Snapshot, time.Time, bool) {
	cached, err := f.cache.LoadSnapshot(ctx)
	if err != nil {
		f.log.WithError(err).Warn("failed to read cached state")
		return nil, time.Time{}, false
	}
	if cached == nil {
		return nil, time.Time{}, false
	}
	var snap model.Snapshot
	if err := json.Unmarshal(cached.Payload, &snap); err != nil {
		f.log.WithError(err).Warn("ignoring corrupt cached state")
		return nil, time.Time{}, false
	}
	return &snap, cached.FetchedAt, true
}

// Load paints the cached snapshot, then the live one. The live snapshot
// replaces whatever the cache painted. When the live fetch fails the error
// is returned after the cached paint.
func (f *Fetcher) Load(ctx context.Context, paint func(*model.Snapshot, Origin)) (*model.Snapshot, error) {
	if snap, fetchedAt, ok := f.Cached(ctx); ok {
		f.log.WithField("age", f.now().Sub(fetchedAt).Round(time.Second)).Debug("painting cached state")
		paint(snap, FromCache)
	}

	snap, err := f.Fetch(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	paint(snap, FromLive)
	return snap, nil
}
