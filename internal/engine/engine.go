// Package engine provides the dashboard session: it owns the last accepted
// snapshot and its lookups, polls the server at the rate of the open view
// and drops the local session when the server stops accepting it.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/agsys/depot-dispatch/internal/cloud"
	"github.com/agsys/depot-dispatch/internal/model"
	"github.com/agsys/depot-dispatch/internal/session"
)

// View is the screen being watched. It sets the poll interval.
type View int

const (
	ViewHome View = iota
	ViewCenter
	ViewAdmin
)

func (v View) String() string {
	switch v {
	case ViewCenter:
		return "center"
	case ViewAdmin:
		return "admin"
	}
	return "home"
}

// ParseView accepts home, center or admin
func ParseView(s string) (View, error) {
	switch s {
	case "home", "":
		return ViewHome, nil
	case "center":
		return ViewCenter, nil
	case "admin", "arrival":
		return ViewAdmin, nil
	}
	return ViewHome, errors.Errorf("unknown view %q", s)
}

// Config holds dashboard configuration
type Config struct {
	HomeInterval   time.Duration
	CenterInterval time.Duration
	AdminInterval  time.Duration
	// ProgressRetention is how long stop index marks are kept
	ProgressRetention time.Duration
}

// DefaultConfig returns the poll rates of the web client
func DefaultConfig() Config {
	return Config{
		HomeInterval:      15 * time.Second,
		CenterInterval:    20 * time.Second,
		AdminInterval:     60 * time.Second,
		ProgressRetention: 7 * 24 * time.Hour,
	}
}

// Interval returns the poll period of a view
func (c Config) Interval(v View) time.Duration {
	switch v {
	case ViewCenter:
		return c.CenterInterval
	case ViewAdmin:
		return c.AdminInterval
	}
	return c.HomeInterval
}

// Fetcher loads snapshots
type Fetcher interface {
	Fetch(ctx context.Context) (*model.Snapshot, error)
	Cached(ctx context.Context) (*model.Snapshot, time.Time, bool)
}

// AuthProber asks the server who the cookie session belongs to
type AuthProber interface {
	AuthStatus(ctx context.Context) (*cloud.AuthStatus, error)
}

// ProgressStore remembers the highest stop index seen per route
type ProgressStore interface {
	AdvanceRouteProgress(ctx context.Context, routeID string, stopIdx int, status string) (int, error)
	PruneRouteProgress(ctx context.Context, cutoff time.Time) (int64, error)
}

// Dashboard is the client side of one operator session
type Dashboard struct {
	config   Config
	fetcher  Fetcher
	auth     AuthProber
	session  *session.Store
	progress ProgressStore
	log      *logrus.Logger

	mu        sync.RWMutex
	snap      *model.Snapshot
	fetchedAt time.Time
	centers   map[string]*model.Center
	trucks    map[string]*model.Truck
	routes    map[string]*model.Route
	lastErr   error
	listeners []func(*model.Snapshot)
}

// New creates a dashboard. auth and progress may be nil.
func New(config Config, fetcher Fetcher, auth AuthProber, store *session.Store, progress ProgressStore, log *logrus.Logger) *Dashboard {
	return &Dashboard{
		config:   config,
		fetcher:  fetcher,
		auth:     auth,
		session:  store,
		progress: progress,
		log:      log,
	}
}

// Subscribe registers fn to be called with every accepted snapshot
func (d *Dashboard) Subscribe(fn func(*model.Snapshot)) {
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

// Warm shows the cached snapshot, if any, before the first fetch lands
func (d *Dashboard) Warm(ctx context.Context) bool {
	snap, fetchedAt, ok := d.fetcher.Cached(ctx)
	if !ok {
		return false
	}
	d.log.WithField("fetched_at", fetchedAt.Format(time.RFC3339)).Debug("showing cached snapshot")
	return d.accept(ctx, snap, fetchedAt)
}

// Refresh fetches a snapshot and accepts it unless a newer one is already
// shown. A rejected session clears every local slot; other failures keep
// the last snapshot.
func (d *Dashboard) Refresh(ctx context.Context) (*model.Snapshot, error) {
	snap, err := d.fetcher.Fetch(ctx)
	if err != nil {
		d.mu.Lock()
		d.lastErr = err
		d.mu.Unlock()

		if errors.Is(err, cloud.ErrAuthExpired) {
			d.log.Warn("server session expired, clearing local session")
			if cerr := d.session.ClearAll(ctx); cerr != nil {
				d.log.WithError(cerr).Error("failed to clear session")
			}
			return nil, err
		}
		d.log.WithError(err).Warn("refresh failed, keeping last snapshot")
		return d.Snapshot(), err
	}

	d.accept(ctx, snap, time.Now())
	return d.Snapshot(), nil
}

func (d *Dashboard) accept(ctx context.Context, snap *model.Snapshot, fetchedAt time.Time) bool {
	d.mu.Lock()
	if d.snap != nil && snap.ServerTime.Before(d.snap.ServerTime.Time) {
		d.mu.Unlock()
		d.log.WithFields(logrus.Fields{
			"server_time": snap.ServerTime.Format(time.RFC3339),
			"shown":       d.snap.ServerTime.Format(time.RFC3339),
		}).Debug("dropping out of order snapshot")
		return false
	}
	d.snap = snap
	d.fetchedAt = fetchedAt
	d.lastErr = nil
	d.index(snap)
	listeners := append([]func(*model.Snapshot){}, d.listeners...)
	d.mu.Unlock()

	d.trackProgress(ctx, snap)
	for _, fn := range listeners {
		fn(snap)
	}
	return true
}

func (d *Dashboard) index(snap *model.Snapshot) {
	d.centers = make(map[string]*model.Center, len(snap.Centers))
	for i := range snap.Centers {
		d.centers[snap.Centers[i].ID] = &snap.Centers[i]
	}
	d.trucks = make(map[string]*model.Truck, len(snap.Trucks))
	for i := range snap.Trucks {
		d.trucks[snap.Trucks[i].ID] = &snap.Trucks[i]
	}
	d.routes = make(map[string]*model.Route, len(snap.Routes)+len(snap.RouteHistory))
	for i := range snap.RouteHistory {
		d.routes[snap.RouteHistory[i].ID] = &snap.RouteHistory[i]
	}
	for i := range snap.Routes {
		d.routes[snap.Routes[i].ID] = &snap.Routes[i]
	}
}

// trackProgress records each route's stop index. A lower index than one
// already seen is logged and not stored.
func (d *Dashboard) trackProgress(ctx context.Context, snap *model.Snapshot) {
	if d.progress == nil {
		return
	}
	for _, r := range snap.AllRoutes() {
		prev, err := d.progress.AdvanceRouteProgress(ctx, r.ID, r.CurrentStopIdx, r.Status.String())
		if err != nil {
			d.log.WithError(err).WithField("route_id", r.ID).Warn("failed to record route progress")
			continue
		}
		if prev > r.CurrentStopIdx {
			d.log.WithFields(logrus.Fields{
				"route_id": r.ID,
				"seen":     prev,
				"got":      r.CurrentStopIdx,
			}).Warn("route stop index went backwards, ignoring")
		}
	}
}

// Snapshot returns the last accepted snapshot, nil before the first one
func (d *Dashboard) Snapshot() *model.Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snap
}

// FetchedAt is when the shown snapshot was fetched
func (d *Dashboard) FetchedAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fetchedAt
}

// LastError is the error of the last refresh, nil once a snapshot lands
func (d *Dashboard) LastError() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastErr
}

// Center looks up a center in the shown snapshot
func (d *Dashboard) Center(id string) (*model.Center, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.centers[id]
	return c, ok
}

// Truck looks up a truck in the shown snapshot
func (d *Dashboard) Truck(id string) (*model.Truck, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.trucks[id]
	return t, ok
}

// Route looks up an active or finished route in the shown snapshot
func (d *Dashboard) Route(id string) (*model.Route, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.routes[id]
	return r, ok
}

// CheckAuth reconciles the local identity with the server cookie session.
// A local identity the server no longer knows is cleared; a server session
// with no local identity is adopted.
func (d *Dashboard) CheckAuth(ctx context.Context) (*cloud.AuthStatus, error) {
	if d.auth == nil {
		return nil, errors.New("no auth prober configured")
	}
	status, err := d.auth.AuthStatus(ctx)
	if err != nil {
		return nil, err
	}

	local, hasLocal := d.session.Current(ctx)
	switch {
	case !status.Authenticated && hasLocal:
		d.log.WithField("user", local.User).Warn("server session gone, clearing local session")
		if err := d.session.ClearAll(ctx); err != nil {
			return status, err
		}
	case status.Authenticated && !hasLocal:
		if session.Role(status.Role) == session.RoleAdmin {
			err = d.session.SaveAdmin(ctx, status.User)
		} else {
			err = d.session.SaveWorker(ctx, status.User)
		}
		if err != nil {
			return status, err
		}
		d.log.WithField("user", status.User).Info("adopted server session")
	}
	return status, nil
}

// Run polls at the rate of view until ctx is cancelled or the server
// rejects the session. Extra services run alongside and stop with it.
func (d *Dashboard) Run(ctx context.Context, view View, services ...func(context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.poll(ctx, view)
	})
	for _, svc := range services {
		svc := svc
		g.Go(func() error { return svc(ctx) })
	}
	return g.Wait()
}

func (d *Dashboard) poll(ctx context.Context, view View) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return errors.Wrap(err, "create scheduler")
	}

	expired := make(chan struct{}, 1)
	interval := d.config.Interval(view)
	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if _, err := d.Refresh(ctx); errors.Is(err, cloud.ErrAuthExpired) {
				select {
				case expired <- struct{}{}:
				default:
				}
			}
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithName("refresh-"+view.String()),
	)
	if err != nil {
		return errors.Wrap(err, "schedule refresh")
	}

	if d.progress != nil && d.config.ProgressRetention > 0 {
		_, err = scheduler.NewJob(
			gocron.DurationJob(time.Hour),
			gocron.NewTask(func() {
				n, err := d.progress.PruneRouteProgress(ctx, time.Now().Add(-d.config.ProgressRetention))
				if err != nil {
					d.log.WithError(err).Warn("failed to prune route progress")
					return
				}
				if n > 0 {
					d.log.WithField("rows", n).Debug("pruned route progress")
				}
			}),
			gocron.WithName("prune-progress"),
		)
		if err != nil {
			return errors.Wrap(err, "schedule progress pruning")
		}
	}

	d.log.WithFields(logrus.Fields{"view": view.String(), "interval": interval.String()}).Info("polling started")
	scheduler.Start()

	select {
	case <-ctx.Done():
		err = nil
	case <-expired:
		err = cloud.ErrAuthExpired
	}
	if serr := scheduler.Shutdown(); serr != nil {
		d.log.WithError(serr).Warn("scheduler shutdown")
	}
	return err
}
