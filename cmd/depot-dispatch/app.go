package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/agsys/depot-dispatch/internal/cloud"
	"github.com/agsys/depot-dispatch/internal/config"
	"github.com/agsys/depot-dispatch/internal/engine"
	"github.com/agsys/depot-dispatch/internal/flow"
	"github.com/agsys/depot-dispatch/internal/model"
	"github.com/agsys/depot-dispatch/internal/planning"
	"github.com/agsys/depot-dispatch/internal/scan"
	"github.com/agsys/depot-dispatch/internal/session"
	"github.com/agsys/depot-dispatch/internal/state"
	"github.com/agsys/depot-dispatch/internal/storage"
)

// app holds the wired components of one command invocation
type app struct {
	cfg     *config.Config
	log     *logrus.Logger
	db      *storage.DB
	redis   *session.RedisBackend
	store   *session.Store
	client  *cloud.Client
	fetcher *state.Fetcher
	flow    *flow.Controller
	planner *planning.Planner
	dash    *engine.Dashboard
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := cfg.Logging.NewLogger()
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a := &app{cfg: cfg, log: log, db: db}

	var backend session.Backend = session.NewSQLiteBackend(db)
	if cfg.Session.Backend == config.BackendRedis {
		a.redis, err = session.NewRedisBackend(session.RedisConfig{
			Host:      cfg.Redis.Host,
			Port:      cfg.Redis.Port,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
		backend = a.redis
	}
	a.store = session.NewStore(backend, log)

	a.client, err = cloud.New(cloud.Config{
		BaseURL:     cfg.Server.BaseURL,
		HTTPTimeout: cfg.Server.Timeout,
		UserAgent:   cfg.Server.UserAgent,
	}, log)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	if cookies := a.store.Cookies(ctx); len(cookies) > 0 {
		a.client.SetCookies(cookies)
	}

	a.fetcher = state.NewFetcher(a.client, db, log)
	a.flow = flow.NewController(a.client, a.fetcher, a.store, db, log)
	a.planner = planning.NewPlanner(a.client, log)
	a.dash = engine.New(engine.Config{
		HomeInterval:      cfg.Polling.Home,
		CenterInterval:    cfg.Polling.Center,
		AdminInterval:     cfg.Polling.Admin,
		ProgressRetention: cfg.Storage.ProgressRetention,
	}, a.fetcher, a.client, a.store, db, log)

	return a, nil
}

// close mirrors the cookie jar into the session while someone is logged in
// and releases the stores
func (a *app) close(ctx context.Context) {
	if a.client != nil {
		var err error
		if _, ok := a.store.Current(ctx); ok {
			err = a.store.SaveCookies(ctx, a.client.Cookies())
		} else {
			err = a.store.Clear(ctx, session.KeyCookies)
		}
		if err != nil {
			a.log.WithError(err).Warn("failed to persist server cookies")
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
	a.db.Close()
}

// snapshot returns the live state, or the cached one when asked or when the
// server cannot be reached
func (a *app) snapshot(ctx context.Context, cachedOnly bool) (*model.Snapshot, error) {
	if !cachedOnly {
		snap, err := a.fetcher.Fetch(ctx)
		if err == nil {
			return snap, nil
		}
		if !isNetworkError(err) {
			return nil, err
		}
		a.log.WithError(err).Warn("server unreachable, using cached state")
	}
	snap, fetchedAt, ok := a.fetcher.Cached(ctx)
	if !ok {
		return nil, errors.New("no cached state available")
	}
	a.log.WithField("fetched_at", fetchedAt.Format("2006-01-02 15:04:05")).Debug("using cached state")
	return snap, nil
}

func (a *app) scanServer() *scan.Server {
	return scan.NewServer(scan.Config{
		Listen: a.cfg.Scan.Listen,
		Rate:   a.cfg.Scan.Rate,
		Burst:  a.cfg.Scan.Burst,
	}, a.flow, a.log)
}

// isNetworkError reports failures that say nothing about the session
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, cloud.ErrAuthExpired) || flow.IsValidation(err) {
		return false
	}
	if _, ok := cloud.IsRejected(err); ok {
		return false
	}
	return true
}
