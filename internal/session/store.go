// Package session persists the operator identity, the active route pointer
// and the take-once mailboxes that carry a scan or a notice across steps.
package session

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Slot keys
const (
	KeyWorker      = "workerSession"
	KeyAdmin       = "adminSession"
	KeyActiveRoute = "activeRouteId"
	KeyPendingScan = "pendingScan"
	KeyFlowNotice  = "flowNotice"
	KeyCookies     = "serverCookies"
)

var allKeys = []string{KeyWorker, KeyAdmin, KeyActiveRoute, KeyPendingScan, KeyFlowNotice, KeyCookies}

// Role of a logged in user
type Role string

const (
	RoleWorker Role = "worker"
	RoleAdmin  Role = "admin"
)

// Identity is a logged in worker or admin
type Identity struct {
	User  string    `json:"user"`
	Role  Role      `json:"role"`
	Since time.Time `json:"since"`
}

// Store is the session slot store
type Store struct {
	backend Backend
	log     *logrus.Logger

	// PendingScan holds one scanned QR URL until a step can act on it
	PendingScan *Mailbox[string]
	// FlowNotice holds one message to show on the next step
	FlowNotice *Mailbox[string]
}

// NewStore creates a store over a backend
func NewStore(backend Backend, log *logrus.Logger) *Store {
	s := &Store{backend: backend, log: log}
	s.PendingScan = NewMailbox[string](backend, KeyPendingScan, log)
	s.FlowNotice = NewMailbox[string](backend, KeyFlowNotice, log)
	return s
}

// Get decodes the slot into v. A missing, unreadable or corrupt slot reads
// as absent.
func (s *Store) Get(ctx context.Context, key string, v interface{}) bool {
	raw, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("session read failed")
		return false
	}
	if !ok || raw == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("discarding corrupt session slot")
		return false
	}
	return true
}

// Save encodes v into the slot
func (s *Store) Save(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode session slot %s", key)
	}
	return errors.Wrapf(s.backend.Set(ctx, key, string(data)), "save session slot %s", key)
}

// Clear removes the slot
func (s *Store) Clear(ctx context.Context, key string) error {
	return errors.Wrapf(s.backend.Delete(ctx, key), "clear session slot %s", key)
}

// ClearAll removes every slot, used on logout and expired auth
func (s *Store) ClearAll(ctx context.Context) error {
	for _, key := range allKeys {
		if err := s.Clear(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Worker returns the logged in worker
func (s *Store) Worker(ctx context.Context) (Identity, bool) {
	var id Identity
	if !s.Get(ctx, KeyWorker, &id) || id.User == "" {
		return Identity{}, false
	}
	return id, true
}

// Admin returns the logged in admin
func (s *Store) Admin(ctx context.Context) (Identity, bool) {
	var id Identity
	if !s.Get(ctx, KeyAdmin, &id) || id.User == "" {
		return Identity{}, false
	}
	return id, true
}

// SaveWorker stores the worker identity and drops any admin identity
func (s *Store) SaveWorker(ctx context.Context, user string) error {
	if err := s.Clear(ctx, KeyAdmin); err != nil {
		return err
	}
	return s.Save(ctx, KeyWorker, Identity{User: user, Role: RoleWorker, Since: time.Now().UTC()})
}

// SaveAdmin stores the admin identity and drops any worker identity
func (s *Store) SaveAdmin(ctx context.Context, user string) error {
	if err := s.Clear(ctx, KeyWorker); err != nil {
		return err
	}
	return s.Save(ctx, KeyAdmin, Identity{User: user, Role: RoleAdmin, Since: time.Now().UTC()})
}

// Current returns whichever identity is logged in
func (s *Store) Current(ctx context.Context) (Identity, bool) {
	if id, ok := s.Worker(ctx); ok {
		return id, true
	}
	return s.Admin(ctx)
}

// ActiveRouteID returns the cached route pointer. Callers must still check
// it against fresh state.
func (s *Store) ActiveRouteID(ctx context.Context) (string, bool) {
	var id string
	if !s.Get(ctx, KeyActiveRoute, &id) || id == "" {
		return "", false
	}
	return id, true
}

// SetActiveRouteID stores the route pointer
func (s *Store) SetActiveRouteID(ctx context.Context, routeID string) error {
	return s.Save(ctx, KeyActiveRoute, routeID)
}

type storedCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Path    string    `json:"path,omitempty"`
	Domain  string    `json:"domain,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
}

// Cookies returns the server session cookies saved at login
func (s *Store) Cookies(ctx context.Context) []*http.Cookie {
	var stored []storedCookie
	if !s.Get(ctx, KeyCookies, &stored) {
		return nil
	}
	cookies := make([]*http.Cookie, 0, len(stored))
	for _, c := range stored {
		if !c.Expires.IsZero() && c.Expires.Before(time.Now()) {
			continue
		}
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value, Path: c.Path, Domain: c.Domain, Expires: c.Expires})
	}
	return cookies
}

// SaveCookies mirrors the server session cookies
func (s *Store) SaveCookies(ctx context.Context, cookies []*http.Cookie) error {
	stored := make([]storedCookie, 0, len(cookies))
	for _, c := range cookies {
		stored = append(stored, storedCookie{Name: c.Name, Value: c.Value, Path: c.Path, Domain: c.Domain, Expires: c.Expires})
	}
	return s.Save(ctx, KeyCookies, stored)
}
