package session

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Mailbox is a single-slot box. Put overwrites, Take empties it.
type Mailbox[T any] struct {
	backend Backend
	key     string
	log     *logrus.Logger
}

// NewMailbox creates a mailbox stored under key
func NewMailbox[T any](backend Backend, key string, log *logrus.Logger) *Mailbox[T] {
	return &Mailbox[T]{backend: backend, key: key, log: log}
}

// Put stores v, replacing anything already there
func (m *Mailbox[T]) Put(ctx context.Context, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", m.key)
	}
	return errors.Wrapf(m.backend.Set(ctx, m.key, string(data)), "put %s", m.key)
}

// Take returns the content and empties the box. A corrupt value is dropped
// and reads as empty.
func (m *Mailbox[T]) Take(ctx context.Context) (T, bool, error) {
	var v T
	raw, ok, err := m.backend.Take(ctx, m.key)
	if err != nil {
		return v, false, errors.Wrapf(err, "take %s", m.key)
	}
	if !ok {
		return v, false, nil
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		m.log.WithError(err).WithField("key", m.key).Warn("dropping corrupt mailbox value")
		return v, false, nil
	}
	return v, true, nil
}

// Peek returns the content without consuming it
func (m *Mailbox[T]) Peek(ctx context.Context) (T, bool) {
	var v T
	raw, ok, err := m.backend.Get(ctx, m.key)
	if err != nil || !ok {
		return v, false
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, false
	}
	return v, true
}

// Discard empties the box
func (m *Mailbox[T]) Discard(ctx context.Context) error {
	return errors.Wrapf(m.backend.Delete(ctx, m.key), "discard %s", m.key)
}
