package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/thebtf/ctxview/pkg/models"
)

// Documents gives typed, read-modify-write access to the documents of a Backend.
//
// Every Update holds a per-document mutex for the whole read, mutate and write
// sequence, so writers inside one process never lose each other's changes.
// Writers in other processes are not coordinated: the last write wins.
type Documents struct {
	backend Backend
	locks   map[Name]*sync.Mutex
	mu      sync.Mutex
}

// New wraps a backend.
func New(backend Backend) *Documents {
	return &Documents{
		backend: backend,
		locks:   make(map[Name]*sync.Mutex),
	}
}

// Backend returns the underlying backend.
func (d *Documents) Backend() Backend {
	return d.backend
}

// Close closes the backend.
func (d *Documents) Close() error {
	return d.backend.Close()
}

func (d *Documents) lock(name Name) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[name]
	if !ok {
		l = &sync.Mutex{}
		d.locks[name] = l
	}
	return l
}

// defaultFor returns the document served in place of a missing one.
func defaultFor(name Name) (any, bool) {
	switch name {
	case Context:
		return models.DefaultContext(), true
	case Feedback:
		return models.DefaultFeedback(), true
	case UXConfig:
		return models.DefaultUXConfig(), true
	default:
		return nil, false
	}
}

// Raw returns a JSON document as stored, or its default shape when it does not exist.
// Stored content that is not valid JSON is reported as an error.
func (d *Documents) Raw(ctx context.Context, name Name) ([]byte, error) {
	data, err := d.backend.Read(ctx, name)
	if errors.Is(err, ErrNotFound) {
		def, ok := defaultFor(name)
		if !ok {
			return nil, err
		}
		return encode(def)
	}
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(string(name), ".json") && !json.Valid(data) {
		return nil, fmt.Errorf("%s: invalid JSON", name)
	}
	return data, nil
}

func encode(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// load decodes a document, falling back to def when it does not exist.
func load[T any](ctx context.Context, b Backend, name Name, def func() *T) (*T, error) {
	data, err := b.Read(ctx, name)
	if errors.Is(err, ErrNotFound) && def != nil {
		return def(), nil
	}
	if err != nil {
		return nil, err
	}
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return v, nil
}

func save(ctx context.Context, b Backend, name Name, v any) error {
	data, err := encode(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return b.Write(ctx, name, data)
}

// update runs fn on the current document under the document lock and saves the result.
// Nothing is written when fn fails.
func update[T any](ctx context.Context, d *Documents, name Name, def func() *T, fn func(*T) error) error {
	l := d.lock(name)
	l.Lock()
	defer l.Unlock()

	v, err := load(ctx, d.backend, name, def)
	if err != nil {
		return err
	}
	if err := fn(v); err != nil {
		return err
	}
	return save(ctx, d.backend, name, v)
}

// LoadContext returns context.json or its default.
func (d *Documents) LoadContext(ctx context.Context) (*models.ContextState, error) {
	return load(ctx, d.backend, Context, models.DefaultContext)
}

// UpdateContext rewrites context.json through fn.
func (d *Documents) UpdateContext(ctx context.Context, fn func(*models.ContextState) error) error {
	return update(ctx, d, Context, models.DefaultContext, fn)
}

// LoadFeedback returns feedback.json or its default.
func (d *Documents) LoadFeedback(ctx context.Context) (*models.FeedbackDoc, error) {
	return load(ctx, d.backend, Feedback, models.DefaultFeedback)
}

// UpdateFeedback rewrites feedback.json through fn.
func (d *Documents) UpdateFeedback(ctx context.Context, fn func(*models.FeedbackDoc) error) error {
	return update(ctx, d, Feedback, models.DefaultFeedback, fn)
}

// LoadUXConfig returns ux_config.json or its default.
func (d *Documents) LoadUXConfig(ctx context.Context) (*models.UXConfig, error) {
	return load(ctx, d.backend, UXConfig, models.DefaultUXConfig)
}

// UpdateUXConfig rewrites ux_config.json through fn.
func (d *Documents) UpdateUXConfig(ctx context.Context, fn func(*models.UXConfig) error) error {
	return update(ctx, d, UXConfig, models.DefaultUXConfig, fn)
}

// LoadQuery returns the identity query, or ErrNotFound when none was submitted.
func (d *Documents) LoadQuery(ctx context.Context) (*models.IdentityQuery, error) {
	return load[models.IdentityQuery](ctx, d.backend, IdentityQuery, nil)
}

// SaveQuery overwrites the identity query slot.
func (d *Documents) SaveQuery(ctx context.Context, q *models.IdentityQuery) error {
	l := d.lock(IdentityQuery)
	l.Lock()
	defer l.Unlock()
	return save(ctx, d.backend, IdentityQuery, q)
}

// UpdateQuery rewrites the identity query through fn. It fails with ErrNotFound
// when there is no query.
func (d *Documents) UpdateQuery(ctx context.Context, fn func(*models.IdentityQuery) error) error {
	return update[models.IdentityQuery](ctx, d, IdentityQuery, nil, fn)
}
