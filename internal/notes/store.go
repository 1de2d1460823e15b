// Package notes turns persisted key/value entries into notes.
//
// A note's id is its creation timestamp in ISO-8601 form. Notes are
// immutable: there is no update, only Create and Delete. ListAll returns
// notes in the substrate's enumeration order, which is not guaranteed to be
// chronological.
package notes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-notes/internal/kv"
)

// IDLayout matches the ISO string produced by JavaScript's Date.toISOString.
const IDLayout = "2006-01-02T15:04:05.000Z"

var ErrNotFound = errors.New("note not found")

// Note is a persisted, immutable (id, body) record.
type Note struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

// CreatedAt parses the id back into a timestamp.
func (n Note) CreatedAt() (time.Time, error) {
	return time.Parse(IDLayout, n.ID)
}

type Store struct {
	kv     kv.Store
	log    *slog.Logger
	clock  func() time.Time
	tracer trace.Tracer
	meters metric.MeterProvider

	mu     sync.Mutex
	lastID string

	saved    metric.Int64Counter
	deleted  metric.Int64Counter
	failures metric.Int64Counter
	count    metric.Registration
}

type Option func(*Store)

func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithMeterProvider reports metrics to mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Store) { s.meters = mp }
}

func NewStore(backend kv.Store, opts ...Option) *Store {
	s := &Store{
		kv:     backend,
		log:    slog.Default(),
		clock:  time.Now,
		tracer: otel.Tracer("github.com/loqalabs/loqa-notes/notes"),
		meters: otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "note-store"))
	if err := s.initMetrics(); err != nil {
		s.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return s
}

func (s *Store) initMetrics() error {
	meter := s.meters.Meter("github.com/loqalabs/loqa-notes/notes")
	var err error
	if s.saved, err = meter.Int64Counter("notes.saved", metric.WithDescription("Notes written")); err != nil {
		return err
	}
	if s.deleted, err = meter.Int64Counter("notes.deleted", metric.WithDescription("Notes removed")); err != nil {
		return err
	}
	if s.failures, err = meter.Int64Counter("notes.save_failures", metric.WithDescription("Note writes rejected by the store")); err != nil {
		return err
	}
	gauge, err := meter.Int64ObservableGauge("notes.count", metric.WithDescription("Notes currently persisted"))
	if err != nil {
		return err
	}
	s.count, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		keys, err := s.kv.Keys(ctx)
		if err != nil {
			return err
		}
		obs.ObserveInt64(gauge, int64(len(keys)))
		return nil
	}, gauge)
	return err
}

// newID returns a timestamp id not used by this store before. Ids that
// collide with an existing key or the previous id are advanced by 1ms.
func (s *Store) newID(ctx context.Context) (string, error) {
	ts := s.clock().UTC().Truncate(time.Millisecond)
	if s.lastID != "" {
		if last, err := time.Parse(IDLayout, s.lastID); err == nil && !ts.After(last) {
			ts = last.Add(time.Millisecond)
		}
	}
	for {
		id := ts.Format(IDLayout)
		_, err := s.kv.Get(ctx, id)
		if errors.Is(err, kv.ErrNotFound) {
			return id, nil
		}
		if err != nil {
			return "", fmt.Errorf("check id: %w", err)
		}
		ts = ts.Add(time.Millisecond)
	}
}

// Create persists body under a freshly generated id.
func (s *Store) Create(ctx context.Context, body string) (Note, error) {
	ctx, span := s.tracer.Start(ctx, "notes.create")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.newID(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Note{}, err
	}
	if err := s.kv.Set(ctx, id, body); err != nil {
		s.add(ctx, s.failures)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Note{}, fmt.Errorf("save note: %w", err)
	}
	s.lastID = id
	s.add(ctx, s.saved)
	span.SetAttributes(attribute.String("note.id", id), attribute.Int("note.length", len(body)))
	s.log.Debug("note saved", slog.String("id", id))
	return Note{ID: id, Body: body}, nil
}

func (s *Store) Get(ctx context.Context, id string) (Note, error) {
	body, err := s.kv.Get(ctx, id)
	if errors.Is(err, kv.ErrNotFound) {
		return Note{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Note{}, err
	}
	return Note{ID: id, Body: body}, nil
}

// ListAll returns every persisted note in substrate enumeration order.
// Entries removed between enumeration and read are skipped.
func (s *Store) ListAll(ctx context.Context) ([]Note, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	notes := make([]Note, 0, len(keys))
	for _, key := range keys {
		body, err := s.kv.Get(ctx, key)
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read note %s: %w", key, err)
		}
		notes = append(notes, Note{ID: key, Body: body})
	}
	return notes, nil
}

// Delete removes id. Deleting a missing id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "notes.delete", trace.WithAttributes(attribute.String("note.id", id)))
	defer span.End()

	if err := s.kv.Remove(ctx, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("delete note: %w", err)
	}
	s.add(ctx, s.deleted)
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Close stops reporting the note count. The backing kv store is owned by
// the caller and left open.
func (s *Store) Close() error {
	s.mu.Lock()
	reg := s.count
	s.count = nil
	s.mu.Unlock()
	if reg == nil {
		return nil
	}
	return reg.Unregister()
}

func (s *Store) add(ctx context.Context, c metric.Int64Counter) {
	if c != nil {
		c.Add(ctx, 1)
	}
}
