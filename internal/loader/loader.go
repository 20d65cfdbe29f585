// Package loader coalesces relation lookups issued while walking an include
// tree into a small number of combined reads.
//
// A RelationLoader lives for one traversal. Callers register lookups with Load,
// which never performs I/O for batchable requests, and then call ResolveAll at
// each depth boundary. ResolveAll issues one read per (relation, shape, batch
// field) covering every value registered since the previous flush, and
// partitions the rows back to the individual results.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"relq/internal/logging"
	"relq/internal/observability"
	"relq/internal/query"
)

const (
	// DefaultMaxInClause bounds the number of values placed in one IN list.
	DefaultMaxInClause        = 1000
	DefaultMaxConcurrentReads = 4
)

var ErrNilHelper = errors.New("relation helper is nil")

// RelationKind is the cardinality of a relation.
type RelationKind int

const (
	ToOne RelationKind = iota + 1
	ToMany
)

func (k RelationKind) String() string {
	switch k {
	case ToOne:
		return "to_one"
	case ToMany:
		return "to_many"
	default:
		return fmt.Sprintf("RelationKind(%d)", int(k))
	}
}

// Relation describes the relation being resolved from the source entity.
type Relation struct {
	Name       string
	Source     string
	Kind       RelationKind
	BatchField string // field of the target entity merged into IN lists
}

// Metadata identifies a related entity reached through one relation.
type Metadata struct {
	Entity   string
	Relation Relation
}

// Key returns the relation identity.
func (m Metadata) Key() string {
	return m.Entity + "#" + m.Relation.Source + "." + m.Relation.Name
}

// RelationHelper reads rows of the related entity.
type RelationHelper interface {
	Metadata() Metadata
	Find(ctx context.Context, opts query.FindOptions) ([]query.Row, error)
}

type settings struct {
	maxInClause        int
	maxConcurrentReads int
	metrics            *observability.LoaderMetrics
}

// Option configures a RelationLoader.
type Option func(*settings)

// WithMaxInClause sets the maximum number of values per combined read.
func WithMaxInClause(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxInClause = n
		}
	}
}

// WithMaxConcurrentReads bounds the reads running at the same time.
func WithMaxConcurrentReads(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxConcurrentReads = n
		}
	}
}

// WithMetrics records loader metrics. When unset, metrics are looked up on
// the context passed to Load and ResolveAll.
func WithMetrics(m *observability.LoaderMetrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// RelationLoader is the request scoped registry of entity loaders.
// It must not be shared between traversals.
type RelationLoader struct {
	settings settings
	sem      *semaphore.Weighted

	mu        sync.Mutex
	entities  map[string]*entityLoader
	order     []*entityLoader
	unbatched []*Deferred[[]query.Row]
}

// New creates an empty RelationLoader.
func New(opts ...Option) *RelationLoader {
	s := settings{
		maxInClause:        DefaultMaxInClause,
		maxConcurrentReads: DefaultMaxConcurrentReads,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &RelationLoader{
		settings: s,
		sem:      semaphore.NewWeighted(int64(s.maxConcurrentReads)),
		entities: make(map[string]*entityLoader),
	}
}

// Load registers a lookup of related rows. Batchable lookups stay pending
// until the next ResolveAll; other lookups start reading immediately.
// The returned result always settles.
func (r *RelationLoader) Load(ctx context.Context, helper RelationHelper, opts query.FindOptions) *Deferred[[]query.Row] {
	if helper == nil {
		return rejected[[]query.Row](ErrNilHelper)
	}
	meta := helper.Metadata()
	key := meta.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	el, ok := r.entities[key]
	if !ok {
		el = newEntityLoader(r, helper, meta)
		r.entities[key] = el
		r.order = append(r.order, el)
	}
	return el.find(ctx, opts)
}

// ResolveAll flushes every registration made since the previous call and
// waits for the resulting reads, including unbatched reads started by Load in
// the meantime. The returned error joins the read failures of this flush;
// each result still carries its own outcome.
func (r *RelationLoader) ResolveAll(ctx context.Context) error {
	r.mu.Lock()
	var reads []*batchRead
	for _, el := range r.order {
		reads = append(reads, el.take(r.settings.maxInClause)...)
	}
	unbatched := r.unbatched
	r.unbatched = nil
	r.mu.Unlock()

	if len(reads) == 0 && len(unbatched) == 0 {
		return nil
	}

	logger := logging.FromContext(ctx)
	start := time.Now()

	var (
		errMu sync.Mutex
		errs  []error
	)
	g := new(errgroup.Group)
	g.SetLimit(r.settings.maxConcurrentReads)
	for _, read := range reads {
		g.Go(func() error {
			if err := read.run(ctx, r); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, d := range unbatched {
		if _, err := d.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	r.metrics(ctx).RecordFlush(ctx, len(reads)+len(unbatched))
	logger.Debug("relation loader flushed",
		"batched_reads", len(reads),
		"unbatched_reads", len(unbatched),
		"errors", len(errs),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return errors.Join(errs...)
}

func (r *RelationLoader) metrics(ctx context.Context) *observability.LoaderMetrics {
	if r.settings.metrics != nil {
		return r.settings.metrics
	}
	return observability.LoaderMetricsFromContext(ctx)
}

// startRead issues an immediate read outside of any batch. Callers hold r.mu.
func (r *RelationLoader) startRead(ctx context.Context, helper RelationHelper, meta Metadata, opts query.FindOptions, mode string) *Deferred[[]query.Row] {
	d := newDeferred[[]query.Row]()
	r.unbatched = append(r.unbatched, d)
	go func() {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			d.reject(err)
			return
		}
		defer r.sem.Release(1)
		rows, err := r.read(ctx, helper, meta, opts, mode, 1)
		if rows == nil && err == nil {
			rows = []query.Row{}
		}
		d.settle(rows, err)
	}()
	return d
}

// read runs one call of the read primitive with tracing, metrics and logging.
func (r *RelationLoader) read(ctx context.Context, helper RelationHelper, meta Metadata, opts query.FindOptions, mode string, values int) ([]query.Row, error) {
	spanCtx, span := startReadSpan(ctx, meta, mode, values)
	start := time.Now()
	rows, err := helper.Find(spanCtx, opts)
	finishReadSpan(span, len(rows), err)
	r.metrics(ctx).RecordRead(ctx, meta.Entity, mode, values, len(rows), time.Since(start), err)
	if err != nil {
		logging.FromContext(ctx).Warn("relation read failed",
			"entity", meta.Entity,
			"relation", meta.Relation.Name,
			"mode", mode,
			"values", values,
			"error", err,
		)
		return nil, err
	}
	return rows, nil
}
