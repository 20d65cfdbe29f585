package loader

import (
	"context"
	"sync/atomic"

	"relq/internal/observability"
	"relq/internal/query"
)

type batchState int32

const (
	stateCollectingNotStarted batchState = iota
	stateCollecting
	stateResolving
	stateSettled
)

func (s batchState) String() string {
	switch s {
	case stateCollectingNotStarted:
		return "collecting_not_started"
	case stateCollecting:
		return "collecting"
	case stateResolving:
		return "resolving"
	case stateSettled:
		return "settled"
	default:
		return "unknown"
	}
}

type pendingValue struct {
	key    string
	value  interface{}
	result *Deferred[[]query.Row]
}

// wave is one registration-then-resolve cycle of a pending batch.
type wave struct {
	state     atomic.Int32
	values    map[string]*pendingValue
	order     []*pendingValue
	remaining atomic.Int32
}

func (w *wave) getState() batchState {
	return batchState(w.state.Load())
}

// pendingBatch collects distinct values of one batch field for one shape.
type pendingBatch struct {
	entity  *entityLoader
	shape   query.FindOptions
	field   string
	current *wave
}

func newPendingBatch(entity *entityLoader, shape query.FindOptions, field string) *pendingBatch {
	b := &pendingBatch{entity: entity, shape: shape, field: field}
	b.current = &wave{values: make(map[string]*pendingValue)}
	return b
}

// register adds value to the collecting wave. The boolean reports whether the
// value was already pending in this wave.
func (b *pendingBatch) register(key string, value interface{}) (*Deferred[[]query.Row], bool) {
	w := b.current
	if existing, ok := w.values[key]; ok {
		return existing.result, true
	}
	pv := &pendingValue{key: key, value: value, result: newDeferred[[]query.Row]()}
	w.values[key] = pv
	w.order = append(w.order, pv)
	w.state.Store(int32(stateCollecting))
	return pv.result, false
}

// take moves a collecting wave to resolving and splits it into reads of at
// most maxInClause values. An empty wave yields nothing.
func (b *pendingBatch) take(maxInClause int) []*batchRead {
	w := b.current
	if len(w.order) == 0 {
		return nil
	}
	w.state.Store(int32(stateResolving))
	b.current = &wave{values: make(map[string]*pendingValue)}

	chunks := chunkValues(w.order, maxInClause)
	w.remaining.Store(int32(len(chunks)))
	reads := make([]*batchRead, 0, len(chunks))
	for _, chunk := range chunks {
		reads = append(reads, &batchRead{batch: b, wave: w, values: chunk})
	}
	return reads
}

func chunkValues(values []*pendingValue, size int) [][]*pendingValue {
	if size <= 0 || len(values) <= size {
		return [][]*pendingValue{values}
	}
	chunks := make([][]*pendingValue, 0, (len(values)+size-1)/size)
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[start:end])
	}
	return chunks
}

// batchRead is one combined read covering a chunk of a wave.
type batchRead struct {
	batch  *pendingBatch
	wave   *wave
	values []*pendingValue
}

func (br *batchRead) options() query.FindOptions {
	b := br.batch
	var opts query.FindOptions
	if len(br.values) == 1 {
		opts = b.shape.With(b.field, br.values[0].value)
	} else {
		in := make([]interface{}, len(br.values))
		for i, pv := range br.values {
			in[i] = pv.value
		}
		opts = b.shape.With(b.field, in)
	}
	if b.entity.meta.Relation.Kind == ToOne {
		// Pagination applies per value and is done after partitioning.
		opts.Limit = 0
		opts.Page = 0
	}
	return opts
}

// run issues the read and settles every value of the chunk.
func (br *batchRead) run(ctx context.Context, r *RelationLoader) error {
	defer func() {
		if br.wave.remaining.Add(-1) == 0 {
			br.wave.state.Store(int32(stateSettled))
		}
	}()

	b := br.batch
	if err := ctx.Err(); err != nil {
		br.rejectAll(err)
		return err
	}
	rows, err := r.read(ctx, b.entity.helper, b.entity.meta, br.options(), observability.ReadModeBatched, len(br.values))
	if err != nil {
		br.rejectAll(err)
		return err
	}

	groups := make(map[string][]query.Row, len(br.values))
	for _, row := range rows {
		key, kerr := query.ValueKey(row[b.field])
		if kerr != nil {
			continue
		}
		groups[key] = append(groups[key], row)
	}

	toOne := b.entity.meta.Relation.Kind == ToOne
	for _, pv := range br.values {
		matched := groups[pv.key]
		if toOne {
			matched = window(matched, b.shape)
		}
		if matched == nil {
			matched = []query.Row{}
		}
		pv.result.resolve(matched)
	}
	return nil
}

func (br *batchRead) rejectAll(err error) {
	for _, pv := range br.values {
		pv.result.reject(err)
	}
}

// window applies the limit and page of opts to the rows of one value.
func window(rows []query.Row, opts query.FindOptions) []query.Row {
	if opts.Limit <= 0 {
		return rows
	}
	offset := opts.Offset()
	if offset >= len(rows) {
		return []query.Row{}
	}
	end := offset + opts.Limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end]
}
