package loader

import (
	"context"

	"relq/internal/observability"
	"relq/internal/query"
)

// queryVariation groups pending batches sharing one shape and memoizes
// requests that cannot be batched.
type queryVariation struct {
	entity          *entityLoader
	shape           query.FindOptions
	batches         map[string]*pendingBatch
	order           []*pendingBatch
	whereVariations map[string]*Deferred[[]query.Row]
}

func newQueryVariation(entity *entityLoader, shape query.FindOptions) *queryVariation {
	return &queryVariation{
		entity:          entity,
		shape:           shape.Clone(),
		batches:         make(map[string]*pendingBatch),
		whereVariations: make(map[string]*Deferred[[]query.Row]),
	}
}

func (v *queryVariation) find(ctx context.Context, opts query.FindOptions, value interface{}, batchable bool) *Deferred[[]query.Row] {
	root := v.entity.root
	if batchable {
		if valueKey, err := query.ValueKey(value); err == nil {
			field := v.entity.meta.Relation.BatchField
			batch, ok := v.batches[field]
			if !ok {
				batch = newPendingBatch(v.entity, v.shape, field)
				v.batches[field] = batch
				v.order = append(v.order, batch)
			}
			d, dup := batch.register(valueKey, value)
			if dup {
				root.metrics(ctx).RecordDedupHit(ctx, v.entity.meta.Entity)
			}
			return d
		}
	}

	fullKey, err := query.ShapeKey(opts)
	if err != nil {
		return root.startRead(ctx, v.entity.helper, v.entity.meta, opts.Clone(), observability.ReadModeUncached)
	}
	if d, ok := v.whereVariations[fullKey]; ok {
		root.metrics(ctx).RecordWhereVariationHit(ctx, v.entity.meta.Entity)
		return d
	}
	d := root.startRead(ctx, v.entity.helper, v.entity.meta, opts.Clone(), observability.ReadModeUnbatched)
	v.whereVariations[fullKey] = d
	return d
}

func (v *queryVariation) take(maxInClause int) []*batchRead {
	var reads []*batchRead
	for _, b := range v.order {
		reads = append(reads, b.take(maxInClause)...)
	}
	return reads
}
