package loader

import (
	"context"

	"relq/internal/observability"
	"relq/internal/query"
)

// entityLoader owns the query variations of one relation identity.
type entityLoader struct {
	root       *RelationLoader
	helper     RelationHelper
	meta       Metadata
	variations map[string]*queryVariation
	order      []*queryVariation
}

func newEntityLoader(root *RelationLoader, helper RelationHelper, meta Metadata) *entityLoader {
	return &entityLoader{
		root:       root,
		helper:     helper,
		meta:       meta,
		variations: make(map[string]*queryVariation),
	}
}

func (e *entityLoader) find(ctx context.Context, opts query.FindOptions) *Deferred[[]query.Row] {
	field := e.meta.Relation.BatchField
	value, hasValue := opts.Where[field]
	batchable := field != "" && hasValue && query.IsSingleValue(value) &&
		!(e.meta.Relation.Kind == ToMany && opts.Paginated())

	shape := opts
	if hasValue {
		shape = opts.Without(field)
	}
	shapeKey, err := query.ShapeKey(shape)
	if err != nil {
		return e.root.startRead(ctx, e.helper, e.meta, opts.Clone(), observability.ReadModeUncached)
	}

	variation, ok := e.variations[shapeKey]
	if !ok {
		variation = newQueryVariation(e, shape)
		e.variations[shapeKey] = variation
		e.order = append(e.order, variation)
	}
	return variation.find(ctx, opts, value, batchable)
}

// take detaches the collecting waves of every variation as reads.
func (e *entityLoader) take(maxInClause int) []*batchRead {
	var reads []*batchRead
	for _, v := range e.order {
		reads = append(reads, v.take(maxInClause)...)
	}
	return reads
}
