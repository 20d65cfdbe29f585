// Package include materializes entity rows together with nested related rows.
//
// The driver walks an include tree one depth at a time: it registers one
// loader lookup per (row, relation) for the current depth, flushes the
// loader once, attaches the results and descends into the attached rows.
package include

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"

	"relq/internal/loader"
	"relq/internal/logging"
	"relq/internal/query"
	"relq/internal/schema"
)

// ErrTooDeep indicates an include tree nested deeper than allowed.
var ErrTooDeep = errors.New("include tree too deep")

// Node configures one included relation. Where, OrderBy and Limit restrict
// the related rows of every parent row independently.
type Node struct {
	Where   query.Filter `json:"where,omitempty"`
	OrderBy []query.Sort `json:"orderBy,omitempty"`
	Limit   int          `json:"limit,omitempty"`
	Include Tree         `json:"include,omitempty"`
}

// Tree maps relation names to included nodes. A nil node includes the
// relation without restrictions.
type Tree map[string]*Node

// Depth returns the number of nested levels in t.
func (t Tree) Depth() int {
	depth := 0
	for _, node := range t {
		d := 1
		if node != nil {
			d += node.Include.Depth()
		}
		if d > depth {
			depth = d
		}
	}
	return depth
}

// Source reads root rows and supplies relation helpers.
type Source interface {
	Schema() *schema.Schema
	Find(ctx context.Context, entity string, opts query.FindOptions) ([]query.Row, error)
	RelationHelper(entity, relation string) (loader.RelationHelper, *schema.Relation, error)
}

// Driver runs finds with include trees.
type Driver struct {
	source     Source
	maxDepth   int
	loaderOpts []loader.Option
}

// NewDriver creates a Driver. maxDepth <= 0 disables the depth limit.
func NewDriver(source Source, maxDepth int, opts ...loader.Option) *Driver {
	return &Driver{source: source, maxDepth: maxDepth, loaderOpts: opts}
}

// level is the set of rows of one entity waiting for their includes.
type level struct {
	entity string
	rows   []query.Row
	tree   Tree
}

// pending is one registered lookup whose result is attached to row.
type pending struct {
	row      query.Row
	name     string
	kind     loader.RelationKind
	node     *Node
	relation *schema.Relation
	result   *loader.Deferred[[]query.Row]
}

// Find reads rows of entity matching opts and attaches the relations named in
// tree. A failing relation read fails the whole find.
func (d *Driver) Find(ctx context.Context, entity string, opts query.FindOptions, tree Tree) ([]query.Row, error) {
	if d.maxDepth > 0 && tree.Depth() > d.maxDepth {
		return nil, fmt.Errorf("%w: depth %d exceeds %d", ErrTooDeep, tree.Depth(), d.maxDepth)
	}
	if err := d.validate(entity, tree); err != nil {
		return nil, err
	}

	rows, err := d.source.Find(ctx, entity, opts)
	if err != nil {
		return nil, err
	}
	if len(tree) == 0 || len(rows) == 0 {
		return rows, nil
	}

	// One loader per traversal.
	l := loader.New(d.loaderOpts...)
	levels := []level{{entity: entity, rows: rows, tree: tree}}
	for depth := 1; len(levels) > 0; depth++ {
		next, err := d.resolveLevel(ctx, l, levels)
		if err != nil {
			return nil, err
		}
		logging.FromContext(ctx).Debug("include depth resolved",
			"entity", entity,
			"depth", depth,
			"next_levels", len(next),
		)
		levels = next
	}
	return rows, nil
}

func (d *Driver) resolveLevel(ctx context.Context, l *loader.RelationLoader, levels []level) ([]level, error) {
	var waiting []pending
	for _, lv := range levels {
		for _, name := range sortedNames(lv.tree) {
			helper, rel, err := d.source.RelationHelper(lv.entity, name)
			if err != nil {
				return nil, err
			}
			node := lv.tree[name]
			for _, row := range lv.rows {
				local := row[rel.LocalField]
				if local == nil {
					attach(row, name, rel.Kind, nil)
					continue
				}
				waiting = append(waiting, pending{
					row:      row,
					name:     name,
					kind:     rel.Kind,
					node:     node,
					relation: rel,
					result:   l.Load(ctx, helper, node.options(rel.ForeignField, local)),
				})
			}
		}
	}

	if err := l.ResolveAll(ctx); err != nil {
		logging.FromContext(ctx).Warn("include level had failed reads", "error", err)
	}

	children := make(map[*Node]*level)
	var order []*Node
	for _, p := range waiting {
		related, err := p.result.Wait(ctx)
		if err != nil {
			return nil, fmt.Errorf("include %s.%s: %w", p.relation.Source, p.name, err)
		}
		// Loader results are shared by every lookup with the same options,
		// across depths too; each parent gets rows of its own.
		related = detach(related)
		attach(p.row, p.name, p.kind, related)

		if p.node == nil || len(p.node.Include) == 0 || len(related) == 0 {
			continue
		}
		child, ok := children[p.node]
		if !ok {
			child = &level{entity: p.relation.Target, tree: p.node.Include}
			children[p.node] = child
			order = append(order, p.node)
		}
		if p.kind == loader.ToOne {
			child.rows = append(child.rows, related[0])
		} else {
			child.rows = append(child.rows, related...)
		}
	}

	next := make([]level, 0, len(order))
	for _, node := range order {
		next = append(next, *children[node])
	}
	return next, nil
}

// validate checks every relation name of tree before any read is issued.
func (d *Driver) validate(entity string, tree Tree) error {
	s := d.source.Schema()
	e, err := s.Entity(entity)
	if err != nil {
		return err
	}
	for name, node := range tree {
		rel, err := e.Relation(name)
		if err != nil {
			return err
		}
		if node == nil {
			continue
		}
		if node.Limit < 0 {
			return fmt.Errorf("include %s.%s: limit must not be negative", entity, name)
		}
		if err := d.validate(rel.Target, node.Include); err != nil {
			return err
		}
	}
	return nil
}

// options returns the find options of one lookup for a parent key value.
func (n *Node) options(field string, value interface{}) query.FindOptions {
	var opts query.FindOptions
	if n != nil {
		opts = query.FindOptions{Where: n.Where, OrderBy: n.OrderBy, Limit: n.Limit}
	}
	return opts.With(field, value)
}

// detach returns shallow copies of rows.
func detach(rows []query.Row) []query.Row {
	if rows == nil {
		return nil
	}
	out := make([]query.Row, len(rows))
	for i, row := range rows {
		out[i] = maps.Clone(row)
	}
	return out
}

func attach(row query.Row, name string, kind loader.RelationKind, related []query.Row) {
	if kind == loader.ToOne {
		if len(related) == 0 {
			row[name] = nil
			return
		}
		row[name] = related[0]
		return
	}
	if related == nil {
		related = []query.Row{}
	}
	row[name] = related
}

func sortedNames(tree Tree) []string {
	names := make([]string, 0, len(tree))
	for name := range tree {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
