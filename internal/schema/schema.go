// Package schema describes the entities served by relq and the relations
// between them.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"

	"relq/internal/loader"
)

var (
	ErrUnknownEntity   = errors.New("unknown entity")
	ErrUnknownRelation = errors.New("unknown relation")
	ErrUnknownField    = errors.New("unknown field")
)

// EntityConfig is the configuration of one entity.
type EntityConfig struct {
	Name       string           `mapstructure:"name"`
	Table      string           `mapstructure:"table"`
	PrimaryKey string           `mapstructure:"primary_key"`
	Columns    []string         `mapstructure:"columns"`
	Relations  []RelationConfig `mapstructure:"relations"`
}

// RelationConfig is the configuration of one relation of an entity.
type RelationConfig struct {
	Name         string `mapstructure:"name"`
	Kind         string `mapstructure:"kind"` // to_one, to_many
	Target       string `mapstructure:"target"`
	LocalField   string `mapstructure:"local_field"`
	ForeignField string `mapstructure:"foreign_field"`
}

// Schema is a validated set of entities.
type Schema struct {
	entities map[string]*Entity
	names    []string
}

// Entity is a readable table.
type Entity struct {
	Name       string
	Table      string
	PrimaryKey string
	Columns    []string

	columns   map[string]struct{}
	relations map[string]*Relation
}

// Relation links rows of Source to rows of Target where
// Target.ForeignField equals Source.LocalField.
type Relation struct {
	Name         string
	Source       string
	Target       string
	Kind         loader.RelationKind
	LocalField   string
	ForeignField string
}

// Metadata returns the loader identity of the relation. The foreign field is
// the batch field.
func (r *Relation) Metadata() loader.Metadata {
	return loader.Metadata{
		Entity: r.Target,
		Relation: loader.Relation{
			Name:       r.Name,
			Source:     r.Source,
			Kind:       r.Kind,
			BatchField: r.ForeignField,
		},
	}
}

// ParseRelationKind parses a configured relation kind.
func ParseRelationKind(s string) (loader.RelationKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "to_one", "one", "belongs_to", "has_one":
		return loader.ToOne, nil
	case "to_many", "many", "has_many":
		return loader.ToMany, nil
	default:
		return 0, fmt.Errorf("invalid relation kind %q (must be to_one or to_many)", s)
	}
}

// Build validates cfgs, fills relation defaults and returns the schema.
// All validation problems are reported together.
func Build(cfgs []EntityConfig) (*Schema, error) {
	s := &Schema{entities: make(map[string]*Entity, len(cfgs))}
	var errs []error

	for _, cfg := range cfgs {
		name := strings.TrimSpace(cfg.Name)
		if name == "" {
			errs = append(errs, errors.New("entity name is required"))
			continue
		}
		if _, dup := s.entities[name]; dup {
			errs = append(errs, fmt.Errorf("entity %s: defined more than once", name))
			continue
		}
		e := &Entity{
			Name:       name,
			Table:      cfg.Table,
			PrimaryKey: cfg.PrimaryKey,
			Columns:    append([]string(nil), cfg.Columns...),
			columns:    make(map[string]struct{}, len(cfg.Columns)),
			relations:  make(map[string]*Relation),
		}
		if e.Table == "" {
			e.Table = name
		}
		if e.PrimaryKey == "" {
			e.PrimaryKey = "id"
		}
		if len(e.Columns) == 0 {
			errs = append(errs, fmt.Errorf("entity %s: at least one column is required", name))
		}
		for _, col := range e.Columns {
			e.columns[col] = struct{}{}
		}
		if len(e.Columns) > 0 && !e.HasColumn(e.PrimaryKey) {
			errs = append(errs, fmt.Errorf("entity %s: primary key %s is not a column", name, e.PrimaryKey))
		}
		s.entities[name] = e
		s.names = append(s.names, name)
	}

	for _, cfg := range cfgs {
		source, ok := s.entities[strings.TrimSpace(cfg.Name)]
		if !ok {
			continue
		}
		for _, rc := range cfg.Relations {
			rel, err := s.buildRelation(source, rc)
			if err != nil {
				errs = append(errs, fmt.Errorf("entity %s: %w", source.Name, err))
				continue
			}
			if _, dup := source.relations[rel.Name]; dup {
				errs = append(errs, fmt.Errorf("entity %s: relation %s defined more than once", source.Name, rel.Name))
				continue
			}
			if source.HasColumn(rel.Name) {
				errs = append(errs, fmt.Errorf("entity %s: relation %s collides with a column", source.Name, rel.Name))
				continue
			}
			source.relations[rel.Name] = rel
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	sort.Strings(s.names)
	return s, nil
}

func (s *Schema) buildRelation(source *Entity, rc RelationConfig) (*Relation, error) {
	kind, err := ParseRelationKind(rc.Kind)
	if err != nil {
		return nil, err
	}
	target, ok := s.entities[rc.Target]
	if !ok {
		return nil, fmt.Errorf("relation %s: target %q: %w", rc.Name, rc.Target, ErrUnknownEntity)
	}

	rel := &Relation{
		Name:         rc.Name,
		Source:       source.Name,
		Target:       target.Name,
		Kind:         kind,
		LocalField:   rc.LocalField,
		ForeignField: rc.ForeignField,
	}
	switch kind {
	case loader.ToOne:
		if rel.Name == "" {
			rel.Name = inflection.Singular(target.Name)
		}
		if rel.ForeignField == "" {
			rel.ForeignField = target.PrimaryKey
		}
		if rel.LocalField == "" {
			rel.LocalField = rel.Name + "_id"
		}
	case loader.ToMany:
		if rel.Name == "" {
			rel.Name = inflection.Plural(target.Name)
		}
		if rel.LocalField == "" {
			rel.LocalField = source.PrimaryKey
		}
		if rel.ForeignField == "" {
			rel.ForeignField = inflection.Singular(source.Name) + "_id"
		}
	}

	if !source.HasColumn(rel.LocalField) {
		return nil, fmt.Errorf("relation %s: local field %s: %w", rel.Name, rel.LocalField, ErrUnknownField)
	}
	if !target.HasColumn(rel.ForeignField) {
		return nil, fmt.Errorf("relation %s: foreign field %s.%s: %w", rel.Name, target.Name, rel.ForeignField, ErrUnknownField)
	}
	return rel, nil
}

// Entity returns the entity called name.
func (s *Schema) Entity(name string) (*Entity, error) {
	e, ok := s.entities[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	return e, nil
}

// Entities returns every entity sorted by name.
func (s *Schema) Entities() []*Entity {
	out := make([]*Entity, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, s.entities[name])
	}
	return out
}

func (e *Entity) HasColumn(name string) bool {
	_, ok := e.columns[name]
	return ok
}

// Relation returns the relation called name.
func (e *Entity) Relation(name string) (*Relation, error) {
	r, ok := e.relations[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownRelation, e.Name, name)
	}
	return r, nil
}

// Relations returns the entity relations sorted by name.
func (e *Entity) Relations() []*Relation {
	out := make([]*Relation, 0, len(e.relations))
	for _, r := range e.relations {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
