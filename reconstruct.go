/*
Package fluentdynamo – multi-record entity reconstruction.

A logical entity may be stored as several physical records under one
partition key: a primary record plus one record per relationship child.
The Reconstructor groups a batch by partition key, classifies each
group's records against the shapes of the schema set, assembles one item
per group that yields a primary record, and surfaces the leftovers as
warnings. EntityRecords is the inverse: one item out to its full record
set.
*/
package fluentdynamo

import (
	"context"
)

// Warning kinds reported by reconstruction.
const (
	WarnOrphanedRecords  = "OrphanedRecords"
	WarnAmbiguousShape   = "AmbiguousShape"
	WarnMultiplePrimary  = "MultiplePrimaryRecords"
	WarnUnclaimedRecords = "UnclaimedRecords"
)

// Warning is a non-fatal observation made while reconstructing a batch.
type Warning struct {
	Kind    string
	Message string
	Context map[string]any
}

// ReconstructResult carries the assembled entities and any warnings.
// Entities preserve the partition-group discovery order of the input.
type ReconstructResult struct {
	Entities []Item
	Warnings []Warning
}

// Reconstructor assembles logical entities of one primary shape from raw
// record batches, and disassembles items back into record sets. It is
// stateless after construction and safe for concurrent use.
type Reconstructor struct {
	set      *SchemaSet
	primary  *Mapper
	children map[string]*Mapper
	log      Logger
}

// NewReconstructor binds a reconstructor to the named primary shape.
func NewReconstructor(set *SchemaSet, entity string, params *MapperParams) (*Reconstructor, error) {
	m, err := set.Model(entity)
	if err != nil {
		return nil, err
	}
	if params == nil {
		params = &MapperParams{}
	}
	r := &Reconstructor{
		set:      set,
		primary:  NewMapper(m, params),
		children: map[string]*Mapper{},
		log:      params.Logger,
	}
	if r.log == nil {
		r.log = defaultLogger{}
	}
	for _, rel := range m.relationships {
		if rel.target == nil {
			continue
		}
		if _, ok := r.children[rel.entity]; !ok {
			r.children[rel.entity] = NewMapper(rel.target, params)
		}
	}
	return r, nil
}

// Mapper returns the mapper for the primary shape.
func (r *Reconstructor) Mapper() *Mapper { return r.primary }

// Reconstruct assembles zero or more entities from a batch of raw records
// sharing intent to form logical entities. Child records keep their input
// order inside collection fields. Groups without a primary record produce
// a warning, not an entity.
func (r *Reconstructor) Reconstruct(ctx context.Context, records []Record) (*ReconstructResult, error) {
	m := r.primary.model
	if m.partition == nil {
		return nil, NewArgError("model " + m.name + " has no partition key")
	}

	res := &ReconstructResult{}
	groups := r.group(records, m.partition.attribute, res)

	for _, g := range groups {
		primaries, rest := r.classify(g, res)
		if len(primaries) == 0 {
			res.warn(WarnOrphanedRecords, "no primary record in partition group",
				map[string]any{"partition": g.key, "records": len(g.recs)})
			logInfo(r.log, "dropping orphaned child records", map[string]any{
				"entity": m.name, "partition": g.key, "records": len(g.recs),
			})
			continue
		}
		if len(primaries) > 1 {
			res.warn(WarnMultiplePrimary, "more than one primary record in partition group",
				map[string]any{"partition": g.key, "count": len(primaries)})
		}

		entity, err := r.primary.FromRecord(ctx, primaries[0])
		if err != nil {
			return nil, err
		}
		claimed, err := r.assemble(ctx, entity, rest)
		if err != nil {
			return nil, err
		}
		if unclaimed := len(rest) - claimed; unclaimed > 0 {
			res.warn(WarnUnclaimedRecords, "records matched no relationship",
				map[string]any{"partition": g.key, "count": unclaimed})
		}
		res.Entities = append(res.Entities, entity)
	}
	return res, nil
}

// EntityRecords disassembles one item into its primary record plus one
// record per relationship child. Scalar fields of the parent item are
// visible to child key templates, so children need only their own fields.
func (r *Reconstructor) EntityRecords(ctx context.Context, item Item) ([]Record, error) {
	m := r.primary.model

	primary, err := r.primary.ToRecord(ctx, item)
	if err != nil {
		return nil, err
	}
	out := []Record{primary}

	for _, rel := range m.relationships {
		child := r.children[rel.entity]
		if child == nil {
			continue
		}
		value, ok := item[rel.fieldName]
		if !ok || value == nil {
			continue
		}
		kids, err := relationshipItems(rel, value)
		if err != nil {
			return nil, err
		}
		for _, kid := range kids {
			rec, err := child.ToRecord(ctx, r.seedChild(item, kid))
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

// ─── internals ────────────────────────────────────────────────────────────────

type recordGroup struct {
	key  string
	recs []Record
}

// group partitions the batch by partition-key value, first-seen order.
func (r *Reconstructor) group(records []Record, partAttr string, res *ReconstructResult) []recordGroup {
	var groups []recordGroup
	index := map[string]int{}
	for _, rec := range records {
		pk, ok := recordString(rec, partAttr)
		if !ok {
			res.warn(WarnOrphanedRecords, "record missing partition key",
				map[string]any{"attribute": partAttr})
			continue
		}
		if i, seen := index[pk]; seen {
			groups[i].recs = append(groups[i].recs, rec)
		} else {
			index[pk] = len(groups)
			groups = append(groups, recordGroup{key: pk, recs: []Record{rec}})
		}
	}
	return groups
}

// classify splits one group into primary records and the rest, warning
// when a record matches more than one configured shape.
func (r *Reconstructor) classify(g recordGroup, res *ReconstructResult) (primaries, rest []Record) {
	m := r.primary.model
	for _, rec := range g.recs {
		if _, matched := r.set.Classify(rec); len(matched) > 1 {
			res.warn(WarnAmbiguousShape, "record matches more than one shape",
				map[string]any{"partition": g.key, "shapes": matched})
			logInfo(r.log, "ambiguous record shape", map[string]any{
				"partition": g.key, "shapes": matched,
			})
		}
		if m.Matches(rec) {
			primaries = append(primaries, rec)
		} else {
			rest = append(rest, rec)
		}
	}
	return primaries, rest
}

// assemble maps matched child records through their target shapes onto the
// entity's relationship fields. Zero matches leave a field absent. Returns
// how many records some relationship claimed.
func (r *Reconstructor) assemble(ctx context.Context, entity Item, rest []Record) (int, error) {
	m := r.primary.model
	if len(m.relationships) == 0 || m.sort == nil {
		return 0, nil
	}

	taken := make([]bool, len(rest))
	for _, rel := range m.relationships {
		child := r.children[rel.entity]
		if child == nil || rel.pattern == nil {
			continue
		}
		var kids []Item
		for i, rec := range rest {
			sk, ok := recordString(rec, m.sort.attribute)
			if !ok || !rel.pattern.matches(sk) {
				continue
			}
			kid, err := child.FromRecord(ctx, rec)
			if err != nil {
				return 0, err
			}
			kids = append(kids, kid)
			taken[i] = true
		}
		if len(kids) == 0 {
			continue
		}
		if rel.collection {
			entity[rel.fieldName] = kids
		} else {
			if len(kids) > 1 {
				logTrace(r.log, "singular relationship matched multiple records", map[string]any{
					"entity": m.name, "field": rel.fieldName, "count": len(kids),
				})
			}
			entity[rel.fieldName] = kids[0]
		}
	}

	claimed := 0
	for _, t := range taken {
		if t {
			claimed++
		}
	}
	return claimed, nil
}

// seedChild overlays a child item on the parent's scalar fields so child
// key templates can reference parent identifiers.
func (r *Reconstructor) seedChild(parent, kid Item) Item {
	m := r.primary.model
	out := make(Item, len(kid)+4)
	for _, f := range m.fieldList {
		if f.hidden || f.isDerived() {
			continue
		}
		if v, ok := parent[f.name]; ok {
			out[f.name] = v
		}
	}
	for k, v := range kid {
		out[k] = v
	}
	return out
}

// relationshipItems normalizes a relationship field value to a child list.
func relationshipItems(rel *relationship, value any) ([]Item, error) {
	if !rel.collection {
		kid, ok := itemOf(value)
		if !ok {
			return nil, NewMappingError(
				"relationship field "+rel.fieldName+" is not an item",
				WithCode(ErrValidation),
				WithContext(map[string]any{"field": rel.fieldName}))
		}
		return []Item{kid}, nil
	}
	switch vv := value.(type) {
	case []Item:
		return vv, nil
	case []any:
		kids := make([]Item, 0, len(vv))
		for _, v := range vv {
			kid, ok := itemOf(v)
			if !ok {
				return nil, NewMappingError(
					"relationship field "+rel.fieldName+" holds a non-item element",
					WithCode(ErrValidation),
					WithContext(map[string]any{"field": rel.fieldName}))
			}
			kids = append(kids, kid)
		}
		return kids, nil
	}
	return nil, NewMappingError(
		"relationship field "+rel.fieldName+" is not a collection",
		WithCode(ErrValidation),
		WithContext(map[string]any{"field": rel.fieldName}))
}

func itemOf(v any) (Item, bool) {
	kid, ok := v.(map[string]any)
	return kid, ok
}

func (res *ReconstructResult) warn(kind, msg string, ctx map[string]any) {
	res.Warnings = append(res.Warnings, Warning{Kind: kind, Message: msg, Context: ctx})
}
