/*
Package fluentdynamo – schema compilation (field parsing, ordering, validation).

CompileSchema turns a declarative SchemaDef into a SchemaSet of immutable
Models. All problems are collected into a Diagnostics batch; a batch with
error severity fails the build and no Model escapes.
*/
package fluentdynamo

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SchemaSet holds the compiled models of one schema document. The
// classification order of shapes is their lexical name order, which keeps
// first-match-wins deterministic across processes.
type SchemaSet struct {
	models   map[string]*Model
	order    []string
	indexes  map[string]*IndexDef
	warnings Diagnostics
}

// Model returns the compiled model for an entity shape.
func (s *SchemaSet) Model(name string) (*Model, error) {
	m, ok := s.models[name]
	if !ok {
		return nil, NewArgError(fmt.Sprintf("unknown entity %q", name), ErrNotFound)
	}
	return m, nil
}

// Names returns the entity shape names in classification order.
func (s *SchemaSet) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Warnings returns non-fatal diagnostics recorded during compilation.
func (s *SchemaSet) Warnings() Diagnostics { return s.warnings }

// Index returns a copy of a declared index definition, nil when unknown.
func (s *SchemaSet) Index(name string) *IndexDef {
	idx, ok := s.indexes[name]
	if !ok {
		return nil
	}
	out := *idx
	return &out
}

// CompileSchema compiles and validates a schema definition. On validation
// failure the returned error is a Diagnostics batch carrying every problem
// found, and no SchemaSet is returned.
func CompileSchema(def *SchemaDef) (*SchemaSet, error) {
	if def == nil {
		return nil, NewArgError("schema definition is required")
	}
	col := &collector{}

	indexes := def.Indexes
	if len(indexes) == 0 {
		col.errorf(DiagUnknownIndex, "", "", "schema declares no indexes")
	} else if indexes[primaryIndexName] == nil {
		col.errorf(DiagUnknownIndex, "", "", "schema declares no %q index", primaryIndexName)
	}
	if len(def.Entities) == 0 {
		col.errorf(DiagMissingPartitionKey, "", "", "schema declares no entities")
	}

	params := resolveParams(def.Params)

	set := &SchemaSet{models: map[string]*Model{}, indexes: map[string]*IndexDef{}}
	for name, idx := range indexes {
		if idx == nil {
			continue
		}
		c := *idx
		set.indexes[name] = &c
	}
	names := make([]string, 0, len(def.Entities))
	for name := range def.Entities {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		m := compileEntity(name, def.Entities[name], def, params, col)
		if m != nil {
			set.models[name] = m
			set.order = append(set.order, name)
		}
	}

	// resolve relationship targets across the set
	for _, name := range set.order {
		m := set.models[name]
		for _, rel := range m.relationships {
			target, ok := set.models[rel.entity]
			if !ok {
				col.errorf(DiagInvalidRelationship, name, rel.fieldName,
					"relationship targets unknown entity %q", rel.entity)
				continue
			}
			rel.target = target
		}
	}

	checkShapeConflicts(set, col)

	if col.list.HasErrors() {
		return nil, col.list
	}
	set.warnings = col.list
	return set, nil
}

// resolveParams applies defaults to optional schema params.
func resolveParams(p *SchemaParams) SchemaParams {
	out := SchemaParams{}
	if p != nil {
		out = *p
	}
	if out.Separator == "" {
		out.Separator = defaultSeparator
	}
	if out.TypeField == "" {
		out.TypeField = defaultTypeField
	}
	if out.CreatedField == "" {
		out.CreatedField = defaultCreatedField
	}
	if out.UpdatedField == "" {
		out.UpdatedField = defaultUpdatedField
	}
	return out
}

// compileEntity builds one Model. Problems go to the collector; the model is
// still assembled as far as possible so later checks can run against it.
func compileEntity(name string, ent *EntityDef, def *SchemaDef, params SchemaParams, col *collector) *Model {
	if ent == nil || len(ent.Fields) == 0 {
		col.errorf(DiagMissingPartitionKey, name, "", "entity declares no fields")
		return nil
	}

	m := &Model{
		name:         name,
		table:        firstOf(ent.Table, def.Name),
		fields:       map[string]*field{},
		byAttribute:  map[string]*field{},
		separator:    params.Separator,
		typeField:    params.TypeField,
		createdField: params.CreatedField,
		updatedField: params.UpdatedField,
		timestamps:   params.Timestamps,
		isoDates:     params.IsoDates,
		nulls:        params.Nulls,
	}

	fieldDefs := injectAmbientFields(ent.Fields, m)

	fieldNames := make([]string, 0, len(fieldDefs))
	for fn := range fieldDefs {
		fieldNames = append(fieldNames, fn)
	}
	sort.Strings(fieldNames)

	for _, fn := range fieldNames {
		f := compileField(name, fn, fieldDefs[fn], def, col)
		if f == nil {
			continue
		}
		m.fields[fn] = f
		m.fieldList = append(m.fieldList, f)
	}

	resolveKeyRoles(m, def, col)
	checkAttributes(m, col)
	orderDerivedFields(m, col)
	resolveExtractRules(m, col)
	compileRelationships(m, ent, col)
	compileDiscriminator(m, ent, col)

	for _, f := range m.fieldList {
		if f.required && !f.hidden && !f.isExtracted() {
			m.required = append(m.required, f)
		}
	}
	return m
}

// injectAmbientFields adds the type tag and timestamp fields when the schema
// params ask for them and the entity does not declare its own. A TypeField
// of "-" disables tag injection.
func injectAmbientFields(fields FieldMap, m *Model) FieldMap {
	out := FieldMap{}
	for k, v := range fields {
		out[k] = v
	}
	if m.typeField == "-" {
		m.typeField = ""
	}
	if _, ok := out[m.typeField]; !ok && m.typeField != "" {
		hidden := true
		out[m.typeField] = &FieldDef{Type: FieldTypeString, Hidden: &hidden, Required: true}
	}
	if m.timestamps {
		if _, ok := out[m.createdField]; !ok {
			out[m.createdField] = &FieldDef{Type: FieldTypeDate}
		}
		if _, ok := out[m.updatedField]; !ok {
			out[m.updatedField] = &FieldDef{Type: FieldTypeDate}
		}
	}
	return out
}

// compileField prepares a single field.
func compileField(entity, name string, def *FieldDef, schema *SchemaDef, col *collector) *field {
	if def == nil {
		def = &FieldDef{}
	}
	ft := def.Type
	if ft == "" {
		ft = FieldTypeString
	}
	ft = FieldType(strings.ToLower(string(ft)))
	if !validFieldTypes[ft] {
		col.errorf(DiagUnknownFieldType, entity, name, "unknown type %q", def.Type)
		return nil
	}

	f := &field{
		name:       name,
		def:        def,
		ftype:      ft,
		required:   def.Required,
		nullable:   def.Nullable,
		crypt:      def.Crypt,
		ttl:        def.TTL,
		format:     def.Format,
		enum:       def.Enum,
		generate:   def.Generate,
		collection: def.Collection,
	}

	f.attribute = def.Attribute
	if f.attribute == "" {
		f.attribute = name
	}

	switch def.Collection {
	case "", CollectionList, CollectionSet:
	default:
		col.errorf(DiagUnknownFieldType, entity, name, "unknown collection kind %q", def.Collection)
		f.collection = ""
	}
	if f.collection == CollectionSet {
		switch ft {
		case FieldTypeString, FieldTypeNumber, FieldTypeBinary, FieldTypeEnum:
		default:
			col.errorf(DiagUnknownFieldType, entity, name, "sets of %q are not supported", ft)
			f.collection = CollectionList
		}
	}

	if def.TimeZone != "" {
		loc, err := time.LoadLocation(def.TimeZone)
		if err != nil {
			col.errorf(DiagInvalidTimeZone, entity, name, "unknown timezone %q", def.TimeZone)
		} else {
			f.location = loc
		}
	}

	if ft == FieldTypeEnum && len(def.Enum) == 0 {
		col.errorf(DiagUnknownFieldType, entity, name, "enum field declares no values")
	}

	if def.Generate != "" && !validGenerate(def.Generate) {
		col.errorf(DiagInvalidGenerate, entity, name, "unknown generate kind %q", def.Generate)
	}

	if def.Derived != nil && def.Extracted != nil {
		col.errorf(DiagConflictingFieldRoles, entity, name,
			"field cannot be both derived and extracted")
	}

	if def.Derived != nil {
		tpl, err := derivedTemplate(def.Derived)
		if err != nil {
			col.errorf(DiagInvalidTemplate, entity, name, "%s", err.Error())
		} else {
			f.template = tpl
		}
		if def.Hidden == nil {
			f.hidden = true // computed keys stay off the domain object by default
		}
	}
	if def.Hidden != nil {
		f.hidden = *def.Hidden
	}

	if def.Extracted != nil {
		sep := def.Extracted.Separator
		if sep == "" {
			sep = defaultSchemaSeparator(schema)
		}
		if def.Extracted.Index < 0 {
			col.errorf(DiagInvalidExtractedKeySource, entity, name,
				"extracted index %d is negative", def.Extracted.Index)
		}
		f.extract = &extractRule{
			source:    def.Extracted.Source,
			index:     def.Extracted.Index,
			separator: sep,
		}
	}
	return f
}

func defaultSchemaSeparator(schema *SchemaDef) string {
	if schema != nil && schema.Params != nil && schema.Params.Separator != "" {
		return schema.Params.Separator
	}
	return defaultSeparator
}

// derivedTemplate parses a DerivedDef into a keyTemplate. The Sources form
// is rewritten to the template form first.
func derivedTemplate(d *DerivedDef) (*keyTemplate, error) {
	raw := d.Template
	if raw == "" {
		if len(d.Sources) == 0 {
			return nil, fmt.Errorf("derived rule declares neither template nor sources")
		}
		sep := d.Separator
		if sep == "" {
			sep = defaultSeparator
		}
		parts := make([]string, len(d.Sources))
		for i, s := range d.Sources {
			parts[i] = "${" + s + "}"
		}
		raw = strings.Join(parts, sep)
	}
	return parseTemplate(raw)
}

var templateVarRe = regexp.MustCompile(`\$\{(.*?)\}`)

// parseTemplate splits a template into literal and variable segments.
// "${var}" references a field; "${var:len}" and "${var:len:pad}" left-pad.
func parseTemplate(raw string) (*keyTemplate, error) {
	tpl := &keyTemplate{raw: raw}
	last := 0
	for _, loc := range templateVarRe.FindAllStringSubmatchIndex(raw, -1) {
		if loc[0] > last {
			tpl.segments = append(tpl.segments, templateSegment{literal: raw[last:loc[0]]})
		}
		inner := raw[loc[2]:loc[3]]
		if inner == "" {
			return nil, fmt.Errorf("template %q has an empty variable", raw)
		}
		parts := strings.SplitN(inner, ":", 3)
		seg := templateSegment{varName: parts[0], padChar: "0"}
		if seg.varName == "" {
			return nil, fmt.Errorf("template %q has an empty variable", raw)
		}
		if len(parts) >= 2 {
			n, err := strconv.Atoi(parts[1])
			if err != nil {
				return nil, fmt.Errorf("template %q has a bad pad width %q", raw, parts[1])
			}
			seg.padLen = n
		}
		if len(parts) == 3 && parts[2] != "" {
			seg.padChar = parts[2]
		}
		tpl.segments = append(tpl.segments, seg)
		tpl.vars = append(tpl.vars, seg.varName)
		last = loc[1]
	}
	if last < len(raw) {
		tpl.segments = append(tpl.segments, templateSegment{literal: raw[last:]})
	}
	if raw == "" {
		return nil, fmt.Errorf("template is empty")
	}
	return tpl, nil
}

// validGenerate reports whether a generate kind is one of the known ID kinds.
func validGenerate(gen string) bool {
	switch gen {
	case "uuid", "ulid", "uid", "tuid":
		return true
	}
	return regexp.MustCompile(`^uid\(\d+\)$`).MatchString(gen)
}

// resolveKeyRoles assigns key roles from explicit declarations first, then
// by attribute name against the declared indexes. Afterwards the primary
// key cardinality rules are enforced.
func resolveKeyRoles(m *Model, def *SchemaDef, col *collector) {
	indexProps := indexProperties(def.Indexes)

	for _, f := range m.fieldList {
		idx := f.def.Index
		if idx == "" {
			idx = primaryIndexName
		}
		switch f.def.Key {
		case KeyRoleNone:
			// fall back to attribute-name membership
			if owner, ok := indexProps[f.attribute]; ok {
				f.index = owner
				if def.Indexes[owner].Hash == f.attribute {
					f.role = partitionRoleFor(owner)
				} else {
					f.role = sortRoleFor(owner)
				}
			}
		case KeyRolePartition:
			if def.Indexes[idx] == nil {
				col.errorf(DiagUnknownIndex, m.name, f.name, "field names unknown index %q", idx)
				continue
			}
			f.index = idx
			f.role = partitionRoleFor(idx)
		case KeyRoleSort:
			if def.Indexes[idx] == nil {
				col.errorf(DiagUnknownIndex, m.name, f.name, "field names unknown index %q", idx)
				continue
			}
			f.index = idx
			f.role = sortRoleFor(idx)
		case KeyRoleGSIPartition, KeyRoleGSISort:
			if def.Indexes[idx] == nil {
				col.errorf(DiagUnknownIndex, m.name, f.name, "field names unknown index %q", idx)
				continue
			}
			if idx == primaryIndexName {
				col.errorf(DiagConflictingFieldRoles, m.name, f.name, "role %q needs a secondary index", f.def.Key)
				continue
			}
			f.index = idx
			f.role = f.def.Key
		default:
			col.errorf(DiagConflictingFieldRoles, m.name, f.name, "unknown key role %q", f.def.Key)
		}
	}

	var partitions, sorts []*field
	for _, f := range m.fieldList {
		switch f.role {
		case KeyRolePartition:
			partitions = append(partitions, f)
			f.required = true
		case KeyRoleSort:
			sorts = append(sorts, f)
		}
	}
	switch len(partitions) {
	case 0:
		col.errorf(DiagMissingPartitionKey, m.name, "", "entity has no partition key field")
	case 1:
		m.partition = partitions[0]
	default:
		names := fieldNames(partitions)
		col.errorf(DiagMultiplePartitionKeys, m.name, strings.Join(names, ","),
			"entity has %d partition key fields", len(partitions))
		m.partition = partitions[0]
	}
	switch len(sorts) {
	case 0:
	case 1:
		m.sort = sorts[0]
		m.sort.required = true
	default:
		names := fieldNames(sorts)
		col.errorf(DiagMultipleSortKeys, m.name, strings.Join(names, ","),
			"entity has %d sort key fields", len(sorts))
		m.sort = sorts[0]
		m.sort.required = true
	}
}

func partitionRoleFor(index string) KeyRole {
	if index == primaryIndexName {
		return KeyRolePartition
	}
	return KeyRoleGSIPartition
}

func sortRoleFor(index string) KeyRole {
	if index == primaryIndexName {
		return KeyRoleSort
	}
	return KeyRoleGSISort
}

// indexProperties maps attribute name → index name for all indexes.
// Primary wins when an attribute appears in several.
func indexProperties(indexes map[string]*IndexDef) map[string]string {
	props := map[string]string{}
	names := make([]string, 0, len(indexes))
	for n := range indexes {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, idxName := range names {
		idx := indexes[idxName]
		for _, attr := range []string{idx.Hash, idx.Sort} {
			if attr == "" {
				continue
			}
			if props[attr] != primaryIndexName {
				props[attr] = idxName
			}
		}
	}
	return props
}

// checkAttributes rejects two fields mapping onto one stored attribute.
func checkAttributes(m *Model, col *collector) {
	for _, f := range m.fieldList {
		if f.isExtracted() {
			continue // extracted fields are never stored
		}
		if prev, ok := m.byAttribute[f.attribute]; ok {
			col.errorf(DiagDuplicateAttribute, m.name, f.name,
				"attribute %q already mapped by field %q", f.attribute, prev.name)
			continue
		}
		m.byAttribute[f.attribute] = f
	}
}

// orderDerivedFields validates derived template sources and produces the
// topological evaluation order. Cycles are found with a depth-first walk
// over the derived-from edges; each cycle is reported once and its members
// are dropped from the order, so unrelated fields still get checked.
func orderDerivedFields(m *Model, col *collector) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var order []*field
	var stack []string

	var visit func(f *field) bool
	visit = func(f *field) bool {
		color[f.name] = gray
		stack = append(stack, f.name)
		ok := true
		for _, v := range f.template.vars {
			src, found := m.fields[v]
			if !found {
				col.errorf(DiagInvalidDerivedKeySource, m.name, f.name,
					"derived template references unknown field %q", v)
				continue
			}
			if !src.isDerived() {
				continue
			}
			switch color[src.name] {
			case white:
				if !visit(src) {
					ok = false
				}
			case gray:
				cycle := append(append([]string{}, stack...), src.name)
				col.errorf(DiagCircularKeyDependency, m.name, f.name,
					"derived key cycle: %s", strings.Join(cycle, " -> "))
				ok = false
			}
		}
		stack = stack[:len(stack)-1]
		color[f.name] = black
		if ok {
			order = append(order, f)
		}
		return ok
	}

	for _, f := range m.fieldList {
		if f.isDerived() && color[f.name] == white {
			stack = stack[:0]
			visit(f)
		}
	}
	m.derivedOrder = order
}

// resolveExtractRules links extracted fields to their stored sources.
func resolveExtractRules(m *Model, col *collector) {
	for _, f := range m.fieldList {
		if !f.isExtracted() {
			continue
		}
		if f.role != KeyRoleNone {
			col.errorf(DiagConflictingFieldRoles, m.name, f.name,
				"key fields are stored and cannot be extracted")
			continue
		}
		src, ok := m.fields[f.extract.source]
		if !ok {
			col.errorf(DiagInvalidExtractedKeySource, m.name, f.name,
				"extracted source %q not found", f.extract.source)
			continue
		}
		if src == f {
			col.errorf(DiagInvalidExtractedKeySource, m.name, f.name,
				"field extracts from itself")
			continue
		}
		if src.isExtracted() {
			col.errorf(DiagInvalidExtractedKeySource, m.name, f.name,
				"extracted source %q is itself extracted and never stored", src.name)
			continue
		}
		f.extract.src = src
		m.extracted = append(m.extracted, f)
	}
}

// compileRelationships parses relationship patterns.
func compileRelationships(m *Model, ent *EntityDef, col *collector) {
	for i := range ent.Relationships {
		rd := &ent.Relationships[i]
		if rd.Field == "" || rd.Entity == "" {
			col.errorf(DiagInvalidRelationship, m.name, rd.Field,
				"relationship needs both field and entity")
			continue
		}
		if rd.Pattern == "" {
			col.errorf(DiagInvalidRelationship, m.name, rd.Field,
				"relationship declares no sort-key pattern")
			continue
		}
		pat, err := parseKeyPattern(rd.Pattern)
		if err != nil {
			col.errorf(DiagInvalidPattern, m.name, rd.Field, "%s", err.Error())
			continue
		}
		if m.sort == nil {
			col.errorf(DiagInvalidRelationship, m.name, rd.Field,
				"relationships need a sort key on the parent entity")
			continue
		}
		if _, shadowed := m.fields[rd.Field]; shadowed {
			col.warnf(DiagInvalidRelationship, m.name, rd.Field,
				"relationship field shadows a declared field of the same name")
		}
		m.relationships = append(m.relationships, &relationship{
			fieldName:  rd.Field,
			entity:     rd.Entity,
			pattern:    pat,
			collection: rd.Collection,
		})
	}
}

// compileDiscriminator resolves the three-rule discrimination config for a
// shape: explicit tag attribute, sort-key pattern, attribute presence.
// "-" opts a shape (or the whole schema, via TypeField) out of the tag rule.
func compileDiscriminator(m *Model, ent *EntityDef, col *collector) {
	d := discriminator{}
	if ent.Discriminator != nil {
		d.explicit = true
		d.attribute = firstOf(ent.Discriminator.Attribute, m.typeField)
		d.value = firstOf(ent.Discriminator.Value, m.name)
	} else if m.typeField != "" {
		d.attribute = m.typeField
		d.value = m.name
	}
	if d.attribute == "-" {
		d = discriminator{}
	}

	if ent.SortKeyPattern != "" {
		pat, err := parseKeyPattern(ent.SortKeyPattern)
		if err != nil {
			col.errorf(DiagInvalidPattern, m.name, "", "%s", err.Error())
		} else {
			d.pattern = pat
		}
	} else if m.sort != nil && m.sort.isDerived() {
		d.pattern = patternFromTemplate(m.sort.template)
	}
	m.disc = d
}

// checkShapeConflicts flags pairs of shapes in one table whose discrimination
// rules cannot tell their records apart.
func checkShapeConflicts(set *SchemaSet, col *collector) {
	for i := 0; i < len(set.order); i++ {
		for j := i + 1; j < len(set.order); j++ {
			a, b := set.models[set.order[i]], set.models[set.order[j]]
			if a.table != b.table {
				continue
			}
			if !distinguishable(a, b) {
				col.errorf(DiagConflictingEntityShapes, a.name, "",
					"shapes %q and %q in table %q cannot be discriminated",
					a.name, b.name, a.table)
			}
		}
	}
}

// distinguishable applies the same precedence the runtime discriminator
// uses: tag attributes first, then sort-key patterns, then the required
// attribute sets.
func distinguishable(a, b *Model) bool {
	if a.disc.attribute != "" && b.disc.attribute != "" {
		if a.disc.attribute != b.disc.attribute {
			return true
		}
		return a.disc.value != b.disc.value
	}
	if a.disc.pattern != nil && b.disc.pattern != nil {
		return a.disc.pattern.raw != b.disc.pattern.raw
	}
	if a.disc.attribute != "" || b.disc.attribute != "" {
		return true
	}
	if a.disc.pattern != nil || b.disc.pattern != nil {
		return true
	}
	return !sameAttributeSet(a.required, b.required)
}

func sameAttributeSet(a, b []*field) bool {
	if len(a) != len(b) {
		return false
	}
	names := map[string]bool{}
	for _, f := range a {
		names[f.attribute] = true
	}
	for _, f := range b {
		if !names[f.attribute] {
			return false
		}
	}
	return true
}

func fieldNames(fs []*field) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.name
	}
	return out
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
