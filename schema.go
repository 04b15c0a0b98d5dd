/*
Package fluentdynamo – declarative schema types.

An entity shape is declared as data: fields with stored names, scalar types
and key roles, derived-key templates, extracted components, relationships
and a discriminator. Definitions compile once into an immutable Model.
*/
package fluentdynamo

import "time"

// FieldType names the supported scalar types.
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeNumber  FieldType = "number"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeBinary  FieldType = "binary"
	FieldTypeDate    FieldType = "date"
	FieldTypeEnum    FieldType = "enum"
	FieldTypeObject  FieldType = "object"
)

var validFieldTypes = map[FieldType]bool{
	FieldTypeString: true, FieldTypeNumber: true, FieldTypeBoolean: true,
	FieldTypeBinary: true, FieldTypeDate: true, FieldTypeEnum: true,
	FieldTypeObject: true,
}

// Collection kinds. A field is scalar unless marked "list" or "set".
// Sets store as the native SS/NS/BS variants; lists store as L.
const (
	CollectionList = "list"
	CollectionSet  = "set"
)

// KeyRole marks a field's part in a key, resolved against its index.
type KeyRole string

const (
	KeyRoleNone         KeyRole = ""
	KeyRolePartition    KeyRole = "partition"
	KeyRoleSort         KeyRole = "sort"
	KeyRoleGSIPartition KeyRole = "gsiPartition"
	KeyRoleGSISort      KeyRole = "gsiSort"
)

// IndexDef describes a primary or secondary index.
type IndexDef struct {
	Hash string `json:"hash,omitempty" yaml:"hash,omitempty"`
	Sort string `json:"sort,omitempty" yaml:"sort,omitempty"`
}

// DerivedDef declares a computed key: the field's stored value is assembled
// from other fields before write. Template form "${tenantId}#${customerId}"
// names sources in order; the Sources/Separator form is shorthand for the
// same thing.
type DerivedDef struct {
	Template  string   `json:"template,omitempty" yaml:"template,omitempty"`
	Sources   []string `json:"sources,omitempty" yaml:"sources,omitempty"`
	Separator string   `json:"separator,omitempty" yaml:"separator,omitempty"`
}

// ExtractedDef declares a parsed-out component: after read, the source
// field's value is split on Separator and the piece at Index is assigned
// to this field. Extracted fields are never stored themselves.
type ExtractedDef struct {
	Source    string `json:"source" yaml:"source"`
	Index     int    `json:"index" yaml:"index"`
	Separator string `json:"separator,omitempty" yaml:"separator,omitempty"`
}

// FieldDef is a single field definition inside an entity.
// All fields are optional to allow partial definitions.
type FieldDef struct {
	Type       FieldType     `json:"type,omitempty" yaml:"type,omitempty"`
	Collection string        `json:"collection,omitempty" yaml:"collection,omitempty"` // "list"|"set"
	Attribute  string        `json:"attribute,omitempty" yaml:"attribute,omitempty"`   // stored name, default field name
	Required   bool          `json:"required,omitempty" yaml:"required,omitempty"`
	Nullable   bool          `json:"nullable,omitempty" yaml:"nullable,omitempty"` // store explicit NULL when unset
	Hidden     *bool         `json:"hidden,omitempty" yaml:"hidden,omitempty"`     // pointer: nil = unset
	Default    any           `json:"default,omitempty" yaml:"default,omitempty"`
	Key        KeyRole       `json:"key,omitempty" yaml:"key,omitempty"`     // "partition"|"sort"
	Index      string        `json:"index,omitempty" yaml:"index,omitempty"` // owning index, default "primary"
	Derived    *DerivedDef   `json:"derived,omitempty" yaml:"derived,omitempty"`
	Extracted  *ExtractedDef `json:"extracted,omitempty" yaml:"extracted,omitempty"`
	Format     string        `json:"format,omitempty" yaml:"format,omitempty"` // date layout|"iso"|"epoch"|"epochms"; number "int"
	TimeZone   string        `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Enum       []string      `json:"enum,omitempty" yaml:"enum,omitempty"`
	Generate   string        `json:"generate,omitempty" yaml:"generate,omitempty"` // "uuid"|"ulid"|"uid"|"uid(n)"|"tuid"
	Crypt      bool          `json:"crypt,omitempty" yaml:"crypt,omitempty"`
	TTL        bool          `json:"ttl,omitempty" yaml:"ttl,omitempty"`
}

// FieldMap is a map of field name → definition.
type FieldMap map[string]*FieldDef

// RelationshipDef declares that records under the same partition key whose
// sort key matches Pattern populate Field with entities of shape Entity.
type RelationshipDef struct {
	Field      string `json:"field" yaml:"field"`
	Entity     string `json:"entity" yaml:"entity"`
	Pattern    string `json:"pattern,omitempty" yaml:"pattern,omitempty"` // literal or glob, e.g. "LINE#*"
	Collection bool   `json:"collection,omitempty" yaml:"collection,omitempty"`
}

// DiscriminatorDef declares the explicit type tag for an entity shape.
type DiscriminatorDef struct {
	Attribute string `json:"attribute,omitempty" yaml:"attribute,omitempty"` // default: params TypeField
	Value     string `json:"value,omitempty" yaml:"value,omitempty"`         // default: entity name
}

// EntityDef is the declarative schema for one entity shape.
type EntityDef struct {
	Table         string            `json:"table,omitempty" yaml:"table,omitempty"` // override of SchemaDef.Name
	Fields        FieldMap          `json:"fields" yaml:"fields"`
	Relationships []RelationshipDef `json:"relationships,omitempty" yaml:"relationships,omitempty"`
	Discriminator *DiscriminatorDef `json:"discriminator,omitempty" yaml:"discriminator,omitempty"`
	// SortKeyPattern overrides the matcher derived from the sort-key
	// template when shapes need a custom rule.
	SortKeyPattern string `json:"sortKeyPattern,omitempty" yaml:"sortKeyPattern,omitempty"`
}

// SchemaParams holds table-level behavioural flags.
type SchemaParams struct {
	TypeField    string `json:"typeField,omitempty" yaml:"typeField,omitempty"`
	CreatedField string `json:"createdField,omitempty" yaml:"createdField,omitempty"`
	UpdatedField string `json:"updatedField,omitempty" yaml:"updatedField,omitempty"`
	Timestamps   bool   `json:"timestamps,omitempty" yaml:"timestamps,omitempty"`
	IsoDates     bool   `json:"isoDates,omitempty" yaml:"isoDates,omitempty"`
	Separator    string `json:"separator,omitempty" yaml:"separator,omitempty"`
	Nulls        bool   `json:"nulls,omitempty" yaml:"nulls,omitempty"`
}

// SchemaDef is the top-level schema document.
type SchemaDef struct {
	Format   string                `json:"format,omitempty" yaml:"format,omitempty"`
	Version  string                `json:"version" yaml:"version"`
	Name     string                `json:"name,omitempty" yaml:"name,omitempty"` // table name
	Indexes  map[string]*IndexDef  `json:"indexes" yaml:"indexes"`
	Entities map[string]*EntityDef `json:"entities" yaml:"entities"`
	Params   *SchemaParams         `json:"params,omitempty" yaml:"params,omitempty"`
}

const (
	defaultSeparator    = "#"
	defaultTypeField    = "_type"
	defaultCreatedField = "created"
	defaultUpdatedField = "updated"
	primaryIndexName    = "primary"
)

// ─── compiled model (built once, immutable) ──────────────────────────────────

// field is the runtime representation of a schema field.
// Built once during model compilation, read-only afterwards.
type field struct {
	// identity
	name      string // source name on the item
	attribute string // stored name in the record
	def       *FieldDef

	// resolved type
	ftype      FieldType
	collection string // "", "list", "set"

	// flags (resolved from def + schema params)
	required bool
	nullable bool
	hidden   bool
	crypt    bool
	ttl      bool

	// key membership
	role  KeyRole
	index string

	// formatting
	format   string
	location *time.Location // non-nil when a timezone policy is declared
	enum     []string
	generate string

	// derived template (non-nil means computed before write)
	template *keyTemplate

	// extracted rule (non-nil means parsed out after read)
	extract *extractRule
}

// isDerived reports whether the field's stored value is computed.
func (f *field) isDerived() bool { return f.template != nil }

// isExtracted reports whether the field is parsed out of another field.
func (f *field) isExtracted() bool { return f.extract != nil }

// keyTemplate is a parsed derived-key template: alternating literal and
// variable segments, e.g. "ORDER#${tenantId}#${customerId}". A variable
// may carry a padding spec: "${lineNo:4:0}" left-pads to width 4 with "0".
type keyTemplate struct {
	raw      string
	segments []templateSegment
	vars     []string // bare variable names in declared order
}

type templateSegment struct {
	literal string
	varName string // empty for literal segments
	padLen  int
	padChar string
}

// extractRule is a compiled ExtractedDef with its source resolved.
type extractRule struct {
	source    string
	index     int
	separator string
	src       *field
}

// relationship is a compiled RelationshipDef.
type relationship struct {
	fieldName  string
	entity     string
	pattern    *keyPattern
	collection bool
	target     *Model // resolved during set compilation
}

// discriminator is the compiled discrimination rule for one shape.
type discriminator struct {
	attribute string // tag attribute; empty disables rule 1
	value     string
	explicit  bool        // declared by the user, not defaulted
	pattern   *keyPattern // sort-key matcher; nil disables rule 2
}

// Model is the compiled, immutable descriptor of one entity shape. It is
// safe for unsynchronized concurrent use by any number of goroutines.
type Model struct {
	name  string
	table string

	fields      map[string]*field
	fieldList   []*field // declaration order (sorted by name for stability)
	byAttribute map[string]*field

	partition *field // primary partition key
	sort      *field // primary sort key, may be nil

	derivedOrder []*field // topological evaluation order
	extracted    []*field
	required     []*field // required stored fields, for presence matching

	relationships []*relationship
	disc          discriminator

	// resolved schema params
	separator    string
	typeField    string
	createdField string
	updatedField string
	timestamps   bool
	isoDates     bool
	nulls        bool
}

// Name returns the entity shape name.
func (m *Model) Name() string { return m.name }

// TableName returns the table this shape is stored in.
func (m *Model) TableName() string { return m.table }

// PartitionKeyAttribute returns the stored name of the partition key.
func (m *Model) PartitionKeyAttribute() string { return m.partition.attribute }

// SortKeyAttribute returns the stored name of the sort key, or "" when the
// shape has no sort key.
func (m *Model) SortKeyAttribute() string {
	if m.sort == nil {
		return ""
	}
	return m.sort.attribute
}
