/*
Package fluentdynamo – record mapper.

Converts items of one shape to and from raw attribute maps. Writes run
generate → timestamps → derived keys → field encode; reads run field
decode → component extraction → required check. Field values pass through
the cipher hook point-wise when the schema flags them.
*/
package fluentdynamo

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// MapperParams configures a Mapper.
type MapperParams struct {
	// Strict fails reads whose composite keys split short and writes
	// missing required fields. The default logs and continues.
	Strict bool
	// Hidden keeps hidden fields (type tag, derived keys) on read output.
	Hidden bool
	Logger Logger
	Cipher FieldCipher
}

// Mapper converts items of one model to and from raw records. A Mapper is
// stateless after construction and safe for concurrent use.
type Mapper struct {
	model  *Model
	strict bool
	hidden bool
	log    Logger
	cipher FieldCipher
	now    func() time.Time
}

// NewMapper binds a mapper to a compiled model.
func NewMapper(m *Model, params *MapperParams) *Mapper {
	if params == nil {
		params = &MapperParams{}
	}
	log := params.Logger
	if log == nil {
		log = defaultLogger{}
	}
	return &Mapper{
		model:  m,
		strict: params.Strict,
		hidden: params.Hidden,
		log:    log,
		cipher: params.Cipher,
		now:    time.Now,
	}
}

// Model returns the compiled model this mapper serves.
func (mp *Mapper) Model() *Model { return mp.model }

// ToRecord converts one item into a raw record. The input item is not
// modified; key material lands in a staging copy.
func (mp *Mapper) ToRecord(ctx context.Context, item Item) (Record, error) {
	m := mp.model

	staging := make(Item, len(item)+4)
	for k, v := range item {
		staging[k] = v
	}

	for _, f := range m.fieldList {
		if f.generate == "" {
			continue
		}
		if _, ok := staging[f.name]; !ok {
			staging[f.name] = generateValue(f.generate)
		}
	}

	if m.timestamps {
		now := mp.now().UTC()
		if _, ok := staging[m.createdField]; !ok {
			staging[m.createdField] = now
		}
		staging[m.updatedField] = now
	}

	if tf, ok := m.fields[m.typeField]; ok {
		if _, set := staging[tf.name]; !set {
			tag := m.name
			if m.disc.attribute == tf.attribute && m.disc.value != "" {
				tag = m.disc.value
			}
			staging[tf.name] = tag
		}
	}

	if err := m.computeDerived(staging); err != nil {
		return nil, err
	}

	rec := make(Record, len(m.fieldList))
	for _, f := range m.fieldList {
		if f.isExtracted() {
			continue // lives inside its source attribute
		}
		value, present := staging[f.name]
		if !present && f.def.Default != nil {
			value, present = f.def.Default, true
		}
		if !present {
			if f.required && !f.hidden {
				if mp.strict {
					return nil, NewMappingError(
						"required field "+f.name+" missing on write",
						WithCode(ErrValidation),
						WithContext(map[string]any{"entity": m.name, "field": f.name}))
				}
				logInfo(mp.log, "required field missing on write", map[string]any{
					"entity": m.name, "field": f.name,
				})
			}
			continue
		}
		if value == nil {
			if f.nullable || m.nulls {
				rec[f.attribute] = &types.AttributeValueMemberNULL{Value: true}
			}
			continue
		}
		av, err := m.encodeField(f, value)
		if err != nil {
			return nil, err
		}
		if f.crypt && mp.cipher != nil {
			av, err = mp.encryptAttr(ctx, f, av)
			if err != nil {
				return nil, err
			}
		}
		rec[f.attribute] = av
	}

	if m.disc.attribute != "" && m.disc.value != "" {
		if _, ok := rec[m.disc.attribute]; !ok {
			rec[m.disc.attribute] = &types.AttributeValueMemberS{Value: m.disc.value}
		}
	}
	return rec, nil
}

// FromRecord converts one raw record back into an item. Null nodes and
// absent attributes read identically as unset.
func (mp *Mapper) FromRecord(ctx context.Context, rec Record) (Item, error) {
	m := mp.model

	staging := make(Item, len(rec))
	for _, f := range m.fieldList {
		if f.isExtracted() {
			continue // filled from its source below
		}
		av, ok := rec[f.attribute]
		if !ok || isNullAttr(av) {
			if f.def.Default != nil {
				staging[f.name] = f.def.Default
			}
			continue
		}
		if f.crypt && mp.cipher != nil {
			var err error
			av, err = mp.decryptAttr(ctx, f, av)
			if err != nil {
				return nil, err
			}
		}
		value, err := m.decodeField(f, av)
		if err != nil {
			return nil, err
		}
		staging[f.name] = value
	}

	if err := m.extractComponents(staging, mp.strict, mp.log); err != nil {
		return nil, err
	}

	for _, f := range m.fieldList {
		if !f.required || f.hidden {
			continue
		}
		if _, ok := staging[f.name]; !ok {
			return nil, NewMappingError(
				"required field "+f.name+" absent from record",
				WithCode(ErrConstruction),
				WithContext(map[string]any{
					"schema": m.name, "field": f.name, "record": rec,
				}))
		}
	}

	if !mp.hidden {
		for _, f := range m.fieldList {
			if f.hidden {
				delete(staging, f.name)
			}
		}
	}
	return staging, nil
}

// PrimaryKey computes just the partition and sort attributes for an item,
// for read and delete calls that need a key but not a full record.
func (mp *Mapper) PrimaryKey(ctx context.Context, item Item) (Record, error) {
	m := mp.model
	if m.partition == nil {
		return nil, NewArgError("model " + m.name + " has no partition key")
	}

	staging := make(Item, len(item))
	for k, v := range item {
		staging[k] = v
	}
	if err := m.computeDerived(staging); err != nil {
		return nil, err
	}

	key := make(Record, 2)
	keyFields := []*field{m.partition}
	if m.sort != nil {
		keyFields = append(keyFields, m.sort)
	}
	for _, f := range keyFields {
		value, ok := staging[f.name]
		if !ok || value == nil {
			return nil, NewMappingError(
				"missing value for key field "+f.name,
				WithCode(ErrKeyMaterial),
				WithContext(map[string]any{"entity": m.name, "field": f.name}))
		}
		av, err := m.encodeField(f, value)
		if err != nil {
			return nil, err
		}
		key[f.attribute] = av
	}
	return key, nil
}

func (mp *Mapper) encryptAttr(ctx context.Context, f *field, av types.AttributeValue) (types.AttributeValue, error) {
	s, ok := av.(*types.AttributeValueMemberS)
	if !ok {
		return av, nil
	}
	enc, err := mp.cipher.Encrypt(ctx, mp.model.name, f.name, s.Value)
	if err != nil {
		return nil, NewMappingError(
			"encrypt failed for "+f.name,
			WithCode(ErrCipher),
			WithContext(map[string]any{"entity": mp.model.name, "field": f.name}),
			WithCause(err))
	}
	return &types.AttributeValueMemberS{Value: enc}, nil
}

func (mp *Mapper) decryptAttr(ctx context.Context, f *field, av types.AttributeValue) (types.AttributeValue, error) {
	s, ok := av.(*types.AttributeValueMemberS)
	if !ok {
		return av, nil
	}
	plain, err := mp.cipher.Decrypt(ctx, mp.model.name, f.name, s.Value)
	if err != nil {
		return nil, NewMappingError(
			"decrypt failed for "+f.name,
			WithCode(ErrCipher),
			WithContext(map[string]any{"entity": mp.model.name, "field": f.name}),
			WithCause(err))
	}
	return &types.AttributeValueMemberS{Value: plain}, nil
}
