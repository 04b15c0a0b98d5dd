/*
Package fluentdynamo – query compilation.

Compiles an item's available key material into a DynamoDB key condition:
partition equality plus, when a derived sort key resolves only partially,
a begins_with condition on its static prefix.
*/
package fluentdynamo

import (
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	ddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// FindParams tunes a key-condition query.
type FindParams struct {
	Index          string // secondary index name; empty selects the primary
	Limit          int
	StartKey       Record // exclusive start key for pagination
	SortDescending bool
	Filter         expression.ConditionBuilder
}

// FindResult is one page of mapped query results.
type FindResult struct {
	Items   []Item
	LastKey Record // set when more pages remain
}

// buildQuery compiles a QueryInput from the item's resolvable key
// material. The partition key must resolve fully; the sort key may
// resolve to an equality, a begins_with prefix, or nothing.
func (m *Model) buildQuery(table string, item Item, params *FindParams) (*ddb.QueryInput, error) {
	if params == nil {
		params = &FindParams{}
	}
	part, sort, err := m.indexKeys(params.Index)
	if err != nil {
		return nil, err
	}

	staging := make(Item, len(item))
	for k, v := range item {
		staging[k] = v
	}
	m.deriveLenient(staging)

	pkVal, err := m.keyValue(part, staging)
	if err != nil {
		return nil, err
	}
	keyCond := expression.Key(part.attribute).Equal(expression.Value(pkVal))

	if sort != nil {
		skCond, ok, err := m.sortCondition(sort, staging)
		if err != nil {
			return nil, err
		}
		if ok {
			keyCond = keyCond.And(skCond)
		}
	}

	builder := expression.NewBuilder().WithKeyCondition(keyCond)
	if params.Filter.IsSet() {
		builder = builder.WithFilter(params.Filter)
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, NewMappingError("cannot build query expression",
			WithCode(ErrRuntime), WithCause(err))
	}

	input := &ddb.QueryInput{
		TableName:                 aws.String(table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(!params.SortDescending),
	}
	if params.Filter.IsSet() {
		input.FilterExpression = expr.Filter()
	}
	if params.Index != "" && params.Index != primaryIndexName {
		input.IndexName = aws.String(params.Index)
	}
	if params.Limit > 0 {
		input.Limit = aws.Int32(int32(params.Limit))
	}
	if params.StartKey != nil {
		input.ExclusiveStartKey = params.StartKey
	}
	return input, nil
}

// buildPartitionQuery compiles a partition-only query, used to load a
// whole partition group for reconstruction.
func (m *Model) buildPartitionQuery(table string, item Item) (*ddb.QueryInput, error) {
	if m.partition == nil {
		return nil, NewArgError("model " + m.name + " has no partition key")
	}
	staging := make(Item, len(item))
	for k, v := range item {
		staging[k] = v
	}
	m.deriveLenient(staging)

	pkVal, err := m.keyValue(m.partition, staging)
	if err != nil {
		return nil, err
	}
	keyCond := expression.Key(m.partition.attribute).Equal(expression.Value(pkVal))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, NewMappingError("cannot build query expression",
			WithCode(ErrRuntime), WithCause(err))
	}
	return &ddb.QueryInput{
		TableName:                 aws.String(table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, nil
}

// indexKeys resolves the key fields serving an index.
func (m *Model) indexKeys(index string) (part, sort *field, err error) {
	if index == "" || index == primaryIndexName {
		if m.partition == nil {
			return nil, nil, NewArgError("model " + m.name + " has no partition key")
		}
		return m.partition, m.sort, nil
	}
	for _, f := range m.fieldList {
		if f.index != index {
			continue
		}
		switch f.role {
		case KeyRoleGSIPartition:
			part = f
		case KeyRoleGSISort:
			sort = f
		}
	}
	if part == nil {
		return nil, nil, NewArgError(fmt.Sprintf("model %s has no partition key on index %q", m.name, index))
	}
	return part, sort, nil
}

// deriveLenient computes whatever derived values the available material
// allows, leaving incomplete ones unset.
func (m *Model) deriveLenient(staging Item) {
	for _, f := range m.derivedOrder {
		if _, ok := staging[f.name]; ok {
			continue
		}
		if val, missing := m.expandTemplate(f.template, staging); len(missing) == 0 {
			staging[f.name] = val
		}
	}
}

// keyValue encodes a fully resolved key field for an expression value.
func (m *Model) keyValue(f *field, staging Item) (any, error) {
	v, ok := staging[f.name]
	if !ok || v == nil {
		return nil, NewMappingError(
			"cannot resolve key "+f.name+" from the given fields",
			WithCode(ErrKeyMaterial),
			WithContext(map[string]any{"entity": m.name, "field": f.name}))
	}
	av, err := m.encodeField(f, v)
	if err != nil {
		return nil, err
	}
	return exprValue(av), nil
}

// sortCondition compiles the sort-key part of the key condition, if the
// material supports one.
func (m *Model) sortCondition(f *field, staging Item) (expression.KeyConditionBuilder, bool, error) {
	if v, ok := staging[f.name]; ok && v != nil {
		av, err := m.encodeField(f, v)
		if err != nil {
			return expression.KeyConditionBuilder{}, false, err
		}
		return expression.Key(f.attribute).Equal(expression.Value(exprValue(av))), true, nil
	}
	if f.isDerived() {
		prefix, complete := m.expandPrefix(f.template, staging)
		if complete {
			return expression.Key(f.attribute).Equal(expression.Value(prefix)), true, nil
		}
		if prefix != "" {
			return expression.Key(f.attribute).BeginsWith(prefix), true, nil
		}
	}
	return expression.KeyConditionBuilder{}, false, nil
}

// exprValue unwraps an encoded key attribute to the primitive the
// expression builder marshals back to the same variant. Keys are S, N
// or B only.
func exprValue(av types.AttributeValue) any {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		f, _ := strconv.ParseFloat(v.Value, 64)
		return f
	case *types.AttributeValueMemberB:
		return v.Value
	}
	return nil
}
