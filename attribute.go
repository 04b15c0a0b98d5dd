/*
Package fluentdynamo – raw record and attribute value helpers.
*/
package fluentdynamo

import (
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Record is the wire-level sparse record: attribute name to tagged value.
// It is the shape DynamoDB clients produce and consume, so records returned
// by a Mapper can be handed to the SDK without conversion.
type Record = map[string]types.AttributeValue

// Item is the generic domain object: field name to plain Go value. Scalars
// use string, float64, bool, []byte and time.Time; collections use []any,
// []string, []float64 and [][]byte; nested objects use map[string]any.
type Item = map[string]any

// attrString returns the raw string content of an S or N attribute value.
// Other variants report false; key matching only ever sees S and N keys.
func attrString(av types.AttributeValue) (string, bool) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value, true
	case *types.AttributeValueMemberN:
		return v.Value, true
	}
	return "", false
}

// recordString looks up an attribute by name and returns its raw string
// content, if the attribute exists and is string-like.
func recordString(rec Record, name string) (string, bool) {
	av, ok := rec[name]
	if !ok || av == nil {
		return "", false
	}
	return attrString(av)
}

// isNullAttr reports whether the value is an explicit NULL node.
func isNullAttr(av types.AttributeValue) bool {
	n, ok := av.(*types.AttributeValueMemberNULL)
	return ok && n.Value
}

// MarshalRecord converts an annotated struct (dynamodbav tags) into a raw
// record. It is a convenience bridge for callers that keep typed structs
// alongside schema-mapped items.
func MarshalRecord(v any) (Record, error) {
	rec, err := attributevalue.MarshalMap(v)
	if err != nil {
		return nil, NewMappingError("cannot marshal value to record",
			WithCode(ErrConversion), WithCause(err))
	}
	return rec, nil
}

// UnmarshalRecord populates an annotated struct from a raw record. The
// inverse bridge to MarshalRecord.
func UnmarshalRecord(rec Record, out any) error {
	if err := attributevalue.UnmarshalMap(rec, out); err != nil {
		return NewMappingError("cannot unmarshal record",
			WithCode(ErrConversion), WithCause(err))
	}
	return nil
}
