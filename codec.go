/*
Package fluentdynamo – value codec.

Converts one field value between its plain Go form and the tagged
attribute-value node. Format strings and timezone policy apply on encode;
decode parses the canonical representation and re-attaches the declared
zone. Collection fields encode element-wise into L or the native set
variants.
*/
package fluentdynamo

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Date format keywords. Anything else containing a reference day is used
// as a Go layout string.
const (
	formatISO     = "iso"
	formatEpoch   = "epoch"
	formatEpochMS = "epochms"
	formatInt     = "int"
)

// encodeField converts a non-nil field value into its attribute node.
func (m *Model) encodeField(f *field, value any) (types.AttributeValue, error) {
	if f.collection != "" {
		return m.encodeCollection(f, value)
	}
	return m.encodeScalar(f, value)
}

func (m *Model) encodeScalar(f *field, value any) (types.AttributeValue, error) {
	switch f.ftype {
	case FieldTypeString:
		return &types.AttributeValueMemberS{Value: stringify(value)}, nil

	case FieldTypeEnum:
		s := stringify(value)
		if !containsStr(f.enum, s) {
			return nil, conversionError(f, value, "enum value not in "+strings.Join(f.enum, ","), nil)
		}
		return &types.AttributeValueMemberS{Value: s}, nil

	case FieldTypeNumber:
		n, err := toNumber(value)
		if err != nil {
			return nil, conversionError(f, value, "number", err)
		}
		return &types.AttributeValueMemberN{Value: formatNumber(n, f.format)}, nil

	case FieldTypeBoolean:
		b, err := toBool(value)
		if err != nil {
			return nil, conversionError(f, value, "boolean", err)
		}
		return &types.AttributeValueMemberBOOL{Value: b}, nil

	case FieldTypeBinary:
		b, ok := value.([]byte)
		if !ok {
			return nil, conversionError(f, value, "binary", nil)
		}
		return &types.AttributeValueMemberB{Value: b}, nil

	case FieldTypeDate:
		return m.encodeDate(f, value)

	case FieldTypeObject:
		return encodeAny(value)
	}
	return nil, conversionError(f, value, string(f.ftype), nil)
}

// decodeField converts an attribute node back into the field's plain form.
// NULL nodes never reach here; the mapper treats them as absent.
func (m *Model) decodeField(f *field, av types.AttributeValue) (any, error) {
	if f.collection != "" {
		return m.decodeCollection(f, av)
	}
	return m.decodeScalar(f, av)
}

func (m *Model) decodeScalar(f *field, av types.AttributeValue) (any, error) {
	switch f.ftype {
	case FieldTypeString:
		v, ok := av.(*types.AttributeValueMemberS)
		if !ok {
			return nil, decodeError(f, av, "string")
		}
		return v.Value, nil

	case FieldTypeEnum:
		v, ok := av.(*types.AttributeValueMemberS)
		if !ok {
			return nil, decodeError(f, av, "enum")
		}
		if !containsStr(f.enum, v.Value) {
			return nil, conversionError(f, v.Value, "enum value not in "+strings.Join(f.enum, ","), nil)
		}
		return v.Value, nil

	case FieldTypeNumber:
		v, ok := av.(*types.AttributeValueMemberN)
		if !ok {
			return nil, decodeError(f, av, "number")
		}
		n, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			return nil, conversionError(f, v.Value, "number", err)
		}
		return n, nil

	case FieldTypeBoolean:
		v, ok := av.(*types.AttributeValueMemberBOOL)
		if !ok {
			return nil, decodeError(f, av, "boolean")
		}
		return v.Value, nil

	case FieldTypeBinary:
		v, ok := av.(*types.AttributeValueMemberB)
		if !ok {
			return nil, decodeError(f, av, "binary")
		}
		return v.Value, nil

	case FieldTypeDate:
		return m.decodeDate(f, av)

	case FieldTypeObject:
		v, ok := av.(*types.AttributeValueMemberM)
		if !ok {
			return nil, decodeError(f, av, "object")
		}
		return decodeMap(v.Value), nil
	}
	return nil, decodeError(f, av, string(f.ftype))
}

// ─── dates ───────────────────────────────────────────────────────────────────

func (m *Model) encodeDate(f *field, value any) (types.AttributeValue, error) {
	t, err := toTime(value)
	if err != nil {
		return nil, conversionError(f, value, "date", err)
	}
	if f.location != nil {
		t = t.In(f.location)
	} else {
		t = t.UTC()
	}
	if f.ttl {
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}, nil
	}
	format := f.format
	if format == "" {
		if m.isoDates {
			format = formatISO
		} else {
			format = formatEpochMS
		}
	}
	switch format {
	case formatISO:
		return &types.AttributeValueMemberS{Value: t.Format(time.RFC3339Nano)}, nil
	case formatEpoch:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}, nil
	case formatEpochMS:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.UnixMilli(), 10)}, nil
	default:
		return &types.AttributeValueMemberS{Value: t.Format(format)}, nil
	}
}

func (m *Model) decodeDate(f *field, av types.AttributeValue) (any, error) {
	var t time.Time
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		parsed, err := parseDate(v.Value, f.format)
		if err != nil {
			return nil, conversionError(f, v.Value, "date", err)
		}
		t = parsed
	case *types.AttributeValueMemberN:
		n, err := strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return nil, conversionError(f, v.Value, "date", err)
		}
		if f.ttl || f.format == formatEpoch {
			t = time.Unix(n, 0)
		} else {
			t = time.UnixMilli(n)
		}
	default:
		return nil, decodeError(f, av, "date")
	}
	if f.location != nil {
		return t.In(f.location), nil
	}
	return t.UTC(), nil
}

// parseDate tries the canonical layouts first, then the declared one.
func parseDate(s, format string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if format != "" && format != formatISO && format != formatEpoch && format != formatEpochMS {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// ─── collections ─────────────────────────────────────────────────────────────

func (m *Model) encodeCollection(f *field, value any) (types.AttributeValue, error) {
	elems, err := toSlice(value)
	if err != nil {
		return nil, conversionError(f, value, "collection", err)
	}
	if f.collection == CollectionSet {
		return m.encodeSet(f, elems)
	}
	list := make([]types.AttributeValue, 0, len(elems))
	for _, e := range elems {
		av, err := m.encodeScalar(f, e)
		if err != nil {
			return nil, err
		}
		list = append(list, av)
	}
	return &types.AttributeValueMemberL{Value: list}, nil
}

func (m *Model) encodeSet(f *field, elems []any) (types.AttributeValue, error) {
	switch f.ftype {
	case FieldTypeString, FieldTypeEnum:
		out := make([]string, 0, len(elems))
		for _, e := range elems {
			out = append(out, stringify(e))
		}
		return &types.AttributeValueMemberSS{Value: out}, nil
	case FieldTypeNumber:
		out := make([]string, 0, len(elems))
		for _, e := range elems {
			n, err := toNumber(e)
			if err != nil {
				return nil, conversionError(f, e, "number set element", err)
			}
			out = append(out, formatNumber(n, f.format))
		}
		return &types.AttributeValueMemberNS{Value: out}, nil
	case FieldTypeBinary:
		out := make([][]byte, 0, len(elems))
		for _, e := range elems {
			b, ok := e.([]byte)
			if !ok {
				return nil, conversionError(f, e, "binary set element", nil)
			}
			out = append(out, b)
		}
		return &types.AttributeValueMemberBS{Value: out}, nil
	}
	return nil, conversionError(f, elems, "set of "+string(f.ftype), nil)
}

func (m *Model) decodeCollection(f *field, av types.AttributeValue) (any, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberL:
		out := make([]any, 0, len(v.Value))
		for _, e := range v.Value {
			dv, err := m.decodeScalar(f, e)
			if err != nil {
				return nil, err
			}
			out = append(out, dv)
		}
		return out, nil
	case *types.AttributeValueMemberSS:
		out := make([]string, len(v.Value))
		copy(out, v.Value)
		return out, nil
	case *types.AttributeValueMemberNS:
		out := make([]float64, 0, len(v.Value))
		for _, s := range v.Value {
			n, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, conversionError(f, s, "number set element", err)
			}
			out = append(out, n)
		}
		return out, nil
	case *types.AttributeValueMemberBS:
		out := make([][]byte, len(v.Value))
		copy(out, v.Value)
		return out, nil
	}
	return nil, decodeError(f, av, "collection")
}

// ─── free-form values (object fields, nested maps and lists) ─────────────────

// encodeAny is a best-effort conversion of a plain value to an attribute
// node. Unrecognised Go types go through the attributevalue marshaler.
func encodeAny(v any) (types.AttributeValue, error) {
	switch tv := v.(type) {
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case string:
		return &types.AttributeValueMemberS{Value: tv}, nil
	case bool:
		return &types.AttributeValueMemberBOOL{Value: tv}, nil
	case float64:
		return &types.AttributeValueMemberN{Value: formatNumber(tv, "")}, nil
	case int:
		return &types.AttributeValueMemberN{Value: strconv.Itoa(tv)}, nil
	case int64:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(tv, 10)}, nil
	case []byte:
		return &types.AttributeValueMemberB{Value: tv}, nil
	case time.Time:
		return &types.AttributeValueMemberS{Value: tv.UTC().Format(time.RFC3339Nano)}, nil
	case map[string]any:
		inner := make(map[string]types.AttributeValue, len(tv))
		for k, val := range tv {
			av, err := encodeAny(val)
			if err != nil {
				return nil, err
			}
			inner[k] = av
		}
		return &types.AttributeValueMemberM{Value: inner}, nil
	case []any:
		list := make([]types.AttributeValue, 0, len(tv))
		for _, val := range tv {
			av, err := encodeAny(val)
			if err != nil {
				return nil, err
			}
			list = append(list, av)
		}
		return &types.AttributeValueMemberL{Value: list}, nil
	default:
		av, err := attributevalue.Marshal(tv)
		if err != nil {
			return nil, fmt.Errorf("cannot encode %T: %w", tv, err)
		}
		return av, nil
	}
}

// decodeAny converts an attribute node to its plain form.
func decodeAny(av types.AttributeValue) any {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		n, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			return v.Value
		}
		return n
	case *types.AttributeValueMemberBOOL:
		return v.Value
	case *types.AttributeValueMemberB:
		return v.Value
	case *types.AttributeValueMemberNULL:
		return nil
	case *types.AttributeValueMemberM:
		return decodeMap(v.Value)
	case *types.AttributeValueMemberL:
		out := make([]any, 0, len(v.Value))
		for _, e := range v.Value {
			out = append(out, decodeAny(e))
		}
		return out
	case *types.AttributeValueMemberSS:
		out := make([]string, len(v.Value))
		copy(out, v.Value)
		return out
	case *types.AttributeValueMemberNS:
		out := make([]float64, 0, len(v.Value))
		for _, s := range v.Value {
			n, _ := strconv.ParseFloat(s, 64)
			out = append(out, n)
		}
		return out
	case *types.AttributeValueMemberBS:
		out := make([][]byte, len(v.Value))
		copy(out, v.Value)
		return out
	}
	return nil
}

func decodeMap(avs map[string]types.AttributeValue) map[string]any {
	out := make(map[string]any, len(avs))
	for k, av := range avs {
		out[k] = decodeAny(av)
	}
	return out
}

// ─── scalar coercion helpers ─────────────────────────────────────────────────

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toNumber(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("value %T is not numeric", v)
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return b != "false" && b != "", nil
	}
	return false, fmt.Errorf("value %T is not boolean", v)
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return parseDate(t, "")
	case float64:
		return time.UnixMilli(int64(t)), nil
	case int64:
		return time.UnixMilli(t), nil
	}
	return time.Time{}, fmt.Errorf("value %T is not a date", v)
}

// toSlice widens the common collection shapes to []any.
func toSlice(v any) ([]any, error) {
	switch s := v.(type) {
	case []any:
		return s, nil
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, nil
	case []float64:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, nil
	case [][]byte:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, nil
	}
	return nil, fmt.Errorf("value %T is not a collection", v)
}

// formatNumber renders a number for the N node. "int" truncates; other
// formats are fmt verbs for fixed-point output.
func formatNumber(n float64, format string) string {
	switch {
	case format == formatInt:
		return strconv.FormatInt(int64(n), 10)
	case format != "" && strings.Contains(format, "%"):
		return fmt.Sprintf(format, n)
	default:
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// avVariant names the populated union member for error context.
func avVariant(av types.AttributeValue) string {
	switch av.(type) {
	case *types.AttributeValueMemberS:
		return "S"
	case *types.AttributeValueMemberN:
		return "N"
	case *types.AttributeValueMemberB:
		return "B"
	case *types.AttributeValueMemberSS:
		return "SS"
	case *types.AttributeValueMemberNS:
		return "NS"
	case *types.AttributeValueMemberBS:
		return "BS"
	case *types.AttributeValueMemberL:
		return "L"
	case *types.AttributeValueMemberM:
		return "M"
	case *types.AttributeValueMemberBOOL:
		return "BOOL"
	case *types.AttributeValueMemberNULL:
		return "NULL"
	}
	return "?"
}

// conversionError reports an encode/decode failure with field context.
func conversionError(f *field, value any, target string, cause error) error {
	return NewMappingError(
		fmt.Sprintf("cannot convert field %q to %s", f.name, target),
		WithCode(ErrConversion),
		WithContext(map[string]any{"field": f.name, "value": value, "target": target}),
		WithCause(cause))
}

// decodeError reports a node-variant mismatch.
func decodeError(f *field, av types.AttributeValue, target string) error {
	return NewMappingError(
		fmt.Sprintf("cannot decode %s node into field %q (%s)", avVariant(av), f.name, target),
		WithCode(ErrConversion),
		WithContext(map[string]any{"field": f.name, "node": avVariant(av), "target": target}))
}
