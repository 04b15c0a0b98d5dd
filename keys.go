/*
Package fluentdynamo – key compiler.

Derived keys are assembled from their source fields before encode, in
topological order so templates may reference other derived fields.
Extracted components are split back out of stored values after decode.
*/
package fluentdynamo

import (
	"strconv"
	"strings"
	"time"
)

// computeDerived evaluates every derived field against the staging item and
// writes the results back, in dependency order. A required derived field
// with missing source material fails; an optional one stays absent.
func (m *Model) computeDerived(staging Item) error {
	for _, f := range m.derivedOrder {
		if _, ok := staging[f.name]; ok {
			continue // caller-supplied value wins
		}
		val, missing := m.expandTemplate(f.template, staging)
		if len(missing) > 0 {
			if f.required {
				return NewMappingError(
					"missing source for derived key "+f.name,
					WithCode(ErrKeyMaterial),
					WithContext(map[string]any{
						"field":         f.name,
						"missingSource": missing[0],
						"template":      f.template.raw,
					}))
			}
			continue
		}
		staging[f.name] = val
	}
	return nil
}

// expandTemplate renders a template against the item. Unresolvable
// variables are reported, not interpolated.
func (m *Model) expandTemplate(tpl *keyTemplate, item Item) (string, []string) {
	var b strings.Builder
	var missing []string
	for _, seg := range tpl.segments {
		if seg.varName == "" {
			b.WriteString(seg.literal)
			continue
		}
		v, ok := item[seg.varName]
		if !ok || v == nil {
			missing = append(missing, seg.varName)
			continue
		}
		b.WriteString(padValue(m.templateValue(v), seg))
	}
	return b.String(), missing
}

// expandPrefix renders the template up to the first unresolved variable.
// Used for begins-with sort conditions on partially keyed finds.
func (m *Model) expandPrefix(tpl *keyTemplate, item Item) (prefix string, complete bool) {
	var b strings.Builder
	for _, seg := range tpl.segments {
		if seg.varName == "" {
			b.WriteString(seg.literal)
			continue
		}
		v, ok := item[seg.varName]
		if !ok || v == nil {
			return b.String(), false
		}
		b.WriteString(padValue(m.templateValue(v), seg))
	}
	return b.String(), true
}

// templateValue renders one source value as key text.
func (m *Model) templateValue(v any) string {
	switch tv := v.(type) {
	case time.Time:
		if m.isoDates {
			return tv.UTC().Format(time.RFC3339Nano)
		}
		return strconv.FormatInt(tv.UnixMilli(), 10)
	case float64:
		return formatNumber(tv, "")
	case float32:
		return formatNumber(float64(tv), "")
	default:
		return stringify(tv)
	}
}

func padValue(s string, seg templateSegment) string {
	for len(s) < seg.padLen {
		s = seg.padChar + s
	}
	return s
}

// extractComponents splits stored source values and assigns the positional
// components onto their extracted fields. Short splits leave the component
// absent when lenient, and fail the operation when strict.
func (m *Model) extractComponents(staging Item, strict bool, log Logger) error {
	for _, f := range m.extracted {
		raw, ok := staging[f.extract.src.name]
		if !ok || raw == nil {
			continue // source never decoded; nothing to split
		}
		s, ok := raw.(string)
		if !ok {
			s = stringify(raw)
		}
		parts := strings.SplitN(s, f.extract.separator, f.extract.index+2)
		if f.extract.index >= len(parts) {
			if strict {
				return NewMappingError(
					"composite key has too few components for "+f.name,
					WithCode(ErrConstruction),
					WithContext(map[string]any{
						"field":  f.name,
						"source": f.extract.src.name,
						"value":  s,
						"index":  f.extract.index,
					}))
			}
			if log != nil {
				logTrace(log, "short key split", map[string]any{
					"entity": m.name, "field": f.name, "value": s,
				})
			}
			continue
		}
		val, err := m.coerceComponent(f, parts[f.extract.index])
		if err != nil {
			return err
		}
		staging[f.name] = val
	}
	return nil
}

// coerceComponent converts a split-out key component to the field's type.
func (m *Model) coerceComponent(f *field, s string) (any, error) {
	switch f.ftype {
	case FieldTypeString, FieldTypeEnum:
		return s, nil
	case FieldTypeNumber:
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, conversionError(f, s, "number", err)
		}
		return n, nil
	case FieldTypeBoolean:
		return s == "true", nil
	case FieldTypeDate:
		t, err := parseDate(s, f.format)
		if err != nil {
			return nil, conversionError(f, s, "date", err)
		}
		return t.UTC(), nil
	}
	return s, nil
}
