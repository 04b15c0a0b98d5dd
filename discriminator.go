/*
Package fluentdynamo – entity discrimination.

Decides which shape a raw record belongs to when one table stores several.
Three rules, first match wins: explicit tag attribute, sort-key pattern,
required-attribute presence. Matching is total: malformed records simply
do not match.
*/
package fluentdynamo

import (
	"fmt"
	"strings"
)

// keyPattern is a compiled sort-key matcher. Only "*" is special; it
// matches any run of characters, so literals, prefixes ("LINE#*"),
// suffixes ("*#META") and contains ("*#LINE#*") all compile to one form.
type keyPattern struct {
	raw         string
	parts       []string // literal chunks between wildcards
	anchorStart bool
	anchorEnd   bool
}

func parseKeyPattern(raw string) (*keyPattern, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty key pattern")
	}
	p := &keyPattern{
		raw:         raw,
		anchorStart: !strings.HasPrefix(raw, "*"),
		anchorEnd:   !strings.HasSuffix(raw, "*"),
	}
	for _, part := range strings.Split(raw, "*") {
		if part != "" {
			p.parts = append(p.parts, part)
		}
	}
	return p, nil
}

// matches runs the greedy wildcard scan.
func (p *keyPattern) matches(s string) bool {
	parts := p.parts
	if len(parts) == 0 {
		return true // pattern was all wildcards
	}
	if p.anchorStart {
		if !strings.HasPrefix(s, parts[0]) {
			return false
		}
		s = s[len(parts[0]):]
		parts = parts[1:]
		if len(parts) == 0 {
			return !p.anchorEnd || s == ""
		}
	}
	if p.anchorEnd {
		last := parts[len(parts)-1]
		if !strings.HasSuffix(s, last) {
			return false
		}
		s = s[:len(s)-len(last)]
		parts = parts[:len(parts)-1]
	}
	for _, part := range parts {
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}
	return true
}

// patternFromTemplate derives a shape's sort-key matcher from its sort-key
// template: the static prefix up to the first variable, then a wildcard.
// A template with no variables yields an exact-match pattern.
func patternFromTemplate(tpl *keyTemplate) *keyPattern {
	var b strings.Builder
	for _, seg := range tpl.segments {
		if seg.varName != "" {
			b.WriteString("*")
			break
		}
		b.WriteString(seg.literal)
	}
	raw := b.String()
	if raw == "" {
		raw = "*"
	}
	p, err := parseKeyPattern(raw)
	if err != nil {
		return nil
	}
	return p
}

// Matches reports whether a raw record is an instance of this shape.
// It never panics and never errors; an unreadable record does not match.
func (m *Model) Matches(rec Record) bool {
	if len(rec) == 0 {
		return false
	}

	// rule 1: tag attribute
	if m.disc.attribute != "" {
		if tag, ok := recordString(rec, m.disc.attribute); ok {
			return tag == m.disc.value
		}
		if m.disc.explicit {
			return false
		}
		// defaulted tag and untagged record: fall through to the
		// structural rules so records written by other tools still match
	}

	// rule 2: sort-key pattern
	if m.disc.pattern != nil && m.sort != nil {
		sk, ok := recordString(rec, m.sort.attribute)
		if !ok {
			return false
		}
		return m.disc.pattern.matches(sk)
	}

	// rule 3: required-attribute presence
	for _, f := range m.required {
		av, ok := rec[f.attribute]
		if !ok || av == nil || isNullAttr(av) {
			return false
		}
	}
	return true
}

// Classify returns the first shape (in classification order) matching the
// record, plus every matching shape name. More than one name signals an
// ambiguous model worth warning about.
func (s *SchemaSet) Classify(rec Record) (*Model, []string) {
	var first *Model
	var matched []string
	for _, name := range s.order {
		m := s.models[name]
		if m.Matches(rec) {
			if first == nil {
				first = m
			}
			matched = append(matched, name)
		}
	}
	return first, matched
}
