/*
Package fluentdynamo – schema-build diagnostics.

Compilation reports every problem it finds as a batch, not just the first,
so a build pipeline can surface all schema mistakes at once.
*/
package fluentdynamo

import (
	"errors"
	"fmt"
	"strings"
)

// DiagnosticCode is a stable identifier for one class of schema problem.
type DiagnosticCode string

const (
	DiagMissingPartitionKey       DiagnosticCode = "MissingPartitionKey"
	DiagMultiplePartitionKeys     DiagnosticCode = "MultiplePartitionKeys"
	DiagMultipleSortKeys          DiagnosticCode = "MultipleSortKeys"
	DiagInvalidDerivedKeySource   DiagnosticCode = "InvalidDerivedKeySource"
	DiagInvalidExtractedKeySource DiagnosticCode = "InvalidExtractedKeySource"
	DiagCircularKeyDependency     DiagnosticCode = "CircularKeyDependency"
	DiagConflictingEntityShapes   DiagnosticCode = "ConflictingEntityShapes"
	DiagDuplicateAttribute        DiagnosticCode = "DuplicateAttribute"
	DiagUnknownFieldType          DiagnosticCode = "UnknownFieldType"
	DiagConflictingFieldRoles     DiagnosticCode = "ConflictingFieldRoles"
	DiagInvalidTemplate           DiagnosticCode = "InvalidTemplate"
	DiagInvalidRelationship       DiagnosticCode = "InvalidRelationship"
	DiagUnknownIndex              DiagnosticCode = "UnknownIndex"
	DiagInvalidTimeZone           DiagnosticCode = "InvalidTimeZone"
	DiagInvalidGenerate           DiagnosticCode = "InvalidGenerate"
	DiagInvalidPattern            DiagnosticCode = "InvalidPattern"
)

// Severity of a diagnostic. Any Error severity makes the model unusable.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is one schema problem with its location.
type Diagnostic struct {
	Severity  Severity
	Code      DiagnosticCode
	Message   string
	Entity    string // entity shape name, "" for schema-level problems
	FieldPath string // field name, "" for entity-level problems
}

func (d Diagnostic) String() string {
	loc := d.Entity
	if d.FieldPath != "" {
		loc += "." + d.FieldPath
	}
	if loc != "" {
		return fmt.Sprintf("[%s] %s (%s)", d.Code, d.Message, loc)
	}
	return fmt.Sprintf("[%s] %s", d.Code, d.Message)
}

// Diagnostics is the batch of problems found during schema compilation.
// It implements error; a nil or error-free batch is a successful build.
type Diagnostics []Diagnostic

// Error summarizes up to three diagnostics and the total count.
func (ds Diagnostics) Error() string {
	if len(ds) == 0 {
		return "schema: no diagnostics"
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("schema: %d problem(s): ", len(ds)))
	n := len(ds)
	if n > 3 {
		n = 3
	}
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(ds[i].String())
	}
	if len(ds) > 3 {
		b.WriteString(fmt.Sprintf("; and %d more", len(ds)-3))
	}
	return b.String()
}

// HasErrors reports whether any diagnostic is of Error severity.
func (ds Diagnostics) HasErrors() bool {
	for _, d := range ds {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Filter returns the diagnostics carrying the given code.
func (ds Diagnostics) Filter(code DiagnosticCode) Diagnostics {
	var out Diagnostics
	for _, d := range ds {
		if d.Code == code {
			out = append(out, d)
		}
	}
	return out
}

// AsDiagnostics extracts a Diagnostics batch from an error chain.
func AsDiagnostics(err error) (Diagnostics, bool) {
	var ds Diagnostics
	if errors.As(err, &ds) {
		return ds, true
	}
	return nil, false
}

// collector accumulates diagnostics during compilation.
type collector struct {
	list Diagnostics
}

func (c *collector) errorf(code DiagnosticCode, entity, fieldPath, format string, args ...any) {
	c.list = append(c.list, Diagnostic{
		Severity: SeverityError, Code: code,
		Message: fmt.Sprintf(format, args...),
		Entity:  entity, FieldPath: fieldPath,
	})
}

func (c *collector) warnf(code DiagnosticCode, entity, fieldPath, format string, args ...any) {
	c.list = append(c.list, Diagnostic{
		Severity: SeverityWarning, Code: code,
		Message: fmt.Sprintf(format, args...),
		Entity:  entity, FieldPath: fieldPath,
	})
}
