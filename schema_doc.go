/*
Package fluentdynamo – schema documents.

Schema definitions travel as JSON or YAML documents, so they can be
reviewed and versioned next to the table they describe. Parsing applies
no validation beyond syntax; CompileSchema owns semantics.
*/
package fluentdynamo

import (
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

const schemaFormat = "fluentdynamo:1.0.0"

// ParseSchemaJSON decodes a JSON schema document.
func ParseSchemaJSON(data []byte) (*SchemaDef, error) {
	def := &SchemaDef{}
	if err := json.Unmarshal(data, def); err != nil {
		return nil, NewArgError("cannot parse schema document: " + err.Error())
	}
	return def, nil
}

// ParseSchemaYAML decodes a YAML schema document.
func ParseSchemaYAML(data []byte) (*SchemaDef, error) {
	def := &SchemaDef{}
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, NewArgError("cannot parse schema document: " + err.Error())
	}
	return def, nil
}

// ParseSchema decodes a schema document, sniffing JSON vs YAML.
func ParseSchema(data []byte) (*SchemaDef, error) {
	if trimmed := strings.TrimSpace(string(data)); strings.HasPrefix(trimmed, "{") {
		return ParseSchemaJSON(data)
	}
	return ParseSchemaYAML(data)
}

// MarshalSchemaJSON encodes a schema definition as a JSON document,
// stamping the format version.
func MarshalSchemaJSON(def *SchemaDef) ([]byte, error) {
	if def == nil {
		return nil, NewArgError("schema definition is required")
	}
	out := *def
	out.Format = schemaFormat
	if out.Version == "" {
		out.Version = "0.0.1"
	}
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, NewArgError("cannot marshal schema document: " + err.Error())
	}
	return data, nil
}

// MarshalSchemaYAML encodes a schema definition as a YAML document,
// stamping the format version.
func MarshalSchemaYAML(def *SchemaDef) ([]byte, error) {
	if def == nil {
		return nil, NewArgError("schema definition is required")
	}
	out := *def
	out.Format = schemaFormat
	if out.Version == "" {
		out.Version = "0.0.1"
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return nil, NewArgError("cannot marshal schema document: " + err.Error())
	}
	return data, nil
}

// CompileSchemaDocument parses and compiles in one step.
func CompileSchemaDocument(data []byte) (*SchemaSet, error) {
	def, err := ParseSchema(data)
	if err != nil {
		return nil, err
	}
	return CompileSchema(def)
}
