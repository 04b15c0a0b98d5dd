/*
Package fluentdynamo – stored schema registry.

A table can carry its own schema documents under the reserved "_schema"
partition, one record per named document. Readers load and compile the
active document at startup, so every process maps records through the
same shapes without a deployment side channel.
*/
package fluentdynamo

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	ddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	schemaPartition   = "_schema"
	defaultSchemaName = "Current"
)

// SaveSchema writes a schema document into the table under the reserved
// "_schema" partition. An empty name stores the active document
// "Current". The record never matches an entity shape, so it stays
// invisible to Find and reconstruction.
func (s *Store) SaveSchema(ctx context.Context, name string, def *SchemaDef) error {
	data, err := MarshalSchemaJSON(def)
	if err != nil {
		return err
	}
	if name == "" {
		name = defaultSchemaName
	}
	version := def.Version
	if version == "" {
		version = "0.0.1"
	}
	rec, err := s.schemaRecordKey(name)
	if err != nil {
		return err
	}
	rec["name"] = &types.AttributeValueMemberS{Value: name}
	rec["version"] = &types.AttributeValueMemberS{Value: version}
	rec["format"] = &types.AttributeValueMemberS{Value: schemaFormat}
	rec["document"] = &types.AttributeValueMemberS{Value: string(data)}

	if _, err := s.client.PutItem(ctx, &ddb.PutItemInput{
		TableName: aws.String(s.name),
		Item:      rec,
	}); err != nil {
		return s.wrapClientError("PutItem", err)
	}
	return nil
}

// ReadSchema loads a stored schema document by name, "Current" when the
// name is empty. The document parses back to a definition ready for
// CompileSchema.
func (s *Store) ReadSchema(ctx context.Context, name string) (*SchemaDef, error) {
	if name == "" {
		name = defaultSchemaName
	}
	key, err := s.schemaRecordKey(name)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetItem(ctx, &ddb.GetItemInput{
		TableName: aws.String(s.name),
		Key:       key,
	})
	if err != nil {
		return nil, s.wrapClientError("GetItem", err)
	}
	if len(out.Item) == 0 {
		return nil, NewMappingError("no stored schema "+name,
			WithCode(ErrNotFound),
			WithContext(map[string]any{"table": s.name, "name": name}))
	}
	doc, ok := recordString(out.Item, "document")
	if !ok {
		return nil, NewMappingError("stored schema record carries no document",
			WithCode(ErrConstruction),
			WithContext(map[string]any{"table": s.name, "name": name}))
	}
	return ParseSchemaJSON([]byte(doc))
}

// ListSchemas returns the names of the stored schema documents.
func (s *Store) ListSchemas(ctx context.Context) ([]string, error) {
	idx := s.schema.Index(primaryIndexName)
	if idx == nil {
		return nil, NewArgError("schema declares no primary index")
	}
	keyCond := expression.Key(idx.Hash).Equal(expression.Value(schemaPartition))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, NewMappingError("cannot build query expression",
			WithCode(ErrRuntime), WithCause(err))
	}
	input := &ddb.QueryInput{
		TableName:                 aws.String(s.name),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	var names []string
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, s.wrapClientError("Query", err)
		}
		for _, rec := range out.Items {
			if name, ok := recordString(rec, "name"); ok {
				names = append(names, name)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return names, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// RemoveSchema deletes a stored schema document.
func (s *Store) RemoveSchema(ctx context.Context, name string) error {
	if name == "" {
		name = defaultSchemaName
	}
	key, err := s.schemaRecordKey(name)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteItem(ctx, &ddb.DeleteItemInput{
		TableName: aws.String(s.name),
		Key:       key,
	}); err != nil {
		return s.wrapClientError("DeleteItem", err)
	}
	return nil
}

// schemaRecordKey computes the reserved key for a named document. Tables
// without a sort key hold a single document under the bare partition.
func (s *Store) schemaRecordKey(name string) (Record, error) {
	idx := s.schema.Index(primaryIndexName)
	if idx == nil {
		return nil, NewArgError("schema declares no primary index")
	}
	key := Record{
		idx.Hash: &types.AttributeValueMemberS{Value: schemaPartition},
	}
	if idx.Sort != "" {
		key[idx.Sort] = &types.AttributeValueMemberS{Value: schemaPartition + ":" + name}
	}
	return key, nil
}
