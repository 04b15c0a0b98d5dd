// Package fluentdynamo compiles declarative entity schemas into
// bidirectional mapping logic between plain Go items and raw DynamoDB
// attribute maps.
//
// A schema document declares entity shapes for a single-table design:
// field types, partition/sort key roles, derived (composite) keys,
// extracted key components, relationships and type discriminators.
// CompileSchema validates the whole document at once and returns an
// immutable SchemaSet; every problem is reported in one Diagnostics
// batch rather than one error at a time.
//
// # Mapping
//
// A Mapper converts items of one shape. Writes compute derived keys
// from their source fields in dependency order before encoding; reads
// split extracted components back out of their source attributes after
// decoding:
//
//	set, err := fluentdynamo.CompileSchemaDocument(doc)
//	model, err := set.Model("Order")
//	mapper := fluentdynamo.NewMapper(model, nil)
//
//	rec, err := mapper.ToRecord(ctx, fluentdynamo.Item{
//	    "tenantId": "T1", "orderId": "O42", "total": 99.5,
//	})
//	order, err := mapper.FromRecord(ctx, rec)
//
// # Heterogeneous tables
//
// When one table stores several shapes, Matches decides which shape a
// raw record belongs to: an explicit discriminator attribute wins, then
// the sort-key pattern, then required-attribute presence. A
// Reconstructor assembles one logical entity from the records sharing
// its partition key, attaching relationship children in input order.
//
// # Store binding
//
// Store binds a compiled schema set to a table name and a DynamoDB
// client and offers Get, Put, Remove, Find, SaveEntity and LoadEntity.
// The store computes keys and records; transport behavior stays with
// the client.
package fluentdynamo
