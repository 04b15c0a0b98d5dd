/*
Package fluentdynamo – store binding.

Binds a compiled schema set to one table and one DynamoDB client. The
store computes keys and records through per-entity mappers, memoized
once each, and hands raw traffic to the client as-is: no retries, no
conditions, pagination only where an operation needs a whole partition
group.
*/
package fluentdynamo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	ddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// MaxBatchSize is the most write requests one BatchWriteItem call accepts.
const MaxBatchSize = 25

// RecordGetter reads single records.
type RecordGetter interface {
	GetItem(ctx context.Context, params *ddb.GetItemInput, optFns ...func(*ddb.Options)) (*ddb.GetItemOutput, error)
}

// RecordPutter writes single records.
type RecordPutter interface {
	PutItem(ctx context.Context, params *ddb.PutItemInput, optFns ...func(*ddb.Options)) (*ddb.PutItemOutput, error)
}

// RecordDeleter removes single records.
type RecordDeleter interface {
	DeleteItem(ctx context.Context, params *ddb.DeleteItemInput, optFns ...func(*ddb.Options)) (*ddb.DeleteItemOutput, error)
}

// RecordQuerier runs key-condition queries.
type RecordQuerier interface {
	Query(ctx context.Context, params *ddb.QueryInput, optFns ...func(*ddb.Options)) (*ddb.QueryOutput, error)
}

// RecordBatchWriter writes record batches.
type RecordBatchWriter interface {
	BatchWriteItem(ctx context.Context, params *ddb.BatchWriteItemInput, optFns ...func(*ddb.Options)) (*ddb.BatchWriteItemOutput, error)
}

// DynamoClient is the composite interface the stock SDK client satisfies.
type DynamoClient interface {
	RecordGetter
	RecordPutter
	RecordDeleter
	RecordQuerier
	RecordBatchWriter
}

// StoreParams configures NewStore.
type StoreParams struct {
	Name    string // table name
	Client  DynamoClient
	Schema  *SchemaSet
	Logger  Logger
	Verbose bool // route trace and data lines to the default sink
	Cipher  FieldCipher
	Strict  bool
	Hidden  bool // keep hidden fields on read results
}

// Store is the binding of a schema set to a table. Safe for concurrent
// use; per-entity reconstructors are built at most once each.
type Store struct {
	name   string
	client DynamoClient
	schema *SchemaSet
	log    Logger
	params MapperParams
	recons sync.Map // entity name → *Reconstructor
}

// NewStore validates the binding parameters and returns a Store.
func NewStore(params *StoreParams) (*Store, error) {
	if params == nil {
		return nil, NewArgError("store params are required")
	}
	if params.Name == "" {
		return nil, NewArgError("store table name is required")
	}
	if params.Client == nil {
		return nil, NewArgError("store client is required")
	}
	if params.Schema == nil {
		return nil, NewArgError("store schema is required")
	}
	var log Logger
	if params.Logger != nil {
		log = params.Logger
	} else if params.Verbose {
		log = VerboseLogger
	} else {
		log = defaultLogger{}
	}
	return &Store{
		name:   params.Name,
		client: params.Client,
		schema: params.Schema,
		log:    log,
		params: MapperParams{
			Strict: params.Strict,
			Hidden: params.Hidden,
			Logger: log,
			Cipher: params.Cipher,
		},
	}, nil
}

// Name returns the bound table name.
func (s *Store) Name() string { return s.name }

// Schema returns the bound schema set.
func (s *Store) Schema() *SchemaSet { return s.schema }

// Mapper returns the memoized mapper for an entity shape.
func (s *Store) Mapper(entity string) (*Mapper, error) {
	r, err := s.reconstructor(entity)
	if err != nil {
		return nil, err
	}
	return r.Mapper(), nil
}

// Get reads one record by its computed key and maps it back. A missing
// record, or a record of some other shape, reads as not found.
func (s *Store) Get(ctx context.Context, entity string, key Item) (Item, error) {
	mp, err := s.Mapper(entity)
	if err != nil {
		return nil, err
	}
	k, err := mp.PrimaryKey(ctx, key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetItem(ctx, &ddb.GetItemInput{
		TableName: aws.String(s.name),
		Key:       k,
	})
	if err != nil {
		return nil, s.wrapClientError("GetItem", err)
	}
	if len(out.Item) == 0 {
		return nil, NewMappingError("no record for key",
			WithCode(ErrNotFound),
			WithContext(map[string]any{"entity": entity, "table": s.name}))
	}
	if !mp.model.Matches(out.Item) {
		return nil, NewMappingError("record at key is not a "+entity,
			WithCode(ErrNotFound),
			WithContext(map[string]any{"entity": entity, "table": s.name}))
	}
	return mp.FromRecord(ctx, out.Item)
}

// Put writes one record and returns it as stored, generated key material
// and timestamps included.
func (s *Store) Put(ctx context.Context, entity string, item Item) (Record, error) {
	mp, err := s.Mapper(entity)
	if err != nil {
		return nil, err
	}
	rec, err := mp.ToRecord(ctx, item)
	if err != nil {
		return nil, err
	}
	if _, err := s.client.PutItem(ctx, &ddb.PutItemInput{
		TableName: aws.String(s.name),
		Item:      rec,
	}); err != nil {
		return nil, s.wrapClientError("PutItem", err)
	}
	return rec, nil
}

// Remove deletes the record for a key.
func (s *Store) Remove(ctx context.Context, entity string, key Item) error {
	mp, err := s.Mapper(entity)
	if err != nil {
		return err
	}
	k, err := mp.PrimaryKey(ctx, key)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteItem(ctx, &ddb.DeleteItemInput{
		TableName: aws.String(s.name),
		Key:       k,
	}); err != nil {
		return s.wrapClientError("DeleteItem", err)
	}
	return nil
}

// SaveEntity disassembles an entity into its record set and writes it in
// batches. Returns the records written.
func (s *Store) SaveEntity(ctx context.Context, entity string, item Item) ([]Record, error) {
	r, err := s.reconstructor(entity)
	if err != nil {
		return nil, err
	}
	recs, err := r.EntityRecords(ctx, item)
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(recs); i += MaxBatchSize {
		end := i + MaxBatchSize
		if end > len(recs) {
			end = len(recs)
		}
		writes := make([]types.WriteRequest, 0, end-i)
		for _, rec := range recs[i:end] {
			writes = append(writes, types.WriteRequest{
				PutRequest: &types.PutRequest{Item: rec},
			})
		}
		out, err := s.client.BatchWriteItem(ctx, &ddb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{s.name: writes},
		})
		if err != nil {
			return nil, s.wrapClientError("BatchWriteItem", err)
		}
		if n := len(out.UnprocessedItems[s.name]); n > 0 {
			return nil, NewMappingError("batch write left records unprocessed",
				WithCode(ErrRuntime),
				WithContext(map[string]any{"table": s.name, "unprocessed": n}))
		}
	}
	return recs, nil
}

// LoadEntity queries the whole partition group for a key and reconstructs
// one entity from it, relationship children attached.
func (s *Store) LoadEntity(ctx context.Context, entity string, key Item) (Item, error) {
	r, err := s.reconstructor(entity)
	if err != nil {
		return nil, err
	}
	input, err := r.primary.model.buildPartitionQuery(s.name, key)
	if err != nil {
		return nil, err
	}

	var records []Record
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, s.wrapClientError("Query", err)
		}
		for _, rec := range out.Items {
			records = append(records, rec)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	res, err := r.Reconstruct(ctx, records)
	if err != nil {
		return nil, err
	}
	for _, w := range res.Warnings {
		logInfo(s.log, w.Message, w.Context)
	}
	if len(res.Entities) == 0 {
		return nil, NewMappingError("no entity for key",
			WithCode(ErrNotFound),
			WithContext(map[string]any{"entity": entity, "table": s.name}))
	}
	return res.Entities[0], nil
}

// Find runs one page of a key-condition query compiled from the item's
// resolvable key material and maps the records of the requested shape.
func (s *Store) Find(ctx context.Context, entity string, key Item, params *FindParams) (*FindResult, error) {
	mp, err := s.Mapper(entity)
	if err != nil {
		return nil, err
	}
	input, err := mp.model.buildQuery(s.name, key, params)
	if err != nil {
		return nil, err
	}
	out, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, s.wrapClientError("Query", err)
	}

	res := &FindResult{}
	for _, rec := range out.Items {
		if !mp.model.Matches(rec) {
			continue // other shapes share the partition
		}
		item, err := mp.FromRecord(ctx, rec)
		if err != nil {
			return nil, err
		}
		res.Items = append(res.Items, item)
	}
	if len(out.LastEvaluatedKey) > 0 {
		res.LastKey = out.LastEvaluatedKey
	}
	return res, nil
}

// reconstructor returns the memoized reconstructor for an entity shape.
func (s *Store) reconstructor(entity string) (*Reconstructor, error) {
	if v, ok := s.recons.Load(entity); ok {
		return v.(*Reconstructor), nil
	}
	r, err := NewReconstructor(s.schema, entity, &s.params)
	if err != nil {
		return nil, err
	}
	actual, _ := s.recons.LoadOrStore(entity, r)
	return actual.(*Reconstructor), nil
}

// wrapClientError classifies a transport fault without retrying it.
func (s *Store) wrapClientError(op string, err error) error {
	var nf *types.ResourceNotFoundException
	if errors.As(err, &nf) {
		return NewMappingError("table "+s.name+" not found",
			WithCode(ErrNotFound), WithCause(err))
	}
	code := ""
	var ae smithy.APIError
	if errors.As(err, &ae) {
		code = ae.ErrorCode()
	}
	var oe *smithy.OperationError
	if errors.As(err, &oe) {
		logError(s.log, fmt.Sprintf("%s %s failed", oe.Service(), oe.Operation()),
			map[string]any{"code": code})
	}
	return NewMappingError(op+" failed",
		WithCode(ErrRuntime),
		WithContext(map[string]any{"table": s.name, "code": code}),
		WithCause(err))
}
