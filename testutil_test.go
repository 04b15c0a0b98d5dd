/*
Package fluentdynamo – shared test infrastructure: an in-memory DynamoDB
substitute, schema fixtures and assertion helpers.
*/
package fluentdynamo

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	ddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var reULID = regexp.MustCompile(`^[0-9A-Z]{26}$`)

func bg() context.Context { return context.Background() }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func str(v string) *types.AttributeValueMemberS { return &types.AttributeValueMemberS{Value: v} }
func num(v string) *types.AttributeValueMemberN { return &types.AttributeValueMemberN{Value: v} }
func nullAttr() *types.AttributeValueMemberNULL { return &types.AttributeValueMemberNULL{Value: true} }

// avStr reads an S or N attribute as its raw string, "" for anything else.
func avStr(av types.AttributeValue) string {
	s, _ := attrString(av)
	return s
}

// ─── fakeClient ──────────────────────────────────────────────────────────────

// fakeClient is a thread-safe in-memory stand-in for the five client
// operations the store uses. Records are keyed "pk||sk". Query evaluates
// the rendered key condition and filter expressions naively: equality,
// begins_with and AND conjunctions, which is all the store emits.
type fakeClient struct {
	mu       sync.RWMutex
	tables   map[string]map[string]Record
	pageSize int // when > 0, Query truncates pages to this many items
	batches  []int
	queries  int
	failWith error // when set, every call returns it
}

func newFakeClient() *fakeClient {
	return &fakeClient{tables: map[string]map[string]Record{}}
}

func (c *fakeClient) tbl(name string) map[string]Record {
	if c.tables[name] == nil {
		c.tables[name] = map[string]Record{}
	}
	return c.tables[name]
}

func itemKey(rec Record) string {
	return avStr(rec["pk"]) + "||" + avStr(rec["sk"])
}

func (c *fakeClient) count(table string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tbl(table))
}

// storeRaw puts a record into the table behind the store's back.
func (c *fakeClient) storeRaw(table string, rec Record) {
	c.mu.Lock()
	c.tbl(table)[itemKey(rec)] = rec
	c.mu.Unlock()
}

func (c *fakeClient) GetItem(_ context.Context, p *ddb.GetItemInput, _ ...func(*ddb.Options)) (*ddb.GetItemOutput, error) {
	if c.failWith != nil {
		return nil, c.failWith
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &ddb.GetItemOutput{Item: c.tbl(deref(p.TableName))[itemKey(p.Key)]}, nil
}

func (c *fakeClient) PutItem(_ context.Context, p *ddb.PutItemInput, _ ...func(*ddb.Options)) (*ddb.PutItemOutput, error) {
	if c.failWith != nil {
		return nil, c.failWith
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tbl(deref(p.TableName))[itemKey(p.Item)] = p.Item
	return &ddb.PutItemOutput{}, nil
}

func (c *fakeClient) DeleteItem(_ context.Context, p *ddb.DeleteItemInput, _ ...func(*ddb.Options)) (*ddb.DeleteItemOutput, error) {
	if c.failWith != nil {
		return nil, c.failWith
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tbl(deref(p.TableName)), itemKey(p.Key))
	return &ddb.DeleteItemOutput{}, nil
}

func (c *fakeClient) BatchWriteItem(_ context.Context, p *ddb.BatchWriteItemInput, _ ...func(*ddb.Options)) (*ddb.BatchWriteItemOutput, error) {
	if c.failWith != nil {
		return nil, c.failWith
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for table, reqs := range p.RequestItems {
		c.batches = append(c.batches, len(reqs))
		for _, req := range reqs {
			if req.PutRequest != nil {
				c.tbl(table)[itemKey(req.PutRequest.Item)] = req.PutRequest.Item
			} else if req.DeleteRequest != nil {
				delete(c.tbl(table), itemKey(req.DeleteRequest.Key))
			}
		}
	}
	return &ddb.BatchWriteItemOutput{}, nil
}

func (c *fakeClient) Query(_ context.Context, p *ddb.QueryInput, _ ...func(*ddb.Options)) (*ddb.QueryOutput, error) {
	if c.failWith != nil {
		return nil, c.failWith
	}
	c.mu.Lock()
	c.queries++
	c.mu.Unlock()

	c.mu.RLock()
	defer c.mu.RUnlock()

	// records with the index keys, sorted by the index sort attribute
	partAttr, sortAttr := "pk", "sk"
	if idx := deref(p.IndexName); idx != "" {
		partAttr, sortAttr = idx+"pk", idx+"sk"
	}
	var all []Record
	for _, rec := range c.tbl(deref(p.TableName)) {
		if rec[partAttr] == nil {
			continue
		}
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := avStr(all[i][sortAttr]), avStr(all[j][sortAttr])
		if a != b {
			return a < b
		}
		return itemKey(all[i]) < itemKey(all[j])
	})
	if p.ScanIndexForward != nil && !*p.ScanIndexForward {
		for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
			all[i], all[j] = all[j], all[i]
		}
	}

	var items []Record
	for _, rec := range all {
		if !evalCondition(rec, deref(p.KeyConditionExpression), p.ExpressionAttributeNames, p.ExpressionAttributeValues) {
			continue
		}
		if !evalCondition(rec, deref(p.FilterExpression), p.ExpressionAttributeNames, p.ExpressionAttributeValues) {
			continue
		}
		items = append(items, rec)
	}

	if len(p.ExclusiveStartKey) > 0 {
		after := itemKey(p.ExclusiveStartKey)
		for i, rec := range items {
			if itemKey(rec) == after {
				items = items[i+1:]
				break
			}
		}
	}

	limit := len(items)
	if p.Limit != nil && int(*p.Limit) < limit {
		limit = int(*p.Limit)
	}
	if c.pageSize > 0 && c.pageSize < limit {
		limit = c.pageSize
	}
	var last Record
	if limit < len(items) && limit > 0 {
		end := items[limit-1]
		last = Record{"pk": end["pk"], "sk": end["sk"]}
	}
	items = items[:limit]
	return &ddb.QueryOutput{Items: items, Count: int32(len(items)), LastEvaluatedKey: last}, nil
}

// ─── expression evaluation ───────────────────────────────────────────────────

// evalCondition checks a rendered expression against a record. Supports
// what the store can emit: "#n = :n", "begins_with (#n, :n)", comparison
// operators and top-level AND conjunctions.
func evalCondition(rec Record, expr string, names map[string]string, vals Record) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true
	}
	for _, clause := range splitAnd(expr) {
		if !evalClause(rec, clause, names, vals) {
			return false
		}
	}
	return true
}

// splitAnd splits on " AND " outside parentheses.
func splitAnd(expr string) []string {
	var parts []string
	depth, last := 0, 0
	for i := 0; i < len(expr); i++ {
		switch expr[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth == 0 && strings.HasPrefix(expr[i:], " AND ") {
			parts = append(parts, expr[last:i])
			last = i + len(" AND ")
		}
	}
	return append(parts, expr[last:])
}

func evalClause(rec Record, clause string, names map[string]string, vals Record) bool {
	clause = strings.TrimSpace(clause)
	for strings.HasPrefix(clause, "(") && strings.HasSuffix(clause, ")") {
		clause = strings.TrimSpace(clause[1 : len(clause)-1])
	}

	resolveName := func(tok string) string {
		tok = strings.TrimSpace(tok)
		if v, ok := names[tok]; ok {
			return v
		}
		return tok
	}
	recVal := func(tok string) string {
		return avStr(rec[resolveName(tok)])
	}

	if strings.HasPrefix(clause, "begins_with") {
		inner := clause[strings.Index(clause, "(")+1 : strings.LastIndex(clause, ")")]
		comma := strings.LastIndex(inner, ",")
		if comma < 0 {
			return false
		}
		prefix := avStr(vals[strings.TrimSpace(inner[comma+1:])])
		return strings.HasPrefix(recVal(inner[:comma]), prefix)
	}

	for _, op := range []string{"<>", "<=", ">=", "<", ">", "="} {
		idx := strings.Index(clause, op)
		if idx < 0 {
			continue
		}
		got := recVal(clause[:idx])
		want := avStr(vals[strings.TrimSpace(clause[idx+len(op):])])
		switch op {
		case "=":
			return got == want
		case "<>":
			return got != want
		case "<":
			return got < want
		case "<=":
			return got <= want
		case ">":
			return got > want
		case ">=":
			return got >= want
		}
	}
	return true
}

// ─── schema fixtures ─────────────────────────────────────────────────────────

// orderSchema declares two shapes sharing one partition: an Order header
// stored under sort key "META" and its OrderLine children under
// "LINE#<nnn>". Tenant and order identifiers live only inside the
// partition key and are parsed back out on read.
func orderSchema() *SchemaDef {
	return &SchemaDef{
		Version: "0.0.1",
		Name:    "OrdersTable",
		Indexes: map[string]*IndexDef{
			"primary": {Hash: "pk", Sort: "sk"},
			"gs1":     {Hash: "gs1pk", Sort: "gs1sk"},
		},
		Entities: map[string]*EntityDef{
			"Order": {
				Fields: FieldMap{
					"pk": {Type: FieldTypeString, Key: KeyRolePartition,
						Derived: &DerivedDef{Template: "ORDER#${tenantId}#${orderId}"}},
					"sk": {Type: FieldTypeString, Key: KeyRoleSort,
						Derived: &DerivedDef{Template: "META"}},
					"tenantId": {Type: FieldTypeString, Required: true,
						Extracted: &ExtractedDef{Source: "pk", Index: 1}},
					"orderId": {Type: FieldTypeString, Required: true,
						Extracted: &ExtractedDef{Source: "pk", Index: 2}},
					"customer": {Type: FieldTypeString, Required: true},
					"status":   {Type: FieldTypeEnum, Enum: []string{"open", "shipped", "cancelled"}, Default: "open"},
					"total":    {Type: FieldTypeNumber},
					"notes":    {Type: FieldTypeString, Nullable: true},
					"gs1pk": {Type: FieldTypeString, Key: KeyRoleGSIPartition, Index: "gs1",
						Derived: &DerivedDef{Template: "TENANT#${tenantId}"}},
					"gs1sk": {Type: FieldTypeString, Key: KeyRoleGSISort, Index: "gs1",
						Derived: &DerivedDef{Template: "ORDER#${orderId}"}},
				},
				Relationships: []RelationshipDef{
					{Field: "lines", Entity: "OrderLine", Pattern: "LINE#*", Collection: true},
				},
			},
			"OrderLine": {
				Fields: FieldMap{
					"pk": {Type: FieldTypeString, Key: KeyRolePartition,
						Derived: &DerivedDef{Template: "ORDER#${tenantId}#${orderId}"}},
					"sk": {Type: FieldTypeString, Key: KeyRoleSort,
						Derived: &DerivedDef{Template: "LINE#${lineNo:3:0}"}},
					"tenantId": {Type: FieldTypeString, Required: true,
						Extracted: &ExtractedDef{Source: "pk", Index: 1}},
					"orderId": {Type: FieldTypeString, Required: true,
						Extracted: &ExtractedDef{Source: "pk", Index: 2}},
					"lineNo": {Type: FieldTypeNumber, Required: true, Format: "int",
						Extracted: &ExtractedDef{Source: "sk", Index: 1}},
					"sku": {Type: FieldTypeString, Required: true},
					"qty": {Type: FieldTypeNumber, Format: "int"},
				},
			},
		},
	}
}

func mustCompile(t *testing.T, def *SchemaDef) *SchemaSet {
	t.Helper()
	set, err := CompileSchema(def)
	if err != nil {
		t.Fatalf("CompileSchema: %v", err)
	}
	return set
}

// compileOne builds a single-shape schema around the given fields. A
// partition key "pk" derived from a required "id" is injected unless the
// fields declare their own.
func compileOne(t *testing.T, name string, fields FieldMap, params *SchemaParams) *Model {
	t.Helper()
	fm := FieldMap{}
	for k, v := range fields {
		fm[k] = v
	}
	if _, ok := fm["pk"]; !ok {
		fm["pk"] = &FieldDef{Type: FieldTypeString, Key: KeyRolePartition,
			Derived: &DerivedDef{Template: name + "#${id}"}}
		if _, ok := fm["id"]; !ok {
			fm["id"] = &FieldDef{Type: FieldTypeString, Required: true}
		}
	}
	set := mustCompile(t, &SchemaDef{
		Version:  "0.0.1",
		Indexes:  map[string]*IndexDef{"primary": {Hash: "pk", Sort: "sk"}},
		Entities: map[string]*EntityDef{name: {Fields: fm}},
		Params:   params,
	})
	m, err := set.Model(name)
	if err != nil {
		t.Fatalf("Model(%q): %v", name, err)
	}
	return m
}

func newOrderStore(t *testing.T) (*Store, *fakeClient) {
	t.Helper()
	set := mustCompile(t, orderSchema())
	client := newFakeClient()
	st, err := NewStore(&StoreParams{Name: "OrdersTable", Client: client, Schema: set})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return st, client
}

// ─── assertion helpers ───────────────────────────────────────────────────────

func assertStr(t *testing.T, item Item, key, want string) {
	t.Helper()
	got, ok := item[key].(string)
	if !ok || got != want {
		t.Errorf("item[%q] = %v (%T), want %q", key, item[key], item[key], want)
	}
}

func assertNum(t *testing.T, item Item, key string, want float64) {
	t.Helper()
	switch v := item[key].(type) {
	case float64:
		if v != want {
			t.Errorf("item[%q] = %v, want %v", key, v, want)
		}
	case int:
		if float64(v) != want {
			t.Errorf("item[%q] = %v, want %v", key, v, want)
		}
	default:
		t.Errorf("item[%q] type %T = %v, want float64(%v)", key, item[key], item[key], want)
	}
}

func assertAbsent(t *testing.T, item Item, key string) {
	t.Helper()
	if v, exists := item[key]; exists {
		t.Errorf("expected item[%q] absent, got %v", key, v)
	}
}

func assertPresent(t *testing.T, item Item, key string) {
	t.Helper()
	if item[key] == nil {
		t.Errorf("expected item[%q] defined", key)
	}
}

func assertLen(t *testing.T, items []Item, want int) {
	t.Helper()
	if len(items) != want {
		t.Errorf("expected %d items, got %d", want, len(items))
	}
}

// assertAttr checks the stored form of a record attribute: S and N
// members compare by their raw string.
func assertAttr(t *testing.T, rec Record, attr, want string) {
	t.Helper()
	if rec[attr] == nil {
		t.Errorf("expected rec[%q] = %q, attribute missing", attr, want)
		return
	}
	if got := avStr(rec[attr]); got != want {
		t.Errorf("rec[%q] = %q, want %q", attr, got, want)
	}
}

func assertNoAttr(t *testing.T, rec Record, attr string) {
	t.Helper()
	if v, exists := rec[attr]; exists {
		t.Errorf("expected rec[%q] absent, got %v", attr, v)
	}
}

func assertErrCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %q, got nil", code)
	}
	var me *MappingError
	if errors.As(err, &me) {
		if me.Code != code {
			t.Errorf("expected error code %q, got: %v", code, err)
		}
		return
	}
	var ae *ArgError
	if errors.As(err, &ae) {
		if ae.Code != code {
			t.Errorf("expected error code %q, got: %v", code, err)
		}
		return
	}
	t.Errorf("expected a coded error %q, got: %v", code, err)
}

// assertDiag checks that a failed build reports the given code at least once.
func assertDiag(t *testing.T, err error, code DiagnosticCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected diagnostics with %q, got nil", code)
	}
	ds, ok := AsDiagnostics(err)
	if !ok {
		t.Fatalf("expected a diagnostics batch, got: %v", err)
	}
	if len(ds.Filter(code)) == 0 {
		t.Errorf("expected a %q diagnostic, got: %v", code, err)
	}
}

func assertWarnKind(t *testing.T, warnings []Warning, kind string) {
	t.Helper()
	for _, w := range warnings {
		if w.Kind == kind {
			return
		}
	}
	t.Errorf("expected a %q warning, got: %v", kind, warnings)
}

func floatAttr(rec Record, attr string) float64 {
	f, _ := strconv.ParseFloat(avStr(rec[attr]), 64)
	return f
}
