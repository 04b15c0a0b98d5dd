package fluentdynamo

import (
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func userMapper(t *testing.T, params *MapperParams) *Mapper {
	t.Helper()
	m := compileOne(t, "User", FieldMap{
		"id":       {Type: FieldTypeString, Required: true, Generate: "ulid"},
		"name":     {Type: FieldTypeString, Required: true},
		"email":    {Type: FieldTypeString, Crypt: true},
		"nickname": {Type: FieldTypeString, Nullable: true},
		"status":   {Type: FieldTypeString, Default: "idle"},
		"age":      {Type: FieldTypeNumber},
	}, &SchemaParams{Timestamps: true})
	return NewMapper(m, params)
}

func TestMapper_ToRecordBasics(t *testing.T) {
	mp := userMapper(t, nil)
	rec, err := mp.ToRecord(bg(), Item{
		"id":      "u1",
		"name":    "Peter Smith",
		"age":     42,
		"unknown": 99,
	})
	if err != nil {
		t.Fatalf("ToRecord: %v", err)
	}
	assertAttr(t, rec, "pk", "User#u1")
	assertAttr(t, rec, "_type", "User")
	assertAttr(t, rec, "name", "Peter Smith")
	assertAttr(t, rec, "age", "42")
	assertAttr(t, rec, "status", "idle")
	assertNoAttr(t, rec, "unknown")
	assertPresent(t, Item{"created": rec["created"]}, "created")
	assertPresent(t, Item{"updated": rec["updated"]}, "updated")
}

func TestMapper_GenerateId(t *testing.T) {
	mp := userMapper(t, nil)
	rec, err := mp.ToRecord(bg(), Item{"name": "Ada"})
	if err != nil {
		t.Fatalf("ToRecord: %v", err)
	}
	id := avStr(rec["id"])
	if !reULID.MatchString(id) {
		t.Errorf("expected generated ULID, got %q", id)
	}
	assertAttr(t, rec, "pk", "User#"+id)

	rec, err = mp.ToRecord(bg(), Item{"id": "fixed", "name": "Ada"})
	if err != nil {
		t.Fatalf("ToRecord: %v", err)
	}
	assertAttr(t, rec, "id", "fixed")
}

func TestMapper_Timestamps(t *testing.T) {
	mp := userMapper(t, nil)
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	mp.now = func() time.Time { return t0 }

	rec, err := mp.ToRecord(bg(), Item{"id": "u1", "name": "Ada"})
	if err != nil {
		t.Fatalf("ToRecord: %v", err)
	}
	if got := floatAttr(rec, "created"); int64(got) != t0.UnixMilli() {
		t.Errorf("created = %v, want %v", got, t0.UnixMilli())
	}
	if got := floatAttr(rec, "updated"); int64(got) != t0.UnixMilli() {
		t.Errorf("updated = %v, want %v", got, t0.UnixMilli())
	}

	// a later write keeps created and refreshes updated
	t1 := t0.Add(time.Hour)
	mp.now = func() time.Time { return t1 }
	item, err := mp.FromRecord(bg(), rec)
	if err != nil {
		t.Fatalf("FromRecord: %v", err)
	}
	rec2, err := mp.ToRecord(bg(), item)
	if err != nil {
		t.Fatalf("ToRecord: %v", err)
	}
	if got := floatAttr(rec2, "created"); int64(got) != t0.UnixMilli() {
		t.Errorf("created moved to %v", got)
	}
	if got := floatAttr(rec2, "updated"); int64(got) != t1.UnixMilli() {
		t.Errorf("updated = %v, want %v", got, t1.UnixMilli())
	}
}

func TestMapper_RoundTrip(t *testing.T) {
	mp := userMapper(t, nil)
	rec, err := mp.ToRecord(bg(), Item{"id": "u1", "name": "Ada", "age": 36})
	if err != nil {
		t.Fatalf("ToRecord: %v", err)
	}
	item, err := mp.FromRecord(bg(), rec)
	if err != nil {
		t.Fatalf("FromRecord: %v", err)
	}
	assertStr(t, item, "id", "u1")
	assertStr(t, item, "name", "Ada")
	assertNum(t, item, "age", 36)
	assertStr(t, item, "status", "idle")
	assertAbsent(t, item, "pk")
	assertAbsent(t, item, "_type")
}

func TestMapper_HiddenKept(t *testing.T) {
	mp := userMapper(t, &MapperParams{Hidden: true})
	rec, _ := mp.ToRecord(bg(), Item{"id": "u1", "name": "Ada"})
	item, err := mp.FromRecord(bg(), rec)
	if err != nil {
		t.Fatalf("FromRecord: %v", err)
	}
	assertStr(t, item, "pk", "User#u1")
	assertStr(t, item, "_type", "User")
}

func TestMapper_RequiredMissingOnWrite(t *testing.T) {
	strict := userMapper(t, &MapperParams{Strict: true})
	_, err := strict.ToRecord(bg(), Item{"id": "u1"})
	assertErrCode(t, err, ErrValidation)

	lenient := userMapper(t, nil)
	rec, err := lenient.ToRecord(bg(), Item{"id": "u1"})
	if err != nil {
		t.Fatalf("lenient ToRecord: %v", err)
	}
	assertNoAttr(t, rec, "name")
}

func TestMapper_RequiredMissingOnRead(t *testing.T) {
	mp := userMapper(t, nil)
	rec, _ := mp.ToRecord(bg(), Item{"id": "u1", "name": "Ada"})
	delete(rec, "name")

	_, err := mp.FromRecord(bg(), rec)
	assertErrCode(t, err, ErrConstruction)
	if !strings.Contains(err.Error(), "name") {
		t.Errorf("error does not name the field: %v", err)
	}
}

func TestMapper_NullableUnsetOmitted(t *testing.T) {
	mp := userMapper(t, nil)

	rec, err := mp.ToRecord(bg(), Item{"id": "u1", "name": "Ada"})
	if err != nil {
		t.Fatalf("ToRecord: %v", err)
	}
	assertNoAttr(t, rec, "nickname")

	item, err := mp.FromRecord(bg(), rec)
	if err != nil {
		t.Fatalf("FromRecord: %v", err)
	}
	assertAbsent(t, item, "nickname")
}

func TestMapper_NullableExplicitNil(t *testing.T) {
	mp := userMapper(t, nil)

	rec, err := mp.ToRecord(bg(), Item{"id": "u1", "name": "Ada", "nickname": nil})
	if err != nil {
		t.Fatalf("ToRecord: %v", err)
	}
	if _, ok := rec["nickname"].(*types.AttributeValueMemberNULL); !ok {
		t.Fatalf("expected NULL node, got %#v", rec["nickname"])
	}

	item, err := mp.FromRecord(bg(), rec)
	if err != nil {
		t.Fatalf("FromRecord: %v", err)
	}
	assertAbsent(t, item, "nickname")
}

func TestMapper_CryptRoundTrip(t *testing.T) {
	cipher := NewGCMCipher(map[string]*CipherConfig{
		"primary": {Password: "test-secret"},
	})
	mp := userMapper(t, &MapperParams{Cipher: cipher})

	rec, err := mp.ToRecord(bg(), Item{"id": "u1", "name": "Ada", "email": "ada@example.com"})
	if err != nil {
		t.Fatalf("ToRecord: %v", err)
	}
	stored := avStr(rec["email"])
	if !strings.HasPrefix(stored, "primary::") {
		t.Fatalf("expected sealed value, got %q", stored)
	}
	if strings.Contains(stored, "ada@example.com") {
		t.Fatal("plaintext leaked into the record")
	}

	item, err := mp.FromRecord(bg(), rec)
	if err != nil {
		t.Fatalf("FromRecord: %v", err)
	}
	assertStr(t, item, "email", "ada@example.com")
}

func TestMapper_PrimaryKey(t *testing.T) {
	mp := userMapper(t, nil)
	key, err := mp.PrimaryKey(bg(), Item{"id": "u1"})
	if err != nil {
		t.Fatalf("PrimaryKey: %v", err)
	}
	assertAttr(t, key, "pk", "User#u1")
	if len(key) != 1 {
		t.Errorf("expected key attributes only, got %v", key)
	}

	_, err = mp.PrimaryKey(bg(), Item{})
	assertErrCode(t, err, ErrKeyMaterial)
}

func TestMapper_ExplicitDiscriminatorValue(t *testing.T) {
	set := mustCompile(t, &SchemaDef{
		Version: "0.0.1",
		Indexes: map[string]*IndexDef{"primary": {Hash: "pk", Sort: "sk"}},
		Entities: map[string]*EntityDef{
			"Order": {
				Discriminator: &DiscriminatorDef{Value: "ORD"},
				Fields: FieldMap{
					"pk": {Type: FieldTypeString, Key: KeyRolePartition,
						Derived: &DerivedDef{Template: "ORDER#${id}"}},
					"sk": {Type: FieldTypeString, Key: KeyRoleSort,
						Derived: &DerivedDef{Template: "META"}},
					"id": {Type: FieldTypeString, Required: true},
				},
			},
		},
	})
	m, err := set.Model("Order")
	if err != nil {
		t.Fatalf("Model: %v", err)
	}
	mp := NewMapper(m, nil)
	rec, err := mp.ToRecord(bg(), Item{"id": "o1"})
	if err != nil {
		t.Fatalf("ToRecord: %v", err)
	}
	assertAttr(t, rec, "_type", "ORD")
	if !m.Matches(rec) {
		t.Error("written record does not match its own shape")
	}
}
