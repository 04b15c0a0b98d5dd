package fluentdynamo

import (
	"reflect"
	"testing"
)

func TestSchemaRegistry_SaveReadRoundTrip(t *testing.T) {
	st, client := newOrderStore(t)

	if err := st.SaveSchema(bg(), "", orderSchema()); err != nil {
		t.Fatalf("SaveSchema: %v", err)
	}
	rec := client.tables["OrdersTable"]["_schema||_schema:Current"]
	if rec == nil {
		t.Fatalf("no registry record stored")
	}
	assertAttr(t, rec, "name", "Current")
	assertAttr(t, rec, "version", "0.0.1")
	assertAttr(t, rec, "format", "fluentdynamo:1.0.0")

	def, err := st.ReadSchema(bg(), "")
	if err != nil {
		t.Fatalf("ReadSchema: %v", err)
	}
	if def.Format != "fluentdynamo:1.0.0" {
		t.Errorf("document format = %q", def.Format)
	}
	set, err := CompileSchema(def)
	if err != nil {
		t.Fatalf("CompileSchema on stored document: %v", err)
	}
	if _, err := set.Model("OrderLine"); err != nil {
		t.Errorf("stored document lost a shape: %v", err)
	}
}

func TestSchemaRegistry_NamedDocuments(t *testing.T) {
	st, client := newOrderStore(t)

	for _, name := range []string{"", "v1", "v2"} {
		if err := st.SaveSchema(bg(), name, orderSchema()); err != nil {
			t.Fatalf("SaveSchema(%q): %v", name, err)
		}
	}

	// one document per page still lists all of them
	client.pageSize = 1
	names, err := st.ListSchemas(bg())
	if err != nil {
		t.Fatalf("ListSchemas: %v", err)
	}
	if want := []string{"Current", "v1", "v2"}; !reflect.DeepEqual(names, want) {
		t.Errorf("ListSchemas = %v, want %v", names, want)
	}
}

func TestSchemaRegistry_ReadMiss(t *testing.T) {
	st, _ := newOrderStore(t)

	_, err := st.ReadSchema(bg(), "ghost")
	assertErrCode(t, err, ErrNotFound)
}

func TestSchemaRegistry_Remove(t *testing.T) {
	st, _ := newOrderStore(t)

	if err := st.SaveSchema(bg(), "v1", orderSchema()); err != nil {
		t.Fatalf("SaveSchema: %v", err)
	}
	if err := st.RemoveSchema(bg(), "v1"); err != nil {
		t.Fatalf("RemoveSchema: %v", err)
	}
	_, err := st.ReadSchema(bg(), "v1")
	assertErrCode(t, err, ErrNotFound)
}

func TestSchemaRegistry_SaveNil(t *testing.T) {
	st, _ := newOrderStore(t)

	err := st.SaveSchema(bg(), "", nil)
	assertErrCode(t, err, ErrArgument)
}
