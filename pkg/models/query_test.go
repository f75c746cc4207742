package models

import (
	"encoding/json"
	"testing"
)

func TestRow_MarshalJSONKeepsColumnOrder(t *testing.T) {
	row := NewRow(
		[]string{"sale_date", "customer", "total_amount", "?column?"},
		[]any{"2025-05-01", "ООО Сладость", 1250.5, int32(1)},
	)

	data, err := json.Marshal(row)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	want := `{"sale_date":"2025-05-01","customer":"ООО Сладость","total_amount":1250.5,"?column?":1}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}

func TestRow_MissingValuesAreNull(t *testing.T) {
	row := Row{Columns: []string{"a", "b"}, Values: []any{1}}

	data, err := json.Marshal(row)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `{"a":1,"b":null}` {
		t.Errorf("got %s", data)
	}
}

func TestRow_Get(t *testing.T) {
	row := NewRow([]string{"id", "name"}, []any{7, "Иванов", "extra"})

	if len(row.Values) != 2 {
		t.Fatalf("extra values should be dropped, got %d", len(row.Values))
	}
	if v, ok := row.Get("name"); !ok || v != "Иванов" {
		t.Errorf("Get(name) = %v, %v", v, ok)
	}
	if _, ok := row.Get("missing"); ok {
		t.Error("Get(missing) should report false")
	}
	if m := row.Map(); m["id"] != 7 {
		t.Errorf("Map()[id] = %v", m["id"])
	}
}

func TestQueryResult_JSONUsesDataField(t *testing.T) {
	result := QueryResult{
		Success:  true,
		Rows:     []Row{NewRow([]string{"?column?"}, []any{1})},
		RowCount: 1,
		Columns:  []string{"?column?"},
	}

	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	rows, ok := decoded["data"].([]any)
	if !ok || len(rows) != 1 {
		t.Fatalf("data = %v", decoded["data"])
	}
	if _, ok := decoded["summary"]; ok {
		t.Error("summary should be omitted when nil")
	}
}
