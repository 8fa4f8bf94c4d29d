package statepatch

import (
	"encoding/json"
	"reflect"
	"testing"
)

func mustApply(t *testing.T, s *State, patch string) {
	t.Helper()
	if err := Apply(s, json.RawMessage(patch)); err != nil {
		t.Fatalf("apply %s: %v", patch, err)
	}
}

func TestApplyObjectForm(t *testing.T) {
	s := New()
	mustApply(t, s, `{"set":[["a",1],["b","x"],["c",null]],"remove":["b","missing"]}`)

	if got := s.Keys(); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Fatalf("keys = %v", got)
	}
	if v, _ := s.Get("a"); v != float64(1) {
		t.Fatalf("a = %v", v)
	}
	// object form stores null as a value rather than deleting
	if v, ok := s.Get("c"); !ok || v != nil {
		t.Fatalf("c = %v ok=%v", v, ok)
	}
}

func TestApplyArrayFormNullDeletes(t *testing.T) {
	s := New()
	mustApply(t, s, `[["a",1],["b",true]]`)
	mustApply(t, s, `[["b",null],["c",{"n":2}]]`)

	if got := s.Keys(); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Fatalf("keys = %v", got)
	}
	v, _ := s.Get("c")
	if !reflect.DeepEqual(v, map[string]any{"n": float64(2)}) {
		t.Fatalf("c = %v", v)
	}
}

func TestMalformedEntriesSkipped(t *testing.T) {
	s := New()
	mustApply(t, s, `[["a",1],["only-one"],["a","b","c"],42,["d",4]]`)

	if got := s.Keys(); !reflect.DeepEqual(got, []string{"a", "d"}) {
		t.Fatalf("keys = %v", got)
	}
}

func TestNilAndNullPatchNoop(t *testing.T) {
	s := New()
	s.Set("a", float64(1))
	mustApply(t, s, "")
	mustApply(t, s, "null")
	if s.Len() != 1 {
		t.Fatalf("len = %d", s.Len())
	}
}

func TestUpdateKeepsPosition(t *testing.T) {
	s := New()
	mustApply(t, s, `[["a",1],["b",2],["c",3]]`)
	mustApply(t, s, `[["b",20]]`)

	if got := s.Keys(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("keys = %v", got)
	}
	if v, _ := s.Get("b"); v != float64(20) {
		t.Fatalf("b = %v", v)
	}
}

func TestNoAliasingWithPatchValues(t *testing.T) {
	s := New()
	nested := map[string]any{"inner": []any{float64(1)}}
	s.Set("k", nested)
	nested["inner"].([]any)[0] = float64(99)

	v, _ := s.Get("k")
	got := v.(map[string]any)["inner"].([]any)[0]
	if got != float64(1) {
		t.Fatalf("stored value aliases caller tree: %v", got)
	}
}

func TestParseObjectPreservesOrder(t *testing.T) {
	st, err := ParseObject([]byte(`{"z":1,"a":{"zz":1,"aa":2},"m":[1,"two"]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := st.Keys(); !reflect.DeepEqual(got, []string{"z", "a", "m"}) {
		t.Fatalf("keys = %v", got)
	}

	if _, err := ParseObject([]byte(`[1,2]`)); err == nil {
		t.Fatal("expected error for non-object")
	}
}

func TestMarshalJSONOrdered(t *testing.T) {
	s := New()
	s.Set("z", float64(1))
	s.Set("a", "x")

	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"z":1,"a":"x"}` {
		t.Fatalf("marshal = %s", b)
	}
}
