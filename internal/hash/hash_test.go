package hash

import "testing"

func TestContentDeterministic(t *testing.T) {
	v := map[string]any{"name": "alice", "age": 30}
	h1, err := Content(v)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := Content(v)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("same value hashed differently: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected hex sha256, got %q", h1)
	}
}

func TestContentKeyOrderIrrelevant(t *testing.T) {
	// Maps with the same entries must hash identically regardless of
	// construction order, including nested ones.
	a := map[string]any{"b": 1, "a": map[string]any{"y": 2, "x": 3}}
	b := map[string]any{"a": map[string]any{"x": 3, "y": 2}, "b": 1}

	ha, _ := Content(a)
	hb, _ := Content(b)
	if ha != hb {
		t.Error("key order changed the hash")
	}
}

func TestContentNilValuesDropped(t *testing.T) {
	with := map[string]any{"name": "bob", "email": nil}
	without := map[string]any{"name": "bob"}

	h1, _ := Content(with)
	h2, _ := Content(without)
	if h1 != h2 {
		t.Error("explicit null changed the hash")
	}
}

func TestContentDetectsChange(t *testing.T) {
	h1, _ := Content(map[string]any{"status": "active"})
	h2, _ := Content(map[string]any{"status": "inactive"})
	if h1 == h2 {
		t.Error("different values hashed identically")
	}
}

func TestContentStructAndMapAgree(t *testing.T) {
	type person struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}
	h1, err := Content(person{Name: "carol", Age: 41})
	if err != nil {
		t.Fatal(err)
	}
	h2, _ := Content(map[string]any{"name": "carol", "age": 41})
	if h1 != h2 {
		t.Error("struct and equivalent map hashed differently")
	}
}
