package models

import (
	"reflect"
	"testing"
)

func TestMergePatchReplaceAndDelete(t *testing.T) {
	target := map[string]any{"a": 1, "b": "keep", "c": "drop"}
	patch := map[string]any{"a": 2, "c": nil, "d": true}

	got := MergePatch(target, patch)
	want := map[string]any{"a": 2, "b": "keep", "d": true}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	// The inputs are not mutated.
	if _, ok := target["d"]; ok {
		t.Error("target map was mutated")
	}
	if target["c"] != "drop" {
		t.Error("target map lost a key")
	}
}

func TestMergePatchNestedObjects(t *testing.T) {
	target := map[string]any{
		"upstream_outputs": map[string]any{
			"t1": map[string]any{"output": "x"},
		},
	}
	patch := map[string]any{
		"upstream_outputs": map[string]any{
			"t2": map[string]any{"output": "y"},
		},
	}

	got := MergePatch(target, patch)
	outputs, ok := got["upstream_outputs"].(map[string]any)
	if !ok {
		t.Fatalf("upstream_outputs missing: %v", got)
	}
	if _, ok := outputs["t1"]; !ok {
		t.Error("merge dropped existing key t1")
	}
	if _, ok := outputs["t2"]; !ok {
		t.Error("merge did not add key t2")
	}
}

func TestMergePatchScalarOverObject(t *testing.T) {
	target := map[string]any{"k": map[string]any{"nested": 1}}
	got := MergePatch(target, map[string]any{"k": "flat"})
	if got["k"] != "flat" {
		t.Errorf("scalar should replace object, got %v", got["k"])
	}
}

func TestMergePatchCommutativeForDisjointKeys(t *testing.T) {
	base := map[string]any{"keep": true}
	p1 := map[string]any{"x": 1}
	p2 := map[string]any{"y": map[string]any{"z": 2}}

	ab := MergePatch(MergePatch(base, p1), p2)
	ba := MergePatch(MergePatch(base, p2), p1)
	if !reflect.DeepEqual(ab, ba) {
		t.Errorf("disjoint patches should commute: %v vs %v", ab, ba)
	}
}
