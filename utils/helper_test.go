package utils

import "testing"

func TestUniqueSlice(t *testing.T) {
	got := UniqueSlice([]string{"renewal", "upsell", "renewal", "expansion", "upsell"})
	want := []string{"renewal", "upsell", "expansion"}
	if len(got) != len(want) {
		t.Fatalf("want %d elements, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order of first occurrence must be kept: want %v, got %v", want, got)
		}
	}
	if out := UniqueSlice([]string(nil)); len(out) != 0 {
		t.Fatalf("nil input should stay empty, got %v", out)
	}
}

func TestDereferencePtr(t *testing.T) {
	enabled := false
	if DereferencePtr(&enabled, true) {
		t.Fatal("set pointer must win over the default")
	}
	if !DereferencePtr[bool](nil, true) {
		t.Fatal("nil pointer should yield the default")
	}
	if DereferencePtr[int](nil) != 0 {
		t.Fatal("nil pointer without default should yield the zero value")
	}
}
