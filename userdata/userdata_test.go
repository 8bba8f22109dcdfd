package userdata

import (
	"context"
	"reflect"
	"testing"
)

func TestMemoryStoreSetGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	v, err := s.Get(ctx, "u1", "missing")
	if err != nil || v != "" {
		t.Fatalf("expected empty value, got %q, %v", v, err)
	}

	_ = s.Set(ctx, "u1", "payment:p1:status", "2")
	_ = s.Set(ctx, "u1", "payment:p1:status", "3")
	_ = s.Set(ctx, "u2", "payment:p1:status", "2")

	v, _ = s.Get(ctx, "u1", "payment:p1:status")
	if v != "3" {
		t.Fatalf("expected latest value 3, got %q", v)
	}
	v, _ = s.Get(ctx, "u2", "payment:p1:status")
	if v != "2" {
		t.Fatalf("users must not share fields, got %q", v)
	}
}

func TestMemoryStoreQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Set(ctx, "u1", "payment:p1:record", "r1")
	_ = s.Set(ctx, "u1", "payment:p1:status", "3")
	_ = s.Set(ctx, "u1", "payment:p22:status", "2")
	_ = s.Set(ctx, "u1", "profile.name", "x")

	tests := []struct {
		pattern string
		want    []string
	}{
		{pattern: "payment:p1:%", want: []string{"payment:p1:record", "payment:p1:status"}},
		{pattern: "payment:p_:status", want: []string{"payment:p1:status"}},
		{pattern: "%:status", want: []string{"payment:p1:status", "payment:p22:status"}},
		{pattern: "profile.name", want: []string{"profile.name"}},
		{pattern: "profile_name", want: []string{"profile.name"}},
		{pattern: "nothing%", want: []string{}},
	}
	for _, tt := range tests {
		got, err := s.Query(ctx, "u1", tt.pattern)
		if err != nil {
			t.Fatalf("Query(%q): %v", tt.pattern, err)
		}
		if fields := SortedFields(got); !reflect.DeepEqual(fields, tt.want) {
			t.Fatalf("Query(%q) = %v, want %v", tt.pattern, fields, tt.want)
		}
	}
}

func TestEscapeLike(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Set(ctx, "u1", "payment:50%_off:intent", "pi_a")
	_ = s.Set(ctx, "u1", "payment:50xxoff:intent", "pi_b")
	_ = s.Set(ctx, "u1", `payment:a\b:intent`, "pi_c")

	tests := []struct {
		literal string
		want    []string
	}{
		{literal: "payment:50%_off:", want: []string{"payment:50%_off:intent"}},
		{literal: `payment:a\b:`, want: []string{`payment:a\b:intent`}},
		{literal: "payment:%", want: []string{}},
	}
	for _, tt := range tests {
		got, err := s.Query(ctx, "u1", EscapeLike(tt.literal)+"%")
		if err != nil {
			t.Fatalf("Query(%q): %v", tt.literal, err)
		}
		if fields := SortedFields(got); !reflect.DeepEqual(fields, tt.want) {
			t.Fatalf("Query(%q) = %v, want %v", tt.literal, fields, tt.want)
		}
	}

	if _, err := s.Query(ctx, "u1", `dangling\`); err == nil {
		t.Fatal("expected an error for a trailing escape")
	}
}
