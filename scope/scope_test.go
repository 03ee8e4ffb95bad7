package scope

import (
	"errors"
	"testing"
)

func TestNewSet_DeduplicatesAndKeepsOrder(t *testing.T) {
	s := NewSet("b", "a", "b", "", "c", "a")

	want := []string{"b", "a", "c"}
	got := s.Strings()
	if len(got) != len(want) {
		t.Fatalf("NewSet() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("NewSet()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "empty", raw: "", want: ""},
		{name: "single", raw: "existingPlugins", want: "existingPlugins"},
		{name: "extra whitespace", raw: "  a   b\tc ", want: "a b c"},
		{name: "duplicates", raw: "a b a", want: "a b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Parse(tt.raw).String(); got != tt.want {
				t.Errorf("Parse(%q).String() = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestSet_Intersect(t *testing.T) {
	requested := Parse("c a b")
	allowed := Parse("a c")

	got := requested.Intersect(allowed)
	if got.String() != "c a" {
		t.Errorf("Intersect() = %q, want %q", got.String(), "c a")
	}

	if !requested.Intersect(Parse("x")).IsEmpty() {
		t.Error("Intersect() with disjoint set should be empty")
	}
}

func TestSet_ContainsAllAndEqual(t *testing.T) {
	s := Parse("a b c")

	if !s.ContainsAll(Parse("c a")) {
		t.Error("ContainsAll() = false, want true")
	}
	if s.ContainsAll(Parse("a d")) {
		t.Error("ContainsAll() = true, want false")
	}
	if !s.ContainsAll(nil) {
		t.Error("ContainsAll(nil) = false, want true")
	}
	if !s.Equal(Parse("c b a")) {
		t.Error("Equal() = false for same members in different order")
	}
	if s.Equal(Parse("a b")) {
		t.Error("Equal() = true for a subset")
	}
}

func TestRegistry_Validate(t *testing.T) {
	r := DefaultRegistry()

	if err := r.Validate(NewSet(ExistingPlugins)); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if err := r.Validate(nil); err != nil {
		t.Errorf("Validate(nil) error = %v", err)
	}

	err := r.Validate(Parse("existingPlugins admin"))
	if !errors.Is(err, ErrUnknownScope) {
		t.Fatalf("Validate() error = %v, want ErrUnknownScope", err)
	}
}

func TestRegistry_KnownReturnsCopy(t *testing.T) {
	r := NewRegistry("a", "b")

	known := r.Known()
	known[0] = "mutated"

	if !r.IsKnown("a") {
		t.Error("mutating Known() result changed the registry")
	}
}
