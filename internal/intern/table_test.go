package intern

import (
	"errors"
	"testing"
)

func TestIntern_Sequential(t *testing.T) {
	tab := New()

	for want, name := range []string{"x", "y", "length", ""} {
		if got := tab.Intern(name); got != want {
			t.Errorf("Intern(%q) = %d, want %d", name, got, want)
		}
	}
	if tab.Len() != 4 {
		t.Errorf("Len() = %d, want 4", tab.Len())
	}
}

func TestIntern_Idempotent(t *testing.T) {
	tab := New()

	first := tab.Intern("field")
	tab.Intern("other")
	second := tab.Intern("field")

	if first != second {
		t.Errorf("Intern twice returned %d and %d", first, second)
	}
	if tab.Len() != 2 {
		t.Errorf("Len() = %d, want 2", tab.Len())
	}
}

func TestIntern_ResolveRoundTrip(t *testing.T) {
	tab := New()

	for _, s := range []string{"a", "b", "héllo", "with space", "a"} {
		got, err := tab.Resolve(tab.Intern(s))
		if err != nil {
			t.Fatalf("Resolve(Intern(%q)) failed: %v", s, err)
		}
		if got != s {
			t.Errorf("Resolve(Intern(%q)) = %q", s, got)
		}
	}
}

func TestIntern_ResolveUnknown(t *testing.T) {
	tab := New()
	tab.Intern("only")

	for _, id := range []int{-1, 1, 100} {
		_, err := tab.Resolve(id)
		var unknown *UnknownIDError
		if !errors.As(err, &unknown) {
			t.Fatalf("Resolve(%d) error = %v, want UnknownIDError", id, err)
		}
		if unknown.ID != id {
			t.Errorf("UnknownIDError.ID = %d, want %d", unknown.ID, id)
		}
	}
}

func TestIntern_Lookup(t *testing.T) {
	tab := New()

	if _, ok := tab.Lookup("missing"); ok {
		t.Error("Lookup should not find a name that was never interned")
	}
	if tab.Len() != 0 {
		t.Error("Lookup must not assign ids")
	}

	id := tab.Intern("present")
	if got, ok := tab.Lookup("present"); !ok || got != id {
		t.Errorf("Lookup(present) = %d, %v", got, ok)
	}
}
