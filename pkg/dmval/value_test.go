package dmval

import "testing"

func TestExtensibleRoundTrip(t *testing.T) {
	e := New().Set("pool", "p1").Set("size", int64(42)).Set("migrated", true)

	raw, err := e.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	got, err := Deserialize(raw)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}

	if got.GetString("pool", "") != "p1" {
		t.Errorf("pool = %q, want p1", got.GetString("pool", ""))
	}
	if got.GetInt64("size", 0) != 42 {
		t.Errorf("size = %d, want 42", got.GetInt64("size", 0))
	}
	if !got.GetBool("migrated", false) {
		t.Error("migrated = false, want true")
	}
}

func TestExtensibleGetDefaults(t *testing.T) {
	e := New()
	if e.GetString("missing", "def") != "def" {
		t.Error("expected default string")
	}
	if e.GetInt64("missing", 7) != 7 {
		t.Error("expected default int64")
	}
	if e.GetBool("missing", true) != true {
		t.Error("expected default bool")
	}
}

func TestExtensibleClone(t *testing.T) {
	e := New().Set("a", "1")
	clone := e.Clone()
	clone.Set("a", "2")
	if e.GetString("a", "") != "1" {
		t.Error("clone mutated original")
	}
}

func TestDeserializeEmpty(t *testing.T) {
	e, err := Deserialize("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(e) != 0 {
		t.Errorf("expected empty bag, got %v", e)
	}
}
