package registry

import (
	"testing"

	"hermes/internal/backplane"
	"hermes/internal/herrors"
)

// TestBuildOrdering covers S1: modules a (x, y) and b (z) should produce
// slots in order a.x, a.y, b.z.
func TestBuildOrdering(t *testing.T) {
	mods := []ModuleSignals{
		{Module: "a", Signals: []LocalSignal{
			{Name: "x", Type: backplane.F64, Writable: true},
			{Name: "y", Type: backplane.F64, Writable: true},
		}},
		{Module: "b", Signals: []LocalSignal{
			{Name: "z", Type: backplane.F64, Writable: true},
		}},
	}

	reg, err := Build(mods)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	wantOrder := []string{"a.x", "a.y", "b.z"}
	specs := reg.Specs()
	if len(specs) != len(wantOrder) {
		t.Fatalf("len(specs) = %d, want %d", len(specs), len(wantOrder))
	}
	for i, want := range wantOrder {
		if specs[i].Name != want {
			t.Errorf("specs[%d].Name = %q, want %q", i, specs[i].Name, want)
		}
		idx, ok := reg.Slot(want)
		if !ok || idx != i {
			t.Errorf("Slot(%q) = %d, %v, want %d, true", want, idx, ok, i)
		}
	}
}

func TestBuildDuplicateNameFails(t *testing.T) {
	mods := []ModuleSignals{
		{Module: "a", Signals: []LocalSignal{{Name: "x", Type: backplane.F64}}},
		{Module: "a", Signals: []LocalSignal{{Name: "x", Type: backplane.F64}}},
	}
	_, err := Build(mods)
	if err == nil {
		t.Fatal("expected duplicate name error")
	}
	if !herrors.IsKind(err, herrors.Config) {
		t.Errorf("expected Config kind, got %v", err)
	}
}

func TestValidateNameRejectsBadNames(t *testing.T) {
	bad := []string{
		"",
		"noDot",
		"a.",
		".b",
		"a.b.c",
		"a b.c",
		"a.b c",
		"a.b\x00",
	}
	for _, name := range bad {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}

	good := []string{"a.x", "module_1.local-2"}
	for _, name := range good {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}
}

func TestIsWritable(t *testing.T) {
	mods := []ModuleSignals{
		{Module: "phys", Signals: []LocalSignal{
			{Name: "x", Type: backplane.F64, Writable: true},
			{Name: "y", Type: backplane.F64, Writable: false},
		}},
	}
	reg, err := Build(mods)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if w, ok := reg.IsWritable("phys.x"); !ok || !w {
		t.Errorf("IsWritable(phys.x) = %v, %v, want true, true", w, ok)
	}
	if w, ok := reg.IsWritable("phys.y"); !ok || w {
		t.Errorf("IsWritable(phys.y) = %v, %v, want false, true", w, ok)
	}
	if _, ok := reg.IsWritable("phys.nope"); ok {
		t.Error("IsWritable(phys.nope) should report not found")
	}
}
