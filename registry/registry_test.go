package registry

import (
	"testing"

	"github.com/skyvane-array/mcs/types"
)

type fakeNode struct {
	fqdn types.FQDN
}

func (f fakeNode) FQDN() types.FQDN { return f.fqdn }

func TestRegisterLookup(t *testing.T) {
	r := New()
	n := fakeNode{fqdn: "mid/vcc/1"}
	if err := r.Register(n); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, ok := r.Lookup("mid/vcc/1")
	if !ok {
		t.Fatal("Lookup: not found")
	}
	if got.FQDN() != n.FQDN() {
		t.Fatalf("Lookup returned %v, want %v", got.FQDN(), n.FQDN())
	}
}

func TestRegisterRejectsDuplicateFQDN(t *testing.T) {
	r := New()
	n := fakeNode{fqdn: "mid/vcc/1"}
	if err := r.Register(n); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := r.Register(n); err == nil {
		t.Fatal("expected an error registering the same FQDN twice")
	}
}

func TestRegisterRejectsInvalidFQDN(t *testing.T) {
	r := New()
	n := fakeNode{fqdn: "mid/vcc"} // only 2 parts
	if err := r.Register(n); err == nil {
		t.Fatal("expected an error for a malformed FQDN")
	}
	if _, ok := r.Lookup("mid/vcc"); ok {
		t.Fatal("a rejected registration must not be stored")
	}
}

func TestLookupMissing(t *testing.T) {
	r := New()
	if _, ok := r.Lookup("mid/vcc/99"); ok {
		t.Fatal("Lookup found a node that was never registered")
	}
}

func TestMustLookup(t *testing.T) {
	r := New()
	n := fakeNode{fqdn: "mid/fsp/1"}
	if err := r.Register(n); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.MustLookup("mid/fsp/1"); err != nil {
		t.Fatalf("MustLookup: %v", err)
	}
	if _, err := r.MustLookup("mid/fsp/99"); err == nil {
		t.Fatal("expected an error for a missing FQDN")
	}
}

func TestAllFiltersByPredicate(t *testing.T) {
	r := New()
	for _, fqdn := range []types.FQDN{"mid/vcc/1", "mid/vcc/2", "mid/fsp/1"} {
		if err := r.Register(fakeNode{fqdn: fqdn}); err != nil {
			t.Fatalf("Register(%s): %v", fqdn, err)
		}
	}

	vccs := r.All(func(f types.FQDN) bool {
		return len(f) >= 7 && f[4:7] == "vcc"
	})
	if len(vccs) != 2 {
		t.Fatalf("All(vcc) = %v, want 2 entries", vccs)
	}
}
