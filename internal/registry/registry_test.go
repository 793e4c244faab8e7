package registry

import (
	"testing"

	"github.com/forattini-dev/raffel/internal/envelope"
)

func TestRegisterProcedureAndLookup(t *testing.T) {
	r := New()
	handler := func(ctx *envelope.Context, payload any) (any, error) { return "pong", nil }

	if err := r.RegisterProcedure("ping", handler, Options{Description: "health check"}); err != nil {
		t.Fatalf("unexpected error registering procedure: %v", err)
	}

	entry, ok := r.Lookup("ping")
	if !ok {
		t.Fatal("expected to find the registered procedure")
	}
	if entry.Kind != KindProcedure || entry.Description != "health check" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestRegisterDuplicateNameFails(t *testing.T) {
	r := New()
	handler := func(ctx *envelope.Context, payload any) (any, error) { return nil, nil }

	if err := r.RegisterProcedure("ping", handler, Options{}); err != nil {
		t.Fatalf("unexpected error on first registration: %v", err)
	}
	err := r.RegisterProcedure("ping", handler, Options{})
	if err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestRegisterEventDefaultsToBestEffort(t *testing.T) {
	r := New()
	handler := func(ctx *envelope.Context, payload any) error { return nil }

	if err := r.RegisterEvent("user.created", handler, Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry, _ := r.Lookup("user.created")
	if entry.Delivery != BestEffort {
		t.Fatalf("expected default delivery guarantee %q, got %q", BestEffort, entry.Delivery)
	}
}

func TestRegisterStreamCarriesBidirectFlag(t *testing.T) {
	r := New()
	handler := func(ctx *envelope.Context, payload any, emit Emit) error { return nil }

	if err := r.RegisterStream("chat.room", handler, Options{StreamBidirect: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry, _ := r.Lookup("chat.room")
	if !entry.StreamBidirect {
		t.Fatal("expected StreamBidirect to carry through from Options")
	}
}

func TestLookupMissingReturnsFalse(t *testing.T) {
	r := New()
	if _, ok := r.Lookup("missing"); ok {
		t.Fatal("expected lookup of an unregistered name to report not-ok")
	}
}

func TestListReturnsSnapshot(t *testing.T) {
	r := New()
	handler := func(ctx *envelope.Context, payload any) (any, error) { return nil, nil }
	_ = r.RegisterProcedure("a", handler, Options{})
	_ = r.RegisterProcedure("b", handler, Options{})

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list))
	}

	list[0] = nil // mutating the snapshot must not affect the registry
	if fresh := r.List(); len(fresh) != 2 || fresh[0] == nil || fresh[1] == nil {
		t.Fatal("expected List to return an independent snapshot")
	}
}

func TestMustRegisterProcedurePanicsOnDuplicate(t *testing.T) {
	r := New()
	handler := func(ctx *envelope.Context, payload any) (any, error) { return nil, nil }
	r.MustRegisterProcedure("ping", handler, Options{})

	defer func() {
		if recover() == nil {
			t.Fatal("expected MustRegisterProcedure to panic on duplicate name")
		}
	}()
	r.MustRegisterProcedure("ping", handler, Options{})
}
