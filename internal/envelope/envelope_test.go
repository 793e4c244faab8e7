package envelope

import "testing"

func TestNewMintsID(t *testing.T) {
	env := New("users.get", KindRequest, map[string]any{"id": 1})
	if env.ID == "" {
		t.Fatal("expected New to mint a non-empty ID")
	}
	if env.Procedure != "users.get" || env.Kind != KindRequest {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestReplyCorrelatesByID(t *testing.T) {
	req := New("users.get", KindRequest, nil)
	resp := req.Reply(KindResponse, map[string]any{"name": "ana"})

	if resp.ID != req.ID {
		t.Fatalf("expected reply ID %q to match request ID %q", resp.ID, req.ID)
	}
	if resp.Procedure != req.Procedure {
		t.Fatalf("expected reply to carry the originating procedure name")
	}
	if resp.Kind != KindResponse {
		t.Fatalf("expected reply kind %q, got %q", KindResponse, resp.Kind)
	}
}

func TestWithMetadataDoesNotMutateOriginal(t *testing.T) {
	orig := New("users.get", KindRequest, nil)
	orig.Metadata["trace"] = "abc"

	clone := orig.WithMetadata("requestId", "r-1")

	if _, ok := orig.Header("requestId"); ok {
		t.Fatal("expected WithMetadata to leave the original envelope untouched")
	}
	if v, ok := clone.Header("requestId"); !ok || v != "r-1" {
		t.Fatalf("expected clone to carry the new metadata key, got %q, %v", v, ok)
	}
	if v, ok := clone.Header("trace"); !ok || v != "abc" {
		t.Fatalf("expected clone to preserve existing metadata, got %q, %v", v, ok)
	}
}

func TestHeaderOnNilMetadata(t *testing.T) {
	env := &Envelope{}
	if _, ok := env.Header("anything"); ok {
		t.Fatal("expected Header on a nil Metadata map to report not-ok")
	}
}

func TestKindIsStream(t *testing.T) {
	streamKinds := []Kind{KindStreamStart, KindStreamData, KindStreamEnd, KindStreamError}
	for _, k := range streamKinds {
		if !k.IsStream() {
			t.Errorf("expected %q to be a stream kind", k)
		}
	}
	nonStream := []Kind{KindRequest, KindResponse, KindEvent, KindAck, KindError}
	for _, k := range nonStream {
		if k.IsStream() {
			t.Errorf("expected %q not to be a stream kind", k)
		}
	}
}
