package envelope

import (
	"context"
	"testing"
	"time"
)

func TestCancelTokenTripsOnce(t *testing.T) {
	tok := NewCancelToken()
	fired := 0
	tok.Subscribe(func() { fired++ })
	tok.Subscribe(func() { fired++ })

	tok.Cancel(nil)
	tok.Cancel(nil) // second call must be a no-op

	if fired != 2 {
		t.Fatalf("expected both observers to fire exactly once, got %d", fired)
	}
	if !tok.Observe() {
		t.Fatal("expected token to report tripped after Cancel")
	}
}

func TestCancelTokenSubscribeAfterTripFiresImmediately(t *testing.T) {
	tok := NewCancelToken()
	tok.Cancel(nil)

	fired := false
	tok.Subscribe(func() { fired = true })
	if !fired {
		t.Fatal("expected Subscribe on an already-tripped token to fire synchronously")
	}
}

func TestChildCancelsWhenParentCancels(t *testing.T) {
	parent := NewCancelToken()
	child, _ := parent.Child()

	parent.Cancel(nil)

	select {
	case <-child.Done():
	case <-time.After(time.Second):
		t.Fatal("child token did not trip when parent was cancelled")
	}
}

func TestContextDeriveBindsStdContextDeadline(t *testing.T) {
	ctx := NewContext(context.Background(), "req-1")
	std, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	child := ctx.Derive(std)

	select {
	case <-child.Cancel.Done():
	case <-time.After(time.Second):
		t.Fatal("derived context's cancel token did not trip on std context deadline")
	}
}

func TestContextExtensions(t *testing.T) {
	ctx := NewContext(context.Background(), "req-1")
	ctx.Set("user", "alice")

	v, ok := ctx.Get("user")
	if !ok || v != "alice" {
		t.Fatalf("expected to read back stashed extension, got %v, %v", v, ok)
	}

	if _, ok := ctx.Get("missing"); ok {
		t.Fatal("expected missing extension key to report not-ok")
	}
}
