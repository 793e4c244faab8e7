package middleware

import (
	"testing"

	"github.com/forattini-dev/raffel/internal/envelope"
)

func recorder(name string, order *[]string) Interceptor {
	return func(env *envelope.Envelope, ctx *envelope.Context, next Next) (any, error) {
		*order = append(*order, name+":before")
		v, err := next()
		*order = append(*order, name+":after")
		return v, err
	}
}

func TestComposeRunsOnionOrder(t *testing.T) {
	var order []string
	chain := Compose(recorder("a", &order), recorder("b", &order), recorder("c", &order))

	env := envelope.New("x", envelope.KindRequest, nil)
	ctx := envelope.NewContext(nil, "r-1")
	_, err := chain(env, ctx, func() (any, error) { order = append(order, "terminal"); return "ok", nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"a:before", "b:before", "c:before", "terminal", "c:after", "b:after", "a:after"}
	if len(order) != len(want) {
		t.Fatalf("expected order %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestComposeEmptyChainCallsTerminal(t *testing.T) {
	chain := Compose()
	env := envelope.New("x", envelope.KindRequest, nil)
	ctx := envelope.NewContext(nil, "r-1")

	called := false
	v, err := chain(env, ctx, func() (any, error) { called = true; return 42, nil })
	if err != nil || !called || v != 42 {
		t.Fatalf("expected empty chain to call straight through to terminal, got v=%v err=%v called=%v", v, err, called)
	}
}

func TestComposeShortCircuit(t *testing.T) {
	shortCircuit := func(env *envelope.Envelope, ctx *envelope.Context, next Next) (any, error) {
		return "short-circuited", nil
	}
	terminalCalled := false
	chain := Compose(shortCircuit, recorder("never", &[]string{}))

	env := envelope.New("x", envelope.KindRequest, nil)
	ctx := envelope.NewContext(nil, "r-1")
	v, err := chain(env, ctx, func() (any, error) { terminalCalled = true; return nil, nil })

	if err != nil || v != "short-circuited" || terminalCalled {
		t.Fatalf("expected short-circuit to skip downstream and terminal, got v=%v err=%v terminalCalled=%v", v, err, terminalCalled)
	}
}

func TestForPatternSkipsWhenNotMatched(t *testing.T) {
	inner := func(env *envelope.Envelope, ctx *envelope.Context, next Next) (any, error) {
		return "inner", nil
	}
	scoped := ForPattern("admin.**", inner)

	env := envelope.New("public.ping", envelope.KindRequest, nil)
	ctx := envelope.NewContext(nil, "r-1")
	v, err := scoped(env, ctx, func() (any, error) { return "terminal", nil })
	if err != nil || v != "terminal" {
		t.Fatalf("expected pattern miss to fall through to next(), got v=%v err=%v", v, err)
	}
}

func TestForPatternRunsWhenMatched(t *testing.T) {
	inner := func(env *envelope.Envelope, ctx *envelope.Context, next Next) (any, error) {
		return "inner", nil
	}
	scoped := ForPattern("admin.**", inner)

	env := envelope.New("admin.users.delete", envelope.KindRequest, nil)
	ctx := envelope.NewContext(nil, "r-1")
	v, err := scoped(env, ctx, func() (any, error) { return "terminal", nil })
	if err != nil || v != "inner" {
		t.Fatalf("expected pattern match to run inner interceptor, got v=%v err=%v", v, err)
	}
}
