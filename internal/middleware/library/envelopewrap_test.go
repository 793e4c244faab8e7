package library

import (
	"context"
	"testing"

	"github.com/forattini-dev/raffel/internal/envelope"
	"github.com/forattini-dev/raffel/internal/errs"
)

func TestEnvelopeWrapSuccess(t *testing.T) {
	interceptor := EnvelopeWrap()
	env := envelope.New("ping", envelope.KindRequest, nil)
	ctx := envelope.NewContext(context.Background(), "r-1")

	interceptor(env, ctx, func() (any, error) { return "pong", nil })

	wrapped, ok := ctx.Get("response")
	if !ok {
		t.Fatal("expected EnvelopeWrap to stash a response in context extensions")
	}
	e := wrapped.(Envelope)
	if !e.Success || e.Data != "pong" {
		t.Fatalf("expected a success envelope carrying the result, got %+v", e)
	}
}

func TestEnvelopeWrapError(t *testing.T) {
	interceptor := EnvelopeWrap()
	env := envelope.New("boom", envelope.KindRequest, nil)
	ctx := envelope.NewContext(context.Background(), "r-1")

	interceptor(env, ctx, func() (any, error) { return nil, errs.New(errs.NotFound, "missing") })

	wrapped, _ := ctx.Get("response")
	e := wrapped.(Envelope)
	if e.Success || e.Error == nil || e.Error.Code != errs.NotFound {
		t.Fatalf("expected a failure envelope carrying the error, got %+v", e)
	}
}
