package http

import "github.com/forattini-dev/raffel/internal/errs"

var envelopeDecodeErr = *errs.New(errs.ParseError, "request body is not valid JSON")

// toErrsError extracts the *errs.Error a router error-kind envelope carries,
// normalizing anything else into an opaque INTERNAL error so the adapter
// never panics on an unexpected payload shape.
func toErrsError(payload any) *errs.Error {
	switch v := payload.(type) {
	case *errs.Error:
		return v
	case errs.Error:
		return &v
	case error:
		return errs.ToError(v)
	default:
		return errs.New(errs.Internal, "unknown error payload")
	}
}
