// Package pareerr holds the typed error kinds the optimization and
// estimation core can raise, matching the seven kinds named in the
// error handling design: UnsupportedFormat, InvalidConfig,
// InvalidPreset, ToolTimeout, OptimizationFailed, Overloaded, Cancelled.
//
// The kind-to-status-code catalog is TOML-driven and registered with
// an archiveerror.Factory at init, the same pattern the teacher uses
// for its own INDEXER error set; individual call sites still wrap
// with emperror.dev/errors the way every action in the teacher does.
package pareerr

import (
	"emperror.dev/errors"
	archiveerror "github.com/ocfl-archive/error/pkg/error"
)

var Factory = archiveerror.NewFactory("PARE")

func init() {
	catalog, err := archiveerror.LoadTOMLFileFS(catalogFS, "errors.toml")
	if err != nil {
		panic(errors.Wrap(err, "cannot load pare error catalog"))
	}
	if err := Factory.RegisterErrors(catalog); err != nil {
		panic(errors.Wrap(err, "cannot register pare error catalog"))
	}
}

// Kind is one of the seven closed error kinds the core can raise.
type Kind string

const (
	KindUnsupportedFormat Kind = "UnsupportedFormat"
	KindInvalidConfig     Kind = "InvalidConfig"
	KindInvalidPreset     Kind = "InvalidPreset"
	KindToolTimeout       Kind = "ToolTimeout"
	KindOptimizationFailed Kind = "OptimizationFailed"
	KindOverloaded        Kind = "Overloaded"
	KindCancelled         Kind = "Cancelled"
)

// Status returns the collaborator-facing HTTP status this kind maps
// to, per the error handling design's propagation policy.
func (k Kind) Status() int {
	switch k {
	case KindUnsupportedFormat:
		return 415
	case KindInvalidConfig, KindInvalidPreset:
		return 400
	case KindToolTimeout:
		return 500
	case KindOptimizationFailed:
		return 422
	case KindOverloaded:
		return 503
	case KindCancelled:
		return 499
	default:
		return 500
	}
}

// Error is the core's single error type: a kind plus a wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func UnsupportedFormat(detail string) *Error {
	return New(KindUnsupportedFormat, "unsupported image format: "+detail)
}

func InvalidConfig(detail string) *Error {
	return New(KindInvalidConfig, "invalid optimization config: "+detail)
}

func InvalidPreset(name string) *Error {
	return New(KindInvalidPreset, "invalid preset: "+name)
}

func ToolTimeout(tool string, cause error) *Error {
	return Wrap(KindToolTimeout, cause, "tool timed out: "+tool)
}

func OptimizationFailed(detail string, cause error) *Error {
	return Wrap(KindOptimizationFailed, cause, "optimization failed: "+detail)
}

func Overloaded(retryAfterHint string) *Error {
	return New(KindOverloaded, "compression gate overloaded, retry after "+retryAfterHint)
}

func Cancelled(cause error) *Error {
	return Wrap(KindCancelled, cause, "operation cancelled")
}

// As extracts a *Error from err's chain, matching the teacher's
// pervasive use of emperror.dev/errors for unwrapping.
func As(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Is reports whether err's chain carries the given kind.
func Is(err error, kind Kind) bool {
	pe, ok := As(err)
	return ok && pe.Kind == kind
}
