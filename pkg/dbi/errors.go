package dbi

import "fmt"

// Kind classifies a driver error.
type Kind int

// Error kinds.
const (
	// KindQuery is malformed sql, a bind failure or any generic
	// engine-reported error.
	KindQuery Kind = iota
	// KindBusyExhausted means a lock could not be acquired within the
	// configured retry budget.
	KindBusyExhausted
	// KindReprepare means automatic recompilation after a schema change
	// failed; the statement is unusable until prepared afresh.
	KindReprepare
	// KindMisuse is a statement lifecycle contract violation, a bug in the
	// driver or the host rather than a data or lock condition.
	KindMisuse
	// KindNoMem means the engine reported an allocation failure. The
	// engine's state is not trustworthy afterwards; callers should treat
	// this as fatal for the whole process.
	KindNoMem
)

func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindBusyExhausted:
		return "busy"
	case KindReprepare:
		return "reprepare"
	case KindMisuse:
		return "misuse"
	case KindNoMem:
		return "nomem"
	default:
		return fmt.Sprintf("kind-%d", int(k))
	}
}

// Error is an exception reported by a driver, tagged with the driver's
// exception code the way the host framework expects it.
type Error struct {
	Kind Kind
	Code string // driver exception category, e.g. "SQLIT"
	Msg  string

	// Retries is the number of attempts made before giving up, set for
	// KindBusyExhausted.
	Retries int

	// Retryable marks errors where the driver already restored the
	// statement to a usable state and the caller may retry the operation,
	// e.g. after a transparent recompile on schema change.
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Kind, e.Msg)
}

// Errorf builds an Error under the given kind and exception code.
func Errorf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Msg: fmt.Sprintf(format, args...)}
}
