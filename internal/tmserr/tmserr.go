// Package tmserr defines the typed error kinds shared across the tile
// server: config/init failures are fatal at startup, backend/format
// failures surface as 5xx or OGC exceptions, protocol failures as 400s.
package tmserr

import "fmt"

// Kind classifies an error for the purposes of HTTP status mapping and
// startup fatality.
type Kind int

const (
	// KindConfig marks invalid static configuration; fatal at startup.
	KindConfig Kind = iota
	// KindBackendInit marks an unreachable or malformed backend at init.
	KindBackendInit
	// KindBackend marks a transient failure during GetTile/GetMap.
	KindBackend
	// KindProtocol marks bad client-supplied parameters.
	KindProtocol
	// KindFormat marks corrupt image/TIFF bytes encountered while rendering.
	KindFormat
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "ConfigError"
	case KindBackendInit:
		return "BackendInitError"
	case KindBackend:
		return "BackendError"
	case KindProtocol:
		return "ProtocolError"
	case KindFormat:
		return "FormatError"
	default:
		return "UnknownError"
	}
}

// Error is a typed error carrying a Kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Op   string // what was being attempted, e.g. "mbtiles: open database"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Config wraps err as a ConfigError.
func Config(op string, err error) error { return newf(KindConfig, op, err) }

// BackendInit wraps err as a BackendInitError.
func BackendInit(op string, err error) error { return newf(KindBackendInit, op, err) }

// Backend wraps err as a BackendError.
func Backend(op string, err error) error { return newf(KindBackend, op, err) }

// Protocol wraps err as a ProtocolError.
func Protocol(op string, err error) error { return newf(KindProtocol, op, err) }

// Format wraps err as a FormatError.
func Format(op string, err error) error { return newf(KindFormat, op, err) }

// Is reports whether err is a tmserr.Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind == kind
	}
	return false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
