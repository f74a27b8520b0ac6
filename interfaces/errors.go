package interfaces

import (
	"errors"
	"net/http"
)

// Error kinds surfaced by the identity state machine and the registration
// ledger. Handlers return the kind and nothing else; cryptographic failures
// in particular carry no detail about which component of a payload
// mismatched.
var (
	ErrWrongState          = errors.New("wrong state")
	ErrBadSignature        = errors.New("bad signature")
	ErrBadToken            = errors.New("bad token")
	ErrAttestationRejected = errors.New("attestation rejected")
	ErrLedgerUnavailable   = errors.New("ledger unavailable")
	ErrMountFailed         = errors.New("mount failed")
	ErrLaunchFailed        = errors.New("launch failed")
	ErrShutdownFailed      = errors.New("shutdown failed")
	ErrConflict            = errors.New("conflict")
	ErrNotFound            = errors.New("not found")
	ErrCorruption          = errors.New("corrupted state")
	ErrConfigInvalid       = errors.New("invalid configuration")
)

var errStatus = map[error]int{
	ErrWrongState:          http.StatusConflict,
	ErrConflict:            http.StatusConflict,
	ErrBadSignature:        http.StatusUnauthorized,
	ErrBadToken:            http.StatusUnauthorized,
	ErrAttestationRejected: http.StatusUnauthorized,
	ErrNotFound:            http.StatusNotFound,
	ErrLedgerUnavailable:   http.StatusBadGateway,
	ErrConfigInvalid:       http.StatusBadRequest,
	ErrMountFailed:         http.StatusInternalServerError,
	ErrLaunchFailed:        http.StatusInternalServerError,
	ErrShutdownFailed:      http.StatusInternalServerError,
	ErrCorruption:          http.StatusInternalServerError,
}

// ErrorKind returns the taxonomy kind wrapped in err, or nil if err carries
// no known kind.
func ErrorKind(err error) error {
	for kind := range errStatus {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// HTTPStatus maps an error to its response status code.
func HTTPStatus(err error) int {
	if kind := ErrorKind(err); kind != nil {
		return errStatus[kind]
	}
	return http.StatusInternalServerError
}

// KindFromString maps an error body back to its kind on the client side.
// Returns nil for unknown strings.
func KindFromString(s string) error {
	for kind := range errStatus {
		if kind.Error() == s {
			return kind
		}
	}
	return nil
}

// KindForStatus maps a response status code back to an error kind when the
// body carries no recognizable kind. Ambiguous codes resolve to the
// state-machine-facing kind.
func KindForStatus(status int) error {
	switch status {
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnauthorized:
		return ErrAttestationRejected
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadRequest:
		return ErrConfigInvalid
	default:
		return ErrLedgerUnavailable
	}
}
