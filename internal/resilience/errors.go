package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// TransientError marks an error as safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as transient.
func NewTransientError(err error) *TransientError {
	return &TransientError{Err: err}
}

// transientStates are the SQLSTATE codes a sensor service database raises
// for conditions that clear on their own.
var transientStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"53300": true, // too_many_connections
	"55P03": true, // lock_not_available
	"57P01": true, // admin_shutdown
	"57P03": true, // cannot_connect_now
}

// IsTransient reports whether err, or any error in its chain, is worth
// retrying: an explicit TransientError, a Postgres connection exception or
// contention error, a network timeout, or a dropped connection.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exception.
		return strings.HasPrefix(pgErr.Code, "08") || transientStates[pgErr.Code]
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	// pgx and net/http do not always keep the syscall error in the chain.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"unexpected eof",
		"conn closed",
		"i/o timeout",
		"temporary failure in name resolution",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
