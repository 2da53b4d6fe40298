package apperror

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// Descriptor is the driver-independent shape of a failure that Classify works on.
type Descriptor struct {
	Code     string // SQLSTATE, SQLITE_* name or errno name
	Message  string // lower-cased error text
	Timeout  bool
	Network  bool
	NotFound bool
}

var sqliteCodes = map[sqlite3.ErrNo]string{
	sqlite3.ErrPerm:       "SQLITE_PERM",
	sqlite3.ErrBusy:       "SQLITE_BUSY",
	sqlite3.ErrLocked:     "SQLITE_LOCKED",
	sqlite3.ErrReadonly:   "SQLITE_READONLY",
	sqlite3.ErrIoErr:      "SQLITE_IOERR",
	sqlite3.ErrFull:       "SQLITE_FULL",
	sqlite3.ErrCantOpen:   "SQLITE_CANTOPEN",
	sqlite3.ErrConstraint: "SQLITE_CONSTRAINT",
	sqlite3.ErrAuth:       "SQLITE_AUTH",
}

// Describe inspects a raw driver or network error.
func Describe(err error) Descriptor {
	if err == nil {
		return Descriptor{}
	}
	d := Descriptor{Message: strings.ToLower(err.Error())}

	var pgErr *pgconn.PgError
	var sqliteErr sqlite3.Error
	var connectErr *pgconn.ConnectError
	var dnsErr *net.DNSError
	var opErr *net.OpError
	var netErr net.Error

	switch {
	case errors.As(err, &pgErr):
		d.Code = pgErr.Code
	case errors.As(err, &sqliteErr):
		if name, ok := sqliteCodes[sqliteErr.Code]; ok {
			d.Code = name
		} else {
			d.Code = "SQLITE_ERROR"
		}
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		d.NotFound = true
	case errors.Is(err, context.DeadlineExceeded), pgconn.Timeout(err):
		d.Timeout = true
	case errors.As(err, &dnsErr):
		d.Network = true
		d.Code = "ENOTFOUND"
	case errors.Is(err, syscall.ECONNREFUSED):
		d.Network = true
		d.Code = "ECONNREFUSED"
	case errors.Is(err, syscall.ECONNRESET):
		d.Network = true
		d.Code = "ECONNRESET"
	case errors.As(err, &connectErr), errors.As(err, &opErr),
		errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		d.Network = true
	case errors.As(err, &netErr) && netErr.Timeout():
		d.Timeout = true
	}
	return d
}

// Classify maps a descriptor onto a Kind. It has no side effects and does not
// look at the original error.
func Classify(d Descriptor) Kind {
	if d.Timeout {
		return KindTimeout
	}
	if d.NotFound {
		return KindNotFound
	}

	switch d.Code {
	case "SQLITE_BUSY", "SQLITE_LOCKED":
		return KindTimeout
	case "SQLITE_CANTOPEN", "SQLITE_IOERR":
		return KindConnectionFailed
	case "SQLITE_PERM", "SQLITE_AUTH", "SQLITE_READONLY":
		return KindPermissionDenied
	case "SQLITE_CONSTRAINT", "SQLITE_FULL", "SQLITE_ERROR":
		return KindQueryFailed
	case "ECONNREFUSED", "ECONNRESET", "ENOTFOUND":
		return KindConnectionFailed
	case "53300":
		return KindPoolExhausted
	case "57014", "55P03":
		return KindTimeout
	case "57P01", "57P02", "57P03":
		return KindConnectionFailed
	case "40001", "40P01":
		return KindTransactionFailed
	case "42501":
		return KindPermissionDenied
	}
	if len(d.Code) == 5 {
		switch d.Code[:2] {
		case "08":
			return KindConnectionFailed
		case "25", "40":
			return KindTransactionFailed
		default:
			return KindQueryFailed
		}
	}

	if d.Network {
		return KindConnectionFailed
	}

	msg := d.Message
	switch {
	case containsAny(msg, "pool exhausted", "too many clients", "remaining connection slots", "too many connections"):
		return KindPoolExhausted
	case containsAny(msg, "timed out", "timeout"):
		return KindTimeout
	case containsAny(msg, "connection refused", "no such host", "getaddrinfo", "connection reset", "broken pipe", "bad connection"):
		return KindConnectionFailed
	case containsAny(msg, "rate limit", "too many requests"):
		return KindRateLimited
	case containsAny(msg, "permission denied", "missing permissions"):
		return KindPermissionDenied
	}
	return KindUnknown
}

// ClassifyError returns the kind of an already classified error, otherwise
// classifies the raw error.
func ClassifyError(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Classify(Describe(err))
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
