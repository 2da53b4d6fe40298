package apperror

import (
	"errors"
	"strings"
)

// Context keys carried by storage errors.
const (
	CtxOperation  = "operation"
	CtxQuery      = "query"
	CtxTimeout    = "timeout"
	CtxDriverCode = "driver_code"
)

const maxQueryLen = 100

// Error is a classified failure. Cause keeps the driver error for logs; it is
// never rendered into user messages.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Context: map[string]string{}}
}

func WrapWithContext(kind Kind, message string, ctx map[string]string, cause error) *Error {
	if ctx == nil {
		ctx = map[string]string{}
	}
	return &Error{Kind: kind, Message: message, Context: ctx, Cause: cause}
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so errors.Is(err, apperror.New(KindTimeout, ""))
// works regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// UserMessage renders the catalog template for the kind with the context bag.
func (e *Error) UserMessage() string {
	msg := e.Kind.Template()
	op := e.Context[CtxOperation]
	if op == "" {
		op = "this"
	}
	pairs := []string{"{operation}", op}
	for k, v := range e.Context {
		if k == CtxOperation {
			continue
		}
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(msg)
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

// Truncate shortens query text before it is attached to an error.
func Truncate(query string) string {
	query = strings.Join(strings.Fields(query), " ")
	if len(query) <= maxQueryLen {
		return query
	}
	return query[:maxQueryLen] + "..."
}
