// Package apperror is the error vocabulary shared by the storage layer and the
// callers that turn failures into user-facing messages.
package apperror

// Kind classifies a failure. The set is closed; anything the classifier does not
// recognise ends up as KindUnknown.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnectionFailed
	KindQueryFailed
	KindTransactionFailed
	KindPoolExhausted
	KindTimeout
	KindFallbackFailed

	// Kinds below are raised by front-end collaborators, never by the storage layer.
	KindPermissionDenied
	KindNotFound
	KindRateLimited
	KindValidation
)

type kindInfo struct {
	name      string
	template  string
	retryable bool
}

// Templates use {placeholder} markers filled from an Error's context bag.
var catalog = map[Kind]kindInfo{
	KindUnknown: {
		name:     "unknown",
		template: "An unexpected error occurred during {operation}.",
	},
	KindConnectionFailed: {
		name:      "connection_failed",
		template:  "Unable to reach the database during {operation}. Please try again shortly.",
		retryable: true,
	},
	KindQueryFailed: {
		name:     "query_failed",
		template: "The database rejected the {operation} request.",
	},
	KindTransactionFailed: {
		name:     "transaction_failed",
		template: "The {operation} change could not be saved and was rolled back.",
	},
	KindPoolExhausted: {
		name:      "pool_exhausted",
		template:  "The database is busy right now ({operation}). Please try again shortly.",
		retryable: true,
	},
	KindTimeout: {
		name:      "timeout",
		template:  "The database did not respond within {timeout}ms during {operation}.",
		retryable: true,
	},
	KindFallbackFailed: {
		name:     "fallback_failed",
		template: "The database is unavailable and no cached data could be served for {operation}.",
	},
	KindPermissionDenied: {
		name:     "permission_denied",
		template: "You do not have permission to perform {operation}.",
	},
	KindNotFound: {
		name:     "not_found",
		template: "The requested {operation} record was not found.",
	},
	KindRateLimited: {
		name:      "rate_limited",
		template:  "Too many requests for {operation}. Slow down and try again.",
		retryable: true,
	},
	KindValidation: {
		name:     "validation",
		template: "The {operation} request is invalid.",
	},
}

func (k Kind) String() string {
	if info, ok := catalog[k]; ok {
		return info.name
	}
	return catalog[KindUnknown].name
}

// Retryable reports whether failures of this kind are expected to be transient.
func (k Kind) Retryable() bool {
	return catalog[k].retryable
}

// Template returns the raw message template for the kind.
func (k Kind) Template() string {
	if info, ok := catalog[k]; ok {
		return info.template
	}
	return catalog[KindUnknown].template
}
