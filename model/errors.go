package model

import (
	"errors"
	"fmt"
)

var (
	// ErrRange aborts a run: the commit range cannot be resolved.
	ErrRange = errors.New("range error")
	// ErrUnresolvableRef signals a ref that does not name a known commit.
	ErrUnresolvableRef = errors.New("unresolvable reference")
	// ErrDisconnectedRange signals a lower bound that is not an ancestor of the upper bound.
	ErrDisconnectedRange = errors.New("disconnected range")
	// ErrCommitSourceUnavailable aborts a run: history cannot be read at all.
	ErrCommitSourceUnavailable = errors.New("commit source unavailable")

	ErrAssociationDegraded    = errors.New("association degraded")
	ErrClassificationDegraded = errors.New("classification degraded")
	ErrProviderUnavailable    = errors.New("provider unavailable")
	ErrTransientProvider      = errors.New("transient provider error")

	// ErrPRNotFound means the platform has no pull request for the query. Never retried.
	ErrPRNotFound = errors.New("pull request not found")
	// ErrPRTransient means the lookup may succeed if retried.
	ErrPRTransient = errors.New("pull request lookup failed")
	// ErrPRSourceUnavailable means the platform rejected us for the whole run.
	ErrPRSourceUnavailable = errors.New("pull request source unavailable")
)

type ProviderErrorKind string

const (
	KindAuth      ProviderErrorKind = "auth"
	KindRateLimit ProviderErrorKind = "rate_limit"
	KindTimeout   ProviderErrorKind = "timeout"
	KindMalformed ProviderErrorKind = "malformed"
	KindServer    ProviderErrorKind = "server"
)

// ProviderError is returned by AI backends.
type ProviderError struct {
	Provider string
	Kind     ProviderErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	if e.Kind == KindAuth {
		return []error{ErrProviderUnavailable, e.Err}
	}
	return []error{ErrTransientProvider, e.Err}
}

// Retryable reports whether the same request may be sent to the same provider again.
func (e *ProviderError) Retryable() bool {
	return e.Kind != KindAuth
}

func NewProviderError(provider string, kind ProviderErrorKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}
