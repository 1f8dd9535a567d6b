package types

import "errors"

var (
	// ErrRateLimited is returned when an endpoint answers HTTP 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrMalformedResponse is returned when an endpoint answers 2xx with an unusable body.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrRejected is returned when the ledger refuses a transaction outright.
	ErrRejected = errors.New("transaction rejected")
)
