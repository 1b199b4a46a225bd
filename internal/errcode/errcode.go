// Package errcode defines the machine-readable error codes returned by the
// faucet API and their HTTP status mapping. Codes travel from the component
// that detects the failure up to the HTTP surface, which renders them into
// the response envelope.
package errcode

import "net/http"

// Code identifies a failure class in API responses.
type Code string

const (
	MissingAPIKey  Code = "MISSING_API_KEY"
	InvalidAPIKey  Code = "INVALID_API_KEY"
	InactiveClient Code = "INACTIVE_CLIENT"

	InvalidAddress Code = "INVALID_ADDRESS"
	InvalidAmount  Code = "INVALID_AMOUNT"

	RateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"

	FaucetEmpty         Code = "FAUCET_EMPTY"
	InsufficientBalance Code = "INSUFFICIENT_FAUCET_BALANCE"
	UpstreamRateLimited Code = "UPSTREAM_RATE_LIMITED"

	TransactionFailed Code = "FAUCET_TRANSACTION_FAILED"
	ServerError       Code = "SERVER_ERROR"

	// DatabaseError is returned on admin reads only. The faucet path never
	// surfaces it: persistence failures there degrade silently.
	DatabaseError Code = "DATABASE_ERROR"

	InvalidCredentials Code = "INVALID_CREDENTIALS"
	InvalidToken       Code = "INVALID_TOKEN"

	ValidationError Code = "VALIDATION_ERROR"
	NotFound        Code = "NOT_FOUND"
)

var httpStatus = map[Code]int{
	MissingAPIKey:  http.StatusUnauthorized,
	InvalidAPIKey:  http.StatusUnauthorized,
	InactiveClient: http.StatusUnauthorized,

	InvalidAddress: http.StatusBadRequest,
	InvalidAmount:  http.StatusBadRequest,

	RateLimitExceeded: http.StatusTooManyRequests,

	FaucetEmpty:         http.StatusServiceUnavailable,
	InsufficientBalance: http.StatusServiceUnavailable,
	UpstreamRateLimited: http.StatusServiceUnavailable,

	TransactionFailed: http.StatusInternalServerError,
	ServerError:       http.StatusInternalServerError,
	DatabaseError:     http.StatusInternalServerError,

	InvalidCredentials: http.StatusUnauthorized,
	InvalidToken:       http.StatusUnauthorized,

	ValidationError: http.StatusBadRequest,
	NotFound:        http.StatusNotFound,
}

// HTTPStatus returns the HTTP status a code maps to. Unknown codes map to
// 500 so that a missing table entry can never weaken an error response.
func (c Code) HTTPStatus() int {
	if s, ok := httpStatus[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// String implements fmt.Stringer.
func (c Code) String() string { return string(c) }
