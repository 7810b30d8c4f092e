package bitrix

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Common errors returned by the client.
var (
	// ErrRequestBlocked is returned when the operating budget tracker refuses a call.
	ErrRequestBlocked = errors.New("request blocked: bitrix24 operating budget exhausted")

	// ErrInvalidWebhookURL is returned by New for a missing or malformed webhook URL.
	ErrInvalidWebhookURL = errors.New("invalid webhook url")
)

// ErrorClass represents a classification of Bitrix24 call failures.
type ErrorClass string

const (
	// ErrorClassNetwork represents transport failures (connection, timeout).
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassClient represents 4xx responses without an API error body.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses without an API error body.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassDecode represents responses that are not valid JSON envelopes.
	ErrorClassDecode ErrorClass = "decode"

	// ErrorClassAPI represents an error reported inside the response envelope.
	ErrorClassAPI ErrorClass = "api"

	// ErrorClassRateLimit represents QUERY_LIMIT_EXCEEDED and OPERATION_TIME_LIMIT errors.
	ErrorClassRateLimit ErrorClass = "rate_limit"
)

// Bitrix24 error codes that signal quota exhaustion.
const (
	CodeQueryLimitExceeded = "QUERY_LIMIT_EXCEEDED"
	CodeOperationTimeLimit = "OPERATION_TIME_LIMIT"
)

// APIError is a failed Bitrix24 call. Transport and API-reported failures share
// this type; ErrorClass tells them apart.
type APIError struct {
	Method      string
	StatusCode  int
	ErrorClass  ErrorClass
	Code        string
	Description string
	Err         error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Description
	switch {
	case e.Code != "" && msg != "":
		msg = e.Code + ": " + msg
	case msg == "":
		msg = e.Code
	}
	if e.Err != nil {
		if msg == "" {
			return fmt.Sprintf("Bitrix24 %s error (%s): %v", e.ErrorClass, e.Method, e.Err)
		}
		return fmt.Sprintf("Bitrix24 %s error (%s): %s: %v", e.ErrorClass, e.Method, msg, e.Err)
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("Bitrix24 %s error (%s, status %d): %s", e.ErrorClass, e.Method, e.StatusCode, msg)
	}
	return fmt.Sprintf("Bitrix24 %s error (%s): %s", e.ErrorClass, e.Method, msg)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyCode maps an API error code to its class.
func classifyCode(code string) ErrorClass {
	switch code {
	case CodeQueryLimitExceeded, CodeOperationTimeLimit:
		return ErrorClassRateLimit
	default:
		return ErrorClassAPI
	}
}

// classifyStatus maps a non-2xx HTTP status without an API error body to its class.
func classifyStatus(status int) ErrorClass {
	if status >= 500 {
		return ErrorClassServer
	}
	return ErrorClassClient
}

// IsRateLimited reports whether err is a quota failure, either reported by
// Bitrix24 or refused locally by the operating budget tracker.
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRequestBlocked) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.ErrorClass == ErrorClassRateLimit
}
