package client

import (
	"errors"
	"fmt"
)

// ErrMalformedPayload is returned when a response body does not match the
// expected shape.
var ErrMalformedPayload = errors.New("malformed payload")

// ErrorClass represents a classification of upstream errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 rate limit errors.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents undecodable or malformed payloads.
	ErrorClassDecode ErrorClass = "decode"
)

// UpstreamError reports a failed call to a heatmaps API endpoint.
type UpstreamError struct {
	Endpoint   string
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s %s error (status %d): %s: %v",
			e.Endpoint, e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("upstream %s %s error (status %d): %s",
		e.Endpoint, e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether the failure is likely to clear on its own.
// Callers use it for logging only; requests are never retried.
func (e *UpstreamError) IsTransient() bool {
	switch e.ErrorClass {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}

// classifyStatus categorizes an HTTP status code.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == 429:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}
