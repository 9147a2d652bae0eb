package client

import (
	"errors"
	"fmt"
	"testing"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		errorClass ErrorClass
		expected   bool
	}{
		{name: "client error should not retry", errorClass: ErrorClassClient, expected: false},
		{name: "server error should retry", errorClass: ErrorClassServer, expected: true},
		{name: "rate limit should retry", errorClass: ErrorClassRateLimit, expected: true},
		{name: "network error should retry", errorClass: ErrorClassNetwork, expected: true},
		{name: "empty error class should not retry", errorClass: "", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldRetry(tt.errorClass); got != tt.expected {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.errorClass, got, tt.expected)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := map[int]ErrorClass{
		200: "",
		204: "",
		299: "",
		100: ErrorClassClient,
		199: ErrorClassClient,
		301: ErrorClassClient,
		304: ErrorClassClient,
		400: ErrorClassClient,
		401: ErrorClassClient,
		404: ErrorClassClient,
		429: ErrorClassRateLimit,
		500: ErrorClassServer,
		503: ErrorClassServer,
	}
	for status, want := range tests {
		if got := classifyStatus(status); got != want {
			t.Errorf("classifyStatus(%d) = %q, want %q", status, got, want)
		}
	}
}

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		apiError *APIError
		expected string
	}{
		{
			name: "error with wrapped error",
			apiError: &APIError{
				ErrorClass: ErrorClassNetwork,
				Message:    "request failed",
				Err:        errors.New("connection refused"),
			},
			expected: "TMDb network error (status 0): request failed: connection refused",
		},
		{
			name: "error without wrapped error",
			apiError: &APIError{
				StatusCode: 401,
				ErrorClass: ErrorClassClient,
				Message:    "Invalid API key: You must be granted a valid key.",
			},
			expected: "TMDb client error (status 401): Invalid API key: You must be granted a valid key.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.apiError.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := fmt.Errorf("discover: %w", &APIError{ErrorClass: ErrorClassNetwork, Err: inner})

	if !errors.Is(err, inner) {
		t.Error("errors.Is did not find the wrapped cause")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatal("errors.As did not find *APIError")
	}
	if apiErr.ErrorClass != ErrorClassNetwork {
		t.Errorf("ErrorClass = %q", apiErr.ErrorClass)
	}
}

func TestClassOf(t *testing.T) {
	if got := ClassOf(errors.New("plain")); got != "" {
		t.Errorf("ClassOf(plain) = %q, want empty", got)
	}
	wrapped := fmt.Errorf("%w after 3 attempts: %w", ErrRetryExhausted, &APIError{ErrorClass: ErrorClassServer})
	if got := ClassOf(wrapped); got != ErrorClassServer {
		t.Errorf("ClassOf(wrapped) = %q, want server", got)
	}
	if !IsClientError(&APIError{ErrorClass: ErrorClassClient}) {
		t.Error("IsClientError() = false for client class")
	}
}
