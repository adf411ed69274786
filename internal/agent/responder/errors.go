package responder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrUnknownProvider = errors.New("unknown model provider")
	ErrMissingModel    = errors.New("no model configured")
	ErrEmptyRequest    = errors.New("empty model request")
	ErrEmptyResponse   = errors.New("model returned empty content")

	ErrMissingAPIKey   = errors.New("api key is missing")
	ErrInvalidAPIKey   = errors.New("api key was rejected")
	ErrMissingEndpoint = errors.New("endpoint is not configured")
	ErrMissingProject  = errors.New("project id is missing")
	ErrRateLimited     = errors.New("rate limit exceeded")
)

// Describe turns a provider failure into text suitable for the end user.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrMissingAPIKey), errors.Is(err, ErrInvalidAPIKey):
		return "API key is missing or invalid. Please check your API credentials in the .env file."
	case errors.Is(err, ErrMissingEndpoint):
		return "API endpoint is not accessible. Please check your internet connection and endpoint URL."
	case errors.Is(err, ErrMissingProject):
		return "Project ID is missing or invalid. Please check your IBM Cloud project settings."
	case isTimeout(err):
		return "Request timed out. The service might be experiencing high load. Please try again in a few minutes."
	case errors.Is(err, ErrRateLimited):
		return "Rate limit exceeded. Please wait a few minutes before trying again."
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key"):
		return "API key is missing or invalid. Please check your API credentials in the .env file."
	case strings.Contains(msg, "endpoint"):
		return "API endpoint is not accessible. Please check your internet connection and endpoint URL."
	case strings.Contains(msg, "project"):
		return "Project ID is missing or invalid. Please check your IBM Cloud project settings."
	case strings.Contains(msg, "timeout"):
		return "Request timed out. The service might be experiencing high load. Please try again in a few minutes."
	case strings.Contains(msg, "rate limit"):
		return "Rate limit exceeded. Please wait a few minutes before trying again."
	}
	return fmt.Sprintf("An error occurred: %v", err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// statusError maps an HTTP status from a provider to a sentinel.
func statusError(status int, body string) error {
	switch status {
	case 401, 403:
		return fmt.Errorf("%w (status %d): %s", ErrInvalidAPIKey, status, body)
	case 429:
		return fmt.Errorf("%w (status %d): %s", ErrRateLimited, status, body)
	}
	return fmt.Errorf("provider returned status %d: %s", status, body)
}
