package telegram

import (
	"fmt"
	"time"
)

// DeliveryError reports a failed Bot API call: a transport failure
// (StatusCode 0) or an API-level rejection. Auth is set for 401/403
// responses, which are never retried.
type DeliveryError struct {
	Endpoint    string
	StatusCode  int
	Description string
	Auth        bool
	Err         error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("telegram: %s failed: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("telegram: %s failed: status=%d description=%q", e.Endpoint, e.StatusCode, e.Description)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// RateLimitError is a 429 response. It is surfaced to the caller as-is;
// the client never retries it.
type RateLimitError struct {
	Endpoint    string
	RetryAfter  time.Duration
	Description string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("telegram: %s rate limited: retry after %s description=%q", e.Endpoint, e.RetryAfter, e.Description)
}

// retryable reports whether another attempt could plausibly succeed:
// transport errors and 5xx responses only. Rate limits, auth failures
// and 4xx rejections are terminal.
func retryable(err error) bool {
	de, ok := err.(*DeliveryError)
	if !ok {
		return false
	}
	if de.Auth {
		return false
	}
	return de.StatusCode == 0 || de.StatusCode >= 500
}
