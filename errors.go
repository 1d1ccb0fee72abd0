package deepwhisperer

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueFull is returned when the bounded message queue is full;
	// the message is dropped rather than blocking the caller.
	ErrQueueFull = errors.New("deepwhisperer: message queue full")

	// ErrStopped is returned for sends after Stop.
	ErrStopped = errors.New("deepwhisperer: notifier stopped")

	// ErrEmptyMessage is returned for blank text messages.
	ErrEmptyMessage = errors.New("deepwhisperer: empty message")
)

// ConfigError reports missing or invalid configuration.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("deepwhisperer: config %s: %s", e.Key, e.Reason)
}
