// Package cache stores recent delivery results keyed by message content
// and target, so a repeated identical send inside the TTL window can be
// answered without another network call.
package cache

import (
	"context"
	"time"
)

// Entry is one memoized delivery result.
type Entry struct {
	OK         bool      `json:"ok"`
	StatusCode int       `json:"statusCode"`
	MessageID  int64     `json:"messageId,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	SentAt     time.Time `json:"sentAt"`
}

type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry, ttl time.Duration) error
}
