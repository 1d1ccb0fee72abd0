package deepwhisperer

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/deepwhisperer/deepwhisperer/internal/cache"
	"github.com/deepwhisperer/deepwhisperer/telegram"
)

// ErrNoChatID is returned when neither the message nor the configuration
// names a target chat.
var ErrNoChatID = errors.New("deepwhisperer: no chat id configured")

// Transport is the outbound API surface the client depends on. It exists
// so tests can substitute a double for the real Bot API client.
type Transport interface {
	Invoke(ctx context.Context, endpoint string, payload map[string]any) (telegram.SentMessage, error)
	Upload(ctx context.Context, endpoint string, payload map[string]any, file telegram.File) (telegram.SentMessage, error)
}

// Client sends text notifications synchronously, memoizing terminal
// results. An identical (content, target) pair inside the TTL window is
// answered from the cache; identical concurrent sends collapse into a
// single network call.
type Client struct {
	transport   Transport
	cache       cache.Cache
	defaultChat string
	ttl         time.Duration
	group       singleflight.Group
}

// NewClient builds a synchronous client from cfg. Unlike New it performs
// no chat discovery: a target must come from cfg.ChatID or the message.
func NewClient(cfg Config) (*Client, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	tg, err := telegram.NewClient(cfg.Token, telegram.Options{
		BaseURL:    cfg.BaseURL,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		RatePerSec: cfg.RatePerSec,
	})
	if err != nil {
		return nil, err
	}
	return newClient(tg, newResultCache(cfg), cfg.ChatID, cfg.cacheTTL()), nil
}

func newClient(transport Transport, c cache.Cache, defaultChat string, ttl time.Duration) *Client {
	return &Client{
		transport:   transport,
		cache:       c,
		defaultChat: defaultChat,
		ttl:         ttl,
	}
}

type sendOutcome struct {
	res Result
	err error
}

// Send delivers m, or returns the memoized result of an identical recent
// send. A send aborted by ctx commits nothing to the cache.
func (c *Client) Send(ctx context.Context, m Message) (Result, error) {
	if strings.TrimSpace(m.Text) == "" {
		return Result{}, ErrEmptyMessage
	}

	chat := m.ChatID
	if chat == "" {
		chat = c.defaultChat
	}
	if chat == "" {
		return Result{}, ErrNoChatID
	}

	key := cacheKey(chat, m.ParseMode, m.Text)

	if e, ok, err := c.cache.Get(ctx, key); err != nil {
		slog.Warn("result cache lookup failed", "error", err)
	} else if ok {
		return resultFromEntry(e, true), errorFromEntry(e)
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// An identical send may have committed while this call waited on
		// the flight lock.
		if e, ok, err := c.cache.Get(ctx, key); err == nil && ok {
			return sendOutcome{res: resultFromEntry(e, true), err: errorFromEntry(e)}, nil
		}

		payload := map[string]any{
			"chat_id": chat,
			"text":    m.Text,
		}
		if m.ParseMode != ParseModeNone {
			payload["parse_mode"] = string(m.ParseMode)
		}

		sm, sendErr := c.transport.Invoke(ctx, telegram.EndpointSendMessage, payload)
		now := time.Now().UTC()

		if sendErr != nil {
			// A cancelled send must not leave a stale entry behind.
			if ctx.Err() != nil {
				return nil, sendErr
			}
			e := entryFromError(sendErr, now)
			c.commit(ctx, key, e)
			return sendOutcome{res: resultFromEntry(e, false), err: sendErr}, nil
		}

		e := cache.Entry{
			OK:         true,
			StatusCode: http.StatusOK,
			MessageID:  sm.ID,
			SentAt:     now,
		}
		c.commit(ctx, key, e)
		return sendOutcome{res: resultFromEntry(e, false)}, nil
	})
	if err != nil {
		return Result{}, err
	}

	o := v.(sendOutcome)
	return o.res, o.err
}

func (c *Client) commit(ctx context.Context, key string, e cache.Entry) {
	if err := c.cache.Set(context.WithoutCancel(ctx), key, e, c.ttl); err != nil {
		slog.Warn("result cache store failed", "error", err)
	}
}

func newResultCache(cfg Config) cache.Cache {
	if cfg.Redis.Enabled {
		return cache.NewRedis(redisClient(cfg.Redis))
	}
	return cache.NewMemory(cfg.CacheMaxEntries)
}

func redisClient(rc RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     rc.Address,
		Password: rc.Password,
		DB:       rc.DB,
	})
}

func resultFromEntry(e cache.Entry, cached bool) Result {
	return Result{
		OK:         e.OK,
		StatusCode: e.StatusCode,
		MessageID:  e.MessageID,
		Detail:     e.Detail,
		SentAt:     e.SentAt,
		Cached:     cached,
	}
}

func entryFromError(err error, now time.Time) cache.Entry {
	e := cache.Entry{SentAt: now, Detail: err.Error()}

	var rl *telegram.RateLimitError
	if errors.As(err, &rl) {
		e.StatusCode = http.StatusTooManyRequests
		e.Detail = rl.Description
		return e
	}
	var de *telegram.DeliveryError
	if errors.As(err, &de) {
		e.StatusCode = de.StatusCode
		if de.Description != "" {
			e.Detail = de.Description
		}
	}
	return e
}

func errorFromEntry(e cache.Entry) error {
	if e.OK {
		return nil
	}
	if e.StatusCode == http.StatusTooManyRequests {
		return &telegram.RateLimitError{Endpoint: telegram.EndpointSendMessage, Description: e.Detail}
	}
	return &telegram.DeliveryError{
		Endpoint:    telegram.EndpointSendMessage,
		StatusCode:  e.StatusCode,
		Description: e.Detail,
	}
}
