// Package deepwhisperer sends Telegram notifications asynchronously: a
// bounded queue feeds a background loop that coalesces text messages over
// a batch window, suppresses duplicates, retries transient failures and
// rate limits outbound calls. A synchronous, result-caching Client is
// available for callers that need to await delivery.
package deepwhisperer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deepwhisperer/deepwhisperer/telegram"
)

// Notifier is the asynchronous pipeline. Send methods enqueue without
// blocking; delivery happens on a background loop. Safe for concurrent
// use.
type Notifier struct {
	cfg       Config
	client    *Client
	transport Transport

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	accepting bool
	queue     chan item
	done      chan struct{}

	dmu   sync.Mutex
	dedup map[string]time.Time
}

type item struct {
	endpoint  string
	chatID    string
	parseMode ParseMode
	// text is set for coalescable framed text sends; structured and media
	// sends carry payload (and file) instead.
	text    string
	payload map[string]any
	file    *telegram.File
	retried bool
}

// New builds a Notifier, discovers the chat id if none is configured,
// starts the delivery loop and queues the greeting message. ctx bounds
// only the startup work.
func New(ctx context.Context, cfg Config) (*Notifier, error) {
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

	if cfg.ChatID == "" {
		id, err := tg.DiscoverChatID(ctx)
		if err != nil {
			return nil, fmt.Errorf("deepwhisperer: discovering chat id: %w", err)
		}
		cfg.ChatID = id
	}

	runCtx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		cfg:       cfg,
		client:    newClient(tg, newResultCache(cfg), cfg.ChatID, cfg.cacheTTL()),
		transport: tg,
		ctx:       runCtx,
		cancel:    cancel,
		accepting: true,
		queue:     make(chan item, cfg.QueueSize),
		done:      make(chan struct{}),
		dedup:     make(map[string]time.Time),
	}

	go n.run()

	slog.Info("notifier started",
		"chat_id", cfg.ChatID,
		"batch_interval", cfg.BatchInterval.String(),
		"queue_size", cfg.QueueSize,
	)

	_ = n.SendMessage(greeting(), nil)
	return n, nil
}

// Client returns the synchronous cached sender sharing this notifier's
// transport, cache and default chat.
func (n *Notifier) Client() *Client {
	return n.client
}

// SendMessage queues a framed text message. Duplicates of a recently
// queued (content, target) pair are silently dropped unless
// opts.AllowDuplicates is set.
func (n *Notifier) SendMessage(text string, opts *MessageOpts) error {
	if strings.TrimSpace(text) == "" {
		slog.Warn("attempted to send an empty message, skipping")
		return ErrEmptyMessage
	}

	var o MessageOpts
	if opts != nil {
		o = *opts
	}
	chat := o.ChatID
	if chat == "" {
		chat = n.cfg.ChatID
	}
	mode := o.ParseMode
	if mode == "" {
		mode = ParseModeMarkdown
	}

	if !o.AllowDuplicates && !n.dedupAllow(cacheKey(chat, mode, text)) {
		slog.Info("skipping duplicate message")
		return nil
	}

	return n.enqueue(item{
		endpoint:  telegram.EndpointSendMessage,
		chatID:    chat,
		parseMode: mode,
		text:      frameMessage(text, time.Now()),
	})
}

// Stop blocks new sends, drains the queue and waits for the delivery loop
// to exit. If ctx expires first, in-flight work is cancelled.
func (n *Notifier) Stop(ctx context.Context) error {
	n.mu.Lock()
	if !n.accepting {
		done := n.done
		n.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.accepting = false
	close(n.queue)
	n.mu.Unlock()

	select {
	case <-n.done:
		slog.Info("notifier stopped")
		return nil
	case <-ctx.Done():
		n.cancel()
		<-n.done
		return ctx.Err()
	}
}

func (n *Notifier) enqueue(it item) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.accepting {
		return ErrStopped
	}

	select {
	case n.queue <- it:
		return nil
	default:
		slog.Warn("message queue full, dropping message", "endpoint", it.endpoint)
		return ErrQueueFull
	}
}

// dedupAllow records key inside the dedup window and reports whether the
// message should be sent. The window map is pruned on insert and capped.
func (n *Notifier) dedupAllow(key string) bool {
	now := time.Now()

	n.dmu.Lock()
	defer n.dmu.Unlock()

	if until, ok := n.dedup[key]; ok && now.Before(until) {
		return false
	}

	for k, until := range n.dedup {
		if !now.Before(until) {
			delete(n.dedup, k)
		}
	}

	n.dedup[key] = now.Add(n.cfg.DedupTTL)

	for len(n.dedup) > n.cfg.CacheMaxEntries {
		var (
			minKey string
			minT   time.Time
			set    bool
		)
		for k, t := range n.dedup {
			if !set || t.Before(minT) {
				minKey, minT, set = k, t, true
			}
		}
		delete(n.dedup, minKey)
	}
	return true
}

func (n *Notifier) run() {
	defer close(n.done)

	var carry []item
	for {
		batch, closed := n.collect()
		carry = n.flush(n.ctx, append(carry, batch...))
		if closed {
			if len(carry) > 0 {
				carry = n.flush(n.ctx, carry)
				if len(carry) > 0 {
					slog.Warn("dropping undelivered messages on shutdown", "count", len(carry))
				}
			}
			return
		}
	}
}

// collect gathers queued items for one batch window. closed is true once
// intake has stopped and the queue is drained.
func (n *Notifier) collect() (items []item, closed bool) {
	t := time.NewTimer(n.cfg.BatchInterval)
	defer t.Stop()

	for {
		select {
		case it, ok := <-n.queue:
			if !ok {
				return items, true
			}
			items = append(items, it)
		case <-t.C:
			return items, false
		case <-n.ctx.Done():
			return items, true
		}
	}
}

// flush sends one batch: text messages are coalesced per (chat, parse
// mode) and joined with blank lines; everything else goes out
// individually. Failed items come back once for a second chance on the
// next flush, then are dropped.
func (n *Notifier) flush(ctx context.Context, items []item) []item {
	if len(items) == 0 {
		return nil
	}

	type textGroup struct {
		chatID    string
		parseMode ParseMode
		texts     []string
		members   []item
	}
	var (
		groups []*textGroup
		byKey  = make(map[string]*textGroup)
		rest   []item
	)
	for _, it := range items {
		if it.text == "" {
			rest = append(rest, it)
			continue
		}
		k := it.chatID + "|" + string(it.parseMode)
		g, ok := byKey[k]
		if !ok {
			g = &textGroup{chatID: it.chatID, parseMode: it.parseMode}
			byKey[k] = g
			groups = append(groups, g)
		}
		g.texts = append(g.texts, it.text)
		g.members = append(g.members, it)
	}

	var (
		fmu   sync.Mutex
		carry []item
	)
	fail := func(its ...item) {
		fmu.Lock()
		defer fmu.Unlock()
		for _, it := range its {
			if it.retried {
				slog.Warn("dropping message after retry", "endpoint", it.endpoint)
				continue
			}
			it.retried = true
			carry = append(carry, it)
		}
	}

	var eg errgroup.Group
	for _, g := range groups {
		g := g
		eg.Go(func() error {
			payload := map[string]any{
				"chat_id": g.chatID,
				"text":    strings.Join(g.texts, "\n\n"),
			}
			if g.parseMode != ParseModeNone {
				payload["parse_mode"] = string(g.parseMode)
			}
			if _, err := n.transport.Invoke(ctx, telegram.EndpointSendMessage, payload); err != nil {
				slog.Error("batch send failed", "messages", len(g.texts), "error", err)
				fail(g.members...)
			}
			return nil
		})
	}
	for _, it := range rest {
		it := it
		eg.Go(func() error {
			var err error
			if it.file != nil {
				_, err = n.transport.Upload(ctx, it.endpoint, it.payload, *it.file)
			} else {
				_, err = n.transport.Invoke(ctx, it.endpoint, it.payload)
			}
			if err != nil {
				slog.Error("send failed", "endpoint", it.endpoint, "error", err)
				fail(it)
			}
			return nil
		})
	}
	_ = eg.Wait()

	return carry
}
