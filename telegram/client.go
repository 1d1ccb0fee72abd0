// Package telegram is a minimal Telegram Bot API transport: request
// construction, response decoding, error translation, bounded retry and
// outbound rate limiting. It knows nothing about queues or caching.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://api.telegram.org"

// Bot API methods used by this library.
const (
	EndpointSendMessage    = "sendMessage"
	EndpointSendPhoto      = "sendPhoto"
	EndpointSendDocument   = "sendDocument"
	EndpointSendVideo      = "sendVideo"
	EndpointSendAudio      = "sendAudio"
	EndpointSendVoice      = "sendVoice"
	EndpointSendVideoNote  = "sendVideoNote"
	EndpointSendAnimation  = "sendAnimation"
	EndpointSendMediaGroup = "sendMediaGroup"
	EndpointSendLocation   = "sendLocation"
	EndpointSendContact    = "sendContact"
	EndpointSendPoll       = "sendPoll"
	EndpointSendVenue      = "sendVenue"
	EndpointGetUpdates     = "getUpdates"
)

// Options tunes a Client. The zero value gives the default base URL, a
// 10 second HTTP timeout, no retries and a 30/s token bucket.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	// MaxRetries is the number of extra attempts after the first on a
	// transient failure. Zero means fail on the first error.
	MaxRetries int
	// RetryDelay is the backoff base; attempt n waits RetryDelay*2^(n-1),
	// with jitter.
	RetryDelay time.Duration
	RatePerSec int
}

// Client posts to a single bot's API endpoints.
type Client struct {
	token      string
	baseURL    string
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
}

func NewClient(token string, opts Options) (*Client, error) {
	if token == "" {
		return nil, errors.New("telegram: token must not be empty")
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 3 * time.Second
	}
	ratePerSec := opts.RatePerSec
	if ratePerSec <= 0 {
		ratePerSec = 30
	}

	return &Client{
		token:      token,
		baseURL:    baseURL,
		http:       httpClient,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}, nil
}

// File is an in-memory upload. Data is kept in memory so a retry can
// resend the same bytes.
type File struct {
	Field string
	Name  string
	MIME  string
	Data  []byte
}

// SentMessage is the part of the API result this library cares about.
type SentMessage struct {
	ID int64 `json:"message_id"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Invoke posts a JSON payload to an endpoint and returns the sent message.
func (c *Client) Invoke(ctx context.Context, endpoint string, payload map[string]any) (SentMessage, error) {
	return c.call(ctx, endpoint, payload, nil)
}

// Upload posts a multipart payload with a single attached file.
func (c *Client) Upload(ctx context.Context, endpoint string, payload map[string]any, file File) (SentMessage, error) {
	return c.call(ctx, endpoint, payload, &file)
}

func (c *Client) call(ctx context.Context, endpoint string, payload map[string]any, file *File) (SentMessage, error) {
	attempts := c.maxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return SentMessage{}, err
		}

		msg, err := c.doOnce(ctx, endpoint, payload, file)
		if err == nil {
			return msg, nil
		}
		if ctx.Err() != nil {
			return SentMessage{}, ctx.Err()
		}
		lastErr = err

		if !retryable(err) || attempt == attempts {
			break
		}

		delay := backoff(c.retryDelay, attempt)
		slog.Warn("telegram request failed, retrying",
			"endpoint", endpoint,
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", delay.String(),
			"error", err,
		)

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return SentMessage{}, ctx.Err()
		}
	}

	return SentMessage{}, lastErr
}

func (c *Client) doOnce(ctx context.Context, endpoint string, payload map[string]any, file *File) (SentMessage, error) {
	var (
		body        io.Reader
		contentType string
	)
	if file != nil {
		b, ct, err := encodeMultipart(payload, *file)
		if err != nil {
			return SentMessage{}, err
		}
		body, contentType = bytes.NewReader(b), ct
	} else {
		b, err := json.Marshal(payload)
		if err != nil {
			return SentMessage{}, err
		}
		body, contentType = bytes.NewReader(b), "application/json"
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return SentMessage{}, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return SentMessage{}, &DeliveryError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	var ar apiResponse
	if err := json.Unmarshal(raw, &ar); err != nil {
		return SentMessage{}, &DeliveryError{
			Endpoint:    endpoint,
			StatusCode:  resp.StatusCode,
			Description: fmt.Sprintf("failed to decode json: %v body=%q", err, string(raw)),
		}
	}

	if !ar.OK {
		status := resp.StatusCode
		if ar.ErrorCode != 0 {
			status = ar.ErrorCode
		}
		switch status {
		case http.StatusTooManyRequests:
			retryAfter := time.Duration(0)
			if ar.Parameters != nil {
				retryAfter = time.Duration(ar.Parameters.RetryAfter) * time.Second
			}
			return SentMessage{}, &RateLimitError{
				Endpoint:    endpoint,
				RetryAfter:  retryAfter,
				Description: ar.Description,
			}
		case http.StatusUnauthorized, http.StatusForbidden:
			return SentMessage{}, &DeliveryError{
				Endpoint:    endpoint,
				StatusCode:  status,
				Description: ar.Description,
				Auth:        true,
			}
		default:
			return SentMessage{}, &DeliveryError{
				Endpoint:    endpoint,
				StatusCode:  status,
				Description: ar.Description,
			}
		}
	}

	var msg SentMessage
	if len(ar.Result) > 0 {
		// sendMediaGroup returns an array; take the first message id.
		if ar.Result[0] == '[' {
			var msgs []SentMessage
			_ = json.Unmarshal(ar.Result, &msgs)
			if len(msgs) > 0 {
				msg = msgs[0]
			}
		} else {
			_ = json.Unmarshal(ar.Result, &msg)
		}
	}
	return msg, nil
}

// DiscoverChatID fetches the bot's pending updates and returns the chat id
// of the first message found. It requires that someone has already
// messaged the bot.
func (c *Client) DiscoverChatID(ctx context.Context) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, EndpointGetUpdates)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &DeliveryError{Endpoint: EndpointGetUpdates, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	var ar apiResponse
	if err := json.Unmarshal(raw, &ar); err != nil {
		return "", &DeliveryError{
			Endpoint:    EndpointGetUpdates,
			StatusCode:  resp.StatusCode,
			Description: fmt.Sprintf("failed to decode json: %v body=%q", err, string(raw)),
		}
	}
	if !ar.OK {
		return "", &DeliveryError{Endpoint: EndpointGetUpdates, StatusCode: resp.StatusCode, Description: ar.Description}
	}

	var updates []struct {
		Message *struct {
			Chat struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
	}
	if err := json.Unmarshal(ar.Result, &updates); err != nil {
		return "", &DeliveryError{Endpoint: EndpointGetUpdates, Description: fmt.Sprintf("failed to decode updates: %v", err)}
	}

	for _, u := range updates {
		if u.Message != nil {
			return strconv.FormatInt(u.Message.Chat.ID, 10), nil
		}
	}
	return "", errors.New("telegram: no messages in getUpdates; message the bot first or set the chat id explicitly")
}

func encodeMultipart(payload map[string]any, file File) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range payload {
		if err := w.WriteField(k, fieldString(v)); err != nil {
			return nil, "", err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.Field, file.Name))
	mime := file.MIME
	if mime == "" {
		mime = "application/octet-stream"
	}
	h.Set("Content-Type", mime)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

func fieldString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	// Jitter 0.5..1.5 so synchronized retries don't stampede.
	return time.Duration(float64(d) * (0.5 + rand.Float64()))
}
