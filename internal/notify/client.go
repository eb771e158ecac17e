package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/checkers-match/internal/match"
	"github.com/park285/checkers-match/internal/obslog"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Result is the webhook payload posted once per finished match.
type Result struct {
	Code        string    `json:"code"`
	WinnerID    string    `json:"winner_id"`
	WinnerColor string    `json:"winner_color"`
	Reason      string    `json:"reason"`
	WhiteID     string    `json:"white_id"`
	RedID       string    `json:"red_id"`
	WhitePieces int       `json:"white_pieces"`
	RedPieces   int       `json:"red_pieces"`
	WhiteTimeMs int64     `json:"white_time_ms"`
	RedTimeMs   int64     `json:"red_time_ms"`
	Message     string    `json:"message,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
}

// FromSnapshot builds the payload for an ended session.
func FromSnapshot(snap match.Snapshot, message string) Result {
	r := Result{
		Code:        snap.Code,
		WinnerID:    snap.Winner,
		Reason:      string(snap.Reason),
		WhiteID:     snap.WhiteID,
		RedID:       snap.RedID,
		WhitePieces: snap.WhitePieces,
		RedPieces:   snap.RedPieces,
		WhiteTimeMs: snap.WhiteClock.Milliseconds(),
		RedTimeMs:   snap.RedClock.Milliseconds(),
		Message:     message,
		StartedAt:   snap.StartedAt,
		EndedAt:     snap.UpdatedAt,
	}
	if snap.WinnerColor != nil {
		r.WinnerColor = snap.WinnerColor.String()
	}
	return r
}

type Client struct {
	url     string
	http    *fasthttp.Client
	headers map[string]string

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// WithRetry sets the total number of attempts.
func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithHeader adds a static header, e.g. an auth token.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
			c.headers[k] = v
		}
	}
}

// NewClient returns nil when url is blank so callers can skip wiring.
func NewClient(url string, opts ...Option) *Client {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}
	c := &Client{
		url:            url,
		http:           &fasthttp.Client{ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second, MaxConnsPerHost: 16},
		headers:        make(map[string]string),
		defaultTimeout: 5 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MatchEnded posts r to the webhook. Transport errors and 5xx answers are
// retried with exponential backoff; other statuses fail at once.
func (c *Client) MatchEnded(ctx context.Context, r Result) error {
	if c == nil {
		return nil
	}
	return c.postJSON(ctx, r)
}

// Hook adapts the client to the match manager's end hook. Failures are
// logged, never returned to the session.
func (c *Client) Hook() match.EndHook {
	return func(ctx context.Context, snap match.Snapshot, announcement string) {
		if c == nil {
			return
		}
		if err := c.MatchEnded(ctx, FromSnapshot(snap, announcement)); err != nil {
			obslog.L().Warn("notify_error", zap.String("code", snap.Code), zap.Error(err))
		}
	}
}

func (c *Client) postJSON(ctx context.Context, in any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.url)
	req.Header.SetContentType("application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req.SetBody(payload)

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err == nil {
			status := resp.StatusCode()
			if status >= 200 && status < 300 {
				return nil
			}
			err = fmt.Errorf("webhook error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
			if !shouldRetryStatus(status) {
				return err
			}
		} else {
			err = fmt.Errorf("request failed: %w", err)
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			return lastErr
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond // 100ms, 200ms ...
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
