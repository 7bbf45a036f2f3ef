// Package upstream fetches the fuel-station snapshot from the public API.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"fuelsync/internal/metrics"
)

// ErrExhausted is returned when every fetch attempt failed with a retryable error.
var ErrExhausted = errors.New("upstream: retries exhausted")

// Logger is the minimal logging surface used by the client.
type Logger interface {
	Printf(format string, v ...any)
}

// Defaults mirror the job's historical behavior: five attempts, three seconds apart.
const (
	DefaultMaxAttempts = 5
	DefaultRetryDelay  = 3 * time.Second
	DefaultTimeout     = 60 * time.Second
)

// Client performs the snapshot GET with bounded retry.
//
// Retry policy:
//   - Transport errors, 5xx and 429 are retried up to MaxAttempts.
//   - Other non-2xx statuses and undecodable bodies fail immediately.
//   - Waiting between attempts honors ctx cancellation.
type Client struct {
	URL   string
	Token string

	HTTP        *http.Client
	MaxAttempts int
	RetryDelay  time.Duration

	// Job labels HTTP metrics. Defaults to "fuelsync".
	Job    string
	Logger Logger

	// Sleep waits between attempts; tests replace it. Defaults to a ctx-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// StatusError is a non-2xx response. Summary holds the HTML <title> or the
// first bytes of the body.
type StatusError struct {
	StatusCode int
	Summary    string
}

func (e *StatusError) Error() string {
	if e.Summary == "" {
		return fmt.Sprintf("upstream: status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream: status %d: %s", e.StatusCode, e.Summary)
}

func (e *StatusError) retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type envelope struct {
	Data []map[string]any `json:"data"`
}

// Fetch returns the records of the snapshot's "data" array. Numbers are
// decoded as json.Number so prices and ids keep their textual form.
//
// Errors:
//   - ErrExhausted (wrapping the last attempt's error) after MaxAttempts retryable failures.
//   - *StatusError for non-retryable statuses.
//   - A decode error when the body is not the expected JSON envelope.
func (c *Client) Fetch(ctx context.Context) ([]map[string]any, error) {
	reqURL, err := c.requestURL()
	if err != nil {
		return nil, err
	}

	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	delay := c.RetryDelay
	if delay < 0 {
		delay = 0
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		body, err := c.attempt(ctx, reqURL)
		if err == nil {
			return decode(body)
		}

		var se *StatusError
		if errors.As(err, &se) && !se.retryable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		c.logf("stage=fetch attempt=%d/%d err=%q", attempt, attempts, err.Error())
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrExhausted, attempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient().Do(req)
	reqDur := time.Since(start)
	if err != nil {
		metrics.RecordHTTP(c.job(), 0, err, reqDur, 0, 0)
		return nil, err
	}
	defer resp.Body.Close()

	readStart := time.Now()
	body, err := io.ReadAll(resp.Body)
	respDur := time.Since(readStart)
	metrics.RecordHTTP(c.job(), resp.StatusCode, err, reqDur, respDur, int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("upstream: read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Summary: summarize(resp.Header.Get("Content-Type"), body)}
	}
	return body, nil
}

func decode(body []byte) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("upstream: decode snapshot: %w", err)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("upstream: decode snapshot: missing \"data\" array")
	}
	return env.Data, nil
}

// summarize extracts a short description from an error body. HTML error pages
// (gateways, WAFs) are reduced to their <title>.
func summarize(contentType string, body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if strings.Contains(strings.ToLower(contentType), "html") || bytes.HasPrefix(trimmed, []byte("<")) {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(trimmed))
		if err == nil {
			if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
				return title
			}
			if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
				return h1
			}
		}
	}
	const max = 200
	s := string(trimmed)
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}

func (c *Client) requestURL() (string, error) {
	if strings.TrimSpace(c.URL) == "" {
		return "", fmt.Errorf("upstream: url is empty")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("upstream: parse url: %w", err)
	}
	if c.Token != "" {
		q := u.Query()
		q.Set("token", c.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: DefaultTimeout}
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) job() string {
	if c.Job == "" {
		return "fuelsync"
	}
	return c.Job
}

func (c *Client) logf(format string, v ...any) {
	if c.Logger != nil {
		c.Logger.Printf(format, v...)
	}
}
