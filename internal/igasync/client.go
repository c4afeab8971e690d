package igasync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"sparrowvision.org/internal/obs"
)

// Client pages the governance platform's user inventory. Requests are rate
// paced; transient failures retry with a linear backoff; 429 responses honor
// Retry-After.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

func NewClient(cfg Config) *Client {
	interval := cfg.RateLimitDelay
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type page struct {
	users []map[string]any
	next  string
}

// FetchUsers retrieves the full user inventory, following pagination.
func (c *Client) FetchUsers(ctx context.Context) ([]PlatformUser, error) {
	var users []PlatformUser
	cursor := ""
	for pageNum := 1; ; pageNum++ {
		p, err := c.fetchPage(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("igasync: page %d: %w", pageNum, err)
		}
		now := c.now()
		for _, raw := range p.users {
			users = append(users, parseUser(raw, now))
		}
		obs.Log("debug", "iga_page_fetched", map[string]any{"page": pageNum, "users": len(p.users)})
		if p.next == "" {
			break
		}
		cursor = p.next
	}
	return users, nil
}

func (c *Client) fetchPage(ctx context.Context, cursor string) (page, error) {
	target, err := url.Parse(c.cfg.APIURL)
	if err != nil {
		return page{}, err
	}
	target = target.JoinPath("orgs", c.cfg.OrgID, "users")
	q := target.Query()
	q.Set("limit", strconv.Itoa(c.cfg.PageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	target.RawQuery = q.Encode()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return page{}, err
		}
		p, retryAfter, err := c.doRequest(ctx, target.String())
		if err == nil {
			return p, nil
		}
		lastErr = err

		delay := time.Duration(attempt) * c.cfg.RetryDelay
		if retryAfter > 0 {
			delay = retryAfter
		}
		if attempt == c.cfg.MaxRetries {
			break
		}
		obs.Log("warn", "iga_request_retry", map[string]any{
			"attempt": attempt, "delay_ms": delay.Milliseconds(), "error": err.Error(),
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return page{}, ctx.Err()
		}
	}
	return page{}, lastErr
}

func (c *Client) doRequest(ctx context.Context, target string) (page, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return page{}, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return page{}, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 0 * time.Second
		if raw := resp.Header.Get("Retry-After"); raw != "" {
			if secs, err := strconv.Atoi(raw); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return page{}, retryAfter, fmt.Errorf("rate limited (429)")
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return page{}, 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Results    []map[string]any `json:"results"`
		Data       []map[string]any `json:"data"`
		NextCursor string           `json:"next_cursor"`
		Next       string           `json:"next"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return page{}, 0, fmt.Errorf("decode response: %w", err)
	}
	p := page{users: body.Results, next: body.NextCursor}
	if p.users == nil {
		p.users = body.Data
	}
	if p.next == "" {
		p.next = body.Next
	}
	return p, 0, nil
}
