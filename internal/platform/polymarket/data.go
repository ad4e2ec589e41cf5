package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// Gate is the process-wide rate-limit cooldown.
type Gate interface {
	Active() bool
	Trip(ctx context.Context, reason string) time.Time
}

// DataConfig configures a DataClient.
type DataConfig struct {
	BaseURL  string
	Timeout  time.Duration
	Attempts int
	Backoff  time.Duration
	// Gate, when set, is checked before every request and tripped when the
	// API rate limits or blocks the client.
	Gate Gate
}

// DataClient reads positions from the Polymarket Data API. Reads retry
// transient failures with exponential backoff; rate limiting is never
// retried.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
	attempts   int
	backoff    time.Duration
	gate       Gate
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewDataClient creates a Data API client.
func NewDataClient(cfg DataConfig, logger *slog.Logger) *DataClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	return &DataClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		attempts:   cfg.Attempts,
		backoff:    cfg.Backoff,
		gate:       cfg.Gate,
		logger:     logger.With(slog.String("component", "data_api")),
		sleep:      sleepContext,
	}
}

// Positions returns the open positions of wallet.
func (d *DataClient) Positions(ctx context.Context, wallet string) ([]domain.HoldingPosition, error) {
	q := url.Values{}
	q.Set("user", wallet)
	q.Set("sizeThreshold", "0")

	body, err := d.fetch(ctx, "/positions", q)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: positions %s: %w", wallet, err)
	}

	var raw []APIPosition
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("polymarket/data: decode positions: %w", err)
	}
	out := make([]domain.HoldingPosition, 0, len(raw))
	for i := range raw {
		out = append(out, raw[i].ToDomain(wallet))
	}
	return out, nil
}

func (d *DataClient) fetch(ctx context.Context, path string, q url.Values) ([]byte, error) {
	if d.gate != nil && d.gate.Active() {
		return nil, fmt.Errorf("%w: cooldown active", domain.ErrRateLimited)
	}

	for attempt := 1; ; attempt++ {
		status, body, err := d.get(ctx, path, q)
		if err == nil {
			return body, nil
		}

		if errors.Is(err, domain.ErrRateLimited) {
			if d.gate != nil {
				d.gate.Trip(ctx, err.Error())
			}
			return nil, err
		}
		if !retryable(status, err) || attempt >= d.attempts || ctx.Err() != nil {
			return nil, err
		}

		wait := d.backoff << (attempt - 1)
		d.logger.WarnContext(ctx, "data api request failed, retrying",
			slog.String("path", path),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
		if err := d.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (d *DataClient) get(ctx context.Context, path string, q url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return resp.StatusCode, body, err
	}
	if blockedPage(body) {
		return resp.StatusCode, body, fmt.Errorf("%w: blocked by cloudflare", domain.ErrRateLimited)
	}
	return resp.StatusCode, body, nil
}

// blockedPage spots a Cloudflare challenge served with a 2xx status.
func blockedPage(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '<' {
		return false
	}
	lower := strings.ToLower(string(trimmed))
	return strings.Contains(lower, "cloudflare") || strings.Contains(lower, "been blocked")
}

// retryable reports whether a failed read may succeed if repeated.
func retryable(status int, err error) bool {
	if status == 0 {
		return !errors.Is(err, context.Canceled)
	}
	return status >= http.StatusInternalServerError
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
