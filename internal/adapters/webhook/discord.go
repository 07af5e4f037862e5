package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/sargonas/meshcord/internal/ports"
)

type Config struct {
	URL          string
	MaxChunkSize int
	Timeout      time.Duration
	RateInterval time.Duration
	RateBurst    int
}

// Discord posts chunks to a Discord webhook. A local token bucket paces
// requests ahead of the remote rate limit; when the remote throttles anyway
// (429) the error is classed as unreachable so the delivery worker retries.
type Discord struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

func NewDiscord(cfg Config) *Discord {
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = 1900
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RateInterval <= 0 {
		cfg.RateInterval = 2 * time.Second
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 5
	}
	return &Discord{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Every(cfg.RateInterval), cfg.RateBurst),
	}
}

func (d *Discord) Name() string { return "discord-webhook" }

func (d *Discord) MaxChunkSize() int { return d.cfg.MaxChunkSize }

func (d *Discord) Send(ctx context.Context, chunk string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook: rate wait: %w", err)
	}

	payload, err := json.Marshal(struct {
		Content string `json:"content"`
	}{Content: chunk})
	if err != nil {
		return fmt.Errorf("webhook: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w: %w", err, ports.ErrDeliveryUnreachable)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("webhook: remote throttled: %w", ports.ErrDeliveryUnreachable)
	case resp.StatusCode >= 500:
		return fmt.Errorf("webhook: status %d: %w", resp.StatusCode, ports.ErrDeliveryUnreachable)
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook: status %d %q: %w", resp.StatusCode, snippet, ports.ErrDeliveryRejected)
	}
}

var _ ports.Forwarder = (*Discord)(nil)
