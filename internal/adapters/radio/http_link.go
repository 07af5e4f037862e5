package radio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sargonas/meshcord/internal/domain"
	"github.com/sargonas/meshcord/internal/ports"
)

type HTTPConfig struct {
	Tag          string
	Name         string
	Address      string
	PollInterval time.Duration
	Timeout      time.Duration
}

// HTTPLink polls the device's fromradio endpoint. Each successful poll,
// with or without a body, proves the device is alive, so an empty 200 comes
// back as a liveness unit rather than a timeout. Only the manager goroutine
// touches an HTTPLink, so it carries no locking.
type HTTPLink struct {
	cfg    HTTPConfig
	url    string
	client *http.Client

	pending *domain.RawPacket
	backlog bool
}

func NewHTTPLink(cfg HTTPConfig) *HTTPLink {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	base := cfg.Address
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	base = strings.TrimRight(base, "/")
	return &HTTPLink{
		cfg:    cfg,
		url:    base + "/api/v1/fromradio?all=false",
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (l *HTTPLink) Tag() string { return l.cfg.Tag }

func (l *HTTPLink) DisplayName() string {
	if l.cfg.Name != "" {
		return l.cfg.Name
	}
	return l.cfg.Tag
}

// Open probes the endpoint once. A packet arriving on the probe is held and
// handed to the first ReadPacket so nothing is dropped.
func (l *HTTPLink) Open(ctx context.Context) error {
	pkt, gotData, err := l.poll(ctx)
	if err != nil {
		return err
	}
	l.pending = pkt
	l.backlog = gotData
	return nil
}

func (l *HTTPLink) ReadPacket(ctx context.Context) (*domain.RawPacket, error) {
	if l.pending != nil {
		pkt := l.pending
		l.pending = nil
		return pkt, nil
	}

	// When the previous poll carried data the device likely has a backlog
	// (config download, queued traffic); poll again immediately.
	if !l.backlog {
		t := time.NewTimer(l.cfg.PollInterval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}

	pkt, gotData, err := l.poll(ctx)
	if err != nil {
		l.backlog = false
		return nil, err
	}
	l.backlog = gotData
	return pkt, nil
}

func (l *HTTPLink) poll(ctx context.Context) (*domain.RawPacket, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("radio: poll %s: %w", l.cfg.Tag, err)
	}
	req.Header.Set("Accept", "application/x-protobuf")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("radio: poll %s: %w", l.cfg.Tag, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("radio: poll %s: unexpected status %d", l.cfg.Tag, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, false, fmt.Errorf("radio: poll %s: read body: %w", l.cfg.Tag, err)
	}
	if len(body) == 0 {
		return nil, false, nil
	}

	pkt, err := decodeFromRadio(body, l.cfg.Tag, l.DisplayName())
	if err != nil {
		// Junk on an otherwise healthy endpoint; the poll still proved
		// liveness.
		return nil, true, nil
	}
	return pkt, true, nil
}

func (l *HTTPLink) Close() error {
	l.pending = nil
	l.backlog = false
	l.client.CloseIdleConnections()
	return nil
}

var _ ports.Link = (*HTTPLink)(nil)
