package conn

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sargonas/meshcord/internal/domain"
	"github.com/sargonas/meshcord/internal/ports"
)

// ErrLinkAbandoned reports a link that exhausted its reconnect budget. The
// link stays down until an external restart; other links are unaffected.
var ErrLinkAbandoned = errors.New("meshcord: link abandoned after max reconnect attempts")

// errSilence is the internal reconnect reason for a transport that stopped
// producing data and liveness units.
var errSilence = errors.New("meshcord: silence timeout exceeded")

// PacketHandler consumes packets read from a healthy link. A returned error
// is escalated through the observability port but does not tear the link
// down; the packet is abandoned without a dedup record.
type PacketHandler func(ctx context.Context, p *domain.RawPacket) error

type ManagerConfig struct {
	SilenceTimeout       time.Duration
	ReadTimeout          time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
}

// Manager drives one link through disconnected, connecting, connected and
// reconnecting. Opens go through the breaker; read failures and silence
// send the link back through the reconnect path.
type Manager struct {
	link    ports.Link
	breaker *Breaker
	handler PacketHandler
	obs     ports.Observability
	cfg     ManagerConfig

	mu    sync.Mutex
	state domain.LinkState
}

func NewManager(link ports.Link, breaker *Breaker, handler PacketHandler, obs ports.Observability, cfg ManagerConfig) *Manager {
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = 5 * time.Minute
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 30 * time.Second
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = cfg.ReconnectDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	return &Manager{
		link:    link,
		breaker: breaker,
		handler: handler,
		obs:     obs,
		cfg:     cfg,
		state:   domain.LinkDisconnected,
	}
}

func (m *Manager) State() domain.LinkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Run drives the link until ctx is cancelled (returns nil) or the reconnect
// budget is exhausted (returns ErrLinkAbandoned). Never returns while a
// bounded retry path remains.
func (m *Manager) Run(ctx context.Context) error {
	defer func() {
		_ = m.link.Close()
	}()

	attempts := 0
	for {
		if ctx.Err() != nil {
			m.setState(domain.LinkDisconnected)
			return nil
		}

		m.setState(domain.LinkConnecting)
		err := m.breaker.Do(func() error {
			return m.link.Open(ctx)
		})
		m.obs.SetGauge("meshcord_breaker_state_"+m.link.Tag(), float64(m.breaker.State()))

		if err != nil {
			if ctx.Err() != nil {
				m.setState(domain.LinkDisconnected)
				return nil
			}
			attempts++
			if errors.Is(err, ErrBreakerOpen) {
				m.obs.LogInfo("connect attempt skipped, breaker open",
					ports.Field{Key: "link", Value: m.link.Tag()},
					ports.Field{Key: "attempt", Value: attempts})
			} else {
				m.obs.LogError("connect attempt failed", err,
					ports.Field{Key: "link", Value: m.link.Tag()},
					ports.Field{Key: "attempt", Value: attempts})
			}
			if attempts >= m.cfg.MaxReconnectAttempts {
				m.setState(domain.LinkDisconnected)
				return fmt.Errorf("link %s: %w", m.link.Tag(), ErrLinkAbandoned)
			}
			m.setState(domain.LinkReconnecting)
			if !m.wait(ctx, m.backoffDelay(attempts)) {
				m.setState(domain.LinkDisconnected)
				return nil
			}
			continue
		}

		attempts = 0
		m.setState(domain.LinkConnected)

		reason := m.readLoop(ctx)
		_ = m.link.Close()
		if ctx.Err() != nil {
			m.setState(domain.LinkDisconnected)
			return nil
		}

		m.obs.LogError("link lost, reconnecting", reason,
			ports.Field{Key: "link", Value: m.link.Tag()})
		m.setState(domain.LinkReconnecting)
		attempts++
		if attempts >= m.cfg.MaxReconnectAttempts {
			m.setState(domain.LinkDisconnected)
			return fmt.Errorf("link %s: %w", m.link.Tag(), ErrLinkAbandoned)
		}
		if !m.wait(ctx, m.backoffDelay(attempts)) {
			m.setState(domain.LinkDisconnected)
			return nil
		}
	}
}

// readLoop pulls packets until the transport errors out or goes silent.
// Returns the reconnect reason; never returns nil unless ctx is done.
func (m *Manager) readLoop(ctx context.Context) error {
	lastData := time.Now()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rctx, cancel := context.WithTimeout(ctx, m.cfg.ReadTimeout)
		p, err := m.link.ReadPacket(rctx)
		cancel()

		switch {
		case err == nil && p != nil:
			lastData = time.Now()
			m.obs.IncCounter("meshcord_packets_received_total", 1)
			if herr := m.handler(ctx, p); herr != nil {
				m.obs.LogCritical("packet processing failed", herr,
					ports.Field{Key: "link", Value: m.link.Tag()},
					ports.Field{Key: "fingerprint", Value: string(p.FingerprintOf())})
			}

		case err == nil:
			// Liveness unit: the transport answered with no content.
			lastData = time.Now()

		case errors.Is(err, ports.ErrReadTimeout) || errors.Is(err, context.DeadlineExceeded):
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if time.Since(lastData) > m.cfg.SilenceTimeout {
				return fmt.Errorf("%w (no data for %s on %s)", errSilence, m.cfg.SilenceTimeout, m.link.Tag())
			}

		case errors.Is(err, context.Canceled):
			return ctx.Err()

		default:
			return err
		}
	}
}

func (m *Manager) setState(s domain.LinkState) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()

	if prev == s {
		return
	}
	m.obs.LogInfo("link state changed",
		ports.Field{Key: "link", Value: m.link.Tag()},
		ports.Field{Key: "from", Value: prev.String()},
		ports.Field{Key: "to", Value: s.String()})
	m.obs.SetGauge("meshcord_link_state_"+m.link.Tag(), float64(s))
}

// backoffDelay is exponential in the attempt number with jitter, capped.
func (m *Manager) backoffDelay(attempt int) time.Duration {
	d := m.cfg.ReconnectDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= m.cfg.MaxReconnectDelay {
			d = m.cfg.MaxReconnectDelay
			break
		}
	}
	if d >= 2 {
		d = d/2 + time.Duration(rand.Int63n(int64(d/2)))
	}
	return d
}

func (m *Manager) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
