package radio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/meshtastic/go/generated/meshtastic"
	serial "go.bug.st/serial"
	"google.golang.org/protobuf/proto"

	"github.com/sargonas/meshcord/internal/domain"
	"github.com/sargonas/meshcord/internal/ports"
)

// serialPort is the slice of go.bug.st/serial.Port the link needs; narrowed
// so tests can stand in a pipe.
type serialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(time.Duration) error
}

type SerialConfig struct {
	Tag  string
	Name string
	Port string
	Baud int
}

// SerialLink reads framed FromRadio messages from a serial device. A quiet
// port proves nothing about device health, so this link never emits liveness
// units; the connection manager's silence timeout decides when quiet means
// dead.
type SerialLink struct {
	cfg  SerialConfig
	dial func() (serialPort, error)

	mu      sync.Mutex
	port    serialPort
	packets chan *domain.RawPacket
	done    chan struct{}
	readErr error
}

func NewSerialLink(cfg SerialConfig) *SerialLink {
	if cfg.Baud <= 0 {
		cfg.Baud = 115200
	}
	l := &SerialLink{cfg: cfg}
	l.dial = func() (serialPort, error) {
		return serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.Baud})
	}
	return l
}

func (l *SerialLink) Tag() string { return l.cfg.Tag }

func (l *SerialLink) DisplayName() string {
	if l.cfg.Name != "" {
		return l.cfg.Name
	}
	return l.cfg.Tag
}

// Open dials the device, runs the wake handshake and starts the frame
// reader. The want-config request makes the device stream its node database
// before live traffic, which warms the node registry.
func (l *SerialLink) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	port, err := l.dial()
	if err != nil {
		return fmt.Errorf("radio: open serial %s: %w", l.cfg.Port, err)
	}
	if err := port.SetReadTimeout(time.Second); err != nil {
		_ = port.Close()
		return fmt.Errorf("radio: serial %s read timeout: %w", l.cfg.Port, err)
	}

	if _, err := port.Write(wakePreamble); err != nil {
		_ = port.Close()
		return fmt.Errorf("radio: serial %s wake: %w", l.cfg.Port, err)
	}
	wantConfig, err := proto.Marshal(&meshtastic.ToRadio{
		PayloadVariant: &meshtastic.ToRadio_WantConfigId{WantConfigId: rand.Uint32() | 1},
	})
	if err != nil {
		_ = port.Close()
		return fmt.Errorf("radio: serial %s want config: %w", l.cfg.Port, err)
	}
	if err := writeFrame(port, wantConfig); err != nil {
		_ = port.Close()
		return err
	}

	l.mu.Lock()
	l.port = port
	l.packets = make(chan *domain.RawPacket, 16)
	l.done = make(chan struct{})
	l.readErr = nil
	l.mu.Unlock()

	go l.readLoop(port, l.packets, l.done)
	return nil
}

func (l *SerialLink) readLoop(port serialPort, out chan<- *domain.RawPacket, done <-chan struct{}) {
	fr := newFrameReader(port)
	for {
		frame, err := fr.ReadFrame()
		if err != nil {
			l.mu.Lock()
			l.readErr = err
			l.mu.Unlock()
			close(out)
			return
		}
		pkt, err := decodeFromRadio(frame, l.cfg.Tag, l.DisplayName())
		if err != nil || pkt == nil {
			// Framing noise that happened to look like a frame, or
			// config bookkeeping. Resume the hunt.
			continue
		}
		select {
		case out <- pkt:
		case <-done:
			return
		}
	}
}

func (l *SerialLink) ReadPacket(ctx context.Context) (*domain.RawPacket, error) {
	l.mu.Lock()
	ch := l.packets
	l.mu.Unlock()
	if ch == nil {
		return nil, errors.New("radio: serial link not open")
	}

	select {
	case pkt, ok := <-ch:
		if !ok {
			return nil, l.takeReadErr()
		}
		return pkt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *SerialLink) takeReadErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return fmt.Errorf("radio: serial %s: %w", l.cfg.Port, l.readErr)
	}
	return fmt.Errorf("radio: serial %s: stream closed", l.cfg.Port)
}

func (l *SerialLink) Close() error {
	l.mu.Lock()
	port := l.port
	done := l.done
	l.port = nil
	l.packets = nil
	l.done = nil
	l.mu.Unlock()

	if done != nil {
		close(done)
	}
	if port == nil {
		return nil
	}
	if err := port.Close(); err != nil {
		return fmt.Errorf("radio: close serial %s: %w", l.cfg.Port, err)
	}
	return nil
}

var _ ports.Link = (*SerialLink)(nil)
