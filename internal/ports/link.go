package ports

import (
	"context"
	"errors"

	"github.com/sargonas/meshcord/internal/domain"
)

// ErrReadTimeout reports a read window that passed with no data at all. Not a
// transport failure on its own; the connection manager decides when silence
// becomes one.
var ErrReadTimeout = errors.New("meshcord: read timeout")

// Link is one transport connection to one radio.
//
// ReadPacket blocks until a packet arrives, the per-read window elapses
// (ErrReadTimeout), or the transport fails. A (nil, nil) return is a liveness
// unit: the transport proved the radio is reachable without handing over
// content. Serial links never emit liveness units; a quiet port proves nothing.
type Link interface {
	Open(ctx context.Context) error
	ReadPacket(ctx context.Context) (*domain.RawPacket, error)
	Close() error

	Tag() string
	DisplayName() string
}
