package observability

import (
	"github.com/sargonas/meshcord/internal/domain"
	"github.com/sargonas/meshcord/internal/ports"
)

// Noop discards every log line and metric. For embedders that bring their
// own observability, and for tests that do not assert on it.
type Noop struct{}

func (Noop) LogInfo(msg string, fields ...ports.Field) {}

func (Noop) LogError(msg string, err error, fields ...ports.Field) {}

func (Noop) LogCritical(msg string, err error, fields ...ports.Field) {}

func (Noop) IncCounter(name string, v float64) {}

func (Noop) ObserveLatency(name string, seconds float64) {}

func (Noop) SetGauge(name string, v float64) {}

func (Noop) RecordDLQ(d *domain.Delivery, err error) {}

var _ ports.Observability = Noop{}
