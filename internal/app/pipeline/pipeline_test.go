package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sargonas/meshcord/internal/domain"
	"github.com/sargonas/meshcord/internal/ports"
)

type memDedup struct {
	mu         sync.Mutex
	seen       map[domain.Fingerprint]string
	hasSeenErr error
	markErr    error
	markLoses  bool
}

func newMemDedup() *memDedup {
	return &memDedup{seen: make(map[domain.Fingerprint]string)}
}

func (m *memDedup) HasSeen(_ context.Context, fp domain.Fingerprint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasSeenErr != nil {
		return false, m.hasSeenErr
	}
	_, ok := m.seen[fp]
	return ok, nil
}

func (m *memDedup) MarkSeen(_ context.Context, fp domain.Fingerprint, linkTag string, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return false, m.markErr
	}
	if m.markLoses {
		return false, nil
	}
	if _, ok := m.seen[fp]; ok {
		return false, nil
	}
	m.seen[fp] = linkTag
	return true, nil
}

func (m *memDedup) Prune(context.Context, time.Duration) (int64, error) { return 0, nil }

func (m *memDedup) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

type memRegistry struct {
	mu      sync.Mutex
	nodes   map[domain.NodeID]domain.NodeIdentity
	touches int
}

func newMemRegistry() *memRegistry {
	return &memRegistry{nodes: make(map[domain.NodeID]domain.NodeIdentity)}
}

func (m *memRegistry) UpsertIdentity(_ context.Context, id domain.NodeIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.nodes[id.NodeID]
	cur.NodeID = id.NodeID
	if cur.UpdatedAt.IsZero() || !id.UpdatedAt.Before(cur.UpdatedAt) {
		cur.LongName = id.LongName
		cur.ShortName = id.ShortName
		cur.HwModel = id.HwModel
		cur.UpdatedAt = id.UpdatedAt
	}
	if id.LastSeen.After(cur.LastSeen) {
		cur.LastSeen = id.LastSeen
	}
	m.nodes[id.NodeID] = cur
	return nil
}

func (m *memRegistry) TouchLastSeen(_ context.Context, node domain.NodeID, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touches++
	cur := m.nodes[node]
	cur.NodeID = node
	if ts.After(cur.LastSeen) {
		cur.LastSeen = ts
	}
	m.nodes[node] = cur
	return nil
}

func (m *memRegistry) ResolveName(_ context.Context, node domain.NodeID) (domain.NodeIdentity, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.nodes[node]
	if !ok {
		return domain.NodeIdentity{NodeID: node}, false, nil
	}
	return id, true, nil
}

func (m *memRegistry) ListNodes(context.Context) ([]domain.NodeIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.NodeIdentity, 0, len(m.nodes))
	for _, id := range m.nodes {
		out = append(out, id)
	}
	return out, nil
}

func (m *memRegistry) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = make(map[domain.NodeID]domain.NodeIdentity)
	return nil
}

type captureQueue struct {
	mu       sync.Mutex
	items    []*domain.Delivery
	failWith error
}

func (q *captureQueue) Enqueue(_ context.Context, d *domain.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failWith != nil {
		return q.failWith
	}
	q.items = append(q.items, d)
	return nil
}

func (q *captureQueue) Dequeue(context.Context) (*domain.Delivery, error) {
	return nil, ports.ErrQueueClosed
}

func (q *captureQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *captureQueue) Close() {}

func (q *captureQueue) all() []*domain.Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*domain.Delivery(nil), q.items...)
}

type countObs struct {
	mu       sync.Mutex
	counters map[string]float64
	errors   []error
	dlq      []*domain.Delivery
}

func newCountObs() *countObs {
	return &countObs{counters: make(map[string]float64)}
}

func (o *countObs) LogInfo(string, ...ports.Field) {}

func (o *countObs) LogError(_ string, err error, _ ...ports.Field) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors = append(o.errors, err)
}

func (o *countObs) LogCritical(_ string, err error, _ ...ports.Field) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors = append(o.errors, err)
}

func (o *countObs) IncCounter(name string, v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counters[name] += v
}

func (o *countObs) ObserveLatency(string, float64) {}

func (o *countObs) SetGauge(string, float64) {}

func (o *countObs) RecordDLQ(d *domain.Delivery, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dlq = append(o.dlq, d)
}

func (o *countObs) counter(name string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counters[name]
}

type transformFunc func(*domain.ClassifiedMessage) (*domain.ClassifiedMessage, error)

func (f transformFunc) Transform(m *domain.ClassifiedMessage) (*domain.ClassifiedMessage, error) {
	return f(m)
}

type pipeFixture struct {
	dedup    *memDedup
	registry *memRegistry
	queue    *captureQueue
	obs      *countObs
	pipe     *Pipeline
}

func newPipeFixture(mut func(*Config)) *pipeFixture {
	cfg := Config{Filters: DefaultFilters(), ShowSignal: true, MaxChunkSize: 1900}
	if mut != nil {
		mut(&cfg)
	}
	f := &pipeFixture{
		dedup:    newMemDedup(),
		registry: newMemRegistry(),
		queue:    &captureQueue{},
		obs:      newCountObs(),
	}
	f.pipe = New(f.dedup, f.registry, f.queue, f.obs, cfg)
	return f
}

func textPacket(from domain.NodeID, id uint32, text string) *domain.RawPacket {
	return &domain.RawPacket{
		LinkTag:   "home",
		LinkName:  "Home",
		From:      from,
		To:        domain.Broadcast,
		PacketID:  id,
		RxTime:    time.Unix(1724300000, 0),
		Port:      domain.PortText,
		HasSignal: true,
		SNR:       8.5,
		RSSI:      -95,
		PayloadOK: true,
		Text:      text,
	}
}

func TestProcessForwardsTextPacket(t *testing.T) {
	f := newPipeFixture(nil)

	if err := f.pipe.Process(context.Background(), textPacket(0x433d0c14, 99, "hello mesh")); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	got := f.queue.all()
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	d := got[0]
	if d.Fingerprint != "433d0c14_99" {
		t.Fatalf("unexpected fingerprint %q", d.Fingerprint)
	}
	if d.Kind != "text" || d.LinkTag != "home" {
		t.Fatalf("unexpected delivery metadata: kind=%q link=%q", d.Kind, d.LinkTag)
	}
	if len(d.Chunks) != 1 || !strings.Contains(d.Chunks[0], "hello mesh") {
		t.Fatalf("unexpected chunks: %q", d.Chunks)
	}
	if f.dedup.count() != 1 {
		t.Fatalf("expected a dedup record after forwarding")
	}
}

func TestProcessDropsSameFingerprintFromSecondLink(t *testing.T) {
	f := newPipeFixture(nil)

	first := textPacket(0x433d0c14, 7, "heard twice")
	second := textPacket(0x433d0c14, 7, "heard twice")
	second.LinkTag = "mobile"
	second.LinkName = "Mobile"

	if err := f.pipe.Process(context.Background(), first); err != nil {
		t.Fatalf("first process failed: %v", err)
	}
	if err := f.pipe.Process(context.Background(), second); err != nil {
		t.Fatalf("second process failed: %v", err)
	}

	if got := len(f.queue.all()); got != 1 {
		t.Fatalf("expected exactly one delivery across links, got %d", got)
	}
	if got := f.obs.counter("meshcord_messages_duplicate_total"); got != 1 {
		t.Fatalf("expected 1 duplicate, counted %f", got)
	}
}

func TestProcessFilteredKindLeavesNoDedupRecord(t *testing.T) {
	f := newPipeFixture(nil)

	routing := textPacket(0x01020304, 5, "")
	routing.Port = domain.PortRouting
	routing.Routing = "NO_ROUTE"

	if err := f.pipe.Process(context.Background(), routing); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if got := len(f.queue.all()); got != 0 {
		t.Fatalf("expected routing to be filtered, got %d deliveries", got)
	}
	if got := f.obs.counter("meshcord_messages_filtered_total"); got != 1 {
		t.Fatalf("expected 1 filtered, counted %f", got)
	}
	if f.dedup.count() != 0 {
		t.Fatalf("filtered packet must not be marked seen")
	}

	// With the filter on, the same fingerprint must still be forwardable.
	filters := DefaultFilters()
	filters[domain.KindRouting] = true
	relaxedQueue := &captureQueue{}
	relaxed := New(f.dedup, f.registry, relaxedQueue, newCountObs(), Config{Filters: filters})

	if err := relaxed.Process(context.Background(), routing); err != nil {
		t.Fatalf("process with filter enabled failed: %v", err)
	}
	if got := len(relaxedQueue.all()); got != 1 {
		t.Fatalf("expected the packet to forward once the filter allows it, got %d", got)
	}
}

func TestProcessSkipsEmptyText(t *testing.T) {
	f := newPipeFixture(nil)

	if err := f.pipe.Process(context.Background(), textPacket(1, 2, "   ")); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if got := len(f.queue.all()); got != 0 {
		t.Fatalf("expected empty text to be skipped, got %d deliveries", got)
	}
	if f.dedup.count() != 0 {
		t.Fatalf("empty text must not be marked seen")
	}
	if got := f.obs.counter("meshcord_messages_filtered_total"); got != 0 {
		t.Fatalf("empty text is a skip, not a filter drop; counted %f", got)
	}
}

func TestProcessNodeInfoRendersOwnFreshName(t *testing.T) {
	f := newPipeFixture(nil)

	p := textPacket(0xabcdef12, 11, "")
	p.Port = domain.PortNodeInfo
	p.Identity = &domain.NodeIdentity{
		NodeID:    0xabcdef12,
		LongName:  "Weather Station",
		UpdatedAt: p.RxTime,
		LastSeen:  p.RxTime,
	}

	if err := f.pipe.Process(context.Background(), p); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	got := f.queue.all()
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if !strings.Contains(got[0].Chunks[0], "Weather Station (abcdef12)") {
		t.Fatalf("expected the packet to render under its own name, got %q", got[0].Chunks[0])
	}
	if got := f.obs.counter("meshcord_registry_updates_total"); got != 1 {
		t.Fatalf("expected 1 registry update, counted %f", got)
	}
}

func TestProcessTelemetryUsesLearnedName(t *testing.T) {
	f := newPipeFixture(nil)

	info := textPacket(0xabcdef12, 20, "")
	info.Port = domain.PortNodeInfo
	info.Identity = &domain.NodeIdentity{
		NodeID:    0xabcdef12,
		LongName:  "Weather Station",
		UpdatedAt: info.RxTime,
		LastSeen:  info.RxTime,
	}
	if err := f.pipe.Process(context.Background(), info); err != nil {
		t.Fatalf("node-info process failed: %v", err)
	}

	tel := textPacket(0xabcdef12, 21, "")
	tel.Port = domain.PortTelemetry
	tel.Telemetry = &domain.TelemetrySummary{Variant: "device", HasDevice: true, Battery: 87}
	if err := f.pipe.Process(context.Background(), tel); err != nil {
		t.Fatalf("telemetry process failed: %v", err)
	}

	got := f.queue.all()
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
	if !strings.Contains(got[1].Chunks[0], "Weather Station (abcdef12)") {
		t.Fatalf("expected telemetry to display the learned name, got %q", got[1].Chunks[0])
	}
}

func TestProcessRegistryOnlyPacketBypassesPipeline(t *testing.T) {
	f := newPipeFixture(nil)

	p := &domain.RawPacket{
		LinkTag:      "home",
		LinkName:     "Home",
		RegistryOnly: true,
		From:         0x0a0b0c0d,
		Identity: &domain.NodeIdentity{
			NodeID:   0x0a0b0c0d,
			LongName: "Base",
			LastSeen: time.Unix(1724300000, 0),
		},
	}
	if err := f.pipe.Process(context.Background(), p); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if got := len(f.queue.all()); got != 0 {
		t.Fatalf("registry sync frames must not forward, got %d deliveries", got)
	}
	if f.dedup.count() != 0 {
		t.Fatalf("registry sync frames must not be marked seen")
	}
	id, ok, _ := f.registry.ResolveName(context.Background(), 0x0a0b0c0d)
	if !ok || id.LongName != "Base" {
		t.Fatalf("expected registry to learn the node, got %+v ok=%v", id, ok)
	}
}

func TestProcessStoreFailureHaltsForwarding(t *testing.T) {
	f := newPipeFixture(nil)
	f.dedup.hasSeenErr = errors.New("disk is gone")

	err := f.pipe.Process(context.Background(), textPacket(1, 2, "hi"))
	if err == nil || !strings.Contains(err.Error(), "dedup lookup") {
		t.Fatalf("expected dedup lookup failure, got %v", err)
	}
	if got := len(f.queue.all()); got != 0 {
		t.Fatalf("store outage must halt forwarding, got %d deliveries", got)
	}

	f.dedup.hasSeenErr = nil
	f.dedup.markErr = errors.New("disk is gone")
	err = f.pipe.Process(context.Background(), textPacket(1, 3, "hi"))
	if err == nil || !strings.Contains(err.Error(), "dedup insert") {
		t.Fatalf("expected dedup insert failure, got %v", err)
	}
	if got := len(f.queue.all()); got != 0 {
		t.Fatalf("store outage must halt forwarding, got %d deliveries", got)
	}
}

func TestProcessMarkSeenRaceLoserDoesNotForward(t *testing.T) {
	f := newPipeFixture(nil)
	f.dedup.markLoses = true

	if err := f.pipe.Process(context.Background(), textPacket(1, 2, "racy")); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if got := len(f.queue.all()); got != 0 {
		t.Fatalf("losing the markSeen race must not forward, got %d deliveries", got)
	}
	if got := f.obs.counter("meshcord_messages_duplicate_total"); got != 1 {
		t.Fatalf("expected the race loss counted as duplicate, counted %f", got)
	}
}

func TestProcessQueueFullStillMarksSeen(t *testing.T) {
	f := newPipeFixture(nil)
	f.queue.failWith = ports.ErrQueueFull

	if err := f.pipe.Process(context.Background(), textPacket(1, 2, "overflow")); err != nil {
		t.Fatalf("queue overflow should not fail the pass: %v", err)
	}
	if f.dedup.count() != 1 {
		t.Fatalf("dropped delivery must stay marked seen")
	}
	if got := f.obs.counter("meshcord_queue_dropped_total"); got != 1 {
		t.Fatalf("expected 1 queue drop, counted %f", got)
	}
}

func TestProcessTransformDropSkipsDedupRecord(t *testing.T) {
	f := newPipeFixture(func(c *Config) {
		c.Transform = transformFunc(func(*domain.ClassifiedMessage) (*domain.ClassifiedMessage, error) {
			return nil, nil
		})
	})

	if err := f.pipe.Process(context.Background(), textPacket(1, 2, "secret")); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if got := len(f.queue.all()); got != 0 {
		t.Fatalf("transform drop must not forward, got %d deliveries", got)
	}
	if f.dedup.count() != 0 {
		t.Fatalf("transform drop must not be marked seen")
	}
}

func TestProcessTransformRewritesMessage(t *testing.T) {
	f := newPipeFixture(func(c *Config) {
		c.Transform = transformFunc(func(m *domain.ClassifiedMessage) (*domain.ClassifiedMessage, error) {
			m.Text = "[redacted]"
			return m, nil
		})
	})

	if err := f.pipe.Process(context.Background(), textPacket(1, 2, "coordinates inside")); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	got := f.queue.all()
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if !strings.Contains(got[0].Chunks[0], "[redacted]") || strings.Contains(got[0].Chunks[0], "coordinates") {
		t.Fatalf("expected transformed text, got %q", got[0].Chunks[0])
	}
}

func TestProcessUndecodablePayloadClassifiesUnknown(t *testing.T) {
	f := newPipeFixture(func(c *Config) { c.Filters[domain.KindUnknown] = true })

	p := textPacket(1, 2, "")
	p.Port = domain.PortPosition
	p.PayloadOK = false

	if err := f.pipe.Process(context.Background(), p); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	got := f.queue.all()
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if got[0].Kind != "unknown" {
		t.Fatalf("expected unknown kind, got %q", got[0].Kind)
	}
	if !strings.Contains(got[0].Chunks[0], "Unknown message (port 3)") {
		t.Fatalf("expected the body to carry the port, got %q", got[0].Chunks[0])
	}
}

func TestProcessTouchesLastSeenEvenWhenFiltered(t *testing.T) {
	f := newPipeFixture(nil)

	routing := textPacket(0x11223344, 9, "")
	routing.Port = domain.PortRouting

	if err := f.pipe.Process(context.Background(), routing); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if f.registry.touches != 1 {
		t.Fatalf("expected 1 last-seen touch, got %d", f.registry.touches)
	}
	id, _, _ := f.registry.ResolveName(context.Background(), 0x11223344)
	if id.LastSeen.IsZero() {
		t.Fatalf("expected last-seen to advance for a filtered packet")
	}
}
