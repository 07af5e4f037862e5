package radio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/meshtastic/go/generated/meshtastic"
)

// radioServer hands out queued responses in order, then empty 200s.
type radioServer struct {
	mu        sync.Mutex
	responses [][]byte
	lastReq   *http.Request
}

func (s *radioServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.lastReq = r.Clone(context.Background())
		if len(s.responses) == 0 {
			w.WriteHeader(http.StatusOK)
			return
		}
		body := s.responses[0]
		s.responses = s.responses[1:]
		_, _ = w.Write(body)
	}
}

func (s *radioServer) push(body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, body)
}

func (s *radioServer) last() *http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReq
}

func newHTTPLinkForTest(t *testing.T, srv *radioServer, poll time.Duration) *HTTPLink {
	t.Helper()
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)
	return NewHTTPLink(HTTPConfig{
		Tag:          "http0",
		Name:         "Roof Radio",
		Address:      ts.URL,
		PollInterval: poll,
	})
}

func TestHTTPLinkDeliversPacket(t *testing.T) {
	srv := &radioServer{}
	srv.push(marshalPacket(t, &meshtastic.MeshPacket{
		From: 0x55, Id: 11,
		PayloadVariant: &meshtastic.MeshPacket_Decoded{
			Decoded: &meshtastic.Data{
				Portnum: meshtastic.PortNum(1),
				Payload: []byte("over the wire"),
			},
		},
	}))
	link := newHTTPLinkForTest(t, srv, time.Millisecond)
	ctx := context.Background()

	if err := link.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	pkt, err := link.ReadPacket(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if pkt == nil || pkt.Text != "over the wire" {
		t.Fatalf("packet = %+v", pkt)
	}
	if pkt.LinkTag != "http0" || pkt.LinkName != "Roof Radio" {
		t.Fatalf("link labels wrong: %q %q", pkt.LinkTag, pkt.LinkName)
	}

	req := srv.last()
	if req == nil {
		t.Fatal("no request recorded")
	}
	if req.URL.Path != "/api/v1/fromradio" {
		t.Fatalf("path = %s", req.URL.Path)
	}
	if req.URL.Query().Get("all") != "false" {
		t.Fatalf("query = %s", req.URL.RawQuery)
	}
	if req.Header.Get("Accept") != "application/x-protobuf" {
		t.Fatalf("accept header = %q", req.Header.Get("Accept"))
	}
}

func TestHTTPLinkEmptyPollIsLivenessUnit(t *testing.T) {
	link := newHTTPLinkForTest(t, &radioServer{}, time.Millisecond)
	ctx := context.Background()

	if err := link.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	pkt, err := link.ReadPacket(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if pkt != nil {
		t.Fatalf("empty poll should yield a liveness unit, got %+v", pkt)
	}
}

func TestHTTPLinkDrainsBacklogWithoutWaiting(t *testing.T) {
	srv := &radioServer{}
	for i := uint32(1); i <= 3; i++ {
		srv.push(marshalPacket(t, &meshtastic.MeshPacket{
			From: 0x55, Id: i,
			PayloadVariant: &meshtastic.MeshPacket_Decoded{
				Decoded: &meshtastic.Data{
					Portnum: meshtastic.PortNum(1),
					Payload: []byte("queued"),
				},
			},
		}))
	}
	// A poll interval no test should ever sit through: draining has to
	// come from the backlog fast path.
	link := newHTTPLinkForTest(t, srv, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := link.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 1; i <= 3; i++ {
		pkt, err := link.ReadPacket(ctx)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if pkt == nil || pkt.PacketID != uint32(i) {
			t.Fatalf("read %d: packet = %+v", i, pkt)
		}
	}
}

func TestHTTPLinkErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rebooting", http.StatusServiceUnavailable)
	}))
	t.Cleanup(ts.Close)

	link := NewHTTPLink(HTTPConfig{Tag: "http0", Address: ts.URL, PollInterval: time.Millisecond})
	if err := link.Open(context.Background()); err == nil {
		t.Fatal("open against a 503 endpoint should fail")
	}
}

func TestHTTPLinkUnreachableHost(t *testing.T) {
	link := NewHTTPLink(HTTPConfig{
		Tag:          "http0",
		Address:      "127.0.0.1:1",
		PollInterval: time.Millisecond,
		Timeout:      200 * time.Millisecond,
	})
	if err := link.Open(context.Background()); err == nil {
		t.Fatal("open against a closed port should fail")
	}
}

func TestHTTPLinkReadHonorsContext(t *testing.T) {
	link := newHTTPLinkForTest(t, &radioServer{}, time.Hour)
	if err := link.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := link.ReadPacket(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("read did not unblock promptly on context expiry")
	}
}
