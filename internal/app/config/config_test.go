package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sargonas/meshcord/internal/domain"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
radios:
  - name: Home
    type: http
    address: 192.168.1.50
forwarder:
  webhook_url: https://example.com/hook
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Connection.SilenceTimeoutSec != 300 {
		t.Fatalf("expected silence timeout default 300, got %d", cfg.Connection.SilenceTimeoutSec)
	}
	if cfg.Connection.MaxReconnectAttempts != 5 {
		t.Fatalf("expected max reconnect attempts default 5, got %d", cfg.Connection.MaxReconnectAttempts)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Fatalf("expected default store driver sqlite, got %s", cfg.Store.Driver)
	}
	if cfg.Store.RetentionHours != 24 {
		t.Fatalf("expected retention default 24h, got %d", cfg.Store.RetentionHours)
	}
	if cfg.Forwarder.MaxChunkSize != 1900 {
		t.Fatalf("expected default chunk size 1900, got %d", cfg.Forwarder.MaxChunkSize)
	}
	if cfg.Radios[0].PollIntervalMS != 2000 {
		t.Fatalf("expected default poll interval 2000ms, got %d", cfg.Radios[0].PollIntervalMS)
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Fatalf("expected default metrics addr :9100, got %s", cfg.Metrics.Addr)
	}
	if !*cfg.ShowSignal {
		t.Fatalf("expected signal strength reporting on by default")
	}
}

func TestLoadFilterDefaults(t *testing.T) {
	path := writeConfig(t, `
radios:
  - name: Home
    type: serial
    port: /dev/ttyUSB0
forwarder:
  webhook_url: https://example.com/hook
filters:
  telemetry: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	filters := cfg.KindFilters()
	if !filters[domain.KindText] {
		t.Fatalf("expected text filter on by default")
	}
	if filters[domain.KindRouting] {
		t.Fatalf("expected routing filter off by default")
	}
	if filters[domain.KindUnknown] {
		t.Fatalf("expected unknown filter off by default")
	}
	if filters[domain.KindTelemetry] {
		t.Fatalf("expected telemetry filter off when explicitly disabled")
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("MESHCORD_TEST_HOOK", "https://example.com/secret-hook")

	path := writeConfig(t, `
radios:
  - name: Home
    type: http
    address: 192.168.1.50
forwarder:
  webhook_url: ${MESHCORD_TEST_HOOK}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Forwarder.WebhookURL != "https://example.com/secret-hook" {
		t.Fatalf("expected webhook url from env, got %s", cfg.Forwarder.WebhookURL)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name string
		data string
		want string
	}{
		{
			name: "no radios",
			data: "forwarder:\n  webhook_url: https://example.com/hook\n",
			want: "at least one radio",
		},
		{
			name: "duplicate radio names",
			data: `
radios:
  - name: Home
    type: http
    address: a
  - name: Home
    type: http
    address: b
forwarder:
  webhook_url: https://example.com/hook
`,
			want: "not unique",
		},
		{
			name: "serial without port",
			data: `
radios:
  - name: Van
    type: serial
forwarder:
  webhook_url: https://example.com/hook
`,
			want: "port is required",
		},
		{
			name: "unknown radio type",
			data: `
radios:
  - name: Van
    type: carrier-pigeon
forwarder:
  webhook_url: https://example.com/hook
`,
			want: "must be \"serial\" or \"http\"",
		},
		{
			name: "missing webhook",
			data: `
radios:
  - name: Home
    type: http
    address: 192.168.1.50
`,
			want: "webhook_url is required",
		},
		{
			name: "bad queue policy",
			data: `
radios:
  - name: Home
    type: http
    address: 192.168.1.50
forwarder:
  webhook_url: https://example.com/hook
queue:
  policy: throw_away
`,
			want: "queue.policy",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.data)
			_, err := Load(path)
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
