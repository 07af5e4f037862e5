package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sargonas/meshcord/internal/domain"
)

var kindEmoji = map[domain.MessageKind]string{
	domain.KindText:            "💬",
	domain.KindPosition:        "📍",
	domain.KindNodeInfo:        "ℹ️",
	domain.KindTelemetry:       "📊",
	domain.KindRouting:         "🔄",
	domain.KindAdmin:           "⚙️",
	domain.KindDetectionSensor: "🚨",
	domain.KindRangeTest:       "📏",
	domain.KindStoreForward:    "💾",
	domain.KindUnknown:         "❓",
}

// Format renders one message for chat: a header line with the link name,
// sender and timestamp, a kind-specific body, and an optional signal line.
func Format(m *domain.ClassifiedMessage, showSignal bool) string {
	var b strings.Builder

	b.WriteString(kindEmoji[m.Kind])
	b.WriteString(" **")
	b.WriteString(m.LinkName)
	b.WriteString("** | ")
	b.WriteString(m.Sender)
	b.WriteString(" | ")
	b.WriteString(formatTime(m.RxTime))
	if m.Direct {
		b.WriteString(" [DM]")
	}
	b.WriteByte('\n')
	b.WriteString(formatBody(m))

	if showSignal && m.HasSignal {
		b.WriteString("\n📶 SNR: ")
		b.WriteString(strconv.FormatFloat(float64(m.SNR), 'g', -1, 32))
		b.WriteString(" | RSSI: ")
		b.WriteString(strconv.Itoa(int(m.RSSI)))
	}

	return b.String()
}

func formatBody(m *domain.ClassifiedMessage) string {
	switch m.Kind {
	case domain.KindText:
		return m.Text

	case domain.KindPosition:
		if p := m.Position; p != nil {
			body := fmt.Sprintf("Position update: %.5f, %.5f", p.Latitude, p.Longitude)
			if p.Altitude != 0 {
				body += fmt.Sprintf(", alt %d m", p.Altitude)
			}
			return body
		}
		return "Position update"

	case domain.KindNodeInfo:
		if id := m.Identity; id != nil {
			if label := identityLabel(id); label != "" {
				return "Node info update: " + label
			}
		}
		return "Node info update"

	case domain.KindTelemetry:
		if t := m.Telemetry; t != nil {
			if t.HasDevice {
				return "Telemetry data: " + deviceTelemetry(t)
			}
			if t.Variant != "" {
				return "Telemetry data (" + t.Variant + ")"
			}
		}
		return "Telemetry data"

	case domain.KindRouting:
		if m.Routing != "" {
			return "Routing message: " + m.Routing
		}
		return "Routing message"

	case domain.KindAdmin:
		return "Admin message"

	case domain.KindDetectionSensor:
		if m.Text != "" {
			return "Detection sensor: " + m.Text
		}
		return "Detection sensor"

	case domain.KindRangeTest:
		if m.Text != "" {
			return "Range test: " + m.Text
		}
		return "Range test"

	case domain.KindStoreForward:
		return "Store & Forward"

	default:
		if m.Port < 0 {
			return "Unknown message (encrypted)"
		}
		return fmt.Sprintf("Unknown message (port %d)", m.Port)
	}
}

func identityLabel(id *domain.NodeIdentity) string {
	switch {
	case id.LongName != "" && id.ShortName != "":
		return id.LongName + " (" + id.ShortName + ")"
	case id.LongName != "":
		return id.LongName
	default:
		return id.ShortName
	}
}

func deviceTelemetry(t *domain.TelemetrySummary) string {
	parts := []string{fmt.Sprintf("battery %d%%", t.Battery)}
	if t.Voltage > 0 {
		parts = append(parts, fmt.Sprintf("%.2f V", t.Voltage))
	}
	if t.ChannelUtil > 0 {
		parts = append(parts, fmt.Sprintf("ch util %.1f%%", t.ChannelUtil))
	}
	if t.AirUtilTx > 0 {
		parts = append(parts, fmt.Sprintf("air tx %.1f%%", t.AirUtilTx))
	}
	return strings.Join(parts, ", ")
}

// formatTime renders the radio's receive time as a chat platform dynamic
// timestamp, or N/A when the radio supplied none.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return "<t:" + strconv.FormatInt(t.Unix(), 10) + ":t>"
}

// Chunk splits a formatted message into pieces that each fit the limit,
// breaking on line boundaries so the signal line and header stay intact.
// A single line longer than the limit is hard-split as a last resort,
// backing off to a rune boundary.
func Chunk(s string, max int) []string {
	if max <= 0 || len(s) <= max {
		return []string{s}
	}

	var (
		chunks []string
		b      strings.Builder
	)
	for _, line := range strings.Split(s, "\n") {
		for len(line) > max {
			if b.Len() > 0 {
				chunks = append(chunks, b.String())
				b.Reset()
			}
			cut := max
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			if cut == 0 {
				cut = max
			}
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}

		join := len(line)
		if b.Len() > 0 {
			join++
		}
		if b.Len()+join > max {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}
