package radio

import (
	"fmt"
	"strings"
	"time"

	"github.com/meshtastic/go/generated/meshtastic"
	"google.golang.org/protobuf/proto"

	"github.com/sargonas/meshcord/internal/domain"
)

// decodeFromRadio turns one FromRadio frame into a RawPacket. Returns
// (nil, nil) for frames that carry nothing the pipeline acts on (config
// download bookkeeping, log records). Node-database entries streamed by the
// device come back as registry-only packets so the node registry warms up
// without producing chat traffic.
func decodeFromRadio(data []byte, linkTag, linkName string) (*domain.RawPacket, error) {
	var fr meshtastic.FromRadio
	if err := proto.Unmarshal(data, &fr); err != nil {
		// Some firmware endpoints hand out bare MeshPackets.
		var mp meshtastic.MeshPacket
		if err2 := proto.Unmarshal(data, &mp); err2 == nil && mp.GetFrom() != 0 {
			return decodeMeshPacket(&mp, linkTag, linkName), nil
		}
		return nil, fmt.Errorf("radio: decode frame: %w", err)
	}

	if p := fr.GetPacket(); p != nil {
		return decodeMeshPacket(p, linkTag, linkName), nil
	}
	if ni := fr.GetNodeInfo(); ni != nil && ni.GetUser() != nil {
		seen := unixOrZero(ni.GetLastHeard())
		if seen.IsZero() {
			seen = time.Now()
		}
		return &domain.RawPacket{
			LinkTag:      linkTag,
			LinkName:     linkName,
			RegistryOnly: true,
			From:         domain.NodeID(ni.GetNum()),
			RxTime:       seen,
			PayloadOK:    true,
			Identity:     decodeUser(domain.NodeID(ni.GetNum()), ni.GetUser(), seen),
		}, nil
	}
	return nil, nil
}

func decodeMeshPacket(p *meshtastic.MeshPacket, linkTag, linkName string) *domain.RawPacket {
	out := &domain.RawPacket{
		LinkTag:   linkTag,
		LinkName:  linkName,
		From:      domain.NodeID(p.GetFrom()),
		To:        domain.NodeID(p.GetTo()),
		PacketID:  p.GetId(),
		RxTime:    unixOrZero(p.GetRxTime()),
		HasSignal: p.GetRxSnr() != 0 || p.GetRxRssi() != 0,
		SNR:       p.GetRxSnr(),
		RSSI:      p.GetRxRssi(),
	}

	decoded := p.GetDecoded()
	if decoded == nil {
		// Encrypted for a channel we do not hold the key for.
		out.Port = -1
		return out
	}
	out.Port = int32(decoded.GetPortnum())
	out.PayloadOK = true
	payload := decoded.GetPayload()

	switch domain.KindForPort(out.Port) {
	case domain.KindText, domain.KindDetectionSensor, domain.KindRangeTest:
		out.Text = strings.TrimSpace(string(payload))

	case domain.KindPosition:
		var pos meshtastic.Position
		if err := proto.Unmarshal(payload, &pos); err != nil {
			out.PayloadOK = false
			return out
		}
		out.Position = &domain.Position{
			Latitude:  float64(pos.GetLatitudeI()) * 1e-7,
			Longitude: float64(pos.GetLongitudeI()) * 1e-7,
			Altitude:  pos.GetAltitude(),
		}

	case domain.KindNodeInfo:
		var user meshtastic.User
		if err := proto.Unmarshal(payload, &user); err != nil {
			out.PayloadOK = false
			return out
		}
		ts := out.RxTime
		if ts.IsZero() {
			ts = time.Now()
		}
		out.Identity = decodeUser(out.From, &user, ts)

	case domain.KindTelemetry:
		var tel meshtastic.Telemetry
		if err := proto.Unmarshal(payload, &tel); err != nil {
			out.PayloadOK = false
			return out
		}
		out.Telemetry = decodeTelemetry(&tel)

	case domain.KindRouting:
		var rt meshtastic.Routing
		if err := proto.Unmarshal(payload, &rt); err != nil {
			out.PayloadOK = false
			return out
		}
		if reason := rt.GetErrorReason(); reason != meshtastic.Routing_NONE {
			out.Routing = reason.String()
		}
	}
	return out
}

func decodeUser(node domain.NodeID, user *meshtastic.User, ts time.Time) *domain.NodeIdentity {
	return &domain.NodeIdentity{
		NodeID:    node,
		LongName:  strings.TrimSpace(user.GetLongName()),
		ShortName: strings.TrimSpace(user.GetShortName()),
		HwModel:   user.GetHwModel().String(),
		UpdatedAt: ts,
		LastSeen:  ts,
	}
}

func decodeTelemetry(tel *meshtastic.Telemetry) *domain.TelemetrySummary {
	sum := &domain.TelemetrySummary{}
	switch {
	case tel.GetDeviceMetrics() != nil:
		dm := tel.GetDeviceMetrics()
		sum.Variant = "device"
		sum.HasDevice = true
		sum.Battery = dm.GetBatteryLevel()
		sum.Voltage = dm.GetVoltage()
		sum.ChannelUtil = dm.GetChannelUtilization()
		sum.AirUtilTx = dm.GetAirUtilTx()
	case tel.GetEnvironmentMetrics() != nil:
		sum.Variant = "environment"
	}
	return sum
}

func unixOrZero(ts uint32) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(int64(ts), 0)
}
