package connectivity

import (
	"strings"
	"time"

	"github.com/vietddude/flatshare/internal/core/domain"
)

func computeState(raw RawState, now time.Time) domain.ConnectivityState {
	s := domain.ConnectivityState{
		Status:    computeStatus(raw),
		Type:      computeType(raw.Type),
		Timestamp: now,
	}
	if s.Status == domain.NetworkStatusDisconnected && s.Type == domain.NetworkTypeUnknown {
		s.Type = domain.NetworkTypeNone
	}
	s.Quality = computeQuality(s.Status, s.Type, raw.Details)
	return s
}

func computeStatus(raw RawState) domain.NetworkStatus {
	switch {
	case raw.IsConnected == nil && raw.Connecting:
		return domain.NetworkStatusConnecting
	case raw.IsConnected == nil:
		return domain.NetworkStatusUnknown
	case *raw.IsConnected:
		return domain.NetworkStatusConnected
	default:
		return domain.NetworkStatusDisconnected
	}
}

func computeType(raw string) domain.NetworkType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "wifi", "wi-fi", "wlan":
		return domain.NetworkTypeWifi
	case "cellular", "mobile", "wwan":
		return domain.NetworkTypeCellular
	case "ethernet", "wired":
		return domain.NetworkTypeEthernet
	case "none":
		return domain.NetworkTypeNone
	default:
		return domain.NetworkTypeUnknown
	}
}

// computeQuality never reports better than Unreachable while not connected and
// defaults to Good when the platform gives no detail.
func computeQuality(status domain.NetworkStatus, typ domain.NetworkType, d *Details) domain.NetworkQuality {
	if status != domain.NetworkStatusConnected {
		return domain.NetworkQualityUnreachable
	}

	switch typ {
	case domain.NetworkTypeWifi:
		if d == nil || d.Strength == nil {
			return domain.NetworkQualityGood
		}
		switch {
		case *d.Strength > 80:
			return domain.NetworkQualityExcellent
		case *d.Strength > 60:
			return domain.NetworkQualityGood
		default:
			return domain.NetworkQualityPoor
		}
	case domain.NetworkTypeCellular:
		if d == nil || d.CellularGeneration == "" {
			return domain.NetworkQualityGood
		}
		switch strings.ToLower(d.CellularGeneration) {
		case "4g", "5g":
			return domain.NetworkQualityExcellent
		case "3g":
			return domain.NetworkQualityGood
		default:
			return domain.NetworkQualityPoor
		}
	case domain.NetworkTypeEthernet:
		return domain.NetworkQualityExcellent
	}
	return domain.NetworkQualityGood
}
