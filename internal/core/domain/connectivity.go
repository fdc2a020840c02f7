package domain

import "time"

// NetworkStatus is the reachability state reported by the connectivity monitor.
type NetworkStatus string

const (
	NetworkStatusUnknown      NetworkStatus = "unknown"
	NetworkStatusConnecting   NetworkStatus = "connecting" // transient platform signal
	NetworkStatusConnected    NetworkStatus = "connected"
	NetworkStatusDisconnected NetworkStatus = "disconnected"
)

// NetworkType is the link technology in use.
type NetworkType string

const (
	NetworkTypeUnknown  NetworkType = "unknown"
	NetworkTypeWifi     NetworkType = "wifi"
	NetworkTypeCellular NetworkType = "cellular"
	NetworkTypeEthernet NetworkType = "ethernet"
	NetworkTypeNone     NetworkType = "none"
)

// NetworkQuality is a coarse link quality estimate.
type NetworkQuality string

const (
	NetworkQualityExcellent   NetworkQuality = "excellent"
	NetworkQualityGood        NetworkQuality = "good"
	NetworkQualityPoor        NetworkQuality = "poor"
	NetworkQualityUnreachable NetworkQuality = "unreachable"
)

// ConnectivityState is the current view of the network.
// Quality is always Unreachable unless Status is Connected.
type ConnectivityState struct {
	Status    NetworkStatus  `json:"status"`
	Type      NetworkType    `json:"type"`
	Quality   NetworkQuality `json:"quality"`
	Timestamp time.Time      `json:"timestamp"`
}

// Online reports whether the state is Connected.
func (s ConnectivityState) Online() bool {
	return s.Status == NetworkStatusConnected
}

// ConnectivityEventKind classifies a ConnectivityEvent.
type ConnectivityEventKind string

const (
	EventStatusChanged     ConnectivityEventKind = "status_changed"
	EventQualityChanged    ConnectivityEventKind = "quality_changed"
	EventRetrySweepStarted ConnectivityEventKind = "retry_sweep_started"
)

// ConnectivityEvent is a snapshot emitted on every detected transition.
type ConnectivityEvent struct {
	Kind      ConnectivityEventKind `json:"kind"`
	Previous  ConnectivityState     `json:"previous"`
	Current   ConnectivityState     `json:"current"`
	Retried   int                   `json:"retried,omitempty"` // RetrySweepStarted only
	Timestamp time.Time             `json:"timestamp"`
}
