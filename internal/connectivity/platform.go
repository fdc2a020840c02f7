// Package connectivity tracks network status, type and quality and notifies
// subscribers about transitions.
package connectivity

import "context"

// RawState is what the platform reports about the network.
type RawState struct {
	IsConnected *bool  // nil when the platform cannot tell yet
	Connecting  bool   // transient platform signal while a link comes up
	Type        string // wifi, cellular, ethernet, none, unknown
	Details     *Details
}

// Details carries optional link details used for quality estimation.
type Details struct {
	Strength           *int   // Wi-Fi signal strength, 0-100
	CellularGeneration string // 2g, 3g, 4g, 5g
}

// Platform is the connectivity primitive of the host.
type Platform interface {
	// FetchCurrentState returns the current network state.
	FetchCurrentState(ctx context.Context) (RawState, error)

	// Subscribe registers fn for state changes and returns its cancel func.
	Subscribe(fn func(RawState)) (unsubscribe func())
}

// Connected builds a RawState for a connected link of the given type.
func Connected(typ string, details *Details) RawState {
	ok := true
	return RawState{IsConnected: &ok, Type: typ, Details: details}
}

// Disconnected builds a RawState for a host without a usable link.
func Disconnected() RawState {
	ok := false
	return RawState{IsConnected: &ok, Type: "none"}
}

// WifiStrength builds Wi-Fi details with the given signal strength.
func WifiStrength(strength int) *Details {
	return &Details{Strength: &strength}
}
