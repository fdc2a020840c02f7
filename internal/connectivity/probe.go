package connectivity

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
)

const (
	defaultProbeInterval = 10 * time.Second
	defaultDialTimeout   = 3 * time.Second
	wirelessProcPath     = "/proc/net/wireless"

	// Link quality in /proc/net/wireless is reported out of 70.
	maxWirelessQuality = 70.0
)

// ProbeConfig configures a ProbePlatform.
type ProbeConfig struct {
	Targets     []string // host:port pairs dialed to confirm reachability
	Interval    time.Duration
	DialTimeout time.Duration
}

// ProbePlatform is a Platform for hosts without a connectivity callback. It
// polls interfaces and dials targets, notifying subscribers only on change.
type ProbePlatform struct {
	cfg ProbeConfig
	log *slog.Logger

	dial         func(ctx context.Context, network, addr string) (net.Conn, error)
	interfaces   func(ctx context.Context) ([]psnet.InterfaceStat, error)
	wirelessPath string

	mu     sync.Mutex
	subs   map[uint64]func(RawState)
	nextID uint64
	last   *RawState
	stop   chan struct{}
}

// NewProbePlatform creates a ProbePlatform.
func NewProbePlatform(cfg ProbeConfig) *ProbePlatform {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultProbeInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	dialer := &net.Dialer{}
	return &ProbePlatform{
		cfg:  cfg,
		log:  slog.Default().With("component", "probe"),
		dial: dialer.DialContext,
		interfaces: func(ctx context.Context) ([]psnet.InterfaceStat, error) {
			return psnet.InterfacesWithContext(ctx)
		},
		wirelessPath: wirelessProcPath,
		subs:         make(map[uint64]func(RawState)),
	}
}

// FetchCurrentState probes the host once.
func (p *ProbePlatform) FetchCurrentState(ctx context.Context) (RawState, error) {
	ifaces, err := p.interfaces(ctx)
	if err != nil {
		return RawState{}, err
	}

	iface, ok := activeInterface(ifaces)
	if !ok {
		return Disconnected(), nil
	}
	typ := interfaceType(iface.Name)

	if !p.reachable(ctx) {
		state := Disconnected()
		state.Type = typ
		return state, nil
	}

	var details *Details
	if typ == "wifi" {
		if strength, ok := p.wirelessStrength(iface.Name); ok {
			details = WifiStrength(strength)
		}
	}
	return Connected(typ, details), nil
}

// Subscribe starts polling with the first subscriber and stops with the last.
func (p *ProbePlatform) Subscribe(fn func(RawState)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	id := p.nextID
	p.subs[id] = fn
	if p.stop == nil {
		p.stop = make(chan struct{})
		go p.poll(p.stop)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.subs, id)
			if len(p.subs) == 0 && p.stop != nil {
				close(p.stop)
				p.stop = nil
				p.last = nil
			}
		})
	}
}

func (p *ProbePlatform) poll(stop chan struct{}) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.check(stop)
		}
	}
}

func (p *ProbePlatform) check(stop chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Interval)
	defer cancel()

	state, err := p.FetchCurrentState(ctx)
	if err != nil {
		p.log.Warn("Connectivity probe failed", "error", err)
		return
	}

	p.mu.Lock()
	if p.stop != stop || (p.last != nil && sameRawState(*p.last, state)) {
		p.mu.Unlock()
		return
	}
	p.last = &state
	subs := make([]func(RawState), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}

func (p *ProbePlatform) reachable(ctx context.Context) bool {
	if len(p.cfg.Targets) == 0 {
		return true
	}
	for _, target := range p.cfg.Targets {
		dctx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
		conn, err := p.dial(dctx, "tcp", target)
		cancel()
		if err == nil {
			conn.Close()
			return true
		}
		p.log.Debug("Probe target unreachable", "target", target, "error", err)
	}
	return false
}

// wirelessStrength reads the link quality of name from /proc/net/wireless.
func (p *ProbePlatform) wirelessStrength(name string) (int, bool) {
	f, err := os.Open(p.wirelessPath)
	if err != nil {
		return 0, false
	}
	defer f.Close()
	return parseWireless(bufio.NewScanner(f), name)
}

func parseWireless(sc *bufio.Scanner, name string) (int, bool) {
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		iface, rest, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(iface) != name {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 2 {
			return 0, false
		}
		q, err := strconv.ParseFloat(strings.TrimSuffix(fields[1], "."), 64)
		if err != nil {
			return 0, false
		}
		strength := int(q * 100 / maxWirelessQuality)
		return min(max(strength, 0), 100), true
	}
	return 0, false
}

func activeInterface(ifaces []psnet.InterfaceStat) (psnet.InterfaceStat, bool) {
	for _, iface := range ifaces {
		if !slices.Contains(iface.Flags, "up") || slices.Contains(iface.Flags, "loopback") {
			continue
		}
		if len(iface.Addrs) == 0 {
			continue
		}
		return iface, true
	}
	return psnet.InterfaceStat{}, false
}

func interfaceType(name string) string {
	switch {
	case strings.HasPrefix(name, "wl"):
		return "wifi"
	case strings.HasPrefix(name, "wwan"), strings.HasPrefix(name, "rmnet"), strings.HasPrefix(name, "ppp"):
		return "cellular"
	default:
		return "ethernet"
	}
}

func sameRawState(a, b RawState) bool {
	if (a.IsConnected == nil) != (b.IsConnected == nil) {
		return false
	}
	if a.IsConnected != nil && *a.IsConnected != *b.IsConnected {
		return false
	}
	if a.Connecting != b.Connecting || a.Type != b.Type {
		return false
	}
	return sameDetails(a.Details, b.Details)
}

func sameDetails(a, b *Details) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.CellularGeneration != b.CellularGeneration {
		return false
	}
	if (a.Strength == nil) != (b.Strength == nil) {
		return false
	}
	return a.Strength == nil || *a.Strength == *b.Strength
}
