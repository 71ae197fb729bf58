// Package discovery turns periodic neighbor-table observations into
// discovery events and hands them to the publish channel.
package discovery

import (
	"sort"
	"sync"
	"time"

	"github.com/HerbHall/swarmnet/internal/neighbor"
	"github.com/HerbHall/swarmnet/pkg/models"
)

// DeviceState is what the agent remembers about one MAC between cycles.
// It is never persisted; a restart starts from an empty table.
type DeviceState struct {
	MAC       string    `json:"mac"`
	IP        string    `json:"ip"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	SeenCount int64     `json:"seen_count"`
	Departed  bool      `json:"departed"`

	// ReassignedTo is the MAC that last took over IP. MAC_CHANGED is only
	// emitted again once a different MAC claims it, or the IP is released.
	ReassignedTo string `json:"reassigned_to,omitempty"`
}

// Engine holds the known-device table and diffs observations against it.
// Diff is not reentrant with itself, but Snapshot and Len may be called
// concurrently from other goroutines.
type Engine struct {
	departureTimeout time.Duration

	mu    sync.RWMutex
	known map[string]*DeviceState
}

// NewEngine creates an Engine with an empty known-device table.
func NewEngine(departureTimeout time.Duration) *Engine {
	if departureTimeout <= 0 {
		departureTimeout = DefaultConfig().DepartureTimeout
	}
	return &Engine{
		departureTimeout: departureTimeout,
		known:            make(map[string]*DeviceState),
	}
}

// Diff applies obs taken at now to the known-device table and returns the
// resulting events. Events come out in three passes (new/changed IP, then
// reassigned IPs, then departures), each in MAC order.
//
// MAC_CHANGED is reported once per claimant: while a known MAC's IP stays
// with the MAC that took it over, later cycles are silent. It fires again
// only when a different MAC claims the IP, or after the IP is released or
// returns to its original MAC.
func (e *Engine) Diff(obs neighbor.Observation, now time.Time) []models.Detection {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []models.Detection
	macs := sortedKeys(obs)

	for _, mac := range macs {
		ip := obs[mac]
		st, ok := e.known[mac]
		if !ok {
			e.known[mac] = &DeviceState{MAC: mac, IP: ip, FirstSeen: now, LastSeen: now, SeenCount: 1}
			out = append(out, models.NewDetection(models.Features{
				EventType: models.EventNewDevice, MAC: mac, IP: ip,
			}))
			continue
		}

		st.LastSeen = now
		st.SeenCount++
		st.Departed = false
		if st.IP != ip {
			prev := st.IP
			st.IP = ip
			out = append(out, models.NewDetection(models.Features{
				EventType: models.EventIPChanged, MAC: mac, PrevIP: prev, IP: ip,
			}))
		}
	}

	// Last MAC in sorted order wins when two share an IP.
	ipToMAC := make(map[string]string, len(obs))
	for _, mac := range macs {
		ipToMAC[obs[mac]] = mac
	}
	for _, mac := range sortedKeys(e.known) {
		st := e.known[mac]
		if st.IP == "" {
			continue
		}
		newMAC := ipToMAC[st.IP]
		if newMAC == "" || newMAC == mac {
			st.ReassignedTo = ""
			continue
		}
		if st.ReassignedTo == newMAC {
			continue
		}
		st.ReassignedTo = newMAC
		out = append(out, models.NewDetection(models.Features{
			EventType: models.EventMACChanged, IP: st.IP, PrevMAC: mac, MAC: newMAC,
		}))
		if _, ok := e.known[newMAC]; !ok {
			e.known[newMAC] = &DeviceState{MAC: newMAC, IP: st.IP, FirstSeen: now, LastSeen: now, SeenCount: 1}
		}
	}

	cutoff := now.Add(-e.departureTimeout)
	for _, mac := range sortedKeys(e.known) {
		st := e.known[mac]
		if st.Departed || !st.LastSeen.Before(cutoff) {
			continue
		}
		st.Departed = true
		out = append(out, models.NewDetection(models.Features{
			EventType:  models.EventDeviceGone,
			MAC:        mac,
			IP:         st.IP,
			LastSeenMS: st.LastSeen.UnixMilli(),
		}))
	}

	return out
}

// Snapshot returns a copy of the known-device table in MAC order.
func (e *Engine) Snapshot() []DeviceState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]DeviceState, 0, len(e.known))
	for _, mac := range sortedKeys(e.known) {
		out = append(out, *e.known[mac])
	}
	return out
}

// Get returns the state for mac.
func (e *Engine) Get(mac string) (DeviceState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.known[mac]
	if !ok {
		return DeviceState{}, false
	}
	return *st, true
}

// Len returns the number of known MACs, departed ones included.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.known)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
