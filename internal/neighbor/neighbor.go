// Package neighbor reads the kernel's IP-to-MAC neighbor table from one or
// more sources and merges them into a single MAC-keyed observation.
package neighbor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"

	"go.uber.org/zap"
)

// ErrNoSource is returned by Scan when every configured source failed.
var ErrNoSource = errors.New("no neighbor table source readable")

// Source names accepted in configuration.
const (
	SourceProcARP    = "proc_arp"
	SourceNetlink    = "netlink"
	SourceARPCommand = "arp_command"
)

// Observation maps a canonical MAC address to the IP it was seen with.
// It only lives for one scan cycle.
type Observation map[string]string

// Source is one view of the kernel neighbor table.
type Source interface {
	Name() string
	Read(ctx context.Context) (Observation, error)
}

// Scanner merges every source into one Observation per scan.
type Scanner struct {
	sources []Source
	logger  *zap.Logger
}

// NewScanner creates a Scanner. Sources are read in order; a later source
// overwrites an earlier one for the same MAC.
func NewScanner(logger *zap.Logger, sources ...Source) *Scanner {
	return &Scanner{sources: sources, logger: logger}
}

// Scan reads every source. A failing source is skipped; Scan only fails
// when none of them could be read.
func (s *Scanner) Scan(ctx context.Context) (Observation, error) {
	merged := make(Observation)
	var errs []error
	for _, src := range s.sources {
		obs, err := src.Read(ctx)
		if err != nil {
			s.logger.Debug("neighbor source unavailable",
				zap.String("source", src.Name()),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		for mac, ip := range obs {
			merged[mac] = ip
		}
	}
	if len(s.sources) == 0 || len(errs) == len(s.sources) {
		return nil, errors.Join(append([]error{ErrNoSource}, errs...)...)
	}
	return merged, nil
}

// DefaultSourceNames returns the sources that make sense on goos.
func DefaultSourceNames(goos string) []string {
	if goos == "linux" {
		return []string{SourceProcARP, SourceNetlink}
	}
	return []string{SourceARPCommand}
}

// NewSources builds sources by name. An empty list selects the defaults
// for the running platform.
func NewSources(names []string, logger *zap.Logger) ([]Source, error) {
	if len(names) == 0 {
		names = DefaultSourceNames(runtime.GOOS)
	}
	sources := make([]Source, 0, len(names))
	for _, name := range names {
		switch name {
		case SourceProcARP:
			sources = append(sources, NewProcARPSource(""))
		case SourceNetlink:
			sources = append(sources, NewNetlinkSource())
		case SourceARPCommand:
			sources = append(sources, NewARPCommandSource(logger))
		default:
			return nil, fmt.Errorf("unknown neighbor source %q", name)
		}
	}
	return sources, nil
}

var (
	zeroMAC      = net.HardwareAddr{0, 0, 0, 0, 0, 0}
	broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
)

// CanonicalMAC normalizes s to lowercase colon-separated EUI-48 form.
// All-zero, broadcast and unparseable addresses are rejected.
func CanonicalMAC(s string) (string, bool) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return "", false
	}
	return canonicalHW(hw)
}

func canonicalHW(hw net.HardwareAddr) (string, bool) {
	if len(hw) != 6 || bytes.Equal(hw, zeroMAC) || bytes.Equal(hw, broadcastMAC) {
		return "", false
	}
	return hw.String(), true
}
