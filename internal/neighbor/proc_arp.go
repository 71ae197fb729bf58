package neighbor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

const defaultProcARPPath = "/proc/net/arp"

// ProcARPSource reads the Linux ARP cache from /proc/net/arp. It needs no
// privileges.
type ProcARPSource struct {
	path string
}

// NewProcARPSource creates a source reading path, or /proc/net/arp if empty.
func NewProcARPSource(path string) *ProcARPSource {
	if path == "" {
		path = defaultProcARPPath
	}
	return &ProcARPSource{path: path}
}

func (s *ProcARPSource) Name() string { return SourceProcARP }

func (s *ProcARPSource) Read(_ context.Context) (Observation, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return ParseProcARP(string(data)), nil
}

// ParseProcARP parses /proc/net/arp content.
// Format: IP address  HW type  Flags  HW address  Mask  Device
func ParseProcARP(content string) Observation {
	obs := make(Observation)
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Scan() // header
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		mac, ok := CanonicalMAC(fields[3])
		if !ok {
			continue
		}
		obs[mac] = fields[0]
	}
	return obs
}
