package neighbor

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// ARPCommandSource shells out to `arp -a` on platforms without procfs.
type ARPCommandSource struct {
	goos   string
	logger *zap.Logger
}

// NewARPCommandSource creates a source for the running platform.
func NewARPCommandSource(logger *zap.Logger) *ARPCommandSource {
	return &ARPCommandSource{goos: runtime.GOOS, logger: logger}
}

func (s *ARPCommandSource) Name() string { return SourceARPCommand }

func (s *ARPCommandSource) Read(ctx context.Context) (Observation, error) {
	if s.goos != "windows" && s.goos != "darwin" {
		return nil, fmt.Errorf("arp -a parsing not supported on %s", s.goos)
	}
	out, err := exec.CommandContext(ctx, "arp", "-a").Output()
	if err != nil {
		return nil, fmt.Errorf("run arp -a: %w", err)
	}
	return ParseARPOutput(string(out), s.goos), nil
}

// ParseARPOutput parses `arp -a` output for platform ("windows" or "darwin").
func ParseARPOutput(output, platform string) Observation {
	switch platform {
	case "windows":
		return parseWindowsARP(output)
	case "darwin":
		return parseDarwinARP(output)
	default:
		return Observation{}
	}
}

// parseWindowsARP handles lines like: 192.168.1.1  aa-bb-cc-dd-ee-ff  dynamic
func parseWindowsARP(output string) Observation {
	obs := make(Observation)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		ip := fields[0]
		if ip == "" || ip[0] < '0' || ip[0] > '9' {
			continue
		}
		mac, ok := CanonicalMAC(fields[1])
		if !ok {
			continue
		}
		obs[mac] = ip
	}
	return obs
}

// parseDarwinARP handles lines like: host (192.168.1.1) at a:b:c:d:e:f on en0
// macOS drops leading zeros in each octet, so octets are padded first.
func parseDarwinARP(output string) Observation {
	obs := make(Observation)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		open := strings.Index(line, "(")
		closing := strings.Index(line, ")")
		if open < 0 || closing <= open {
			continue
		}
		ip := line[open+1 : closing]

		at := strings.Index(line[closing:], " at ")
		if at < 0 {
			continue
		}
		fields := strings.Fields(line[closing+at+4:])
		if len(fields) == 0 {
			continue
		}
		mac, ok := CanonicalMAC(padOctets(fields[0]))
		if !ok {
			continue
		}
		obs[mac] = ip
	}
	return obs
}

func padOctets(mac string) string {
	parts := strings.Split(mac, ":")
	if len(parts) != 6 {
		return mac
	}
	for i, p := range parts {
		if len(p) == 1 {
			parts[i] = "0" + p
		}
	}
	return strings.Join(parts, ":")
}
