//go:build linux

package neighbor

import (
	"context"
	"fmt"

	"github.com/vishvananda/netlink"
)

// NetlinkSource dumps the IPv4 neighbor table over rtnetlink, the same
// data `ip neigh` prints.
type NetlinkSource struct {
	list func(linkIndex, family int) ([]netlink.Neigh, error)
}

// NewNetlinkSource creates a source backed by netlink.NeighList.
func NewNetlinkSource() *NetlinkSource {
	return &NetlinkSource{list: netlink.NeighList}
}

func (s *NetlinkSource) Name() string { return SourceNetlink }

func (s *NetlinkSource) Read(_ context.Context) (Observation, error) {
	neighs, err := s.list(0, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("netlink neighbor dump: %w", err)
	}
	return observeNeighs(neighs), nil
}

// unresolved entries carry no usable lladdr.
const unresolved = netlink.NUD_INCOMPLETE | netlink.NUD_FAILED

func observeNeighs(neighs []netlink.Neigh) Observation {
	obs := make(Observation, len(neighs))
	for _, n := range neighs {
		if n.State&unresolved != 0 || n.IP == nil {
			continue
		}
		mac, ok := canonicalHW(n.HardwareAddr)
		if !ok {
			continue
		}
		obs[mac] = n.IP.String()
	}
	return obs
}
