//go:build !linux

package neighbor

import (
	"context"
	"errors"
)

// NetlinkSource is only available on Linux.
type NetlinkSource struct{}

// NewNetlinkSource returns a source that always fails on this platform.
func NewNetlinkSource() *NetlinkSource { return &NetlinkSource{} }

func (s *NetlinkSource) Name() string { return SourceNetlink }

func (s *NetlinkSource) Read(_ context.Context) (Observation, error) {
	return nil, errors.New("netlink neighbor table requires linux")
}
