package quic

import (
	"github.com/privateoctopus/picogo/internal/congestion"
	"github.com/privateoctopus/picogo/internal/protocol"
	"github.com/privateoctopus/picogo/internal/utils"
)

// pathCongestion is spec.md's per-path CongestionState: a CubicSender plus
// the RTTStats it reads smoothedRTT from. Congestion is per-path (spec.md
// section 3, "Path ... congestion_alg_state"), so every Path owns one of
// these instead of the connection owning a single controller.
type pathCongestion struct {
	rtt  *utils.RTTStats
	algo congestion.SendAlgorithmWithDebugInfos
}

func newPathCongestion(mtu protocol.ByteCount) *pathCongestion {
	rtt := utils.NewRTTStats()
	return &pathCongestion{
		rtt:  rtt,
		algo: congestion.NewCubicSender(congestion.DefaultClock{}, rtt, mtu),
	}
}
