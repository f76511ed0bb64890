package quic

import (
	"crypto/rand"
	"net"
	"time"

	"github.com/privateoctopus/picogo/internal/protocol"
)

// ChallengeRepeatMax is the fixed-capacity size of a Path's challenge ring,
// spec.md's CHALLENGE_REPEAT_MAX.
const ChallengeRepeatMax = protocol.ChallengeRepeatMax

// Path represents one validated-or-probing (peer_addr, local_addr,
// local_cnxid, remote_cnxid) 4-tuple, spec.md section 3. path[0] is always
// the connection's active default path.
type Path struct {
	conn *Connection // non-owning back-reference, logging only (spec.md section 9)

	LocalAddr  net.Addr
	PeerAddr   net.Addr
	LocalCnxID protocol.ConnectionID
	RemoteCnxID protocol.ConnectionID

	registered bool
	published  bool
	activated  bool

	SendMTU        protocol.ByteCount
	SmoothedRTT    time.Duration
	RetransmitTimer time.Duration

	ResetSecret [protocol.ResetSecretSize]byte

	Challenge            [ChallengeRepeatMax][8]byte
	ChallengeRequired     bool
	ChallengeVerified     bool
	ChallengeFailed       bool
	ChallengeTime         time.Time
	ChallengeRepeatCount  int

	// Alternate (rebinding) address shadow, populated when a NAT rebind or
	// multi-path probe is detected (spec.md section 4.3, "install new alt
	// addresses").
	AltLocalAddr  net.Addr
	AltPeerAddr   net.Addr
	AltChallenge  [ChallengeRepeatMax][8]byte
	altArmedTime  time.Time
	hasAlt        bool

	CongestionState *pathCongestion

	largestAcked protocol.PacketNumber
}

// SetRetransmitTimer implements ackhandler.RetransmitTimerSink. The
// loss-detection layer serving path[0] pushes the duration of its alarm
// here every time it rearms it (the PTO duration, or the time left until
// the loss time for a time-threshold alarm), so this field - read
// back by the 1-RTT key-rotation guard (crypto.go) and by the NAT-rebind
// probe-expiry checks below - stays in step with the same quantity instead
// of drifting from a second, independently-computed notion of it.
func (p *Path) SetRetransmitTimer(d time.Duration) {
	p.RetransmitTimer = d
}

// newPath allocates a Path with the given send MTU. It leaves
// CongestionState nil; NewClientConnection and NewServerConnection attach
// one to path[0].
func newPath(conn *Connection, mtu protocol.ByteCount) *Path {
	return &Path{
		conn:         conn,
		SendMTU:      mtu,
		largestAcked: protocol.InvalidPacketNumber,
	}
}

// requireChallenge refills Challenge/AltChallenge with fresh 64-bit
// randoms and resets the verification bookkeeping: spec.md section 4.3,
// "On any new_challenge_required".
func (p *Path) requireChallenge(now time.Time) {
	for i := range p.Challenge {
		var b [8]byte
		_, _ = rand.Read(b[:])
		p.Challenge[i] = b
	}
	if p.hasAlt {
		for i := range p.AltChallenge {
			var b [8]byte
			_, _ = rand.Read(b[:])
			p.AltChallenge[i] = b
		}
	}
	p.ChallengeTime = now
	p.ChallengeVerified = false
	p.ChallengeRepeatCount = 0
	p.ChallengeRequired = true
}

func addrEqual(a, b net.Addr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.String() == b.String()
}

// findOrCreatePath implements spec.md section 4.3's path-finding algorithm
// for 1-RTT packets, run once per decrypted segment before frame decoding.
// It returns the chosen path and the drop reason if the packet must be
// rejected outright (CNXID_CHECK); otherwise the returned path may be newly
// created, newly activated, or just looked up.
func (c *Connection) findOrCreatePath(dcid protocol.ConnectionID, peerAddr, localAddr net.Addr, pn64 protocol.PacketNumber, now time.Time) (*Path, DropReason) {
	if c.localCIDLen > 0 {
		if dcid.Len() == 0 {
			return nil, CnxIDCheck
		}
		for _, p := range c.paths {
			if p.registered && p.LocalCnxID.Equal(dcid) {
				return c.settlePathAddrs(p, peerAddr, localAddr, pn64, now), Success
			}
		}
		return nil, CnxIDCheck
	}

	// Zero-length local CIDs: address-keyed paths (spec.md section 4.3 step 2).
	for _, p := range c.paths {
		if addrEqual(p.PeerAddr, peerAddr) && addrEqual(p.LocalAddr, localAddr) {
			return c.settlePathAddrs(p, peerAddr, localAddr, pn64, now), Success
		}
	}
	p := newPath(c, c.config.InitialMTU)
	p.PeerAddr = peerAddr
	p.LocalAddr = localAddr
	p.published = true
	p.registered = true
	c.paths = append(c.paths, p)
	p.requireChallenge(now)
	return p, Success
}

// settlePathAddrs applies spec.md section 4.3 steps 3-5 once a path has
// been identified for an incoming 1-RTT segment.
func (c *Connection) settlePathAddrs(p *Path, peerAddr, localAddr net.Addr, pn64 protocol.PacketNumber, now time.Time) *Path {
	if p.LocalAddr == nil {
		p.LocalAddr = localAddr
	}
	if addrEqual(p.PeerAddr, peerAddr) && addrEqual(p.LocalAddr, localAddr) {
		p.activated = true
		return p
	}
	return c.handleAddressMismatch(p, peerAddr, localAddr, pn64, now)
}

// handleAddressMismatch is spec.md section 4.3 step 5: distinguishes a
// genuine new path (probe adoption, stash pop) from NAT rebinding of an
// already-bound remote CID.
func (c *Connection) handleAddressMismatch(p *Path, peerAddr, localAddr net.Addr, pn64 protocol.PacketNumber, now time.Time) *Path {
	defaultPath := c.paths[0]

	if defaultPath.RemoteCnxID.Len() > 0 && p.RemoteCnxID.Len() == 0 {
		if probe := c.findProbeByAddr(peerAddr, localAddr); probe != nil {
			p.RemoteCnxID = probe.RemoteCnxID
			p.ResetSecret = probe.ResetSecret
			return p
		}
		if c.clientMode && addrEqual(defaultPath.PeerAddr, p.PeerAddr) == false &&
			addrEqual(defaultPath.LocalAddr, localAddr) && addrEqual(defaultPath.PeerAddr, peerAddr) {
			p.RemoteCnxID = defaultPath.RemoteCnxID
			p.ResetSecret = defaultPath.ResetSecret
			c.promoteDefaultPath(p)
			c.retireCnxID(defaultPath.RemoteCnxID)
			return p
		}
		if cid, secret, ok := c.cnxidStash.pop(); ok {
			p.RemoteCnxID = cid
			p.ResetSecret = secret
		}
		// else: leave path deactivated, no remote CID available yet.
		return p
	}

	// This path already has a remote CID bound: treat address change as
	// NAT rebinding rather than a fresh path.
	if p.hasAlt && addrEqual(p.AltPeerAddr, peerAddr) && addrEqual(p.AltLocalAddr, localAddr) {
		if now.Sub(p.altArmedTime) > p.RetransmitTimer {
			p.requireChallenge(now)
		}
		return p
	}
	altExpired := !p.hasAlt || now.Sub(p.altArmedTime) > p.RetransmitTimer
	if altExpired && pn64 > p.largestAcked {
		p.hasAlt = true
		p.AltPeerAddr = peerAddr
		p.AltLocalAddr = localAddr
		p.altArmedTime = now
		p.requireChallenge(now)
	}
	return p
}

// findProbeByAddr looks across every registered path for an in-flight probe
// whose alt address pair matches (peerAddr, localAddr).
func (c *Connection) findProbeByAddr(peerAddr, localAddr net.Addr) *Path {
	for _, p := range c.paths {
		if p.hasAlt && addrEqual(p.AltPeerAddr, peerAddr) && addrEqual(p.AltLocalAddr, localAddr) {
			return p
		}
	}
	return nil
}

// promoteDefaultPath swaps p into paths[0], picoquic's path promotion on a
// successful client-side CID-only rebind.
func (c *Connection) promoteDefaultPath(p *Path) {
	for i, existing := range c.paths {
		if existing == p {
			c.paths[0], c.paths[i] = p, c.paths[0]
			return
		}
	}
}
