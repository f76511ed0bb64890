package quic

import (
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/privateoctopus/picogo/internal/protocol"
)

func testConnection(localCIDLen int, clientMode bool) *Connection {
	c := &Connection{
		config:      &Config{InitialMTU: protocol.EnforcedInitialMTU, LocalCIDLength: localCIDLen},
		localCIDLen: localCIDLen,
		clientMode:  clientMode,
	}
	return c
}

var _ = Describe("findOrCreatePath", func() {
	var (
		c        *Connection
		addrA    net.Addr
		addrB    net.Addr
		localA   net.Addr
		now      time.Time
		localCID protocol.ConnectionID
	)

	BeforeEach(func() {
		addrA = &net.UDPAddr{IP: net.ParseIP("203.0.113.1"), Port: 4433}
		addrB = &net.UDPAddr{IP: net.ParseIP("203.0.113.2"), Port: 4433}
		localA = &net.UDPAddr{IP: net.ParseIP("198.51.100.1"), Port: 443}
		now = time.Unix(1700000000, 0)
		localCID = protocol.ConnectionIDFromBytes([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	})

	Context("with a non-zero local CID length", func() {
		BeforeEach(func() {
			c = testConnection(8, false)
			p0 := newPath(c, c.config.InitialMTU)
			p0.PeerAddr = addrA
			p0.LocalAddr = localA
			p0.LocalCnxID = localCID
			p0.registered = true
			c.paths = []*Path{p0}
		})

		It("finds the existing path by local CID and activates it", func() {
			p, reason := c.findOrCreatePath(localCID, addrA, localA, 1, now)
			Expect(reason).To(Equal(Success))
			Expect(p).To(BeIdenticalTo(c.paths[0]))
			Expect(p.activated).To(BeTrue())
		})

		It("rejects an empty DCID outright", func() {
			_, reason := c.findOrCreatePath(protocol.ConnectionID{}, addrA, localA, 1, now)
			Expect(reason).To(Equal(CnxIDCheck))
		})

		It("rejects a DCID that matches no registered path", func() {
			unknown := protocol.ConnectionIDFromBytes([]byte{9, 9, 9, 9, 9, 9, 9, 9})
			_, reason := c.findOrCreatePath(unknown, addrA, localA, 1, now)
			Expect(reason).To(Equal(CnxIDCheck))
		})

		It("treats an address change on a CID-bound path as NAT rebinding, not a new path", func() {
			p, reason := c.findOrCreatePath(localCID, addrB, localA, 5, now)
			Expect(reason).To(Equal(Success))
			Expect(p).To(BeIdenticalTo(c.paths[0]))
			Expect(p.hasAlt).To(BeTrue())
			Expect(p.AltPeerAddr.String()).To(Equal(addrB.String()))
			Expect(p.ChallengeRequired).To(BeTrue())
			Expect(len(c.paths)).To(Equal(1)) // no second Path was created
		})
	})

	Context("with a zero-length local CID", func() {
		BeforeEach(func() {
			c = testConnection(0, false)
			p0 := newPath(c, c.config.InitialMTU)
			p0.PeerAddr = addrA
			p0.LocalAddr = localA
			p0.registered = true
			c.paths = []*Path{p0}
		})

		It("finds the existing path by address pair", func() {
			p, reason := c.findOrCreatePath(protocol.ConnectionID{}, addrA, localA, 1, now)
			Expect(reason).To(Equal(Success))
			Expect(p).To(BeIdenticalTo(c.paths[0]))
		})

		It("creates and challenges a brand new path for an unrecognized address pair", func() {
			p, reason := c.findOrCreatePath(protocol.ConnectionID{}, addrB, localA, 1, now)
			Expect(reason).To(Equal(Success))
			Expect(p).NotTo(BeIdenticalTo(c.paths[0]))
			Expect(len(c.paths)).To(Equal(2))
			Expect(p.ChallengeRequired).To(BeTrue())
			Expect(p.ChallengeTime).To(Equal(now))
		})
	})
})

var _ = Describe("promoteDefaultPath", func() {
	It("swaps the named path into slot zero", func() {
		c := testConnection(8, true)
		p0 := newPath(c, c.config.InitialMTU)
		p1 := newPath(c, c.config.InitialMTU)
		c.paths = []*Path{p0, p1}

		c.promoteDefaultPath(p1)

		Expect(c.paths[0]).To(BeIdenticalTo(p1))
		Expect(c.paths[1]).To(BeIdenticalTo(p0))
	})
})

var _ = Describe("requireChallenge", func() {
	It("fills the challenge ring with fresh randoms and resets verification state", func() {
		c := testConnection(8, false)
		p := newPath(c, c.config.InitialMTU)
		p.ChallengeVerified = true

		now := time.Unix(1700000000, 0)
		p.requireChallenge(now)

		Expect(p.ChallengeRequired).To(BeTrue())
		Expect(p.ChallengeVerified).To(BeFalse())
		Expect(p.ChallengeTime).To(Equal(now))
		zero := [8]byte{}
		Expect(p.Challenge[0]).NotTo(Equal(zero))
	})
})
