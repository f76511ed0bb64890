package quic

import (
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/privateoctopus/picogo/internal/protocol"
	"github.com/privateoctopus/picogo/internal/utils"
)

// packetInfo carries the local address a datagram actually arrived on, for
// sockets that listen on a wildcard address (0.0.0.0) and need per-packet
// destination info to answer on the right local address. Adapted from the
// teacher's conn_generic.go/send_conn.go packetInfo use, which this fragment
// references but doesn't define.
type packetInfo struct {
	addr net.IP
}

func (i *packetInfo) OOB() []byte {
	if i == nil || i.addr == nil {
		return nil
	}
	if ip4 := i.addr.To4(); ip4 != nil {
		return (&ipv4.ControlMessage{Src: ip4}).Marshal()
	}
	return (&ipv6.ControlMessage{Src: i.addr}).Marshal()
}

// tosOOB builds the ancillary data that sets a datagram's IP_TOS (v4) or
// traffic class (v6) byte, used to mark outbound ECN codepoints the way
// send_conn.go's mergeOOB/tosOOB pair does in the teacher.
func tosOOB(t protocol.TOS, ipv4Addr bool) []byte {
	if ipv4Addr {
		return (&ipv4.ControlMessage{TOS: int(t)}).Marshal()
	}
	return (&ipv6.ControlMessage{TrafficClass: int(t)}).Marshal()
}

func mergeOOB(oob ...[]byte) []byte {
	var merged []byte
	for _, o := range oob {
		merged = append(merged, o...)
	}
	return merged
}

// UDPConn is the socket collaborator the Registry's outbound queue writes
// through: a non-connected net.PacketConn wrapped with per-write TOS/ECN
// marking and per-read OOB-derived ECN extraction. This is the one piece of
// "socket I/O" the transport core is specified to own directly (SPEC_FULL.md
// section 2): synthesizing the bytes of stateless responses and marking
// ECN on the packets this core itself schedules, as opposed to the general
// application-data send path, which stays external.
type UDPConn struct {
	net.PacketConn
	is4 bool
}

// NewUDPConn wraps c, detecting whether it's bound to an IPv4 or IPv6
// local address so WriteTo picks the right control-message shape.
func NewUDPConn(c net.PacketConn) *UDPConn {
	is4 := true
	if udpAddr, ok := c.LocalAddr().(*net.UDPAddr); ok {
		is4 = utils.IsIPv4(udpAddr.IP)
	}
	return &UDPConn{PacketConn: c, is4: is4}
}

// WriteMarked writes p to addr with the given ECN codepoint stamped into
// the IP header via ancillary data, for the stateless packets
// (OutboundPacket) the Registry queues.
func (c *UDPConn) WriteMarked(p []byte, addr net.Addr, ecn protocol.ECN) error {
	oob := tosOOB(ecn.ToTOS(), c.is4)
	if c.is4 {
		_, _, err := ipv4.NewPacketConn(c.PacketConn).WriteTo(p, oob, addr)
		return err
	}
	_, _, err := ipv6.NewPacketConn(c.PacketConn).WriteTo(p, oob, addr)
	return err
}

// ReadWithECN reads one datagram and reports the ECN codepoint it carried,
// read back out of the OOB ancillary data (RFC 9000's only way for an
// endpoint to observe ECN marks the network may have rewritten).
func (c *UDPConn) ReadWithECN(buf []byte) (n int, addr net.Addr, ecn protocol.ECN, err error) {
	if c.is4 {
		p := ipv4.NewPacketConn(c.PacketConn)
		n, cm, src, rerr := p.ReadFrom(buf)
		if rerr != nil {
			return n, src, 0, rerr
		}
		if cm != nil {
			ecn = protocol.TOS(cm.TOS).ECN()
		}
		return n, src, ecn, nil
	}
	p := ipv6.NewPacketConn(c.PacketConn)
	n, cm, src, rerr := p.ReadFrom(buf)
	if rerr != nil {
		return n, src, 0, rerr
	}
	if cm != nil {
		ecn = protocol.TOS(cm.TrafficClass).ECN()
	}
	return n, src, ecn, nil
}

// FlushOutbound drains r's queued stateless packets and writes each one
// through c, the glue between the Registry's outbound queue and the actual
// socket (spec.md section 5: "Stateless packets are pushed to an outbound
// queue owned by the registry").
func FlushOutbound(c *UDPConn, r *Registry) error {
	for _, pkt := range r.DrainOutbound() {
		if err := c.WriteMarked(pkt.Data, pkt.PeerAddr, pkt.ECN); err != nil {
			return err
		}
	}
	return nil
}
