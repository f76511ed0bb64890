package quic

import (
	"net"
	"time"

	"github.com/privateoctopus/picogo/internal/protocol"
	"github.com/privateoctopus/picogo/internal/qerr"
	"github.com/privateoctopus/picogo/internal/utils"
	"github.com/privateoctopus/picogo/internal/wire"
)

// incomingVN is spec.md section 4.3's Version Negotiation rule: client-only,
// in ClientInitSent, must echo the client's DCID, must carry vn=0.
func (c *Connection) incomingVN(buf []byte, ph *wire.PacketHeader) (int, DropReason) {
	if !c.clientMode || c.state != ClientInitSent {
		return ph.Offset + ph.PayloadLength, Detected
	}
	if !ph.DestCnxID.Equal(c.paths[0].RemoteCnxID) {
		return ph.Offset + ph.PayloadLength, Detected
	}
	payload := buf[ph.Offset : ph.Offset+ph.PayloadLength]
	var versions []protocol.VersionNumber
	for len(payload) >= 4 {
		versions = append(versions, protocol.VersionNumber(utils.ReadUint32(payload)))
		payload = payload[4:]
	}
	if c.callback != nil {
		c.callback.OnVersionNegotiation(versions)
	}
	c.setState(Disconnected)
	return ph.Offset + ph.PayloadLength, Success
}

// incomingRetry is spec.md section 4.3's Retry rule: client-only, only in
// ClientInitSent/ClientInitResent, only if no prior Retry, version and
// pn64==0 must match, ODCID must equal initial_cnxid.
func (c *Connection) incomingRetry(buf []byte, ph *wire.PacketHeader) (int, DropReason) {
	total := ph.Offset + ph.PayloadLength
	if !c.clientMode || (c.state != ClientInitSent && c.state != ClientInitResent) {
		return total, Detected
	}
	if c.originalCnxID.Len() != 0 {
		return total, Detected
	}
	if ph.Version != c.offeredVersion || ph.PN64 != 0 {
		return total, Detected
	}
	payload := buf[ph.Offset:total]
	if len(payload) < 17 { // odcid len byte + tag
		return total, Detected
	}
	odcidLen := int(payload[0])
	if odcidLen > protocol.ConnectionIDMaxSize || 1+odcidLen+16 > len(payload) {
		return total, Detected
	}
	odcid := protocol.ConnectionIDFromBytes(payload[1 : 1+odcidLen])
	if !odcid.Equal(c.initialCnxID) {
		return total, Detected
	}
	token := payload[1+odcidLen : len(payload)-16]

	c.originalCnxID = c.initialCnxID
	c.initialCnxID = ph.SrcCnxID
	c.retryToken = append([]byte{}, token...)
	c.paths[0].RemoteCnxID = ph.SrcCnxID
	c.setState(ClientInitSent)
	return total, Retry
}

// incomingClientInitial handles an Initial packet arriving at a server,
// spec.md section 4.3's "Server Initial" rule set.
func (c *Connection) incomingClientInitial(buf []byte, ph *wire.PacketHeader, peerAddr, localAddr net.Addr, now time.Time) (int, DropReason) {
	if c.config.RequireAddressValidation && c.state == ServerInit && !c.initialValidated {
		if !c.verifyToken(ph.TokenBytes) {
			c.queueStatelessRetry(peerAddr, localAddr, ph)
			return ph.Offset + ph.PayloadLength, Retry
		}
		c.initialValidated = true
	}

	if ph.DestCnxID.Len() < protocol.EnforcedInitialCIDLen && c.originalCnxID.Len() == 0 {
		c.setState(HandshakeFailure)
		return ph.Offset + ph.PayloadLength, InitialCIDTooShort
	}

	reason := c.decryptAndCheck(buf, ph, now)
	if reason != Success && reason != Duplicate {
		return ph.Offset + ph.PayloadLength, reason
	}
	total := ph.Offset + ph.PayloadLength

	if c.state < ServerAlmostReady {
		if c.paths[0].LocalAddr == nil {
			c.paths[0].LocalAddr = localAddr
		}
		if c.paths[0].PeerAddr == nil {
			c.paths[0].PeerAddr = peerAddr
		}
		if reason == Success {
			if _, err := c.decodeAndPumpTLS(buf, ph, c.paths[0], now); err != nil {
				c.setState(HandshakeFailure)
				return total, UnexpectedPacket
			}
		}
		return total, reason
	}
	if c.state < Ready {
		if reason == Success {
			ackEliciting, _ := ignoreIncomingHandshake(c.frameDecoder, buf[ph.Offset:total], ph.Epoch, c.paths[0])
			if ackEliciting {
				c.pnCtx(ph.PC).ackNeeded = true
			}
		}
		return total, reason
	}
	c.setState(HandshakeFailure)
	return total, UnexpectedPacket
}

// incomingServerInitial handles an Initial arriving at a client, spec.md
// section 4.3's "Client Initial (from server)" rule.
func (c *Connection) incomingServerInitial(buf []byte, ph *wire.PacketHeader, now time.Time) (int, DropReason) {
	if c.state != ClientInitSent && c.state != ClientInitResent {
		return ph.Offset + ph.PayloadLength, UnexpectedPacket
	}
	firstFromServer := c.paths[0].RemoteCnxID.Len() == 0 || c.state == ClientInitSent
	if !firstFromServer && !ph.SrcCnxID.Equal(c.paths[0].RemoteCnxID) {
		return ph.Offset + ph.PayloadLength, CnxIDCheck
	}

	reason := c.decryptAndCheck(buf, ph, now)
	total := ph.Offset + ph.PayloadLength
	if reason != Success && reason != Duplicate {
		if c.state == ClientInitSent || c.state == ClientInitResent {
			c.paths[0].RetransmitTimer = 0
		}
		return total, reason
	}

	if c.state == ClientInitSent || c.state == ClientInitResent {
		c.paths[0].RemoteCnxID = ph.SrcCnxID
		c.setState(ClientHandshakeStart)
	}

	if reason == Success {
		if _, err := c.decodeAndPumpTLS(buf, ph, c.paths[0], now); err != nil {
			c.setState(HandshakeFailure)
			return total, UnexpectedPacket
		}
		if c.crypto.At(protocol.EpochHandshake).Ready() {
			c.setState(ClientHandshakeProgress)
			c.pnCtx(protocol.PNSpaceInitial).ackNeeded = true
		}
	}
	return total, reason
}

// incomingClientHandshake / incomingServerHandshake: spec.md section 4.3's
// "Handshake segments" rule. Both sides require SrcCnxID == path[0]'s
// remote CID, reject empty payload, and either decode+pump (below Ready)
// or ack-only ignore (Ready+).
func (c *Connection) incomingServerHandshake(buf []byte, ph *wire.PacketHeader, now time.Time) (int, DropReason) {
	return c.incomingHandshakeCommon(buf, ph, now)
}

func (c *Connection) incomingClientHandshake(buf []byte, ph *wire.PacketHeader, now time.Time) (int, DropReason) {
	return c.incomingHandshakeCommon(buf, ph, now)
}

func (c *Connection) incomingHandshakeCommon(buf []byte, ph *wire.PacketHeader, now time.Time) (int, DropReason) {
	total := ph.Offset + ph.PayloadLength
	if !ph.SrcCnxID.Equal(c.paths[0].RemoteCnxID) {
		return total, CnxIDCheck
	}
	if ph.PayloadLength == 0 {
		c.raiseTransportError(qerr.ProtocolViolation, "empty Handshake payload")
		return total, UnexpectedPacket
	}

	reason := c.decryptAndCheck(buf, ph, now)
	total = ph.Offset + ph.PayloadLength
	if reason != Success && reason != Duplicate {
		return total, reason
	}
	if reason != Success {
		return total, reason
	}

	if c.state < Ready {
		if _, err := c.decodeAndPumpTLS(buf, ph, c.paths[0], now); err != nil {
			c.setState(HandshakeFailure)
			return total, UnexpectedPacket
		}
		return total, Success
	}
	ackEliciting, _ := ignoreIncomingHandshake(c.frameDecoder, buf[ph.Offset:total], ph.Epoch, c.paths[0])
	if ackEliciting {
		c.pnCtx(ph.PC).ackNeeded = true
	}
	return total, Success
}

// incoming0RTT is spec.md section 4.3's 0-RTT rule: server-side only,
// accepted only in ServerAlmostReady/ServerFalseStart/(Ready && !is1RTTReceived).
func (c *Connection) incoming0RTT(buf []byte, ph *wire.PacketHeader, now time.Time) (int, DropReason) {
	total := ph.Offset + ph.PayloadLength
	if c.clientMode {
		return total, UnexpectedPacket
	}
	allowed := c.state == ServerAlmostReady || c.state == ServerFalseStart || (c.state == Ready && !c.is1RTTReceived)
	if !allowed {
		return total, UnexpectedPacket
	}
	if !ph.DestCnxID.Equal(c.initialCnxID) && !ph.DestCnxID.Equal(c.paths[0].LocalCnxID) {
		return total, CnxIDCheck
	}
	if !ph.SrcCnxID.Equal(c.paths[0].RemoteCnxID) {
		return total, CnxIDCheck
	}
	if ph.Version != c.selectedVersion {
		return total, Detected
	}
	if ph.PayloadLength == 0 {
		c.raiseTransportError(qerr.ProtocolViolation, "empty 0-RTT payload")
		return total, UnexpectedPacket
	}

	reason := c.decryptAndCheck(buf, ph, now)
	total = ph.Offset + ph.PayloadLength
	if reason != Success {
		return total, reason
	}
	if _, err := c.decodeAndPumpTLS(buf, ph, c.paths[0], now); err != nil {
		c.setState(HandshakeFailure)
		return total, UnexpectedPacket
	}
	return total, Success
}

// incomingEncrypted is spec.md section 4.3's 1-RTT rule, the densest
// dispatcher: state gating, closing-state frame filtering, path-finding,
// ECN accounting, and the normal decode+pump path.
func (c *Connection) incomingEncrypted(buf []byte, ph *wire.PacketHeader, peerAddr, localAddr net.Addr, now time.Time) (int, DropReason) {
	total := ph.Offset + ph.PayloadLength
	if c.state < ClientAlmostReady || c.state == Disconnected {
		return total, Detected
	}

	if c.state == ClosingReceived || c.state == Closing || c.state == Draining {
		reason := c.decryptAndCheck(buf, ph, now)
		total = ph.Offset + ph.PayloadLength
		if reason != Success {
			return total, reason
		}
		if c.deliverCloseFrames(buf, ph, c.paths[0]) {
			if c.clientMode {
				c.setState(Disconnected)
			} else {
				c.setState(Draining)
			}
		}
		return total, Success
	}

	// Duplicate/AEAD-failure path: try header protection + decrypt first so
	// a failure can fall back to stateless-reset recognition (spec.md
	// section 4.2).
	reason := c.decryptAndCheck(buf, ph, now)
	total = ph.Offset + ph.PayloadLength
	if reason == AEADCheck {
		if len(buf) >= protocol.ResetPacketMinSize && looksLikeStatelessReset(buf, c.paths[0].ResetSecret) {
			c.setState(Disconnected)
			if c.callback != nil {
				c.callback.OnStatelessReset()
			}
			return len(buf), StatelessReset
		}
		return total, reason
	}
	if reason != Success {
		return total, reason
	}

	if ph.PayloadLength == 0 || ph.HasReservedBitSet {
		c.raiseTransportError(qerr.ProtocolViolation, "empty or reserved-bit-set 1-RTT payload")
		return total, UnexpectedPacket
	}

	path, pathReason := c.findOrCreatePath(ph.DestCnxID, peerAddr, localAddr, ph.PN64, now)
	if pathReason != Success {
		return total, pathReason
	}
	if ph.PN64 > path.largestAcked {
		path.largestAcked = ph.PN64
	}

	res, err := c.decodeAndPumpTLS(buf, ph, path, now)
	if err != nil {
		c.setState(HandshakeFailure)
		return total, UnexpectedPacket
	}
	if path == c.paths[0] {
		c.accountECN(ph)
	}
	if res.SawConnectionClose {
		if c.clientMode {
			c.setState(ClosingReceived)
		} else {
			c.setState(Draining)
		}
	}
	c.is1RTTReceived = true
	return total, Success
}

// accountECN folds a received packet's ECN codepoint into the connection-
// level counters, but only for path index 0 per spec.md section 4.3 ("only
// path index 0 counts toward connection-level counters").
func (c *Connection) accountECN(ph *wire.PacketHeader) {
	// The ECN codepoint itself arrives out-of-band from the IP layer (via
	// the socket collaborator's OOB data), not from the QUIC header; the
	// registry stamps it onto the header before dispatch when available.
	switch ph.ECN() {
	case protocol.ECT0:
		c.ecnCounts[ph.PC].ect0++
	case protocol.ECT1:
		c.ecnCounts[ph.PC].ect1++
	case protocol.ECNCE:
		c.ecnCounts[ph.PC].ce++
	}
	c.sendingECNAck = true
}

func (c *Connection) raiseTransportError(code qerr.ErrorCode, msg string) {
	c.logger.Errorf("transport error %s: %s", code, msg)
	c.setState(HandshakeFailure)
}

// verifyToken and queueStatelessRetry are thin seams over the registry's
// token validation / Retry synthesis (spec.md section 4.3, server Initial
// rule 1); the actual token MAC and Retry bytes are built by the registry,
// which owns the static key and outbound queue.
func (c *Connection) verifyToken(token []byte) bool {
	if c.registry == nil {
		return len(token) > 0
	}
	return c.registry.verifyRetryToken(token, c.paths[0].PeerAddr)
}

func (c *Connection) queueStatelessRetry(peerAddr, localAddr net.Addr, ph *wire.PacketHeader) {
	if c.registry == nil {
		return
	}
	c.registry.queueRetry(peerAddr, localAddr, ph, c.initialCnxID)
}
