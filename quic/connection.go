package quic

import (
	"crypto/rand"
	"net"
	"time"

	"github.com/privateoctopus/picogo/internal/ackhandler"
	"github.com/privateoctopus/picogo/internal/handshake"
	"github.com/privateoctopus/picogo/internal/protocol"
	"github.com/privateoctopus/picogo/internal/qerr"
	"github.com/privateoctopus/picogo/internal/utils"
	"github.com/privateoctopus/picogo/internal/wire"
)

// State is the connection's lifecycle state, spec.md section 3's full
// client/server handshake-through-teardown enum.
type State uint8

const (
	ClientInitSent State = iota
	ClientInitResent
	ClientHandshakeStart
	ClientHandshakeProgress
	ClientAlmostReady
	ServerInit
	ServerAlmostReady
	ServerFalseStart
	Ready
	ClosingReceived
	Closing
	Draining
	Disconnected
	HandshakeFailure
)

func (s State) String() string {
	switch s {
	case ClientInitSent:
		return "ClientInitSent"
	case ClientInitResent:
		return "ClientInitResent"
	case ClientHandshakeStart:
		return "ClientHandshakeStart"
	case ClientHandshakeProgress:
		return "ClientHandshakeProgress"
	case ClientAlmostReady:
		return "ClientAlmostReady"
	case ServerInit:
		return "ServerInit"
	case ServerAlmostReady:
		return "ServerAlmostReady"
	case ServerFalseStart:
		return "ServerFalseStart"
	case Ready:
		return "Ready"
	case ClosingReceived:
		return "ClosingReceived"
	case Closing:
		return "Closing"
	case Draining:
		return "Draining"
	case Disconnected:
		return "Disconnected"
	case HandshakeFailure:
		return "HandshakeFailure"
	default:
		return "invalid state"
	}
}

// pnContext is one packet-number space's bookkeeping, spec.md section 3:
// send_sequence, highest_acknowledged, the SACK range's high end, whether
// an ack is owed, and the oldest outstanding retransmit time.
type pnContext struct {
	sendSequence       protocol.PacketNumber
	highestAcknowledged protocol.PacketNumber
	sackHighEnd        protocol.PacketNumber // first_sack_item.end_of_sack_range
	ackNeeded          bool
	retransmitOldest   time.Time
	seen               map[protocol.PacketNumber]bool // minimal SACK set for duplicate detection
}

func newPNContext() *pnContext {
	return &pnContext{
		highestAcknowledged: protocol.InvalidPacketNumber,
		sackHighEnd:         protocol.InvalidPacketNumber,
		seen:                make(map[protocol.PacketNumber]bool),
	}
}

// alreadyReceived consults the duplicate set without discarding the
// packet (spec.md section 4.2: "set already_received without discarding").
func (c *pnContext) alreadyReceived(pn protocol.PacketNumber) bool { return c.seen[pn] }

// recordReceived marks pn seen and advances the SACK high end; it does not
// touch highestAcknowledged.
func (c *pnContext) recordReceived(pn protocol.PacketNumber) {
	c.seen[pn] = true
	if pn > c.sackHighEnd {
		c.sackHighEnd = pn
	}
}

// ApplicationCallback is the out-of-scope application notification seam
// (spec.md's callback_fn/callback_ctx): delivered on stateless reset,
// version negotiation, and terminal state transitions.
type ApplicationCallback interface {
	OnVersionNegotiation(versions []protocol.VersionNumber)
	OnStatelessReset()
	OnStateChanged(s State)
	OnHandshakeDone()
}

// Connection is one QUIC connection's full state: lifecycle, crypto
// contexts, packet-number spaces, paths, and the connection-ID stash.
// Grounded field-for-field on spec.md section 3 and on picoquic_cnx_t in
// quicctx.c, with naming following other_examples/quic-go-quic-go__connection.go
// where the two don't conflict.
type Connection struct {
	config *Config
	logger utils.Logger

	state      State
	clientMode bool

	initialCnxID  protocol.ConnectionID
	originalCnxID protocol.ConnectionID
	localCIDLen   int

	crypto                  handshake.CryptoContexts
	cryptoSetup             handshake.CryptoSetup
	keyPhaseDec             bool
	cryptoRotationSequence  protocol.PacketNumber
	cryptoRotationTimeGuard time.Time
	onKeysNeeded            func(protocol.Epoch)

	pnContexts [3]*pnContext // indexed by protocol.PacketNumberSpace

	paths []*Path

	retryToken       []byte
	initialValidated bool

	cnxidStash cnxIDStash

	is1RTTReceived bool
	sendingECNAck  bool
	ecnCounts      [3]struct{ ect0, ect1, ce uint64 }

	frameDecoder FrameDecoder
	callback     ApplicationCallback

	registry *Registry

	selectedVersion protocol.VersionNumber
	offeredVersion  protocol.VersionNumber

	// sentPackets is the loss-detection/PTO layer for path[0], the one
	// path whose congestion controller actually receives ACK-driven
	// notifications; spec.md section 2's "-> (on ACK/loss/timeout) ->
	// congestion controller" data-flow step. Secondary paths (NAT
	// rebinds, multipath probes) keep their own CongestionState for
	// cwnd bookkeeping but aren't wired to a SentPacketHandler of their
	// own, matching the teacher's single-controller-per-connection model.
	sentPackets ackhandler.SentPacketHandler
}

func newConnection(cfg *Config, clientMode bool, reg *Registry) *Connection {
	c := &Connection{
		config:      cfg,
		logger:      cfg.Logger,
		clientMode:  clientMode,
		localCIDLen: cfg.LocalCIDLength,
		registry:    reg,
	}
	for i := range c.pnContexts {
		c.pnContexts[i] = newPNContext()
	}
	return c
}

func (c *Connection) State() State { return c.state }

func (c *Connection) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.callback != nil {
		c.callback.OnStateChanged(s)
	}
}

func (c *Connection) pnCtx(pc protocol.PacketNumberSpace) *pnContext { return c.pnContexts[pc] }

// initSentPacketHandler wires up the loss-detection/congestion layer for
// path[0] once it exists, sharing its RTTStats with the path's
// pathCongestion so both layers agree on the same smoothed RTT, and handing
// the path itself to the handler so every PTO recomputation also keeps
// path[0].RetransmitTimer (spec.md's retransmit_timer) current.
func (c *Connection) initSentPacketHandler() {
	p := c.paths[0]
	pers := protocol.PerspectiveServer
	if c.clientMode {
		pers = protocol.PerspectiveClient
	}
	c.sentPackets = ackhandler.NewSentPacketHandler(
		0,
		p.SendMTU,
		p.CongestionState.rtt,
		c.config.ECNMode,
		pers,
		p,
		c.config.Tracer,
		c.logger,
	)
}

// processAcks feeds every ACK frame decode_frames surfaced for this epoch
// into the loss-detection layer, the other half of spec.md's "on ACK/
// loss/timeout -> congestion controller" data flow (the first half is
// decryptAndCheck's duplicate/ack_needed bookkeeping).
func (c *Connection) processAcks(res FrameDecodeResult, epoch protocol.Epoch, now time.Time) {
	if c.sentPackets == nil {
		return
	}
	for _, ack := range res.AckFrames {
		_, _ = c.sentPackets.ReceivedAck(ack, epoch, now)
	}
}

func (c *Connection) retireCnxID(cid protocol.ConnectionID) { c.cnxidStash.retireCnxID(cid) }

// NewClientConnection creates a client-side Connection per spec.md section
// 3's lifecycle rule "created by client on application request". It picks
// a fresh random initial DCID (ENFORCED_INITIAL_CID_LENGTH bytes) and
// creates path[0] unregistered (no local CID of our own to register under
// until the peer assigns one).
func NewClientConnection(cfg *Config, reg *Registry, peerAddr, localAddr net.Addr) *Connection {
	c := newConnection(cfg, true, reg)
	c.initialCnxID = randomConnectionID(protocol.EnforcedInitialCIDLen)
	c.offeredVersion = cfg.Versions[0]
	c.selectedVersion = c.offeredVersion
	p := newPath(c, cfg.InitialMTU)
	p.PeerAddr = peerAddr
	p.LocalAddr = localAddr
	p.RemoteCnxID = c.initialCnxID
	p.CongestionState = newPathCongestion(cfg.InitialMTU)
	c.paths = []*Path{p}
	c.initSentPacketHandler()
	c.setState(ClientInitSent)
	return c
}

// NewServerConnection creates a server-side Connection, spec.md section 3:
// "created by server on first valid Initial whose DCID length >= minimum".
// Callers (the Registry) are expected to have already validated dcid's
// length before calling this.
func NewServerConnection(cfg *Config, reg *Registry, dcid, scid protocol.ConnectionID, peerAddr, localAddr net.Addr, version protocol.VersionNumber) *Connection {
	c := newConnection(cfg, false, reg)
	c.initialCnxID = dcid
	c.selectedVersion = version
	p := newPath(c, cfg.InitialMTU)
	p.PeerAddr = peerAddr
	p.LocalAddr = localAddr
	p.LocalCnxID = scid
	p.registered = true
	p.activated = true
	p.CongestionState = newPathCongestion(cfg.InitialMTU)
	if reg != nil {
		p.ResetSecret = reg.deriveResetSecret(scid)
	}
	c.paths = []*Path{p}
	c.initSentPacketHandler()
	c.setState(ServerInit)
	return c
}

func randomConnectionID(n int) protocol.ConnectionID {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return protocol.ConnectionIDFromBytes(b)
}

// incomingSegment is the single entry point spec.md section 7 describes:
// parse -> decrypt -> dispatch, returning the DropReason the caller's
// coalesce loop uses to decide whether to keep decoding the rest of the
// datagram. consumed is how many bytes of buf this segment occupied
// (valid even on most drop paths, needed to advance past a poisoned
// header).
func (c *Connection) incomingSegment(buf []byte, ph *wire.PacketHeader, peerAddr, localAddr net.Addr, now time.Time) (consumed int, reason DropReason) {
	switch ph.Type {
	case wire.TypeVersionNegotiation:
		return c.incomingVN(buf, ph)
	case wire.TypeRetry:
		return c.incomingRetry(buf, ph)
	case wire.TypeInitial:
		if c.clientMode {
			return c.incomingServerInitial(buf, ph, now)
		}
		return c.incomingClientInitial(buf, ph, peerAddr, localAddr, now)
	case wire.TypeHandshake:
		if c.clientMode {
			return c.incomingServerHandshake(buf, ph, now)
		}
		return c.incomingClientHandshake(buf, ph, now)
	case wire.TypeZeroRTT:
		return c.incoming0RTT(buf, ph, now)
	case wire.TypeOneRTT:
		return c.incomingEncrypted(buf, ph, peerAddr, localAddr, now)
	default:
		return ph.Offset, Detected
	}
}

// decryptAndCheck runs header-protection removal, PN reconstruction, and
// packet-protection removal for a non-Retry/non-VN segment already routed
// to this connection, then performs duplicate detection. It's shared by
// every per-epoch dispatcher below.
func (c *Connection) decryptAndCheck(buf []byte, ph *wire.PacketHeader, now time.Time) DropReason {
	ctx := c.crypto.At(ph.Epoch)
	removeHeaderProtection(buf, ph, ctx)
	if ph.PN == 0xFFFFFFFF && ph.PNMask == -0x100000000 { // same 64-bit bit pattern as 0xFFFFFFFF00000000
		return AEADCheck
	}
	pc := c.pnCtx(ph.PC)
	ph.DecodePN(pc.sackHighEnd)

	reason := decryptPacket(buf, ph, c, now)
	if reason != Success {
		return reason
	}

	// Duplicate detection happens after a successful decrypt, per spec:
	// the packet isn't discarded, it's just not delivered twice.
	if pc.alreadyReceived(ph.PN64) {
		pc.ackNeeded = true
		return Duplicate
	}

	if ph.Epoch == protocol.Epoch1RTT && ph.PN64 >= c.cryptoRotationSequence && ph.KeyPhase != c.keyPhaseDec {
		c.commitRotation(ph.PN64, now)
	}
	pc.recordReceived(ph.PN64)
	pc.ackNeeded = true
	return Success
}

func (c *Connection) decodeAndPumpTLS(buf []byte, ph *wire.PacketHeader, path *Path, now time.Time) (FrameDecodeResult, error) {
	if c.frameDecoder == nil {
		return FrameDecodeResult{}, nil
	}
	payload := buf[ph.Offset : ph.Offset+ph.PayloadLength]
	res, err := c.frameDecoder.DecodeFrames(payload, ph.Epoch, path)
	if err != nil {
		return res, err
	}
	c.processAcks(res, ph.Epoch, now)
	if c.cryptoSetup != nil {
		for {
			ev, ok := c.cryptoSetup.NextEvent()
			if !ok {
				break
			}
			c.applyCryptoEvent(ev)
		}
	}
	return res, nil
}

func (c *Connection) applyCryptoEvent(ev handshake.CryptoEvent) {
	switch ev.Kind {
	case handshake.EventReceivedReadKeys:
		ctx := c.crypto.At(ev.Epoch)
		if ev.Direction == handshake.DirectionRead {
			ctx.AEADDecrypt = ev.Contexts.AEADDecrypt
			ctx.PNDecrypt = ev.Contexts.PNDecrypt
		} else {
			ctx.AEADEncrypt = ev.Contexts.AEADEncrypt
			ctx.PNEncrypt = ev.Contexts.PNEncrypt
		}
	case handshake.EventHandshakeComplete:
		if c.callback != nil {
			c.callback.OnHandshakeDone()
		}
	}
}

// deliverCloseFrames decodes only closing-relevant frames while in
// ClosingReceived/Closing/Draining, spec.md section 4.3's 1-RTT rule for
// those states. Returns whether a CONNECTION_CLOSE was (re)confirmed.
func (c *Connection) deliverCloseFrames(buf []byte, ph *wire.PacketHeader, path *Path) bool {
	if c.frameDecoder == nil {
		return false
	}
	res, err := c.frameDecoder.DecodeFrames(buf[ph.Offset:ph.Offset+ph.PayloadLength], ph.Epoch, path)
	if err != nil {
		return false
	}
	return res.SawConnectionClose
}

// Close begins the local close sequence, transitioning to Closing.
func (c *Connection) Close(code qerr.ErrorCode, msg string) {
	if c.state >= Closing {
		return
	}
	c.setState(Closing)
	_ = code
	_ = msg
}
