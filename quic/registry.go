package quic

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/privateoctopus/picogo/internal/handshake"
	"github.com/privateoctopus/picogo/internal/protocol"
	"github.com/privateoctopus/picogo/internal/wire"
)

// OutboundPacket is a fully-formed datagram the Registry wants the external
// socket collaborator to send: stateless responses (VN, Retry, stateless
// reset) that have no Connection to own them.
type OutboundPacket struct {
	Data     []byte
	PeerAddr net.Addr
	LocalAddr net.Addr
	ECN      protocol.ECN
}

// Registry is spec.md section 9's process-wide Quic owner: two hash
// indexes (CID, Addr) over Connections, plus the outbound queue stateless
// packets are pushed to. It is the single mutator of connection state
// (spec.md section 5); every public method assumes single-threaded-per-
// endpoint calling discipline, same as the teacher's packetHandlerMap.
type Registry struct {
	config *Config

	mu       sync.Mutex
	byCID    map[string]*Connection
	byAddr   map[string]*Connection
	conns    map[*Connection]struct{}

	outbound []OutboundPacket

	staticKey []byte

	clock pacingClock
}

// NewRegistry constructs an endpoint-wide Registry. cfg.StaticResetKey also
// seeds retry-token HMAC derivation if non-empty; a random key is generated
// otherwise (picoquic_create generates one the same way when none is
// supplied by the caller).
func NewRegistry(cfg *Config) *Registry {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	key := cfg.StaticResetKey
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}
	return &Registry{
		config:    cfg,
		byCID:     make(map[string]*Connection),
		byAddr:    make(map[string]*Connection),
		conns:     make(map[*Connection]struct{}),
		staticKey: key,
		clock:     realClock{},
	}
}

func cidKey(cid protocol.ConnectionID) string { return string(cid.Bytes()) }
func addrKey(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

func (r *Registry) register(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c] = struct{}{}
	if c.initialCnxID.Len() > 0 {
		r.byCID[cidKey(c.initialCnxID)] = c
	}
	for _, p := range c.paths {
		if p.registered && p.LocalCnxID.Len() > 0 {
			r.byCID[cidKey(p.LocalCnxID)] = c
		}
		if p.PeerAddr != nil {
			r.byAddr[addrKey(p.PeerAddr)] = c
		}
	}
}

// registerLocalCID indexes a newly announced local CID (e.g. a fresh path's
// LocalCnxID once announced via NEW_CONNECTION_ID), spec.md section 3's
// Path invariant: "a path is registered iff ... it has been announced".
func (r *Registry) registerLocalCID(c *Connection, cid protocol.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byCID[cidKey(cid)] = c
}

// Remove tears a Connection out of both indexes, spec.md section 3's
// lifecycle rule: "destroyed on transition into Disconnected after grace".
func (r *Registry) Remove(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c)
	if c.initialCnxID.Len() > 0 {
		delete(r.byCID, cidKey(c.initialCnxID))
	}
	for _, p := range c.paths {
		if p.LocalCnxID.Len() > 0 {
			delete(r.byCID, cidKey(p.LocalCnxID))
		}
		if p.PeerAddr != nil {
			delete(r.byAddr, addrKey(p.PeerAddr))
		}
	}
}

// lookup implements spec.md section 4.2's connection-lookup order: CID
// first, then address (for zero-length-CID endpoints, or Initial/0-RTT
// with no CID match), then address-only for stateless-reset detection on
// short headers with no CID match.
func (r *Registry) lookup(ph *wire.PacketHeader, peerAddr net.Addr) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ph.DestCnxID.Len() > 0 {
		if c, ok := r.byCID[cidKey(ph.DestCnxID)]; ok {
			return c, true
		}
	}

	byAddrEligible := r.config.LocalCIDLength == 0 ||
		ph.Type == wire.TypeInitial || ph.Type == wire.TypeZeroRTT
	if byAddrEligible {
		if c, ok := r.byAddr[addrKey(peerAddr)]; ok {
			if requiresCIDMatch(ph.Type) && ph.DestCnxID.Len() > 0 {
				return nil, false
			}
			return c, true
		}
	}

	if ph.Type == wire.TypeOneRTT {
		if c, ok := r.byAddr[addrKey(peerAddr)]; ok {
			return c, true // address match only, for stateless-reset detection
		}
	}
	return nil, false
}

func requiresCIDMatch(t wire.PacketType) bool {
	return t == wire.TypeInitial || t == wire.TypeHandshake || t == wire.TypeZeroRTT || t == wire.TypeOneRTT
}

// HandleDatagram is the coalesce loop spec.md section 5 describes:
// "packets within one UDP datagram are decoded left-to-right; if any
// segment's DCID differs from the first's, parsing of the remainder is
// aborted (CNXID_SEGMENT)". Returns the per-segment outcomes for
// diagnostics/testing.
func (r *Registry) HandleDatagram(buf []byte, peerAddr, localAddr net.Addr, now time.Time) []DropReason {
	var results []DropReason
	var firstDCID protocol.ConnectionID
	haveFirst := false

	for len(buf) > 0 {
		ph, err := wire.ParseHeader(buf, r.config.LocalCIDLength)
		unknownVersion := err == nil && ph.Version != protocol.VersionNegotiation &&
			protocol.VersionIndex(ph.Version) == protocol.VersionIndexUnknown
		if err != nil || (ph.Type == wire.TypeError && !unknownVersion) {
			results = append(results, Detected)
			break
		}
		if !haveFirst {
			firstDCID = ph.DestCnxID
			haveFirst = true
		} else if !ph.DestCnxID.Equal(firstDCID) {
			results = append(results, CnxIDSegment)
			break
		}

		segLen := ph.Offset + ph.PayloadLength
		if segLen <= 0 || segLen > len(buf) {
			segLen = len(buf)
		}
		reason := r.dispatchSegment(buf[:segLen], ph, peerAddr, localAddr, now)
		results = append(results, reason)
		if classifyDrop(reason) == policyHalt {
			break
		}
		buf = buf[segLen:]
	}
	return results
}

// dispatchSegment looks up (or creates) the owning Connection for one
// parsed segment and hands it off, implementing the remaining pieces of
// spec.md section 4.2/4.3 that live above a single Connection: stateless
// VN/Retry emission for packets with no connection at all, and server-side
// Connection creation on a fresh Initial.
func (r *Registry) dispatchSegment(buf []byte, ph *wire.PacketHeader, peerAddr, localAddr net.Addr, now time.Time) DropReason {
	conn, found := r.lookup(ph, peerAddr)

	if !found {
		return r.handleUnmatched(buf, ph, peerAddr, localAddr, now)
	}

	consumed, reason := conn.incomingSegment(buf, ph, peerAddr, localAddr, now)
	_ = consumed
	if reason == ConnectionDeleted || conn.state == Disconnected {
		r.Remove(conn)
	}
	return reason
}

// handleUnmatched is spec.md section 4.3's stateless-response paths plus
// server-side Connection creation: an unrecognized Initial spawns a new
// server Connection (subject to the minimum DCID length check), an
// unrecognized long-header packet with an unsupported version gets a VN
// reply, and an unrecognized short header long enough to plausibly be a
// stateless reset gets... nothing (we have no secret to validate against
// for a connection we've never seen; a genuine reset target already has a
// registry entry by address).
func (r *Registry) handleUnmatched(buf []byte, ph *wire.PacketHeader, peerAddr, localAddr net.Addr, now time.Time) DropReason {
	switch ph.Type {
	case wire.TypeInitial:
		if !r.config.IsServer {
			return Detected
		}
		if ph.DestCnxID.Len() < protocol.ConnectionIDMinSize {
			return InitialTooShort
		}
		conn := NewServerConnection(r.config, r, ph.DestCnxID, ph.SrcCnxID, peerAddr, localAddr, ph.Version)
		r.register(conn)
		_, reason := conn.incomingSegment(buf, ph, peerAddr, localAddr, now)
		if conn.state == HandshakeFailure {
			r.Remove(conn)
		}
		return reason
	case wire.TypeVersionNegotiation, wire.TypeHandshake, wire.TypeZeroRTT:
		return Detected
	case wire.TypeOneRTT:
		if len(buf) >= protocol.ResetPacketMinSize {
			return Detected // no connection to compare a reset secret against
		}
		return Detected
	default:
		if ph.VersionIndex == protocol.VersionIndexUnknown && ph.Version != protocol.VersionNegotiation {
			r.queueVersionNegotiation(peerAddr, localAddr, ph)
			return Detected
		}
		return Detected
	}
}

func (r *Registry) queueVersionNegotiation(peerAddr, localAddr net.Addr, ph *wire.PacketHeader) {
	var b []byte
	b = wire.AppendVersionNegotiation(b, ph.SrcCnxID, ph.DestCnxID)
	r.mu.Lock()
	r.outbound = append(r.outbound, OutboundPacket{Data: b, PeerAddr: peerAddr, LocalAddr: localAddr})
	r.mu.Unlock()
}

// queueRetry synthesizes and queues a stateless Retry packet, spec.md
// section 4.3's server Initial rule 1.
func (r *Registry) queueRetry(peerAddr, localAddr net.Addr, ph *wire.PacketHeader, origDestCnxID protocol.ConnectionID) {
	token := r.makeRetryToken(peerAddr)
	srcCnxID := randomConnectionID(protocol.EnforcedInitialCIDLen)
	var b []byte
	b = wire.AppendRetry(b, ph.Version, ph.SrcCnxID, srcCnxID, origDestCnxID, token)
	r.mu.Lock()
	r.outbound = append(r.outbound, OutboundPacket{Data: b, PeerAddr: peerAddr, LocalAddr: localAddr})
	r.mu.Unlock()
}

// makeRetryToken and verifyRetryToken implement spec.md section 6's
// TOKEN_DELAY_SHORT-bounded address-validation token: an HMAC over the
// peer address and issuance time, the same shape picoquic's
// picoquic_prepare_retry_token/picoquic_verify_retry_token use (an HMAC tag
// plus an embedded timestamp, rather than server-side session state).
func (r *Registry) makeRetryToken(peerAddr net.Addr) []byte {
	now := r.clock.Now()
	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, uint64(now.UnixNano()))
	mac := hmac.New(sha256.New, r.staticKey)
	mac.Write([]byte(addrKey(peerAddr)))
	mac.Write(ts)
	tag := mac.Sum(nil)
	return append(ts, tag...)
}

func (r *Registry) verifyRetryToken(token []byte, peerAddr net.Addr) bool {
	if len(token) < 8+sha256.Size {
		return false
	}
	ts := token[:8]
	tag := token[8:]
	issued := time.Unix(0, int64(binary.BigEndian.Uint64(ts)))
	if r.clock.Now().Sub(issued) > r.config.TokenValidity {
		return false
	}
	mac := hmac.New(sha256.New, r.staticKey)
	mac.Write([]byte(addrKey(peerAddr)))
	mac.Write(ts)
	want := mac.Sum(nil)
	return hmac.Equal(tag, want)
}

// DrainOutbound pops every stateless packet queued since the last call.
func (r *Registry) DrainOutbound() []OutboundPacket {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.outbound
	r.outbound = nil
	return out
}

// Shutdown is spec.md section 5's "torn down after all connections
// drained": it fans out a close notification to every live connection and
// waits for them, using golang.org/x/sync/errgroup the way the teacher's
// dependency surface is wired for exactly this kind of bounded fan-out.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, c := range conns {
		c := c
		g.Go(func() error {
			c.Close(0, "endpoint shutdown")
			return nil
		})
	}
	err := g.Wait()
	for _, c := range conns {
		r.Remove(c)
	}
	return err
}

// deriveResetSecret is the seam registerLocalCID-adjacent code uses to
// populate a freshly announced local CID's stateless-reset token.
func (r *Registry) deriveResetSecret(cid protocol.ConnectionID) [protocol.ResetSecretSize]byte {
	return handshake.DeriveResetSecret(r.staticKey, cid)
}
