package quic

import "fmt"

// DropReason is the tagged result every segment dispatcher returns: spec.md
// section 9's "use a tagged result type; every dispatcher returns a small
// enum, never a magic integer". classifyDrop maps each one onto the
// coalesce loop's halt/continue policy in a single place.
type DropReason uint8

const (
	Success DropReason = iota
	AEADCheck
	StatelessReset
	Duplicate
	UnexpectedPacket
	InitialTooShort
	InitialCIDTooShort
	CnxIDCheck
	CnxIDSegment
	Retry
	Detected
	ConnectionDeleted
	SpuriousRepeat
	Memory
)

func (r DropReason) String() string {
	switch r {
	case Success:
		return "SUCCESS"
	case AEADCheck:
		return "AEAD_CHECK"
	case StatelessReset:
		return "STATELESS_RESET"
	case Duplicate:
		return "DUPLICATE"
	case UnexpectedPacket:
		return "UNEXPECTED_PACKET"
	case InitialTooShort:
		return "INITIAL_TOO_SHORT"
	case InitialCIDTooShort:
		return "INITIAL_CID_TOO_SHORT"
	case CnxIDCheck:
		return "CNXID_CHECK"
	case CnxIDSegment:
		return "CNXID_SEGMENT"
	case Retry:
		return "RETRY"
	case Detected:
		return "DETECTED"
	case ConnectionDeleted:
		return "CONNECTION_DELETED"
	case SpuriousRepeat:
		return "SPURIOUS_REPEAT"
	case Memory:
		return "MEMORY"
	default:
		return fmt.Sprintf("DropReason(%d)", uint8(r))
	}
}

// coalescePolicy is what the per-datagram coalesce loop does after a
// dispatcher returns a given DropReason.
type coalescePolicy uint8

const (
	policyContinue coalescePolicy = iota // keep decoding the rest of the datagram
	policyHalt                           // stop decoding this datagram's remaining segments
)

// classifyDrop is the single place spec.md section 7's drop taxonomy maps
// onto loop control: Success and Duplicate let the loop try the next
// segment; every other reason, the benign drops included, halts parsing of
// the remaining coalesced segments in this datagram.
func classifyDrop(r DropReason) coalescePolicy {
	switch r {
	case Success, Duplicate:
		return policyContinue
	default:
		return policyHalt
	}
}
