package protocol

// Version1 is the final RFC 9000 QUIC version.
const Version1 VersionNumber = 0x00000001

// VersionDraft29 and VersionDraft34 are pre-RFC draft versions, named because
// the teacher's Retry integrity keys (handshake.GetRetryIntegrityTag) are
// keyed per draft.
const (
	VersionDraft27 VersionNumber = 0xff00_001b
	VersionDraft29 VersionNumber = 0xff00_001d
	VersionDraft34 VersionNumber = 0xff00_0022
)

// SupportedVersions is this endpoint's locally supported version table, in
// preference order. VersionIndex below is the position of a version in this
// table, or VersionIndexUnknown (-1) if the version isn't supported.
var SupportedVersions = []VersionNumber{Version1, VersionDraft34, VersionDraft29}

// VersionIndex returns the offered version's position in SupportedVersions,
// or VersionIndexUnknown.
func VersionIndex(v VersionNumber) int {
	for i, sv := range SupportedVersions {
		if sv == v {
			return i
		}
	}
	return VersionIndexUnknown
}

// IsSupportedVersion reports whether v is in the local version table.
func IsSupportedVersion(v VersionNumber) bool {
	return VersionIndex(v) != VersionIndexUnknown
}

// IsGreaseVersion matches the low-order-byte-0x0a0a0a0a reserved-version
// pattern used for version negotiation robustness testing.
func IsGreaseVersion(v VersionNumber) bool {
	return uint32(v)&0x0f0f0f0f == 0x0a0a0a0a
}
