package handshake

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/privateoctopus/picogo/internal/protocol"
)

// DeriveResetSecret derives the per-connection-ID stateless reset token from
// a process-wide static key and the connection ID the token protects, the
// same HKDF construction quic-go uses for session ticket keys: a fixed info
// label binds the derivation to its purpose so the same static key can't be
// reused to derive some other secret.
func DeriveResetSecret(staticKey []byte, connID protocol.ConnectionID) [protocol.ResetSecretSize]byte {
	var token [protocol.ResetSecretSize]byte
	r := hkdf.New(sha256.New, staticKey, nil, []byte("quic stateless reset "+connID.String()))
	if _, err := io.ReadFull(r, token[:]); err != nil {
		panic("hkdf stream exhausted deriving a reset secret: " + err.Error())
	}
	return token
}
