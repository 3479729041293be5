// Package idgen mints and validates the two identifier shapes this service
// hands out: peer_<12hex> and room_<12hex>. Room keys additionally accept a
// short client-supplied code, so validation for rooms is looser than for
// peers.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

const (
	peerPrefix = "peer_"
	roomPrefix = "room_"
)

// NewPeerID mints a peer_<12hex> identifier from 6 cryptographically
// strong random bytes.
func NewPeerID() (string, error) {
	return newID(peerPrefix)
}

// NewRoomID mints a room_<12hex> identifier from 6 cryptographically
// strong random bytes.
func NewRoomID() (string, error) {
	return newID(roomPrefix)
}

func newID(prefix string) (string, error) {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + hex.EncodeToString(b[:]), nil
}

// IsValidPeerID reports whether id has the canonical peer_<12hex> shape.
// Client-supplied peer ids (reconnection, §9) are validated with this.
func IsValidPeerID(id string) bool {
	rest, ok := strings.CutPrefix(id, peerPrefix)
	if !ok {
		return false
	}
	return isLowerHex(rest, 12)
}

// IsValidRoomID reports whether id is either a server-minted room_<12hex>
// id or a short client-supplied room key: any non-empty printable string
// of length 3-64 containing no control characters or whitespace.
func IsValidRoomID(id string) bool {
	if rest, ok := strings.CutPrefix(id, roomPrefix); ok && isLowerHex(rest, 12) {
		return true
	}
	return isValidRoomCode(id)
}

func isValidRoomCode(id string) bool {
	n := len([]rune(id))
	if n < 3 || n > 64 {
		return false
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func isLowerHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}
