// Package wire defines the JSON envelope exchanged over the signaling
// socket. Every message carries a type discriminator; the remaining
// fields are a superset across all message kinds so passthrough payloads
// (sdp, candidate, fileInfo) round-trip untouched without per-type schemas.
package wire

import "encoding/json"

// Message is the single envelope shape used for both inbound and outbound
// frames. Router and handlers inspect Type and read only the fields that
// kind defines; unknown/extra fields in RawMessage-typed payloads are
// preserved verbatim.
type Message struct {
	Type string `json:"type"`

	RoomID string `json:"roomId,omitempty"`
	Name   string `json:"name,omitempty"`
	PeerID string `json:"peerId,omitempty"`

	TargetPeerID string `json:"targetPeerId,omitempty"`
	FromPeerID   string `json:"fromPeerId,omitempty"`
	FromPeerName string `json:"fromPeerName,omitempty"`

	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	FileInfo  json.RawMessage `json:"fileInfo,omitempty"`

	Reason string `json:"reason,omitempty"`

	Timestamp int64 `json:"timestamp,omitempty"`

	Peers          []PeerSummary `json:"peers"`
	Peer           *PeerSummary  `json:"peer,omitempty"`
	IsReconnection bool          `json:"isReconnection,omitempty"`

	Error string `json:"error,omitempty"`
}

// PeerSummary is the {id,name} shape advertised in roster/join/broadcast
// messages.
type PeerSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message type discriminators (§6.2).
const (
	TypeWelcome             = "welcome"
	TypeJoin                = "join"
	TypeJoined              = "joined"
	TypePeerJoined          = "peer-joined"
	TypePeerReconnected     = "peer-reconnected"
	TypeLeave               = "leave"
	TypeLeft                = "left"
	TypePeerLeft            = "peer-left"
	TypeOffer               = "offer"
	TypeAnswer              = "answer"
	TypeICECandidate        = "ice-candidate"
	TypeReadyForCandidates  = "ready-for-candidates"
	TypeFileRequest         = "file-request"
	TypeFileAccept          = "file-accept"
	TypeFileReject          = "file-reject"
	TypePing                = "ping"
	TypePong                = "pong"
	TypeError               = "error"
	TypeServerShutdown      = "server-shutdown"
)

// LeaveReason values for peer-left (§6.2).
const (
	ReasonTimeout = "timeout"
	ReasonStale   = "stale"
	ReasonNormal  = "normal"
)

// ErrMsg builds an {type:"error", error: text} envelope.
func ErrMsg(text string) Message { return Message{Type: TypeError, Error: text} }
