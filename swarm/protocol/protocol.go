package protocol

import "time"

// ControlService is the name the control endpoint is registered under.
const ControlService = "Control"

type PeersRequest struct{}

type PeerInfo struct {
	Address  string    `cbor:"1,keyasint,omitempty"` // Announced peer address
	LastSeen time.Time `cbor:"2,keyasint,omitempty"` // Arrival time of the latest announcement
}

type PeersResponse struct {
	Self  string     `cbor:"1,keyasint,omitempty"` // Address of the answering node
	Peers []PeerInfo `cbor:"2,keyasint,omitempty"` // Live peers sorted by address
}

type ConnectionsRequest struct{}

type ConnectionInfo struct {
	ID      uint64 `cbor:"1,keyasint,omitempty"`
	Remote  string `cbor:"2,keyasint,omitempty"` // Client endpoint
	State   string `cbor:"3,keyasint,omitempty"` // open, relaying or closed
	Queued  int    `cbor:"4,keyasint,omitempty"` // Payloads waiting in the outbound queue
	Dropped uint64 `cbor:"5,keyasint,omitempty"` // Payloads dropped on a full queue
}

type ConnectionsResponse struct {
	Connections []ConnectionInfo `cbor:"1,keyasint,omitempty"`
}

type StatusRequest struct{}

type StatusResponse struct {
	Role           string    `cbor:"1,keyasint,omitempty"` // hub, client or peer
	Self           string    `cbor:"2,keyasint,omitempty"`
	Started        time.Time `cbor:"3,keyasint,omitempty"`
	Peers          int       `cbor:"4,keyasint,omitempty"`
	Connections    int       `cbor:"5,keyasint,omitempty"`
	MessagesLogged uint64    `cbor:"6,keyasint,omitempty"` // Sequence number of the latest logged message
}
