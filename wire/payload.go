// Package wire implements the signed envelope format exchanged between
// clients, servers, and peers: building and signing outbound frames,
// parsing and authenticating inbound ones, and the per-sender counter
// discipline that binds ordering to signatures.
package wire

// Inner payload type discriminants, carried in the "type" field of the
// signed envelope's data object (or, for client_list, at the frame's own
// top level — it is never signed).
const (
	TypeHello               = "hello"
	TypeChat                = "chat"
	TypePublicChat          = "public_chat"
	TypeClientUpdateRequest = "client_update_request"
	TypeClientListRequest   = "client_list_request"
	TypeClientList          = "client_list"
	TypeClientUpdate        = "client_update"
	TypeServerHello         = "server_hello"
)

// HelloPayload announces a client's identity to its home server.
type HelloPayload struct {
	Type      string `json:"type"`
	PublicKey string `json:"public_key"`
}

// ServerHelloPayload announces a server's identity to a neighbour.
type ServerHelloPayload struct {
	Type      string `json:"type"`
	PublicKey string `json:"public_key"`
	Address   string `json:"address"`
}

// ChatPayload is the end-to-end encrypted multi-recipient chat frame.
type ChatPayload struct {
	Type                string   `json:"type"`
	DestinationServers  []string `json:"destination_servers"`
	IV                  string   `json:"iv"`
	SymmKeys            []string `json:"symm_keys"`
	Chat                string   `json:"chat"`
}

// ChatInner is the AES-GCM-encrypted JSON body of a ChatPayload's Chat field.
type ChatInner struct {
	Participants []string `json:"participants"`
	Message      string   `json:"message"`
}

// PublicChatPayload is an unencrypted broadcast message.
type PublicChatPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientUpdateRequestPayload asks a peer to resync its client directory.
type ClientUpdateRequestPayload struct {
	Type string `json:"type"`
}

// ClientUpdatePayload lists a server's locally-connected client public keys.
type ClientUpdatePayload struct {
	Type    string   `json:"type"`
	Clients []string `json:"clients"`
}

// ClientListRequestPayload asks the home server for the mesh-wide directory.
type ClientListRequestPayload struct {
	Type string `json:"type"`
}

// ClientListEntry describes one server's locally-known clients.
type ClientListEntry struct {
	Address           string   `json:"address"`
	ServerFingerprint string   `json:"server_fingerprint"`
	Clients           []string `json:"clients"`
}

// ClientListFrame is the unsigned top-level reply to a client_list_request.
type ClientListFrame struct {
	Type    string            `json:"type"`
	Servers []ClientListEntry `json:"servers"`
}

// innerType is used to peek at an envelope's inner payload type without
// committing to a concrete struct.
type innerType struct {
	Type string `json:"type"`
}
