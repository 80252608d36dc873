// Package remote implements the remote control plane (spec §4.9): a
// single duplex connection carrying an outer envelope, Ed25519-signed
// pairing and auth, a mux sub-stream reserved for control traffic, and
// the RPC method table backing every remote client operation.
package remote

import "encoding/json"

// ProtocolVersion is the only wire version this endpoint speaks.
const ProtocolVersion = 1

// ControlStreamID is the one stream_id a v1 peer must recognize.
// Unknown stream_ids are silently dropped (spec §6.4).
const ControlStreamID = 10

// Envelope is the outer frame on the transport: JSON text, UTF-8.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	Ts      string          `json:"ts"` // RFC3339 UTC
	Payload json.RawMessage `json:"payload"`
}

// MuxFrame is the one envelope type that wraps a nested envelope for a
// particular session/stream.
type MuxFrame struct {
	SessionID string `json:"session_id"`
	StreamID  int    `json:"stream_id"`
	PayloadB64 string `json:"payload_b64"`
}

// RPCRequest is a control sub-stream inner payload.
type RPCRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// RPCError is the {code, message} pair every failed RPC carries.
type RPCError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RPCResponse is a control sub-stream inner payload answering one request.
type RPCResponse struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// Event is an unsolicited control sub-stream inner payload (subscription
// push).
type Event struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// Envelope type names.
const (
	TypeMuxFrame      = "mux/frame"
	TypeAuthHello     = "auth/hello"
	TypeAuthChallenge = "auth/challenge"
	TypeAuthResponse  = "auth/response"
	TypeAuthOK        = "auth/ok"
	TypeAuthErr       = "auth/err"
	TypeRegister      = "ccbox/register"
)

// AuthHello is the first handshake message, sent by the local endpoint.
type AuthHello struct {
	DeviceID   string `json:"device_id"`
	DeviceKind string `json:"device_kind"`
}

// AuthChallenge is the peer's nonce challenge.
type AuthChallenge struct {
	NonceB64 string `json:"nonce_b64"`
}

// AuthResponse is the signed challenge response. PairingGUID/PairingCode
// are required whenever PublicKeyB64 names a key this endpoint has not
// already trusted (spec §4.9's pairing flow, §2 "Pairing broker").
type AuthResponse struct {
	SignatureB64 string `json:"signature_b64"`
	PublicKeyB64 string `json:"public_key_b64,omitempty"`
	PairingGUID  string `json:"pairing_guid,omitempty"`
	PairingCode  string `json:"pairing_code,omitempty"`
}

// AuthErr is returned on a failed handshake; terminal for the connection.
type AuthErr struct {
	Code string `json:"code"`
}

// Register describes this endpoint after a successful handshake.
type Register struct {
	CcboxID      string   `json:"ccbox_id"`
	Label        string   `json:"label,omitempty"`
	Capabilities []string `json:"capabilities"`
	Version      string   `json:"version"`
}
