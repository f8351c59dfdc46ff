package model

import "encoding/json"

// OpenConnectQos carries the key_chunk_size the session hybridizes to, plus
// advisory fields passed through to the QKD source's OPEN_CONNECT call
// verbatim.
type OpenConnectQos struct {
	KeyChunkSize     int      `json:"key_chunk_size"`
	MinBps           *int     `json:"min_bps,omitempty"`
	MaxBps           *int     `json:"max_bps,omitempty"`
	Jitter           *int     `json:"jitter,omitempty"`
	Priority         *int     `json:"priority,omitempty"`
	Timeout          *int     `json:"timeout,omitempty"`
	TTL              *int     `json:"ttl,omitempty"`
	MetadataMimetype string   `json:"metadata_mimetype,omitempty"`
}

// OpenConnectRequest is the agent-facing OPEN_CONNECT payload.
type OpenConnectRequest struct {
	Command     string         `json:"command"`
	Source      string         `json:"source"`
	Destination string         `json:"destination"`
	Qos         OpenConnectQos `json:"qos"`
}

// GetKeyRequest is the agent-facing GET_KEY payload.
type GetKeyRequest struct {
	Command     string          `json:"command"`
	KeyStreamID string          `json:"key_stream_id"`
	Index       int             `json:"index"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// CloseRequest is the agent-facing CLOSE payload.
type CloseRequest struct {
	Command     string `json:"command"`
	KeyStreamID string `json:"key_stream_id"`
}

// Response is the uniform shape written back to the agent. Fields are
// omitted when not applicable to the command that produced the response.
type Response struct {
	Status      interface{} `json:"status"`
	KeyStreamID string      `json:"key_stream_id,omitempty"`
	KeyBuffer   []int       `json:"key_buffer,omitempty"`
	Message     string      `json:"message,omitempty"`
}

// StatusOK builds a success response carrying only the status field.
func StatusOK() Response {
	return Response{Status: 0}
}

// StatusFail builds a failure response with status 1 (the agent wire
// protocol's sole failure code; finer-grained causes are logged, not
// reported to the agent).
func StatusFail() Response {
	return Response{Status: 1}
}

// OpenConnectOK builds the OPEN_CONNECT success response.
func OpenConnectOK(hybridKSID string) Response {
	return Response{Status: 0, KeyStreamID: hybridKSID}
}

// GetKeyOK builds the GET_KEY success response.
func GetKeyOK(keyBuffer []int) Response {
	return Response{Status: 0, KeyBuffer: keyBuffer}
}

// ErrorResponse builds the "status":"error" shape used for malformed JSON
// and unknown commands, which are distinct from in-protocol status 1
// failures.
func ErrorResponse(message string) Response {
	return Response{Status: "error", Message: message}
}
