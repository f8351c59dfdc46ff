package qkdsource

import "github.com/hybridkeyd/hybridkeyd/pkg/model"

type openConnectData struct {
	Source      string             `json:"source"`
	Destination string             `json:"destination"`
	Qos         model.OpenConnectQos `json:"qos"`
}

type openConnectRequest struct {
	Command string          `json:"command"`
	Data    openConnectData `json:"data"`
}

type getKeyMetadata struct {
	Size   int    `json:"size"`
	Buffer string `json:"buffer,omitempty"`
}

type getKeyData struct {
	KeyStreamID string         `json:"key_stream_id"`
	Index       int            `json:"index"`
	Metadata    getKeyMetadata `json:"metadata"`
}

type getKeyRequest struct {
	Command string     `json:"command"`
	Data    getKeyData `json:"data"`
}

type closeData struct {
	KeyStreamID string `json:"key_stream_id"`
}

type closeRequest struct {
	Command string    `json:"command"`
	Data    closeData `json:"data"`
}

// kmsResponse is the uniform response envelope for all three commands; only
// the fields relevant to the command that produced it are populated.
type kmsResponse struct {
	Status      int    `json:"status"`
	KeyStreamID string `json:"key_stream_id,omitempty"`
	KeyBuffer   []int  `json:"key_buffer,omitempty"`
}
