package http

import (
	"github.com/f0mster/netrpc/pkg/metadata"
)

const (
	// HeaderResult carries the URL-encoded non stream part of a stream result.
	HeaderResult       = "X-Netrpc-Result"
	HeaderStreamLength = "X-Netrpc-Stream-Length"
	// HeaderCallbacks is the number of callbacks sent on the hub before the
	// call was answered. The client holds the answer until they arrived.
	HeaderCallbacks = "X-Netrpc-Callbacks"
	// TrailerStream carries the terminal signal of a stream result:
	// end, cancelled or faulted.
	TrailerStream = "X-Netrpc-Stream"

	StreamEnd       = "end"
	StreamCancelled = "cancelled"
	StreamFaulted   = "faulted"

	CallbackPath = "/callback"

	partData   = "data"
	partStream = "stream"

	contentJSON   = "application/json"
	contentText   = "text/plain; charset=utf-8"
	contentStream = "application/octet-stream"
)

// request is the JSON body of a call, or its data part when a request
// stream follows as a multipart file part.
type request struct {
	CallID        string            `json:"callId"`
	ConnectionID  string            `json:"connectionId,omitempty"`
	Header        metadata.Metadata `json:"header,omitempty"`
	Args          [][]byte          `json:"args,omitempty"`
	FireAndForget bool              `json:"fireAndForget,omitempty"`
	HasStream     bool              `json:"hasStream,omitempty"`
	StreamLength  *int64            `json:"streamLength,omitempty"`
	PostBody      []byte            `json:"postBody,omitempty"`
}
