package rpc

import (
	"github.com/f0mster/netrpc/pkg/fault"
	"github.com/f0mster/netrpc/pkg/metadata"
)

type ChannelType string

const (
	ChannelMemory    ChannelType = "memory"
	ChannelWebsocket ChannelType = "websocket"
	ChannelQueue     ChannelType = "queue"
	ChannelHTTP      ChannelType = "http"
)

// ActionInfo identifies one invocation.
type ActionInfo struct {
	Contract      string `json:"contract"`
	Method        string `json:"method"`
	Path          string `json:"path,omitempty"`
	FireAndForget bool   `json:"fireAndForget,omitempty"`
}

func (a ActionInfo) String() string {
	return a.Contract + "." + a.Method
}

// CallParam is an inbound call as a transport decoded it.
// Args holds one encoded value per pure argument. HasStream is set when a
// request stream follows the call; otherwise the stream argument is PostBody.
type CallParam struct {
	CallID       string            `json:"callId"`
	Header       metadata.Metadata `json:"header,omitempty"`
	Action       ActionInfo        `json:"action"`
	Args         [][]byte          `json:"args,omitempty"`
	HasStream    bool              `json:"hasStream,omitempty"`
	StreamLength *int64            `json:"streamLength,omitempty"`
	PostBody     []byte            `json:"postBody,omitempty"`
}

// Result is the non stream part of a call result.
type Result struct {
	Value        []byte `json:"value,omitempty"`
	HasStream    bool   `json:"hasStream,omitempty"`
	StreamLength *int64 `json:"streamLength,omitempty"`
}

type ReplyKind int

const (
	ReplyResult ReplyKind = iota + 1
	ReplyFault
	ReplyCancelled
	ReplyChunk
	ReplyStreamEnd
	ReplyStreamCancelled
	ReplyStreamFaulted
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyResult:
		return "result"
	case ReplyFault:
		return "fault"
	case ReplyCancelled:
		return "cancelled"
	case ReplyChunk:
		return "chunk"
	case ReplyStreamEnd:
		return "end"
	case ReplyStreamCancelled:
		return "stream-cancelled"
	case ReplyStreamFaulted:
		return "stream-faulted"
	}
	return "unknown"
}

// Reply is one message a client adapter receives for its call.
type Reply struct {
	Kind   ReplyKind
	Result *Result
	Fault  *fault.Descriptor
	Data   []byte
}
