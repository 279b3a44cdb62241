package fault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TypeText marks descriptors of TextError faults.
const TypeText = "text"

// Reserved status codes.
const (
	StatusFault     = 400
	StatusUnhandled = 500
	StatusCancelled = 600
)

// Descriptor is the wire form of an error raised by a service method.
type Descriptor struct {
	StatusCode int             `json:"statusCode"`
	Code       string          `json:"code,omitempty"`
	Type       string          `json:"type,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type payload struct {
	Message string          `json:"message"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

// Message returns the message carried by the payload, or the raw payload text
// when it isn't in the fault payload format.
func (d *Descriptor) Message() string {
	msg, _ := d.decode()
	return msg
}

func (d *Descriptor) decode() (string, json.RawMessage) {
	if len(d.Payload) == 0 {
		return "", nil
	}
	p := payload{}
	if err := json.Unmarshal(d.Payload, &p); err != nil {
		return string(d.Payload), nil
	}
	return p.Message, p.Detail
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("fault %d/%s: %s", d.StatusCode, d.Code, d.Message())
}

func encodePayload(message string, detail any) json.RawMessage {
	p := payload{Message: message}
	if detail != nil {
		if raw, err := json.Marshal(detail); err == nil && string(raw) != "{}" && string(raw) != "null" {
			p.Detail = raw
		}
	}
	raw, _ := json.Marshal(p)
	return raw
}

// Error is what a client gets for a fault that has no declared mapping.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return e.Message
}

// TextError is a fault a transport classified from a plain text response.
type TextError struct {
	StatusCode int
	Text       string
}

func (e *TextError) Error() string {
	return e.Text
}

// Cancelled is the client side form of a cancellation acknowledgement.
type Cancelled struct {
	Message string
}

func (c *Cancelled) Error() string {
	if c.Message == "" {
		return context.Canceled.Error()
	}
	return c.Message
}

func (c *Cancelled) Is(target error) bool {
	return target == context.Canceled
}

// IsCancellation reports whether err means the call was cancelled or timed out.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var c *Cancelled
	if errors.As(err, &c) {
		return true
	}
	if s, ok := status.FromError(err); ok {
		return s.Code() == codes.Canceled || s.Code() == codes.DeadlineExceeded
	}
	return false
}
