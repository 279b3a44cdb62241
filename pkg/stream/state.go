package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

const DefaultChunkSize = 64 * 1024

type State int32

const (
	Idle State = iota
	Sending
	Completed
	Cancelled
	Faulted
)

func (s State) Terminal() bool {
	return s >= Completed
}

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Faulted:
		return "faulted"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var (
	ErrStreamCancelled = fmt.Errorf("stream cancelled: %w", context.Canceled)
	ErrStreamFaulted   = errors.New("stream faulted")
	ErrClosed          = errors.New("stream closed")
	ErrRelayUsed       = errors.New("relay already used")
)

// LengthOf returns the number of bytes left in r when r can tell it.
func LengthOf(r io.Reader) (int64, bool) {
	switch v := r.(type) {
	case nil:
		return 0, false
	case interface{ Len() int }:
		return int64(v.Len()), true
	case interface{ Size() int64 }:
		return v.Size(), true
	case *os.File:
		fi, err := v.Stat()
		if err != nil || !fi.Mode().IsRegular() {
			return 0, false
		}
		pos, err := v.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, false
		}
		return fi.Size() - pos, true
	}
	return 0, false
}
