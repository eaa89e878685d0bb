package netcore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Frame is a length-delimited wire envelope: a 4-byte big-endian length prefix
// followed by a JSON body tagged with Kind, one of the ToReplica/ToClient message
// families from spec.md §6. Kind makes the body self-describing so a single
// parse-dispatch entry point can decode it without out-of-band type information. PID
// carries the session's configured protocol-id tag (replconfig.NetworkConfig.PID) so a
// future multiplexed transport (e.g. a libp2p stream muxer) could route frames by
// protocol without inspecting Kind.
type Frame struct {
	Kind string          `json:"kind"`
	PID  string          `json:"pid,omitempty"`
	Body json.RawMessage `json:"body"`
}

// EncodeFrame marshals kind/pid/body into a length-prefixed wire frame.
func EncodeFrame(kind, pid string, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("netcore: marshal %s body: %w", kind, err)
	}
	frame, err := json.Marshal(Frame{Kind: kind, PID: pid, Body: raw})
	if err != nil {
		return nil, fmt.Errorf("netcore: marshal frame: %w", err)
	}
	out := make([]byte, 4+len(frame))
	binary.BigEndian.PutUint32(out, uint32(len(frame)))
	copy(out[4:], frame)
	return out, nil
}

// WriteFrame writes kind/pid/body to w as one length-delimited frame.
func WriteFrame(w io.Writer, kind, pid string, body any) error {
	buf, err := EncodeFrame(kind, pid, body)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads one length-delimited frame from r and returns its kind/body split,
// ready for a family-specific parse-dispatch switch. A malformed length prefix or body
// is a decode failure that propagates to the caller's session per spec.md §7.
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, fmt.Errorf("netcore: read frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, fmt.Errorf("netcore: read frame body: %w", err)
	}
	var f Frame
	if err := json.Unmarshal(body, &f); err != nil {
		return Frame{}, fmt.Errorf("netcore: unmarshal frame: %w", err)
	}
	return f, nil
}

// Decode unmarshals a frame's body into dst, the way each message family's
// parse-dispatch entry point resolves a Frame.Kind switch arm into a concrete Go type.
func (f Frame) Decode(dst any) error {
	if err := json.Unmarshal(f.Body, dst); err != nil {
		return fmt.Errorf("netcore: decode %s: %w", f.Kind, err)
	}
	return nil
}
