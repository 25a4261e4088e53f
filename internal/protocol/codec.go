package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// FrameType is the websocket frame type a message travelled in.
type FrameType int

const (
	FrameText FrameType = iota + 1
	FrameBinary
)

// ErrUnknownKind is wrapped by [MalformedMessageError] when the type field
// names no known variant.
var ErrUnknownKind = errors.New("protocol: unknown message type")

// MalformedMessageError reports an inbound frame that could not be decoded.
// The connection it arrived on stays usable.
type MalformedMessageError struct {
	// Raw is the offending payload, truncated for logging.
	Raw string
	Err error
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("protocol: malformed message %q: %v", e.Raw, e.Err)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

const maxRawInError = 128

func malformed(raw []byte, err error) *MalformedMessageError {
	r := raw
	if len(r) > maxRawInError {
		r = r[:maxRawInError]
	}
	return &MalformedMessageError{Raw: string(r), Err: err}
}

// wireMessage is the JSON shape shared by all variants. Data is the relay's
// name for the audio field and is only read.
type wireMessage struct {
	Type        Kind    `json:"type,omitempty"`
	CallerID    string  `json:"caller_id,omitempty"`
	RecipientID string  `json:"recipient_id,omitempty"`
	Audio       *string `json:"audio,omitempty"`
	Data        *string `json:"data,omitempty"`
	Terminal    *bool   `json:"terminal,omitempty"`
	EndOfStream bool    `json:"end_of_stream,omitempty"`
}

// Encode serialises m as a JSON text frame.
func Encode(m Message) ([]byte, error) {
	w := wireMessage{Type: m.Kind}
	switch m.Kind {
	case KindIncomingCall:
		if m.CallerID == "" {
			return nil, errors.New("protocol: encode incoming_call: empty caller_id")
		}
		w.CallerID = m.CallerID
	case KindCallAccepted:
		if m.RecipientID == "" {
			return nil, errors.New("protocol: encode call_accepted: empty recipient_id")
		}
		w.RecipientID = m.RecipientID
	case KindAudioChunk:
		enc := base64.StdEncoding.EncodeToString(m.Audio)
		term := m.Terminal
		w.Audio = &enc
		w.Terminal = &term
	case KindEndOfStream:
	default:
		return nil, fmt.Errorf("protocol: encode: %w: %q", ErrUnknownKind, m.Kind)
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.Kind, err)
	}
	return b, nil
}

// Decode parses one inbound frame. Binary frames become a non-terminal
// audio_chunk holding the raw bytes. Failures are returned as
// [*MalformedMessageError].
func Decode(ft FrameType, raw []byte) (Message, error) {
	if ft == FrameBinary {
		return NewAudioChunk(bytes.Clone(raw), false), nil
	}

	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return Message{}, malformed(raw, err)
	}

	if w.EndOfStream && (w.Type == "" || w.Type == KindEndOfStream) {
		return NewEndOfStream(), nil
	}

	switch w.Type {
	case KindIncomingCall:
		if w.CallerID == "" {
			return Message{}, malformed(raw, errors.New("missing caller_id"))
		}
		return NewIncomingCall(w.CallerID), nil

	case KindCallAccepted:
		if w.RecipientID == "" {
			return Message{}, malformed(raw, errors.New("missing recipient_id"))
		}
		return NewCallAccepted(w.RecipientID), nil

	case KindAudioChunk:
		field := w.Audio
		if field == nil {
			field = w.Data
		}
		var data []byte
		if field != nil && *field != "" {
			var err error
			data, err = base64.StdEncoding.DecodeString(*field)
			if err != nil {
				return Message{}, malformed(raw, fmt.Errorf("audio: %w", err))
			}
		}
		return NewAudioChunk(data, w.Terminal != nil && *w.Terminal), nil

	case KindEndOfStream:
		return NewEndOfStream(), nil

	case "":
		return Message{}, malformed(raw, errors.New("missing type"))

	default:
		return Message{}, malformed(raw, fmt.Errorf("%w: %q", ErrUnknownKind, w.Type))
	}
}
