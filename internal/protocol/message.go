// Package protocol encodes and decodes the control and media messages
// exchanged with the relay over the signaling connection.
//
// Every text frame is a JSON object discriminated by its "type" field:
//
//	{"type":"incoming_call","caller_id":"u1"}
//	{"type":"call_accepted","recipient_id":"u2"}
//	{"type":"audio_chunk","audio":"<base64>","terminal":false}
//	{"type":"end_of_stream"}
//
// Binary frames carry raw encoded audio and decode to an audio_chunk.
package protocol

// Kind discriminates the [Message] variants.
type Kind string

const (
	KindIncomingCall Kind = "incoming_call"
	KindCallAccepted Kind = "call_accepted"
	KindAudioChunk   Kind = "audio_chunk"
	KindEndOfStream  Kind = "end_of_stream"
)

// IsValid reports whether k is a known message kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindIncomingCall, KindCallAccepted, KindAudioChunk, KindEndOfStream:
		return true
	}
	return false
}

// Message is one control or media message. Only the fields of the active
// Kind are meaningful. Construct values with the New* functions and treat
// them as immutable.
type Message struct {
	Kind Kind

	// CallerID is set for incoming_call.
	CallerID string

	// RecipientID is set for call_accepted.
	RecipientID string

	// Audio holds the raw audio payload of an audio_chunk. It may be empty
	// for a terminal marker.
	Audio []byte

	// Terminal marks the end of an utterance or an interval batch.
	Terminal bool
}

// NewIncomingCall returns an incoming_call message from callerID.
func NewIncomingCall(callerID string) Message {
	return Message{Kind: KindIncomingCall, CallerID: callerID}
}

// NewCallAccepted returns a call_accepted message naming the recipient.
func NewCallAccepted(recipientID string) Message {
	return Message{Kind: KindCallAccepted, RecipientID: recipientID}
}

// NewAudioChunk returns an audio_chunk carrying data.
func NewAudioChunk(data []byte, terminal bool) Message {
	return Message{Kind: KindAudioChunk, Audio: data, Terminal: terminal}
}

// NewTerminalMarker returns an empty terminal audio_chunk.
func NewTerminalMarker() Message {
	return Message{Kind: KindAudioChunk, Terminal: true}
}

// NewEndOfStream returns the end-of-stream sentinel.
func NewEndOfStream() Message {
	return Message{Kind: KindEndOfStream}
}
