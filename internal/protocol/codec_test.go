package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  Message
	}{
		{name: "incoming_call", msg: NewIncomingCall("u1")},
		{name: "call_accepted", msg: NewCallAccepted("u2")},
		{name: "audio_chunk", msg: NewAudioChunk([]byte{0x01, 0xff, 0x00, 0x7f}, false)},
		{name: "audio_chunk terminal with data", msg: NewAudioChunk([]byte{0x10, 0x20}, true)},
		{name: "terminal marker", msg: NewTerminalMarker()},
		{name: "end_of_stream", msg: NewEndOfStream()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			raw, err := Encode(tt.msg)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := Decode(FrameText, raw)
			if err != nil {
				t.Fatalf("Decode(%s): %v", raw, err)
			}
			if got.Kind != tt.msg.Kind ||
				got.CallerID != tt.msg.CallerID ||
				got.RecipientID != tt.msg.RecipientID ||
				got.Terminal != tt.msg.Terminal ||
				!bytes.Equal(got.Audio, tt.msg.Audio) {
				t.Errorf("round trip = %+v, want %+v", got, tt.msg)
			}
		})
	}
}

func TestEncode_WireShape(t *testing.T) {
	t.Parallel()

	raw, err := Encode(NewTerminalMarker())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["type"] != "audio_chunk" {
		t.Errorf("type = %v, want audio_chunk", m["type"])
	}
	if m["audio"] != "" {
		t.Errorf("audio = %v, want empty string", m["audio"])
	}
	if m["terminal"] != true {
		t.Errorf("terminal = %v, want true", m["terminal"])
	}

	raw, err = Encode(NewIncomingCall("u9"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if want := `{"type":"incoming_call","caller_id":"u9"}`; string(raw) != want {
		t.Errorf("incoming_call = %s, want %s", raw, want)
	}
}

func TestEncode_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  Message
	}{
		{name: "unknown kind", msg: Message{Kind: "hello"}},
		{name: "empty kind", msg: Message{}},
		{name: "incoming without caller", msg: Message{Kind: KindIncomingCall}},
		{name: "accepted without recipient", msg: Message{Kind: KindCallAccepted}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Encode(tt.msg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDecode_Aliases(t *testing.T) {
	t.Parallel()

	t.Run("relay data field", func(t *testing.T) {
		t.Parallel()
		got, err := Decode(FrameText, []byte(`{"type":"audio_chunk","data":"AQI="}`))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if !bytes.Equal(got.Audio, []byte{1, 2}) || got.Terminal {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("end_of_stream flag", func(t *testing.T) {
		t.Parallel()
		got, err := Decode(FrameText, []byte(`{"end_of_stream":true}`))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.Kind != KindEndOfStream {
			t.Errorf("Kind = %q, want end_of_stream", got.Kind)
		}
	})

	t.Run("binary frame", func(t *testing.T) {
		t.Parallel()
		raw := []byte{9, 8, 7}
		got, err := Decode(FrameBinary, raw)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		raw[0] = 0
		if got.Kind != KindAudioChunk || !bytes.Equal(got.Audio, []byte{9, 8, 7}) {
			t.Errorf("got %+v", got)
		}
	})
}

func TestDecode_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{name: "not json", raw: `{"type":`},
		{name: "missing type", raw: `{"caller_id":"u1"}`},
		{name: "unknown type", raw: `{"type":"dial"}`, wantErr: ErrUnknownKind},
		{name: "incoming without caller", raw: `{"type":"incoming_call"}`},
		{name: "accepted without recipient", raw: `{"type":"call_accepted"}`},
		{name: "bad base64", raw: `{"type":"audio_chunk","audio":"!!!","terminal":false}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(FrameText, []byte(tt.raw))
			var mErr *MalformedMessageError
			if !errors.As(err, &mErr) {
				t.Fatalf("error = %v, want *MalformedMessageError", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want wrapping %v", err, tt.wantErr)
			}
		})
	}
}

func TestMalformedMessageError_TruncatesRaw(t *testing.T) {
	t.Parallel()

	_, err := Decode(FrameText, []byte(strings.Repeat("x", 1000)))
	var mErr *MalformedMessageError
	if !errors.As(err, &mErr) {
		t.Fatalf("error = %v, want *MalformedMessageError", err)
	}
	if len(mErr.Raw) != maxRawInError {
		t.Errorf("len(Raw) = %d, want %d", len(mErr.Raw), maxRawInError)
	}
}

func TestKind_IsValid(t *testing.T) {
	t.Parallel()

	for _, k := range []Kind{KindIncomingCall, KindCallAccepted, KindAudioChunk, KindEndOfStream} {
		if !k.IsValid() {
			t.Errorf("%q.IsValid() = false", k)
		}
	}
	if Kind("ring").IsValid() {
		t.Error(`"ring".IsValid() = true`)
	}
}
