package protocol

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestDecode_KnownKinds(t *testing.T) {
	mid := "0"
	idx := uint16(1)

	tests := []struct {
		name string
		raw  string
		want *Message
	}{
		{
			name: "offer",
			raw:  `{"type":"offer","sdp":"v=0 offer"}`,
			want: NewOffer("v=0 offer"),
		},
		{
			name: "answer",
			raw:  `{"type":"answer","sdp":"v=0 answer"}`,
			want: NewAnswer("v=0 answer"),
		},
		{
			name: "candidate",
			raw:  `{"type":"candidate","candidate":"candidate:1 1 UDP 1 10.0.0.1 9 typ host","sdp_mid":"0","sdp_mline_index":1}`,
			want: NewCandidate("candidate:1 1 UDP 1 10.0.0.1 9 typ host", &mid, &idx),
		},
		{
			name: "candidate with null mid",
			raw:  `{"type":"candidate","candidate":"candidate:1","sdp_mid":null,"sdp_mline_index":null}`,
			want: NewCandidate("candidate:1", nil, nil),
		},
		{
			name: "image",
			raw:  `{"type":"image","data":"data:image/png;base64,aGk="}`,
			want: &Message{Type: TypeImage, Image: &Image{Data: "data:image/png;base64,aGk="}},
		},
		{
			name: "trigger capture",
			raw:  `{"type":"trigger_capture"}`,
			want: NewTriggerCapture(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Decode = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `not json`, ErrMalformed},
		{"missing type", `{"sdp":"v=0"}`, ErrUnknownType},
		{"unknown type", `{"type":"renegotiate"}`, ErrUnknownType},
		{"wrong field type", `{"type":"candidate","sdp_mline_index":"one"}`, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.raw)); !errors.Is(err, tt.want) {
				t.Fatalf("Decode error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	mid := "audio"
	idx := uint16(2)

	msgs := []*Message{
		NewOffer("v=0 offer"),
		NewAnswer("v=0 answer"),
		NewCandidate("candidate:2 1 UDP 2 10.0.0.2 9 typ host", &mid, &idx),
		NewCandidate("candidate:3", nil, nil),
		{Type: TypeImage, Image: &Image{Data: "data:image/png;base64,aGk="}},
		NewTriggerCapture(),
	}

	for _, msg := range msgs {
		data, err := msg.Encode()
		if err != nil {
			t.Fatalf("Encode(%s): %v", msg.Type, err)
		}

		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(%s): %v", msg.Type, err)
		}
		if !reflect.DeepEqual(got, msg) {
			t.Fatalf("round trip %s = %+v, want %+v", msg.Type, got, msg)
		}
	}
}

func TestEncode_CandidateEmitsNullFields(t *testing.T) {
	data, err := NewCandidate("candidate:1", nil, nil).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	for _, field := range []string{"sdp_mid", "sdp_mline_index"} {
		raw, ok := obj[field]
		if !ok {
			t.Fatalf("field %q omitted, want explicit null", field)
		}
		if string(raw) != "null" {
			t.Fatalf("field %q = %s, want null", field, raw)
		}
	}
}

func TestEncode_RejectsInconsistentMessage(t *testing.T) {
	if _, err := (&Message{Type: TypeOffer}).Encode(); !errors.Is(err, ErrMalformed) {
		t.Fatalf("Encode error = %v, want %v", err, ErrMalformed)
	}
	if _, err := (&Message{Type: "bogus"}).Encode(); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("Encode error = %v, want %v", err, ErrUnknownType)
	}
}
