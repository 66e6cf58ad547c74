package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type represents the kind of signaling message
type Type string

const (
	// TypeOffer carries a session description offered by one side.
	TypeOffer Type = "offer"
	// TypeAnswer carries the responding session description.
	TypeAnswer Type = "answer"
	// TypeCandidate carries a connectivity candidate.
	TypeCandidate Type = "candidate"
	// TypeImage carries a base64-encoded still frame from a client.
	TypeImage Type = "image"
	// TypeTriggerCapture asks a client to capture a still frame. It is a
	// control message and is never relayed to other peers.
	TypeTriggerCapture Type = "trigger_capture"
)

var (
	// ErrUnknownType is returned when the type tag is missing or not one
	// of the known message kinds.
	ErrUnknownType = errors.New("unknown message type")

	// ErrMalformed is returned when a frame is not valid JSON or a known
	// kind's fields cannot be decoded.
	ErrMalformed = errors.New("malformed message")
)

// Offer is the payload of an offer message
type Offer struct {
	SDP string `json:"sdp"`
}

// Answer is the payload of an answer message
type Answer struct {
	SDP string `json:"sdp"`
}

// Candidate is the payload of a candidate message. SDPMid and
// SDPMLineIndex are nullable on the wire.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index"`
}

// Image is the payload of an image message. Data holds a base64 data URL.
type Image struct {
	Data string `json:"data"`
}

// Message is a decoded signaling message. Exactly one payload field is
// non-nil, matching Type; TypeTriggerCapture has no payload.
type Message struct {
	Type      Type
	Offer     *Offer
	Answer    *Answer
	Candidate *Candidate
	Image     *Image
}

// NewOffer creates an offer message
func NewOffer(sdp string) *Message {
	return &Message{Type: TypeOffer, Offer: &Offer{SDP: sdp}}
}

// NewAnswer creates an answer message
func NewAnswer(sdp string) *Message {
	return &Message{Type: TypeAnswer, Answer: &Answer{SDP: sdp}}
}

// NewCandidate creates a candidate message
func NewCandidate(candidate string, sdpMid *string, sdpMLineIndex *uint16) *Message {
	return &Message{
		Type: TypeCandidate,
		Candidate: &Candidate{
			Candidate:     candidate,
			SDPMid:        sdpMid,
			SDPMLineIndex: sdpMLineIndex,
		},
	}
}

// NewTriggerCapture creates a capture trigger message
func NewTriggerCapture() *Message {
	return &Message{Type: TypeTriggerCapture}
}

// Decode decodes a raw frame into a Message. Unknown type tags and
// malformed frames are rejected, never partially processed.
func Decode(data []byte) (*Message, error) {
	var probe struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch probe.Type {
	case TypeOffer:
		var p Offer
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return &Message{Type: TypeOffer, Offer: &p}, nil

	case TypeAnswer:
		var p Answer
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return &Message{Type: TypeAnswer, Answer: &p}, nil

	case TypeCandidate:
		var p Candidate
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return &Message{Type: TypeCandidate, Candidate: &p}, nil

	case TypeImage:
		var p Image
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return &Message{Type: TypeImage, Image: &p}, nil

	case TypeTriggerCapture:
		return &Message{Type: TypeTriggerCapture}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, probe.Type)
	}
}

// Encode encodes the message into its canonical wire form
func (m *Message) Encode() ([]byte, error) {
	switch m.Type {
	case TypeOffer:
		if m.Offer == nil {
			return nil, fmt.Errorf("%w: offer payload missing", ErrMalformed)
		}
		return json.Marshal(struct {
			Type Type `json:"type"`
			*Offer
		}{m.Type, m.Offer})

	case TypeAnswer:
		if m.Answer == nil {
			return nil, fmt.Errorf("%w: answer payload missing", ErrMalformed)
		}
		return json.Marshal(struct {
			Type Type `json:"type"`
			*Answer
		}{m.Type, m.Answer})

	case TypeCandidate:
		if m.Candidate == nil {
			return nil, fmt.Errorf("%w: candidate payload missing", ErrMalformed)
		}
		return json.Marshal(struct {
			Type Type `json:"type"`
			*Candidate
		}{m.Type, m.Candidate})

	case TypeImage:
		if m.Image == nil {
			return nil, fmt.Errorf("%w: image payload missing", ErrMalformed)
		}
		return json.Marshal(struct {
			Type Type `json:"type"`
			*Image
		}{m.Type, m.Image})

	case TypeTriggerCapture:
		return json.Marshal(struct {
			Type Type `json:"type"`
		}{m.Type})

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
}
