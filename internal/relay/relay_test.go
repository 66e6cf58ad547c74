package relay

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/roverlink/signalhub/internal/config"
	"github.com/roverlink/signalhub/internal/logging"
	"github.com/roverlink/signalhub/internal/protocol"
)

type sentMessage struct {
	targetID string
	payload  []byte
}

type fakePeers struct {
	mu        sync.Mutex
	sent      []sentMessage
	broadcast []sentMessage // targetID holds the excluded sender
	sendErr   error
}

func (f *fakePeers) SendTo(ctx context.Context, id string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMessage{targetID: id, payload: payload})
	return nil
}

func (f *fakePeers) BroadcastExcept(ctx context.Context, senderID string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcast = append(f.broadcast, sentMessage{targetID: senderID, payload: payload})
}

type fakeSink struct {
	mu     sync.Mutex
	stored []string
	err    error
}

func (f *fakeSink) Store(senderID, data string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.stored = append(f.stored, data)
	return nil
}

type fakeEngine struct {
	offers     []string
	answers    []string
	candidates []protocol.Candidate
	answerSDP  string
	offerErr   error
}

func (f *fakeEngine) HandleOffer(ctx context.Context, peerID, sdp string) (string, error) {
	if f.offerErr != nil {
		return "", f.offerErr
	}
	f.offers = append(f.offers, sdp)
	return f.answerSDP, nil
}

func (f *fakeEngine) HandleAnswer(ctx context.Context, peerID, sdp string) error {
	f.answers = append(f.answers, sdp)
	return nil
}

func (f *fakeEngine) AddCandidate(ctx context.Context, peerID string, c protocol.Candidate) error {
	f.candidates = append(f.candidates, c)
	return nil
}

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: "error"})
}

func TestOnFrame_BroadcastMode(t *testing.T) {
	peers := &fakePeers{}
	r := New(Options{
		Mode:   config.RelayModeBroadcast,
		Peers:  peers,
		Logger: testLogger(),
	})

	raw, _ := protocol.NewOffer("v=0").Encode()
	r.OnFrame(context.Background(), "sender", raw)

	if len(peers.broadcast) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(peers.broadcast))
	}
	if peers.broadcast[0].targetID != "sender" {
		t.Fatalf("excluded sender = %q, want sender", peers.broadcast[0].targetID)
	}

	// Relay must not mutate the payload.
	msg, err := protocol.Decode(peers.broadcast[0].payload)
	if err != nil {
		t.Fatalf("Decode relayed payload: %v", err)
	}
	if msg.Type != protocol.TypeOffer || msg.Offer.SDP != "v=0" {
		t.Fatalf("relayed message = %+v", msg)
	}
}

func TestOnFrame_PairwiseMode(t *testing.T) {
	peers := &fakePeers{}
	r := New(Options{
		Mode:  config.RelayModePairwise,
		Peers: peers,
		Pairing: func(senderID string) (string, bool) {
			if senderID == "a" {
				return "b", true
			}
			return "", false
		},
		Logger: testLogger(),
	})

	raw, _ := protocol.NewAnswer("v=0 answer").Encode()
	r.OnFrame(context.Background(), "a", raw)

	if len(peers.sent) != 1 || peers.sent[0].targetID != "b" {
		t.Fatalf("sent = %+v, want one message to b", peers.sent)
	}

	// No counterparty: dropped, no broadcast fallback.
	r.OnFrame(context.Background(), "b", raw)
	if len(peers.sent) != 1 || len(peers.broadcast) != 0 {
		t.Fatalf("message without counterparty was not dropped: sent=%d broadcast=%d",
			len(peers.sent), len(peers.broadcast))
	}
}

func TestOnFrame_MalformedFrameIsDropped(t *testing.T) {
	peers := &fakePeers{}
	r := New(Options{
		Mode:   config.RelayModeBroadcast,
		Peers:  peers,
		Logger: testLogger(),
	})

	r.OnFrame(context.Background(), "sender", []byte("not json"))
	r.OnFrame(context.Background(), "sender", []byte(`{"type":"bogus"}`))

	if len(peers.sent) != 0 || len(peers.broadcast) != 0 {
		t.Fatal("malformed frame was routed")
	}

	// The connection stays usable: a valid frame afterwards still routes.
	raw, _ := protocol.NewOffer("v=0").Encode()
	r.OnFrame(context.Background(), "sender", raw)
	if len(peers.broadcast) != 1 {
		t.Fatalf("valid frame after malformed one not routed: broadcasts = %d", len(peers.broadcast))
	}
}

func TestOnFrame_ImageGoesToSinkNotPeers(t *testing.T) {
	peers := &fakePeers{}
	sink := &fakeSink{}
	r := New(Options{
		Mode:   config.RelayModeBroadcast,
		Peers:  peers,
		Sink:   sink,
		Logger: testLogger(),
	})

	raw, _ := (&protocol.Message{
		Type:  protocol.TypeImage,
		Image: &protocol.Image{Data: "data:image/png;base64,aGk="},
	}).Encode()
	r.OnFrame(context.Background(), "robot", raw)

	if len(sink.stored) != 1 {
		t.Fatalf("sink stored = %d, want 1", len(sink.stored))
	}
	if len(peers.broadcast) != 0 {
		t.Fatal("image frame was relayed to peers")
	}

	// Sink failure is logged and dropped, never relayed either.
	sink.err = errors.New("disk full")
	r.OnFrame(context.Background(), "robot", raw)
	if len(peers.broadcast) != 0 {
		t.Fatal("failed image frame was relayed to peers")
	}
}

func TestOnFrame_TriggerInvokesHookOnly(t *testing.T) {
	peers := &fakePeers{}
	var triggeredBy string
	r := New(Options{
		Mode:  config.RelayModeBroadcast,
		Peers: peers,
		Trigger: func(ctx context.Context, senderID string) {
			triggeredBy = senderID
		},
		Logger: testLogger(),
	})

	raw, _ := protocol.NewTriggerCapture().Encode()
	r.OnFrame(context.Background(), "operator", raw)

	if triggeredBy != "operator" {
		t.Fatalf("trigger hook sender = %q, want operator", triggeredBy)
	}
	if len(peers.broadcast) != 0 || len(peers.sent) != 0 {
		t.Fatal("control message was relayed")
	}
}

func TestOnFrame_EngineModeAnswersOffer(t *testing.T) {
	peers := &fakePeers{}
	engine := &fakeEngine{answerSDP: "v=0 local answer"}
	r := New(Options{
		Mode:   config.RelayModeEngine,
		Peers:  peers,
		Engine: engine,
		Logger: testLogger(),
	})

	raw, _ := protocol.NewOffer("v=0 remote offer").Encode()
	r.OnFrame(context.Background(), "robot", raw)

	if len(engine.offers) != 1 || engine.offers[0] != "v=0 remote offer" {
		t.Fatalf("engine offers = %v", engine.offers)
	}
	if len(peers.sent) != 1 || peers.sent[0].targetID != "robot" {
		t.Fatalf("answer delivery = %+v, want one message back to robot", peers.sent)
	}

	msg, err := protocol.Decode(peers.sent[0].payload)
	if err != nil {
		t.Fatalf("Decode answer: %v", err)
	}
	if msg.Type != protocol.TypeAnswer || msg.Answer.SDP != "v=0 local answer" {
		t.Fatalf("answer message = %+v", msg)
	}
}

func TestOnFrame_EngineModeConsumesCandidates(t *testing.T) {
	peers := &fakePeers{}
	engine := &fakeEngine{}
	r := New(Options{
		Mode:   config.RelayModeEngine,
		Peers:  peers,
		Engine: engine,
		Logger: testLogger(),
	})

	mid := "0"
	idx := uint16(0)
	raw, _ := protocol.NewCandidate("candidate:1", &mid, &idx).Encode()
	r.OnFrame(context.Background(), "robot", raw)

	if len(engine.candidates) != 1 || engine.candidates[0].Candidate != "candidate:1" {
		t.Fatalf("engine candidates = %+v", engine.candidates)
	}
	if len(peers.broadcast) != 0 || len(peers.sent) != 0 {
		t.Fatal("candidate was relayed in engine mode")
	}
}

func TestTriggerCapture_SendsControlMessage(t *testing.T) {
	peers := &fakePeers{}
	r := New(Options{
		Mode:   config.RelayModeBroadcast,
		Peers:  peers,
		Logger: testLogger(),
	})

	if err := r.TriggerCapture(context.Background(), "robot"); err != nil {
		t.Fatalf("TriggerCapture: %v", err)
	}

	if len(peers.sent) != 1 || peers.sent[0].targetID != "robot" {
		t.Fatalf("sent = %+v", peers.sent)
	}
	msg, err := protocol.Decode(peers.sent[0].payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Type != protocol.TypeTriggerCapture {
		t.Fatalf("message type = %s, want %s", msg.Type, protocol.TypeTriggerCapture)
	}
}
