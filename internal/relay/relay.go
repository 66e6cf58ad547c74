package relay

import (
	"context"
	"errors"

	"github.com/roverlink/signalhub/internal/capture"
	"github.com/roverlink/signalhub/internal/config"
	"github.com/roverlink/signalhub/internal/logging"
	"github.com/roverlink/signalhub/internal/protocol"
)

// ErrNoCounterparty is returned when pairwise routing cannot resolve a
// destination for the sender.
var ErrNoCounterparty = errors.New("no counterparty for sender")

// PeerSender is the registry surface the relay routes through
type PeerSender interface {
	SendTo(ctx context.Context, id string, payload []byte) error
	BroadcastExcept(ctx context.Context, senderID string, payload []byte)
}

// PairFunc resolves the counterparty of a sender in pairwise mode
type PairFunc func(senderID string) (string, bool)

// Negotiator is the local negotiation engine used in engine mode. The
// relay hands it opaque session descriptions and candidates; it never
// looks inside them.
type Negotiator interface {
	// HandleOffer consumes a remote offer and returns the local answer
	HandleOffer(ctx context.Context, peerID, sdp string) (string, error)

	// HandleAnswer consumes a remote answer
	HandleAnswer(ctx context.Context, peerID, sdp string) error

	// AddCandidate consumes a remote connectivity candidate
	AddCandidate(ctx context.Context, peerID string, c protocol.Candidate) error
}

// TriggerHook is invoked when a client sends a capture trigger. Control
// messages are handled locally, never relayed.
type TriggerHook func(ctx context.Context, senderID string)

// Options configures a Relay
type Options struct {
	Mode    config.RelayMode
	Peers   PeerSender
	Pairing PairFunc
	Sink    capture.Sink
	Engine  Negotiator
	Trigger TriggerHook
	Logger  *logging.Logger
}

// Relay decodes inbound frames and routes signaling messages between
// peers according to the deployment mode. It never mutates message
// payloads, only the delivery target.
type Relay struct {
	mode    config.RelayMode
	peers   PeerSender
	pairing PairFunc
	sink    capture.Sink
	engine  Negotiator
	trigger TriggerHook
	logger  *logging.Logger
}

// New creates a relay
func New(opts Options) *Relay {
	return &Relay{
		mode:    opts.Mode,
		peers:   opts.Peers,
		pairing: opts.Pairing,
		sink:    opts.Sink,
		engine:  opts.Engine,
		trigger: opts.Trigger,
		logger:  opts.Logger,
	}
}

// OnFrame processes one inbound frame from a connection. Decode and
// routing failures are logged and dropped; the sender is not notified
// and its connection stays open. Only transport errors, handled by the
// caller's read loop, terminate a connection.
func (r *Relay) OnFrame(ctx context.Context, senderID string, raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		r.logger.Warn("dropping undecodable frame",
			"sender_id", senderID,
			"error", err,
			"size", len(raw),
		)
		return
	}

	switch msg.Type {
	case protocol.TypeImage:
		r.handleImage(senderID, msg)

	case protocol.TypeTriggerCapture:
		if r.trigger != nil {
			r.trigger(ctx, senderID)
			return
		}
		r.logger.Debug("capture trigger ignored, no hook registered", "sender_id", senderID)

	default:
		r.route(ctx, senderID, msg)
	}
}

// TriggerCapture asks one connected client to capture a still frame.
// This is the operator-side counterpart of the image extension kind.
func (r *Relay) TriggerCapture(ctx context.Context, targetID string) error {
	payload, err := protocol.NewTriggerCapture().Encode()
	if err != nil {
		return err
	}
	return r.peers.SendTo(ctx, targetID, payload)
}

func (r *Relay) handleImage(senderID string, msg *protocol.Message) {
	if r.sink == nil {
		r.logger.Debug("image frame ignored, no sink configured", "sender_id", senderID)
		return
	}
	if err := r.sink.Store(senderID, msg.Image.Data); err != nil {
		r.logger.Error("failed to store image frame", "sender_id", senderID, "error", err)
	}
}

// route forwards offer, answer and candidate messages per the deployment
// mode. The payload is re-encoded canonically and otherwise untouched.
func (r *Relay) route(ctx context.Context, senderID string, msg *protocol.Message) {
	if r.mode == config.RelayModeEngine {
		r.negotiate(ctx, senderID, msg)
		return
	}

	payload, err := msg.Encode()
	if err != nil {
		r.logger.Error("failed to encode message for relay", "sender_id", senderID, "error", err)
		return
	}

	switch r.mode {
	case config.RelayModePairwise:
		targetID, ok := r.resolveCounterparty(senderID)
		if !ok {
			r.logger.Warn("dropping message",
				"sender_id", senderID,
				"message_type", msg.Type,
				"error", ErrNoCounterparty,
			)
			return
		}
		if err := r.peers.SendTo(ctx, targetID, payload); err != nil {
			r.logger.Warn("relay delivery failed",
				"sender_id", senderID,
				"target_id", targetID,
				"message_type", msg.Type,
				"error", err,
			)
		}

	default:
		r.peers.BroadcastExcept(ctx, senderID, payload)
	}
}

func (r *Relay) resolveCounterparty(senderID string) (string, bool) {
	if r.pairing == nil {
		return "", false
	}
	return r.pairing(senderID)
}

// negotiate feeds a message to the local engine instead of relaying it.
// The answer to an offer goes back to the offering connection.
func (r *Relay) negotiate(ctx context.Context, senderID string, msg *protocol.Message) {
	if r.engine == nil {
		r.logger.Error("engine mode without negotiation engine", "sender_id", senderID)
		return
	}

	switch msg.Type {
	case protocol.TypeOffer:
		answerSDP, err := r.engine.HandleOffer(ctx, senderID, msg.Offer.SDP)
		if err != nil {
			r.logger.Error("failed to answer offer", "sender_id", senderID, "error", err)
			return
		}

		payload, err := protocol.NewAnswer(answerSDP).Encode()
		if err != nil {
			r.logger.Error("failed to encode answer", "sender_id", senderID, "error", err)
			return
		}
		if err := r.peers.SendTo(ctx, senderID, payload); err != nil {
			r.logger.Warn("failed to deliver answer", "sender_id", senderID, "error", err)
		}

	case protocol.TypeAnswer:
		if err := r.engine.HandleAnswer(ctx, senderID, msg.Answer.SDP); err != nil {
			r.logger.Error("failed to apply answer", "sender_id", senderID, "error", err)
		}

	case protocol.TypeCandidate:
		if err := r.engine.AddCandidate(ctx, senderID, *msg.Candidate); err != nil {
			r.logger.Error("failed to add candidate", "sender_id", senderID, "error", err)
		}
	}
}
