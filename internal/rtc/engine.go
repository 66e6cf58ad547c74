package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/roverlink/signalhub/internal/config"
	"github.com/roverlink/signalhub/internal/logging"
	"github.com/roverlink/signalhub/internal/protocol"
)

// Pipeline is notified when a peer session reaches the connected state.
// The media side (encoders, track sampling) lives behind it; the engine
// never manages codecs or bitrates.
type Pipeline interface {
	SessionConnected(peerID string)
	SessionClosed(peerID string)
}

// CandidateFunc pushes a locally gathered candidate back to the client
type CandidateFunc func(peerID string, c protocol.Candidate)

// Options configures an Engine
type Options struct {
	ICEServers  []config.ICEServer
	Logger      *logging.Logger
	Pipeline    Pipeline
	OnCandidate CandidateFunc
}

// Engine terminates peer sessions on the server: it answers offers,
// consumes remote candidates and surfaces local ones. Session
// descriptions and candidates are treated as opaque values.
type Engine struct {
	api         *webrtc.API
	rtcConfig   webrtc.Configuration
	logger      *logging.Logger
	pipeline    Pipeline
	onCandidate CandidateFunc

	mu    sync.Mutex
	conns map[string]*peerConn
}

// peerConn is one client's server-side peer connection
type peerConn struct {
	pc *webrtc.PeerConnection

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

// NewEngine creates an engine. Construction failure is a startup-fatal
// condition for deployments running in engine mode.
func NewEngine(opts Options) (*Engine, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	iceServers := make([]webrtc.ICEServer, 0, len(opts.ICEServers))
	for _, s := range opts.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		iceServers = append(iceServers, server)
	}

	return &Engine{
		api:         webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine)),
		rtcConfig:   webrtc.Configuration{ICEServers: iceServers},
		logger:      opts.Logger,
		pipeline:    opts.Pipeline,
		onCandidate: opts.OnCandidate,
		conns:       make(map[string]*peerConn),
	}, nil
}

// HandleOffer applies a remote offer for a peer and returns the local
// answer. A fresh peer connection is created on first contact.
func (e *Engine) HandleOffer(ctx context.Context, peerID, sdp string) (string, error) {
	conn, err := e.connFor(peerID)
	if err != nil {
		return "", err
	}

	offer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}
	if err := conn.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}

	answer, err := conn.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := conn.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	if err := conn.flushPending(); err != nil {
		e.logger.Warn("failed to apply buffered candidates", "peer_id", peerID, "error", err)
	}

	return answer.SDP, nil
}

// HandleAnswer applies a remote answer for a peer
func (e *Engine) HandleAnswer(ctx context.Context, peerID, sdp string) error {
	conn, ok := e.lookup(peerID)
	if !ok {
		return fmt.Errorf("no session for peer %s", peerID)
	}

	answer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}
	if err := conn.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	if err := conn.flushPending(); err != nil {
		e.logger.Warn("failed to apply buffered candidates", "peer_id", peerID, "error", err)
	}
	return nil
}

// AddCandidate applies a remote candidate for a peer. Candidates that
// arrive before the remote description are buffered.
func (e *Engine) AddCandidate(ctx context.Context, peerID string, c protocol.Candidate) error {
	conn, err := e.connFor(peerID)
	if err != nil {
		return err
	}

	init := webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()

	if !conn.remoteSet {
		conn.pending = append(conn.pending, init)
		return nil
	}
	if err := conn.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

// ClosePeer tears down the session for one peer, if any
func (e *Engine) ClosePeer(peerID string) {
	e.mu.Lock()
	conn, ok := e.conns[peerID]
	if ok {
		delete(e.conns, peerID)
	}
	e.mu.Unlock()

	if !ok {
		return
	}

	if err := conn.pc.Close(); err != nil {
		e.logger.Error("failed to close peer connection", "peer_id", peerID, "error", err)
	}
	if e.pipeline != nil {
		e.pipeline.SessionClosed(peerID)
	}
}

// Close tears down every session
func (e *Engine) Close() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.conns))
	for id := range e.conns {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.ClosePeer(id)
	}
}

func (e *Engine) lookup(peerID string) (*peerConn, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	conn, ok := e.conns[peerID]
	return conn, ok
}

// connFor returns the peer's connection, creating it on first use
func (e *Engine) connFor(peerID string) (*peerConn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if conn, ok := e.conns[peerID]; ok {
		return conn, nil
	}

	pc, err := e.api.NewPeerConnection(e.rtcConfig)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	conn := &peerConn{pc: pc}
	e.conns[peerID] = conn

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || e.onCandidate == nil {
			return
		}
		init := c.ToJSON()
		e.onCandidate(peerID, protocol.Candidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		e.logger.Info("remote track received",
			"peer_id", peerID,
			"kind", track.Kind().String(),
			"codec", track.Codec().MimeType,
		)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.logger.Info("peer connection state changed",
			"peer_id", peerID,
			"state", state.String(),
		)

		switch state {
		case webrtc.PeerConnectionStateConnected:
			if e.pipeline != nil {
				e.pipeline.SessionConnected(peerID)
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			// Transport-level failure is local to this peer.
		}
	})

	return conn, nil
}

// flushPending applies candidates buffered before the remote description
// arrived. Callers must not hold conn.mu.
func (c *peerConn) flushPending() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.remoteSet = true

	var firstErr error
	for _, init := range c.pending {
		if err := c.pc.AddICECandidate(init); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.pending = nil
	return firstErr
}
