package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"

	"github.com/roverlink/signalhub/internal/logging"
	"github.com/roverlink/signalhub/internal/protocol"
)

var (
	addr    = flag.String("addr", "localhost:3030", "signaling server address")
	token   = flag.String("token", "", "bearer token for authenticated deployments")
	videoIn = flag.String("video", "video.ivf", "IVF file to stream")
)

func main() {
	flag.Parse()

	logger := logging.New(logging.Config{Level: "info", Format: "text"})

	if err := run(logger); err != nil {
		logger.Error("streamer failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/signaling"}
	if *token != "" {
		u.RawQuery = "access_token=" + url.QueryEscape(*token)
	}

	logger.Info("connecting to signaling server", "url", u.Host)
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial signaling server: %w", err)
	}
	defer conn.Close()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	})
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}
	defer pc.Close()

	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "signalhub-streamer",
	)
	if err != nil {
		return fmt.Errorf("new video track: %w", err)
	}

	rtpSender, err := pc.AddTrack(videoTrack)
	if err != nil {
		return fmt.Errorf("add track: %w", err)
	}

	// Drain RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := rtpSender.Read(buf); err != nil {
				return
			}
		}
	}()

	var writeMu sync.Mutex
	sendMessage := func(msg *protocol.Message) error {
		payload, err := msg.Encode()
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, payload)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		if err := sendMessage(protocol.NewCandidate(init.Candidate, init.SDPMid, init.SDPMLineIndex)); err != nil {
			logger.Warn("failed to send candidate", "error", err)
		}
	})

	connected := make(chan struct{})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Info("connection state changed", "state", state.String())
		if state == webrtc.PeerConnectionStateConnected {
			select {
			case <-connected:
			default:
				close(connected)
			}
		}
	})

	go readSignaling(conn, pc, sendMessage, logger)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	if err := sendMessage(protocol.NewOffer(offer.SDP)); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}

	select {
	case <-connected:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return errors.New("timed out waiting for peer connection")
	}

	logger.Info("streaming video", "file", *videoIn)
	return streamVideo(ctx, *videoIn, videoTrack)
}

// readSignaling applies answers and candidates pushed by the server.
// Frames the client does not understand (queue notices and such) are
// skipped.
func readSignaling(conn *websocket.Conn, pc *webrtc.PeerConnection, send func(*protocol.Message) error, logger *logging.Logger) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			logger.Info("signaling connection closed", "error", err)
			return
		}

		msg, err := protocol.Decode(raw)
		if err != nil {
			logger.Debug("skipping frame", "error", err)
			continue
		}

		switch msg.Type {
		case protocol.TypeAnswer:
			answer := webrtc.SessionDescription{
				Type: webrtc.SDPTypeAnswer,
				SDP:  msg.Answer.SDP,
			}
			if err := pc.SetRemoteDescription(answer); err != nil {
				logger.Error("failed to apply answer", "error", err)
			}

		case protocol.TypeCandidate:
			init := webrtc.ICECandidateInit{
				Candidate:     msg.Candidate.Candidate,
				SDPMid:        msg.Candidate.SDPMid,
				SDPMLineIndex: msg.Candidate.SDPMLineIndex,
			}
			if err := pc.AddICECandidate(init); err != nil {
				logger.Error("failed to add candidate", "error", err)
			}

		case protocol.TypeOffer:
			// A renegotiation offer from the server side.
			offer := webrtc.SessionDescription{
				Type: webrtc.SDPTypeOffer,
				SDP:  msg.Offer.SDP,
			}
			if err := pc.SetRemoteDescription(offer); err != nil {
				logger.Error("failed to apply offer", "error", err)
				continue
			}
			answer, err := pc.CreateAnswer(nil)
			if err != nil {
				logger.Error("failed to create answer", "error", err)
				continue
			}
			if err := pc.SetLocalDescription(answer); err != nil {
				logger.Error("failed to set local description", "error", err)
				continue
			}
			if err := send(protocol.NewAnswer(answer.SDP)); err != nil {
				logger.Error("failed to send answer", "error", err)
			}
		}
	}
}

// streamVideo writes IVF frames to the track at the file's native rate
func streamVideo(ctx context.Context, path string, track *webrtc.TrackLocalStaticSample) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open video file: %w", err)
	}
	defer file.Close()

	ivf, header, err := ivfreader.NewWith(file)
	if err != nil {
		return fmt.Errorf("read ivf header: %w", err)
	}

	frameDuration := time.Millisecond *
		time.Duration(1000*header.TimebaseNumerator/header.TimebaseDenominator)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		frame, _, err := ivf.ParseNextFrame()
		if err != nil {
			return fmt.Errorf("parse frame: %w", err)
		}

		if err := track.WriteSample(media.Sample{
			Data:     frame,
			Duration: frameDuration,
		}); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
