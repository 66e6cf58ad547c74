package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/roverlink/signalhub/internal/auth"
	"github.com/roverlink/signalhub/internal/eventbus"
	"github.com/roverlink/signalhub/internal/logging"
	"github.com/roverlink/signalhub/internal/peers"
	"github.com/roverlink/signalhub/internal/queue"
	"github.com/roverlink/signalhub/internal/relay"
)

// ServerOptions represents websocket server options
type ServerOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
	ClientOptions   ClientOptions

	Registry *peers.Registry
	Relay    *relay.Relay
	Queue    *queue.Queue
	Bus      eventbus.Bus
	Logger   *logging.Logger

	// OnDisconnect runs after a connection's cleanup, e.g. to tear down
	// its negotiation engine session.
	OnDisconnect func(connID string)
}

// ServerOption is a function that configures ServerOptions
type ServerOption func(*ServerOptions)

// WithRegistry sets the peer registry
func WithRegistry(r *peers.Registry) ServerOption {
	return func(o *ServerOptions) { o.Registry = r }
}

// WithRelay sets the message relay
func WithRelay(r *relay.Relay) ServerOption {
	return func(o *ServerOptions) { o.Relay = r }
}

// WithQueue enables the admission queue for new connections
func WithQueue(q *queue.Queue) ServerOption {
	return func(o *ServerOptions) { o.Queue = q }
}

// WithBus sets the event bus used to push queue state to clients
func WithBus(b eventbus.Bus) ServerOption {
	return func(o *ServerOptions) { o.Bus = b }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) ServerOption {
	return func(o *ServerOptions) { o.Logger = l }
}

// WithCheckOrigin sets the upgrade origin check
func WithCheckOrigin(f func(r *http.Request) bool) ServerOption {
	return func(o *ServerOptions) { o.CheckOrigin = f }
}

// WithClientOptions sets per-connection options
func WithClientOptions(opts ClientOptions) ServerOption {
	return func(o *ServerOptions) { o.ClientOptions = opts }
}

// WithOnDisconnect sets the post-cleanup hook
func WithOnDisconnect(f func(connID string)) ServerOption {
	return func(o *ServerOptions) { o.OnDisconnect = f }
}

// Server upgrades HTTP requests to persistent signaling connections and
// owns each connection's lifecycle: registration, queue admission, frame
// dispatch and cleanup on every exit path.
type Server struct {
	upgrader websocket.Upgrader
	options  ServerOptions
	logger   *logging.Logger
}

// NewServer creates a new websocket server
func NewServer(opts ...ServerOption) *Server {
	options := ServerOptions{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		ClientOptions: DefaultClientOptions(),
	}

	for _, opt := range opts {
		opt(&options)
	}

	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  options.ReadBufferSize,
			WriteBufferSize: options.WriteBufferSize,
			CheckOrigin:     options.CheckOrigin,
		},
		options: options,
		logger:  options.Logger,
	}
}

// queueStateNotice is the outbound queue update pushed to clients
type queueStateNotice struct {
	Type                 string  `json:"type"`
	Position             int     `json:"position"`
	EstimatedWaitSeconds float64 `json:"estimated_wait_seconds"`
	Active               string  `json:"active,omitempty"`
	Waiting              int     `json:"waiting"`
}

// errorNotice is the outbound error envelope
type errorNotice struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func newQueueStateNotice(s queue.State) queueStateNotice {
	return queueStateNotice{
		Type:                 "queue_state",
		Position:             s.Position,
		EstimatedWaitSeconds: s.EstimatedWait.Seconds(),
		Active:               s.Active,
		Waiting:              s.Waiting,
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade error",
			"error", err,
			"remote_addr", r.RemoteAddr,
		)
		return
	}

	connID := uuid.NewString()

	// Queue identity comes from authentication when present; anonymous
	// deployments fall back to the connection id.
	userID := auth.UserID(r.Context())
	if userID == "" {
		userID = connID
	}

	client := NewClient(connID, conn, s.logger, s.options.ClientOptions)

	client.Receive(func(ctx context.Context, message []byte) {
		if s.options.Queue != nil {
			// Any frame from the active user counts as activity.
			if err := s.options.Queue.Touch(userID); err != nil &&
				!errors.Is(err, queue.ErrNoActiveSession) {
				s.logger.Warn("activity refresh failed", "user_id", userID, "error", err)
			}
		}
		s.options.Relay.OnFrame(ctx, connID, message)
	})

	if err := s.options.Registry.Register(client); err != nil {
		// Duplicate uuid is an invariant violation, not a client fault.
		s.logger.Error("failed to register peer", "peer_id", connID, "error", err)
		client.Close()
		return
	}

	joined := false
	defer func() {
		// Cleanup must run on every exit path, clean or not.
		s.options.Registry.Unregister(connID)
		if joined {
			s.options.Queue.Leave(userID)
		}
		if s.options.OnDisconnect != nil {
			s.options.OnDisconnect(connID)
		}

		if s.options.Bus != nil {
			s.options.Bus.Publish(eventbus.NewEvent(
				eventbus.EventClientDisconnected, "websocket-server", connID))
		}
		s.logger.Info("client disconnected", "peer_id", connID)
	}()

	client.Start()

	if s.options.Queue != nil {
		state, err := s.options.Queue.Join(userID)
		if err != nil {
			s.logger.Warn("queue admission rejected",
				"peer_id", connID,
				"user_id", userID,
				"error", err,
			)
			// Best-effort rejection notice before the close.
			s.sendNotice(r.Context(), client, errorNotice{Type: "error", Error: err.Error()})
			client.Close()
			client.Wait()
			return
		}
		joined = true

		s.sendNotice(r.Context(), client, newQueueStateNotice(state))
	}

	if s.options.Bus != nil {
		s.options.Bus.Publish(eventbus.NewEvent(
			eventbus.EventClientConnected, "websocket-server", connID))
	}

	s.logger.Info("client connected",
		"peer_id", connID,
		"user_id", userID,
		"remote_addr", r.RemoteAddr,
	)

	// Hold the handler until the connection dies; gorilla handlers own
	// the connection for its whole lifetime.
	<-client.Context().Done()
	client.Wait()
}

// sendNotice marshals and queues an outbound notice, logging failures
func (s *Server) sendNotice(ctx context.Context, client *Client, notice any) {
	payload, err := json.Marshal(notice)
	if err != nil {
		s.logger.Error("failed to marshal notice", "error", err)
		return
	}
	if err := client.Send(ctx, payload); err != nil {
		s.logger.Debug("failed to queue notice", "peer_id", client.ID(), "error", err)
	}
}

// Run pushes queue state updates from the bus to every connected client
// until the context is cancelled. Waiting clients learn their position
// from these pushes.
func (s *Server) Run(ctx context.Context) {
	if s.options.Bus == nil {
		return
	}

	events, cancel := s.options.Bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != eventbus.EventQueueState {
				continue
			}
			state, ok := ev.Data.(queue.State)
			if !ok {
				continue
			}

			payload, err := json.Marshal(newQueueStateNotice(state))
			if err != nil {
				s.logger.Error("failed to marshal queue state", "error", err)
				continue
			}
			s.options.Registry.BroadcastExcept(ctx, "", payload)
		}
	}
}
