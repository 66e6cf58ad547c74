package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/roverlink/signalhub/internal/eventbus"
	"github.com/roverlink/signalhub/internal/logging"
)

var (
	// ErrAlreadyQueued is returned when a user joins while already
	// waiting or holding the active session.
	ErrAlreadyQueued = errors.New("user already queued")

	// ErrNoActiveSession is returned when an activity refresh arrives
	// from a user that does not hold the active session.
	ErrNoActiveSession = errors.New("no active session for user")
)

// State is a snapshot of the queue pushed to subscribers on every
// mutation. Position counts the users ahead of the newest participant;
// EstimatedWait is a heuristic, not a guarantee.
type State struct {
	Position      int           `json:"position"`
	EstimatedWait time.Duration `json:"estimated_wait"`
	Active        string        `json:"active,omitempty"`
	Waiting       int           `json:"waiting"`
}

// Session is the single active session record
type Session struct {
	UserID       string
	StartTime    time.Time
	LastActivity time.Time
}

// Estimator converts a waiting position into an estimated wait
type Estimator func(position int) time.Duration

// ConstantSlotEstimator assumes each slot ahead takes a fixed duration
func ConstantSlotEstimator(slot time.Duration) Estimator {
	return func(position int) time.Duration {
		return time.Duration(position) * slot
	}
}

// Options configures a Queue
type Options struct {
	MaxSessionDuration time.Duration
	MaxIdleTime        time.Duration
	Estimator          Estimator
	Bus                eventbus.Bus
	Logger             *logging.Logger
	Now                func() time.Time
}

// Queue is a single-active-session admission queue. Users wait in FIFO
// order; at most one holds the active slot at any instant. Stale active
// sessions are reclaimed by Reap.
type Queue struct {
	mu      sync.Mutex
	waiting []string
	active  *Session

	maxSessionDuration time.Duration
	maxIdleTime        time.Duration
	estimate           Estimator
	bus                eventbus.Bus
	logger             *logging.Logger
	now                func() time.Time
}

// New creates a new admission queue
func New(opts Options) *Queue {
	if opts.Estimator == nil {
		opts.Estimator = ConstantSlotEstimator(10 * time.Minute)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.New(logging.Config{Level: "error"})
	}

	return &Queue{
		maxSessionDuration: opts.MaxSessionDuration,
		maxIdleTime:        opts.MaxIdleTime,
		estimate:           opts.Estimator,
		bus:                opts.Bus,
		logger:             opts.Logger,
		now:                opts.Now,
	}
}

// Join appends a user to the queue and returns the caller's own state.
// An empty queue promotes the caller immediately. Joining twice, or
// while holding the active session, fails with ErrAlreadyQueued.
func (q *Queue) Join(userID string) (State, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.isQueuedLocked(userID) {
		return State{}, ErrAlreadyQueued
	}

	q.waiting = append(q.waiting, userID)
	q.logger.Info("user joined queue", "user_id", userID, "waiting", len(q.waiting))

	q.promoteLocked()
	q.publishLocked()

	return q.stateForLocked(userID), nil
}

// Leave removes a user from the queue. Leaving while active completes
// the session and promotes the next waiter. Unknown users are a no-op;
// disconnect cleanup races with explicit leaves.
func (q *Queue) Leave(userID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, id := range q.waiting {
		if id == userID {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			q.logger.Info("user left queue", "user_id", userID)
			break
		}
	}

	if q.active != nil && q.active.UserID == userID {
		q.logger.Info("session completed", "user_id", userID)
		q.endSessionLocked(eventbus.EventSessionEnded)
	}

	q.publishLocked()
}

// Touch refreshes the active session's idle timer. Only the user holding
// the active session may touch it.
func (q *Queue) Touch(userID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active == nil || q.active.UserID != userID {
		return ErrNoActiveSession
	}

	q.active.LastActivity = q.now()
	return nil
}

// Reap reclaims the active session when it has exceeded the session
// duration or idle limit, then promotes the next waiter. Calling it with
// nothing stale is a no-op.
func (q *Queue) Reap() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active == nil {
		return
	}

	now := q.now()
	expired := now.Sub(q.active.StartTime) > q.maxSessionDuration
	idle := now.Sub(q.active.LastActivity) > q.maxIdleTime
	if !expired && !idle {
		return
	}

	q.logger.Warn("reclaiming stale session",
		"user_id", q.active.UserID,
		"expired", expired,
		"idle", idle,
	)

	q.endSessionLocked(eventbus.EventSessionEnded)
	q.publishLocked()
}

// Run drives the reclamation timer until the context is cancelled. It is
// decoupled from any connection's lifecycle, so a stalled client still
// frees its slot within one cycle plus the idle threshold.
func (q *Queue) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Reap()
		}
	}
}

// ActiveUser returns the user holding the active session, if any
func (q *Queue) ActiveUser() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active == nil {
		return "", false
	}
	return q.active.UserID, true
}

// Snapshot returns the current queue state without mutating anything
func (q *Queue) Snapshot() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Queue) isQueuedLocked(userID string) bool {
	for _, id := range q.waiting {
		if id == userID {
			return true
		}
	}
	return q.active != nil && q.active.UserID == userID
}

// endSessionLocked clears the active session and promotes the next waiter
func (q *Queue) endSessionLocked(event eventbus.EventType) {
	ended := q.active
	q.active = nil

	if q.bus != nil && ended != nil {
		q.bus.Publish(eventbus.NewEvent(event, "queue", ended.UserID))
	}

	q.promoteLocked()
}

// promoteLocked pops the head of the waiting list into the active slot
// when the slot is free
func (q *Queue) promoteLocked() {
	if q.active != nil || len(q.waiting) == 0 {
		return
	}

	next := q.waiting[0]
	q.waiting = q.waiting[1:]

	now := q.now()
	q.active = &Session{
		UserID:       next,
		StartTime:    now,
		LastActivity: now,
	}

	q.logger.Info("session started", "user_id", next)

	if q.bus != nil {
		q.bus.Publish(eventbus.NewEvent(eventbus.EventSessionStarted, "queue", next))
	}
}

// stateForLocked computes the state as seen by one user: how many
// participants are ahead of them, including the active session holder.
func (q *Queue) stateForLocked(userID string) State {
	s := q.snapshotLocked()

	if q.active != nil && q.active.UserID == userID {
		s.Position = 0
	} else {
		for i, id := range q.waiting {
			if id == userID {
				s.Position = i
				if q.active != nil {
					s.Position++
				}
				break
			}
		}
	}

	s.EstimatedWait = q.estimate(s.Position)
	return s
}

func (q *Queue) snapshotLocked() State {
	position := len(q.waiting)
	if position > 0 {
		position--
		if q.active != nil {
			position++
		}
	}

	s := State{
		Position:      position,
		EstimatedWait: q.estimate(position),
		Waiting:       len(q.waiting),
	}
	if q.active != nil {
		s.Active = q.active.UserID
	}
	return s
}

func (q *Queue) publishLocked() {
	if q.bus == nil {
		return
	}
	q.bus.Publish(eventbus.NewEvent(eventbus.EventQueueState, "queue", q.snapshotLocked()))
}
