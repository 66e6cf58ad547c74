package peers

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/roverlink/signalhub/internal/logging"
)

type fakePeer struct {
	id     string
	mu     sync.Mutex
	sent   [][]byte
	failed bool
	closed bool
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(ctx context.Context, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failed {
		return errors.New("write on closed connection")
	}
	p.sent = append(p.sent, payload)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) sentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: "error"})
}

func TestRegister_RejectsDuplicateID(t *testing.T) {
	r := NewRegistry(testLogger())

	if err := r.Register(&fakePeer{id: "a"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&fakePeer{id: "a"}); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("duplicate Register: err = %v, want %v", err, ErrDuplicateID)
	}
}

func TestUnregister_AbsentIDIsNoOp(t *testing.T) {
	r := NewRegistry(testLogger())

	r.Unregister("ghost")

	p := &fakePeer{id: "a"}
	r.Register(p)
	r.Unregister("a")
	r.Unregister("a")

	if !p.closed {
		t.Fatal("peer not closed on unregister")
	}
	if r.Count() != 0 {
		t.Fatalf("count = %d, want 0", r.Count())
	}
}

func TestSendTo_UnknownPeer(t *testing.T) {
	r := NewRegistry(testLogger())

	err := r.SendTo(context.Background(), "ghost", []byte("hi"))
	if !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("err = %v, want %v", err, ErrUnknownPeer)
	}
}

func TestSendTo_WriteFailureUnregistersPeer(t *testing.T) {
	r := NewRegistry(testLogger())

	p := &fakePeer{id: "a", failed: true}
	r.Register(p)

	if err := r.SendTo(context.Background(), "a", []byte("hi")); err == nil {
		t.Fatal("expected write error")
	}

	if _, ok := r.Get("a"); ok {
		t.Fatal("failing peer still registered")
	}
	if !p.closed {
		t.Fatal("failing peer not closed")
	}
}

func TestBroadcastExcept_SkipsSenderAndSurvivesDeadPeer(t *testing.T) {
	r := NewRegistry(testLogger())

	sender := &fakePeer{id: "sender"}
	dead := &fakePeer{id: "dead", failed: true}
	alive := []*fakePeer{{id: "p1"}, {id: "p2"}, {id: "p3"}}

	r.Register(sender)
	r.Register(dead)
	for _, p := range alive {
		r.Register(p)
	}

	r.BroadcastExcept(context.Background(), "sender", []byte("msg"))

	if sender.sentCount() != 0 {
		t.Fatal("sender received its own broadcast")
	}
	for _, p := range alive {
		if p.sentCount() != 1 {
			t.Fatalf("peer %s received %d messages, want 1", p.id, p.sentCount())
		}
	}
	if _, ok := r.Get("dead"); ok {
		t.Fatal("dead peer still registered after failed broadcast")
	}
	if _, ok := r.Get("sender"); !ok {
		t.Fatal("sender dropped by broadcast")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(testLogger())

	ids := []string{"a", "b", "c", "d", "e", "f"}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r.Register(&fakePeer{id: id})
			r.BroadcastExcept(context.Background(), id, []byte("hello"))
			r.SendTo(context.Background(), id, []byte("direct"))
		}(id)
	}
	wg.Wait()

	if r.Count() != len(ids) {
		t.Fatalf("count = %d, want %d", r.Count(), len(ids))
	}

	r.CloseAll()
	if r.Count() != 0 {
		t.Fatalf("count after CloseAll = %d, want 0", r.Count())
	}
}
