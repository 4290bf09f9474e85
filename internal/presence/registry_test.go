package presence

import (
	"fmt"
	"sync"
	"testing"
)

type fakeConn struct {
	id   string
	sent []any
}

func (f *fakeConn) ID() string { return f.id }
func (f *fakeConn) Send(v any) bool {
	f.sent = append(f.sent, v)
	return true
}

type transition struct {
	username string
	status   Status
}

type recorder struct {
	mu   sync.Mutex
	seen []transition
}

func (r *recorder) record(username string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, transition{username, status})
}

func (r *recorder) all() []transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]transition, len(r.seen))
	copy(out, r.seen)
	return out
}

func TestMultiDeviceTransitions(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry(rec.record)

	c1 := &fakeConn{id: "c1"}
	c2 := &fakeConn{id: "c2"}

	reg.Register("alice", c1)
	if !reg.IsOnline("alice") {
		t.Fatal("expected alice online after first register")
	}

	reg.Register("alice", c2)
	if got := len(reg.Resolve("alice")); got != 2 {
		t.Fatalf("expected 2 connections, got %d", got)
	}

	reg.Unregister("c1")
	if !reg.IsOnline("alice") {
		t.Fatal("expected alice still online with one connection left")
	}

	reg.Unregister("c2")
	if reg.IsOnline("alice") {
		t.Fatal("expected alice offline after last unregister")
	}

	want := []transition{{"alice", Online}, {"alice", Offline}}
	got := rec.all()
	if len(got) != len(want) {
		t.Fatalf("expected exactly %d transitions, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestRegisterIdempotent(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry(rec.record)

	c := &fakeConn{id: "c1"}
	reg.Register("bob", c)
	reg.Register("bob", c)

	if got := len(reg.Resolve("bob")); got != 1 {
		t.Fatalf("expected 1 connection after duplicate register, got %d", got)
	}
	if got := len(rec.all()); got != 1 {
		t.Fatalf("expected 1 transition, got %d", got)
	}

	reg.Unregister("c1")
	if reg.IsOnline("bob") {
		t.Fatal("expected bob offline after single unregister")
	}
}

func TestUnregisterUnknownConnIsNoop(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry(rec.record)

	reg.Unregister("nope")
	if got := len(rec.all()); got != 0 {
		t.Fatalf("expected no transitions, got %d", got)
	}
}

func TestSetStatusRequiresConnection(t *testing.T) {
	reg := NewRegistry(nil)

	if err := reg.SetStatus("carol", Busy); err != ErrInvalidState {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	// Offline is always permitted, used for forced logout.
	if err := reg.SetStatus("carol", Offline); err != nil {
		t.Fatalf("expected Offline to be accepted, got %v", err)
	}

	reg.Register("carol", &fakeConn{id: "c1"})
	if err := reg.SetStatus("carol", Away); err != nil {
		t.Fatalf("expected Away to be accepted with a live connection, got %v", err)
	}
	if got := reg.Status("carol"); got != Away {
		t.Fatalf("expected Away, got %v", got)
	}
}

func TestBusySurvivesReconnect(t *testing.T) {
	reg := NewRegistry(nil)

	reg.Register("dave", &fakeConn{id: "c1"})
	if err := reg.SetStatus("dave", Busy); err != nil {
		t.Fatal(err)
	}

	// A second device connecting and the first dropping must not reset the
	// explicit Busy choice while the set stays non-empty.
	reg.Register("dave", &fakeConn{id: "c2"})
	reg.Unregister("c1")

	if got := reg.Status("dave"); got != Busy {
		t.Fatalf("expected Busy preserved across reconnect, got %v", got)
	}

	// Full disconnect resets to Offline, and the next login is Online.
	reg.Unregister("c2")
	if got := reg.Status("dave"); got != Offline {
		t.Fatalf("expected Offline, got %v", got)
	}
	reg.Register("dave", &fakeConn{id: "c3"})
	if got := reg.Status("dave"); got != Online {
		t.Fatalf("expected Online after relogin, got %v", got)
	}
}

func TestResolveUnknownUser(t *testing.T) {
	reg := NewRegistry(nil)
	if got := reg.Resolve("ghost"); len(got) != 0 {
		t.Fatalf("expected empty resolve, got %d conns", len(got))
	}
	if reg.IsOnline("ghost") {
		t.Fatal("unknown user must not be online")
	}
}

func TestOnlineUsersSorted(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("zoe", &fakeConn{id: "z1"})
	reg.Register("adam", &fakeConn{id: "a1"})

	got := reg.OnlineUsers()
	if len(got) != 2 || got[0] != "adam" || got[1] != "zoe" {
		t.Fatalf("expected [adam zoe], got %v", got)
	}
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	reg := NewRegistry(nil)

	const devices = 50
	var wg sync.WaitGroup
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("conn-%d", i)
			reg.Register("eve", &fakeConn{id: id})
			if i%2 == 0 {
				reg.Unregister(id)
			}
		}(i)
	}
	wg.Wait()

	if got := len(reg.Resolve("eve")); got != devices/2 {
		t.Fatalf("expected %d connections, got %d", devices/2, got)
	}
	if !reg.IsOnline("eve") {
		t.Fatal("expected eve online")
	}

	for i := 1; i < devices; i += 2 {
		reg.Unregister(fmt.Sprintf("conn-%d", i))
	}
	if reg.IsOnline("eve") {
		t.Fatal("expected eve offline after all unregisters")
	}
}
