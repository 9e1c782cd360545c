package session

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xicheng412/CliCast/internal/term"
)

type sink struct {
	mu       sync.Mutex
	output   bytes.Buffer
	statuses []Status
	errors   []string
	exited   chan term.ExitStatus
}

func newSink() *sink {
	return &sink{exited: make(chan term.ExitStatus, 1)}
}

func (s *sink) callbacks() Callbacks {
	return Callbacks{
		OnOutput: func(chunk []byte) {
			s.mu.Lock()
			s.output.Write(chunk)
			s.mu.Unlock()
		},
		OnStatus: func(status Status) {
			s.mu.Lock()
			s.statuses = append(s.statuses, status)
			s.mu.Unlock()
		},
		OnExit: func(st term.ExitStatus) { s.exited <- st },
		OnError: func(msg string) {
			s.mu.Lock()
			s.errors = append(s.errors, msg)
			s.mu.Unlock()
		},
	}
}

func (s *sink) outputString() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output.String()
}

func (s *sink) sawStatus(want Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.statuses {
		if st == want {
			return true
		}
	}
	return false
}

func (s *sink) waitExit(t *testing.T) term.ExitStatus {
	t.Helper()
	select {
	case st := <-s.exited:
		return st
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for exit")
		return term.ExitStatus{}
	}
}

func TestRegistry_CreateAndList(t *testing.T) {
	r := NewRegistry()
	defer r.Shutdown()

	s := r.Create("/tmp", "claude")
	if s.ID == "" {
		t.Fatal("expected a generated session id")
	}
	if s.Status() != StatusCreated {
		t.Errorf("status = %s, want created", s.Status())
	}
	if !r.Exists(s.ID) {
		t.Error("Exists should report the new session")
	}
	if r.Exists("not-a-session") {
		t.Error("Exists must not report unknown ids")
	}

	infos := r.List()
	if len(infos) != 1 || infos[0].ID != s.ID {
		t.Fatalf("List = %+v", infos)
	}
	if infos[0].WorkingDir != "/tmp" || infos[0].AICommand != "claude" {
		t.Errorf("projection = %+v", infos[0])
	}
	if infos[0].CreatedAt == 0 || infos[0].LastActivity == 0 {
		t.Error("timestamps should be set")
	}
}

func TestRegistry_StartRunsCommandAndStreams(t *testing.T) {
	r := NewRegistry()
	defer r.Shutdown()

	s := r.Create(t.TempDir(), "printf start-me")
	sk := newSink()

	var replayed [][]byte
	err := r.Start(s.ID, 80, 24, sk.callbacks(), func(history [][]byte) {
		replayed = history
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(replayed) != 0 {
		t.Errorf("fresh session replayed %d chunks", len(replayed))
	}

	st := sk.waitExit(t)
	if st.Code != 0 {
		t.Errorf("exit code = %d", st.Code)
	}
	if !strings.Contains(sk.outputString(), "start-me") {
		t.Errorf("output %q missing payload", sk.outputString())
	}
	if !sk.sawStatus(StatusRunning) || !sk.sawStatus(StatusExited) {
		t.Errorf("statuses = %v, want running then exited", sk.statuses)
	}
	if s.Status() != StatusExited {
		t.Errorf("final status = %s", s.Status())
	}

	// Output survives in the history ring for late joiners.
	hist := r.History(s.ID)
	if !strings.Contains(string(bytes.Join(hist, nil)), "start-me") {
		t.Error("history ring missing session output")
	}
}

func TestRegistry_StartIsIdempotent(t *testing.T) {
	r := NewRegistry()
	defer r.Shutdown()

	s := r.Create(t.TempDir(), "sleep 30")
	sk := newSink()
	if err := r.Start(s.ID, 80, 24, sk.callbacks(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Status() != StatusRunning {
		t.Fatalf("status = %s", s.Status())
	}

	// Second Start must not respawn; it rebinds callbacks and replays.
	var replayed bool
	if err := r.Start(s.ID, 80, 24, sk.callbacks(), func([][]byte) { replayed = true }); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !replayed {
		t.Error("reattach should invoke the replay hook")
	}
	if s.Status() != StatusRunning {
		t.Errorf("status after second Start = %s", s.Status())
	}

	r.Terminate(s.ID, StatusTerminated)
	sk.waitExit(t)
}

func TestRegistry_SpawnFailure(t *testing.T) {
	r := NewRegistry()
	defer r.Shutdown()

	// BuildCommand wraps everything in bash; point the PTY at a working
	// directory that vanishes so the spawn itself fails.
	s := r.Create("/nonexistent-dir-for-spawn", "claude")
	sk := newSink()

	if err := r.Start(s.ID, 80, 24, sk.callbacks(), nil); err == nil {
		t.Fatal("expected spawn error")
	}
	if s.Status() != StatusExited {
		t.Errorf("status = %s, want exited after spawn failure", s.Status())
	}
	sk.mu.Lock()
	gotError := len(sk.errors) > 0
	sk.mu.Unlock()
	if !gotError {
		t.Error("spawn failure should surface through OnError")
	}
	if !sk.sawStatus(StatusExited) {
		t.Error("spawn failure should fire OnStatus(exited)")
	}
}

func TestRegistry_WriteReachesPTY(t *testing.T) {
	r := NewRegistry()
	defer r.Shutdown()

	s := r.Create(t.TempDir(), "read line; printf \"echo:$line\"")
	sk := newSink()
	if err := r.Start(s.ID, 80, 24, sk.callbacks(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := r.Write(s.ID, []byte("knock\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	sk.waitExit(t)
	if !strings.Contains(sk.outputString(), "echo:knock") {
		t.Errorf("output %q missing echoed input", sk.outputString())
	}
}

func TestRegistry_WriteWithoutPTYIsNoop(t *testing.T) {
	r := NewRegistry()
	defer r.Shutdown()

	s := r.Create(t.TempDir(), "claude")
	if err := r.Write(s.ID, []byte("early")); err != nil {
		t.Errorf("write before start should be a logged no-op, got %v", err)
	}
	if err := r.Write("missing", []byte("x")); err == nil {
		t.Error("write to unknown session should error")
	}
}

func TestRegistry_TerminateIsIdempotent(t *testing.T) {
	r := NewRegistry()
	defer r.Shutdown()

	s := r.Create(t.TempDir(), "sleep 30")
	sk := newSink()
	if err := r.Start(s.ID, 80, 24, sk.callbacks(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !r.Terminate(s.ID, StatusTerminated) {
		t.Fatal("Terminate returned false")
	}
	if s.Status() != StatusTerminated {
		t.Errorf("status = %s", s.Status())
	}
	sk.waitExit(t)

	// Second terminate is a no-op that still reports success.
	if !r.Terminate(s.ID, StatusTerminated) {
		t.Error("repeated Terminate should succeed")
	}
	if !sk.sawStatus(StatusTerminated) {
		t.Error("OnStatus(terminated) should fire once")
	}

	if r.Terminate("missing", StatusTerminated) {
		t.Error("terminating an unknown session should report false")
	}
}

func TestRegistry_DeleteRemovesRecord(t *testing.T) {
	r := NewRegistry()
	defer r.Shutdown()

	s := r.Create(t.TempDir(), "sleep 30")
	sk := newSink()
	if err := r.Start(s.ID, 80, 24, sk.callbacks(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !r.Delete(s.ID) {
		t.Fatal("Delete returned false")
	}
	if r.Exists(s.ID) {
		t.Error("record should be gone after Delete")
	}
	if r.Delete(s.ID) {
		t.Error("second Delete should report false")
	}
	if r.Count() != 0 {
		t.Errorf("Count = %d", r.Count())
	}
}

func TestRegistry_IdleReaperTerminatesStaleSessions(t *testing.T) {
	r := NewRegistry()
	r.IdleTimeout = 50 * time.Millisecond
	defer r.Shutdown()

	s := r.Create(t.TempDir(), "sleep 30")
	sk := newSink()
	if err := r.Start(s.ID, 80, 24, sk.callbacks(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	r.reap()

	if s.Status() != StatusTerminated {
		t.Errorf("status = %s, want terminated after reap", s.Status())
	}
	sk.waitExit(t)
}

func TestRegistry_ReaperSkipsActiveSessions(t *testing.T) {
	r := NewRegistry()
	r.IdleTimeout = time.Hour
	defer r.Shutdown()

	s := r.Create(t.TempDir(), "sleep 30")
	sk := newSink()
	if err := r.Start(s.ID, 80, 24, sk.callbacks(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	r.reap()
	if s.Status() != StatusRunning {
		t.Errorf("fresh session reaped: %s", s.Status())
	}

	r.Terminate(s.ID, StatusTerminated)
	sk.waitExit(t)
}

func TestRegistry_AuditHookReceivesLifecycle(t *testing.T) {
	r := NewRegistry()
	defer r.Shutdown()

	var mu sync.Mutex
	var events []string
	r.Audit = func(id, event, dir, cmd string) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	}

	s := r.Create(t.TempDir(), "claude")
	r.Terminate(s.ID, StatusTerminated)
	r.Delete(s.ID)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"created", "terminated", "deleted"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, events[i], want[i])
		}
	}
}
