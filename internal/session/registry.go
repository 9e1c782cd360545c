package session

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/xicheng412/CliCast/internal/term"
)

const (
	// DefaultIdleTimeout is how long a running session may sit without PTY
	// activity before the reaper terminates it.
	DefaultIdleTimeout = 30 * time.Minute

	// reapSchedule drives the single reaper job shared by all sessions.
	reapSchedule = "@every 30s"
)

// Registry is the authoritative map of session id to record. It spawns and
// kills PTYs, routes output into the history ring and the registered
// callbacks, and runs the idle reaper.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// reaper is started lazily on first Create and stopped once the map
	// empties, so an idle server holds no timer.
	reaper *cron.Cron

	// IdleTimeout overrides DefaultIdleTimeout when positive.
	IdleTimeout time.Duration

	// Audit, when set, receives lifecycle events for the audit trail.
	Audit func(sessionID, event, workingDir, command string)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions:    make(map[string]*Session),
		IdleTimeout: DefaultIdleTimeout,
	}
}

func (r *Registry) audit(id, event, dir, cmd string) {
	if r.Audit != nil {
		r.Audit(id, event, dir, cmd)
	}
}

// Create registers a new session record in state created. The PTY is not
// started until the first client sends init.
func (r *Registry) Create(workingDir, aiCommand string) *Session {
	s := &Session{
		ID:           uuid.New().String(),
		WorkingDir:   workingDir,
		AICommand:    aiCommand,
		status:       StatusCreated,
		createdAt:    time.Now(),
		lastActivity: time.Now(),
		history:      NewHistoryRing(0),
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.ensureReaperLocked()
	r.mu.Unlock()

	log.Printf("[registry] created session %s dir=%s cmd=%q", s.ID, workingDir, aiCommand)
	r.audit(s.ID, "created", workingDir, aiCommand)
	return s
}

// Exists reports whether id names a registered session.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

// Get returns the record for id, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// List returns a snapshot projection of every record.
func (r *Registry) List() []Info {
	r.mu.RLock()
	records := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		records = append(records, s)
	}
	r.mu.RUnlock()

	infos := make([]Info, len(records))
	for i, s := range records {
		infos[i] = s.Info()
	}
	return infos
}

// Start spawns the session's PTY if it has none and registers cbs as the
// event sink. Calling Start on an already-running session only rebinds the
// callbacks, so a reconnecting client reattaches without a respawn.
//
// replay, when non-nil, receives a history snapshot taken atomically with the
// callback binding: every chunk produced before the snapshot is in it, every
// chunk after is delivered through OnOutput, with no gap or overlap. The hook
// runs under the session lock and must not call back into the registry.
//
// A spawn failure transitions the session to exited and is reported through
// OnError followed by OnStatus(exited).
func (r *Registry) Start(id string, cols, rows int, cbs Callbacks, replay func(history [][]byte)) error {
	s := r.Get(id)
	if s == nil {
		return fmt.Errorf("session %q not found", id)
	}

	s.mu.Lock()
	s.cbs = cbs
	if s.term != nil || s.status.Terminal() {
		if replay != nil {
			replay(s.history.Snapshot())
		}
		s.mu.Unlock()
		return nil
	}

	argv, dir := term.BuildCommand(s.AICommand, s.WorkingDir)
	t, err := term.Start(term.Options{
		Argv: argv,
		Dir:  dir,
		Cols: cols,
		Rows: rows,
		OnData: func(chunk []byte) {
			r.handleOutput(s, chunk)
		},
		OnExit: func(status term.ExitStatus) {
			r.handleExit(s, status)
		},
	})
	if err != nil {
		s.status = StatusExited
		onError := s.cbs.OnError
		onStatus := s.cbs.OnStatus
		s.mu.Unlock()

		log.Printf("[registry] spawn failed for session %s: %v", id, err)
		if onError != nil {
			onError(fmt.Sprintf("Failed to start terminal: %v", err))
		}
		if onStatus != nil {
			onStatus(StatusExited)
		}
		r.audit(id, "exited", s.WorkingDir, s.AICommand)
		return fmt.Errorf("start session %s: %w", id, err)
	}

	s.term = t
	s.status = StatusRunning
	s.touch()
	if replay != nil {
		replay(s.history.Snapshot())
	}
	onStatus := s.cbs.OnStatus
	s.mu.Unlock()

	log.Printf("[registry] started session %s (%dx%d)", id, cols, rows)
	if onStatus != nil {
		onStatus(StatusRunning)
	}
	r.audit(id, "started", s.WorkingDir, s.AICommand)
	return nil
}

// Detach clears the callbacks for id. The PTY keeps running so a later
// client can reattach via Start.
func (r *Registry) Detach(id string) {
	s := r.Get(id)
	if s == nil {
		return
	}
	s.mu.Lock()
	s.cbs = Callbacks{}
	s.mu.Unlock()
}

// handleOutput routes one PTY chunk: history ring, registered sink, activity
// bump. The sink is invoked under the session lock so broadcast order is
// serialized against Start's replay snapshot; it must neither block nor call
// back into the registry. It runs on the PTY read goroutine.
func (r *Registry) handleOutput(s *Session, chunk []byte) {
	s.mu.Lock()
	s.history.Append(chunk)
	s.touch()
	if s.cbs.OnOutput != nil {
		s.cbs.OnOutput(chunk)
	}
	s.mu.Unlock()
}

// handleExit records the child's end. When the session is still running this
// is a natural exit; a terminate has already set the final status.
func (r *Registry) handleExit(s *Session, status term.ExitStatus) {
	s.mu.Lock()
	s.term = nil
	natural := s.status == StatusRunning
	if natural {
		s.status = StatusExited
	}
	s.touch()
	onStatus := s.cbs.OnStatus
	onExit := s.cbs.OnExit
	s.mu.Unlock()

	log.Printf("[registry] session %s exited code=%d", s.ID, status.Code)
	if natural {
		if onStatus != nil {
			onStatus(StatusExited)
		}
		r.audit(s.ID, "exited", s.WorkingDir, s.AICommand)
	}
	if onExit != nil {
		onExit(status)
	}
}

// Write forwards input bytes to the session's PTY.
func (r *Registry) Write(id string, p []byte) error {
	s := r.Get(id)
	if s == nil {
		return fmt.Errorf("session %q not found", id)
	}
	s.mu.Lock()
	t := s.term
	if t != nil {
		s.touch()
	}
	s.mu.Unlock()
	if t == nil {
		log.Printf("[registry] write to session %s with no terminal", id)
		return nil
	}
	return t.Write(p)
}

// Resize forwards new dimensions to the session's PTY, if any.
func (r *Registry) Resize(id string, cols, rows int) {
	s := r.Get(id)
	if s == nil {
		return
	}
	s.mu.Lock()
	t := s.term
	if t != nil {
		s.touch()
	}
	s.mu.Unlock()
	if t != nil {
		t.Resize(cols, rows)
	}
}

// Terminate kills the session's PTY (if any) and moves the record to the
// given final status. Repeated calls are no-ops.
func (r *Registry) Terminate(id string, status Status) bool {
	if !status.Terminal() {
		status = StatusTerminated
	}
	s := r.Get(id)
	if s == nil {
		return false
	}

	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return true
	}
	t := s.term
	s.term = nil
	s.status = status
	s.touch()
	onStatus := s.cbs.OnStatus
	s.mu.Unlock()

	if t != nil {
		t.Kill()
	}
	log.Printf("[registry] session %s -> %s", id, status)
	if onStatus != nil {
		onStatus(status)
	}
	r.audit(id, string(status), s.WorkingDir, s.AICommand)
	return true
}

// Delete terminates the session and removes the record. The reaper stops
// once the last record is gone.
func (r *Registry) Delete(id string) bool {
	if !r.Exists(id) {
		return false
	}
	r.Terminate(id, StatusTerminated)

	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.stopReaperIfEmptyLocked()
	r.mu.Unlock()

	if ok {
		log.Printf("[registry] deleted session %s", id)
		r.audit(id, "deleted", s.WorkingDir, s.AICommand)
	}
	return ok
}

// History returns a snapshot of the session's output ring.
func (r *Registry) History(id string) [][]byte {
	s := r.Get(id)
	if s == nil {
		return nil
	}
	return s.history.Snapshot()
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ensureReaperLocked starts the reaper cron on first use. Caller holds r.mu.
func (r *Registry) ensureReaperLocked() {
	if r.reaper != nil {
		return
	}
	c := cron.New()
	if _, err := c.AddFunc(reapSchedule, r.reap); err != nil {
		log.Printf("[registry] reaper schedule: %v", err)
		return
	}
	c.Start()
	r.reaper = c
	log.Printf("[registry] idle reaper started (%s)", reapSchedule)
}

// stopReaperIfEmptyLocked stops the reaper once no sessions remain. Caller
// holds r.mu.
func (r *Registry) stopReaperIfEmptyLocked() {
	if len(r.sessions) > 0 || r.reaper == nil {
		return
	}
	r.reaper.Stop()
	r.reaper = nil
	log.Printf("[registry] idle reaper stopped")
}

// reap terminates running sessions whose last activity is older than the
// idle timeout.
func (r *Registry) reap() {
	timeout := r.IdleTimeout
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	cutoff := time.Now().Add(-timeout)

	r.mu.RLock()
	var idle []string
	for id, s := range r.sessions {
		s.mu.Lock()
		stale := s.status == StatusRunning && s.lastActivity.Before(cutoff)
		s.mu.Unlock()
		if stale {
			idle = append(idle, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range idle {
		log.Printf("[registry] reaping idle session %s", id)
		r.Terminate(id, StatusTerminated)
	}
}

// Shutdown terminates every session and stops the reaper. Used on server
// exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	if r.reaper != nil {
		r.reaper.Stop()
		r.reaper = nil
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Terminate(id, StatusTerminated)
	}
}
