// Package session owns the registry of terminal sessions: lifecycle state,
// output history, and the idle reaper.
package session

import (
	"sync"
	"time"

	"github.com/xicheng412/CliCast/internal/term"
)

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusCreated means the record exists but no PTY has been started.
	StatusCreated Status = "created"
	// StatusRunning means the PTY child is alive.
	StatusRunning Status = "running"
	// StatusExited means the child ended on its own.
	StatusExited Status = "exited"
	// StatusTerminated means the user or the reaper killed the session.
	StatusTerminated Status = "terminated"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusExited || s == StatusTerminated
}

// Callbacks is the event sink a consumer registers via Registry.Start. Any
// field may be nil.
type Callbacks struct {
	OnOutput func(chunk []byte)
	OnStatus func(status Status)
	OnExit   func(status term.ExitStatus)
	OnError  func(message string)
}

// Session is one registry record. All mutation goes through the registry,
// serialized by the session mutex.
type Session struct {
	ID         string
	WorkingDir string
	AICommand  string

	mu           sync.Mutex
	status       Status
	createdAt    time.Time
	lastActivity time.Time
	term         *term.Terminal
	history      *HistoryRing
	cbs          Callbacks
}

// Info is the client-facing projection of a session record.
type Info struct {
	ID           string `json:"id"`
	WorkingDir   string `json:"workingDir"`
	AICommand    string `json:"aiCommand"`
	Status       Status `json:"status"`
	CreatedAt    int64  `json:"createdAt"`
	LastActivity int64  `json:"lastActivity"`
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Info returns the projection of this record, timestamps in Unix
// milliseconds.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:           s.ID,
		WorkingDir:   s.WorkingDir,
		AICommand:    s.AICommand,
		Status:       s.status,
		CreatedAt:    s.createdAt.UnixMilli(),
		LastActivity: s.lastActivity.UnixMilli(),
	}
}

// touch advances lastActivity. Callers must hold s.mu.
func (s *Session) touch() {
	s.lastActivity = time.Now()
}
