package database

import "time"

// SessionEvent is one row of the session audit trail. Rows are append-only;
// they record what happened, never enough to resurrect a session.
type SessionEvent struct {
	ID         uint   `gorm:"primarykey"`
	SessionID  string `gorm:"index"`
	WorkingDir string
	Command    string
	Event      string // created | started | exited | terminated | deleted
	CreatedAt  time.Time
}
