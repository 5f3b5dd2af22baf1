package audit

import (
	"errors"
	"time"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("audit: not found")

// Entry is one row of the timeline, the read side of what
// shared.AuditLogger writes.
type Entry struct {
	ID        int64          `json:"id"`
	ActorID   int64          `json:"actor_id"`
	ActorName string         `json:"actor_name,omitempty"`
	Action    string         `json:"action"`
	Entity    string         `json:"entity"`
	EntityID  int64          `json:"entity_id"`
	Meta      map[string]any `json:"meta,omitempty"`
	At        time.Time      `json:"at"`
}

// TimelineFilters narrows the timeline.
type TimelineFilters struct {
	Page     int
	Limit    int
	Entity   string
	EntityID int64
	Action   string
	ActorID  int64
	From     *time.Time
	To       *time.Time
}
