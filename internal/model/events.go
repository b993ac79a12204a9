package model

import "time"

// EventType names a stream event. The values double as SSE event names.
type EventType string

const (
	EventConnected EventType = "connected"
	EventTotal     EventType = "total"
	EventRecord    EventType = "repo"
	EventProgress  EventType = "progress"
	EventComplete  EventType = "complete"
	EventError     EventType = "error"
)

// Source tells whether a record came from storage or from GitHub.
type Source string

const (
	SourceCache Source = "cache"
	SourceLive  Source = "live"
)

// Event is one element of a star stream. Exactly one payload field is set,
// selected by Type.
type Event struct {
	Type      EventType
	Connected *Connected
	Total     int
	Record    *StarredRepo
	Source    Source
	Progress  *Progress
	Complete  *Complete
	Err       error
}

type Connected struct {
	UserID string
	SyncID string
	At     time.Time
}

type Progress struct {
	Processed int
	Page      int
}

type Complete struct {
	Count int
	At    time.Time
}

func ConnectedEvent(userID, syncID string, at time.Time) Event {
	return Event{Type: EventConnected, Connected: &Connected{UserID: userID, SyncID: syncID, At: at}}
}

func TotalEvent(n int) Event {
	return Event{Type: EventTotal, Total: n}
}

func RecordEvent(r StarredRepo, src Source) Event {
	return Event{Type: EventRecord, Record: &r, Source: src}
}

func ProgressEvent(processed, page int) Event {
	return Event{Type: EventProgress, Progress: &Progress{Processed: processed, Page: page}}
}

func CompleteEvent(count int, at time.Time) Event {
	return Event{Type: EventComplete, Complete: &Complete{Count: count, At: at}}
}

func ErrorEvent(err error) Event {
	return Event{Type: EventError, Err: err}
}

// Terminal reports whether no event may follow e.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// Dedupe collapses records sharing an id into one entry. The entry keeps the
// position of the first occurrence and the fields of the last one, which is
// how stream consumers are expected to treat repeated ids.
func Dedupe(records []StarredRepo) []StarredRepo {
	out := make([]StarredRepo, 0, len(records))
	index := make(map[int64]int, len(records))
	for _, r := range records {
		if i, ok := index[r.ID]; ok {
			out[i] = r
			continue
		}
		index[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}
