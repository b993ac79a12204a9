package sse

import (
	"strconv"
	"strings"
	"time"

	"github-star-sync/internal/model"
)

// frameID names a record frame as "<repo id>.<watermark millis>". The
// watermark is when the stream that wrote the frame started, so a resumed
// stream can tell rows committed later from rows the client already saw.
func frameID(repoID int64, watermark time.Time) string {
	return strconv.FormatInt(repoID, 10) + "." + strconv.FormatInt(watermark.UnixMilli(), 10)
}

func parseFrameID(s string) (int64, time.Time, bool) {
	idPart, msPart, ok := strings.Cut(s, ".")
	if !ok {
		return 0, time.Time{}, false
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	return id, time.UnixMilli(ms).UTC(), true
}

// Resumer skips records a reconnecting client has already seen. Records
// before the first one matching Last-Event-ID are withheld and the match is
// dropped. Records fetched at or after the earlier stream's watermark pass
// straight through, since that stream cannot have delivered them. If the
// marker never shows up, the withheld records are released before the
// terminal event.
type Resumer struct {
	marker    int64
	watermark time.Time
	pending   bool
	held      []model.Event
}

// NewResumer parses a Last-Event-ID header. Empty or malformed values
// disable resumption.
func NewResumer(lastEventID string) *Resumer {
	id, watermark, ok := parseFrameID(lastEventID)
	if !ok {
		return &Resumer{}
	}
	return &Resumer{marker: id, watermark: watermark, pending: true}
}

// Pending reports whether the marker is still being looked for.
func (r *Resumer) Pending() bool {
	return r.pending
}

// Filter returns the events to write in place of ev.
func (r *Resumer) Filter(ev model.Event) []model.Event {
	if !r.pending {
		return []model.Event{ev}
	}

	switch {
	case ev.Type == model.EventRecord:
		if ev.Record.ID == r.marker {
			r.pending = false
			r.held = nil
			return nil
		}
		if !ev.Record.LastFetchedAt.Before(r.watermark) {
			return []model.Event{ev}
		}
		r.held = append(r.held, ev)
		return nil
	case ev.Terminal():
		r.pending = false
		out := append(r.held, ev)
		r.held = nil
		return out
	default:
		return []model.Event{ev}
	}
}
