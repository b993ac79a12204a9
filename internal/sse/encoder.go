// Package sse frames star stream events as text/event-stream.
package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	custom_errors "github-star-sync/internal/errors"
	"github-star-sync/internal/model"
)

// SetHeaders prepares a response for a long-lived event stream.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

type connectedPayload struct {
	Message   string `json:"message"`
	UserID    string `json:"userId"`
	SyncID    string `json:"syncId"`
	Timestamp int64  `json:"timestamp"`
}

type repoPayload struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Owner       string   `json:"owner"`
	FullName    string   `json:"full_name"`
	Description *string  `json:"description"`
	Stars       int      `json:"stars"`
	Language    *string  `json:"language"`
	Topics      []string `json:"topics"`
	StarredAt   int64    `json:"starred_at"`
	PushedAt    *int64   `json:"pushed_at"`
	CreatedAt   int64    `json:"created_at"`
	Source      string   `json:"source"`
}

type progressPayload struct {
	Processed int `json:"processed"`
	Page      int `json:"page"`
}

type completePayload struct {
	Message   string `json:"message"`
	Count     int    `json:"count"`
	Timestamp int64  `json:"timestamp"`
}

type errorPayload struct {
	custom_errors.Classified
	Timestamp int64 `json:"timestamp"`
}

// Encoder writes one frame per event. Frames that do not carry a record reuse
// the id of the last record written so a reconnecting client always reports a
// record id in Last-Event-ID.
type Encoder struct {
	w         io.Writer
	lastID    string
	watermark time.Time
	now       func() time.Time
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithLastEventID starts the encoder from id instead of an empty id.
func WithLastEventID(id string) EncoderOption {
	return func(e *Encoder) { e.lastID = id }
}

func NewEncoder(w io.Writer, opts ...EncoderOption) *Encoder {
	e := &Encoder{w: w, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	e.watermark = e.now()
	return e
}

// Encode writes ev as a single frame.
func (e *Encoder) Encode(ev model.Event) error {
	return e.encode(ev, true)
}

// encode writes ev. Record frames move the frame id forward only when
// advance is set; otherwise they repeat the current id.
func (e *Encoder) encode(ev model.Event, advance bool) error {
	data, err := e.payload(ev)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", ev.Type, err)
	}

	// The pipeline stamps connected before it reads storage.
	if ev.Type == model.EventConnected {
		e.watermark = ev.Connected.At
	}
	if ev.Type == model.EventRecord && advance {
		e.lastID = frameID(ev.Record.ID, e.watermark)
	}
	id := e.lastID
	if id == "" {
		id = string(ev.Type)
	}

	_, err = fmt.Fprintf(e.w, "id: %s\nevent: %s\ndata: %s\n\n", id, ev.Type, data)
	return err
}

// Ping writes a comment line that keeps intermediaries from closing an idle stream.
func (e *Encoder) Ping() error {
	_, err := io.WriteString(e.w, ": ping\n\n")
	return err
}

func (e *Encoder) payload(ev model.Event) ([]byte, error) {
	switch ev.Type {
	case model.EventConnected:
		return json.Marshal(connectedPayload{
			Message:   "Connected to stars stream",
			UserID:    ev.Connected.UserID,
			SyncID:    ev.Connected.SyncID,
			Timestamp: ev.Connected.At.UnixMilli(),
		})
	case model.EventTotal:
		return json.Marshal(ev.Total)
	case model.EventRecord:
		return json.Marshal(newRepoPayload(*ev.Record, ev.Source))
	case model.EventProgress:
		return json.Marshal(progressPayload{Processed: ev.Progress.Processed, Page: ev.Progress.Page})
	case model.EventComplete:
		return json.Marshal(completePayload{
			Message:   "All starred repositories streamed",
			Count:     ev.Complete.Count,
			Timestamp: ev.Complete.At.UnixMilli(),
		})
	case model.EventError:
		return json.Marshal(errorPayload{
			Classified: custom_errors.Classify(ev.Err),
			Timestamp:  e.now().UnixMilli(),
		})
	default:
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}
}

func newRepoPayload(r model.StarredRepo, src model.Source) repoPayload {
	topics := r.Topics
	if topics == nil {
		topics = []string{}
	}
	p := repoPayload{
		ID:          r.ID,
		Name:        r.Name,
		Owner:       r.Owner,
		FullName:    r.FullName,
		Description: r.Description,
		Stars:       r.StarCount,
		Language:    r.Language,
		Topics:      topics,
		StarredAt:   r.StarredAt.UnixMilli(),
		CreatedAt:   r.RepoCreatedAt.UnixMilli(),
		Source:      string(src),
	}
	if r.PushedAt != nil {
		ms := r.PushedAt.UnixMilli()
		p.PushedAt = &ms
	}
	return p
}
