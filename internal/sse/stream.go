package sse

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github-star-sync/internal/model"
)

// Serve writes events to w until the channel closes or the client goes away.
// A heartbeat of zero disables keep-alive pings.
func Serve(ctx context.Context, w http.ResponseWriter, lastEventID string, events <-chan model.Event, heartbeat time.Duration, logger *slog.Logger) error {
	rc := http.NewResponseController(w)
	SetHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return err
	}

	resume := NewResumer(lastEventID)
	var opts []EncoderOption
	if resume.Pending() {
		// Until the marker is passed a dropped client must resume from the same id.
		opts = append(opts, WithLastEventID(lastEventID))
	}
	enc := NewEncoder(w, opts...)

	var tick <-chan time.Time
	if heartbeat > 0 {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			for _, out := range resume.Filter(ev) {
				if err := enc.encode(out, !resume.Pending()); err != nil {
					return err
				}
			}
			if err := rc.Flush(); err != nil {
				return err
			}
		case <-tick:
			logger.Debug("Sending heartbeat")
			if err := enc.Ping(); err != nil {
				return err
			}
			if err := rc.Flush(); err != nil {
				return err
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				logger.Info("Client disconnected")
			}
			return ctx.Err()
		}
	}
}
