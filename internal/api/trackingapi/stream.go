package trackingapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BearBump/CourierTrack/internal/broker/messages"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// streamTracking serves the order's push topic as Server-Sent Events. Each
// event carries one TrackingUpdated JSON document in its data field.
func (a *API) streamTracking(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.authorizeOrder(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errors.New("streaming is not supported"))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	payloads := make(chan []byte, 16)
	listenErr := make(chan error, 1)
	ready := make(chan struct{})
	go func() {
		listenErr <- a.stream.Listen(ctx, messages.Topic(id), func() { close(ready) }, func(p []byte) {
			select {
			case payloads <- p:
			case <-ctx.Done():
			}
		})
	}()

	// no 200 until the subscription is live
	select {
	case <-ready:
	case err := <-listenErr:
		if err == nil {
			err = errors.New("tracking stream closed")
		}
		if ctx.Err() == nil {
			slog.Warn("tracking stream subscribe", "order_id", id, "error", err.Error())
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: CodeUnavailable})
		}
		return
	case <-ctx.Done():
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	hb := time.NewTicker(a.heartbeat)
	defer hb.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-listenErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("tracking stream ended", "order_id", id, "error", err.Error())
			}
			return
		case p := <-payloads:
			if _, err := fmt.Fprintf(w, "id: %s\nevent: tracking\ndata: %s\n\n", uuid.NewString(), p); err != nil {
				return
			}
			flusher.Flush()
		case <-hb.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
