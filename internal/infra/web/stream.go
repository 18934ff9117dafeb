package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"meeting-ai-pipeline/internal/domain/model"
	"meeting-ai-pipeline/internal/infra/logging"
	"meeting-ai-pipeline/internal/usecase"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// watch subscribes before reading the initial view so no update is missed
// between the two.
func watch(ctx context.Context, jobs usecase.JobUseCase, id string) (model.JobView, <-chan model.JobView, func(), error) {
	ch, stop, err := jobs.Watch(ctx, id)
	if err != nil {
		return model.JobView{}, nil, nil, err
	}
	v, err := jobs.Status(ctx, id)
	if err != nil {
		stop()
		return model.JobView{}, nil, nil, err
	}
	return v, ch, stop, nil
}

// streamHandler pushes job views as server-sent events until the job ends.
func streamHandler(jobs usecase.JobUseCase, keepalive time.Duration, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: "streaming unsupported"})
			return
		}
		v, ch, stop, err := watch(r.Context(), jobs, id)
		if err != nil {
			writeError(w, err)
			return
		}
		defer stop()

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		var sent model.JobView
		send := func(v model.JobView) bool {
			sent = v
			b, err := json.Marshal(v)
			if err != nil {
				return false
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
				return false
			}
			flusher.Flush()
			return true
		}
		if !send(v) || v.IsComplete {
			return
		}

		ticker := time.NewTicker(keepalive)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case v, ok := <-ch:
				if !ok {
					// Closed on completion; the terminal view may have been dropped.
					if !sent.IsComplete {
						if last, err := jobs.Status(r.Context(), id); err == nil && last.IsComplete {
							send(last)
						}
					}
					logging.With(r.Context(), logger).Debug().Str("job_id", id).Msg("progress stream closed")
					return
				}
				if !send(v) {
					return
				}
			}
		}
	}
}

// wsHandler is the websocket flavour of streamHandler. Client frames are ignored.
func wsHandler(jobs usecase.JobUseCase, keepalive time.Duration, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		log := logging.With(r.Context(), logger)

		v, ch, stop, err := watch(r.Context(), jobs, id)
		if err != nil {
			writeError(w, err)
			return
		}
		defer stop()

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
		if err != nil {
			log.Warn().Err(err).Msg("websocket accept failed")
			return
		}
		defer func() { _ = conn.CloseNow() }()
		ctx := conn.CloseRead(r.Context())

		if err := wsjson.Write(ctx, conn, v); err != nil {
			return
		}
		if v.IsComplete {
			_ = conn.Close(websocket.StatusNormalClosure, string(v.Phase))
			return
		}

		sent := v
		ticker := time.NewTicker(keepalive)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pctx, cancel := context.WithTimeout(ctx, keepalive)
				err := conn.Ping(pctx)
				cancel()
				if err != nil {
					log.Debug().Err(err).Msg("websocket ping failed")
					return
				}
			case v, ok := <-ch:
				if !ok {
					if sent.IsComplete {
						_ = conn.Close(websocket.StatusNormalClosure, string(sent.Phase))
						return
					}
					last, err := jobs.Status(ctx, id)
					if err == nil && last.IsComplete {
						_ = wsjson.Write(ctx, conn, last)
						_ = conn.Close(websocket.StatusNormalClosure, string(last.Phase))
						return
					}
					_ = conn.Close(websocket.StatusGoingAway, "job expired")
					return
				}
				if err := wsjson.Write(ctx, conn, v); err != nil {
					return
				}
				sent = v
			}
		}
	}
}
