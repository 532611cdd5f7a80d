package kernel

import (
	"encoding/json"
	"fmt"
	"net/http"

	"genforge/internal/core/domain"
	"genforge/internal/core/services"
)

// handleJobSSE streams one job's events: progress previews followed by
// exactly one completed event. The stream closes after completion.
// GET /v1/generations/{id}/events
func (s *Server) handleJobSSE(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(r.PathValue("id"))
	if _, ok := s.lifecycle.Job(id); !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	flusher, ok := beginSSE(w)
	if !ok {
		return
	}

	ch, unsub := s.eventBus.Subscribe(id)
	defer unsub()

	// A client arriving after the job finished would wait on a bus that
	// will never speak again; replay the terminal event instead. The
	// lookup happens after subscribing, so a completion landing in between
	// is either seen here or delivered on the channel.
	if job, ok := s.lifecycle.Job(id); ok && job.State.Terminal() {
		payload, _ := json.Marshal(completionPayload(job))
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", services.EventTypeCompleted, payload)
		flusher.Flush()
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data)
			flusher.Flush()
			if evt.Type == services.EventTypeCompleted {
				return
			}
		}
	}
}

// completionPayload rebuilds the terminal notification body from a job's
// recorded result.
func completionPayload(job domain.Job) services.CompletionPayload {
	p := services.CompletionPayload{
		JobID:     job.ID,
		File:      job.File,
		PendingID: job.PendingID,
	}
	if job.Result != nil {
		p.Success = job.Result.Success
		p.Error = job.Result.Diagnostic
	}
	return p
}

// handleGlobalSSE streams events for every job until the client disconnects.
// GET /v1/events
func (s *Server) handleGlobalSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := beginSSE(w)
	if !ok {
		return
	}

	ch, unsub := s.eventBus.SubscribeGlobal()
	defer unsub()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data)
			flusher.Flush()
		}
	}
}

func beginSSE(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}
