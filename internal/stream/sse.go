package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Writer emits Event values as "data: <json>\n\n" SSE frames directly onto
// an http.ResponseWriter, flushing after every event so clients observe
// deltas as they're produced rather than buffered.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter sets the SSE response headers and wraps w. Returns an error if
// w doesn't support flushing, mirroring the teacher's streaming handlers'
// "Streaming unsupported" guard.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Writer{w: w, flusher: flusher}, nil
}

func (sw *Writer) Emit(e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal sse event: %w", err)
	}
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// RawChunkWriter re-emits arbitrary pre-rendered OpenAI-dialect chunk JSON
// frames, used by the OpenAI re-framing stage (openai_reframe.go).
type RawChunkWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func NewRawChunkWriter(w http.ResponseWriter) (*RawChunkWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &RawChunkWriter{w: w, flusher: flusher}, nil
}

func (rw *RawChunkWriter) WriteChunk(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(rw.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	rw.flusher.Flush()
	return nil
}

func (rw *RawChunkWriter) WriteDone() error {
	if _, err := fmt.Fprint(rw.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	rw.flusher.Flush()
	return nil
}
