// Package sse writes the consultation event stream: one session_id frame,
// then reply chunks in order, or a single terminal error frame.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

const ContentType = "text/event-stream"

var (
	// ErrClosed is returned for any write after a terminal error frame.
	ErrClosed = errors.New("sse: stream closed")
	// ErrNoSession is returned when a chunk precedes the session_id frame.
	ErrNoSession = errors.New("sse: session id not sent")
)

type sessionFrame struct {
	SessionID string `json:"session_id"`
}

type chunkFrame struct {
	Chunk string `json:"chunk"`
}

type errorFrame struct {
	Error string `json:"error"`
}

type flusher interface {
	Flush()
}

// Writer frames events onto an underlying writer, flushing after every
// frame when the writer supports it (http.ResponseWriter does).
type Writer struct {
	mu          sync.Mutex
	w           io.Writer
	flush       flusher
	sessionSent bool
	closed      bool
}

func NewWriter(w io.Writer) *Writer {
	f, _ := w.(flusher)
	return &Writer{w: w, flush: f}
}

func (w *Writer) SessionID(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.sessionSent {
		return errors.New("sse: session id already sent")
	}
	if err := w.write(sessionFrame{SessionID: id}); err != nil {
		return err
	}
	w.sessionSent = true
	return nil
}

// Chunk writes one reply fragment. Empty fragments are dropped.
func (w *Writer) Chunk(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if !w.sessionSent {
		return ErrNoSession
	}
	if text == "" {
		return nil
	}
	return w.write(chunkFrame{Chunk: text})
}

// Error writes the terminal error frame. Nothing can be written after it.
func (w *Writer) Error(msg string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	return w.write(errorFrame{Error: msg})
}

func (w *Writer) write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sse: encode frame: %w", err)
	}
	frame := make([]byte, 0, len(b)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, b...)
	frame = append(frame, "\n\n"...)
	if _, err := w.w.Write(frame); err != nil {
		return fmt.Errorf("sse: write frame: %w", err)
	}
	if w.flush != nil {
		w.flush.Flush()
	}
	return nil
}
