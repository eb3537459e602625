package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Frame is one decoded event. Exactly one field is set.
type Frame struct {
	SessionID string `json:"session_id,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ReadFrames decodes every data line in r. Blank lines separate frames and
// other SSE fields are ignored.
func ReadFrames(r io.Reader) ([]Frame, error) {
	var frames []Frame
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var f Frame
		if err := json.Unmarshal([]byte(payload), &f); err != nil {
			return frames, fmt.Errorf("sse: decode frame: %w", err)
		}
		frames = append(frames, f)
	}
	if err := sc.Err(); err != nil {
		return frames, fmt.Errorf("sse: read frames: %w", err)
	}
	return frames, nil
}
