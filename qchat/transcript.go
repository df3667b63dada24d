package qchat

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Transcript tags for protocol events.
const (
	tagSpawn      = "SPAWN"
	tagEnv        = "ENV"
	tagState      = "STATE"
	tagSend       = "SEND"
	tagKick       = "KICK"
	tagPermission = "PERMISSION"
	tagTimeout    = "TIMEOUT"
	tagError      = "ERROR"
)

// Transcript is the session's diagnostic sink. Protocol events are written
// one per line as "[HH:MM:SS.mmm] <TAG>: <detail>", and every raw chunk read
// from the child is mirrored verbatim. The session decides what and whether
// to log; the caller decides where by supplying the writer.
//
// A nil *Transcript is valid and discards everything, so call sites don't
// need to guard on whether diagnostics are enabled.
type Transcript struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTranscript wraps w as a diagnostic sink. Returns nil when w is nil.
func NewTranscript(w io.Writer) *Transcript {
	if w == nil {
		return nil
	}
	return &Transcript{w: w}
}

// Event writes one tagged, timestamped line. Write errors are swallowed;
// diagnostics must never disturb the session.
func (t *Transcript) Event(tag, format string, args ...any) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.w == nil {
		return
	}
	ts := time.Now().Format("15:04:05.000")
	fmt.Fprintf(t.w, "[%s] %s: %s\n", ts, tag, fmt.Sprintf(format, args...))
}

// Raw mirrors one raw chunk exactly as it was read from the child.
func (t *Transcript) Raw(chunk string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.w == nil {
		return
	}
	io.WriteString(t.w, chunk)
}

// Close releases the underlying writer if it is an io.Closer. Safe to call
// more than once and on a nil Transcript.
func (t *Transcript) Close() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.w.(io.Closer); ok {
		c.Close()
	}
	t.w = nil
}
