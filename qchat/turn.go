package qchat

import (
	"log/slog"
	"strings"
	"time"

	"github.com/marutaku/qchat-core/config"
)

// turn is one send/receive exchange with the child. It lives across
// permission suspensions: when a permission prompt suspends the stream, the
// same turn is picked up again by ResumeStreaming with its buffer, offsets,
// and flags intact.
//
// All state here is touched only from the goroutine ranging over the event
// sequence; the only concurrency is the relay feeding the chunks channel.
type turn struct {
	chunks     <-chan string
	write      func(string) error
	timeouts   config.Timeouts
	transcript *Transcript
	log        *slog.Logger

	sent      string // message to strip the echo of; empty after first emission
	raw       strings.Builder
	emitted   int  // sanitized offset already delivered to the caller
	sawOutput bool // any non-whitespace fragment emitted
	kickSent  bool // at most one kick per turn
	firstEmit bool
}

// newTurn creates the turn for one SendAndStream call.
func newTurn(chunks <-chan string, write func(string) error, timeouts config.Timeouts, transcript *Transcript, log *slog.Logger) *turn {
	return &turn{
		chunks:     chunks,
		write:      write,
		timeouts:   timeouts,
		transcript: transcript,
		log:        log,
		firstEmit:  true,
	}
}

// stream runs the STREAMING phase: drain the raw output queue with bounded
// waits, sanitize and classify incrementally, and yield text fragments and
// at most one permission request. Returns the terminal state of this pass.
// Both SendAndStream and ResumeStreaming funnel through here.
//
// If yield reports the consumer stopped ranging, stream returns
// TurnStreaming; a caller abandoning a turn mid-stream must close the
// session.
func (t *turn) stream(yield func(TurnEvent) bool) TurnState {
	deadline := time.Now().Add(t.timeouts.Turn)
	lastAny := time.Now()    // when anything last arrived
	lastOutput := time.Now() // when a meaningful fragment was last emitted
	promptSeen := false

	for {
		select {
		case chunk, ok := <-t.chunks:
			if !ok {
				// Relay closed the queue: the child's output stream ended.
				return t.endOfStream(yield)
			}
			t.raw.WriteString(chunk)
			lastAny = time.Now()

			cleaned := StripTerminalControl(t.raw.String())
			promptIdx := findPrompt(cleaned)
			end := len(cleaned)
			if promptIdx >= 0 {
				promptSeen = true
				end = promptIdx
			}

			if end > t.emitted {
				span := cleaned[t.emitted:end]
				if t.firstEmit {
					span = removeInputEchoOnce(span, t.sent)
					t.firstEmit = false
				}

				if off := findPermissionPrompt(span); off >= 0 {
					if before := FilterTransientStatus(span[:off]); strings.TrimSpace(before) != "" {
						if !yield(TurnEvent{Type: EventText, Text: before}) {
							return TurnStreaming
						}
					}
					payload := strings.TrimSpace(span[off:])
					t.transcript.Event(tagPermission, "prompt detected: %s", truncateForLog(payload))
					t.log.Info("permission prompt detected")
					t.emitted = end
					yield(TurnEvent{Type: EventPermission, Prompt: payload})
					return TurnSuspended
				}

				if filtered := FilterTransientStatus(span); filtered != "" {
					if !yield(TurnEvent{Type: EventText, Text: filtered}) {
						return TurnStreaming
					}
					t.emitted = end
					if strings.TrimSpace(filtered) != "" {
						t.sawOutput = true
						lastOutput = time.Now()
					}
				} else {
					// Nothing but noise; don't re-filter it next pass.
					t.emitted = end
				}
			}

			if time.Now().After(deadline) {
				return t.timedOut()
			}

		case <-time.After(t.timeouts.Poll):
			now := time.Now()

			// A recognized prompt plus a brief silence ends the turn; the
			// child may still have been flushing when the prompt appeared.
			if promptSeen && now.Sub(lastAny) > t.timeouts.PromptQuiet {
				t.transcript.Event(tagState, "turn done (idle prompt)")
				return TurnDone
			}

			// Prolonged silence after real content also counts as done, in
			// case the prompt takes a form the patterns don't recognize.
			if t.sawOutput && now.Sub(lastOutput) > t.timeouts.DoneSilence {
				t.transcript.Event(tagState, "turn done (silence after output)")
				return TurnDone
			}

			// Nothing at all yet: send one blank line to coax a
			// slow-starting response. At most once per turn.
			if !t.sawOutput && !t.kickSent && now.Sub(lastAny) > t.timeouts.KickSilence {
				t.kickSent = true
				if err := t.write(""); err != nil {
					t.transcript.Event(tagKick, "failed to send newline: %v", err)
					t.log.Debug("kick failed", "error", err)
				} else {
					t.transcript.Event(tagKick, "sent newline after %s of silence", t.timeouts.KickSilence)
					t.log.Debug("kick sent")
				}
			}

			if now.After(deadline) {
				return t.timedOut()
			}
		}
	}
}

// endOfStream decides the terminal state when the child's output ends
// mid-turn. Output followed by EOF reads as a completed reply; EOF with no
// output at all is surfaced as a diagnostic fragment.
func (t *turn) endOfStream(yield func(TurnEvent) bool) TurnState {
	if t.sawOutput {
		t.transcript.Event(tagState, "turn done (output stream ended)")
		return TurnDone
	}
	t.transcript.Event(tagError, "output stream ended before any reply")
	yield(TurnEvent{Type: EventText, Text: "\n[q chat exited before replying]\n"})
	return TurnErrored
}

func (t *turn) timedOut() TurnState {
	t.transcript.Event(tagTimeout, "turn deadline %s elapsed", t.timeouts.Turn)
	t.log.Warn("turn timed out", "deadline", t.timeouts.Turn)
	return TurnTimedOut
}

// truncateForLog shortens long payloads for transcript lines.
func truncateForLog(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
