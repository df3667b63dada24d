package qchat

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/marutaku/qchat-core/config"
)

// fastTimeouts keeps the engine's waits short enough to exercise in a test.
func fastTimeouts() config.Timeouts {
	return config.Timeouts{
		Startup:      2 * time.Second,
		StartupQuiet: 30 * time.Millisecond,
		Poll:         15 * time.Millisecond,
		PromptQuiet:  10 * time.Millisecond,
		DoneSilence:  60 * time.Millisecond,
		KickSilence:  25 * time.Millisecond,
		Turn:         500 * time.Millisecond,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type writeRecorder struct {
	lines []string
}

func (w *writeRecorder) write(s string) error {
	w.lines = append(w.lines, s)
	return nil
}

// collect drains one stream pass, gathering every event.
func collect(t *turn) ([]TurnEvent, TurnState) {
	var events []TurnEvent
	state := t.stream(func(ev TurnEvent) bool {
		events = append(events, ev)
		return true
	})
	return events, state
}

func textOf(events []TurnEvent) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type == EventText {
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}

func TestTurnStream_EchoStrippedAndDoneAtPrompt(t *testing.T) {
	chunks := make(chan string, 8)
	chunks <- "Amazon Q> hello\nHi there\n> \n"

	rec := &writeRecorder{}
	tn := newTurn(chunks, rec.write, fastTimeouts(), nil, discardLogger())
	tn.sent = "hello"

	events, state := collect(tn)
	if state != TurnDone {
		t.Fatalf("expected TurnDone, got %v", state)
	}
	if got := textOf(events); got != "Hi there\n" {
		t.Errorf("expected %q, got %q", "Hi there\n", got)
	}
}

func TestTurnStream_MultipleChunks(t *testing.T) {
	chunks := make(chan string, 8)
	chunks <- "hello\n"
	chunks <- "first part "
	chunks <- "second part\n"
	chunks <- "> \n"

	rec := &writeRecorder{}
	tn := newTurn(chunks, rec.write, fastTimeouts(), nil, discardLogger())
	tn.sent = "hello"

	events, state := collect(tn)
	if state != TurnDone {
		t.Fatalf("expected TurnDone, got %v", state)
	}
	if got := textOf(events); got != "first part second part\n" {
		t.Errorf("expected %q, got %q", "first part second part\n", got)
	}
}

func TestTurnStream_ControlSequencesAndSpinnersFiltered(t *testing.T) {
	chunks := make(chan string, 8)
	chunks <- "\x1b[32m⠋ Thinking... ⠙ Thinking... > the answer\x1b[0m\n"
	chunks <- "> \n"

	rec := &writeRecorder{}
	tn := newTurn(chunks, rec.write, fastTimeouts(), nil, discardLogger())

	events, state := collect(tn)
	if state != TurnDone {
		t.Fatalf("expected TurnDone, got %v", state)
	}
	if got := textOf(events); got != "the answer\n" {
		t.Errorf("expected %q, got %q", "the answer\n", got)
	}
}

func TestTurnStream_PermissionSuspendsAndResumes(t *testing.T) {
	chunks := make(chan string, 8)
	chunks <- "I need to write the file.\nAllow this action? The tool wants fs_write. Use 't' to trust this tool.\n"

	rec := &writeRecorder{}
	tn := newTurn(chunks, rec.write, fastTimeouts(), nil, discardLogger())
	tn.sent = "please edit it"

	events, state := collect(tn)
	if state != TurnSuspended {
		t.Fatalf("expected TurnSuspended, got %v", state)
	}
	last := events[len(events)-1]
	if last.Type != EventPermission {
		t.Fatalf("expected final EventPermission, got %v", last.Type)
	}
	if !strings.HasPrefix(last.Prompt, "Allow this action?") {
		t.Errorf("unexpected permission payload: %q", last.Prompt)
	}
	if got := textOf(events); got != "I need to write the file.\n" {
		t.Errorf("expected preceding text, got %q", got)
	}

	// After the decision is written the same turn resumes where it left off.
	chunks <- "File written.\n"
	chunks <- "> \n"
	events, state = collect(tn)
	if state != TurnDone {
		t.Fatalf("expected TurnDone after resume, got %v", state)
	}
	if got := textOf(events); got != "File written.\n" {
		t.Errorf("expected %q, got %q", "File written.\n", got)
	}
}

func TestTurnStream_RepeatedPermissionPrompts(t *testing.T) {
	chunks := make(chan string, 8)
	chunks <- "Step one. [y/n]: "

	rec := &writeRecorder{}
	tn := newTurn(chunks, rec.write, fastTimeouts(), nil, discardLogger())

	events, state := collect(tn)
	if state != TurnSuspended {
		t.Fatalf("expected first TurnSuspended, got %v", state)
	}
	if events[len(events)-1].Prompt != "[y/n]:" {
		t.Errorf("unexpected payload: %q", events[len(events)-1].Prompt)
	}

	chunks <- "Step two. [y/n/t]: "
	events, state = collect(tn)
	if state != TurnSuspended {
		t.Fatalf("expected second TurnSuspended, got %v", state)
	}
	if events[len(events)-1].Prompt != "[y/n/t]:" {
		t.Errorf("unexpected payload: %q", events[len(events)-1].Prompt)
	}

	chunks <- "All done.\n> \n"
	events, state = collect(tn)
	if state != TurnDone {
		t.Fatalf("expected TurnDone, got %v", state)
	}
	if got := textOf(events); got != "All done.\n" {
		t.Errorf("expected %q, got %q", "All done.\n", got)
	}
}

func TestTurnStream_SilenceAfterOutputEndsTurn(t *testing.T) {
	chunks := make(chan string, 8)
	chunks <- "output without a recognizable prompt\n"

	rec := &writeRecorder{}
	tn := newTurn(chunks, rec.write, fastTimeouts(), nil, discardLogger())

	start := time.Now()
	events, state := collect(tn)
	if state != TurnDone {
		t.Fatalf("expected TurnDone on silence, got %v", state)
	}
	if !strings.Contains(textOf(events), "without a recognizable prompt") {
		t.Errorf("output dropped: %q", textOf(events))
	}
	if elapsed := time.Since(start); elapsed < fastTimeouts().DoneSilence {
		t.Errorf("returned before the silence threshold: %v", elapsed)
	}
}

func TestTurnStream_KickOnceThenDeadline(t *testing.T) {
	chunks := make(chan string, 8) // nothing ever arrives

	timeouts := fastTimeouts()
	timeouts.Turn = 120 * time.Millisecond

	rec := &writeRecorder{}
	tn := newTurn(chunks, rec.write, timeouts, nil, discardLogger())

	events, state := collect(tn)
	if state != TurnTimedOut {
		t.Fatalf("expected TurnTimedOut, got %v", state)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
	if len(rec.lines) != 1 || rec.lines[0] != "" {
		t.Errorf("expected exactly one blank-line kick, got %v", rec.lines)
	}
}

func TestTurnStream_NoKickAfterOutput(t *testing.T) {
	chunks := make(chan string, 8)
	chunks <- "immediate reply\n> \n"

	rec := &writeRecorder{}
	tn := newTurn(chunks, rec.write, fastTimeouts(), nil, discardLogger())

	if _, state := collect(tn); state != TurnDone {
		t.Fatalf("expected TurnDone")
	}
	if len(rec.lines) != 0 {
		t.Errorf("kick sent despite output: %v", rec.lines)
	}
}

func TestTurnStream_EOFAfterOutputIsDone(t *testing.T) {
	chunks := make(chan string, 8)
	chunks <- "goodbye\n"
	close(chunks)

	rec := &writeRecorder{}
	tn := newTurn(chunks, rec.write, fastTimeouts(), nil, discardLogger())

	events, state := collect(tn)
	if state != TurnDone {
		t.Fatalf("expected TurnDone on EOF after output, got %v", state)
	}
	if got := textOf(events); got != "goodbye\n" {
		t.Errorf("expected %q, got %q", "goodbye\n", got)
	}
}

func TestTurnStream_EOFWithoutOutputErrors(t *testing.T) {
	chunks := make(chan string, 8)
	close(chunks)

	rec := &writeRecorder{}
	tn := newTurn(chunks, rec.write, fastTimeouts(), nil, discardLogger())

	events, state := collect(tn)
	if state != TurnErrored {
		t.Fatalf("expected TurnErrored on silent EOF, got %v", state)
	}
	if !strings.Contains(textOf(events), "exited before replying") {
		t.Errorf("expected diagnostic fragment, got %q", textOf(events))
	}
}

func TestTurnStream_ConsumerStopsRanging(t *testing.T) {
	chunks := make(chan string, 8)
	chunks <- "fragment one\n"

	rec := &writeRecorder{}
	tn := newTurn(chunks, rec.write, fastTimeouts(), nil, discardLogger())

	state := tn.stream(func(TurnEvent) bool { return false })
	if state != TurnStreaming {
		t.Errorf("expected TurnStreaming when consumer stops, got %v", state)
	}
}
