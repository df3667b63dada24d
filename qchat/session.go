package qchat

import (
	"errors"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marutaku/qchat-core/config"
	"github.com/marutaku/qchat-core/logger"
)

var (
	// ErrNotStarted is returned when an operation is invoked before Start
	// or after Close. This signals caller misuse, not a child failure.
	ErrNotStarted = errors.New("qchat: session not started")

	// ErrAlreadyStarted is returned by Start on a session that is already
	// running. A session drives exactly one child process in its lifetime.
	ErrAlreadyStarted = errors.New("qchat: session already started")

	// ErrNoPendingPermission is returned by AnswerPermission and
	// ResumeStreaming when the current turn is not suspended on a
	// permission prompt.
	ErrNoPendingPermission = errors.New("qchat: no permission request pending")
)

// Session drives one interactive q chat process as a request/response API.
// The caller owns the Session value and passes it to every operation; there
// is no ambient current-session state.
//
// A Session serves at most one in-flight turn at a time. Concurrent
// SendAndStream calls against the same Session are caller error and are not
// internally serialized. After Close the Session is dead; build a new one
// for a new configuration.
type Session struct {
	id  string
	cfg config.Config
	log *slog.Logger

	mu         sync.Mutex
	transcript *Transcript
	proc       *childProcess
	chunks     <-chan string
	started    bool
	closed     bool
	turn       *turn
	state      TurnState
}

// New creates a Session for the given configuration. Defaults are applied
// and the configuration validated; the child is not spawned until Start.
func New(cfg config.Config) (*Session, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	log := logger.WithSession(id)
	log.Debug("session created", "workDir", cfg.WorkDir, "trustedTools", cfg.TrustedTools(), "logLevel", cfg.LogLevel)

	return &Session{
		id:    id,
		cfg:   cfg,
		log:   log,
		state: TurnIdle,
	}, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Config returns a copy of the session's configuration.
func (s *Session) Config() config.Config { return s.cfg }

// SetTranscript installs the diagnostic sink. The session writes protocol
// events and a verbatim mirror of the child's raw output to w; where w
// points is entirely the caller's decision. Must be called before Start.
// If w is an io.Closer it is closed by Close.
func (s *Session) SetTranscript(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = NewTranscript(w)
}

// Start spawns the q chat child and blocks until it reaches its idle prompt
// (plus a short quiet interval for trailing flushes) or the startup deadline
// elapses. On deadline it fails open: whatever output accumulated is
// returned anyway so the caller has something to diagnose with. The return
// value is the sanitized banner text.
func (s *Session) Start() (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrNotStarted
	}
	if s.started {
		s.mu.Unlock()
		return "", ErrAlreadyStarted
	}

	proc, output, err := spawn(s.cfg, s.log)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.proc = proc
	s.chunks = startRelay(output, s.transcript, s.log)
	s.started = true

	transcript := s.transcript
	chunks := s.chunks
	s.mu.Unlock()

	transcript.Event(tagSpawn, "cmd='%s %s' cwd='%s'", s.cfg.Binary, strings.Join(buildArgs(s.cfg), " "), s.cfg.WorkDir)
	transcript.Event(tagEnv, "Q_LOG_LEVEL=%s", s.cfg.LogLevel)

	banner := s.warmUp(chunks)
	return banner, nil
}

// warmUp accumulates startup output until the idle prompt is seen and the
// child has gone quiet, or the startup deadline passes.
func (s *Session) warmUp(chunks <-chan string) string {
	var raw strings.Builder
	sawPrompt := false
	lastAny := time.Now()
	deadline := time.Now().Add(s.cfg.Timeouts.Startup)

	for time.Now().Before(deadline) {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				// Child exited during startup; return what we have.
				s.transcript.Event(tagState, "output ended during startup")
				return StripTerminalControl(raw.String())
			}
			raw.WriteString(chunk)
			lastAny = time.Now()
			if !sawPrompt && findPrompt(StripTerminalControl(raw.String())) >= 0 {
				sawPrompt = true
			}
		case <-time.After(s.cfg.Timeouts.PromptQuiet):
			if sawPrompt && time.Since(lastAny) > s.cfg.Timeouts.StartupQuiet {
				s.transcript.Event(tagState, "ready (prompt reached)")
				s.log.Info("session ready")
				return StripTerminalControl(raw.String())
			}
		}
	}

	s.transcript.Event(tagState, "startup deadline elapsed without prompt")
	s.log.Warn("no idle prompt before startup deadline", "deadline", s.cfg.Timeouts.Startup)
	return StripTerminalControl(raw.String())
}

// SendAndStream sends one user message and returns the lazy sequence of the
// child's reaction: zero or more text fragments, ending either silently
// (turn done or timed out; check LastTurnState) or with one permission
// request (turn suspended; answer it and call ResumeStreaming).
//
// The sequence is single-use and must be consumed before any other
// operation on the Session.
func (s *Session) SendAndStream(text string) (iter.Seq[TurnEvent], error) {
	s.mu.Lock()
	if !s.started || s.closed {
		s.mu.Unlock()
		return nil, ErrNotStarted
	}
	t := newTurn(s.chunks, s.writeLine, s.cfg.Timeouts, s.transcript, s.log)
	t.sent = text
	s.turn = t
	s.state = TurnStreaming
	s.mu.Unlock()

	seq := func(yield func(TurnEvent) bool) {
		// Stale output still queued from a prior exchange must not be
		// misattributed to this turn.
		s.drainStale()

		s.transcript.Event(tagSend, "%s", truncateForLog(text))
		s.log.Debug("sending message", "bytes", len(text))
		if err := s.writeLine(text); err != nil {
			s.transcript.Event(tagError, "write failed: %v", err)
			s.log.Error("failed to write message", "error", err)
			s.setState(TurnErrored)
			yield(TurnEvent{Type: EventText, Text: "\n[error writing to q chat stdin: " + err.Error() + "]\n"})
			return
		}

		s.setState(t.stream(yield))
	}
	return seq, nil
}

// AnswerPermission writes the decision token for the pending permission
// request to the child. It performs no reading; follow with ResumeStreaming
// to continue the turn.
func (s *Session) AnswerPermission(d Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.closed {
		return ErrNotStarted
	}
	if s.state != TurnSuspended {
		return ErrNoPendingPermission
	}
	if !d.Valid() {
		return errors.New("qchat: invalid permission decision " + string(d))
	}

	s.transcript.Event(tagPermission, "answered %q", string(d))
	s.log.Info("permission answered", "decision", string(d))
	return s.proc.writeLine(string(d))
}

// ResumeStreaming continues a turn suspended on a permission prompt, after
// the decision has been written with AnswerPermission. The returned sequence
// behaves exactly like SendAndStream's, including suspending again on a
// further permission prompt, any number of times within one logical turn.
func (s *Session) ResumeStreaming() (iter.Seq[TurnEvent], error) {
	s.mu.Lock()
	if !s.started || s.closed {
		s.mu.Unlock()
		return nil, ErrNotStarted
	}
	if s.state != TurnSuspended || s.turn == nil {
		s.mu.Unlock()
		return nil, ErrNoPendingPermission
	}
	t := s.turn
	s.state = TurnStreaming
	s.mu.Unlock()

	seq := func(yield func(TurnEvent) bool) {
		s.transcript.Event(tagState, "resuming after permission")
		s.setState(t.stream(yield))
	}
	return seq, nil
}

// LastTurnState reports how the most recent turn (or resume) concluded.
func (s *Session) LastTurnState() TurnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Alive reports whether the child process is still running.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.closed && s.proc != nil && s.proc.alive()
}

// Close shuts the session down: quit directive, then terminate, then kill,
// every step best-effort. Idempotent, and safe even when the child already
// exited. The Session must not be used afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	proc := s.proc
	transcript := s.transcript
	s.mu.Unlock()

	if proc != nil {
		proc.shutdown()
	}
	transcript.Event(tagState, "session closed")
	transcript.Close()
	s.log.Info("session closed")
}

// writeLine writes one line to the child's stdin under the session lock.
func (s *Session) writeLine(text string) error {
	s.mu.Lock()
	proc := s.proc
	closed := s.closed
	s.mu.Unlock()
	if closed || proc == nil {
		return ErrNotStarted
	}
	return proc.writeLine(text)
}

// drainStale discards chunks left queued by a previous exchange.
func (s *Session) drainStale() {
	for {
		select {
		case _, ok := <-s.chunks:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) setState(state TurnState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
