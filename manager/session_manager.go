// Package manager owns session lifecycle for callers that rebuild sessions
// when configuration changes. The SessionManager is an explicit value the
// caller holds and passes around; there is no package-level current session.
package manager

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/marutaku/qchat-core/config"
	"github.com/marutaku/qchat-core/logger"
	"github.com/marutaku/qchat-core/paths"
	"github.com/marutaku/qchat-core/qchat"
)

// SessionManager holds at most one live session and recreates it when the
// requested configuration no longer matches the running one. A session's
// identity (trust flags, log level, working directory) is fixed at start, so
// a changed identity always means close-and-recreate.
type SessionManager struct {
	mu      sync.Mutex
	current *qchat.Session
	cfg     config.Config
}

// New creates an empty SessionManager.
func New() *SessionManager {
	return &SessionManager{}
}

// GetOrCreateResult reports what GetOrCreate did.
type GetOrCreateResult struct {
	Session *qchat.Session
	Banner  string // startup banner, only set when a session was created
	Created bool
}

// GetOrCreate returns the current session when cfg matches its identity;
// otherwise it closes the old session (best-effort), starts a new one, and
// returns the new session with its startup banner.
func (m *SessionManager) GetOrCreate(cfg config.Config) (GetOrCreateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg.ApplyDefaults()
	if m.current != nil && m.cfg.SameIdentity(cfg) {
		return GetOrCreateResult{Session: m.current}, nil
	}

	log := logger.WithComponent("manager")
	if m.current != nil {
		log.Info("configuration changed, recreating session", "oldWorkDir", m.cfg.WorkDir, "newWorkDir", cfg.WorkDir)
		m.current.Close()
		m.current = nil
	}

	sess, err := qchat.New(cfg)
	if err != nil {
		return GetOrCreateResult{}, err
	}

	if cfg.Debug {
		if w, err := openTranscript(); err != nil {
			log.Warn("failed to open transcript, diagnostics disabled", "error", err)
		} else {
			sess.SetTranscript(w)
		}
	}

	banner, err := sess.Start()
	if err != nil {
		sess.Close()
		return GetOrCreateResult{}, fmt.Errorf("failed to start session: %w", err)
	}

	m.current = sess
	m.cfg = cfg
	log.Info("session created", "sessionID", sess.ID())
	return GetOrCreateResult{Session: sess, Banner: banner, Created: true}, nil
}

// Current returns the live session, or nil when none exists.
func (m *SessionManager) Current() *qchat.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close shuts down the live session, if any. Idempotent.
func (m *SessionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.Close()
		m.current = nil
	}
}

// openTranscript creates a timestamped transcript file under the logs
// directory for the caller's diagnostic sink.
func openTranscript() (*os.File, error) {
	path, err := paths.TranscriptPath(time.Now())
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}
